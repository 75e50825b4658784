package vm

import (
	"rvkernel/src/defs"
	"rvkernel/src/mem"
	"rvkernel/src/pgtbl"
)

// InitHeap establishes the heap's starting break right after the
// program image, with nothing yet mapped; pages materialize lazily as
// Brk extends into them and are faulted in like any other anonymous
// region.
func (as *AddressSpace) InitHeap(start uintptr) {
	as.Lock()
	defer as.Unlock()
	base := pageAlign(start)
	if base < start {
		base += mem.PGSIZE
	}
	as.heapStart = base
	as.heapEnd = base
	as.areas = append(as.areas, &area{
		start:  base,
		npages: 0,
		perm:   pgtbl.PTE_R | pgtbl.PTE_W | pgtbl.PTE_U,
		kind:   kindAnon,
		role:   roleHeap,
	})
}

// heapArea returns this address space's heap area (always the one
// whose start equals heapStart).
func (as *AddressSpace) heapArea() *area {
	for _, a := range as.areas {
		if a.start == as.heapStart {
			return a
		}
	}
	return nil
}

// Brk changes the heap break to newEnd and returns the resulting break.
// Growing extends the heap area's page count (no pages are materialized
// until faulted); shrinking unmaps and frees any pages now beyond the
// new break.
func (as *AddressSpace) Brk(newEnd uintptr) (uintptr, error) {
	as.Lock()
	defer as.Unlock()

	a := as.heapArea()
	if a == nil {
		return as.heapEnd, defs.EINVAL
	}
	if newEnd < as.heapStart {
		return as.heapEnd, defs.EINVAL
	}

	oldNPages := a.npages
	newNPages := pageRound(int(newEnd-as.heapStart)) / mem.PGSIZE

	if newNPages < oldNPages {
		for p := newNPages; p < oldNPages; p++ {
			vpn := pgtbl.Vpn_t(a.start/mem.PGSIZE + uintptr(p))
			if pte, ok := as.Table.Translate(vpn); ok {
				as.Table.Unmap(vpn)
				as.alloc.Dealloc(pgtbl.PteToPA(pte))
			}
		}
	}
	a.npages = newNPages
	as.heapEnd = newEnd
	return as.heapEnd, nil
}
