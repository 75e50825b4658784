package vm

import (
	"rvkernel/src/defs"
	"rvkernel/src/diag"
	"rvkernel/src/mem"
	"rvkernel/src/pgtbl"
)

// Fault resolves a page fault at va: lazily materializing an
// unmapped page from its area's backing (zero page or file), or
// copy-on-write-forking a shared page on a write fault. Adapted from
// biscuit's vm/as.go Sys_pgfault, split by area kind the way
// original_source/kernel/src/mm/memory_set.rs's lazy_alloc_heap /
// lazy_alloc_mmap_area are split.
func (as *AddressSpace) Fault(va uintptr, write bool) error {
	as.Lock()
	defer as.Unlock()

	a, ok := as.lookup(va)
	if !ok {
		return defs.EFAULT
	}
	if write && a.perm&pgtbl.PTE_W == 0 {
		return defs.EFAULT
	}

	vpn := pgtbl.Vpn_t(pageAlign(va) / mem.PGSIZE)
	if pte, ok := as.Table.Translate(vpn); ok {
		if write && pte&pgtbl.PTE_COW != 0 {
			return as.resolveCOW(vpn, pte, a)
		}
		// Already resolved, most likely by a racing fault on another thread.
		return nil
	}

	switch a.kind {
	case kindAnon:
		return as.faultAnon(vpn, a, write)
	case kindFile:
		return as.faultFile(vpn, a, write)
	default:
		return defs.EFAULT
	}
}

// faultAnon materializes a never-touched anonymous page. A read fault
// shares the all-zero frame read-only (COW if the area permits writes,
// so that a later write splits off a private copy); a write fault
// allocates a private zero-filled frame immediately, since it is about
// to be written anyway.
func (as *AddressSpace) faultAnon(vpn pgtbl.Vpn_t, a *area, write bool) error {
	if write {
		h, ok := as.alloc.Alloc()
		if !ok {
			return defs.ENOMEM
		}
		as.Table.Map(vpn, mem.Ppn_t(h.PA()>>mem.PGSHIFT), a.perm|pgtbl.PTE_V)
		return nil
	}
	perm := a.perm &^ pgtbl.PTE_W
	if a.perm&pgtbl.PTE_W != 0 {
		perm |= pgtbl.PTE_COW
	}
	zpa := as.alloc.ZeroPA()
	as.alloc.Refup(zpa)
	as.Table.Map(vpn, mem.Ppn_t(zpa>>mem.PGSHIFT), perm|pgtbl.PTE_V)
	return nil
}

// faultFile materializes a page of a file-backed mmap region by reading
// it from the backing file. Private mappings are installed COW (like an
// anonymous page) so writes never reach the file; shared mappings are
// installed with their full permission set directly.
func (as *AddressSpace) faultFile(vpn pgtbl.Vpn_t, a *area, write bool) error {
	h, ok := as.alloc.AllocNoZero()
	if !ok {
		return defs.ENOMEM
	}
	pg := h.Page()
	for i := range pg {
		pg[i] = 0
	}
	pageVA := uintptr(vpn) * mem.PGSIZE
	fileOff := a.foff + int64(pageVA-a.start)
	if _, err := a.backer.ReadPage(fileOff, pg); err != nil {
		h.Drop()
		return err
	}

	perm := a.perm
	if !a.shared && a.perm&pgtbl.PTE_W != 0 && !write {
		perm = (a.perm &^ pgtbl.PTE_W) | pgtbl.PTE_COW
	}
	as.Table.Map(vpn, mem.Ppn_t(h.PA()>>mem.PGSHIFT), perm|pgtbl.PTE_V)
	return nil
}

// resolveCOW handles a write fault against an already-mapped
// copy-on-write leaf: if this mapping is the frame's sole owner (the
// shared zero page is never considered sole-owned), it reclaims the
// frame in place; otherwise it copies the page into a freshly allocated
// frame, matching biscuit's Refaddr()==1 fast path in Sys_pgfault.
func (as *AddressSpace) resolveCOW(vpn pgtbl.Vpn_t, pte pgtbl.Pte_t, a *area) error {
	pa := pgtbl.PteToPA(pte)
	if pa != as.alloc.ZeroPA() && as.alloc.Refcnt(pa) == 1 {
		as.Table.SetFlags(vpn, a.perm|pgtbl.PTE_V)
		return nil
	}
	h, ok := as.alloc.AllocNoZero()
	if !ok {
		return defs.ENOMEM
	}
	*h.Page() = *as.alloc.PageAt(pa)
	as.Table.Remap(vpn, mem.Ppn_t(h.PA()>>mem.PGSHIFT), a.perm|pgtbl.PTE_V)
	as.alloc.Dealloc(pa)
	return nil
}

// Fork creates a child address space per spec §9's fork_cow split:
// structural areas (trampolines, the trap-context page) and the stack
// are always byte-copied into fresh frames, never shared; ELF-segment
// pages are always downgraded to read-only+COW in both spaces with
// their frame's reference count bumped; the heap and every mmap area
// are deep-copied by default (the "unknown error, temporarily not
// CoW" baseline spec §9's Design Notes preserves), or CoW-shared
// instead if SetMmapCOW(true) was called on this address space first.
func (as *AddressSpace) Fork() *AddressSpace {
	return as.fork()
}

// ForkCOW is identical to Fork except it always CoW-shares the heap
// and mmap areas regardless of this address space's mmapCOW setting,
// for callers that want the experimental behavior spec §9 allows
// behind a feature flag without threading it through SetMmapCOW.
func (as *AddressSpace) ForkCOW() *AddressSpace {
	as.Lock()
	prev := as.mmapCOW
	as.mmapCOW = true
	as.Unlock()
	child := as.fork()
	as.Lock()
	as.mmapCOW = prev
	as.Unlock()
	child.mmapCOW = prev
	return child
}

func (as *AddressSpace) fork() *AddressSpace {
	as.Lock()
	defer as.Unlock()

	child := New(as.alloc)
	child.heapStart = as.heapStart
	child.heapEnd = as.heapEnd
	child.mmapEnd = as.mmapEnd
	child.mmapCOW = as.mmapCOW

	child.areas = make([]*area, len(as.areas))
	for i, a := range as.areas {
		na := *a
		child.areas[i] = &na
		cow := a.role == roleSegment || (a.role == roleHeap && as.mmapCOW)
		as.forkArea(child, a, cow)
	}

	child.mmaps = make([]*area, len(as.mmaps))
	for i, a := range as.mmaps {
		na := *a
		child.mmaps[i] = &na
		as.forkArea(child, a, as.mmapCOW)
	}
	return child
}

// forkArea copies into child every currently-materialized page of a,
// either by CoW-sharing (both spaces downgraded to read-only+COW, the
// frame's reference count bumped) or by an eager byte-for-byte copy
// into a freshly allocated frame, per cow and a's kind. Unfaulted lazy
// pages need no work here; each space resolves them independently on
// its own next fault. Shared file mappings (MAP_SHARED) are always
// shared outright, regardless of cow, since both spaces must observe
// each other's writes.
func (as *AddressSpace) forkArea(child *AddressSpace, a *area, cow bool) {
	sharedMapping := a.kind == kindFile && a.shared
	writable := a.perm&pgtbl.PTE_W != 0

	for p := 0; p < a.npages; p++ {
		vpn := pgtbl.Vpn_t((a.start / mem.PGSIZE) + uintptr(p))
		pte, ok := as.Table.Translate(vpn)
		if !ok {
			continue
		}
		pa := pgtbl.PteToPA(pte)

		switch {
		case sharedMapping:
			as.alloc.Refup(pa)
			child.Table.Map(vpn, mem.Ppn_t(pa>>mem.PGSHIFT), a.perm|pgtbl.PTE_V)

		case cow && writable:
			perm := (a.perm &^ pgtbl.PTE_W) | pgtbl.PTE_COW
			as.Table.SetFlags(vpn, perm|pgtbl.PTE_V)
			as.alloc.Refup(pa)
			child.Table.Map(vpn, mem.Ppn_t(pa>>mem.PGSHIFT), perm|pgtbl.PTE_V)

		case cow:
			as.alloc.Refup(pa)
			child.Table.Map(vpn, mem.Ppn_t(pa>>mem.PGSHIFT), a.perm|pgtbl.PTE_V)

		default:
			h, ok := as.alloc.AllocNoZero()
			diag.Assertf(ok, "vm: out of memory forking address space")
			*h.Page() = *as.alloc.PageAt(pa)
			child.Table.Map(vpn, mem.Ppn_t(h.PA()>>mem.PGSHIFT), a.perm|pgtbl.PTE_V)
		}
	}
}
