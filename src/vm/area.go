// Package vm implements a process address space: paged virtual memory
// over the pgtbl Sv39 mapper, lazy heap/stack/mmap materialization, and
// copy-on-write fork. Adapted from biscuit's vm/as.go (Vm_t), retargeted
// from its single Vmregion_t onto the explicit map-area / mmap-area
// split original_source/kernel/src/mm/memory_set.rs keeps (MapArea for
// ELF segments and the heap, MemoryMapArea for mmap), since biscuit
// itself does not need that distinction (it has no file-backed mmap).
package vm

import (
	"sync"

	"rvkernel/src/diag"
	"rvkernel/src/mem"
	"rvkernel/src/pgtbl"
)

// UserMin is the lowest valid user virtual address; page 0 is never
// mapped so that a null pointer dereference always faults.
const UserMin = uintptr(mem.PGSIZE)

// UserMax is the highest valid user virtual address, the boundary of the
// lower Sv39 canonical half (addresses at or above 1<<38 belong to the
// upper, kernel-only half once sign-extended).
const UserMax = uintptr(1) << 38

// FileBacker is the minimal contract a file description exposes to the
// fault handler for a file-backed mmap area: fill one page's worth of
// bytes starting at byte offset off, returning how many of those bytes
// actually came from the file (the remainder of the page is zero-filled,
// matching read-past-EOF mmap semantics).
type FileBacker interface {
	ReadPage(off int64, page *mem.Pg_t) (int, error)
}

// kind distinguishes how a region's pages are sourced on first fault.
type kind int

const (
	kindAnon kind = iota
	kindFile
)

// role distinguishes how an as.areas entry is treated on fork, per
// spec §9's fork_cow split: structural areas (trampolines, the
// trap-context page) and the stack are always byte-copied, never
// shared; segment-backed pages (ELF image) are always CoW-marked; the
// heap follows the heap/mmap eager-copy-by-default toggle. mmap areas
// (as.mmaps, never as.areas) carry no role and follow that same
// heap/mmap toggle directly.
type role int

const (
	roleSegment role = iota
	roleHeap
	roleStack
	roleStructural
)

// area describes one contiguous, page-aligned region of an address
// space: either an eagerly-or-lazily-populated anonymous region (ELF
// segments, heap, stack) or a file-backed mmap region. It deliberately
// tracks only enough bookkeeping to answer a fault and to unmap itself;
// per-page frame ownership is recorded in the page table refcounts, not
// duplicated here.
type area struct {
	start  uintptr // page-aligned
	npages int
	perm   pgtbl.Perm // baseline R/W/X/U, never includes PTE_COW
	kind   kind
	role   role // meaningful only for as.areas entries

	// file-backing, valid when kind == kindFile
	backer FileBacker
	foff   int64
	shared bool
}

func (a *area) end() uintptr { return a.start + uintptr(a.npages)*mem.PGSIZE }

func (a *area) contains(va uintptr) bool {
	return va >= a.start && va < a.end()
}

// AddressSpace is one process's (or thread group's) virtual memory: the
// Sv39 page table plus the bookkeeping needed to resolve faults lazily
// and to fork it copy-on-write. Mirrors biscuit's Vm_t, split into
// as.areas (ELF/heap, like biscuit's single Vmregion) and as.mmaps
// (mmap regions, absent from biscuit but required for file-backed
// mmap).
type AddressSpace struct {
	sync.Mutex

	alloc *mem.Allocator
	Table *pgtbl.Table

	areas []*area
	mmaps []*area

	heapStart uintptr
	heapEnd   uintptr
	mmapEnd   uintptr

	// mmapCOW toggles whether Fork CoW-marks the heap and mmap areas
	// instead of deep-copying them; see SetMmapCOW.
	mmapCOW bool
}

// New creates an empty address space backed by alloc.
func New(alloc *mem.Allocator) *AddressSpace {
	return &AddressSpace{
		alloc: alloc,
		Table: pgtbl.New(alloc),
	}
}

// SetMmapCOW wires limits.Config.MmapCOW's value into this address
// space (spec §9's feature flag: off by default, keeping Fork's
// heap/mmap treatment as an eager deep copy; the kernel's boot wiring
// calls this once per address space it creates).
func (as *AddressSpace) SetMmapCOW(on bool) {
	as.Lock()
	defer as.Unlock()
	as.mmapCOW = on
}

func pageAlign(va uintptr) uintptr { return va &^ (mem.PGSIZE - 1) }
func pageRound(n int) int          { return (n + mem.PGSIZE - 1) &^ (mem.PGSIZE - 1) }

// lookup returns the area (from either list) covering va.
func (as *AddressSpace) lookup(va uintptr) (*area, bool) {
	for _, a := range as.areas {
		if a.contains(va) {
			return a, true
		}
	}
	for _, a := range as.mmaps {
		if a.contains(va) {
			return a, true
		}
	}
	return nil, false
}

// AddAnon records a lazily-materialized anonymous region (the user
// stack; the region is tagged roleStack for fork, and the heap is set
// up by InitHeap instead); no frames are allocated until the first fault.
func (as *AddressSpace) AddAnon(start uintptr, length int, perm pgtbl.Perm) {
	as.Lock()
	defer as.Unlock()
	as.areas = append(as.areas, &area{
		start:  pageAlign(start),
		npages: pageRound(length) / mem.PGSIZE,
		perm:   perm,
		kind:   kindAnon,
		role:   roleStack,
	})
}

// MapEager installs an ELF segment's initial contents immediately,
// rather than waiting for a fault, since the loader has the bytes in
// hand already and a fault would just re-read them from the same
// buffer. Pages beyond len(data) within the region are zero-filled, the
// standard bss-tail-of-a-segment behavior.
func (as *AddressSpace) MapEager(start uintptr, data []byte, length int, perm pgtbl.Perm) {
	as.Lock()
	defer as.Unlock()
	base := pageAlign(start)
	npages := pageRound(length+int(start-base)) / mem.PGSIZE
	as.areas = append(as.areas, &area{start: base, npages: npages, perm: perm, kind: kindAnon, role: roleSegment})

	off := int(start - base)
	for i := 0; i < npages; i++ {
		h, ok := as.alloc.AllocNoZero()
		diag.Assertf(ok, "vm: out of memory mapping eager segment")
		pg := h.Page()
		for j := range pg {
			pg[j] = 0
		}
		lo := 0
		if i == 0 {
			lo = off
		}
		hi := mem.PGSIZE
		fileOff := i*mem.PGSIZE - off
		if fileOff+hi > len(data) {
			hi = len(data) - fileOff
			if hi < lo {
				hi = lo
			}
		}
		if hi > lo {
			copy(pg[lo:hi], data[fileOff+lo:fileOff+hi])
		}
		vpn := pgtbl.Vpn_t((base + uintptr(i)*mem.PGSIZE) / mem.PGSIZE)
		as.Table.Map(vpn, mem.Ppn_t(h.PA()>>mem.PGSHIFT), perm|pgtbl.PTE_V)
	}
}

// AddFile records a file-backed mmap region; like AddAnon, pages are
// materialized lazily on first fault via backer.ReadPage.
func (as *AddressSpace) AddFile(start uintptr, length int, perm pgtbl.Perm, backer FileBacker, foff int64, shared bool) {
	as.Lock()
	defer as.Unlock()
	as.mmaps = append(as.mmaps, &area{
		start:  pageAlign(start),
		npages: pageRound(length) / mem.PGSIZE,
		perm:   perm,
		kind:   kindFile,
		backer: backer,
		foff:   foff,
		shared: shared,
	})
}

// Munmap removes the mmap region starting at start (which must exactly
// match a prior AddFile's start address, matching the granularity this
// kernel's mmap/munmap pairing assumes) and releases its frames.
func (as *AddressSpace) Munmap(start uintptr) bool {
	as.Lock()
	defer as.Unlock()
	base := pageAlign(start)
	for i, a := range as.mmaps {
		if a.start != base {
			continue
		}
		as.unmapArea(a)
		as.mmaps = append(as.mmaps[:i], as.mmaps[i+1:]...)
		return true
	}
	return false
}

func (as *AddressSpace) unmapArea(a *area) {
	for i := 0; i < a.npages; i++ {
		vpn := pgtbl.Vpn_t((a.start + uintptr(i)*mem.PGSIZE) / mem.PGSIZE)
		if pte, ok := as.Table.Translate(vpn); ok {
			as.Table.Unmap(vpn)
			as.alloc.Dealloc(pgtbl.PteToPA(pte))
		}
	}
}

// Mprotect updates the baseline permission of the area covering [start,
// start+length) and rewrites every already-materialized leaf's flags to
// match, preserving each leaf's COW bit.
func (as *AddressSpace) Mprotect(start uintptr, length int, perm pgtbl.Perm) bool {
	as.Lock()
	defer as.Unlock()
	va := pageAlign(start)
	end := va + uintptr(pageRound(length))
	a, ok := as.lookup(va)
	if !ok {
		return false
	}
	a.perm = perm
	for v := va; v < end; v += mem.PGSIZE {
		vpn := pgtbl.Vpn_t(v / mem.PGSIZE)
		if pte, ok := as.Table.Translate(vpn); ok {
			cow := pte & pgtbl.PTE_COW
			effective := perm
			if cow != 0 {
				effective = (perm &^ pgtbl.PTE_W) | pgtbl.PTE_COW
			}
			as.Table.SetFlags(vpn, effective)
		}
	}
	return true
}

// Destroy releases every frame mapped by this address space. Called
// once a process's last thread has exited.
func (as *AddressSpace) Destroy() {
	as.Lock()
	defer as.Unlock()
	for _, a := range as.areas {
		as.unmapArea(a)
	}
	for _, a := range as.mmaps {
		as.unmapArea(a)
	}
	as.areas = nil
	as.mmaps = nil
}
