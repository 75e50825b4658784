// Package pgtbl implements the three-level RISC-V Sv39 page table.
// Adapted from biscuit's mem/dmap.go walk-and-allocate shape, but
// retargeted from x86's PTE_P/PTE_PCD/PTE_PS bit layout (biscuit is x86
// only) to the real Sv39 bit layout used by tinyrange-cc's
// internal/hv/riscv/rv64/mmu.go (V/R/W/X/U/G/A/D at bits 0-7, PPN at bit
// 10, 44 bits wide).
package pgtbl

import (
	"unsafe"

	"rvkernel/src/defs"
	"rvkernel/src/diag"
	"rvkernel/src/mem"
)

// Vpn_t is a virtual page number (virtual address >> 12).
type Vpn_t uint64

// Pte_t is a single page table entry (one word of a page-table page).
type Pte_t uint64

// PTE bit layout. V/R/W/X/U/G/A/D match the hardware exactly so a Kstat
// or page-fault trap could, in principle, be driven by real Sv39 state.
// PTE_COW is a software-reserved bit: Sv39 reserves bits 8-9 (RSW) for
// supervisor software precisely so an OS can stash bits like this one.
const (
	PTE_V   Pte_t = 1 << 0
	PTE_R   Pte_t = 1 << 1
	PTE_W   Pte_t = 1 << 2
	PTE_X   Pte_t = 1 << 3
	PTE_U   Pte_t = 1 << 4
	PTE_G   Pte_t = 1 << 5
	PTE_A   Pte_t = 1 << 6
	PTE_D   Pte_t = 1 << 7
	PTE_COW Pte_t = 1 << 8

	pteFlagsMask = Pte_t(0x3ff) // bits 0-9: V..D plus RSW (includes PTE_COW)
	pteppnShift  = 10
)

func ppn2pte(p mem.Ppn_t) Pte_t { return Pte_t(p) << pteppnShift }
func pte2ppn(p Pte_t) mem.Ppn_t { return mem.Ppn_t(p >> pteppnShift) }

// Perm is the permission/metadata flag set callers pass to Map and
// SetFlags: any combination of PTE_R/PTE_W/PTE_X/PTE_U/PTE_COW/PTE_A/PTE_D.
// PTE_V is managed internally.
type Perm = Pte_t

// PermFromProt converts an mmap/mprotect PROT_* bitmask (R=1,W=2,X=4)
// into the PTE permission bits (R=2,W=4,X=8) by a left shift of one.
func PermFromProt(prot int) Perm {
	var p Perm
	if prot&defs.PROT_READ != 0 {
		p |= PTE_R
	}
	if prot&defs.PROT_WRITE != 0 {
		p |= PTE_W
	}
	if prot&defs.PROT_EXEC != 0 {
		p |= PTE_X
	}
	return p
}

const levels = 3
const vpnBitsPerLevel = 9
const vpnMask = Vpn_t(1<<vpnBitsPerLevel) - 1

func levelIndex(vpn Vpn_t, level int) int {
	return int((vpn >> uint(level*vpnBitsPerLevel)) & vpnMask)
}

// table reinterprets a physical frame as 512 page-table entries, the
// Sv39 equivalent of biscuit's pg2pmap cast in mem/dmap.go.
func table(pg *mem.Pg_t) *[512]Pte_t {
	return (*[512]Pte_t)(unsafe.Pointer(pg))
}

// Table is a three-level Sv39 page-table mapper over one address space's
// root. It does not own the frames it maps (the vm package's map-areas
// and mmap-areas own those); it owns only the intermediate directory
// frames it allocates while walking.
type Table struct {
	alloc *mem.Allocator
	root  mem.Handle
}

// New allocates a fresh, empty root page-table page.
func New(alloc *mem.Allocator) *Table {
	h, ok := alloc.Alloc()
	diag.Assertf(ok, "pgtbl: out of memory allocating root")
	return &Table{alloc: alloc, root: h}
}

// RootPA returns the physical address of the root table (the value a
// trap entry would load into satp).
func (t *Table) RootPA() mem.Pa_t { return t.root.PA() }

// walk descends the three levels for vpn, allocating intermediate
// directory pages on the way down when allocIntermediate is true. It returns a
// pointer to the leaf PTE slot.
func (t *Table) walk(vpn Vpn_t, allocIntermediate bool) (*Pte_t, bool) {
	cur := table(t.root.Page())
	for lvl := levels - 1; lvl > 0; lvl-- {
		idx := levelIndex(vpn, lvl)
		pte := &cur[idx]
		if *pte&PTE_V == 0 {
			if !allocIntermediate {
				return nil, false
			}
			h, ok := t.alloc.Alloc()
			if !ok {
				return nil, false
			}
			*pte = ppn2pte(mem.Ppn_t(h.PA()>>mem.PGSHIFT)) | PTE_V
		}
		cur = table(t.framePage(*pte))
	}
	idx := levelIndex(vpn, 0)
	return &cur[idx], true
}

func (t *Table) framePage(pte Pte_t) *mem.Pg_t {
	ppn := pte2ppn(pte)
	pa := mem.Pa_t(ppn) << mem.PGSHIFT
	return t.alloc.PageAt(pa)
}

// Map installs vpn -> ppn with the given permission bits. It asserts the
// leaf was previously invalid: callers that want to replace
// an existing mapping must Unmap first.
func (t *Table) Map(vpn Vpn_t, ppn mem.Ppn_t, perm Perm) {
	pte, ok := t.walk(vpn, true)
	diag.Assertf(ok, "pgtbl: out of memory walking page table")
	diag.Assertf(*pte&PTE_V == 0, "pgtbl: map over valid leaf at vpn %#x", vpn)
	*pte = ppn2pte(ppn) | perm | PTE_V
}

// Remap installs vpn -> ppn even if a valid mapping already existed,
// returning the previous PTE (used by CoW resolution, which replaces a
// read-only shared mapping in place).
func (t *Table) Remap(vpn Vpn_t, ppn mem.Ppn_t, perm Perm) Pte_t {
	pte, ok := t.walk(vpn, true)
	diag.Assertf(ok, "pgtbl: out of memory walking page table")
	old := *pte
	*pte = ppn2pte(ppn) | perm | PTE_V
	return old
}

// Unmap clears the leaf PTE for vpn. It asserts the leaf was previously
// valid.
func (t *Table) Unmap(vpn Vpn_t) {
	pte, ok := t.walk(vpn, false)
	diag.Assertf(ok && *pte&PTE_V != 0, "pgtbl: unmap of invalid leaf at vpn %#x", vpn)
	*pte = 0
}

// Translate walks without allocating and returns the leaf PTE if valid.
func (t *Table) Translate(vpn Vpn_t) (Pte_t, bool) {
	pte, ok := t.walk(vpn, false)
	if !ok || *pte&PTE_V == 0 {
		return 0, false
	}
	return *pte, true
}

// PteToPA extracts the physical address a valid leaf PTE points at.
func PteToPA(pte Pte_t) mem.Pa_t {
	return mem.Pa_t(pte2ppn(pte)) << mem.PGSHIFT
}

// TranslateVA walks without allocating and returns the physical address
// for a full virtual address (not just its page), or false if unmapped.
func (t *Table) TranslateVA(va uintptr) (mem.Pa_t, bool) {
	vpn := Vpn_t(va >> mem.PGSHIFT)
	off := mem.Pa_t(va) & (mem.PGSIZE - 1)
	pte, ok := t.Translate(vpn)
	if !ok {
		return 0, false
	}
	return mem.Pa_t(pte2ppn(pte))<<mem.PGSHIFT + off, true
}

// FaultFn resolves a page fault at va (lazy materialization or CoW);
// it returns an error if the address truly cannot be mapped.
type FaultFn func(va uintptr) error

// TranslateVAWithFault is the primitive that makes user-pointer
// accessors safe against unmaterialized pages: it first
// tries the walk and, on miss, invokes fault and retries once.
func (t *Table) TranslateVAWithFault(va uintptr, fault FaultFn) (mem.Pa_t, error) {
	if pa, ok := t.TranslateVA(va); ok {
		return pa, nil
	}
	if err := fault(va); err != nil {
		return 0, err
	}
	pa, ok := t.TranslateVA(va)
	diag.Assertf(ok, "pgtbl: fault handler returned success but va %#x still unmapped", va)
	return pa, nil
}

// SetFlags rewrites the leaf's permission/metadata bits in place,
// preserving the PPN (used by mprotect and CoW transitions).
func (t *Table) SetFlags(vpn Vpn_t, perm Perm) bool {
	pte, ok := t.walk(vpn, false)
	if !ok || *pte&PTE_V == 0 {
		return false
	}
	ppn := pte2ppn(*pte)
	*pte = ppn2pte(ppn) | perm | PTE_V
	return true
}
