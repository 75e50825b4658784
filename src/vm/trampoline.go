package vm

import (
	"rvkernel/src/diag"
	"rvkernel/src/mem"
	"rvkernel/src/pgtbl"
)

// Canonical high virtual addresses every address space maps at the same
// location, per §3's invariant ("the trampoline and signal-return
// trampoline are mapped in every address space at fixed canonical
// virtual addresses") and §9's note that the per-thread trap context
// also lives on a page mapped into the user address space rather than
// kernel-private memory. Trap-context pages are stacked downward from
// TrapCtxBaseVA, one per thread slot within the owning process, so
// sibling threads sharing one AddressSpace (CLONE_THREAD) never collide.
const (
	TrampolineVA         = UserMax - mem.PGSIZE
	SigretTrampolineVA   = TrampolineVA - mem.PGSIZE
	TrapCtxBaseVA        = SigretTrampolineVA - mem.PGSIZE
	MaxTrapCtxSlots      = 64
)

// TrapCtxVAFor returns the fixed VA of the trap-context page for the
// thread occupying slot within its process's task vector.
func TrapCtxVAFor(slot int) uintptr {
	diag.Assertf(slot >= 0 && slot < MaxTrapCtxSlots, "vm: trap-ctx slot %d out of range", slot)
	return TrapCtxBaseVA - uintptr(slot)*mem.PGSIZE
}

// InstallTrampolines maps the two identity-style trampoline stubs
// (mode-switch entry and sigreturn) into this address space. Real
// trampoline assembly is the bootstrap's responsibility (spec §1 lists
// it as an external collaborator); what this kernel core owns is that
// the page exists at the fixed VA so the trap dispatcher and sigreturn
// syscall can always find it, and that ra can be pointed at
// SigretTrampolineVA during signal delivery.
func (as *AddressSpace) InstallTrampolines(code []byte) {
	as.Lock()
	defer as.Unlock()
	as.mapCodePage(TrampolineVA, code)
	as.mapCodePage(SigretTrampolineVA, code)
}

func (as *AddressSpace) mapCodePage(va uintptr, code []byte) {
	h, ok := as.alloc.AllocNoZero()
	diag.Assertf(ok, "vm: out of memory mapping trampoline")
	pg := h.Page()
	for i := range pg {
		pg[i] = 0
	}
	copy(pg[:], code)
	vpn := pgtbl.Vpn_t(va / mem.PGSIZE)
	as.Table.Map(vpn, mem.Ppn_t(h.PA()>>mem.PGSHIFT), pgtbl.PTE_R|pgtbl.PTE_X|pgtbl.PTE_U|pgtbl.PTE_V)
	as.areas = append(as.areas, &area{start: va, npages: 1, perm: pgtbl.PTE_R | pgtbl.PTE_X | pgtbl.PTE_U, kind: kindAnon, role: roleStructural})
}

// MapTrapCtx allocates and maps the trap-context page for thread slot,
// returning a pointer to it reinterpreted as a TrapContext so the
// scheduler/trap dispatcher can read and write it directly without
// going through CopyIn/CopyOut (it is kernel-resident bookkeeping, not
// user data, even though it happens to live at a user VA). If the slot's
// page is already mapped (a forked child inherits a byte copy of its
// parent's), that page is returned instead of a new one.
func (as *AddressSpace) MapTrapCtx(slot int) *TrapContext {
	as.Lock()
	defer as.Unlock()
	va := TrapCtxVAFor(slot)
	vpn := pgtbl.Vpn_t(va / mem.PGSIZE)
	if pte, ok := as.Table.Translate(vpn); ok {
		return pageAsTrapCtx(as.alloc.PageAt(pgtbl.PteToPA(pte)))
	}
	h, ok := as.alloc.Alloc()
	diag.Assertf(ok, "vm: out of memory mapping trap context")
	as.Table.Map(vpn, mem.Ppn_t(h.PA()>>mem.PGSHIFT), pgtbl.PTE_R|pgtbl.PTE_W|pgtbl.PTE_V)
	as.areas = append(as.areas, &area{start: va, npages: 1, perm: pgtbl.PTE_R | pgtbl.PTE_W, kind: kindAnon, role: roleStructural})
	return pageAsTrapCtx(h.Page())
}

// UnmapTrapCtx releases thread slot's trap-context page, called when
// that task exits.
func (as *AddressSpace) UnmapTrapCtx(slot int) {
	as.Lock()
	defer as.Unlock()
	va := TrapCtxVAFor(slot)
	for i, a := range as.areas {
		if a.start == va {
			as.unmapArea(a)
			as.areas = append(as.areas[:i], as.areas[i+1:]...)
			return
		}
	}
}
