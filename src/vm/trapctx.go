package vm

import (
	"unsafe"

	"rvkernel/src/mem"
)

// NumGPR is the number of general-purpose registers saved/restored on
// every supervisor entry/exit (x0..x31; x0 is always zero and is saved
// only for layout symmetry with the trap-entry/exit assembly).
const NumGPR = 32

// TrapContext is the saved machine state of a user thread captured on
// each supervisor entry (spec §3). It is stored on the trap-context
// page mapped into the owning thread's user address space at
// TrapCtxVAFor(slot) rather than in kernel-private memory, per §9's note
// that implementers must not assume otherwise.
type TrapContext struct {
	X        [NumGPR]uint64 // x0..x31, x10 (a0) is the syscall/clone return register
	Sstatus  uint64
	Sepc     uint64 // saved user PC
	KernelSP uint64 // kernel stack top for this thread
	KernelSatp uint64 // kernel address space's satp
	TrapHandler uint64 // kernel trap-entry address
}

// pageAsTrapCtx reinterprets a physical page as a TrapContext, the way
// pgtbl.table reinterprets a page as a PTE array.
func pageAsTrapCtx(pg *mem.Pg_t) *TrapContext {
	return (*TrapContext)(unsafe.Pointer(pg))
}

// A0..A5 index the syscall-argument registers within X (RISC-V calling
// convention: a0-a7 are x10-x17).
const (
	RegA0 = 10
	RegA1 = 11
	RegA2 = 12
	RegA3 = 13
	RegA4 = 14
	RegA5 = 15
	RegA6 = 16
	RegA7 = 17 // syscall number
	RegRA = 1
	RegSP = 2
	RegTP = 4 // thread pointer, target of CLONE_SETTLS
)
