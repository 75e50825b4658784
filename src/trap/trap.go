// Package trap implements the cause decoding and dispatch of spec §4.6.
// Entry itself (the shared trampoline page, sepc/scause/stval save) is
// the bootstrap/entry-assembly external collaborator per spec §1; this
// package is the single handler that assembly jumps into. Grounded on
// justanotherdot-biscuit/biscuit/src/kernel/main.go's trapstub/cause
// switch, retargeted from that file's x86 trap-vector numbers onto the
// RISC-V scause encoding original_source/kernel/src/trap/mod.rs uses.
package trap

import (
	"time"

	"rvkernel/src/defs"
	"rvkernel/src/diag"
	"rvkernel/src/signal"
	"rvkernel/src/task"
	"rvkernel/src/vm"
)

// Cause mirrors the RISC-V scause register's exception/interrupt codes
// this kernel decodes (spec §4.6's enumerated list).
type Cause uint64

const (
	causeInterruptBit = 1 << 63

	InstructionAddrMisaligned Cause = 0
	InstructionFault          Cause = 1
	IllegalInstruction        Cause = 2
	LoadFault                 Cause = 5
	StoreFault                Cause = 7
	UserEnvCall               Cause = 8
	InstructionPageFault      Cause = 12
	LoadPageFault             Cause = 13
	StorePageFault            Cause = 15

	SupervisorTimer    Cause = Cause(causeInterruptBit) | 5
	SupervisorExternal Cause = Cause(causeInterruptBit) | 9
)

// Dispatcher ties the decoded cause to the kernel state a handler needs:
// the faulting task/process's address space, the syscall table, the
// signal-action table, and callbacks for the board-specific pieces spec
// §1 scopes out (timer rearm, external IRQ routing).
type Dispatcher struct {
	Syscall       func(t *task.Task, as *vm.AddressSpace, num uint64, args [6]uint64) uint64
	SigActions    func(t *task.Task) *signal.Table
	RearmTimer    func()
	DrainTimers   func()
	Yield         func(t *task.Task)
	ExternalIRQ   func()
	TrampolineVA  uintptr
}

// Handle decodes cause and dispatches, returning a non-zero exit code
// and exiting=true when a fatal signal landed on t during this trap
// (spec §4.6's final step: "drain signals, then check for fatal signals
// ... and exit with the mapped error code if present").
func (d *Dispatcher) Handle(t *task.Task, as *vm.AddressSpace, cause Cause, stval uintptr) (exitCode int, exiting bool) {
	enter := time.Now()
	if !t.LastTrapReturn.IsZero() {
		// Time since this task's previous return to user mode is time it
		// actually spent running there (this kernel never executes user
		// code itself, so a trap entry is the only place that interval
		// becomes observable).
		t.Acct.Utadd(int(enter.Sub(t.LastTrapReturn)))
	}
	defer func() {
		t.Acct.Systadd(int(time.Since(enter)))
		t.LastTrapReturn = time.Now()
	}()

	switch cause {
	case UserEnvCall:
		// sepc advances by 4 before dispatch so a restartless return
		// lands just past the ecall instruction.
		t.TrapCtx.Sepc += 4
		a7 := t.TrapCtx.X[17]
		var args [6]uint64
		for i := 0; i < 6; i++ {
			args[i] = t.TrapCtx.X[vm.RegA0+i]
		}
		ret := d.Syscall(t, as, a7, args)
		t.TrapCtx.X[vm.RegA0] = ret

	case StoreFault, StorePageFault:
		if err := as.Fault(stval, true); err != nil {
			signal.Send(t, defs.SIGSEGV)
		}

	case LoadFault, LoadPageFault:
		if err := as.Fault(stval, false); err != nil {
			signal.Send(t, defs.SIGSEGV)
		}

	case IllegalInstruction:
		signal.Send(t, defs.SIGILL)

	case InstructionFault, InstructionPageFault:
		signal.Send(t, defs.SIGSEGV)

	case SupervisorTimer:
		d.RearmTimer()
		d.DrainTimers()
		d.Yield(t)

	case SupervisorExternal:
		d.ExternalIRQ()

	default:
		diag.Assertf(false, "trap: unhandled scause %#x", cause)
	}

	return d.epilogue(t, as)
}

// epilogue drains pending signals against t and reports whether a fatal
// one requires the caller to tear this task down now. While t is frozen
// (SIGSTOP'd, no SIGCONT yet) it yields and drains again.
func (d *Dispatcher) epilogue(t *task.Task, as *vm.AddressSpace) (int, bool) {
	tbl := d.SigActions(t)
	for {
		code, exiting := signal.Deliver(t, tbl, d.TrampolineVA, as)
		t.Lock()
		frozen := t.Sig.Frozen
		t.Unlock()
		if exiting || !frozen {
			return code, exiting
		}
		d.Yield(t)
	}
}
