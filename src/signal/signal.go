// Package signal implements the POSIX-ish signal layer of spec §4.8: 34
// per-process action slots, per-task pending/blocked masks, and
// trampoline-based delivery into user handlers. Grounded on
// original_source/kernel/src/task/signal.rs's check_pending_signals /
// call_kernel_signal_handler / call_user_signal_handler (the kernel- vs
// user-handled split, the frozen/killed loop, and sigaction's sa_mask
// gating), adapted from that file's single signal_handling bitmask
// design onto this kernel's per-Task task.SigState record.
package signal

import (
	"rvkernel/src/defs"
	"rvkernel/src/task"
	"rvkernel/src/vm"
)

// NumActions is the process-wide action-slot count spec §4.8 fixes (34
// signals, slots indexed 1..34; slot 0 unused).
const NumActions = defs.SIGMAX + 1

// Action is one process's disposition for a single signal number,
// mirroring original_source's SigAction (handler address instead of a
// Rust function pointer, since this kernel calls into user code through
// a trap-context rewrite rather than a native call).
type Action struct {
	Handler uintptr // 0 == SIG_DFL, 1 == SIG_IGN, else a user PC
	Mask    uint64  // sa_mask: additional signals blocked while this handler runs
	Flags   uint64  // sa_flags, SA_SIGINFO is the only bit this kernel interprets
}

// Table is a process's 34-slot action table (spec §4.8's "each process
// carries 34 action slots").
type Table struct {
	Actions [NumActions]Action
}

// DefaultTable returns a table with every slot at SIG_DFL, installed at
// spawn_from_elf time (spec §4.4).
func DefaultTable() *Table { return &Table{} }

func bit(sig int) uint64 { return 1 << uint(sig-1) }

func exitCodeFor(sig int) int {
	switch sig {
	case defs.SIGINT:
		return defs.ExitSIGINT
	case defs.SIGILL:
		return defs.ExitSIGILL
	case defs.SIGABRT:
		return defs.ExitSIGABRT
	case defs.SIGFPE:
		return defs.ExitSIGFPE
	case defs.SIGSEGV:
		return defs.ExitSIGSEGV
	default:
		return -int(defs.SIGTERM)
	}
}

// Send marks sig pending on t (kill/tkill's effect, spec §4.7's Signals
// group). It does not wake t if t is blocked; the signal is routed at
// t's next return-to-user epilogue.
func Send(t *task.Task, sig int) {
	t.Lock()
	t.Sig.Pending |= bit(sig)
	t.Unlock()
}

// Deliver implements spec §4.8's trap-return epilogue: scans signals
// 1..SIGMAX and routes each that is pending, not blocked, and not masked
// by the currently-executing handler. Returns a non-zero exit code and
// exiting=true if a fatal signal landed and this task must exit now. as is
// the faulting task's address space, needed to write the SA_SIGINFO
// UContext into user memory at delivery time (userHandle).
func Deliver(t *task.Task, tbl *Table, trampolineVA uintptr, as *vm.AddressSpace) (exitCode int, exiting bool) {
	for {
		deliverPass(t, tbl, trampolineVA, as)

		t.Lock()
		frozen := t.Sig.Frozen
		killed := t.Sig.Killed
		t.Unlock()
		if killed {
			t.Lock()
			sig := t.Sig.Handling
			t.Unlock()
			return exitCodeFor(sig), true
		}
		if !frozen {
			return 0, false
		}
		// Frozen (SIGSTOP'd, no SIGCONT yet): the caller
		// (trap.Dispatcher.epilogue) yields and calls Deliver again,
		// matching handle_signals's suspend loop.
		return 0, false
	}
}

func deliverPass(t *task.Task, tbl *Table, trampolineVA uintptr, as *vm.AddressSpace) bool {
	handled := false
	for sig := 1; sig <= defs.SIGMAX; sig++ {
		t.Lock()
		pending := t.Sig.Pending&bit(sig) != 0
		blocked := t.Sig.Blocked&bit(sig) != 0
		maskedByHandler := t.Sig.Handling != 0 && tbl.Actions[t.Sig.Handling].Mask&bit(sig) != 0
		t.Unlock()
		if !pending || blocked || maskedByHandler {
			continue
		}

		act := tbl.Actions[sig]
		if isKernelHandled(sig, act) {
			kernelHandle(t, sig)
		} else {
			userHandle(t, tbl, sig, act, trampolineVA, as)
		}
		handled = true
	}
	return handled
}

// isKernelHandled matches spec §4.8's "kernel-handled: SIGSTOP, SIGCONT,
// SIGKILL, default-terminate for anything without a user action".
func isKernelHandled(sig int, act Action) bool {
	switch sig {
	case defs.SIGSTOP, defs.SIGCONT, defs.SIGKILL:
		return true
	}
	return act.Handler == 0 // SIG_DFL and no user action installed
}

func kernelHandle(t *task.Task, sig int) {
	t.Lock()
	defer t.Unlock()
	switch sig {
	case defs.SIGSTOP:
		t.Sig.Frozen = true
		t.Sig.Pending &^= bit(sig)
	case defs.SIGCONT:
		t.Sig.Frozen = false
		t.Sig.Pending &^= bit(sig)
	default:
		t.Sig.Killed = true
		t.Sig.Handling = sig
	}
}

// userHandle implements spec §4.8's user-handled routing: backs up the
// trap context, clears pending, installs the handler's mask, and
// rewrites the trap context so execution resumes in the handler with
// ra pointed at the sigreturn trampoline. as is the owning address
// space, needed to actually write the SA_SIGINFO UContext into user
// memory (sigreturn reads the same bytes back to recover mcontext.pc).
func userHandle(t *task.Task, tbl *Table, sig int, act Action, trampolineVA uintptr, as *vm.AddressSpace) {
	t.Lock()
	defer t.Unlock()

	backup := *t.TrapCtx
	t.Sig.Backup = &backup
	t.Sig.Pending &^= bit(sig)
	t.Sig.Handling = sig
	t.Sig.HandlerMask = act.Mask

	t.TrapCtx.Sepc = uint64(act.Handler)
	t.TrapCtx.X[vm.RegA0] = uint64(sig)
	t.TrapCtx.X[vm.RegRA] = uint64(trampolineVA)

	if act.Flags&defs.SA_SIGINFO != 0 {
		// Reserve a UContext below the current user stack and place the
		// pre-signal PC into its mcontext.pc slot (spec §4.8), passed to
		// the handler in a2. The UContext layout itself
		// follows original_source/kernel/src/syscall/process.rs's
		// mcontext field order; mcontext.pc sits at the UContext's base
		// offset, this kernel's resolved Open Question (DESIGN.md).
		sp := backup.X[vm.RegSP]
		ucSize := uintptr(UContextSize)
		ucAddr := (sp - ucSize) &^ 0xf
		t.TrapCtx.X[vm.RegSP] = uint64(ucAddr)
		t.TrapCtx.X[vm.RegA0+2] = uint64(ucAddr) // a2 = ucontext pointer

		var pcBytes [8]byte
		for i := range pcBytes {
			pcBytes[i] = byte(backup.Sepc >> (8 * i))
		}
		if err := as.CopyOut(ucAddr, pcBytes[:]); err != nil {
			// The reserved region isn't mapped/writable: same fault a
			// real store to an unmapped stack slot would raise. t's
			// lock is already held here, so set the pending bit
			// directly rather than recursing into Send.
			t.Sig.Pending |= bit(defs.SIGSEGV)
		}
	}
}

// Sigreturn implements spec §4.8's sigreturn: restores the backed-up
// trap context and clears the handling-signal. The caller is
// responsible for first reading the saved PC back out of the UContext
// still sitting on the user stack (if SA_SIGINFO was used) and
// overwriting backup.Sepc with it before calling this, per the spec's
// explicit note that mcontext.pc reprogramming must survive the
// restore.
func Sigreturn(t *task.Task) defs.Errno {
	t.Lock()
	defer t.Unlock()
	if t.Sig.Backup == nil {
		return defs.EINVAL
	}
	*t.TrapCtx = *t.Sig.Backup
	t.Sig.Backup = nil
	t.Sig.Handling = 0
	t.Sig.HandlerMask = 0
	return 0
}

// UContextSize is a conservative fixed size for the reserved UContext
// region (mcontext.pc plus padding for the rest of the gp-register
// save area original_source's ucontext struct carries); it is a fixed
// constant so every handler invocation reserves the same footprint.
const UContextSize = 256

// SetAction installs act at tbl.Actions[sig] (rt_sigaction).
func SetAction(tbl *Table, sig int, act Action) defs.Errno {
	if sig < 1 || sig > defs.SIGMAX {
		return defs.EINVAL
	}
	tbl.Actions[sig] = act
	return 0
}

// SetMask implements sigprocmask's SIG_BLOCK/UNBLOCK/SETMASK (spec
// §4.7).
const (
	SIG_BLOCK = iota
	SIG_UNBLOCK
	SIG_SETMASK
)

func SetMask(t *task.Task, how int, mask uint64) (old uint64) {
	t.Lock()
	defer t.Unlock()
	old = t.Sig.Blocked
	switch how {
	case SIG_BLOCK:
		t.Sig.Blocked |= mask
	case SIG_UNBLOCK:
		t.Sig.Blocked &^= mask
	case SIG_SETMASK:
		t.Sig.Blocked = mask
	}
	return old
}
