package signal

import (
	"testing"

	"rvkernel/src/defs"
	"rvkernel/src/mem"
	"rvkernel/src/pgtbl"
	"rvkernel/src/task"
	"rvkernel/src/vm"
)

func newTestTask(t *testing.T, sp uintptr) (*task.Task, *vm.AddressSpace) {
	t.Helper()
	alloc := mem.NewAllocator(0, 1<<10)
	as := vm.New(alloc)
	as.AddAnon(sp-2*mem.PGSIZE, 2*mem.PGSIZE, pgtbl.PTE_U|pgtbl.PTE_R|pgtbl.PTE_W)

	tk := &task.Task{Tid: 1, TrapCtx: &vm.TrapContext{}}
	tk.TrapCtx.X[vm.RegSP] = uint64(sp)
	return tk, as
}

const testStackTop = vm.UserMax - 16*mem.PGSIZE

func TestDeliverRoutesKernelHandledSignalAndTerminates(t *testing.T) {
	tk, as := newTestTask(t, testStackTop)
	tbl := DefaultTable()
	Send(tk, defs.SIGTERM)

	code, exiting := Deliver(tk, tbl, 0, as)
	if !exiting {
		t.Fatalf("Deliver: want exiting=true for default-terminate SIGTERM")
	}
	if code == 0 {
		t.Fatalf("Deliver: want non-zero exit code for SIGTERM")
	}
}

func TestDeliverSIGSTOPFreezesAndSIGCONTUnfreezes(t *testing.T) {
	tk, as := newTestTask(t, testStackTop)
	tbl := DefaultTable()

	Send(tk, defs.SIGSTOP)
	if _, exiting := Deliver(tk, tbl, 0, as); exiting {
		t.Fatalf("Deliver: SIGSTOP should not terminate the task")
	}
	tk.Lock()
	frozen := tk.Sig.Frozen
	tk.Unlock()
	if !frozen {
		t.Fatalf("task not Frozen after SIGSTOP")
	}

	Send(tk, defs.SIGCONT)
	Deliver(tk, tbl, 0, as)
	tk.Lock()
	frozen = tk.Sig.Frozen
	tk.Unlock()
	if frozen {
		t.Fatalf("task still Frozen after SIGCONT")
	}
}

func TestUserHandledSignalRewritesTrapContext(t *testing.T) {
	tk, as := newTestTask(t, testStackTop)
	tbl := DefaultTable()
	const handlerPC = 0x4000
	SetAction(tbl, defs.SIGUSR1, Action{Handler: handlerPC})

	preSignalPC := uintptr(0x1234)
	tk.TrapCtx.Sepc = uint64(preSignalPC)
	Send(tk, defs.SIGUSR1)

	code, exiting := Deliver(tk, tbl, 0xdead, as)
	if exiting || code != 0 {
		t.Fatalf("Deliver: user-handled signal should not terminate")
	}
	if tk.TrapCtx.Sepc != handlerPC {
		t.Fatalf("Sepc = %#x, want handler %#x", tk.TrapCtx.Sepc, uint64(handlerPC))
	}
	if tk.TrapCtx.X[vm.RegRA] != 0xdead {
		t.Fatalf("ra = %#x, want trampoline 0xdead", tk.TrapCtx.X[vm.RegRA])
	}
	if tk.Sig.Backup == nil || tk.Sig.Backup.Sepc != uint64(preSignalPC) {
		t.Fatalf("Backup.Sepc = %v, want %#x", tk.Sig.Backup, uint64(preSignalPC))
	}
}

// TestSAInfoRoundTripsMcontextPC is spec §8 scenario 6's exact property:
// delivering a SA_SIGINFO signal must write the pre-signal PC into the
// UContext it hands the handler, and sigreturn must read that same
// value back out before restoring, so a handler that rewrites
// mcontext.pc actually redirects execution.
func TestSAInfoRoundTripsMcontextPC(t *testing.T) {
	tk, as := newTestTask(t, testStackTop)
	tbl := DefaultTable()
	SetAction(tbl, defs.SIGUSR1, Action{Handler: 0x5000, Flags: defs.SA_SIGINFO})

	preSignalPC := uintptr(0x7777)
	tk.TrapCtx.Sepc = uint64(preSignalPC)
	Send(tk, defs.SIGUSR1)
	Deliver(tk, tbl, 0, as)

	ucAddr := uintptr(tk.TrapCtx.X[vm.RegA0+2]) // a2 = ucontext pointer
	if ucAddr == 0 {
		t.Fatalf("a2 (ucontext pointer) was never set")
	}
	raw, err := as.ReadN(ucAddr, 8)
	if err != nil {
		t.Fatalf("ReadN(ucontext): %v", err)
	}
	if uintptr(raw) != preSignalPC {
		t.Fatalf("mcontext.pc in UContext = %#x, want pre-signal PC %#x", raw, preSignalPC)
	}

	// Simulate what sysRtSigreturn does: read mcontext.pc back out and
	// fold it into the backup before restoring.
	tk.Sig.Backup.Sepc = uint64(raw)
	if errno := Sigreturn(tk); errno != 0 {
		t.Fatalf("Sigreturn: errno %d", errno)
	}
	if tk.TrapCtx.Sepc != uint64(preSignalPC) {
		t.Fatalf("Sepc after Sigreturn = %#x, want %#x", tk.TrapCtx.Sepc, preSignalPC)
	}
}
