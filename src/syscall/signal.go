package syscall

import (
	"rvkernel/src/defs"
	"rvkernel/src/proc"
	"rvkernel/src/signal"
	"rvkernel/src/task"
	"rvkernel/src/vm"
)

func (s *Syscalls) sysRtSigaction(p *proc.Process, as *vm.AddressSpace, sig int, actVA, oldActVA uint64) uint64 {
	p.Lock()
	defer p.Unlock()
	if sig < 1 || sig > defs.SIGMAX {
		return fail(defs.EINVAL)
	}
	if oldActVA != 0 {
		old := p.Sig.Actions[sig]
		buf := make([]byte, 24)
		putN(buf[0:8], uint64(old.Handler))
		putN(buf[8:16], old.Mask)
		putN(buf[16:24], old.Flags)
		if err := as.CopyOut(uintptr(oldActVA), buf); err != nil {
			return fail(defs.EFAULT)
		}
	}
	if actVA == 0 {
		return 0
	}
	var buf [24]byte
	if err := as.CopyIn(buf[:], uintptr(actVA)); err != nil {
		return fail(defs.EFAULT)
	}
	act := signal.Action{
		Handler: uintptr(getN(buf[0:8])),
		Mask:    getN(buf[8:16]),
		Flags:   getN(buf[16:24]),
	}
	return errno0(signal.SetAction(p.Sig, sig, act))
}

func (s *Syscalls) sysRtSigprocmask(t *task.Task, as *vm.AddressSpace, how int, setVA, oldSetVA uint64) uint64 {
	var mask uint64
	if setVA != 0 {
		n, err := as.ReadN(uintptr(setVA), 8)
		if err != nil {
			return fail(defs.EFAULT)
		}
		mask = uint64(n)
	}
	old := signal.SetMask(t, how, mask)
	if oldSetVA != 0 {
		if err := as.WriteN(uintptr(oldSetVA), 8, int(old)); err != nil {
			return fail(defs.EFAULT)
		}
	}
	return 0
}

// sysRtSigreturn implements spec §4.8's sigreturn subtlety: when the
// handler ran with SA_SIGINFO, the UContext it was given still sits at
// the current stack pointer with mcontext.pc at its base, and that value
// (not the one captured when the handler was entered) is what sepc must
// resume at.
func (s *Syscalls) sysRtSigreturn(p *proc.Process, t *task.Task, as *vm.AddressSpace) uint64 {
	t.Lock()
	sig := t.Sig.Handling
	ucAddr := t.TrapCtx.X[vm.RegSP]
	t.Unlock()

	if sig != 0 {
		p.Lock()
		act := p.Sig.Actions[sig]
		p.Unlock()
		if act.Flags&defs.SA_SIGINFO != 0 {
			if pc, err := as.ReadN(uintptr(ucAddr), 8); err == nil {
				t.Lock()
				if t.Sig.Backup != nil {
					t.Sig.Backup.Sepc = uint64(pc)
				}
				t.Unlock()
			}
		}
	}
	return errno0(signal.Sigreturn(t))
}

func putN(b []byte, v uint64) {
	for i := range b {
		b[i] = byte(v >> (8 * i))
	}
}

func getN(b []byte) uint64 {
	var v uint64
	for i := range b {
		v |= uint64(b[i]) << (8 * i)
	}
	return v
}
