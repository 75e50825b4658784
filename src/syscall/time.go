package syscall

import (
	"time"

	"rvkernel/src/defs"
	"rvkernel/src/proc"
	"rvkernel/src/signal"
	"rvkernel/src/task"
	"rvkernel/src/vm"
)

func writeTimespec(as *vm.AddressSpace, va uintptr, d time.Duration) error {
	if err := as.WriteN(va, 8, int(d/time.Second)); err != nil {
		return err
	}
	return as.WriteN(va+8, 8, int(d%time.Second))
}

func readTimespec(as *vm.AddressSpace, va uintptr) (time.Duration, defs.Errno) {
	sec, err := as.ReadN(va, 8)
	if err != nil {
		return 0, defs.EFAULT
	}
	nsec, err := as.ReadN(va+8, 8)
	if err != nil {
		return 0, defs.EFAULT
	}
	return time.Duration(sec)*time.Second + time.Duration(nsec), 0
}

func (s *Syscalls) sysClockGettime(boot time.Time, as *vm.AddressSpace, clockID int, tsVA uint64) uint64 {
	if writeTimespec(as, uintptr(tsVA), time.Since(boot)) != nil {
		return fail(defs.EFAULT)
	}
	return 0
}

func (s *Syscalls) sysGettimeofday(boot time.Time, as *vm.AddressSpace, tvVA uint64) uint64 {
	if tvVA == 0 {
		return 0
	}
	elapsed := time.Since(boot)
	if as.WriteN(uintptr(tvVA), 8, int(elapsed/time.Second)) != nil {
		return fail(defs.EFAULT)
	}
	if as.WriteN(uintptr(tvVA)+8, 8, int((elapsed%time.Second)/time.Microsecond)) != nil {
		return fail(defs.EFAULT)
	}
	return 0
}

// sysTimes implements times(2): clock ticks (here, nanoseconds — this
// kernel has no HZ-scaled jiffy counter) since boot, with utime/stime
// drawn from the calling task's own accounting (task.Task.Acct, kept
// current by trap.Dispatcher.Handle); cutime/cstime (reaped children's
// time) stay 0, since exited children's accounting isn't retained past
// reaping.
func (s *Syscalls) sysTimes(boot time.Time, t *task.Task, as *vm.AddressSpace, bufVA uint64) uint64 {
	elapsed := int64(time.Since(boot))
	if bufVA != 0 {
		t.Acct.Lock()
		user, sys := t.Acct.Userns, t.Acct.Sysns
		t.Acct.Unlock()
		for i, v := range []int64{user, sys, 0, 0} {
			as.WriteN(uintptr(bufVA)+uintptr(i*8), 8, int(v))
		}
	}
	return okInt(elapsed)
}

func (s *Syscalls) sysNanosleep(t *task.Task, as *vm.AddressSpace, reqVA, remVA uint64) uint64 {
	d, err := readTimespec(as, uintptr(reqVA))
	if err != 0 {
		return fail(err)
	}
	time.AfterFunc(d, func() { s.Sched.Unblock(t) })
	s.Sched.Block(t)
	if remVA != 0 {
		writeTimespec(as, uintptr(remVA), 0)
	}
	return 0
}

// sysSetitimer implements spec §4.7's ITIMER_REAL: records the deadline/
// interval on the process (proc.Process.ItimerReal*) and arms a
// background timer that delivers SIGALRM to the group leader when it
// fires, re-arming itself if the interval is non-zero.
func (s *Syscalls) sysSetitimer(p *proc.Process, as *vm.AddressSpace, which int, newVA, oldVA uint64) uint64 {
	const itimerReal = 0
	if which != itimerReal {
		return fail(defs.EINVAL)
	}

	p.Lock()
	oldInterval := p.ItimerRealInterval
	oldDeadline := p.ItimerRealDeadline
	p.Unlock()

	if oldVA != 0 {
		var remaining int64
		if oldDeadline != 0 {
			remaining = oldDeadline - time.Now().UnixNano()
			if remaining < 0 {
				remaining = 0
			}
		}
		writeItimerval(as, uintptr(oldVA), oldInterval, remaining)
	}
	if newVA == 0 {
		return 0
	}

	intervalNs, valueNs, err := readItimerval(as, uintptr(newVA))
	if err != 0 {
		return fail(err)
	}

	p.Lock()
	p.ItimerRealInterval = intervalNs
	if valueNs == 0 {
		p.ItimerRealDeadline = 0
	} else {
		p.ItimerRealDeadline = time.Now().UnixNano() + valueNs
	}
	p.Unlock()

	if valueNs > 0 {
		s.armItimer(p, time.Duration(valueNs))
	}
	return 0
}

func (s *Syscalls) armItimer(p *proc.Process, delay time.Duration) {
	time.AfterFunc(delay, func() {
		p.Lock()
		deadline := p.ItimerRealDeadline
		interval := p.ItimerRealInterval
		leader := p.Leader()
		p.Unlock()
		if deadline == 0 || leader == nil {
			return
		}
		signal.Send(leader, defs.SIGALRM)
		if interval > 0 {
			p.Lock()
			p.ItimerRealDeadline = time.Now().UnixNano() + interval
			p.Unlock()
			s.armItimer(p, time.Duration(interval))
		} else {
			p.Lock()
			p.ItimerRealDeadline = 0
			p.Unlock()
		}
	})
}

// writeItimerval/readItimerval en/decode struct itimerval's two
// back-to-back struct timeval members (it_interval, it_value), 16 bytes
// each on riscv64 (seconds, then microseconds), in nanoseconds
// internally. They reuse the timespec helpers, whose second word is the
// sub-second remainder in nanoseconds, scaling that word to microseconds.
func writeItimerval(as *vm.AddressSpace, va uintptr, intervalNs, valueNs int64) {
	toWire := func(ns int64) time.Duration {
		d := time.Duration(ns)
		return d/time.Second*time.Second + d%time.Second/time.Microsecond
	}
	writeTimespec(as, va, toWire(intervalNs))
	writeTimespec(as, va+16, toWire(valueNs))
}

func readItimerval(as *vm.AddressSpace, va uintptr) (intervalNs, valueNs int64, errno defs.Errno) {
	interval, err := readTimespec(as, va)
	if err != 0 {
		return 0, 0, err
	}
	value, err := readTimespec(as, va+16)
	if err != 0 {
		return 0, 0, err
	}
	fromWire := func(d time.Duration) int64 {
		return int64(d/time.Second*time.Second + d%time.Second*time.Microsecond)
	}
	return fromWire(interval), fromWire(value), 0
}

func (s *Syscalls) sysFutex(as *vm.AddressSpace, t *task.Task, addr uint64, op int, val int32, timeoutVA, addr2 uint64) uint64 {
	switch op & defs.FUTEX_CMD_MASK {
	case defs.FUTEX_WAIT:
		if err := s.Futex.Wait(uintptr(addr), val, as, t); err != nil {
			if e, ok := err.(defs.Errno); ok {
				return fail(e)
			}
			return fail(defs.EAGAIN)
		}
		return 0
	case defs.FUTEX_WAKE:
		return okInt(int64(s.Futex.Wake(uintptr(addr), int(val))))
	case defs.FUTEX_REQUEUE:
		return okInt(int64(s.Futex.Requeue(uintptr(addr), int(val), uintptr(addr2))))
	}
	return fail(defs.ENOSYS)
}

func (s *Syscalls) sysUname(as *vm.AddressSpace, bufVA uint64) uint64 {
	const fieldLen = 65
	fields := []string{"Linux", "rvkernel", "6.1.0", "#1", "riscv64", ""}
	for i, f := range fields {
		b := make([]byte, fieldLen)
		copy(b, f)
		if err := as.CopyOut(uintptr(bufVA)+uintptr(i*fieldLen), b); err != nil {
			return fail(defs.EFAULT)
		}
	}
	return 0
}

func (s *Syscalls) sysSysinfo(boot time.Time, as *vm.AddressSpace, bufVA uint64) uint64 {
	uptime := int64(time.Since(boot) / time.Second)
	if err := as.WriteN(uintptr(bufVA), 8, int(uptime)); err != nil {
		return fail(defs.EFAULT)
	}
	return 0
}
