package syscall

import (
	"time"

	"rvkernel/src/defs"
	"rvkernel/src/proc"
	"rvkernel/src/task"
	"rvkernel/src/vm"
)

// sysPselect6 implements spec §4.7's pselect6: polls the read/write fd
// sets against each fd's ReadBlocked/WriteBlocked predicate — the same
// predicates pipe.End already implements for its own blocking Read/Write
// (src/pipe/pipe.go) and fd.Base defaults to false for anything that
// never blocks (regular files, the fake devices) — looping via the
// scheduler's Yield ("poll, yield, retry", since these predicates have
// no wakeup to block on) until at least one fd is ready or the timeout
// elapses. The sigmask argument (the "p" in pselect) is accepted
// but ignored: this kernel delivers pending signals at every trap-return
// epilogue regardless of a select loop's local mask, so there is no
// atomic mask-swap-then-restore step to perform.
func (s *Syscalls) sysPselect6(p *proc.Process, t *task.Task, as *vm.AddressSpace, nfds int, readfdsVA, writefdsVA, exceptfdsVA, timeoutVA uint64) uint64 {
	if nfds < 0 {
		return fail(defs.EINVAL)
	}
	words := (nfds + 63) / 64

	readIn, err := readFDSet(as, readfdsVA, words)
	if err != 0 {
		return fail(err)
	}
	writeIn, err := readFDSet(as, writefdsVA, words)
	if err != 0 {
		return fail(err)
	}
	// exceptfds: this kernel has no exceptional-condition predicate (OOB
	// data and the like); always reported empty.

	var deadline time.Time
	hasDeadline := false
	if timeoutVA != 0 {
		d, terr := readTimespec(as, uintptr(timeoutVA))
		if terr != 0 {
			return fail(terr)
		}
		deadline = time.Now().Add(d)
		hasDeadline = true
	}

	for {
		readOut := make([]uint64, words)
		writeOut := make([]uint64, words)
		ready := 0

		for fdnum := 0; fdnum < nfds; fdnum++ {
			wantRead := bitSet(readIn, fdnum)
			wantWrite := bitSet(writeIn, fdnum)
			if !wantRead && !wantWrite {
				continue
			}
			entry, ok := p.FDs.Get(fdnum)
			if !ok {
				return fail(defs.EBADF)
			}
			if wantRead && !entry.File.ReadBlocked() {
				setBit(readOut, fdnum)
				ready++
			}
			if wantWrite && !entry.File.WriteBlocked() {
				setBit(writeOut, fdnum)
				ready++
			}
		}

		if ready > 0 || (hasDeadline && !time.Now().Before(deadline)) {
			if werr := writeFDSet(as, readfdsVA, readOut); werr != 0 {
				return fail(werr)
			}
			if werr := writeFDSet(as, writefdsVA, writeOut); werr != 0 {
				return fail(werr)
			}
			if werr := writeFDSet(as, exceptfdsVA, make([]uint64, words)); werr != 0 {
				return fail(werr)
			}
			return okInt(int64(ready))
		}

		s.Sched.Yield(t)
	}
}

func readFDSet(as *vm.AddressSpace, va uint64, words int) ([]uint64, defs.Errno) {
	if va == 0 || words == 0 {
		return nil, 0
	}
	out := make([]uint64, words)
	for i := 0; i < words; i++ {
		n, err := as.ReadN(uintptr(va)+uintptr(i*8), 8)
		if err != nil {
			return nil, defs.EFAULT
		}
		out[i] = uint64(n)
	}
	return out, 0
}

func writeFDSet(as *vm.AddressSpace, va uint64, words []uint64) defs.Errno {
	if va == 0 {
		return 0
	}
	for i, w := range words {
		if err := as.WriteN(uintptr(va)+uintptr(i*8), 8, int(w)); err != nil {
			return defs.EFAULT
		}
	}
	return 0
}

func bitSet(words []uint64, i int) bool {
	if i/64 >= len(words) {
		return false
	}
	return words[i/64]&(1<<uint(i%64)) != 0
}

func setBit(words []uint64, i int) {
	words[i/64] |= 1 << uint(i%64)
}
