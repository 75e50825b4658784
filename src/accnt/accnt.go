// Package accnt accumulates per-task CPU accounting: Utadd/Systadd are
// driven from trap.Dispatcher.Handle's per-trap bracketing (the time
// since a task's last trap-return is user time, the time spent inside
// Handle itself is system time), and Fetch/toRusage/Add feed
// getrusage(2) (src/syscall/process.go's sysGetrusage) and /dev/prof's
// per-task samples (src/fs/prof.go). Adapted from biscuit's
// accnt/accnt.go, trimmed of the io/sleep-time adjustment helpers that
// biscuit's interrupt-driven kernel needed and this trap-bracketed one
// has no caller for.
package accnt

import (
	"sync"
	"sync/atomic"

	"rvkernel/src/util"
)

// Accnt_t accumulates user/system time in nanoseconds. The embedded mutex
// lets callers take a consistent snapshot when reporting usage.
type Accnt_t struct {
	Userns int64
	Sysns  int64
	sync.Mutex
}

// Utadd adds delta nanoseconds to the user-time counter.
func (a *Accnt_t) Utadd(delta int) {
	atomic.AddInt64(&a.Userns, int64(delta))
}

// Systadd adds delta nanoseconds to the system-time counter.
func (a *Accnt_t) Systadd(delta int) {
	atomic.AddInt64(&a.Sysns, int64(delta))
}

// Add merges another accounting record into this one.
func (a *Accnt_t) Add(n *Accnt_t) {
	a.Lock()
	a.Userns += n.Userns
	a.Sysns += n.Sysns
	a.Unlock()
}

// Fetch returns a snapshot of the accounting information encoded as an
// rusage-shaped byte slice, locking for a consistent view.
func (a *Accnt_t) Fetch() []uint8 {
	a.Lock()
	defer a.Unlock()
	return a.toRusage()
}

func (a *Accnt_t) toRusage() []uint8 {
	ret := make([]uint8, 4*8)
	totv := func(nano int64) (int, int) {
		return int(nano / 1e9), int((nano % 1e9) / 1000)
	}
	off := 0
	s, us := totv(a.Userns)
	util.Writen(ret, 8, off, s)
	off += 8
	util.Writen(ret, 8, off, us)
	off += 8
	s, us = totv(a.Sysns)
	util.Writen(ret, 8, off, s)
	off += 8
	util.Writen(ret, 8, off, us)
	return ret
}
