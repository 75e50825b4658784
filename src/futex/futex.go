// Package futex implements the per-address wait queues of spec §4.9:
// wait/wake/requeue over a process-wide map from user virtual address to
// futex record. Grounded on hashtable/hashtable.go's sharded bucket-lock
// shape (many small locks instead of one global mutex guarding the whole
// table) and original_source/kernel/src/sync/futex.rs for the exact
// wait/wake/requeue semantics spec.md distilled from.
package futex

import (
	"hash/maphash"
	"sync"

	"rvkernel/src/defs"
	"rvkernel/src/sched"
	"rvkernel/src/task"
	"rvkernel/src/vm"
)

const nbuckets = 64

// record is the wait queue for one user address: a FIFO of blocked
// tasks. Removed from its shard once its last waiter drains (spec
// §4.9's wake/requeue "delete the record if empty").
type record struct {
	waiters []*task.Task
}

type shard struct {
	sync.Mutex
	m map[uintptr]*record
}

// Manager is the process-wide futex table (spec §5: a process-wide
// singleton with its own lock — here, one lock per shard).
type Manager struct {
	seed    maphash.Seed
	shards  [nbuckets]shard
	Sched   *sched.Scheduler
}

// New creates an empty futex manager driven by sched for blocking and
// waking tasks.
func New(sched *sched.Scheduler) *Manager {
	m := &Manager{seed: maphash.MakeSeed(), Sched: sched}
	for i := range m.shards {
		m.shards[i].m = make(map[uintptr]*record)
	}
	return m
}

func (m *Manager) shardFor(addr uintptr) *shard {
	var h maphash.Hash
	h.SetSeed(m.seed)
	var b [8]byte
	for i := range b {
		b[i] = byte(addr >> (8 * i))
	}
	h.Write(b[:])
	return &m.shards[h.Sum64()%nbuckets]
}

// Wait implements spec §4.9's wait(addr, val, timeout): reads the word
// at addr; if it differs from val, returns -EAGAIN immediately (the
// value already changed, so there is nothing to wait for); otherwise
// the caller is enqueued and blocked until a matching Wake/Requeue. No
// timeout is enforced: Wait takes none, and sysFutex ignores futex(2)'s
// timeout argument, so a waiter stays blocked until it is woken.
func (m *Manager) Wait(addr uintptr, val int32, as *vm.AddressSpace, t *task.Task) error {
	cur, err := as.ReadN(addr, 4)
	if err != nil {
		return err
	}
	if int32(cur) != val {
		return defs.EAGAIN
	}

	sh := m.shardFor(addr)
	sh.Lock()
	rec, ok := sh.m[addr]
	if !ok {
		rec = &record{}
		sh.m[addr] = rec
	}
	rec.waiters = append(rec.waiters, t)
	sh.Unlock()

	m.Sched.Block(t)
	return nil
}

// Wake implements spec §4.9's wake(addr, n): unblocks up to
// min(n, waiters) tasks queued on addr, removing the record once
// drained. Returns the number actually woken (spec §8's testable
// property: exactly min(n, waiters_before)).
func (m *Manager) Wake(addr uintptr, n int) int {
	sh := m.shardFor(addr)
	sh.Lock()
	rec, ok := sh.m[addr]
	if !ok {
		sh.Unlock()
		return 0
	}
	k := n
	if k > len(rec.waiters) {
		k = len(rec.waiters)
	}
	woke := rec.waiters[:k]
	rec.waiters = rec.waiters[k:]
	if len(rec.waiters) == 0 {
		delete(sh.m, addr)
	}
	sh.Unlock()

	for _, wt := range woke {
		m.Sched.Unblock(wt)
	}
	return k
}

// Requeue implements spec §4.9's requeue(addr, n, addr2): wakes n
// waiters of addr outright, then moves every remaining waiter to
// addr2's queue (still blocked, now waiting on addr2 instead). Deletes
// addr's record if it drains to empty; never deletes addr2's record
// since it is growing.
func (m *Manager) Requeue(addr uintptr, n int, addr2 uintptr) int {
	src := m.shardFor(addr)
	src.Lock()
	rec, ok := src.m[addr]
	if !ok {
		src.Unlock()
		return 0
	}
	k := n
	if k > len(rec.waiters) {
		k = len(rec.waiters)
	}
	woke := rec.waiters[:k]
	rest := rec.waiters[k:]
	delete(src.m, addr)
	src.Unlock()

	for _, wt := range woke {
		m.Sched.Unblock(wt)
	}

	if len(rest) == 0 {
		return k
	}

	dst := m.shardFor(addr2)
	dst.Lock()
	drec, ok := dst.m[addr2]
	if !ok {
		drec = &record{}
		dst.m[addr2] = drec
	}
	drec.waiters = append(drec.waiters, rest...)
	dst.Unlock()

	return k
}

// Waiters reports the current queue depth for addr, used by tests
// verifying spec §8's requeue bookkeeping invariant.
func (m *Manager) Waiters(addr uintptr) int {
	sh := m.shardFor(addr)
	sh.Lock()
	defer sh.Unlock()
	rec, ok := sh.m[addr]
	if !ok {
		return 0
	}
	return len(rec.waiters)
}
