// Package sched implements the cooperative scheduler of spec §4.5: a
// ready queue, a block set, and block/unblock/yield primitives. Every
// hart but 0 stays parked (spec §1 non-goal: SMP scheduling), so the
// "per-hart processor loop" spec §4.5 describes collapses to a single
// active scheduler whose job is queue bookkeeping around suspension
// points — the actual register-level context switch spec §4.5 alludes
// to ("switch to its saved context") is the trap-entry/exit assembly's
// job, an external collaborator per spec §1. This package instead
// drives each task's kernel-side work on its own goroutine and uses the
// goroutine scheduler itself as the "switch to saved context" primitive:
// Yield cooperatively hands the Go scheduler a chance to run another
// ready task, and Block genuinely parks the calling goroutine until a
// matching Unblock call releases it — the same observable semantics
// spec §4.5's block/unblock/yield describe, expressed with channels
// instead of hand-rolled assembly. Grounded on biscuit's IRQ-channel
// handoff idiom (justanotherdot-biscuit/biscuit/src/kernel/main.go's
// runtime.IRQsched/trap_disk shape: suspend on a channel, resume when
// signaled) adapted from IRQ wakeup to generic block/unblock.
package sched

import (
	"runtime"
	"sync"

	"rvkernel/src/defs"
	"rvkernel/src/diag"
	"rvkernel/src/task"
)

// Scheduler owns the ready queue and block set shared by every task in
// the kernel. There is exactly one Scheduler for the lifetime of the
// kernel (spec §5: "the ready and block queues ... are process-wide
// singletons with their own locks").
type Scheduler struct {
	mu      sync.Mutex
	ready   map[defs.Tid_t]*task.Task
	blocked map[defs.Tid_t]*task.Task
	waiters map[defs.Tid_t]chan struct{}
}

// New creates an empty scheduler.
func New() *Scheduler {
	return &Scheduler{
		ready:   make(map[defs.Tid_t]*task.Task),
		blocked: make(map[defs.Tid_t]*task.Task),
		waiters: make(map[defs.Tid_t]chan struct{}),
	}
}

// Enqueue marks t Ready and adds it to the ready queue, matching
// unblock_task's "sets Ready, and enqueues" for a task that was never
// actually blocked (e.g. a freshly spawned/cloned task, spec §4.4).
func (s *Scheduler) Enqueue(t *task.Task) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t.Lock()
	t.Status = task.Ready
	t.Unlock()
	delete(s.blocked, t.Tid)
	delete(s.waiters, t.Tid)
	s.ready[t.Tid] = t
}

// Yield voluntarily gives up the hart: the calling task re-enters the
// ready queue, the Go scheduler is given a chance to run another ready
// goroutine, and t resumes Running once rescheduled. Suspension points
// that call this: syscall sched_yield, the timer-interrupt epilogue
// (spec §4.6), a frozen (SIGSTOPped) task's retry loop (spec §4.8).
func (s *Scheduler) Yield(t *task.Task) {
	s.mu.Lock()
	t.Lock()
	t.Status = task.Ready
	t.Unlock()
	s.ready[t.Tid] = t
	s.mu.Unlock()

	runtime.Gosched()

	s.mu.Lock()
	delete(s.ready, t.Tid)
	s.mu.Unlock()
	t.Lock()
	t.Status = task.Running
	t.Unlock()
}

// Block moves t into the block queue and parks the calling goroutine
// until a matching Unblock(t) call releases it (spec §4.5's
// block_current_and_run_next). Suspension points: futex wait, pipe
// full/empty, wait-for-child, sleep, faulting into blocking I/O (spec
// §5).
func (s *Scheduler) Block(t *task.Task) {
	s.mu.Lock()
	t.Lock()
	t.Status = task.Blocking
	t.Unlock()
	ch := make(chan struct{})
	s.blocked[t.Tid] = t
	s.waiters[t.Tid] = ch
	s.mu.Unlock()

	<-ch

	t.Lock()
	t.Status = task.Running
	t.Unlock()
}

// Unblock removes t from the block queue (asserting it was Blocking),
// sets it Ready, and releases its parked goroutine. Matches spec §4.5's
// unblock_task exactly.
func (s *Scheduler) Unblock(t *task.Task) {
	s.mu.Lock()
	t.Lock()
	diag.Assertf(t.Status == task.Blocking, "sched: unblock of task %d not in Blocking state (got %s)", t.Tid, t.Status)
	t.Status = task.Ready
	t.Unlock()
	ch, ok := s.waiters[t.Tid]
	delete(s.blocked, t.Tid)
	delete(s.waiters, t.Tid)
	s.ready[t.Tid] = t
	s.mu.Unlock()
	if ok {
		close(ch)
	}
}

// IsReady/IsBlocked let tests and invariant checks observe queue
// membership directly, matching spec §3's "present in the ready queue
// iff Ready" / "block queue iff Blocking" invariant.
func (s *Scheduler) IsReady(tid defs.Tid_t) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.ready[tid]
	return ok
}

func (s *Scheduler) IsBlocked(tid defs.Tid_t) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.blocked[tid]
	return ok
}

// ReadyLen reports the ready-queue depth, used by tests asserting
// futex/pipe wake counts drain the right number of waiters.
func (s *Scheduler) ReadyLen() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.ready)
}
