// Package task implements the per-thread control block (spec §3/§4.4):
// kernel stack, trap context, signal state, and the thread-group
// clear_child_tid futex word. Grounded on biscuit's tinfo/tinfo.go
// per-thread note (Tnote_t's Alive/Killed/Isdoomed fields map onto this
// package's Killed/Frozen signal-delivery state) and accnt/accnt.go for
// the embedded per-task accounting slot.
package task

import (
	"sync"
	"time"

	"rvkernel/src/accnt"
	"rvkernel/src/defs"
	"rvkernel/src/vm"
)

// Status is a task's scheduling state (spec §3 invariant: present in the
// ready queue iff Ready, the block queue iff Blocking, nowhere iff
// Running).
type Status int

const (
	Ready Status = iota
	Running
	Blocking
	Dead
)

func (s Status) String() string {
	switch s {
	case Ready:
		return "ready"
	case Running:
		return "running"
	case Blocking:
		return "blocking"
	case Dead:
		return "dead"
	default:
		return "?"
	}
}

// Owner is the minimal view of a process a task needs: its PID (for
// signal targeting) and its shared address space (for the trap-context
// page and user-pointer accessors). Defined here, not in proc, so task
// does not import proc — proc.Process implements this interface instead.
type Owner interface {
	PID() defs.Pid_t
	AddrSpace() *vm.AddressSpace
}

// SwitchContext is the callee-saved register set preserved across a
// cooperative context switch (ra, sp, s0-s11), matching the shape every
// xv6-derived kernel's swtch.S save area uses. This kernel's scheduler
// (src/sched) drives real execution via goroutines rather than raw
// assembly context switches (the bootstrap/entry assembly is an
// external collaborator per spec §1), so this struct is bookkeeping
// data rather than a live register file — it still exists because
// spec §3 names it as part of a task's recorded state.
type SwitchContext struct {
	Ra uint64
	Sp uint64
	S  [12]uint64
}

// SigState is a task's per-thread signal bookkeeping (spec §4.8).
type SigState struct {
	Pending     uint64 // bitmask of signals 1..SIGMAX pending delivery
	Blocked     uint64 // sigprocmask
	Handling    int    // signal number currently executing a user handler, 0 if none
	HandlerMask uint64 // mask installed while Handling != 0 (the action's sa_mask)
	Backup      *vm.TrapContext
	Frozen      bool // SIGSTOP landed and hasn't been SIGCONT'd
	Killed      bool // a fatal/default-terminate signal landed
}

// Task is one thread of control (spec §3). TrapCtx is a pointer into
// the thread's trap-context page (vm.AddressSpace.MapTrapCtx), not
// kernel-private memory — see vm/trampoline.go's doc comment.
type Task struct {
	sync.Mutex

	Tid   defs.Tid_t
	Owner Owner
	Slot  int // index into the owning process's task vector; fixes this thread's TrapCtxVAFor(Slot)

	KernelStack []byte
	SwCtx       SwitchContext
	TrapCtx     *vm.TrapContext

	Status   Status
	ExitCode int

	Sig SigState

	HasClearChildTid bool
	ClearChildTid    uintptr

	Acct accnt.Accnt_t

	// LastTrapReturn is the timestamp trap.Dispatcher left this task at
	// after its last trap (zero before the first), used to bracket the
	// user-mode interval since that return into Acct.Utadd.
	LastTrapReturn time.Time

	// resume/yield are per-task handoff channels (resume to wake the
	// task, yield to report a suspension point), exposed through
	// ResumeChan/YieldChan. src/sched does not use them: its Block/
	// Unblock park and release a task on a channel of their own.
	resume chan struct{}
	yield  chan struct{}
}

// New allocates a task's trap-context page within owner's address space
// and a kernel stack, but does not start its goroutine or enqueue it —
// callers (proc.spawn/fork/clone) finish initializing TrapCtx before
// handing the task to the scheduler.
func New(owner Owner, tid defs.Tid_t, slot int, kstackSize int) *Task {
	t := &Task{
		Tid:         tid,
		Owner:       owner,
		Slot:        slot,
		KernelStack: make([]byte, kstackSize),
		Status:      Ready,
		resume:      make(chan struct{}),
		yield:       make(chan struct{}),
	}
	t.TrapCtx = owner.AddrSpace().MapTrapCtx(slot)
	return t
}

// Destroy releases the task's trap-context page and kernel stack. Called
// once the task has exited and its owner no longer needs its resources
// (spec §4.4 task-exit step 2/3).
func (t *Task) Destroy() {
	t.Owner.AddrSpace().UnmapTrapCtx(t.Slot)
	t.KernelStack = nil
}

// ResumeChan/YieldChan expose the handoff channels without making them
// part of the exported struct surface (they are wiring, not task state
// callers should read).
func (t *Task) ResumeChan() chan struct{} { return t.resume }
func (t *Task) YieldChan() chan struct{}  { return t.yield }
