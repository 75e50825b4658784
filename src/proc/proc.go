// Package proc implements the process block of spec §4.4: address
// space ownership, FD table, CWD, signal actions, children tree, and
// the spawn/exec/fork/clone/exit/waitpid operations. Grounded on
// original_source/kernel/src/task/process.rs's ProcessControlBlock
// (children/parent tree, zombie reparenting to init) adapted onto this
// kernel's task.Task/vm.AddressSpace types, and on
// justanotherdot-biscuit/biscuit/src/kernel/main.go's process-table
// bookkeeping for the PID/TID index shape.
package proc

import (
	"sync"

	"rvkernel/src/defs"
	"rvkernel/src/elf"
	"rvkernel/src/fd"
	"rvkernel/src/limits"
	"rvkernel/src/mem"
	"rvkernel/src/pgtbl"
	"rvkernel/src/sched"
	"rvkernel/src/signal"
	"rvkernel/src/task"
	"rvkernel/src/ustr"
	"rvkernel/src/vm"
)

// initPid is the PID children are reparented to on their parent's exit
// (spec §4.4's "orphans reparent to the initial process").
const initPid defs.Pid_t = 1

const kstackSize = 16 * 1024

// Process is one process's control block (spec §3's Process
// type): an address space shared by every task in the thread group, an
// FD table, a CWD, a signal-action table, and the parent/children tree
// waitpid walks.
type Process struct {
	sync.Mutex

	Pid  defs.Pid_t
	AS   *vm.AddressSpace
	FDs  *fd.Table
	Cwd  *fd.Cwd_t
	Sig  *signal.Table

	tasks   map[defs.Tid_t]*task.Task
	nextTid defs.Tid_t

	Parent   *Process
	Children map[defs.Pid_t]*Process

	Zombie   bool
	ExitCode int

	// ItimerReal* implement spec §4.7's setitimer/getitimer ITIMER_REAL:
	// a one-shot or periodic SIGALRM delivery deadline in Unix
	// nanoseconds, armed by sysSetitimer's time.AfterFunc timer
	// (src/syscall/time.go), which sends SIGALRM to the group leader.
	ItimerRealDeadline int64
	ItimerRealInterval int64

	exitWaiters []*task.Task
}

func (p *Process) PID() defs.Pid_t           { return p.Pid }
func (p *Process) AddrSpace() *vm.AddressSpace { return p.AS }

// Leader returns the process's thread-group leader (slot 0), the task
// kill(2) targets (spec §9's resolved Open Question: always the leader,
// never an arbitrary task matching pid). Caller must hold p's lock.
func (p *Process) Leader() *task.Task {
	for _, t := range p.tasks {
		if t.Slot == 0 {
			return t
		}
	}
	return nil
}

// EachTask calls fn once per task currently owned by p, snapshotting the
// task list under p's lock first so fn itself can take a task's own lock
// without nesting (getrusage's RUSAGE_SELF accounting sum, spec §4.7).
func (p *Process) EachTask(fn func(t *task.Task)) {
	p.Lock()
	tasks := make([]*task.Task, 0, len(p.tasks))
	for _, t := range p.tasks {
		tasks = append(tasks, t)
	}
	p.Unlock()
	for _, t := range tasks {
		fn(t)
	}
}

// Registry is the kernel-wide PID/TID index (spec §3/§4.4's "register in
// PID index" / "TID index"), constructed once at boot and threaded
// explicitly into every syscall that needs to look a process or task up
// by id, rather than reached for as a package-level global.
type Registry struct {
	sync.Mutex
	alloc   *mem.Allocator
	trampo  []byte
	sc      *sched.Scheduler
	limits  *limits.Config

	procs   map[defs.Pid_t]*Process
	tasks   map[defs.Tid_t]*task.Task
	nextPid defs.Pid_t
	nextTid defs.Tid_t
}

// NewRegistry constructs the kernel's process/task index. trampolineCode
// is the shared trampoline page's contents (installed into every new
// address space); it is an external collaborator's blob per spec §1, so
// this package treats it as opaque bytes handed in at boot.
func NewRegistry(alloc *mem.Allocator, sc *sched.Scheduler, cfg *limits.Config, trampolineCode []byte) *Registry {
	return &Registry{
		alloc:   alloc,
		sc:      sc,
		limits:  cfg,
		trampo:  trampolineCode,
		procs:   make(map[defs.Pid_t]*Process),
		tasks:   make(map[defs.Tid_t]*task.Task),
		nextPid: 1,
		nextTid: 1,
	}
}

func (r *Registry) allocPid() defs.Pid_t {
	r.Lock()
	defer r.Unlock()
	pid := r.nextPid
	r.nextPid++
	return pid
}

func (r *Registry) allocTid() defs.Tid_t {
	r.Lock()
	defer r.Unlock()
	tid := r.nextTid
	r.nextTid++
	return tid
}

func (r *Registry) registerProc(p *Process) {
	r.Lock()
	defer r.Unlock()
	r.procs[p.Pid] = p
}

func (r *Registry) registerTask(t *task.Task) {
	r.Lock()
	defer r.Unlock()
	r.tasks[t.Tid] = t
}

func (r *Registry) deregisterTask(tid defs.Tid_t) {
	r.Lock()
	defer r.Unlock()
	delete(r.tasks, tid)
}

// Lookup returns the process with the given PID.
func (r *Registry) Lookup(pid defs.Pid_t) (*Process, bool) {
	r.Lock()
	defer r.Unlock()
	p, ok := r.procs[pid]
	return p, ok
}

// LookupTask returns the task with the given TID.
func (r *Registry) LookupTask(tid defs.Tid_t) (*task.Task, bool) {
	r.Lock()
	defer r.Unlock()
	t, ok := r.tasks[tid]
	return t, ok
}

// EachTask calls fn once per currently-registered task, for the
// accounting/profiling device's snapshot walk (spec §1 DOMAIN STACK's
// /dev/prof). fn must not call back into the registry.
func (r *Registry) EachTask(fn func(t *task.Task)) {
	r.Lock()
	tasks := make([]*task.Task, 0, len(r.tasks))
	for _, t := range r.tasks {
		tasks = append(tasks, t)
	}
	r.Unlock()
	for _, t := range tasks {
		fn(t)
	}
}

func newAddressSpace(alloc *mem.Allocator, cfg *limits.Config) *vm.AddressSpace {
	as := vm.New(alloc)
	as.InitMmapWindow()
	as.SetMmapCOW(cfg.MmapCOW)
	return as
}

// userStackTop is the fixed VA new stacks are built downward from,
// chosen well below the trampoline/trap-context reservations.
const userStackTop = vm.UserMax - 256*mem.PGSIZE

const defaultStackSize = 8 * mem.PGSIZE

// SpawnFromELF implements spec §4.4's spawn_from_elf: constructs the
// address space, allocates a PID, creates task 0, initializes the FD
// table with stdin/stdout/stdout, installs default signal actions, sets
// CWD to "/", and registers + enqueues task 0.
func (r *Registry) SpawnFromELF(img elf.Image, stdin, stdout, stderr fd.File) (*Process, *task.Task) {
	as := newAddressSpace(r.alloc, r.limits)
	elf.Install(as, img)
	as.InstallTrampolines(r.trampo)
	as.InitHeap(img.HeapStart)

	p := &Process{
		Pid:      r.allocPid(),
		AS:       as,
		FDs:      fd.NewTable(r.limits.MaxOpenFiles),
		Sig:      signal.DefaultTable(),
		Children: make(map[defs.Pid_t]*Process),
		tasks:    make(map[defs.Tid_t]*task.Task),
		nextTid:  1,
	}
	p.FDs.InstallAt(0, &fd.Fd_t{File: stdin, Perms: fd.FD_READ})
	p.FDs.InstallAt(1, &fd.Fd_t{File: stdout, Perms: fd.FD_WRITE})
	p.FDs.InstallAt(2, &fd.Fd_t{File: stderr, Perms: fd.FD_WRITE})
	p.Cwd = fd.MkRootCwd(&fd.Fd_t{File: stdout})

	sp, _ := buildInitialStack(as, userStackTop, nil, nil, img.Auxv)
	t := r.newTaskIn(p)
	initTrapCtx(t, img.EntryPC(), sp)

	r.registerProc(p)
	r.sc.Enqueue(t)
	return p, t
}

func (r *Registry) newTaskIn(p *Process) *task.Task {
	p.Lock()
	slot := len(p.tasks)
	tid := r.allocTid()
	p.Unlock()

	t := task.New(p, tid, slot, kstackSize)
	p.Lock()
	p.tasks[tid] = t
	p.Unlock()
	r.registerTask(t)
	return t
}

// initTrapCtx points a fresh or freshly-exec'd task at entry with its
// user stack pointer set to sp. Linux RISC-V's ELF entry convention
// carries argc/argv/envp/auxv on the stack itself (spec §4.4's stack
// layout), not in registers, so a0-a7 start at zero.
func initTrapCtx(t *task.Task, entry, sp uintptr) {
	*t.TrapCtx = vm.TrapContext{}
	t.TrapCtx.Sepc = uint64(entry)
	t.TrapCtx.X[vm.RegSP] = uint64(sp)
}

// Fork implements spec §4.4's fork(): CoW-clones the address space, dups
// the FD table, creates task 0 with the parent's thread-0 trap context
// (child gets 0 in a0), inherits CWD, resets signal state, and
// registers the child.
func (r *Registry) Fork(parent *Process, parentTask *task.Task) (*Process, *task.Task, defs.Errno) {
	parent.Lock()
	childAS := parent.AS.Fork()
	childFDs, err := parent.FDs.Clone()
	cwdPath := append(ustr.Ustr{}, parent.Cwd.Path...)
	cwdFile := parent.Cwd.Fd
	parent.Unlock()
	if err != 0 {
		return nil, nil, err
	}

	child := &Process{
		Pid:      r.allocPid(),
		AS:       childAS,
		FDs:      childFDs,
		Sig:      signal.DefaultTable(),
		Parent:   parent,
		Children: make(map[defs.Pid_t]*Process),
		tasks:    make(map[defs.Tid_t]*task.Task),
		nextTid:  1,
	}
	*child.Sig = *parent.Sig
	nf, _ := fd.Copy(cwdFile)
	child.Cwd = &fd.Cwd_t{Fd: nf, Path: cwdPath}

	parent.Lock()
	parent.Children[child.Pid] = child
	parent.Unlock()

	ct := r.newTaskIn(child)
	*ct.TrapCtx = *parentTask.TrapCtx
	ct.TrapCtx.X[vm.RegA0] = 0

	r.registerProc(child)
	r.sc.Enqueue(ct)
	return child, ct, 0
}

// CloneThread implements spec §4.4's clone_thread: a new task inside the
// same process, copying the parent's trap context and wiring up the
// CLONE_CHILD_CLEARTID / CLONE_SETTLS / CLONE_*SETTID side effects the
// caller's flags word requested.
func (r *Registry) CloneThread(p *Process, parentTask *task.Task, flags uint64, childTLS, childTid, parentTidPtr uintptr, newStack uintptr) *task.Task {
	t := r.newTaskIn(p)
	*t.TrapCtx = *parentTask.TrapCtx
	if newStack != 0 {
		t.TrapCtx.X[vm.RegSP] = uint64(newStack)
	}
	t.TrapCtx.X[vm.RegA0] = 0

	if flags&defs.CLONE_CHILD_CLEARTID != 0 {
		t.HasClearChildTid = true
		t.ClearChildTid = childTid
	}
	if flags&defs.CLONE_SETTLS != 0 {
		t.TrapCtx.X[vm.RegTP] = uint64(childTLS)
	}
	if flags&defs.CLONE_CHILD_SETTID != 0 {
		p.AS.WriteN(childTid, 8, int(t.Tid))
	}
	if flags&defs.CLONE_PARENT_SETTID != 0 {
		p.AS.WriteN(parentTidPtr, 8, int(t.Tid))
	}

	r.sc.Enqueue(t)
	return t
}

// Exec implements spec §4.4's exec(image, argv): requires exactly one
// task, rebuilds the address space from img, rebuilds the user stack
// top-down with argc/argv/envp/auxv, reinitializes the trap context, and
// resets the heap/mmap windows.
func (r *Registry) Exec(p *Process, t *task.Task, img elf.Image, argv, envp []string) defs.Errno {
	p.Lock()
	if len(p.tasks) != 1 {
		p.Unlock()
		return defs.EINVAL
	}
	p.Unlock()

	newAS := newAddressSpace(r.alloc, r.limits)
	elf.Install(newAS, img)
	newAS.InstallTrampolines(r.trampo)
	newAS.InitHeap(img.HeapStart)

	sp, _ := buildInitialStack(newAS, userStackTop, argv, envp, img.Auxv)

	p.Lock()
	p.AS = newAS
	p.Unlock()

	t.TrapCtx = newAS.MapTrapCtx(t.Slot)
	initTrapCtx(t, img.EntryPC(), sp)
	return 0
}

// buildInitialStack lays out argc, argv pointers, envp pointers, auxv
// entries, padding, random bytes, the platform string, and the argv/env
// strings themselves, top-down, matching spec §4.4's exec contract and
// original_source/kernel/src/mm/memory_set.rs's create_user_stack
// ordering where spec.md is silent on exact byte layout.
func buildInitialStack(as *vm.AddressSpace, top uintptr, argv, envp []string, auxv []elf.Aux) (uintptr, []elf.Aux) {
	as.AddAnon(top-defaultStackSize, defaultStackSize, pgtbl.PTE_U|pgtbl.PTE_R|pgtbl.PTE_W)

	sp := top
	writeStr := func(s string) uintptr {
		b := append([]byte(s), 0)
		sp -= uintptr(len(b))
		as.CopyOut(sp, b)
		return sp
	}

	var argvPtrs, envpPtrs []uintptr
	for _, a := range argv {
		argvPtrs = append(argvPtrs, writeStr(a))
	}
	for _, e := range envp {
		envpPtrs = append(envpPtrs, writeStr(e))
	}
	platform := writeStr("riscv64")
	sp &^= 0xf
	var random [16]byte
	sp -= 16
	as.CopyOut(sp, random[:])
	randomVA := sp

	fullAuxv := append([]elf.Aux{}, auxv...)
	fullAuxv = append(fullAuxv, elf.Aux{Type: defs.AT_RANDOM, Value: randomVA})
	fullAuxv = append(fullAuxv, elf.Aux{Type: defs.AT_PLATFORM, Value: platform})
	fullAuxv = append(fullAuxv, elf.Aux{Type: defs.AT_NULL, Value: 0})

	sp &^= 0xf
	// Auxv: two words per entry, NULL-terminated.
	for i := len(fullAuxv) - 1; i >= 0; i-- {
		sp -= 16
		as.WriteN(sp, 8, int(fullAuxv[i].Value))
		as.WriteN(sp+8, 8, fullAuxv[i].Type)
	}
	// envp pointer array, NULL-terminated.
	sp -= 8
	as.WriteN(sp, 8, 0)
	for i := len(envpPtrs) - 1; i >= 0; i-- {
		sp -= 8
		as.WriteN(sp, 8, int(envpPtrs[i]))
	}
	// argv pointer array, NULL-terminated.
	sp -= 8
	as.WriteN(sp, 8, 0)
	for i := len(argvPtrs) - 1; i >= 0; i-- {
		sp -= 8
		as.WriteN(sp, 8, int(argvPtrs[i]))
	}
	// argc.
	sp -= 8
	as.WriteN(sp, 8, len(argv))

	return sp, fullAuxv
}

// ResolveExecPath implements exec's rule that a path ending in ".sh" runs
// through busybox's shell instead (spec §4.4). The syscall layer's
// execve calls this before resolving and loading path, prepending the
// returned extra arguments ahead of the caller's own argv[1:].
func ResolveExecPath(path string) (resolved string, prependArgv []string) {
	if len(path) >= 3 && path[len(path)-3:] == ".sh" {
		return "/busybox", []string{"sh", path}
	}
	return path, nil
}

// ExitTask implements spec §4.4's task-exit sequence steps 1-2: clears
// clear_child_tid (waking one futex waiter on it), removes t from the
// TID index, records the exit code, and releases its user resources.
// Step 3 (group-leader zombification) is Registry.ExitGroup.
func (r *Registry) ExitTask(p *Process, t *task.Task, code int, wakeFutex func(addr uintptr)) {
	if t.HasClearChildTid {
		p.AS.WriteN(t.ClearChildTid, 8, 0)
		if wakeFutex != nil {
			wakeFutex(t.ClearChildTid)
		}
	}
	r.deregisterTask(t.Tid)
	t.Lock()
	t.ExitCode = code
	t.Status = task.Dead
	t.Unlock()
	t.Destroy()

	p.Lock()
	delete(p.tasks, t.Tid)
	p.Unlock()
}

// ExitGroup implements spec §4.4's task-exit step 3/4: marks the process
// zombie, reparents children to init, closes the file behind every
// descriptor (the table entries themselves stay in place), destroys the
// address space, and wakes any waitpid() callers blocked on it. The
// process's tasks are not exited or removed from the TID index here.
func (r *Registry) ExitGroup(p *Process, code int) {
	p.Lock()
	p.Zombie = true
	p.ExitCode = code
	for _, child := range p.Children {
		if initProc, ok := r.Lookup(initPid); ok {
			child.Parent = initProc
			initProc.Lock()
			initProc.Children[child.Pid] = child
			initProc.Unlock()
		}
	}
	p.Children = make(map[defs.Pid_t]*Process)
	p.FDs.Each(func(_ int, f *fd.Fd_t) { f.File.Close() })
	waiters := p.exitWaiters
	p.exitWaiters = nil
	p.Unlock()

	p.AS.Destroy()

	for _, w := range waiters {
		r.sc.Unblock(w)
	}
}

// Waitpid implements spec §4.4's waitpid(pid, code_out, options): scans
// children for a zombie match (pid=-1 matches any child, else by exact
// PID); on a hit, reaps it (removes from the children map) and encodes
// the exit code as (code & 0xff) << 8. On no match, returns ECHILD; on a
// match that is still running with WNOHANG unset, blocks the caller and
// retries once woken.
func (r *Registry) Waitpid(p *Process, self *task.Task, pid defs.Pid_t, nohang bool) (defs.Pid_t, int, defs.Errno) {
	for {
		p.Lock()
		var match *Process
		anyChildren := false
		for cpid, c := range p.Children {
			if pid != -1 && cpid != pid {
				continue
			}
			anyChildren = true
			if c.Zombie {
				match = c
				break
			}
		}
		if match != nil {
			delete(p.Children, match.Pid)
			p.Unlock()
			return match.Pid, (match.ExitCode & 0xff) << 8, 0
		}
		if !anyChildren {
			p.Unlock()
			return 0, 0, defs.ECHILD
		}
		if nohang {
			p.Unlock()
			return 0, 0, 0
		}
		p.exitWaiters = append(p.exitWaiters, self)
		p.Unlock()
		r.sc.Block(self)
	}
}
