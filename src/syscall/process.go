package syscall

import (
	"rvkernel/src/accnt"
	"rvkernel/src/defs"
	"rvkernel/src/elf"
	"rvkernel/src/fd"
	"rvkernel/src/proc"
	"rvkernel/src/signal"
	"rvkernel/src/task"
	"rvkernel/src/uio"
	"rvkernel/src/ustr"
	"rvkernel/src/vm"
)

func (s *Syscalls) sysExit(p *proc.Process, t *task.Task, code int) {
	s.Reg.ExitTask(p, t, code, func(addr uintptr) { s.Futex.Wake(addr, 1) })
}

func (s *Syscalls) sysExitGroup(p *proc.Process, code int) {
	s.Reg.ExitGroup(p, code)
}

// sysClone implements spec §4.4's clone: flags/stack/parent_tid/tls/
// child_tid in the riscv64 raw-syscall order, fanning out to
// clone_thread when CLONE_THREAD is set and to fork otherwise (this
// kernel's fork() contract has no flags word of its own — plain fork(2)
// libc wrappers call clone with only SIGCHLD set, which this dispatcher
// also routes here since none of the other flag bits this kernel
// recognizes apply without CLONE_THREAD).
func (s *Syscalls) sysClone(p *proc.Process, t *task.Task, as *vm.AddressSpace, flags, newStack, parentTidPtr, childTLS, childTidPtr uint64) uint64 {
	if flags&defs.CLONE_THREAD != 0 {
		nt := s.Reg.CloneThread(p, t, flags, uintptr(childTLS), uintptr(childTidPtr), uintptr(parentTidPtr), uintptr(newStack))
		return okInt(int64(nt.Tid))
	}
	child, _, err := s.Reg.Fork(p, t)
	if err != 0 {
		return fail(err)
	}
	return okInt(int64(child.Pid))
}

func (s *Syscalls) sysExecve(p *proc.Process, t *task.Task, as *vm.AddressSpace, pathVA, argvVA, envpVA uint64) uint64 {
	raw, cerr := as.CopyInString(uintptr(pathVA), maxPathLen)
	if cerr != nil {
		return fail(defs.EFAULT)
	}
	resolved, prepend := proc.ResolveExecPath(raw.String())

	argv, err := decodeStrVec(as, uintptr(argvVA))
	if err != 0 {
		return fail(err)
	}
	envp, err := decodeStrVec(as, uintptr(envpVA))
	if err != 0 {
		return fail(err)
	}
	if prepend != nil && len(argv) > 0 {
		argv = argv[1:]
	}
	argv = append(append([]string{}, prepend...), argv...)

	f, verr := s.VFS.Open(ustr.Ustr(resolved), true, false, false, false, false)
	if verr != 0 {
		return fail(verr)
	}
	img, lerr := s.loadImage(f)
	f.Close()
	if lerr != 0 {
		return fail(lerr)
	}
	return errno0(s.Reg.Exec(p, t, img, argv, envp))
}

// loadImage reads f fully into memory and hands it to the ELF loader
// collaborator, the execve path's equivalent of sysOpenat's
// straight-through VFS.Open (spec §1 treats ELF parsing as an external
// collaborator's job; this kernel only owns reading the bytes in).
func (s *Syscalls) loadImage(f fd.File) (elf.Image, defs.Errno) {
	var st fd.Kstat
	if err := f.Stat(&st); err != 0 {
		return elf.Image{}, err
	}
	buf := make([]byte, st.Size)
	n, err := f.Read(uio.NewFakeBuf(buf), nil)
	if err != 0 {
		return elf.Image{}, err
	}
	img, lerr := s.Loader.Load(buf[:n])
	if lerr != nil {
		return elf.Image{}, defs.ENOEXEC
	}
	return img, 0
}

func (s *Syscalls) sysWait4(p *proc.Process, t *task.Task, as *vm.AddressSpace, pid int, statusVA uint64, options int) uint64 {
	const wnohang = 1
	childPid, code, err := s.Reg.Waitpid(p, t, defs.Pid_t(pid), options&wnohang != 0)
	if err != 0 {
		return fail(err)
	}
	if childPid == 0 {
		return 0 // WNOHANG, nothing reapable yet
	}
	if statusVA != 0 {
		as.WriteN(uintptr(statusVA), 4, code)
	}
	return okInt(int64(childPid))
}

// sysKill addresses a process's signal group leader (spec §9's resolved
// Open Question: always the first task slot, never "first task matching
// pid").
func (s *Syscalls) sysKill(pid defs.Pid_t, sig int) uint64 {
	p, ok := s.Reg.Lookup(pid)
	if !ok {
		return fail(defs.ESRCH)
	}
	p.Lock()
	leader := p.Leader()
	p.Unlock()
	if leader == nil {
		return fail(defs.ESRCH)
	}
	signal.Send(leader, sig)
	return 0
}

// sysGetrusage implements getrusage(2): RUSAGE_THREAD reports the
// calling task's own accumulated accounting (task.Task.Acct, kept
// current by trap.Dispatcher.Handle's per-trap Utadd/Systadd
// bracketing); anything else (RUSAGE_SELF, RUSAGE_CHILDREN — this
// kernel doesn't distinguish reaped children's time separately) sums
// every task the owning process currently has via accnt.Accnt_t.Add.
// The struct rusage layout this writes is ru_utime/ru_stime only
// (accnt.Accnt_t.Fetch's 4-long encoding); the remaining rusage fields
// Linux defines are left zeroed, matching the "silent 0 for stubs"
// convention fd.Base follows, for fields this kernel doesn't track.
func (s *Syscalls) sysGetrusage(p *proc.Process, t *task.Task, as *vm.AddressSpace, who int, usageVA uint64) uint64 {
	const rusageThread = 1
	var acc accnt.Accnt_t
	if who == rusageThread {
		acc.Add(&t.Acct)
	} else {
		p.EachTask(func(ot *task.Task) { acc.Add(&ot.Acct) })
	}
	buf := make([]byte, 18*8) // struct rusage is 18 longs on riscv64/linux
	copy(buf, acc.Fetch())
	if err := as.CopyOut(uintptr(usageVA), buf); err != nil {
		return fail(defs.EFAULT)
	}
	return 0
}

func (s *Syscalls) sysTkill(tid defs.Tid_t, sig int) uint64 {
	t, ok := s.Reg.LookupTask(tid)
	if !ok {
		return fail(defs.ESRCH)
	}
	signal.Send(t, sig)
	return 0
}

func (s *Syscalls) sysPrlimit64(p *proc.Process, as *vm.AddressSpace, pid, resource int, newVA, oldVA uint64) uint64 {
	const rlimitNofile = 7
	if resource != rlimitNofile {
		return fail(defs.EINVAL)
	}
	if oldVA != 0 {
		cur := p.FDs.Max()
		as.WriteN(uintptr(oldVA), 8, cur)
		as.WriteN(uintptr(oldVA)+8, 8, cur)
	}
	if newVA != 0 {
		n, err := as.ReadN(uintptr(newVA), 8)
		if err != nil {
			return fail(defs.EFAULT)
		}
		p.FDs.SetMax(n)
	}
	return 0
}

// decodeStrVec reads a NULL-terminated array of 8-byte user pointers
// starting at va and decodes each as a NUL-terminated string, the
// argv/envp convention execve(2) uses.
func decodeStrVec(as *vm.AddressSpace, va uintptr) ([]string, defs.Errno) {
	if va == 0 {
		return nil, 0
	}
	var out []string
	for i := 0; ; i++ {
		ptr, err := as.ReadN(va+uintptr(i)*8, 8)
		if err != nil {
			return nil, defs.EFAULT
		}
		if ptr == 0 {
			return out, 0
		}
		str, serr := as.CopyInString(uintptr(ptr), maxPathLen)
		if serr != nil {
			return nil, defs.EFAULT
		}
		out = append(out, str.String())
	}
}
