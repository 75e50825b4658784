package syscall

import (
	"rvkernel/src/defs"
	"rvkernel/src/fd"
	"rvkernel/src/fs"
	"rvkernel/src/proc"
	"rvkernel/src/task"
	"rvkernel/src/uio"
	"rvkernel/src/ustr"
	"rvkernel/src/vm"
)

// atFDCWD mirrors Linux's AT_FDCWD sentinel for the *at(2) family.
const atFDCWD = -100

// resolvePath turns a (dirfd, path) pair into an absolute, canonical
// path. Only AT_FDCWD and already-absolute paths are supported — this
// kernel's fd.File capabilities don't carry their own path back out
// (spec §3 never asks for openat relative to an arbitrary directory fd),
// so a relative path against a directory fd other than AT_FDCWD fails
// with EBADF rather than silently resolving wrong.
func resolvePath(p *proc.Process, as *vm.AddressSpace, dirfd int, pathVA uintptr) (ustr.Ustr, defs.Errno) {
	raw, err := as.CopyInString(pathVA, maxPathLen)
	if err != nil {
		return nil, defs.EFAULT
	}
	if raw.IsAbsolute() {
		return raw, 0
	}
	if dirfd != atFDCWD {
		return nil, defs.EBADF
	}
	p.Lock()
	cwd := p.Cwd
	p.Unlock()
	return cwd.Canonicalpath(raw), 0
}

func (s *Syscalls) sysOpenat(p *proc.Process, as *vm.AddressSpace, dirfd int, pathVA uintptr, flags int, mode uint32) uint64 {
	path, err := resolvePath(p, as, dirfd, pathVA)
	if err != 0 {
		return fail(err)
	}
	readable := flags&defs.O_WRONLY == 0
	writable := flags&(defs.O_WRONLY|defs.O_RDWR) != 0
	f, err := s.VFS.Open(path, readable, writable, flags&defs.O_CREAT != 0, flags&defs.O_TRUNC != 0, flags&defs.O_DIRECTORY != 0)
	if err != 0 {
		return fail(err)
	}
	perms := 0
	if readable {
		perms |= fd.FD_READ
	}
	if writable {
		perms |= fd.FD_WRITE
	}
	if flags&defs.O_CLOEXEC != 0 {
		perms |= fd.FD_CLOEXEC
	}
	fdnum, ok := p.FDs.Install(&fd.Fd_t{File: f, Perms: perms})
	if !ok {
		f.Close()
		return fail(defs.EMFILE)
	}
	return okInt(int64(fdnum))
}

func (s *Syscalls) sysClose(p *proc.Process, fdnumA uint64) uint64 {
	fdnum := int(fdnumA)
	entry, ok := p.FDs.Close(fdnum)
	if !ok {
		return fail(defs.EBADF)
	}
	return errno0(entry.File.Close())
}

func (s *Syscalls) sysRead(p *proc.Process, t *task.Task, as *vm.AddressSpace, fdnumA, bufVA, count uint64) uint64 {
	entry, ok := p.FDs.Get(int(fdnumA))
	if !ok {
		return fail(defs.EBADF)
	}
	n, err := entry.File.Read(uio.NewUserBuf(as, uintptr(bufVA), int(count)), t)
	if err != 0 {
		return fail(err)
	}
	return okInt(int64(n))
}

func (s *Syscalls) sysWrite(p *proc.Process, t *task.Task, as *vm.AddressSpace, fdnumA, bufVA, count uint64) uint64 {
	entry, ok := p.FDs.Get(int(fdnumA))
	if !ok {
		return fail(defs.EBADF)
	}
	n, err := entry.File.Write(uio.NewUserBuf(as, uintptr(bufVA), int(count)), t)
	if err != 0 {
		return fail(err)
	}
	return okInt(int64(n))
}

// decodeIovec reads nvec Linux struct iovec entries ({void *base; size_t
// len}, 16 bytes each on riscv64) starting at iovVA.
func decodeIovec(as *vm.AddressSpace, iovVA uintptr, nvec int) ([]uio.IOVec, defs.Errno) {
	if nvec < 0 {
		return nil, defs.EINVAL
	}
	out := make([]uio.IOVec, 0, nvec)
	for i := 0; i < nvec; i++ {
		base := uintptr(i) * 16
		baseVA, err := as.ReadN(iovVA+base, 8)
		if err != nil {
			return nil, defs.EFAULT
		}
		length, err := as.ReadN(iovVA+base+8, 8)
		if err != nil {
			return nil, defs.EFAULT
		}
		out = append(out, uio.IOVec{VA: uintptr(baseVA), Len: length})
	}
	return out, 0
}

func (s *Syscalls) sysReadv(p *proc.Process, t *task.Task, as *vm.AddressSpace, fdnumA, iovVA uint64, nvec int) uint64 {
	entry, ok := p.FDs.Get(int(fdnumA))
	if !ok {
		return fail(defs.EBADF)
	}
	iovs, err := decodeIovec(as, uintptr(iovVA), nvec)
	if err != 0 {
		return fail(err)
	}
	n, err := entry.File.Read(uio.NewUserVec(as, iovs), t)
	if err != 0 {
		return fail(err)
	}
	return okInt(int64(n))
}

func (s *Syscalls) sysWritev(p *proc.Process, t *task.Task, as *vm.AddressSpace, fdnumA, iovVA uint64, nvec int) uint64 {
	entry, ok := p.FDs.Get(int(fdnumA))
	if !ok {
		return fail(defs.EBADF)
	}
	iovs, err := decodeIovec(as, uintptr(iovVA), nvec)
	if err != 0 {
		return fail(err)
	}
	n, err := entry.File.Write(uio.NewUserVec(as, iovs), t)
	if err != 0 {
		return fail(err)
	}
	return okInt(int64(n))
}

func (s *Syscalls) sysPread64(p *proc.Process, t *task.Task, as *vm.AddressSpace, fdnumA, bufVA, count uint64, off int64) uint64 {
	entry, ok := p.FDs.Get(int(fdnumA))
	if !ok {
		return fail(defs.EBADF)
	}
	cur, err := entry.File.Lseek(0, 1) // SEEK_CUR
	if err != 0 {
		return fail(err)
	}
	if _, err := entry.File.Lseek(off, 0); err != 0 { // SEEK_SET
		return fail(err)
	}
	n, rerr := entry.File.Read(uio.NewUserBuf(as, uintptr(bufVA), int(count)), t)
	entry.File.Lseek(cur, 0)
	if rerr != 0 {
		return fail(rerr)
	}
	return okInt(int64(n))
}

func (s *Syscalls) sysLseek(p *proc.Process, fdnumA uint64, off int64, whence int) uint64 {
	entry, ok := p.FDs.Get(int(fdnumA))
	if !ok {
		return fail(defs.EBADF)
	}
	n, err := entry.File.Lseek(off, whence)
	if err != 0 {
		return fail(err)
	}
	return okInt(n)
}

func (s *Syscalls) sysDup(p *proc.Process, fdnumA uint64) uint64 {
	entry, ok := p.FDs.Get(int(fdnumA))
	if !ok {
		return fail(defs.EBADF)
	}
	nf, err := fd.Copy(entry)
	if err != 0 {
		return fail(err)
	}
	nfdnum, ok := p.FDs.Install(nf)
	if !ok {
		return fail(defs.EMFILE)
	}
	return okInt(int64(nfdnum))
}

func (s *Syscalls) sysDup3(p *proc.Process, oldfdA, newfdA, flagsA uint64) uint64 {
	entry, ok := p.FDs.Get(int(oldfdA))
	if !ok {
		return fail(defs.EBADF)
	}
	nf, err := fd.Copy(entry)
	if err != 0 {
		return fail(err)
	}
	if flagsA&defs.O_CLOEXEC != 0 {
		nf.Perms |= fd.FD_CLOEXEC
	}
	old, ok := p.FDs.InstallAt(int(newfdA), nf)
	if !ok {
		return fail(defs.EBADF)
	}
	if old != nil {
		old.File.Close()
	}
	return okInt(int64(newfdA))
}

func (s *Syscalls) sysFcntl(p *proc.Process, fdnumA, cmdA, argA uint64) uint64 {
	const (
		fDUPFD     = 0
		fGETFD     = 1
		fSETFD     = 2
		fGETFL     = 3
		fSETFL     = 4
		fDUPFDCLOEXEC = 1030
	)
	entry, ok := p.FDs.Get(int(fdnumA))
	if !ok {
		return fail(defs.EBADF)
	}
	switch cmdA {
	case fDUPFD, fDUPFDCLOEXEC:
		nf, err := fd.Copy(entry)
		if err != 0 {
			return fail(err)
		}
		if cmdA == fDUPFDCLOEXEC {
			nf.Perms |= fd.FD_CLOEXEC
		}
		nfdnum, ok := p.FDs.Install(nf)
		if !ok {
			return fail(defs.EMFILE)
		}
		return okInt(int64(nfdnum))
	case fGETFD:
		if entry.Perms&fd.FD_CLOEXEC != 0 {
			return 1
		}
		return 0
	case fSETFD:
		if argA&1 != 0 {
			entry.Perms |= fd.FD_CLOEXEC
		} else {
			entry.Perms &^= fd.FD_CLOEXEC
		}
		return 0
	case fGETFL:
		return uint64(entry.Perms &^ fd.FD_CLOEXEC)
	case fSETFL:
		return 0
	}
	return fail(defs.EINVAL)
}

func (s *Syscalls) sysIoctl(p *proc.Process, fdnumA, reqA, argA uint64) uint64 {
	entry, ok := p.FDs.Get(int(fdnumA))
	if !ok {
		return fail(defs.EBADF)
	}
	ret, err := entry.File.Ioctl(uintptr(reqA), uintptr(argA))
	if err != 0 {
		return fail(err)
	}
	return uint64(ret)
}

func (s *Syscalls) sysPipe2(p *proc.Process, as *vm.AddressSpace, fdsVA uint64, flags int) uint64 {
	re, we := s.newPipe(flags&defs.O_NONBLOCK != 0)
	rnum, ok := p.FDs.Install(&fd.Fd_t{File: re, Perms: fd.FD_READ})
	if !ok {
		return fail(defs.EMFILE)
	}
	wnum, ok := p.FDs.Install(&fd.Fd_t{File: we, Perms: fd.FD_WRITE})
	if !ok {
		p.FDs.Close(rnum)
		return fail(defs.EMFILE)
	}
	as.WriteN(uintptr(fdsVA), 4, rnum)
	as.WriteN(uintptr(fdsVA)+4, 4, wnum)
	return 0
}

func (s *Syscalls) sysGetdents64(p *proc.Process, as *vm.AddressSpace, fdnumA, bufVA, count uint64) uint64 {
	entry, ok := p.FDs.Get(int(fdnumA))
	if !ok {
		return fail(defs.EBADF)
	}
	dir, ok := entry.File.(*fs.DirInode)
	if !ok {
		return fail(defs.ENOTDIR)
	}
	buf := make([]byte, count)
	n := dir.Getdents(buf)
	if err := as.CopyOut(uintptr(bufVA), buf[:n]); err != nil {
		return fail(defs.EFAULT)
	}
	return okInt(int64(n))
}

func (s *Syscalls) sysMkdirat(p *proc.Process, as *vm.AddressSpace, dirfd int, pathVA uintptr) uint64 {
	path, err := resolvePath(p, as, dirfd, pathVA)
	if err != 0 {
		return fail(err)
	}
	return errno0(s.VFS.Mkdir(path))
}

func (s *Syscalls) sysUnlinkat(p *proc.Process, as *vm.AddressSpace, dirfd int, pathVA uintptr) uint64 {
	path, err := resolvePath(p, as, dirfd, pathVA)
	if err != 0 {
		return fail(err)
	}
	return errno0(s.VFS.Unlink(path))
}

func (s *Syscalls) sysChdir(p *proc.Process, as *vm.AddressSpace, pathVA uint64) uint64 {
	raw, err := as.CopyInString(uintptr(pathVA), maxPathLen)
	if err != nil {
		return fail(defs.EFAULT)
	}
	p.Lock()
	target := p.Cwd.Canonicalpath(raw)
	p.Unlock()
	f, verr := s.VFS.Open(target, true, false, false, false, true)
	if verr != 0 {
		return fail(verr)
	}
	p.Lock()
	old := p.Cwd.Fd
	p.Cwd.Fd = &fd.Fd_t{File: f, Perms: fd.FD_READ}
	p.Cwd.Path = target
	p.Unlock()
	old.File.Close()
	return 0
}

func (s *Syscalls) sysGetcwd(p *proc.Process, as *vm.AddressSpace, bufVA, size uint64) uint64 {
	p.Lock()
	path := append(ustr.Ustr{}, p.Cwd.Path...)
	p.Unlock()
	b := append([]byte(path.String()), 0)
	if uint64(len(b)) > size {
		return fail(defs.ENAMETOOLONG)
	}
	if err := as.CopyOut(uintptr(bufVA), b); err != nil {
		return fail(defs.EFAULT)
	}
	return ok(bufVA)
}

func (s *Syscalls) sysStatfs(as *vm.AddressSpace, _, bufVA uint64) uint64 {
	sf := fs.FixedStatfs()
	b := make([]byte, 0, 64)
	for _, v := range []uint64{sf.Type, sf.Bsize, sf.Blocks, sf.Bfree, sf.Bavail, sf.Files, sf.Ffree, sf.NameLen} {
		var word [8]byte
		for i := range word {
			word[i] = byte(v >> (8 * i))
		}
		b = append(b, word[:]...)
	}
	if err := as.CopyOut(uintptr(bufVA), b); err != nil {
		return fail(defs.EFAULT)
	}
	return 0
}

func (s *Syscalls) statTo(as *vm.AddressSpace, f interface{ Stat(*fd.Kstat) defs.Errno }, bufVA uint64) uint64 {
	var st fd.Kstat
	if err := f.Stat(&st); err != 0 {
		return fail(err)
	}
	if err := as.CopyOut(uintptr(bufVA), st.Bytes()); err != nil {
		return fail(defs.EFAULT)
	}
	return 0
}

func (s *Syscalls) sysFstat(p *proc.Process, as *vm.AddressSpace, fdnumA, bufVA uint64) uint64 {
	entry, ok := p.FDs.Get(int(fdnumA))
	if !ok {
		return fail(defs.EBADF)
	}
	return s.statTo(as, entry.File, bufVA)
}

func (s *Syscalls) sysNewfstatat(p *proc.Process, as *vm.AddressSpace, dirfd int, pathVA, bufVA uint64, flags int) uint64 {
	path, err := resolvePath(p, as, dirfd, uintptr(pathVA))
	if err != 0 {
		return fail(err)
	}
	f, verr := s.VFS.Open(path, true, false, false, false, false)
	if verr != 0 {
		return fail(verr)
	}
	defer f.Close()
	return s.statTo(as, f, bufVA)
}

func (s *Syscalls) sysSendfile(p *proc.Process, t *task.Task, as *vm.AddressSpace, outfdA, infdA, offsetVA, count uint64) uint64 {
	outf, ok := p.FDs.Get(int(outfdA))
	if !ok {
		return fail(defs.EBADF)
	}
	inf, ok := p.FDs.Get(int(infdA))
	if !ok {
		return fail(defs.EBADF)
	}
	if offsetVA != 0 {
		off, err := as.ReadN(uintptr(offsetVA), 8)
		if err != nil {
			return fail(defs.EFAULT)
		}
		inf.File.Lseek(int64(off), 0)
	}
	buf := make([]byte, count)
	n, rerr := inf.File.Read(uio.NewFakeBuf(buf), t)
	if rerr != 0 {
		return fail(rerr)
	}
	wrote, werr := outf.File.Write(uio.NewFakeBuf(buf[:n]), t)
	if werr != 0 {
		return fail(werr)
	}
	if offsetVA != 0 {
		cur, _ := inf.File.Lseek(0, 1)
		as.WriteN(uintptr(offsetVA), 8, int(cur))
	}
	return okInt(int64(wrote))
}
