// Package fd implements the file-descriptor sum type of spec §3: a
// File capability (readable/writable, gather-scatter read/write,
// optional ioctl and blocked-predicates) plus the descriptor table and
// working-directory tracker every process owns. Grounded on
// fd/fd.go's Fd_t/Cwd_t (kept close: Copy mirrors Copyfd, Cwd_t mirrors
// Cwd_t's Fullpath/Canonicalpath delegation to bpath.Canonicalize).
package fd

import (
	"sync"

	"rvkernel/src/bpath"
	"rvkernel/src/defs"
	"rvkernel/src/task"
	"rvkernel/src/ustr"
	"rvkernel/src/uio"
)

// File descriptor permission bits, matching biscuit's fd/fd.go exactly.
const (
	FD_READ    = 0x1
	FD_WRITE   = 0x2
	FD_CLOEXEC = 0x4
)

// File is the capability every open descriptor ultimately wraps,
// whether it backs a FAT32 inode, a pipe end, or a fake device (spec
// §3's RegularInode/Abstract/Fake sum). Ioctl and the *Blocked
// predicates are the "optional" members spec §3 calls out: types that
// don't need them embed Base for sane defaults instead of implementing
// them.
type File interface {
	Readable() bool
	Writable() bool
	// Read/Write take the calling task so a blocking capability (a
	// pipe end, a tty) has something to hand the scheduler's
	// Block/Unblock; self is unused by capabilities that never block
	// (regular files, /dev/null).
	Read(dst uio.I, self *task.Task) (int, defs.Errno)
	Write(src uio.I, self *task.Task) (int, defs.Errno)
	Close() defs.Errno
	Reopen() defs.Errno
	Lseek(off int64, whence int) (int64, defs.Errno)
	Stat(st *Kstat) defs.Errno
	Ioctl(req uintptr, arg uintptr) (uintptr, defs.Errno)
	ReadBlocked() bool
	WriteBlocked() bool
}

// Base supplies the optional File methods with the spec's documented
// default behavior (§7: "Unsupported: silent 0 for stubs"), except
// Lseek, which reports ESPIPE (not seekable), so a concrete file type
// only overrides what it actually needs.
type Base struct{}

func (Base) Ioctl(req, arg uintptr) (uintptr, defs.Errno) { return 0, 0 }
func (Base) ReadBlocked() bool                               { return false }
func (Base) WriteBlocked() bool                              { return false }
func (Base) Lseek(off int64, whence int) (int64, defs.Errno) {
	return 0, defs.ESPIPE
}

// Fd_t is one entry of a process's descriptor table: a capability plus
// the per-descriptor permission/cloexec bits (which are per-fd-slot,
// not per-file — two dup'd descriptors can have different FD_CLOEXEC).
type Fd_t struct {
	File  File
	Perms int
}

// Copy duplicates a descriptor for dup/dup3/fork, bumping the
// underlying capability's reference count via Reopen. Mirrors
// fd/fd.go's Copyfd.
func Copy(f *Fd_t) (*Fd_t, defs.Errno) {
	nf := &Fd_t{}
	*nf = *f
	if err := nf.File.Reopen(); err != 0 {
		return nil, err
	}
	return nf, 0
}

// Cwd_t tracks a process's current working directory: the open
// directory descriptor plus its canonical path string. Mirrors
// fd/fd.go's Cwd_t exactly.
type Cwd_t struct {
	sync.Mutex
	Fd   *Fd_t
	Path ustr.Ustr
}

// Fullpath joins cwd with p if p is not already absolute.
func (cwd *Cwd_t) Fullpath(p ustr.Ustr) ustr.Ustr {
	if p.IsAbsolute() {
		return p
	}
	full := append(append(ustr.Ustr{}, cwd.Path...), '/')
	return append(full, p...)
}

// Canonicalpath resolves path components relative to cwd.
func (cwd *Cwd_t) Canonicalpath(p ustr.Ustr) ustr.Ustr {
	return bpath.Canonicalize(cwd.Fullpath(p))
}

// MkRootCwd constructs a Cwd_t rooted at "/".
func MkRootCwd(f *Fd_t) *Cwd_t {
	return &Cwd_t{Fd: f, Path: ustr.MkUstrRoot()}
}
