// Package defs holds the identifiers shared across the kernel: error
// codes, ids, and the handful of wire-format constants every other
// package needs without importing the packages that own them.
package defs

import "golang.org/x/sys/unix"

// Pid_t identifies a process.
type Pid_t int

// Tid_t identifies a task (thread).
type Tid_t int

// Errno is the kernel-wide error return type. Syscalls return the
// negation of an Errno value on failure (non-negative is success,
// negative is -errno), so Errno itself is always positive.
type Errno unix.Errno

func (e Errno) Error() string {
	return unix.Errno(e).Error()
}

// Only the errno values this kernel's syscall taxonomy actually
// returns are named here; anything else should use unix.Errno directly at
// the call site rather than growing this list speculatively.
const (
	EPERM        = Errno(unix.EPERM)
	ENOENT       = Errno(unix.ENOENT)
	ESRCH        = Errno(unix.ESRCH)
	EINTR        = Errno(unix.EINTR)
	EIO          = Errno(unix.EIO)
	EBADF        = Errno(unix.EBADF)
	EAGAIN       = Errno(unix.EAGAIN)
	ENOMEM       = Errno(unix.ENOMEM)
	EFAULT       = Errno(unix.EFAULT)
	EEXIST       = Errno(unix.EEXIST)
	ENOTDIR      = Errno(unix.ENOTDIR)
	EISDIR       = Errno(unix.EISDIR)
	EINVAL       = Errno(unix.EINVAL)
	EMFILE       = Errno(unix.EMFILE)
	ENOSPC       = Errno(unix.ENOSPC)
	ESPIPE       = Errno(unix.ESPIPE)
	ENAMETOOLONG = Errno(unix.ENAMETOOLONG)
	ENOSYS       = Errno(unix.ENOSYS)
	ENOTEMPTY    = Errno(unix.ENOTEMPTY)
	ECHILD       = Errno(unix.ECHILD)
	EPIPE        = Errno(unix.EPIPE)
	ETIMEDOUT    = Errno(unix.ETIMEDOUT)
	ENOEXEC      = Errno(unix.ENOEXEC)
	ENODEV       = Errno(unix.ENODEV)
	// ENOHEAP has no Linux equivalent; biscuit (res/bounds) uses it for
	// kernel-heap exhaustion distinct from user ENOMEM. Here it is an alias
	// of ENOMEM (same value, not distinguishable from it), and no code in
	// this kernel returns it.
	ENOHEAP = ENOMEM
)

// Exit codes the trap-return epilogue maps fatal signals to.
const (
	ExitSIGINT  = -2
	ExitSIGILL  = -4
	ExitSIGABRT = -6
	ExitSIGFPE  = -8
	ExitSIGSEGV = -11
)
