package defs

// Open flags bitfield. Values match Linux RISC-V exactly so a
// statically-linked userspace binary needs no translation.
const (
	O_RDONLY    = 0
	O_WRONLY    = 0x1
	O_RDWR      = 0x2
	O_CREAT     = 0x40
	O_EXCL      = 0x80
	O_TRUNC     = 0x200
	O_APPEND    = 0x400
	O_NONBLOCK  = 0x800
	O_DIRECTORY = 0x200000
	O_CLOEXEC   = 0x80000
)

// MMap flags and prot bits. Prot bits are shifted left by one to
// land on the PTE permission bits (R=2,W=4,X=8) the page table actually
// uses; pgtbl.PermFromProt performs that shift.
const (
	MAP_FILE    = 0
	MAP_SHARED  = 0x1
	MAP_PRIVATE = 0x2
	MAP_FIXED   = 0x10
	MAP_ANON    = 0x20

	PROT_NONE  = 0
	PROT_READ  = 0x1
	PROT_WRITE = 0x2
	PROT_EXEC  = 0x4
)

// Futex operations (spec §4.9); FUTEX_PRIVATE_FLAG is accepted and
// ignored since this kernel has no cross-process shared futex path to
// distinguish it from.
const (
	FUTEX_WAIT          = 0
	FUTEX_WAKE          = 1
	FUTEX_REQUEUE        = 3
	FUTEX_PRIVATE_FLAG  = 128
	FUTEX_CMD_MASK      = 0xf
)

// Clone flags — the minimum subset this kernel actually observes.
const (
	CLONE_VM             = 0x00000100
	CLONE_FS             = 0x00000200
	CLONE_FILES          = 0x00000400
	CLONE_SIGHAND        = 0x00000800
	CLONE_VFORK          = 0x00004000
	CLONE_THREAD         = 0x00010000
	CLONE_SETTLS         = 0x00080000
	CLONE_PARENT_SETTID  = 0x00100000
	CLONE_CHILD_CLEARTID = 0x00200000
	CLONE_CHILD_SETTID   = 0x01000000
)

// Signal numbers 1..34.
const (
	SIGHUP    = 1
	SIGINT    = 2
	SIGQUIT   = 3
	SIGILL    = 4
	SIGTRAP   = 5
	SIGABRT   = 6
	SIGBUS    = 7
	SIGFPE    = 8
	SIGKILL   = 9
	SIGUSR1   = 10
	SIGSEGV   = 11
	SIGUSR2   = 12
	SIGPIPE   = 13
	SIGALRM   = 14
	SIGTERM   = 15
	SIGSTKFLT = 16
	SIGCHLD   = 17
	SIGCONT   = 18
	SIGSTOP   = 19
	SIGTSTP   = 20
	SIGTTIN   = 21
	SIGTTOU   = 22
	SIGURG    = 23
	SIGXCPU   = 24
	SIGXFSZ   = 25
	SIGVTALRM = 26
	SIGPROF   = 27
	SIGWINCH  = 28
	SIGIO     = 29
	SIGPWR    = 30
	SIGSYS    = 31
	SIGRTMIN  = 32
	SIGMAX    = 34

	SIG_DFL = 0
	SIG_IGN = 1

	SA_SIGINFO = 0x4
)

// ITIMER_REAL is the only interval-timer kind this kernel implements.
const ITIMER_REAL = 0

// Syscall numbers supported by the dispatcher. Named by the
// Linux RISC-V syscall table entry they mirror.
const (
	SYS_GETCWD          = 17
	SYS_DUP             = 23
	SYS_DUP3            = 24
	SYS_FCNTL           = 25
	SYS_IOCTL           = 29
	SYS_MKDIRAT         = 34
	SYS_UNLINKAT        = 35
	SYS_UMOUNT2         = 39
	SYS_MOUNT           = 40
	SYS_STATFS          = 43
	SYS_CHDIR           = 49
	SYS_OPENAT          = 56
	SYS_CLOSE           = 57
	SYS_PIPE2           = 59
	SYS_GETDENTS64      = 61
	SYS_LSEEK           = 62
	SYS_READ            = 63
	SYS_WRITE           = 64
	SYS_READV           = 65
	SYS_WRITEV          = 66
	SYS_PREAD64         = 67
	SYS_SENDFILE        = 71
	SYS_PSELECT6        = 72
	SYS_READLINKAT      = 78
	SYS_NEWFSTATAT      = 79
	SYS_FSTAT           = 80
	SYS_UTIMENSAT       = 88
	SYS_EXIT            = 93
	SYS_EXIT_GROUP      = 94
	SYS_SET_TID_ADDRESS = 96
	SYS_FUTEX           = 98
	SYS_SET_ROBUST_LIST = 99
	SYS_NANOSLEEP       = 101
	SYS_SETITIMER       = 103
	SYS_CLOCK_GETTIME   = 113
	SYS_SYSLOG          = 116
	SYS_SCHED_YIELD     = 124
	SYS_KILL            = 129
	SYS_TKILL           = 130
	SYS_RT_SIGACTION    = 134
	SYS_RT_SIGPROCMASK  = 135
	SYS_RT_SIGRETURN    = 139
	SYS_TIMES           = 153
	SYS_SETPGID         = 154
	SYS_GETPGID         = 155
	SYS_UNAME           = 160
	SYS_GETRUSAGE       = 165
	SYS_UMASK           = 166
	SYS_PRCTL           = 167
	SYS_GETTIMEOFDAY    = 169
	SYS_GETPID          = 172
	SYS_GETPPID         = 173
	SYS_GETUID          = 174
	SYS_GETEUID         = 175
	SYS_GETGID          = 176
	SYS_GETEGID         = 177
	SYS_GETTID          = 178
	SYS_SYSINFO         = 179
	SYS_SOCKET          = 198
	SYS_BRK             = 214
	SYS_MUNMAP          = 215
	SYS_CLONE           = 220
	SYS_EXECVE          = 221
	SYS_MMAP            = 222
	SYS_MPROTECT        = 226
	SYS_WAIT4           = 260
	SYS_PRLIMIT64       = 261

	// Non-standard extensions this kernel's test harness relies on.
	SYS_SHUTDOWN = 501
	SYS_TEST_END = 65535
)

// Auxv entry types.
const (
	AT_NULL     = 0
	AT_PHDR     = 3
	AT_PHENT    = 4
	AT_PHNUM    = 5
	AT_PAGESZ   = 6
	AT_BASE     = 7
	AT_FLAGS    = 8
	AT_ENTRY    = 9
	AT_UID      = 11
	AT_EUID     = 12
	AT_GID      = 13
	AT_EGID     = 14
	AT_PLATFORM = 15
	AT_HWCAP    = 16
	AT_CLKTCK   = 17
	AT_SECURE   = 23
	AT_RANDOM   = 25
	AT_EXECFN   = 31
)
