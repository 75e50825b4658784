package fd

import (
	"sync"

	"rvkernel/src/defs"
)

// Table is a process's file-descriptor table: dense by index (closed
// slots are nil, not removed, so outstanding indices stay stable),
// with a dynamic upper bound set by prlimit(RLIMIT_NOFILE) (spec
// §4.7's prlimit contract).
type Table struct {
	sync.Mutex
	fds []*Fd_t
	max int
}

// NewTable creates an empty table with the given RLIMIT_NOFILE bound.
func NewTable(max int) *Table {
	return &Table{max: max}
}

// Get returns the descriptor at fdnum, or ok=false if out of range or
// closed.
func (t *Table) Get(fdnum int) (*Fd_t, bool) {
	t.Lock()
	defer t.Unlock()
	if fdnum < 0 || fdnum >= len(t.fds) || t.fds[fdnum] == nil {
		return nil, false
	}
	return t.fds[fdnum], true
}

// Install places f at the lowest-numbered free slot, growing the table
// if necessary, and returns that index. ok is false if doing so would
// exceed the table's dynamic bound (-EMFILE at the call site).
func (t *Table) Install(f *Fd_t) (int, bool) {
	t.Lock()
	defer t.Unlock()
	for i, e := range t.fds {
		if e == nil {
			t.fds[i] = f
			return i, true
		}
	}
	if len(t.fds) >= t.max {
		return 0, false
	}
	t.fds = append(t.fds, f)
	return len(t.fds) - 1, true
}

// InstallAt places f at exactly fdnum (dup3/dup2 semantics), extending
// the table with nils as needed, and returns whatever was there before
// without closing it (closing it is the caller's job). ok is false if
// fdnum is beyond the table's dynamic bound.
func (t *Table) InstallAt(fdnum int, f *Fd_t) (*Fd_t, bool) {
	t.Lock()
	defer t.Unlock()
	if fdnum < 0 || fdnum >= t.max {
		return nil, false
	}
	for len(t.fds) <= fdnum {
		t.fds = append(t.fds, nil)
	}
	old := t.fds[fdnum]
	t.fds[fdnum] = f
	return old, true
}

// Close removes the descriptor at fdnum, returning it (nil, false if
// nothing was there).
func (t *Table) Close(fdnum int) (*Fd_t, bool) {
	t.Lock()
	defer t.Unlock()
	if fdnum < 0 || fdnum >= len(t.fds) || t.fds[fdnum] == nil {
		return nil, false
	}
	old := t.fds[fdnum]
	t.fds[fdnum] = nil
	return old, true
}

// SetMax updates the dynamic upper bound (prlimit RLIMIT_NOFILE).
func (t *Table) SetMax(n int) {
	t.Lock()
	defer t.Unlock()
	t.max = n
}

// Max returns the current dynamic upper bound.
func (t *Table) Max() int {
	t.Lock()
	defer t.Unlock()
	return t.max
}

// Len returns the current table length (highest-index+1, including
// closed-but-not-trimmed slots).
func (t *Table) Len() int {
	t.Lock()
	defer t.Unlock()
	return len(t.fds)
}

// CloseOnExec closes (and returns) every descriptor marked FD_CLOEXEC,
// for execve.
func (t *Table) CloseOnExec() []*Fd_t {
	t.Lock()
	defer t.Unlock()
	var closed []*Fd_t
	for i, e := range t.fds {
		if e != nil && e.Perms&FD_CLOEXEC != 0 {
			closed = append(closed, e)
			t.fds[i] = nil
		}
	}
	return closed
}

// Clone duplicates every live descriptor into a fresh table of the
// same bound (fork's FD-table-dup step, spec §4.4).
func (t *Table) Clone() (*Table, defs.Errno) {
	t.Lock()
	defer t.Unlock()
	nt := &Table{max: t.max, fds: make([]*Fd_t, len(t.fds))}
	for i, e := range t.fds {
		if e == nil {
			continue
		}
		nf, err := Copy(e)
		if err != 0 {
			return nil, err
		}
		nt.fds[i] = nf
	}
	return nt, 0
}

// Each iterates over every non-nil descriptor with its index.
func (t *Table) Each(fn func(fdnum int, f *Fd_t)) {
	t.Lock()
	defer t.Unlock()
	for i, e := range t.fds {
		if e != nil {
			fn(i, e)
		}
	}
}
