package syscall

import "rvkernel/src/pipe"

// newPipe wraps pipe.New with this dispatcher's scheduler, giving the
// file-io handlers a one-line call site.
func (s *Syscalls) newPipe(nonblock bool) (*pipe.End, *pipe.End) {
	return pipe.New(s.Sched, nonblock)
}
