// Package pipe implements anonymous pipes: a fixed-size ring buffer
// shared by a read end and a write end, each an fd.File. Grounded on
// circbuf/circbuf.go's wraparound Copyin/Copyout shape (adapted from its
// userio_i-and-page-allocator plumbing down to a plain byte array, since
// a pipe's buffer is always anonymous memory, never a shared physical
// page needing a refcount) and original_source/kernel/src/fs/pipe.rs's
// PipeRingBuffer for the end-closure bookkeeping a circular buffer alone
// doesn't need: read(2) on an empty pipe must distinguish "blocked,
// writer still open" from "EOF, every writer closed", and write(2) must
// raise EPIPE once every reader is gone. original_source tracks that
// with Weak<Pipe> + upgrade(); Go has no idiomatic equivalent warranting
// a GC weak pointer here (the pipe's own Close is the only path that can
// ever make an end go away), so both ends instead share explicit closed
// flags on the ring buffer itself.
package pipe

import (
	"sync"

	"rvkernel/src/defs"
	"rvkernel/src/fd"
	"rvkernel/src/sched"
	"rvkernel/src/task"
	"rvkernel/src/uio"
)

// ringSize matches original_source's RING_BUFFER_SIZE; biscuit instead
// sizes circbufs to a page (PGSIZE), but a pipe's buffer here is never
// page-mapped so there is no reason to tie it to the page size.
const ringSize = 4096

type ring struct {
	sync.Mutex
	buf             [ringSize]byte
	head, tail      int
	full            bool
	readClosed      bool
	writeClosed     bool
	readWaiters     []*task.Task
	writeWaiters    []*task.Task
}

func (r *ring) empty() bool { return !r.full && r.head == r.tail }

func (r *ring) availRead() int {
	if r.empty() {
		return 0
	}
	if r.tail > r.head {
		return r.tail - r.head
	}
	return ringSize - r.head + r.tail
}

func (r *ring) availWrite() int { return ringSize - r.availRead() }

func (r *ring) writeByte(b byte) {
	r.buf[r.tail] = b
	r.tail = (r.tail + 1) % ringSize
	if r.tail == r.head {
		r.full = true
	}
}

func (r *ring) readByte() byte {
	b := r.buf[r.head]
	r.head = (r.head + 1) % ringSize
	r.full = false
	return b
}

// End is one side of a pipe (read end or write end), each a distinct
// fd.File capability over the same shared ring.
type End struct {
	fd.Base
	r         *ring
	sched     *sched.Scheduler
	readable  bool
	writable  bool
	nonblock  bool
	refs      int
	mu        sync.Mutex
}

// New creates a connected pipe, returning its read and write ends
// (pipe(2)/pipe2(2)'s two descriptors).
func New(sc *sched.Scheduler, nonblock bool) (*End, *End) {
	r := &ring{}
	re := &End{r: r, sched: sc, readable: true, nonblock: nonblock, refs: 1}
	we := &End{r: r, sched: sc, writable: true, nonblock: nonblock, refs: 1}
	return re, we
}

func (e *End) Readable() bool { return e.readable }
func (e *End) Writable() bool { return e.writable }

// Read implements fd.File.Read for the read end: drains whatever is
// available, blocking only when the ring is empty and the write end is
// still open (mirrors pipe.rs's read loop exactly, including its
// nonblocking/EOF short-circuit).
func (e *End) Read(dst uio.I, self *task.Task) (int, defs.Errno) {
	if !e.readable {
		return 0, defs.EINVAL
	}
	total := 0
	for {
		e.r.Lock()
		avail := e.r.availRead()
		if avail == 0 {
			writerGone := e.r.writeClosed
			if writerGone || e.nonblock {
				e.r.Unlock()
				return total, 0
			}
			e.r.readWaiters = append(e.r.readWaiters, self)
			e.r.Unlock()
			e.sched.Block(self)
			continue
		}

		hi := e.r.head
		ti := e.r.tail
		var chunk []byte
		if ti > hi {
			chunk = e.r.buf[hi:ti]
		} else {
			chunk = e.r.buf[hi:]
		}
		n, err := dst.Uiowrite(chunk)
		e.r.head = (e.r.head + n) % ringSize
		if n > 0 {
			e.r.full = false
		}
		waiters := e.r.writeWaiters
		e.r.writeWaiters = nil
		e.r.Unlock()

		for _, wt := range waiters {
			e.sched.Unblock(wt)
		}

		total += n
		if err != nil {
			return total, defs.EFAULT
		}
		if n < len(chunk) || dst.Remain() == 0 {
			return total, 0
		}
	}
}

// Write implements fd.File.Write for the write end: mirrors pipe.rs's
// write loop. Once every reader has closed it stops: it returns the
// count already written by this call if that is non-zero, and EPIPE
// only when nothing was written, so a short write is followed by EPIPE
// on the next call.
func (e *End) Write(src uio.I, self *task.Task) (int, defs.Errno) {
	if !e.writable {
		return 0, defs.EINVAL
	}
	total := 0
	for src.Remain() > 0 {
		e.r.Lock()
		if e.r.readClosed {
			e.r.Unlock()
			if total > 0 {
				return total, 0
			}
			return 0, defs.EPIPE
		}
		avail := e.r.availWrite()
		if avail == 0 {
			if e.nonblock {
				e.r.Unlock()
				if total > 0 {
					return total, 0
				}
				return 0, defs.EAGAIN
			}
			e.r.writeWaiters = append(e.r.writeWaiters, self)
			e.r.Unlock()
			e.sched.Block(self)
			continue
		}

		n := avail
		if n > src.Remain() {
			n = src.Remain()
		}
		tmp := make([]byte, n)
		got, err := src.Uioread(tmp)
		for i := 0; i < got; i++ {
			e.r.writeByte(tmp[i])
		}
		waiters := e.r.readWaiters
		e.r.readWaiters = nil
		e.r.Unlock()

		for _, rt := range waiters {
			e.sched.Unblock(rt)
		}

		total += got
		if err != nil {
			return total, defs.EFAULT
		}
		if got < n {
			break
		}
	}
	return total, 0
}

func (e *End) ReadBlocked() bool {
	e.r.Lock()
	defer e.r.Unlock()
	return e.readable && e.r.availRead() == 0 && !e.r.writeClosed
}

func (e *End) WriteBlocked() bool {
	e.r.Lock()
	defer e.r.Unlock()
	return e.writable && e.r.availWrite() == 0 && !e.r.readClosed
}

// Reopen bumps this end's refcount, for dup/fork (spec §3's Abstract
// file capability; a pipe end is shared, not copied, on dup).
func (e *End) Reopen() defs.Errno {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.refs++
	return 0
}

// Close drops a reference; the last close on either side marks that
// side permanently closed and wakes anyone blocked on the other side so
// they can observe EOF/EPIPE.
func (e *End) Close() defs.Errno {
	e.mu.Lock()
	e.refs--
	last := e.refs == 0
	e.mu.Unlock()
	if !last {
		return 0
	}

	e.r.Lock()
	var woken []*task.Task
	if e.readable {
		e.r.readClosed = true
		woken = e.r.writeWaiters
		e.r.writeWaiters = nil
	} else {
		e.r.writeClosed = true
		woken = e.r.readWaiters
		e.r.readWaiters = nil
	}
	e.r.Unlock()

	for _, t := range woken {
		e.sched.Unblock(t)
	}
	return 0
}

func (e *End) Stat(st *fd.Kstat) defs.Errno {
	st.Mode = fd.S_IFIFO | 0600
	return 0
}
