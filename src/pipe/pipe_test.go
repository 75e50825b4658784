package pipe

import (
	"testing"

	"rvkernel/src/defs"
	"rvkernel/src/sched"
	"rvkernel/src/task"
	"rvkernel/src/uio"
)

func TestPipeWriteThenRead(t *testing.T) {
	sc := sched.New()
	re, we := New(sc, false)

	self := &task.Task{Tid: 1}
	src := uio.NewFakeBuf([]byte("hello"))
	n, err := we.Write(src, self)
	if err != 0 || n != 5 {
		t.Fatalf("write: got (%d,%d), want (5,0)", n, err)
	}

	dst := make([]byte, 16)
	fb := uio.NewFakeBuf(dst)
	n, err = re.Read(fb, self)
	if err != 0 || n != 5 {
		t.Fatalf("read: got (%d,%d), want (5,0)", n, err)
	}
	if string(dst[:5]) != "hello" {
		t.Fatalf("read back %q, want %q", dst[:5], "hello")
	}
}

func TestPipeReadAfterWriterCloseReturnsEOF(t *testing.T) {
	sc := sched.New()
	re, we := New(sc, false)
	we.Close()

	self := &task.Task{Tid: 1}
	dst := make([]byte, 4)
	fb := uio.NewFakeBuf(dst)
	n, err := re.Read(fb, self)
	if err != 0 || n != 0 {
		t.Fatalf("read after writer close: got (%d,%d), want (0,0) for EOF", n, err)
	}
}

func TestPipeWriteAfterReaderCloseReturnsEPIPE(t *testing.T) {
	sc := sched.New()
	re, we := New(sc, false)
	re.Close()

	self := &task.Task{Tid: 1}
	src := uio.NewFakeBuf([]byte("x"))
	_, err := we.Write(src, self)
	if err != defs.EPIPE {
		t.Fatalf("write after reader close: got err %v, want EPIPE", err)
	}
}

func TestPipeNonblockWriteFullReturnsEAGAIN(t *testing.T) {
	sc := sched.New()
	re, we := New(sc, true)
	_ = re

	self := &task.Task{Tid: 1}
	big := make([]byte, ringSize)
	src := uio.NewFakeBuf(big)
	n, err := we.Write(src, self)
	if err != 0 || n != ringSize {
		t.Fatalf("fill: got (%d,%d), want (%d,0)", n, err, ringSize)
	}

	src2 := uio.NewFakeBuf([]byte("y"))
	n, err = we.Write(src2, self)
	if err != defs.EAGAIN || n != 0 {
		t.Fatalf("write to full nonblocking pipe: got (%d,%d), want (0,EAGAIN)", n, err)
	}
}
