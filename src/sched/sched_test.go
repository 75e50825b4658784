package sched

import (
	"testing"
	"time"

	"rvkernel/src/task"
)

func TestEnqueueMarksTaskReady(t *testing.T) {
	sc := New()
	tk := &task.Task{Tid: 1}

	sc.Enqueue(tk)
	if !sc.IsReady(tk.Tid) {
		t.Fatalf("task %d not ready after Enqueue", tk.Tid)
	}
	if tk.Status != task.Ready {
		t.Fatalf("Status = %v, want Ready", tk.Status)
	}
}

func TestBlockParksUntilUnblock(t *testing.T) {
	sc := New()
	tk := &task.Task{Tid: 1}
	sc.Enqueue(tk)
	tk.Status = task.Running

	released := make(chan struct{})
	go func() {
		sc.Block(tk)
		close(released)
	}()

	// Give Block a chance to register tk as blocked before we unblock it.
	for i := 0; i < 1000 && !sc.IsBlocked(tk.Tid); i++ {
		time.Sleep(time.Millisecond)
	}
	if !sc.IsBlocked(tk.Tid) {
		t.Fatalf("task %d never reached the block queue", tk.Tid)
	}

	sc.Unblock(tk)

	select {
	case <-released:
	case <-time.After(time.Second):
		t.Fatalf("Block did not return after Unblock")
	}
	if sc.IsBlocked(tk.Tid) {
		t.Fatalf("task %d still in block queue after Unblock", tk.Tid)
	}
	if !sc.IsReady(tk.Tid) {
		t.Fatalf("task %d not back in ready queue after Unblock", tk.Tid)
	}
}

func TestReadyLenTracksEnqueuedTasks(t *testing.T) {
	sc := New()
	if sc.ReadyLen() != 0 {
		t.Fatalf("ReadyLen = %d, want 0 for a fresh scheduler", sc.ReadyLen())
	}
	sc.Enqueue(&task.Task{Tid: 1})
	sc.Enqueue(&task.Task{Tid: 2})
	if sc.ReadyLen() != 2 {
		t.Fatalf("ReadyLen = %d, want 2", sc.ReadyLen())
	}
}
