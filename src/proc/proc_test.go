package proc

import (
	"testing"

	"rvkernel/src/elf"
	"rvkernel/src/fs"
	"rvkernel/src/limits"
	"rvkernel/src/mem"
	"rvkernel/src/sched"
	"rvkernel/src/task"
)

func newTestRegistry(t *testing.T) *Registry {
	t.Helper()
	alloc := mem.NewAllocator(0, 1<<12)
	sc := sched.New()
	return NewRegistry(alloc, sc, limits.Default(), make([]byte, mem.PGSIZE))
}

func blankImage() elf.Image {
	return elf.Image{Entry: 0x1000, HeapStart: 0x2000}
}

func TestSpawnFromELFRegistersProcessAndTask(t *testing.T) {
	r := newTestRegistry(t)
	stdio := fs.NewDevNull()

	p, tsk := r.SpawnFromELF(blankImage(), stdio, stdio, stdio)
	if p.Pid != 1 {
		t.Fatalf("Pid = %d, want 1", p.Pid)
	}
	if got, ok := r.Lookup(p.Pid); !ok || got != p {
		t.Fatalf("Lookup(%d) did not return the spawned process", p.Pid)
	}
	if got, ok := r.LookupTask(tsk.Tid); !ok || got != tsk {
		t.Fatalf("LookupTask(%d) did not return the spawned task", tsk.Tid)
	}
}

func TestEachTaskVisitsEveryRegisteredTask(t *testing.T) {
	r := newTestRegistry(t)
	stdio := fs.NewDevNull()

	_, t1 := r.SpawnFromELF(blankImage(), stdio, stdio, stdio)
	_, t2 := r.SpawnFromELF(blankImage(), stdio, stdio, stdio)

	seen := map[*task.Task]bool{}
	r.EachTask(func(tk *task.Task) { seen[tk] = true })

	if !seen[t1] || !seen[t2] {
		t.Fatalf("EachTask missed a registered task: seen=%v", seen)
	}
	if len(seen) != 2 {
		t.Fatalf("EachTask visited %d tasks, want 2", len(seen))
	}
}

func TestForkClonesAddressSpaceAndRegistersChild(t *testing.T) {
	r := newTestRegistry(t)
	stdio := fs.NewDevNull()
	parent, parentTask := r.SpawnFromELF(blankImage(), stdio, stdio, stdio)

	child, childTask, errno := r.Fork(parent, parentTask)
	if errno != 0 {
		t.Fatalf("Fork: errno %d", errno)
	}
	if child.Pid == parent.Pid {
		t.Fatalf("child Pid == parent Pid (%d)", child.Pid)
	}
	if childTask.Tid == parentTask.Tid {
		t.Fatalf("child Tid == parent Tid (%d)", childTask.Tid)
	}
	if got, ok := r.Lookup(child.Pid); !ok || got != child {
		t.Fatalf("Lookup(%d) did not return the forked child", child.Pid)
	}
}
