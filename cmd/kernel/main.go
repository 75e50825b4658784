// Command kernel is the thin boot-wiring collaborator spec §1 leaves
// external: it constructs every subsystem (frame allocator, page
// tables, scheduler, futex manager, FAT32-over-virtio façade, console,
// process registry, trap dispatcher, syscall table), loads an init
// binary into the reference filesystem, and spawns it as pid 1. The
// actual bootstrap that clears BSS and brings up hart 0, and the
// trap-entry assembly that calls into trap.Dispatcher.Handle on every
// scause, remain out of scope (spec §1's explicit non-goals) — on real
// hardware or under QEMU those pieces would drive Kernel.Trap.Handle
// per trap; this binary only proves the wiring boots to a runnable
// init task and exits once it has, the way biscuit's own kernel/main.go
// prints its boot banner before dropping into the scheduler loop.
package main

import (
	"flag"
	"fmt"
	"os"

	"github.com/google/uuid"

	"rvkernel/src/console"
	"rvkernel/src/defs"
	"rvkernel/src/diag"
	"rvkernel/src/elf"
	"rvkernel/src/fat32"
	"rvkernel/src/fd"
	"rvkernel/src/fs"
	"rvkernel/src/futex"
	"rvkernel/src/limits"
	"rvkernel/src/mem"
	"rvkernel/src/proc"
	"rvkernel/src/sched"
	"rvkernel/src/signal"
	"rvkernel/src/syscall"
	"rvkernel/src/task"
	"rvkernel/src/trap"
	"rvkernel/src/virtio"
	"rvkernel/src/vm"
)

// Kernel bundles every subsystem booted for one kernel instance, built
// once at startup and threaded explicitly between components rather
// than reached for as package-level globals (spec §1's wiring
// convention, carried by every constructor in src/proc, src/syscall,
// src/trap).
type Kernel struct {
	Alloc    *mem.Allocator
	Sched    *sched.Scheduler
	Futex    *futex.Manager
	FAT      *fat32.FS
	Console  *console.MemConsole
	VFS      *fs.VFS
	Registry *proc.Registry
	Syscalls *syscall.Syscalls
	Trap     *trap.Dispatcher
	BootID   string
}

// bootConfig collects the tunables a real board port would instead read
// from a device tree; here they are just flags.
type bootConfig struct {
	memPages  int
	diskPages int
	limits    *limits.Config
}

// One page (mem.PGSIZE) worth of placeholder object code for the shared
// trampoline page. A real board port embeds the assembled mode-switch/
// sigreturn stubs here (e.g. via go:embed of a linked .bin); this
// kernel core never assembles RISC-V instructions itself, so boot
// wiring supplies a zero-filled placeholder page instead — Deliver and
// Sigreturn are exercised directly from Go by src/signal's tests, not
// by actually entering this page.
var trampolineCode = make([]byte, mem.PGSIZE)

// Boot constructs a Kernel with an empty reference filesystem, a
// console, and every collaborator SPEC_FULL.md §2's package-to-component
// table names, but does not yet spawn any process.
func Boot(cfg bootConfig) *Kernel {
	alloc := mem.NewAllocator(0, cfg.memPages)
	alloc.InitZeroPage()
	sc := sched.New()
	fx := futex.New(sc)
	disk := virtio.NewMemDisk(cfg.diskPages)
	fatfs := fat32.New(disk)
	cons := console.NewMemConsole()
	vfs := fs.New(fatfs)
	reg := proc.NewRegistry(alloc, sc, cfg.limits, trampolineCode)
	bootID := uuid.New().String()

	vfs.Populate(bootID)
	vfs.RegisterDevice("/dev/null", fs.NewDevNull)
	vfs.RegisterDevice("/dev/zero", fs.NewDevZero)
	vfs.RegisterDevice("/dev/console", func() fd.File { return fs.NewConsoleFile(cons) })
	vfs.RegisterDevice("/dev/prof", func() fd.File {
		return fs.NewProfFile(func() []fs.ProfSample { return profileSamples(reg) })
	})

	loader := elf.NewDefaultLoader()
	sys := syscall.New(reg, vfs, fx, sc, loader)

	disp := &trap.Dispatcher{
		Syscall:      sys.Dispatch,
		SigActions:   sigActionsFor,
		RearmTimer:   func() {},
		DrainTimers:  func() {},
		Yield:        sc.Yield,
		ExternalIRQ:  func() {},
		TrampolineVA: vm.SigretTrampolineVA,
	}

	return &Kernel{
		Alloc: alloc, Sched: sc, Futex: fx, FAT: fatfs, Console: cons,
		VFS: vfs, Registry: reg, Syscalls: sys, Trap: disp, BootID: bootID,
	}
}

// sigActionsFor recovers t's owning process's signal-action table, the
// same Owner type assertion src/syscall's owner() helper performs (task
// deliberately doesn't import proc to avoid a cycle).
func sigActionsFor(t *task.Task) *signal.Table {
	p, ok := t.Owner.(*proc.Process)
	diag.Assertf(ok, "kernel: task %d owner is not *proc.Process", t.Tid)
	return p.Sig
}

// profileSamples walks every live task for the /dev/prof device,
// reporting accumulated user/sys CPU time (spec §1 DOMAIN STACK's pprof
// wiring).
func profileSamples(reg *proc.Registry) []fs.ProfSample {
	var out []fs.ProfSample
	reg.EachTask(func(t *task.Task) {
		p, ok := t.Owner.(*proc.Process)
		if !ok {
			return
		}
		t.Acct.Lock()
		user, sys := t.Acct.Userns, t.Acct.Sysns
		t.Acct.Unlock()
		out = append(out, fs.ProfSample{Pid: int64(p.Pid), Tid: int64(t.Tid), UserNs: user, SysNs: sys})
	})
	return out
}

// SpawnInit loads the ELF image at hostPath from the host filesystem,
// copies it into the reference FAT32 filesystem as /init, and spawns it
// as pid 1 with its stdio wired to the console.
func (k *Kernel) SpawnInit(hostPath string) (*proc.Process, *task.Task, error) {
	raw, err := os.ReadFile(hostPath)
	if err != nil {
		return nil, nil, fmt.Errorf("kernel: reading init image: %w", err)
	}

	n, ferr := k.FAT.Create([]string{"init"}, fat32.DT_REG)
	if ferr != 0 {
		return nil, nil, fmt.Errorf("kernel: creating /init: errno %d", ferr)
	}
	n.WriteAt(raw, 0)

	img, lerr := k.Syscalls.Loader.Load(raw)
	if lerr != nil {
		return nil, nil, fmt.Errorf("kernel: loading init image: %w", lerr)
	}

	stdio := fs.NewConsoleFile(k.Console)
	p, t := k.Registry.SpawnFromELF(img, stdio, stdio, stdio)
	k.Sched.Enqueue(t)
	return p, t, nil
}

func main() {
	memPages := flag.Int("mem-pages", 1<<16, "physical frame pool size, in pages")
	diskPages := flag.Int("disk-pages", 1<<12, "reference virtio disk size, in pages")
	initPath := flag.String("init", "", "host path to the init ELF binary")
	flag.Parse()

	if *initPath == "" {
		diag.Log.Error("kernel: -init is required")
		os.Exit(1)
	}

	k := Boot(bootConfig{memPages: *memPages, diskPages: *diskPages, limits: limits.Default()})
	diag.Log.WithFields(diag.Fields{"boot_id": k.BootID, "mem_pages": *memPages}).Info("kernel: booted")

	p, t, err := k.SpawnInit(*initPath)
	if err != nil {
		diag.Log.WithField("error", err).Error("kernel: failed to spawn init")
		os.Exit(1)
	}
	diag.Log.WithFields(diag.Fields{"pid": p.Pid, "tid": t.Tid}).Info("kernel: init spawned")

	// Entering the scheduler loop proper — repeatedly decoding scause and
	// calling k.Trap.Handle — is the trap-entry assembly's job (spec §1).
	// Without it there is nothing left for this process to do but report
	// success and exit; a real board port's entry code lives here instead.
	_ = defs.D_FIRST
}
