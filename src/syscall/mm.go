package syscall

import (
	"rvkernel/src/defs"
	"rvkernel/src/fat32"
	"rvkernel/src/fd"
	"rvkernel/src/pgtbl"
	"rvkernel/src/proc"
	"rvkernel/src/vm"
)

func (s *Syscalls) sysBrk(p *proc.Process, as *vm.AddressSpace, newEndA uint64) uint64 {
	n, err := as.Brk(uintptr(newEndA))
	if err != nil {
		return fail(defs.EINVAL)
	}
	return ok(uint64(n))
}

func (s *Syscalls) sysMunmap(p *proc.Process, as *vm.AddressSpace, addr, length uint64) uint64 {
	if !as.RemoveMmap(uintptr(addr)) {
		return fail(defs.EINVAL)
	}
	return 0
}

func (s *Syscalls) sysMmap(p *proc.Process, as *vm.AddressSpace, addr, length uint64, prot, flags, fdnum int, offset int64) uint64 {
	perm := pgtbl.PermFromProt(prot) | pgtbl.PTE_U

	var backer vm.FileBacker
	shared := flags&defs.MAP_SHARED != 0
	if flags&defs.MAP_ANON == 0 {
		entry, ok := p.FDs.Get(fdnum)
		if !ok {
			return fail(defs.EBADF)
		}
		fb, ok := backerOf(entry.File)
		if !ok {
			return fail(defs.ENODEV)
		}
		backer = fb
	}

	mflags := vm.MmapFlags(0)
	if shared {
		mflags |= vm.MAP_SHARED
	} else {
		mflags |= vm.MAP_PRIVATE
	}
	if flags&defs.MAP_FIXED != 0 {
		mflags |= vm.MAP_FIXED
	}
	if flags&defs.MAP_ANON != 0 {
		mflags |= vm.MAP_ANON
	}

	start := as.InsertMmap(uintptr(addr), int(length), perm, mflags, backer, offset)
	return ok(uint64(start))
}

func (s *Syscalls) sysMprotect(p *proc.Process, as *vm.AddressSpace, addr, length uint64, prot int) uint64 {
	perm := pgtbl.PermFromProt(prot) | pgtbl.PTE_U
	if !as.Mprotect(uintptr(addr), int(length), perm) {
		return fail(defs.EINVAL)
	}
	return 0
}

// backerOf resolves a file description to the vm.FileBacker its pages
// should be faulted in from. *fat32.Inode implements FileBacker
// directly; *fs.RegularInode (the fd.File wrapping one) doesn't itself
// expose ReadPage, only the accessor down to its underlying inode, so
// that indirection is unwrapped here rather than pushed into vm.
func backerOf(f fd.File) (vm.FileBacker, bool) {
	if fb, ok := f.(vm.FileBacker); ok {
		return fb, true
	}
	type backerAccessor interface {
		Backer() *fat32.Inode
	}
	if ba, ok := f.(backerAccessor); ok {
		return ba.Backer(), true
	}
	return nil, false
}
