// Package elf defines the contract between the kernel and the ELF
// loader: the interface the loader must satisfy and the data it must
// hand back to build a process's initial address space. loader.go's
// DefaultLoader is the implementation boot wires in; it parses ELF64
// riscv64 images with the standard library's debug/elf. Grounded on
// original_source/kernel/src/mm/memory_set.rs's MemorySet::from_elf,
// translated from its PT_LOAD/PT_INTERP walk into the segment list and
// auxv this kernel's vm.AddressSpace.MapEager and exec path consume.
package elf

import (
	"rvkernel/src/pgtbl"
	"rvkernel/src/vm"
)

// Aux is one entry of the auxiliary vector handed to the dynamic linker
// or libc startup code on the initial user stack.
type Aux struct {
	Type  int
	Value uintptr
}

// Segment describes one PT_LOAD program header already resolved to
// bytes: a loadable region of the image starting at a virtual address,
// whose first len(Data) bytes come from the file and whose remaining
// MemSize-len(Data) bytes (the bss tail) must be zero.
type Segment struct {
	VAddr   uintptr
	MemSize int
	Perm    uint8 // bitwise OR of defs.PROT_READ/WRITE/EXEC
	Data    []byte
}

// Image is everything the loader extracts from an ELF file that the
// kernel needs to finish setting up a process: its loadable segments,
// where the heap should start (immediately past the last segment), the
// entry point, the auxv, and — when the binary carries a PT_INTERP —
// the interpreter's own image, already relocated by the loader to
// InterpBase. Mirrors from_elf's base_va/entry_point override: when
// Interp is non-nil the process entry PC is Interp.Entry rather than
// Entry, and AT_BASE carries InterpBase instead of zero.
type Image struct {
	Segments   []Segment
	Entry      uintptr
	HeapStart  uintptr
	Phdr       uintptr
	Auxv       []Aux
	Interp     *Image
	InterpBase uintptr
}

// EntryPC returns the PC execution should actually start at: the
// interpreter's entry point when one is present, else Entry.
func (img *Image) EntryPC() uintptr {
	if img.Interp != nil {
		return img.Interp.Entry
	}
	return img.Entry
}

// Loader parses an ELF64 image and produces an Image. The trap/syscall
// layer's execve implementation calls this, then installs each Segment
// into a fresh vm.AddressSpace via MapEager.
type Loader interface {
	Load(image []byte) (Image, error)
}

// Install maps every segment of img into as using vm.AddressSpace's
// eager-mapping path, the step from_elf's MemorySet::push performs
// inline. Kept here (rather than inlined at every call site) since both
// proc's spawn and exec paths need it.
func Install(as *vm.AddressSpace, img Image) {
	for _, seg := range img.Segments {
		perm := pgtbl.PermFromProt(int(seg.Perm)) | pgtbl.PTE_U
		as.MapEager(seg.VAddr, seg.Data, seg.MemSize, perm)
	}
	if img.Interp != nil {
		Install(as, *img.Interp)
	}
}
