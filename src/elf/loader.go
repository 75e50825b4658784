package elf

import (
	"bytes"
	stdelf "debug/elf"
	"fmt"

	"rvkernel/src/defs"
	"rvkernel/src/mem"
)

// DefaultLoader is the reference elf.Loader: it parses a real ELF64
// riscv64 image with debug/elf (the same package chentry.go uses to
// read and rewrite biscuit's kernel image) and walks its program
// headers the way original_source/kernel/src/mm/memory_set.rs's
// MemorySet::from_elf does, producing the Segment list and auxv
// from_elf builds. Statically-linked executables only: a PT_INTERP
// header means the binary needs a dynamic linker, and this kernel has
// no VFS lookup wired into the elf package to go find one, so such
// images are rejected rather than silently run without their
// interpreter.
type DefaultLoader struct{}

// NewDefaultLoader returns the reference ELF64 loader.
func NewDefaultLoader() *DefaultLoader { return &DefaultLoader{} }

func (l *DefaultLoader) Load(image []byte) (Image, error) {
	return loadELF(image)
}

func loadELF(image []byte) (Image, error) {
	ef, err := stdelf.NewFile(bytes.NewReader(image))
	if err != nil {
		return Image{}, fmt.Errorf("elf: %w", err)
	}
	defer ef.Close()

	if ef.Class != stdelf.ELFCLASS64 {
		return Image{}, fmt.Errorf("elf: not a 64-bit image")
	}
	if ef.Data != stdelf.ELFDATA2LSB {
		return Image{}, fmt.Errorf("elf: not little-endian")
	}
	if ef.Machine != stdelf.EM_RISCV {
		return Image{}, fmt.Errorf("elf: not riscv")
	}
	if ef.Type != stdelf.ET_EXEC && ef.Type != stdelf.ET_DYN {
		return Image{}, fmt.Errorf("elf: not executable")
	}

	img := Image{Entry: uintptr(ef.Entry)}

	var interpPath string
	var maxEnd uintptr
	for _, prog := range ef.Progs {
		switch prog.Type {
		case stdelf.PT_LOAD:
			seg, end, perr := loadSegment(prog)
			if perr != nil {
				return Image{}, perr
			}
			img.Segments = append(img.Segments, seg)
			if end > maxEnd {
				maxEnd = end
			}
		case stdelf.PT_INTERP:
			raw := make([]byte, prog.Filesz)
			if _, rerr := prog.ReadAt(raw, 0); rerr != nil {
				return Image{}, fmt.Errorf("elf: reading PT_INTERP: %w", rerr)
			}
			interpPath = string(bytes.TrimRight(raw, "\x00"))
		case stdelf.PT_PHDR:
			img.Phdr = uintptr(prog.Vaddr)
		}
	}
	if interpPath != "" {
		return Image{}, fmt.Errorf("elf: dynamically linked binaries (PT_INTERP %q) are not supported", interpPath)
	}
	if len(img.Segments) == 0 {
		return Image{}, fmt.Errorf("elf: no PT_LOAD segments")
	}
	img.HeapStart = pageRoundUp(maxEnd)

	const elf64PhentSize = 56 // sizeof(Elf64_Phdr)
	img.Auxv = []Aux{
		{Type: defs.AT_PHENT, Value: elf64PhentSize},
		{Type: defs.AT_PHNUM, Value: uintptr(len(ef.Progs))},
		{Type: defs.AT_PAGESZ, Value: mem.PGSIZE},
		{Type: defs.AT_FLAGS, Value: 0},
		{Type: defs.AT_ENTRY, Value: uintptr(ef.Entry)},
		{Type: defs.AT_BASE, Value: 0},
		{Type: defs.AT_UID, Value: 0},
		{Type: defs.AT_EUID, Value: 0},
		{Type: defs.AT_GID, Value: 0},
		{Type: defs.AT_EGID, Value: 0},
		{Type: defs.AT_HWCAP, Value: 0},
		{Type: defs.AT_CLKTCK, Value: 100},
		{Type: defs.AT_SECURE, Value: 0},
	}
	if img.Phdr != 0 {
		img.Auxv = append(img.Auxv, Aux{Type: defs.AT_PHDR, Value: img.Phdr})
	}
	return img, nil
}

// loadSegment reads a PT_LOAD program header's file contents and
// converts its flags into the PROT_* bitmask Segment.Perm expects, the
// ph_flags.is_read()/is_write()/is_execute() checks from_elf performs.
func loadSegment(prog *stdelf.Prog) (Segment, uintptr, error) {
	data := make([]byte, prog.Filesz)
	if prog.Filesz > 0 {
		if _, err := prog.ReadAt(data, 0); err != nil {
			return Segment{}, 0, fmt.Errorf("elf: reading PT_LOAD: %w", err)
		}
	}
	var perm uint8
	if prog.Flags&stdelf.PF_R != 0 {
		perm |= defs.PROT_READ
	}
	if prog.Flags&stdelf.PF_W != 0 {
		perm |= defs.PROT_WRITE
	}
	if prog.Flags&stdelf.PF_X != 0 {
		perm |= defs.PROT_EXEC
	}
	vaddr := uintptr(prog.Vaddr)
	seg := Segment{
		VAddr:   vaddr,
		MemSize: int(prog.Memsz),
		Perm:    perm,
		Data:    data,
	}
	return seg, vaddr + uintptr(prog.Memsz), nil
}

func pageRoundUp(v uintptr) uintptr {
	return (v + mem.PGSIZE - 1) &^ (mem.PGSIZE - 1)
}
