package elf

import (
	"bytes"
	stdelf "debug/elf"
	"encoding/binary"
	"testing"

	"rvkernel/src/defs"
)

// buildELF64 assembles a minimal statically-linked riscv64 ELF64 image
// by hand: one EHdr, one PT_LOAD PHdr, then the segment's file bytes.
// Real images come from a riscv64 toolchain; this is just enough of the
// on-disk format for debug/elf.NewFile to parse, the same shape
// loadELF's callers hand it.
func buildELF64(t *testing.T, entry, vaddr uint64, data []byte, memsz uint64, flags uint32, withInterp bool) []byte {
	t.Helper()

	const ehdrSize = 64
	const phdrSize = 56
	phnum := 1
	if withInterp {
		phnum = 2
	}

	var interp []byte
	if withInterp {
		interp = append([]byte("/lib/ld-musl-riscv64.so.1"), 0)
	}

	dataOff := uint64(ehdrSize + phnum*phdrSize)
	interpOff := dataOff
	segOff := dataOff
	if withInterp {
		segOff = dataOff + uint64(len(interp))
	}

	buf := new(bytes.Buffer)

	// e_ident
	buf.Write([]byte{0x7f, 'E', 'L', 'F', 2 /*ELFCLASS64*/, 1 /*ELFDATA2LSB*/, 1, 0})
	buf.Write(make([]byte, 8)) // padding

	write16 := func(v uint16) { binary.Write(buf, binary.LittleEndian, v) }
	write32 := func(v uint32) { binary.Write(buf, binary.LittleEndian, v) }
	write64 := func(v uint64) { binary.Write(buf, binary.LittleEndian, v) }

	write16(uint16(stdelf.ET_EXEC))
	write16(uint16(stdelf.EM_RISCV))
	write32(1)          // e_version
	write64(entry)       // e_entry
	write64(ehdrSize)    // e_phoff
	write64(0)           // e_shoff
	write32(0)           // e_flags
	write16(ehdrSize)    // e_ehsize
	write16(phdrSize)    // e_phentsize
	write16(uint16(phnum))
	write16(0) // e_shentsize
	write16(0) // e_shnum
	write16(0) // e_shstrndx

	if withInterp {
		write32(uint32(stdelf.PT_INTERP))
		write32(uint32(stdelf.PF_R))
		write64(interpOff)
		write64(0)
		write64(0)
		write64(uint64(len(interp)))
		write64(uint64(len(interp)))
		write64(1)
	}

	write32(uint32(stdelf.PT_LOAD))
	write32(flags)
	write64(segOff)
	write64(vaddr)
	write64(vaddr)
	write64(uint64(len(data)))
	write64(memsz)
	write64(0x1000)

	if withInterp {
		buf.Write(interp)
	}
	buf.Write(data)

	return buf.Bytes()
}

func TestLoadELFParsesLoadSegment(t *testing.T) {
	text := []byte{0x13, 0x00, 0x00, 0x00} // nop-shaped filler, contents don't matter
	img := buildELF64(t, 0x1000, 0x1000, text, 0x2000, uint32(stdelf.PF_R|stdelf.PF_X), false)

	out, err := loadELF(img)
	if err != nil {
		t.Fatalf("loadELF: %v", err)
	}
	if out.Entry != 0x1000 {
		t.Fatalf("Entry = %#x, want 0x1000", out.Entry)
	}
	if len(out.Segments) != 1 {
		t.Fatalf("len(Segments) = %d, want 1", len(out.Segments))
	}
	seg := out.Segments[0]
	if seg.VAddr != 0x1000 || seg.MemSize != 0x2000 {
		t.Fatalf("segment = {VAddr:%#x MemSize:%#x}, want {0x1000 0x2000}", seg.VAddr, seg.MemSize)
	}
	if seg.Perm != defs.PROT_READ|defs.PROT_EXEC {
		t.Fatalf("Perm = %#x, want R|X", seg.Perm)
	}
	if !bytes.Equal(seg.Data, text) {
		t.Fatalf("Data = %v, want %v", seg.Data, text)
	}
	if out.HeapStart != 0x3000 {
		t.Fatalf("HeapStart = %#x, want 0x3000 (page-rounded end of segment)", out.HeapStart)
	}
}

func TestLoadELFRejectsInterp(t *testing.T) {
	img := buildELF64(t, 0x1000, 0x1000, []byte{1, 2, 3}, 0x1000, uint32(stdelf.PF_R|stdelf.PF_X), true)
	if _, err := loadELF(img); err == nil {
		t.Fatalf("loadELF: want error for PT_INTERP binary, got nil")
	}
}

func TestLoadELFRejectsTruncatedImage(t *testing.T) {
	if _, err := loadELF([]byte{0x7f, 'E', 'L', 'F'}); err == nil {
		t.Fatalf("loadELF: want error for truncated image, got nil")
	}
}

func TestLoadELFAuxvCarriesEntryAndPagesize(t *testing.T) {
	img := buildELF64(t, 0x2000, 0x2000, []byte{9, 9}, 0x1000, uint32(stdelf.PF_R), false)
	out, err := loadELF(img)
	if err != nil {
		t.Fatalf("loadELF: %v", err)
	}
	found := map[int]uintptr{}
	for _, a := range out.Auxv {
		found[a.Type] = a.Value
	}
	if found[defs.AT_ENTRY] != 0x2000 {
		t.Fatalf("AT_ENTRY = %#x, want 0x2000", found[defs.AT_ENTRY])
	}
	if _, ok := found[defs.AT_PHENT]; !ok {
		t.Fatalf("AT_PHENT missing from auxv")
	}
}
