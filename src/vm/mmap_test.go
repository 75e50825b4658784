package vm

import (
	"testing"

	"rvkernel/src/mem"
	"rvkernel/src/pgtbl"
)

func newTestAS(t *testing.T) *AddressSpace {
	t.Helper()
	alloc := mem.NewAllocator(0x1000, 4096)
	return New(alloc)
}

// TestInsertMmapNonFixedAdvancesWindow checks spec §4.3's non-FIXED
// placement: successive insertions land back to back starting at
// mmap_end, each advancing it by its own length.
func TestInsertMmapNonFixedAdvancesWindow(t *testing.T) {
	as := newTestAS(t)
	as.InitMmapWindow()

	base1 := as.InsertMmap(0, 2*mem.PGSIZE, pgtbl.PTE_U|pgtbl.PTE_R, MAP_ANON|MAP_PRIVATE, nil, 0)
	base2 := as.InsertMmap(0, mem.PGSIZE, pgtbl.PTE_U|pgtbl.PTE_R, MAP_ANON|MAP_PRIVATE, nil, 0)

	if base2 != base1+2*mem.PGSIZE {
		t.Fatalf("second mapping at %#x, want %#x", base2, base1+2*mem.PGSIZE)
	}
	if len(as.mmaps) != 2 {
		t.Fatalf("expected 2 mmap areas, got %d", len(as.mmaps))
	}
}

// TestInsertMmapFixedCase2DropsOld covers the "new fully covers old"
// splitter case.
func TestInsertMmapFixedCase2DropsOld(t *testing.T) {
	as := newTestAS(t)
	as.InitMmapWindow()

	old := uintptr(0x20_0000_0000)
	as.InsertMmap(old, 2*mem.PGSIZE, pgtbl.PTE_U|pgtbl.PTE_R, MAP_FIXED|MAP_ANON, nil, 0)
	as.InsertMmap(old, 4*mem.PGSIZE, pgtbl.PTE_U|pgtbl.PTE_R|pgtbl.PTE_W, MAP_FIXED|MAP_ANON, nil, 0)

	if len(as.mmaps) != 1 {
		t.Fatalf("expected old area dropped, got %d areas", len(as.mmaps))
	}
	if as.mmaps[0].npages != 4 {
		t.Fatalf("expected replacement area to span 4 pages, got %d", as.mmaps[0].npages)
	}
}

// TestInsertMmapFixedCase3SplitsOld covers the "new sits strictly
// inside old" splitter case: old should become a prefix and a suffix
// area straddling the new mapping.
func TestInsertMmapFixedCase3SplitsOld(t *testing.T) {
	as := newTestAS(t)
	as.InitMmapWindow()

	old := uintptr(0x20_0000_0000)
	as.InsertMmap(old, 6*mem.PGSIZE, pgtbl.PTE_U|pgtbl.PTE_R, MAP_FIXED|MAP_ANON, nil, 0)
	as.InsertMmap(old+2*mem.PGSIZE, 2*mem.PGSIZE, pgtbl.PTE_U|pgtbl.PTE_R|pgtbl.PTE_W, MAP_FIXED|MAP_ANON, nil, 0)

	if len(as.mmaps) != 3 {
		t.Fatalf("expected 3 areas (prefix, new, suffix), got %d", len(as.mmaps))
	}
	total := 0
	for _, a := range as.mmaps {
		total += a.npages
	}
	if total != 6 {
		t.Fatalf("expected total page coverage to still be 6, got %d", total)
	}
}

// TestInsertMmapFixedLoopAcrossMultipleAreas checks SPEC_FULL's
// documented requirement that the splitter applies in a loop: a single
// FIXED insertion spanning three previously separate areas must
// resolve all three overlaps in one call.
func TestInsertMmapFixedLoopAcrossMultipleAreas(t *testing.T) {
	as := newTestAS(t)
	as.InitMmapWindow()

	base := uintptr(0x20_0000_0000)
	as.InsertMmap(base, mem.PGSIZE, pgtbl.PTE_U|pgtbl.PTE_R, MAP_FIXED|MAP_ANON, nil, 0)
	as.InsertMmap(base+mem.PGSIZE, mem.PGSIZE, pgtbl.PTE_U|pgtbl.PTE_R, MAP_FIXED|MAP_ANON, nil, 0)
	as.InsertMmap(base+2*mem.PGSIZE, mem.PGSIZE, pgtbl.PTE_U|pgtbl.PTE_R, MAP_FIXED|MAP_ANON, nil, 0)

	as.InsertMmap(base, 3*mem.PGSIZE, pgtbl.PTE_U|pgtbl.PTE_R|pgtbl.PTE_W, MAP_FIXED|MAP_ANON, nil, 0)

	if len(as.mmaps) != 1 {
		t.Fatalf("expected single merged area after covering all three, got %d", len(as.mmaps))
	}
	if as.mmaps[0].npages != 3 {
		t.Fatalf("expected 3-page area, got %d", as.mmaps[0].npages)
	}
}
