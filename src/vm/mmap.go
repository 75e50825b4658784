package vm

import (
	"rvkernel/src/mem"
	"rvkernel/src/pgtbl"
)

// MmapFlags mirrors the mmap(2) flag bits this kernel understands
// (spec §4.3's FIXED/ANON/SHARED/…).
type MmapFlags int

const (
	MAP_SHARED MmapFlags = 1 << iota
	MAP_PRIVATE
	MAP_FIXED
	MAP_ANON
)

// defaultMmapBase is the fixed high region new address spaces reserve
// for mmap growth (spec §4.3: "sets mmap base/end to a fixed high
// region"), chosen well below the trampoline/trap-context VAs so a
// growing mmap window never collides with them.
const defaultMmapBase = uintptr(0x40_0000_0000)

// InitMmapWindow sets the starting point insert_mmap advances when
// placement is not FIXED.
func (as *AddressSpace) InitMmapWindow() {
	as.Lock()
	defer as.Unlock()
	as.mmapEnd = defaultMmapBase
}

// InsertMmap implements spec §4.3's insert_mmap: for MAP_FIXED,
// resolves overlaps against every existing mmap-area with the four-case
// splitter (applied in a loop, since one FIXED insertion can cross
// several existing areas), then inserts the new area; for a non-FIXED
// request, places the new area at the current mmap_end and advances it.
// Grounded on original_source/kernel/src/mm/memory_set.rs's
// MemorySet::insert_framed_area overlap handling, generalized to the
// fixed four-case split spec.md distilled from it, since biscuit itself
// has no file-backed mmap to crib the overlap logic from.
func (as *AddressSpace) InsertMmap(base uintptr, length int, perm pgtbl.Perm, flags MmapFlags, backer FileBacker, offset int64) uintptr {
	as.Lock()
	defer as.Unlock()

	npages := pageRound(length) / mem.PGSIZE
	var start uintptr

	if flags&MAP_FIXED != 0 {
		start = pageAlign(base)
		newEnd := start + uintptr(npages)*mem.PGSIZE

		for {
			splitAgain := false
			for i, old := range as.mmaps {
				oldEnd := old.end()
				if newEnd <= old.start || start >= oldEnd {
					continue // no overlap
				}

				switch {
				case start <= old.start && newEnd >= oldEnd:
					// case 2: new fully covers old — drop old.
					as.unmapArea(old)
					as.mmaps = append(as.mmaps[:i], as.mmaps[i+1:]...)

				case start > old.start && newEnd < oldEnd:
					// case 3: new sits strictly inside old — split
					// into prefix and suffix, reinsert both.
					prefix := &area{start: old.start, npages: int((start - old.start) / mem.PGSIZE), perm: old.perm, kind: old.kind, backer: old.backer, foff: old.foff, shared: old.shared}
					suffixStart := newEnd
					suffix := &area{start: suffixStart, npages: int((oldEnd - suffixStart) / mem.PGSIZE), perm: old.perm, kind: old.kind, backer: old.backer, foff: old.foff + int64(suffixStart-old.start), shared: old.shared}
					as.unmapRange(old, start, newEnd)
					as.mmaps = append(as.mmaps[:i], as.mmaps[i+1:]...)
					as.mmaps = append(as.mmaps, prefix, suffix)

				case newEnd < oldEnd:
					// case 1: new covers a prefix of old (and starts
					// at/before old.start) — shrink old to the suffix.
					as.unmapRange(old, old.start, newEnd)
					old.npages = int((oldEnd - newEnd) / mem.PGSIZE)
					old.foff += int64(newEnd - old.start)
					old.start = newEnd

				default:
					// case 4: new covers a suffix of old — shrink old
					// to the prefix.
					as.unmapRange(old, start, oldEnd)
					old.npages = int((start - old.start) / mem.PGSIZE)
				}
				splitAgain = true
				break
			}
			if !splitAgain {
				break
			}
		}
	} else {
		start = as.mmapEnd
		as.mmapEnd += uintptr(npages) * mem.PGSIZE
	}

	kind := kindAnon
	if backer != nil {
		kind = kindFile
	}
	as.mmaps = append(as.mmaps, &area{
		start:  start,
		npages: npages,
		perm:   perm,
		kind:   kind,
		backer: backer,
		foff:   offset,
		shared: flags&MAP_SHARED != 0,
	})
	return start
}

// unmapRange tears down a's page-table leaves and frames within
// [lo, hi), a sub-range of a itself, used by the splitter to drop only
// the portion of an area the incoming mapping actually displaces.
func (as *AddressSpace) unmapRange(a *area, lo, hi uintptr) {
	for v := lo; v < hi; v += mem.PGSIZE {
		vpn := pgtbl.Vpn_t(v / mem.PGSIZE)
		if pte, ok := as.Table.Translate(vpn); ok {
			as.Table.Unmap(vpn)
			as.alloc.Dealloc(pgtbl.PteToPA(pte))
		}
	}
}

// RemoveMmap implements spec §4.3's remove_mmap: tears down the area
// whose start address matches base along with its page-table leaves.
func (as *AddressSpace) RemoveMmap(base uintptr) bool {
	return as.Munmap(base)
}

// SetPerm implements spec §4.3's set_perm: rewrites every valid leaf's
// flags in [start, start+length); returns false on the first absent
// leaf, matching mprotect(2)'s all-or-nothing semantics over a range
// that must already be entirely mapped.
func (as *AddressSpace) SetPerm(start uintptr, length int, perm pgtbl.Perm) bool {
	as.Lock()
	defer as.Unlock()
	va := pageAlign(start)
	end := va + uintptr(pageRound(length))
	for v := va; v < end; v += mem.PGSIZE {
		vpn := pgtbl.Vpn_t(v / mem.PGSIZE)
		pte, ok := as.Table.Translate(vpn)
		if !ok {
			return false
		}
		cow := pte & pgtbl.PTE_COW
		effective := perm
		if cow != 0 {
			effective = (perm &^ pgtbl.PTE_W) | pgtbl.PTE_COW
		}
		as.Table.SetFlags(vpn, effective)
	}
	if a, ok := as.lookup(va); ok {
		a.perm = perm
	}
	return true
}
