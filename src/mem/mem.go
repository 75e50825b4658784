// Package mem owns the universe of physical page frames. It is adapted
// from biscuit's mem/mem.go Physmem_t, simplified from that file's
// per-CPU free lists (an SMP optimization biscuit needs and this kernel
// does not, since every hart but 0 stays parked) down to a single
// cursor-plus-free-list-stack allocator.
package mem

import (
	"sync"

	"rvkernel/src/diag"
)

// PGSHIFT/PGSIZE describe the RISC-V 4 KiB page.
const (
	PGSHIFT = 12
	PGSIZE  = 1 << PGSHIFT
)

// Pa_t is a physical address; Ppn_t is a physical page number (Pa_t >>
// PGSHIFT).
type Pa_t uintptr
type Ppn_t uint64

// Pg_t is the byte contents of one physical page.
type Pg_t [PGSIZE]uint8

func pa2ppn(pa Pa_t) Ppn_t { return Ppn_t(pa >> PGSHIFT) }
func ppn2pa(p Ppn_t) Pa_t  { return Pa_t(p) << PGSHIFT }

// frame_t is the per-frame bookkeeping record: a reference count used
// for CoW sharing, plus the free-list link.
type frame_t struct {
	refcnt int32
	nexti  int32 // index of next free frame, -1 if none
}

// Allocator owns the universe of free physical frames, backed by a
// low-water cursor plus a free-list stack of recycled frames. The
// refcount table mirrors biscuit's Pgs slice.
type Allocator struct {
	sync.Mutex
	frames []frame_t
	pages  []Pg_t
	base   Ppn_t // ppn of frames[0]
	cursor int32 // next never-yet-allocated index
	freeh  int32 // head of free-list stack, -1 if empty
}

// NewAllocator reserves n physical frames starting at basePPN, the way
// biscuit's Phys_init reserves a fixed pool at boot.
func NewAllocator(basePPN Ppn_t, n int) *Allocator {
	a := &Allocator{
		frames: make([]frame_t, n),
		pages:  make([]Pg_t, n),
		base:   basePPN,
		cursor: 0,
		freeh:  -1,
	}
	for i := range a.frames {
		a.frames[i].nexti = -1
	}
	diag.Log.WithFields(diag.Fields{"frames": n, "mb": n * PGSIZE >> 20}).Info("mem: reserved frame pool")
	return a
}

// Handle is an owned reference to a physical frame. Its zero value is not
// valid; Handle values must come from Alloc. Dropping the last Handle to
// a frame (via Handle.Drop) recycles it.
type Handle struct {
	a  *Allocator
	pa Pa_t
}

// PA returns the physical address backing this handle.
func (h Handle) PA() Pa_t { return h.pa }

// Page returns the byte contents backing this handle for direct access
// (the kernel's equivalent of biscuit's direct map, simplified: this
// kernel is a userspace-hosted model of the hardware, so "physical
// memory" is simply Go-heap-backed rather than requiring a dmap).
func (h Handle) Page() *Pg_t {
	idx := int(pa2ppn(h.pa) - h.a.base)
	return &h.a.pages[idx]
}

// PageAt returns the byte contents of the frame at pa, for walkers (the
// pgtbl package) that hold only a bare Pa_t read out of a parent PTE
// rather than a Handle.
func (a *Allocator) PageAt(pa Pa_t) *Pg_t {
	return &a.pages[a.idxOf(pa)]
}

func (a *Allocator) idxOf(pa Pa_t) int {
	idx := int(pa2ppn(pa) - a.base)
	if idx < 0 || idx >= len(a.frames) {
		panic("mem: address out of range")
	}
	return idx
}

// alloc pops a frame off the free list, falling back to the cursor; it
// returns false if no frames remain. Callers treat out-of-memory as
// fatal (see Alloc's doc) rather than threading an error struct through.
func (a *Allocator) alloc() (int, bool) {
	a.Lock()
	defer a.Unlock()
	if a.freeh >= 0 {
		idx := a.freeh
		a.freeh = a.frames[idx].nexti
		a.frames[idx].refcnt = 1
		return int(idx), true
	}
	if int(a.cursor) >= len(a.frames) {
		return 0, false
	}
	idx := a.cursor
	a.cursor++
	a.frames[idx].refcnt = 1
	return int(idx), true
}

// Alloc allocates a zero-filled frame. ok is false on out-of-memory, so
// every caller is expected to check ok and panic/propagate rather than
// dereference a zero Handle.
func (a *Allocator) Alloc() (Handle, bool) {
	idx, ok := a.alloc()
	if !ok {
		return Handle{}, false
	}
	h := Handle{a: a, pa: ppn2pa(a.base) + Pa_t(idx)*PGSIZE}
	for i := range a.pages[idx] {
		a.pages[idx][i] = 0
	}
	return h, true
}

// AllocNoZero allocates a frame without zero-filling it, for callers
// about to overwrite every byte anyway (the CoW-fault fast path).
func (a *Allocator) AllocNoZero() (Handle, bool) {
	idx, ok := a.alloc()
	if !ok {
		return Handle{}, false
	}
	return Handle{a: a, pa: ppn2pa(a.base) + Pa_t(idx)*PGSIZE}, true
}

// Refcnt returns the current reference count of the frame at pa.
func (a *Allocator) Refcnt(pa Pa_t) int {
	a.Lock()
	defer a.Unlock()
	return int(a.frames[a.idxOf(pa)].refcnt)
}

// Refup increments the reference count of the frame at pa, for CoW
// sharing during fork.
func (a *Allocator) Refup(pa Pa_t) {
	a.Lock()
	defer a.Unlock()
	idx := a.idxOf(pa)
	a.frames[idx].refcnt++
	diag.Assertf(a.frames[idx].refcnt > 0, "mem: refup overflow")
}

// Dealloc decrements the reference count of the frame at pa and, once it
// reaches zero, returns it to the free list. It panics if called on an
// unallocated frame (refcnt already 0).
func (a *Allocator) Dealloc(pa Pa_t) {
	a.Lock()
	defer a.Unlock()
	idx := a.idxOf(pa)
	diag.Assertf(a.frames[idx].refcnt > 0, "mem: dealloc of unallocated frame")
	a.frames[idx].refcnt--
	if a.frames[idx].refcnt == 0 {
		a.frames[idx].nexti = a.freeh
		a.freeh = int32(idx)
	}
}

// Drop is Dealloc via the Handle, provided so callers that threaded a
// Handle through (rather than a bare Pa_t) have a single release path.
func (h Handle) Drop() {
	h.a.Dealloc(h.pa)
}

// zeroPageHolder backs the shared zero page: a refcounted-to-infinity
// (never deallocated) frame used as the backing for never-yet-written
// anonymous pages, mirroring biscuit's global Zeropg.
type zeroPageHolder struct {
	pa Pa_t
	pg Pg_t
}

var zeroHolder *zeroPageHolder

// InitZeroPage installs the shared zero page for this allocator. Called
// once at boot after NewAllocator.
func (a *Allocator) InitZeroPage() Pa_t {
	h, ok := a.Alloc()
	diag.Assertf(ok, "mem: cannot reserve zero page")
	zeroHolder = &zeroPageHolder{pa: h.pa}
	return h.pa
}

// ZeroPA returns the physical address of the shared zero page.
func (a *Allocator) ZeroPA() Pa_t {
	diag.Assertf(zeroHolder != nil, "mem: zero page not initialized")
	return zeroHolder.pa
}
