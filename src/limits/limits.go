// Package limits tracks system-wide resource limits and kernel feature
// flags, adapted from biscuit's limits/limits.go Syslimit_t/Sysatomic_t
// pattern.
package limits

import "sync/atomic"

// Atomic is a resource counter that can be taken from and given back to
// atomically, used for limits that every process draws from (open pipes,
// futexes, mmap'd file pages, ...).
type Atomic int64

// Taken tries to decrement the counter by n; it returns false (and leaves
// the counter unchanged) if that would drive it negative.
func (a *Atomic) Taken(n uint) bool {
	if atomic.AddInt64((*int64)(a), -int64(n)) >= 0 {
		return true
	}
	atomic.AddInt64((*int64)(a), int64(n))
	return false
}

// Given increases the counter by n.
func (a *Atomic) Given(n uint) {
	atomic.AddInt64((*int64)(a), int64(n))
}

// Take and Give are the single-unit convenience forms.
func (a *Atomic) Take() bool { return a.Taken(1) }
func (a *Atomic) Give()      { a.Given(1) }

// Config bundles the system-wide limits and feature flags constructed
// once at boot and threaded explicitly into the components that need
// them, rather than reached for as package-level globals.
type Config struct {
	MaxOpenFiles int // default per-process FD table bound (prlimit RLIMIT_NOFILE)
	MaxProcs     int
	MaxFutexes   Atomic
	MaxPipes     Atomic
	MaxVnodes    int
	MaxBlocks    int

	// MmapCOW enables copy-on-write for heap/mmap regions on fork instead
	// of the eager-copy baseline. Defaults to false.
	MmapCOW bool
}

// Default returns the standard limit set.
func Default() *Config {
	return &Config{
		MaxOpenFiles: 1024,
		MaxProcs:     1 << 14,
		MaxFutexes:   1024,
		MaxPipes:     1 << 13,
		MaxVnodes:    1 << 15,
		MaxBlocks:    1 << 17,
		MmapCOW:      false,
	}
}
