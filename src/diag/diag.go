// Package diag is the kernel's structured logger and crash-dump helper.
// It upgrades biscuit's pervasive fmt.Printf diagnostics (mem/mem.go's
// Phys_init banner, fs/blk.go's bdev_debug prints) to leveled, field
// tagged logging, and folds in biscuit's caller/caller.go distinct-caller
// stack dump as the crash-dump helper invariant panics run through.
package diag

import (
	"fmt"
	"runtime"

	"github.com/sirupsen/logrus"
)

// Log is the kernel-wide structured logger. It is not behind a lock:
// logrus.Logger is safe for concurrent use, and nothing on a trap-time
// fast path calls into it (see SPEC_FULL.md §5) so there is no risk of
// reentering an allocation from interrupt context.
var Log = logrus.New()

func init() {
	Log.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
}

// Fields is a shorthand for logrus.Fields, used at call sites that tag a
// log line with pid/tid/va context.
type Fields = logrus.Fields

// Assertf panics with a formatted message after logging it with a stack
// trace, for kernel invariant violations (the "XXXPANIC" spots biscuit
// marks throughout mem/mem.go and vm/as.go).
func Assertf(cond bool, format string, args ...interface{}) {
	if cond {
		return
	}
	msg := fmt.Sprintf(format, args...)
	Log.WithField("stack", callstack(2)).Error(msg)
	panic(msg)
}

// callstack renders the call stack starting at the given skip depth,
// adapted from biscuit's caller.Callerdump.
func callstack(skip int) string {
	s := ""
	for i := skip; ; i++ {
		_, f, l, ok := runtime.Caller(i)
		if !ok {
			break
		}
		if s == "" {
			s = fmt.Sprintf("%s:%d", f, l)
		} else {
			s += fmt.Sprintf(" <- %s:%d", f, l)
		}
	}
	return s
}
