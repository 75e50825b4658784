package fs

import (
	"bytes"
	"fmt"

	"github.com/google/pprof/profile"

	"rvkernel/src/defs"
	"rvkernel/src/fd"
	"rvkernel/src/uio"
)

// ProfSample is one task's accumulated CPU time, the shape NewProfFile's
// caller (cmd/kernel, walking proc.Registry.EachTask) feeds in.
type ProfSample struct {
	Pid    int64
	Tid    int64
	UserNs int64
	SysNs  int64
}

// NewProfFile backs /dev/prof (defs.D_PROF): reading it renders a
// gzipped pprof profile.Profile protobuf built from whatever samples()
// returns at the time of the first read, one profile.Sample per task
// with its user/sys nanosecond counts as sample values and a single
// synthetic location named after its pid/tid (there are no real
// instruction-pointer frames to report — this kernel never executes
// user code itself per spec §1 — so each task gets a single named leaf
// frame, the way an aggregate-only profiler would report counters it
// can't attribute to a callstack). The rendered bytes are frozen on
// first read and drained across subsequent reads, matching how a procfs
// seq_file snapshot behaves under `cat`.
func NewProfFile(samples func() []ProfSample) fd.File {
	var buf []byte
	built := false
	return &fakeFile{
		name: "prof", readable: true, writable: false,
		readFn: func(dst uio.I) (int, defs.Errno) {
			if !built {
				rendered, err := renderProfile(samples())
				if err != nil {
					return 0, defs.EIO
				}
				buf = rendered
				built = true
			}
			n := dst.Remain()
			if n > len(buf) {
				n = len(buf)
			}
			chunk := buf[:n]
			buf = buf[n:]
			wrote, werr := dst.Uiowrite(chunk)
			if werr != nil {
				return wrote, defs.EFAULT
			}
			return wrote, 0
		},
	}
}

func renderProfile(samples []ProfSample) ([]byte, error) {
	prof := &profile.Profile{
		SampleType: []*profile.ValueType{
			{Type: "user", Unit: "nanoseconds"},
			{Type: "sys", Unit: "nanoseconds"},
		},
		PeriodType: &profile.ValueType{Type: "cpu", Unit: "nanoseconds"},
		Period:     1,
	}
	for i, s := range samples {
		id := uint64(i + 1)
		fn := &profile.Function{ID: id, Name: fmt.Sprintf("pid=%d tid=%d", s.Pid, s.Tid)}
		loc := &profile.Location{ID: id, Line: []profile.Line{{Function: fn}}}
		prof.Function = append(prof.Function, fn)
		prof.Location = append(prof.Location, loc)
		prof.Sample = append(prof.Sample, &profile.Sample{
			Location: []*profile.Location{loc},
			Value:    []int64{s.UserNs, s.SysNs},
		})
	}
	var out bytes.Buffer
	if err := prof.Write(&out); err != nil {
		return nil, err
	}
	return out.Bytes(), nil
}
