// Package profiling backs the --profile-* CLI flags: pprof CPU and
// heap capture plus runtime execution traces, written to files the
// caller names.
package profiling

import (
	"os"
	"runtime"
	"runtime/pprof"
	"runtime/trace"

	"github.com/pampax/pampax/internal/errors"
)

// Profiler owns the open profile files for one process run.
type Profiler struct {
	cpuFile   *os.File
	traceFile *os.File
}

func NewProfiler() *Profiler {
	return &Profiler{}
}

// StartCPU begins CPU sampling into path. The returned stop function
// flushes and closes the file; profiles are unreadable without it.
func (p *Profiler) StartCPU(path string) (stop func(), err error) {
	const op = "profiling.StartCPU"

	f, err := os.Create(path)
	if err != nil {
		return nil, errors.Wrap(errors.KindInternal, op, err)
	}
	if err := pprof.StartCPUProfile(f); err != nil {
		_ = f.Close()
		return nil, errors.Wrap(errors.KindInternal, op, err)
	}
	p.cpuFile = f

	return func() {
		pprof.StopCPUProfile()
		_ = p.cpuFile.Close()
		p.cpuFile = nil
	}, nil
}

// StartTrace begins an execution trace into path. The returned stop
// function ends the trace and closes the file.
func (p *Profiler) StartTrace(path string) (stop func(), err error) {
	const op = "profiling.StartTrace"

	f, err := os.Create(path)
	if err != nil {
		return nil, errors.Wrap(errors.KindInternal, op, err)
	}
	if err := trace.Start(f); err != nil {
		_ = f.Close()
		return nil, errors.Wrap(errors.KindInternal, op, err)
	}
	p.traceFile = f

	return func() {
		trace.Stop()
		_ = p.traceFile.Close()
		p.traceFile = nil
	}, nil
}

// WriteHeap snapshots live heap allocations into path. A GC runs
// first so the profile reflects reachable memory, not garbage.
func (p *Profiler) WriteHeap(path string) error {
	const op = "profiling.WriteHeap"

	f, err := os.Create(path)
	if err != nil {
		return errors.Wrap(errors.KindInternal, op, err)
	}
	defer func() { _ = f.Close() }()

	runtime.GC()
	if err := pprof.WriteHeapProfile(f); err != nil {
		return errors.Wrap(errors.KindInternal, op, err)
	}
	return nil
}

// WriteGoroutine dumps the stacks of every live goroutine into path,
// the first place to look when serve wedges.
func (p *Profiler) WriteGoroutine(path string) error {
	const op = "profiling.WriteGoroutine"

	f, err := os.Create(path)
	if err != nil {
		return errors.Wrap(errors.KindInternal, op, err)
	}
	defer func() { _ = f.Close() }()

	if err := pprof.Lookup("goroutine").WriteTo(f, 1); err != nil {
		return errors.Wrap(errors.KindInternal, op, err)
	}
	return nil
}
