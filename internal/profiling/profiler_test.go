package profiling

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// requireProfile asserts a non-empty file was written at path.
func requireProfile(t *testing.T, path string) {
	t.Helper()
	info, err := os.Stat(path)
	require.NoError(t, err)
	assert.Positive(t, info.Size())
}

func TestProfiler_CPURoundTrip(t *testing.T) {
	// Given: CPU sampling into a temp file
	path := filepath.Join(t.TempDir(), "cpu.prof")
	p := NewProfiler()
	stop, err := p.StartCPU(path)
	require.NoError(t, err)

	// When: some work happens and sampling stops
	sum := 0
	for i := 0; i < 1_000_000; i++ {
		sum += i
	}
	_ = sum
	stop()

	// Then: the profile is on disk
	requireProfile(t, path)
}

func TestProfiler_StartCPU_BadPath(t *testing.T) {
	p := NewProfiler()
	_, err := p.StartCPU(filepath.Join(t.TempDir(), "missing", "cpu.prof"))
	require.Error(t, err)
}

func TestProfiler_WriteHeap(t *testing.T) {
	path := filepath.Join(t.TempDir(), "heap.prof")
	require.NoError(t, NewProfiler().WriteHeap(path))
	requireProfile(t, path)
}

func TestProfiler_TraceRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "trace.out")
	p := NewProfiler()
	stop, err := p.StartTrace(path)
	require.NoError(t, err)

	ch := make(chan int, 1)
	ch <- 1
	<-ch
	stop()

	requireProfile(t, path)
}

func TestProfiler_WriteGoroutine(t *testing.T) {
	path := filepath.Join(t.TempDir(), "goroutines.txt")
	require.NoError(t, NewProfiler().WriteGoroutine(path))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), "goroutine")
}
