package reliability

import (
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pampax/pampax/internal/errors"
)

func TestCircuitBreaker_OpensAfterMaxFailures(t *testing.T) {
	cb := NewCircuitBreaker("test", WithMaxFailures(3))

	for i := 0; i < 2; i++ {
		cb.RecordFailure()
	}
	assert.Equal(t, StateClosed, cb.State())

	cb.RecordFailure()
	assert.Equal(t, StateOpen, cb.State())
	assert.False(t, cb.Allow())
}

func TestCircuitBreaker_SuccessResetsFailureCount(t *testing.T) {
	cb := NewCircuitBreaker("test", WithMaxFailures(3))

	cb.RecordFailure()
	cb.RecordFailure()
	cb.RecordSuccess()
	cb.RecordFailure()
	cb.RecordFailure()

	assert.Equal(t, StateClosed, cb.State())
	assert.Equal(t, 2, cb.Failures())
}

func TestCircuitBreaker_HalfOpenProbesAndRecovery(t *testing.T) {
	cb := NewCircuitBreaker("test",
		WithMaxFailures(1),
		WithResetTimeout(10*time.Millisecond),
		WithSuccessThreshold(2),
		WithHalfOpenProbes(2),
	)

	cb.RecordFailure()
	require.Equal(t, StateOpen, cb.State())
	require.False(t, cb.Allow())

	time.Sleep(15 * time.Millisecond)
	require.Equal(t, StateHalfOpen, cb.State())

	// Probe slots are bounded.
	assert.True(t, cb.Allow())
	assert.True(t, cb.Allow())
	assert.False(t, cb.Allow())

	cb.RecordSuccess()
	assert.Equal(t, StateHalfOpen, cb.State())
	cb.RecordSuccess()
	assert.Equal(t, StateClosed, cb.State())
	assert.True(t, cb.Allow())
}

func TestCircuitBreaker_HalfOpenFailureReopens(t *testing.T) {
	cb := NewCircuitBreaker("test",
		WithMaxFailures(1),
		WithResetTimeout(5*time.Millisecond),
	)

	cb.RecordFailure()
	time.Sleep(10 * time.Millisecond)
	require.Equal(t, StateHalfOpen, cb.State())
	require.True(t, cb.Allow())

	cb.RecordFailure()
	assert.Equal(t, StateOpen, cb.State())
	assert.False(t, cb.Allow())
}

func TestCircuitBreaker_ExecuteFailsFastWhenOpen(t *testing.T) {
	cb := NewCircuitBreaker("embedder", WithMaxFailures(1))
	cb.RecordFailure()

	called := false
	err := cb.Execute(func() error {
		called = true
		return nil
	})

	require.Error(t, err)
	assert.False(t, called)
	assert.Equal(t, errors.KindUnavailable, errors.KindOf(err))
}

func TestExecuteWithResult_FallbackOnOpenCircuit(t *testing.T) {
	cb := NewCircuitBreaker("rerank", WithMaxFailures(1))
	cb.RecordFailure()

	got, err := ExecuteWithResult(cb,
		func() (string, error) { return "primary", nil },
		func() (string, error) { return "fallback", nil },
	)

	require.NoError(t, err)
	assert.Equal(t, "fallback", got)
}

func TestExecuteWithResult_FailureRoutesToFallback(t *testing.T) {
	cb := NewCircuitBreaker("rerank")

	got, err := ExecuteWithResult(cb,
		func() (string, error) { return "", fmt.Errorf("provider down") },
		func() (string, error) { return "fallback", nil },
	)

	require.NoError(t, err)
	assert.Equal(t, "fallback", got)
	assert.Equal(t, 1, cb.Failures())
}
