package errors

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestError_Unwrap_PreservesOriginalError(t *testing.T) {
	// Given: an original error
	originalErr := errors.New("original error")

	// When: wrapping it
	wrapped := E(KindNotFound, "store.GetSpan", "span not found", originalErr)

	// Then: unwrapping returns the original
	require.NotNil(t, wrapped)
	assert.Equal(t, originalErr, errors.Unwrap(wrapped))
	assert.True(t, errors.Is(wrapped, originalErr))
}

func TestError_Error_ReturnsFormattedMessage(t *testing.T) {
	tests := []struct {
		name     string
		kind     Kind
		op       string
		message  string
		expected string
	}{
		{
			name:     "with op",
			kind:     KindNotFound,
			op:       "store.GetChunk",
			message:  "chunk missing",
			expected: "[NOT_FOUND] store.GetChunk: chunk missing",
		},
		{
			name:     "without op",
			kind:     KindInvalidInput,
			message:  "query is empty",
			expected: "[INVALID_INPUT] query is empty",
		},
		{
			name:     "timeout",
			kind:     KindTimeout,
			op:       "rerank.Bus",
			message:  "provider deadline exceeded",
			expected: "[TIMEOUT] rerank.Bus: provider deadline exceeded",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := E(tt.kind, tt.op, tt.message, nil)
			assert.Equal(t, tt.expected, err.Error())
		})
	}
}

func TestError_Is_MatchesByKind(t *testing.T) {
	// Given: two errors of the same kind
	err1 := E(KindConflict, "store.PutChunk", "duplicate chunk", nil)
	err2 := E(KindConflict, "store.PutSpan", "duplicate span", nil)

	// Then: they match by kind
	assert.True(t, errors.Is(err1, err2))

	// And: a different kind does not match
	err3 := E(KindNotFound, "store.PutChunk", "missing", nil)
	assert.False(t, errors.Is(err1, err3))
}

func TestError_WithDetail_AddsContext(t *testing.T) {
	err := E(KindIntegrity, "store.Verify", "fts row count mismatch", nil)

	err = err.WithDetail("table", "chunk_fts")
	err = err.WithDetail("expected", "120")

	assert.Equal(t, "chunk_fts", err.Details["table"])
	assert.Equal(t, "120", err.Details["expected"])
}

func TestError_WithHint_AddsHint(t *testing.T) {
	err := E(KindUnavailable, "embed.Ollama", "connection refused", nil)
	err = err.WithHint("start the embedding server or switch provider to static")

	assert.Equal(t, "start the embedding server or switch provider to static", err.Hint)
	assert.Equal(t, err.Hint, HintOf(err))
}

func TestWrap_ClassifiesContextErrors(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want Kind
	}{
		{"cancellation wins over requested kind", context.Canceled, KindCancelled},
		{"deadline wins over requested kind", context.DeadlineExceeded, KindTimeout},
		{"plain error keeps requested kind", errors.New("boom"), KindInternal},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			wrapped := Wrap(KindInternal, "pipeline.Search", tt.err)
			assert.Equal(t, tt.want, wrapped.Kind)
		})
	}
}

func TestWrap_PreservesExistingKind(t *testing.T) {
	// Given: an already classified error, wrapped further downstream
	inner := E(KindRateLimited, "rerank.cohere", "quota exceeded", nil).
		WithHint("reduce request rate")
	outer := Wrap(KindInternal, "pipeline.Rerank", fmt.Errorf("bus: %w", inner))

	// Then: the original kind and hint survive
	assert.Equal(t, KindRateLimited, outer.Kind)
	assert.Equal(t, "reduce request rate", outer.Hint)
	assert.True(t, outer.Retryable)
}

func TestWrap_NilReturnsNil(t *testing.T) {
	assert.Nil(t, Wrap(KindInternal, "op", nil))
}

func TestKindOf(t *testing.T) {
	assert.Equal(t, Kind(0), KindOf(nil))
	assert.Equal(t, KindCancelled, KindOf(context.Canceled))
	assert.Equal(t, KindTimeout, KindOf(context.DeadlineExceeded))
	assert.Equal(t, KindInternal, KindOf(errors.New("plain")))

	err := fmt.Errorf("outer: %w", E(KindExhausted, "pack", "budget used up", nil))
	assert.Equal(t, KindExhausted, KindOf(err))
	assert.True(t, IsKind(err, KindExhausted))
}

func TestIsRetryable(t *testing.T) {
	assert.False(t, IsRetryable(nil))
	assert.True(t, IsRetryable(E(KindTimeout, "db", "busy", nil)))
	assert.True(t, IsRetryable(E(KindUnavailable, "embed", "down", nil)))
	assert.True(t, IsRetryable(E(KindRateLimited, "api", "429", nil)))
	assert.False(t, IsRetryable(E(KindInvalidInput, "intent", "empty query", nil)))
	assert.False(t, IsRetryable(E(KindConflict, "store", "dup", nil)))
}
