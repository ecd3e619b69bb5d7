package mcp

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pampax/pampax/internal/errors"
)

func TestMapError_KindsToCodes(t *testing.T) {
	tests := []struct {
		name string
		err  error
		code int
	}{
		{"invalid input", errors.E(errors.KindInvalidInput, "op", "bad k", nil), CodeInvalidParams},
		{"not found", errors.E(errors.KindNotFound, "op", "no such span", nil), CodeNotFound},
		{"unavailable", errors.E(errors.KindUnavailable, "op", "breaker open", nil), CodeUnavailable},
		{"conflict", errors.E(errors.KindConflict, "op", "another writer", nil), CodeConflict},
		{"cancelled kind", errors.E(errors.KindCancelled, "op", "gone", nil), CodeTimeout},
		{"internal", errors.E(errors.KindInternal, "op", "broken", nil), CodeInternal},
		{"deadline", context.DeadlineExceeded, CodeTimeout},
		{"cancel", context.Canceled, CodeTimeout},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			me := MapError(tt.err)
			require.NotNil(t, me)
			assert.Equal(t, tt.code, me.Code)
			assert.NotEmpty(t, me.Message)
		})
	}
}

func TestMapError_PassesThroughProtocolErrors(t *testing.T) {
	orig := invalidParams("query is required")
	assert.Same(t, orig, MapError(orig))
}

func TestMapError_NilStaysNil(t *testing.T) {
	assert.Nil(t, MapError(nil))
}
