package errors

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestKind_String_StableNames(t *testing.T) {
	tests := []struct {
		kind Kind
		name string
	}{
		{KindInvalidInput, "INVALID_INPUT"},
		{KindNotFound, "NOT_FOUND"},
		{KindTimeout, "TIMEOUT"},
		{KindConflict, "CONFLICT"},
		{KindIntegrity, "INTEGRITY"},
		{KindRateLimited, "RATE_LIMITED"},
		{KindCancelled, "CANCELLED"},
		{KindInternal, "INTERNAL"},
		{KindUnavailable, "UNAVAILABLE"},
		{KindExhausted, "EXHAUSTED"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.name, tt.kind.String())
	}
}

func TestExitCode_MapsKindsToProcessCodes(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want int
	}{
		{"nil is success", nil, ExitSuccess},
		{"invalid input is config", E(KindInvalidInput, "", "bad value", nil), ExitConfig},
		{"not found is io", E(KindNotFound, "", "missing", nil), ExitIO},
		{"conflict is io", E(KindConflict, "", "dup", nil), ExitIO},
		{"integrity is io", E(KindIntegrity, "", "corrupt", nil), ExitIO},
		{"unavailable is network", E(KindUnavailable, "", "down", nil), ExitNetwork},
		{"rate limited is network", E(KindRateLimited, "", "quota", nil), ExitNetwork},
		{"timeout is timeout", E(KindTimeout, "", "slow", nil), ExitTimeout},
		{"cancelled is timeout", context.Canceled, ExitTimeout},
		{"internal is internal", E(KindInternal, "", "bug", nil), ExitInternal},
		{"exhausted is internal", E(KindExhausted, "", "pool full", nil), ExitInternal},
		{"plain error is internal", errors.New("plain"), ExitInternal},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, ExitCode(tt.err))
		})
	}
}
