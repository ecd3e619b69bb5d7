package errors

import (
	"context"
	stderrors "errors"
	"fmt"
)

// Error is the structured error type for PAMPAX.
// It carries the classification, the failing operation, and optional
// context for logging and user presentation.
type Error struct {
	// Kind classifies the failure mode.
	Kind Kind

	// Op names the operation that failed (e.g., "store.PutSpan").
	Op string

	// Message is the human-readable error message.
	Message string

	// Details contains additional context as key-value pairs.
	Details map[string]string

	// Cause is the underlying error, if any.
	Cause error

	// Retryable indicates if the operation can be retried.
	Retryable bool

	// Hint is an actionable suggestion for the user.
	Hint string

	// CorrelationID ties the error to a request trace.
	CorrelationID string
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.Op != "" {
		return fmt.Sprintf("[%s] %s: %s", e.Kind, e.Op, e.Message)
	}
	return fmt.Sprintf("[%s] %s", e.Kind, e.Message)
}

// Unwrap returns the underlying cause for error chain support.
func (e *Error) Unwrap() error {
	return e.Cause
}

// Is matches by kind, enabling errors.Is with kind sentinels.
func (e *Error) Is(target error) bool {
	if t, ok := target.(*Error); ok {
		return e.Kind == t.Kind
	}
	return false
}

// WithDetail adds a key-value detail. Returns the error for chaining.
func (e *Error) WithDetail(key, value string) *Error {
	if e.Details == nil {
		e.Details = make(map[string]string)
	}
	e.Details[key] = value
	return e
}

// WithHint adds an actionable suggestion for the user.
func (e *Error) WithHint(hint string) *Error {
	e.Hint = hint
	return e
}

// WithCorrelation stamps the error with a request correlation id.
func (e *Error) WithCorrelation(id string) *Error {
	e.CorrelationID = id
	return e
}

// E creates a new Error. The retryable flag is derived from the kind.
func E(kind Kind, op, message string, cause error) *Error {
	return &Error{
		Kind:      kind,
		Op:        op,
		Message:   message,
		Cause:     cause,
		Retryable: retryableKind(kind),
	}
}

// Ef creates a new Error with a formatted message.
func Ef(kind Kind, op, format string, args ...any) *Error {
	return E(kind, op, fmt.Sprintf(format, args...), nil)
}

// Wrap classifies an existing error, preserving it as the cause.
// Context cancellation and deadline errors keep their own kinds
// regardless of the requested one. Returns nil for a nil error.
func Wrap(kind Kind, op string, err error) *Error {
	if err == nil {
		return nil
	}
	if stderrors.Is(err, context.Canceled) {
		kind = KindCancelled
	} else if stderrors.Is(err, context.DeadlineExceeded) {
		kind = KindTimeout
	}
	if pe := asError(err); pe != nil {
		// Already classified. Re-wrapping would lose the original kind.
		return &Error{
			Kind:          pe.Kind,
			Op:            op,
			Message:       pe.Message,
			Details:       pe.Details,
			Cause:         err,
			Retryable:     pe.Retryable,
			Hint:          pe.Hint,
			CorrelationID: pe.CorrelationID,
		}
	}
	return E(kind, op, err.Error(), err)
}

// KindOf extracts the kind from an error chain.
// Plain context errors classify as Cancelled/Timeout; anything else
// unclassified is Internal. Returns 0 for nil.
func KindOf(err error) Kind {
	if err == nil {
		return 0
	}
	if pe := asError(err); pe != nil {
		return pe.Kind
	}
	if stderrors.Is(err, context.Canceled) {
		return KindCancelled
	}
	if stderrors.Is(err, context.DeadlineExceeded) {
		return KindTimeout
	}
	return KindInternal
}

// IsKind reports whether the error chain carries the given kind.
func IsKind(err error, kind Kind) bool {
	return err != nil && KindOf(err) == kind
}

// IsRetryable reports whether the error represents a transient condition.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	if pe := asError(err); pe != nil {
		return pe.Retryable
	}
	return retryableKind(KindOf(err))
}

// HintOf extracts the user-facing hint, if any.
func HintOf(err error) string {
	if pe := asError(err); pe != nil {
		return pe.Hint
	}
	return ""
}

func asError(err error) *Error {
	var pe *Error
	if stderrors.As(err, &pe) {
		return pe
	}
	return nil
}
