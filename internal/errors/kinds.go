// Package errors provides structured error handling for PAMPAX.
//
// Every failure crossing a package boundary is classified into a Kind.
// Kinds carry stable numeric codes so that logs, the JSON surface, and
// process exit codes stay consistent across releases.
package errors

// Kind classifies an error for callers that need to branch on failure mode.
type Kind int

const (
	// KindInvalidInput indicates the caller supplied a malformed query,
	// config value, or argument.
	KindInvalidInput Kind = 401
	// KindNotFound indicates a requested entity does not exist.
	KindNotFound Kind = 404
	// KindTimeout indicates an operation exceeded its deadline.
	KindTimeout Kind = 408
	// KindConflict indicates a write collided with existing state.
	KindConflict Kind = 409
	// KindIntegrity indicates stored data failed a consistency check.
	KindIntegrity Kind = 422
	// KindRateLimited indicates an upstream provider rejected the call
	// due to quota.
	KindRateLimited Kind = 429
	// KindCancelled indicates the caller cancelled the operation.
	KindCancelled Kind = 499
	// KindInternal indicates an unexpected failure inside the engine.
	KindInternal Kind = 500
	// KindUnavailable indicates a dependency is down or a circuit is open.
	KindUnavailable Kind = 503
	// KindExhausted indicates a resource pool or budget was used up.
	KindExhausted Kind = 507
)

// String returns the stable name used in logs and JSON payloads.
func (k Kind) String() string {
	switch k {
	case KindInvalidInput:
		return "INVALID_INPUT"
	case KindNotFound:
		return "NOT_FOUND"
	case KindTimeout:
		return "TIMEOUT"
	case KindConflict:
		return "CONFLICT"
	case KindIntegrity:
		return "INTEGRITY"
	case KindRateLimited:
		return "RATE_LIMITED"
	case KindCancelled:
		return "CANCELLED"
	case KindUnavailable:
		return "UNAVAILABLE"
	case KindExhausted:
		return "EXHAUSTED"
	default:
		return "INTERNAL"
	}
}

// Process exit codes for the CLI surface.
const (
	ExitSuccess  = 0
	ExitConfig   = 2
	ExitIO       = 3
	ExitNetwork  = 4
	ExitTimeout  = 5
	ExitInternal = 6
)

// ExitCode maps an error to the process exit code for the CLI surface.
func ExitCode(err error) int {
	if err == nil {
		return ExitSuccess
	}
	switch KindOf(err) {
	case KindInvalidInput:
		return ExitConfig
	case KindNotFound, KindConflict, KindIntegrity:
		return ExitIO
	case KindUnavailable, KindRateLimited:
		return ExitNetwork
	case KindTimeout, KindCancelled:
		return ExitTimeout
	default:
		return ExitInternal
	}
}

// retryableKind reports whether a kind represents a transient condition.
func retryableKind(k Kind) bool {
	switch k {
	case KindTimeout, KindUnavailable, KindRateLimited:
		return true
	default:
		return false
	}
}
