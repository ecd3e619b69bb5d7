// Package reliability provides the failure-handling primitives shared by
// every engine component: operation timeouts, retries, circuit breakers,
// bulkheads, and the graceful degradation executor.
package reliability

import (
	"context"
	"time"
)

// OpClass groups operations that share a timeout budget.
type OpClass string

const (
	// OpSearch covers query-time retrieval operations.
	OpSearch OpClass = "search"
	// OpAssembly covers full context assembly.
	OpAssembly OpClass = "assembly"
	// OpDatabase covers individual store round trips.
	OpDatabase OpClass = "database"
	// OpCache covers cache lookups.
	OpCache OpClass = "cache"
	// OpExternal covers calls to embedding and rerank providers.
	OpExternal OpClass = "external"
)

// Timeouts holds the per-class deadline budget.
type Timeouts struct {
	Search   time.Duration
	Assembly time.Duration
	Database time.Duration
	Cache    time.Duration
	External time.Duration
}

// DefaultTimeouts returns the standard budget per operation class.
func DefaultTimeouts() Timeouts {
	return Timeouts{
		Search:   5 * time.Second,
		Assembly: 10 * time.Second,
		Database: 2 * time.Second,
		Cache:    1 * time.Second,
		External: 8 * time.Second,
	}
}

// For returns the timeout for the given class.
func (t Timeouts) For(class OpClass) time.Duration {
	switch class {
	case OpSearch:
		return t.Search
	case OpAssembly:
		return t.Assembly
	case OpDatabase:
		return t.Database
	case OpCache:
		return t.Cache
	case OpExternal:
		return t.External
	default:
		return t.Search
	}
}

// WithTimeout derives a context bounded by the class budget.
// A zero or negative budget leaves the parent context untouched.
func (t Timeouts) WithTimeout(ctx context.Context, class OpClass) (context.Context, context.CancelFunc) {
	d := t.For(class)
	if d <= 0 {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, d)
}
