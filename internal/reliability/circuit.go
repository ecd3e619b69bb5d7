package reliability

import (
	"sync"
	"time"

	"github.com/pampax/pampax/internal/errors"
)

// State represents the circuit breaker state.
type State int

const (
	// StateClosed is the normal state where requests are allowed.
	StateClosed State = iota
	// StateOpen is when the circuit is tripped and requests fail fast.
	StateOpen
	// StateHalfOpen is when the circuit is probing for recovery.
	StateHalfOpen
)

// String returns a string representation of the state.
func (s State) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateOpen:
		return "open"
	case StateHalfOpen:
		return "half-open"
	default:
		return "unknown"
	}
}

// CircuitBreaker fails fast when a dependency keeps erroring.
// Closed counts failures; after maxFailures it opens. After resetTimeout
// it admits a bounded batch of probes (half-open); successThreshold
// consecutive probe successes close it again, any probe failure reopens.
type CircuitBreaker struct {
	name             string
	maxFailures      int
	resetTimeout     time.Duration
	successThreshold int
	halfOpenProbes   int

	mu          sync.Mutex
	state       State
	failures    int
	successes   int
	probes      int
	lastFailure time.Time
}

// CircuitBreakerOption configures a CircuitBreaker.
type CircuitBreakerOption func(*CircuitBreaker)

// WithMaxFailures sets the number of failures before opening the circuit.
func WithMaxFailures(n int) CircuitBreakerOption {
	return func(cb *CircuitBreaker) { cb.maxFailures = n }
}

// WithResetTimeout sets the time to wait before probing for recovery.
func WithResetTimeout(d time.Duration) CircuitBreakerOption {
	return func(cb *CircuitBreaker) { cb.resetTimeout = d }
}

// WithSuccessThreshold sets the consecutive probe successes required to
// close a half-open circuit.
func WithSuccessThreshold(n int) CircuitBreakerOption {
	return func(cb *CircuitBreaker) { cb.successThreshold = n }
}

// WithHalfOpenProbes caps concurrent requests admitted while half-open.
func WithHalfOpenProbes(n int) CircuitBreakerOption {
	return func(cb *CircuitBreaker) { cb.halfOpenProbes = n }
}

// NewCircuitBreaker creates a circuit breaker with the given name.
// Defaults: 5 failures, 30s reset, 2 probe successes to close, 3 probes.
func NewCircuitBreaker(name string, opts ...CircuitBreakerOption) *CircuitBreaker {
	cb := &CircuitBreaker{
		name:             name,
		maxFailures:      5,
		resetTimeout:     30 * time.Second,
		successThreshold: 2,
		halfOpenProbes:   3,
		state:            StateClosed,
	}
	for _, opt := range opts {
		opt(cb)
	}
	return cb
}

// Name returns the circuit breaker name.
func (cb *CircuitBreaker) Name() string { return cb.name }

// State returns the current state, accounting for reset-timeout expiry.
func (cb *CircuitBreaker) State() State {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.currentState()
}

// currentState transitions open->half-open once resetTimeout elapsed.
// Callers must hold mu.
func (cb *CircuitBreaker) currentState() State {
	if cb.state == StateOpen && time.Since(cb.lastFailure) > cb.resetTimeout {
		cb.state = StateHalfOpen
		cb.successes = 0
		cb.probes = 0
	}
	return cb.state
}

// Failures returns the current consecutive failure count.
func (cb *CircuitBreaker) Failures() int {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.failures
}

// Allow reports whether a request may proceed, reserving a probe slot
// when half-open.
func (cb *CircuitBreaker) Allow() bool {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	switch cb.currentState() {
	case StateClosed:
		return true
	case StateHalfOpen:
		if cb.probes >= cb.halfOpenProbes {
			return false
		}
		cb.probes++
		return true
	default:
		return false
	}
}

// RecordSuccess records a successful request.
func (cb *CircuitBreaker) RecordSuccess() {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	switch cb.state {
	case StateHalfOpen:
		cb.successes++
		if cb.successes >= cb.successThreshold {
			cb.state = StateClosed
			cb.failures = 0
			cb.successes = 0
			cb.probes = 0
		}
	default:
		cb.failures = 0
	}
}

// RecordFailure records a failed request. A failure while half-open
// reopens the circuit immediately.
func (cb *CircuitBreaker) RecordFailure() {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	cb.lastFailure = time.Now()
	switch cb.state {
	case StateHalfOpen:
		cb.state = StateOpen
		cb.successes = 0
		cb.probes = 0
	default:
		cb.failures++
		if cb.failures >= cb.maxFailures {
			cb.state = StateOpen
		}
	}
}

// openError builds the fail-fast error for a tripped circuit.
func (cb *CircuitBreaker) openError() error {
	return errors.E(errors.KindUnavailable, "circuit."+cb.name, "circuit breaker is open", nil).
		WithDetail("state", cb.State().String())
}

// Execute runs fn through the breaker, failing fast while open.
func (cb *CircuitBreaker) Execute(fn func() error) error {
	if !cb.Allow() {
		return cb.openError()
	}
	if err := fn(); err != nil {
		cb.RecordFailure()
		return err
	}
	cb.RecordSuccess()
	return nil
}

// ExecuteWithResult runs fn through the breaker; when the circuit is
// open the fallback supplies the result instead.
func ExecuteWithResult[T any](cb *CircuitBreaker, fn func() (T, error), fallback func() (T, error)) (T, error) {
	if !cb.Allow() {
		return fallback()
	}
	result, err := fn()
	if err != nil {
		cb.RecordFailure()
		if fallback != nil {
			return fallback()
		}
		return result, err
	}
	cb.RecordSuccess()
	return result, nil
}
