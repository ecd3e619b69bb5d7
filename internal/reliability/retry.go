package reliability

import (
	"context"
	"math/rand"
	"time"

	"github.com/pampax/pampax/internal/errors"
)

// Backoff selects how the delay grows between retry attempts.
type Backoff string

const (
	// BackoffFixed waits the same delay every attempt.
	BackoffFixed Backoff = "fixed"
	// BackoffLinear grows the delay by the initial delay each attempt.
	BackoffLinear Backoff = "linear"
	// BackoffExponential doubles the delay each attempt.
	BackoffExponential Backoff = "exponential"
)

// RetryConfig configures retry behavior.
type RetryConfig struct {
	// MaxRetries is the number of retry attempts after the initial try.
	MaxRetries int

	// InitialDelay is the delay before the first retry.
	InitialDelay time.Duration

	// MaxDelay caps the delay between retries.
	MaxDelay time.Duration

	// Backoff selects the growth strategy.
	Backoff Backoff

	// Jitter randomizes each delay to avoid thundering herds.
	Jitter bool

	// RetryIf decides whether an error is worth retrying.
	// Nil means retry only errors classified as retryable.
	RetryIf func(error) bool
}

// DefaultRetryConfig returns the standard retry policy for transient
// failures against external providers.
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxRetries:   3,
		InitialDelay: 200 * time.Millisecond,
		MaxDelay:     5 * time.Second,
		Backoff:      BackoffExponential,
		Jitter:       true,
	}
}

func (c RetryConfig) shouldRetry(err error) bool {
	if c.RetryIf != nil {
		return c.RetryIf(err)
	}
	return errors.IsRetryable(err)
}

// delayFor computes the wait before retry number attempt (1-based).
func (c RetryConfig) delayFor(attempt int) time.Duration {
	var d time.Duration
	switch c.Backoff {
	case BackoffFixed:
		d = c.InitialDelay
	case BackoffLinear:
		d = time.Duration(attempt) * c.InitialDelay
	default:
		d = c.InitialDelay
		for i := 1; i < attempt; i++ {
			d *= 2
			if c.MaxDelay > 0 && d >= c.MaxDelay {
				d = c.MaxDelay
				break
			}
		}
	}
	if c.MaxDelay > 0 && d > c.MaxDelay {
		d = c.MaxDelay
	}
	if c.Jitter {
		// delay * (0.5 + rand[0, 0.5)) keeps the mean at 0.75x.
		d = time.Duration(float64(d) * (0.5 + rand.Float64()*0.5))
	}
	return d
}

// Retry executes fn with the configured backoff. Non-retryable errors
// abort immediately; context cancellation wins over any pending wait.
func Retry(ctx context.Context, cfg RetryConfig, fn func() error) error {
	_, err := RetryWithResult(ctx, cfg, func() (struct{}, error) {
		return struct{}{}, fn()
	})
	return err
}

// RetryWithResult is Retry for functions returning a value.
func RetryWithResult[T any](ctx context.Context, cfg RetryConfig, fn func() (T, error)) (T, error) {
	var zero T
	var lastErr error

	for attempt := 0; attempt <= cfg.MaxRetries; attempt++ {
		select {
		case <-ctx.Done():
			return zero, errors.Wrap(errors.KindCancelled, "reliability.Retry", ctx.Err())
		default:
		}

		result, err := fn()
		if err == nil {
			return result, nil
		}
		lastErr = err

		if attempt >= cfg.MaxRetries || !cfg.shouldRetry(err) {
			break
		}

		select {
		case <-ctx.Done():
			return zero, errors.Wrap(errors.KindCancelled, "reliability.Retry", ctx.Err())
		case <-time.After(cfg.delayFor(attempt + 1)):
		}
	}

	return zero, errors.Wrap(errors.KindOf(lastErr), "reliability.Retry", lastErr)
}
