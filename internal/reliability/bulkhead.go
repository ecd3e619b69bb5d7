package reliability

import (
	"context"

	"golang.org/x/sync/semaphore"

	"github.com/pampax/pampax/internal/errors"
)

// Bulkhead caps concurrent access to a resource pool. Acquisition is
// fail-fast: callers beyond the cap get a typed error instead of queueing.
type Bulkhead struct {
	name string
	cap  int64
	sem  *semaphore.Weighted
}

// NewBulkhead creates a bulkhead with the given concurrency cap.
// A cap below one falls back to the default of 10.
func NewBulkhead(name string, capacity int) *Bulkhead {
	if capacity < 1 {
		capacity = 10
	}
	return &Bulkhead{
		name: name,
		cap:  int64(capacity),
		sem:  semaphore.NewWeighted(int64(capacity)),
	}
}

// Name returns the bulkhead name.
func (b *Bulkhead) Name() string { return b.name }

// Capacity returns the concurrency cap.
func (b *Bulkhead) Capacity() int { return int(b.cap) }

// Acquire reserves a slot or fails fast with an Exhausted error.
// Release must be called exactly once per successful Acquire.
func (b *Bulkhead) Acquire() error {
	if !b.sem.TryAcquire(1) {
		return errors.E(errors.KindExhausted, "bulkhead."+b.name,
			"concurrency limit reached", nil).
			WithDetail("capacity", itoa(b.cap))
	}
	return nil
}

// AcquireWait blocks for a slot until the context is done.
func (b *Bulkhead) AcquireWait(ctx context.Context) error {
	if err := b.sem.Acquire(ctx, 1); err != nil {
		return errors.Wrap(errors.KindCancelled, "bulkhead."+b.name, err)
	}
	return nil
}

// Release frees a previously acquired slot.
func (b *Bulkhead) Release() {
	b.sem.Release(1)
}

// Run executes fn inside a slot, failing fast when the pool is full.
func (b *Bulkhead) Run(fn func() error) error {
	if err := b.Acquire(); err != nil {
		return err
	}
	defer b.Release()
	return fn()
}

func itoa(n int64) string {
	if n == 0 {
		return "0"
	}
	var buf [20]byte
	i := len(buf)
	for n > 0 {
		i--
		buf[i] = byte('0' + n%10)
		n /= 10
	}
	return string(buf[i:])
}
