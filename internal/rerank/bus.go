package rerank

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"

	"github.com/pampax/pampax/internal/errors"
	"github.com/pampax/pampax/internal/reliability"
)

// Bus defaults.
const (
	DefaultTimeout   = 10 * time.Second
	DefaultCacheTTL  = 24 * time.Hour
	DefaultFrontSize = 512
	DefaultBulkhead  = 10
)

// CacheStore is the durable half of the rerank cache.
type CacheStore interface {
	PutRerankCache(ctx context.Context, key, provider, model, payload string, ttl time.Duration) error
	GetRerankCache(ctx context.Context, key string) (string, bool, error)
}

// Options tune one Rerank call.
type Options struct {
	// Provider overrides the bus's primary for this call. Unknown ids
	// are invalid input.
	Provider string
	// Model overrides the provider default.
	Model string
	// TopK truncates the returned ranking. Zero keeps everything.
	TopK int
	// NoCache bypasses lookup and write-back.
	NoCache bool
}

// Bus routes rerank calls through registered providers with caching,
// circuit breaking, retry, and a declared fallback order.
type Bus struct {
	providers map[string]Provider
	order     []string
	store     CacheStore
	front     *expirable.LRU[string, []Ranked]
	breakers  map[string]*reliability.CircuitBreaker
	bulkhead  *reliability.Bulkhead
	timeout   time.Duration
	retry     reliability.RetryConfig
	ttl       time.Duration
	log       *slog.Logger
}

// BusOption configures a Bus.
type BusOption func(*Bus)

// WithCacheStore attaches the durable cache.
func WithCacheStore(s CacheStore) BusOption {
	return func(b *Bus) { b.store = s }
}

// WithTimeout overrides the per-call provider timeout.
func WithTimeout(d time.Duration) BusOption {
	return func(b *Bus) {
		if d > 0 {
			b.timeout = d
		}
	}
}

// WithCacheTTL overrides the cache entry lifetime.
func WithCacheTTL(d time.Duration) BusOption {
	return func(b *Bus) {
		if d > 0 {
			b.ttl = d
		}
	}
}

// WithRetry overrides the retry policy for provider calls.
func WithRetry(cfg reliability.RetryConfig) BusOption {
	return func(b *Bus) { b.retry = cfg }
}

// WithBulkhead caps concurrent provider calls.
func WithBulkhead(n int) BusOption {
	return func(b *Bus) { b.bulkhead = reliability.NewBulkhead("rerank", n) }
}

// WithLogger attaches a logger.
func WithLogger(log *slog.Logger) BusOption {
	return func(b *Bus) {
		if log != nil {
			b.log = log
		}
	}
}

// NewBus builds a bus over the given providers. Order is the fallback
// sequence, primary first; every name in it must be registered.
func NewBus(providers []Provider, order []string, opts ...BusOption) (*Bus, error) {
	const op = "rerank.NewBus"

	byName := make(map[string]Provider, len(providers))
	for _, p := range providers {
		byName[p.Name()] = p
	}
	if len(order) == 0 {
		return nil, errors.E(errors.KindInvalidInput, op, "fallback order is empty", nil)
	}
	for _, name := range order {
		if _, ok := byName[name]; !ok {
			return nil, errors.Ef(errors.KindInvalidInput, op, "unknown provider %q in fallback order", name)
		}
	}

	b := &Bus{
		providers: byName,
		order:     order,
		front:     expirable.NewLRU[string, []Ranked](DefaultFrontSize, nil, DefaultCacheTTL),
		breakers:  make(map[string]*reliability.CircuitBreaker, len(byName)),
		bulkhead:  reliability.NewBulkhead("rerank", DefaultBulkhead),
		timeout:   DefaultTimeout,
		retry:     reliability.DefaultRetryConfig(),
		ttl:       DefaultCacheTTL,
		log:       slog.Default(),
	}
	for name := range byName {
		b.breakers[name] = reliability.NewCircuitBreaker("rerank." + name)
	}
	for _, opt := range opts {
		opt(b)
	}
	return b, nil
}

// Providers lists the registered provider names in fallback order.
func (b *Bus) Providers() []string {
	return append([]string(nil), b.order...)
}

// BreakerState exposes a provider's circuit state for health reports.
func (b *Bus) BreakerState(provider string) (reliability.State, bool) {
	cb, ok := b.breakers[provider]
	if !ok {
		return 0, false
	}
	return cb.State(), true
}

// Rerank scores docs against the query. The chosen provider's result
// is cached; within the TTL an identical call returns the cached
// ranking bit for bit.
func (b *Bus) Rerank(ctx context.Context, query string, docs []Document, opts Options) ([]Ranked, error) {
	const op = "rerank.Bus.Rerank"

	if query == "" {
		return nil, errors.E(errors.KindInvalidInput, op, "query is empty", nil)
	}
	if len(docs) == 0 {
		return []Ranked{}, nil
	}

	order := b.order
	if opts.Provider != "" {
		if _, ok := b.providers[opts.Provider]; !ok {
			return nil, errors.Ef(errors.KindInvalidInput, op, "unknown rerank provider %q", opts.Provider).
				WithHint("known providers: " + joinNames(b.order))
		}
		order = prependUnique(opts.Provider, b.order)
	}

	var lastErr error
	for _, name := range order {
		p := b.providers[name]
		model := opts.Model
		if model == "" && len(p.Models()) > 0 {
			model = p.Models()[0]
		}
		key := CacheKey(name, model, query, docs)

		if !opts.NoCache {
			if out, ok := b.cacheGet(ctx, key); ok {
				b.log.Debug("rerank_cache_hit", slog.String("provider", name))
				return clipTopK(out, opts.TopK), nil
			}
		}

		cb := b.breakers[name]
		if !cb.Allow() {
			lastErr = errors.E(errors.KindUnavailable, op, "circuit open for "+name, nil)
			continue
		}
		if !p.Available(ctx) {
			cb.RecordFailure()
			lastErr = errors.E(errors.KindUnavailable, op, "provider "+name+" unavailable", nil)
			continue
		}

		out, err := b.call(ctx, p, query, model, docs)
		if err != nil {
			cb.RecordFailure()
			lastErr = err
			if errors.IsKind(err, errors.KindCancelled) {
				return nil, err
			}
			b.log.Warn("rerank_provider_failed",
				slog.String("provider", name),
				slog.String("error", err.Error()))
			continue
		}
		cb.RecordSuccess()

		if !opts.NoCache {
			b.cachePut(ctx, key, name, model, out)
		}
		return clipTopK(out, opts.TopK), nil
	}

	return nil, errors.Wrap(errors.KindOf(lastErr), op, lastErr)
}

// call runs one provider under the bulkhead, timeout, and retry.
func (b *Bus) call(ctx context.Context, p Provider, query, model string, docs []Document) ([]Ranked, error) {
	if err := b.bulkhead.Acquire(); err != nil {
		return nil, err
	}
	defer b.bulkhead.Release()

	return reliability.RetryWithResult(ctx, b.retry, func() ([]Ranked, error) {
		callCtx, cancel := context.WithTimeout(ctx, b.timeout)
		defer cancel()
		return p.Rerank(callCtx, query, model, docs)
	})
}

// cacheGet consults the in-memory front, then the durable store.
func (b *Bus) cacheGet(ctx context.Context, key string) ([]Ranked, bool) {
	if out, ok := b.front.Get(key); ok {
		return out, true
	}
	if b.store == nil {
		return nil, false
	}
	payload, ok, err := b.store.GetRerankCache(ctx, key)
	if err != nil || !ok {
		return nil, false
	}
	var out []Ranked
	if err := json.Unmarshal([]byte(payload), &out); err != nil {
		return nil, false
	}
	b.front.Add(key, out)
	return out, true
}

// cachePut writes through to both cache layers. Cache failures are
// logged, never surfaced; the ranking is already in hand.
func (b *Bus) cachePut(ctx context.Context, key, provider, model string, out []Ranked) {
	b.front.Add(key, out)
	if b.store == nil {
		return
	}
	payload, err := json.Marshal(out)
	if err != nil {
		return
	}
	if err := b.store.PutRerankCache(ctx, key, provider, model, string(payload), b.ttl); err != nil {
		b.log.Debug("rerank_cache_write_failed", slog.String("error", err.Error()))
	}
}

func clipTopK(out []Ranked, k int) []Ranked {
	cp := append([]Ranked(nil), out...)
	if k > 0 && k < len(cp) {
		cp = cp[:k]
	}
	return cp
}

func prependUnique(first string, rest []string) []string {
	out := []string{first}
	for _, name := range rest {
		if name != first {
			out = append(out, name)
		}
	}
	return out
}

func joinNames(names []string) string {
	out := ""
	for i, n := range names {
		if i > 0 {
			out += ", "
		}
		out += n
	}
	return out
}
