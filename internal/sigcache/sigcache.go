// Package sigcache replays whole bundles for repeated queries. A query
// signature hashes the normalized query text, the classified intent,
// and a coarse context bucket; when a past interaction with that
// signature ended well, the stored bundle is returned directly and the
// pipeline skips candidate generation, expansion, packing, and rerank.
//
// Only outcomes the user was demonstrably happy with are cached: the
// write path drops anything at or below the satisfaction floor.
package sigcache

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"log/slog"
	"strconv"
	"strings"
	"sync/atomic"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/pampax/pampax/internal/bundle"
	"github.com/pampax/pampax/internal/errors"
	"github.com/pampax/pampax/internal/store"
)

// Cache policy defaults.
const (
	// DefaultTTL is how long a cached bundle stays replayable.
	DefaultTTL = 7 * 24 * time.Hour
	// DefaultMaxSize bounds the decoded-bundle front cache.
	DefaultMaxSize = 1000
	// ProdMaxSize is the recommended bound for long-lived servers.
	ProdMaxSize = 5000
	// SatisfactionFloor is the minimum outcome quality worth replaying.
	SatisfactionFloor = 0.8
	// budgetBucket coarsens token budgets so near-identical requests
	// share a signature.
	budgetBucket = 1000
)

// Store is the durable half of the cache.
type Store interface {
	PutSignature(ctx context.Context, e *store.SignatureEntry) error
	GetSignature(ctx context.Context, signature string) (*store.SignatureEntry, error)
	InvalidateSignatures(ctx context.Context) error
	PruneSignatures(ctx context.Context) (int, error)
}

// Context is the request surround that a signature buckets over.
// Two queries only share a cache entry when their buckets match.
type Context struct {
	Repo        string
	Language    string
	Model       string
	TokenBudget int
}

func (c Context) bucket() string {
	budget := c.TokenBudget / budgetBucket
	return c.Repo + "|" + c.Language + "|" + c.Model + "|" + strconv.Itoa(budget)
}

// Key derives the query signature:
// sha256(normalized query|intent|context bucket).
func Key(query string, it bundle.Intent, sctx Context) string {
	normalized := strings.Join(strings.Fields(strings.ToLower(query)), " ")
	sum := sha256.Sum256([]byte(normalized + "|" + string(it) + "|" + sctx.bucket()))
	return hex.EncodeToString(sum[:])
}

// Stats are the cache counters surfaced through health.
type Stats struct {
	Hits    int64   `json:"hits"`
	Misses  int64   `json:"misses"`
	Errors  int64   `json:"errors"`
	Writes  int64   `json:"writes"`
	Skipped int64   `json:"skipped"`
	HitRate float64 `json:"hit_rate"`
}

// Cache is the signature cache: a durable store row per signature with
// an in-memory front of decoded bundles.
type Cache struct {
	store Store
	front *lru.Cache[string, *bundle.Bundle]
	ttl   time.Duration
	log   *slog.Logger

	hits    atomic.Int64
	misses  atomic.Int64
	errs    atomic.Int64
	writes  atomic.Int64
	skipped atomic.Int64
}

// Option configures a Cache.
type Option func(*Cache)

// WithTTL overrides the entry lifetime.
func WithTTL(d time.Duration) Option {
	return func(c *Cache) {
		if d > 0 {
			c.ttl = d
		}
	}
}

// WithMaxSize overrides the front-cache bound.
func WithMaxSize(n int) Option {
	return func(c *Cache) {
		if n > 0 {
			c.front, _ = lru.New[string, *bundle.Bundle](n)
		}
	}
}

// WithLogger attaches a logger.
func WithLogger(log *slog.Logger) Option {
	return func(c *Cache) {
		if log != nil {
			c.log = log
		}
	}
}

// New builds a signature cache over the store.
func New(s Store, opts ...Option) *Cache {
	front, _ := lru.New[string, *bundle.Bundle](DefaultMaxSize)
	c := &Cache{
		store: s,
		front: front,
		ttl:   DefaultTTL,
		log:   slog.Default(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Lookup returns the cached bundle for the query, if a live entry
// exists. The returned bundle is a copy with FromCache set; callers
// may mutate it freely.
func (c *Cache) Lookup(ctx context.Context, query string, it bundle.Intent, sctx Context) (*bundle.Bundle, bool, error) {
	const op = "sigcache.Lookup"
	key := Key(query, it, sctx)

	// The store is the authority: it enforces TTL and bumps usage.
	entry, err := c.store.GetSignature(ctx, key)
	if err != nil {
		c.errs.Add(1)
		return nil, false, errors.Wrap(errors.KindOf(err), op, err)
	}
	if entry == nil {
		c.misses.Add(1)
		c.front.Remove(key)
		return nil, false, nil
	}

	b, ok := c.front.Get(key)
	if !ok {
		decoded := &bundle.Bundle{}
		if err := json.Unmarshal([]byte(entry.Payload), decoded); err != nil {
			c.errs.Add(1)
			c.front.Remove(key)
			return nil, false, errors.Wrap(errors.KindIntegrity, op, err)
		}
		c.front.Add(key, decoded)
		b = decoded
	}

	c.hits.Add(1)
	c.log.Debug("signature_cache_hit",
		slog.String("signature", key[:12]),
		slog.Int("usage", entry.UsageCount))
	return cloneBundle(b), true, nil
}

// Record caches the bundle for future replay when the outcome clears
// the satisfaction floor. Below the floor it is a silent no-op.
func (c *Cache) Record(ctx context.Context, query string, it bundle.Intent, sctx Context, bundleID string, b *bundle.Bundle, satisfaction float64) error {
	const op = "sigcache.Record"
	if b == nil {
		return errors.E(errors.KindInvalidInput, op, "bundle is nil", nil)
	}
	if satisfaction <= SatisfactionFloor {
		c.skipped.Add(1)
		return nil
	}

	payload, err := json.Marshal(b)
	if err != nil {
		return errors.Wrap(errors.KindInternal, op, err)
	}
	key := Key(query, it, sctx)
	if err := c.store.PutSignature(ctx, &store.SignatureEntry{
		Signature:    key,
		BundleID:     bundleID,
		Payload:      string(payload),
		Satisfaction: satisfaction,
		TTL:          c.ttl,
	}); err != nil {
		c.errs.Add(1)
		return errors.Wrap(errors.KindOf(err), op, err)
	}

	c.front.Add(key, cloneBundle(b))
	c.writes.Add(1)
	c.log.Debug("signature_cache_write",
		slog.String("signature", key[:12]),
		slog.Float64("satisfaction", satisfaction))
	return nil
}

// Invalidate drops every entry, memory and durable. Called after a
// re-index changes what any cached bundle would contain.
func (c *Cache) Invalidate(ctx context.Context) error {
	c.front.Purge()
	return c.store.InvalidateSignatures(ctx)
}

// Prune removes expired durable rows and reports how many went.
func (c *Cache) Prune(ctx context.Context) (int, error) {
	return c.store.PruneSignatures(ctx)
}

// Stats snapshots the counters.
func (c *Cache) Stats() Stats {
	s := Stats{
		Hits:    c.hits.Load(),
		Misses:  c.misses.Load(),
		Errors:  c.errs.Load(),
		Writes:  c.writes.Load(),
		Skipped: c.skipped.Load(),
	}
	if total := s.Hits + s.Misses; total > 0 {
		s.HitRate = float64(s.Hits) / float64(total)
	}
	return s
}

func cloneBundle(b *bundle.Bundle) *bundle.Bundle {
	cp := *b
	cp.Items = append([]bundle.Item(nil), b.Items...)
	cp.StoppingReasons = append([]bundle.StoppingReason(nil), b.StoppingReasons...)
	cp.FromCache = true
	return &cp
}
