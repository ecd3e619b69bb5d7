// Package graph walks the reference edges stored alongside spans,
// turning a handful of fused seeds into the neighborhood a reader
// would follow by hand: callers, callees, the test that covers a
// function, the config key a handler reads. Expansion is breadth
// first, depth capped, and token guarded so the packer downstream
// never receives more than it can afford.
package graph

import (
	"context"
	"log/slog"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"

	"github.com/pampax/pampax/internal/bundle"
	"github.com/pampax/pampax/internal/tokenizer"
)

const (
	// MaxExpandDepth bounds the BFS no matter what the caller asks
	// for. Two hops already reaches caller-of-caller; beyond that the
	// neighborhood is noise.
	MaxExpandDepth = 2

	// DefaultFanout caps how many neighbors a single span may
	// contribute per wave, keeping the walk O(seeds * fanout^depth).
	DefaultFanout = 16

	// DefaultWorkers is the number of spans whose edges are fetched
	// concurrently within one wave.
	DefaultWorkers = 4

	// CacheSize and CacheTTL bound the expansion cache. Entries are
	// also evicted explicitly when their files are re-indexed.
	CacheSize = 1000
	CacheTTL  = 5 * time.Minute
)

// Mode selects how neighbors are ordered before the fanout cap.
type Mode string

const (
	// ModeQuality visits high-confidence edges first. Default.
	ModeQuality Mode = "quality"
	// ModeBreadth keeps the store's insertion order, trading edge
	// quality for coverage.
	ModeBreadth Mode = "breadth"
)

// Request describes one expansion.
type Request struct {
	// SeedSpanIDs are the spans the fused candidates resolved to.
	SeedSpanIDs []string
	// MaxDepth is clamped to [1, MaxExpandDepth]; zero means the cap.
	MaxDepth int
	// Kinds filters which edge kinds are followed. Empty follows all.
	Kinds []bundle.EdgeKind
	// TokenBudget stops admission once the added nodes' chunks would
	// exceed it. Zero means unlimited.
	TokenBudget int
	// Model picks the tokenizer family for cost estimates.
	Model string
	// Mode defaults to ModeQuality.
	Mode Mode
}

// Node is one visited span plus how the walk reached it.
type Node struct {
	SpanID     string          `json:"span_id"`
	Repo       string          `json:"repo"`
	Path       string          `json:"path"`
	ByteStart  int             `json:"byte_start"`
	ByteEnd    int             `json:"byte_end"`
	Name       string          `json:"name,omitempty"`
	Kind       bundle.SpanKind `json:"kind"`
	Depth      int             `json:"depth"`
	Via        string          `json:"via,omitempty"`
	EdgeKind   bundle.EdgeKind `json:"edge_kind,omitempty"`
	Confidence float64         `json:"confidence"`
	Tokens     int             `json:"tokens"`
	// Chunks carries the packable text for non-seed nodes. Seeds
	// already have their chunks from fusion, so theirs stay nil.
	Chunks []*bundle.Chunk `json:"-"`
}

// Edge is one traversed reference, resolved to concrete span ids.
type Edge struct {
	SrcSpanID  string          `json:"src_span_id"`
	DstSpanID  string          `json:"dst_span_id"`
	Kind       bundle.EdgeKind `json:"kind"`
	Confidence float64         `json:"confidence"`
}

// Result is the expanded neighborhood. Nodes are in visit order,
// seeds first at depth 0.
type Result struct {
	Nodes         []Node `json:"nodes"`
	Edges         []Edge `json:"edges"`
	DepthReached  int    `json:"expansion_depth_reached"`
	TokensUsed    int    `json:"tokens_used"`
	Truncated     bool   `json:"truncated"`
	PerformanceMS int64  `json:"performance_ms"`
	CacheHit      bool   `json:"cache_hit"`
}

// Store is the persistence surface the expander reads.
type Store interface {
	SpansByIDs(ctx context.Context, ids []string) ([]*bundle.Span, error)
	SpansByRange(ctx context.Context, repo, path string, start, end int) ([]*bundle.Span, error)
	OutgoingReferences(ctx context.Context, spanID string, kinds []bundle.EdgeKind) ([]*bundle.Reference, error)
	IncomingReferences(ctx context.Context, path string, byteStart, byteEnd int, kinds []bundle.EdgeKind) ([]*bundle.Reference, error)
	ChunksBySpanIDs(ctx context.Context, spanIDs []string) ([]*bundle.Chunk, error)
}

// Expander runs graph expansions against a store, caching whole
// results per (seeds, depth, kinds, budget, mode).
type Expander struct {
	store   Store
	tokens  *tokenizer.Factory
	cache   *expirable.LRU[string, *Result]
	log     *slog.Logger
	fanout  int
	workers int
}

// Option configures an Expander.
type Option func(*Expander)

// WithFanout overrides the per-span neighbor cap.
func WithFanout(n int) Option {
	return func(e *Expander) {
		if n > 0 {
			e.fanout = n
		}
	}
}

// WithWorkers overrides wave concurrency.
func WithWorkers(n int) Option {
	return func(e *Expander) {
		if n > 0 {
			e.workers = n
		}
	}
}

// WithLogger attaches a logger.
func WithLogger(log *slog.Logger) Option {
	return func(e *Expander) {
		if log != nil {
			e.log = log
		}
	}
}

// New returns an Expander over the given store and tokenizer.
func New(s Store, tokens *tokenizer.Factory, opts ...Option) *Expander {
	e := &Expander{
		store:   s,
		tokens:  tokens,
		cache:   expirable.NewLRU[string, *Result](CacheSize, nil, CacheTTL),
		log:     slog.Default(),
		fanout:  DefaultFanout,
		workers: DefaultWorkers,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}
