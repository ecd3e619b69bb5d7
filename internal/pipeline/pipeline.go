// Package pipeline composes the retrieval components into the public
// operations: Search ranks candidates, Assemble packs them into a
// token-budgeted bundle, Rerank rescoring, Learn for the offline tuner,
// plus the memory and feedback entry points. The pipeline owns the
// recoverable-failure policy: a failing stage thins the result and
// leaves a stopping reason, it does not fail the query.
package pipeline

import (
	"context"
	"log/slog"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"

	"github.com/pampax/pampax/internal/bundle"
	"github.com/pampax/pampax/internal/errors"
	"github.com/pampax/pampax/internal/graph"
	"github.com/pampax/pampax/internal/intent"
	"github.com/pampax/pampax/internal/learner"
	"github.com/pampax/pampax/internal/memory"
	"github.com/pampax/pampax/internal/pack"
	"github.com/pampax/pampax/internal/policy"
	"github.com/pampax/pampax/internal/reliability"
	"github.com/pampax/pampax/internal/rerank"
	"github.com/pampax/pampax/internal/seed"
	"github.com/pampax/pampax/internal/session"
	"github.com/pampax/pampax/internal/sigcache"
	"github.com/pampax/pampax/internal/store"
	"github.com/pampax/pampax/internal/tokenizer"
)

const (
	// DefaultTokenBudget applies when an assemble request names none.
	DefaultTokenBudget = 4000
	// DefaultModel is the tokenizer family used when none is named.
	DefaultModel = "generic"
	// recentBundles bounds the feedback window: bundles older than the
	// TTL can no longer be promoted into the signature cache.
	recentBundles   = 256
	recentBundleTTL = time.Hour
)

// Deps are the composed components. Store, Classifier, Gate, Seeds,
// Mixer, Packer, Tokens, and Sessions are required; the rest degrade
// to a thinner pipeline when absent.
type Deps struct {
	Store      *store.Store
	Classifier *intent.Classifier
	Gate       *policy.Gate
	Seeds      *seed.Runner
	Mixer      *seed.Mixer
	Graph      *graph.Expander
	Packer     *pack.Packer
	Rerank     *rerank.Bus
	Signatures *sigcache.Cache
	Sessions   *session.Manager
	Memories   *memory.Service
	Learner    *learner.Learner
	Tokens     *tokenizer.Factory
}

// Pipeline is the composed retrieval engine.
type Pipeline struct {
	deps     Deps
	timeouts reliability.Timeouts
	log      *slog.Logger

	// recent keeps assembled bundles by interaction id so feedback can
	// promote a satisfying bundle into the signature cache.
	recent *expirable.LRU[string, *assembled]
}

// assembled is the per-interaction state feedback needs.
type assembled struct {
	query  string
	intent bundle.Intent
	sctx   sigcache.Context
	bundle *bundle.Bundle
}

// Option configures a Pipeline.
type Option func(*Pipeline)

// WithTimeouts overrides the op-class timeout table.
func WithTimeouts(t reliability.Timeouts) Option {
	return func(p *Pipeline) {
		p.timeouts = t
	}
}

// WithLogger attaches a logger.
func WithLogger(log *slog.Logger) Option {
	return func(p *Pipeline) {
		if log != nil {
			p.log = log
		}
	}
}

// New builds a pipeline from its components.
func New(deps Deps, opts ...Option) (*Pipeline, error) {
	const op = "pipeline.New"
	switch {
	case deps.Store == nil:
		return nil, errors.E(errors.KindInvalidInput, op, "store is required", nil)
	case deps.Classifier == nil:
		return nil, errors.E(errors.KindInvalidInput, op, "intent classifier is required", nil)
	case deps.Gate == nil:
		return nil, errors.E(errors.KindInvalidInput, op, "policy gate is required", nil)
	case deps.Seeds == nil || deps.Mixer == nil:
		return nil, errors.E(errors.KindInvalidInput, op, "seed runner and mixer are required", nil)
	case deps.Packer == nil:
		return nil, errors.E(errors.KindInvalidInput, op, "packer is required", nil)
	case deps.Tokens == nil:
		return nil, errors.E(errors.KindInvalidInput, op, "tokenizer factory is required", nil)
	case deps.Sessions == nil:
		return nil, errors.E(errors.KindInvalidInput, op, "session manager is required", nil)
	}

	p := &Pipeline{
		deps:     deps,
		timeouts: reliability.DefaultTimeouts(),
		log:      slog.Default(),
		recent:   expirable.NewLRU[string, *assembled](recentBundles, nil, recentBundleTTL),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p, nil
}

// Memories exposes the memory service for the remember/recall surface.
func (p *Pipeline) Memories() *memory.Service {
	return p.deps.Memories
}

// Sessions exposes the session manager.
func (p *Pipeline) Sessions() *session.Manager {
	return p.deps.Sessions
}

// SignatureStats reports signature cache counters for health output.
func (p *Pipeline) SignatureStats() sigcache.Stats {
	if p.deps.Signatures == nil {
		return sigcache.Stats{}
	}
	return p.deps.Signatures.Stats()
}

// RerankProviders lists the configured rerank fallback order.
func (p *Pipeline) RerankProviders() []string {
	if p.deps.Rerank == nil {
		return nil
	}
	return p.deps.Rerank.Providers()
}

// classifyOrOverride resolves the query's intent, honoring an explicit
// override at full confidence.
func (p *Pipeline) classifyOrOverride(ctx context.Context, query string, override bundle.Intent) (intent.Result, error) {
	const op = "pipeline.classify"
	if override != "" {
		if !override.Valid() {
			return intent.Result{}, errors.E(errors.KindInvalidInput, op,
				"unknown intent override "+string(override), nil)
		}
		return intent.Result{Intent: override, Confidence: 1.0}, nil
	}
	return p.deps.Classifier.Classify(ctx, query)
}
