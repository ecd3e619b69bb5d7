package cmd

import (
	"context"
	"log/slog"
	"path/filepath"
	"time"

	"github.com/pampax/pampax/internal/config"
	"github.com/pampax/pampax/internal/embed"
	"github.com/pampax/pampax/internal/errors"
	"github.com/pampax/pampax/internal/graph"
	"github.com/pampax/pampax/internal/index"
	"github.com/pampax/pampax/internal/intent"
	"github.com/pampax/pampax/internal/learner"
	"github.com/pampax/pampax/internal/memory"
	"github.com/pampax/pampax/internal/outcome"
	"github.com/pampax/pampax/internal/pack"
	"github.com/pampax/pampax/internal/pipeline"
	"github.com/pampax/pampax/internal/policy"
	"github.com/pampax/pampax/internal/reliability"
	"github.com/pampax/pampax/internal/rerank"
	"github.com/pampax/pampax/internal/scanner"
	"github.com/pampax/pampax/internal/seed"
	"github.com/pampax/pampax/internal/session"
	"github.com/pampax/pampax/internal/sigcache"
	"github.com/pampax/pampax/internal/store"
	"github.com/pampax/pampax/internal/symbols"
	"github.com/pampax/pampax/internal/telemetry"
	"github.com/pampax/pampax/internal/tokenizer"
)

// app holds the wired subsystems one CLI invocation works with. Every
// command goes through openApp so the store, the indexer, and the
// pipeline are assembled the same way the MCP server assembles them.
type app struct {
	cfg      *config.Config
	root     string
	repo     string
	store    *store.Store
	symbols  *symbols.Index
	scan     *scanner.Scanner
	embedder embed.Embedder
	bus      *rerank.Bus
	sigs     *sigcache.Cache
	indexer  *index.Indexer
	pipe     *pipeline.Pipeline
	metrics  *telemetry.Collector
	log      *slog.Logger

	closers []func() error
}

// openApp loads config for the root and wires the full stack. Extra
// index options let the index command attach its progress renderer.
// The caller must Close.
func openApp(ctx context.Context, opts *rootOptions, indexOpts ...index.Option) (*app, error) {
	const op = "cmd.openApp"

	root, err := filepath.Abs(opts.root)
	if err != nil {
		return nil, errors.Wrap(errors.KindInvalidInput, op, err)
	}

	cfg, err := config.Load(root)
	if err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	log := slog.Default()
	for _, w := range cfg.Warnings() {
		log.Warn("config_warning", "warning", w)
	}

	a := &app{
		cfg:     cfg,
		root:    root,
		repo:    filepath.Base(root),
		metrics: telemetry.New(),
		log:     log,
	}

	stateDir := cfg.StateDir(root)
	a.store, err = store.Open(filepath.Join(stateDir, "index.db"), store.WithLogger(log))
	if err != nil {
		return nil, err
	}
	a.closers = append(a.closers, a.store.Close)

	a.symbols, err = symbols.New(filepath.Join(stateDir, "symbols.bleve"))
	if err != nil {
		a.close()
		return nil, err
	}
	a.closers = append(a.closers, a.symbols.Close)

	a.scan, err = scanner.New()
	if err != nil {
		a.close()
		return nil, err
	}

	a.embedder, err = embed.NewEmbedder(ctx, embed.Options{
		Provider:   embed.ParseProvider(cfg.Embeddings.Provider),
		Model:      cfg.Embeddings.Model,
		Host:       cfg.Embeddings.Endpoint,
		Dimensions: cfg.Embeddings.Dimensions,
		BatchSize:  cfg.Embeddings.BatchSize,
	})
	if err != nil {
		a.close()
		return nil, err
	}

	ixOpts := append([]index.Option{
		index.WithEmbedder(a.embedder),
		index.WithWorkers(cfg.Performance.IndexWorkers),
		index.WithLogger(log),
	}, indexOpts...)
	a.indexer, err = index.New(a.store, a.symbols, a.scan, ixOpts...)
	if err != nil {
		a.close()
		return nil, err
	}

	if cfg.Features.Rerank {
		a.bus, err = buildRerankBus(cfg, a.store, log)
		if err != nil {
			a.close()
			return nil, err
		}
	}

	tokens := tokenizer.NewFactory()
	gate := policy.NewGate()
	a.sigs = sigcache.New(a.store, sigcache.WithLogger(log))

	runner := seed.NewRunner([]seed.Generator{
		seed.NewFTSGenerator(a.store),
		seed.NewVectorGenerator(a.embedder, a.store),
		seed.NewMemoryGenerator(a.store),
		seed.NewSymbolGenerator(a.symbols, a.store),
	},
		seed.WithTimeout(time.Duration(cfg.Search.GeneratorTimeoutMS)*time.Millisecond),
		seed.WithLogger(log),
	)

	deps := pipeline.Deps{
		Store:      a.store,
		Classifier: intent.NewClassifier(),
		Gate:       gate,
		Seeds:      runner,
		Mixer:      seed.NewMixer(),
		Packer:     pack.New(tokens, pack.WithLogger(log)),
		Tokens:     tokens,
		Rerank:     a.bus,
		Signatures: a.sigs,
		Sessions:   session.NewManager(a.store),
		Learner: learner.New(a.store, outcome.New(a.store), gate,
			learner.WithConfig(learnerConfig(cfg)),
			learner.WithLogger(log)),
	}
	if cfg.Features.Graph {
		deps.Graph = graph.New(a.store, tokens, graph.WithLogger(log))
	}
	if cfg.Features.Memory {
		deps.Memories = memory.New(a.store)
	}

	a.pipe, err = pipeline.New(deps,
		pipeline.WithTimeouts(timeoutsFrom(cfg)),
		pipeline.WithLogger(log),
	)
	if err != nil {
		a.close()
		return nil, err
	}
	return a, nil
}

func (a *app) close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			a.log.Warn("close_failed", "error", err)
		}
	}
	a.closers = nil
}

// Close releases the store and index handles.
func (a *app) Close() error {
	a.close()
	return nil
}

// buildRerankBus assembles providers in config order: the primary
// first, then each fallback. Unknown names are invalid input rather
// than silently skipped.
func buildRerankBus(cfg *config.Config, s *store.Store, log *slog.Logger) (*rerank.Bus, error) {
	names := append([]string{cfg.Rerank.Provider}, cfg.Rerank.Fallback...)

	var (
		providers []rerank.Provider
		order     []string
		seen      = map[string]bool{}
	)
	for _, name := range names {
		p, err := rerankProvider(cfg, name)
		if err != nil {
			return nil, err
		}
		if seen[p.Name()] {
			continue
		}
		seen[p.Name()] = true
		providers = append(providers, p)
		order = append(order, p.Name())
	}

	return rerank.NewBus(providers, order,
		rerank.WithCacheStore(s),
		rerank.WithCacheTTL(time.Duration(cfg.Rerank.CacheTTLHours)*time.Hour),
		rerank.WithTimeout(time.Duration(cfg.Performance.ExternalTimeoutMS)*time.Millisecond),
		rerank.WithLogger(log),
	)
}

func rerankProvider(cfg *config.Config, name string) (rerank.Provider, error) {
	switch name {
	case "local", rerank.ProviderLocal:
		return rerank.NewLocalProvider(rerank.LocalConfig{
			Endpoint: cfg.Rerank.LocalEndpoint,
			Model:    cfg.Rerank.Model,
		}), nil
	case "cohere", rerank.ProviderCohere:
		return rerank.NewCohereProvider(rerank.APIConfig{Model: cfg.Rerank.Model}), nil
	case "voyage", rerank.ProviderVoyage:
		return rerank.NewVoyageProvider(rerank.APIConfig{Model: cfg.Rerank.Model}), nil
	case "rrf", rerank.ProviderRRF:
		return rerank.NewRRFProvider(), nil
	case rerank.ProviderMock:
		return rerank.NewMockProvider(), nil
	default:
		return nil, errors.Ef(errors.KindInvalidInput, "cmd.rerankProvider",
			"unknown rerank provider %q", name)
	}
}

func learnerConfig(cfg *config.Config) learner.Config {
	lc := learner.DefaultConfig()
	if cfg.Learning.LearningRate > 0 {
		lc.LearningRate = cfg.Learning.LearningRate
	}
	if cfg.Learning.MinSignals > 0 {
		lc.MinSignals = cfg.Learning.MinSignals
	}
	return lc
}

func timeoutsFrom(cfg *config.Config) reliability.Timeouts {
	t := reliability.DefaultTimeouts()
	if ms := cfg.Performance.SearchTimeoutMS; ms > 0 {
		t.Search = time.Duration(ms) * time.Millisecond
	}
	if ms := cfg.Performance.AssemblyTimeoutMS; ms > 0 {
		t.Assembly = time.Duration(ms) * time.Millisecond
	}
	if ms := cfg.Performance.DatabaseTimeoutMS; ms > 0 {
		t.Database = time.Duration(ms) * time.Millisecond
	}
	if ms := cfg.Performance.ExternalTimeoutMS; ms > 0 {
		t.External = time.Duration(ms) * time.Millisecond
	}
	return t
}
