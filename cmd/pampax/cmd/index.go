package cmd

import (
	"sync"
	"time"

	"github.com/spf13/cobra"

	"github.com/pampax/pampax/internal/index"
	"github.com/pampax/pampax/internal/output"
	"github.com/pampax/pampax/internal/scanner"
	"github.com/pampax/pampax/internal/ui"
	"github.com/pampax/pampax/internal/watcher"
)

type indexOptions struct {
	watch     bool
	skipEmbed bool
	include   []string
	exclude   []string
	noIgnore  bool
}

func newIndexCmd(root *rootOptions) *cobra.Command {
	opts := &indexOptions{}

	cmd := &cobra.Command{
		Use:   "index",
		Short: "Index the repository into spans, chunks, and references",
		Long: `Index scans the working tree, parses supported sources into spans,
chunks them for retrieval, resolves cross-file references, and embeds
chunk content. Re-runs are incremental: unchanged files are skipped by
content hash. With --watch the command stays running and applies file
changes as they happen.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runIndex(cmd, root, opts)
		},
	}

	f := cmd.Flags()
	f.BoolVarP(&opts.watch, "watch", "w", false, "keep running and re-index on file changes")
	f.BoolVar(&opts.skipEmbed, "skip-embed", false, "skip the embedding stage")
	f.StringSliceVar(&opts.include, "include", nil, "glob patterns to index (overrides config)")
	f.StringSliceVar(&opts.exclude, "exclude", nil, "glob patterns to skip (overrides config)")
	f.BoolVar(&opts.noIgnore, "no-gitignore", false, "ignore .gitignore rules")
	return cmd
}

func runIndex(cmd *cobra.Command, root *rootOptions, opts *indexOptions) error {
	start := time.Now()
	ctx := cmd.Context()

	tracker := newStageTracker()
	var renderer ui.Renderer
	var indexOpts []index.Option
	if !root.jsonOut {
		renderer = ui.NewRenderer(ui.NewConfig(cmd.OutOrStdout(),
			ui.WithForcePlain(root.plain),
			ui.WithNoColor(root.noColor),
			ui.WithRoot(root.root),
		))
		indexOpts = append(indexOpts, index.WithProgress(progressAdapter(renderer, tracker)))
	} else {
		indexOpts = append(indexOpts, index.WithProgress(tracker.observe))
	}

	a, err := openApp(ctx, root, indexOpts...)
	if err != nil {
		return err
	}
	defer a.Close()

	scanOpts := scanner.Options{
		Root:             a.root,
		Include:          coalesce(opts.include, a.cfg.Paths.Include),
		Exclude:          coalesce(opts.exclude, a.cfg.Paths.Exclude),
		RespectGitignore: a.cfg.Paths.RespectGitignore && !opts.noIgnore,
		MaxFileSize:      int64(a.cfg.Performance.MaxFileSizeMB) << 20,
	}
	req := index.Request{
		Root:      a.root,
		Repo:      a.repo,
		Scan:      scanOpts,
		SkipEmbed: opts.skipEmbed,
	}

	if renderer != nil {
		if err := renderer.Start(ctx); err != nil {
			return err
		}
	}

	stats, err := a.indexer.Run(ctx, req)
	if renderer != nil {
		if err == nil {
			renderer.Complete(completionStats(stats, tracker, a))
		}
		_ = renderer.Stop()
	}
	if err != nil {
		if root.jsonOut {
			return emitError(cmd, root, "index", err, start)
		}
		return err
	}

	if root.jsonOut {
		return output.EmitJSON(cmd.OutOrStdout(), output.NewEnvelope("index", root.mode(), stats, start))
	}

	if opts.watch {
		return runWatch(cmd, a, scanOpts)
	}
	return nil
}

// runWatch blocks applying incremental updates until interrupted.
func runWatch(cmd *cobra.Command, a *app, scanOpts scanner.Options) error {
	w, err := watcher.New(a.indexer, watcher.Options{
		Root: a.root,
		Repo: a.repo,
		Scan: scanOpts,
	},
		watcher.WithLogger(a.log),
		watcher.WithSignatureCache(a.sigs),
		watcher.WithScanner(a.scan),
		watcher.WithApplied(func(stats *index.Stats) {
			out := output.New(cmd.OutOrStdout())
			out.Successf("applied %d files (%d spans, %d chunks)",
				stats.FilesIndexed, stats.Spans, stats.Chunks)
		}),
	)
	if err != nil {
		return err
	}

	output.New(cmd.OutOrStdout()).Status("👀", "watching for changes, ctrl-c to stop")
	return w.Run(cmd.Context())
}

// stageTracker records when each indexing stage started so the
// completion panel can show per-stage timings.
type stageTracker struct {
	mu      sync.Mutex
	stage   string
	started time.Time
	timings ui.StageTimings
}

func newStageTracker() *stageTracker {
	return &stageTracker{started: time.Now()}
}

func (t *stageTracker) observe(p index.Progress) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if p.Stage != t.stage {
		t.record(t.stage, time.Since(t.started))
		t.stage = p.Stage
		t.started = time.Now()
	}
}

func (t *stageTracker) record(stage string, d time.Duration) {
	switch stage {
	case "scan":
		t.timings.Scan += d
	case "parse":
		t.timings.Parse += d
	case "resolve":
		t.timings.Resolve += d
	case "embed":
		t.timings.Embed += d
	}
}

func (t *stageTracker) finish() ui.StageTimings {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.record(t.stage, time.Since(t.started))
	t.stage = ""
	return t.timings
}

// progressAdapter maps indexer progress onto the renderer's stages.
func progressAdapter(r ui.Renderer, t *stageTracker) func(index.Progress) {
	return func(p index.Progress) {
		t.observe(p)
		r.UpdateProgress(ui.ProgressEvent{
			Stage:   uiStage(p.Stage),
			Current: p.Done,
			Total:   p.Total,
		})
	}
}

func uiStage(s string) ui.Stage {
	switch s {
	case "scan":
		return ui.StageScanning
	case "parse":
		return ui.StageParsing
	case "resolve":
		return ui.StageResolving
	case "embed":
		return ui.StageEmbedding
	default:
		return ui.StageScanning
	}
}

func completionStats(stats *index.Stats, t *stageTracker, a *app) ui.CompletionStats {
	return ui.CompletionStats{
		Files:      stats.FilesIndexed,
		Spans:      stats.Spans,
		Chunks:     stats.Chunks,
		References: stats.References,
		Embedded:   stats.Embedded,
		Duration:   stats.Duration,
		Stages:     t.finish(),
		Embedder: ui.EmbedderInfo{
			Provider:   a.cfg.Embeddings.Provider,
			Model:      a.embedder.ModelName(),
			Dimensions: a.embedder.Dimensions(),
		},
	}
}

// coalesce returns the first non-empty slice.
func coalesce(a, b []string) []string {
	if len(a) > 0 {
		return a
	}
	return b
}
