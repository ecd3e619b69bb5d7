// Package index coordinates the indexing pipeline: scan the repo,
// parse files into spans and chunks, upsert them into the store, keep
// the symbol index in step, resolve references, and batch-embed new
// chunks. A file lock serializes writers; job rows record every run so
// an interrupted index resumes where it stopped.
package index

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"runtime"
	"time"

	"github.com/gofrs/flock"
	"golang.org/x/sync/errgroup"

	"github.com/pampax/pampax/internal/embed"
	"github.com/pampax/pampax/internal/errors"
	"github.com/pampax/pampax/internal/parse"
	"github.com/pampax/pampax/internal/scanner"
	"github.com/pampax/pampax/internal/store"
	"github.com/pampax/pampax/internal/symbols"
)

// jobKind is the job_run kind for full and incremental index runs.
const jobKind = "index"

// Progress reports one stage update during a run.
type Progress struct {
	Stage string // scan, parse, resolve, embed
	Done  int
	Total int
}

// Stats summarizes one index run.
type Stats struct {
	FilesSeen    int           `json:"files_seen"`
	FilesIndexed int           `json:"files_indexed"`
	FilesRemoved int           `json:"files_removed"`
	Spans        int           `json:"spans"`
	Chunks       int           `json:"chunks"`
	References   int           `json:"references"`
	Embedded     int           `json:"embedded"`
	Duration     time.Duration `json:"duration"`
}

// Indexer drives the indexing pipeline.
type Indexer struct {
	store    *store.Store
	symbols  *symbols.Index
	scanner  *scanner.Scanner
	embedder embed.Embedder
	log      *slog.Logger
	workers  int
	progress func(Progress)
}

// Option configures an Indexer.
type Option func(*Indexer)

// WithEmbedder enables the embedding stage.
func WithEmbedder(e embed.Embedder) Option {
	return func(ix *Indexer) { ix.embedder = e }
}

// WithLogger attaches a logger.
func WithLogger(log *slog.Logger) Option {
	return func(ix *Indexer) {
		if log != nil {
			ix.log = log
		}
	}
}

// WithWorkers sets the parse worker count.
func WithWorkers(n int) Option {
	return func(ix *Indexer) {
		if n > 0 {
			ix.workers = n
		}
	}
}

// WithProgress registers a progress callback.
func WithProgress(fn func(Progress)) Option {
	return func(ix *Indexer) { ix.progress = fn }
}

// New builds an indexer over an open store and symbol index.
func New(s *store.Store, sym *symbols.Index, sc *scanner.Scanner, opts ...Option) (*Indexer, error) {
	const op = "index.New"
	if s == nil || sym == nil || sc == nil {
		return nil, errors.E(errors.KindInvalidInput, op, "store, symbols, and scanner are required", nil)
	}
	ix := &Indexer{
		store:   s,
		symbols: sym,
		scanner: sc,
		log:     slog.Default(),
		workers: runtime.NumCPU(),
	}
	for _, opt := range opts {
		opt(ix)
	}
	return ix, nil
}

// Request describes one index run.
type Request struct {
	// Root is the repository root to scan.
	Root string
	// Repo is the logical repo name rows are keyed by. Defaults to the
	// root's base name.
	Repo string
	// Scan carries include/exclude patterns and gitignore handling.
	Scan scanner.Options
	// SkipEmbed leaves the embedding stage to a later run.
	SkipEmbed bool
}

// Run indexes the repository. Only one writer runs at a time; a second
// caller fails fast with a conflict.
func (ix *Indexer) Run(ctx context.Context, req Request) (*Stats, error) {
	const op = "index.Run"
	start := time.Now()

	if req.Root == "" {
		return nil, errors.E(errors.KindInvalidInput, op, "root is required", nil)
	}
	repo := req.Repo
	if repo == "" {
		repo = filepath.Base(req.Root)
	}

	unlock, err := ix.acquireLock()
	if err != nil {
		return nil, err
	}
	defer unlock()

	if _, err := ix.store.FailStaleJobs(ctx); err != nil {
		ix.log.Warn("stale_job_sweep_failed", slog.Any("error", err))
	}
	jobID, err := ix.store.StartJob(ctx, jobKind)
	if err != nil {
		return nil, errors.Wrap(errors.KindOf(err), op, err)
	}

	stats, runErr := ix.run(ctx, repo, req)
	jobMsg := ""
	if runErr != nil {
		jobMsg = runErr.Error()
	}
	if err := ix.store.FinishJob(ctx, jobID, jobMsg); err != nil {
		ix.log.Warn("job_finish_failed", slog.Any("error", err))
	}
	if runErr != nil {
		return nil, runErr
	}

	stats.Duration = time.Since(start)
	ix.log.Info("index_complete",
		slog.String("repo", repo),
		slog.Int("files", stats.FilesIndexed),
		slog.Int("spans", stats.Spans),
		slog.Int("references", stats.References),
		slog.Int("embedded", stats.Embedded),
		slog.Duration("duration", stats.Duration))
	return stats, nil
}

func (ix *Indexer) run(ctx context.Context, repo string, req Request) (*Stats, error) {
	const op = "index.run"

	g, gctx := errgroup.WithContext(ctx)

	scanOpts := req.Scan
	scanOpts.Root = req.Root
	results, err := ix.scanner.Scan(gctx, scanOpts)
	if err != nil {
		return nil, errors.Wrap(errors.KindOf(err), op, err)
	}

	stats := &Stats{}
	seen := make(map[string]bool)
	var rawRefs []parse.RawRef

	files := make(chan *scanner.FileInfo)
	parsed := make(chan *fileResult, ix.workers)

	g.Go(func() error {
		defer close(files)
		for r := range results {
			if r.Err != nil {
				return errors.Wrap(errors.KindInternal, op, r.Err)
			}
			select {
			case files <- r.File:
			case <-gctx.Done():
				return gctx.Err()
			}
		}
		return nil
	})

	var wg errgroup.Group
	for i := 0; i < ix.workers; i++ {
		wg.Go(func() error {
			p := parse.New()
			defer p.Close()
			for f := range files {
				res, err := ix.parseFile(gctx, p, repo, f)
				if err != nil {
					return err
				}
				select {
				case parsed <- res:
				case <-gctx.Done():
					return gctx.Err()
				}
			}
			return nil
		})
	}
	g.Go(func() error {
		defer close(parsed)
		return wg.Wait()
	})

	// Single writer: SQLite takes one write transaction at a time.
	g.Go(func() error {
		for res := range parsed {
			seen[res.file.Path] = true
			stats.FilesSeen++
			if res.unchanged {
				continue
			}
			if err := ix.writeFile(gctx, res); err != nil {
				return err
			}
			stats.FilesIndexed++
			stats.Spans += len(res.spans)
			stats.Chunks += len(res.chunks)
			rawRefs = append(rawRefs, res.refs...)
			ix.report(Progress{Stage: "parse", Done: stats.FilesIndexed})
		}
		return nil
	})

	if err := g.Wait(); err != nil {
		return nil, err
	}

	removed, err := ix.removeMissing(ctx, repo, seen)
	if err != nil {
		return nil, err
	}
	stats.FilesRemoved = removed

	refs, err := ix.resolveRefs(ctx, repo, rawRefs)
	if err != nil {
		return nil, err
	}
	if len(refs) > 0 {
		if err := ix.store.BulkUpsertReferences(ctx, refs); err != nil {
			return nil, errors.Wrap(errors.KindOf(err), op, err)
		}
	}
	stats.References = len(refs)
	ix.report(Progress{Stage: "resolve", Done: len(refs), Total: len(rawRefs)})

	if !req.SkipEmbed {
		embedded, err := ix.embedPending(ctx)
		if err != nil {
			// Embeddings degrade to FTS-only retrieval; the index run
			// itself still succeeds.
			ix.log.Warn("embed_stage_failed", slog.Any("error", err))
		}
		stats.Embedded = embedded
	}

	return stats, nil
}

// acquireLock takes the single-writer lock next to the store file.
func (ix *Indexer) acquireLock() (func(), error) {
	const op = "index.lock"
	dir := filepath.Dir(ix.store.Path())
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, errors.Wrap(errors.KindInternal, op, err)
	}
	lock := flock.New(filepath.Join(dir, "index.lock"))
	ok, err := lock.TryLock()
	if err != nil {
		return nil, errors.Wrap(errors.KindInternal, op, err)
	}
	if !ok {
		return nil, errors.E(errors.KindConflict, op, "another indexer holds the lock", nil)
	}
	return func() {
		if err := lock.Unlock(); err != nil {
			ix.log.Warn("index_unlock_failed", slog.Any("error", err))
		}
	}, nil
}

// removeMissing drops rows for files that disappeared since the last
// run.
func (ix *Indexer) removeMissing(ctx context.Context, repo string, seen map[string]bool) (int, error) {
	const op = "index.removeMissing"
	existing, err := ix.store.ListFiles(ctx, repo)
	if err != nil {
		return 0, errors.Wrap(errors.KindOf(err), op, err)
	}
	removed := 0
	for _, f := range existing {
		if seen[f.Path] {
			continue
		}
		if err := ix.deletePath(ctx, repo, f.Path); err != nil {
			return removed, err
		}
		removed++
	}
	return removed, nil
}

func (ix *Indexer) deletePath(ctx context.Context, repo, path string) error {
	const op = "index.deletePath"
	if err := ix.store.DeleteReferencesToPath(ctx, path); err != nil {
		return errors.Wrap(errors.KindOf(err), op, err)
	}
	if err := ix.store.DeleteFile(ctx, repo, path); err != nil {
		return errors.Wrap(errors.KindOf(err), op, err)
	}
	if _, err := ix.symbols.RemovePath(ctx, repo, path); err != nil {
		return errors.Wrap(errors.KindOf(err), op, err)
	}
	return nil
}

func (ix *Indexer) report(p Progress) {
	if ix.progress != nil {
		ix.progress(p)
	}
}
