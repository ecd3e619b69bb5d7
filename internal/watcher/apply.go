package watcher

import (
	"context"
	"log/slog"

	"github.com/pampax/pampax/internal/index"
)

// applyLoop drains debounced batches and re-indexes them.
func (w *Watcher) applyLoop(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case batch, ok := <-w.deb.output():
			if !ok {
				return
			}
			w.apply(ctx, batch)
		}
	}
}

// apply re-indexes one batch. A .gitignore edit widens the batch to a
// full reconcile; otherwise only the touched paths are reprocessed.
// Failures are logged and the watcher keeps running; the next change
// to a failed file retries it.
func (w *Watcher) apply(ctx context.Context, batch []FileEvent) {
	var paths []string
	full := false
	for _, ev := range batch {
		if ev.Op == OpGitignore {
			full = true
			continue
		}
		paths = append(paths, ev.Path)
	}

	var stats *index.Stats
	var err error
	switch {
	case full:
		stats, err = w.indexer.Run(ctx, index.Request{Root: w.opts.Root, Repo: w.opts.Repo, Scan: w.opts.Scan})
	case len(paths) > 0:
		stats, err = w.indexer.IndexFiles(ctx, w.opts.Root, w.opts.Repo, paths)
	default:
		return
	}
	if err != nil {
		if ctx.Err() == nil {
			w.log.Warn("reindex_failed",
				slog.Int("paths", len(paths)),
				slog.Any("error", err))
		}
		return
	}

	if stats.FilesIndexed+stats.FilesRemoved == 0 {
		return
	}
	w.invalidate(ctx, full, paths)

	w.log.Info("reindexed",
		slog.Int("files", stats.FilesIndexed),
		slog.Int("removed", stats.FilesRemoved),
		slog.Int("spans", stats.Spans))
	if w.applied != nil {
		w.applied(stats)
	}
}

// invalidate drops cache entries that may now point at stale spans.
// Signatures are cleared wholesale; cached graph expansions go only
// when they visited a re-indexed path.
func (w *Watcher) invalidate(ctx context.Context, full bool, paths []string) {
	if w.graph != nil {
		if full {
			w.graph.InvalidateAll()
		} else {
			w.graph.InvalidatePaths(paths...)
		}
	}
	if w.sigs != nil {
		if err := w.sigs.Invalidate(ctx); err != nil && ctx.Err() == nil {
			w.log.Warn("signature_invalidate_failed", slog.Any("error", err))
		}
	}
}
