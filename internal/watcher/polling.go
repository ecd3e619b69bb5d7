package watcher

import (
	"context"
	"io/fs"
	"log/slog"
	"path"
	"path/filepath"
	"time"
)

// fileStamp is the change signature used by the polling fallback.
type fileStamp struct {
	size int64
	mod  time.Time
}

// poll diffs mod-time snapshots on a fixed interval. Slower and
// coarser than fsnotify, but it works everywhere.
func (w *Watcher) poll(ctx context.Context) error {
	prev, err := w.snapshot()
	if err != nil {
		return err
	}

	ticker := time.NewTicker(w.opts.PollInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			cur, err := w.snapshot()
			if err != nil {
				w.log.Warn("poll_failed", slog.Any("error", err))
				continue
			}
			w.diff(prev, cur)
			prev = cur
		}
	}
}

func (w *Watcher) snapshot() (map[string]fileStamp, error) {
	snap := make(map[string]fileStamp)
	err := filepath.WalkDir(w.opts.Root, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return nil
		}
		rel, rerr := filepath.Rel(w.opts.Root, p)
		if rerr != nil {
			return nil
		}
		rel = filepath.ToSlash(rel)
		if d.IsDir() {
			if rel != "." && (skipDirs[d.Name()] || w.ignored(rel, true)) {
				return filepath.SkipDir
			}
			return nil
		}
		if w.ignored(rel, false) {
			return nil
		}
		info, ierr := d.Info()
		if ierr != nil {
			return nil
		}
		snap[rel] = fileStamp{size: info.Size(), mod: info.ModTime()}
		return nil
	})
	return snap, err
}

func (w *Watcher) diff(prev, cur map[string]fileStamp) {
	now := time.Now()
	for p, st := range cur {
		old, ok := prev[p]
		switch {
		case !ok:
			w.emit(p, OpCreate, now)
		case old != st:
			w.emit(p, OpModify, now)
		}
	}
	for p := range prev {
		if _, ok := cur[p]; !ok {
			w.emit(p, OpDelete, now)
		}
	}
}

func (w *Watcher) emit(rel string, op Operation, at time.Time) {
	if path.Base(rel) == ".gitignore" {
		w.reloadIgnore()
		if w.scans != nil {
			w.scans.InvalidateGitignore()
		}
		w.deb.add(FileEvent{Path: rel, Op: OpGitignore, At: at})
		return
	}
	w.deb.add(FileEvent{Path: rel, Op: op, At: at})
}
