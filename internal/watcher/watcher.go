// Package watcher keeps the index in step with a working tree. File
// system events are coalesced through a debounce window, the changed
// paths are re-indexed incrementally, and caches whose entries may
// reference stale spans are invalidated. fsnotify is the primary
// source with a mod-time polling fallback for platforms or trees
// where inotify is unavailable.
package watcher

import (
	"context"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/pampax/pampax/internal/errors"
	"github.com/pampax/pampax/internal/gitignore"
	"github.com/pampax/pampax/internal/index"
	"github.com/pampax/pampax/internal/scanner"
)

// Operation classifies a file system event.
type Operation int

const (
	OpCreate Operation = iota
	OpModify
	OpDelete
	OpRename
	// OpGitignore marks a .gitignore edit. It triggers a full
	// reconcile so newly ignored files leave the index.
	OpGitignore
)

func (op Operation) String() string {
	switch op {
	case OpCreate:
		return "create"
	case OpModify:
		return "modify"
	case OpDelete:
		return "delete"
	case OpRename:
		return "rename"
	case OpGitignore:
		return "gitignore"
	}
	return "unknown"
}

// FileEvent is one observed change, path relative to the root.
type FileEvent struct {
	Path string
	Op   Operation
	At   time.Time
}

// Options configures a watcher.
type Options struct {
	// Root is the working tree to watch.
	Root string
	// Repo is the logical repo name. Defaults to the root's base name.
	Repo string
	// Debounce is the quiet window before a batch is applied.
	Debounce time.Duration
	// PollInterval drives the fallback scanner when fsnotify cannot
	// start.
	PollInterval time.Duration
	// Ignore adds gitignore-syntax patterns on top of .gitignore.
	Ignore []string
	// Scan carries the scan options a full reconcile runs with; it
	// should match whatever the initial index used.
	Scan scanner.Options
}

const (
	defaultDebounce     = 250 * time.Millisecond
	defaultPollInterval = 5 * time.Second
)

// skipDirs are never watched or descended into.
var skipDirs = map[string]bool{
	".git":         true,
	".hg":          true,
	".svn":         true,
	"node_modules": true,
	"vendor":       true,
	"__pycache__":  true,
	"dist":         true,
	"build":        true,
	".pampax":      true,
}

// SignatureInvalidator drops signature-cache entries after a
// re-index.
type SignatureInvalidator interface {
	Invalidate(ctx context.Context) error
}

// GraphInvalidator evicts cached graph expansions that touched
// re-indexed paths.
type GraphInvalidator interface {
	InvalidatePaths(paths ...string) int
	InvalidateAll()
}

// GitignoreInvalidator resets cached gitignore matchers so the next
// scan re-reads the files.
type GitignoreInvalidator interface {
	InvalidateGitignore()
}

// Watcher ties an event source to the indexer.
type Watcher struct {
	indexer *index.Indexer
	opts    Options
	log     *slog.Logger

	sigs    SignatureInvalidator
	graph   GraphInvalidator
	scans   GitignoreInvalidator
	applied func(*index.Stats)

	deb *debouncer

	mu     sync.Mutex
	ignore *gitignore.Matcher
}

// Option configures optional collaborators.
type Option func(*Watcher)

// WithLogger attaches a logger.
func WithLogger(log *slog.Logger) Option {
	return func(w *Watcher) {
		if log != nil {
			w.log = log
		}
	}
}

// WithSignatureCache invalidates the signature cache after each
// applied batch.
func WithSignatureCache(c SignatureInvalidator) Option {
	return func(w *Watcher) { w.sigs = c }
}

// WithGraph evicts graph expansions that visited re-indexed paths.
func WithGraph(g GraphInvalidator) Option {
	return func(w *Watcher) { w.graph = g }
}

// WithScanner resets the scanner's gitignore cache on .gitignore
// edits.
func WithScanner(s GitignoreInvalidator) Option {
	return func(w *Watcher) { w.scans = s }
}

// WithApplied registers a callback fired after each applied batch.
func WithApplied(fn func(*index.Stats)) Option {
	return func(w *Watcher) { w.applied = fn }
}

// New builds a watcher over an indexer.
func New(ix *index.Indexer, opts Options, wopts ...Option) (*Watcher, error) {
	const op = "watcher.New"
	if ix == nil {
		return nil, errors.E(errors.KindInvalidInput, op, "indexer is required", nil)
	}
	if opts.Root == "" {
		return nil, errors.E(errors.KindInvalidInput, op, "root is required", nil)
	}
	abs, err := filepath.Abs(opts.Root)
	if err != nil {
		return nil, errors.Wrap(errors.KindInvalidInput, op, err)
	}
	opts.Root = abs
	if opts.Repo == "" {
		opts.Repo = filepath.Base(abs)
	}
	if opts.Debounce <= 0 {
		opts.Debounce = defaultDebounce
	}
	if opts.PollInterval <= 0 {
		opts.PollInterval = defaultPollInterval
	}

	w := &Watcher{
		indexer: ix,
		opts:    opts,
		log:     slog.Default(),
	}
	for _, o := range wopts {
		o(w)
	}
	w.deb = newDebouncer(opts.Debounce)
	w.reloadIgnore()
	return w, nil
}

// Run watches until the context is cancelled. The initial state of
// the tree is not reconciled here; callers index once before
// watching.
func (w *Watcher) Run(ctx context.Context) error {
	const op = "watcher.Run"
	if _, err := os.Stat(w.opts.Root); err != nil {
		return errors.Wrap(errors.KindInvalidInput, op, err)
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	defer w.deb.stop()

	done := make(chan struct{})
	go func() {
		defer close(done)
		w.applyLoop(ctx)
	}()

	var err error
	fsw, ferr := fsnotify.NewWatcher()
	if ferr != nil {
		w.log.Warn("fsnotify_unavailable", slog.Any("error", ferr))
		err = w.poll(ctx)
	} else {
		err = w.notify(ctx, fsw)
	}

	cancel()
	<-done
	if err != nil && ctx.Err() == nil {
		return errors.Wrap(errors.KindInternal, op, err)
	}
	return nil
}

// notify consumes fsnotify events, keeping the recursive watch set in
// step as directories appear.
func (w *Watcher) notify(ctx context.Context, fsw *fsnotify.Watcher) error {
	defer func() { _ = fsw.Close() }()

	if err := w.addRecursive(fsw, w.opts.Root); err != nil {
		return err
	}

	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-fsw.Events:
			if !ok {
				return nil
			}
			w.handle(fsw, ev)
		case err, ok := <-fsw.Errors:
			if !ok {
				return nil
			}
			w.log.Warn("watch_error", slog.Any("error", err))
		}
	}
}

func (w *Watcher) handle(fsw *fsnotify.Watcher, ev fsnotify.Event) {
	rel, err := filepath.Rel(w.opts.Root, ev.Name)
	if err != nil {
		return
	}
	rel = filepath.ToSlash(rel)

	isDir := false
	if info, err := os.Stat(ev.Name); err == nil {
		isDir = info.IsDir()
	}
	if w.ignored(rel, isDir) {
		return
	}

	if filepath.Base(ev.Name) == ".gitignore" {
		w.reloadIgnore()
		if w.scans != nil {
			w.scans.InvalidateGitignore()
		}
		w.deb.add(FileEvent{Path: rel, Op: OpGitignore, At: time.Now()})
		return
	}

	var op Operation
	switch {
	case ev.Op&fsnotify.Create != 0:
		op = OpCreate
		if isDir {
			// New subtree: watch it and queue its files.
			_ = w.addRecursive(fsw, ev.Name)
			w.queueTree(ev.Name)
			return
		}
	case ev.Op&fsnotify.Write != 0:
		op = OpModify
	case ev.Op&fsnotify.Remove != 0:
		op = OpDelete
	case ev.Op&fsnotify.Rename != 0:
		op = OpRename
	default:
		// Chmod and friends carry no content change.
		return
	}
	if isDir {
		return
	}
	w.deb.add(FileEvent{Path: rel, Op: op, At: time.Now()})
}

// addRecursive watches every non-ignored directory under dir.
func (w *Watcher) addRecursive(fsw *fsnotify.Watcher, dir string) error {
	return filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil || !d.IsDir() {
			return nil
		}
		rel, rerr := filepath.Rel(w.opts.Root, path)
		if rerr != nil {
			return nil
		}
		rel = filepath.ToSlash(rel)
		if rel != "." && (skipDirs[d.Name()] || w.ignored(rel, true)) {
			return filepath.SkipDir
		}
		if aerr := fsw.Add(path); aerr != nil {
			w.log.Warn("watch_add_failed", slog.String("path", rel), slog.Any("error", aerr))
		}
		return nil
	})
}

// queueTree queues every file under a freshly created directory.
func (w *Watcher) queueTree(dir string) {
	_ = filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return nil
		}
		rel, rerr := filepath.Rel(w.opts.Root, path)
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
		w.deb.add(FileEvent{Path: rel, Op: OpCreate, At: time.Now()})
		return nil
	})
}

func (w *Watcher) ignored(rel string, isDir bool) bool {
	if rel == "." || rel == "" {
		return false
	}
	for _, part := range strings.Split(rel, "/") {
		if skipDirs[part] {
			return true
		}
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.ignore.Match(rel, isDir)
}

// reloadIgnore rebuilds the matcher from the root .gitignore plus the
// configured extra patterns.
func (w *Watcher) reloadIgnore() {
	m := gitignore.New()
	for _, p := range w.opts.Ignore {
		m.AddPattern(p)
	}
	gi := filepath.Join(w.opts.Root, ".gitignore")
	if _, err := os.Stat(gi); err == nil {
		if err := m.AddFromFile(gi, ""); err != nil {
			w.log.Warn("gitignore_load_failed", slog.Any("error", err))
		}
	}
	w.mu.Lock()
	w.ignore = m
	w.mu.Unlock()
}
