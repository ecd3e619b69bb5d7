package scanner

import (
	"bytes"
	"context"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/gobwas/glob"
	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/pampax/pampax/internal/errors"
	"github.com/pampax/pampax/internal/gitignore"
)

// gitignoreCacheSize bounds the per-directory matcher cache.
const gitignoreCacheSize = 1000

// Scanner discovers indexable files. Safe for concurrent use.
type Scanner struct {
	mu        sync.RWMutex
	gitignore *lru.Cache[string, *gitignore.Matcher]
}

// New builds a scanner.
func New() (*Scanner, error) {
	const op = "scanner.New"
	cache, err := lru.New[string, *gitignore.Matcher](gitignoreCacheSize)
	if err != nil {
		return nil, errors.Wrap(errors.KindInternal, op, err)
	}
	return &Scanner{gitignore: cache}, nil
}

// Scan streams discovered files. The channel closes when the walk
// finishes; a walk-level failure arrives as the final Result.
func (s *Scanner) Scan(ctx context.Context, opts Options) (<-chan Result, error) {
	const op = "scanner.Scan"

	root := opts.Root
	if root == "" {
		root = "."
	}
	absRoot, err := filepath.Abs(root)
	if err != nil {
		return nil, errors.Wrap(errors.KindInvalidInput, op, err)
	}
	info, err := os.Stat(absRoot)
	if err != nil {
		return nil, errors.Wrap(errors.KindNotFound, op, err)
	}
	if !info.IsDir() {
		return nil, errors.E(errors.KindInvalidInput, op, "root is not a directory: "+absRoot, nil)
	}

	maxSize := opts.MaxFileSize
	if maxSize <= 0 {
		maxSize = DefaultMaxFileSize
	}

	include, err := compilePatterns(opts.Include)
	if err != nil {
		return nil, errors.Wrap(errors.KindInvalidInput, op, err)
	}
	exclude, err := compilePatterns(opts.Exclude)
	if err != nil {
		return nil, errors.Wrap(errors.KindInvalidInput, op, err)
	}

	results := make(chan Result, 64)
	go func() {
		defer close(results)
		s.walk(ctx, absRoot, opts, maxSize, include, exclude, results)
	}()
	return results, nil
}

// InvalidateGitignore clears cached matchers after .gitignore edits.
func (s *Scanner) InvalidateGitignore() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.gitignore.Purge()
}

func (s *Scanner) walk(ctx context.Context, absRoot string, opts Options, maxSize int64, include, exclude []glob.Glob, results chan<- Result) {
	err := filepath.WalkDir(absRoot, func(path string, d fs.DirEntry, err error) error {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}
		if err != nil {
			return nil // unreadable entries just drop
		}

		rel, err := filepath.Rel(absRoot, path)
		if err != nil || rel == "." {
			return nil
		}
		rel = filepath.ToSlash(rel)

		if d.IsDir() {
			if excludedDir(rel, exclude) {
				return filepath.SkipDir
			}
			if opts.RespectGitignore && s.gitignored(rel, absRoot, true) {
				return filepath.SkipDir
			}
			return nil
		}
		if d.Type()&fs.ModeSymlink != 0 && !opts.FollowSymlinks {
			return nil
		}
		if excludedFile(rel, exclude) {
			return nil
		}
		if opts.RespectGitignore && s.gitignored(rel, absRoot, false) {
			return nil
		}
		if len(include) > 0 && !matchAny(rel, include) {
			return nil
		}

		info, err := d.Info()
		if err != nil {
			return nil
		}
		if info.Size() > maxSize {
			return nil
		}
		if isBinary(path) {
			return nil
		}

		f := &FileInfo{
			Path:    rel,
			AbsPath: path,
			Size:    info.Size(),
			ModTime: info.ModTime(),
			Lang:    DetectLang(rel),
		}
		select {
		case results <- Result{File: f}:
		case <-ctx.Done():
			return ctx.Err()
		}
		return nil
	})

	if err != nil && ctx.Err() == nil {
		select {
		case results <- Result{Err: err}:
		case <-ctx.Done():
		}
	}
}

// compilePatterns compiles glob patterns with '/' as the separator.
func compilePatterns(patterns []string) ([]glob.Glob, error) {
	out := make([]glob.Glob, 0, len(patterns))
	for _, p := range patterns {
		g, err := glob.Compile(p, '/')
		if err != nil {
			return nil, err
		}
		out = append(out, g)
	}
	return out, nil
}

// matchAny matches a pattern against the relative path, or just the
// base name for patterns without a path component.
func matchAny(rel string, globs []glob.Glob) bool {
	base := filepath.Base(rel)
	for _, g := range globs {
		if g.Match(rel) || g.Match(base) {
			return true
		}
	}
	return false
}

func excludedDir(rel string, exclude []glob.Glob) bool {
	base := filepath.Base(rel)
	for _, dir := range defaultExcludeDirs {
		if base == dir {
			return true
		}
	}
	return matchAny(rel, exclude)
}

func excludedFile(rel string, exclude []glob.Glob) bool {
	if matchAny(rel, sensitiveGlobs) {
		return true
	}
	base := filepath.Base(rel)
	for _, g := range defaultExcludeGlobs {
		if g.Match(rel) || g.Match(base) {
			return true
		}
	}
	return matchAny(rel, exclude)
}

// isBinary sniffs for a null byte in the first 512 bytes.
func isBinary(path string) bool {
	f, err := os.Open(path)
	if err != nil {
		return false
	}
	defer func() { _ = f.Close() }()
	buf := make([]byte, 512)
	n, err := f.Read(buf)
	if err != nil || n == 0 {
		return false
	}
	return bytes.IndexByte(buf[:n], 0) >= 0
}

// gitignored checks the root .gitignore plus every nested one on the
// path's directory chain.
func (s *Scanner) gitignored(rel, absRoot string, isDir bool) bool {
	if m := s.matcherFor(absRoot, ""); m != nil && m.Match(rel, isDir) {
		return true
	}
	dir := filepath.Dir(rel)
	if dir == "." {
		return false
	}
	current := absRoot
	base := ""
	for _, part := range strings.Split(dir, "/") {
		current = filepath.Join(current, part)
		base = filepath.ToSlash(filepath.Join(base, part))
		if m := s.matcherFor(current, base); m != nil && m.Match(rel, isDir) {
			return true
		}
	}
	return false
}

func (s *Scanner) matcherFor(dir, base string) *gitignore.Matcher {
	s.mu.RLock()
	m, ok := s.gitignore.Get(dir)
	s.mu.RUnlock()
	if ok {
		return m
	}

	path := filepath.Join(dir, ".gitignore")
	if _, err := os.Stat(path); err != nil {
		return nil
	}
	m = gitignore.New()
	if err := m.AddFromFile(path, base); err != nil {
		return nil
	}

	s.mu.Lock()
	s.gitignore.Add(dir, m)
	s.mu.Unlock()
	return m
}

// defaultExcludeDirs are never descended into.
var defaultExcludeDirs = []string{
	".git",
	"node_modules",
	"vendor",
	"__pycache__",
	"dist",
	"build",
	".ssh",
	".aws",
}

// defaultExcludeGlobs drop derived artifacts.
var defaultExcludeGlobs = mustCompile([]string{
	"*.min.js",
	"*.min.css",
	"package-lock.json",
	"yarn.lock",
	"pnpm-lock.yaml",
	"go.sum",
})

// sensitiveGlobs name files that are never indexed regardless of
// options.
var sensitiveGlobs = mustCompile([]string{
	".env",
	".env.*",
	"*.pem",
	"*.key",
	"*.p12",
	"*.pfx",
	"*credentials*",
	"*secrets*",
	"*password*",
	".netrc",
	".npmrc",
	".pypirc",
	"id_rsa",
	"id_dsa",
	"id_ecdsa",
	"id_ed25519",
})

func mustCompile(patterns []string) []glob.Glob {
	out := make([]glob.Glob, 0, len(patterns))
	for _, p := range patterns {
		out = append(out, glob.MustCompile(p, '/'))
	}
	return out
}
