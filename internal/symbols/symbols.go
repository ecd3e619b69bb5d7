// Package symbols maintains a searchable name index over extracted
// spans. The symbol candidate generator resolves query entities through
// it by exact, prefix, fuzzy, and split-word matching, so "getUsrById"
// and "user repository" both reach their definitions without a table
// scan.
//
// The index lives next to the store (or in memory for tests) and is
// rebuilt from the span table whenever drift or corruption is detected.
package symbols

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/blevesearch/bleve/v2"
	"github.com/blevesearch/bleve/v2/analysis/analyzer/custom"
	"github.com/blevesearch/bleve/v2/analysis/analyzer/keyword"
	"github.com/blevesearch/bleve/v2/analysis/token/lowercase"
	"github.com/blevesearch/bleve/v2/analysis/tokenizer/single"
	"github.com/blevesearch/bleve/v2/mapping"
	"github.com/blevesearch/bleve/v2/search/query"

	"github.com/pampax/pampax/internal/bundle"
	"github.com/pampax/pampax/internal/errors"
)

// Analyzer names registered on the index mapping.
const (
	// exactAnalyzerName folds the whole name to one lowercased term,
	// serving exact, prefix, and fuzzy lookups.
	exactAnalyzerName = "symbol_exact"
	// wordsAnalyzerName splits the name into lowercased word parts.
	wordsAnalyzerName = "symbol_words"
)

// DefaultLimit caps Resolve results when the caller passes no limit.
const DefaultLimit = 50

// Boosts order the match layers. A true exact hit collects every
// contribution and surfaces first; word overlap alone ranks last.
const (
	boostExact  = 4.0
	boostPrefix = 2.0
	boostFuzzy  = 1.5
	boostWords  = 1.0
)

// Entry is one span name to index.
type Entry struct {
	SpanID string
	Repo   string
	Path   string
	Name   string
	Kind   bundle.SpanKind
}

// EntryForSpan builds an index entry from a stored span.
func EntryForSpan(sp *bundle.Span) Entry {
	return Entry{SpanID: sp.ID, Repo: sp.Repo, Path: sp.Path, Name: sp.Name, Kind: sp.Kind}
}

// Match is one resolution hit, ordered by descending score.
type Match struct {
	SpanID string
	Repo   string
	Path   string
	Name   string
	Kind   bundle.SpanKind
	Score  float64
	// Exact reports a case-insensitive whole-name match.
	Exact bool
}

// symbolDoc is the indexed document shape. The name is indexed twice:
// whole for exact and prefix matching, split for word matching.
type symbolDoc struct {
	Name  string `json:"name"`
	Words string `json:"words"`
	Kind  string `json:"kind"`
	Repo  string `json:"repo"`
	Path  string `json:"path"`
}

// Index resolves symbol names to span ids. Safe for concurrent use.
type Index struct {
	mu     sync.RWMutex
	idx    bleve.Index
	path   string
	closed bool
}

// New opens or creates a symbol index at path. An empty path creates an
// in-memory index. A corrupted on-disk index is cleared and recreated
// empty; the caller re-indexes to repopulate it.
func New(path string) (*Index, error) {
	const op = "symbols.New"

	im, err := buildMapping()
	if err != nil {
		return nil, errors.Wrap(errors.KindInternal, op, err)
	}

	var idx bleve.Index
	if path == "" {
		idx, err = bleve.NewMemOnly(im)
	} else {
		if mkErr := os.MkdirAll(filepath.Dir(path), 0o755); mkErr != nil {
			return nil, errors.Wrap(errors.KindInternal, op, mkErr)
		}

		if vErr := validateIndex(path); vErr != nil {
			slog.Warn("symbol_index_corrupted",
				slog.String("path", path),
				slog.String("error", vErr.Error()))
			if rmErr := os.RemoveAll(path); rmErr != nil {
				return nil, errors.E(errors.KindInternal, op, "clear corrupted symbol index", rmErr)
			}
			slog.Info("symbol_index_cleared",
				slog.String("path", path),
				slog.String("reason", "corruption detected, reindex to repopulate"))
		}

		idx, err = bleve.Open(path)
		if err == bleve.ErrorIndexPathDoesNotExist {
			idx, err = bleve.New(path, im)
		} else if err != nil && isCorruption(err) {
			slog.Warn("symbol_index_open_failed",
				slog.String("path", path),
				slog.String("error", err.Error()))
			if rmErr := os.RemoveAll(path); rmErr != nil {
				return nil, errors.E(errors.KindInternal, op, "clear corrupted symbol index", rmErr)
			}
			slog.Info("symbol_index_cleared",
				slog.String("path", path),
				slog.String("reason", "open failed, reindex to repopulate"))
			idx, err = bleve.New(path, im)
		}
	}
	if err != nil {
		return nil, errors.E(errors.KindInternal, op, "open symbol index", err)
	}

	return &Index{idx: idx, path: path}, nil
}

// buildMapping wires the two name analyzers and the keyword metadata
// fields into the default document mapping.
func buildMapping() (*mapping.IndexMappingImpl, error) {
	im := bleve.NewIndexMapping()

	err := im.AddCustomAnalyzer(exactAnalyzerName, map[string]interface{}{
		"type":          custom.Name,
		"tokenizer":     single.Name,
		"token_filters": []string{lowercase.Name},
	})
	if err != nil {
		return nil, fmt.Errorf("add exact analyzer: %w", err)
	}
	err = im.AddCustomAnalyzer(wordsAnalyzerName, map[string]interface{}{
		"type":          custom.Name,
		"tokenizer":     nameTokenizerName,
		"token_filters": []string{lowercase.Name},
	})
	if err != nil {
		return nil, fmt.Errorf("add words analyzer: %w", err)
	}

	nameFM := bleve.NewTextFieldMapping()
	nameFM.Analyzer = exactAnalyzerName
	nameFM.Store = true
	nameFM.IncludeInAll = false

	wordsFM := bleve.NewTextFieldMapping()
	wordsFM.Analyzer = wordsAnalyzerName
	wordsFM.Store = false
	wordsFM.IncludeInAll = false

	kindFM := bleve.NewTextFieldMapping()
	kindFM.Analyzer = keyword.Name
	kindFM.Store = true
	kindFM.IncludeInAll = false

	repoFM := bleve.NewTextFieldMapping()
	repoFM.Analyzer = keyword.Name
	repoFM.Store = true
	repoFM.IncludeInAll = false

	pathFM := bleve.NewTextFieldMapping()
	pathFM.Analyzer = keyword.Name
	pathFM.Store = true
	pathFM.IncludeInAll = false

	doc := bleve.NewDocumentMapping()
	doc.AddFieldMappingsAt("name", nameFM)
	doc.AddFieldMappingsAt("words", wordsFM)
	doc.AddFieldMappingsAt("kind", kindFM)
	doc.AddFieldMappingsAt("repo", repoFM)
	doc.AddFieldMappingsAt("path", pathFM)

	im.DefaultMapping = doc
	return im, nil
}

// validateIndex checks an on-disk index for the residue of interrupted
// writes before opening it. A missing index is fine; it gets created.
func validateIndex(path string) error {
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return nil
	}

	metaPath := filepath.Join(path, "index_meta.json")
	info, err := os.Stat(metaPath)
	if os.IsNotExist(err) {
		return fmt.Errorf("index_meta.json missing")
	}
	if err != nil {
		return fmt.Errorf("stat index_meta.json: %w", err)
	}
	if info.Size() == 0 {
		return fmt.Errorf("index_meta.json empty")
	}

	data, err := os.ReadFile(metaPath)
	if err != nil {
		return fmt.Errorf("read index_meta.json: %w", err)
	}
	var meta map[string]interface{}
	if err := json.Unmarshal(data, &meta); err != nil {
		return fmt.Errorf("index_meta.json unparseable: %w", err)
	}
	return nil
}

// isCorruption reports whether an open error indicates index corruption
// rather than a recoverable condition.
func isCorruption(err error) bool {
	if err == nil {
		return false
	}
	if err == bleve.ErrorIndexMetaCorrupt {
		return true
	}
	msg := err.Error()
	return strings.Contains(msg, "unexpected end of JSON") ||
		strings.Contains(msg, "error parsing mapping JSON") ||
		strings.Contains(msg, "failed to load segment") ||
		strings.Contains(msg, "error opening bolt") ||
		strings.Contains(msg, "no such file or directory")
}

// Add indexes entries in one batch. Entries without a name are skipped;
// re-adding a span id replaces its previous document.
func (x *Index) Add(ctx context.Context, entries []Entry) error {
	const op = "symbols.Add"
	if len(entries) == 0 {
		return nil
	}
	if err := ctx.Err(); err != nil {
		return errors.Wrap(errors.KindCancelled, op, err)
	}

	x.mu.Lock()
	defer x.mu.Unlock()
	if x.closed {
		return errors.E(errors.KindUnavailable, op, "symbol index is closed", nil)
	}

	batch := x.idx.NewBatch()
	for _, e := range entries {
		if e.SpanID == "" || strings.TrimSpace(e.Name) == "" {
			continue
		}
		doc := symbolDoc{
			Name:  e.Name,
			Words: e.Name,
			Kind:  string(e.Kind),
			Repo:  e.Repo,
			Path:  e.Path,
		}
		if err := batch.Index(e.SpanID, doc); err != nil {
			return errors.Ef(errors.KindInternal, op, "index span %s: %v", e.SpanID, err)
		}
	}
	if batch.Size() == 0 {
		return nil
	}
	if err := x.idx.Batch(batch); err != nil {
		return errors.Wrap(errors.KindInternal, op, err)
	}
	return nil
}

// AddSpans indexes the named spans among the given set.
func (x *Index) AddSpans(ctx context.Context, spans []*bundle.Span) error {
	entries := make([]Entry, 0, len(spans))
	for _, sp := range spans {
		if sp.Name == "" {
			continue
		}
		entries = append(entries, EntryForSpan(sp))
	}
	return x.Add(ctx, entries)
}

// Remove deletes entries by span id. Unknown ids are ignored.
func (x *Index) Remove(ctx context.Context, spanIDs []string) error {
	const op = "symbols.Remove"
	if len(spanIDs) == 0 {
		return nil
	}
	if err := ctx.Err(); err != nil {
		return errors.Wrap(errors.KindCancelled, op, err)
	}

	x.mu.Lock()
	defer x.mu.Unlock()
	if x.closed {
		return errors.E(errors.KindUnavailable, op, "symbol index is closed", nil)
	}

	batch := x.idx.NewBatch()
	for _, id := range spanIDs {
		batch.Delete(id)
	}
	if err := x.idx.Batch(batch); err != nil {
		return errors.Wrap(errors.KindInternal, op, err)
	}
	return nil
}

// RemovePath deletes every entry for one (repo, path) pair and returns
// how many were removed. Incremental re-indexing calls this before
// re-adding a changed file's spans.
func (x *Index) RemovePath(ctx context.Context, repo, path string) (int, error) {
	const op = "symbols.RemovePath"

	x.mu.Lock()
	defer x.mu.Unlock()
	if x.closed {
		return 0, errors.E(errors.KindUnavailable, op, "symbol index is closed", nil)
	}

	total, err := x.idx.DocCount()
	if err != nil {
		return 0, errors.Wrap(errors.KindInternal, op, err)
	}
	if total == 0 {
		return 0, nil
	}

	repoQ := bleve.NewTermQuery(repo)
	repoQ.SetField("repo")
	pathQ := bleve.NewTermQuery(path)
	pathQ.SetField("path")

	req := bleve.NewSearchRequest(bleve.NewConjunctionQuery(repoQ, pathQ))
	req.Size = int(total)

	res, err := x.idx.SearchInContext(ctx, req)
	if err != nil {
		return 0, errors.Wrap(errors.KindInternal, op, err)
	}
	if len(res.Hits) == 0 {
		return 0, nil
	}

	batch := x.idx.NewBatch()
	for _, hit := range res.Hits {
		batch.Delete(hit.ID)
	}
	if err := x.idx.Batch(batch); err != nil {
		return 0, errors.Wrap(errors.KindInternal, op, err)
	}
	return len(res.Hits), nil
}

// Resolve finds spans whose name matches the query by exact, prefix,
// fuzzy, or word overlap, best first. A non-empty repo narrows the
// search. Blank queries return an empty result, not an error.
func (x *Index) Resolve(ctx context.Context, name string, k int, repo string) ([]Match, error) {
	const op = "symbols.Resolve"

	x.mu.RLock()
	defer x.mu.RUnlock()
	if x.closed {
		return nil, errors.E(errors.KindUnavailable, op, "symbol index is closed", nil)
	}

	trimmed := strings.TrimSpace(name)
	if trimmed == "" {
		return []Match{}, nil
	}
	if k <= 0 {
		k = DefaultLimit
	}

	req := bleve.NewSearchRequest(buildResolveQuery(trimmed, repo))
	req.Size = k
	req.Fields = []string{"name", "kind", "repo", "path"}

	res, err := x.idx.SearchInContext(ctx, req)
	if err != nil {
		return nil, errors.Wrap(errors.KindInternal, op, err)
	}

	matches := make([]Match, 0, len(res.Hits))
	for _, hit := range res.Hits {
		m := Match{
			SpanID: hit.ID,
			Score:  hit.Score,
			Name:   fieldString(hit.Fields, "name"),
			Kind:   bundle.SpanKind(fieldString(hit.Fields, "kind")),
			Repo:   fieldString(hit.Fields, "repo"),
			Path:   fieldString(hit.Fields, "path"),
		}
		m.Exact = strings.EqualFold(m.Name, trimmed)
		matches = append(matches, m)
	}
	return matches, nil
}

// buildResolveQuery layers the match strategies over the name fields.
func buildResolveQuery(name, repo string) query.Query {
	lower := strings.ToLower(name)

	exact := bleve.NewTermQuery(lower)
	exact.SetField("name")
	exact.SetBoost(boostExact)

	prefix := bleve.NewPrefixQuery(lower)
	prefix.SetField("name")
	prefix.SetBoost(boostPrefix)

	layers := []query.Query{exact, prefix}

	if fz := fuzziness(lower); fz > 0 {
		fuzzy := bleve.NewFuzzyQuery(lower)
		fuzzy.SetField("name")
		fuzzy.SetFuzziness(fz)
		fuzzy.SetBoost(boostFuzzy)
		layers = append(layers, fuzzy)
	}

	words := bleve.NewMatchQuery(name)
	words.SetField("words")
	words.SetBoost(boostWords)
	layers = append(layers, words)

	var q query.Query = bleve.NewDisjunctionQuery(layers...)
	if repo != "" {
		repoQ := bleve.NewTermQuery(repo)
		repoQ.SetField("repo")
		q = bleve.NewConjunctionQuery(q, repoQ)
	}
	return q
}

// fuzziness scales allowed edit distance with name length. Fuzzy
// matching two-character names is all noise, so very short names
// stay exact.
func fuzziness(name string) int {
	switch n := len(name); {
	case n >= 6:
		return 2
	case n >= 3:
		return 1
	default:
		return 0
	}
}

// Count returns the number of indexed names.
func (x *Index) Count() (uint64, error) {
	const op = "symbols.Count"

	x.mu.RLock()
	defer x.mu.RUnlock()
	if x.closed {
		return 0, errors.E(errors.KindUnavailable, op, "symbol index is closed", nil)
	}

	n, err := x.idx.DocCount()
	if err != nil {
		return 0, errors.Wrap(errors.KindInternal, op, err)
	}
	return n, nil
}

// Reset drops every entry and starts a fresh index in place. The full
// re-index path calls this before replaying the span table.
func (x *Index) Reset() error {
	const op = "symbols.Reset"

	x.mu.Lock()
	defer x.mu.Unlock()
	if x.closed {
		return errors.E(errors.KindUnavailable, op, "symbol index is closed", nil)
	}

	if x.idx != nil {
		_ = x.idx.Close()
	}

	im, err := buildMapping()
	if err != nil {
		return errors.Wrap(errors.KindInternal, op, err)
	}
	if x.path == "" {
		x.idx, err = bleve.NewMemOnly(im)
	} else {
		if rmErr := os.RemoveAll(x.path); rmErr != nil {
			return errors.E(errors.KindInternal, op, "clear symbol index", rmErr)
		}
		x.idx, err = bleve.New(x.path, im)
	}
	if err != nil {
		return errors.E(errors.KindInternal, op, "recreate symbol index", err)
	}
	return nil
}

// Close releases the index. Safe to call more than once.
func (x *Index) Close() error {
	x.mu.Lock()
	defer x.mu.Unlock()

	if x.closed {
		return nil
	}
	x.closed = true
	if x.idx != nil {
		return x.idx.Close()
	}
	return nil
}

func fieldString(fields map[string]interface{}, key string) string {
	if v, ok := fields[key].(string); ok {
		return v
	}
	return ""
}
