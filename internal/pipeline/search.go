package pipeline

import (
	"context"
	"log/slog"
	"strings"
	"time"

	"github.com/pampax/pampax/internal/bundle"
	"github.com/pampax/pampax/internal/errors"
	"github.com/pampax/pampax/internal/intent"
	"github.com/pampax/pampax/internal/policy"
	"github.com/pampax/pampax/internal/reliability"
	"github.com/pampax/pampax/internal/seed"
)

// SearchRequest describes one ranked-candidate query.
type SearchRequest struct {
	Query string
	// K bounds the result list; zero uses the seed default.
	K int
	// Repo and Language narrow retrieval when set.
	Repo     string
	Language string
	// SessionID scopes the memory generator.
	SessionID string
	// IntentOverride skips classification when set.
	IntentOverride bundle.Intent
	// TargetModel and TokenBudget inform policy adjustment only; Search
	// does not pack.
	TargetModel string
	TokenBudget int
}

// SearchItem is one ranked result.
type SearchItem struct {
	ChunkID   string          `json:"chunk_id"`
	SpanID    string          `json:"span_id,omitempty"`
	Path      string          `json:"path"`
	Name      string          `json:"name,omitempty"`
	Kind      bundle.SpanKind `json:"kind,omitempty"`
	Signature string          `json:"signature,omitempty"`
	Score     float64         `json:"score"`
	Rank      int             `json:"rank"`
	Sources   []bundle.Source `json:"sources"`
	// Content carries the chunk text when the policy includes content.
	Content string `json:"content,omitempty"`
}

// SearchResult is the ranked answer to one search.
type SearchResult struct {
	Query           string                  `json:"query"`
	Intent          intent.Result           `json:"intent"`
	Items           []SearchItem            `json:"results"`
	StoppingReasons []bundle.StoppingReason `json:"stopping_reasons,omitempty"`
	Duration        time.Duration           `json:"-"`
}

// Search classifies the query, gates a policy, fans out the candidate
// generators, and fuses their lists into one deterministic ranking.
func (p *Pipeline) Search(ctx context.Context, req SearchRequest) (*SearchResult, error) {
	const op = "pipeline.Search"
	start := time.Now()

	if strings.TrimSpace(req.Query) == "" {
		return nil, errors.E(errors.KindInvalidInput, op, "query is empty", nil)
	}
	ctx, cancel := p.timeouts.WithTimeout(ctx, reliability.OpSearch)
	defer cancel()

	res, err := p.classifyOrOverride(ctx, req.Query, req.IntentOverride)
	if err != nil {
		return nil, err
	}
	decision, err := p.deps.Gate.Decide(res, policy.SearchContext{
		Repo:        req.Repo,
		Language:    req.Language,
		QueryLength: len(req.Query),
		Budget:      req.TokenBudget,
	})
	if err != nil {
		return nil, err
	}

	q := seed.Query{
		Text:      req.Query,
		Intent:    res,
		Repo:      req.Repo,
		Language:  req.Language,
		SessionID: req.SessionID,
	}
	seeds, err := p.deps.Seeds.Run(ctx, q, &decision, req.K)
	if err != nil {
		return nil, errors.Wrap(errors.KindOf(err), op, err)
	}
	fused := p.deps.Mixer.Mix(seeds, q, &decision, req.K)

	items, err := p.resolveItems(ctx, fused, decision.IncludeContent)
	if err != nil {
		return nil, errors.Wrap(errors.KindOf(err), op, err)
	}

	out := &SearchResult{
		Query:           req.Query,
		Intent:          res,
		Items:           items,
		StoppingReasons: seeds.Reasons,
		Duration:        time.Since(start),
	}
	p.logSearch(ctx, req.Query, res.Intent, len(items), out.Duration)
	return out, nil
}

// resolveItems loads chunk and span metadata for fused candidates,
// keeping the fused order.
func (p *Pipeline) resolveItems(ctx context.Context, fused []bundle.Fused, includeContent bool) ([]SearchItem, error) {
	if len(fused) == 0 {
		return nil, nil
	}

	ids := make([]string, 0, len(fused))
	for _, f := range fused {
		if !bundle.IsMemoryRef(f.ChunkID) {
			ids = append(ids, f.ChunkID)
		}
	}
	chunks, err := p.deps.Store.ChunksByIDs(ctx, ids)
	if err != nil {
		return nil, err
	}
	mems, err := p.resolveMemories(ctx, fused)
	if err != nil {
		return nil, err
	}

	spanIDs := make([]string, 0, len(chunks))
	for _, c := range chunks {
		if c.SpanID != "" {
			spanIDs = append(spanIDs, c.SpanID)
		}
	}
	spans := make(map[string]*bundle.Span, len(spanIDs))
	if len(spanIDs) > 0 {
		list, err := p.deps.Store.SpansByIDs(ctx, spanIDs)
		if err != nil {
			return nil, err
		}
		for _, sp := range list {
			spans[sp.ID] = sp
		}
	}

	items := make([]SearchItem, 0, len(fused))
	for _, f := range fused {
		if memID, ok := bundle.MemoryIDFromRef(f.ChunkID); ok {
			m := mems[memID]
			if m == nil {
				continue
			}
			items = append(items, SearchItem{
				ChunkID: f.ChunkID,
				Name:    memoryName(m),
				Score:   f.Score,
				Rank:    len(items) + 1,
				Sources: f.Sources,
				// The content is the result for a memory; it rides along
				// regardless of the content flag.
				Content: m.Content,
			})
			continue
		}
		c, ok := chunks[f.ChunkID]
		if !ok {
			// A chunk deleted between fusion and resolution just drops.
			continue
		}
		it := SearchItem{
			ChunkID: f.ChunkID,
			SpanID:  c.SpanID,
			Path:    c.Path,
			Score:   f.Score,
			Rank:    len(items) + 1,
			Sources: f.Sources,
		}
		if sp, ok := spans[c.SpanID]; ok {
			it.Name = sp.Name
			it.Kind = sp.Kind
			it.Signature = sp.Signature
		}
		if includeContent {
			it.Content = c.Content
		}
		items = append(items, it)
	}
	return items, nil
}

// resolveMemories hydrates the memory-backed candidates among the
// fused list, keyed by memory id. A memory forgotten between fusion
// and resolution drops silently, the same way a deleted chunk does.
func (p *Pipeline) resolveMemories(ctx context.Context, fused []bundle.Fused) (map[string]*bundle.Memory, error) {
	var mems map[string]*bundle.Memory
	for _, f := range fused {
		id, ok := bundle.MemoryIDFromRef(f.ChunkID)
		if !ok {
			continue
		}
		m, err := p.deps.Store.MemoryByID(ctx, id)
		if err != nil {
			if errors.IsKind(err, errors.KindNotFound) {
				continue
			}
			return nil, err
		}
		if mems == nil {
			mems = make(map[string]*bundle.Memory)
		}
		mems[id] = m
	}
	return mems, nil
}

// memoryName labels a memory item: its key when set, else its kind.
func memoryName(m *bundle.Memory) string {
	if m.Key != "" {
		return m.Key
	}
	return m.Kind
}

// logSearch records the query in the search log. Log failures never
// fail the query.
func (p *Pipeline) logSearch(ctx context.Context, query string, it bundle.Intent, results int, elapsed time.Duration) {
	if err := p.deps.Store.LogSearch(ctx, query, string(it), results, elapsed); err != nil {
		p.log.Debug("search_log_failed", slog.Any("error", err))
	}
}
