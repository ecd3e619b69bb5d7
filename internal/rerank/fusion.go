package rerank

import (
	"context"
	"strings"

	"github.com/pampax/pampax/internal/bundle"
	"github.com/pampax/pampax/internal/errors"
)

// rrfK is the standard reciprocal-rank-fusion constant.
const rrfK = 60

// RRFProvider fuses rankings without any external call. Given one
// document list it keeps the input order; its real work is Fuse,
// which merges several ranked lists.
type RRFProvider struct{}

// NewRRFProvider builds the fusion provider.
func NewRRFProvider() *RRFProvider { return &RRFProvider{} }

// Name implements Provider.
func (p *RRFProvider) Name() string { return ProviderRRF }

// Models implements Provider.
func (p *RRFProvider) Models() []string { return []string{"rrf"} }

// Available implements Provider. Fusion needs nothing external.
func (p *RRFProvider) Available(context.Context) bool { return true }

// Rerank scores each document by its input position, 1/(K+rank).
// Duplicate ids keep their best position.
func (p *RRFProvider) Rerank(_ context.Context, _ string, _ string, docs []Document) ([]Ranked, error) {
	seen := make(map[string]struct{}, len(docs))
	out := make([]Ranked, 0, len(docs))
	for i, d := range docs {
		if _, dup := seen[d.ID]; dup {
			continue
		}
		seen[d.ID] = struct{}{}
		out = append(out, Ranked{DocID: d.ID, Score: 1.0 / float64(rrfK+i+1)})
	}
	return out, nil
}

// Fuse merges several ranked id lists with reciprocal rank fusion.
// Ties break on doc id for determinism.
func (p *RRFProvider) Fuse(lists [][]string) []Ranked {
	scores := make(map[string]float64)
	for _, list := range lists {
		for i, id := range list {
			scores[id] += 1.0 / float64(rrfK+i+1)
		}
	}
	out := make([]Ranked, 0, len(scores))
	for id, score := range scores {
		out = append(out, Ranked{DocID: id, Score: score})
	}
	sortRanked(out)
	return out
}

// MockProvider scores documents by query-token overlap. Deterministic
// and offline; the test double and the last-resort fallback.
type MockProvider struct {
	// Fail forces every call to error, for breaker tests.
	Fail bool
}

// NewMockProvider builds the mock provider.
func NewMockProvider() *MockProvider { return &MockProvider{} }

// Name implements Provider.
func (p *MockProvider) Name() string { return ProviderMock }

// Models implements Provider.
func (p *MockProvider) Models() []string { return []string{"mock"} }

// Available implements Provider.
func (p *MockProvider) Available(context.Context) bool { return !p.Fail }

// Rerank implements Provider with a token-overlap score.
func (p *MockProvider) Rerank(_ context.Context, query, _ string, docs []Document) ([]Ranked, error) {
	if p.Fail {
		return nil, errors.E(errors.KindUnavailable, "rerank.mock", "mock provider forced failure", nil)
	}

	qTokens := tokenize(query)
	out := make([]Ranked, 0, len(docs))
	for _, d := range docs {
		out = append(out, Ranked{DocID: d.ID, Score: overlap(qTokens, tokenize(d.Content))})
	}
	sortRanked(out)
	return out, nil
}

func tokenize(s string) map[string]struct{} {
	set := make(map[string]struct{})
	for _, f := range strings.FieldsFunc(strings.ToLower(s), func(r rune) bool {
		return !('a' <= r && r <= 'z' || '0' <= r && r <= '9')
	}) {
		if len(f) >= 2 {
			set[f] = struct{}{}
		}
	}
	return set
}

func overlap(q, d map[string]struct{}) float64 {
	if len(q) == 0 {
		return 0
	}
	hit := 0
	for tok := range q {
		if _, ok := d[tok]; ok {
			hit++
		}
	}
	return float64(hit) / float64(len(q))
}

// ItemsToDocuments adapts bundle items for provider input.
func ItemsToDocuments(items []bundle.Item) []Document {
	docs := make([]Document, len(items))
	for i, it := range items {
		docs[i] = Document{ID: it.ChunkID, Content: it.ChunkContent}
	}
	return docs
}
