// Package rerank rescores packed candidates against the query through
// pluggable providers: a local cross-encoder server, hosted rerank
// APIs, or pure rank fusion. The bus tries providers in a declared
// fallback order, wraps every call with timeout, retry, and a circuit
// breaker, and caches results keyed by the exact provider, model,
// query, and document set.
package rerank

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"sort"
	"strings"
)

// Provider names known to the registry.
const (
	ProviderLocal  = "local_cross_encoder"
	ProviderCohere = "api_cohere"
	ProviderVoyage = "api_voyage"
	ProviderRRF    = "rrf_fusion"
	ProviderMock   = "mock"
)

// Document is one rerank input. ID is the chunk id the score maps
// back to; Content is what the provider reads.
type Document struct {
	ID      string `json:"id"`
	Content string `json:"content"`
}

// Ranked is one scored document, best first in provider output.
type Ranked struct {
	DocID string  `json:"doc_ref"`
	Score float64 `json:"score"`
}

// Provider is one reranking backend.
type Provider interface {
	// Name is the registry id.
	Name() string
	// Models lists the model ids the provider serves.
	Models() []string
	// Available reports whether the provider can take calls now.
	Available(ctx context.Context) bool
	// Rerank scores docs against the query, best first. An empty model
	// selects the provider default.
	Rerank(ctx context.Context, query, model string, docs []Document) ([]Ranked, error)
}

// CacheKey derives the deterministic cache key for a rerank call:
// sha256(provider|model|query|sorted doc ids).
func CacheKey(provider, model, query string, docs []Document) string {
	ids := make([]string, 0, len(docs))
	for _, d := range docs {
		ids = append(ids, d.ID)
	}
	sort.Strings(ids)

	var b strings.Builder
	b.WriteString(provider)
	b.WriteByte('|')
	b.WriteString(model)
	b.WriteByte('|')
	b.WriteString(query)
	b.WriteByte('|')
	b.WriteString(strings.Join(ids, ","))

	sum := sha256.Sum256([]byte(b.String()))
	return hex.EncodeToString(sum[:])
}

// sortRanked orders results score descending with doc id as the
// deterministic tie-break.
func sortRanked(out []Ranked) {
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].Score != out[j].Score {
			return out[i].Score > out[j].Score
		}
		return out[i].DocID < out[j].DocID
	})
}
