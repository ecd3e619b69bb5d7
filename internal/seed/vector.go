package seed

import (
	"context"

	"github.com/pampax/pampax/internal/bundle"
	"github.com/pampax/pampax/internal/embed"
	"github.com/pampax/pampax/internal/errors"
	"github.com/pampax/pampax/internal/store"
)

// VectorStore is the store surface the vector generator reads.
type VectorStore interface {
	ANNSearch(ctx context.Context, queryVec []float32, model string, k int, filter *store.SearchFilter) ([]*store.ANNResult, error)
}

// VectorGenerator ranks chunks by embedding similarity to the query.
// A store holding no vectors for the active model is an empty source,
// not a failure; the other generators carry the query.
type VectorGenerator struct {
	embedder embed.Embedder
	store    VectorStore
}

// NewVectorGenerator returns a generator using the given embedder and
// store.
func NewVectorGenerator(e embed.Embedder, s VectorStore) *VectorGenerator {
	return &VectorGenerator{embedder: e, store: s}
}

// Source implements Generator.
func (g *VectorGenerator) Source() bundle.Source { return bundle.SourceVector }

// Generate implements Generator.
func (g *VectorGenerator) Generate(ctx context.Context, q Query, _ *bundle.PolicyDecision, k int) ([]bundle.Candidate, error) {
	const op = "seed.VectorGenerator.Generate"
	if k <= 0 {
		k = DefaultK
	}

	vec, err := g.embedder.Embed(ctx, q.Text)
	if err != nil {
		return nil, errors.Wrap(errors.KindUnavailable, op, err)
	}

	results, err := g.store.ANNSearch(ctx, vec, g.embedder.ModelName(), k, searchFilter(q))
	if err != nil {
		return nil, errors.Wrap(errors.KindInternal, op, err)
	}

	out := make([]bundle.Candidate, 0, len(results))
	for i, r := range results {
		out = append(out, bundle.Candidate{
			ChunkID:      r.ChunkID,
			Source:       bundle.SourceVector,
			RawScore:     r.Score,
			RankInSource: i + 1,
		})
	}
	return out, nil
}
