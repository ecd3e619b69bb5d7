package seed

import (
	"context"

	"github.com/pampax/pampax/internal/bundle"
	"github.com/pampax/pampax/internal/errors"
	"github.com/pampax/pampax/internal/store"
)

// FTSStore is the store surface the full-text generator reads.
type FTSStore interface {
	SearchFTS(ctx context.Context, query string, k int, filter *store.SearchFilter) ([]*store.FTSResult, error)
}

// FTSGenerator ranks chunks by lexical match against the full-text
// mirror.
type FTSGenerator struct {
	store FTSStore
}

// NewFTSGenerator returns a generator backed by the given store.
func NewFTSGenerator(s FTSStore) *FTSGenerator {
	return &FTSGenerator{store: s}
}

// Source implements Generator.
func (g *FTSGenerator) Source() bundle.Source { return bundle.SourceFTS }

// Generate implements Generator. A query that produces no usable terms
// yields an empty list.
func (g *FTSGenerator) Generate(ctx context.Context, q Query, _ *bundle.PolicyDecision, k int) ([]bundle.Candidate, error) {
	const op = "seed.FTSGenerator.Generate"
	if k <= 0 {
		k = DefaultK
	}

	results, err := g.store.SearchFTS(ctx, q.Text, k, searchFilter(q))
	if err != nil {
		return nil, errors.Wrap(errors.KindInternal, op, err)
	}

	out := make([]bundle.Candidate, 0, len(results))
	for i, r := range results {
		out = append(out, bundle.Candidate{
			ChunkID:      r.ChunkID,
			Source:       bundle.SourceFTS,
			RawScore:     r.Score,
			RankInSource: i + 1,
		})
	}
	return out, nil
}
