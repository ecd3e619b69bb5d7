package seed

import (
	"context"

	"github.com/pampax/pampax/internal/bundle"
	"github.com/pampax/pampax/internal/errors"
	"github.com/pampax/pampax/internal/store"
)

// MemoryStore is the store surface the memory generator reads.
type MemoryStore interface {
	SearchMemories(ctx context.Context, query, sessionID string, k int) ([]*store.MemoryHit, error)
}

// pinnedOnlyBelow is the memory seed weight under which only pinned
// items qualify. A deprioritized memory source keeps high-precision
// pins and drops loose notes.
const pinnedOnlyBelow = 1.0

// MemoryGenerator surfaces remembered notes and pinned facts matching
// the query. Candidates carry memory refs so downstream stages resolve
// them from the memory table, not the chunk table.
type MemoryGenerator struct {
	store MemoryStore
}

// NewMemoryGenerator returns a generator backed by the given store.
func NewMemoryGenerator(s MemoryStore) *MemoryGenerator {
	return &MemoryGenerator{store: s}
}

// Source implements Generator.
func (g *MemoryGenerator) Source() bundle.Source { return bundle.SourceMemory }

// Generate implements Generator. Results cover the query session plus
// globally scoped items; expired memories never appear.
func (g *MemoryGenerator) Generate(ctx context.Context, q Query, policy *bundle.PolicyDecision, k int) ([]bundle.Candidate, error) {
	const op = "seed.MemoryGenerator.Generate"
	if k <= 0 {
		k = DefaultK
	}

	hits, err := g.store.SearchMemories(ctx, q.Text, q.SessionID, k)
	if err != nil {
		return nil, errors.Wrap(errors.KindInternal, op, err)
	}

	pinnedOnly := policy != nil && policy.Weight(string(bundle.SourceMemory)) < pinnedOnlyBelow

	out := make([]bundle.Candidate, 0, len(hits))
	rank := 0
	for _, h := range hits {
		if pinnedOnly && !h.Memory.Pinned {
			continue
		}
		rank++
		out = append(out, bundle.Candidate{
			ChunkID:      bundle.MemoryRef(h.Memory.ID),
			Source:       bundle.SourceMemory,
			RawScore:     h.Score,
			RankInSource: rank,
		})
	}
	return out, nil
}
