package seed

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pampax/pampax/internal/bundle"
	"github.com/pampax/pampax/internal/store"
)

func seedMemory(t *testing.T, s *store.Store, m *bundle.Memory) {
	t.Helper()
	require.NoError(t, s.UpsertMemory(context.Background(), m))
}

func TestMemoryGenerator_SessionAndGlobalItems(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	require.NoError(t, s.UpsertSession(ctx, &bundle.Session{ID: "sess-1", Repo: "app"}))
	require.NoError(t, s.UpsertSession(ctx, &bundle.Session{ID: "sess-2", Repo: "app"}))

	// Given: a global note, a note in our session, a note in another
	seedMemory(t, s, &bundle.Memory{ID: "m-global", Kind: "note",
		Content: "auth tokens rotate hourly"})
	seedMemory(t, s, &bundle.Memory{ID: "m-mine", SessionID: "sess-1", Kind: "decision",
		Content: "auth middleware lives in internal/auth"})
	seedMemory(t, s, &bundle.Memory{ID: "m-theirs", SessionID: "sess-2", Kind: "note",
		Content: "auth rate limits are generous"})

	gen := NewMemoryGenerator(s)

	// When
	cands, err := gen.Generate(ctx, Query{Text: "auth", SessionID: "sess-1"}, nil, 10)

	// Then: our session plus global, as memory refs with dense ranks
	require.NoError(t, err)
	assert.ElementsMatch(t,
		[]string{bundle.MemoryRef("m-global"), bundle.MemoryRef("m-mine")},
		candidateIDs(cands))
	for i, c := range cands {
		assert.Equal(t, bundle.SourceMemory, c.Source)
		assert.Equal(t, i+1, c.RankInSource)
		assert.True(t, bundle.IsMemoryRef(c.ChunkID))
	}
}

func TestMemoryGenerator_LowWeightKeepsOnlyPinned(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	seedMemory(t, s, &bundle.Memory{ID: "m-pin", Kind: "note",
		Content: "pinned auth gotcha", Pinned: true})
	seedMemory(t, s, &bundle.Memory{ID: "m-loose", Kind: "note",
		Content: "loose auth observation"})

	gen := NewMemoryGenerator(s)

	// When: the policy has deprioritized the memory source
	policy := &bundle.PolicyDecision{SeedWeights: map[string]float64{"memory": 0.5}}
	cands, err := gen.Generate(ctx, Query{Text: "auth"}, policy, 10)

	// Then: only the pinned item survives, re-ranked densely
	require.NoError(t, err)
	require.Len(t, cands, 1)
	assert.Equal(t, bundle.MemoryRef("m-pin"), cands[0].ChunkID)
	assert.Equal(t, 1, cands[0].RankInSource)

	// And: at neutral weight both come back
	cands, err = gen.Generate(ctx, Query{Text: "auth"}, nil, 10)
	require.NoError(t, err)
	assert.Len(t, cands, 2)
}

func TestMemoryGenerator_ExpiredExcluded(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	past := time.Now().Add(-time.Hour)

	seedMemory(t, s, &bundle.Memory{ID: "m-stale", Kind: "note",
		Content: "stale deploy note", ExpiresAt: past})
	seedMemory(t, s, &bundle.Memory{ID: "m-pinned-old", Kind: "note",
		Content: "pinned deploy runbook", ExpiresAt: past, Pinned: true})

	gen := NewMemoryGenerator(s)

	cands, err := gen.Generate(ctx, Query{Text: "deploy"}, nil, 10)

	require.NoError(t, err)
	require.Len(t, cands, 1)
	assert.Equal(t, bundle.MemoryRef("m-pinned-old"), cands[0].ChunkID)
}

func TestMemoryGenerator_NoTermsIsEmpty(t *testing.T) {
	s := newTestStore(t)
	gen := NewMemoryGenerator(s)

	cands, err := gen.Generate(context.Background(), Query{Text: "???"}, nil, 10)

	require.NoError(t, err)
	assert.Empty(t, cands)
}
