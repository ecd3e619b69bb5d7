package bundle

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSpanID_Deterministic(t *testing.T) {
	// Given: two spans built from identical fields
	a := SpanID("repo", "src/user.py", 10, 120, KindFunction, "get_user_by_id", "def get_user_by_id(id)", "Fetch a user.", []string{"module"})
	b := SpanID("repo", "src/user.py", 10, 120, KindFunction, "get_user_by_id", "def get_user_by_id(id)", "Fetch a user.", []string{"module"})

	// Then: ids are byte-equal
	assert.Equal(t, a, b)
	assert.Len(t, a, 64)
}

func TestSpanID_SensitiveToEveryField(t *testing.T) {
	base := SpanID("repo", "a.go", 0, 10, KindFunction, "f", "func f()", "", nil)

	tests := []struct {
		name string
		id   string
	}{
		{"repo", SpanID("other", "a.go", 0, 10, KindFunction, "f", "func f()", "", nil)},
		{"path", SpanID("repo", "b.go", 0, 10, KindFunction, "f", "func f()", "", nil)},
		{"range", SpanID("repo", "a.go", 0, 11, KindFunction, "f", "func f()", "", nil)},
		{"kind", SpanID("repo", "a.go", 0, 10, KindMethod, "f", "func f()", "", nil)},
		{"name", SpanID("repo", "a.go", 0, 10, KindFunction, "g", "func f()", "", nil)},
		{"signature", SpanID("repo", "a.go", 0, 10, KindFunction, "f", "func f(x int)", "", nil)},
		{"doc", SpanID("repo", "a.go", 0, 10, KindFunction, "f", "func f()", "doc", nil)},
		{"parents", SpanID("repo", "a.go", 0, 10, KindFunction, "f", "func f()", "", []string{"T"})},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.NotEqual(t, base, tt.id)
		})
	}
}

func TestChunkID_Deterministic(t *testing.T) {
	spanID := SpanID("repo", "a.go", 0, 10, KindFunction, "f", "", "", nil)
	assert.Equal(t, ChunkID(spanID, "ctx"), ChunkID(spanID, "ctx"))
	assert.NotEqual(t, ChunkID(spanID, "ctx"), ChunkID(spanID, "other"))
}

func TestMemoryRef_RoundTrip(t *testing.T) {
	ref := MemoryRef("mem-123")
	assert.True(t, IsMemoryRef(ref))

	id, ok := MemoryIDFromRef(ref)
	require.True(t, ok)
	assert.Equal(t, "mem-123", id)
}

func TestMemoryRef_OrdinaryChunkID(t *testing.T) {
	chunkID := ChunkID("span", "ctx")
	assert.False(t, IsMemoryRef(chunkID))

	_, ok := MemoryIDFromRef(chunkID)
	assert.False(t, ok)
}

func TestSpanValid(t *testing.T) {
	s := &Span{Repo: "r", Path: "p", ByteStart: 5, ByteEnd: 10}
	assert.True(t, s.Valid())

	s.ByteEnd = 5
	assert.False(t, s.Valid(), "byte_start must be strictly before byte_end")
}

func TestPolicyDecision_Validate(t *testing.T) {
	valid := &PolicyDecision{
		Intent:             IntentSymbol,
		MaxDepth:           2,
		EarlyStopThreshold: 3,
		SeedWeights:        map[string]float64{"definition": 2.0},
	}
	assert.Empty(t, valid.Validate())

	tests := []struct {
		name   string
		mutate func(*PolicyDecision)
	}{
		{"depth too low", func(p *PolicyDecision) { p.MaxDepth = 0 }},
		{"depth too high", func(p *PolicyDecision) { p.MaxDepth = 11 }},
		{"early stop too low", func(p *PolicyDecision) { p.EarlyStopThreshold = 0 }},
		{"early stop too high", func(p *PolicyDecision) { p.EarlyStopThreshold = 51 }},
		{"weight too low", func(p *PolicyDecision) { p.SeedWeights["definition"] = 0.05 }},
		{"weight too high", func(p *PolicyDecision) { p.SeedWeights["definition"] = 5.5 }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := valid.Clone()
			tt.mutate(p)
			assert.NotEmpty(t, p.Validate())
		})
	}
}

func TestPolicyDecision_CloneIsDeep(t *testing.T) {
	p := &PolicyDecision{MaxDepth: 2, EarlyStopThreshold: 3, SeedWeights: map[string]float64{"usage": 1.0}}
	cp := p.Clone()
	cp.SeedWeights["usage"] = 3.0

	assert.Equal(t, 1.0, p.SeedWeights["usage"], "clone must not share the weight map")
}

func TestPolicyDecision_HashStable(t *testing.T) {
	a := &PolicyDecision{Intent: IntentAPI, MaxDepth: 2, EarlyStopThreshold: 2,
		SeedWeights: map[string]float64{"handler": 2.0, "endpoint": 1.8}}
	b := a.Clone()

	assert.Equal(t, a.Hash(), b.Hash())

	b.SeedWeights["handler"] = 2.1
	assert.NotEqual(t, a.Hash(), b.Hash())
}

func TestClampers(t *testing.T) {
	assert.Equal(t, MinSeedWeight, ClampWeight(0.0))
	assert.Equal(t, MaxSeedWeight, ClampWeight(9.0))
	assert.Equal(t, 1.5, ClampWeight(1.5))

	assert.Equal(t, MinDepth, ClampDepth(0))
	assert.Equal(t, MaxDepth, ClampDepth(99))

	assert.Equal(t, MinEarlyStop, ClampEarlyStop(-1))
	assert.Equal(t, MaxEarlyStop, ClampEarlyStop(100))
}

func TestMemoryExpired(t *testing.T) {
	now := time.Now()

	m := &Memory{ExpiresAt: now.Add(-time.Minute)}
	assert.True(t, m.Expired(now))

	m.Pinned = true
	assert.False(t, m.Expired(now), "pinned memories never expire")

	fresh := &Memory{ExpiresAt: now.Add(time.Hour)}
	assert.False(t, fresh.Expired(now))

	noTTL := &Memory{}
	assert.False(t, noTTL.Expired(now))
}

func TestBundleSourceKindCounts(t *testing.T) {
	b := &Bundle{Items: []Item{
		{Source: SourceFTS, Kind: ContentCode},
		{Source: SourceFTS, Kind: ContentCode},
		{Source: SourceGraph, Kind: ContentTests},
	}}

	counts := b.SourceKindCounts()
	require.Len(t, counts, 2)
	assert.Equal(t, 2, counts["fts/code"])
	assert.Equal(t, 1, counts["graph/tests"])
}

func TestDegradeLevelString(t *testing.T) {
	assert.Equal(t, "none", DegradeNone.String())
	assert.Equal(t, "emergency", DegradeEmergency.String())
	assert.Equal(t, "moderate", DegradeModerate.String())
}
