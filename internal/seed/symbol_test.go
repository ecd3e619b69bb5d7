package seed

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pampax/pampax/internal/bundle"
	"github.com/pampax/pampax/internal/intent"
	"github.com/pampax/pampax/internal/store"
	"github.com/pampax/pampax/internal/symbols"
)

func newSymbolIndex(t *testing.T) *symbols.Index {
	t.Helper()
	idx, err := symbols.New("")
	require.NoError(t, err)
	t.Cleanup(func() {
		_ = idx.Close()
	})
	return idx
}

// indexSpan registers a span in both the store and the name index.
func indexSpan(t *testing.T, s *store.Store, idx *symbols.Index, id, repo, path, name string, kind bundle.SpanKind) {
	t.Helper()
	seedSpan(t, s, id, repo, path, name, kind)
	require.NoError(t, idx.AddSpans(context.Background(), []*bundle.Span{{
		ID: id, Repo: repo, Path: path, Name: name, Kind: kind,
		ByteStart: 0, ByteEnd: 100,
	}}))
}

func symbolQuery(text string, entities ...intent.Entity) Query {
	return Query{
		Text: text,
		Intent: intent.Result{
			Intent:     bundle.IntentSymbol,
			Confidence: 0.9,
			Entities:   entities,
		},
	}
}

func symbolPolicy() *bundle.PolicyDecision {
	return &bundle.PolicyDecision{
		Intent:             bundle.IntentSymbol,
		MaxDepth:           2,
		EarlyStopThreshold: 3,
		SeedWeights: map[string]float64{
			"definition": 2.0,
			"test":       0.8,
			"reference":  0.5,
		},
	}
}

func TestSymbolGenerator_DefinitionOutranksTest(t *testing.T) {
	s := newTestStore(t)
	idx := newSymbolIndex(t)
	ctx := context.Background()

	// Given: a definition and its test, both resolvable by name
	seedFile(t, s, "app", "internal/user/service.go")
	seedFile(t, s, "app", "internal/user/service_test.go")
	indexSpan(t, s, idx, "sp-def", "app", "internal/user/service.go", "getUserById", bundle.KindFunction)
	indexSpan(t, s, idx, "sp-test", "app", "internal/user/service_test.go", "TestGetUserById", bundle.KindFunction)
	seedChunk(t, s, "ch-def", "sp-def", "app", "internal/user/service.go", "func getUserById() {}")
	seedChunk(t, s, "ch-test", "sp-test", "app", "internal/user/service_test.go", "func TestGetUserById() {}")

	gen := NewSymbolGenerator(idx, s)

	// When
	cands, err := gen.Generate(ctx,
		symbolQuery("where is getUserById defined", intent.Entity{Type: "symbol", Value: "getUserById"}),
		symbolPolicy(), 10)

	// Then: the definition chunk leads, the test chunk trails
	require.NoError(t, err)
	require.Len(t, cands, 2)
	assert.Equal(t, "ch-def", cands[0].ChunkID)
	assert.Equal(t, "ch-test", cands[1].ChunkID)
	assert.Greater(t, cands[0].RawScore, cands[1].RawScore)
	for i, c := range cands {
		assert.Equal(t, bundle.SourceSymbol, c.Source)
		assert.Equal(t, i+1, c.RankInSource)
	}
}

func TestSymbolGenerator_NoEntitiesIsEmpty(t *testing.T) {
	s := newTestStore(t)
	idx := newSymbolIndex(t)

	gen := NewSymbolGenerator(idx, s)

	tests := []struct {
		name string
		q    Query
	}{
		{"no entities", symbolQuery("how does retry work")},
		{"only path entities", symbolQuery("show src/app.py",
			intent.Entity{Type: "path", Value: "src/app.py"})},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cands, err := gen.Generate(context.Background(), tt.q, symbolPolicy(), 10)
			require.NoError(t, err)
			assert.Empty(t, cands)
		})
	}
}

func TestSymbolGenerator_SpanChunksShareScore(t *testing.T) {
	s := newTestStore(t)
	idx := newSymbolIndex(t)
	ctx := context.Background()

	seedFile(t, s, "app", "internal/cfg/load.go")
	indexSpan(t, s, idx, "sp-load", "app", "internal/cfg/load.go", "loadConfig", bundle.KindFunction)
	seedChunk(t, s, "ch-load-a", "sp-load", "app", "internal/cfg/load.go", "first half")
	seedChunk(t, s, "ch-load-b", "sp-load", "app", "internal/cfg/load.go", "second half")

	gen := NewSymbolGenerator(idx, s)

	cands, err := gen.Generate(ctx,
		symbolQuery("loadConfig", intent.Entity{Type: "symbol", Value: "loadConfig"}),
		symbolPolicy(), 10)

	// Both chunks inherit the span's score; ties break on chunk id.
	require.NoError(t, err)
	require.Len(t, cands, 2)
	assert.Equal(t, "ch-load-a", cands[0].ChunkID)
	assert.Equal(t, "ch-load-b", cands[1].ChunkID)
	assert.Equal(t, cands[0].RawScore, cands[1].RawScore)
}

func TestSymbolGenerator_FuzzyTypoResolves(t *testing.T) {
	s := newTestStore(t)
	idx := newSymbolIndex(t)
	ctx := context.Background()

	seedFile(t, s, "app", "internal/user/service.go")
	indexSpan(t, s, idx, "sp-def", "app", "internal/user/service.go", "getUserById", bundle.KindFunction)
	seedChunk(t, s, "ch-def", "sp-def", "app", "internal/user/service.go", "func getUserById() {}")

	gen := NewSymbolGenerator(idx, s)

	// When: the query misspells the identifier
	cands, err := gen.Generate(ctx,
		symbolQuery("getUsrById", intent.Entity{Type: "symbol", Value: "getUsrById"}),
		symbolPolicy(), 10)

	// Then: the near-miss still resolves
	require.NoError(t, err)
	require.NotEmpty(t, cands)
	assert.Equal(t, "ch-def", cands[0].ChunkID)
}

func TestSymbolGenerator_RepoScoped(t *testing.T) {
	s := newTestStore(t)
	idx := newSymbolIndex(t)
	ctx := context.Background()

	seedFile(t, s, "app", "svc.go")
	seedFile(t, s, "lib", "svc.go")
	indexSpan(t, s, idx, "sp-app", "app", "svc.go", "handleRequest", bundle.KindFunction)
	indexSpan(t, s, idx, "sp-lib", "lib", "svc.go", "handleRequest", bundle.KindFunction)
	seedChunk(t, s, "ch-app", "sp-app", "app", "svc.go", "app handler")
	seedChunk(t, s, "ch-lib", "sp-lib", "lib", "svc.go", "lib handler")

	gen := NewSymbolGenerator(idx, s)

	q := symbolQuery("handleRequest", intent.Entity{Type: "symbol", Value: "handleRequest"})
	q.Repo = "app"
	cands, err := gen.Generate(ctx, q, symbolPolicy(), 10)

	require.NoError(t, err)
	require.Len(t, cands, 1)
	assert.Equal(t, "ch-app", cands[0].ChunkID)
}

func TestSymbolGenerator_ConfigKeyEntitiesResolve(t *testing.T) {
	s := newTestStore(t)
	idx := newSymbolIndex(t)
	ctx := context.Background()

	seedFile(t, s, "app", "config/settings.yaml")
	indexSpan(t, s, idx, "sp-key", "app", "config/settings.yaml", "database_url", bundle.KindVariable)
	seedChunk(t, s, "ch-key", "sp-key", "app", "config/settings.yaml", "database_url: postgres://")

	gen := NewSymbolGenerator(idx, s)

	cands, err := gen.Generate(ctx,
		symbolQuery("where is database_url set", intent.Entity{Type: "config_key", Value: "database_url"}),
		nil, 10)

	require.NoError(t, err)
	require.NotEmpty(t, cands)
	assert.Equal(t, "ch-key", cands[0].ChunkID)
}

func TestIsTestPath(t *testing.T) {
	tests := []struct {
		path string
		want bool
	}{
		{"internal/user/service_test.go", true},
		{"src/test_models.py", true},
		{"src/models_test.py", true},
		{"web/app.test.ts", true},
		{"web/app.spec.js", true},
		{"web/__tests__/app.js", true},
		{"pkg/tests/fixtures.go", true},
		{"internal/user/service.go", false},
		{"src/models.py", false},
		{"attestation/sign.go", false},
	}
	for _, tt := range tests {
		t.Run(tt.path, func(t *testing.T) {
			assert.Equal(t, tt.want, isTestPath(tt.path))
		})
	}
}
