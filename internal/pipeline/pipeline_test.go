package pipeline

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pampax/pampax/internal/bundle"
	"github.com/pampax/pampax/internal/embed"
	"github.com/pampax/pampax/internal/errors"
	"github.com/pampax/pampax/internal/graph"
	"github.com/pampax/pampax/internal/intent"
	"github.com/pampax/pampax/internal/learner"
	"github.com/pampax/pampax/internal/memory"
	"github.com/pampax/pampax/internal/outcome"
	"github.com/pampax/pampax/internal/pack"
	"github.com/pampax/pampax/internal/policy"
	"github.com/pampax/pampax/internal/rerank"
	"github.com/pampax/pampax/internal/seed"
	"github.com/pampax/pampax/internal/session"
	"github.com/pampax/pampax/internal/sigcache"
	"github.com/pampax/pampax/internal/store"
	"github.com/pampax/pampax/internal/symbols"
	"github.com/pampax/pampax/internal/tokenizer"
)

// newTestPipeline wires real components over a seeded temp store: a
// login function, a token helper, and a test covering the login
// function through a test-of edge.
func newTestPipeline(t *testing.T) (*Pipeline, *store.Store) {
	t.Helper()

	s, err := store.Open(filepath.Join(t.TempDir(), ".pampax", "index.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })

	idx, err := symbols.New(filepath.Join(t.TempDir(), "symbols.bleve"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = idx.Close() })

	seedFixture(t, s, idx)

	tokens := tokenizer.NewFactory()
	gate := policy.NewGate()
	runner := seed.NewRunner([]seed.Generator{
		seed.NewFTSGenerator(s),
		seed.NewVectorGenerator(embed.NewStaticEmbedder(), s),
		seed.NewMemoryGenerator(s),
		seed.NewSymbolGenerator(idx, s),
	})

	bus, err := rerank.NewBus(
		[]rerank.Provider{rerank.NewMockProvider()},
		[]string{rerank.ProviderMock},
		rerank.WithCacheStore(s),
	)
	require.NoError(t, err)

	p, err := New(Deps{
		Store:      s,
		Classifier: intent.NewClassifier(),
		Gate:       gate,
		Seeds:      runner,
		Mixer:      seed.NewMixer(),
		Graph:      graph.New(s, tokens),
		Packer:     pack.New(tokens),
		Rerank:     bus,
		Signatures: sigcache.New(s),
		Sessions:   session.NewManager(s),
		Memories:   memory.New(s),
		Learner:    learner.New(s, outcome.New(s), gate),
		Tokens:     tokens,
	})
	require.NoError(t, err)
	return p, s
}

func seedFixture(t *testing.T, s *store.Store, idx *symbols.Index) {
	t.Helper()
	ctx := context.Background()

	files := []*bundle.File{
		{Repo: "acme", Path: "auth/login.go", ContentHash: "h1", Lang: "go", Size: 400, IndexedAt: time.Now()},
		{Repo: "acme", Path: "auth/login_test.go", ContentHash: "h2", Lang: "go", Size: 300, IndexedAt: time.Now()},
	}
	for _, f := range files {
		require.NoError(t, s.UpsertFile(ctx, f))
	}

	spans := []*bundle.Span{
		{
			ID: "span-login", Repo: "acme", Path: "auth/login.go",
			ByteStart: 0, ByteEnd: 200, Kind: bundle.KindFunction,
			Name: "Login", Signature: "func Login(user string) error",
			Doc: "Login authenticates a user with three retry attempts.",
		},
		{
			ID: "span-token", Repo: "acme", Path: "auth/login.go",
			ByteStart: 210, ByteEnd: 380, Kind: bundle.KindFunction,
			Name: "IssueToken", Signature: "func IssueToken(user string) (string, error)",
		},
		{
			ID: "span-login-test", Repo: "acme", Path: "auth/login_test.go",
			ByteStart: 0, ByteEnd: 250, Kind: bundle.KindFunction,
			Name: "TestLogin", Signature: "func TestLogin(t *testing.T)",
		},
	}
	require.NoError(t, s.BulkUpsertSpans(ctx, spans))

	chunks := []*bundle.Chunk{
		{
			ID: "c-login", SpanID: "span-login", Repo: "acme", Path: "auth/login.go",
			Content: "func Login(user string) error {\n\t// login retries three times before lockout\n\treturn attempt(user)\n}",
		},
		{
			ID: "c-token", SpanID: "span-token", Repo: "acme", Path: "auth/login.go",
			Content: "func IssueToken(user string) (string, error) {\n\treturn signer.Sign(user)\n}",
		},
		{
			ID: "c-login-test", SpanID: "span-login-test", Repo: "acme", Path: "auth/login_test.go",
			Content: "func TestLogin(t *testing.T) {\n\trequire.NoError(t, Login(\"alice\"))\n}",
		},
	}
	require.NoError(t, s.BulkUpsertChunks(ctx, chunks))

	require.NoError(t, s.BulkUpsertReferences(ctx, []*bundle.Reference{{
		SrcSpanID: "span-login-test", DstPath: "auth/login.go",
		ByteStart: 10, ByteEnd: 60, Kind: bundle.EdgeTestOf, Confidence: 0.9,
	}}))

	require.NoError(t, idx.AddSpans(ctx, spans))
}

func TestSearch_RanksLexicalMatch(t *testing.T) {
	p, _ := newTestPipeline(t)

	res, err := p.Search(context.Background(), SearchRequest{Query: "login retries lockout", Repo: "acme"})
	require.NoError(t, err)
	require.NotEmpty(t, res.Items)
	assert.Equal(t, "c-login", res.Items[0].ChunkID)
	assert.Equal(t, 1, res.Items[0].Rank)
	assert.Contains(t, res.Items[0].Sources, bundle.SourceFTS)
	assert.Equal(t, "Login", res.Items[0].Name)
}

func TestSearch_EmptyQuery(t *testing.T) {
	p, _ := newTestPipeline(t)

	_, err := p.Search(context.Background(), SearchRequest{Query: "   "})
	require.Error(t, err)
	assert.True(t, errors.IsKind(err, errors.KindInvalidInput))
}

func TestSearch_IntentOverride(t *testing.T) {
	p, _ := newTestPipeline(t)
	ctx := context.Background()

	res, err := p.Search(ctx, SearchRequest{Query: "login", IntentOverride: bundle.IntentConfig})
	require.NoError(t, err)
	assert.Equal(t, bundle.IntentConfig, res.Intent.Intent)
	assert.Equal(t, 1.0, res.Intent.Confidence)

	_, err = p.Search(ctx, SearchRequest{Query: "login", IntentOverride: "bogus"})
	require.Error(t, err)
	assert.True(t, errors.IsKind(err, errors.KindInvalidInput))
}

func TestAssemble_RespectsBudget(t *testing.T) {
	p, _ := newTestPipeline(t)

	res, err := p.Assemble(context.Background(), AssembleRequest{
		Query: "login retries lockout", Repo: "acme", TokenBudget: 300,
	})
	require.NoError(t, err)
	b := res.Bundle
	require.NotEmpty(t, b.Items)
	assert.Equal(t, 300, b.TokenReport.Budget)
	assert.LessOrEqual(t, b.TokenReport.Actual, 300)
}

func TestAssemble_RecordsInteraction(t *testing.T) {
	p, s := newTestPipeline(t)
	ctx := context.Background()

	res, err := p.Assemble(ctx, AssembleRequest{Query: "login retries lockout", Repo: "acme"})
	require.NoError(t, err)
	require.NotEmpty(t, res.InteractionID)

	it, err := s.InteractionByID(ctx, res.InteractionID)
	require.NoError(t, err)
	assert.Equal(t, "login retries lockout", it.Query)
	assert.NotEmpty(t, it.BundleSignature)
	assert.NotEmpty(t, it.SeedWeights)
	assert.Equal(t, "acme", it.Repo)
}

func TestAssemble_GraphPullsCoveringTest(t *testing.T) {
	// Given the login function covered by a test through a test-of edge.
	p, _ := newTestPipeline(t)

	// When assembling around the login function with room to spare.
	res, err := p.Assemble(context.Background(), AssembleRequest{
		Query: "Login function", Repo: "acme", TokenBudget: 4000,
	})
	require.NoError(t, err)

	// Then the covering test rides in via graph expansion.
	var graphItem *bundle.Item
	for i := range res.Bundle.Items {
		if res.Bundle.Items[i].ChunkID == "c-login-test" {
			graphItem = &res.Bundle.Items[i]
		}
	}
	require.NotNil(t, graphItem, "expected the covering test in the bundle")
}

func TestAssemble_SignatureCacheRoundTrip(t *testing.T) {
	// Given an assembled bundle with satisfied feedback.
	p, _ := newTestPipeline(t)
	ctx := context.Background()
	req := AssembleRequest{Query: "login retries lockout", Repo: "acme", TokenBudget: 2000}

	first, err := p.Assemble(ctx, req)
	require.NoError(t, err)
	require.False(t, first.Bundle.FromCache)

	satisfied := true
	require.NoError(t, p.MarkOutcome(ctx, Feedback{
		InteractionID: first.InteractionID, Satisfied: &satisfied,
	}))

	// When assembling the same query again.
	second, err := p.Assemble(ctx, req)
	require.NoError(t, err)

	// Then the cached bundle short-circuits the pipeline.
	assert.True(t, second.Bundle.FromCache)
	assert.NotEmpty(t, second.InteractionID)

	// And NoCache forces the full path.
	third, err := p.Assemble(ctx, AssembleRequest{
		Query: req.Query, Repo: req.Repo, TokenBudget: req.TokenBudget, NoCache: true,
	})
	require.NoError(t, err)
	assert.False(t, third.Bundle.FromCache)
}

func TestAssemble_UnsatisfiedOutcomeNotCached(t *testing.T) {
	p, _ := newTestPipeline(t)
	ctx := context.Background()
	req := AssembleRequest{Query: "token signing helper", Repo: "acme"}

	first, err := p.Assemble(ctx, req)
	require.NoError(t, err)

	unsatisfied := false
	require.NoError(t, p.MarkOutcome(ctx, Feedback{
		InteractionID: first.InteractionID, Satisfied: &unsatisfied,
	}))

	second, err := p.Assemble(ctx, req)
	require.NoError(t, err)
	assert.False(t, second.Bundle.FromCache)
}

func TestAssemble_RerankViaMockProvider(t *testing.T) {
	p, _ := newTestPipeline(t)

	res, err := p.Assemble(context.Background(), AssembleRequest{
		Query: "login retries lockout", Repo: "acme",
		RerankProvider: rerank.ProviderMock,
	})
	require.NoError(t, err)
	require.NotEmpty(t, res.Bundle.Items)
	for _, r := range res.Bundle.StoppingReasons {
		assert.NotContains(t, r.Message, "rerank failed")
	}
	for i, it := range res.Bundle.Items {
		assert.Equal(t, i+1, it.Rank)
	}
}

func TestMarkOutcome_UnknownInteraction(t *testing.T) {
	p, _ := newTestPipeline(t)

	err := p.MarkOutcome(context.Background(), Feedback{InteractionID: "ghost"})
	require.Error(t, err)
	assert.True(t, errors.IsKind(err, errors.KindNotFound))
}

func TestRerank_Passthrough(t *testing.T) {
	p, _ := newTestPipeline(t)

	ranked, err := p.Rerank(context.Background(), "login", []rerank.Document{
		{ID: "a", Content: "login handler"},
		{ID: "b", Content: "billing export"},
	}, rerank.Options{})
	require.NoError(t, err)
	require.Len(t, ranked, 2)
	assert.Equal(t, "a", ranked[0].DocID)
}

func TestFilterSources(t *testing.T) {
	fused := []bundle.Fused{
		{ChunkID: "code", Sources: []bundle.Source{bundle.SourceFTS}},
		{ChunkID: "note", Sources: []bundle.Source{bundle.SourceMemory}},
		{ChunkID: "both", Sources: []bundle.Source{bundle.SourceFTS, bundle.SourceMemory}},
	}

	onlyMem := filterSources(append([]bundle.Fused(nil), fused...), []string{IncludeMemory})
	require.Len(t, onlyMem, 2)
	assert.Equal(t, "note", onlyMem[0].ChunkID)
	assert.Equal(t, "both", onlyMem[1].ChunkID)

	onlyCode := filterSources(append([]bundle.Fused(nil), fused...), []string{IncludeCode})
	require.Len(t, onlyCode, 2)
	assert.Equal(t, "code", onlyCode[0].ChunkID)

	all := filterSources(append([]bundle.Fused(nil), fused...), nil)
	assert.Len(t, all, 3)
}

func TestSatisfactionScore(t *testing.T) {
	yes, no := true, false
	tests := []struct {
		name string
		fb   Feedback
		want float64
	}{
		{"explicit satisfied", Feedback{Satisfied: &yes}, 1.0},
		{"explicit unsatisfied beats click", Feedback{Satisfied: &no, TopClick: "c1"}, 0.0},
		{"click", Feedback{TopClick: "c1"}, implicitSatisfaction},
		{"fast fix", Feedback{TimeToFix: 2 * time.Minute}, implicitSatisfaction},
		{"slow fix", Feedback{TimeToFix: time.Hour}, 0.0},
		{"no evidence", Feedback{}, 0.0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, satisfactionScore(tt.fb))
		})
	}
}

func TestSearch_MemoryCandidateSurfaces(t *testing.T) {
	p, _ := newTestPipeline(t)
	ctx := context.Background()

	// Given: a pinned fact with no lexical overlap with the indexed code
	mem, err := p.Memories().Create(ctx, memory.CreateRequest{
		SessionID: "sess-mem",
		Content:   "the quorum override waiver lives with the platform team",
		Pinned:    true,
	})
	require.NoError(t, err)

	// When
	res, err := p.Search(ctx, SearchRequest{
		Query:     "quorum override waiver",
		Repo:      "acme",
		SessionID: "sess-mem",
	})
	require.NoError(t, err)

	// Then: the memory itself is a ranked item carrying its content
	require.NotEmpty(t, res.Items)
	var hit *SearchItem
	for i := range res.Items {
		if res.Items[i].ChunkID == bundle.MemoryRef(mem.ID) {
			hit = &res.Items[i]
		}
	}
	require.NotNil(t, hit, "memory candidate should surface in search items")
	assert.Contains(t, hit.Sources, bundle.SourceMemory)
	assert.Equal(t, mem.Content, hit.Content)
}

func TestAssemble_IncludeMemoryPacksMemoryItem(t *testing.T) {
	p, _ := newTestPipeline(t)
	ctx := context.Background()

	mem, err := p.Memories().Create(ctx, memory.CreateRequest{
		SessionID: "sess-mem",
		Content:   "the quorum override waiver lives with the platform team",
		Pinned:    true,
	})
	require.NoError(t, err)

	res, err := p.Assemble(ctx, AssembleRequest{
		Query:     "quorum override waiver",
		Repo:      "acme",
		SessionID: "sess-mem",
		Include:   []string{IncludeMemory},
		NoCache:   true,
	})
	require.NoError(t, err)

	b := res.Bundle
	require.NotEmpty(t, b.Items)
	var hit *bundle.Item
	for i := range b.Items {
		if b.Items[i].ChunkID == bundle.MemoryRef(mem.ID) {
			hit = &b.Items[i]
		}
	}
	require.NotNil(t, hit, "memory candidate should survive packing")
	assert.Equal(t, bundle.SourceMemory, hit.Source)
	assert.Equal(t, mem.Content, hit.ChunkContent)
}
