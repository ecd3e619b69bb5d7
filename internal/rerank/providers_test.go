package rerank

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pampax/pampax/internal/bundle"
	"github.com/pampax/pampax/internal/errors"
)

func TestCacheKey_IgnoresDocumentOrder(t *testing.T) {
	a := []Document{{ID: "c1"}, {ID: "c2"}, {ID: "c3"}}
	b := []Document{{ID: "c3"}, {ID: "c1"}, {ID: "c2"}}

	assert.Equal(t, CacheKey("p", "m", "q", a), CacheKey("p", "m", "q", b))
}

func TestCacheKey_VariesByInputs(t *testing.T) {
	docs := []Document{{ID: "c1"}, {ID: "c2"}}

	base := CacheKey("p", "m", "q", docs)
	assert.NotEqual(t, base, CacheKey("other", "m", "q", docs))
	assert.NotEqual(t, base, CacheKey("p", "other", "q", docs))
	assert.NotEqual(t, base, CacheKey("p", "m", "other", docs))
	assert.NotEqual(t, base, CacheKey("p", "m", "q", docs[:1]))
	assert.Len(t, base, 64)
}

func TestLocalProvider_Rerank(t *testing.T) {
	// Given a local server scoring the second document highest.
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/v1/rerank", r.URL.Path)
		var req localRerankRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "reranker-small", req.Model)
		assert.Len(t, req.Documents, 3)

		_ = json.NewEncoder(w).Encode(map[string]any{
			"results": []map[string]any{
				{"index": 1, "relevance_score": 0.9},
				{"index": 0, "relevance_score": 0.4},
				{"index": 2, "relevance_score": 0.1},
			},
		})
	}))
	defer srv.Close()
	p := NewLocalProvider(LocalConfig{Endpoint: srv.URL})

	// When reranking.
	out, err := p.Rerank(context.Background(), "query", "", testDocs())

	// Then scores map back to chunk ids, best first.
	require.NoError(t, err)
	require.Len(t, out, 3)
	assert.Equal(t, "c2", out[0].DocID)
	assert.Equal(t, 0.9, out[0].Score)
	assert.Equal(t, "c1", out[1].DocID)
	assert.Equal(t, "c3", out[2].DocID)
}

func TestLocalProvider_StatusMapping(t *testing.T) {
	tests := []struct {
		name   string
		status int
		want   errors.Kind
	}{
		{"rate limited", http.StatusTooManyRequests, errors.KindRateLimited},
		{"server error", http.StatusBadGateway, errors.KindUnavailable},
		{"bad request", http.StatusBadRequest, errors.KindInternal},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
				w.WriteHeader(tt.status)
			}))
			defer srv.Close()
			p := NewLocalProvider(LocalConfig{Endpoint: srv.URL})

			_, err := p.Rerank(context.Background(), "query", "", testDocs())
			require.Error(t, err)
			assert.True(t, errors.IsKind(err, tt.want), "got %v", err)
		})
	}
}

func TestLocalProvider_RejectsOutOfRangeIndex(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]any{
			"results": []map[string]any{{"index": 9, "relevance_score": 0.5}},
		})
	}))
	defer srv.Close()
	p := NewLocalProvider(LocalConfig{Endpoint: srv.URL})

	_, err := p.Rerank(context.Background(), "query", "", testDocs())
	require.Error(t, err)
	assert.True(t, errors.IsKind(err, errors.KindInternal))
}

func TestCohereProvider_Rerank(t *testing.T) {
	t.Setenv(CohereKeyEnv, "test-key")
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Bearer test-key", r.Header.Get("Authorization"))
		var req cohereRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, CohereDefaultModel, req.Model)

		_ = json.NewEncoder(w).Encode(map[string]any{
			"results": []map[string]any{
				{"index": 2, "relevance_score": 0.8},
				{"index": 0, "relevance_score": 0.3},
			},
		})
	}))
	defer srv.Close()
	p := NewCohereProvider(APIConfig{Endpoint: srv.URL})

	require.True(t, p.Available(context.Background()))
	out, err := p.Rerank(context.Background(), "query", "", testDocs())
	require.NoError(t, err)
	require.Len(t, out, 2)
	assert.Equal(t, "c3", out[0].DocID)
	assert.Equal(t, "c1", out[1].DocID)
}

func TestVoyageProvider_Rerank(t *testing.T) {
	t.Setenv(VoyageKeyEnv, "test-key")
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req voyageRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "rerank-custom", req.Model)

		_ = json.NewEncoder(w).Encode(map[string]any{
			"data": []map[string]any{
				{"index": 0, "relevance_score": 0.7},
				{"index": 1, "relevance_score": 0.2},
			},
		})
	}))
	defer srv.Close()
	p := NewVoyageProvider(APIConfig{Endpoint: srv.URL})

	out, err := p.Rerank(context.Background(), "query", "rerank-custom", testDocs())
	require.NoError(t, err)
	require.Len(t, out, 2)
	assert.Equal(t, "c1", out[0].DocID)
}

func TestAPIProvider_UnavailableWithoutKey(t *testing.T) {
	t.Setenv(CohereKeyEnv, "")
	p := NewCohereProvider(APIConfig{})

	assert.False(t, p.Available(context.Background()))
	_, err := p.Rerank(context.Background(), "query", "", testDocs())
	require.Error(t, err)
	assert.True(t, errors.IsKind(err, errors.KindUnavailable))
}

func TestRRFProvider_RerankKeepsInputOrder(t *testing.T) {
	p := NewRRFProvider()
	docs := []Document{{ID: "c1"}, {ID: "c2"}, {ID: "c1"}, {ID: "c3"}}

	out, err := p.Rerank(context.Background(), "query", "", docs)
	require.NoError(t, err)
	require.Len(t, out, 3)
	assert.Equal(t, "c1", out[0].DocID)
	assert.Equal(t, 1.0/61.0, out[0].Score)
	assert.Equal(t, "c2", out[1].DocID)
	assert.Equal(t, "c3", out[2].DocID)
	assert.Greater(t, out[1].Score, out[2].Score)
}

func TestRRFProvider_Fuse(t *testing.T) {
	p := NewRRFProvider()

	out := p.Fuse([][]string{
		{"a", "b", "c"},
		{"b", "a"},
		{"b"},
	})

	require.Len(t, out, 3)
	assert.Equal(t, "b", out[0].DocID)
	assert.Equal(t, "a", out[1].DocID)
	assert.Equal(t, "c", out[2].DocID)
	assert.InDelta(t, 1.0/62.0+1.0/61.0+1.0/61.0, out[0].Score, 1e-12)
}

func TestRRFProvider_FuseTieBreaksOnID(t *testing.T) {
	p := NewRRFProvider()

	out := p.Fuse([][]string{{"zeta"}, {"alpha"}})

	require.Len(t, out, 2)
	assert.Equal(t, out[0].Score, out[1].Score)
	assert.Equal(t, "alpha", out[0].DocID)
}

func TestMockProvider_ScoresByOverlap(t *testing.T) {
	p := NewMockProvider()
	docs := []Document{
		{ID: "hit", Content: "parse the config file on startup"},
		{ID: "miss", Content: "unrelated graphics shader code"},
	}

	out, err := p.Rerank(context.Background(), "parse config file", "", docs)
	require.NoError(t, err)
	require.Len(t, out, 2)
	assert.Equal(t, "hit", out[0].DocID)
	assert.Equal(t, 1.0, out[0].Score)
	assert.Equal(t, 0.0, out[1].Score)
}

func TestMockProvider_ForcedFailure(t *testing.T) {
	p := &MockProvider{Fail: true}

	assert.False(t, p.Available(context.Background()))
	_, err := p.Rerank(context.Background(), "query", "", testDocs())
	require.Error(t, err)
	assert.True(t, errors.IsKind(err, errors.KindUnavailable))
}

func TestItemsToDocuments(t *testing.T) {
	items := []bundle.Item{
		{ChunkID: "c1", ChunkContent: "func A() {}"},
		{ChunkID: "c2", ChunkContent: "func B() {}"},
	}

	docs := ItemsToDocuments(items)
	require.Len(t, docs, 2)
	assert.Equal(t, "c1", docs[0].ID)
	assert.Equal(t, "func A() {}", docs[0].Content)
}
