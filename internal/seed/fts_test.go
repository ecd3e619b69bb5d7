package seed

import (
	"context"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pampax/pampax/internal/bundle"
)

func TestFTSGenerator_RanksLexicalMatches(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	// Given: two chunks mentioning users, one unrelated
	seedFile(t, s, "app", "internal/auth/login.go")
	seedFile(t, s, "app", "internal/audit/log.go")
	seedFile(t, s, "app", "internal/net/listener.go")
	seedSpan(t, s, "sp-login", "app", "internal/auth/login.go", "loginUser", bundle.KindFunction)
	seedSpan(t, s, "sp-audit", "app", "internal/audit/log.go", "recordAction", bundle.KindFunction)
	seedSpan(t, s, "sp-listen", "app", "internal/net/listener.go", "openSocket", bundle.KindFunction)
	seedChunk(t, s, "ch-login", "sp-login", "app", "internal/auth/login.go",
		"checks the user password and starts the user session for the user")
	seedChunk(t, s, "ch-audit", "sp-audit", "app", "internal/audit/log.go",
		"appends one audit row per user action")
	seedChunk(t, s, "ch-listen", "sp-listen", "app", "internal/net/listener.go",
		"accept loop for the tcp socket listener")

	gen := NewFTSGenerator(s)

	// When
	cands, err := gen.Generate(ctx, Query{Text: "user"}, nil, 10)

	// Then: both matches, term-dense chunk first, dense 1-indexed ranks
	require.NoError(t, err)
	require.Len(t, cands, 2)
	assert.Equal(t, "ch-login", cands[0].ChunkID)
	assert.Equal(t, "ch-audit", cands[1].ChunkID)
	assert.Greater(t, cands[0].RawScore, cands[1].RawScore)
	for i, c := range cands {
		assert.Equal(t, bundle.SourceFTS, c.Source)
		assert.Equal(t, i+1, c.RankInSource)
	}
}

func TestFTSGenerator_RepoFilter(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	seedFile(t, s, "app", "a.go")
	seedFile(t, s, "lib", "b.go")
	seedSpan(t, s, "sp-a", "app", "a.go", "parseRetry", bundle.KindFunction)
	seedSpan(t, s, "sp-b", "lib", "b.go", "parseRetry", bundle.KindFunction)
	seedChunk(t, s, "ch-a", "sp-a", "app", "a.go", "parses the retry budget")
	seedChunk(t, s, "ch-b", "sp-b", "lib", "b.go", "parses the retry budget")

	gen := NewFTSGenerator(s)

	cands, err := gen.Generate(ctx, Query{Text: "retry budget", Repo: "app"}, nil, 10)

	require.NoError(t, err)
	require.Len(t, cands, 1)
	assert.Equal(t, "ch-a", cands[0].ChunkID)
}

func TestFTSGenerator_NoMatchIsEmpty(t *testing.T) {
	s := newTestStore(t)

	seedFile(t, s, "app", "a.go")
	seedSpan(t, s, "sp-a", "app", "a.go", "f", bundle.KindFunction)
	seedChunk(t, s, "ch-a", "sp-a", "app", "a.go", "plain content")

	gen := NewFTSGenerator(s)

	tests := []struct {
		name  string
		query string
	}{
		{"no hits", "quaternion"},
		{"punctuation only", "!!! ???"},
		{"blank", "   "},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cands, err := gen.Generate(context.Background(), Query{Text: tt.query}, nil, 10)
			require.NoError(t, err)
			assert.Empty(t, cands)
		})
	}
}

func TestFTSGenerator_HonorsK(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	seedFile(t, s, "app", "a.go")
	seedSpan(t, s, "sp-a", "app", "a.go", "f", bundle.KindFunction)
	for i := 0; i < 5; i++ {
		seedChunk(t, s, fmt.Sprintf("ch-%d", i), "sp-a", "app", "a.go", "shared retry logic variant")
	}

	gen := NewFTSGenerator(s)

	cands, err := gen.Generate(ctx, Query{Text: "retry"}, nil, 2)

	require.NoError(t, err)
	assert.Len(t, cands, 2)
}
