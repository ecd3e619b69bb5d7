package embed

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pampax/pampax/internal/errors"
)

func TestStaticEmbedder_Embed_ReturnsCorrectDimensions(t *testing.T) {
	// Given: a static embedder
	embedder := NewStaticEmbedder()
	defer func() { _ = embedder.Close() }()

	// When: I embed a code snippet
	vec, err := embedder.Embed(context.Background(), "func main() {}")

	// Then: a StaticDimensions-wide vector is returned
	require.NoError(t, err)
	assert.Len(t, vec, StaticDimensions)
}

func TestStaticEmbedder_Embed_VectorIsNormalized(t *testing.T) {
	embedder := NewStaticEmbedder()
	defer func() { _ = embedder.Close() }()

	vec, err := embedder.Embed(context.Background(), "func main() {}")
	require.NoError(t, err)

	assert.InDelta(t, 1.0, vectorMagnitude(vec), 0.001, "vector should have unit length")
}

func TestStaticEmbedder_Embed_IsDeterministic(t *testing.T) {
	// Given: two separate embedder instances
	embedder1 := NewStaticEmbedder()
	embedder2 := NewStaticEmbedder()
	defer func() { _ = embedder1.Close() }()
	defer func() { _ = embedder2.Close() }()

	text := "func add(a, b int) int { return a + b }"

	// When: I embed the same text twice on each
	first, err := embedder1.Embed(context.Background(), text)
	require.NoError(t, err)
	second, err := embedder1.Embed(context.Background(), text)
	require.NoError(t, err)
	other, err := embedder2.Embed(context.Background(), text)
	require.NoError(t, err)

	// Then: all vectors are identical
	assert.Equal(t, first, second)
	assert.Equal(t, first, other, "vectors should match across instances")
}

func TestStaticEmbedder_Embed_DifferentTextsProduceDifferentVectors(t *testing.T) {
	embedder := NewStaticEmbedder()
	defer func() { _ = embedder.Close() }()

	vec1, _ := embedder.Embed(context.Background(), "func add()")
	vec2, _ := embedder.Embed(context.Background(), "class Database")

	assert.NotEqual(t, vec1, vec2)
}

func TestStaticEmbedder_Embed_BlankInputReturnsZeroVector(t *testing.T) {
	embedder := NewStaticEmbedder()
	defer func() { _ = embedder.Close() }()

	for _, input := range []string{"", "   \t\n"} {
		vec, err := embedder.Embed(context.Background(), input)
		require.NoError(t, err)
		require.Len(t, vec, StaticDimensions)
		assert.Equal(t, make([]float32, StaticDimensions), vec)
	}
}

func TestStaticEmbedder_Embed_CamelAndSnakeFormsConverge(t *testing.T) {
	// Given: the same identifier in camelCase and snake_case
	embedder := NewStaticEmbedder()
	defer func() { _ = embedder.Close() }()

	// When: I embed both forms
	camel, err := embedder.Embed(context.Background(), "getUserById")
	require.NoError(t, err)
	snake, err := embedder.Embed(context.Background(), "get_user_by_id")
	require.NoError(t, err)

	// Then: they map to near-identical vectors (same tokens, same trigrams)
	assert.InDelta(t, 1.0, cosineSimilarity(camel, snake), 0.01)
}

func TestStaticEmbedder_Embed_RelatedCodeScoresHigherThanUnrelated(t *testing.T) {
	embedder := NewStaticEmbedder()
	defer func() { _ = embedder.Close() }()

	query, _ := embedder.Embed(context.Background(), "user lookup by id")
	related, _ := embedder.Embed(context.Background(), "func getUserById(id string) (*User, error)")
	unrelated, _ := embedder.Embed(context.Background(), "render html template footer")

	assert.Greater(t, cosineSimilarity(query, related), cosineSimilarity(query, unrelated))
}

func TestStaticEmbedder_EmbedBatch_MatchesSingleEmbed(t *testing.T) {
	embedder := NewStaticEmbedder()
	defer func() { _ = embedder.Close() }()

	texts := []string{"func main() {}", "", "class Database"}

	batch, err := embedder.EmbedBatch(context.Background(), texts)
	require.NoError(t, err)
	require.Len(t, batch, len(texts))

	for i, text := range texts {
		single, err := embedder.Embed(context.Background(), text)
		require.NoError(t, err)
		assert.Equal(t, single, batch[i], "batch element %d should match single embed", i)
	}
}

func TestStaticEmbedder_EmbedBatch_EmptyInputReturnsEmptySlice(t *testing.T) {
	embedder := NewStaticEmbedder()
	defer func() { _ = embedder.Close() }()

	batch, err := embedder.EmbedBatch(context.Background(), nil)
	require.NoError(t, err)
	assert.Empty(t, batch)
}

func TestStaticEmbedder_Closed_RejectsEmbeds(t *testing.T) {
	// Given: a closed embedder
	embedder := NewStaticEmbedder()
	require.NoError(t, embedder.Close())

	// When: I try to embed
	_, err := embedder.Embed(context.Background(), "text")

	// Then: an unavailable error is returned and availability is false
	require.Error(t, err)
	assert.True(t, errors.IsKind(err, errors.KindUnavailable))
	assert.False(t, embedder.Available(context.Background()))
}

func TestStaticEmbedder_Metadata(t *testing.T) {
	embedder := NewStaticEmbedder()
	defer func() { _ = embedder.Close() }()

	assert.Equal(t, "static", embedder.ModelName())
	assert.Equal(t, StaticDimensions, embedder.Dimensions())
	assert.True(t, embedder.Available(context.Background()))
}

func TestSplitCamelRuns(t *testing.T) {
	tests := []struct {
		name  string
		input string
		want  []string
	}{
		{"camel case", "getUserById", []string{"get", "User", "By", "Id"}},
		{"acronym prefix", "HTTPHandler", []string{"HTTP", "Handler"}},
		{"acronym middle", "parseHTTPRequest", []string{"parse", "HTTP", "Request"}},
		{"single word", "simple", []string{"simple"}},
		{"all upper", "UPPER", []string{"UPPER"}},
		{"leading upper", "Handler", []string{"Handler"}},
		{"empty", "", nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, splitCamelRuns(tt.input))
		})
	}
}

func TestStaticTokens_FiltersStopWordsAndSplitsIdentifiers(t *testing.T) {
	tokens := staticTokens("func getUserById(id string) *User")

	assert.Contains(t, tokens, "get")
	assert.Contains(t, tokens, "user")
	assert.Contains(t, tokens, "by")
	assert.Contains(t, tokens, "id")
	assert.NotContains(t, tokens, "func", "keywords should be filtered")
	assert.NotContains(t, tokens, "string", "type keywords should be filtered")
}
