package intent

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pampax/pampax/internal/bundle"
	"github.com/pampax/pampax/internal/errors"
)

func TestClassifyBlankQuery(t *testing.T) {
	c := NewClassifier()

	_, err := c.Classify(context.Background(), "   ")

	require.Error(t, err)
	assert.True(t, errors.IsKind(err, errors.KindInvalidInput))
}

func TestClassifyIntents(t *testing.T) {
	c := NewClassifier()

	tests := []struct {
		name  string
		query string
		want  bundle.Intent
	}{
		{"symbol function lookup", "getUserById function", bundle.IntentSymbol},
		{"symbol definition", "ParseQuery definition", bundle.IntentSymbol},
		{"symbol snake case", "where is handle_auth defined", bundle.IntentSymbol},
		{"config keywords", "database config", bundle.IntentConfig},
		{"config env var", "MAX_RETRIES", bundle.IntentConfig},
		{"config dotted key", "server.port setting", bundle.IntentConfig},
		{"api route", "POST /api/users handler", bundle.IntentAPI},
		{"api keywords", "rest endpoint middleware", bundle.IntentAPI},
		{"incident keywords", "null pointer exception in checkout", bundle.IntentIncident},
		{"incident error code", "ERR_CONNECTION_REFUSED", bundle.IntentIncident},
		{"incident debugging", "fix the flaky timeout bug", bundle.IntentIncident},
		{"search natural language", "how does authentication work", bundle.IntentSearch},
		{"search plain words", "user management overview", bundle.IntentSearch},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res, err := c.Classify(context.Background(), tt.query)

			require.NoError(t, err)
			assert.Equal(t, tt.want, res.Intent)
		})
	}
}

func TestClassifyConfidenceBounds(t *testing.T) {
	c := NewClassifier()

	queries := []string{
		"getUserById function",
		"how does authentication work",
		"ERR_CONNECTION_REFUSED",
		"POST /api/users handler",
	}
	for _, q := range queries {
		res, err := c.Classify(context.Background(), q)

		require.NoError(t, err)
		assert.GreaterOrEqual(t, res.Confidence, 0.0, "query %q", q)
		assert.LessOrEqual(t, res.Confidence, 1.0, "query %q", q)
	}
}

func TestClassifyPartialCoverageModerateConfidence(t *testing.T) {
	// One incident keyword among five tokens: dominant but low
	// coverage, so confidence lands in the moderate band and policy
	// defaults survive untouched.
	c := NewClassifier()

	res, err := c.Classify(context.Background(), "null pointer exception in checkout")

	require.NoError(t, err)
	assert.Equal(t, bundle.IntentIncident, res.Intent)
	assert.GreaterOrEqual(t, res.Confidence, 0.5)
	assert.LessOrEqual(t, res.Confidence, 0.8)
}

func TestClassifySymbolConfidenceAtLeastThreshold(t *testing.T) {
	c := NewClassifier()

	res, err := c.Classify(context.Background(), "getUserById function")

	require.NoError(t, err)
	assert.Equal(t, bundle.IntentSymbol, res.Intent)
	assert.GreaterOrEqual(t, res.Confidence, 0.3)
}

func TestClassifyExactMatchBonus(t *testing.T) {
	// A query that is exactly an identifier earns the exact bonus over
	// one where the identifier is embedded among neutral words.
	c := NewClassifier()

	exact, err := c.Classify(context.Background(), "getUserById")
	require.NoError(t, err)
	embedded, err := c.Classify(context.Background(), "maybe getUserById somewhere")
	require.NoError(t, err)

	assert.Equal(t, bundle.IntentSymbol, exact.Intent)
	assert.GreaterOrEqual(t, exact.Confidence, embedded.Confidence)
}

func TestClassifyFallbackKeepsObservedConfidence(t *testing.T) {
	// A raised threshold forces the search fallback while the
	// confidence of the best-scoring intent is preserved.
	c := NewClassifier(WithScoreThreshold(100))

	res, err := c.Classify(context.Background(), "getUserById function")

	require.NoError(t, err)
	assert.Equal(t, bundle.IntentSearch, res.Intent)
	assert.Greater(t, res.Confidence, 0.0)
}

func TestClassifyNoSignalZeroConfidence(t *testing.T) {
	c := NewClassifier()

	res, err := c.Classify(context.Background(), "miscellaneous general words")

	require.NoError(t, err)
	assert.Equal(t, bundle.IntentSearch, res.Intent)
	assert.Equal(t, 0.0, res.Confidence)
}

func TestClassifyTieBreakPrecedence(t *testing.T) {
	// ERR_CONNECTION_REFUSED matches both the incident error-code
	// battery and the config env-var battery; incident wins the tie.
	c := NewClassifier()

	res, err := c.Classify(context.Background(), "ERR_CONNECTION_REFUSED")

	require.NoError(t, err)
	assert.Equal(t, bundle.IntentIncident, res.Intent)
}

func TestClassifyDeterministic(t *testing.T) {
	c := NewClassifier()
	query := "POST /api/users handler"

	first, err := c.Classify(context.Background(), query)
	require.NoError(t, err)
	second, err := c.Classify(context.Background(), query)
	require.NoError(t, err)

	assert.Equal(t, first, second)
}

func TestClassifyCancelledContext(t *testing.T) {
	c := NewClassifier()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := c.Classify(ctx, "anything")

	require.Error(t, err)
	assert.True(t, errors.IsKind(err, errors.KindCancelled))
}

func TestExtractEntities(t *testing.T) {
	tests := []struct {
		name     string
		query    string
		wantType string
		wantVal  string
	}{
		{"camel symbol", "find getUserById usages", "symbol", "getUserById"},
		{"snake symbol", "handle_auth callers", "symbol", "handle_auth"},
		{"dotted symbol", "pkg.ParseQuery signature", "symbol", "pkg.ParseQuery"},
		{"file path", "open src/auth/handler.go", "path", "src/auth/handler.go"},
		{"error code", "why ERR_TIMEOUT happens", "error_code", "ERR_TIMEOUT"},
		{"exception name", "NullPointerException in checkout", "error_code", "NullPointerException"},
		{"route", "GET /api/users/:id returns 404", "endpoint", "GET /api/users/:id"},
		{"env var", "where is DATABASE_URL read", "config_key", "DATABASE_URL"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			entities := extractEntities(tt.query)

			require.NotEmpty(t, entities)
			found := false
			for _, e := range entities {
				if e.Type == tt.wantType && e.Value == tt.wantVal {
					found = true
					assert.GreaterOrEqual(t, e.Position, 0)
				}
			}
			assert.True(t, found, "expected %s entity %q in %+v", tt.wantType, tt.wantVal, entities)
		})
	}
}

func TestExtractEntitiesPositions(t *testing.T) {
	entities := extractEntities("find getUserById usages")

	require.Len(t, entities, 1)
	assert.Equal(t, 5, entities[0].Position)
}

func TestExtractEntitiesDedupes(t *testing.T) {
	entities := extractEntities("getUserById calls getUserById")

	count := 0
	for _, e := range entities {
		if e.Value == "getUserById" {
			count++
		}
	}
	assert.Equal(t, 1, count)
}

func TestSuggestedPolicies(t *testing.T) {
	c := NewClassifier()

	symbol, err := c.Classify(context.Background(), "getUserById function")
	require.NoError(t, err)
	fallback, err := c.Classify(context.Background(), "plain words everywhere")
	require.NoError(t, err)

	assert.Contains(t, symbol.SuggestedPolicies, "default-symbol")
	assert.Contains(t, fallback.SuggestedPolicies, "default-search")
}
