package policy

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pampax/pampax/internal/bundle"
	"github.com/pampax/pampax/internal/errors"
	"github.com/pampax/pampax/internal/intent"
)

// moderate keeps every confidence adjustment dormant.
const moderate = 0.6

func TestDefaultDecisionsPerIntent(t *testing.T) {
	g := NewGate()

	tests := []struct {
		intent    bundle.Intent
		depth     int
		earlyStop int
		symbols   bool
	}{
		{bundle.IntentSymbol, 2, 3, true},
		{bundle.IntentConfig, 1, 2, false},
		{bundle.IntentAPI, 2, 2, true},
		{bundle.IntentIncident, 3, 5, true},
		{bundle.IntentSearch, 2, 10, true},
	}

	for _, tt := range tests {
		t.Run(string(tt.intent), func(t *testing.T) {
			d, err := g.Decide(intent.Result{Intent: tt.intent, Confidence: moderate}, SearchContext{QueryLength: 20})

			require.NoError(t, err)
			assert.Equal(t, tt.depth, d.MaxDepth)
			assert.Equal(t, tt.earlyStop, d.EarlyStopThreshold)
			assert.Equal(t, tt.symbols, d.IncludeSymbols)
		})
	}
}

func TestSymbolDefaultWeights(t *testing.T) {
	g := NewGate()

	d, err := g.Decide(intent.Result{Intent: bundle.IntentSymbol, Confidence: moderate}, SearchContext{QueryLength: 20})

	require.NoError(t, err)
	assert.Equal(t, 2.0, d.SeedWeights["definition"])
	assert.Equal(t, 1.8, d.SeedWeights["declaration"])
	assert.Equal(t, 1.5, d.SeedWeights["implementation"])
	assert.Equal(t, 1.0, d.SeedWeights["usage"])
	assert.Equal(t, 0.8, d.SeedWeights["test"])
	assert.Equal(t, 0.5, d.SeedWeights["reference"])
	// Seed sources start neutral for the learner to tune.
	assert.Equal(t, 1.0, d.SeedWeights["fts"])
	assert.Equal(t, 1.0, d.SeedWeights["vector"])
}

func TestHighConfidenceWidensDecision(t *testing.T) {
	g := NewGate()

	d, err := g.Decide(intent.Result{Intent: bundle.IntentSymbol, Confidence: 0.9}, SearchContext{QueryLength: 20})

	require.NoError(t, err)
	assert.Equal(t, 3, d.MaxDepth)
	assert.Equal(t, 5, d.EarlyStopThreshold) // 3 * 1.5 rounded
}

func TestLowConfidenceNarrowsDecision(t *testing.T) {
	g := NewGate()

	d, err := g.Decide(intent.Result{Intent: bundle.IntentIncident, Confidence: 0.3}, SearchContext{QueryLength: 20})

	require.NoError(t, err)
	assert.Equal(t, 1, d.MaxDepth)
	assert.Equal(t, 2, d.EarlyStopThreshold) // 5 halved
}

func TestQueryLengthAdjustments(t *testing.T) {
	g := NewGate()

	short, err := g.Decide(intent.Result{Intent: bundle.IntentSymbol, Confidence: moderate}, SearchContext{QueryLength: 5})
	require.NoError(t, err)
	long, err := g.Decide(intent.Result{Intent: bundle.IntentSymbol, Confidence: moderate}, SearchContext{QueryLength: 80})
	require.NoError(t, err)

	assert.Equal(t, 3, short.MaxDepth)
	assert.Equal(t, 1, long.MaxDepth)
}

func TestLongQueryDepthFloorsAtOne(t *testing.T) {
	g := NewGate()

	d, err := g.Decide(intent.Result{Intent: bundle.IntentConfig, Confidence: moderate}, SearchContext{QueryLength: 80})

	require.NoError(t, err)
	assert.Equal(t, 1, d.MaxDepth)
}

func TestTightBudgetDisablesContent(t *testing.T) {
	g := NewGate()

	d, err := g.Decide(intent.Result{Intent: bundle.IntentSearch, Confidence: moderate}, SearchContext{QueryLength: 20, Budget: 1500})

	require.NoError(t, err)
	assert.False(t, d.IncludeContent)
	assert.Equal(t, 5, d.EarlyStopThreshold) // 10 halved
}

func TestAdjustmentsCompose(t *testing.T) {
	// High confidence (+1) then long query (-1) cancel out.
	g := NewGate()

	d, err := g.Decide(intent.Result{Intent: bundle.IntentSymbol, Confidence: 0.95}, SearchContext{QueryLength: 80})

	require.NoError(t, err)
	assert.Equal(t, 2, d.MaxDepth)
}

func TestLanguageMultipliersOnlyTouchMatchingKeys(t *testing.T) {
	g := NewGate(WithLanguageProfile("go", LanguageProfile{
		Multipliers: map[string]float64{"test": 1.5, "nonexistent": 9.0},
	}))

	d, err := g.Decide(intent.Result{Intent: bundle.IntentSymbol, Confidence: moderate}, SearchContext{QueryLength: 20, Language: "Go"})

	require.NoError(t, err)
	assert.InDelta(t, 1.2, d.SeedWeights["test"], 1e-9) // 0.8 * 1.5
	_, present := d.SeedWeights["nonexistent"]
	assert.False(t, present)
}

func TestLanguageMultiplierClampsWeights(t *testing.T) {
	g := NewGate(WithLanguageProfile("python", LanguageProfile{
		Multipliers: map[string]float64{"definition": 10.0},
	}))

	d, err := g.Decide(intent.Result{Intent: bundle.IntentSymbol, Confidence: moderate}, SearchContext{QueryLength: 20, Language: "python"})

	require.NoError(t, err)
	assert.Equal(t, bundle.MaxSeedWeight, d.SeedWeights["definition"])
}

func TestRepoOverrideAppliesLast(t *testing.T) {
	depth := 4
	content := false
	g := NewGate(WithRepoOverride(RepoOverride{
		Pattern:        "backend-*",
		MaxDepth:       &depth,
		IncludeContent: &content,
		SeedWeights:    map[string]float64{"fts": 2.5},
	}))

	d, err := g.Decide(intent.Result{Intent: bundle.IntentSymbol, Confidence: moderate}, SearchContext{QueryLength: 20, Repo: "backend-payments"})

	require.NoError(t, err)
	assert.Equal(t, 4, d.MaxDepth)
	assert.False(t, d.IncludeContent)
	assert.Equal(t, 2.5, d.SeedWeights["fts"])
}

func TestRepoOverrideIgnoredForOtherRepos(t *testing.T) {
	depth := 9
	g := NewGate(WithRepoOverride(RepoOverride{Pattern: "backend-*", MaxDepth: &depth}))

	d, err := g.Decide(intent.Result{Intent: bundle.IntentSymbol, Confidence: moderate}, SearchContext{QueryLength: 20, Repo: "frontend-web"})

	require.NoError(t, err)
	assert.Equal(t, 2, d.MaxDepth)
}

func TestRepoOverrideInvalidWeightRejected(t *testing.T) {
	g := NewGate(WithRepoOverride(RepoOverride{
		Pattern:     "*",
		SeedWeights: map[string]float64{"fts": 50.0},
	}))

	_, err := g.Decide(intent.Result{Intent: bundle.IntentSearch, Confidence: moderate}, SearchContext{QueryLength: 20, Repo: "anything"})

	require.Error(t, err)
	assert.True(t, errors.IsKind(err, errors.KindIntegrity))
}

func TestDecisionBoundsAlwaysHold(t *testing.T) {
	g := NewGate()

	// Push depth past the ceiling: incident 3 +1 confidence +1 short
	// query, then clamp.
	d, err := g.Decide(intent.Result{Intent: bundle.IntentIncident, Confidence: 0.99}, SearchContext{QueryLength: 3})

	require.NoError(t, err)
	assert.GreaterOrEqual(t, d.MaxDepth, bundle.MinDepth)
	assert.LessOrEqual(t, d.MaxDepth, bundle.MaxDepth)
	assert.GreaterOrEqual(t, d.EarlyStopThreshold, bundle.MinEarlyStop)
	assert.LessOrEqual(t, d.EarlyStopThreshold, bundle.MaxEarlyStop)
}

func TestDecideDeterministic(t *testing.T) {
	g := NewGate(WithLanguageProfile("go", LanguageProfile{Multipliers: map[string]float64{"test": 1.25}}))
	res := intent.Result{Intent: bundle.IntentAPI, Confidence: 0.85}
	sctx := SearchContext{QueryLength: 30, Language: "go", Budget: 4000}

	first, err := g.Decide(res, sctx)
	require.NoError(t, err)
	second, err := g.Decide(res, sctx)
	require.NoError(t, err)

	assert.Equal(t, first, second)
	assert.Equal(t, first.Hash(), second.Hash())
}

func TestDecideDoesNotMutateDefaults(t *testing.T) {
	g := NewGate()
	res := intent.Result{Intent: bundle.IntentSymbol, Confidence: moderate}

	d, err := g.Decide(res, SearchContext{QueryLength: 20})
	require.NoError(t, err)
	d.SeedWeights["definition"] = 99.0

	again, err := g.Decide(res, SearchContext{QueryLength: 20})
	require.NoError(t, err)
	assert.Equal(t, 2.0, again.SeedWeights["definition"])
}

func TestWithDefaultsOverridesWeights(t *testing.T) {
	g := NewGate(WithDefaults(map[bundle.Intent]map[string]float64{
		bundle.IntentSymbol: {"definition": 3.5},
	}))

	d, err := g.Decide(intent.Result{Intent: bundle.IntentSymbol, Confidence: moderate}, SearchContext{QueryLength: 20})

	require.NoError(t, err)
	assert.Equal(t, 3.5, d.SeedWeights["definition"])
}

func TestUnknownIntentFallsBackToSearch(t *testing.T) {
	g := NewGate()

	d, err := g.Decide(intent.Result{Intent: bundle.Intent("weird"), Confidence: moderate}, SearchContext{QueryLength: 20})

	require.NoError(t, err)
	assert.Equal(t, 10, d.EarlyStopThreshold)
}
