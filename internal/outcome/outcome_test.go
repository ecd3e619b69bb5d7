package outcome

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pampax/pampax/internal/bundle"
	"github.com/pampax/pampax/internal/errors"
	"github.com/pampax/pampax/internal/store"
)

type fakeInteractions struct {
	rows   []*bundle.Interaction
	filter *store.InteractionFilter
	err    error
}

func (f *fakeInteractions) ListInteractions(_ context.Context, filter *store.InteractionFilter) ([]*bundle.Interaction, error) {
	f.filter = filter
	if f.err != nil {
		return nil, f.err
	}
	return f.rows, nil
}

func boolPtr(b bool) *bool { return &b }

func interaction(id string, mutate func(*bundle.Interaction)) *bundle.Interaction {
	it := &bundle.Interaction{
		ID:              id,
		SessionID:       "sess-1",
		Query:           "how does login work",
		Intent:          bundle.IntentSearch,
		BundleSignature: "sig-default",
		TokenUsage:      1000,
		Language:        "go",
		Repo:            "acme",
		Timestamp:       time.Now(),
	}
	if mutate != nil {
		mutate(it)
	}
	return it
}

func TestSignalFor_SatisfactionRules(t *testing.T) {
	a := New(&fakeInteractions{})

	tests := []struct {
		name   string
		mutate func(*bundle.Interaction)
		want   bool
	}{
		{"explicit positive", func(it *bundle.Interaction) {
			it.Satisfied = boolPtr(true)
		}, true},
		{"explicit negative wins over click", func(it *bundle.Interaction) {
			it.Satisfied = boolPtr(false)
			it.TopClick = "chunk-1"
		}, false},
		{"top click implies satisfied", func(it *bundle.Interaction) {
			it.TopClick = "chunk-1"
		}, true},
		{"fast fix implies satisfied", func(it *bundle.Interaction) {
			it.TimeToFix = 2 * time.Minute
		}, true},
		{"slow fix does not", func(it *bundle.Interaction) {
			it.TimeToFix = time.Hour
		}, false},
		{"no evidence means unsatisfied", nil, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := a.SignalFor(interaction("i1", tt.mutate))
			assert.Equal(t, tt.want, s.Satisfied)
		})
	}
}

func TestSignalFor_CarriesInteractionFields(t *testing.T) {
	a := New(&fakeInteractions{})
	it := interaction("i1", func(it *bundle.Interaction) {
		it.SeedWeights = map[bundle.Source]float64{bundle.SourceFTS: 1.5}
		it.PolicyThresholds = bundle.PolicyThresholds{MaxDepth: 2, EarlyStopThreshold: 5}
	})

	s := a.SignalFor(it)
	assert.Equal(t, "i1", s.InteractionID)
	assert.Equal(t, "sig-default", s.BundleSignature)
	assert.Equal(t, 1.5, s.SeedWeights[bundle.SourceFTS])
	assert.Equal(t, 2, s.PolicyThresholds.MaxDepth)
	assert.Equal(t, "go", s.Language)
}

func TestBundleSignature_StableAcrossItemOrder(t *testing.T) {
	b1 := &bundle.Bundle{
		Intent: bundle.IntentSearch,
		Items: []bundle.Item{
			{Source: bundle.SourceFTS, Kind: bundle.ContentCode},
			{Source: bundle.SourceVector, Kind: bundle.ContentTests},
		},
		TokenReport: bundle.TokenReport{Budget: 4000, Actual: 900},
	}
	b2 := &bundle.Bundle{
		Intent: bundle.IntentSearch,
		Items: []bundle.Item{
			{Source: bundle.SourceVector, Kind: bundle.ContentTests},
			{Source: bundle.SourceFTS, Kind: bundle.ContentCode},
		},
		TokenReport: bundle.TokenReport{Budget: 4000, Actual: 900},
	}

	assert.Equal(t, BundleSignature(b1), BundleSignature(b2))
	assert.Len(t, BundleSignature(b1), 64)
}

func TestBundleSignature_VariesByCompositionAndUsage(t *testing.T) {
	base := &bundle.Bundle{
		Intent:      bundle.IntentSearch,
		Items:       []bundle.Item{{Source: bundle.SourceFTS, Kind: bundle.ContentCode}},
		TokenReport: bundle.TokenReport{Budget: 4000, Actual: 900},
	}

	otherIntent := *base
	otherIntent.Intent = bundle.IntentIncident
	assert.NotEqual(t, BundleSignature(base), BundleSignature(&otherIntent))

	otherUsage := *base
	otherUsage.TokenReport = bundle.TokenReport{Budget: 4000, Actual: 3900}
	assert.NotEqual(t, BundleSignature(base), BundleSignature(&otherUsage))

	// Usage inside the same bucket shares a signature.
	sameBucket := *base
	sameBucket.TokenReport = bundle.TokenReport{Budget: 4000, Actual: 910}
	assert.Equal(t, BundleSignature(base), BundleSignature(&sameBucket))
}

func TestSignals_DefaultsWindowFilter(t *testing.T) {
	fs := &fakeInteractions{}
	a := New(fs, WithWindow(7*24*time.Hour))

	_, err := a.Signals(context.Background(), nil)
	require.NoError(t, err)
	require.NotNil(t, fs.filter)
	assert.WithinDuration(t, time.Now().Add(-7*24*time.Hour), fs.filter.Since, time.Minute)
}

func TestSignals_PropagatesStoreError(t *testing.T) {
	fs := &fakeInteractions{err: errors.E(errors.KindUnavailable, "store", "locked", nil)}
	a := New(fs)

	_, err := a.Signals(context.Background(), nil)
	require.Error(t, err)
	assert.True(t, errors.IsKind(err, errors.KindUnavailable))
}

func TestAnalyze_Aggregates(t *testing.T) {
	// Given interactions across two intents, repos, and signatures.
	fs := &fakeInteractions{rows: []*bundle.Interaction{
		interaction("i1", func(it *bundle.Interaction) {
			it.Satisfied = boolPtr(true)
			it.TimeToFix = 2 * time.Minute
			it.TokenUsage = 1000
		}),
		interaction("i2", func(it *bundle.Interaction) {
			it.Satisfied = boolPtr(false)
			it.TokenUsage = 3000
		}),
		interaction("i3", func(it *bundle.Interaction) {
			it.Intent = bundle.IntentIncident
			it.BundleSignature = "sig-incident"
			it.Repo = "other"
			it.TopClick = "chunk-9"
			it.TimeToFix = 4 * time.Minute
			it.TokenUsage = 2000
		}),
	}}
	a := New(fs)

	// When analyzing.
	report, err := a.Analyze(context.Background(), nil)
	require.NoError(t, err)

	// Then overall and sliced metrics line up.
	assert.Equal(t, 3, report.Overall.Interactions)
	assert.Equal(t, 2, report.Overall.Satisfied)
	assert.InDelta(t, 2.0/3.0, report.Overall.Rate, 1e-9)
	assert.Equal(t, 2000.0, report.Overall.AvgTokens)
	assert.Equal(t, 3*time.Minute, report.Overall.AvgTimeToFix)

	require.Contains(t, report.ByIntent, bundle.IntentSearch)
	assert.Equal(t, 2, report.ByIntent[bundle.IntentSearch].Interactions)
	assert.Equal(t, 0.5, report.ByIntent[bundle.IntentSearch].Rate)
	assert.Equal(t, 1.0, report.ByIntent[bundle.IntentIncident].Rate)

	assert.Equal(t, 2, report.BySignature["sig-default"].Interactions)
	assert.Equal(t, 1, report.BySignature["sig-incident"].Interactions)
	assert.Equal(t, 1, report.ByRepo["other"].Interactions)
	assert.Equal(t, 3, report.ByLanguage["go"].Interactions)
	assert.Len(t, report.Signals, 3)
}

func TestAnalyze_EmptyWindow(t *testing.T) {
	a := New(&fakeInteractions{})

	report, err := a.Analyze(context.Background(), nil)
	require.NoError(t, err)
	assert.Equal(t, 0, report.Overall.Interactions)
	assert.Equal(t, 0.0, report.Overall.Rate)
	assert.Empty(t, report.ByIntent)
}
