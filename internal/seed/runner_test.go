package seed

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pampax/pampax/internal/bundle"
	"github.com/pampax/pampax/internal/errors"
)

// fakeGenerator returns canned candidates after an optional delay.
type fakeGenerator struct {
	source bundle.Source
	cands  []bundle.Candidate
	err    error
	delay  time.Duration
}

func (g *fakeGenerator) Source() bundle.Source { return g.source }

func (g *fakeGenerator) Generate(ctx context.Context, _ Query, _ *bundle.PolicyDecision, _ int) ([]bundle.Candidate, error) {
	if g.delay > 0 {
		select {
		case <-time.After(g.delay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if g.err != nil {
		return nil, g.err
	}
	return g.cands, nil
}

func fakeCands(src bundle.Source, ids ...string) []bundle.Candidate {
	cands := make([]bundle.Candidate, 0, len(ids))
	for i, id := range ids {
		cands = append(cands, bundle.Candidate{
			ChunkID: id, Source: src, RawScore: float64(len(ids) - i), RankInSource: i + 1,
		})
	}
	return cands
}

func TestRunner_CollectsAllSources(t *testing.T) {
	r := NewRunner([]Generator{
		&fakeGenerator{source: bundle.SourceFTS, cands: fakeCands(bundle.SourceFTS, "c1", "c2")},
		&fakeGenerator{source: bundle.SourceVector, cands: fakeCands(bundle.SourceVector, "c1")},
		&fakeGenerator{source: bundle.SourceMemory, cands: fakeCands(bundle.SourceMemory, "mem:m1")},
		&fakeGenerator{source: bundle.SourceSymbol, cands: fakeCands(bundle.SourceSymbol, "c3")},
	}, WithLogger(discardLogger()))

	res, err := r.Run(context.Background(), Query{Text: "q"}, nil, 10)

	require.NoError(t, err)
	assert.Empty(t, res.Reasons)
	assert.Len(t, res.BySource, 4)
	assert.Len(t, res.BySource[bundle.SourceFTS], 2)
	assert.Len(t, res.BySource[bundle.SourceVector], 1)
	assert.Equal(t, 5, res.Candidates())
}

func TestRunner_SlowGeneratorTimesOut(t *testing.T) {
	r := NewRunner([]Generator{
		&fakeGenerator{source: bundle.SourceFTS, cands: fakeCands(bundle.SourceFTS, "c1")},
		&fakeGenerator{source: bundle.SourceVector, delay: 250 * time.Millisecond,
			cands: fakeCands(bundle.SourceVector, "c9")},
	}, WithTimeout(20*time.Millisecond), WithLogger(discardLogger()))

	res, err := r.Run(context.Background(), Query{Text: "q"}, nil, 10)

	// The slow source contributes nothing; the fast one is intact.
	require.NoError(t, err)
	assert.Empty(t, res.BySource[bundle.SourceVector])
	assert.Len(t, res.BySource[bundle.SourceFTS], 1)

	require.Len(t, res.Reasons, 1)
	reason := res.Reasons[0]
	assert.Equal(t, bundle.ReasonPerformance, reason.Category)
	assert.Equal(t, bundle.SeverityWarning, reason.Severity)
	assert.Equal(t, "seed/vector", reason.Stage)
	assert.Contains(t, reason.Message, "timed out")
	assert.NotEmpty(t, reason.Hint)
}

func TestRunner_FailingGeneratorLeavesReason(t *testing.T) {
	r := NewRunner([]Generator{
		&fakeGenerator{source: bundle.SourceFTS, cands: fakeCands(bundle.SourceFTS, "c1")},
		&fakeGenerator{source: bundle.SourceSymbol, err: fmt.Errorf("index gone")},
	}, WithLogger(discardLogger()))

	res, err := r.Run(context.Background(), Query{Text: "q"}, nil, 10)

	require.NoError(t, err)
	assert.Empty(t, res.BySource[bundle.SourceSymbol])
	assert.Len(t, res.BySource[bundle.SourceFTS], 1)

	require.Len(t, res.Reasons, 1)
	reason := res.Reasons[0]
	assert.Equal(t, bundle.ReasonError, reason.Category)
	assert.Equal(t, "seed/symbol", reason.Stage)
	assert.Contains(t, reason.Message, "index gone")
}

func TestRunner_CancelledContextFails(t *testing.T) {
	r := NewRunner([]Generator{
		&fakeGenerator{source: bundle.SourceFTS, cands: fakeCands(bundle.SourceFTS, "c1")},
	}, WithLogger(discardLogger()))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := r.Run(ctx, Query{Text: "q"}, nil, 10)

	require.Error(t, err)
	assert.True(t, errors.IsKind(err, errors.KindCancelled))
}

func TestRunner_EmptySourceIsNotAFailure(t *testing.T) {
	r := NewRunner([]Generator{
		&fakeGenerator{source: bundle.SourceFTS},
		&fakeGenerator{source: bundle.SourceVector, cands: fakeCands(bundle.SourceVector, "c1")},
	}, WithLogger(discardLogger()))

	res, err := r.Run(context.Background(), Query{Text: "q"}, nil, 10)

	require.NoError(t, err)
	assert.Empty(t, res.Reasons, "an empty healthy source leaves no stopping reason")
	assert.Empty(t, res.BySource[bundle.SourceFTS])
	assert.Len(t, res.BySource[bundle.SourceVector], 1)
}
