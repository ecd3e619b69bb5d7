package store

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pampax/pampax/internal/bundle"
	"github.com/pampax/pampax/internal/errors"
)

func TestSessionLifecycle(t *testing.T) {
	clock := newTestClock()
	s := newTestStore(t, WithClock(clock.Now))
	ctx := context.Background()

	require.NoError(t, s.UpsertSession(ctx, &bundle.Session{ID: "sess-1", Repo: "repo"}))

	got, err := s.SessionByID(ctx, "sess-1")
	require.NoError(t, err)
	assert.Equal(t, "repo", got.Repo)
	assert.Equal(t, got.CreatedAt, got.LastUsed)

	clock.Advance(time.Hour)
	require.NoError(t, s.TouchSession(ctx, "sess-1"))

	got, err = s.SessionByID(ctx, "sess-1")
	require.NoError(t, err)
	assert.True(t, got.LastUsed.After(got.CreatedAt))

	require.NoError(t, s.DeleteSession(ctx, "sess-1"))
	_, err = s.SessionByID(ctx, "sess-1")
	assert.True(t, errors.IsKind(err, errors.KindNotFound))
}

func TestPruneSessionsCascades(t *testing.T) {
	clock := newTestClock()
	s := newTestStore(t, WithClock(clock.Now))
	ctx := context.Background()

	require.NoError(t, s.UpsertSession(ctx, &bundle.Session{ID: "stale"}))
	require.NoError(t, s.UpsertMemory(ctx, &bundle.Memory{
		ID: "m-stale", SessionID: "stale", Content: "old note",
	}))

	clock.Advance(30 * 24 * time.Hour)
	require.NoError(t, s.UpsertSession(ctx, &bundle.Session{ID: "fresh"}))

	pruned, err := s.PruneSessions(ctx, clock.Now().Add(-7*24*time.Hour))
	require.NoError(t, err)
	assert.Equal(t, 1, pruned)

	_, err = s.SessionByID(ctx, "fresh")
	assert.NoError(t, err)
	_, err = s.MemoryByID(ctx, "m-stale")
	assert.True(t, errors.IsKind(err, errors.KindNotFound))
}

func newTestInteraction(id, session string) *bundle.Interaction {
	sat := true
	return &bundle.Interaction{
		ID:              id,
		SessionID:       session,
		Query:           "getUserById function",
		Intent:          bundle.IntentSymbol,
		BundleSignature: "sig-abc",
		TopClick:        "span-1",
		Satisfied:       &sat,
		TimeToFix:       90 * time.Second,
		TokenUsage:      1200,
		SeedWeights: map[bundle.Source]float64{
			bundle.SourceFTS:    1.0,
			bundle.SourceVector: 1.2,
		},
		PolicyThresholds: bundle.PolicyThresholds{MaxDepth: 2, EarlyStopThreshold: 3},
		Language:         "go",
		Repo:             "repo",
	}
}

func TestRecordInteractionRoundTrip(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	seedSession(t, s, "sess-1")

	require.NoError(t, s.RecordInteraction(ctx, newTestInteraction("it-1", "sess-1")))

	got, err := s.InteractionByID(ctx, "it-1")
	require.NoError(t, err)
	assert.Equal(t, bundle.IntentSymbol, got.Intent)
	assert.Equal(t, "sig-abc", got.BundleSignature)
	require.NotNil(t, got.Satisfied)
	assert.True(t, *got.Satisfied)
	assert.Equal(t, 90*time.Second, got.TimeToFix)
	assert.Equal(t, 1200, got.TokenUsage)
	assert.Equal(t, 1.2, got.SeedWeights[bundle.SourceVector])
	assert.Equal(t, 2, got.PolicyThresholds.MaxDepth)
	assert.False(t, got.Timestamp.IsZero())
}

func TestRecordInteractionRequiresSession(t *testing.T) {
	s := newTestStore(t)

	err := s.RecordInteraction(context.Background(), newTestInteraction("it-1", "ghost"))
	require.Error(t, err)
	assert.True(t, errors.IsKind(err, errors.KindIntegrity))
}

func TestUpdateInteractionOutcome(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	seedSession(t, s, "sess-1")

	it := newTestInteraction("it-1", "sess-1")
	it.Satisfied = nil
	it.TopClick = ""
	it.TimeToFix = 0
	require.NoError(t, s.RecordInteraction(ctx, it))

	sat := false
	require.NoError(t, s.UpdateInteractionOutcome(ctx, "it-1", &sat, "span-9", 4*time.Minute))

	got, err := s.InteractionByID(ctx, "it-1")
	require.NoError(t, err)
	require.NotNil(t, got.Satisfied)
	assert.False(t, *got.Satisfied)
	assert.Equal(t, "span-9", got.TopClick)
	assert.Equal(t, 4*time.Minute, got.TimeToFix)

	err = s.UpdateInteractionOutcome(ctx, "it-ghost", &sat, "", 0)
	assert.True(t, errors.IsKind(err, errors.KindNotFound))
}

func TestListInteractionsFilters(t *testing.T) {
	clock := newTestClock()
	s := newTestStore(t, WithClock(clock.Now))
	ctx := context.Background()
	seedSession(t, s, "sess-1")

	old := newTestInteraction("it-old", "sess-1")
	old.Intent = bundle.IntentConfig
	old.Satisfied = nil
	require.NoError(t, s.RecordInteraction(ctx, old))

	clock.Advance(time.Hour)
	cutoff := clock.Now()
	clock.Advance(time.Hour)

	recent := newTestInteraction("it-new", "sess-1")
	require.NoError(t, s.RecordInteraction(ctx, recent))

	t.Run("by intent", func(t *testing.T) {
		items, err := s.ListInteractions(ctx, &InteractionFilter{Intent: bundle.IntentConfig})
		require.NoError(t, err)
		require.Len(t, items, 1)
		assert.Equal(t, "it-old", items[0].ID)
	})

	t.Run("since cutoff", func(t *testing.T) {
		items, err := s.ListInteractions(ctx, &InteractionFilter{Since: cutoff})
		require.NoError(t, err)
		require.Len(t, items, 1)
		assert.Equal(t, "it-new", items[0].ID)
	})

	t.Run("satisfied only", func(t *testing.T) {
		items, err := s.ListInteractions(ctx, &InteractionFilter{SatisfiedOnly: true})
		require.NoError(t, err)
		require.Len(t, items, 1)
		assert.Equal(t, "it-new", items[0].ID)
	})

	t.Run("newest first with limit", func(t *testing.T) {
		items, err := s.ListInteractions(ctx, &InteractionFilter{Limit: 1})
		require.NoError(t, err)
		require.Len(t, items, 1)
		assert.Equal(t, "it-new", items[0].ID)
	})

	t.Run("count matches", func(t *testing.T) {
		n, err := s.CountInteractions(ctx, &InteractionFilter{Repo: "repo"})
		require.NoError(t, err)
		assert.Equal(t, 2, n)
	})
}

func TestJobLifecycle(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	id, err := s.StartJob(ctx, "index")
	require.NoError(t, err)
	assert.Positive(t, id)

	active, err := s.ActiveJob(ctx, "index")
	require.NoError(t, err)
	require.NotNil(t, active)
	assert.Equal(t, JobRunning, active.Status)

	require.NoError(t, s.FinishJob(ctx, id, ""))

	active, err = s.ActiveJob(ctx, "index")
	require.NoError(t, err)
	assert.Nil(t, active)

	latest, err := s.LatestJob(ctx, "index")
	require.NoError(t, err)
	require.NotNil(t, latest)
	assert.Equal(t, JobCompleted, latest.Status)
	assert.False(t, latest.FinishedAt.IsZero())
}

func TestJobFailureAndStale(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	id, err := s.StartJob(ctx, "index")
	require.NoError(t, err)
	require.NoError(t, s.FinishJob(ctx, id, "disk full"))

	latest, err := s.LatestJob(ctx, "index")
	require.NoError(t, err)
	assert.Equal(t, JobFailed, latest.Status)
	assert.Equal(t, "disk full", latest.Error)

	// A job left running by a crashed process gets failed at startup.
	_, err = s.StartJob(ctx, "watch")
	require.NoError(t, err)
	failed, err := s.FailStaleJobs(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, failed)

	latest, err = s.LatestJob(ctx, "watch")
	require.NoError(t, err)
	assert.Equal(t, JobFailed, latest.Status)
	assert.Equal(t, "interrupted", latest.Error)

	// No running job of a kind yields nil, not an error.
	latest, err = s.LatestJob(ctx, "never-ran")
	require.NoError(t, err)
	assert.Nil(t, latest)
}
