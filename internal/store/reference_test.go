package store

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pampax/pampax/internal/bundle"
	"github.com/pampax/pampax/internal/errors"
)

func seedReferenceGraph(t *testing.T, s *Store) {
	t.Helper()
	ctx := context.Background()
	seedFile(t, s, "repo", "handler.go")
	seedFile(t, s, "repo", "service.go")
	seedSpan(t, s, "sp-handler", "repo", "handler.go", "HandleLogin", "function", 0, 200)
	seedSpan(t, s, "sp-service", "repo", "service.go", "Login", "function", 0, 150)
	seedSpan(t, s, "sp-helper", "repo", "service.go", "hashPassword", "function", 150, 300)

	require.NoError(t, s.BulkUpsertReferences(ctx, []*bundle.Reference{
		{SrcSpanID: "sp-handler", DstPath: "service.go", ByteStart: 10, ByteEnd: 20, Kind: bundle.EdgeCall, Confidence: 0.9},
		{SrcSpanID: "sp-handler", DstPath: "service.go", ByteStart: 160, ByteEnd: 170, Kind: bundle.EdgeCall},
		{SrcSpanID: "sp-service", DstPath: "handler.go", ByteStart: 5, ByteEnd: 15, Kind: bundle.EdgeTestOf},
	}))
}

func TestReferenceQueries(t *testing.T) {
	s := newTestStore(t)
	seedReferenceGraph(t, s)
	ctx := context.Background()

	t.Run("outgoing", func(t *testing.T) {
		refs, err := s.OutgoingReferences(ctx, "sp-handler", nil)
		require.NoError(t, err)
		assert.Len(t, refs, 2)
		// Omitted confidence defaults to 1.0.
		assert.Equal(t, 0.9, refs[0].Confidence)
		assert.Equal(t, 1.0, refs[1].Confidence)
	})

	t.Run("outgoing filtered by kind", func(t *testing.T) {
		refs, err := s.OutgoingReferences(ctx, "sp-service", []bundle.EdgeKind{bundle.EdgeCall})
		require.NoError(t, err)
		assert.Empty(t, refs)

		refs, err = s.OutgoingReferences(ctx, "sp-service", []bundle.EdgeKind{bundle.EdgeTestOf})
		require.NoError(t, err)
		assert.Len(t, refs, 1)
	})

	t.Run("incoming by overlap", func(t *testing.T) {
		// sp-service covers service.go bytes [0,150); only the first
		// edge lands inside it.
		refs, err := s.IncomingReferences(ctx, "service.go", 0, 150, nil)
		require.NoError(t, err)
		require.Len(t, refs, 1)
		assert.Equal(t, "sp-handler", refs[0].SrcSpanID)
		assert.Equal(t, 10, refs[0].ByteStart)

		// sp-helper covers [150,300); the second edge lands there.
		refs, err = s.IncomingReferences(ctx, "service.go", 150, 300, nil)
		require.NoError(t, err)
		require.Len(t, refs, 1)
		assert.Equal(t, 160, refs[0].ByteStart)
	})

	t.Run("count", func(t *testing.T) {
		n, err := s.CountReferences(ctx)
		require.NoError(t, err)
		assert.Equal(t, 3, n)
	})
}

func TestReferenceUpsertUpdatesConfidence(t *testing.T) {
	s := newTestStore(t)
	seedReferenceGraph(t, s)
	ctx := context.Background()

	require.NoError(t, s.BulkUpsertReferences(ctx, []*bundle.Reference{
		{SrcSpanID: "sp-handler", DstPath: "service.go", ByteStart: 10, ByteEnd: 20, Kind: bundle.EdgeCall, Confidence: 0.4},
	}))

	refs, err := s.OutgoingReferences(ctx, "sp-handler", []bundle.EdgeKind{bundle.EdgeCall})
	require.NoError(t, err)
	require.Len(t, refs, 2)
	assert.Equal(t, 0.4, refs[0].Confidence)

	n, err := s.CountReferences(ctx)
	require.NoError(t, err)
	assert.Equal(t, 3, n)
}

func TestReferenceValidation(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	err := s.BulkUpsertReferences(ctx, []*bundle.Reference{
		{SrcSpanID: "", DstPath: "x.go", ByteStart: 0, ByteEnd: 10, Kind: bundle.EdgeCall},
	})
	assert.True(t, errors.IsKind(err, errors.KindInvalidInput))

	err = s.BulkUpsertReferences(ctx, []*bundle.Reference{
		{SrcSpanID: "s", DstPath: "x.go", ByteStart: 10, ByteEnd: 10, Kind: bundle.EdgeCall},
	})
	assert.True(t, errors.IsKind(err, errors.KindInvalidInput))

	// The source span must exist.
	err = s.BulkUpsertReferences(ctx, []*bundle.Reference{
		{SrcSpanID: "ghost", DstPath: "x.go", ByteStart: 0, ByteEnd: 10, Kind: bundle.EdgeCall},
	})
	require.Error(t, err)
	assert.True(t, errors.IsKind(err, errors.KindIntegrity))
}

func TestDeleteReferencesToPath(t *testing.T) {
	s := newTestStore(t)
	seedReferenceGraph(t, s)
	ctx := context.Background()

	require.NoError(t, s.DeleteReferencesToPath(ctx, "service.go"))

	refs, err := s.OutgoingReferences(ctx, "sp-handler", nil)
	require.NoError(t, err)
	assert.Empty(t, refs)

	refs, err = s.OutgoingReferences(ctx, "sp-service", nil)
	require.NoError(t, err)
	assert.Len(t, refs, 1)
}
