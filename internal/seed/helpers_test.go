package seed

import (
	"context"
	"io"
	"log/slog"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/pampax/pampax/internal/bundle"
	"github.com/pampax/pampax/internal/store"
)

// newTestStore opens a file-backed store under a temp dir with cleanup.
func newTestStore(t *testing.T) *store.Store {
	t.Helper()
	s, err := store.Open(filepath.Join(t.TempDir(), ".pampax", "index.db"))
	require.NoError(t, err)
	t.Cleanup(func() {
		_ = s.Close()
	})
	return s
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func seedFile(t *testing.T, s *store.Store, repo, path string) {
	t.Helper()
	err := s.UpsertFile(context.Background(), &bundle.File{
		Repo:        repo,
		Path:        path,
		ContentHash: "hash-" + path,
		Lang:        "go",
		Size:        100,
		IndexedAt:   time.Now(),
	})
	require.NoError(t, err)
}

func seedSpan(t *testing.T, s *store.Store, id, repo, path, name string, kind bundle.SpanKind) {
	t.Helper()
	err := s.BulkUpsertSpans(context.Background(), []*bundle.Span{{
		ID:        id,
		Repo:      repo,
		Path:      path,
		Name:      name,
		Kind:      kind,
		ByteStart: 0,
		ByteEnd:   100,
	}})
	require.NoError(t, err)
}

func seedChunk(t *testing.T, s *store.Store, id, spanID, repo, path, content string) {
	t.Helper()
	err := s.BulkUpsertChunks(context.Background(), []*bundle.Chunk{{
		ID:      id,
		SpanID:  spanID,
		Repo:    repo,
		Path:    path,
		Content: content,
	}})
	require.NoError(t, err)
}

func candidateIDs(cands []bundle.Candidate) []string {
	ids := make([]string, 0, len(cands))
	for _, c := range cands {
		ids = append(ids, c.ChunkID)
	}
	return ids
}
