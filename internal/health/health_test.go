package health

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pampax/pampax/internal/embed"
	"github.com/pampax/pampax/internal/store"
	"github.com/pampax/pampax/internal/telemetry"
)

func openStore(t *testing.T) *store.Store {
	t.Helper()
	s, err := store.Open(filepath.Join(t.TempDir(), "index.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func checkByName(rep *Report, name string) (Check, bool) {
	for _, c := range rep.Checks {
		if c.Name == name {
			return c, true
		}
	}
	return Check{}, false
}

func TestRun_HealthyStore(t *testing.T) {
	s := openStore(t)
	rep := New(s).Run(context.Background())

	st, ok := checkByName(rep, "store")
	require.True(t, ok)
	assert.Equal(t, StatusOK, st.Status)

	disk, ok := checkByName(rep, "disk")
	require.True(t, ok)
	assert.NotEqual(t, StatusDown, disk.Status)

	assert.Equal(t, StatusOK, rep.Status)
	assert.WithinDuration(t, time.Now().UTC(), rep.GeneratedAt, time.Second)
}

func TestRun_EmbedderAvailable(t *testing.T) {
	s := openStore(t)
	rep := New(s, WithEmbedder(embed.NewStaticEmbedder())).Run(context.Background())

	emb, ok := checkByName(rep, "embedder")
	require.True(t, ok)
	assert.Equal(t, StatusOK, emb.Status)
}

type offlineEmbedder struct{ embed.Embedder }

func (offlineEmbedder) Available(context.Context) bool { return false }
func (offlineEmbedder) ModelName() string              { return "offline-model" }

func TestRun_UnavailableEmbedderDegrades(t *testing.T) {
	s := openStore(t)
	rep := New(s, WithEmbedder(offlineEmbedder{})).Run(context.Background())

	emb, ok := checkByName(rep, "embedder")
	require.True(t, ok)
	assert.Equal(t, StatusDegraded, emb.Status)
	// Degraded embedder never takes the whole system down.
	assert.Equal(t, StatusDegraded, rep.Status)
}

func TestRun_TelemetryCachesSurface(t *testing.T) {
	s := openStore(t)
	m := telemetry.New()
	m.CacheHit("graph")
	m.Observe("search", "q", 2, 3*time.Millisecond)

	rep := New(s, WithTelemetry(m)).Run(context.Background())

	require.NotNil(t, rep.Telemetry)
	assert.Contains(t, rep.Caches, "graph")
	assert.Equal(t, int64(1), rep.Telemetry.Ops["search"].Latency[telemetry.BucketLt10])
}

func TestOverall_StoreDownIsFatal(t *testing.T) {
	checks := []Check{
		{Name: "store", Status: StatusDown},
		{Name: "embedder", Status: StatusOK},
	}
	assert.Equal(t, StatusDown, overall(checks))

	checks[0] = Check{Name: "rerank_breakers", Status: StatusDown}
	assert.Equal(t, StatusDegraded, overall(checks))
}
