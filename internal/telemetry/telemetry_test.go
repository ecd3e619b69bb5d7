package telemetry

import (
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBucketFor(t *testing.T) {
	tests := []struct {
		d    time.Duration
		want Bucket
	}{
		{5 * time.Millisecond, BucketLt10},
		{10 * time.Millisecond, BucketLt50},
		{49 * time.Millisecond, BucketLt50},
		{99 * time.Millisecond, BucketLt100},
		{250 * time.Millisecond, BucketLt500},
		{2 * time.Second, BucketGte500},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, BucketFor(tt.d), tt.d.String())
	}
}

func TestObserve_BuildsHistogramAndZeroRate(t *testing.T) {
	c := New()
	c.Observe("search", "login flow", 5, 4*time.Millisecond)
	c.Observe("search", "login flow", 3, 40*time.Millisecond)
	c.Observe("search", "quantum sprockets", 0, 12*time.Millisecond)
	c.Observe("assemble", "auth", 1, 600*time.Millisecond)

	snap := c.Snapshot()
	search := snap.Ops["search"]
	require.Equal(t, int64(3), search.Total)
	assert.Equal(t, int64(1), search.ZeroResults)
	assert.InDelta(t, 1.0/3.0, search.ZeroRate, 1e-9)
	assert.Equal(t, int64(1), search.Latency[BucketLt10])
	assert.Equal(t, int64(2), search.Latency[BucketLt50])

	assemble := snap.Ops["assemble"]
	assert.Equal(t, int64(1), assemble.Latency[BucketGte500])
	assert.Contains(t, snap.RecentZero, "quantum sprockets")
}

func TestCacheCounters(t *testing.T) {
	c := New()
	c.CacheHit("signature")
	c.CacheHit("signature")
	c.CacheMiss("signature")
	c.CacheMiss("rerank")

	snap := c.Snapshot()
	sig := snap.Caches["signature"]
	assert.Equal(t, int64(2), sig.Hits)
	assert.Equal(t, int64(1), sig.Misses)
	assert.InDelta(t, 2.0/3.0, sig.HitRate, 1e-9)
	assert.Equal(t, float64(0), snap.Caches["rerank"].HitRate)
}

func TestTopZero_RanksByFrequency(t *testing.T) {
	c := New()
	for i := 0; i < 3; i++ {
		c.Observe("search", "flux capacitor", 0, time.Millisecond)
	}
	c.Observe("search", "warp drive", 0, time.Millisecond)

	top := c.TopZero(1)
	require.Len(t, top, 1)
	assert.Equal(t, "flux capacitor", top[0])
}

func TestZeroLog_IsBounded(t *testing.T) {
	c := New()
	for i := 0; i < zeroRingSize*2; i++ {
		c.Observe("search", fmt.Sprintf("q%d", i), 0, time.Millisecond)
	}
	snap := c.Snapshot()
	assert.Len(t, snap.RecentZero, zeroRingSize)
	// Oldest entries were evicted.
	assert.Equal(t, fmt.Sprintf("q%d", zeroRingSize), snap.RecentZero[0])
}

func TestCollector_ConcurrentUse(t *testing.T) {
	c := New()
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				c.Observe("search", "q", j%2, time.Millisecond)
				c.CacheHit("graph")
			}
		}()
	}
	wg.Wait()

	snap := c.Snapshot()
	assert.Equal(t, int64(800), snap.Ops["search"].Total)
	assert.Equal(t, int64(800), snap.Caches["graph"].Hits)
}
