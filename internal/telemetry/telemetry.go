// Package telemetry collects in-process query metrics: latency
// histograms per operation, zero-result tracking, and cache hit
// counters. Everything stays local; nothing is reported anywhere.
package telemetry

import (
	"sort"
	"sync"
	"time"
)

// Bucket is a latency histogram bucket.
type Bucket string

const (
	BucketLt10   Bucket = "lt_10ms"
	BucketLt50   Bucket = "lt_50ms"
	BucketLt100  Bucket = "lt_100ms"
	BucketLt500  Bucket = "lt_500ms"
	BucketGte500 Bucket = "gte_500ms"
)

// Buckets lists histogram buckets in ascending order.
var Buckets = []Bucket{BucketLt10, BucketLt50, BucketLt100, BucketLt500, BucketGte500}

// BucketFor places a duration into its bucket.
func BucketFor(d time.Duration) Bucket {
	switch ms := d.Milliseconds(); {
	case ms < 10:
		return BucketLt10
	case ms < 50:
		return BucketLt50
	case ms < 100:
		return BucketLt100
	case ms < 500:
		return BucketLt500
	default:
		return BucketGte500
	}
}

// zeroRingSize bounds the recent zero-result query list.
const zeroRingSize = 50

// Collector accumulates metrics. All methods are safe for concurrent
// use.
type Collector struct {
	mu      sync.Mutex
	ops     map[string]*opStats
	zeroLog *ring[string]
	caches  map[string]*cacheStats
}

type opStats struct {
	total    int64
	zero     int64
	latency  map[Bucket]int64
	totalDur time.Duration
}

type cacheStats struct {
	hits   int64
	misses int64
}

// New returns an empty collector.
func New() *Collector {
	return &Collector{
		ops:     make(map[string]*opStats),
		zeroLog: newRing[string](zeroRingSize),
		caches:  make(map[string]*cacheStats),
	}
}

// Observe records one operation: its latency and how many results it
// produced. Zero results feed the zero-result log so recurring dead
// queries are visible.
func (c *Collector) Observe(op, query string, results int, d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()

	st := c.ops[op]
	if st == nil {
		st = &opStats{latency: make(map[Bucket]int64)}
		c.ops[op] = st
	}
	st.total++
	st.totalDur += d
	st.latency[BucketFor(d)]++
	if results == 0 {
		st.zero++
		if query != "" {
			c.zeroLog.add(query)
		}
	}
}

// CacheHit counts a hit on a named cache.
func (c *Collector) CacheHit(name string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.cache(name).hits++
}

// CacheMiss counts a miss on a named cache.
func (c *Collector) CacheMiss(name string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.cache(name).misses++
}

func (c *Collector) cache(name string) *cacheStats {
	st := c.caches[name]
	if st == nil {
		st = &cacheStats{}
		c.caches[name] = st
	}
	return st
}

// OpSnapshot is the frozen view of one operation's metrics.
type OpSnapshot struct {
	Total        int64            `json:"total"`
	ZeroResults  int64            `json:"zero_results"`
	ZeroRate     float64          `json:"zero_rate"`
	AvgLatencyMS float64          `json:"avg_latency_ms"`
	Latency      map[Bucket]int64 `json:"latency"`
}

// CacheSnapshot is the frozen view of one cache's counters.
type CacheSnapshot struct {
	Hits    int64   `json:"hits"`
	Misses  int64   `json:"misses"`
	HitRate float64 `json:"hit_rate"`
}

// Snapshot is a point-in-time copy of every metric.
type Snapshot struct {
	Ops         map[string]OpSnapshot    `json:"ops,omitempty"`
	Caches      map[string]CacheSnapshot `json:"caches,omitempty"`
	RecentZero  []string                 `json:"recent_zero,omitempty"`
	GeneratedAt time.Time                `json:"generated_at"`
}

// Snapshot freezes the current state. The collector keeps counting.
func (c *Collector) Snapshot() Snapshot {
	c.mu.Lock()
	defer c.mu.Unlock()

	snap := Snapshot{
		Ops:         make(map[string]OpSnapshot, len(c.ops)),
		Caches:      make(map[string]CacheSnapshot, len(c.caches)),
		RecentZero:  c.zeroLog.items(),
		GeneratedAt: time.Now().UTC(),
	}
	for op, st := range c.ops {
		out := OpSnapshot{
			Total:       st.total,
			ZeroResults: st.zero,
			Latency:     make(map[Bucket]int64, len(st.latency)),
		}
		for b, n := range st.latency {
			out.Latency[b] = n
		}
		if st.total > 0 {
			out.ZeroRate = float64(st.zero) / float64(st.total)
			out.AvgLatencyMS = float64(st.totalDur.Milliseconds()) / float64(st.total)
		}
		snap.Ops[op] = out
	}
	for name, st := range c.caches {
		out := CacheSnapshot{Hits: st.hits, Misses: st.misses}
		if total := st.hits + st.misses; total > 0 {
			out.HitRate = float64(st.hits) / float64(total)
		}
		snap.Caches[name] = out
	}
	return snap
}

// TopZero returns the most frequent recent zero-result queries.
func (c *Collector) TopZero(limit int) []string {
	c.mu.Lock()
	recent := c.zeroLog.items()
	c.mu.Unlock()

	counts := make(map[string]int)
	for _, q := range recent {
		counts[q]++
	}
	uniq := make([]string, 0, len(counts))
	for q := range counts {
		uniq = append(uniq, q)
	}
	sort.Slice(uniq, func(i, j int) bool {
		if counts[uniq[i]] != counts[uniq[j]] {
			return counts[uniq[i]] > counts[uniq[j]]
		}
		return uniq[i] < uniq[j]
	})
	if limit > 0 && len(uniq) > limit {
		uniq = uniq[:limit]
	}
	return uniq
}

// ring is a fixed-capacity FIFO buffer.
type ring[T any] struct {
	buf  []T
	head int
	size int
}

func newRing[T any](capacity int) *ring[T] {
	if capacity <= 0 {
		capacity = 16
	}
	return &ring[T]{buf: make([]T, capacity)}
}

func (r *ring[T]) add(item T) {
	r.buf[r.head] = item
	r.head = (r.head + 1) % len(r.buf)
	if r.size < len(r.buf) {
		r.size++
	}
}

// items returns the contents oldest first.
func (r *ring[T]) items() []T {
	out := make([]T, 0, r.size)
	start := (r.head - r.size + len(r.buf)) % len(r.buf)
	for i := 0; i < r.size; i++ {
		out = append(out, r.buf[(start+i)%len(r.buf)])
	}
	return out
}
