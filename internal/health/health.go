// Package health runs the liveness checks behind the health command
// and MCP tool: store integrity, disk headroom, file descriptor
// limits, embedder availability, rerank breaker states, cache hit
// rates, and index freshness. Checks degrade rather than fail where
// the system still works without the component.
package health

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"time"

	"github.com/pampax/pampax/internal/embed"
	"github.com/pampax/pampax/internal/index"
	"github.com/pampax/pampax/internal/reliability"
	"github.com/pampax/pampax/internal/rerank"
	"github.com/pampax/pampax/internal/sigcache"
	"github.com/pampax/pampax/internal/store"
	"github.com/pampax/pampax/internal/telemetry"
)

// Status grades a check or the whole report.
type Status string

const (
	StatusOK       Status = "ok"
	StatusDegraded Status = "degraded"
	StatusDown     Status = "down"
)

// Check is one probe's outcome.
type Check struct {
	Name   string `json:"name"`
	Status Status `json:"status"`
	Detail string `json:"detail,omitempty"`
}

// Report aggregates every check; overall is the worst individual
// status, except that degraded optional components never take the
// whole system down.
type Report struct {
	Status      Status              `json:"status"`
	Checks      []Check             `json:"checks"`
	Caches      map[string]any      `json:"caches,omitempty"`
	Telemetry   *telemetry.Snapshot `json:"telemetry,omitempty"`
	GeneratedAt time.Time           `json:"generated_at"`
}

// minDiskBytes is the free-space floor under the store directory.
const minDiskBytes = 100 * 1024 * 1024

// staleIndexAge marks an index as degraded when the last completed
// run is older than this.
const staleIndexAge = 7 * 24 * time.Hour

// Checker wires the probes to live components. Every collaborator is
// optional except the store; absent ones are skipped.
type Checker struct {
	store    *store.Store
	embedder embed.Embedder
	bus      *rerank.Bus
	sigs     *sigcache.Cache
	indexer  *index.Indexer
	metrics  *telemetry.Collector
	repo     string
	log      *slog.Logger
}

// Option adds an optional probe target.
type Option func(*Checker)

func WithEmbedder(e embed.Embedder) Option {
	return func(c *Checker) { c.embedder = e }
}

func WithRerankBus(b *rerank.Bus) Option {
	return func(c *Checker) { c.bus = b }
}

func WithSignatureCache(s *sigcache.Cache) Option {
	return func(c *Checker) { c.sigs = s }
}

func WithIndexer(ix *index.Indexer, repo string) Option {
	return func(c *Checker) {
		c.indexer = ix
		c.repo = repo
	}
}

func WithTelemetry(m *telemetry.Collector) Option {
	return func(c *Checker) { c.metrics = m }
}

func WithLogger(log *slog.Logger) Option {
	return func(c *Checker) {
		if log != nil {
			c.log = log
		}
	}
}

// New builds a checker over an open store.
func New(s *store.Store, opts ...Option) *Checker {
	c := &Checker{store: s, log: slog.Default()}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Run executes every wired probe. It never returns an error: problems
// are the report's content, not a failure of reporting.
func (c *Checker) Run(ctx context.Context) *Report {
	rep := &Report{
		Caches:      make(map[string]any),
		GeneratedAt: time.Now().UTC(),
	}

	rep.add(c.checkStore(ctx))
	rep.add(c.checkDisk())
	rep.add(c.checkFileDescriptors())
	if c.embedder != nil {
		rep.add(c.checkEmbedder(ctx))
	}
	if c.bus != nil {
		rep.add(c.checkBreakers())
	}
	if c.indexer != nil {
		rep.add(c.checkFreshness(ctx))
	}

	if c.sigs != nil {
		rep.Caches["signature"] = c.sigs.Stats()
	}
	if c.metrics != nil {
		snap := c.metrics.Snapshot()
		rep.Telemetry = &snap
		for name, cs := range snap.Caches {
			rep.Caches[name] = cs
		}
	}

	rep.Status = overall(rep.Checks)
	return rep
}

func (r *Report) add(c Check) {
	r.Checks = append(r.Checks, c)
}

// overall takes the worst status, where store problems alone are
// fatal: everything else leaves the system answering queries.
func overall(checks []Check) Status {
	status := StatusOK
	for _, c := range checks {
		switch c.Status {
		case StatusDown:
			if c.Name == "store" || c.Name == "disk" {
				return StatusDown
			}
			status = StatusDegraded
		case StatusDegraded:
			if status == StatusOK {
				status = StatusDegraded
			}
		}
	}
	return status
}

func (c *Checker) checkStore(ctx context.Context) Check {
	if c.store == nil {
		return Check{Name: "store", Status: StatusDown, Detail: "no store configured"}
	}
	if err := c.store.Integrity(ctx); err != nil {
		return Check{Name: "store", Status: StatusDown, Detail: err.Error()}
	}
	return Check{Name: "store", Status: StatusOK}
}

func (c *Checker) checkDisk() Check {
	dir := "."
	if c.store != nil && c.store.Path() != "" {
		dir = filepath.Dir(c.store.Path())
	}
	free, err := freeBytes(dir)
	if err != nil {
		return Check{Name: "disk", Status: StatusDegraded, Detail: fmt.Sprintf("cannot stat %s: %v", dir, err)}
	}
	if free < minDiskBytes {
		return Check{Name: "disk", Status: StatusDown, Detail: fmt.Sprintf("%s free, need %s", formatBytes(free), formatBytes(minDiskBytes))}
	}
	return Check{Name: "disk", Status: StatusOK, Detail: formatBytes(free) + " free"}
}

func (c *Checker) checkEmbedder(ctx context.Context) Check {
	if !c.embedder.Available(ctx) {
		// FTS and symbol retrieval still work without vectors.
		return Check{Name: "embedder", Status: StatusDegraded, Detail: c.embedder.ModelName() + " unavailable, vector search disabled"}
	}
	return Check{Name: "embedder", Status: StatusOK, Detail: c.embedder.ModelName()}
}

func (c *Checker) checkBreakers() Check {
	open := 0
	detail := ""
	for _, p := range c.bus.Providers() {
		state, ok := c.bus.BreakerState(p)
		if !ok {
			continue
		}
		if state == reliability.StateOpen {
			open++
			if detail != "" {
				detail += ", "
			}
			detail += p
		}
	}
	if open > 0 {
		return Check{Name: "rerank_breakers", Status: StatusDegraded, Detail: "open: " + detail}
	}
	return Check{Name: "rerank_breakers", Status: StatusOK}
}

func (c *Checker) checkFreshness(ctx context.Context) Check {
	st, err := c.indexer.Status(ctx, c.repo)
	if err != nil {
		return Check{Name: "index", Status: StatusDegraded, Detail: err.Error()}
	}
	if st.Files == 0 {
		return Check{Name: "index", Status: StatusDegraded, Detail: "index is empty, run pampax index"}
	}
	if st.LastJob != nil {
		if st.LastJob.Status == store.JobFailed {
			return Check{Name: "index", Status: StatusDegraded, Detail: "last index run failed: " + st.LastJob.Error}
		}
		if !st.LastJob.FinishedAt.IsZero() {
			if age := time.Since(st.LastJob.FinishedAt); age > staleIndexAge {
				return Check{Name: "index", Status: StatusDegraded, Detail: fmt.Sprintf("last indexed %s ago", age.Round(time.Hour))}
			}
		}
	}
	return Check{Name: "index", Status: StatusOK, Detail: fmt.Sprintf("%d files, %d spans", st.Files, st.Spans)}
}

func formatBytes(n uint64) string {
	const (
		kb = 1 << 10
		mb = 1 << 20
		gb = 1 << 30
	)
	switch {
	case n >= gb:
		return fmt.Sprintf("%.1f GB", float64(n)/gb)
	case n >= mb:
		return fmt.Sprintf("%.1f MB", float64(n)/mb)
	case n >= kb:
		return fmt.Sprintf("%.1f KB", float64(n)/kb)
	}
	return fmt.Sprintf("%d B", n)
}
