package ui

import (
	"context"
	"fmt"
	"io"
	"sync"
	"time"
)

// PlainRenderer prints one line per update, suitable for CI logs and
// pipes.
type PlainRenderer struct {
	mu     sync.Mutex
	out    io.Writer
	errors []ErrorEvent
}

// NewPlainRenderer builds a line-oriented renderer.
func NewPlainRenderer(cfg Config) *PlainRenderer {
	return &PlainRenderer{out: cfg.Output}
}

func (r *PlainRenderer) Start(ctx context.Context) error { return nil }

func (r *PlainRenderer) UpdateProgress(event ProgressEvent) {
	r.mu.Lock()
	defer r.mu.Unlock()

	msg := event.Message
	if msg == "" {
		msg = event.CurrentFile
	}
	switch {
	case event.Total > 0:
		_, _ = fmt.Fprintf(r.out, "[%s] %d/%d %s\n", event.Stage.Icon(), event.Current, event.Total, msg)
	case msg != "":
		_, _ = fmt.Fprintf(r.out, "[%s] %s\n", event.Stage.Icon(), msg)
	}
}

func (r *PlainRenderer) AddError(event ErrorEvent) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.errors = append(r.errors, event)
	prefix := "ERROR"
	if event.IsWarn {
		prefix = "WARN"
	}
	if event.File != "" {
		_, _ = fmt.Fprintf(r.out, "%s: %s: %v\n", prefix, event.File, event.Err)
	} else {
		_, _ = fmt.Fprintf(r.out, "%s: %v\n", prefix, event.Err)
	}
}

func (r *PlainRenderer) Complete(stats CompletionStats) {
	r.mu.Lock()
	defer r.mu.Unlock()

	_, _ = fmt.Fprintf(r.out, "Complete: %d files, %d spans, %d chunks, %d references in %s",
		stats.Files, stats.Spans, stats.Chunks, stats.References,
		stats.Duration.Round(100*time.Millisecond))
	if stats.Errors > 0 || stats.Warnings > 0 {
		_, _ = fmt.Fprintf(r.out, " (%d errors, %d warnings)", stats.Errors, stats.Warnings)
	}
	_, _ = fmt.Fprintln(r.out)

	if stats.Stages.Parse > 0 || stats.Stages.Embed > 0 {
		_, _ = fmt.Fprintln(r.out, "Stages:")
		_, _ = fmt.Fprintf(r.out, "  scan    %s\n", stats.Stages.Scan.Round(100*time.Millisecond))
		_, _ = fmt.Fprintf(r.out, "  parse   %s\n", stats.Stages.Parse.Round(100*time.Millisecond))
		_, _ = fmt.Fprintf(r.out, "  resolve %s\n", stats.Stages.Resolve.Round(100*time.Millisecond))
		if stats.Stages.Embed > 0 && stats.Embedded > 0 {
			rate := float64(stats.Embedded) / stats.Stages.Embed.Seconds()
			_, _ = fmt.Fprintf(r.out, "  embed   %s (%d chunks @ %.1f/s)\n",
				stats.Stages.Embed.Round(100*time.Millisecond), stats.Embedded, rate)
		}
	}
	if stats.Embedder.Provider != "" {
		_, _ = fmt.Fprintf(r.out, "Embedder: %s (%s, %d dims)\n",
			stats.Embedder.Provider, stats.Embedder.Model, stats.Embedder.Dimensions)
	}
}

func (r *PlainRenderer) Stop() error { return nil }
