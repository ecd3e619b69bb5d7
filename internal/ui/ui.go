// Package ui renders indexing progress and status in the terminal: a
// live TUI for interactive sessions, plain line output for CI and
// pipes.
package ui

import (
	"context"
	"io"
	"os"
	"time"

	"github.com/mattn/go-isatty"
)

// Stage is one phase of an index run.
type Stage int

const (
	// StageScanning walks the tree for candidate files.
	StageScanning Stage = iota
	// StageParsing extracts spans, chunks, and references.
	StageParsing
	// StageResolving turns raw references into edges.
	StageResolving
	// StageEmbedding computes vectors for new chunks.
	StageEmbedding
	// StageComplete is the terminal stage.
	StageComplete
)

func (s Stage) String() string {
	switch s {
	case StageScanning:
		return "Scanning"
	case StageParsing:
		return "Parsing"
	case StageResolving:
		return "Resolving"
	case StageEmbedding:
		return "Embedding"
	case StageComplete:
		return "Complete"
	}
	return "Unknown"
}

// Icon is the short tag used in plain output.
func (s Stage) Icon() string {
	switch s {
	case StageScanning:
		return "SCAN"
	case StageParsing:
		return "PARSE"
	case StageResolving:
		return "RESOLVE"
	case StageEmbedding:
		return "EMBED"
	case StageComplete:
		return "DONE"
	}
	return "???"
}

// ProgressEvent is one progress update.
type ProgressEvent struct {
	Stage       Stage
	Current     int
	Total       int
	CurrentFile string
	Message     string
}

// ErrorEvent is a per-file error or warning during indexing.
type ErrorEvent struct {
	File   string
	Err    error
	IsWarn bool
}

// StageTimings breaks the run down per stage.
type StageTimings struct {
	Scan    time.Duration
	Parse   time.Duration
	Resolve time.Duration
	Embed   time.Duration
}

// EmbedderInfo describes the embedding backend used.
type EmbedderInfo struct {
	Provider   string
	Model      string
	Dimensions int
}

// CompletionStats is the final summary of a run.
type CompletionStats struct {
	Files      int
	Spans      int
	Chunks     int
	References int
	Embedded   int
	Errors     int
	Warnings   int
	Duration   time.Duration
	Stages     StageTimings
	Embedder   EmbedderInfo
}

// Renderer displays progress for one index run.
type Renderer interface {
	Start(ctx context.Context) error
	UpdateProgress(event ProgressEvent)
	AddError(event ErrorEvent)
	Complete(stats CompletionStats)
	Stop() error
}

// Config selects and styles a renderer.
type Config struct {
	Output     io.Writer
	ForcePlain bool
	NoColor    bool
	// Root is shown in the TUI header.
	Root string
}

// ConfigOption modifies a Config.
type ConfigOption func(*Config)

// WithForcePlain disables the TUI regardless of terminal detection.
func WithForcePlain(force bool) ConfigOption {
	return func(c *Config) { c.ForcePlain = force }
}

// WithNoColor strips styling.
func WithNoColor(noColor bool) ConfigOption {
	return func(c *Config) { c.NoColor = noColor }
}

// WithRoot sets the repo root shown in the header.
func WithRoot(root string) ConfigOption {
	return func(c *Config) { c.Root = root }
}

// NewConfig builds a Config over an output writer.
func NewConfig(output io.Writer, opts ...ConfigOption) Config {
	cfg := Config{Output: output}
	for _, opt := range opts {
		opt(&cfg)
	}
	return cfg
}

// NewRenderer picks the right renderer: TUI for interactive
// terminals, plain lines for pipes, CI, or when forced.
func NewRenderer(cfg Config) Renderer {
	if cfg.ForcePlain || !IsTTY(cfg.Output) || DetectCI() {
		return NewPlainRenderer(cfg)
	}
	tui, err := NewTUIRenderer(cfg)
	if err != nil {
		return NewPlainRenderer(cfg)
	}
	return tui
}

// IsTTY reports whether the writer is an interactive terminal.
func IsTTY(w io.Writer) bool {
	f, ok := w.(*os.File)
	if !ok {
		return false
	}
	return isatty.IsTerminal(f.Fd()) || isatty.IsCygwinTerminal(f.Fd())
}

// DetectNoColor honors the NO_COLOR convention.
func DetectNoColor() bool {
	_, set := os.LookupEnv("NO_COLOR")
	return set
}

// DetectCI reports whether a CI environment variable is present.
func DetectCI() bool {
	for _, v := range []string{"CI", "GITHUB_ACTIONS", "GITLAB_CI", "JENKINS_URL", "TRAVIS"} {
		if _, set := os.LookupEnv(v); set {
			return true
		}
	}
	return false
}
