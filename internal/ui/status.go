package ui

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"time"
)

// StatusInfo is the index summary behind `pampax status`.
type StatusInfo struct {
	Root        string    `json:"root"`
	Files       int       `json:"files"`
	Spans       int       `json:"spans"`
	Chunks      int       `json:"chunks"`
	References  int       `json:"references"`
	Embedded    int       `json:"embedded"`
	StoreBytes  int64     `json:"store_bytes"`
	LastIndexed time.Time `json:"last_indexed,omitzero"`
	LastStatus  string    `json:"last_status,omitempty"`

	Embedder EmbedderInfo `json:"embedder"`
	Watching bool         `json:"watching"`
}

// StatusRenderer prints StatusInfo for humans or machines.
type StatusRenderer struct {
	out    io.Writer
	styles Styles
}

// NewStatusRenderer builds a renderer over a writer.
func NewStatusRenderer(out io.Writer, noColor bool) *StatusRenderer {
	return &StatusRenderer{out: out, styles: GetStyles(noColor)}
}

// RenderJSON writes the status as a single JSON object.
func (r *StatusRenderer) RenderJSON(info StatusInfo) error {
	enc := json.NewEncoder(r.out)
	enc.SetIndent("", "  ")
	return enc.Encode(info)
}

// Render writes a human-readable summary.
func (r *StatusRenderer) Render(info StatusInfo) {
	s := r.styles
	var sb strings.Builder

	sb.WriteString(s.Header.Render("Index status") + "\n")
	sb.WriteString(r.line("Root", info.Root))
	sb.WriteString(r.line("Files", fmt.Sprintf("%d", info.Files)))
	sb.WriteString(r.line("Spans", fmt.Sprintf("%d", info.Spans)))
	sb.WriteString(r.line("Chunks", fmt.Sprintf("%d (%d embedded)", info.Chunks, info.Embedded)))
	sb.WriteString(r.line("References", fmt.Sprintf("%d", info.References)))
	sb.WriteString(r.line("Store size", FormatBytes(info.StoreBytes)))

	indexed := "never"
	if !info.LastIndexed.IsZero() {
		indexed = formatRelativeTime(info.LastIndexed)
		if info.LastStatus != "" && info.LastStatus != "completed" {
			indexed += " (" + s.Warning.Render(info.LastStatus) + ")"
		}
	}
	sb.WriteString(r.line("Last indexed", indexed))

	if info.Embedder.Provider != "" {
		sb.WriteString(r.line("Embedder", fmt.Sprintf("%s %s (%d dims)",
			info.Embedder.Provider, info.Embedder.Model, info.Embedder.Dimensions)))
	} else {
		sb.WriteString(r.line("Embedder", s.Dim.Render("none")))
	}

	watch := "off"
	if info.Watching {
		watch = s.Success.Render("on")
	}
	sb.WriteString(r.line("Watch", watch))

	_, _ = io.WriteString(r.out, sb.String())
}

func (r *StatusRenderer) line(label, value string) string {
	return fmt.Sprintf("  %s %s\n", r.styles.Label.Render(fmt.Sprintf("%-13s", label)), value)
}

// formatRelativeTime renders a timestamp as "3h ago" style text,
// falling back to the date beyond a week.
func formatRelativeTime(t time.Time) string {
	d := time.Since(t)
	switch {
	case d < time.Minute:
		return "just now"
	case d < time.Hour:
		return fmt.Sprintf("%dm ago", int(d.Minutes()))
	case d < 24*time.Hour:
		return fmt.Sprintf("%dh ago", int(d.Hours()))
	case d < 7*24*time.Hour:
		return fmt.Sprintf("%dd ago", int(d.Hours()/24))
	}
	return t.Format("2006-01-02")
}

// FormatBytes renders a byte count with a binary unit.
func FormatBytes(n int64) string {
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
