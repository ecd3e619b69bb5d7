package ui

import (
	"context"
	"fmt"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/charmbracelet/bubbles/progress"
	"github.com/charmbracelet/bubbles/spinner"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
)

// TUIRenderer drives a bubbletea program showing live indexing
// progress with per-stage indicators, a throughput sparkline, and a
// completion panel.
type TUIRenderer struct {
	mu      sync.Mutex
	cfg     Config
	program *tea.Program
	model   *indexModel
	tracker *ProgressTracker
	cancel  context.CancelFunc
	started bool
	done    chan struct{}
}

// NewTUIRenderer builds a TUI renderer. Fails when the output is not
// a terminal so callers can fall back to plain output.
func NewTUIRenderer(cfg Config) (*TUIRenderer, error) {
	if !IsTTY(cfg.Output) {
		return nil, fmt.Errorf("output is not a terminal")
	}
	tracker := NewProgressTracker()
	model := newIndexModel(tracker, cfg.Root)
	if cfg.NoColor || DetectNoColor() {
		model.styles = NoColorStyles()
	}
	return &TUIRenderer{
		cfg:     cfg,
		tracker: tracker,
		model:   model,
		done:    make(chan struct{}),
	}, nil
}

func (r *TUIRenderer) Start(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.started {
		return nil
	}
	_, r.cancel = context.WithCancel(ctx)

	opts := []tea.ProgramOption{tea.WithAltScreen()}
	if f, ok := r.cfg.Output.(*os.File); ok {
		opts = append(opts, tea.WithOutput(f))
	}
	r.program = tea.NewProgram(r.model, opts...)
	r.started = true

	go func() {
		defer close(r.done)
		_, _ = r.program.Run()
	}()
	return nil
}

func (r *TUIRenderer) UpdateProgress(event ProgressEvent) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if event.Stage != r.tracker.Stats().Stage {
		r.tracker.SetStage(event.Stage, event.Total)
	}
	r.tracker.Update(event.Current, event.CurrentFile)
	if r.program != nil {
		r.program.Send(progressMsg(event))
	}
}

func (r *TUIRenderer) AddError(event ErrorEvent) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.tracker.AddError(event)
	if r.program != nil {
		r.program.Send(errorMsg(event))
	}
}

func (r *TUIRenderer) Complete(stats CompletionStats) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.tracker.SetStage(StageComplete, 0)
	if r.program != nil {
		r.program.Send(completeMsg(stats))
	}
}

func (r *TUIRenderer) Stop() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.cancel != nil {
		r.cancel()
	}
	if r.program != nil {
		r.program.Quit()
		// Do not hang on an unresponsive program during Ctrl+C.
		select {
		case <-r.done:
		case <-time.After(2 * time.Second):
		}
	}
	return nil
}

type progressMsg ProgressEvent
type errorMsg ErrorEvent
type completeMsg CompletionStats
type tickMsg time.Time

type indexModel struct {
	tracker  *ProgressTracker
	width    int
	height   int
	quitting bool
	complete bool
	stats    CompletionStats
	spin     spinner.Model
	bar      progress.Model
	styles   Styles
	root     string
}

func newIndexModel(tracker *ProgressTracker, root string) *indexModel {
	s := spinner.New()
	s.Spinner = spinner.Dot
	s.Style = lipgloss.NewStyle().Foreground(lipgloss.Color(colorCyan))

	p := progress.New(
		progress.WithSolidFill(colorCyan),
		progress.WithWidth(50),
		progress.WithoutPercentage(),
	)
	return &indexModel{
		tracker: tracker,
		spin:    s,
		bar:     p,
		styles:  DefaultStyles(),
		width:   80,
		height:  24,
		root:    root,
	}
}

func (m *indexModel) Init() tea.Cmd {
	return tea.Batch(m.spin.Tick, tickCmd())
}

func tickCmd() tea.Cmd {
	return tea.Tick(100*time.Millisecond, func(t time.Time) tea.Msg {
		return tickMsg(t)
	})
}

func (m *indexModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "ctrl+c", "q":
			m.quitting = true
			return m, tea.Quit
		}

	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		m.bar.Width = msg.Width - 20
		if m.bar.Width < 20 {
			m.bar.Width = 20
		}

	case progressMsg, errorMsg:
		// State already lives in the tracker.
		return m, nil

	case completeMsg:
		m.complete = true
		m.stats = CompletionStats(msg)
		return m, tea.Quit

	case tickMsg:
		return m, tickCmd()

	case spinner.TickMsg:
		var cmd tea.Cmd
		m.spin, cmd = m.spin.Update(msg)
		return m, cmd
	}
	return m, nil
}

func (m *indexModel) View() string {
	if m.quitting {
		return "Cancelled.\n"
	}
	if m.complete {
		return m.renderComplete()
	}

	contentWidth := m.width - 4
	if contentWidth < 40 {
		contentWidth = 40
	}

	sections := []string{
		m.renderStages(),
		m.divider(contentWidth),
		m.renderProgress(),
		m.renderSpeed(),
		m.divider(contentWidth),
		m.renderSparkline(contentWidth),
	}
	if file := m.tracker.Stats().CurrentFile; file != "" {
		sections = append(sections, m.divider(contentWidth), m.styles.Dim.Render(truncatePath(file, contentWidth-2)))
	}

	title := "pampax indexer"
	if m.root != "" {
		title += " • " + m.root
	}
	panel := m.panel(title, strings.Join(sections, "\n"), contentWidth)
	return panel + "\n" + m.renderStatusBar()
}

func (m *indexModel) renderStages() string {
	current := m.tracker.Stats().Stage

	stages := []struct {
		stage Stage
		name  string
	}{
		{StageScanning, "Scan"},
		{StageParsing, "Parse"},
		{StageResolving, "Resolve"},
		{StageEmbedding, "Embed"},
	}

	var parts []string
	for _, s := range stages {
		var icon string
		var style lipgloss.Style
		switch {
		case s.stage < current:
			icon = "●"
			style = m.styles.Success
		case s.stage == current:
			icon = m.spin.View()
			style = m.styles.Active
		default:
			icon = "○"
			style = m.styles.Dim
		}
		parts = append(parts, style.Render(icon+" "+s.name))
	}
	return strings.Join(parts, m.styles.Dim.Render(" → "))
}

func (m *indexModel) renderProgress() string {
	stats := m.tracker.Stats()
	if stats.Total == 0 {
		return fmt.Sprintf("%s %s...\n%s",
			m.spin.View(), stats.Stage.String(), m.styles.Dim.Render("Preparing..."))
	}

	bar := m.bar.ViewAs(stats.Progress)
	pct := m.styles.Active.Render(fmt.Sprintf("%3.0f%%", stats.Progress*100))
	unit := "files"
	if stats.Stage == StageEmbedding {
		unit = "chunks"
	}
	count := m.styles.Label.Render(fmt.Sprintf("%d / %d %s", stats.Current, stats.Total, unit))
	return fmt.Sprintf("%s  %s\n%s", bar, pct, count)
}

func (m *indexModel) renderSpeed() string {
	stats := m.tracker.Stats()

	speed := fmt.Sprintf("Speed: %.0f/s", stats.Speed.Current)
	if stats.Speed.Avg > 0 {
		speed += fmt.Sprintf(" (avg: %.0f, peak: %.0f)", stats.Speed.Avg, stats.Speed.Peak)
	}
	parts := []string{m.styles.Speed.Render(speed)}
	if e := stats.ETA; e > 0 {
		parts = append(parts, m.styles.Label.Render("ETA: "+formatDuration(e)))
	}
	return strings.Join(parts, m.styles.Dim.Render("  •  "))
}

func (m *indexModel) renderSparkline(width int) string {
	sparkWidth := width - 10
	if sparkWidth < 10 {
		sparkWidth = 10
	}
	spark := m.tracker.RenderSparkline(sparkWidth)
	return m.styles.Sparkline.Render(spark) + " " + m.styles.Dim.Render("throughput ─")
}

func (m *indexModel) divider(width int) string {
	return m.styles.Border.Render(strings.Repeat("─", width))
}

func (m *indexModel) panel(title, content string, width int) string {
	box := lipgloss.NewStyle().
		Border(lipgloss.RoundedBorder()).
		BorderForeground(lipgloss.Color(colorDarkGray)).
		Padding(0, 1).
		Width(width)
	return lipgloss.JoinVertical(lipgloss.Left,
		m.styles.Header.Render(title),
		box.Render(content),
	)
}

func (m *indexModel) renderStatusBar() string {
	stats := m.tracker.Stats()
	var parts []string
	if stats.WarnCount > 0 {
		parts = append(parts, m.styles.Warning.Render(fmt.Sprintf("⚠ %d warnings", stats.WarnCount)))
	}
	if stats.ErrorCount > 0 {
		parts = append(parts, m.styles.Error.Render(fmt.Sprintf("✗ %d errors", stats.ErrorCount)))
	}
	if len(parts) == 0 {
		return m.styles.Dim.Render("q to quit")
	}
	sep := m.styles.Dim.Render("  │  ")
	return strings.Join(parts, sep) + m.styles.Dim.Render("  │  q to quit")
}

func (m *indexModel) renderComplete() string {
	contentWidth := m.width - 4
	if contentWidth < 40 {
		contentWidth = 40
	}

	lines := []string{
		m.styles.Success.Render("✓ Indexing Complete"),
		"",
	}
	row := func(label string, value string) string {
		return fmt.Sprintf("%s %s", m.styles.Label.Render(fmt.Sprintf("%-11s", label)), m.styles.Active.Render(value))
	}
	lines = append(lines,
		row("Files:", fmt.Sprintf("%d", m.stats.Files)),
		row("Spans:", fmt.Sprintf("%d", m.stats.Spans)),
		row("Chunks:", fmt.Sprintf("%d", m.stats.Chunks)),
		row("References:", fmt.Sprintf("%d", m.stats.References)),
		row("Duration:", formatDuration(m.stats.Duration)),
	)
	if m.stats.Embedder.Provider != "" {
		lines = append(lines, row("Embedder:", m.stats.Embedder.Provider+" "+m.stats.Embedder.Model))
	}
	if m.stats.Errors > 0 || m.stats.Warnings > 0 {
		lines = append(lines, "")
		if m.stats.Errors > 0 {
			lines = append(lines, m.styles.Error.Render(fmt.Sprintf("✗ %d errors", m.stats.Errors)))
		}
		if m.stats.Warnings > 0 {
			lines = append(lines, m.styles.Warning.Render(fmt.Sprintf("⚠ %d warnings", m.stats.Warnings)))
		}
	}

	box := lipgloss.NewStyle().
		Border(lipgloss.RoundedBorder()).
		BorderForeground(lipgloss.Color(colorCyan)).
		Padding(1, 2).
		Width(contentWidth)
	return box.Render(strings.Join(lines, "\n")) + "\n"
}

func formatDuration(d time.Duration) string {
	d = d.Round(time.Second)
	if d < time.Minute {
		return fmt.Sprintf("%ds", int(d.Seconds()))
	}
	if d < time.Hour {
		mins := int(d.Minutes())
		secs := int(d.Seconds()) % 60
		if secs == 0 {
			return fmt.Sprintf("%dm", mins)
		}
		return fmt.Sprintf("%dm %ds", mins, secs)
	}
	return fmt.Sprintf("%dh %dm", int(d.Hours()), int(d.Minutes())%60)
}

// truncatePath shortens a path from the left, keeping the filename.
func truncatePath(path string, maxLen int) string {
	if path == "" || len(path) <= maxLen {
		return path
	}
	parts := strings.Split(path, "/")
	name := parts[len(parts)-1]
	if len(parts) == 1 || len(name)+4 > maxLen {
		if maxLen < 4 {
			return "..."
		}
		return "..." + path[len(path)-maxLen+3:]
	}
	remaining := maxLen - len(name) - 4
	prefix := strings.Join(parts[:len(parts)-1], "/")
	if len(prefix) <= remaining {
		return path
	}
	return "..." + prefix[len(prefix)-remaining:] + "/" + name
}

var _ Renderer = (*TUIRenderer)(nil)
var _ Renderer = (*PlainRenderer)(nil)
