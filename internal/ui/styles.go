package ui

import "github.com/charmbracelet/lipgloss"

// Single-accent cyan palette. ANSI 256 codes so the theme survives
// terminals without truecolor.
const (
	colorCyan     = "51"  // primary accent
	colorCyanDim  = "30"  // inactive stages, borders
	colorWhite    = "255" // headers
	colorGray     = "245" // labels, secondary text
	colorDarkGray = "238" // separators
	colorRed      = "196" // errors
	colorYellow   = "220" // warnings
)

// Styles bundles every lipgloss style the TUI uses.
type Styles struct {
	Header   lipgloss.Style
	Success  lipgloss.Style
	Warning  lipgloss.Style
	Error    lipgloss.Style
	Dim      lipgloss.Style
	Stage    lipgloss.Style
	Active   lipgloss.Style
	Progress lipgloss.Style

	Border    lipgloss.Style
	Panel     lipgloss.Style
	Sparkline lipgloss.Style
	Speed     lipgloss.Style
	Label     lipgloss.Style
}

// DefaultStyles returns the cyan theme.
func DefaultStyles() Styles {
	return Styles{
		Header:   lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color(colorCyan)),
		Success:  lipgloss.NewStyle().Foreground(lipgloss.Color(colorCyan)),
		Warning:  lipgloss.NewStyle().Foreground(lipgloss.Color(colorYellow)),
		Error:    lipgloss.NewStyle().Foreground(lipgloss.Color(colorRed)),
		Dim:      lipgloss.NewStyle().Foreground(lipgloss.Color(colorDarkGray)),
		Stage:    lipgloss.NewStyle().Foreground(lipgloss.Color(colorCyanDim)),
		Active:   lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color(colorCyan)),
		Progress: lipgloss.NewStyle().Foreground(lipgloss.Color(colorCyan)),

		Border: lipgloss.NewStyle().Foreground(lipgloss.Color(colorDarkGray)),
		Panel: lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(lipgloss.Color(colorDarkGray)).
			Padding(0, 1),
		Sparkline: lipgloss.NewStyle().Foreground(lipgloss.Color(colorCyan)),
		Speed:     lipgloss.NewStyle().Foreground(lipgloss.Color(colorGray)),
		Label:     lipgloss.NewStyle().Foreground(lipgloss.Color(colorGray)),
	}
}

// NoColorStyles returns passthrough styles for NO_COLOR terminals.
func NoColorStyles() Styles {
	return Styles{
		Header:    lipgloss.NewStyle(),
		Success:   lipgloss.NewStyle(),
		Warning:   lipgloss.NewStyle(),
		Error:     lipgloss.NewStyle(),
		Dim:       lipgloss.NewStyle(),
		Stage:     lipgloss.NewStyle(),
		Active:    lipgloss.NewStyle(),
		Progress:  lipgloss.NewStyle(),
		Border:    lipgloss.NewStyle(),
		Panel:     lipgloss.NewStyle(),
		Sparkline: lipgloss.NewStyle(),
		Speed:     lipgloss.NewStyle(),
		Label:     lipgloss.NewStyle(),
	}
}

// GetStyles picks a theme based on the color preference.
func GetStyles(noColor bool) Styles {
	if noColor {
		return NoColorStyles()
	}
	return DefaultStyles()
}
