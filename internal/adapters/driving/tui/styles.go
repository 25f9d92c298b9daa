package tui

import "github.com/charmbracelet/lipgloss"

// Palette, readable on dark and light terminals.
var (
	colourAccent = lipgloss.AdaptiveColor{Light: "#5B21B6", Dark: "#A78BFA"}
	colourMuted  = lipgloss.AdaptiveColor{Light: "#6B7280", Dark: "#6C7086"}
	colourError  = lipgloss.AdaptiveColor{Light: "#B91C1C", Dark: "#F38BA8"}
	colourMatch  = lipgloss.AdaptiveColor{Light: "#C2410C", Dark: "#FAB387"}
	colourBorder = lipgloss.AdaptiveColor{Light: "#D1D5DB", Dark: "#45475A"}
)

// Styles holds the rendering styles of the TUI.
type Styles struct {
	Title     lipgloss.Style
	Label     lipgloss.Style
	Muted     lipgloss.Style
	Selected  lipgloss.Style
	Error     lipgloss.Style
	Match     lipgloss.Style
	Input     lipgloss.Style
	Detail    lipgloss.Style
	StatusBar lipgloss.Style
}

// DefaultStyles returns the default styles.
func DefaultStyles() *Styles {
	return &Styles{
		Title:    lipgloss.NewStyle().Bold(true).Foreground(colourAccent),
		Label:    lipgloss.NewStyle().Bold(true),
		Muted:    lipgloss.NewStyle().Foreground(colourMuted),
		Selected: lipgloss.NewStyle().Bold(true).Reverse(true),
		Error:    lipgloss.NewStyle().Foreground(colourError),
		Match:    lipgloss.NewStyle().Bold(true).Foreground(colourMatch),
		Input: lipgloss.NewStyle().
			BorderStyle(lipgloss.RoundedBorder()).
			BorderForeground(colourBorder).
			Padding(0, 1),
		Detail: lipgloss.NewStyle().
			BorderStyle(lipgloss.RoundedBorder()).
			BorderForeground(colourBorder).
			Padding(0, 1),
		StatusBar: lipgloss.NewStyle().Foreground(colourMuted).Padding(0, 1),
	}
}
