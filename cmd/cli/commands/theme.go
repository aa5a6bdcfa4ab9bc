package commands

import (
	"os"

	"github.com/charmbracelet/lipgloss"
	"golang.org/x/term"
)

// Brand colors
var (
	ColorAccent  = lipgloss.Color("#a78bfa") // Violet accent
	ColorSuccess = lipgloss.Color("#22c55e") // Green
	ColorWarning = lipgloss.Color("#eab308") // Yellow
	ColorError   = lipgloss.Color("#ef4444") // Red
	ColorInfo    = lipgloss.Color("#3b82f6") // Blue
	ColorMuted   = lipgloss.Color("#6b7280") // Gray
	ColorDim     = lipgloss.Color("#4b5563") // Darker gray
	ColorWhite   = lipgloss.Color("#f9fafb") // Off-white
)

// isTTY reports whether stdout is a terminal.
func isTTY() bool {
	if OutputFormat == "plain" || OutputFormat == "json" {
		return false
	}
	return term.IsTerminal(int(os.Stdout.Fd()))
}

// Semantic text styles
var (
	StyleHeader = lipgloss.NewStyle().
			Bold(true).
			Foreground(ColorWhite)

	StyleAccent = lipgloss.NewStyle().
			Foreground(ColorAccent).
			Bold(true)

	StyleSuccess = lipgloss.NewStyle().
			Foreground(ColorSuccess)

	StyleWarning = lipgloss.NewStyle().
			Foreground(ColorWarning)

	StyleError = lipgloss.NewStyle().
			Foreground(ColorError)

	StyleInfo = lipgloss.NewStyle().
			Foreground(ColorInfo)

	StyleMuted = lipgloss.NewStyle().
			Foreground(ColorMuted)

	StyleDim = lipgloss.NewStyle().
			Foreground(ColorDim)

	StyleBold = lipgloss.NewStyle().
			Bold(true)

	StyleLabel = lipgloss.NewStyle().
			Foreground(ColorMuted).
			Width(16)

	StyleValue = lipgloss.NewStyle().
			Foreground(ColorWhite)
)

// Box styles
var (
	StyleBox = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(ColorDim).
			Padding(0, 1)

	StyleBoxAccent = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(ColorAccent).
			Padding(0, 1)
)

// Table styles
var (
	StyleTableHeader = lipgloss.NewStyle().
				Bold(true).
				Foreground(ColorAccent).
				Padding(0, 1)

	StyleTableRow = lipgloss.NewStyle().
			Foreground(ColorWhite).
			Padding(0, 1)

	StyleTableRowAlt = lipgloss.NewStyle().
				Foreground(ColorMuted).
				Padding(0, 1)
)

// StatusBadge renders a colored badge for a node or circuit state.
func StatusBadge(status string) string {
	switch status {
	case "online", "running", "ready", "healthy", "ok":
		return lipgloss.NewStyle().
			Foreground(lipgloss.Color("#000000")).
			Background(ColorSuccess).
			Padding(0, 1).
			Bold(true).
			Render(status)
	case "offline", "stopped", "error", "failed", "timed_out":
		return lipgloss.NewStyle().
			Foreground(lipgloss.Color("#000000")).
			Background(ColorError).
			Padding(0, 1).
			Bold(true).
			Render(status)
	case "starting", "connecting", "bootstrapping", "warning":
		return lipgloss.NewStyle().
			Foreground(lipgloss.Color("#000000")).
			Background(ColorWarning).
			Padding(0, 1).
			Bold(true).
			Render(status)
	default:
		return lipgloss.NewStyle().
			Foreground(lipgloss.Color("#000000")).
			Background(ColorMuted).
			Padding(0, 1).
			Render(status)
	}
}

// Logo returns the styled samizdat brand text.
func Logo() string {
	return StyleAccent.Render("samizdat")
}
