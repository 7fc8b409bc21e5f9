// Package styles holds the dashboard palette and lipgloss styles.
package styles

import "github.com/charmbracelet/lipgloss"

// Palette. Foreground colors stay readable on both black and SurfaceColor.
var (
	AccentColor  = lipgloss.Color("#A78BFA")
	OKColor      = lipgloss.Color("#10B981")
	WarningColor = lipgloss.Color("#F59E0B")
	ErrorColor   = lipgloss.Color("#F87171")
	MutedColor   = lipgloss.Color("#9CA3AF")
	SurfaceColor = lipgloss.Color("#1F2937")
	TextColor    = lipgloss.Color("#F9FAFB")
	BorderColor  = lipgloss.Color("#6B7280")
)

// Endpoints of the saturation progress gradient.
const (
	SaturationLow  = "#10B981"
	SaturationHigh = "#F87171"
)

var (
	Muted = lipgloss.NewStyle().Foreground(MutedColor)

	Header = lipgloss.NewStyle().
		Bold(true).
		Foreground(AccentColor).
		BorderStyle(lipgloss.NormalBorder()).
		BorderBottom(true).
		BorderForeground(BorderColor).
		MarginBottom(1)

	Panel = lipgloss.NewStyle().
		Border(lipgloss.RoundedBorder()).
		BorderForeground(BorderColor).
		Padding(0, 1)

	Label = lipgloss.NewStyle().Foreground(MutedColor).Width(16)
	Value = lipgloss.NewStyle().Bold(true).Foreground(TextColor)

	HelpBar = lipgloss.NewStyle().Foreground(MutedColor).MarginTop(1)
	HelpKey = lipgloss.NewStyle().Bold(true).Foreground(OKColor)

	ErrorMsg   = lipgloss.NewStyle().Bold(true).Foreground(ErrorColor)
	SuccessMsg = lipgloss.NewStyle().Bold(true).Foreground(OKColor)
)

// Table cells are measured as plain text, so statuses get an icon rather
// than a color.
var statusIcons = map[string]string{
	"queued":  "○",
	"running": "●",
	"done":    "✓",
	"failed":  "✗",
	"timeout": "⏰",
}

// StatusIcon returns the icon for a task status. A failure whose kind is
// timeout is shown as "timeout".
func StatusIcon(status string) string {
	if icon, ok := statusIcons[status]; ok {
		return icon
	}
	return "·"
}

// SaturationColor is green up to target tasks per worker, amber up to twice
// that, red beyond.
func SaturationColor(saturation, target float64) lipgloss.Color {
	switch {
	case target <= 0 || saturation <= target:
		return OKColor
	case saturation <= 2*target:
		return WarningColor
	default:
		return ErrorColor
	}
}
