// Package tui renders ecsu's terminal views with Bubble Tea: the live
// per-worker progress table shown during a transfer and the transfer
// history browser.
package tui

import (
	"github.com/charmbracelet/lipgloss"

	"github.com/Kovercrosser/easy-cold-storage-uploader/progress"
)

// Color palette.
var (
	primaryColor   = lipgloss.Color("#7C3AED") // Purple
	successColor   = lipgloss.Color("#10B981") // Green
	warningColor   = lipgloss.Color("#F59E0B") // Amber
	errorColor     = lipgloss.Color("#EF4444") // Red
	mutedColor     = lipgloss.Color("#6B7280") // Gray
	highlightColor = lipgloss.Color("#3B82F6") // Blue
)

// Styles for TUI components.
var (
	// TitleStyle for headers and titles.
	TitleStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(primaryColor).
			MarginBottom(1)

	// LabelStyle for field labels.
	LabelStyle = lipgloss.NewStyle().
			Foreground(mutedColor).
			Width(12)

	// ValueStyle for field values.
	ValueStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#FFFFFF"))

	// SuccessStyle for finished workers.
	SuccessStyle = lipgloss.NewStyle().
			Foreground(successColor)

	// WarningStyle for busy workers.
	WarningStyle = lipgloss.NewStyle().
			Foreground(warningColor)

	// ErrorStyle for failed workers.
	ErrorStyle = lipgloss.NewStyle().
			Foreground(errorColor)

	// MutedStyle for idle or cancelled workers.
	MutedStyle = lipgloss.NewStyle().
			Foreground(mutedColor)

	// HelpStyle for help text.
	HelpStyle = lipgloss.NewStyle().
			Foreground(mutedColor).
			MarginTop(1)

	// SummaryStyle for the per-status counters under the progress table.
	SummaryStyle = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(highlightColor).
			Padding(0, 1)
)

// StatusStyle returns the style for a worker status.
func StatusStyle(s progress.Status) lipgloss.Style {
	switch s {
	case progress.StatusFinished:
		return SuccessStyle
	case progress.StatusWorking:
		return WarningStyle
	case progress.StatusFailed:
		return ErrorStyle
	case progress.StatusWaiting, progress.StatusCancelled:
		return MutedStyle
	default:
		return ValueStyle
	}
}
