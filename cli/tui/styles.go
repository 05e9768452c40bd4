// Package tui is the interactive OPFS browser and the markdown preview
// shared with `cat --render`.
package tui

import "github.com/charmbracelet/lipgloss"

var (
	primaryColor = lipgloss.Color("#7C3AED")
	dirColor     = lipgloss.Color("#3B82F6")
	errorColor   = lipgloss.Color("#EF4444")
	mutedColor   = lipgloss.Color("#6B7280")
)

var (
	// TitleStyle renders the current path.
	TitleStyle = lipgloss.NewStyle().Bold(true).Foreground(primaryColor).MarginBottom(1)

	// DirStyle renders directory names.
	DirStyle = lipgloss.NewStyle().Bold(true).Foreground(dirColor)

	// SelectedStyle marks the cursor row.
	SelectedStyle = lipgloss.NewStyle().Reverse(true)

	// MutedStyle renders sizes and placeholders.
	MutedStyle = lipgloss.NewStyle().Foreground(mutedColor)

	// ErrorStyle renders operation errors.
	ErrorStyle = lipgloss.NewStyle().Foreground(errorColor)

	// HelpStyle renders the key help line.
	HelpStyle = lipgloss.NewStyle().Foreground(mutedColor).MarginTop(1)
)
