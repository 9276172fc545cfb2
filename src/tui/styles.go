// Package tui renders collector state for the terminal.
package tui

import (
	"github.com/charmbracelet/lipgloss"

	"build-collector/src/contracts"
)

// StyleConfig holds the colors used by the tables.
type StyleConfig struct {
	PrimaryBlue   lipgloss.Color
	TextPrimary   lipgloss.Color
	TextSecondary lipgloss.Color
	BorderColor   lipgloss.Color

	// StatusColors colors a build status; statuses not listed use TextSecondary.
	StatusColors map[contracts.BuildStatus]lipgloss.Color
}

// DefaultStyles returns the default color palette
func DefaultStyles() *StyleConfig {
	return &StyleConfig{
		PrimaryBlue:   lipgloss.Color("#8AB4F8"),
		TextPrimary:   lipgloss.Color("#E8EAED"),
		TextSecondary: lipgloss.Color("#9AA0A6"),
		BorderColor:   lipgloss.Color("#5F6368"),
		StatusColors: map[contracts.BuildStatus]lipgloss.Color{
			contracts.StatusSuccess:  lipgloss.Color("#34A853"),
			contracts.StatusUnstable: lipgloss.Color("#FBBC04"),
			contracts.StatusFailure:  lipgloss.Color("#EA4335"),
			contracts.StatusAborted:  lipgloss.Color("#A142F4"),
		},
	}
}

// TitleStyle returns a title lipgloss style using this config
func (s *StyleConfig) TitleStyle() lipgloss.Style {
	return lipgloss.NewStyle().
		Foreground(s.PrimaryBlue).
		Bold(true).
		Padding(0, 1)
}

// HeaderStyle styles table column headers.
func (s *StyleConfig) HeaderStyle() lipgloss.Style {
	return lipgloss.NewStyle().
		Foreground(s.TextSecondary).
		Bold(true)
}

// CellStyle styles ordinary table cells.
func (s *StyleConfig) CellStyle() lipgloss.Style {
	return lipgloss.NewStyle().Foreground(s.TextPrimary)
}

// MutedStyle styles secondary cells such as disabled jobs.
func (s *StyleConfig) MutedStyle() lipgloss.Style {
	return lipgloss.NewStyle().Foreground(s.TextSecondary)
}

// StatusStyle colors a build status.
func (s *StyleConfig) StatusStyle(status contracts.BuildStatus) lipgloss.Style {
	color, ok := s.StatusColors[status]
	if !ok {
		color = s.TextSecondary
	}
	return lipgloss.NewStyle().Foreground(color)
}

// BoxStyle returns the bordered container around a table.
func (s *StyleConfig) BoxStyle() lipgloss.Style {
	return lipgloss.NewStyle().
		Border(lipgloss.RoundedBorder()).
		BorderForeground(s.BorderColor).
		Padding(0, 1)
}
