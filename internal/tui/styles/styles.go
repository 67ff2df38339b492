// Package styles provides reusable lipgloss styles for opgate's prompts.
package styles

import (
	"github.com/Dicklesworthstone/opgate/internal/tui/theme"
	"github.com/charmbracelet/lipgloss"
)

// Styles contains all the styled lipgloss renderers.
type Styles struct {
	theme *theme.Theme

	Title       lipgloss.Style
	Subtitle    lipgloss.Style
	SectionHead lipgloss.Style

	Normal lipgloss.Style
	Dimmed lipgloss.Style
	Bold   lipgloss.Style

	badge lipgloss.Style

	// WarningPanel frames consequence text.
	WarningPanel lipgloss.Style
	// PayloadBox frames the operation being confirmed.
	PayloadBox lipgloss.Style
	Panel      lipgloss.Style
}

// New creates a new Styles instance from the current theme.
func New() *Styles {
	return FromTheme(theme.Current)
}

// FromTheme creates styles from a specific theme.
func FromTheme(t *theme.Theme) *Styles {
	s := &Styles{theme: t}

	s.Title = lipgloss.NewStyle().
		Foreground(t.Accent).
		Bold(true)

	s.Subtitle = lipgloss.NewStyle().
		Foreground(t.Subtext).
		Italic(true)

	s.SectionHead = lipgloss.NewStyle().
		Foreground(t.Info).
		Bold(true).
		MarginTop(1)

	s.Normal = lipgloss.NewStyle().Foreground(t.Text)
	s.Dimmed = lipgloss.NewStyle().Foreground(t.Subtext)
	s.Bold = lipgloss.NewStyle().Foreground(t.Text).Bold(true)

	s.badge = lipgloss.NewStyle().
		Padding(0, 1).
		Bold(true).
		Foreground(t.Base)

	s.WarningPanel = lipgloss.NewStyle().
		Foreground(t.Forbidden).
		Padding(0, 1).
		Border(lipgloss.ThickBorder()).
		BorderForeground(t.Forbidden)

	s.PayloadBox = lipgloss.NewStyle().
		Foreground(t.Safe).
		Padding(0, 1).
		Border(lipgloss.RoundedBorder()).
		BorderForeground(t.Border)

	s.Panel = lipgloss.NewStyle().
		Padding(0, 1).
		Border(lipgloss.RoundedBorder()).
		BorderForeground(t.Border)

	return s
}

// TierBadge returns the badge style for a tier.
func (s *Styles) TierBadge(tier string) lipgloss.Style {
	return s.badge.Background(s.theme.TierColor(tier))
}

// OutcomeBadge returns the badge style for an outcome.
func (s *Styles) OutcomeBadge(outcome string) lipgloss.Style {
	return s.badge.Background(s.theme.OutcomeColor(outcome))
}

// RenderTierBadge renders a tier as a styled badge.
func (s *Styles) RenderTierBadge(tier string) string {
	return s.TierBadge(tier).Render(theme.TierIcon(tier) + " " + tier)
}

// RenderOutcomeBadge renders an outcome as a styled badge.
func (s *Styles) RenderOutcomeBadge(outcome string) string {
	return s.OutcomeBadge(outcome).Render(theme.OutcomeIcon(outcome) + " " + outcome)
}

// RenderSensitivity renders a sensitivity label in its color.
func (s *Styles) RenderSensitivity(sens string) string {
	return lipgloss.NewStyle().Foreground(s.theme.SensitivityColor(sens)).Bold(true).Render(sens)
}

// Theme returns the theme the styles were built from.
func (s *Styles) Theme() *theme.Theme {
	return s.theme
}
