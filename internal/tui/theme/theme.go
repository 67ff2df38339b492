// Package theme provides the colour palettes used by opgate's prompts and
// text output.
package theme

import (
	"strings"

	"github.com/charmbracelet/lipgloss"
)

// Theme defines a color scheme.
type Theme struct {
	Accent      lipgloss.Color // titles
	Info        lipgloss.Color // section headers, pending
	Safe        lipgloss.Color
	Write       lipgloss.Color
	Destructive lipgloss.Color
	Forbidden   lipgloss.Color

	Text    lipgloss.Color
	Subtext lipgloss.Color
	Surface lipgloss.Color
	Base    lipgloss.Color
	Border  lipgloss.Color

	Name   string
	IsDark bool
}

// Dark is the default palette (Catppuccin Mocha).
func Dark() *Theme {
	return &Theme{
		Name:        "dark",
		IsDark:      true,
		Accent:      lipgloss.Color("#cba6f7"),
		Info:        lipgloss.Color("#89b4fa"),
		Safe:        lipgloss.Color("#a6e3a1"),
		Write:       lipgloss.Color("#f9e2af"),
		Destructive: lipgloss.Color("#fab387"),
		Forbidden:   lipgloss.Color("#f38ba8"),
		Text:        lipgloss.Color("#cdd6f4"),
		Subtext:     lipgloss.Color("#a6adc8"),
		Surface:     lipgloss.Color("#313244"),
		Base:        lipgloss.Color("#1e1e2e"),
		Border:      lipgloss.Color("#6c7086"),
	}
}

// Light is the palette for light terminals (Catppuccin Latte).
func Light() *Theme {
	return &Theme{
		Name:        "light",
		Accent:      lipgloss.Color("#8839ef"),
		Info:        lipgloss.Color("#1e66f5"),
		Safe:        lipgloss.Color("#40a02b"),
		Write:       lipgloss.Color("#df8e1d"),
		Destructive: lipgloss.Color("#fe640b"),
		Forbidden:   lipgloss.Color("#d20f39"),
		Text:        lipgloss.Color("#4c4f69"),
		Subtext:     lipgloss.Color("#6c6f85"),
		Surface:     lipgloss.Color("#ccd0da"),
		Base:        lipgloss.Color("#eff1f5"),
		Border:      lipgloss.Color("#9ca0b0"),
	}
}

// Current holds the active theme.
var Current = Dark()

// SetTheme sets the current theme by name; unknown names select Dark.
func SetTheme(name string) {
	switch strings.ToLower(name) {
	case "light", "latte":
		Current = Light()
	default:
		Current = Dark()
	}
}

// TierColor returns the color for a risk tier name.
func (t *Theme) TierColor(tier string) lipgloss.Color {
	switch strings.ToLower(tier) {
	case "forbidden":
		return t.Forbidden
	case "destructive":
		return t.Destructive
	case "write":
		return t.Write
	case "safe":
		return t.Safe
	default:
		return t.Text
	}
}

// OutcomeColor returns the color for a decision outcome.
func (t *Theme) OutcomeColor(outcome string) lipgloss.Color {
	switch strings.ToLower(outcome) {
	case "approved":
		return t.Safe
	case "blocked":
		return t.Forbidden
	case "cancelled":
		return t.Subtext
	case "pending_confirmation":
		return t.Info
	default:
		return t.Text
	}
}

// SensitivityColor returns the color for a target sensitivity.
func (t *Theme) SensitivityColor(sens string) lipgloss.Color {
	switch strings.ToLower(sens) {
	case "production", "unknown":
		return t.Forbidden
	case "staging":
		return t.Write
	case "isolated":
		return t.Safe
	default:
		return t.Text
	}
}

// TierIcon returns the marker shown next to a risk tier.
func TierIcon(tier string) string {
	switch strings.ToLower(tier) {
	case "forbidden":
		return "⛔"
	case "destructive":
		return "🔴"
	case "write":
		return "🟡"
	case "safe":
		return "🟢"
	default:
		return "⚪"
	}
}

// OutcomeIcon returns the marker shown next to an outcome.
func OutcomeIcon(outcome string) string {
	switch strings.ToLower(outcome) {
	case "approved":
		return "✓"
	case "cancelled":
		return "⊘"
	case "blocked":
		return "✗"
	case "pending_confirmation":
		return "⏳"
	default:
		return "?"
	}
}
