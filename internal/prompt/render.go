// Package prompt implements the confirmation UIs: an interactive terminal
// form and a scripted answerer.
package prompt

import (
	"fmt"
	"strings"

	"github.com/Dicklesworthstone/opgate/internal/core"
	"github.com/Dicklesworthstone/opgate/internal/tui/styles"
	"github.com/Dicklesworthstone/opgate/internal/utils"
	"github.com/charmbracelet/huh"
	"github.com/charmbracelet/lipgloss"
)

// MaxPayloadDisplay caps how much of a payload is shown in a prompt.
const MaxPayloadDisplay = 600

// RenderPrompt renders everything a human needs to judge the step: tier,
// environment, the operation itself, why it was flagged and what may go
// wrong. The payload is sanitised so it cannot rewrite the terminal.
func RenderPrompt(p core.Prompt, s *styles.Styles) string {
	if s == nil {
		s = styles.New()
	}
	var b strings.Builder

	header := s.Title.Render(p.Title)
	if p.TotalSteps > 1 {
		header += s.Dimmed.Render(fmt.Sprintf("  step %d of %d", p.Step, p.TotalSteps))
	}
	b.WriteString(header)
	b.WriteString("\n")
	b.WriteString(s.RenderTierBadge(p.Tier.String()))
	b.WriteString("  ")
	b.WriteString(s.Dimmed.Render("target: "))
	b.WriteString(s.RenderSensitivity(p.Sensitivity.String()))
	b.WriteString("\n")

	if payload := strings.TrimSpace(p.Payload); payload != "" {
		payload = utils.Truncate(utils.SanitizeInput(payload), MaxPayloadDisplay)
		b.WriteString(s.PayloadBox.Render(payload))
		b.WriteString("\n")
	}

	if len(p.Reasons) > 0 {
		b.WriteString(s.SectionHead.Render("Why this needs confirmation"))
		b.WriteString("\n")
		for _, r := range p.Reasons {
			b.WriteString(s.Normal.Render("  • " + utils.SanitizeInput(r)))
			b.WriteString("\n")
		}
	}

	if p.Warning != "" {
		b.WriteString(s.WarningPanel.Render(utils.SanitizeInput(p.Warning)))
		b.WriteString("\n")
	}
	return b.String()
}

// HuhTheme adapts the palette to huh forms.
func HuhTheme(s *styles.Styles) *huh.Theme {
	if s == nil {
		s = styles.New()
	}
	t := s.Theme()
	h := huh.ThemeBase()

	h.Focused.Title = lipgloss.NewStyle().Foreground(t.Accent).Bold(true)
	h.Focused.SelectSelector = lipgloss.NewStyle().Foreground(t.Accent)
	h.Focused.SelectedOption = lipgloss.NewStyle().Foreground(t.Safe)
	h.Focused.UnselectedOption = lipgloss.NewStyle().Foreground(t.Text)
	h.Focused.TextInput.Cursor = lipgloss.NewStyle().Foreground(t.Accent)
	h.Focused.TextInput.Prompt = lipgloss.NewStyle().Foreground(t.Accent)
	h.Focused.TextInput.Text = lipgloss.NewStyle().Foreground(t.Text)
	h.Focused.TextInput.Placeholder = lipgloss.NewStyle().Foreground(t.Subtext)
	h.Focused.Description = lipgloss.NewStyle().Foreground(t.Subtext)
	h.Focused.ErrorMessage = lipgloss.NewStyle().Foreground(t.Forbidden)

	h.Blurred.Title = lipgloss.NewStyle().Foreground(t.Subtext)
	h.Blurred.SelectedOption = lipgloss.NewStyle().Foreground(t.Subtext)
	h.Blurred.UnselectedOption = lipgloss.NewStyle().Foreground(t.Subtext)
	h.Blurred.TextInput.Text = lipgloss.NewStyle().Foreground(t.Subtext)
	return h
}
