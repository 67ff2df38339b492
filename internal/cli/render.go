package cli

import (
	"fmt"
	"strings"

	"github.com/Dicklesworthstone/opgate/internal/core"
	"github.com/Dicklesworthstone/opgate/internal/tui/styles"
	"github.com/spf13/cobra"
)

// writeResult reports a gated request. Text goes to stderr next to the
// prompts; structured output goes to stdout.
func writeResult(cmd *cobra.Command, res *core.Result) error {
	out, err := newWriter(cmd)
	if err != nil {
		return err
	}
	if !out.IsText() {
		return out.Write(res)
	}
	fmt.Fprintln(cmd.ErrOrStderr(), renderResult(res, styles.New()))
	return nil
}

func renderResult(res *core.Result, s *styles.Styles) string {
	d := res.Decision
	var b strings.Builder
	b.WriteString(s.RenderOutcomeBadge(string(res.Run.Outcome)))
	b.WriteString(" ")
	b.WriteString(s.RenderTierBadge(d.FinalTier.String()))
	b.WriteString(" ")
	b.WriteString(s.Bold.Render(string(d.Request.Tool()) + " " + d.Request.Action()))
	b.WriteString("\n")
	b.WriteString(s.Dimmed.Render(d.Explain()))
	if res.Run.BypassUsed {
		b.WriteString("\n")
		b.WriteString(s.Normal.Render("approved by pre-authorized bypass"))
	}
	if res.AuditWarning != "" {
		b.WriteString("\n")
		b.WriteString(s.WarningPanel.Render("audit: " + res.AuditWarning))
	}
	return b.String()
}

// renderDecision shows what a request would need, without an outcome.
func renderDecision(d *core.Decision, s *styles.Styles) string {
	var b strings.Builder
	b.WriteString(s.RenderTierBadge(d.FinalTier.String()))
	b.WriteString(" ")
	b.WriteString(s.Bold.Render(string(d.Request.Tool()) + " " + d.Request.Action()))
	b.WriteString("\n")
	fmt.Fprintf(&b, "protocol: %s (%d step(s))\n", d.Protocol.Kind, d.Protocol.Steps())
	b.WriteString(d.Explain())
	if d.Protocol.WarningText != "" {
		b.WriteString("\n")
		b.WriteString(s.WarningPanel.Render(d.Protocol.WarningText))
	}
	return b.String()
}
