package cli

import (
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"github.com/Dicklesworthstone/opgate/internal/core"
	"github.com/Dicklesworthstone/opgate/internal/tui/styles"
	"github.com/charmbracelet/lipgloss"
	"golang.org/x/term"
)

// showQuickReference prints the reference card shown when opgate runs
// without a subcommand.
func showQuickReference(w io.Writer) {
	s := styles.New()
	width := clampWidth(detectWidth())
	useUnicode := supportsUnicode()

	border := lipgloss.RoundedBorder()
	if !useUnicode {
		border = lipgloss.Border{
			Top:         "-",
			Bottom:      "-",
			Left:        "|",
			Right:       "|",
			TopLeft:     "+",
			TopRight:    "+",
			BottomLeft:  "+",
			BottomRight: "+",
		}
	}
	container := s.Panel.Border(border).Padding(1, 2).Width(width)

	title := s.Title.Width(width - 6).Align(lipgloss.Center).
		Render("OPGATE QUICK REFERENCE - Risk gate for tool operations")

	wrap := renderSection(s, "WRAP A COMMAND (exit 0 = go, 1 = stop, 2 = malformed)", []string{
		bullet(s, "opgate git push --force origin main && git push --force origin main", "gate, then run"),
		bullet(s, "opgate gh repo delete acme/api", "VCS host operations"),
		bullet(s, "opgate sf data delete bulk -o prod --sobject Account", "CRM operations"),
		bullet(s, "opgate supabase db reset --linked", "data platform operations"),
		bullet(s, "opgate sql --target \"$DATABASE_URL\" \"DELETE FROM t WHERE id = 1\"", "raw SQL"),
	})

	inspect := renderSection(s, "INSPECT WITHOUT PROMPTING", []string{
		bullet(s, "opgate check git \"push --force origin main\" -j", "full decision, target probed"),
		bullet(s, "opgate check sql \"DROP TABLE t\" --sensitivity staging", "assume a sensitivity"),
		bullet(s, "opgate patterns test sf \"data delete record\"", "classification only"),
		bullet(s, "opgate policy", "escalation table and pins"),
	})

	audit := renderSection(s, "AUDIT", []string{
		bullet(s, "opgate audit tail -n 50 --outcome blocked", "recent decisions"),
		bullet(s, "opgate audit verify", "check every record is complete"),
	})

	bypass := renderSection(s, "UNATTENDED RUNS", []string{
		bullet(s, "opgate config hash-token \"$TOKEN\"", "digest for bypass.token_sha256"),
		bullet(s, "opgate --actor ci git push --confirm --bypass-token \"$TOKEN\"", "skip prompts below FORBIDDEN"),
	})

	content := lipgloss.JoinVertical(lipgloss.Left,
		title,
		wrap,
		inspect,
		audit,
		bypass,
		tierLegend(s, useUnicode),
		flagLegend(s),
		footerLegend(s),
	)

	fmt.Fprintln(w, container.Render(content))
}

func clampWidth(w int) int {
	if w < 72 {
		return 72
	}
	if w > 100 {
		return 100
	}
	return w
}

func detectWidth() int {
	if w, _, err := term.GetSize(int(os.Stdout.Fd())); err == nil && w > 0 {
		return w
	}
	if cols := os.Getenv("COLUMNS"); cols != "" {
		if v, err := strconv.Atoi(cols); err == nil && v > 0 {
			return v
		}
	}
	return 80
}

func supportsUnicode() bool {
	termEnv := strings.ToLower(os.Getenv("TERM"))
	locale := strings.ToLower(strings.Join([]string{
		os.Getenv("LC_ALL"),
		os.Getenv("LC_CTYPE"),
		os.Getenv("LANG"),
	}, " "))
	if strings.Contains(termEnv, "dumb") {
		return false
	}
	return strings.Contains(locale, "utf-8") || strings.Contains(locale, "utf8")
}

func bullet(s *styles.Styles, command, desc string) string {
	return s.Normal.Render("  "+command) + "\n" + s.Dimmed.Render("      "+desc)
}

func renderSection(s *styles.Styles, title string, lines []string) string {
	return lipgloss.JoinVertical(lipgloss.Left, s.SectionHead.Render(title), strings.Join(lines, "\n"))
}

func tierLegend(s *styles.Styles, useUnicode bool) string {
	var badges []string
	for _, tier := range core.AllTiers() {
		label := strings.ToUpper(tier.String())
		if useUnicode {
			badges = append(badges, s.RenderTierBadge(label))
		} else {
			badges = append(badges, label)
		}
	}
	return lipgloss.JoinVertical(lipgloss.Left,
		s.SectionHead.Render("RISK TIERS (unknown targets count as production)"),
		"  "+strings.Join(badges, "  "),
	)
}

func flagLegend(s *styles.Styles) string {
	row := func(flag, desc string) string {
		return s.Bold.Render(fmt.Sprintf("  %-26s", flag)) + s.Dimmed.Render(desc)
	}
	return lipgloss.JoinVertical(lipgloss.Left,
		s.SectionHead.Render("FLAGS"),
		row("-j, --json", "structured output"),
		row("-C, --project <dir>", "override project path"),
		row("--target <target>", "explicit target for a wrapper"),
		row("--session <id>", "session recorded in the audit log"),
		row("--confirm", "request a bypass (needs a token)"),
	)
}

func footerLegend(s *styles.Styles) string {
	return s.Dimmed.Render("HELP: ") + s.Normal.Render("opgate <command> --help")
}
