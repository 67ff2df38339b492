package cli

import (
	"context"
	"os"
	"strings"

	"github.com/Dicklesworthstone/opgate/internal/core"
	"github.com/Dicklesworthstone/opgate/internal/db"
	"github.com/spf13/cobra"
)

var completionCmd = &cobra.Command{
	Use:       "completion [bash|zsh|fish|powershell]",
	Short:     "Generate shell completion scripts",
	Args:      cobra.ExactValidArgs(1),
	ValidArgs: []string{"bash", "zsh", "fish", "powershell"},
	RunE: func(cmd *cobra.Command, args []string) error {
		w := cmd.OutOrStdout()
		switch args[0] {
		case "bash":
			return rootCmd.GenBashCompletion(w)
		case "zsh":
			return rootCmd.GenZshCompletion(w)
		case "fish":
			return rootCmd.GenFishCompletion(w, true)
		case "powershell":
			return rootCmd.GenPowerShellCompletionWithDesc(w)
		default:
			return nil
		}
	},
}

// recentSessionScan bounds how many audit rows completion looks at.
const recentSessionScan = 500

func init() {
	rootCmd.AddCommand(completionCmd)

	// Best-effort dynamic completion. Flags defined in files initialised
	// later register their own.
	_ = auditTailCmd.RegisterFlagCompletionFunc("tool", completeTools)
	_ = auditTailCmd.RegisterFlagCompletionFunc("outcome", completeOutcomes)
	_ = checkCmd.RegisterFlagCompletionFunc("sensitivity", completeSensitivities)
}

func completeTools(cmd *cobra.Command, args []string, toComplete string) ([]string, cobra.ShellCompDirective) {
	var names []string
	for _, t := range core.AllTools() {
		names = append(names, string(t))
	}
	return filterPrefix(names, toComplete), cobra.ShellCompDirectiveNoFileComp
}

func completeTiers(cmd *cobra.Command, args []string, toComplete string) ([]string, cobra.ShellCompDirective) {
	var names []string
	for _, t := range core.AllTiers() {
		names = append(names, t.String())
	}
	return filterPrefix(names, toComplete), cobra.ShellCompDirectiveNoFileComp
}

func completeSensitivities(cmd *cobra.Command, args []string, toComplete string) ([]string, cobra.ShellCompDirective) {
	var names []string
	for _, s := range core.AllSensitivities() {
		names = append(names, s.String())
	}
	return filterPrefix(names, toComplete), cobra.ShellCompDirectiveNoFileComp
}

func completeOutcomes(cmd *cobra.Command, args []string, toComplete string) ([]string, cobra.ShellCompDirective) {
	names := []string{string(core.OutcomeApproved), string(core.OutcomeCancelled), string(core.OutcomeBlocked)}
	return filterPrefix(names, toComplete), cobra.ShellCompDirectiveNoFileComp
}

// completeSessionIDs offers session IDs seen in the audit database, most
// recent first, described by the actor that used them.
func completeSessionIDs(cmd *cobra.Command, args []string, toComplete string) ([]string, cobra.ShellCompDirective) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, cobra.ShellCompDirectiveNoFileComp
	}
	if _, err := os.Stat(cfg.Audit.DatabasePath); err != nil {
		return nil, cobra.ShellCompDirectiveNoFileComp
	}
	database, err := db.Open(cfg.Audit.DatabasePath)
	if err != nil {
		return nil, cobra.ShellCompDirectiveNoFileComp
	}
	defer database.Close()

	rows, err := database.ListAuditRecords(context.Background(), db.AuditFilter{Limit: recentSessionScan})
	if err != nil {
		return nil, cobra.ShellCompDirectiveNoFileComp
	}

	seen := map[string]bool{}
	out := make([]string, 0)
	for _, r := range rows {
		if r == nil || r.SessionID == "" || seen[r.SessionID] {
			continue
		}
		seen[r.SessionID] = true
		if toComplete != "" && !strings.HasPrefix(r.SessionID, toComplete) {
			continue
		}
		desc := r.Actor
		if r.Tool != "" {
			desc += " (" + r.Tool + ")"
		}
		out = append(out, r.SessionID+"\t"+desc)
	}
	return out, cobra.ShellCompDirectiveNoFileComp
}

func filterPrefix(items []string, prefix string) []string {
	out := make([]string, 0, len(items))
	for _, it := range items {
		if strings.HasPrefix(it, prefix) {
			out = append(out, it)
		}
	}
	return out
}
