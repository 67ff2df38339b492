package cli

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/Dicklesworthstone/opgate/internal/core"
	"github.com/spf13/cobra"
	"go.yaml.in/yaml/v3"
)

var (
	flagPatternTool       string
	flagPatternTier       string
	flagPatternFormat     string
	flagPatternOutputFile string
)

func init() {
	patternsListCmd.Flags().StringVar(&flagPatternTool, "tool", "", "only list rules for this tool")
	patternsListCmd.Flags().StringVarP(&flagPatternTier, "tier", "T", "", "only list rules of this tier (safe, write, destructive, forbidden)")

	_ = patternsListCmd.RegisterFlagCompletionFunc("tool", completeTools)
	_ = patternsListCmd.RegisterFlagCompletionFunc("tier", completeTiers)

	patternsExportCmd.Flags().StringVarP(&flagPatternFormat, "format", "f", "json", "export format: json, yaml")
	patternsExportCmd.Flags().StringVar(&flagPatternOutputFile, "output-file", "", "output file (default: stdout)")

	patternsCmd.AddCommand(patternsListCmd)
	patternsCmd.AddCommand(patternsTestCmd)
	patternsCmd.AddCommand(patternsExportCmd)
	patternsCmd.AddCommand(patternsVersionCmd)

	rootCmd.AddCommand(patternsCmd)
}

var patternsCmd = &cobra.Command{
	Use:   "patterns",
	Short: "Inspect the classification rules",
	Long: `Inspect the rules used to classify operations into risk tiers.

Each tool has its own table. Every rule that matches contributes its
reason; the most severe matching tier wins. Rules from [[patterns.custom]]
in the config are added to the built-in tables and can only add scrutiny.`,
}

type ruleView struct {
	Tool   core.Tool     `json:"tool"`
	Tier   core.RiskTier `json:"tier"`
	Match  string        `json:"match"`
	Reason string        `json:"reason"`
	Source string        `json:"source"`
}

var patternsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List rules, most severe tier first",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		tools := core.AllTools()
		if flagPatternTool != "" {
			tool, err := core.ParseTool(flagPatternTool)
			if err != nil {
				return err
			}
			tools = []core.Tool{tool}
		}
		var tierFilter *core.RiskTier
		if flagPatternTier != "" {
			tier, err := core.ParseRiskTier(flagPatternTier)
			if err != nil {
				return err
			}
			tierFilter = &tier
		}

		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		engine, err := newEngine(cfg)
		if err != nil {
			return err
		}

		var rules []ruleView
		for _, tool := range tools {
			for _, r := range engine.ListRules(tool) {
				if tierFilter != nil && r.Tier != *tierFilter {
					continue
				}
				rules = append(rules, ruleView{Tool: tool, Tier: r.Tier, Match: r.Signature(), Reason: r.Reason, Source: r.Source})
			}
		}

		out, err := newWriter(cmd)
		if err != nil {
			return err
		}
		if !out.IsText() {
			if rules == nil {
				rules = []ruleView{}
			}
			return out.Write(rules)
		}
		rows := make([][]string, 0, len(rules))
		for _, r := range rules {
			rows = append(rows, []string{string(r.Tool), r.Tier.String(), r.Match, r.Reason, r.Source})
		}
		return out.Table([]string{"TOOL", "TIER", "MATCH", "REASON", "SOURCE"}, rows)
	},
}

var patternsTestCmd = &cobra.Command{
	Use:   "test <tool> <command...>",
	Short: "Classify an operation (base tier only, no target probing)",
	Long: `Run the classifier alone and print the base tier with every matching
reason and hygiene warning. The target is not probed and no policy is
applied; use 'opgate check' for the full decision.

Examples:
  opgate patterns test git "push --force origin feature"
  opgate patterns test sql "DELETE FROM accounts"`,
	Args: cobra.MinimumNArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		tool, err := core.ParseTool(args[0])
		if err != nil {
			return requestError(err)
		}
		var req core.OperationRequest
		if len(args) == 2 {
			req, err = buildRequestFromLine(tool, args[1], "", "")
		} else {
			req, err = buildRequest(tool, args[1:], "", "")
		}
		if err != nil {
			return requestError(err)
		}

		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		engine, err := newEngine(cfg)
		if err != nil {
			return err
		}
		cls, err := engine.Classify(req)
		if err != nil {
			return requestError(err)
		}

		out, err := newWriter(cmd)
		if err != nil {
			return err
		}
		if !out.IsText() {
			return out.Write(map[string]any{
				"tool":           req.Tool(),
				"action":         req.Action(),
				"flags":          req.Flags(),
				"classification": cls,
			})
		}
		w := cmd.OutOrStdout()
		fmt.Fprintf(w, "Tool:    %s\n", req.Tool())
		fmt.Fprintf(w, "Action:  %s\n", req.Action())
		if flags := req.Flags(); len(flags) > 0 {
			fmt.Fprintf(w, "Flags:   %s\n", strings.Join(flags, " "))
		}
		fmt.Fprintf(w, "Tier:    %s\n", strings.ToUpper(cls.Tier.String()))
		for _, r := range cls.Reasons {
			fmt.Fprintf(w, "  - %s\n", r)
		}
		for _, warn := range cls.Warnings {
			fmt.Fprintf(w, "Warning: %s\n", warn)
		}
		if cls.TouchesPII {
			fmt.Fprintln(w, "Touches PII: yes")
		}
		return nil
	},
}

var patternsExportCmd = &cobra.Command{
	Use:   "export",
	Short: "Export the rule tables with their hash",
	Long: `Export every rule and tool profile, with a SHA256 over the rule set for
change detection.

Examples:
  opgate patterns export                         # JSON to stdout
  opgate patterns export -f yaml
  opgate patterns export --output-file rules.json`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		engine, err := newEngine(cfg)
		if err != nil {
			return err
		}
		export := engine.Export()

		var content []byte
		switch strings.ToLower(flagPatternFormat) {
		case "json":
			content, err = json.MarshalIndent(export, "", "  ")
			if err != nil {
				return fmt.Errorf("export json: %w", err)
			}
			content = append(content, '\n')
		case "yaml":
			// Go through JSON so field names match the json tags.
			raw, err := json.Marshal(export)
			if err != nil {
				return fmt.Errorf("export yaml: %w", err)
			}
			var generic any
			if err := json.Unmarshal(raw, &generic); err != nil {
				return fmt.Errorf("export yaml: %w", err)
			}
			content, err = yaml.Marshal(generic)
			if err != nil {
				return fmt.Errorf("export yaml: %w", err)
			}
		default:
			return fmt.Errorf("unknown format: %s (use json or yaml)", flagPatternFormat)
		}

		if flagPatternOutputFile != "" {
			if err := os.WriteFile(flagPatternOutputFile, content, 0o644); err != nil {
				return fmt.Errorf("write %s: %w", flagPatternOutputFile, err)
			}
			out, err := newWriter(cmd)
			if err != nil {
				return err
			}
			return out.Write(map[string]any{
				"status": "exported",
				"format": flagPatternFormat,
				"file":   flagPatternOutputFile,
				"sha256": export.SHA256,
				"count":  export.RuleCount,
			})
		}
		_, err = cmd.OutOrStdout().Write(content)
		return err
	},
}

var patternsVersionCmd = &cobra.Command{
	Use:   "version",
	Short: "Show the rule set version and hash",
	Long: `Show the rule set version and SHA256 hash. The hash changes whenever a
rule is added or changed, including custom rules from the config.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		engine, err := newEngine(cfg)
		if err != nil {
			return err
		}
		export := engine.Export()
		counts := map[string]int{}
		for _, tool := range core.AllTools() {
			counts[string(tool)] = len(export.Tools[tool].Rules)
		}

		out, err := newWriter(cmd)
		if err != nil {
			return err
		}
		return out.Write(map[string]any{
			"version":     export.Version,
			"sha256":      export.SHA256,
			"rule_count":  export.RuleCount,
			"tool_counts": counts,
		})
	},
}
