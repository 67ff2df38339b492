package cli

import (
	"context"
	"fmt"
	"os"

	"github.com/Dicklesworthstone/opgate/internal/core"
	"github.com/Dicklesworthstone/opgate/internal/probe"
	"github.com/spf13/cobra"
)

const wrapperHelp = `Gate one %[1]s operation. The arguments are exactly what you would pass
to %[1]s; opgate classifies them, identifies the target, asks for
confirmation when the policy requires it and records the decision. It does
not run %[1]s itself: chain the real command on success.

Gate flags (accepted anywhere, never passed on):
  --confirm              request the pre-authorized bypass (needs a bypass token)
  --bypass-token TOKEN   bypass credential (env: OPGATE_BYPASS_TOKEN)
  --target REF           override the target derived from the arguments
  --session ID           session for confirmation serialisation and audit

Global options (--actor, --output, --json, --verbose, --config, --project)
are accepted before the first %[1]s argument. Use "--" to pass an argument
that collides with a gate flag.

Exit status: 0 approved, 1 cancelled or blocked, 2 malformed request.`

type wrappedTool struct {
	use   string
	tool  core.Tool
	short string
}

var wrappedTools = []wrappedTool{
	{"gh", core.ToolVCSHost, "Gate a GitHub CLI operation"},
	{"git", core.ToolGit, "Gate a git operation"},
	{"sf", core.ToolCRM, "Gate a Salesforce CLI operation"},
	{"supabase", core.ToolDataPlatform, "Gate a Supabase CLI operation"},
	{"sql", core.ToolSQL, "Gate a SQL statement against a database"},
}

func init() {
	for _, wt := range wrappedTools {
		rootCmd.AddCommand(newWrapperCmd(wt))
	}
}

func newWrapperCmd(wt wrappedTool) *cobra.Command {
	tool := wt.tool
	return &cobra.Command{
		Use:                wt.use + " [gate flags] <" + wt.use + " arguments...>",
		Short:              wt.short,
		Long:               fmt.Sprintf(wrapperHelp, wt.use),
		DisableFlagParsing: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			if len(args) == 1 && (args[0] == "-h" || args[0] == "--help") {
				return cmd.Help()
			}
			return runWrapper(cmd, tool, args)
		},
	}
}

func runWrapper(cmd *cobra.Command, tool core.Tool, args []string) error {
	g, err := splitGateArgs(args)
	if err != nil {
		return requestError(err)
	}
	if err := applyLeadingGlobals(g); err != nil {
		return err
	}

	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	logger := newLogger(cmd.ErrOrStderr())
	project := projectDirOrEmpty()

	req, err := buildRequest(tool, g.Native, g.Target, project)
	if err != nil {
		return requestError(err)
	}

	session := firstNonEmpty(g.Session, flagSessionID, os.Getenv("OPGATE_SESSION"))
	gate, cleanup, err := newGate(cfg, gateOptions{
		UI:        uiFactory(cfg, cmd.ErrOrStderr()),
		SessionID: session,
		Audit:     true,
		Logger:    logger,
	})
	if err != nil {
		return err
	}
	defer cleanup()

	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	res, err := gate.Process(ctx, req, probe.ForTarget(tool, req.TargetRef(), probeExecutor), core.RunOptions{
		Actor:            GetActor(),
		SessionID:        session,
		BypassRequested:  g.Confirm,
		BypassCredential: firstNonEmpty(g.BypassToken, os.Getenv("OPGATE_BYPASS_TOKEN")),
	})
	if err != nil {
		return requestError(err)
	}

	if err := writeResult(cmd, res); err != nil {
		return err
	}
	if res.Run.Outcome != core.OutcomeApproved {
		return &ExitError{Code: ExitDenied, Err: fmt.Errorf("%s %s: %s", tool, req.Action(), res.Run.Outcome), Silent: true}
	}
	return nil
}

// applyLeadingGlobals copies global options given in a wrapper's argv into
// the flag values cobra would have set.
func applyLeadingGlobals(g gateArgs) error {
	if g.Actor != "" {
		flagActor = g.Actor
	}
	if g.Output != "" {
		flagOutput = g.Output
	}
	if g.JSON {
		flagJSON = true
	}
	if g.Verbose {
		flagVerbose = true
	}
	if g.Config != "" {
		flagConfig = g.Config
	}
	if g.Project != "" {
		flagProject = g.Project
		if err := os.Chdir(g.Project); err != nil {
			return fmt.Errorf("changing directory to %s: %w", g.Project, err)
		}
	}
	return nil
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
