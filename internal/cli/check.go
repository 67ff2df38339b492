package cli

import (
	"context"
	"fmt"

	"github.com/Dicklesworthstone/opgate/internal/core"
	"github.com/Dicklesworthstone/opgate/internal/probe"
	"github.com/Dicklesworthstone/opgate/internal/tui/styles"
	"github.com/spf13/cobra"
)

var (
	flagCheckTarget      string
	flagCheckSensitivity string
	flagCheckExitCode    bool
)

func init() {
	checkCmd.Flags().StringVar(&flagCheckTarget, "target", "", "target reference (default: derived from the command)")
	checkCmd.Flags().StringVar(&flagCheckSensitivity, "sensitivity", "", "assume this target sensitivity instead of probing (isolated, staging, production, unknown)")
	checkCmd.Flags().BoolVar(&flagCheckExitCode, "exit-code", false, "exit 1 if the operation would need confirmation or be blocked")

	rootCmd.AddCommand(checkCmd)
}

var checkCmd = &cobra.Command{
	Use:   "check <tool> <command...>",
	Short: "Show the decision for an operation without prompting or recording it",
	Long: `Classify an operation, resolve its target and apply the policy, then print
the resulting tier and confirmation protocol. Nothing is prompted and
nothing is audited.

The command may be given as separate arguments or as one quoted line:

  opgate check git push --force origin main
  opgate check gh "repo delete acme/app --yes"
  opgate check sql --target "$DATABASE_URL" "TRUNCATE audit_log"

Use --sensitivity to skip probing and evaluate against an assumed
environment. Use --exit-code in hooks: 0 means the operation would run
without confirmation.`,
	Args: cobra.MinimumNArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		tool, err := core.ParseTool(args[0])
		if err != nil {
			return requestError(err)
		}

		project := projectDirOrEmpty()
		var req core.OperationRequest
		if len(args) == 2 {
			req, err = buildRequestFromLine(tool, args[1], flagCheckTarget, project)
		} else {
			req, err = buildRequest(tool, args[1:], flagCheckTarget, project)
		}
		if err != nil {
			return requestError(err)
		}

		envProbe := probe.ForTarget(tool, req.TargetRef(), probeExecutor)
		if flagCheckSensitivity != "" {
			sens, err := core.ParseSensitivity(flagCheckSensitivity)
			if err != nil {
				return err
			}
			envProbe = assumedProbe(sens)
		}

		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		gate, cleanup, err := newGate(cfg, gateOptions{Logger: newLogger(cmd.ErrOrStderr())})
		if err != nil {
			return err
		}
		defer cleanup()

		ctx := cmd.Context()
		if ctx == nil {
			ctx = context.Background()
		}
		d, res, err := gate.Evaluate(ctx, req, envProbe)
		if err != nil {
			return requestError(err)
		}

		out, err := newWriter(cmd)
		if err != nil {
			return err
		}
		if out.IsText() {
			err = out.Write(renderDecision(d, styles.New()))
		} else {
			err = out.Write(map[string]any{"decision": d, "resolution": res})
		}
		if err != nil {
			return err
		}

		if flagCheckExitCode && d.Protocol.Kind != core.ProtocolNone {
			return &ExitError{Code: ExitDenied, Err: fmt.Errorf("%s %s needs %s", tool, req.Action(), d.Protocol.Kind), Silent: true}
		}
		return nil
	},
}

// assumedProbe reports a fixed environment. Unknown is a failing probe,
// which is how the resolver arrives at it.
func assumedProbe(sens core.Sensitivity) core.EnvironmentProbe {
	return core.ProbeFunc(func(ctx context.Context, targetRef string) (core.ProbeResult, error) {
		switch sens {
		case core.SensitivityIsolated:
			return core.ProbeResult{IsIsolated: true, ResolvedIdentity: "assumed isolated"}, nil
		case core.SensitivityStaging:
			return core.ProbeResult{IsStaging: true, ResolvedIdentity: "assumed staging"}, nil
		case core.SensitivityProduction:
			return core.ProbeResult{ResolvedIdentity: "assumed production"}, nil
		}
		return core.ProbeResult{}, fmt.Errorf("target assumed unknown")
	})
}
