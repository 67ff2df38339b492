// Package cli implements the Cobra command-line interface for opgate.
package cli

import (
	"context"
	"fmt"
	"io"
	"os"
	"runtime"

	"github.com/Dicklesworthstone/opgate/internal/config"
	"github.com/Dicklesworthstone/opgate/internal/output"
	"github.com/Dicklesworthstone/opgate/internal/utils"
	"github.com/charmbracelet/log"
	"github.com/spf13/cobra"
)

// Version information set by goreleaser
var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

// Global flag values
var (
	flagConfig    string
	flagOutput    string
	flagJSON      bool
	flagVerbose   bool
	flagActor     string
	flagSessionID string
	flagProject   string
)

var rootCmd = &cobra.Command{
	Use:   "opgate",
	Short: "Risk gate for operations against GitHub, git, Salesforce, Supabase and SQL",
	Long: `opgate decides whether an operation may run now, needs a human to confirm
it, or must not run at all.

Each request is classified into a risk tier, the target environment is
probed, and the two are combined into a confirmation protocol:

  SAFE         runs immediately
  WRITE        one confirmation
  DESTRUCTIVE  confirmation with the consequences spelled out
  FORBIDDEN    multi-step confirmation, or blocked by configuration

Targets that cannot be identified are treated as production. Every
decision that reaches the confirmation stage is appended to the audit log.

Wrap a command by prefixing it:

  opgate git push --force origin main && git push --force origin main
  opgate sql --target "$DATABASE_URL" "DELETE FROM sessions WHERE expires_at < now()"

The wrapper exits 0 when the operation may run, 1 when it was cancelled
or blocked, and 2 when the request was malformed.`,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		if flagProject == "" {
			return nil
		}
		if err := os.Chdir(flagProject); err != nil {
			return fmt.Errorf("changing directory to %s: %w", flagProject, err)
		}
		return nil
	},
	Run: func(cmd *cobra.Command, args []string) {
		showQuickReference(cmd.OutOrStdout())
	},
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	RunE: func(cmd *cobra.Command, args []string) error {
		userPath, projectCfg := config.ConfigPaths(projectDirOrEmpty(), flagConfig)
		payload := map[string]any{
			"version":        version,
			"commit":         commit,
			"build_date":     date,
			"go_version":     runtime.Version(),
			"user_config":    userPath,
			"project_config": projectCfg,
		}

		out, err := newWriter(cmd)
		if err != nil {
			return err
		}
		if !out.IsText() {
			return out.Write(payload)
		}
		w := cmd.OutOrStdout()
		fmt.Fprintf(w, "opgate %s\n", version)
		fmt.Fprintf(w, "  commit:  %s\n", commit)
		fmt.Fprintf(w, "  built:   %s\n", date)
		fmt.Fprintf(w, "  go:      %s\n", runtime.Version())
		fmt.Fprintf(w, "  config:  %s, %s\n", userPath, projectCfg)
		return nil
	},
}

// ExecuteContext runs the root command with ctx, which is cancelled on
// interrupt so an open prompt resolves as cancelled.
func ExecuteContext(ctx context.Context) error {
	return rootCmd.ExecuteContext(ctx)
}

// GetOutput returns the configured output format.
// Precedence: CLI flags > OPGATE_OUTPUT_FORMAT env > default
func GetOutput() string {
	if flagJSON {
		return "json"
	}
	if flagOutput != "" && flagOutput != "text" {
		return flagOutput
	}
	if envFormat := os.Getenv("OPGATE_OUTPUT_FORMAT"); envFormat != "" {
		switch envFormat {
		case "json", "yaml", "text":
			return envFormat
		}
	}
	return "text"
}

// GetActor returns the actor identifier.
func GetActor() string {
	if flagActor != "" {
		return flagActor
	}
	if actor := os.Getenv("OPGATE_ACTOR"); actor != "" {
		return actor
	}
	// Fallback to username@hostname
	user := os.Getenv("USER")
	if user == "" {
		user = "unknown"
	}
	host, _ := os.Hostname()
	if host == "" {
		host = "localhost"
	}
	return user + "@" + host
}

func projectPath() (string, error) {
	if flagProject != "" {
		return flagProject, nil
	}
	return os.Getwd()
}

func projectDirOrEmpty() string {
	p, _ := projectPath()
	return p
}

func loadConfig() (config.Config, error) {
	project, err := projectPath()
	if err != nil {
		return config.Config{}, err
	}
	return config.Load(config.LoadOptions{
		ProjectDir: project,
		ConfigPath: flagConfig,
	})
}

func newWriter(cmd *cobra.Command) (*output.Writer, error) {
	format, err := output.ParseFormat(GetOutput())
	if err != nil {
		return nil, err
	}
	return output.New(format,
		output.WithOutput(cmd.OutOrStdout()),
		output.WithErrorOutput(cmd.ErrOrStderr()),
	), nil
}

// newLogger builds the command logger on w. --verbose turns on debug
// output; otherwise OPGATE_LOG_LEVEL applies, defaulting to warnings.
func newLogger(w io.Writer) *log.Logger {
	level := os.Getenv("OPGATE_LOG_LEVEL")
	if level == "" {
		level = "warn"
	}
	if flagVerbose {
		level = "debug"
	}
	logger := utils.InitLogger(utils.LoggerOptions{Level: level, Output: w, Prefix: "opgate"})
	utils.SetDefaultLogger(logger)
	return logger
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&flagConfig, "config", "c", "", "project config file path (default .opgate/config.toml)")
	rootCmd.PersistentFlags().StringVarP(&flagOutput, "output", "o", "text", "output format: text, json, yaml (env: OPGATE_OUTPUT_FORMAT)")
	rootCmd.PersistentFlags().BoolVarP(&flagJSON, "json", "j", false, "shorthand for --output=json")
	rootCmd.PersistentFlags().BoolVarP(&flagVerbose, "verbose", "v", false, "verbose output")
	rootCmd.PersistentFlags().StringVar(&flagActor, "actor", "", "actor identifier (env: OPGATE_ACTOR)")
	rootCmd.PersistentFlags().StringVarP(&flagSessionID, "session-id", "s", "", "session ID recorded with each decision")
	rootCmd.PersistentFlags().StringVarP(&flagProject, "project", "C", "", "project directory")
	_ = rootCmd.RegisterFlagCompletionFunc("session-id", completeSessionIDs)

	rootCmd.AddCommand(versionCmd)
}
