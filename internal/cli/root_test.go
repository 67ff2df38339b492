package cli

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strings"
	"testing"

	"github.com/Dicklesworthstone/opgate/internal/core"
	"github.com/Dicklesworthstone/opgate/internal/testutil"
	"github.com/spf13/cobra"
)

// executeCommand runs a cobra command with the given args and returns stdout, stderr, and error.
func executeCommand(root *cobra.Command, args ...string) (stdout string, stderr string, err error) {
	stdoutBuf := new(bytes.Buffer)
	stderrBuf := new(bytes.Buffer)

	root.SetOut(stdoutBuf)
	root.SetErr(stderrBuf)
	root.SetArgs(args)

	err = root.Execute()

	return stdoutBuf.String(), stderrBuf.String(), err
}

// newTestRootCmd creates a fresh root command for testing (avoids state pollution).
func newTestRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:           "opgate",
		Short:         "Risk gate for tool operations",
		SilenceUsage:  true,
		SilenceErrors: true,
		Run: func(cmd *cobra.Command, args []string) {
			showQuickReference(cmd.OutOrStdout())
		},
	}

	cmd.PersistentFlags().StringVarP(&flagConfig, "config", "c", "", "config file path")
	cmd.PersistentFlags().StringVarP(&flagOutput, "output", "o", "text", "output format: text, json, yaml")
	cmd.PersistentFlags().BoolVarP(&flagJSON, "json", "j", false, "shorthand for --output=json")
	cmd.PersistentFlags().BoolVarP(&flagVerbose, "verbose", "v", false, "verbose output")
	cmd.PersistentFlags().StringVar(&flagActor, "actor", "", "actor identifier")
	cmd.PersistentFlags().StringVarP(&flagSessionID, "session-id", "s", "", "session ID")
	cmd.PersistentFlags().StringVarP(&flagProject, "project", "C", "", "project directory")

	cmd.AddCommand(&cobra.Command{
		Use:  "version",
		RunE: versionCmd.RunE,
	})
	return cmd
}

func resetGlobalFlags() {
	flagConfig = ""
	flagOutput = "text"
	flagJSON = false
	flagVerbose = false
	flagActor = ""
	flagSessionID = ""
	flagProject = ""
}

// cliEnv is a harness with the package test hooks installed. The project
// config sends audit records into the harness directory.
type cliEnv struct {
	*testutil.Harness
	Exec *testutil.MockExecutor
}

func newCLIEnv(t *testing.T, extraConfig string) *cliEnv {
	t.Helper()
	h := testutil.NewHarness(t)
	for _, key := range []string{
		"OPGATE_ACTOR", "OPGATE_SESSION", "OPGATE_BYPASS_TOKEN", "OPGATE_OUTPUT_FORMAT",
		"OPGATE_CONFIRM_TIMEOUT", "OPGATE_FORBIDDEN_ACTION", "OPGATE_NON_INTERACTIVE_ACTION",
		"OPGATE_AUDIT_JSONL_PATH", "OPGATE_AUDIT_DATABASE_PATH", "OPGATE_STAGING_HOSTS", "OPGATE_ISOLATED_HOSTS",
		"OPGATE_SESSION_LOCK_DIR",
		"DATABASE_URL", "PGHOST",
	} {
		t.Setenv(key, "")
	}
	h.WriteConfig(fmt.Sprintf(`
[general]
theme = "dark"

[audit]
enabled = true
jsonl_path = %q
database_path = %q
%s`, h.AuditPath, h.DBPath, extraConfig))

	// Test commands re-register -C, which resets flagProject, so the
	// working directory has to be the project as well.
	t.Chdir(h.ProjectDir)
	resetGlobalFlags()
	flagProject = h.ProjectDir

	// "git remote" with no output: a repository without remotes.
	exec := testutil.NewMockExecutor(nil, nil)
	prevExec, prevUI := probeExecutor, uiFactory
	probeExecutor = exec
	t.Cleanup(func() {
		probeExecutor, uiFactory = prevExec, prevUI
		resetGlobalFlags()
	})
	return &cliEnv{Harness: h, Exec: exec}
}

func TestRootCommand_ShowsQuickReference(t *testing.T) {
	resetGlobalFlags()
	t.Setenv("TERM", "dumb")
	stdout, _, err := executeCommand(newTestRootCmd())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	for _, want := range []string{"OPGATE QUICK REFERENCE", "opgate check", "FORBIDDEN"} {
		if !strings.Contains(stdout, want) {
			t.Errorf("quick reference missing %q:\n%s", want, stdout)
		}
	}
}

func TestRootCommand_GlobalFlags(t *testing.T) {
	tests := []struct {
		name string
		args []string
	}{
		{"help flag short", []string{"-h"}},
		{"config flag", []string{"--config", "/tmp/test.toml", "--help"}},
		{"output flag yaml", []string{"--output", "yaml", "--help"}},
		{"json shorthand", []string{"-j", "--help"}},
		{"verbose flag", []string{"-v", "--help"}},
		{"actor flag", []string{"--actor", "test-actor", "--help"}},
		{"session-id flag", []string{"-s", "sess-123", "--help"}},
		{"project flag", []string{"-C", "/tmp/project", "--help"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resetGlobalFlags()
			if _, _, err := executeCommand(newTestRootCmd(), tt.args...); err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
		})
	}
}

func TestVersionCommand_JSONOutput(t *testing.T) {
	newCLIEnv(t, "")

	stdout, _, err := executeCommand(newTestRootCmd(), "version", "-j")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	var got map[string]any
	if err := json.Unmarshal([]byte(stdout), &got); err != nil {
		t.Fatalf("invalid JSON: %v\n%s", err, stdout)
	}
	if got["version"] != version {
		t.Errorf("version = %v, want %s", got["version"], version)
	}
	if pc, _ := got["project_config"].(string); !strings.HasSuffix(pc, ".opgate/config.toml") {
		t.Errorf("project_config = %q", pc)
	}
}

func TestGetOutput(t *testing.T) {
	tests := []struct {
		name   string
		json   bool
		output string
		env    string
		want   string
	}{
		{"default", false, "text", "", "text"},
		{"json flag wins", true, "yaml", "yaml", "json"},
		{"output flag", false, "yaml", "json", "yaml"},
		{"env when flag is text", false, "text", "json", "json"},
		{"unknown env ignored", false, "text", "toon", "text"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resetGlobalFlags()
			t.Setenv("OPGATE_OUTPUT_FORMAT", tt.env)
			flagJSON = tt.json
			flagOutput = tt.output
			if got := GetOutput(); got != tt.want {
				t.Errorf("GetOutput() = %q, want %q", got, tt.want)
			}
		})
	}
	resetGlobalFlags()
}

func TestGetActor_PrecedenceOrder(t *testing.T) {
	resetGlobalFlags()
	t.Setenv("USER", "alice")
	t.Setenv("OPGATE_ACTOR", "")

	if got := GetActor(); !strings.HasPrefix(got, "alice@") {
		t.Errorf("fallback actor = %q, want alice@<host>", got)
	}

	t.Setenv("OPGATE_ACTOR", "env-actor")
	if got := GetActor(); got != "env-actor" {
		t.Errorf("env actor = %q", got)
	}

	flagActor = "flag-actor"
	defer resetGlobalFlags()
	if got := GetActor(); got != "flag-actor" {
		t.Errorf("flag actor = %q", got)
	}
}

func TestExitCode(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want int
	}{
		{"nil", nil, ExitOK},
		{"plain error", errors.New("boom"), ExitDenied},
		{"malformed", fmt.Errorf("wrap: %w", core.ErrMalformedRequest), ExitMalformed},
		{"select star", &core.ClassifyError{Tool: core.ToolSQL, Err: core.ErrSelectStar}, ExitMalformed},
		{"exit error", &ExitError{Code: 7}, 7},
		{"request error", requestError(core.ErrMalformedRequest), ExitMalformed},
		{"request error other", requestError(core.ErrPolicyGap), ExitDenied},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := ExitCode(tt.err); got != tt.want {
				t.Errorf("ExitCode() = %d, want %d", got, tt.want)
			}
		})
	}

	if !IsSilent(&ExitError{Code: 1, Silent: true}) {
		t.Error("expected silent exit error")
	}
	if IsSilent(errors.New("x")) {
		t.Error("plain error should not be silent")
	}
}

func TestUnknownCommand(t *testing.T) {
	resetGlobalFlags()
	if _, _, err := executeCommand(newTestRootCmd(), "no-such-command"); err == nil {
		t.Fatal("expected error for unknown command")
	}
}

func TestMain(m *testing.M) {
	// Probes must never reach real CLIs from tests.
	probeExecutor = testutil.NewMockExecutor(nil, errors.New("unexpected probe"))
	os.Exit(m.Run())
}
