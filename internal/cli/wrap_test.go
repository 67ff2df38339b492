package cli

import (
	"context"
	"encoding/json"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/Dicklesworthstone/opgate/internal/audit"
	"github.com/Dicklesworthstone/opgate/internal/config"
	"github.com/Dicklesworthstone/opgate/internal/core"
	"github.com/Dicklesworthstone/opgate/internal/prompt"
	"github.com/Dicklesworthstone/opgate/internal/testutil"
)

// runWrapped runs one wrapper under a fresh root.
func runWrapped(t *testing.T, use string, args ...string) (string, string, error) {
	t.Helper()
	var wt wrappedTool
	for _, w := range wrappedTools {
		if w.use == use {
			wt = w
		}
	}
	if wt.use == "" {
		t.Fatalf("no wrapper %q", use)
	}
	root := newTestRootCmd()
	root.AddCommand(newWrapperCmd(wt))
	return executeCommand(root, append([]string{use}, args...)...)
}

func useUI(ui core.UI) {
	uiFactory = func(config.Config, io.Writer) core.UI { return ui }
}

// failingUI fails the test if any prompt is shown.
func failingUI(t *testing.T) core.UI {
	return core.UIFunc(func(ctx context.Context, p core.Prompt) (core.Answer, error) {
		t.Errorf("unexpected prompt: %+v", p)
		return core.Answer{}, core.ErrNoInteractiveUI
	})
}

func readAudit(t *testing.T, path string) []audit.Record {
	t.Helper()
	records, err := audit.ReadJSONL(path)
	if err != nil {
		t.Fatalf("reading audit log: %v", err)
	}
	return records
}

func TestWrapper_SafeOperationApprovedWithoutPrompt(t *testing.T) {
	env := newCLIEnv(t, "")
	useUI(failingUI(t))

	_, stderr, err := runWrapped(t, "git", "status")
	if err != nil {
		t.Fatalf("expected approval, got %v (stderr %s)", err, stderr)
	}
	if !strings.Contains(stderr, "approved") {
		t.Errorf("expected approved result on stderr, got %q", stderr)
	}
	if !env.Exec.WasCalledWith("git", "remote") {
		t.Error("expected the git probe to list remotes")
	}

	records := readAudit(t, env.AuditPath)
	testutil.RequireLen(t, records, 1, "audit records")
	testutil.RequireEqual(t, core.OutcomeApproved, records[0].Outcome, "outcome")
	testutil.RequireEqual(t, core.TierSafe, records[0].FinalTier, "final tier")
	testutil.RequireEqual(t, core.SensitivityIsolated, records[0].Sensitivity, "sensitivity")
}

func TestWrapper_DestructiveSQLConfirmed(t *testing.T) {
	env := newCLIEnv(t, "")
	ui := prompt.NewScripted(prompt.Choose(core.OptionAcknowledge))
	useUI(ui)

	stdout, _, err := runWrapped(t, "sql", "--json", "--target", "dev.db", "--session", "s-1", "DELETE FROM users")
	if err != nil {
		t.Fatalf("expected approval, got %v", err)
	}

	var res struct {
		Decision struct {
			BaseTier  string `json:"base_tier"`
			FinalTier string `json:"final_tier"`
			Protocol  struct {
				Kind string `json:"kind"`
			} `json:"protocol"`
		} `json:"decision"`
		Run struct {
			Outcome string `json:"outcome"`
		} `json:"run"`
	}
	if err := json.Unmarshal([]byte(stdout), &res); err != nil {
		t.Fatalf("invalid JSON: %v\n%s", err, stdout)
	}
	testutil.RequireEqual(t, "destructive", res.Decision.BaseTier, "base tier")
	testutil.RequireEqual(t, "destructive", res.Decision.FinalTier, "final tier")
	testutil.RequireEqual(t, string(core.ProtocolPromptWithConsequences), res.Decision.Protocol.Kind, "protocol")
	testutil.RequireEqual(t, "approved", res.Run.Outcome, "outcome")

	prompts := ui.Prompts()
	testutil.RequireLen(t, prompts, 1, "prompts")
	testutil.RequireEqual(t, "s-1", prompts[0].SessionID, "prompt session")

	records := readAudit(t, env.AuditPath)
	testutil.RequireLen(t, records, 1, "audit records")
	testutil.RequireEqual(t, "s-1", records[0].SessionID, "audit session")
	testutil.RequireEqual(t, "dev.db", records[0].Target, "audit target")
}

func TestWrapper_DeclinedExitsOne(t *testing.T) {
	env := newCLIEnv(t, "")
	useUI(prompt.NewScripted(prompt.Choose(core.OptionCancel)))

	_, _, err := runWrapped(t, "sql", "--target", "dev.db", "TRUNCATE sessions")
	if err == nil {
		t.Fatal("expected a non-zero exit")
	}
	testutil.RequireEqual(t, ExitDenied, ExitCode(err), "exit code")
	if !IsSilent(err) {
		t.Error("cancellation is reported on stderr; the error should be silent")
	}

	records := readAudit(t, env.AuditPath)
	testutil.RequireLen(t, records, 1, "audit records")
	testutil.RequireEqual(t, core.OutcomeCancelled, records[0].Outcome, "outcome")
}

func TestWrapper_NonInteractiveBlocks(t *testing.T) {
	env := newCLIEnv(t, "")
	uiFactory = func(cfg config.Config, w io.Writer) core.UI {
		return prompt.NewTerminal(
			prompt.WithInput(strings.NewReader("")),
			prompt.WithOutput(w),
			prompt.WithInteractive(false),
		)
	}

	_, _, err := runWrapped(t, "git", "reset", "--hard")
	testutil.RequireEqual(t, ExitDenied, ExitCode(err), "exit code")

	records := readAudit(t, env.AuditPath)
	testutil.RequireLen(t, records, 1, "audit records")
	testutil.RequireEqual(t, core.OutcomeBlocked, records[0].Outcome, "outcome")
}

func TestWrapper_ForbiddenMultiStep(t *testing.T) {
	newCLIEnv(t, "")
	ui := prompt.NewScripted(
		prompt.Choose(core.OptionAcknowledge),
		prompt.Type("app"),
		prompt.Choose(core.OptionYes),
	)
	useUI(ui)

	_, _, err := runWrapped(t, "sql", "--target", "dev.db", "DROP DATABASE app")
	testutil.RequireNoError(t, err, "forbidden confirmed")
	prompts := ui.Prompts()
	testutil.RequireLen(t, prompts, 3, "prompts")
	testutil.RequireEqual(t, "app", prompts[1].RequiredTypedValue, "typed value")
}

func TestWrapper_ForbiddenTypedMismatchCancels(t *testing.T) {
	env := newCLIEnv(t, "")
	useUI(prompt.NewScripted(
		prompt.Choose(core.OptionAcknowledge),
		prompt.Type("App"),
		prompt.Choose(core.OptionYes),
	))

	_, _, err := runWrapped(t, "sql", "--target", "dev.db", "DROP DATABASE app")
	testutil.RequireEqual(t, ExitDenied, ExitCode(err), "exit code")

	records := readAudit(t, env.AuditPath)
	testutil.RequireLen(t, records, 1, "audit records")
	testutil.RequireEqual(t, core.OutcomeCancelled, records[0].Outcome, "outcome")
}

func TestWrapper_ForbiddenBlockedByConfig(t *testing.T) {
	env := newCLIEnv(t, "")
	uiFactory = func(config.Config, io.Writer) core.UI { return failingUI(t) }
	env.WriteConfig(`
[general]
forbidden_action = "block"

[audit]
enabled = true
jsonl_path = "` + env.AuditPath + `"
database_path = ""
`)

	_, _, err := runWrapped(t, "sql", "--target", "dev.db", "DROP SCHEMA public CASCADE")
	testutil.RequireEqual(t, ExitDenied, ExitCode(err), "exit code")

	records := readAudit(t, env.AuditPath)
	testutil.RequireLen(t, records, 1, "audit records")
	testutil.RequireEqual(t, core.OutcomeBlocked, records[0].Outcome, "outcome")
	testutil.RequireEqual(t, core.TierForbidden, records[0].FinalTier, "final tier")
}

func TestWrapper_MalformedExitsTwo(t *testing.T) {
	env := newCLIEnv(t, "")
	useUI(failingUI(t))

	tests := []struct {
		name string
		use  string
		args []string
	}{
		{"no arguments", "sql", nil},
		{"no subcommand", "git", []string{"--no-pager"}},
		{"missing gate flag value", "git", []string{"push", "--target"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, _, err := runWrapped(t, tt.use, tt.args...)
			testutil.RequireEqual(t, ExitMalformed, ExitCode(err), "exit code")
		})
	}

	if records, err := audit.ReadJSONL(env.AuditPath); err == nil && len(records) != 0 {
		t.Errorf("malformed requests must not be audited, found %d", len(records))
	}
}

func TestWrapper_SelectStarRejected(t *testing.T) {
	newCLIEnv(t, "")
	useUI(failingUI(t))

	_, _, err := runWrapped(t, "sql", "--target", "dev.db", "SELECT * FROM users")
	testutil.RequireEqual(t, ExitMalformed, ExitCode(err), "exit code")
	testutil.RequireErrorIs(t, err, core.ErrSelectStar, "select star")
}

func TestWrapper_UnknownTargetFailsClosed(t *testing.T) {
	env := newCLIEnv(t, "")
	env.Exec.MockError = io.ErrUnexpectedEOF
	ui := prompt.NewScripted(prompt.Choose(core.OptionProceed))
	useUI(ui)

	// A read is SAFE everywhere except an unknown target.
	_, _, err := runWrapped(t, "git", "fetch", "origin")
	testutil.RequireNoError(t, err, "fetch")

	records := readAudit(t, env.AuditPath)
	testutil.RequireLen(t, records, 1, "audit records")
	testutil.RequireEqual(t, core.SensitivityUnknown, records[0].Sensitivity, "sensitivity")
	testutil.RequireEqual(t, core.TierWrite, records[0].FinalTier, "final tier")
	testutil.RequireLen(t, ui.Prompts(), 1, "prompts")
}

func TestWrapper_BypassWithToken(t *testing.T) {
	env := newCLIEnv(t, `
[bypass]
token_sha256 = ["`+core.HashToken("s3cret")+`"]
allowed_actors = ["ci-bot"]
`)
	useUI(failingUI(t))

	_, _, err := runWrapped(t, "sql", "--actor", "ci-bot", "--target", "dev.db", "--confirm", "--bypass-token", "s3cret", "DELETE FROM users")
	testutil.RequireNoError(t, err, "bypassed request")

	records := readAudit(t, env.AuditPath)
	testutil.RequireLen(t, records, 1, "audit records")
	testutil.RequireEqual(t, true, records[0].BypassFlagUsed, "bypass used")
	testutil.RequireEqual(t, true, records[0].BypassHonoured, "bypass honoured")
	testutil.RequireEqual(t, "ci-bot", records[0].Actor, "actor")
}

func TestWrapper_RefusedBypassIsStillAudited(t *testing.T) {
	env := newCLIEnv(t, `
[bypass]
token_sha256 = ["`+core.HashToken("s3cret")+`"]
`)
	ui := prompt.NewScripted(prompt.Choose(core.OptionAcknowledge))
	useUI(ui)

	_, _, err := runWrapped(t, "sql", "--target", "dev.db", "--confirm", "--bypass-token", "wrong", "DELETE FROM users")
	testutil.RequireNoError(t, err, "confirmed after refused bypass")
	testutil.RequireLen(t, ui.Prompts(), 1, "prompts")

	records := readAudit(t, env.AuditPath)
	testutil.RequireLen(t, records, 1, "audit records")
	testutil.RequireEqual(t, true, records[0].BypassFlagUsed, "bypass flag used")
	testutil.RequireEqual(t, false, records[0].BypassHonoured, "bypass honoured")
}

func TestWrapper_BypassRejectedWithoutConfirm(t *testing.T) {
	newCLIEnv(t, `
[bypass]
token_sha256 = ["`+core.HashToken("s3cret")+`"]
`)
	ui := prompt.NewScripted(prompt.Choose(core.OptionCancel))
	useUI(ui)

	// A token alone does not request the bypass.
	_, _, err := runWrapped(t, "sql", "--target", "dev.db", "--bypass-token", "s3cret", "DELETE FROM users")
	testutil.RequireEqual(t, ExitDenied, ExitCode(err), "exit code")
	testutil.RequireLen(t, ui.Prompts(), 1, "prompts")
}

func TestWrapper_HelpFlag(t *testing.T) {
	newCLIEnv(t, "")
	stdout, _, err := runWrapped(t, "gh", "--help")
	testutil.RequireNoError(t, err, "help")
	testutil.RequireContains(t, stdout, "--bypass-token", "wrapper help")
}

func TestWrapper_AuditDatabaseMirrorsJSONL(t *testing.T) {
	env := newCLIEnv(t, "")
	useUI(failingUI(t))

	for i := 0; i < 2; i++ {
		if _, _, err := runWrapped(t, "git", "log", "--oneline"); err != nil {
			t.Fatalf("run %d: %v", i, err)
		}
	}

	database := testutil.NewTestDBAtPath(t, env.DBPath)
	n, err := database.CountAuditRecords(context.Background())
	testutil.RequireNoError(t, err, "count")
	testutil.RequireEqual(t, 2, n, "database records")
	testutil.RequireLen(t, readAudit(t, env.AuditPath), 2, "jsonl records")
}

func TestWrapper_CRMQueryOnProductionFlagsPII(t *testing.T) {
	env := newCLIEnv(t, "")
	env.Exec.MockOutput = []byte(`{"status":0,"result":{"username":"admin@acme.com","instanceUrl":"https://acme.my.salesforce.com"}}`)
	ui := prompt.NewScripted(prompt.Choose(core.OptionProceed))
	useUI(ui)

	_, _, err := runWrapped(t, "sf", "data", "query", "-q", "SELECT Id, Email FROM Contact", "-o", "prod")
	testutil.RequireNoError(t, err, "query")

	records := readAudit(t, env.AuditPath)
	testutil.RequireLen(t, records, 1, "audit records")
	testutil.RequireEqual(t, core.SensitivityProduction, records[0].Sensitivity, "sensitivity")
	testutil.RequireEqual(t, true, records[0].TouchesPII, "touches pii")
	testutil.RequireEqual(t, core.TierWrite, records[0].FinalTier, "final tier")
	testutil.RequireLen(t, ui.Prompts(), 1, "prompts")

	var limitWarned bool
	for _, w := range records[0].Warnings {
		if strings.Contains(w, "LIMIT 200") {
			limitWarned = true
		}
	}
	if !limitWarned {
		t.Errorf("expected a missing LIMIT warning, got %v", records[0].Warnings)
	}
}

func TestWrapper_BundledForcePushIsForbidden(t *testing.T) {
	env := newCLIEnv(t, "")
	uiFactory = func(cfg config.Config, w io.Writer) core.UI {
		return prompt.NewTerminal(
			prompt.WithInput(strings.NewReader("")),
			prompt.WithOutput(w),
			prompt.WithInteractive(false),
		)
	}

	_, _, err := runWrapped(t, "git", "push", "-fu", "origin", "main")
	testutil.RequireEqual(t, ExitDenied, ExitCode(err), "exit code")

	records := readAudit(t, env.AuditPath)
	testutil.RequireLen(t, records, 1, "audit records")
	testutil.RequireEqual(t, core.TierForbidden, records[0].BaseTier, "base tier")
	testutil.RequireEqual(t, core.OutcomeBlocked, records[0].Outcome, "outcome")
}

func TestWrapper_SessionLockFileInConfiguredDir(t *testing.T) {
	newCLIEnv(t, "")
	lockDir := filepath.Join(t.TempDir(), "sessions")
	t.Setenv("OPGATE_SESSION_LOCK_DIR", lockDir)
	useUI(prompt.NewScripted(prompt.Choose(core.OptionProceed)))

	_, _, err := runWrapped(t, "git", "--session", "agent-1", "commit", "-m", "wip")
	testutil.RequireNoError(t, err, "commit")

	locks, err := filepath.Glob(filepath.Join(lockDir, "*.lock"))
	testutil.RequireNoError(t, err, "glob")
	testutil.RequireLen(t, locks, 1, "session lock files")
}

func TestWrapper_SecretValuesNeverShown(t *testing.T) {
	env := newCLIEnv(t, "")
	ui := prompt.NewScripted(prompt.Choose(core.OptionCancel))
	useUI(ui)

	stdout, stderr, err := runWrapped(t, "supabase", "--json", "secrets", "set", "STRIPE_KEY=sk_live_123", "--project-ref", "abcd")
	testutil.RequireEqual(t, ExitDenied, ExitCode(err), "exit code")

	prompts := ui.Prompts()
	testutil.RequireLen(t, prompts, 1, "prompts")
	testutil.RequireContains(t, prompts[0].Payload, "STRIPE_KEY=xxxxx", "prompt payload")
	for name, out := range map[string]string{"prompt": prompts[0].Payload, "stdout": stdout, "stderr": stderr} {
		if strings.Contains(out, "sk_live_123") {
			t.Errorf("secret value shown on %s", name)
		}
	}
	if data, err := os.ReadFile(env.AuditPath); err == nil && strings.Contains(string(data), "sk_live_123") {
		t.Error("secret value written to the audit log")
	}
}
