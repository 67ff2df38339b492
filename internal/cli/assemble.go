package cli

import (
	"fmt"
	"io"

	"github.com/Dicklesworthstone/opgate/internal/audit"
	"github.com/Dicklesworthstone/opgate/internal/config"
	"github.com/Dicklesworthstone/opgate/internal/core"
	"github.com/Dicklesworthstone/opgate/internal/db"
	"github.com/Dicklesworthstone/opgate/internal/probe"
	"github.com/Dicklesworthstone/opgate/internal/prompt"
	"github.com/Dicklesworthstone/opgate/internal/tui/styles"
	"github.com/Dicklesworthstone/opgate/internal/tui/theme"
	"github.com/charmbracelet/log"
)

// Swapped out by tests.
var (
	probeExecutor probe.Executor
	uiFactory     = terminalUI
)

func terminalUI(cfg config.Config, w io.Writer) core.UI {
	opts := []prompt.TerminalOption{
		prompt.WithOutput(w),
		prompt.WithStyles(styles.New()),
		prompt.WithAccessible(cfg.General.Accessible),
	}
	if cfg.General.NonInteractiveAction == config.NonInteractiveTTY {
		opts = append(opts, prompt.WithTTYInput())
	}
	return prompt.NewTerminal(opts...)
}

func newEngine(cfg config.Config) (*core.PatternEngine, error) {
	engine := core.NewPatternEngine(core.WithToolProfiles(cfg.ToolProfiles()))
	for i, cp := range cfg.Patterns.Custom {
		rule, err := cp.Rule()
		if err != nil {
			return nil, fmt.Errorf("patterns.custom[%d]: %w", i, err)
		}
		if err := engine.AddRule(rule); err != nil {
			return nil, fmt.Errorf("patterns.custom[%d]: %w", i, err)
		}
	}
	return engine, nil
}

func newPolicy(cfg config.Config) (*core.Policy, error) {
	pins, err := cfg.Pins()
	if err != nil {
		return nil, err
	}
	return core.NewPolicy(core.WithPins(pins...))
}

// gateOptions are the per-invocation inputs to newGate.
type gateOptions struct {
	UI        core.UI
	SessionID string
	Audit     bool
	Logger    *log.Logger
}

// newGate assembles a gate from configuration. The returned cleanup closes
// the audit database and is always safe to call.
func newGate(cfg config.Config, opts gateOptions) (*core.Gate, func(), error) {
	logger := opts.Logger
	if logger == nil {
		logger = log.Default()
	}
	theme.SetTheme(cfg.General.Theme)

	engine, err := newEngine(cfg)
	if err != nil {
		return nil, func() {}, err
	}
	resolver, err := core.NewResolver(
		core.WithProbeTimeout(cfg.ProbeTimeout()),
		core.WithStagingHosts(cfg.Context.StagingHosts...),
		core.WithIsolatedHosts(cfg.Context.IsolatedHosts...),
		core.WithResolverLogger(logger),
	)
	if err != nil {
		return nil, func() {}, err
	}
	policy, err := newPolicy(cfg)
	if err != nil {
		return nil, func() {}, err
	}
	orch := core.NewOrchestrator(
		core.WithUI(opts.UI),
		core.WithBypassVerifier(core.TokenVerifier{
			TokenSHA256:   cfg.Bypass.TokenSHA256,
			AllowedActors: cfg.Bypass.AllowedActors,
		}),
		core.WithConfirmTimeout(cfg.ConfirmTimeout()),
		core.WithForbiddenAction(cfg.General.ForbiddenAction),
		core.WithSessionLockDir(cfg.General.SessionLockDir),
		core.WithOrchestratorLogger(logger),
	)

	gateOpts := []core.GateOption{core.WithGateLogger(logger)}
	cleanup := func() {}
	if opts.Audit && cfg.Audit.Enabled {
		sink, closeSink := openAuditSink(cfg, logger)
		cleanup = closeSink
		gateOpts = append(gateOpts, core.WithAuditRecorder(audit.NewRecorder(sink,
			audit.WithSessionID(opts.SessionID),
			audit.WithLogger(logger),
		)))
	}

	g, err := core.NewGate(engine, resolver, policy, orch, gateOpts...)
	if err != nil {
		cleanup()
		return nil, func() {}, err
	}
	return g, cleanup, nil
}

// openAuditSink opens every configured audit destination. A database that
// cannot be opened is logged and skipped; the recorder reports a
// persistence warning if nothing is left.
func openAuditSink(cfg config.Config, logger *log.Logger) (audit.Sink, func()) {
	var sinks audit.MultiSink
	cleanup := func() {}
	if cfg.Audit.JSONLPath != "" {
		sinks = append(sinks, audit.NewJSONLSink(cfg.Audit.JSONLPath))
	}
	if cfg.Audit.DatabasePath != "" {
		database, err := db.OpenAndMigrate(cfg.Audit.DatabasePath)
		if err != nil {
			logger.Warn("audit database unavailable", "path", cfg.Audit.DatabasePath, "error", err)
		} else {
			sinks = append(sinks, audit.NewSQLiteSink(database))
			cleanup = func() { _ = database.Close() }
		}
	}
	if len(sinks) == 0 {
		return nil, cleanup
	}
	return sinks, cleanup
}
