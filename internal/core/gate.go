package core

import (
	"context"
	"fmt"

	"github.com/charmbracelet/log"
)

// AuditRecorder appends an immutable record of a finished decision. The
// decision carries both the bypass request and whether it was honoured.
type AuditRecorder interface {
	Record(ctx context.Context, d *Decision, actor string) error
}

// Result is the outcome of gating one request.
type Result struct {
	Decision   *Decision  `json:"decision"`
	Resolution Resolution `json:"resolution"`
	Run        RunResult  `json:"run"`
	// AuditWarning is set when the audit record could not be written. It
	// never changes the outcome.
	AuditWarning string `json:"audit_warning,omitempty"`
}

// Gate wires classifier, resolver, policy, orchestrator and audit
// recorder into a single call.
type Gate struct {
	engine       *PatternEngine
	resolver     *Resolver
	policy       *Policy
	orchestrator *Orchestrator
	recorder     AuditRecorder
	logger       *log.Logger
}

// GateOption configures a Gate.
type GateOption func(*Gate)

// WithAuditRecorder sets where decisions are recorded.
func WithAuditRecorder(r AuditRecorder) GateOption {
	return func(g *Gate) { g.recorder = r }
}

// WithGateLogger sets the logger.
func WithGateLogger(logger *log.Logger) GateOption {
	return func(g *Gate) {
		if logger != nil {
			g.logger = logger
		}
	}
}

// NewGate composes the components. All four are required.
func NewGate(engine *PatternEngine, resolver *Resolver, policy *Policy, orchestrator *Orchestrator, opts ...GateOption) (*Gate, error) {
	if engine == nil || resolver == nil || policy == nil || orchestrator == nil {
		return nil, fmt.Errorf("gate requires an engine, resolver, policy and orchestrator")
	}
	g := &Gate{
		engine:       engine,
		resolver:     resolver,
		policy:       policy,
		orchestrator: orchestrator,
		logger:       log.Default(),
	}
	for _, opt := range opts {
		opt(g)
	}
	return g, nil
}

// Policy returns the policy.
func (g *Gate) Policy() *Policy { return g.policy }

// Evaluate classifies the request, resolves its target and applies the
// policy, without prompting. Malformed requests and SELECT * are rejected
// here.
func (g *Gate) Evaluate(ctx context.Context, req OperationRequest, probe EnvironmentProbe) (*Decision, Resolution, error) {
	cls, err := g.engine.Classify(req)
	if err != nil {
		return nil, Resolution{}, err
	}
	res := g.resolver.ResolveDetailed(ctx, req.TargetRef(), probe)
	d := g.policy.Evaluate(req, cls, res.Sensitivity)
	d.SensitivityEvidence = res.Evidence

	g.logger.Debug("decision evaluated",
		"id", d.ID,
		"tool", req.Tool(),
		"action", req.Action(),
		"base_tier", d.BaseTier,
		"sensitivity", d.Sensitivity,
		"final_tier", d.FinalTier,
		"protocol", d.Protocol.Kind,
	)
	return d, res, nil
}

// Process evaluates the request, runs its confirmation protocol and
// records the result. Every decision that reaches the orchestrator is
// audited, whatever its outcome.
func (g *Gate) Process(ctx context.Context, req OperationRequest, probe EnvironmentProbe, opts RunOptions) (*Result, error) {
	d, res, err := g.Evaluate(ctx, req, probe)
	if err != nil {
		return nil, err
	}

	run, err := g.orchestrator.Run(ctx, d, opts)
	if err != nil {
		return nil, err
	}

	out := &Result{Decision: d, Resolution: res, Run: run}
	if g.recorder != nil {
		// The audit write must happen even when the caller has already
		// cancelled.
		auditCtx := context.WithoutCancel(ctx)
		if err := g.recorder.Record(auditCtx, d, opts.Actor); err != nil {
			out.AuditWarning = err.Error()
			g.logger.Warn("audit record not written", "id", d.ID, "error", err)
		}
	}
	return out, nil
}
