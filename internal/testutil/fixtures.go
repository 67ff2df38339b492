package testutil

import (
	"context"
	"testing"

	"github.com/Dicklesworthstone/opgate/internal/core"
)

// RequestOption customizes a test request.
type RequestOption func(*requestSpec)

type requestSpec struct {
	tool    core.Tool
	action  string
	payload string
	target  string
	flags   []string
}

// MakeRequest builds an operation request. The default is a bounded SQL
// read against a local database.
func MakeRequest(opts ...RequestOption) core.OperationRequest {
	s := &requestSpec{
		tool:    core.ToolSQL,
		action:  "sql.query",
		payload: "SELECT id, name FROM accounts LIMIT 10",
		target:  "postgres://app@localhost:5432/app",
	}
	for _, opt := range opts {
		opt(s)
	}
	return core.NewOperationRequest(s.tool, s.action, s.payload, s.target, s.flags...)
}

// WithTool sets the tool.
func WithTool(tool core.Tool) RequestOption {
	return func(s *requestSpec) { s.tool = tool }
}

// WithAction sets the action.
func WithAction(action string) RequestOption {
	return func(s *requestSpec) { s.action = action }
}

// WithPayload sets the raw payload.
func WithPayload(payload string) RequestOption {
	return func(s *requestSpec) { s.payload = payload }
}

// WithTarget sets the target reference.
func WithTarget(target string) RequestOption {
	return func(s *requestSpec) { s.target = target }
}

// WithFlags sets the flag set.
func WithFlags(flags ...string) RequestOption {
	return func(s *requestSpec) { s.flags = flags }
}

// SQLRequest is shorthand for a sql.exec request.
func SQLRequest(payload, target string) core.OperationRequest {
	return MakeRequest(WithAction("sql.exec"), WithPayload(payload), WithTarget(target))
}

// StaticProbe returns a probe that always reports pr.
func StaticProbe(pr core.ProbeResult, err error) core.EnvironmentProbe {
	return core.ProbeFunc(func(ctx context.Context, targetRef string) (core.ProbeResult, error) {
		return pr, err
	})
}

// ProbeFor returns a probe whose result resolves to sens with the default
// resolver settings.
func ProbeFor(sens core.Sensitivity) core.EnvironmentProbe {
	switch sens {
	case core.SensitivityIsolated:
		return StaticProbe(core.ProbeResult{IsIsolated: true, ResolvedIdentity: "local"}, nil)
	case core.SensitivityStaging:
		return StaticProbe(core.ProbeResult{IsStaging: true, ResolvedIdentity: "staging"}, nil)
	case core.SensitivityProduction:
		return StaticProbe(core.ProbeResult{ResolvedIdentity: "prod", Host: "db.example.com"}, nil)
	}
	return nil
}

// AffirmativeUI answers every prompt positively: the first option for
// choice steps, the required value for typed steps.
func AffirmativeUI() core.UI {
	return core.UIFunc(func(ctx context.Context, p core.Prompt) (core.Answer, error) {
		if p.Kind == core.StepType {
			return core.Answer{TypedValue: p.RequiredTypedValue}, nil
		}
		if len(p.Options) == 0 {
			return core.Answer{}, nil
		}
		return core.Answer{SelectedOption: p.Options[0]}, nil
	})
}

// DecliningUI answers the first prompt with the last option.
func DecliningUI() core.UI {
	return core.UIFunc(func(ctx context.Context, p core.Prompt) (core.Answer, error) {
		if len(p.Options) == 0 {
			return core.Answer{TypedValue: "no"}, nil
		}
		return core.Answer{SelectedOption: p.Options[len(p.Options)-1]}, nil
	})
}

// MakeDecision classifies req, evaluates it at sens with the default
// policy, and runs it to completion against ui.
func MakeDecision(t *testing.T, req core.OperationRequest, sens core.Sensitivity, ui core.UI, opts core.RunOptions) (*core.Decision, core.RunResult) {
	t.Helper()

	cls, err := core.NewPatternEngine().Classify(req)
	RequireNoError(t, err, "classify")
	policy, err := core.NewPolicy()
	RequireNoError(t, err, "new policy")

	d := policy.Evaluate(req, cls, sens)
	orch := core.NewOrchestrator(
		core.WithUI(ui),
		core.WithOrchestratorLogger(TestLogger(t)),
	)
	res, err := orch.Run(context.Background(), d, opts)
	RequireNoError(t, err, "run decision")
	return d, res
}
