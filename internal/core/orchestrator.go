package core

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/log"
)

// ErrNoInteractiveUI is returned by a UI that cannot ask a human, for
// example when stdin is not a terminal. A decision that needs a step then
// ends Blocked rather than Cancelled.
var ErrNoInteractiveUI = errors.New("no interactive confirmation UI available")

// Prompt is the content of one confirmation step.
type Prompt struct {
	DecisionID string   `json:"decision_id"`
	SessionID  string   `json:"session_id,omitempty"`
	Step       int      `json:"step"`
	TotalSteps int      `json:"total_steps"`
	Kind       StepKind `json:"kind"`
	Title      string   `json:"title"`
	Text       string   `json:"text"`
	Payload    string   `json:"payload,omitempty"`
	Warning    string   `json:"warning,omitempty"`
	Options    []string `json:"options,omitempty"`
	// RequiredTypedValue is set on type steps.
	RequiredTypedValue string      `json:"required_typed_value,omitempty"`
	Tier               RiskTier    `json:"tier"`
	Sensitivity        Sensitivity `json:"sensitivity"`
	Reasons            []string    `json:"reasons,omitempty"`
}

// Answer is the human's response to a Prompt.
type Answer struct {
	SelectedOption string `json:"selected_option,omitempty"`
	TypedValue     string `json:"typed_value,omitempty"`
}

// UI renders prompts and collects answers. Ask blocks until the human
// answers, ctx is done, or the UI gives up (ErrUITimeout).
type UI interface {
	Ask(ctx context.Context, p Prompt) (Answer, error)
}

// UIFunc adapts a function to UI.
type UIFunc func(ctx context.Context, p Prompt) (Answer, error)

func (f UIFunc) Ask(ctx context.Context, p Prompt) (Answer, error) {
	return f(ctx, p)
}

// RunOptions carries per-invocation caller intent. Bypass intent is only
// ever passed here, never read from the environment by the engine.
type RunOptions struct {
	Actor            string
	SessionID        string
	BypassRequested  bool
	BypassCredential string
}

// RunResult summarises a finished run.
type RunResult struct {
	Outcome         Outcome `json:"outcome"`
	BypassRequested bool    `json:"bypass_requested,omitempty"`
	BypassUsed      bool    `json:"bypass_used,omitempty"`
	Explanation     string  `json:"explanation,omitempty"`
}

// Forbidden-tier handling.
const (
	ForbiddenPrompt = "prompt"
	ForbiddenBlock  = "block"
)

// DefaultConfirmTimeout bounds the wait for a single answer.
const DefaultConfirmTimeout = 5 * time.Minute

// Orchestrator drives a decision's confirmation protocol against a UI.
type Orchestrator struct {
	ui              UI
	verifier        BypassVerifier
	confirmTimeout  time.Duration
	forbiddenAction string
	logger          *log.Logger
	sessionLockDir  string

	sessions *sessionLocks
}

// OrchestratorOption configures an Orchestrator.
type OrchestratorOption func(*Orchestrator)

// WithUI sets the confirmation UI. Without one, any decision that needs a
// step is blocked.
func WithUI(ui UI) OrchestratorOption {
	return func(o *Orchestrator) { o.ui = ui }
}

// WithBypassVerifier sets the verifier for bypass credentials.
func WithBypassVerifier(v BypassVerifier) OrchestratorOption {
	return func(o *Orchestrator) { o.verifier = v }
}

// WithConfirmTimeout bounds each step's wait. Non-positive keeps the default.
func WithConfirmTimeout(d time.Duration) OrchestratorOption {
	return func(o *Orchestrator) {
		if d > 0 {
			o.confirmTimeout = d
		}
	}
}

// WithForbiddenAction selects "prompt" (run the multi-step protocol) or
// "block" (refuse forbidden decisions outright).
func WithForbiddenAction(action string) OrchestratorOption {
	return func(o *Orchestrator) {
		if action == ForbiddenBlock {
			o.forbiddenAction = ForbiddenBlock
		}
	}
}

// WithSessionLockDir keeps lock files in dir so that processes sharing it
// also confirm one request per session at a time.
func WithSessionLockDir(dir string) OrchestratorOption {
	return func(o *Orchestrator) { o.sessionLockDir = dir }
}

// WithOrchestratorLogger sets the logger.
func WithOrchestratorLogger(logger *log.Logger) OrchestratorOption {
	return func(o *Orchestrator) {
		if logger != nil {
			o.logger = logger
		}
	}
}

// NewOrchestrator creates an orchestrator.
func NewOrchestrator(opts ...OrchestratorOption) *Orchestrator {
	o := &Orchestrator{
		confirmTimeout:  DefaultConfirmTimeout,
		forbiddenAction: ForbiddenPrompt,
		logger:          log.Default(),
	}
	for _, opt := range opts {
		opt(o)
	}
	o.sessions = newSessionLocks(o.sessionLockDir)
	return o
}

// Run drives d to a final outcome. It returns an error only for misuse
// (a nil or already finalized decision); every runtime failure ends in
// Cancelled or Blocked.
func (o *Orchestrator) Run(ctx context.Context, d *Decision, opts RunOptions) (RunResult, error) {
	if d == nil {
		return RunResult{}, fmt.Errorf("%w: nil decision", ErrMalformedRequest)
	}
	if err := d.checkPending(); err != nil {
		return RunResult{}, err
	}

	o.enforceProtocol(d)
	d.bypassRequested = opts.BypassRequested
	res := RunResult{BypassRequested: opts.BypassRequested}
	finish := func() (RunResult, error) {
		res.Outcome = d.Outcome()
		res.BypassUsed = d.Bypassed()
		if res.Outcome == OutcomeCancelled || res.Outcome == OutcomeBlocked {
			res.Explanation = d.Explain()
		}
		o.logger.Debug("decision finished",
			"id", d.ID,
			"action", d.Request.Action(),
			"final_tier", d.FinalTier,
			"outcome", res.Outcome,
			"bypass", res.BypassUsed,
		)
		return res, nil
	}

	if d.Protocol.Steps() == 0 {
		if err := d.approve(); err != nil {
			return RunResult{}, err
		}
		return finish()
	}

	if opts.BypassRequested {
		if o.bypassAllowed(d, opts) {
			if err := d.approveBypass(); err != nil {
				return RunResult{}, err
			}
			o.logger.Warn("confirmation bypassed",
				"id", d.ID,
				"action", d.Request.Action(),
				"final_tier", d.FinalTier,
				"actor", opts.Actor,
			)
			return finish()
		}
		o.logger.Warn("bypass request ignored",
			"id", d.ID,
			"final_tier", d.FinalTier,
			"pinned", d.Pinned,
		)
	}

	if d.FinalTier == TierForbidden && o.forbiddenAction == ForbiddenBlock {
		_ = d.block("forbidden operations are blocked by configuration")
		return finish()
	}
	if o.ui == nil {
		_ = d.block(ErrNoInteractiveUI.Error())
		return finish()
	}

	release, err := o.sessions.acquire(ctx, opts.SessionID)
	if err != nil {
		if ctx.Err() != nil {
			_ = d.cancel("cancelled while waiting for another confirmation in this session")
		} else {
			_ = d.block("session lock unavailable: " + err.Error())
		}
		return finish()
	}
	defer release()

	o.runSteps(ctx, d, opts)
	return finish()
}

// enforceProtocol raises a decision whose tier or protocol was edited
// below what the policy settled on, or below what its base tier,
// sensitivity and pin require. It never lowers anything.
func (o *Orchestrator) enforceProtocol(d *Decision) {
	final := MaxTier(d.FinalTier, d.minTier, d.BaseTier, Floor(d.Sensitivity, d.TouchesPII))
	want := MaxProtocolKind(ProtocolKindFor(final), d.minProtocol)
	if d.Pinned {
		want = ProtocolMultiStep
	}
	p := d.Protocol
	complete := p.Steps() == 0 || len(p.Options) > 0
	if p.Kind == ProtocolMultiStep {
		complete = complete && p.RequiredTypedValue != "" && len(p.FinalOptions) > 0
	}
	if final == d.FinalTier && p.Kind.rank() >= want.rank() && complete {
		return
	}

	kind := MaxProtocolKind(p.Kind, want)
	o.logger.Warn("decision protocol below its tier; raising",
		"id", d.ID,
		"final_tier", final,
		"protocol", p.Kind,
		"required", kind,
	)
	reasons := d.pinReasons
	if reasons == nil {
		reasons = d.Reasons
	}
	d.FinalTier = final
	d.Protocol = buildProtocol(kind, d.Request, reasons, final, d.Sensitivity)
}

func (o *Orchestrator) bypassAllowed(d *Decision, opts RunOptions) bool {
	if !d.Bypassable() || o.verifier == nil {
		return false
	}
	return o.verifier.Verify(opts.Actor, opts.BypassCredential)
}

// runSteps asks each step in turn and stops at the first one that does
// not pass. A mismatch is never retried.
func (o *Orchestrator) runSteps(ctx context.Context, d *Decision, opts RunOptions) {
	total := d.Protocol.Steps()
	for step := 1; step <= total; step++ {
		prompt := o.promptFor(d, step, opts.SessionID)

		ans, err := o.ask(ctx, prompt)
		if err != nil {
			o.fail(d, err)
			return
		}

		passed := stepPassed(d.Protocol, prompt, ans)
		ev := StepEvidence{Step: step, Kind: prompt.Kind, Selected: ans.SelectedOption, Typed: ans.TypedValue, Passed: passed}
		if err := d.recordStep(ev); err != nil {
			_ = d.cancel(err.Error())
			return
		}
		if !passed {
			if prompt.Kind == StepType {
				_ = d.cancel("typed confirmation did not match")
			} else {
				_ = d.cancel(fmt.Sprintf("declined at step %d of %d", step, total))
			}
			return
		}
	}
	if err := d.approve(); err != nil {
		_ = d.cancel(err.Error())
	}
}

func (o *Orchestrator) ask(ctx context.Context, p Prompt) (ans Answer, err error) {
	stepCtx, cancel := context.WithTimeout(ctx, o.confirmTimeout)
	defer cancel()

	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("confirmation UI panicked: %v", r)
		}
	}()
	ans, err = o.ui.Ask(stepCtx, p)
	if err == nil && stepCtx.Err() != nil {
		// An answer that arrives after the deadline does not count.
		err = stepCtx.Err()
	}
	return ans, err
}

func (o *Orchestrator) fail(d *Decision, err error) {
	switch {
	case errors.Is(err, ErrNoInteractiveUI):
		_ = d.block(ErrNoInteractiveUI.Error())
	case errors.Is(err, ErrUITimeout), errors.Is(err, context.DeadlineExceeded):
		_ = d.cancel(ErrUITimeout.Error())
	case errors.Is(err, context.Canceled):
		_ = d.cancel("cancelled by caller")
	default:
		_ = d.cancel("confirmation failed: " + err.Error())
	}
	o.logger.Info("confirmation did not complete", "id", d.ID, "outcome", d.Outcome(), "error", err)
}

func stepPassed(proto Protocol, p Prompt, ans Answer) bool {
	switch p.Kind {
	case StepType:
		return ans.TypedValue == proto.RequiredTypedValue
	default:
		return len(p.Options) > 0 && strings.EqualFold(strings.TrimSpace(ans.SelectedOption), p.Options[0])
	}
}

func (o *Orchestrator) promptFor(d *Decision, step int, sessionID string) Prompt {
	p := Prompt{
		DecisionID:  d.ID,
		SessionID:   sessionID,
		Step:        step,
		TotalSteps:  d.Protocol.Steps(),
		Tier:        d.FinalTier,
		Sensitivity: d.Sensitivity,
		Reasons:     d.Reasons,
		Payload:     d.Request.DisplayPayload(),
	}
	target := displayOrDefault(d.Request.DisplayTarget())
	subject := fmt.Sprintf("%s %s on %s", d.Request.Tool(), d.Request.Action(), target)

	switch d.Protocol.Kind {
	case ProtocolSinglePrompt:
		p.Kind = StepChoose
		p.Title = "Confirm " + d.FinalTier.String() + " operation"
		p.Text = fmt.Sprintf("Run %s (%s environment)?", subject, d.Sensitivity)
		p.Options = d.Protocol.Options
	case ProtocolPromptWithConsequences:
		p.Kind = StepChoose
		p.Title = "Confirm " + d.FinalTier.String() + " operation"
		p.Text = fmt.Sprintf("Run %s (%s environment)?", subject, d.Sensitivity)
		p.Warning = d.Protocol.WarningText
		p.Options = d.Protocol.Options
	case ProtocolMultiStep:
		switch step {
		case 1:
			p.Kind = StepAcknowledge
			p.Title = "Review consequences"
			p.Text = "Read the warning before continuing."
			p.Warning = d.Protocol.WarningText
			p.Options = d.Protocol.Options
		case 2:
			p.Kind = StepType
			p.Title = "Type to confirm"
			p.Text = fmt.Sprintf("Type %q exactly to continue.", d.Protocol.RequiredTypedValue)
			p.RequiredTypedValue = d.Protocol.RequiredTypedValue
		default:
			p.Kind = StepFinal
			p.Title = "Final confirmation"
			p.Text = fmt.Sprintf("Run %s now?", subject)
			p.Options = d.Protocol.FinalOptions
		}
	}
	return p
}
