package core

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// StepKind identifies what a confirmation step asks of the human.
type StepKind string

const (
	StepChoose      StepKind = "choose"
	StepAcknowledge StepKind = "acknowledge"
	StepType        StepKind = "type"
	StepFinal       StepKind = "final"
)

// StepEvidence records the answer given at one protocol step.
type StepEvidence struct {
	Step     int       `json:"step"`
	Kind     StepKind  `json:"kind"`
	Selected string    `json:"selected,omitempty"`
	Typed    string    `json:"typed,omitempty"`
	Passed   bool      `json:"passed"`
	At       time.Time `json:"at"`
}

// Decision is the gate's verdict for one request. Everything except the
// outcome and step evidence is fixed when the policy creates it; those two
// are only changed by the orchestrator.
type Decision struct {
	ID                  string
	CreatedAt           time.Time
	Request             OperationRequest
	BaseTier            RiskTier
	Reasons             []string
	Warnings            []string
	TouchesPII          bool
	Sensitivity         Sensitivity
	SensitivityEvidence string
	FinalTier           RiskTier
	Protocol            Protocol
	Pinned              bool
	PinReason           string

	outcome         Outcome
	evidence        []StepEvidence
	bypassRequested bool
	bypassed        bool
	note            string

	// What the policy settled on; the orchestrator never runs below it.
	minTier     RiskTier
	minProtocol ProtocolKind
	pinReasons  []string
}

func newDecision(req OperationRequest, cls Classification, sens Sensitivity) *Decision {
	return &Decision{
		ID:          uuid.New().String(),
		CreatedAt:   time.Now().UTC(),
		Request:     req,
		BaseTier:    cls.Tier,
		Reasons:     append([]string(nil), cls.Reasons...),
		Warnings:    append([]string(nil), cls.Warnings...),
		TouchesPII:  cls.TouchesPII,
		Sensitivity: sens,
		FinalTier:   cls.Tier,
		Protocol:    newProtocol(ProtocolNone),
		outcome:     OutcomePending,
	}
}

// Outcome returns the current outcome.
func (d *Decision) Outcome() Outcome { return d.outcome }

// Evidence returns a copy of the recorded step evidence.
func (d *Decision) Evidence() []StepEvidence {
	return append([]StepEvidence(nil), d.evidence...)
}

// Bypassed reports whether the decision was approved through a bypass.
func (d *Decision) Bypassed() bool { return d.bypassed }

// BypassRequested reports whether the caller asked to skip confirmation,
// whether or not the request was honoured.
func (d *Decision) BypassRequested() bool { return d.bypassRequested }

// Note is the short reason attached to the terminal transition.
func (d *Decision) Note() string { return d.note }

func (d *Decision) checkPending() error {
	if d.outcome != OutcomePending {
		return fmt.Errorf("%w: %s is %s", ErrDecisionFinalized, d.ID, d.outcome)
	}
	return nil
}

// recordStep appends evidence for the next step. Steps must arrive in
// order and only while the decision is pending.
func (d *Decision) recordStep(ev StepEvidence) error {
	if err := d.checkPending(); err != nil {
		return err
	}
	if want := len(d.evidence) + 1; ev.Step != want {
		return fmt.Errorf("step %d recorded out of order (expected %d)", ev.Step, want)
	}
	if ev.Step > d.Protocol.Steps() {
		return fmt.Errorf("step %d exceeds protocol %s", ev.Step, d.Protocol.Kind)
	}
	if n := len(d.evidence); n > 0 && !d.evidence[n-1].Passed {
		return fmt.Errorf("step %d follows a failed step", ev.Step)
	}
	if ev.At.IsZero() {
		ev.At = time.Now().UTC()
	}
	d.evidence = append(d.evidence, ev)
	return nil
}

// approve moves to Approved. It refuses unless every protocol step has a
// passing record, in order.
func (d *Decision) approve() error {
	if err := d.checkPending(); err != nil {
		return err
	}
	steps := d.Protocol.Steps()
	if len(d.evidence) != steps {
		return fmt.Errorf("cannot approve %s: %d of %d steps confirmed", d.ID, len(d.evidence), steps)
	}
	for i, ev := range d.evidence {
		if ev.Step != i+1 || !ev.Passed {
			return fmt.Errorf("cannot approve %s: step %d not confirmed", d.ID, i+1)
		}
	}
	d.outcome = OutcomeApproved
	d.note = "confirmed"
	if steps == 0 {
		d.note = "no confirmation required"
	}
	return nil
}

// approveBypass moves to Approved without prompting. Only write and
// destructive decisions that are not pinned qualify.
func (d *Decision) approveBypass() error {
	if err := d.checkPending(); err != nil {
		return err
	}
	if !d.Bypassable() {
		return fmt.Errorf("decision %s (%s, pinned=%t) cannot be bypassed", d.ID, d.FinalTier, d.Pinned)
	}
	d.outcome = OutcomeApproved
	d.bypassed = true
	d.note = "approved by bypass credential"
	return nil
}

// Bypassable reports whether a bypass credential may approve the decision.
func (d *Decision) Bypassable() bool {
	return !d.Pinned && (d.FinalTier == TierWrite || d.FinalTier == TierDestructive)
}

func (d *Decision) cancel(reason string) error {
	if err := d.checkPending(); err != nil {
		return err
	}
	d.outcome = OutcomeCancelled
	d.note = reason
	return nil
}

func (d *Decision) block(reason string) error {
	if err := d.checkPending(); err != nil {
		return err
	}
	d.outcome = OutcomeBlocked
	d.note = reason
	return nil
}

// Explain renders why the decision ended the way it did, including the
// classifier reasons and the target sensitivity.
func (d *Decision) Explain() string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s: %s", d.outcome, d.Request.Action())
	if d.note != "" {
		fmt.Fprintf(&b, " (%s)", d.note)
	}
	fmt.Fprintf(&b, "\nrisk: %s -> %s", d.BaseTier, d.FinalTier)
	if d.Pinned {
		fmt.Fprintf(&b, ", pinned to multi-step: %s", d.PinReason)
	}
	fmt.Fprintf(&b, "\ntarget: %s is %s", displayOrDefault(d.Request.DisplayTarget()), d.Sensitivity)
	if d.SensitivityEvidence != "" {
		fmt.Fprintf(&b, " (%s)", d.SensitivityEvidence)
	}
	if len(d.Reasons) > 0 {
		b.WriteString("\nreasons:")
		for _, r := range d.Reasons {
			fmt.Fprintf(&b, "\n  - %s", r)
		}
	}
	if len(d.Warnings) > 0 {
		b.WriteString("\nwarnings:")
		for _, w := range d.Warnings {
			fmt.Fprintf(&b, "\n  - %s", w)
		}
	}
	return b.String()
}

func displayOrDefault(target string) string {
	if target == "" {
		return "(default target)"
	}
	return target
}

type decisionJSON struct {
	ID                  string           `json:"id"`
	CreatedAt           time.Time        `json:"created_at"`
	Request             OperationRequest `json:"request"`
	BaseTier            RiskTier         `json:"base_tier"`
	Reasons             []string         `json:"reasons"`
	Warnings            []string         `json:"warnings,omitempty"`
	TouchesPII          bool             `json:"touches_pii,omitempty"`
	Sensitivity         Sensitivity      `json:"sensitivity"`
	SensitivityEvidence string           `json:"sensitivity_evidence,omitempty"`
	FinalTier           RiskTier         `json:"final_tier"`
	Protocol            Protocol         `json:"protocol"`
	Pinned              bool             `json:"pinned,omitempty"`
	PinReason           string           `json:"pin_reason,omitempty"`
	Outcome             Outcome          `json:"outcome"`
	Evidence            []StepEvidence   `json:"evidence,omitempty"`
	BypassRequested     bool             `json:"bypass_requested,omitempty"`
	Bypassed            bool             `json:"bypassed,omitempty"`
	Note                string           `json:"note,omitempty"`
}

// MarshalJSON encodes the decision including its outcome and evidence.
func (d *Decision) MarshalJSON() ([]byte, error) {
	return json.Marshal(decisionJSON{
		ID:                  d.ID,
		CreatedAt:           d.CreatedAt,
		Request:             d.Request,
		BaseTier:            d.BaseTier,
		Reasons:             d.Reasons,
		Warnings:            d.Warnings,
		TouchesPII:          d.TouchesPII,
		Sensitivity:         d.Sensitivity,
		SensitivityEvidence: d.SensitivityEvidence,
		FinalTier:           d.FinalTier,
		Protocol:            d.Protocol,
		Pinned:              d.Pinned,
		PinReason:           d.PinReason,
		Outcome:             d.outcome,
		Evidence:            d.evidence,
		BypassRequested:     d.bypassRequested,
		Bypassed:            d.bypassed,
		Note:                d.note,
	})
}
