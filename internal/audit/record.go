// Package audit records every gated decision to append-only sinks.
package audit

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/Dicklesworthstone/opgate/internal/core"
	"github.com/google/uuid"
)

// ErrPersistence wraps any failure to write an audit record. It is
// reported to the caller as a warning and never changes an outcome.
var ErrPersistence = errors.New("audit persistence failed")

// Record is one audit line. The JSON field names are the stable audit
// format consumed by log shippers.
type Record struct {
	ID             string              `json:"id"`
	Timestamp      time.Time           `json:"ts"`
	DecisionID     string              `json:"decisionId"`
	Tool           core.Tool           `json:"tool"`
	Action         string              `json:"action"`
	Target         string              `json:"target,omitempty"`
	BaseTier       core.RiskTier       `json:"baseTier"`
	Sensitivity    core.Sensitivity    `json:"sensitivity"`
	FinalTier      core.RiskTier       `json:"finalTier"`
	Protocol       core.ProtocolKind   `json:"protocol"`
	Pinned         bool                `json:"pinned,omitempty"`
	TouchesPII     bool                `json:"touchesPii,omitempty"`
	Outcome        core.Outcome        `json:"outcome"`
	Note           string              `json:"note,omitempty"`
	// BypassFlagUsed is set whenever the caller took the bypass path,
	// honoured or not. BypassHonoured is set only when it skipped the
	// confirmation.
	BypassFlagUsed bool                `json:"bypassFlagUsed"`
	BypassHonoured bool                `json:"bypassHonoured,omitempty"`
	Actor          string              `json:"actor"`
	SessionID      string              `json:"sessionId,omitempty"`
	Reasons        []string            `json:"reasons,omitempty"`
	Warnings       []string            `json:"warnings,omitempty"`
	Evidence       []core.StepEvidence `json:"evidence,omitempty"`
}

// NewRecord snapshots a decision. Connection-string passwords in the
// target are redacted; the raw payload is never recorded.
func NewRecord(d *core.Decision, actor, sessionID string) (Record, error) {
	if d == nil {
		return Record{}, fmt.Errorf("nil decision")
	}
	return Record{
		ID:             uuid.New().String(),
		Timestamp:      time.Now().UTC(),
		DecisionID:     d.ID,
		Tool:           d.Request.Tool(),
		Action:         d.Request.Action(),
		Target:         d.Request.DisplayTarget(),
		BaseTier:       d.BaseTier,
		Sensitivity:    d.Sensitivity,
		FinalTier:      d.FinalTier,
		Protocol:       d.Protocol.Kind,
		Pinned:         d.Pinned,
		TouchesPII:     d.TouchesPII,
		Outcome:        d.Outcome(),
		Note:           d.Note(),
		BypassFlagUsed: d.BypassRequested(),
		BypassHonoured: d.Bypassed(),
		Actor:          actor,
		SessionID:      sessionID,
		Reasons:        append([]string(nil), d.Reasons...),
		Warnings:       append([]string(nil), d.Warnings...),
		Evidence:       d.Evidence(),
	}, nil
}

// Validate checks the fields every sink requires.
func (r Record) Validate() error {
	switch {
	case r.ID == "":
		return fmt.Errorf("record id is required")
	case r.Timestamp.IsZero():
		return fmt.Errorf("record timestamp is required")
	case !r.Tool.Valid():
		return fmt.Errorf("record tool %q is invalid", r.Tool)
	case r.Action == "":
		return fmt.Errorf("record action is required")
	case !r.Outcome.Final():
		return fmt.Errorf("record outcome %q is not final", r.Outcome)
	}
	return nil
}

// ParseRecord decodes one JSON audit line and validates it.
func ParseRecord(line []byte) (Record, error) {
	var r Record
	if err := json.Unmarshal(line, &r); err != nil {
		return Record{}, fmt.Errorf("decoding record: %w", err)
	}
	if err := r.Validate(); err != nil {
		return Record{}, err
	}
	return r, nil
}
