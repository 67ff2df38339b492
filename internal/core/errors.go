package core

import (
	"errors"
	"fmt"
)

var (
	// ErrMalformedRequest is returned for requests rejected before classification.
	ErrMalformedRequest = errors.New("malformed request")

	// ErrSelectStar rejects SQL reads that select every column.
	ErrSelectStar = errors.New("SELECT * is not allowed; name the columns you need")

	// ErrProbeFailure marks a probe that could not identify its target.
	// The resolver converts it to SensitivityUnknown; it never reaches callers.
	ErrProbeFailure = errors.New("environment probe failed")

	// ErrUITimeout is returned by a UI when the human did not answer in time.
	ErrUITimeout = errors.New("confirmation timed out")

	// ErrPolicyGap indicates an escalation table that is incomplete or not monotonic.
	ErrPolicyGap = errors.New("policy table gap")

	// ErrDecisionFinalized is returned when a decision is run through the
	// orchestrator a second time.
	ErrDecisionFinalized = errors.New("decision already finalized")
)

// ClassifyError reports a request the classifier refused to tier.
type ClassifyError struct {
	Tool      Tool
	Statement string
	Err       error
}

func (e *ClassifyError) Error() string {
	if e.Statement == "" {
		return fmt.Sprintf("%s: %v", e.Tool, e.Err)
	}
	return fmt.Sprintf("%s: %v (statement: %s)", e.Tool, e.Err, e.Statement)
}

func (e *ClassifyError) Unwrap() error {
	return e.Err
}
