package audit

import (
	"context"
	"fmt"

	"github.com/Dicklesworthstone/opgate/internal/core"
	"github.com/charmbracelet/log"
)

// Recorder turns finished decisions into records and appends them to a
// sink. It satisfies core.AuditRecorder.
type Recorder struct {
	sink      Sink
	sessionID string
	logger    *log.Logger
}

var _ core.AuditRecorder = (*Recorder)(nil)

// RecorderOption configures a Recorder.
type RecorderOption func(*Recorder)

// WithSessionID stamps every record with the given session.
func WithSessionID(id string) RecorderOption {
	return func(r *Recorder) { r.sessionID = id }
}

// WithLogger sets the logger used for persistence warnings.
func WithLogger(logger *log.Logger) RecorderOption {
	return func(r *Recorder) {
		if logger != nil {
			r.logger = logger
		}
	}
}

// NewRecorder returns a recorder writing to sink.
func NewRecorder(sink Sink, opts ...RecorderOption) *Recorder {
	r := &Recorder{sink: sink, logger: log.Default()}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Record appends one record for d. Failures wrap ErrPersistence and are
// logged; the decision itself is never touched.
func (r *Recorder) Record(ctx context.Context, d *core.Decision, actor string) error {
	if r.sink == nil {
		return fmt.Errorf("%w: no sink configured", ErrPersistence)
	}
	rec, err := NewRecord(d, actor, r.sessionID)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrPersistence, err)
	}
	if err := r.sink.Append(ctx, rec); err != nil {
		r.logger.Warn("audit record not persisted",
			"decision_id", rec.DecisionID,
			"action", rec.Action,
			"outcome", rec.Outcome,
			"error", err,
		)
		return fmt.Errorf("%w: %w", ErrPersistence, err)
	}
	r.logger.Debug("audit record written",
		"id", rec.ID,
		"decision_id", rec.DecisionID,
		"outcome", rec.Outcome,
		"bypass", rec.BypassFlagUsed,
		"bypass_honoured", rec.BypassHonoured,
	)
	return nil
}
