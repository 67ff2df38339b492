package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// ErrAuditRecordNotFound is returned when an audit record is not found.
var ErrAuditRecordNotFound = errors.New("audit record not found")

// ErrAuditRecordExists is returned when appending a record whose ID is
// already stored.
var ErrAuditRecordExists = errors.New("audit record already exists")

// AuditRow is one stored audit record. RecordJSON carries the full
// snapshot; the other columns are indexed copies for querying.
type AuditRow struct {
	ID             string
	DecisionID     string
	Timestamp      time.Time
	Tool           string
	Action         string
	Target         string
	BaseTier       string
	Sensitivity    string
	FinalTier      string
	Protocol       string
	Outcome        string
	Actor          string
	SessionID      string
	BypassFlagUsed bool
	BypassHonoured bool
	RecordJSON     string
}

// AuditFilter narrows ListAuditRecords.
type AuditFilter struct {
	Tool    string
	Action  string
	Outcome string
	Since   time.Time
	// Limit caps the number of rows; 0 means no limit.
	Limit int
}

// InsertAuditRecord appends a record. Rows can never be updated or deleted
// afterwards; the schema's triggers reject both.
func (db *DB) InsertAuditRecord(ctx context.Context, r *AuditRow) error {
	if r.DecisionID == "" {
		return fmt.Errorf("decision_id is required")
	}
	if r.Tool == "" || r.Action == "" {
		return fmt.Errorf("tool and action are required")
	}
	if r.ID == "" {
		r.ID = uuid.New().String()
	}
	if r.Timestamp.IsZero() {
		r.Timestamp = time.Now().UTC()
	}

	_, err := db.ExecContext(ctx, `
		INSERT INTO audit_records (
			id, decision_id, ts, tool, action, target, base_tier, sensitivity,
			final_tier, protocol, outcome, actor, session_id,
			bypass_flag_used, bypass_honoured, record_json
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, r.ID, r.DecisionID, r.Timestamp.UTC().Format(time.RFC3339Nano), r.Tool, r.Action, r.Target,
		r.BaseTier, r.Sensitivity, r.FinalTier, r.Protocol, r.Outcome, r.Actor, r.SessionID,
		boolToInt(r.BypassFlagUsed), boolToInt(r.BypassHonoured), r.RecordJSON)
	if err != nil {
		if isUniqueConstraintError(err) {
			return ErrAuditRecordExists
		}
		return fmt.Errorf("inserting audit record: %w", err)
	}
	return nil
}

const auditColumns = `id, decision_id, ts, tool, action, target, base_tier, sensitivity,
	final_tier, protocol, outcome, actor, session_id, bypass_flag_used, bypass_honoured, record_json`

// GetAuditRecord retrieves a record by ID.
func (db *DB) GetAuditRecord(ctx context.Context, id string) (*AuditRow, error) {
	row := db.QueryRowContext(ctx, `SELECT `+auditColumns+` FROM audit_records WHERE id = ?`, id)
	r, err := scanAuditRow(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrAuditRecordNotFound
		}
		return nil, err
	}
	return r, nil
}

// ListAuditRecords returns records newest first.
func (db *DB) ListAuditRecords(ctx context.Context, f AuditFilter) ([]*AuditRow, error) {
	var (
		where []string
		args  []any
	)
	if f.Tool != "" {
		where = append(where, "tool = ?")
		args = append(args, f.Tool)
	}
	if f.Action != "" {
		where = append(where, "action = ?")
		args = append(args, f.Action)
	}
	if f.Outcome != "" {
		where = append(where, "outcome = ?")
		args = append(args, f.Outcome)
	}
	if !f.Since.IsZero() {
		where = append(where, "ts >= ?")
		args = append(args, f.Since.UTC().Format(time.RFC3339Nano))
	}

	q := `SELECT ` + auditColumns + ` FROM audit_records`
	if len(where) > 0 {
		q += " WHERE " + strings.Join(where, " AND ")
	}
	q += " ORDER BY seq DESC"
	if f.Limit > 0 {
		q += fmt.Sprintf(" LIMIT %d", f.Limit)
	}

	rows, err := db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("querying audit records: %w", err)
	}
	defer rows.Close()

	var out []*AuditRow
	for rows.Next() {
		r, err := scanAuditRow(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating audit records: %w", err)
	}
	return out, nil
}

// CountAuditRecords returns the number of stored records.
func (db *DB) CountAuditRecords(ctx context.Context) (int, error) {
	var n int
	if err := db.QueryRowContext(ctx, `SELECT COUNT(*) FROM audit_records`).Scan(&n); err != nil {
		return 0, fmt.Errorf("counting audit records: %w", err)
	}
	return n, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanAuditRow(s rowScanner) (*AuditRow, error) {
	r := &AuditRow{}
	var ts string
	var bypassUsed, bypassHonoured int
	err := s.Scan(&r.ID, &r.DecisionID, &ts, &r.Tool, &r.Action, &r.Target, &r.BaseTier, &r.Sensitivity,
		&r.FinalTier, &r.Protocol, &r.Outcome, &r.Actor, &r.SessionID, &bypassUsed, &bypassHonoured, &r.RecordJSON)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("scanning audit record: %w", err)
	}
	r.Timestamp, err = time.Parse(time.RFC3339Nano, ts)
	if err != nil {
		return nil, fmt.Errorf("parsing ts: %w", err)
	}
	r.BypassFlagUsed = bypassUsed != 0
	r.BypassHonoured = bypassHonoured != 0
	return r, nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

// isUniqueConstraintError checks if the error is a unique constraint violation.
func isUniqueConstraintError(err error) bool {
	if err == nil {
		return false
	}
	// modernc.org/sqlite reports constraint failures in the message text.
	return strings.Contains(strings.ToLower(err.Error()), "unique constraint failed")
}
