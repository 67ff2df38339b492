package testutil

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/Dicklesworthstone/opgate/internal/db"
	"github.com/google/uuid"
)

// NewTestDB returns a temporary, migrated SQLite audit database.
//
// The caller does not need to close it; cleanup is registered on t.Cleanup.
func NewTestDB(t *testing.T) *db.DB {
	t.Helper()
	return NewTestDBAtPath(t, filepath.Join(t.TempDir(), "audit.db"))
}

// NewTestDBAtPath creates a migrated SQLite database at a specific path.
func NewTestDBAtPath(t *testing.T, path string) *db.DB {
	t.Helper()

	if path == "" {
		t.Fatalf("NewTestDBAtPath: path is required")
	}

	database, err := db.OpenAndMigrate(path)
	if err != nil {
		t.Fatalf("opening test db: %v", err)
	}

	t.Cleanup(func() {
		_ = database.Close()
	})

	return database
}

// AuditRowOption customizes a stored audit row.
type AuditRowOption func(*db.AuditRow)

// WithRowOutcome sets the outcome column.
func WithRowOutcome(outcome string) AuditRowOption {
	return func(r *db.AuditRow) { r.Outcome = outcome }
}

// WithRowAction sets tool and action.
func WithRowAction(tool, action string) AuditRowOption {
	return func(r *db.AuditRow) {
		r.Tool = tool
		r.Action = action
	}
}

// MakeAuditRow inserts an audit row with plausible defaults.
func MakeAuditRow(t *testing.T, database *db.DB, opts ...AuditRowOption) *db.AuditRow {
	t.Helper()

	r := &db.AuditRow{
		DecisionID:  uuid.New().String(),
		Timestamp:   time.Now().UTC(),
		Tool:        "git",
		Action:      "push",
		BaseTier:    "write",
		Sensitivity: "production",
		FinalTier:   "write",
		Protocol:    "single_prompt",
		Outcome:     "approved",
		Actor:       "tester",
		RecordJSON:  "{}",
	}
	for _, opt := range opts {
		opt(r)
	}
	RequireNoError(t, database.InsertAuditRecord(context.Background(), r), "insert audit row")
	return r
}
