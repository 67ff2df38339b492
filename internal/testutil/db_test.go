package testutil

import (
	"context"
	"testing"

	"github.com/Dicklesworthstone/opgate/internal/db"
)

func TestMakeAuditRow_Defaults(t *testing.T) {
	database := NewTestDB(t)

	row := MakeAuditRow(t, database)
	if row.ID == "" {
		t.Fatal("expected an assigned ID")
	}

	got, err := database.GetAuditRecord(context.Background(), row.ID)
	RequireNoError(t, err, "GetAuditRecord")
	RequireEqual(t, "git", got.Tool, "tool")
	RequireEqual(t, "approved", got.Outcome, "outcome")
}

func TestMakeAuditRow_OptionsFilter(t *testing.T) {
	database := NewTestDB(t)
	ctx := context.Background()

	MakeAuditRow(t, database)
	MakeAuditRow(t, database, WithRowOutcome("blocked"))
	MakeAuditRow(t, database, WithRowAction("sql", "sql.exec"), WithRowOutcome("cancelled"))

	n, err := database.CountAuditRecords(ctx)
	RequireNoError(t, err, "CountAuditRecords")
	RequireEqual(t, 3, n, "row count")

	blocked, err := database.ListAuditRecords(ctx, db.AuditFilter{Outcome: "blocked"})
	RequireNoError(t, err, "list blocked")
	RequireLen(t, blocked, 1, "blocked rows")

	sqlRows, err := database.ListAuditRecords(ctx, db.AuditFilter{Tool: "sql", Action: "sql.exec"})
	RequireNoError(t, err, "list sql")
	RequireLen(t, sqlRows, 1, "sql rows")
	RequireEqual(t, "cancelled", sqlRows[0].Outcome, "sql outcome")
}
