package cli

import (
	"errors"
	"fmt"
	"os"
	"sort"
	"strings"
	"time"

	"github.com/Dicklesworthstone/opgate/internal/audit"
	"github.com/Dicklesworthstone/opgate/internal/config"
	"github.com/Dicklesworthstone/opgate/internal/core"
	"github.com/Dicklesworthstone/opgate/internal/db"
	"github.com/Dicklesworthstone/opgate/internal/output"
	"github.com/spf13/cobra"
)

var (
	flagAuditLimit   int
	flagAuditTool    string
	flagAuditOutcome string
	flagAuditSince   string
	flagAuditSource  string
)

func init() {
	auditTailCmd.Flags().IntVarP(&flagAuditLimit, "limit", "n", 20, "max records to show")
	auditTailCmd.Flags().StringVar(&flagAuditTool, "tool", "", "filter by tool")
	auditTailCmd.Flags().StringVar(&flagAuditOutcome, "outcome", "", "filter by outcome (approved, cancelled, blocked)")
	auditTailCmd.Flags().StringVar(&flagAuditSince, "since", "", "only show records after this time (RFC3339 or YYYY-MM-DD)")
	auditTailCmd.Flags().StringVar(&flagAuditSource, "source", "auto", "where to read from: auto, db, jsonl")

	auditCmd.AddCommand(auditTailCmd)
	auditCmd.AddCommand(auditVerifyCmd)
	rootCmd.AddCommand(auditCmd)
}

var auditCmd = &cobra.Command{
	Use:   "audit",
	Short: "Read and verify the audit log",
	Long: `Read and verify the append-only audit log.

Every decision that reaches the confirmation stage is recorded once with its
final outcome, to the JSONL file and the SQLite database named in the
[audit] config section.`,
}

type auditView struct {
	Time        string `json:"ts"`
	Tool        string `json:"tool"`
	Action      string `json:"action"`
	Target      string `json:"target,omitempty"`
	FinalTier   string `json:"final_tier"`
	Sensitivity string `json:"sensitivity"`
	Outcome     string `json:"outcome"`
	Actor       string `json:"actor"`
	Bypass      bool   `json:"bypass,omitempty"`
	Honoured    bool   `json:"bypass_honoured,omitempty"`
	DecisionID  string `json:"decision_id"`
}

var auditTailCmd = &cobra.Command{
	Use:   "tail",
	Short: "Show the most recent audit records",
	Long: `Show the most recent audit records, newest first.

Examples:
  opgate audit tail                       # last 20 records
  opgate audit tail -n 100 --tool git     # last 100 git records
  opgate audit tail --outcome blocked
  opgate audit tail --since 2026-10-01 --json`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		filter, err := auditFilterFromFlags()
		if err != nil {
			return err
		}
		cfg, err := loadConfig()
		if err != nil {
			return err
		}

		records, err := tailRecords(cmd, cfg, filter)
		if err != nil {
			return err
		}

		out, err := newWriter(cmd)
		if err != nil {
			return err
		}
		if !out.IsText() {
			if out.Format() == output.FormatJSON {
				for _, r := range records {
					if err := out.WriteNDJSON(r); err != nil {
						return err
					}
				}
				return nil
			}
			if records == nil {
				records = []audit.Record{}
			}
			return out.Write(records)
		}

		if len(records) == 0 {
			fmt.Fprintln(cmd.OutOrStdout(), "No audit records.")
			return nil
		}
		rows := make([][]string, 0, len(records))
		for _, r := range records {
			v := viewOf(r)
			bypass := ""
			switch {
			case v.Honoured:
				bypass = "bypass"
			case v.Bypass:
				bypass = "bypass refused"
			}
			rows = append(rows, []string{v.Time, v.Tool, v.Action, v.Target, v.FinalTier, v.Sensitivity, v.Outcome, v.Actor, bypass})
		}
		return out.Table([]string{"TIME", "TOOL", "ACTION", "TARGET", "TIER", "SENSITIVITY", "OUTCOME", "ACTOR", ""}, rows)
	},
}

func viewOf(r audit.Record) auditView {
	return auditView{
		Time:        r.Timestamp.Local().Format(time.DateTime),
		Tool:        string(r.Tool),
		Action:      r.Action,
		Target:      r.Target,
		FinalTier:   r.FinalTier.String(),
		Sensitivity: r.Sensitivity.String(),
		Outcome:     string(r.Outcome),
		Actor:       r.Actor,
		Bypass:      r.BypassFlagUsed,
		Honoured:    r.BypassHonoured,
		DecisionID:  r.DecisionID,
	}
}

func auditFilterFromFlags() (db.AuditFilter, error) {
	f := db.AuditFilter{Limit: flagAuditLimit}
	if flagAuditTool != "" {
		tool, err := core.ParseTool(flagAuditTool)
		if err != nil {
			return f, err
		}
		f.Tool = string(tool)
	}
	if flagAuditOutcome != "" {
		switch o := core.Outcome(strings.ToLower(flagAuditOutcome)); o {
		case core.OutcomeApproved, core.OutcomeCancelled, core.OutcomeBlocked:
			f.Outcome = string(o)
		default:
			return f, fmt.Errorf("invalid outcome %q (use approved, cancelled or blocked)", flagAuditOutcome)
		}
	}
	if flagAuditSince != "" {
		since, err := parseSince(flagAuditSince)
		if err != nil {
			return f, err
		}
		f.Since = since
	}
	return f, nil
}

func parseSince(s string) (time.Time, error) {
	if t, err := time.Parse(time.RFC3339, s); err == nil {
		return t, nil
	}
	t, err := time.ParseInLocation(time.DateOnly, s, time.Local)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid --since %q: use RFC3339 or YYYY-MM-DD", s)
	}
	return t, nil
}

// tailRecords reads from the database when it exists and the source allows
// it, otherwise from the JSONL file.
func tailRecords(cmd *cobra.Command, cfg config.Config, f db.AuditFilter) ([]audit.Record, error) {
	source := strings.ToLower(flagAuditSource)
	switch source {
	case "auto", "db", "jsonl":
	default:
		return nil, fmt.Errorf("invalid --source %q (use auto, db or jsonl)", flagAuditSource)
	}

	if source == "db" || (source == "auto" && fileExists(cfg.Audit.DatabasePath)) {
		if cfg.Audit.DatabasePath == "" {
			return nil, fmt.Errorf("no audit database configured (audit.database_path)")
		}
		records, err := recordsFromDB(cmd, cfg.Audit.DatabasePath, f)
		if err == nil || source == "db" {
			return records, err
		}
		newLogger(cmd.ErrOrStderr()).Warn("audit database unreadable, falling back to JSONL", "error", err)
	}
	if cfg.Audit.JSONLPath == "" {
		return nil, fmt.Errorf("no audit log configured (audit.jsonl_path)")
	}
	return recordsFromJSONL(cfg.Audit.JSONLPath, f)
}

func recordsFromDB(cmd *cobra.Command, path string, f db.AuditFilter) ([]audit.Record, error) {
	database, err := db.OpenAndMigrate(path)
	if err != nil {
		return nil, fmt.Errorf("opening audit database: %w", err)
	}
	defer database.Close()

	rows, err := database.ListAuditRecords(cmd.Context(), f)
	if err != nil {
		return nil, err
	}
	out := make([]audit.Record, 0, len(rows))
	for _, row := range rows {
		r, err := audit.ParseRecord([]byte(row.RecordJSON))
		if err != nil {
			return nil, fmt.Errorf("record %s: %w", row.ID, err)
		}
		out = append(out, r)
	}
	return out, nil
}

func recordsFromJSONL(path string, f db.AuditFilter) ([]audit.Record, error) {
	all, err := audit.ReadJSONL(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
		return nil, err
	}
	var out []audit.Record
	for _, r := range all {
		if f.Tool != "" && string(r.Tool) != f.Tool {
			continue
		}
		if f.Outcome != "" && string(r.Outcome) != f.Outcome {
			continue
		}
		if !f.Since.IsZero() && r.Timestamp.Before(f.Since) {
			continue
		}
		out = append(out, r)
	}
	// The file is oldest first.
	sort.SliceStable(out, func(i, j int) bool { return out[i].Timestamp.After(out[j].Timestamp) })
	if f.Limit > 0 && len(out) > f.Limit {
		out = out[:f.Limit]
	}
	return out, nil
}

func fileExists(path string) bool {
	if path == "" {
		return false
	}
	_, err := os.Stat(path)
	return err == nil
}

type verifyView struct {
	JSONL     audit.VerifyReport `json:"jsonl"`
	DBPath    string             `json:"database_path,omitempty"`
	DBRecords int                `json:"database_records"`
	DBError   string             `json:"database_error,omitempty"`
	OK        bool               `json:"ok"`
}

var auditVerifyCmd = &cobra.Command{
	Use:   "verify",
	Short: "Check that every audit record is complete",
	Long: `Check that every line of the JSONL audit log parses as a complete record
with a final outcome, and count the records in the audit database.

Exits 1 when a line is malformed or the database cannot be read.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}

		view := verifyView{DBPath: cfg.Audit.DatabasePath}
		if cfg.Audit.JSONLPath != "" {
			view.JSONL, err = audit.VerifyJSONL(cfg.Audit.JSONLPath)
			if err != nil {
				return err
			}
		}
		if fileExists(cfg.Audit.DatabasePath) {
			database, err := db.OpenAndMigrate(cfg.Audit.DatabasePath)
			if err != nil {
				view.DBError = err.Error()
			} else {
				view.DBRecords, err = database.CountAuditRecords(cmd.Context())
				if err != nil {
					view.DBError = err.Error()
				}
				_ = database.Close()
			}
		}
		view.OK = view.JSONL.OK() && view.DBError == ""

		out, err := newWriter(cmd)
		if err != nil {
			return err
		}
		if !out.IsText() {
			if err := out.Write(view); err != nil {
				return err
			}
		} else {
			w := cmd.OutOrStdout()
			fmt.Fprintf(w, "JSONL:    %s (%d records)\n", view.JSONL.Path, view.JSONL.Records)
			for _, bad := range view.JSONL.BadLines {
				fmt.Fprintf(w, "  bad %s\n", bad)
			}
			if view.DBPath != "" {
				fmt.Fprintf(w, "Database: %s (%d records)\n", view.DBPath, view.DBRecords)
			}
			if view.DBError != "" {
				fmt.Fprintf(w, "  error: %s\n", view.DBError)
			}
			if view.OK {
				fmt.Fprintln(w, "Audit log: valid")
			} else {
				fmt.Fprintln(w, "Audit log: INVALID")
			}
		}
		if !view.OK {
			return &ExitError{Code: ExitDenied, Err: fmt.Errorf("audit log verification failed"), Silent: true}
		}
		return nil
	},
}
