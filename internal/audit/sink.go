package audit

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"

	"github.com/Dicklesworthstone/opgate/internal/db"
)

// Sink persists audit records. Implementations must be append-only.
type Sink interface {
	Append(ctx context.Context, r Record) error
}

// JSONLSink appends one JSON object per line to a file.
type JSONLSink struct {
	mu   sync.Mutex
	path string
}

// NewJSONLSink returns a sink writing to path. The file and its directory
// are created on first append.
func NewJSONLSink(path string) *JSONLSink {
	return &JSONLSink{path: path}
}

// Path returns the file path.
func (s *JSONLSink) Path() string { return s.path }

// Append writes r as a single line. The whole line is written with one
// write call on an O_APPEND descriptor.
func (s *JSONLSink) Append(ctx context.Context, r Record) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := r.Validate(); err != nil {
		return err
	}
	line, err := json.Marshal(r)
	if err != nil {
		return fmt.Errorf("encoding record: %w", err)
	}
	line = append(line, '\n')

	s.mu.Lock()
	defer s.mu.Unlock()

	if err := os.MkdirAll(filepath.Dir(s.path), 0700); err != nil {
		return fmt.Errorf("creating audit directory: %w", err)
	}
	f, err := os.OpenFile(s.path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0600)
	if err != nil {
		return fmt.Errorf("opening audit log: %w", err)
	}
	if _, err := f.Write(line); err != nil {
		f.Close()
		return fmt.Errorf("writing audit log: %w", err)
	}
	if err := f.Sync(); err != nil {
		f.Close()
		return fmt.Errorf("syncing audit log: %w", err)
	}
	return f.Close()
}

// LineError describes a line of an audit log that failed to parse.
type LineError struct {
	Line int
	Err  error
}

func (e LineError) Error() string {
	return fmt.Sprintf("line %d: %v", e.Line, e.Err)
}

// VerifyReport summarises an audit log integrity check.
type VerifyReport struct {
	Path    string      `json:"path"`
	Records int         `json:"records"`
	Bad     []LineError `json:"-"`
	// BadLines mirrors Bad for encoding.
	BadLines []string `json:"bad_lines,omitempty"`
}

// OK reports whether every line parsed.
func (v VerifyReport) OK() bool { return len(v.Bad) == 0 }

// ReadJSONL reads every record in the file at path, newest last. It stops
// at the first malformed line.
func ReadJSONL(path string) ([]Record, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("opening audit log: %w", err)
	}
	defer f.Close()

	var out []Record
	err = scanLines(f, func(n int, line []byte) error {
		r, err := ParseRecord(line)
		if err != nil {
			return LineError{Line: n, Err: err}
		}
		out = append(out, r)
		return nil
	})
	return out, err
}

// VerifyJSONL checks that every non-empty line of the file parses as a
// complete record.
func VerifyJSONL(path string) (VerifyReport, error) {
	report := VerifyReport{Path: path}
	f, err := os.Open(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return report, nil
		}
		return report, fmt.Errorf("opening audit log: %w", err)
	}
	defer f.Close()

	err = scanLines(f, func(n int, line []byte) error {
		if _, err := ParseRecord(line); err != nil {
			le := LineError{Line: n, Err: err}
			report.Bad = append(report.Bad, le)
			report.BadLines = append(report.BadLines, le.Error())
			return nil
		}
		report.Records++
		return nil
	})
	return report, err
}

func scanLines(r io.Reader, fn func(n int, line []byte) error) error {
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 64*1024), 4*1024*1024)
	n := 0
	for sc.Scan() {
		n++
		line := bytes.TrimSpace(sc.Bytes())
		if len(line) == 0 {
			continue
		}
		if err := fn(n, line); err != nil {
			return err
		}
	}
	if err := sc.Err(); err != nil {
		return fmt.Errorf("reading audit log: %w", err)
	}
	return nil
}

// SQLiteSink appends records to the audit_records table.
type SQLiteSink struct {
	db *db.DB
}

// NewSQLiteSink wraps an opened, migrated database.
func NewSQLiteSink(database *db.DB) *SQLiteSink {
	return &SQLiteSink{db: database}
}

// Append inserts r.
func (s *SQLiteSink) Append(ctx context.Context, r Record) error {
	if err := r.Validate(); err != nil {
		return err
	}
	raw, err := json.Marshal(r)
	if err != nil {
		return fmt.Errorf("encoding record: %w", err)
	}
	return s.db.InsertAuditRecord(ctx, &db.AuditRow{
		ID:             r.ID,
		DecisionID:     r.DecisionID,
		Timestamp:      r.Timestamp,
		Tool:           string(r.Tool),
		Action:         r.Action,
		Target:         r.Target,
		BaseTier:       r.BaseTier.String(),
		Sensitivity:    r.Sensitivity.String(),
		FinalTier:      r.FinalTier.String(),
		Protocol:       string(r.Protocol),
		Outcome:        string(r.Outcome),
		Actor:          r.Actor,
		SessionID:      r.SessionID,
		BypassFlagUsed: r.BypassFlagUsed,
		BypassHonoured: r.BypassHonoured,
		RecordJSON:     string(raw),
	})
}

// Recent returns up to limit records, newest first.
func (s *SQLiteSink) Recent(ctx context.Context, limit int) ([]Record, error) {
	rows, err := s.db.ListAuditRecords(ctx, db.AuditFilter{Limit: limit})
	if err != nil {
		return nil, err
	}
	out := make([]Record, 0, len(rows))
	for _, row := range rows {
		r, err := ParseRecord([]byte(row.RecordJSON))
		if err != nil {
			return nil, fmt.Errorf("record %s: %w", row.ID, err)
		}
		out = append(out, r)
	}
	return out, nil
}

// MultiSink appends to every sink, attempting all of them even when one
// fails.
type MultiSink []Sink

// Append writes r to each sink and joins the errors.
func (m MultiSink) Append(ctx context.Context, r Record) error {
	var errs []error
	for _, s := range m {
		if s == nil {
			continue
		}
		if err := s.Append(ctx, r); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// MemorySink keeps records in memory.
type MemorySink struct {
	mu      sync.Mutex
	records []Record
	// Err, when set, is returned by every Append.
	Err error
}

// Append stores r.
func (m *MemorySink) Append(ctx context.Context, r Record) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.Err != nil {
		return m.Err
	}
	m.records = append(m.records, r)
	return nil
}

// Records returns a copy of everything appended so far.
func (m *MemorySink) Records() []Record {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]Record(nil), m.records...)
}
