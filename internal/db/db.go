// Package db provides the SQLite audit store.
package db

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"

	_ "modernc.org/sqlite"
)

// DB wraps a SQLite connection holding the audit trail.
type DB struct {
	*sql.DB
	path string
}

// Open opens (creating if needed) the database at path without migrating.
// ":memory:" opens a private in-memory database.
func Open(path string) (*DB, error) {
	if path == "" {
		return nil, fmt.Errorf("database path is required")
	}
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
			return nil, fmt.Errorf("creating db directory: %w", err)
		}
	}

	conn, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}
	// A single connection keeps ":memory:" databases shared and serialises
	// writers.
	conn.SetMaxOpenConns(1)

	if path != ":memory:" {
		if _, err := conn.Exec("PRAGMA journal_mode = WAL"); err != nil {
			conn.Close()
			return nil, fmt.Errorf("setting WAL mode: %w", err)
		}
	}
	if _, err := conn.Exec("PRAGMA busy_timeout = 5000"); err != nil {
		conn.Close()
		return nil, fmt.Errorf("setting busy timeout: %w", err)
	}

	return &DB{DB: conn, path: path}, nil
}

// OpenAndMigrate opens the database and applies the schema.
func OpenAndMigrate(path string) (*DB, error) {
	database, err := Open(path)
	if err != nil {
		return nil, err
	}
	if err := database.Migrate(); err != nil {
		database.Close()
		return nil, fmt.Errorf("running migrations: %w", err)
	}
	return database, nil
}

// Path returns the path the database was opened with.
func (db *DB) Path() string {
	return db.path
}

const schemaVersion = 2

var migrations = []string{
	`CREATE TABLE IF NOT EXISTS audit_records (
		seq               INTEGER PRIMARY KEY AUTOINCREMENT,
		id                TEXT NOT NULL UNIQUE,
		decision_id       TEXT NOT NULL,
		ts                TEXT NOT NULL,
		tool              TEXT NOT NULL,
		action            TEXT NOT NULL,
		target            TEXT NOT NULL DEFAULT '',
		base_tier         TEXT NOT NULL,
		sensitivity       TEXT NOT NULL,
		final_tier        TEXT NOT NULL,
		protocol          TEXT NOT NULL,
		outcome           TEXT NOT NULL,
		actor             TEXT NOT NULL DEFAULT '',
		session_id        TEXT NOT NULL DEFAULT '',
		bypass_flag_used  INTEGER NOT NULL DEFAULT 0,
		bypass_honoured   INTEGER NOT NULL DEFAULT 0,
		record_json       TEXT NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_audit_records_ts ON audit_records(ts)`,
	`CREATE INDEX IF NOT EXISTS idx_audit_records_tool_action ON audit_records(tool, action)`,
	`CREATE TRIGGER IF NOT EXISTS audit_records_no_update
		BEFORE UPDATE ON audit_records
		BEGIN SELECT RAISE(ABORT, 'audit_records is append-only'); END`,
	`CREATE TRIGGER IF NOT EXISTS audit_records_no_delete
		BEFORE DELETE ON audit_records
		BEGIN SELECT RAISE(ABORT, 'audit_records is append-only'); END`,
	fmt.Sprintf(`PRAGMA user_version = %d`, schemaVersion),
}

// upgrades bring an older schema to the one above, keyed by the
// user_version they start from.
var upgrades = map[int][]string{
	1: {`ALTER TABLE audit_records ADD COLUMN bypass_honoured INTEGER NOT NULL DEFAULT 0`},
}

// Migrate applies the schema. It is safe to run repeatedly.
func (db *DB) Migrate() error {
	var version int
	if err := db.QueryRow(`PRAGMA user_version`).Scan(&version); err != nil {
		return fmt.Errorf("reading schema version: %w", err)
	}
	for v := version; v > 0 && v < schemaVersion; v++ {
		for _, stmt := range upgrades[v] {
			if _, err := db.Exec(stmt); err != nil {
				return fmt.Errorf("upgrading schema from version %d: %w", v, err)
			}
		}
	}
	for _, stmt := range migrations {
		if _, err := db.Exec(stmt); err != nil {
			return fmt.Errorf("applying migration: %w", err)
		}
	}
	return nil
}
