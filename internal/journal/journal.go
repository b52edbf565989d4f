// Package journal provides a WAL-mode SQLite-backed run-history store. Every
// dispatched change event and the exit code of the command it triggered is
// recorded as one row, so a developer can ask "what ran, when, and did it
// pass" across restarts.
//
// # WAL mode
//
// The database is opened with PRAGMA journal_mode = WAL. The connection pool
// holds a single connection, so the status API's read queries and the
// dispatch goroutine's inserts take turns on it rather than running in
// parallel.
package journal

import (
	"context"
	"database/sql"
	"fmt"
	"sync/atomic"
	"time"

	_ "modernc.org/sqlite" // register "sqlite" driver with database/sql

	"github.com/watchrun/watchrun/internal/watcher"
)

// Journal is a WAL-mode SQLite-backed run-history store. It is safe for
// concurrent use.
type Journal struct {
	db    *sql.DB
	count atomic.Int64
}

// Open opens (or creates) the SQLite database at path, enables WAL journal
// mode, and applies the schema. If path is ":memory:", an in-memory database
// is used; this is suitable for tests but loses all data when closed.
//
// Open seeds the internal row counter from the rows already present, so
// Count() is accurate immediately after a restart.
func Open(path string) (*Journal, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("journal: open %q: %w", path, err)
	}

	// SQLite allows only one writer at a time. Limiting the pool to a single
	// connection avoids "database is locked" errors; every call serialises
	// through this connection.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(`PRAGMA journal_mode = WAL`); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("journal: set WAL mode: %w", err)
	}

	// NORMAL synchronous: durable across application crashes; not OS crashes.
	if _, err := db.Exec(`PRAGMA synchronous = NORMAL`); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("journal: set synchronous = NORMAL: %w", err)
	}

	// Apply the schema (idempotent: CREATE TABLE IF NOT EXISTS).
	if _, err := db.Exec(ddl); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("journal: apply schema: %w", err)
	}

	j := &Journal{db: db}

	var count int64
	if err := db.QueryRow(`SELECT COUNT(*) FROM run_history`).Scan(&count); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("journal: count rows: %w", err)
	}
	j.count.Store(count)

	return j, nil
}

// ddl is the schema DDL, kept here to keep the package self-contained.
const ddl = `
CREATE TABLE IF NOT EXISTS run_history (
    id          INTEGER PRIMARY KEY AUTOINCREMENT,
    ts          TEXT    NOT NULL,
    event_type  TEXT    NOT NULL,
    file_type   TEXT    NOT NULL,
    file_path   TEXT    NOT NULL,
    command     TEXT    NOT NULL,
    exit_code   INTEGER NOT NULL,
    recorded_at TEXT    NOT NULL DEFAULT (strftime('%Y-%m-%dT%H:%M:%fZ', 'now'))
);
CREATE INDEX IF NOT EXISTS idx_run_history_recent
    ON run_history (id DESC);
`

// Entry is one recorded dispatch: the change event, the command line that
// ran, and its exit code.
type Entry struct {
	ID        int64     `json:"id"`
	Timestamp time.Time `json:"timestamp"`
	EventType string    `json:"eventType"`
	FileType  string    `json:"fileType"`
	FilePath  string    `json:"filePath"`
	Command   string    `json:"command"`
	ExitCode  int       `json:"exitCode"`
}

// Record persists one dispatched event together with the command line that
// was executed for it and the command's exit code.
func (j *Journal) Record(ctx context.Context, ev watcher.FileChangeEvent, command string, exitCode int) error {
	_, err := j.db.ExecContext(ctx,
		`INSERT INTO run_history (ts, event_type, file_type, file_path, command, exit_code)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		ev.Timestamp.UTC().Format(time.RFC3339Nano),
		string(ev.EventType),
		string(ev.FileType),
		ev.FilePath,
		command,
		exitCode,
	)
	if err != nil {
		return fmt.Errorf("journal: record: %w", err)
	}

	j.count.Add(1)
	return nil
}

// Recent returns up to n entries, newest first. If n ≤ 0, Recent returns nil
// without querying the database.
func (j *Journal) Recent(ctx context.Context, n int) ([]Entry, error) {
	if n <= 0 {
		return nil, nil
	}

	rows, err := j.db.QueryContext(ctx,
		`SELECT id, ts, event_type, file_type, file_path, command, exit_code
		 FROM   run_history
		 ORDER  BY id DESC
		 LIMIT  ?`, n)
	if err != nil {
		return nil, fmt.Errorf("journal: recent query: %w", err)
	}
	defer rows.Close()

	var entries []Entry
	for rows.Next() {
		var (
			e     Entry
			tsStr string
		)
		if err := rows.Scan(&e.ID, &tsStr, &e.EventType, &e.FileType, &e.FilePath, &e.Command, &e.ExitCode); err != nil {
			return nil, fmt.Errorf("journal: recent scan: %w", err)
		}

		// Parse the stored RFC3339Nano timestamp; fall back to RFC3339.
		e.Timestamp, err = time.Parse(time.RFC3339Nano, tsStr)
		if err != nil {
			e.Timestamp, _ = time.Parse(time.RFC3339, tsStr)
		}

		entries = append(entries, e)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("journal: recent rows: %w", err)
	}
	return entries, nil
}

// Count returns the number of recorded entries. It reads from an atomic
// counter updated by Record, so it never blocks on the database.
func (j *Journal) Count() int {
	return int(j.count.Load())
}

// Close closes the underlying database connection. Callers must not use the
// journal after Close returns.
func (j *Journal) Close() error {
	return j.db.Close()
}
