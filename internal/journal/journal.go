// Package journal persists session history in a local SQLite database so
// past guidance runs can be inspected after the fact.
package journal

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"

	"onboard/internal/logging"
)

// Entry is one recorded session event.
type Entry struct {
	ID     int64     `json:"id"`
	At     time.Time `json:"at"`
	Kind   string    `json:"kind"`
	TaskID string    `json:"task_id"`
	Detail string    `json:"detail"`
}

// Journal is an append-mostly event log. Safe for concurrent use; the
// underlying pool is capped at one connection because SQLite serializes
// writers anyway.
type Journal struct {
	db *sql.DB
}

const schema = `
CREATE TABLE IF NOT EXISTS events (
	id      INTEGER PRIMARY KEY AUTOINCREMENT,
	at      TEXT NOT NULL,
	kind    TEXT NOT NULL,
	task_id TEXT NOT NULL DEFAULT '',
	detail  TEXT NOT NULL DEFAULT ''
);
CREATE INDEX IF NOT EXISTS idx_events_task ON events(task_id, id);
`

// Open creates or opens the journal database at path.
func Open(path string) (*Journal, error) {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create journal dir: %w", err)
		}
	}

	db, err := sql.Open("sqlite", path+"?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, fmt.Errorf("open journal: %w", err)
	}
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("init journal schema: %w", err)
	}

	logging.Journal("journal open at %s", path)
	return &Journal{db: db}, nil
}

// Record appends one event.
func (j *Journal) Record(ctx context.Context, kind, taskID, detail string) error {
	_, err := j.db.ExecContext(ctx,
		`INSERT INTO events (at, kind, task_id, detail) VALUES (?, ?, ?, ?)`,
		time.Now().UTC().Format(time.RFC3339Nano), kind, taskID, detail)
	if err != nil {
		return fmt.Errorf("record %s: %w", kind, err)
	}
	return nil
}

// Recent returns the newest events, newest first. A taskID filters to one
// task; empty means all.
func (j *Journal) Recent(ctx context.Context, taskID string, limit int) ([]Entry, error) {
	if limit <= 0 {
		limit = 50
	}
	query := `SELECT id, at, kind, task_id, detail FROM events ORDER BY id DESC LIMIT ?`
	args := []any{limit}
	if taskID != "" {
		query = `SELECT id, at, kind, task_id, detail FROM events WHERE task_id = ? ORDER BY id DESC LIMIT ?`
		args = []any{taskID, limit}
	}

	rows, err := j.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query journal: %w", err)
	}
	defer rows.Close()

	var out []Entry
	for rows.Next() {
		var e Entry
		var at string
		if err := rows.Scan(&e.ID, &at, &e.Kind, &e.TaskID, &e.Detail); err != nil {
			return nil, fmt.Errorf("scan journal row: %w", err)
		}
		if t, err := time.Parse(time.RFC3339Nano, at); err == nil {
			e.At = t
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

// Close releases the database.
func (j *Journal) Close() error {
	return j.db.Close()
}
