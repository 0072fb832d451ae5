// Package journal keeps a SQLite history of per-event processing outcomes.
// Unlike the ledger, it is observability data: losing it never causes a
// re-download, it only empties the history views.
package journal

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"
)

// Event processing outcomes.
const (
	StatusCompleted   = "completed"
	StatusMergeFailed = "merge_failed"
	StatusFailed      = "failed"
)

// Entry is one processed-event record.
type Entry struct {
	ID         int64
	Doorbell   string
	FileID     string
	EventType  string
	EventTime  int64 // epoch milliseconds
	Status     string
	OutputPath string
	Detail     string
	Duration   time.Duration
	CreatedAt  time.Time
}

// Stats aggregates journal rows by status.
type Stats struct {
	Completed   int `json:"completed"`
	MergeFailed int `json:"merge_failed"`
	Failed      int `json:"failed"`
}

// Journal manages history persistence backed by SQLite.
type Journal struct {
	db   *sql.DB
	path string
}

const schema = `
CREATE TABLE IF NOT EXISTS processed_events (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    doorbell TEXT NOT NULL,
    file_id TEXT NOT NULL,
    event_type TEXT NOT NULL,
    event_time INTEGER NOT NULL,
    status TEXT NOT NULL,
    output_path TEXT NOT NULL DEFAULT '',
    detail TEXT NOT NULL DEFAULT '',
    duration_ms INTEGER NOT NULL DEFAULT 0,
    created_at TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_processed_events_doorbell
    ON processed_events (doorbell, created_at);
`

// Open initializes or connects to the journal database.
func Open(path string) (*Journal, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create journal directory: %w", err)
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite db: %w", err)
	}

	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout = 5000",
	}
	for _, pragma := range pragmas {
		if _, execErr := db.Exec(pragma); execErr != nil {
			_ = db.Close()
			return nil, fmt.Errorf("apply pragma %q: %w", pragma, execErr)
		}
	}

	if _, err := db.Exec(schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("apply schema: %w", err)
	}

	return &Journal{db: db, path: path}, nil
}

// Close closes the underlying database connection.
func (j *Journal) Close() error {
	if j == nil || j.db == nil {
		return nil
	}
	return j.db.Close()
}

// Record appends one processed-event row.
func (j *Journal) Record(ctx context.Context, entry Entry) error {
	createdAt := entry.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now().UTC()
	}

	_, err := j.db.ExecContext(
		ctx,
		`INSERT INTO processed_events (
            doorbell, file_id, event_type, event_time,
            status, output_path, detail, duration_ms, created_at
        ) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		entry.Doorbell,
		entry.FileID,
		entry.EventType,
		entry.EventTime,
		entry.Status,
		entry.OutputPath,
		entry.Detail,
		entry.Duration.Milliseconds(),
		createdAt.Format(time.RFC3339Nano),
	)
	if err != nil {
		return fmt.Errorf("insert journal entry: %w", err)
	}
	return nil
}

// Recent returns the newest entries, most recent first.
func (j *Journal) Recent(ctx context.Context, limit int) ([]Entry, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := j.db.QueryContext(
		ctx,
		`SELECT id, doorbell, file_id, event_type, event_time,
                status, output_path, detail, duration_ms, created_at
         FROM processed_events
         ORDER BY id DESC
         LIMIT ?`,
		limit,
	)
	if err != nil {
		return nil, fmt.Errorf("query journal: %w", err)
	}
	defer rows.Close()

	var entries []Entry
	for rows.Next() {
		var entry Entry
		var durationMS int64
		var createdAt string
		if err := rows.Scan(
			&entry.ID,
			&entry.Doorbell,
			&entry.FileID,
			&entry.EventType,
			&entry.EventTime,
			&entry.Status,
			&entry.OutputPath,
			&entry.Detail,
			&durationMS,
			&createdAt,
		); err != nil {
			return nil, fmt.Errorf("scan journal row: %w", err)
		}
		entry.Duration = time.Duration(durationMS) * time.Millisecond
		if parsed, err := time.Parse(time.RFC3339Nano, createdAt); err == nil {
			entry.CreatedAt = parsed
		}
		entries = append(entries, entry)
	}
	return entries, rows.Err()
}

// Stats aggregates row counts by status.
func (j *Journal) Stats(ctx context.Context) (Stats, error) {
	rows, err := j.db.QueryContext(
		ctx,
		`SELECT status, COUNT(*) FROM processed_events GROUP BY status`,
	)
	if err != nil {
		return Stats{}, fmt.Errorf("query journal stats: %w", err)
	}
	defer rows.Close()

	var stats Stats
	for rows.Next() {
		var status string
		var count int
		if err := rows.Scan(&status, &count); err != nil {
			return Stats{}, fmt.Errorf("scan stats row: %w", err)
		}
		switch status {
		case StatusCompleted:
			stats.Completed = count
		case StatusMergeFailed:
			stats.MergeFailed = count
		case StatusFailed:
			stats.Failed = count
		}
	}
	return stats, rows.Err()
}

// Path returns the database file location.
func (j *Journal) Path() string {
	return j.path
}
