// CLAUDE:SUMMARY SQLite-backed conversion event log: per-request outcome rows with retention cleanup.
// Package oplog records conversion outcomes in SQLite. Writes are
// best-effort: a failing log store logs via slog and never blocks or
// fails a conversion. The table lives in its own database, separate
// from any application data, to avoid write contention.
package oplog

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
)

// Schema is the DDL for the conversion log. Pass to dbopen.WithSchema
// when opening the database.
const Schema = `
CREATE TABLE IF NOT EXISTS conversion_logs (
    conversion_id TEXT PRIMARY KEY,
    kind TEXT NOT NULL,
    success INTEGER NOT NULL,
    bytes_in INTEGER NOT NULL,
    bytes_out INTEGER NOT NULL,
    images_converted INTEGER NOT NULL DEFAULT 0,
    images_failed INTEGER NOT NULL DEFAULT 0,
    notes_count INTEGER NOT NULL DEFAULT 0,
    attachments_count INTEGER NOT NULL DEFAULT 0,
    duration_ms INTEGER NOT NULL,
    error TEXT,
    created_at INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_conversion_logs_time
    ON conversion_logs(created_at DESC);
CREATE INDEX IF NOT EXISTS idx_conversion_logs_kind_time
    ON conversion_logs(kind, created_at DESC);
`

// Event is one finished conversion.
type Event struct {
	ID              string
	Kind            string // "html" or "html-with-attachments"
	Success         bool
	BytesIn         int
	BytesOut        int
	ImagesConverted int
	ImagesFailed    int
	NotesCount      int
	Attachments     int
	Duration        time.Duration
	Error           string
	CreatedAt       time.Time
}

// Logger writes conversion events.
type Logger struct {
	db  *sql.DB
	log *slog.Logger
}

// New creates a Logger on the given database. The Schema must already
// be applied.
func New(db *sql.DB, log *slog.Logger) *Logger {
	if log == nil {
		log = slog.Default()
	}
	return &Logger{db: db, log: log}
}

// Record persists one event. Errors are logged, never returned; the
// log store must not be able to fail a conversion.
func (l *Logger) Record(ctx context.Context, ev Event) {
	if ev.ID == "" {
		ev.ID = uuid.NewString()
	}
	_, err := l.db.ExecContext(ctx, `
		INSERT INTO conversion_logs (
			conversion_id, kind, success, bytes_in, bytes_out,
			images_converted, images_failed, notes_count,
			attachments_count, duration_ms, error, created_at
		) VALUES (?,?,?,?,?,?,?,?,?,?,?,?)`,
		ev.ID, ev.Kind, ev.Success, ev.BytesIn, ev.BytesOut,
		ev.ImagesConverted, ev.ImagesFailed, ev.NotesCount,
		ev.Attachments, ev.Duration.Milliseconds(), nullable(ev.Error),
		time.Now().Unix())
	if err != nil {
		l.log.Error("oplog: record failed", "error", err, "kind", ev.Kind)
	}
}

// Recent returns up to limit events, newest first. kind filters when
// non-empty.
func (l *Logger) Recent(ctx context.Context, kind string, limit int) ([]Event, error) {
	q := `SELECT conversion_id, kind, success, bytes_in, bytes_out,
		images_converted, images_failed, notes_count, attachments_count,
		duration_ms, error, created_at FROM conversion_logs`
	args := []any{}
	if kind != "" {
		q += " WHERE kind = ?"
		args = append(args, kind)
	}
	q += " ORDER BY created_at DESC"
	if limit > 0 {
		q += " LIMIT ?"
		args = append(args, limit)
	}

	rows, err := l.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("oplog: query: %w", err)
	}
	defer rows.Close()

	var out []Event
	for rows.Next() {
		var ev Event
		var errStr sql.NullString
		var durationMs, createdAt int64
		if err := rows.Scan(&ev.ID, &ev.Kind, &ev.Success, &ev.BytesIn,
			&ev.BytesOut, &ev.ImagesConverted, &ev.ImagesFailed,
			&ev.NotesCount, &ev.Attachments, &durationMs, &errStr,
			&createdAt); err != nil {
			return nil, fmt.Errorf("oplog: scan: %w", err)
		}
		ev.Duration = time.Duration(durationMs) * time.Millisecond
		ev.CreatedAt = time.Unix(createdAt, 0)
		if errStr.Valid {
			ev.Error = errStr.String
		}
		out = append(out, ev)
	}
	return out, rows.Err()
}

// Cleanup deletes events older than retentionDays and returns the
// number removed. Zero or negative retention is a no-op.
func (l *Logger) Cleanup(ctx context.Context, retentionDays int) (int64, error) {
	if retentionDays <= 0 {
		return 0, nil
	}
	cutoff := time.Now().AddDate(0, 0, -retentionDays).Unix()
	res, err := l.db.ExecContext(ctx,
		`DELETE FROM conversion_logs WHERE created_at < ?`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("oplog: cleanup: %w", err)
	}
	return res.RowsAffected()
}

func nullable(s string) any {
	if s == "" {
		return nil
	}
	return s
}
