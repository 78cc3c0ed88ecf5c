// Package journal keeps a local SQLite log of every mutation attempted from this client.
// The backend stays authoritative; the log only feeds the history view and exports.
package journal

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "github.com/mattn/go-sqlite3" // sqlite3 driver
	"github.com/rs/zerolog"
)

// Entry is one mutation attempt.
type Entry struct {
	ID        int64
	At        time.Time
	Entity    string
	Action    string
	RecordID  int64
	Outcome   string // "ok" or the failure kind
	Message   string
	RequestID string
}

// Columns is the export header for entries.
var Columns = []string{"id", "at", "entity", "action", "record_id", "outcome", "message", "request_id"}

// Row renders e in Columns order.
func (e Entry) Row() []any {
	return []any{e.ID, e.At.Format(time.RFC3339), e.Entity, e.Action, e.RecordID, e.Outcome, e.Message, e.RequestID}
}

type DB struct {
	*sql.DB
	logger zerolog.Logger
}

// Open creates the database file and its table if needed.
func Open(path string, logger zerolog.Logger) (*DB, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("failed to create journal directory: %w", err)
	}

	dsn := path + "?_journal_mode=WAL&_busy_timeout=5000"
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open journal: %w", err)
	}
	db.SetMaxOpenConns(1)

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to connect to journal: %w", err)
	}

	j := &DB{DB: db, logger: logger.With().Str("component", "journal").Logger()}
	if err := j.createTables(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create tables: %w", err)
	}
	j.logger.Debug().Str("path", path).Msg("journal opened")
	return j, nil
}

func (db *DB) createTables() error {
	queries := []string{
		`CREATE TABLE IF NOT EXISTS mutations (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			at DATETIME NOT NULL,
			entity TEXT NOT NULL,
			action TEXT NOT NULL,
			record_id INTEGER NOT NULL DEFAULT 0,
			outcome TEXT NOT NULL,
			message TEXT,
			request_id TEXT
		)`,
		`CREATE INDEX IF NOT EXISTS idx_mutations_entity ON mutations(entity, at)`,
	}
	for _, q := range queries {
		if _, err := db.Exec(q); err != nil {
			return err
		}
	}
	return nil
}

// Record appends e. A zero At is stamped with the current time.
func (db *DB) Record(ctx context.Context, e Entry) error {
	if e.At.IsZero() {
		e.At = time.Now()
	}
	_, err := db.ExecContext(ctx,
		`INSERT INTO mutations (at, entity, action, record_id, outcome, message, request_id)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		e.At.UTC(), e.Entity, e.Action, e.RecordID, e.Outcome, e.Message, e.RequestID)
	if err != nil {
		return fmt.Errorf("record mutation: %w", err)
	}
	return nil
}

// Recent returns up to limit entries, newest first. entity filters when non-empty.
func (db *DB) Recent(ctx context.Context, entity string, limit int) ([]Entry, error) {
	if limit <= 0 {
		limit = 50
	}
	query := `SELECT id, at, entity, action, record_id, outcome, COALESCE(message, ''), COALESCE(request_id, '')
		FROM mutations`
	args := []any{}
	if entity != "" {
		query += ` WHERE entity = ?`
		args = append(args, entity)
	}
	query += ` ORDER BY id DESC LIMIT ?`
	args = append(args, limit)

	rows, err := db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Entry
	for rows.Next() {
		var e Entry
		if err := rows.Scan(&e.ID, &e.At, &e.Entity, &e.Action, &e.RecordID, &e.Outcome, &e.Message, &e.RequestID); err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}
