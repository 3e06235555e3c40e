package server

import (
	"context"
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"
)

var journalSchema = []string{`
CREATE TABLE IF NOT EXISTS runs (
	id            TEXT PRIMARY KEY,
	started_at    TEXT NOT NULL,
	duration_ms   INTEGER NOT NULL,
	status        TEXT NOT NULL,
	source_sha256 TEXT NOT NULL,
	output        TEXT NOT NULL,
	error         TEXT NOT NULL DEFAULT ''
)`,
	`CREATE INDEX IF NOT EXISTS runs_started_at ON runs (started_at)`,
}

// journalTime sorts lexically in time order.
const journalTime = "2006-01-02T15:04:05.000000000Z07:00"

// JournalEntry is one recorded run.
type JournalEntry struct {
	ID           string
	StartedAt    time.Time
	Duration     time.Duration
	Status       RunStatus
	SourceSHA256 string
	Output       string
	Error        string
}

// Journal records every run in a SQLite database.
type Journal struct {
	db *sql.DB
}

// OpenJournal opens or creates the journal at path.
func OpenJournal(path string) (*Journal, error) {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("journal: create %s: %w", dir, err)
		}
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("journal: open %s: %w", path, err)
	}
	db.SetMaxOpenConns(1)

	// Set busy timeout for concurrent access from other processes
	if _, err := db.Exec("PRAGMA busy_timeout = 5000"); err != nil {
		db.Close()
		return nil, fmt.Errorf("journal: set busy timeout: %w", err)
	}
	for _, stmt := range journalSchema {
		if _, err := db.Exec(stmt); err != nil {
			db.Close()
			return nil, fmt.Errorf("journal: init schema: %w", err)
		}
	}
	return &Journal{db: db}, nil
}

// Record stores res, keyed by its ID.
func (j *Journal) Record(ctx context.Context, source string, res *RunResult) error {
	sum := sha256.Sum256([]byte(source))
	_, err := j.db.ExecContext(ctx,
		`INSERT INTO runs (id, started_at, duration_ms, status, source_sha256, output, error)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		res.ID,
		res.StartedAt.UTC().Format(journalTime),
		res.Duration.Milliseconds(),
		string(res.Status),
		hex.EncodeToString(sum[:]),
		res.Output,
		res.Error,
	)
	if err != nil {
		return fmt.Errorf("journal: record %s: %w", res.ID, err)
	}
	return nil
}

// Recent returns up to n entries, newest first.
func (j *Journal) Recent(ctx context.Context, n int) ([]JournalEntry, error) {
	rows, err := j.db.QueryContext(ctx,
		`SELECT id, started_at, duration_ms, status, source_sha256, output, error
		 FROM runs ORDER BY started_at DESC, rowid DESC LIMIT ?`, n)
	if err != nil {
		return nil, fmt.Errorf("journal: query: %w", err)
	}
	defer rows.Close()

	var entries []JournalEntry
	for rows.Next() {
		var (
			e       JournalEntry
			started string
			ms      int64
			status  string
		)
		if err := rows.Scan(&e.ID, &started, &ms, &status, &e.SourceSHA256, &e.Output, &e.Error); err != nil {
			return nil, fmt.Errorf("journal: scan: %w", err)
		}
		e.StartedAt, err = time.Parse(journalTime, started)
		if err != nil {
			return nil, fmt.Errorf("journal: bad timestamp %q: %w", started, err)
		}
		e.Duration = time.Duration(ms) * time.Millisecond
		e.Status = RunStatus(status)
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// Count returns the number of recorded runs.
func (j *Journal) Count(ctx context.Context) (int64, error) {
	var n int64
	if err := j.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM runs`).Scan(&n); err != nil {
		return 0, fmt.Errorf("journal: count: %w", err)
	}
	return n, nil
}

// Close closes the database.
func (j *Journal) Close() error {
	return j.db.Close()
}
