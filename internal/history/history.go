// Package history keeps a local log of completed voice turns in SQLite.
// Useful for answering "what did I ask an hour ago" and for debugging
// transcription quality over time.
package history

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "modernc.org/sqlite"
)

// Turn is one completed voice interaction.
type Turn struct {
	ID     int64     `json:"id"`
	At     time.Time `json:"at"`
	Source string    `json:"source"`
	Heard  string    `json:"heard"`
	Reply  string    `json:"reply,omitempty"`
}

// Store persists turns. Safe for concurrent use; database/sql serializes
// access to the single connection modernc sqlite hands out.
type Store struct {
	db *sql.DB
}

const schema = `
CREATE TABLE IF NOT EXISTS turns (
	id     INTEGER PRIMARY KEY AUTOINCREMENT,
	at     TEXT NOT NULL,
	source TEXT NOT NULL,
	heard  TEXT NOT NULL,
	reply  TEXT NOT NULL DEFAULT ''
);
CREATE INDEX IF NOT EXISTS idx_turns_at ON turns(at);
`

// Open opens (creating if needed) the turn log at path.
func Open(path string) (*Store, error) {
	if path == "" {
		return nil, fmt.Errorf("history: path must not be empty")
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("history: open database: %w", err)
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("history: apply schema: %w", err)
	}
	return &Store{db: db}, nil
}

// RecordTurn appends one completed turn. Satisfies the turn orchestrator's
// Recorder interface.
func (s *Store) RecordTurn(ctx context.Context, source, heard, reply string) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO turns (at, source, heard, reply) VALUES (?, ?, ?, ?)`,
		time.Now().UTC().Format(time.RFC3339Nano), source, heard, reply)
	if err != nil {
		return fmt.Errorf("history: insert turn: %w", err)
	}
	return nil
}

// Recent returns up to limit turns, newest first.
func (s *Store) Recent(ctx context.Context, limit int) ([]Turn, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, at, source, heard, reply FROM turns ORDER BY id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("history: query turns: %w", err)
	}
	defer rows.Close()

	var turns []Turn
	for rows.Next() {
		var t Turn
		var at string
		if err := rows.Scan(&t.ID, &at, &t.Source, &t.Heard, &t.Reply); err != nil {
			return nil, fmt.Errorf("history: scan turn: %w", err)
		}
		t.At, _ = time.Parse(time.RFC3339Nano, at)
		turns = append(turns, t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("history: iterate turns: %w", err)
	}
	return turns, nil
}

// Prune deletes turns older than age and returns how many were removed.
func (s *Store) Prune(ctx context.Context, age time.Duration) (int64, error) {
	cutoff := time.Now().UTC().Add(-age).Format(time.RFC3339Nano)
	res, err := s.db.ExecContext(ctx, `DELETE FROM turns WHERE at < ?`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("history: prune turns: %w", err)
	}
	n, _ := res.RowsAffected()
	return n, nil
}

// Close releases the database handle.
func (s *Store) Close() error {
	return s.db.Close()
}
