// Package store persists slot configuration and schedule entries in
// SQLite so the daemon picks up where it left off after a restart.
// Credentials are stored as ciphertext only.
package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"rconflow/internal/domain"
	"rconflow/internal/recur"
)

// EnsureSchema creates tables if they don't exist.
func EnsureSchema(db *sql.DB) error {
	schema := `
PRAGMA journal_mode=WAL;
CREATE TABLE IF NOT EXISTS slots (
  slot INTEGER PRIMARY KEY,
  host TEXT NOT NULL,
  port INTEGER NOT NULL,
  credential TEXT NOT NULL,
  updated_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
);
CREATE TABLE IF NOT EXISTS entries (
  id TEXT PRIMARY KEY,
  command TEXT NOT NULL,
  frequency TEXT NOT NULL,
  minute INTEGER NOT NULL DEFAULT 0,
  hour INTEGER NOT NULL DEFAULT 0,
  weekday INTEGER NOT NULL DEFAULT 0,
  position INTEGER NOT NULL,
  created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
);
CREATE INDEX IF NOT EXISTS idx_entries_position ON entries(position);
`
	_, err := db.Exec(schema)
	return err
}

// Entry is a persisted schedule entry: command text plus the structured
// rule. The next fire time is recomputed on load, never stored.
type Entry struct {
	ID      string
	Command string
	Rule    recur.Rule
}

type Store struct{ db *sql.DB }

func New(db *sql.DB) *Store { return &Store{db: db} }

// Load reads the persisted slot configs and schedule entries.
func (s *Store) Load(ctx context.Context) ([]domain.SlotConfig, []Entry, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT slot, host, port, credential FROM slots ORDER BY slot`)
	if err != nil {
		return nil, nil, fmt.Errorf("store: load slots: %w", err)
	}
	defer rows.Close()

	var slots []domain.SlotConfig
	for rows.Next() {
		var c domain.SlotConfig
		if err := rows.Scan(&c.Slot, &c.Host, &c.Port, &c.Credential); err != nil {
			return nil, nil, fmt.Errorf("store: scan slot: %w", err)
		}
		slots = append(slots, c)
	}
	if err := rows.Err(); err != nil {
		return nil, nil, err
	}

	erows, err := s.db.QueryContext(ctx, `
SELECT id, command, frequency, minute, hour, weekday FROM entries ORDER BY position`)
	if err != nil {
		return nil, nil, fmt.Errorf("store: load entries: %w", err)
	}
	defer erows.Close()

	var entries []Entry
	for erows.Next() {
		var (
			e       Entry
			freq    string
			minute  int
			hour    int
			weekday int
		)
		if err := erows.Scan(&e.ID, &e.Command, &freq, &minute, &hour, &weekday); err != nil {
			return nil, nil, fmt.Errorf("store: scan entry: %w", err)
		}
		f, err := recur.ParseFrequency(freq)
		if err != nil {
			return nil, nil, fmt.Errorf("store: entry %s: %w", e.ID, err)
		}
		rule, err := recur.New(f, minute, hour, time.Weekday(weekday))
		if err != nil {
			return nil, nil, fmt.Errorf("store: entry %s: %w", e.ID, err)
		}
		e.Rule = rule
		entries = append(entries, e)
	}
	return slots, entries, erows.Err()
}

// Save replaces the persisted state with the given snapshot.
func (s *Store) Save(ctx context.Context, slots []domain.SlotConfig, entries []Entry) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("store: begin save: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `DELETE FROM slots`); err != nil {
		return fmt.Errorf("store: clear slots: %w", err)
	}
	for _, c := range slots {
		if _, err := tx.ExecContext(ctx, `
INSERT INTO slots (slot, host, port, credential, updated_at)
VALUES (?,?,?,?, CURRENT_TIMESTAMP)`, c.Slot, c.Host, c.Port, c.Credential); err != nil {
			return fmt.Errorf("store: save slot %d: %w", c.Slot, err)
		}
	}

	if _, err := tx.ExecContext(ctx, `DELETE FROM entries`); err != nil {
		return fmt.Errorf("store: clear entries: %w", err)
	}
	for i, e := range entries {
		if _, err := tx.ExecContext(ctx, `
INSERT INTO entries (id, command, frequency, minute, hour, weekday, position, created_at)
VALUES (?,?,?,?,?,?,?, CURRENT_TIMESTAMP)`,
			e.ID, e.Command, string(e.Rule.Frequency), e.Rule.Minute, e.Rule.Hour,
			int(e.Rule.Weekday), i); err != nil {
			return fmt.Errorf("store: save entry %s: %w", e.ID, err)
		}
	}
	return tx.Commit()
}
