// Package focus keeps a one-line note per user describing what the
// agent is currently concentrating on. Writes replace the previous value;
// no history is kept.
package focus

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	_ "github.com/mattn/go-sqlite3"
)

// Store persists the focus line per user.
type Store struct {
	db *sql.DB
}

// NewStore creates a focus store using the given database path.
func NewStore(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	s := &Store{db: db}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return s, nil
}

// NewStoreWithDB creates a focus store using an existing database connection.
func NewStoreWithDB(db *sql.DB) (*Store, error) {
	s := &Store{db: db}
	if err := s.migrate(); err != nil {
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return s, nil
}

func (s *Store) migrate() error {
	_, err := s.db.Exec(`
		CREATE TABLE IF NOT EXISTS focus (
			user_id    TEXT NOT NULL PRIMARY KEY,
			content    TEXT NOT NULL,
			updated_at TEXT NOT NULL
		)
	`)
	return err
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// Get returns the user's focus. ok is false when none is set.
func (s *Store) Get(ctx context.Context, userID string) (value string, ok bool, err error) {
	err = s.db.QueryRowContext(ctx,
		`SELECT content FROM focus WHERE user_id = ?`, userID,
	).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("get focus: %w", err)
	}
	return value, true, nil
}

// Set replaces the user's focus. An empty value clears it.
func (s *Store) Set(ctx context.Context, userID, value string) error {
	value = strings.TrimSpace(value)
	if value == "" {
		return s.Clear(ctx, userID)
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO focus (user_id, content, updated_at)
		VALUES (?, ?, ?)
		ON CONFLICT(user_id) DO UPDATE SET
			content = excluded.content,
			updated_at = excluded.updated_at
	`, userID, value, time.Now().UTC().Format(time.RFC3339Nano))
	if err != nil {
		return fmt.Errorf("set focus: %w", err)
	}
	return nil
}

// Clear removes the user's focus.
func (s *Store) Clear(ctx context.Context, userID string) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM focus WHERE user_id = ?`, userID); err != nil {
		return fmt.Errorf("clear focus: %w", err)
	}
	return nil
}
