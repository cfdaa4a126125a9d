// Package activetask holds the agent's working memory for long-running
// work: one titled brief per user that is injected into every prompt
// until it is cleared.
package activetask

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	_ "github.com/mattn/go-sqlite3"
)

// Task is a user's current task brief.
type Task struct {
	UserID    string    `json:"user_id"`
	Title     string    `json:"title"`
	Brief     string    `json:"brief"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Text renders the task for the system prompt.
func (t *Task) Text() string {
	return fmt.Sprintf("## Current Task (Working Memory)\n\n**Task:** %s\n\n**Context and Instructions:**\n%s\n", t.Title, t.Brief)
}

// Store persists active tasks.
type Store struct {
	db *sql.DB
}

// NewStore creates an active task store using the given database path.
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

// NewStoreWithDB creates an active task store using an existing connection.
func NewStoreWithDB(db *sql.DB) (*Store, error) {
	s := &Store{db: db}
	if err := s.migrate(); err != nil {
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return s, nil
}

func (s *Store) migrate() error {
	_, err := s.db.Exec(`
		CREATE TABLE IF NOT EXISTS active_tasks (
			user_id    TEXT NOT NULL PRIMARY KEY,
			title      TEXT NOT NULL,
			brief      TEXT NOT NULL,
			created_at TEXT NOT NULL,
			updated_at TEXT NOT NULL
		)
	`)
	return err
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// Get returns the user's active task, or nil when there is none.
func (s *Store) Get(ctx context.Context, userID string) (*Task, error) {
	var (
		t                Task
		created, updated string
	)
	err := s.db.QueryRowContext(ctx,
		`SELECT user_id, title, brief, created_at, updated_at FROM active_tasks WHERE user_id = ?`,
		userID,
	).Scan(&t.UserID, &t.Title, &t.Brief, &created, &updated)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get active task: %w", err)
	}
	t.CreatedAt, _ = time.Parse(time.RFC3339Nano, created)
	t.UpdatedAt, _ = time.Parse(time.RFC3339Nano, updated)
	return &t, nil
}

// Set creates or replaces the user's active task. The original creation
// time survives replacement.
func (s *Store) Set(ctx context.Context, userID, title, brief string) (*Task, error) {
	title = strings.TrimSpace(title)
	if title == "" {
		return nil, fmt.Errorf("task title is empty")
	}
	now := time.Now().UTC().Format(time.RFC3339Nano)
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO active_tasks (user_id, title, brief, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(user_id) DO UPDATE SET
			title = excluded.title,
			brief = excluded.brief,
			updated_at = excluded.updated_at
	`, userID, title, strings.TrimSpace(brief), now, now)
	if err != nil {
		return nil, fmt.Errorf("set active task: %w", err)
	}
	return s.Get(ctx, userID)
}

// Clear removes the user's active task and reports whether one existed.
func (s *Store) Clear(ctx context.Context, userID string) (bool, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM active_tasks WHERE user_id = ?`, userID)
	if err != nil {
		return false, fmt.Errorf("clear active task: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("clear active task: %w", err)
	}
	return n > 0, nil
}

// Text returns the rendered task for the user, or "" when none is set.
func (s *Store) Text(ctx context.Context, userID string) (string, error) {
	t, err := s.Get(ctx, userID)
	if err != nil || t == nil {
		return "", err
	}
	return t.Text(), nil
}
