// Package facts stores durable statements about the user. Facts are
// independent of any conversation, never expire, and may duplicate or
// contradict each other; they are rendered in insertion order.
package facts

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	_ "github.com/mattn/go-sqlite3"
)

// EmptyText is what RenderAsText returns when no facts are stored.
const EmptyText = "(No facts stored yet)"

// Fact is one durable statement.
type Fact struct {
	ID        int64     `json:"id"`
	Content   string    `json:"content"`
	CreatedAt time.Time `json:"created_at"`
}

// Store manages fact persistence.
type Store struct {
	db *sql.DB
}

// NewStore creates a fact store using the given database path.
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

// NewStoreWithDB creates a fact store using an existing database connection.
func NewStoreWithDB(db *sql.DB) (*Store, error) {
	s := &Store{db: db}
	if err := s.migrate(); err != nil {
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return s, nil
}

func (s *Store) migrate() error {
	_, err := s.db.Exec(`
		CREATE TABLE IF NOT EXISTS facts (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			content TEXT NOT NULL,
			created_at TEXT NOT NULL
		);
	`)
	return err
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// Add stores a new fact. No deduplication is performed.
func (s *Store) Add(ctx context.Context, content string) (*Fact, error) {
	content = strings.TrimSpace(content)
	if content == "" {
		return nil, fmt.Errorf("fact content is empty")
	}

	now := time.Now().UTC()
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO facts (content, created_at) VALUES (?, ?)`,
		content, now.Format(time.RFC3339Nano),
	)
	if err != nil {
		return nil, fmt.Errorf("insert fact: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("fact id: %w", err)
	}
	return &Fact{ID: id, Content: content, CreatedAt: now}, nil
}

// ListAll returns every fact in insertion order.
func (s *Store) ListAll(ctx context.Context) ([]*Fact, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT id, content, created_at FROM facts ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("query facts: %w", err)
	}
	defer rows.Close()

	var facts []*Fact
	for rows.Next() {
		var f Fact
		var created string
		if err := rows.Scan(&f.ID, &f.Content, &created); err != nil {
			return nil, fmt.Errorf("scan fact: %w", err)
		}
		f.CreatedAt, _ = time.Parse(time.RFC3339Nano, created)
		facts = append(facts, &f)
	}
	return facts, rows.Err()
}

// Search returns facts whose content contains query, case-insensitively,
// in insertion order.
func (s *Store) Search(ctx context.Context, query string) ([]*Fact, error) {
	all, err := s.ListAll(ctx)
	if err != nil {
		return nil, err
	}
	q := strings.ToLower(strings.TrimSpace(query))
	var out []*Fact
	for _, f := range all {
		if strings.Contains(strings.ToLower(f.Content), q) {
			out = append(out, f)
		}
	}
	return out, nil
}

// Delete removes a fact by id and reports whether it existed.
func (s *Store) Delete(ctx context.Context, id int64) (bool, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM facts WHERE id = ?`, id)
	if err != nil {
		return false, fmt.Errorf("delete fact: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("delete fact: %w", err)
	}
	return affected > 0, nil
}

// Count returns the number of stored facts.
func (s *Store) Count(ctx context.Context) (int, error) {
	var n int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM facts`).Scan(&n); err != nil {
		return 0, fmt.Errorf("count facts: %w", err)
	}
	return n, nil
}

// RenderAsText renders every fact as a dated bullet, for example
// "- [2025-01-15] Prefers morning meetings".
func (s *Store) RenderAsText(ctx context.Context) (string, error) {
	facts, err := s.ListAll(ctx)
	if err != nil {
		return "", err
	}
	return Render(facts), nil
}

// Render formats facts the way RenderAsText does.
func Render(facts []*Fact) string {
	if len(facts) == 0 {
		return EmptyText
	}
	lines := make([]string, len(facts))
	for i, f := range facts {
		lines[i] = fmt.Sprintf("- [%s] %s", f.CreatedAt.Local().Format("2006-01-02"), f.Content)
	}
	return strings.Join(lines, "\n")
}
