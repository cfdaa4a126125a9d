// Package guidelines keeps the versioned style guide the agent follows
// when writing on the user's behalf. Every change creates a new version;
// old versions are never modified.
package guidelines

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	_ "github.com/mattn/go-sqlite3"
)

// PatternsHeading is the section learned patterns are appended to.
const PatternsHeading = "## Patterns Learned"

// Defaults returns the initial guidelines for a user.
func Defaults(userName string) string {
	if userName == "" {
		userName = "the User"
	}
	return `# Guidelines for Working with ` + userName + `

## Communication Style
- Use direct, concise language
- Avoid excessive formality
- Never use em-dashes

## Email Preferences
- Always include a clear subject line
- Keep emails under 200 words when possible
- Be professional but friendly

## Document Formatting
- Use headers for sections
- Bullet points over paragraphs
- Prefer active voice

` + PatternsHeading + `
(New patterns will be added here as the system learns from your feedback)
`
}

// Version is one revision of the guidelines.
type Version struct {
	ID        int64     `json:"id"`
	Version   int       `json:"version"`
	Content   string    `json:"content"`
	Diff      string    `json:"diff,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

// Store persists guideline versions.
type Store struct {
	db *sql.DB

	// Seed is the content of version 1, written by GetOrCreateCurrent.
	Seed string
}

// NewStore creates a guidelines store using the given database path.
func NewStore(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	s := &Store{db: db, Seed: Defaults("")}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return s, nil
}

// NewStoreWithDB creates a guidelines store using an existing connection.
func NewStoreWithDB(db *sql.DB) (*Store, error) {
	s := &Store{db: db, Seed: Defaults("")}
	if err := s.migrate(); err != nil {
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return s, nil
}

func (s *Store) migrate() error {
	_, err := s.db.Exec(`
		CREATE TABLE IF NOT EXISTS guidelines (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			version INTEGER NOT NULL UNIQUE,
			content TEXT NOT NULL,
			diff TEXT NOT NULL DEFAULT '',
			created_at TEXT NOT NULL
		);
	`)
	return err
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// Current returns the latest version, or nil if none exists.
func (s *Store) Current(ctx context.Context) (*Version, error) {
	v, err := scanVersion(s.db.QueryRowContext(ctx,
		`SELECT id, version, content, diff, created_at FROM guidelines ORDER BY version DESC LIMIT 1`))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	return v, err
}

// GetOrCreateCurrent returns the latest version, seeding version 1 from
// Seed when the store is empty.
func (s *Store) GetOrCreateCurrent(ctx context.Context) (*Version, error) {
	v, err := s.Current(ctx)
	if err != nil || v != nil {
		return v, err
	}
	return s.insert(ctx, s.Seed, "", true)
}

// Update stores content as a new version with a description of the change.
func (s *Store) Update(ctx context.Context, content, diff string) (*Version, error) {
	return s.insert(ctx, content, diff, false)
}

func (s *Store) insert(ctx context.Context, content, diff string, onlyIfEmpty bool) (*Version, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback()

	var latest int
	if err := tx.QueryRowContext(ctx, `SELECT COALESCE(MAX(version), 0) FROM guidelines`).Scan(&latest); err != nil {
		return nil, fmt.Errorf("latest version: %w", err)
	}
	if onlyIfEmpty && latest > 0 {
		tx.Rollback()
		return s.Current(ctx)
	}

	v := &Version{Version: latest + 1, Content: content, Diff: diff, CreatedAt: time.Now().UTC()}
	res, err := tx.ExecContext(ctx,
		`INSERT INTO guidelines (version, content, diff, created_at) VALUES (?, ?, ?, ?)`,
		v.Version, v.Content, v.Diff, v.CreatedAt.Format(time.RFC3339Nano))
	if err != nil {
		return nil, fmt.Errorf("insert guidelines: %w", err)
	}
	if v.ID, err = res.LastInsertId(); err != nil {
		return nil, fmt.Errorf("guidelines id: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit: %w", err)
	}
	return v, nil
}

// Version returns a specific version, or nil if it does not exist.
func (s *Store) Version(ctx context.Context, n int) (*Version, error) {
	v, err := scanVersion(s.db.QueryRowContext(ctx,
		`SELECT id, version, content, diff, created_at FROM guidelines WHERE version = ?`, n))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	return v, err
}

// History returns up to limit versions, newest first.
func (s *Store) History(ctx context.Context, limit int) ([]*Version, error) {
	if limit <= 0 {
		limit = 10
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, version, content, diff, created_at FROM guidelines ORDER BY version DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("query guidelines: %w", err)
	}
	defer rows.Close()

	var out []*Version
	for rows.Next() {
		v, err := scanVersion(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, v)
	}
	return out, rows.Err()
}

// AddLearnedPattern records pattern as a dated bullet at the end of the
// learned patterns section and saves the result as a new version.
func (s *Store) AddLearnedPattern(ctx context.Context, pattern string) (*Version, error) {
	pattern = strings.TrimSpace(pattern)
	if pattern == "" {
		return nil, fmt.Errorf("pattern is empty")
	}
	cur, err := s.GetOrCreateCurrent(ctx)
	if err != nil {
		return nil, err
	}
	line := fmt.Sprintf("- [%s] %s", time.Now().Format("2006-01-02"), pattern)
	return s.Update(ctx, insertPattern(cur.Content, line), "Added learned pattern: "+pattern)
}

// insertPattern places line before the first blank line following the
// patterns heading. Without a heading, the section is created at the end.
func insertPattern(content, line string) string {
	lines := strings.Split(content, "\n")
	start := -1
	for i, l := range lines {
		if strings.Contains(l, PatternsHeading) {
			start = i
			break
		}
	}
	if start < 0 {
		return strings.TrimRight(content, "\n") + "\n\n" + PatternsHeading + "\n" + line + "\n"
	}

	at := len(lines)
	for i := start + 1; i < len(lines); i++ {
		if strings.TrimSpace(lines[i]) == "" {
			at = i
			break
		}
	}
	out := make([]string, 0, len(lines)+1)
	out = append(out, lines[:at]...)
	out = append(out, line)
	out = append(out, lines[at:]...)
	return strings.Join(out, "\n")
}

type scanner interface {
	Scan(dest ...any) error
}

func scanVersion(row scanner) (*Version, error) {
	var (
		v       Version
		created string
	)
	if err := row.Scan(&v.ID, &v.Version, &v.Content, &v.Diff, &created); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("scan guidelines: %w", err)
	}
	v.CreatedAt, _ = time.Parse(time.RFC3339Nano, created)
	return &v, nil
}
