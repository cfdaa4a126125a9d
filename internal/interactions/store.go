// Package interactions is the conversation transcript: an append-only
// list of user, agent and tool turns grouped by conversation id. Only a
// turn's metadata may change after it is written.
package interactions

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	_ "github.com/mattn/go-sqlite3"
)

// Turn roles.
const (
	RoleUser  = "user"
	RoleAgent = "agent"
	RoleTool  = "tool"
)

// DefaultHistoryLimit is how many turns History returns when no limit
// is given.
const DefaultHistoryLimit = 20

// ErrNotFound is returned when a turn id does not exist.
var ErrNotFound = errors.New("interaction not found")

// Turn is one message in a conversation.
type Turn struct {
	ID             int64          `json:"id"`
	ConversationID string         `json:"conversation_id"`
	UserID         string         `json:"user_id,omitempty"`
	Role           string         `json:"role"`
	Content        string         `json:"content"`
	Metadata       map[string]any `json:"metadata,omitempty"`
	CreatedAt      time.Time      `json:"created_at"`
}

// Store persists conversation turns.
type Store struct {
	db *sql.DB
}

// NewStore creates an interactions store using the given database path.
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

// NewStoreWithDB creates an interactions store using an existing connection.
func NewStoreWithDB(db *sql.DB) (*Store, error) {
	s := &Store{db: db}
	if err := s.migrate(); err != nil {
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return s, nil
}

// NewReader wraps an existing database without touching the schema,
// for read-only connections.
func NewReader(db *sql.DB) *Store {
	return &Store{db: db}
}

func (s *Store) migrate() error {
	_, err := s.db.Exec(`
		CREATE TABLE IF NOT EXISTS interactions (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			conversation_id TEXT NOT NULL,
			user_id TEXT NOT NULL DEFAULT '',
			role TEXT NOT NULL,
			content TEXT NOT NULL,
			metadata TEXT NOT NULL DEFAULT '{}',
			created_at TEXT NOT NULL
		);
		CREATE INDEX IF NOT EXISTS idx_interactions_conversation ON interactions(conversation_id, id);
		CREATE INDEX IF NOT EXISTS idx_interactions_user ON interactions(user_id, id);
	`)
	return err
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// CreateConversationID returns a new time-ordered conversation id.
func (s *Store) CreateConversationID() string {
	return uuid.Must(uuid.NewV7()).String()
}

// Append writes a turn. ID and CreatedAt are assigned here.
func (s *Store) Append(ctx context.Context, t Turn) (*Turn, error) {
	switch t.Role {
	case RoleUser, RoleAgent, RoleTool:
	default:
		return nil, fmt.Errorf("invalid role %q", t.Role)
	}
	if t.ConversationID == "" {
		return nil, fmt.Errorf("conversation id is required")
	}
	if t.Metadata == nil {
		t.Metadata = map[string]any{}
	}
	meta, err := json.Marshal(t.Metadata)
	if err != nil {
		return nil, fmt.Errorf("encode metadata: %w", err)
	}

	t.CreatedAt = time.Now().UTC()
	res, err := s.db.ExecContext(ctx, `
		INSERT INTO interactions (conversation_id, user_id, role, content, metadata, created_at)
		VALUES (?, ?, ?, ?, ?, ?)
	`, t.ConversationID, t.UserID, t.Role, t.Content, string(meta), t.CreatedAt.Format(time.RFC3339Nano))
	if err != nil {
		return nil, fmt.Errorf("insert interaction: %w", err)
	}
	if t.ID, err = res.LastInsertId(); err != nil {
		return nil, fmt.Errorf("interaction id: %w", err)
	}
	return &t, nil
}

// Get returns a single turn by id.
func (s *Store) Get(ctx context.Context, id int64) (*Turn, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, conversation_id, user_id, role, content, metadata, created_at
		FROM interactions WHERE id = ?
	`, id)
	t, err := scanTurn(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	return t, err
}

// History returns the last limit turns of a conversation, oldest first.
// A non-positive limit means DefaultHistoryLimit.
func (s *Store) History(ctx context.Context, conversationID string, limit int) ([]*Turn, error) {
	if limit <= 0 {
		limit = DefaultHistoryLimit
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, conversation_id, user_id, role, content, metadata, created_at
		FROM interactions WHERE conversation_id = ?
		ORDER BY id DESC LIMIT ?
	`, conversationID, limit)
	if err != nil {
		return nil, fmt.Errorf("query history: %w", err)
	}
	defer rows.Close()

	var turns []*Turn
	for rows.Next() {
		t, err := scanTurn(rows)
		if err != nil {
			return nil, err
		}
		turns = append(turns, t)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	for i, j := 0, len(turns)-1; i < j; i, j = i+1, j-1 {
		turns[i], turns[j] = turns[j], turns[i]
	}
	return turns, nil
}

// RecentConversations returns distinct conversation ids, most recently
// active first.
func (s *Store) RecentConversations(ctx context.Context, limit int) ([]string, error) {
	if limit <= 0 {
		limit = 10
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT conversation_id FROM interactions
		GROUP BY conversation_id
		ORDER BY MAX(id) DESC
		LIMIT ?
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("query conversations: %w", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan conversation: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// LatestConversation returns the id of the user's most recently active
// conversation. ok is false if the user has none.
func (s *Store) LatestConversation(ctx context.Context, userID string) (id string, ok bool, err error) {
	err = s.db.QueryRowContext(ctx, `
		SELECT conversation_id FROM interactions
		WHERE user_id = ? ORDER BY id DESC LIMIT 1
	`, userID).Scan(&id)
	if errors.Is(err, sql.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("latest conversation: %w", err)
	}
	return id, true, nil
}

// UpdateMetadata replaces a turn's metadata.
func (s *Store) UpdateMetadata(ctx context.Context, id int64, metadata map[string]any) (*Turn, error) {
	if metadata == nil {
		metadata = map[string]any{}
	}
	meta, err := json.Marshal(metadata)
	if err != nil {
		return nil, fmt.Errorf("encode metadata: %w", err)
	}
	res, err := s.db.ExecContext(ctx, `UPDATE interactions SET metadata = ? WHERE id = ?`, string(meta), id)
	if err != nil {
		return nil, fmt.Errorf("update metadata: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return nil, ErrNotFound
	}
	return s.Get(ctx, id)
}

type scanner interface {
	Scan(dest ...any) error
}

func scanTurn(row scanner) (*Turn, error) {
	var (
		t       Turn
		meta    string
		created string
	)
	if err := row.Scan(&t.ID, &t.ConversationID, &t.UserID, &t.Role, &t.Content, &meta, &created); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("scan interaction: %w", err)
	}
	if err := json.Unmarshal([]byte(meta), &t.Metadata); err != nil {
		return nil, fmt.Errorf("decode metadata for interaction %d: %w", t.ID, err)
	}
	t.CreatedAt, _ = time.Parse(time.RFC3339Nano, created)
	return &t, nil
}
