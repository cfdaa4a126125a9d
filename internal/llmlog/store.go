// Package llmlog records every model call the agent makes, keyed by
// conversation and loop iteration, together with the observations the
// call produced. Entries stay open for observations until closed.
package llmlog

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	_ "github.com/mattn/go-sqlite3"

	"github.com/nugget/taskpilot/internal/llm"
)

var (
	// ErrNotFound is returned for an unknown entry id.
	ErrNotFound = errors.New("llm log entry not found")
	// ErrClosed is returned when adding an observation to a closed entry.
	ErrClosed = errors.New("llm log entry is closed")
)

// Request describes one model call to be logged.
type Request struct {
	ConversationID      string
	Iteration           int
	Provider            string
	Model               string
	SystemPrompt        string
	Messages            []llm.Message
	Response            string
	Metadata            map[string]any
	Error               string
	OriginalUserMessage string
	// Observations seeds the entry with what the run has gathered so far.
	Observations []string
}

// Entry is a stored model call.
type Entry struct {
	ID                  string         `json:"id"`
	ConversationID      string         `json:"conversation_id"`
	Iteration           int            `json:"iteration"`
	Provider            string         `json:"provider"`
	Model               string         `json:"model"`
	SystemPrompt        string         `json:"system_prompt"`
	Messages            []llm.Message  `json:"messages"`
	Response            string         `json:"response"`
	Metadata            map[string]any `json:"metadata"`
	Error               string         `json:"error,omitempty"`
	OriginalUserMessage string         `json:"original_user_message,omitempty"`
	Observations        []string       `json:"observations"`
	Closed              bool           `json:"closed"`
	CreatedAt           time.Time      `json:"created_at"`
}

// Metadata builds the metadata map for a provider response.
func Metadata(resp *llm.Response) map[string]any {
	if resp == nil {
		return map[string]any{}
	}
	return map[string]any{
		"input_tokens":  resp.InputTokens,
		"output_tokens": resp.OutputTokens,
		"finish_reason": resp.FinishReason,
		"latency_ms":    resp.Duration.Milliseconds(),
		"model":         resp.Model,
	}
}

// Store persists log entries in SQLite.
type Store struct {
	db *sql.DB
}

// NewStore creates a log store using the given database path.
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

// NewStoreWithDB creates a log store using an existing connection.
func NewStoreWithDB(db *sql.DB) (*Store, error) {
	s := &Store{db: db}
	if err := s.migrate(); err != nil {
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return s, nil
}

// NewReader wraps a connection to an existing log database without
// touching the schema. Use it for read-only connections.
func NewReader(db *sql.DB) *Store {
	return &Store{db: db}
}

func (s *Store) migrate() error {
	_, err := s.db.Exec(`
		CREATE TABLE IF NOT EXISTS llm_logs (
			id TEXT PRIMARY KEY,
			conversation_id TEXT NOT NULL DEFAULT '',
			iteration INTEGER NOT NULL,
			provider TEXT NOT NULL,
			model TEXT NOT NULL,
			system_prompt TEXT NOT NULL,
			messages TEXT NOT NULL,
			response TEXT NOT NULL,
			metadata TEXT NOT NULL DEFAULT '{}',
			error TEXT NOT NULL DEFAULT '',
			original_user_message TEXT NOT NULL DEFAULT '',
			observations TEXT NOT NULL DEFAULT '[]',
			closed INTEGER NOT NULL DEFAULT 0,
			created_at TEXT NOT NULL
		);
		CREATE INDEX IF NOT EXISTS idx_llm_logs_conversation ON llm_logs(conversation_id, iteration, created_at);
		CREATE INDEX IF NOT EXISTS idx_llm_logs_created ON llm_logs(created_at);
	`)
	return err
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// LogRequest stores a model call as a new open entry.
func (s *Store) LogRequest(ctx context.Context, req Request) (*Entry, error) {
	id, err := uuid.NewV7()
	if err != nil {
		return nil, fmt.Errorf("generate id: %w", err)
	}
	e := &Entry{
		ID:                  id.String(),
		ConversationID:      req.ConversationID,
		Iteration:           req.Iteration,
		Provider:            req.Provider,
		Model:               req.Model,
		SystemPrompt:        req.SystemPrompt,
		Messages:            req.Messages,
		Response:            req.Response,
		Metadata:            req.Metadata,
		Error:               req.Error,
		OriginalUserMessage: req.OriginalUserMessage,
		Observations:        append([]string{}, req.Observations...),
		CreatedAt:           time.Now().UTC(),
	}
	if e.Messages == nil {
		e.Messages = []llm.Message{}
	}
	if e.Metadata == nil {
		e.Metadata = map[string]any{}
	}

	msgs, err := json.Marshal(e.Messages)
	if err != nil {
		return nil, fmt.Errorf("encode messages: %w", err)
	}
	meta, err := json.Marshal(e.Metadata)
	if err != nil {
		return nil, fmt.Errorf("encode metadata: %w", err)
	}
	obs, err := json.Marshal(e.Observations)
	if err != nil {
		return nil, fmt.Errorf("encode observations: %w", err)
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO llm_logs (id, conversation_id, iteration, provider, model, system_prompt,
			messages, response, metadata, error, original_user_message, observations, closed, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, 0, ?)
	`, e.ID, e.ConversationID, e.Iteration, e.Provider, e.Model, e.SystemPrompt,
		string(msgs), e.Response, string(meta), e.Error, e.OriginalUserMessage,
		string(obs), e.CreatedAt.Format(timeLayout))
	if err != nil {
		return nil, fmt.Errorf("insert llm log: %w", err)
	}
	return e, nil
}

// AddObservation appends text to an open entry.
func (s *Store) AddObservation(ctx context.Context, id, text string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback()

	var (
		raw    string
		closed bool
	)
	err = tx.QueryRowContext(ctx, `SELECT observations, closed FROM llm_logs WHERE id = ?`, id).Scan(&raw, &closed)
	if errors.Is(err, sql.ErrNoRows) {
		return ErrNotFound
	}
	if err != nil {
		return fmt.Errorf("load observations: %w", err)
	}
	if closed {
		return ErrClosed
	}

	var obs []string
	if err := json.Unmarshal([]byte(raw), &obs); err != nil {
		return fmt.Errorf("decode observations: %w", err)
	}
	obs = append(obs, text)
	encoded, err := json.Marshal(obs)
	if err != nil {
		return fmt.Errorf("encode observations: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `UPDATE llm_logs SET observations = ? WHERE id = ?`, string(encoded), id); err != nil {
		return fmt.Errorf("update observations: %w", err)
	}
	return tx.Commit()
}

// CloseEntry marks an entry closed. Closing twice is not an error.
func (s *Store) CloseEntry(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `UPDATE llm_logs SET closed = 1 WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("close entry: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

const selectColumns = `id, conversation_id, iteration, provider, model, system_prompt, messages,
	response, metadata, error, original_user_message, observations, closed, created_at`

// Get returns a single entry.
func (s *Store) Get(ctx context.Context, id string) (*Entry, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+selectColumns+` FROM llm_logs WHERE id = ?`, id)
	e, err := scanEntry(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	return e, err
}

// ByConversation returns a conversation's entries ordered by iteration
// then time. A non-positive limit returns all of them.
func (s *Store) ByConversation(ctx context.Context, conversationID string, limit int) ([]*Entry, error) {
	if limit <= 0 {
		limit = -1
	}
	return s.query(ctx, `SELECT `+selectColumns+` FROM llm_logs
		WHERE conversation_id = ?
		ORDER BY iteration, created_at LIMIT ?`, conversationID, limit)
}

// Recent returns the newest entries across all conversations.
func (s *Store) Recent(ctx context.Context, limit int) ([]*Entry, error) {
	if limit <= 0 {
		limit = 50
	}
	return s.query(ctx, `SELECT `+selectColumns+` FROM llm_logs
		ORDER BY created_at DESC LIMIT ?`, limit)
}

func (s *Store) query(ctx context.Context, q string, args ...any) ([]*Entry, error) {
	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("query llm logs: %w", err)
	}
	defer rows.Close()

	var out []*Entry
	for rows.Next() {
		e, err := scanEntry(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

// timeLayout is fixed width so created_at sorts lexically.
const timeLayout = "2006-01-02T15:04:05.000000000Z07:00"

type scanner interface {
	Scan(dest ...any) error
}

func scanEntry(row scanner) (*Entry, error) {
	var (
		e                     Entry
		msgs, meta, obs, when string
	)
	err := row.Scan(&e.ID, &e.ConversationID, &e.Iteration, &e.Provider, &e.Model, &e.SystemPrompt,
		&msgs, &e.Response, &meta, &e.Error, &e.OriginalUserMessage, &obs, &e.Closed, &when)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("scan llm log: %w", err)
	}
	if err := json.Unmarshal([]byte(msgs), &e.Messages); err != nil {
		return nil, fmt.Errorf("decode messages for %s: %w", e.ID, err)
	}
	if err := json.Unmarshal([]byte(meta), &e.Metadata); err != nil {
		return nil, fmt.Errorf("decode metadata for %s: %w", e.ID, err)
	}
	if err := json.Unmarshal([]byte(obs), &e.Observations); err != nil {
		return nil, fmt.Errorf("decode observations for %s: %w", e.ID, err)
	}
	e.CreatedAt, _ = time.Parse(timeLayout, when)
	return &e, nil
}
