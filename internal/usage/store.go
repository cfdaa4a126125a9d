// Package usage is the token ledger: one record per model call with its
// cost, priced from the configured table, and aggregate queries over a
// time window.
package usage

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
	_ "github.com/mattn/go-sqlite3"

	"github.com/nugget/taskpilot/internal/config"
)

// Record is a single model call's token usage and cost.
type Record struct {
	ID             string    `json:"id"`
	Timestamp      time.Time `json:"timestamp"`
	ConversationID string    `json:"conversation_id,omitempty"`
	UserID         string    `json:"user_id,omitempty"`
	Iteration      int       `json:"iteration"`
	Model          string    `json:"model"`
	Provider       string    `json:"provider"`
	InputTokens    int       `json:"input_tokens"`
	OutputTokens   int       `json:"output_tokens"`
	CostUSD        float64   `json:"cost_usd"`
}

// Summary holds aggregated token usage and cost totals.
type Summary struct {
	TotalRecords      int     `json:"total_records"`
	TotalInputTokens  int64   `json:"total_input_tokens"`
	TotalOutputTokens int64   `json:"total_output_tokens"`
	TotalCostUSD      float64 `json:"total_cost_usd"`
}

const schema = `
CREATE TABLE IF NOT EXISTS model_calls (
	id              TEXT PRIMARY KEY,
	ts              TEXT NOT NULL,
	conversation_id TEXT NOT NULL DEFAULT '',
	user_id         TEXT NOT NULL DEFAULT '',
	iteration       INTEGER NOT NULL DEFAULT 0,
	model           TEXT NOT NULL,
	provider        TEXT NOT NULL,
	tokens_in       INTEGER NOT NULL,
	tokens_out      INTEGER NOT NULL,
	cost_usd        REAL NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_model_calls_ts ON model_calls(ts);
CREATE INDEX IF NOT EXISTS idx_model_calls_conversation ON model_calls(conversation_id);
`

// totals is the aggregate column list every summary query selects.
const totals = `COUNT(*), COALESCE(SUM(tokens_in), 0), COALESCE(SUM(tokens_out), 0), COALESCE(SUM(cost_usd), 0)`

// groupable maps the grouping keys callers may ask for to their column.
var groupable = map[string]string{
	"model": "model",
	"user":  "user_id",
}

// Store is an append-only ledger of model calls.
type Store struct {
	db *sql.DB
}

// NewStore opens (or creates) the ledger at dbPath.
func NewStore(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("open usage database: %w", err)
	}
	s, err := NewStoreWithDB(db)
	if err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

// NewStoreWithDB creates the ledger on a shared connection.
func NewStoreWithDB(db *sql.DB) (*Store, error) {
	if _, err := db.Exec(schema); err != nil {
		return nil, fmt.Errorf("migrate usage schema: %w", err)
	}
	return &Store{db: db}, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// Record appends rec. An empty ID gets a UUIDv7 and a zero Timestamp
// becomes now.
func (s *Store) Record(ctx context.Context, rec Record) error {
	if rec.ID == "" {
		id, err := uuid.NewV7()
		if err != nil {
			return fmt.Errorf("usage record id: %w", err)
		}
		rec.ID = id.String()
	}
	if rec.Timestamp.IsZero() {
		rec.Timestamp = time.Now()
	}

	_, err := s.db.ExecContext(ctx, `INSERT INTO model_calls
		(id, ts, conversation_id, user_id, iteration, model, provider, tokens_in, tokens_out, cost_usd)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		rec.ID, stamp(rec.Timestamp), rec.ConversationID, rec.UserID, rec.Iteration,
		rec.Model, rec.Provider, rec.InputTokens, rec.OutputTokens, rec.CostUSD)
	if err != nil {
		return fmt.Errorf("insert usage record: %w", err)
	}
	return nil
}

// Summary returns totals for calls in [start, end).
func (s *Store) Summary(ctx context.Context, start, end time.Time) (*Summary, error) {
	return s.one(ctx, `SELECT `+totals+` FROM model_calls WHERE ts >= ? AND ts < ?`,
		stamp(start), stamp(end))
}

// ConversationSummary returns the totals for one conversation.
func (s *Store) ConversationSummary(ctx context.Context, conversationID string) (*Summary, error) {
	return s.one(ctx, `SELECT `+totals+` FROM model_calls WHERE conversation_id = ?`, conversationID)
}

// SummaryByModel returns per-model totals within [start, end).
func (s *Store) SummaryByModel(ctx context.Context, start, end time.Time) (map[string]*Summary, error) {
	return s.grouped(ctx, "model", start, end)
}

// SummaryByUser returns per-user totals within [start, end).
func (s *Store) SummaryByUser(ctx context.Context, start, end time.Time) (map[string]*Summary, error) {
	return s.grouped(ctx, "user", start, end)
}

func (s *Store) one(ctx context.Context, query string, args ...any) (*Summary, error) {
	var sum Summary
	if err := s.db.QueryRowContext(ctx, query, args...).Scan(sum.fields()...); err != nil {
		return nil, fmt.Errorf("query usage: %w", err)
	}
	return &sum, nil
}

func (s *Store) grouped(ctx context.Context, key string, start, end time.Time) (map[string]*Summary, error) {
	col, ok := groupable[key]
	if !ok {
		return nil, fmt.Errorf("cannot group usage by %q", key)
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+col+`, `+totals+` FROM model_calls
		 WHERE ts >= ? AND ts < ?
		 GROUP BY `+col,
		stamp(start), stamp(end))
	if err != nil {
		return nil, fmt.Errorf("query usage by %s: %w", key, err)
	}
	defer rows.Close()

	out := make(map[string]*Summary)
	for rows.Next() {
		var name string
		sum := new(Summary)
		if err := rows.Scan(append([]any{&name}, sum.fields()...)...); err != nil {
			return nil, fmt.Errorf("scan usage by %s: %w", key, err)
		}
		out[name] = sum
	}
	return out, rows.Err()
}

func (sum *Summary) fields() []any {
	return []any{&sum.TotalRecords, &sum.TotalInputTokens, &sum.TotalOutputTokens, &sum.TotalCostUSD}
}

// stamp formats t the way ts is stored so string comparison orders it.
func stamp(t time.Time) string {
	return t.UTC().Format(time.RFC3339)
}

// ComputeCost prices a call from the table. Models not in the table are
// free.
func ComputeCost(model string, inputTokens, outputTokens int, pricing map[string]config.PricingEntry) float64 {
	p, ok := pricing[model]
	if !ok {
		return 0
	}
	return (float64(inputTokens)*p.InputPerMillion + float64(outputTokens)*p.OutputPerMillion) / 1e6
}
