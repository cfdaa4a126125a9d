package memory

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PostgresStore persists memory records in PostgreSQL. Embeddings are
// kept as real[] and ranked in process, so no vector extension is
// needed.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore connects to databaseURL and ensures the schema.
func NewPostgresStore(ctx context.Context, databaseURL string) (*PostgresStore, error) {
	pool, err := pgxpool.New(ctx, databaseURL)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}

	if err := initSchema(ctx, pool); err != nil {
		pool.Close()
		return nil, err
	}

	return &PostgresStore{pool: pool}, nil
}

func initSchema(ctx context.Context, pool *pgxpool.Pool) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS memories (
			id TEXT PRIMARY KEY,
			user_id TEXT NOT NULL,
			role TEXT NOT NULL,
			content TEXT NOT NULL,
			embedding REAL[],
			created_at TIMESTAMPTZ NOT NULL DEFAULT now()
		);`,
		`CREATE INDEX IF NOT EXISTS idx_memories_user_created ON memories (user_id, created_at);`,
	}

	for _, stmt := range stmts {
		if _, err := pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("init schema failed on %q: %w", stmt, err)
		}
	}
	return nil
}

// Store appends a record.
func (s *PostgresStore) Store(ctx context.Context, userID, role, content string, embedding []float32) (*Record, error) {
	if err := validRole(role); err != nil {
		return nil, err
	}
	id, err := uuid.NewV7()
	if err != nil {
		return nil, fmt.Errorf("generate id: %w", err)
	}

	r := &Record{
		ID:        id.String(),
		UserID:    userID,
		Role:      role,
		Content:   content,
		Embedding: embedding,
		CreatedAt: time.Now().UTC(),
	}
	_, err = s.pool.Exec(ctx,
		`INSERT INTO memories (id, user_id, role, content, embedding, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6)`,
		r.ID, r.UserID, r.Role, r.Content, embedding, r.CreatedAt,
	)
	if err != nil {
		return nil, fmt.Errorf("save memory: %w", err)
	}
	return r, nil
}

// SearchSimilar returns up to limit of the user's records ranked by
// cosine similarity to embedding.
func (s *PostgresStore) SearchSimilar(ctx context.Context, userID string, embedding []float32, limit int) ([]*Record, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, user_id, role, content, embedding, created_at
		 FROM memories
		 WHERE user_id = $1 AND embedding IS NOT NULL AND cardinality(embedding) = $2`,
		userID, len(embedding),
	)
	if err != nil {
		return nil, fmt.Errorf("query memories: %w", err)
	}
	defer rows.Close()

	all, err := collectRecords(rows)
	if err != nil {
		return nil, err
	}
	return rank(all, embedding, limit), nil
}

// Recent returns the user's last limit records in chronological order.
func (s *PostgresStore) Recent(ctx context.Context, userID string, limit int) ([]*Record, error) {
	if limit <= 0 {
		return nil, nil
	}
	rows, err := s.pool.Query(ctx,
		`SELECT id, user_id, role, content, embedding, created_at
		 FROM memories
		 WHERE user_id = $1
		 ORDER BY created_at DESC, id DESC
		 LIMIT $2`,
		userID, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("query recent memories: %w", err)
	}
	defer rows.Close()

	records, err := collectRecords(rows)
	if err != nil {
		return nil, err
	}
	reverse(records)
	return records, nil
}

// Close releases the connection pool.
func (s *PostgresStore) Close() error {
	s.pool.Close()
	return nil
}

func collectRecords(rows pgx.Rows) ([]*Record, error) {
	var out []*Record
	for rows.Next() {
		var r Record
		if err := rows.Scan(&r.ID, &r.UserID, &r.Role, &r.Content, &r.Embedding, &r.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan memory: %w", err)
		}
		r.CreatedAt = r.CreatedAt.UTC()
		out = append(out, &r)
	}
	return out, rows.Err()
}
