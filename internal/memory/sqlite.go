package memory

import (
	"context"
	"database/sql"
	"encoding/binary"
	"fmt"
	"math"
	"time"

	"github.com/google/uuid"
	_ "github.com/mattn/go-sqlite3"
)

// timeLayout is fixed width so created_at sorts lexically.
const timeLayout = "2006-01-02T15:04:05.000000000Z07:00"

// SQLiteStore keeps memory records in a local SQLite database.
// Embeddings are stored as little-endian float32 blobs and compared in
// process.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore opens (or creates) the memory database at dbPath.
func NewSQLiteStore(dbPath string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	s := &SQLiteStore{db: db}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return s, nil
}

// NewSQLiteStoreWithDB uses an existing connection. The caller owns db.
func NewSQLiteStoreWithDB(db *sql.DB) (*SQLiteStore, error) {
	s := &SQLiteStore{db: db}
	if err := s.migrate(); err != nil {
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return s, nil
}

func (s *SQLiteStore) migrate() error {
	_, err := s.db.Exec(`
		CREATE TABLE IF NOT EXISTS memories (
			id TEXT PRIMARY KEY,
			user_id TEXT NOT NULL,
			role TEXT NOT NULL,
			content TEXT NOT NULL,
			embedding BLOB,
			created_at TEXT NOT NULL
		);
		CREATE INDEX IF NOT EXISTS idx_memories_user_created ON memories(user_id, created_at);
	`)
	return err
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// Store appends a record.
func (s *SQLiteStore) Store(ctx context.Context, userID, role, content string, embedding []float32) (*Record, error) {
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
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO memories (id, user_id, role, content, embedding, created_at) VALUES (?, ?, ?, ?, ?, ?)`,
		r.ID, r.UserID, r.Role, r.Content, encodeEmbedding(embedding), r.CreatedAt.Format(timeLayout),
	)
	if err != nil {
		return nil, fmt.Errorf("insert memory: %w", err)
	}
	return r, nil
}

// SearchSimilar returns up to limit of the user's records ranked by
// cosine similarity to embedding.
func (s *SQLiteStore) SearchSimilar(ctx context.Context, userID string, embedding []float32, limit int) ([]*Record, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, user_id, role, content, embedding, created_at
		 FROM memories WHERE user_id = ? AND embedding IS NOT NULL`, userID)
	if err != nil {
		return nil, fmt.Errorf("query memories: %w", err)
	}
	defer rows.Close()

	all, err := scanRecords(rows)
	if err != nil {
		return nil, err
	}
	return rank(all, embedding, limit), nil
}

// Recent returns the user's last limit records in chronological order.
func (s *SQLiteStore) Recent(ctx context.Context, userID string, limit int) ([]*Record, error) {
	if limit <= 0 {
		return nil, nil
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, user_id, role, content, embedding, created_at
		 FROM memories WHERE user_id = ?
		 ORDER BY created_at DESC, id DESC LIMIT ?`, userID, limit)
	if err != nil {
		return nil, fmt.Errorf("query memories: %w", err)
	}
	defer rows.Close()

	records, err := scanRecords(rows)
	if err != nil {
		return nil, err
	}
	reverse(records)
	return records, nil
}

func scanRecords(rows *sql.Rows) ([]*Record, error) {
	var records []*Record
	for rows.Next() {
		var (
			r       Record
			blob    []byte
			created string
		)
		if err := rows.Scan(&r.ID, &r.UserID, &r.Role, &r.Content, &blob, &created); err != nil {
			return nil, fmt.Errorf("scan memory: %w", err)
		}
		r.Embedding = decodeEmbedding(blob)
		r.CreatedAt, _ = time.Parse(timeLayout, created)
		records = append(records, &r)
	}
	return records, rows.Err()
}

func encodeEmbedding(embedding []float32) []byte {
	if len(embedding) == 0 {
		return nil
	}
	buf := make([]byte, len(embedding)*4)
	for i, v := range embedding {
		binary.LittleEndian.PutUint32(buf[i*4:], math.Float32bits(v))
	}
	return buf
}

func decodeEmbedding(data []byte) []float32 {
	if len(data) == 0 {
		return nil
	}
	result := make([]float32, len(data)/4)
	for i := range result {
		result[i] = math.Float32frombits(binary.LittleEndian.Uint32(data[i*4:]))
	}
	return result
}
