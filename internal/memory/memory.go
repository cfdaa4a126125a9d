// Package memory is the long-term conversational memory: every user and
// assistant utterance is stored with its embedding so later turns can
// recall the most recent and the most similar exchanges.
package memory

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/nugget/taskpilot/internal/embeddings"
)

// Roles a memory record can carry.
const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// EmptyText is what Render returns for an empty list.
const EmptyText = "(No relevant past context)"

// maxRenderChars bounds each rendered record's content.
const maxRenderChars = 500

// Record is one remembered utterance. Similarity is only set on results
// of SearchSimilar.
type Record struct {
	ID         string    `json:"id"`
	UserID     string    `json:"user_id"`
	Role       string    `json:"role"`
	Content    string    `json:"content"`
	Embedding  []float32 `json:"-"`
	CreatedAt  time.Time `json:"created_at"`
	Similarity float32   `json:"similarity,omitempty"`
}

// Store persists memory records. Records are append-only and scoped by
// user.
type Store interface {
	Store(ctx context.Context, userID, role, content string, embedding []float32) (*Record, error)
	SearchSimilar(ctx context.Context, userID string, embedding []float32, limit int) ([]*Record, error)
	Recent(ctx context.Context, userID string, limit int) ([]*Record, error)
	Close() error
}

func validRole(role string) error {
	switch role {
	case RoleUser, RoleAssistant:
		return nil
	default:
		return fmt.Errorf("invalid memory role %q", role)
	}
}

// rank scores candidates against query and returns the best limit of
// them. Zero or mismatched embeddings are skipped. Equal scores prefer
// the newer record.
func rank(candidates []*Record, query []float32, limit int) []*Record {
	if limit <= 0 || len(query) == 0 || embeddings.IsZero(query) {
		return nil
	}

	var scored []*Record
	for _, r := range candidates {
		if len(r.Embedding) != len(query) || embeddings.IsZero(r.Embedding) {
			continue
		}
		r.Similarity = embeddings.CosineSimilarity(query, r.Embedding)
		scored = append(scored, r)
	}

	sort.SliceStable(scored, func(i, j int) bool {
		a, b := scored[i], scored[j]
		if a.Similarity != b.Similarity {
			return a.Similarity > b.Similarity
		}
		if !a.CreatedAt.Equal(b.CreatedAt) {
			return a.CreatedAt.After(b.CreatedAt)
		}
		return a.ID > b.ID
	})

	if len(scored) > limit {
		scored = scored[:limit]
	}
	return scored
}

// Render formats records for the prompt, one per line:
//
//	[2025-01-15 09:30] User: what's on my calendar?
//	[2025-01-15 09:30] You: Two meetings this afternoon.
//
// userLabel replaces "User" when set.
func Render(records []*Record, userLabel string) string {
	if len(records) == 0 {
		return EmptyText
	}
	if userLabel == "" {
		userLabel = "User"
	}

	lines := make([]string, 0, len(records))
	for _, r := range records {
		speaker := userLabel
		if r.Role == RoleAssistant {
			speaker = "You"
		}
		content := r.Content
		if runes := []rune(content); len(runes) > maxRenderChars {
			content = string(runes[:maxRenderChars]) + "..."
		}
		lines = append(lines, fmt.Sprintf("[%s] %s: %s",
			r.CreatedAt.Local().Format("2006-01-02 15:04"), speaker, content))
	}
	return strings.Join(lines, "\n")
}

func reverse(records []*Record) {
	for i, j := 0, len(records)-1; i < j; i, j = i+1, j-1 {
		records[i], records[j] = records[j], records[i]
	}
}
