package learning

import (
	"context"
	"strings"

	"github.com/nugget/taskpilot/internal/guidelines"
)

// GuidelineStore is the part of the guidelines store the updater needs.
type GuidelineStore interface {
	GetOrCreateCurrent(ctx context.Context) (*guidelines.Version, error)
	AddLearnedPattern(ctx context.Context, pattern string) (*guidelines.Version, error)
}

var stopWords = map[string]bool{
	"user": true, "prefers": true, "the": true, "a": true, "an": true, "is": true,
	"are": true, "was": true, "were": true, "to": true, "for": true, "in": true,
	"on": true, "at": true,
}

// Updater adds patterns to the guidelines unless they are already
// covered.
type Updater struct {
	store GuidelineStore
}

// NewUpdater returns an updater over store.
func NewUpdater(store GuidelineStore) *Updater {
	return &Updater{store: store}
}

// AddPattern appends pattern to the learned patterns and reports whether
// it was new.
func (u *Updater) AddPattern(ctx context.Context, pattern string) (bool, error) {
	cur, err := u.store.GetOrCreateCurrent(ctx)
	if err != nil {
		return false, err
	}
	if Covered(cur.Content, pattern) {
		return false, nil
	}
	if _, err := u.store.AddLearnedPattern(ctx, pattern); err != nil {
		return false, err
	}
	return true, nil
}

// Covered reports whether at least 70% of the pattern's key words
// already appear in content.
func Covered(content, pattern string) bool {
	content = strings.ToLower(content)
	words := map[string]bool{}
	for _, w := range strings.Fields(strings.ToLower(pattern)) {
		if !stopWords[w] {
			words[w] = true
		}
	}
	matches := 0
	for w := range words {
		if strings.Contains(content, w) {
			matches++
		}
	}
	return float64(matches) >= float64(len(words))*0.7
}
