package learning

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/nugget/taskpilot/internal/interactions"
)

// Transcript is the part of the interactions store the observer reads.
type Transcript interface {
	History(ctx context.Context, conversationID string, limit int) ([]*interactions.Turn, error)
}

// Result reports what an observation learned.
type Result struct {
	Learned           bool     `json:"learned"`
	Patterns          []string `json:"patterns,omitempty"`
	GuidelinesUpdated bool     `json:"guidelines_updated"`
	Message           string   `json:"message"`
}

// Observer learns from edits and feedback on drafts.
type Observer struct {
	updater    *Updater
	transcript Transcript
	logger     *slog.Logger
}

// NewObserver wires an observer to the guideline store and transcript.
func NewObserver(store GuidelineStore, transcript Transcript, logger *slog.Logger) *Observer {
	if logger == nil {
		logger = slog.Default()
	}
	return &Observer{
		updater:    NewUpdater(store),
		transcript: transcript,
		logger:     logger.With("component", "learning"),
	}
}

// ObserveEdit learns from the user's edited version of a draft.
func (o *Observer) ObserveEdit(ctx context.Context, original, edited string) (*Result, error) {
	a := Analyze(original, edited)
	if !a.Significant {
		return &Result{Message: "Changes were minor, nothing significant to learn."}, nil
	}

	patterns := ExtractPatterns(a.Changes)
	if len(patterns) == 0 {
		patterns = []string{"User edited draft: " + firstLine(a.Summary)}
	}

	added, err := o.apply(ctx, patterns)
	if err != nil {
		return nil, err
	}
	return &Result{
		Learned:           true,
		Patterns:          patterns,
		GuidelinesUpdated: added > 0,
		Message:           fmt.Sprintf("Learned %d pattern(s), updated guidelines with %d new pattern(s).", len(patterns), added),
	}, nil
}

// ObserveFeedback learns from feedback given on the latest draft in a
// conversation. Long feedback that does not open with an approval or
// refusal is treated as an edited copy of the draft.
func (o *Observer) ObserveFeedback(ctx context.Context, conversationID, feedback string) (*Result, error) {
	history, err := o.transcript.History(ctx, conversationID, 0)
	if err != nil {
		return nil, fmt.Errorf("load conversation: %w", err)
	}

	draft := ""
	for i := len(history) - 1; i >= 0; i-- {
		t := history[i]
		if t.Role == interactions.RoleAgent && t.Metadata["type"] == "draft" {
			draft = t.Content
			break
		}
	}
	if draft == "" {
		return &Result{Message: "No previous draft found to learn from."}, nil
	}

	if looksLikeEdit(feedback) {
		return o.ObserveEdit(ctx, draft, feedback)
	}

	patterns := PatternsFromFeedback(feedback)
	if len(patterns) == 0 {
		return &Result{Message: "Could not extract specific patterns from feedback."}, nil
	}
	added, err := o.apply(ctx, patterns)
	if err != nil {
		return nil, err
	}
	return &Result{
		Learned:           true,
		Patterns:          patterns,
		GuidelinesUpdated: added > 0,
		Message:           fmt.Sprintf("Learned %d pattern(s) from feedback.", len(patterns)),
	}, nil
}

func (o *Observer) apply(ctx context.Context, patterns []string) (int, error) {
	added := 0
	for _, p := range patterns {
		ok, err := o.updater.AddPattern(ctx, p)
		if err != nil {
			return added, fmt.Errorf("add pattern: %w", err)
		}
		if ok {
			added++
			o.logger.Info("learned guideline pattern", "pattern", p)
		}
	}
	return added, nil
}

func looksLikeEdit(feedback string) bool {
	if len(feedback) <= 50 {
		return false
	}
	lower := strings.ToLower(strings.TrimSpace(feedback))
	for _, p := range []string{"yes", "no", "ok", "send", "approve"} {
		if strings.HasPrefix(lower, p) {
			return false
		}
	}
	return true
}

func firstLine(s string) string {
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		return s[:i]
	}
	return s
}
