package agent

import (
	"context"
	"log/slog"
	"strings"
	"sync"

	"github.com/nugget/taskpilot/internal/learning"
	"github.com/nugget/taskpilot/internal/prompts"
)

// ConversationLocator finds and mints conversation ids.
type ConversationLocator interface {
	CreateConversationID() string
	LatestConversation(ctx context.Context, userID string) (string, bool, error)
}

// FeedbackObserver learns from the user's reaction to a draft.
type FeedbackObserver interface {
	ObserveFeedback(ctx context.Context, conversationID, feedback string) (*learning.Result, error)
}

// Manager routes chat messages for many users. Each user has one
// active conversation and at most one pending draft; a user's turns
// are serialised while different users run concurrently.
type Manager struct {
	loop    *Loop
	convs   ConversationLocator
	learner FeedbackObserver
	logger  *slog.Logger

	mu    sync.Mutex
	users map[string]*userState
}

type userState struct {
	mu             sync.Mutex
	conversationID string
	pendingDraft   string
}

// NewManager creates a manager. learner may be nil.
func NewManager(loop *Loop, convs ConversationLocator, learner FeedbackObserver, logger *slog.Logger) *Manager {
	if logger == nil {
		logger = slog.Default()
	}
	return &Manager{
		loop:    loop,
		convs:   convs,
		learner: learner,
		logger:  logger.With("component", "conversations"),
		users:   make(map[string]*userState),
	}
}

// IsReset reports whether text asks for a fresh conversation.
func IsReset(text string) bool {
	switch strings.ToLower(strings.TrimSpace(text)) {
	case "new conversation", "reset", "start over":
		return true
	}
	return false
}

func (m *Manager) state(userID string) *userState {
	m.mu.Lock()
	defer m.mu.Unlock()
	st, ok := m.users[userID]
	if !ok {
		st = &userState{}
		m.users[userID] = st
	}
	return st
}

// Handle processes one message from userID.
func (m *Manager) Handle(ctx context.Context, userID, message string) (*Result, error) {
	st := m.state(userID)
	st.mu.Lock()
	defer st.mu.Unlock()

	if IsReset(message) {
		st.conversationID = m.newConversationID()
		st.pendingDraft = ""
		m.logger.Info("conversation reset", "user_id", userID, "conversation_id", st.conversationID)
		m.loop.Metrics.ObserveTurn(string(OutcomeReset), 0)
		return &Result{ConversationID: st.conversationID, Content: prompts.ResetReply, Outcome: OutcomeReset}, nil
	}

	if st.conversationID == "" {
		st.conversationID = m.resume(ctx, userID)
	}
	req := Request{ConversationID: st.conversationID, UserID: userID, Message: message}

	var (
		res *Result
		err error
	)
	switch {
	case IsApproval(message) && st.conversationID != "":
		st.pendingDraft = ""
		res, err = m.loop.HandleFeedback(ctx, req)
	default:
		// With a draft pending, only stated preferences feed learning.
		// The message itself runs as an ordinary turn.
		if st.pendingDraft != "" && len(learning.PatternsFromFeedback(message)) > 0 {
			m.observe(ctx, st.conversationID, message)
		}
		res, err = m.loop.Run(ctx, req)
	}
	if err != nil {
		return nil, err
	}

	st.conversationID = res.ConversationID
	if res.Outcome == OutcomeDraft {
		st.pendingDraft = res.Draft
	} else if res.Outcome != OutcomeApproved {
		st.pendingDraft = ""
	}
	return res, nil
}

// PendingDraft returns the draft awaiting userID's approval, if any.
func (m *Manager) PendingDraft(userID string) string {
	st := m.state(userID)
	st.mu.Lock()
	defer st.mu.Unlock()
	return st.pendingDraft
}

// ConversationID returns userID's active conversation, or "".
func (m *Manager) ConversationID(userID string) string {
	st := m.state(userID)
	st.mu.Lock()
	defer st.mu.Unlock()
	return st.conversationID
}

// resume picks up the user's most recent conversation after a restart.
func (m *Manager) resume(ctx context.Context, userID string) string {
	if m.convs == nil {
		return ""
	}
	id, ok, err := m.convs.LatestConversation(ctx, userID)
	if err != nil {
		m.logger.Warn("conversation lookup failed", "user_id", userID, "error", err)
		return ""
	}
	if !ok {
		return ""
	}
	return id
}

func (m *Manager) newConversationID() string {
	if m.convs != nil {
		return m.convs.CreateConversationID()
	}
	return m.loop.newConversationID()
}

func (m *Manager) observe(ctx context.Context, conversationID, feedback string) {
	if m.learner == nil {
		return
	}
	res, err := m.learner.ObserveFeedback(ctx, conversationID, feedback)
	if err != nil {
		m.logger.Warn("learning from feedback failed", "conversation_id", conversationID, "error", err)
		return
	}
	if res != nil && res.Learned {
		m.logger.Info("learned from feedback",
			"conversation_id", conversationID,
			"patterns", len(res.Patterns),
			"guidelines_updated", res.GuidelinesUpdated,
		)
	}
}
