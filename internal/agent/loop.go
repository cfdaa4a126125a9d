// Package agent implements the per-turn agent loop: build the prompt,
// call the model, parse its reply, dispatch tools, and stop on a final
// answer, a draft, or an exhausted iteration budget.
package agent

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/sourcegraph/conc/panics"

	"github.com/nugget/taskpilot/internal/embeddings"
	"github.com/nugget/taskpilot/internal/guidelines"
	"github.com/nugget/taskpilot/internal/interactions"
	"github.com/nugget/taskpilot/internal/llm"
	"github.com/nugget/taskpilot/internal/llmlog"
	"github.com/nugget/taskpilot/internal/memory"
	"github.com/nugget/taskpilot/internal/observability"
	"github.com/nugget/taskpilot/internal/prompts"
	"github.com/nugget/taskpilot/internal/recall"
	"github.com/nugget/taskpilot/internal/tools"
	"github.com/nugget/taskpilot/internal/usage"
)

// Default request parameters for loop model calls.
const (
	DefaultMaxIterations = 10
	DefaultTemperature   = 0.7
	DefaultMaxTokens     = 2000
)

// Outcome is how a turn ended.
type Outcome string

// Turn outcomes. They double as the "type" metadata of the persisted
// agent turn.
const (
	OutcomeFinal     Outcome = "final_answer"
	OutcomeDraft     Outcome = "draft"
	OutcomeExhausted Outcome = "max_iterations_reached"
	OutcomeApproved  Outcome = "approved"
	OutcomeReset     Outcome = "reset"
)

// Request is one user turn.
type Request struct {
	ConversationID string
	UserID         string
	Message        string
	// Context is optional extra material (an email body, a document)
	// rendered under its own heading in the task prompt.
	Context string
}

// Result is the outcome of a turn.
type Result struct {
	ConversationID string  `json:"conversation_id"`
	Content        string  `json:"content"`
	Outcome        Outcome `json:"outcome"`
	// Draft is the raw draft text when Outcome is OutcomeDraft.
	Draft      string `json:"draft,omitempty"`
	Focus      string `json:"focus,omitempty"`
	Iterations int    `json:"iterations"`
}

// ContextAssembler gathers the memory context for a turn.
type ContextAssembler interface {
	Assemble(ctx context.Context, userID, message string) *recall.Context
}

// GuidelineSource supplies the current guidelines document.
type GuidelineSource interface {
	GetOrCreateCurrent(ctx context.Context) (*guidelines.Version, error)
}

// TurnStore persists the conversation transcript.
type TurnStore interface {
	CreateConversationID() string
	Append(ctx context.Context, t interactions.Turn) (*interactions.Turn, error)
	History(ctx context.Context, conversationID string, limit int) ([]*interactions.Turn, error)
}

// FocusWriter records the user's current focus.
type FocusWriter interface {
	Set(ctx context.Context, userID, value string) error
}

// Config tunes the loop.
type Config struct {
	MaxIterations int
	UserName      string
	Temperature   float64
	MaxTokens     int
}

// Deps are the loop's collaborators. Provider and Tools are required;
// every other dependency may be nil and its step is skipped.
type Deps struct {
	Provider   llm.Provider
	Tools      *tools.Registry
	Recall     ContextAssembler
	Guidelines GuidelineSource
	Turns      TurnStore
	Memory     memory.Store
	Embedder   embeddings.Provider
	Focus      FocusWriter
	Recorder   *llmlog.Recorder
	Ledger     *usage.Ledger
	Metrics    *observability.Metrics
	Logger     *slog.Logger
	Config     Config
}

// Loop runs agent turns.
type Loop struct {
	Deps
	logger *slog.Logger
}

// NewLoop validates deps and fills in defaults.
func NewLoop(deps Deps) (*Loop, error) {
	if deps.Provider == nil {
		return nil, fmt.Errorf("agent: provider is required")
	}
	if deps.Tools == nil {
		return nil, fmt.Errorf("agent: tool registry is required")
	}
	if deps.Config.MaxIterations <= 0 {
		deps.Config.MaxIterations = DefaultMaxIterations
	}
	if deps.Config.Temperature <= 0 {
		deps.Config.Temperature = DefaultTemperature
	}
	if deps.Config.MaxTokens <= 0 {
		deps.Config.MaxTokens = DefaultMaxTokens
	}
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Loop{Deps: deps, logger: logger.With("component", "agent")}, nil
}

// Run executes one turn for req.Message.
func (l *Loop) Run(ctx context.Context, req Request) (*Result, error) {
	return l.run(ctx, req, req.Message, map[string]any{"type": "message"})
}

// IsApproval reports whether text approves a pending draft.
func IsApproval(text string) bool {
	switch strings.ToLower(strings.TrimSpace(text)) {
	case "send it", "looks good", "approved", "yes", "ok", "okay":
		return true
	}
	return false
}

// HandleFeedback handles the user's reply to a draft. An approval is
// acknowledged without a model call; anything else runs a new turn in
// the same conversation asking the model to revise.
func (l *Loop) HandleFeedback(ctx context.Context, req Request) (*Result, error) {
	if IsApproval(req.Message) {
		l.appendTurn(ctx, interactions.Turn{
			ConversationID: req.ConversationID,
			UserID:         req.UserID,
			Role:           interactions.RoleUser,
			Content:        req.Message,
			Metadata:       map[string]any{"type": "feedback", "approved": true},
		})
		l.Metrics.ObserveTurn(string(OutcomeApproved), 0)
		return &Result{
			ConversationID: req.ConversationID,
			Content:        prompts.ApprovalReply,
			Outcome:        OutcomeApproved,
		}, nil
	}
	return l.run(ctx, req, prompts.FeedbackPrompt(req.Message), map[string]any{"type": "feedback"})
}

func (l *Loop) run(ctx context.Context, req Request, task string, userMeta map[string]any) (*Result, error) {
	if req.ConversationID == "" {
		req.ConversationID = l.newConversationID()
	}
	logger := l.logger.With("conversation_id", req.ConversationID, "user_id", req.UserID)
	ctx = tools.WithUserID(ctx, req.UserID)
	ctx = tools.WithConversationID(ctx, req.ConversationID)

	l.appendTurn(ctx, interactions.Turn{
		ConversationID: req.ConversationID,
		UserID:         req.UserID,
		Role:           interactions.RoleUser,
		Content:        req.Message,
		Metadata:       userMeta,
	})

	rc := l.assemble(ctx, req)
	system := prompts.SystemPrompt(prompts.SystemData{
		UserName:      l.Config.UserName,
		Facts:         rc.Facts,
		Guidelines:    l.guidelines(ctx),
		Tools:         l.Tools.Describe(),
		MemoryContext: rc.Render(),
	})
	taskPrompt := prompts.TaskPrompt(task, req.Context)

	var (
		history   []llm.Message
		current   = taskPrompt
		continued bool
		focus     string
		audit     = runLog{rec: l.Recorder}
	)
	defer audit.closeAll(context.WithoutCancel(ctx))

	for i := 0; i < l.Config.MaxIterations; i++ {
		messages := append(append([]llm.Message(nil), history...), llm.Message{Role: llm.RoleUser, Content: current})

		start := time.Now()
		resp, err := l.Provider.Complete(ctx, llm.Request{
			System:      system,
			Messages:    messages,
			Temperature: l.Config.Temperature,
			MaxTokens:   l.Config.MaxTokens,
		})
		l.Metrics.ObserveLLM(l.Provider.Name(), time.Since(start), err)

		logReq := llmlog.Request{
			ConversationID:      req.ConversationID,
			Iteration:           i,
			Provider:            l.Provider.Name(),
			Model:               l.Provider.Model(),
			SystemPrompt:        system,
			Messages:            messages,
			OriginalUserMessage: req.Message,
		}
		if err != nil {
			logReq.Error = err.Error()
			audit.log(ctx, logReq)
			l.Metrics.ObserveTurn("error", i+1)
			logger.Error("model call failed", "iteration", i, "error", err)
			return nil, fmt.Errorf("model call (iteration %d): %w", i, err)
		}
		logReq.Response = resp.Content
		logReq.Metadata = llmlog.Metadata(resp)
		entryID := audit.log(ctx, logReq)
		l.Ledger.Observe(ctx, usage.Call{
			ConversationID: req.ConversationID,
			UserID:         req.UserID,
			Iteration:      i,
			Provider:       l.Provider.Name(),
		}, resp)

		parsed := ParseResponse(resp.Content)
		logger.Debug("model response parsed", "iteration", i, "kind", parsed.Kind, "action", parsed.ActionName)
		if parsed.Focus != "" {
			focus = parsed.Focus
			l.setFocus(ctx, req.UserID, focus)
		}

		switch parsed.Kind {
		case KindFinal:
			return l.finish(ctx, req, rc, &Result{
				Content:    parsed.Content,
				Outcome:    OutcomeFinal,
				Focus:      focus,
				Iterations: i + 1,
			}, map[string]any{"type": string(OutcomeFinal)}), nil

		case KindDraft:
			return l.finish(ctx, req, rc, &Result{
				Content:    prompts.DraftReply(parsed.Content),
				Outcome:    OutcomeDraft,
				Draft:      parsed.Content,
				Focus:      focus,
				Iterations: i + 1,
			}, map[string]any{"type": string(OutcomeDraft), "needs_approval": true}), nil

		case KindAction:
			obs := l.runTool(ctx, logger, parsed)
			audit.observe(ctx, entryID, obs)
			if !continued {
				history = append(history, llm.Message{Role: llm.RoleUser, Content: taskPrompt})
				continued = true
			}
			history = append(history,
				llm.Message{Role: llm.RoleAssistant, Content: resp.Content},
				llm.Message{Role: llm.RoleUser, Content: obs},
			)
			current = prompts.ContinuePrompt

		default:
			if !continued {
				history = append(history, llm.Message{Role: llm.RoleUser, Content: taskPrompt})
				continued = true
			}
			history = append(history, llm.Message{Role: llm.RoleAssistant, Content: resp.Content})
			current = prompts.CorrectivePrompt
		}
	}

	logger.Warn("iteration budget exhausted", "max_iterations", l.Config.MaxIterations)
	l.appendTurn(ctx, interactions.Turn{
		ConversationID: req.ConversationID,
		UserID:         req.UserID,
		Role:           interactions.RoleAgent,
		Content:        prompts.ExhaustedReply,
		Metadata:       map[string]any{"type": string(OutcomeExhausted)},
	})
	l.Metrics.ObserveTurn(string(OutcomeExhausted), l.Config.MaxIterations)
	return &Result{
		ConversationID: req.ConversationID,
		Content:        prompts.ExhaustedReply,
		Outcome:        OutcomeExhausted,
		Focus:          focus,
		Iterations:     l.Config.MaxIterations,
	}, nil
}

// runLog tracks one run's llm log entries. Each entry starts with the
// observations gathered before it and stays open until the run ends.
type runLog struct {
	rec          *llmlog.Recorder
	observations []string
	open         []string
}

func (r *runLog) log(ctx context.Context, req llmlog.Request) string {
	req.Observations = r.observations
	id := r.rec.LogRequest(ctx, req)
	if id != "" {
		r.open = append(r.open, id)
	}
	return id
}

func (r *runLog) observe(ctx context.Context, id, text string) {
	r.observations = append(r.observations, text)
	r.rec.AddObservation(ctx, id, text)
}

func (r *runLog) closeAll(ctx context.Context) {
	for _, id := range r.open {
		r.rec.CloseEntry(ctx, id)
	}
	r.open = nil
}

// finish persists a terminal turn and its memory records.
func (l *Loop) finish(ctx context.Context, req Request, rc *recall.Context, res *Result, meta map[string]any) *Result {
	res.ConversationID = req.ConversationID
	stored := res.Content
	if res.Outcome == OutcomeDraft {
		stored = res.Draft
	}
	l.appendTurn(ctx, interactions.Turn{
		ConversationID: req.ConversationID,
		UserID:         req.UserID,
		Role:           interactions.RoleAgent,
		Content:        stored,
		Metadata:       meta,
	})
	l.remember(ctx, req.UserID, memory.RoleUser, req.Message, rc.Embedding)
	l.remember(ctx, req.UserID, memory.RoleAssistant, stored, nil)
	l.Metrics.ObserveTurn(string(res.Outcome), res.Iterations)
	return res
}

// runTool executes an action and renders the observation. Handler
// errors and panics both become error observations.
func (l *Loop) runTool(ctx context.Context, logger *slog.Logger, p *ParsedResponse) string {
	var (
		pc  panics.Catcher
		res tools.Result
	)
	pc.Try(func() { res = l.Tools.Run(ctx, p.ActionName, p.ActionInput) })
	if r := pc.Recovered(); r != nil {
		res = tools.Err(fmt.Errorf("panic: %v", r.Value))
	}
	l.Metrics.ObserveTool(p.ActionName, res.IsOk())
	if !res.IsOk() {
		logger.Warn("tool failed", "tool", p.ActionName, "error", res.Error())
		return prompts.ObservationError(p.ActionName, res.Error())
	}
	logger.Debug("tool executed", "tool", p.ActionName, "result_len", len(res.Text()))
	return prompts.Observation(res.Text())
}

func (l *Loop) assemble(ctx context.Context, req Request) *recall.Context {
	if l.Recall == nil {
		return &recall.Context{}
	}
	return l.Recall.Assemble(ctx, req.UserID, req.Message)
}

func (l *Loop) guidelines(ctx context.Context) string {
	if l.Guidelines == nil {
		return ""
	}
	g, err := l.Guidelines.GetOrCreateCurrent(ctx)
	if err != nil {
		l.persistFailed("guidelines", err)
		return ""
	}
	return g.Content
}

func (l *Loop) newConversationID() string {
	if l.Turns != nil {
		return l.Turns.CreateConversationID()
	}
	return uuid.Must(uuid.NewV7()).String()
}

func (l *Loop) appendTurn(ctx context.Context, t interactions.Turn) {
	if l.Turns == nil {
		return
	}
	if _, err := l.Turns.Append(ctx, t); err != nil {
		l.persistFailed("interactions", err, "conversation_id", t.ConversationID, "role", t.Role)
	}
}

// remember stores a memory record, embedding content when emb is nil.
func (l *Loop) remember(ctx context.Context, userID, role, content string, emb []float32) {
	if l.Memory == nil {
		return
	}
	if emb == nil {
		if l.Embedder == nil {
			return
		}
		var err error
		if emb, err = l.Embedder.Embed(ctx, content); err != nil {
			l.persistFailed("embeddings", err, "role", role)
			return
		}
	}
	if _, err := l.Memory.Store(ctx, userID, role, content, emb); err != nil {
		l.persistFailed("memory", err, "role", role)
	}
}

func (l *Loop) setFocus(ctx context.Context, userID, value string) {
	if l.Focus == nil {
		return
	}
	if err := l.Focus.Set(ctx, userID, value); err != nil {
		l.persistFailed("focus", err)
	}
}

func (l *Loop) persistFailed(store string, err error, attrs ...any) {
	l.Metrics.PersistFailed(store)
	l.logger.Error("persistence failed", append([]any{"store", store, "error", err}, attrs...)...)
}
