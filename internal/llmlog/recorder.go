package llmlog

import (
	"context"
	"log/slog"
)

// Counter is satisfied by prometheus.Counter.
type Counter interface {
	Inc()
}

// Recorder is the agent loop's view of the log. It never returns
// errors: failures are logged and counted, and the turn goes on.
type Recorder struct {
	store    *Store
	logger   *slog.Logger
	failures Counter
}

// NewRecorder wraps store. A nil store makes every call a no-op;
// failures may be nil.
func NewRecorder(store *Store, logger *slog.Logger, failures Counter) *Recorder {
	if logger == nil {
		logger = slog.Default()
	}
	return &Recorder{store: store, logger: logger.With("component", "llmlog"), failures: failures}
}

// LogRequest stores a model call and returns the entry id, or "" when
// the write failed.
func (r *Recorder) LogRequest(ctx context.Context, req Request) string {
	if r == nil || r.store == nil {
		return ""
	}
	e, err := r.store.LogRequest(ctx, req)
	if err != nil {
		r.fail("log request", err, "conversation_id", req.ConversationID, "iteration", req.Iteration)
		return ""
	}
	return e.ID
}

// AddObservation attaches text to entry id. An empty id is ignored.
func (r *Recorder) AddObservation(ctx context.Context, id, text string) {
	if r == nil || r.store == nil || id == "" {
		return
	}
	if err := r.store.AddObservation(ctx, id, text); err != nil {
		r.fail("add observation", err, "entry_id", id)
	}
}

// CloseEntry marks entry id closed. An empty id is ignored.
func (r *Recorder) CloseEntry(ctx context.Context, id string) {
	if r == nil || r.store == nil || id == "" {
		return
	}
	if err := r.store.CloseEntry(ctx, id); err != nil {
		r.fail("close entry", err, "entry_id", id)
	}
}

func (r *Recorder) fail(op string, err error, attrs ...any) {
	if r.failures != nil {
		r.failures.Inc()
	}
	r.logger.Error("llm log write failed", append([]any{"op", op, "error", err}, attrs...)...)
}
