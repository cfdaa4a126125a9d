package usage

import (
	"context"
	"log/slog"

	"github.com/nugget/taskpilot/internal/config"
	"github.com/nugget/taskpilot/internal/llm"
)

// Call identifies where a model call happened.
type Call struct {
	ConversationID string
	UserID         string
	Iteration      int
	Provider       string
}

// TokenObserver is told about every priced model response.
type TokenObserver interface {
	OnTokens(inputTokens, outputTokens int)
}

// Ledger prices model responses and records them. Write failures are
// logged, never returned.
type Ledger struct {
	store     *Store
	pricing   map[string]config.PricingEntry
	observers []TokenObserver
	logger    *slog.Logger
}

// NewLedger returns a ledger over store. A nil store disables recording.
func NewLedger(store *Store, pricing map[string]config.PricingEntry, logger *slog.Logger) *Ledger {
	if logger == nil {
		logger = slog.Default()
	}
	return &Ledger{store: store, pricing: pricing, logger: logger.With("component", "usage")}
}

// AddObserver registers o. Not safe to call once turns are running.
func (l *Ledger) AddObserver(o TokenObserver) {
	l.observers = append(l.observers, o)
}

// Observe records resp for call.
func (l *Ledger) Observe(ctx context.Context, call Call, resp *llm.Response) {
	if l == nil || resp == nil {
		return
	}
	for _, o := range l.observers {
		o.OnTokens(resp.InputTokens, resp.OutputTokens)
	}
	if l.store == nil {
		return
	}
	rec := Record{
		ConversationID: call.ConversationID,
		UserID:         call.UserID,
		Iteration:      call.Iteration,
		Model:          resp.Model,
		Provider:       call.Provider,
		InputTokens:    resp.InputTokens,
		OutputTokens:   resp.OutputTokens,
		CostUSD:        ComputeCost(resp.Model, resp.InputTokens, resp.OutputTokens, l.pricing),
	}
	if err := l.store.Record(ctx, rec); err != nil {
		l.logger.Warn("usage record failed", "error", err, "model", resp.Model)
	}
}
