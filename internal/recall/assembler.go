// Package recall gathers the memory context for a turn: durable facts,
// the user's focus and active task, the recent exchange window, and the
// stored messages most similar to the new one. Every source is advisory;
// a failing source leaves its slice empty and the rest still arrive.
package recall

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"github.com/sourcegraph/conc"
	"github.com/sourcegraph/conc/panics"

	"github.com/nugget/taskpilot/internal/embeddings"
	"github.com/nugget/taskpilot/internal/facts"
	"github.com/nugget/taskpilot/internal/memory"
)

// Source names, used in logs, metrics and Context.Failed.
const (
	SourceFacts      = "facts"
	SourceFocus      = "focus"
	SourceActiveTask = "active_task"
	SourceRecent     = "recent"
	SourceSimilar    = "similar"
)

// FactSource renders the durable fact list.
type FactSource interface {
	RenderAsText(ctx context.Context) (string, error)
}

// FocusSource reads a user's focus line.
type FocusSource interface {
	Get(ctx context.Context, userID string) (string, bool, error)
}

// TaskSource renders a user's active task, or "" when there is none.
type TaskSource interface {
	Text(ctx context.Context, userID string) (string, error)
}

// FailureCounter is satisfied by observability.Metrics.
type FailureCounter interface {
	RecallFailed(source string)
}

// Config bounds the memory slices.
type Config struct {
	RecentLimit  int
	SimilarLimit int
	// UserLabel names the user in rendered memory lines.
	UserLabel string
}

// Deps are the assembler's collaborators. Any of them may be nil, in
// which case that slice is skipped.
type Deps struct {
	Facts      FactSource
	Focus      FocusSource
	ActiveTask TaskSource
	Memory     memory.Store
	Embedder   embeddings.Provider
	Metrics    FailureCounter
	Logger     *slog.Logger
}

// Context is the assembled memory context for one turn.
type Context struct {
	Facts      string
	Focus      string
	ActiveTask string
	Recent     []*memory.Record
	Similar    []*memory.Record

	// Embedding is the message's embedding, or nil if it could not be
	// computed. The loop reuses it when storing the user's message.
	Embedding []float32

	// Failed lists the sources that errored or panicked.
	Failed []string

	userLabel string
}

// Assembler builds a Context from its sources.
type Assembler struct {
	deps   Deps
	cfg    Config
	logger *slog.Logger
}

// NewAssembler returns an assembler. Zero limits default to 10 recent
// and 5 similar records.
func NewAssembler(deps Deps, cfg Config) *Assembler {
	if cfg.RecentLimit <= 0 {
		cfg.RecentLimit = 10
	}
	if cfg.SimilarLimit <= 0 {
		cfg.SimilarLimit = 5
	}
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Assembler{deps: deps, cfg: cfg, logger: logger.With("component", "recall")}
}

// Assemble gathers every source concurrently. It never fails.
func (a *Assembler) Assemble(ctx context.Context, userID, message string) *Context {
	out := &Context{Facts: facts.EmptyText, userLabel: a.cfg.UserLabel}

	var (
		mu sync.Mutex
		wg conc.WaitGroup
	)
	run := func(source string, fn func() error) {
		wg.Go(func() {
			var pc panics.Catcher
			var err error
			pc.Try(func() { err = fn() })
			if r := pc.Recovered(); r != nil {
				err = fmt.Errorf("panic: %v", r.Value)
			}
			if err == nil {
				return
			}
			a.logger.Warn("memory context source failed", "source", source, "user_id", userID, "error", err)
			if a.deps.Metrics != nil {
				a.deps.Metrics.RecallFailed(source)
			}
			mu.Lock()
			out.Failed = append(out.Failed, source)
			mu.Unlock()
		})
	}

	if a.deps.Facts != nil {
		run(SourceFacts, func() error {
			text, err := a.deps.Facts.RenderAsText(ctx)
			if err != nil {
				return err
			}
			mu.Lock()
			out.Facts = text
			mu.Unlock()
			return nil
		})
	}

	if a.deps.Focus != nil {
		run(SourceFocus, func() error {
			v, ok, err := a.deps.Focus.Get(ctx, userID)
			if err != nil || !ok {
				return err
			}
			mu.Lock()
			out.Focus = v
			mu.Unlock()
			return nil
		})
	}

	if a.deps.ActiveTask != nil {
		run(SourceActiveTask, func() error {
			text, err := a.deps.ActiveTask.Text(ctx, userID)
			if err != nil {
				return err
			}
			mu.Lock()
			out.ActiveTask = text
			mu.Unlock()
			return nil
		})
	}

	if a.deps.Memory != nil {
		run(SourceRecent, func() error {
			recs, err := a.deps.Memory.Recent(ctx, userID, a.cfg.RecentLimit)
			if err != nil {
				return err
			}
			mu.Lock()
			out.Recent = recs
			mu.Unlock()
			return nil
		})

		if a.deps.Embedder != nil {
			run(SourceSimilar, func() error {
				emb, err := a.deps.Embedder.Embed(ctx, message)
				if err != nil {
					return fmt.Errorf("embed message: %w", err)
				}
				mu.Lock()
				out.Embedding = emb
				mu.Unlock()

				recs, err := a.deps.Memory.SearchSimilar(ctx, userID, emb, a.cfg.SimilarLimit)
				if err != nil {
					return err
				}
				mu.Lock()
				out.Similar = recs
				mu.Unlock()
				return nil
			})
		}
	}

	wg.Wait()
	return out
}

// Render formats the per-user slices for the system prompt. Facts are
// rendered separately by the prompt template.
func (c *Context) Render() string {
	var sb strings.Builder

	if c.Focus != "" {
		fmt.Fprintf(&sb, "## Current Focus\n\n%s\n\n", c.Focus)
	}
	if c.ActiveTask != "" {
		sb.WriteString(strings.TrimRight(c.ActiveTask, "\n"))
		sb.WriteString("\n\n")
	}
	fmt.Fprintf(&sb, "## Recent Conversation\n\n%s\n\n", memory.Render(c.Recent, c.userLabel))
	fmt.Fprintf(&sb, "## Relevant Past Context\n\n%s", memory.Render(c.Similar, c.userLabel))
	return sb.String()
}
