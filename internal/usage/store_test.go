package usage

import (
	"context"
	"database/sql"
	"io"
	"log/slog"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/nugget/taskpilot/internal/config"
	"github.com/nugget/taskpilot/internal/llm"
	"github.com/nugget/taskpilot/internal/tools"
	_ "modernc.org/sqlite"
)

func testStore(t *testing.T) *Store {
	t.Helper()
	dbPath := filepath.Join(t.TempDir(), "usage_test.db")
	s, err := NewStore(dbPath)
	if err != nil {
		t.Fatalf("NewStore(%q): %v", dbPath, err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func testPricing() map[string]config.PricingEntry {
	return map[string]config.PricingEntry{
		"claude-sonnet-4-20250514": {InputPerMillion: 3.0, OutputPerMillion: 15.0},
		"gpt-4o-mini":              {InputPerMillion: 0.15, OutputPerMillion: 0.6},
	}
}

func window() (time.Time, time.Time) {
	return time.Now().Add(-time.Minute), time.Now().Add(time.Minute)
}

func TestRecord_And_Summary(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()

	recs := []Record{
		{ConversationID: "conv-1", UserID: "alice", Model: "claude-sonnet-4-20250514", Provider: "anthropic", InputTokens: 2000, OutputTokens: 1000, CostUSD: 0.021},
		{ConversationID: "conv-1", UserID: "alice", Iteration: 1, Model: "gpt-4o-mini", Provider: "openai", InputTokens: 1000, OutputTokens: 500, CostUSD: 0.00045},
		{ConversationID: "conv-2", UserID: "bob", Model: "qwen3:8b", Provider: "ollama", InputTokens: 300, OutputTokens: 50},
	}
	for _, r := range recs {
		if err := s.Record(ctx, r); err != nil {
			t.Fatalf("Record: %v", err)
		}
	}

	start, end := window()
	sum, err := s.Summary(ctx, start, end)
	if err != nil {
		t.Fatal(err)
	}
	if sum.TotalRecords != 3 || sum.TotalInputTokens != 3300 || sum.TotalOutputTokens != 1550 {
		t.Errorf("Summary = %+v", sum)
	}
	if diff := sum.TotalCostUSD - 0.02145; diff > 1e-9 || diff < -1e-9 {
		t.Errorf("TotalCostUSD = %f", sum.TotalCostUSD)
	}

	byUser, err := s.SummaryByUser(ctx, start, end)
	if err != nil {
		t.Fatal(err)
	}
	if byUser["alice"].TotalRecords != 2 || byUser["bob"].TotalRecords != 1 {
		t.Errorf("SummaryByUser = %+v", byUser)
	}

	byModel, _ := s.SummaryByModel(ctx, start, end)
	if len(byModel) != 3 || byModel["qwen3:8b"].TotalCostUSD != 0 {
		t.Errorf("SummaryByModel = %+v", byModel)
	}

	conv, _ := s.ConversationSummary(ctx, "conv-1")
	if conv.TotalRecords != 2 {
		t.Errorf("ConversationSummary = %+v", conv)
	}
}

func TestSummary_WindowFilters(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()

	s.Record(ctx, Record{Timestamp: time.Now().Add(-48 * time.Hour), Model: "m", Provider: "p", InputTokens: 10})
	s.Record(ctx, Record{Model: "m", Provider: "p", InputTokens: 20})

	start, end := window()
	sum, _ := s.Summary(ctx, start, end)
	if sum.TotalRecords != 1 || sum.TotalInputTokens != 20 {
		t.Errorf("Summary = %+v, want only the recent record", sum)
	}
}

func TestComputeCost(t *testing.T) {
	pricing := testPricing()

	tests := []struct {
		name   string
		model  string
		input  int
		output int
		want   float64
	}{
		{"sonnet", "claude-sonnet-4-20250514", 1_000_000, 100_000, 4.5},
		{"mini", "gpt-4o-mini", 1_000_000, 1_000_000, 0.75},
		{"unknown_model", "qwen3:8b", 1_000_000, 1_000_000, 0},
		{"zero_tokens", "claude-sonnet-4-20250514", 0, 0, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := ComputeCost(tt.model, tt.input, tt.output, pricing)
			if diff := got - tt.want; diff > 0.0001 || diff < -0.0001 {
				t.Errorf("ComputeCost(%q, %d, %d) = %f, want %f", tt.model, tt.input, tt.output, got, tt.want)
			}
		})
	}

	if got := ComputeCost("gpt-4o-mini", 1000, 500, nil); got != 0 {
		t.Errorf("ComputeCost with nil pricing = %f, want 0", got)
	}
}

func TestLedger_Observe(t *testing.T) {
	s := testStore(t)
	l := NewLedger(s, testPricing(), slog.New(slog.NewTextHandler(io.Discard, nil)))
	ctx := context.Background()

	l.Observe(ctx, Call{ConversationID: "c", UserID: "alice", Provider: "openai"},
		&llm.Response{Model: "gpt-4o-mini", InputTokens: 1_000_000})
	l.Observe(ctx, Call{}, nil)

	start, end := window()
	sum, _ := s.Summary(ctx, start, end)
	if sum.TotalRecords != 1 {
		t.Fatalf("records = %d, want 1", sum.TotalRecords)
	}
	if diff := sum.TotalCostUSD - 0.15; diff > 1e-9 || diff < -1e-9 {
		t.Errorf("cost = %f, want 0.15", sum.TotalCostUSD)
	}

	var nilLedger *Ledger
	nilLedger.Observe(ctx, Call{}, &llm.Response{})
}

type tokenCounter struct{ in, out, calls int }

func (c *tokenCounter) OnTokens(in, out int) {
	c.in += in
	c.out += out
	c.calls++
}

func TestLedger_Observers(t *testing.T) {
	var c tokenCounter
	l := NewLedger(nil, nil, nil)
	l.AddObserver(&c)

	l.Observe(context.Background(), Call{}, &llm.Response{Model: "m", InputTokens: 40, OutputTokens: 2})
	l.Observe(context.Background(), Call{}, &llm.Response{Model: "m", InputTokens: 10, OutputTokens: 3})
	if c.in != 50 || c.out != 5 || c.calls != 2 {
		t.Errorf("observer saw %+v", c)
	}
}

func TestCostSummaryTool(t *testing.T) {
	s := testStore(t)
	reg := tools.NewRegistry()
	RegisterTools(reg, s)
	ctx := context.Background()

	out, err := reg.Execute(ctx, "cost_summary", nil)
	if err != nil {
		t.Fatal(err)
	}
	if out != "No model calls in the last 7 day(s)." {
		t.Errorf("empty summary = %q", out)
	}

	s.Record(ctx, Record{Model: "gpt-4o-mini", Provider: "openai", InputTokens: 100, OutputTokens: 10, CostUSD: 0.5})
	s.Record(ctx, Record{Model: "claude-sonnet-4-20250514", Provider: "anthropic", InputTokens: 100, OutputTokens: 10, CostUSD: 1.25})

	out, err = reg.Execute(ctx, "cost_summary", map[string]any{"days": float64(1)})
	if err != nil {
		t.Fatal(err)
	}
	if !strings.HasPrefix(out, "Last 1 day(s): 2 calls, 200 input / 20 output tokens, $1.7500") {
		t.Errorf("summary = %q", out)
	}
	if strings.Index(out, "claude-sonnet") > strings.Index(out, "gpt-4o-mini") {
		t.Errorf("models should be ordered by cost:\n%s", out)
	}
}

func TestNewStoreWithDB(t *testing.T) {
	db, err := sql.Open("sqlite", ":memory:")
	if err != nil {
		t.Fatal(err)
	}
	db.SetMaxOpenConns(1)
	t.Cleanup(func() { db.Close() })

	s, err := NewStoreWithDB(db)
	if err != nil {
		t.Fatal(err)
	}
	if err := s.Record(context.Background(), Record{Model: "m", Provider: "p"}); err != nil {
		t.Fatal(err)
	}
}

func TestNewStore_InvalidPath(t *testing.T) {
	if _, err := NewStore("/nonexistent/path/usage.db"); err == nil {
		t.Error("NewStore() should fail for invalid path")
	}
}
