package recall

import (
	"context"
	"database/sql"
	"errors"
	"strings"
	"sync"
	"testing"

	_ "modernc.org/sqlite"

	"github.com/nugget/taskpilot/internal/facts"
	"github.com/nugget/taskpilot/internal/focus"
	"github.com/nugget/taskpilot/internal/memory"
)

func testDB(t *testing.T) *sql.DB {
	t.Helper()
	db, err := sql.Open("sqlite", ":memory:")
	if err != nil {
		t.Fatal(err)
	}
	db.SetMaxOpenConns(1)
	t.Cleanup(func() { db.Close() })
	return db
}

// fixedEmbedder maps every text to the same vector.
type fixedEmbedder struct {
	vec []float32
	err error
}

func (f fixedEmbedder) Embed(context.Context, string) ([]float32, error) { return f.vec, f.err }
func (f fixedEmbedder) Dimensions() int                                  { return len(f.vec) }

type failingFacts struct{}

func (failingFacts) RenderAsText(context.Context) (string, error) {
	return "", errors.New("facts table locked")
}

type panickingFocus struct{}

func (panickingFocus) Get(context.Context, string) (string, bool, error) {
	panic("focus exploded")
}

type countingMetrics struct {
	mu      sync.Mutex
	sources []string
}

func (m *countingMetrics) RecallFailed(source string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sources = append(m.sources, source)
}

func TestAssemble_AllSources(t *testing.T) {
	ctx := context.Background()
	db := testDB(t)

	fs, err := facts.NewStoreWithDB(db)
	if err != nil {
		t.Fatal(err)
	}
	fs.Add(ctx, "Prefers morning meetings")

	fc, err := focus.NewStoreWithDB(db)
	if err != nil {
		t.Fatal(err)
	}
	fc.Set(ctx, "u1", "Quarterly report")

	mem, err := memory.NewSQLiteStoreWithDB(db)
	if err != nil {
		t.Fatal(err)
	}
	vec := []float32{1, 0, 0}
	mem.Store(ctx, "u1", memory.RoleUser, "draft the report intro", vec)
	mem.Store(ctx, "u1", memory.RoleAssistant, "Here is an intro", []float32{0, 1, 0})
	mem.Store(ctx, "u2", memory.RoleUser, "someone else", vec)

	a := NewAssembler(Deps{
		Facts:    fs,
		Focus:    fc,
		Memory:   mem,
		Embedder: fixedEmbedder{vec: vec},
	}, Config{RecentLimit: 10, SimilarLimit: 1, UserLabel: "Sam"})

	got := a.Assemble(ctx, "u1", "what about the report?")

	if len(got.Failed) != 0 {
		t.Fatalf("Failed = %v", got.Failed)
	}
	if !strings.Contains(got.Facts, "Prefers morning meetings") {
		t.Errorf("Facts = %q", got.Facts)
	}
	if got.Focus != "Quarterly report" {
		t.Errorf("Focus = %q", got.Focus)
	}
	if len(got.Recent) != 2 {
		t.Fatalf("Recent = %d records, want 2", len(got.Recent))
	}
	if got.Recent[0].Content != "draft the report intro" {
		t.Errorf("Recent not chronological: %q first", got.Recent[0].Content)
	}
	if len(got.Similar) != 1 || got.Similar[0].Content != "draft the report intro" {
		t.Errorf("Similar = %+v", got.Similar)
	}
	if len(got.Embedding) != 3 {
		t.Errorf("Embedding = %v", got.Embedding)
	}

	out := got.Render()
	for _, want := range []string{
		"## Current Focus\n\nQuarterly report",
		"## Recent Conversation",
		"Sam: draft the report intro",
		"## Relevant Past Context",
	} {
		if !strings.Contains(out, want) {
			t.Errorf("Render missing %q in:\n%s", want, out)
		}
	}
	if strings.Contains(out, "someone else") {
		t.Error("another user's memory leaked into the context")
	}
}

func TestAssemble_PartialFailure(t *testing.T) {
	ctx := context.Background()
	mem, err := memory.NewSQLiteStoreWithDB(testDB(t))
	if err != nil {
		t.Fatal(err)
	}
	mem.Store(ctx, "u1", memory.RoleUser, "hello", []float32{1, 0})

	metrics := &countingMetrics{}
	a := NewAssembler(Deps{
		Facts:    failingFacts{},
		Focus:    panickingFocus{},
		Memory:   mem,
		Embedder: fixedEmbedder{err: errors.New("embedding backend down")},
		Metrics:  metrics,
	}, Config{})

	got := a.Assemble(ctx, "u1", "hi")

	if got.Facts != facts.EmptyText {
		t.Errorf("Facts = %q, want placeholder", got.Facts)
	}
	if got.Focus != "" {
		t.Errorf("Focus = %q", got.Focus)
	}
	if len(got.Recent) != 1 {
		t.Errorf("Recent = %d records, want 1", len(got.Recent))
	}
	if got.Similar != nil || got.Embedding != nil {
		t.Errorf("Similar = %v, Embedding = %v", got.Similar, got.Embedding)
	}

	failed := map[string]bool{}
	for _, s := range got.Failed {
		failed[s] = true
	}
	for _, s := range []string{SourceFacts, SourceFocus, SourceSimilar} {
		if !failed[s] {
			t.Errorf("source %s not reported as failed (got %v)", s, got.Failed)
		}
	}
	if len(metrics.sources) != 3 {
		t.Errorf("metrics counted %v", metrics.sources)
	}
}

func TestAssemble_NoSources(t *testing.T) {
	got := NewAssembler(Deps{}, Config{}).Assemble(context.Background(), "u1", "hi")
	if got.Facts != facts.EmptyText {
		t.Errorf("Facts = %q", got.Facts)
	}
	out := got.Render()
	if strings.Contains(out, "Current Focus") {
		t.Errorf("focus section rendered without focus:\n%s", out)
	}
	if strings.Count(out, memory.EmptyText) != 2 {
		t.Errorf("Render = %q", out)
	}
}

func TestRender_ActiveTask(t *testing.T) {
	c := &Context{ActiveTask: "## Current Task (Working Memory)\n\n**Task:** Plan trip\n"}
	out := c.Render()
	if !strings.HasPrefix(out, "## Current Task (Working Memory)") {
		t.Errorf("Render = %q", out)
	}
	if !strings.Contains(out, "**Task:** Plan trip\n\n## Recent Conversation") {
		t.Errorf("Render = %q", out)
	}
}
