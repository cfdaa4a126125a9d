package main

import (
	"bytes"
	"context"
	"encoding/json"
	"path/filepath"
	"strings"
	"testing"

	"github.com/nugget/taskpilot/internal/interactions"
	"github.com/nugget/taskpilot/internal/llm"
	"github.com/nugget/taskpilot/internal/llmlog"
)

type fixture struct {
	dbPath string
	first  *llmlog.Entry
	second *llmlog.Entry
}

// seed writes two model calls and a short transcript for conv-1. The
// writer stores stay open for the whole test, as a running server would.
func seed(t *testing.T) fixture {
	t.Helper()
	ctx := context.Background()
	dbPath := filepath.Join(t.TempDir(), "taskpilot.db")

	logs, err := llmlog.NewStore(dbPath)
	if err != nil {
		t.Fatalf("llmlog.NewStore: %v", err)
	}
	t.Cleanup(func() { logs.Close() })
	turns, err := interactions.NewStore(dbPath)
	if err != nil {
		t.Fatalf("interactions.NewStore: %v", err)
	}
	t.Cleanup(func() { turns.Close() })

	first, err := logs.LogRequest(ctx, llmlog.Request{
		ConversationID:      "conv-1",
		Iteration:           0,
		Provider:            "ollama",
		Model:               "qwen3:8b",
		SystemPrompt:        "You are a careful assistant.",
		Messages:            []llm.Message{{Role: llm.RoleUser, Content: "what is on my list?"}},
		Response:            "TOOL: list_facts\nARGS: {}",
		Metadata:            map[string]any{"input_tokens": 120, "output_tokens": 8},
		OriginalUserMessage: "what is on my list?",
	})
	if err != nil {
		t.Fatal(err)
	}
	if err := logs.AddObservation(ctx, first.ID, "No facts found."); err != nil {
		t.Fatal(err)
	}
	second, err := logs.LogRequest(ctx, llmlog.Request{
		ConversationID: "conv-1",
		Iteration:      1,
		Provider:       "ollama",
		Model:          "qwen3:8b",
		Response:       "Your list is empty.",
	})
	if err != nil {
		t.Fatal(err)
	}
	if _, err := logs.LogRequest(ctx, llmlog.Request{
		ConversationID: "conv-2",
		Model:          "qwen3:8b",
		Error:          "connection refused",
	}); err != nil {
		t.Fatal(err)
	}

	for _, tr := range []interactions.Turn{
		{ConversationID: "conv-1", UserID: "alice", Role: interactions.RoleUser, Content: "what is on my list?"},
		{ConversationID: "conv-1", UserID: "alice", Role: interactions.RoleAgent, Content: "Your list is empty."},
	} {
		if _, err := turns.Append(ctx, tr); err != nil {
			t.Fatal(err)
		}
	}
	return fixture{dbPath: dbPath, first: first, second: second}
}

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	root := newRootCmd()
	var out bytes.Buffer
	root.SetArgs(args)
	root.SetOut(&out)
	root.SetErr(&bytes.Buffer{})
	err := root.Execute()
	return out.String(), err
}

func TestRecent(t *testing.T) {
	f := seed(t)

	out, err := execute(t, "recent", "--db", f.dbPath)
	if err != nil {
		t.Fatalf("recent: %v", err)
	}
	for _, want := range []string{"Recent model calls", f.first.ID, f.second.ID, "120/8", "Your list is empty.", "error: connection refused", "3 entries"} {
		if !strings.Contains(out, want) {
			t.Errorf("output missing %q:\n%s", want, out)
		}
	}

	out, err = execute(t, "recent", "--db", f.dbPath, "-n", "1")
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(out, "1 entries") {
		t.Errorf("limited output:\n%s", out)
	}
}

func TestShow(t *testing.T) {
	f := seed(t)

	out, err := execute(t, "show", f.first.ID, "--db", f.dbPath)
	if err != nil {
		t.Fatalf("show: %v", err)
	}
	for _, want := range []string{"Model call " + f.first.ID, "conv-1", "ollama/qwen3:8b", "[user] what is on my list?", "TOOL: list_facts", "Observations (1)", "No facts found."} {
		if !strings.Contains(out, want) {
			t.Errorf("output missing %q:\n%s", want, out)
		}
	}
	if strings.Contains(out, "careful assistant") {
		t.Error("system prompt shown without --system")
	}

	out, err = execute(t, "show", f.first.ID, "--system", "--db", f.dbPath)
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(out, "You are a careful assistant.") {
		t.Errorf("--system output:\n%s", out)
	}

	if _, err := execute(t, "show", "no-such-id", "--db", f.dbPath); err == nil || !strings.Contains(err.Error(), "no log entry") {
		t.Errorf("missing id error = %v", err)
	}
}

func TestShow_JSON(t *testing.T) {
	f := seed(t)

	out, err := execute(t, "show", f.second.ID, "--json", "--db", f.dbPath)
	if err != nil {
		t.Fatal(err)
	}
	var e llmlog.Entry
	if err := json.Unmarshal([]byte(out), &e); err != nil {
		t.Fatalf("decode: %v\n%s", err, out)
	}
	if e.ID != f.second.ID || e.Iteration != 1 || e.Response != "Your list is empty." {
		t.Errorf("entry = %+v", e)
	}
}

func TestConversation(t *testing.T) {
	f := seed(t)

	out, err := execute(t, "conversation", "conv-1", "--db", f.dbPath)
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(out, "2 entries") || strings.Contains(out, "connection refused") {
		t.Errorf("conversation output:\n%s", out)
	}
	if strings.Index(out, f.first.ID) > strings.Index(out, f.second.ID) {
		t.Error("entries not in iteration order")
	}

	out, err = execute(t, "conversation", "conv-none", "--db", f.dbPath)
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(out, "No entries found.") {
		t.Errorf("empty conversation output:\n%s", out)
	}
}

func TestTurns(t *testing.T) {
	f := seed(t)

	out, err := execute(t, "turns", "conv-1", "--db", f.dbPath)
	if err != nil {
		t.Fatal(err)
	}
	user := strings.Index(out, "user: what is on my list?")
	agent := strings.Index(out, "agent: Your list is empty.")
	if user < 0 || agent < 0 || user > agent {
		t.Errorf("turns output:\n%s", out)
	}

	out, err = execute(t, "turns", "conv-1", "--json", "--db", f.dbPath)
	if err != nil {
		t.Fatal(err)
	}
	var turns []interactions.Turn
	if err := json.Unmarshal([]byte(out), &turns); err != nil {
		t.Fatal(err)
	}
	if len(turns) != 2 || turns[0].UserID != "alice" {
		t.Errorf("turns = %+v", turns)
	}
}

func TestMissingDatabase(t *testing.T) {
	_, err := execute(t, "recent", "--db", filepath.Join(t.TempDir(), "absent.db"))
	if err == nil {
		t.Fatal("expected an error for a missing database")
	}
}

func TestArgsValidation(t *testing.T) {
	for _, args := range [][]string{
		{"show"},
		{"turns"},
		{"recent", "extra"},
	} {
		if _, err := execute(t, args...); err == nil {
			t.Errorf("%v: expected an argument error", args)
		}
	}
}

func TestFirstLine(t *testing.T) {
	tests := []struct {
		in   string
		n    int
		want string
	}{
		{"", 10, ""},
		{"\n\n  hello  \nworld", 10, "hello"},
		{"abcdefghijkl", 5, "abcd…"},
	}
	for _, tt := range tests {
		if got := firstLine(tt.in, tt.n); got != tt.want {
			t.Errorf("firstLine(%q, %d) = %q, want %q", tt.in, tt.n, got, tt.want)
		}
	}
}
