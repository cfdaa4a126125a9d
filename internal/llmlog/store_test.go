package llmlog

import (
	"context"
	"database/sql"
	"errors"
	"io"
	"log/slog"
	"path/filepath"
	"reflect"
	"testing"
	"time"

	"github.com/nugget/taskpilot/internal/llm"
	_ "modernc.org/sqlite"
)

func testStore(t *testing.T) *Store {
	t.Helper()
	dbPath := filepath.Join(t.TempDir(), "llmlog_test.db")
	s, err := NewStore(dbPath)
	if err != nil {
		t.Fatalf("NewStore(%q): %v", dbPath, err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func sampleRequest(conv string, iteration int) Request {
	return Request{
		ConversationID: conv,
		Iteration:      iteration,
		Provider:       "ollama",
		Model:          "qwen3:8b",
		SystemPrompt:   "You are a helpful assistant.",
		Messages:       []llm.Message{{Role: llm.RoleUser, Content: "## Current Task\n\nhi"}},
		Response:       "FINAL_ANSWER: hello",
		Metadata: Metadata(&llm.Response{
			InputTokens: 12, OutputTokens: 3, FinishReason: "stop", Duration: 250 * time.Millisecond,
		}),
		OriginalUserMessage: "hi",
	}
}

func TestLogRequestAndGet(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()

	e, err := s.LogRequest(ctx, sampleRequest("conv-1", 0))
	if err != nil {
		t.Fatal(err)
	}

	got, err := s.Get(ctx, e.ID)
	if err != nil {
		t.Fatal(err)
	}
	if got.Model != "qwen3:8b" || got.Response != "FINAL_ANSWER: hello" || got.Closed {
		t.Errorf("entry = %+v", got)
	}
	if len(got.Messages) != 1 || got.Messages[0].Content != "## Current Task\n\nhi" {
		t.Errorf("messages = %+v", got.Messages)
	}
	if got.Metadata["finish_reason"] != "stop" || got.Metadata["input_tokens"] != float64(12) {
		t.Errorf("metadata = %v", got.Metadata)
	}
	if got.Metadata["latency_ms"] != float64(250) {
		t.Errorf("latency_ms = %v", got.Metadata["latency_ms"])
	}
	if len(got.Observations) != 0 {
		t.Errorf("observations = %v", got.Observations)
	}

	if _, err := s.Get(ctx, "missing"); !errors.Is(err, ErrNotFound) {
		t.Errorf("Get(missing) = %v, want ErrNotFound", err)
	}
}

func TestObservationsUntilClosed(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()
	e, _ := s.LogRequest(ctx, sampleRequest("conv-1", 0))

	if err := s.AddObservation(ctx, e.ID, "OBSERVATION: 3 emails"); err != nil {
		t.Fatal(err)
	}
	if err := s.AddObservation(ctx, e.ID, "OBSERVATION: second"); err != nil {
		t.Fatal(err)
	}
	if err := s.CloseEntry(ctx, e.ID); err != nil {
		t.Fatal(err)
	}
	if err := s.AddObservation(ctx, e.ID, "late"); !errors.Is(err, ErrClosed) {
		t.Errorf("AddObservation after close = %v, want ErrClosed", err)
	}
	if err := s.CloseEntry(ctx, e.ID); err != nil {
		t.Errorf("second CloseEntry = %v", err)
	}

	got, _ := s.Get(ctx, e.ID)
	if !got.Closed || len(got.Observations) != 2 || got.Observations[1] != "OBSERVATION: second" {
		t.Errorf("entry = %+v", got)
	}

	if err := s.AddObservation(ctx, "missing", "x"); !errors.Is(err, ErrNotFound) {
		t.Errorf("AddObservation(missing) = %v", err)
	}
	if err := s.CloseEntry(ctx, "missing"); !errors.Is(err, ErrNotFound) {
		t.Errorf("CloseEntry(missing) = %v", err)
	}
}

func TestLogRequest_SeededObservations(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()

	req := sampleRequest("conv-1", 1)
	req.Observations = []string{"OBSERVATION: 3 emails"}
	e, err := s.LogRequest(ctx, req)
	if err != nil {
		t.Fatal(err)
	}
	if err := s.AddObservation(ctx, e.ID, "OBSERVATION: draft saved"); err != nil {
		t.Fatal(err)
	}

	got, _ := s.Get(ctx, e.ID)
	want := []string{"OBSERVATION: 3 emails", "OBSERVATION: draft saved"}
	if !reflect.DeepEqual(got.Observations, want) {
		t.Errorf("observations = %q, want %q", got.Observations, want)
	}
	if len(req.Observations) != 1 {
		t.Errorf("caller's slice was modified: %q", req.Observations)
	}
}

func TestByConversationAndRecent(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()

	s.LogRequest(ctx, sampleRequest("conv-a", 1))
	s.LogRequest(ctx, sampleRequest("conv-a", 0))
	s.LogRequest(ctx, sampleRequest("conv-b", 0))
	last, _ := s.LogRequest(ctx, sampleRequest("conv-a", 2))

	byConv, err := s.ByConversation(ctx, "conv-a", 0)
	if err != nil {
		t.Fatal(err)
	}
	if len(byConv) != 3 {
		t.Fatalf("ByConversation returned %d entries", len(byConv))
	}
	for i, e := range byConv {
		if e.Iteration != i {
			t.Errorf("entry %d has iteration %d", i, e.Iteration)
		}
	}

	limited, _ := s.ByConversation(ctx, "conv-a", 2)
	if len(limited) != 2 {
		t.Errorf("limited = %d entries", len(limited))
	}

	recent, err := s.Recent(ctx, 2)
	if err != nil {
		t.Fatal(err)
	}
	if len(recent) != 2 || recent[0].ID != last.ID || recent[1].ConversationID != "conv-b" {
		t.Errorf("Recent = %+v", recent)
	}
}

type countingCounter struct{ n int }

func (c *countingCounter) Inc() { c.n++ }

func TestRecorder_NeverFails(t *testing.T) {
	s := testStore(t)
	failures := &countingCounter{}
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	r := NewRecorder(s, logger, failures)
	ctx := context.Background()

	id := r.LogRequest(ctx, sampleRequest("conv-1", 0))
	if id == "" {
		t.Fatal("LogRequest returned empty id on a healthy store")
	}
	r.AddObservation(ctx, id, "OBSERVATION: ok")
	r.CloseEntry(ctx, id)
	r.AddObservation(ctx, id, "after close")
	if failures.n != 1 {
		t.Errorf("failures after closed write = %d, want 1", failures.n)
	}

	s.Close()
	if id := r.LogRequest(ctx, sampleRequest("conv-1", 1)); id != "" {
		t.Errorf("LogRequest on closed store = %q, want empty", id)
	}
	if failures.n != 2 {
		t.Errorf("failures = %d, want 2", failures.n)
	}

	r.AddObservation(ctx, "", "ignored")
	if failures.n != 2 {
		t.Error("empty id should be ignored, not counted")
	}
}

func TestRecorder_NilStore(t *testing.T) {
	r := NewRecorder(nil, nil, nil)
	if id := r.LogRequest(context.Background(), Request{}); id != "" {
		t.Errorf("nil store id = %q", id)
	}
	r.AddObservation(context.Background(), "x", "y")
	r.CloseEntry(context.Background(), "x")
}

func TestNewReader(t *testing.T) {
	db, err := sql.Open("sqlite", ":memory:")
	if err != nil {
		t.Fatal(err)
	}
	db.SetMaxOpenConns(1)
	t.Cleanup(func() { db.Close() })

	w, err := NewStoreWithDB(db)
	if err != nil {
		t.Fatal(err)
	}
	e, _ := w.LogRequest(context.Background(), sampleRequest("c", 0))

	got, err := NewReader(db).Get(context.Background(), e.ID)
	if err != nil || got.ConversationID != "c" {
		t.Errorf("reader Get = %+v, %v", got, err)
	}
}
