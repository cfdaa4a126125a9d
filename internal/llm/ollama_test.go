package llm

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestOllamaProvider_Complete(t *testing.T) {
	var got ollamaChatRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/chat" {
			t.Errorf("path = %s", r.URL.Path)
		}
		json.NewDecoder(r.Body).Decode(&got)
		w.Write([]byte(`{
			"model": "qwen3:8b",
			"message": {"role": "assistant", "content": "THOUGHT: thinking"},
			"done": true,
			"done_reason": "stop",
			"prompt_eval_count": 100,
			"eval_count": 12
		}`))
	}))
	defer srv.Close()

	p, err := NewOllamaProvider(Options{Model: "qwen3:8b", BaseURL: srv.URL + "/", Temperature: 0.3})
	if err != nil {
		t.Fatal(err)
	}

	resp, err := p.Complete(context.Background(), Request{
		System:   "be brief",
		Messages: []Message{{Role: RoleUser, Content: "hi"}},
	})
	if err != nil {
		t.Fatalf("Complete: %v", err)
	}

	if resp.Content != "THOUGHT: thinking" {
		t.Errorf("Content = %q", resp.Content)
	}
	if resp.InputTokens != 100 || resp.OutputTokens != 12 {
		t.Errorf("tokens = %d/%d", resp.InputTokens, resp.OutputTokens)
	}
	if got.Stream {
		t.Error("request should not stream")
	}
	if len(got.Messages) != 2 || got.Messages[0].Role != "system" || got.Messages[0].Content != "be brief" {
		t.Errorf("messages = %+v", got.Messages)
	}
	if got.Options == nil || got.Options.Temperature != 0.3 || got.Options.NumPredict != 4096 {
		t.Errorf("options = %+v", got.Options)
	}
}

func TestOllamaProvider_Error(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"error":"model not found"}`, http.StatusNotFound)
	}))
	defer srv.Close()

	p, _ := NewOllamaProvider(Options{Model: "missing", BaseURL: srv.URL})
	if _, err := p.Complete(context.Background(), Request{}); err == nil {
		t.Fatal("expected error")
	}
	if err := p.Ping(context.Background()); err == nil {
		t.Fatal("expected ping error on 404")
	}
}
