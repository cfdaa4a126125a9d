package embeddings

import (
	"context"
	"encoding/json"
	"math"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/nugget/taskpilot/internal/config"
)

func TestCosineSimilarity(t *testing.T) {
	tests := []struct {
		name     string
		a, b     []float32
		expected float32
	}{
		{name: "identical", a: []float32{1, 0, 0}, b: []float32{1, 0, 0}, expected: 1.0},
		{name: "orthogonal", a: []float32{1, 0}, b: []float32{0, 1}, expected: 0.0},
		{name: "opposite", a: []float32{1, 1}, b: []float32{-1, -1}, expected: -1.0},
		{name: "mismatched length", a: []float32{1}, b: []float32{1, 2}, expected: 0.0},
		{name: "zero vector", a: []float32{0, 0}, b: []float32{1, 2}, expected: 0.0},
		{name: "empty", a: nil, b: nil, expected: 0.0},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			got := CosineSimilarity(tc.a, tc.b)
			if math.Abs(float64(got-tc.expected)) > 0.0001 {
				t.Errorf("got %f, want %f", got, tc.expected)
			}
		})
	}
}

func TestTopK(t *testing.T) {
	query := []float32{1, 0, 0}
	vectors := [][]float32{
		{0, 1, 0},     // orthogonal
		{1, 0, 0},     // identical
		{-1, 0, 0},    // opposite
		{0.7, 0.7, 0}, // close
	}

	top2 := TopK(query, vectors, 2)
	if len(top2) != 2 || top2[0] != 1 || top2[1] != 3 {
		t.Errorf("TopK = %v, want [1 3]", top2)
	}
	if got := TopK(query, vectors, 10); len(got) != 4 {
		t.Errorf("TopK(k > n) returned %d results", len(got))
	}
}

func TestDisabled_ZeroVector(t *testing.T) {
	v, err := Disabled{}.Embed(context.Background(), "anything")
	if err != nil {
		t.Fatal(err)
	}
	if len(v) != DefaultDimensions || !IsZero(v) {
		t.Errorf("Disabled embed = len %d, zero %v", len(v), IsZero(v))
	}
}

func TestOllama_Embed(t *testing.T) {
	var got ollamaEmbedRequest
	calls := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		if r.URL.Path != "/api/embeddings" {
			t.Errorf("path = %s", r.URL.Path)
		}
		json.NewDecoder(r.Body).Decode(&got)
		w.Write([]byte(`{"embedding": [0.1, 0.2, 0.3]}`))
	}))
	defer srv.Close()

	c := NewOllama(OllamaConfig{BaseURL: srv.URL, Dimensions: 3})

	v, err := c.Embed(context.Background(), "  hello  ")
	if err != nil {
		t.Fatalf("Embed: %v", err)
	}
	if len(v) != 3 {
		t.Errorf("len = %d, want 3", len(v))
	}
	if got.Model != "nomic-embed-text" || got.Prompt != "hello" {
		t.Errorf("request = %+v", got)
	}

	zero, err := c.Embed(context.Background(), " \n\t ")
	if err != nil {
		t.Fatal(err)
	}
	if len(zero) != 3 || !IsZero(zero) {
		t.Errorf("whitespace embed = %v, want zero vector of 3", zero)
	}
	if calls != 1 {
		t.Errorf("server called %d times, want 1 (empty text must not hit the backend)", calls)
	}
}

func TestOllama_Truncates(t *testing.T) {
	var got ollamaEmbedRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewDecoder(r.Body).Decode(&got)
		w.Write([]byte(`{"embedding": [1]}`))
	}))
	defer srv.Close()

	c := NewOllama(OllamaConfig{BaseURL: srv.URL})
	if _, err := c.Embed(context.Background(), strings.Repeat("a", MaxInputChars+500)); err != nil {
		t.Fatal(err)
	}
	if len(got.Prompt) != MaxInputChars {
		t.Errorf("prompt length = %d, want %d", len(got.Prompt), MaxInputChars)
	}
}

func TestOllama_Error(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "no such model", http.StatusNotFound)
	}))
	defer srv.Close()

	if _, err := NewOllama(OllamaConfig{BaseURL: srv.URL}).Embed(context.Background(), "x"); err == nil {
		t.Fatal("expected error")
	}
}

func TestOpenAI_Embed(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/embeddings" {
			t.Errorf("path = %s", r.URL.Path)
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"object": "list", "data": [{"object": "embedding", "index": 0, "embedding": [0.5, 0.25]}], "model": "text-embedding-3-small"}`))
	}))
	defer srv.Close()

	c := NewOpenAI(OpenAIConfig{APIKey: "sk-test", BaseURL: srv.URL, Dimensions: 2})
	v, err := c.Embed(context.Background(), "hello")
	if err != nil {
		t.Fatalf("Embed: %v", err)
	}
	if len(v) != 2 || v[0] != 0.5 {
		t.Errorf("embedding = %v", v)
	}

	zero, _ := c.Embed(context.Background(), "")
	if len(zero) != 2 || !IsZero(zero) {
		t.Errorf("empty embed = %v", zero)
	}
}

func TestNew(t *testing.T) {
	for _, p := range []string{"", "none", "openai", "ollama"} {
		if _, err := New(config.EmbeddingsConfig{Provider: p, APIKey: "k"}, nil); err != nil {
			t.Errorf("New(%q) error: %v", p, err)
		}
	}
	if _, err := New(config.EmbeddingsConfig{Provider: "cohere"}, nil); err == nil {
		t.Error("New(cohere) should fail")
	}
}
