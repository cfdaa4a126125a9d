package embeddings

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/nugget/taskpilot/internal/httpkit"
)

// Ollama generates embeddings using Ollama's embedding API.
type Ollama struct {
	baseURL string
	model   string
	dims    int
	client  *http.Client
}

// OllamaConfig configures an Ollama embedding client.
type OllamaConfig struct {
	BaseURL    string // e.g. "http://localhost:11434"
	Model      string // e.g. "nomic-embed-text"
	Dimensions int
	Logger     *slog.Logger
}

// NewOllama creates an Ollama embedding client.
func NewOllama(cfg OllamaConfig) *Ollama {
	if cfg.Model == "" {
		cfg.Model = "nomic-embed-text"
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = "http://localhost:11434"
	}
	if cfg.Dimensions <= 0 {
		cfg.Dimensions = DefaultDimensions
	}
	return &Ollama{
		baseURL: strings.TrimRight(cfg.BaseURL, "/"),
		model:   cfg.Model,
		dims:    cfg.Dimensions,
		client: httpkit.NewClient(httpkit.Options{
			Timeout:    30 * time.Second,
			Retries:    2,
			RetryDelay: time.Second,
			Logger:     cfg.Logger,
		}),
	}
}

type ollamaEmbedRequest struct {
	Model  string `json:"model"`
	Prompt string `json:"prompt"`
}

type ollamaEmbedResponse struct {
	Embedding []float32 `json:"embedding"`
}

// Dimensions implements [Provider].
func (c *Ollama) Dimensions() int { return c.dims }

// Embed implements [Provider].
func (c *Ollama) Embed(ctx context.Context, text string) ([]float32, error) {
	text, ok := prepare(text)
	if !ok {
		return Zero(c.dims), nil
	}

	body, err := json.Marshal(ollamaEmbedRequest{Model: c.model, Prompt: text})
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}

	var embedResp ollamaEmbedResponse
	if err := httpkit.DoJSON(ctx, c.client, httpkit.Call{URL: c.baseURL + "/api/embeddings", Body: body}, &embedResp); err != nil {
		return nil, fmt.Errorf("ollama embeddings: %w", err)
	}
	if len(embedResp.Embedding) == 0 {
		return nil, fmt.Errorf("ollama returned an empty embedding for model %s", c.model)
	}

	return embedResp.Embedding, nil
}
