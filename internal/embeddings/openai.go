package embeddings

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/nugget/taskpilot/internal/httpkit"
	"github.com/sashabaranov/go-openai"
)

// OpenAI generates embeddings through an OpenAI-compatible endpoint.
type OpenAI struct {
	client *openai.Client
	model  string
	dims   int
}

// OpenAIConfig configures an OpenAI embedding client.
type OpenAIConfig struct {
	APIKey     string
	BaseURL    string
	Model      string // default text-embedding-3-small
	Dimensions int
}

// NewOpenAI creates an OpenAI embedding client.
func NewOpenAI(cfg OpenAIConfig) *OpenAI {
	if cfg.Model == "" {
		cfg.Model = string(openai.SmallEmbedding3)
	}
	if cfg.Dimensions <= 0 {
		cfg.Dimensions = DefaultDimensions
	}

	clientConfig := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		clientConfig.BaseURL = cfg.BaseURL
	}
	clientConfig.HTTPClient = httpkit.NewClient(httpkit.Options{Timeout: 30 * time.Second})

	return &OpenAI{
		client: openai.NewClientWithConfig(clientConfig),
		model:  cfg.Model,
		dims:   cfg.Dimensions,
	}
}

// Dimensions implements [Provider].
func (c *OpenAI) Dimensions() int { return c.dims }

// Embed implements [Provider].
func (c *OpenAI) Embed(ctx context.Context, text string) ([]float32, error) {
	text, ok := prepare(text)
	if !ok {
		return Zero(c.dims), nil
	}

	resp, err := c.client.CreateEmbeddings(ctx, openai.EmbeddingRequest{
		Input: []string{text},
		Model: openai.EmbeddingModel(c.model),
	})
	if err != nil {
		return nil, fmt.Errorf("create embeddings: %w", err)
	}
	if len(resp.Data) == 0 {
		return nil, errors.New("openai returned no embeddings")
	}
	return resp.Data[0].Embedding, nil
}
