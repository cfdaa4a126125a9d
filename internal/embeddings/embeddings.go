// Package embeddings turns text into vectors for semantic memory recall.
package embeddings

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/nugget/taskpilot/internal/config"
)

// MaxInputChars is the longest input sent to a backend. Longer text is
// truncated.
const MaxInputChars = 32000

// DefaultDimensions matches the OpenAI text-embedding-3-small model.
const DefaultDimensions = 1536

// Provider generates embeddings. Embed never fails on empty or
// whitespace-only text; it returns a zero vector of Dimensions() length.
type Provider interface {
	Embed(ctx context.Context, text string) ([]float32, error)
	Dimensions() int
}

// prepare trims text and reports whether there is anything to embed.
func prepare(text string) (string, bool) {
	text = strings.TrimSpace(text)
	if text == "" {
		return "", false
	}
	if r := []rune(text); len(r) > MaxInputChars {
		text = string(r[:MaxInputChars])
	}
	return text, true
}

// Zero returns a zero vector of the given dimension.
func Zero(dims int) []float32 {
	if dims <= 0 {
		dims = DefaultDimensions
	}
	return make([]float32, dims)
}

// Disabled is the provider used when no embedding backend is configured.
// Every text maps to the zero vector, so similarity search degrades to
// an empty ranking instead of failing.
type Disabled struct {
	Dims int
}

// Embed implements [Provider].
func (d Disabled) Embed(context.Context, string) ([]float32, error) {
	return Zero(d.Dimensions()), nil
}

// Dimensions implements [Provider].
func (d Disabled) Dimensions() int {
	if d.Dims <= 0 {
		return DefaultDimensions
	}
	return d.Dims
}

// New builds the provider selected by cfg.Provider.
func New(cfg config.EmbeddingsConfig, logger *slog.Logger) (Provider, error) {
	switch cfg.Provider {
	case "", "none":
		return Disabled{Dims: cfg.Dimensions}, nil
	case "openai":
		return NewOpenAI(OpenAIConfig{
			APIKey:     cfg.APIKey,
			BaseURL:    cfg.BaseURL,
			Model:      cfg.Model,
			Dimensions: cfg.Dimensions,
		}), nil
	case "ollama":
		return NewOllama(OllamaConfig{
			BaseURL:    cfg.BaseURL,
			Model:      cfg.Model,
			Dimensions: cfg.Dimensions,
			Logger:     logger,
		}), nil
	default:
		return nil, fmt.Errorf("unknown embeddings provider %q", cfg.Provider)
	}
}
