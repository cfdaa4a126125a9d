package llm

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/nugget/taskpilot/internal/config"
)

// New builds the provider selected by cfg.Provider.
func New(cfg config.LLMConfig, logger *slog.Logger) (Provider, error) {
	opts := Options{
		Model:       cfg.Model,
		APIKey:      cfg.APIKey,
		BaseURL:     cfg.BaseURL,
		Temperature: cfg.Temperature,
		MaxTokens:   cfg.MaxTokens,
		Timeout:     time.Duration(cfg.TimeoutSec) * time.Second,
		Logger:      logger,
	}

	switch cfg.Provider {
	case "anthropic":
		return NewAnthropicProvider(opts)
	case "openai":
		return NewOpenAIProvider(opts)
	case "ollama":
		return NewOllamaProvider(opts)
	default:
		return nil, fmt.Errorf("unknown llm provider %q", cfg.Provider)
	}
}
