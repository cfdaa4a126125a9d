// Package llm provides the model backends the agent loop talks to. Each
// backend implements [Provider]; the loop never sees provider-specific
// request or response shapes.
package llm

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/nugget/taskpilot/internal/httpkit"
)

// LevelTrace is below Debug, used for wire-level payload logging.
const LevelTrace = slog.Level(-8)

// Message roles understood by every provider.
const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// Message is one entry in the in-loop history.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// Request is a single completion call.
type Request struct {
	// System is the system prompt. Providers that have no dedicated
	// system field send it as the first message.
	System   string
	Messages []Message

	// Temperature and MaxTokens override the provider defaults when
	// non-zero.
	Temperature float64
	MaxTokens   int
}

// Response is the provider-neutral result of a completion call.
type Response struct {
	Content      string
	Model        string
	InputTokens  int
	OutputTokens int
	FinishReason string
	Duration     time.Duration
}

// Provider is a model backend.
type Provider interface {
	// Name identifies the backend ("anthropic", "openai", "ollama").
	Name() string
	// Model is the model identifier requests are sent to.
	Model() string
	// Complete sends req and returns the model's reply.
	Complete(ctx context.Context, req Request) (*Response, error)
}

// Options configures a provider.
type Options struct {
	Model       string
	APIKey      string
	BaseURL     string
	Temperature float64
	MaxTokens   int
	// Timeout bounds one call. Zero leaves it to the context.
	Timeout time.Duration
	Logger  *slog.Logger
}

func (o Options) logger(provider string) *slog.Logger {
	l := o.Logger
	if l == nil {
		l = slog.Default()
	}
	return l.With("provider", provider, "model", o.Model)
}

func (o Options) maxTokens(req Request) int {
	switch {
	case req.MaxTokens > 0:
		return req.MaxTokens
	case o.MaxTokens > 0:
		return o.MaxTokens
	default:
		return 4096
	}
}

func (o Options) temperature(req Request) float64 {
	if req.Temperature > 0 {
		return req.Temperature
	}
	return o.Temperature
}

// APIError is a non-2xx reply from a provider.
type APIError struct {
	Provider   string
	StatusCode int
	Body       string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("%s API error %d: %s", e.Provider, e.StatusCode, e.Body)
}

// providerError turns an httpkit status error into *APIError.
func providerError(provider string, err error) error {
	var se *httpkit.StatusError
	if errors.As(err, &se) {
		return &APIError{Provider: provider, StatusCode: se.Code, Body: se.Body}
	}
	return fmt.Errorf("%s: %w", provider, err)
}
