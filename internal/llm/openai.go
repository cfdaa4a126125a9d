package llm

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/nugget/taskpilot/internal/httpkit"
	"github.com/sashabaranov/go-openai"
)

// OpenAIProvider talks to any OpenAI-compatible chat completions
// endpoint (OpenAI, OpenRouter, vLLM, LM Studio).
type OpenAIProvider struct {
	opts   Options
	client *openai.Client
	logger *slog.Logger
}

// NewOpenAIProvider creates an OpenAI-compatible provider.
func NewOpenAIProvider(opts Options) (*OpenAIProvider, error) {
	if opts.Model == "" {
		return nil, errors.New("openai: model is required")
	}

	clientConfig := openai.DefaultConfig(opts.APIKey)
	if opts.BaseURL != "" {
		clientConfig.BaseURL = opts.BaseURL
	}
	clientConfig.HTTPClient = httpkit.NewClient(httpkit.Options{
		Timeout:       opts.Timeout,
		HeaderTimeout: 120 * time.Second,
	})

	return &OpenAIProvider{
		opts:   opts,
		client: openai.NewClientWithConfig(clientConfig),
		logger: opts.logger("openai"),
	}, nil
}

// Name implements [Provider].
func (p *OpenAIProvider) Name() string { return "openai" }

// Model implements [Provider].
func (p *OpenAIProvider) Model() string { return p.opts.Model }

// Complete implements [Provider].
func (p *OpenAIProvider) Complete(ctx context.Context, req Request) (*Response, error) {
	msgs := make([]openai.ChatCompletionMessage, 0, len(req.Messages)+1)
	if req.System != "" {
		msgs = append(msgs, openai.ChatCompletionMessage{
			Role:    openai.ChatMessageRoleSystem,
			Content: req.System,
		})
	}
	for _, m := range req.Messages {
		role := openai.ChatMessageRoleUser
		if m.Role == RoleAssistant {
			role = openai.ChatMessageRoleAssistant
		}
		msgs = append(msgs, openai.ChatCompletionMessage{Role: role, Content: m.Content})
	}

	p.logger.Debug("preparing request", "messages", len(msgs))

	start := time.Now()
	resp, err := p.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model:       p.opts.Model,
		Messages:    msgs,
		Temperature: float32(p.opts.temperature(req)),
		MaxTokens:   p.opts.maxTokens(req),
	})
	if err != nil {
		var apiErr *openai.APIError
		if errors.As(err, &apiErr) {
			p.logger.Error("API error", "status", apiErr.HTTPStatusCode, "message", apiErr.Message)
			return nil, &APIError{Provider: "openai", StatusCode: apiErr.HTTPStatusCode, Body: apiErr.Message}
		}
		return nil, fmt.Errorf("create chat completion: %w", err)
	}
	if len(resp.Choices) == 0 {
		return nil, errors.New("openai: response has no choices")
	}

	out := &Response{
		Content:      resp.Choices[0].Message.Content,
		Model:        resp.Model,
		InputTokens:  resp.Usage.PromptTokens,
		OutputTokens: resp.Usage.CompletionTokens,
		FinishReason: string(resp.Choices[0].FinishReason),
		Duration:     time.Since(start),
	}
	if out.Model == "" {
		out.Model = p.opts.Model
	}

	p.logger.Debug("response received",
		"input_tokens", out.InputTokens,
		"output_tokens", out.OutputTokens,
		"finish_reason", out.FinishReason,
		"elapsed", out.Duration,
	)
	p.logger.Log(ctx, LevelTrace, "response content", "content", out.Content)
	return out, nil
}
