package llm

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/nugget/taskpilot/internal/httpkit"
)

// OllamaProvider talks to a local Ollama server through /api/chat.
type OllamaProvider struct {
	opts       Options
	baseURL    string
	httpClient *http.Client
	logger     *slog.Logger
}

// NewOllamaProvider creates an Ollama provider. BaseURL defaults to
// http://localhost:11434.
func NewOllamaProvider(opts Options) (*OllamaProvider, error) {
	if opts.Model == "" {
		return nil, errors.New("ollama: model is required")
	}
	baseURL := opts.BaseURL
	if baseURL == "" {
		baseURL = "http://localhost:11434"
	}
	timeout := opts.Timeout
	if timeout == 0 {
		// Cold model loads are slow.
		timeout = 5 * time.Minute
	}

	return &OllamaProvider{
		opts:    opts,
		baseURL: strings.TrimRight(baseURL, "/"),
		logger:  opts.logger("ollama"),
		httpClient: httpkit.NewClient(httpkit.Options{
			Timeout:       timeout,
			HeaderTimeout: timeout,
			Retries:       2,
			RetryDelay:    time.Second,
			Logger:        opts.Logger,
		}),
	}, nil
}

// Name implements [Provider].
func (p *OllamaProvider) Name() string { return "ollama" }

// Model implements [Provider].
func (p *OllamaProvider) Model() string { return p.opts.Model }

type ollamaChatRequest struct {
	Model    string         `json:"model"`
	Messages []Message      `json:"messages"`
	Stream   bool           `json:"stream"`
	Options  *ollamaOptions `json:"options,omitempty"`
}

type ollamaOptions struct {
	Temperature float64 `json:"temperature,omitempty"`
	NumPredict  int     `json:"num_predict,omitempty"`
}

type ollamaChatResponse struct {
	Model           string  `json:"model"`
	Message         Message `json:"message"`
	Done            bool    `json:"done"`
	DoneReason      string  `json:"done_reason,omitempty"`
	TotalDuration   int64   `json:"total_duration,omitempty"`
	PromptEvalCount int     `json:"prompt_eval_count,omitempty"`
	EvalCount       int     `json:"eval_count,omitempty"`
}

// Complete implements [Provider].
func (p *OllamaProvider) Complete(ctx context.Context, req Request) (*Response, error) {
	msgs := make([]Message, 0, len(req.Messages)+1)
	if req.System != "" {
		msgs = append(msgs, Message{Role: "system", Content: req.System})
	}
	msgs = append(msgs, req.Messages...)

	body := ollamaChatRequest{
		Model:    p.opts.Model,
		Messages: msgs,
		Options: &ollamaOptions{
			Temperature: p.opts.temperature(req),
			NumPredict:  p.opts.maxTokens(req),
		},
	}

	jsonData, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}
	p.logger.Log(ctx, LevelTrace, "request payload", "json", string(jsonData))

	start := time.Now()
	var cr ollamaChatResponse
	if err := httpkit.DoJSON(ctx, p.httpClient, httpkit.Call{URL: p.baseURL + "/api/chat", Body: jsonData}, &cr); err != nil {
		p.logger.Error("chat request failed", "error", err)
		return nil, providerError("ollama", err)
	}

	out := &Response{
		Content:      cr.Message.Content,
		Model:        cr.Model,
		InputTokens:  cr.PromptEvalCount,
		OutputTokens: cr.EvalCount,
		FinishReason: cr.DoneReason,
		Duration:     time.Since(start),
	}
	if out.Model == "" {
		out.Model = p.opts.Model
	}

	p.logger.Debug("response received",
		"input_tokens", out.InputTokens,
		"output_tokens", out.OutputTokens,
		"elapsed", out.Duration,
	)
	p.logger.Log(ctx, LevelTrace, "response content", "content", out.Content)
	return out, nil
}

// Ping checks that the Ollama server is reachable.
func (p *OllamaProvider) Ping(ctx context.Context) error {
	if err := httpkit.DoJSON(ctx, p.httpClient, httpkit.Call{URL: p.baseURL + "/api/tags"}, nil); err != nil {
		return providerError("ollama", err)
	}
	return nil
}
