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

const (
	anthropicAPIURL     = "https://api.anthropic.com/v1/messages"
	anthropicAPIVersion = "2023-06-01"
)

// AnthropicProvider talks to the Anthropic Messages API.
type AnthropicProvider struct {
	opts       Options
	url        string
	httpClient *http.Client
	logger     *slog.Logger
}

// NewAnthropicProvider creates an Anthropic provider. BaseURL, when set,
// replaces the public API endpoint (used by proxies and tests).
func NewAnthropicProvider(opts Options) (*AnthropicProvider, error) {
	if opts.Model == "" {
		return nil, errors.New("anthropic: model is required")
	}
	url := anthropicAPIURL
	if opts.BaseURL != "" {
		url = strings.TrimRight(opts.BaseURL, "/") + "/v1/messages"
	}

	return &AnthropicProvider{
		opts:   opts,
		url:    url,
		logger: opts.logger("anthropic"),
		// Long prompts can take a while before the first header arrives.
		httpClient: httpkit.NewClient(httpkit.Options{
			Timeout:       opts.Timeout,
			HeaderTimeout: 120 * time.Second,
		}),
	}, nil
}

// Name implements [Provider].
func (p *AnthropicProvider) Name() string { return "anthropic" }

// Model implements [Provider].
func (p *AnthropicProvider) Model() string { return p.opts.Model }

type anthropicRequest struct {
	Model       string             `json:"model"`
	Messages    []anthropicMessage `json:"messages"`
	System      string             `json:"system,omitempty"`
	MaxTokens   int                `json:"max_tokens"`
	Temperature *float64           `json:"temperature,omitempty"`
}

type anthropicMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type anthropicContent struct {
	Type string `json:"type"`
	Text string `json:"text,omitempty"`
}

type anthropicResponse struct {
	ID         string             `json:"id"`
	Role       string             `json:"role"`
	Content    []anthropicContent `json:"content"`
	Model      string             `json:"model"`
	StopReason string             `json:"stop_reason"`
	Usage      struct {
		InputTokens  int `json:"input_tokens"`
		OutputTokens int `json:"output_tokens"`
	} `json:"usage"`
}

// Complete implements [Provider].
func (p *AnthropicProvider) Complete(ctx context.Context, req Request) (*Response, error) {
	msgs, system := convertToAnthropic(req)

	body := anthropicRequest{
		Model:     p.opts.Model,
		Messages:  msgs,
		System:    system,
		MaxTokens: p.opts.maxTokens(req),
	}
	if t := p.opts.temperature(req); t > 0 {
		body.Temperature = &t
	}

	jsonData, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}

	p.logger.Debug("preparing request", "messages", len(msgs), "system_len", len(system))
	p.logger.Log(ctx, LevelTrace, "request payload", "json", string(jsonData))

	call := httpkit.Call{
		URL:  p.url,
		Body: jsonData,
		Header: http.Header{
			"X-Api-Key":         {p.opts.APIKey},
			"Anthropic-Version": {anthropicAPIVersion},
		},
	}
	start := time.Now()
	var ar anthropicResponse
	if err := httpkit.DoJSON(ctx, p.httpClient, call, &ar); err != nil {
		p.logger.Error("messages request failed", "error", err)
		return nil, providerError("anthropic", err)
	}

	out := convertFromAnthropic(&ar)
	out.Duration = time.Since(start)
	if out.Model == "" {
		out.Model = p.opts.Model
	}

	p.logger.Debug("response received",
		"input_tokens", out.InputTokens,
		"output_tokens", out.OutputTokens,
		"stop_reason", out.FinishReason,
		"elapsed", out.Duration,
	)
	p.logger.Log(ctx, LevelTrace, "response content", "content", out.Content)

	return out, nil
}

// convertToAnthropic maps the request to Anthropic messages. The API
// requires strictly alternating roles starting with user, so adjacent
// messages with the same role are merged and a leading assistant
// message is preceded by an empty user turn.
func convertToAnthropic(req Request) ([]anthropicMessage, string) {
	var result []anthropicMessage
	var systemParts []string
	if req.System != "" {
		systemParts = append(systemParts, req.System)
	}

	for _, msg := range req.Messages {
		role := msg.Role
		switch role {
		case "system":
			systemParts = append(systemParts, msg.Content)
			continue
		case RoleAssistant:
		default:
			role = RoleUser
		}

		if n := len(result); n > 0 && result[n-1].Role == role {
			result[n-1].Content += "\n\n" + msg.Content
			continue
		}
		if len(result) == 0 && role == RoleAssistant {
			result = append(result, anthropicMessage{Role: RoleUser, Content: "(continue)"})
		}
		result = append(result, anthropicMessage{Role: role, Content: msg.Content})
	}

	return result, strings.Join(systemParts, "\n\n")
}

func convertFromAnthropic(resp *anthropicResponse) *Response {
	var content strings.Builder
	for _, block := range resp.Content {
		if block.Type == "text" {
			content.WriteString(block.Text)
		}
	}
	return &Response{
		Content:      content.String(),
		Model:        resp.Model,
		InputTokens:  resp.Usage.InputTokens,
		OutputTokens: resp.Usage.OutputTokens,
		FinishReason: resp.StopReason,
	}
}
