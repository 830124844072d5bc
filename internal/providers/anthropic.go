package providers

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
)

const (
	AnthropicName         = "anthropic"
	anthropicDefaultModel = "claude-sonnet-4-20250514"
	anthropicMaxTokens    = 4096
)

// AnthropicConfig holds configuration for the Anthropic chat client.
type AnthropicConfig struct {
	APIKey       string
	BaseURL      string // Optional (tests)
	DefaultModel string
	RateLimit    float64 // Requests per second
	Timeout      time.Duration
	HTTPClient   *http.Client // Optional (tests)
}

// AnthropicClient implements LLMClient using the Anthropic SDK.
// The Messages API has no native JSON schema mode, so structured requests
// get the schema in the system prompt and are validated locally.
type AnthropicClient struct {
	apiKey       string
	baseURL      string
	defaultModel string
	rateLimit    float64
	limiter      *RateLimiter
	client       anthropic.Client
}

// NewAnthropicClient creates a new Anthropic chat client.
func NewAnthropicClient(cfg AnthropicConfig) *AnthropicClient {
	if cfg.DefaultModel == "" {
		cfg.DefaultModel = anthropicDefaultModel
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = 120 * time.Second
	}

	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: cfg.Timeout}
	}

	opts := []option.RequestOption{
		option.WithAPIKey(cfg.APIKey),
		option.WithHTTPClient(httpClient),
		option.WithMaxRetries(0),
	}
	if cfg.BaseURL != "" {
		opts = append(opts, option.WithBaseURL(cfg.BaseURL))
	}

	return &AnthropicClient{
		apiKey:       cfg.APIKey,
		baseURL:      cfg.BaseURL,
		defaultModel: cfg.DefaultModel,
		rateLimit:    cfg.RateLimit,
		limiter:      NewRateLimiter(cfg.RateLimit),
		client:       anthropic.NewClient(opts...),
	}
}

// Name returns the client identifier.
func (c *AnthropicClient) Name() string { return AnthropicName }

// Model returns the configured default model.
func (c *AnthropicClient) Model() string { return c.defaultModel }

// RateLimiterStatus reports the request limiter state.
func (c *AnthropicClient) RateLimiterStatus() RateLimiterStatus {
	return c.limiter.Status()
}

// Chat sends a chat request through the Messages API.
func (c *AnthropicClient) Chat(ctx context.Context, req *ChatRequest) (*ChatResult, error) {
	if req == nil || len(req.Messages) == 0 {
		err := fmt.Errorf("at least one message is required")
		return &ChatResult{Provider: AnthropicName, ErrorType: "invalid_request", ErrorMessage: err.Error()}, err
	}
	return structuredChat(ctx, req, func(ctx context.Context, msgs []Message) (*ChatResult, error) {
		return c.complete(ctx, req, msgs)
	})
}

func (c *AnthropicClient) complete(ctx context.Context, req *ChatRequest, msgs []Message) (*ChatResult, error) {
	start := time.Now()

	model := req.Model
	if model == "" {
		model = c.defaultModel
	}

	result := &ChatResult{
		Provider:  AnthropicName,
		ModelUsed: model,
		RequestID: req.RequestID,
	}

	if err := c.limiter.Wait(ctx); err != nil {
		return failChat(result, "context_cancelled", err, start)
	}

	var system []string
	var turns []anthropic.MessageParam
	for _, m := range msgs {
		switch m.Role {
		case "system":
			system = append(system, m.Content)
		case "assistant":
			turns = append(turns, anthropic.NewAssistantMessage(anthropic.NewTextBlock(m.Content)))
		default:
			turns = append(turns, anthropic.NewUserMessage(anthropic.NewTextBlock(m.Content)))
		}
	}
	if req.ResponseFormat != nil && len(req.ResponseFormat.JSONSchema) > 0 {
		system = append(system, "Respond with ONLY a JSON document matching this schema:\n"+string(req.ResponseFormat.JSONSchema))
	}

	maxTokens := int64(req.MaxTokens)
	if maxTokens == 0 {
		maxTokens = anthropicMaxTokens
	}

	params := anthropic.MessageNewParams{
		Model:     anthropic.Model(model),
		MaxTokens: maxTokens,
		Messages:  turns,
	}
	if len(system) > 0 {
		params.System = []anthropic.TextBlockParam{
			{Text: strings.Join(system, "\n\n")},
		}
	}
	if req.Temperature > 0 {
		params.Temperature = anthropic.Float(req.Temperature)
	}

	callCtx := ctx
	if req.Timeout > 0 {
		var cancel context.CancelFunc
		callCtx, cancel = context.WithTimeout(ctx, req.Timeout)
		defer cancel()
	}

	resp, err := c.client.Messages.New(callCtx, params)
	if err != nil {
		err = mapAnthropicError(err)
		var rl *RateLimitError
		if errors.As(err, &rl) {
			c.limiter.Record429(rl.RetryAfter)
		}
		return failChat(result, "api_error", err, start)
	}

	var content strings.Builder
	for _, block := range resp.Content {
		if block.Type == "text" {
			content.WriteString(block.Text)
		}
	}

	result.Success = true
	result.Content = strings.TrimSpace(content.String())
	result.FinishReason = string(resp.StopReason)
	if resp.Model != "" {
		result.ModelUsed = string(resp.Model)
	}
	result.PromptTokens = int(resp.Usage.InputTokens)
	result.CompletionTokens = int(resp.Usage.OutputTokens)
	result.TotalTokens = result.PromptTokens + result.CompletionTokens
	result.ExecutionTime = time.Since(start)
	return result, nil
}

func mapAnthropicError(err error) error {
	var apiErr *anthropic.Error
	if errors.As(err, &apiErr) {
		msg := apiErr.Error()
		if apiErr.StatusCode == http.StatusTooManyRequests {
			retryAfter := time.Duration(0)
			if apiErr.Response != nil {
				retryAfter = parseRetryAfter(apiErr.Response.Header.Get("Retry-After"))
			}
			return &RateLimitError{
				Message:    fmt.Sprintf("Anthropic rate limited: %s", msg),
				RetryAfter: retryAfter,
				StatusCode: apiErr.StatusCode,
			}
		}
		return &APIError{Provider: "Anthropic", StatusCode: apiErr.StatusCode, Message: msg}
	}
	return err
}

var (
	_ LLMClient   = (*AnthropicClient)(nil)
	_ RateLimited = (*AnthropicClient)(nil)
)
