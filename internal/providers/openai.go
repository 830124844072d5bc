package providers

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	openai "github.com/openai/openai-go/v3"
	"github.com/openai/openai-go/v3/option"
)

const (
	OpenAIName         = "openai"
	openAIDefaultModel = "gpt-4"
)

// OpenAIConfig holds configuration for the OpenAI chat client.
type OpenAIConfig struct {
	APIKey       string
	BaseURL      string        // Optional (OpenAI-compatible endpoints, tests)
	DefaultModel string        // "gpt-4" (default)
	RateLimit    float64       // Requests per second
	MaxRetries   int           // SDK transport retries; the refiner owns retry policy
	Timeout      time.Duration // HTTP timeout
	HTTPClient   *http.Client  // Optional (tests)
}

// OpenAIClient implements LLMClient using the official OpenAI SDK.
type OpenAIClient struct {
	apiKey       string
	baseURL      string
	defaultModel string
	rateLimit    float64
	limiter      *RateLimiter
	client       openai.Client
}

// NewOpenAIClient creates a new OpenAI chat client.
func NewOpenAIClient(cfg OpenAIConfig) *OpenAIClient {
	if cfg.DefaultModel == "" {
		cfg.DefaultModel = openAIDefaultModel
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
		option.WithMaxRetries(cfg.MaxRetries),
	}
	if cfg.BaseURL != "" {
		opts = append(opts, option.WithBaseURL(cfg.BaseURL))
	}

	return &OpenAIClient{
		apiKey:       cfg.APIKey,
		baseURL:      cfg.BaseURL,
		defaultModel: cfg.DefaultModel,
		rateLimit:    cfg.RateLimit,
		limiter:      NewRateLimiter(cfg.RateLimit),
		client:       openai.NewClient(opts...),
	}
}

// Name returns the client identifier.
func (c *OpenAIClient) Name() string {
	return OpenAIName
}

// Model returns the configured default model.
func (c *OpenAIClient) Model() string {
	return c.defaultModel
}

// RateLimiterStatus reports the request limiter state.
func (c *OpenAIClient) RateLimiterStatus() RateLimiterStatus {
	return c.limiter.Status()
}

// HealthCheck verifies the API is reachable and the API key is valid.
func (c *OpenAIClient) HealthCheck(ctx context.Context) error {
	page, err := c.client.Models.List(ctx)
	if err != nil {
		return fmt.Errorf("openai models list failed: %w", mapOpenAIError(err))
	}
	if page == nil {
		return fmt.Errorf("openai models list returned nil response")
	}
	return nil
}

// Chat sends a chat completion request.
func (c *OpenAIClient) Chat(ctx context.Context, req *ChatRequest) (*ChatResult, error) {
	if req == nil || len(req.Messages) == 0 {
		err := fmt.Errorf("at least one message is required")
		return &ChatResult{Provider: OpenAIName, ErrorType: "invalid_request", ErrorMessage: err.Error()}, err
	}
	return structuredChat(ctx, req, func(ctx context.Context, msgs []Message) (*ChatResult, error) {
		return c.complete(ctx, req, msgs)
	})
}

func (c *OpenAIClient) complete(ctx context.Context, req *ChatRequest, msgs []Message) (*ChatResult, error) {
	start := time.Now()

	model := req.Model
	if model == "" {
		model = c.defaultModel
	}

	result := &ChatResult{
		Provider:  OpenAIName,
		ModelUsed: model,
		RequestID: req.RequestID,
	}

	if err := c.limiter.Wait(ctx); err != nil {
		return failChat(result, "context_cancelled", err, start)
	}

	params := openai.ChatCompletionNewParams{
		Model:    openai.ChatModel(model),
		Messages: openAIMessages(msgs),
	}
	if req.MaxTokens > 0 {
		params.MaxTokens = openai.Int(int64(req.MaxTokens))
	}
	if req.Temperature > 0 {
		params.Temperature = openai.Float(req.Temperature)
	}
	if req.ResponseFormat != nil {
		schema, err := schemaDocument(req.ResponseFormat)
		if err != nil {
			return failChat(result, "invalid_request", err, start)
		}
		name := req.ResponseFormat.Name
		if name == "" {
			name = "response"
		}
		params.ResponseFormat = openai.ChatCompletionNewParamsResponseFormatUnion{
			OfJSONSchema: &openai.ResponseFormatJSONSchemaParam{
				JSONSchema: openai.ResponseFormatJSONSchemaJSONSchemaParam{
					Name:   name,
					Schema: schema,
					Strict: openai.Bool(true),
				},
			},
		}
	}

	var reqOpts []option.RequestOption
	if req.Timeout > 0 {
		reqOpts = append(reqOpts, option.WithRequestTimeout(req.Timeout))
	}

	resp, err := c.client.Chat.Completions.New(ctx, params, reqOpts...)
	if err != nil {
		err = mapOpenAIError(err)
		var rl *RateLimitError
		if errors.As(err, &rl) {
			c.limiter.Record429(rl.RetryAfter)
		}
		return failChat(result, "api_error", err, start)
	}
	if len(resp.Choices) == 0 {
		return failChat(result, "empty_response", fmt.Errorf("no response choices from model"), start)
	}

	choice := resp.Choices[0]
	result.Success = true
	result.Content = strings.TrimSpace(choice.Message.Content)
	result.FinishReason = string(choice.FinishReason)
	if resp.Model != "" {
		result.ModelUsed = resp.Model
	}
	result.PromptTokens = int(resp.Usage.PromptTokens)
	result.CompletionTokens = int(resp.Usage.CompletionTokens)
	result.TotalTokens = int(resp.Usage.TotalTokens)
	result.ExecutionTime = time.Since(start)
	return result, nil
}

func openAIMessages(msgs []Message) []openai.ChatCompletionMessageParamUnion {
	out := make([]openai.ChatCompletionMessageParamUnion, 0, len(msgs))
	for _, m := range msgs {
		switch m.Role {
		case "system":
			out = append(out, openai.SystemMessage(m.Content))
		case "assistant":
			out = append(out, openai.AssistantMessage(m.Content))
		default:
			out = append(out, openai.UserMessage(m.Content))
		}
	}
	return out
}

func failChat(result *ChatResult, errType string, err error, start time.Time) (*ChatResult, error) {
	result.Success = false
	result.ErrorType = errType
	result.ErrorMessage = err.Error()
	result.ExecutionTime = time.Since(start)
	return result, err
}

func mapOpenAIError(err error) error {
	var apiErr *openai.Error
	if errors.As(err, &apiErr) {
		if apiErr.StatusCode == http.StatusTooManyRequests {
			retryAfter := time.Duration(0)
			if apiErr.Response != nil {
				retryAfter = parseRetryAfter(apiErr.Response.Header.Get("Retry-After"))
			}
			return &RateLimitError{
				Message:    fmt.Sprintf("OpenAI rate limited: %s", apiErr.Message),
				RetryAfter: retryAfter,
				StatusCode: apiErr.StatusCode,
			}
		}
		return &APIError{Provider: "OpenAI", StatusCode: apiErr.StatusCode, Message: apiErr.Message}
	}
	return err
}

var (
	_ LLMClient     = (*OpenAIClient)(nil)
	_ RateLimited   = (*OpenAIClient)(nil)
	_ HealthChecker = (*OpenAIClient)(nil)
)
