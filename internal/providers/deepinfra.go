package providers

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

const (
	DeepInfraEngineType       = "deepinfra"
	DeepInfraBaseURL          = "https://api.deepinfra.com/v1/openai"
	DeepInfraDefaultModel     = "PaddlePaddle/PaddleOCR-VL-0.9B"
	DeepInfraDefaultOCRPrompt = "Extract all text from this image. Preserve line breaks. Output only the extracted text."
)

// DeepInfraOCRConfig holds configuration for the DeepInfra OCR engine.
type DeepInfraOCRConfig struct {
	Name        string // Engine name reported in results (default "paddle")
	APIKey      string
	BaseURL     string
	Model       string // e.g. "PaddlePaddle/PaddleOCR-VL-0.9B"
	Prompt      string // Custom OCR prompt
	Temperature float64
	MaxTokens   int
	Timeout     time.Duration
	RateLimit   float64 // Requests per second
}

// DeepInfraOCRClient is the neural engine: a vision OCR model served through
// DeepInfra's OpenAI-compatible API.
type DeepInfraOCRClient struct {
	name        string
	apiKey      string
	baseURL     string
	model       string
	prompt      string
	temperature float64
	maxTokens   int
	rateLimit   float64
	limiter     *RateLimiter
	client      *http.Client
}

// NewDeepInfraOCRClient creates a new DeepInfra OCR engine.
func NewDeepInfraOCRClient(cfg DeepInfraOCRConfig) *DeepInfraOCRClient {
	if cfg.Name == "" {
		cfg.Name = "paddle"
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = DeepInfraBaseURL
	}
	if cfg.Model == "" {
		cfg.Model = DeepInfraDefaultModel
	}
	if cfg.Prompt == "" {
		cfg.Prompt = DeepInfraDefaultOCRPrompt
	}
	if cfg.Temperature == 0 {
		cfg.Temperature = 0.1
	}
	if cfg.MaxTokens == 0 {
		cfg.MaxTokens = 4000
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = 120 * time.Second
	}
	if cfg.RateLimit == 0 {
		cfg.RateLimit = 10.0
	}

	return &DeepInfraOCRClient{
		name:        cfg.Name,
		apiKey:      cfg.APIKey,
		baseURL:     strings.TrimRight(cfg.BaseURL, "/"),
		model:       cfg.Model,
		prompt:      cfg.Prompt,
		temperature: cfg.Temperature,
		maxTokens:   cfg.MaxTokens,
		rateLimit:   cfg.RateLimit,
		limiter:     NewRateLimiter(cfg.RateLimit),
		client: &http.Client{
			Timeout: cfg.Timeout,
		},
	}
}

// Name returns the engine identifier.
func (c *DeepInfraOCRClient) Name() string {
	return c.name
}

// RateLimiterStatus reports the request limiter state.
func (c *DeepInfraOCRClient) RateLimiterStatus() RateLimiterStatus {
	return c.limiter.Status()
}

// HealthCheck verifies the DeepInfra API is reachable and the API key is valid.
// Uses the /models endpoint to check connectivity without consuming tokens.
func (c *DeepInfraOCRClient) HealthCheck(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/models", nil)
	if err != nil {
		return fmt.Errorf("failed to create health check request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.apiKey)

	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("health check request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusUnauthorized {
		return fmt.Errorf("invalid API key")
	}
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("health check failed with status %d", resp.StatusCode)
	}
	return nil
}

// Recognize extracts text from an image using the DeepInfra vision model.
func (c *DeepInfraOCRClient) Recognize(ctx context.Context, image []byte) (*OCRResult, error) {
	start := time.Now()

	if err := c.limiter.Wait(ctx); err != nil {
		return Failed(c.name, err, time.Since(start)), err
	}

	reqBody := deepInfraRequest{
		Model: c.model,
		Messages: []deepInfraMessage{
			{
				Role: "user",
				Content: []deepInfraContent{
					{Type: "text", Text: c.prompt},
					{
						Type: "image_url",
						ImageURL: &deepInfraImageURL{
							URL: "data:" + http.DetectContentType(image) + ";base64," + base64.StdEncoding.EncodeToString(image),
						},
					},
				},
			},
		},
		Temperature: c.temperature,
		MaxTokens:   c.maxTokens,
	}

	resp, err := c.doRequest(ctx, "/chat/completions", reqBody)
	if err != nil {
		return Failed(c.name, err, time.Since(start)), err
	}

	if len(resp.Choices) == 0 {
		err := fmt.Errorf("no response choices from model")
		return Failed(c.name, err, time.Since(start)), err
	}

	return &OCRResult{
		Engine:  c.name,
		Success: true,
		Text:    strings.TrimSpace(resp.Choices[0].Message.Content),
		Metadata: map[string]any{
			"model_used":        resp.Model,
			"prompt_tokens":     resp.Usage.PromptTokens,
			"completion_tokens": resp.Usage.CompletionTokens,
			"total_tokens":      resp.Usage.TotalTokens,
			"estimated_cost":    resp.Usage.EstimatedCost,
		},
		ExecutionTime: time.Since(start),
	}, nil
}

// doRequest makes an HTTP request to DeepInfra API.
func (c *DeepInfraOCRClient) doRequest(ctx context.Context, path string, body any) (*deepInfraResponse, error) {
	bodyBytes, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(bodyBytes))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.apiKey)

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		msg := string(respBody)
		var errResp deepInfraErrorResponse
		if json.Unmarshal(respBody, &errResp) == nil && errResp.Error.Message != "" {
			msg = errResp.Error.Message
		}
		err := statusError("DeepInfra", resp, msg)
		if rl, ok := err.(*RateLimitError); ok {
			c.limiter.Record429(rl.RetryAfter)
		}
		return nil, err
	}

	var diResp deepInfraResponse
	if err := json.Unmarshal(respBody, &diResp); err != nil {
		return nil, fmt.Errorf("failed to unmarshal response: %w", err)
	}

	return &diResp, nil
}

// DeepInfra API types (OpenAI-compatible)

type deepInfraRequest struct {
	Model       string             `json:"model"`
	Messages    []deepInfraMessage `json:"messages"`
	Temperature float64            `json:"temperature,omitempty"`
	MaxTokens   int                `json:"max_tokens,omitempty"`
}

type deepInfraMessage struct {
	Role    string `json:"role"`
	Content any    `json:"content"` // string or []deepInfraContent
}

type deepInfraContent struct {
	Type     string             `json:"type"`
	Text     string             `json:"text,omitempty"`
	ImageURL *deepInfraImageURL `json:"image_url,omitempty"`
}

type deepInfraImageURL struct {
	URL    string `json:"url"`
	Detail string `json:"detail,omitempty"`
}

type deepInfraChoice struct {
	Index   int `json:"index"`
	Message struct {
		Role    string `json:"role"`
		Content string `json:"content"`
	} `json:"message"`
	FinishReason string `json:"finish_reason"`
}

type deepInfraUsage struct {
	PromptTokens     int     `json:"prompt_tokens"`
	CompletionTokens int     `json:"completion_tokens"`
	TotalTokens      int     `json:"total_tokens"`
	EstimatedCost    float64 `json:"estimated_cost,omitempty"`
}

type deepInfraResponse struct {
	ID      string            `json:"id"`
	Model   string            `json:"model"`
	Choices []deepInfraChoice `json:"choices"`
	Usage   deepInfraUsage    `json:"usage"`
}

type deepInfraErrorResponse struct {
	Error struct {
		Message string `json:"message"`
		Type    string `json:"type"`
	} `json:"error"`
}

func init() {
	RegisterEngineType(DeepInfraEngineType, func(name string, cfg EngineConfig) (Engine, error) {
		if cfg.APIKey == "" {
			return nil, fmt.Errorf("deepinfra engine requires an API key")
		}
		return NewDeepInfraOCRClient(DeepInfraOCRConfig{
			Name:      name,
			APIKey:    cfg.APIKey,
			Model:     cfg.Model,
			RateLimit: cfg.RateLimit,
		}), nil
	})
}

// Verify interface
var (
	_ Engine        = (*DeepInfraOCRClient)(nil)
	_ RateLimited   = (*DeepInfraOCRClient)(nil)
	_ HealthChecker = (*DeepInfraOCRClient)(nil)
)
