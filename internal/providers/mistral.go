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
	MistralEngineType = "mistral-ocr"
	MistralOCRBaseURL = "https://api.mistral.ai/v1"
	MistralOCRModel   = "mistral-ocr-latest"
)

// MistralOCRConfig holds configuration for the Mistral OCR engine.
type MistralOCRConfig struct {
	Name      string // Engine name reported in results (default "mistral")
	APIKey    string
	BaseURL   string
	Model     string
	Timeout   time.Duration
	RateLimit float64 // Requests per second (default: 6.0)
}

// MistralOCRClient is an Engine backed by the Mistral OCR API.
type MistralOCRClient struct {
	name      string
	apiKey    string
	baseURL   string
	model     string
	rateLimit float64
	limiter   *RateLimiter
	client    *http.Client
}

// NewMistralOCRClient creates a new Mistral OCR engine.
func NewMistralOCRClient(cfg MistralOCRConfig) *MistralOCRClient {
	if cfg.Name == "" {
		cfg.Name = "mistral"
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = MistralOCRBaseURL
	}
	if cfg.Model == "" {
		cfg.Model = MistralOCRModel
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = 120 * time.Second
	}
	if cfg.RateLimit == 0 {
		cfg.RateLimit = 6.0
	}

	return &MistralOCRClient{
		name:      cfg.Name,
		apiKey:    cfg.APIKey,
		baseURL:   strings.TrimRight(cfg.BaseURL, "/"),
		model:     cfg.Model,
		rateLimit: cfg.RateLimit,
		limiter:   NewRateLimiter(cfg.RateLimit),
		client: &http.Client{
			Timeout: cfg.Timeout,
		},
	}
}

// Name returns the engine identifier.
func (c *MistralOCRClient) Name() string {
	return c.name
}

// RateLimiterStatus reports the request limiter state.
func (c *MistralOCRClient) RateLimiterStatus() RateLimiterStatus {
	return c.limiter.Status()
}

// Recognize extracts text from an image using Mistral OCR.
func (c *MistralOCRClient) Recognize(ctx context.Context, image []byte) (*OCRResult, error) {
	start := time.Now()

	if err := c.limiter.Wait(ctx); err != nil {
		return Failed(c.name, err, time.Since(start)), err
	}

	reqBody := mistralOCRRequest{
		Model: c.model,
		Document: mistralDocument{
			Type: "image_url",
			ImageURL: &mistralImageURL{
				URL: "data:" + http.DetectContentType(image) + ";base64," + base64.StdEncoding.EncodeToString(image),
			},
		},
	}

	resp, err := c.doRequest(ctx, "/ocr", reqBody)
	if err != nil {
		return Failed(c.name, err, time.Since(start)), err
	}

	// Single image = single page
	if len(resp.Pages) == 0 {
		err := fmt.Errorf("no pages in OCR response")
		return Failed(c.name, err, time.Since(start)), err
	}
	page := resp.Pages[0]

	metadata := map[string]any{
		"model_used": resp.Model,
		"dimensions": map[string]any{
			"width":  page.Dimensions.Width,
			"height": page.Dimensions.Height,
			"dpi":    page.Dimensions.DPI,
		},
	}
	if resp.UsageInfo != nil {
		metadata["pages_processed"] = resp.UsageInfo.PagesProcessed
	}

	return &OCRResult{
		Engine:        c.name,
		Success:       true,
		Text:          strings.TrimSpace(page.Markdown),
		Metadata:      metadata,
		ExecutionTime: time.Since(start),
	}, nil
}

// doRequest makes an HTTP request to Mistral API.
func (c *MistralOCRClient) doRequest(ctx context.Context, path string, body any) (*mistralOCRResponse, error) {
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
		var errResp mistralErrorResponse
		if json.Unmarshal(respBody, &errResp) == nil && errResp.Error.Message != "" {
			msg = errResp.Error.Message
		}
		err := statusError("Mistral OCR", resp, msg)
		if rl, ok := err.(*RateLimitError); ok {
			c.limiter.Record429(rl.RetryAfter)
		}
		return nil, err
	}

	var ocrResp mistralOCRResponse
	if err := json.Unmarshal(respBody, &ocrResp); err != nil {
		return nil, fmt.Errorf("failed to unmarshal response: %w", err)
	}

	return &ocrResp, nil
}

// Mistral OCR API types

type mistralOCRRequest struct {
	Model    string          `json:"model"`
	Document mistralDocument `json:"document"`
}

type mistralDocument struct {
	Type     string           `json:"type"` // "image_url" or "document_url"
	ImageURL *mistralImageURL `json:"image_url,omitempty"`
}

type mistralImageURL struct {
	URL string `json:"url"`
}

type mistralOCRResponse struct {
	Model     string            `json:"model"`
	Pages     []mistralOCRPage  `json:"pages"`
	UsageInfo *mistralUsageInfo `json:"usage_info,omitempty"`
}

type mistralOCRPage struct {
	Index      int                   `json:"index"`
	Markdown   string                `json:"markdown"`
	Dimensions mistralPageDimensions `json:"dimensions"`
}

type mistralPageDimensions struct {
	Width  int `json:"width"`
	Height int `json:"height"`
	DPI    int `json:"dpi"`
}

type mistralUsageInfo struct {
	PagesProcessed int `json:"pages_processed"`
}

type mistralErrorResponse struct {
	Error struct {
		Message string `json:"message"`
		Type    string `json:"type"`
	} `json:"error"`
}

func init() {
	RegisterEngineType(MistralEngineType, func(name string, cfg EngineConfig) (Engine, error) {
		if cfg.APIKey == "" {
			return nil, fmt.Errorf("mistral engine requires an API key")
		}
		return NewMistralOCRClient(MistralOCRConfig{
			Name:      name,
			APIKey:    cfg.APIKey,
			Model:     cfg.Model,
			RateLimit: cfg.RateLimit,
		}), nil
	})
}

// Verify interface
var (
	_ Engine      = (*MistralOCRClient)(nil)
	_ RateLimited = (*MistralOCRClient)(nil)
)
