package providers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func deepInfraOK(content string) deepInfraResponse {
	return deepInfraResponse{
		ID:    "test-id",
		Model: DeepInfraDefaultModel,
		Choices: []deepInfraChoice{
			{
				Message: struct {
					Role    string `json:"role"`
					Content string `json:"content"`
				}{Role: "assistant", Content: content},
				FinishReason: "stop",
			},
		},
		Usage: deepInfraUsage{PromptTokens: 100, CompletionTokens: 50, TotalTokens: 150},
	}
}

func TestDeepInfraOCRClient_Recognize(t *testing.T) {
	t.Run("successful OCR", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.URL.Path != "/chat/completions" {
				t.Errorf("unexpected path: %s", r.URL.Path)
			}
			if r.Method != http.MethodPost {
				t.Errorf("unexpected method: %s", r.Method)
			}
			if auth := r.Header.Get("Authorization"); auth != "Bearer test-key" {
				t.Errorf("unexpected authorization: %s", auth)
			}

			var req deepInfraRequest
			if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
				t.Errorf("failed to decode request: %v", err)
			}
			if req.Model != DeepInfraDefaultModel {
				t.Errorf("unexpected model: %s", req.Model)
			}
			if len(req.Messages) != 1 {
				t.Errorf("expected 1 message, got %d", len(req.Messages))
			}

			w.Header().Set("Content-Type", "application/json")
			json.NewEncoder(w).Encode(deepInfraOK("  HELLO 123\n"))
		}))
		defer server.Close()

		client := NewDeepInfraOCRClient(DeepInfraOCRConfig{
			APIKey:  "test-key",
			BaseURL: server.URL,
		})

		result, err := client.Recognize(context.Background(), []byte("fake image data"))
		if err != nil {
			t.Fatalf("Recognize() error = %v", err)
		}
		if !result.Success {
			t.Error("expected Success = true")
		}
		if result.Engine != "paddle" {
			t.Errorf("Engine = %q, want paddle", result.Engine)
		}
		if result.Text != "HELLO 123" {
			t.Errorf("unexpected text: %q", result.Text)
		}
		if result.Confidence != nil {
			t.Errorf("expected no confidence, got %v", *result.Confidence)
		}
		if result.Metadata["total_tokens"] != 150 {
			t.Errorf("total_tokens = %v", result.Metadata["total_tokens"])
		}
	})

	t.Run("empty choices response", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Content-Type", "application/json")
			json.NewEncoder(w).Encode(deepInfraResponse{ID: "test-id"})
		}))
		defer server.Close()

		client := NewDeepInfraOCRClient(DeepInfraOCRConfig{APIKey: "test-key", BaseURL: server.URL})

		result, err := client.Recognize(context.Background(), []byte("fake"))
		if err == nil {
			t.Error("expected error for empty choices")
		}
		if result.Success {
			t.Error("expected Success = false")
		}
		if result.ErrorMessage == "" {
			t.Error("expected error message")
		}
	})

	t.Run("API error response", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusBadRequest)
			json.NewEncoder(w).Encode(map[string]any{
				"error": map[string]string{
					"message": "Invalid image format",
					"type":    "invalid_request_error",
				},
			})
		}))
		defer server.Close()

		client := NewDeepInfraOCRClient(DeepInfraOCRConfig{APIKey: "test-key", BaseURL: server.URL})

		result, err := client.Recognize(context.Background(), []byte("fake"))
		if err == nil {
			t.Fatal("expected error for API error response")
		}
		if result.Success {
			t.Error("expected Success = false")
		}
		if !strings.Contains(err.Error(), "Invalid image format") {
			t.Errorf("expected error to contain 'Invalid image format', got: %v", err)
		}
		var apiErr *APIError
		if !errors.As(err, &apiErr) || apiErr.StatusCode != http.StatusBadRequest {
			t.Errorf("expected APIError with status 400, got %v", err)
		}
		if IsRetryable(err) {
			t.Error("400 should not be retryable")
		}
	})

	t.Run("rate limited", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Retry-After", "2")
			w.WriteHeader(http.StatusTooManyRequests)
		}))
		defer server.Close()

		client := NewDeepInfraOCRClient(DeepInfraOCRConfig{APIKey: "test-key", BaseURL: server.URL})

		_, err := client.Recognize(context.Background(), []byte("fake"))
		var rl *RateLimitError
		if !errors.As(err, &rl) {
			t.Fatalf("expected RateLimitError, got %v", err)
		}
		if rl.RetryAfter != 2*time.Second {
			t.Errorf("RetryAfter = %v, want 2s", rl.RetryAfter)
		}
		if client.RateLimiterStatus().Last429Time.IsZero() {
			t.Error("expected limiter to record the 429")
		}
	})

	t.Run("context cancellation", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			time.Sleep(100 * time.Millisecond)
			w.WriteHeader(http.StatusOK)
		}))
		defer server.Close()

		client := NewDeepInfraOCRClient(DeepInfraOCRConfig{APIKey: "test-key", BaseURL: server.URL})

		ctx, cancel := context.WithCancel(context.Background())
		cancel()

		result, err := client.Recognize(ctx, []byte("fake"))
		if err == nil {
			t.Error("expected error from cancelled context")
		}
		if result.Success {
			t.Error("expected Success = false")
		}
	})

	t.Run("custom model and prompt", func(t *testing.T) {
		var receivedModel, receivedPrompt string
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			var req deepInfraRequest
			json.NewDecoder(r.Body).Decode(&req)
			receivedModel = req.Model

			if len(req.Messages) > 0 {
				contents := req.Messages[0].Content.([]any)
				if len(contents) > 0 {
					receivedPrompt = contents[0].(map[string]any)["text"].(string)
				}
			}

			w.Header().Set("Content-Type", "application/json")
			json.NewEncoder(w).Encode(deepInfraOK("extracted text"))
		}))
		defer server.Close()

		client := NewDeepInfraOCRClient(DeepInfraOCRConfig{
			APIKey:  "test-key",
			BaseURL: server.URL,
			Model:   "Qwen/Qwen2-VL-72B-Instruct",
			Prompt:  "Custom OCR prompt for testing.",
		})

		if _, err := client.Recognize(context.Background(), []byte("fake")); err != nil {
			t.Fatalf("Recognize() error = %v", err)
		}
		if receivedModel != "Qwen/Qwen2-VL-72B-Instruct" {
			t.Errorf("expected model Qwen/Qwen2-VL-72B-Instruct, got %s", receivedModel)
		}
		if receivedPrompt != "Custom OCR prompt for testing." {
			t.Errorf("expected custom prompt, got %s", receivedPrompt)
		}
	})
}

func TestDeepInfraOCRClient_Config(t *testing.T) {
	t.Run("config defaults", func(t *testing.T) {
		client := NewDeepInfraOCRClient(DeepInfraOCRConfig{APIKey: "test-key"})

		if client.Name() != "paddle" {
			t.Errorf("Name() = %s, want paddle", client.Name())
		}
		if client.baseURL != DeepInfraBaseURL {
			t.Errorf("baseURL = %s, want %s", client.baseURL, DeepInfraBaseURL)
		}
		if client.model != DeepInfraDefaultModel {
			t.Errorf("model = %s, want %s", client.model, DeepInfraDefaultModel)
		}
		if client.prompt != DeepInfraDefaultOCRPrompt {
			t.Errorf("prompt = %s, want default", client.prompt)
		}
		if client.temperature != 0.1 {
			t.Errorf("temperature = %f, want 0.1", client.temperature)
		}
		if client.maxTokens != 4000 {
			t.Errorf("maxTokens = %d, want 4000", client.maxTokens)
		}
	})

	t.Run("factory requires API key", func(t *testing.T) {
		f, ok := engineFactory(DeepInfraEngineType)
		if !ok {
			t.Fatal("deepinfra engine type not registered")
		}
		if _, err := f("paddle", EngineConfig{Type: DeepInfraEngineType}); err == nil {
			t.Error("expected error without API key")
		}
		e, err := f("neural", EngineConfig{Type: DeepInfraEngineType, APIKey: "k"})
		if err != nil {
			t.Fatalf("factory error = %v", err)
		}
		if e.Name() != "neural" {
			t.Errorf("Name() = %s, want neural", e.Name())
		}
	})
}

// TestDeepInfraOCRIntegration runs real OCR against the DeepInfra API.
// Requires DEEPINFRA_API_KEY and a PNG under testdata/.
func TestDeepInfraOCRIntegration(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}
	cfg := LoadTestConfig()
	if !cfg.HasDeepInfra() {
		t.Skip("DEEPINFRA_API_KEY not set")
	}

	matches, _ := filepath.Glob(filepath.Join("testdata", "*.png"))
	if len(matches) == 0 {
		t.Skip("no test images found in testdata/")
	}
	imageData, err := os.ReadFile(matches[0])
	if err != nil {
		t.Fatalf("failed to read test image: %v", err)
	}

	client := NewDeepInfraOCRClient(DeepInfraOCRConfig{APIKey: cfg.DeepInfraAPIKey})

	ctx, cancel := context.WithTimeout(context.Background(), 120*time.Second)
	defer cancel()

	result, err := client.Recognize(ctx, imageData)
	if err != nil {
		t.Fatalf("Recognize() error = %v", err)
	}
	if len(result.Text) == 0 {
		t.Error("expected non-empty text")
	}
	t.Logf("Extracted %d characters in %v", len(result.Text), result.ExecutionTime)
}
