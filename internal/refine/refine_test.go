package refine

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/jackzampolin/glean/internal/config"
	"github.com/jackzampolin/glean/internal/providers"
)

func newRefiner(t *testing.T, client providers.LLMClient, mutate func(*Config)) *LLMRefiner {
	t.Helper()
	cfg := Config{Client: client, Model: "gpt-4"}
	if mutate != nil {
		mutate(&cfg)
	}
	r, err := New(cfg)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	return r
}

func TestLLMRefiner_Refine(t *testing.T) {
	fused := "Tesseract: HELLO 123\nPaddleOCR: HELLO l23"

	t.Run("trims model text", func(t *testing.T) {
		client := providers.NewMockClient()
		client.ResponseText = "  HELLO 123 \n"
		r := newRefiner(t, client, nil)

		res, err := r.Refine(context.Background(), fused)
		if err != nil {
			t.Fatalf("Refine() error = %v", err)
		}
		if !res.Refined || res.Text != "HELLO 123" {
			t.Errorf("result = %+v", res)
		}
		if res.Provider != "mock" || res.Model != "gpt-4" || res.Attempts != 1 {
			t.Errorf("metadata = %+v", res)
		}

		req := client.LastRequest()
		if req.MaxTokens != DefaultMaxTokens {
			t.Errorf("max tokens = %d", req.MaxTokens)
		}
		if !strings.HasSuffix(req.Messages[1].Content, fused) {
			t.Errorf("user content = %q", req.Messages[1].Content)
		}
	})

	t.Run("empty response is unrefined", func(t *testing.T) {
		client := providers.NewMockClient()
		client.ResponseText = "   "
		r := newRefiner(t, client, nil)

		res, err := r.Refine(context.Background(), fused)
		if err != nil {
			t.Fatalf("Refine() error = %v", err)
		}
		if res.Refined || res.Reason == "" {
			t.Errorf("expected unrefined result, got %+v", res)
		}
	})

	t.Run("transport failure", func(t *testing.T) {
		client := providers.NewMockClient()
		client.ShouldFail = true
		r := newRefiner(t, client, nil)

		_, err := r.Refine(context.Background(), fused)
		var refErr *RefinementError
		if !errors.As(err, &refErr) {
			t.Fatalf("expected RefinementError, got %v", err)
		}
		if refErr.Retryable {
			t.Error("generic failure should not be retryable")
		}
	})

	t.Run("rate limit is retryable", func(t *testing.T) {
		client := providers.NewMockClient()
		client.ShouldFail = true
		client.Err = &providers.RateLimitError{Message: "slow down"}
		r := newRefiner(t, client, nil)

		_, err := r.Refine(context.Background(), fused)
		var refErr *RefinementError
		if !errors.As(err, &refErr) || !refErr.Retryable {
			t.Fatalf("expected retryable RefinementError, got %v", err)
		}
		var rl *providers.RateLimitError
		if !errors.As(err, &rl) {
			t.Error("cause should be reachable with errors.As")
		}
	})

	t.Run("timeout", func(t *testing.T) {
		client := providers.NewMockClient()
		client.Latency = time.Second
		r := newRefiner(t, client, func(c *Config) { c.Timeout = 20 * time.Millisecond })

		_, err := r.Refine(context.Background(), fused)
		var refErr *RefinementError
		if !errors.As(err, &refErr) {
			t.Fatalf("expected RefinementError, got %v", err)
		}
		if !errors.Is(err, context.DeadlineExceeded) {
			t.Errorf("expected deadline exceeded, got %v", err)
		}
	})

	t.Run("structured output", func(t *testing.T) {
		client := providers.NewMockClient()
		client.ResponseText = "```json\n{\"corrected_text\": \" HELLO 123 \"}\n```"
		r := newRefiner(t, client, func(c *Config) { c.Structured = true })

		res, err := r.Refine(context.Background(), fused)
		if err != nil {
			t.Fatalf("Refine() error = %v", err)
		}
		if !res.Refined || res.Text != "HELLO 123" {
			t.Errorf("result = %+v", res)
		}
		if client.LastRequest().ResponseFormat == nil {
			t.Error("expected response format on request")
		}
	})

	t.Run("malformed structured output", func(t *testing.T) {
		client := providers.NewMockClient()
		client.ResponseText = "HELLO 123"
		r := newRefiner(t, client, func(c *Config) { c.Structured = true })

		res, err := r.Refine(context.Background(), fused)
		if err != nil {
			t.Fatalf("Refine() error = %v", err)
		}
		if res.Refined {
			t.Errorf("expected unrefined result, got %+v", res)
		}
	})

	t.Run("custom system prompt", func(t *testing.T) {
		client := providers.NewMockClient()
		r := newRefiner(t, client, func(c *Config) { c.SystemPrompt = "Fix OCR text." })

		if _, err := r.Refine(context.Background(), fused); err != nil {
			t.Fatal(err)
		}
		if got := client.LastRequest().Messages[0].Content; got != "Fix OCR text." {
			t.Errorf("system prompt = %q", got)
		}
	})
}

func TestNew_RequiresClient(t *testing.T) {
	if _, err := New(Config{}); err == nil {
		t.Error("expected error without client")
	}
}

func TestFromConfig(t *testing.T) {
	cfg := config.DefaultConfig().Refiner

	r, err := FromConfig(cfg, providers.NewMockClient(), nil)
	if err != nil {
		t.Fatalf("FromConfig() error = %v", err)
	}
	if _, ok := r.(*retryRefiner); !ok {
		t.Errorf("expected retry wrapper, got %T", r)
	}

	cfg.MaxAttempts = 1
	r, err = FromConfig(cfg, providers.NewMockClient(), nil)
	if err != nil {
		t.Fatalf("FromConfig() error = %v", err)
	}
	if _, ok := r.(*LLMRefiner); !ok {
		t.Errorf("expected bare refiner, got %T", r)
	}
}
