// Package refine corrects fused OCR text with one LLM round trip.
package refine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/jackzampolin/glean/internal/config"
	refineprompt "github.com/jackzampolin/glean/internal/prompts/refine"
	"github.com/jackzampolin/glean/internal/providers"
)

const (
	DefaultMaxTokens = 1000
	DefaultTimeout   = 60 * time.Second
)

// Refiner turns fused OCR text into corrected text.
type Refiner interface {
	Refine(ctx context.Context, fused string) (*Result, error)
}

// Result is the outcome of a refinement call.
// When Refined is false the caller should fall back to the fused text.
type Result struct {
	Text     string        `json:"text"`
	Refined  bool          `json:"refined"`
	Reason   string        `json:"reason,omitempty"` // Why the output is unrefined
	Provider string        `json:"provider"`
	Model    string        `json:"model"`
	Attempts int           `json:"attempts"`
	Duration time.Duration `json:"duration"`

	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
}

// RefinementError reports a transport, timeout or rate-limit failure.
type RefinementError struct {
	Provider  string
	Retryable bool
	Err       error
}

func (e *RefinementError) Error() string {
	return fmt.Sprintf("refine via %s: %v", e.Provider, e.Err)
}

func (e *RefinementError) Unwrap() error { return e.Err }

// Config configures an LLMRefiner.
type Config struct {
	Client       providers.LLMClient
	Model        string // Empty uses the client default
	MaxTokens    int
	Temperature  float64
	Timeout      time.Duration
	Structured   bool
	SystemPrompt string // Empty uses the embedded prompt
	Logger       *slog.Logger
}

// LLMRefiner is the Refiner backed by an LLM client.
type LLMRefiner struct {
	client       providers.LLMClient
	model        string
	maxTokens    int
	temperature  float64
	timeout      time.Duration
	structured   bool
	systemPrompt string
	logger       *slog.Logger
}

// New creates an LLMRefiner.
func New(cfg Config) (*LLMRefiner, error) {
	if cfg.Client == nil {
		return nil, errors.New("refiner requires an LLM client")
	}
	if cfg.MaxTokens <= 0 {
		cfg.MaxTokens = DefaultMaxTokens
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &LLMRefiner{
		client:       cfg.Client,
		model:        cfg.Model,
		maxTokens:    cfg.MaxTokens,
		temperature:  cfg.Temperature,
		timeout:      cfg.Timeout,
		structured:   cfg.Structured,
		systemPrompt: cfg.SystemPrompt,
		logger:       cfg.Logger,
	}, nil
}

// Provider returns the name of the underlying client.
func (r *LLMRefiner) Provider() string { return r.client.Name() }

// Refine sends fused to the model and returns its trimmed reply.
func (r *LLMRefiner) Refine(ctx context.Context, fused string) (*Result, error) {
	start := time.Now()
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	req := refineprompt.BuildRequest(refineprompt.Input{
		FusedText:            fused,
		Model:                r.model,
		MaxTokens:            r.maxTokens,
		Temperature:          r.temperature,
		Structured:           r.structured,
		SystemPromptOverride: r.systemPrompt,
	})
	req.Timeout = r.timeout

	res, err := r.client.Chat(ctx, req)
	if err != nil {
		return nil, &RefinementError{
			Provider:  r.client.Name(),
			Retryable: providers.IsRetryable(err),
			Err:       err,
		}
	}
	if res == nil {
		return nil, &RefinementError{Provider: r.client.Name(), Err: errors.New("no result")}
	}

	result := &Result{
		Provider:         r.client.Name(),
		Model:            res.ModelUsed,
		Attempts:         1,
		Duration:         time.Since(start),
		PromptTokens:     res.PromptTokens,
		CompletionTokens: res.CompletionTokens,
	}
	if result.Model == "" {
		result.Model = r.model
	}

	if !res.Success {
		if res.ErrorType == "structured_output" {
			return r.unrefined(result, "malformed structured output: "+res.ErrorMessage), nil
		}
		return nil, &RefinementError{Provider: r.client.Name(), Err: errors.New(res.ErrorMessage)}
	}

	text := res.Content
	if r.structured {
		parsed := res.ParsedJSON
		if len(parsed) == 0 {
			parsed, err = providers.ParseStructured(res.Content, req.ResponseFormat)
			if err != nil {
				return r.unrefined(result, "malformed structured output: "+err.Error()), nil
			}
		}
		out, err := refineprompt.ParseResult(parsed)
		if err != nil {
			return r.unrefined(result, err.Error()), nil
		}
		text = out.CorrectedText
	}

	text = strings.TrimSpace(text)
	if text == "" {
		return r.unrefined(result, "empty response"), nil
	}

	result.Text = text
	result.Refined = true
	return result, nil
}

func (r *LLMRefiner) unrefined(result *Result, reason string) *Result {
	r.logger.Warn("refiner returned unusable output", "provider", result.Provider, "reason", reason)
	result.Refined = false
	result.Reason = reason
	return result
}

// FromConfig builds a refiner from configuration, wrapping it with retries
// when more than one attempt is configured.
func FromConfig(cfg config.RefinerCfg, client providers.LLMClient, logger *slog.Logger) (Refiner, error) {
	base, err := New(Config{
		Client:       client,
		Model:        cfg.Model,
		MaxTokens:    cfg.MaxTokens,
		Temperature:  cfg.Temperature,
		Timeout:      cfg.Timeout,
		Structured:   cfg.StructuredOutput,
		SystemPrompt: cfg.SystemPrompt,
		Logger:       logger,
	})
	if err != nil {
		return nil, err
	}
	if cfg.MaxAttempts <= 1 {
		return base, nil
	}
	return WithRetry(base, cfg.MaxAttempts, cfg.RetryDelay, logger), nil
}

var _ Refiner = (*LLMRefiner)(nil)
