package providers

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"
)

const (
	MockClientName = "mock"
	MockEngineType = "mock"
)

// MockClient is an LLMClient for testing.
type MockClient struct {
	// Configurable behavior
	Latency      time.Duration
	ShouldFail   bool
	Err          error // Returned instead of a generic failure when set
	FailAfter    int   // Fail after N requests (0 = never)
	ResponseText string

	// State
	requestCount atomic.Int64
	mu           sync.Mutex
	lastRequest  *ChatRequest
}

// NewMockClient creates a new mock client with sensible defaults.
func NewMockClient() *MockClient {
	return &MockClient{
		Latency:      10 * time.Millisecond,
		ResponseText: "mock response",
	}
}

// Name returns the client identifier.
func (c *MockClient) Name() string {
	return MockClientName
}

// Chat sends a mock chat request.
func (c *MockClient) Chat(ctx context.Context, req *ChatRequest) (*ChatResult, error) {
	start := time.Now()
	count := c.requestCount.Add(1)

	c.mu.Lock()
	c.lastRequest = req
	c.mu.Unlock()

	result := &ChatResult{
		RequestID: fmt.Sprintf("mock-%d", count),
		Provider:  MockClientName,
		ModelUsed: req.Model,
	}

	if c.ShouldFail {
		err := c.Err
		if err == nil {
			err = errors.New("mock client configured to fail")
		}
		result.ErrorType = "mock_failure"
		result.ErrorMessage = err.Error()
		return result, err
	}
	if c.FailAfter > 0 && int(count) > c.FailAfter {
		err := fmt.Errorf("mock client failed after %d requests", c.FailAfter)
		result.ErrorType = "mock_failure"
		result.ErrorMessage = err.Error()
		return result, err
	}

	// Simulate latency
	select {
	case <-time.After(c.Latency):
	case <-ctx.Done():
		result.ErrorType = "context_cancelled"
		result.ErrorMessage = ctx.Err().Error()
		return result, ctx.Err()
	}

	result.Success = true
	result.Content = c.ResponseText
	result.ExecutionTime = time.Since(start)

	promptTokens := 0
	for _, m := range req.Messages {
		promptTokens += len(m.Content) / 4 // Rough estimate
	}
	result.PromptTokens = promptTokens
	result.CompletionTokens = len(c.ResponseText) / 4
	result.TotalTokens = result.PromptTokens + result.CompletionTokens

	return result, nil
}

// RequestCount returns the number of requests made.
func (c *MockClient) RequestCount() int64 {
	return c.requestCount.Load()
}

// LastRequest returns the most recent request, or nil.
func (c *MockClient) LastRequest() *ChatRequest {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lastRequest
}

// MockEngine is an Engine for testing.
type MockEngine struct {
	EngineName   string
	Latency      time.Duration
	ShouldFail   bool
	ResponseText string
	Confidence   *float64

	calls atomic.Int64
}

// NewMockEngine creates a mock engine that answers with text.
func NewMockEngine(name, text string) *MockEngine {
	return &MockEngine{
		EngineName:   name,
		ResponseText: text,
	}
}

// Name returns the engine identifier.
func (e *MockEngine) Name() string {
	if e.EngineName == "" {
		return MockEngineType
	}
	return e.EngineName
}

// Recognize returns the configured text after the configured latency.
func (e *MockEngine) Recognize(ctx context.Context, image []byte) (*OCRResult, error) {
	start := time.Now()
	e.calls.Add(1)

	if e.Latency > 0 {
		select {
		case <-time.After(e.Latency):
		case <-ctx.Done():
			return Failed(e.Name(), ctx.Err(), time.Since(start)), ctx.Err()
		}
	}

	if e.ShouldFail {
		err := errors.New("mock engine configured to fail")
		return Failed(e.Name(), err, time.Since(start)), err
	}

	return &OCRResult{
		Engine:        e.Name(),
		Success:       true,
		Text:          e.ResponseText,
		Confidence:    e.Confidence,
		ExecutionTime: time.Since(start),
	}, nil
}

// Calls returns how many times Recognize was invoked.
func (e *MockEngine) Calls() int64 {
	return e.calls.Load()
}

func init() {
	RegisterEngineType(MockEngineType, func(name string, cfg EngineConfig) (Engine, error) {
		text := cfg.Model
		if text == "" {
			text = "mock text"
		}
		return NewMockEngine(name, text), nil
	})
}

var (
	_ LLMClient = (*MockClient)(nil)
	_ Engine    = (*MockEngine)(nil)
)
