package providers

import (
	"context"
	"encoding/json"
	"time"
)

// LLMClient is the interface the refiner uses for chat/completion requests.
type LLMClient interface {
	// Chat sends a chat completion request.
	Chat(ctx context.Context, req *ChatRequest) (*ChatResult, error)

	// Name returns the client identifier (e.g., "openai").
	Name() string
}

// Engine turns an image into best-effort text.
// Implementations are built once at startup and shared read-only across
// requests, so Recognize must be safe for concurrent use.
type Engine interface {
	// Name returns the engine identifier (e.g., "tesseract", "paddle").
	Name() string

	// Recognize extracts text from an encoded image.
	Recognize(ctx context.Context, image []byte) (*OCRResult, error)
}

// Message represents a chat message.
type Message struct {
	Role    string `json:"role"` // "system", "user", "assistant"
	Content string `json:"content"`
}

// ResponseFormat specifies structured output format.
type ResponseFormat struct {
	Type       string          `json:"type"` // "json_schema"
	Name       string          `json:"name,omitempty"`
	JSONSchema json.RawMessage `json:"json_schema,omitempty"`
}

// ChatRequest is a request to an LLM.
type ChatRequest struct {
	// Required
	Messages []Message `json:"messages"`

	// Model selection (uses client default if empty)
	Model string `json:"model,omitempty"`

	// Generation parameters
	Temperature float64 `json:"temperature,omitempty"`
	MaxTokens   int     `json:"max_tokens,omitempty"`
	Timeout     time.Duration

	// Structured output
	ResponseFormat *ResponseFormat `json:"response_format,omitempty"`

	// Request tracking
	RequestID string `json:"-"`
}

// ChatResult is the complete response from an LLM call.
type ChatResult struct {
	// Response content
	Content    string          `json:"content"`
	ParsedJSON json.RawMessage `json:"parsed_json,omitempty"` // Set if ResponseFormat was requested and validated

	// Token counts
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`

	// Timing
	ExecutionTime time.Duration `json:"execution_time"`

	// Provider info
	Provider     string `json:"provider"`
	ModelUsed    string `json:"model_used"`
	FinishReason string `json:"finish_reason,omitempty"`

	// Request tracking
	RequestID string `json:"request_id"`

	// Success/error
	Success      bool   `json:"success"`
	ErrorType    string `json:"error_type,omitempty"`
	ErrorMessage string `json:"error_message,omitempty"`
}

// Token is a single recognized word with its location.
type Token struct {
	Text       string  `json:"text"`
	Confidence float64 `json:"confidence"` // 0..1
	X          int     `json:"x"`
	Y          int     `json:"y"`
	Width      int     `json:"width"`
	Height     int     `json:"height"`
}

// OCRResult is the response from an OCR engine.
// A result is never mutated after the engine returns it.
type OCRResult struct {
	Engine string `json:"engine"`

	// Success/content
	Success    bool     `json:"success"`
	Text       string   `json:"text"`
	Confidence *float64 `json:"confidence,omitempty"` // 0..1, nil when the engine does not report one
	Tokens     []Token  `json:"tokens,omitempty"`

	// Metadata from the engine (model, usage, dimensions)
	Metadata map[string]any `json:"metadata,omitempty"`

	// Timing
	ExecutionTime time.Duration `json:"execution_time"`

	// Error info
	ErrorMessage string `json:"error_message,omitempty"`
}

// Failed builds the result recorded for an engine that produced nothing.
func Failed(engine string, err error, elapsed time.Duration) *OCRResult {
	r := &OCRResult{
		Engine:        engine,
		Success:       false,
		ExecutionTime: elapsed,
	}
	if err != nil {
		r.ErrorMessage = err.Error()
	}
	return r
}
