package refine

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/jackzampolin/glean/internal/providers"
)

// UserPrefix precedes the fused text in the user message.
const UserPrefix = "Correct and improve this OCR-extracted text: "

// Input contains the data needed for one correction request.
type Input struct {
	FusedText   string
	Model       string
	MaxTokens   int
	Temperature float64
	Structured  bool

	// SystemPromptOverride replaces the embedded prompt when set.
	SystemPromptOverride string
}

// BuildRequest creates the single-turn chat request for a correction.
func BuildRequest(input Input) *providers.ChatRequest {
	systemPrompt := input.SystemPromptOverride
	if systemPrompt == "" {
		systemPrompt = SystemPrompt()
	}

	req := &providers.ChatRequest{
		Messages: []providers.Message{
			{Role: "system", Content: strings.TrimSpace(systemPrompt)},
			{Role: "user", Content: UserPrefix + input.FusedText},
		},
		Model:       input.Model,
		Temperature: input.Temperature,
		MaxTokens:   input.MaxTokens,
	}
	if input.Structured {
		req.ResponseFormat = buildResponseFormat()
	}
	return req
}

// ParseResult decodes validated structured output.
func ParseResult(parsed json.RawMessage) (*Result, error) {
	var result Result
	if err := json.Unmarshal(parsed, &result); err != nil {
		return nil, fmt.Errorf("decode corrected text: %w", err)
	}
	return &result, nil
}

func buildResponseFormat() *providers.ResponseFormat {
	jsonSchema, _ := json.Marshal(CorrectedTextSchema["json_schema"])
	return &providers.ResponseFormat{
		Type:       "json_schema",
		Name:       "corrected_text",
		JSONSchema: jsonSchema,
	}
}
