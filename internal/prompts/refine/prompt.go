// Package refine holds the prompt and response schema for OCR text correction.
package refine

import (
	_ "embed"

	"github.com/jackzampolin/glean/internal/prompts"
)

//go:embed system.tmpl
var systemPrompt string

// SystemPrompt returns the system prompt for OCR text correction.
func SystemPrompt() string {
	return systemPrompt
}

// PromptKey is the hierarchical key for this prompt.
const PromptKey = "refine.system"

// RegisterPrompts registers the refine prompts with the resolver.
func RegisterPrompts(r *prompts.Resolver) {
	r.Register(prompts.EmbeddedPrompt{
		Key:         PromptKey,
		Text:        systemPrompt,
		Description: "OCR correction system prompt - merges labeled engine outputs into one corrected text",
	})
}
