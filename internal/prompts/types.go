// Package prompts provides prompt management with embedded defaults and file overrides.
//
// Resolution order for a key:
//  1. Override file <dir>/<key>.tmpl (if the store is configured and the file exists)
//  2. Embedded default (from .tmpl files in code)
package prompts

// EmbeddedPrompt represents a prompt loaded from an embedded .tmpl file.
type EmbeddedPrompt struct {
	Key         string   // Hierarchical key: refine.system
	Text        string   // The prompt text (Go template)
	Description string   // Human-readable description
	Variables   []string // Extracted template variables
	Hash        string   // SHA256 hash of the text for change detection
}

// Override is a prompt text read from the override directory.
type Override struct {
	Key  string `json:"key"`
	Text string `json:"text"`
	Path string `json:"path"`
}

// ResolvedPrompt is the result of resolving a prompt key.
type ResolvedPrompt struct {
	Key        string   `json:"key"`
	Text       string   `json:"text"`
	Variables  []string `json:"variables,omitempty"`
	IsOverride bool     `json:"is_override"`
	Hash       string   `json:"hash"`
	Source     string   `json:"source"` // "embedded" or the override file path
}
