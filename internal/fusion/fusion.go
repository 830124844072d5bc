// Package fusion merges per-engine OCR results into one labeled text.
package fusion

import (
	"strings"

	"github.com/jackzampolin/glean/internal/providers"
)

// NoText is rendered when no engine recognized anything.
const NoText = "[no text recognized]"

// labels maps configured engine names to display labels.
var labels = map[string]string{
	"tesseract": "Tesseract",
	"paddle":    "PaddleOCR",
	"mistral":   "MistralOCR",
}

// Label returns the display label for an engine name.
func Label(engine string) string {
	if l, ok := labels[strings.ToLower(engine)]; ok {
		return l
	}
	return engine
}

// Section is one engine's contribution.
type Section struct {
	Engine     string   `json:"engine"`
	Label      string   `json:"label"`
	Text       string   `json:"text"`
	Confidence *float64 `json:"confidence,omitempty"`
}

// FusedText is the provenance-labeled concatenation of engine outputs.
type FusedText struct {
	Sections []Section `json:"sections"`
	Empty    bool      `json:"empty"`
}

// Fuse keeps every successful result with non-blank text, in input order.
// Disagreements between engines are left for the refiner.
func Fuse(results []providers.OCRResult) FusedText {
	var f FusedText
	for _, r := range results {
		if !r.Success {
			continue
		}
		text := strings.TrimSpace(r.Text)
		if text == "" {
			continue
		}
		f.Sections = append(f.Sections, Section{
			Engine:     r.Engine,
			Label:      Label(r.Engine),
			Text:       text,
			Confidence: r.Confidence,
		})
	}
	f.Empty = len(f.Sections) == 0
	return f
}

// Text renders one "<Label>: <text>" line per section, or NoText.
func (f FusedText) Text() string {
	if f.Empty || len(f.Sections) == 0 {
		return NoText
	}
	var b strings.Builder
	for i, s := range f.Sections {
		if i > 0 {
			b.WriteByte('\n')
		}
		b.WriteString(s.Label)
		b.WriteString(": ")
		b.WriteString(s.Text)
	}
	return b.String()
}

// String implements fmt.Stringer.
func (f FusedText) String() string { return f.Text() }

// Engines returns the engine names that contributed text.
func (f FusedText) Engines() []string {
	names := make([]string, 0, len(f.Sections))
	for _, s := range f.Sections {
		names = append(names, s.Engine)
	}
	return names
}
