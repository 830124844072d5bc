package refine

// CorrectedTextSchema is the JSON schema for structured refiner output.
var CorrectedTextSchema = map[string]any{
	"type": "json_schema",
	"json_schema": map[string]any{
		"name":   "corrected_text",
		"strict": true,
		"schema": map[string]any{
			"type": "object",
			"properties": map[string]any{
				"corrected_text": map[string]any{
					"type":        "string",
					"description": "The corrected OCR text without engine labels",
				},
			},
			"required":             []string{"corrected_text"},
			"additionalProperties": false,
		},
	},
}

// Result represents the parsed structured refiner output.
type Result struct {
	CorrectedText string `json:"corrected_text"`
}
