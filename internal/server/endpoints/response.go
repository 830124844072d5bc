package endpoints

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/jackzampolin/glean/internal/ingest"
	"github.com/jackzampolin/glean/internal/pipeline"
	"github.com/jackzampolin/glean/internal/preprocess"
	"github.com/jackzampolin/glean/internal/scrape"
)

// writeJSON writes a JSON response.
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// ErrorResponse is a standard error response. Extraction failures also name
// the pipeline stage that failed.
type ErrorResponse struct {
	Error       string `json:"error"`
	FailedStage string `json:"failed_stage,omitempty"`
	RequestID   string `json:"request_id,omitempty"`
}

// writeError writes a JSON error response.
func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, ErrorResponse{Error: msg})
}

// statusFor maps an extraction or scrape error to an HTTP status.
func statusFor(err error) int {
	var (
		decodeErr  *preprocess.DecodeError
		enginesErr *pipeline.AllEnginesFailedError
		fetchErr   *ingest.FetchError
		tooBig     *http.MaxBytesError
	)
	switch {
	case errors.As(err, &decodeErr):
		return http.StatusUnprocessableEntity
	case errors.As(err, &enginesErr):
		return http.StatusBadGateway
	case errors.As(err, &fetchErr):
		return http.StatusBadGateway
	case errors.Is(err, ingest.ErrTooLarge), errors.As(err, &tooBig):
		return http.StatusRequestEntityTooLarge
	case errors.Is(err, ingest.ErrTooManyPages):
		return http.StatusUnprocessableEntity
	case errors.Is(err, ingest.ErrUnsupportedScheme), errors.Is(err, scrape.ErrUnsupportedFormat):
		return http.StatusBadRequest
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	default:
		return http.StatusInternalServerError
	}
}
