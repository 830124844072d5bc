package endpoints

import (
	"encoding/json"
	"errors"
	"fmt"
	"mime"
	"net/http"
	"os"
	"path/filepath"
	"strings"

	"github.com/go-chi/chi/v5/middleware"
	"github.com/spf13/cobra"

	"github.com/jackzampolin/glean/internal/api"
	"github.com/jackzampolin/glean/internal/app"
	"github.com/jackzampolin/glean/internal/ingest"
	"github.com/jackzampolin/glean/internal/pipeline"
	"github.com/jackzampolin/glean/internal/svcctx"
)

// formOverhead is allowed on top of the image size cap for multipart framing.
const formOverhead = 1 << 20

// ExtractRequest is the JSON body for URL extraction.
type ExtractRequest struct {
	ImageURL string `json:"image_url"`
}

// ExtractEndpoint handles POST /api/extract.
//
// The image comes from a multipart `file` field, or is downloaded from an
// `image_url` given as a form field or JSON body. PDFs are rendered and every
// page is extracted in order.
type ExtractEndpoint struct{}

var _ api.Endpoint = (*ExtractEndpoint)(nil)

func (e *ExtractEndpoint) Route() (string, string, http.HandlerFunc) {
	return "POST", "/api/extract", e.handler
}

func (e *ExtractEndpoint) RequiresInit() bool { return true }

func (e *ExtractEndpoint) handler(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	logger := svcctx.LoggerFrom(ctx)
	in := svcctx.IngesterFrom(ctx)
	reqID := middleware.GetReqID(ctx)

	r.Body = http.MaxBytesReader(w, r.Body, in.MaxBytes()+formOverhead)

	src, err := e.source(r, in)
	if err != nil {
		status := statusFor(err)
		if status == http.StatusInternalServerError && errors.Is(err, errNoInput) {
			status = http.StatusBadRequest
		}
		writeError(w, status, err.Error())
		return
	}

	ext, err := app.Extract(ctx, svcctx.ServicesFrom(ctx), src, reqID)
	if err != nil {
		resp := ErrorResponse{Error: err.Error(), RequestID: reqID}
		var stageErr *pipeline.StageError
		if errors.As(err, &stageErr) {
			resp.FailedStage = string(stageErr.Stage)
		}
		logger.Warn("extraction failed", "name", src.Name, "stage", resp.FailedStage, "error", err)
		writeJSON(w, statusFor(err), resp)
		return
	}
	writeJSON(w, http.StatusOK, ext)
}

var errNoInput = errors.New("provide an image as multipart field \"file\" or an \"image_url\"")

// source reads the input image from the request.
func (e *ExtractEndpoint) source(r *http.Request, in *ingest.Ingester) (*ingest.Source, error) {
	ct, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type"))

	switch ct {
	case "multipart/form-data":
		if err := r.ParseMultipartForm(32 << 20); err != nil {
			var tooBig *http.MaxBytesError
			if errors.As(err, &tooBig) {
				return nil, fmt.Errorf("%w: %v", ingest.ErrTooLarge, err)
			}
			return nil, fmt.Errorf("%w: failed to parse form: %v", errNoInput, err)
		}
		defer r.MultipartForm.RemoveAll()

		f, fh, err := r.FormFile("file")
		if err == nil {
			defer f.Close()
			return in.SaveUpload(fh.Filename, f)
		}
		if !errors.Is(err, http.ErrMissingFile) {
			return nil, fmt.Errorf("failed to read upload: %w", err)
		}
		if u := r.FormValue("image_url"); u != "" {
			return in.Fetch(r.Context(), u)
		}
		return nil, errNoInput

	case "application/json":
		var req ExtractRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			return nil, fmt.Errorf("%w: invalid JSON: %v", errNoInput, err)
		}
		if req.ImageURL == "" {
			return nil, errNoInput
		}
		return in.Fetch(r.Context(), req.ImageURL)

	default:
		if u := r.FormValue("image_url"); u != "" {
			return in.Fetch(r.Context(), u)
		}
		return nil, errNoInput
	}
}

func (e *ExtractEndpoint) Command(getServerURL func() string) *cobra.Command {
	return &cobra.Command{
		Use:   "extract <file|url>",
		Short: "Extract text from an image or PDF on the running server",
		Long: `Extract text from an image or PDF.

A local path is uploaded. An http(s) URL is downloaded by the server.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client := api.NewClient(getServerURL())
			target := args[0]

			var ext app.Extraction
			if strings.HasPrefix(target, "http://") || strings.HasPrefix(target, "https://") {
				if err := client.Post(cmd.Context(), "/api/extract", ExtractRequest{ImageURL: target}, &ext); err != nil {
					return err
				}
				return api.Output(&ext)
			}

			f, err := os.Open(target)
			if err != nil {
				return fmt.Errorf("failed to open %s: %w", target, err)
			}
			defer f.Close()
			if err := client.PostFile(cmd.Context(), "/api/extract", "file", filepath.Base(target), f, &ext); err != nil {
				return err
			}
			return api.Output(&ext)
		},
	}
}
