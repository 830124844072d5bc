package endpoints

import (
	"encoding/json"
	"net/http"

	"github.com/spf13/cobra"

	"github.com/jackzampolin/glean/internal/api"
	"github.com/jackzampolin/glean/internal/scrape"
	"github.com/jackzampolin/glean/internal/svcctx"
)

// ScrapeRequest is the body for POST /api/scrape.
type ScrapeRequest struct {
	URL    string `json:"url"`
	Format string `json:"format,omitempty"` // text (default) or markdown
}

// ScrapeResponse is a scraped page.
type ScrapeResponse struct {
	URL     string `json:"url"`
	Title   string `json:"title,omitempty"`
	Format  string `json:"format"`
	Content string `json:"content"`
}

// PlainText returns the page content.
func (r *ScrapeResponse) PlainText() string { return r.Content }

// ScrapeEndpoint handles POST /api/scrape.
type ScrapeEndpoint struct{}

var _ api.Endpoint = (*ScrapeEndpoint)(nil)

func (e *ScrapeEndpoint) Route() (string, string, http.HandlerFunc) {
	return "POST", "/api/scrape", e.handler
}

func (e *ScrapeEndpoint) RequiresInit() bool { return false }

func (e *ScrapeEndpoint) handler(w http.ResponseWriter, r *http.Request) {
	scraper := svcctx.ScraperFrom(r.Context())
	if scraper == nil {
		writeError(w, http.StatusServiceUnavailable, "scraper not initialized")
		return
	}

	var req ScrapeRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<20)).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON: "+err.Error())
		return
	}
	if req.URL == "" {
		writeError(w, http.StatusBadRequest, "url is required")
		return
	}
	format, err := scrape.ParseFormat(req.Format)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	page, err := scraper.Page(r.Context(), req.URL, format)
	if err != nil {
		svcctx.LoggerFrom(r.Context()).Warn("scrape failed", "url", req.URL, "error", err)
		writeError(w, statusFor(err), err.Error())
		return
	}
	writeJSON(w, http.StatusOK, ScrapeResponse{
		URL:     page.URL,
		Title:   page.Title,
		Format:  string(page.Format),
		Content: page.Content,
	})
}

func (e *ScrapeEndpoint) Command(getServerURL func() string) *cobra.Command {
	var format string
	cmd := &cobra.Command{
		Use:   "scrape <url>",
		Short: "Fetch a web page through the running server and print its text",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client := api.NewClient(getServerURL())
			var resp ScrapeResponse
			if err := client.Post(cmd.Context(), "/api/scrape", ScrapeRequest{URL: args[0], Format: format}, &resp); err != nil {
				return err
			}
			return api.Output(&resp)
		},
	}
	cmd.Flags().StringVar(&format, "format", "text", "Output format: text or markdown")
	return cmd
}
