package tools

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/jackzampolin/glean/internal/ingest"
	"github.com/jackzampolin/glean/internal/pipeline"
	"github.com/jackzampolin/glean/internal/providers"
	"github.com/jackzampolin/glean/internal/scrape"
	"github.com/jackzampolin/glean/internal/svcctx"
	"github.com/jackzampolin/glean/internal/testutil"
)

func testServices(t *testing.T) *svcctx.Services {
	t.Helper()
	set := providers.NewEngineSet(
		providers.NewMockEngine("tesseract", "HELLO 123"),
		providers.NewMockEngine("paddle", "HELLO l23"),
	)
	p, err := pipeline.New(pipeline.Config{Engines: set})
	if err != nil {
		t.Fatal(err)
	}
	return &svcctx.Services{
		Pipeline: p,
		Ingester: ingest.New(ingest.Config{}),
		Scraper:  scrape.New(scrape.Config{}),
	}
}

func call(name string, args map[string]interface{}) mcp.CallToolRequest {
	var req mcp.CallToolRequest
	req.Params.Name = name
	req.Params.Arguments = args
	return req
}

func text(t *testing.T, res *mcp.CallToolResult) string {
	t.Helper()
	if len(res.Content) != 1 {
		t.Fatalf("content = %v", res.Content)
	}
	tc, ok := res.Content[0].(mcp.TextContent)
	if !ok {
		t.Fatalf("content type %T", res.Content[0])
	}
	return tc.Text
}

func TestExtractHandler(t *testing.T) {
	s := testServices(t)
	handler := ExtractHandler(s)

	path := filepath.Join(t.TempDir(), "scan.png")
	if err := os.WriteFile(path, testutil.PNG(t, 24, 12), 0o644); err != nil {
		t.Fatal(err)
	}

	t.Run("file path", func(t *testing.T) {
		res, err := handler(context.Background(), call("extract_text", map[string]interface{}{argSource: path}))
		if err != nil {
			t.Fatal(err)
		}
		if res.IsError {
			t.Fatalf("tool error: %s", text(t, res))
		}
		if got := text(t, res); got != "Tesseract: HELLO 123\nPaddleOCR: HELLO l23" {
			t.Errorf("text = %q", got)
		}
	})

	t.Run("missing source", func(t *testing.T) {
		res, err := handler(context.Background(), call("extract_text", map[string]interface{}{}))
		if err != nil {
			t.Fatal(err)
		}
		if !res.IsError {
			t.Error("expected tool error")
		}
	})

	t.Run("unreadable file fails preprocessing", func(t *testing.T) {
		notes := filepath.Join(t.TempDir(), "notes.txt")
		if err := os.WriteFile(notes, []byte("plain text notes"), 0o644); err != nil {
			t.Fatal(err)
		}
		res, err := handler(context.Background(), call("extract_text", map[string]interface{}{argSource: notes}))
		if err != nil {
			t.Fatal(err)
		}
		if !res.IsError || !strings.Contains(text(t, res), "preprocessing failed") {
			t.Errorf("result = %+v", res)
		}
	})

	t.Run("missing file", func(t *testing.T) {
		res, _ := handler(context.Background(), call("extract_text", map[string]interface{}{argSource: "/does/not/exist.png"}))
		if !res.IsError {
			t.Error("expected tool error")
		}
	})
}

func TestScrapeHandler(t *testing.T) {
	page := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		fmt.Fprint(w, `<html><body><h2>Menu</h2><p>Soup of the day</p></body></html>`)
	}))
	defer page.Close()

	handler := ScrapeHandler(testServices(t))

	res, err := handler(context.Background(), call("scrape_page", map[string]interface{}{argURL: page.URL, argFormat: "markdown"}))
	if err != nil {
		t.Fatal(err)
	}
	if got := text(t, res); !strings.Contains(got, "## Menu") || !strings.Contains(got, "Soup of the day") {
		t.Errorf("markdown = %q", got)
	}

	res, _ = handler(context.Background(), call("scrape_page", map[string]interface{}{argURL: page.URL, argFormat: "docx"}))
	if !res.IsError {
		t.Error("expected error for unsupported format")
	}
}

func TestNewServer(t *testing.T) {
	if NewServer(testServices(t), "test") == nil {
		t.Fatal("NewServer() returned nil")
	}
}
