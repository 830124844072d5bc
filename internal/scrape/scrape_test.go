package scrape

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/jackzampolin/glean/internal/ingest"
)

const testHTML = `<!DOCTYPE html>
<html>
<head>
  <title> Receipt </title>
  <style>.hidden { display: none }</style>
  <script>var secret = "do not show";</script>
</head>
<body>
  <h1>Hello</h1>
  <p>World <b>bold</b></p>


  <ul><li>one</li><li>two</li></ul>
  <a href="/next">next page</a>
  <noscript>enable js</noscript>
</body>
</html>`

func newServer(t *testing.T) *httptest.Server {
	t.Helper()
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/missing" {
			http.NotFound(w, r)
			return
		}
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		w.Write([]byte(testHTML))
	}))
	t.Cleanup(server.Close)
	return server
}

func TestScraper_PageText(t *testing.T) {
	server := newServer(t)
	s := New(Config{})

	page, err := s.Page(context.Background(), server.URL+"/doc", FormatText)
	if err != nil {
		t.Fatalf("Page() error = %v", err)
	}
	if page.Title != "Receipt" {
		t.Errorf("title = %q", page.Title)
	}
	for _, want := range []string{"Hello", "World bold", "one", "two", "next page"} {
		if !strings.Contains(page.Content, want) {
			t.Errorf("content missing %q:\n%s", want, page.Content)
		}
	}
	for _, unwanted := range []string{"secret", "display", "enable js", "Receipt"} {
		if strings.Contains(page.Content, unwanted) {
			t.Errorf("content contains %q:\n%s", unwanted, page.Content)
		}
	}
	if strings.Contains(page.Content, "\n\n\n") {
		t.Errorf("blank lines not collapsed:\n%q", page.Content)
	}
}

func TestScraper_PageMarkdown(t *testing.T) {
	server := newServer(t)
	s := New(Config{})

	page, err := s.Page(context.Background(), server.URL, FormatMarkdown)
	if err != nil {
		t.Fatalf("Page() error = %v", err)
	}
	if page.Format != FormatMarkdown || page.Title != "Receipt" {
		t.Errorf("page = %+v", page)
	}
	if !strings.Contains(page.Content, "# Hello") {
		t.Errorf("expected heading in markdown:\n%s", page.Content)
	}
	if !strings.Contains(page.Content, "**bold**") {
		t.Errorf("expected bold in markdown:\n%s", page.Content)
	}
	if strings.Contains(page.Content, "secret") {
		t.Errorf("script leaked into markdown:\n%s", page.Content)
	}
}

func TestScraper_Errors(t *testing.T) {
	server := newServer(t)
	s := New(Config{})

	t.Run("not found", func(t *testing.T) {
		_, err := s.Page(context.Background(), server.URL+"/missing", FormatText)
		var fe *ingest.FetchError
		if !errors.As(err, &fe) || fe.StatusCode != http.StatusNotFound {
			t.Errorf("expected 404 FetchError, got %v", err)
		}
	})

	t.Run("unsupported scheme", func(t *testing.T) {
		_, err := s.Page(context.Background(), "ftp://example.com", FormatText)
		if !errors.Is(err, ingest.ErrUnsupportedScheme) {
			t.Errorf("expected ErrUnsupportedScheme, got %v", err)
		}
	})

	t.Run("unsupported format", func(t *testing.T) {
		_, err := s.Page(context.Background(), server.URL, Format("pdf"))
		if !errors.Is(err, ErrUnsupportedFormat) {
			t.Errorf("expected ErrUnsupportedFormat, got %v", err)
		}
	})

	t.Run("too large", func(t *testing.T) {
		small := New(Config{MaxBytes: 32})
		_, err := small.Page(context.Background(), server.URL, FormatText)
		if !errors.Is(err, ingest.ErrTooLarge) {
			t.Errorf("expected ErrTooLarge, got %v", err)
		}
	})
}

func TestParseFormat(t *testing.T) {
	tests := map[string]Format{
		"":         FormatText,
		"TEXT":     FormatText,
		"md":       FormatMarkdown,
		"markdown": FormatMarkdown,
	}
	for in, want := range tests {
		got, err := ParseFormat(in)
		if err != nil || got != want {
			t.Errorf("ParseFormat(%q) = %q, %v", in, got, err)
		}
	}
	if _, err := ParseFormat("html"); !errors.Is(err, ErrUnsupportedFormat) {
		t.Errorf("expected ErrUnsupportedFormat, got %v", err)
	}
}

func TestCollapse(t *testing.T) {
	got := collapse("  a   b \n\n\n\t\n c\n")
	if got != "a b\n\nc" {
		t.Errorf("collapse() = %q", got)
	}
}
