// Package scrape fetches web pages and returns their readable text.
package scrape

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	md "github.com/JohannesKaufmann/html-to-markdown"
	"github.com/PuerkitoBio/goquery"

	"github.com/jackzampolin/glean/internal/ingest"
)

// Format selects the output representation.
type Format string

const (
	FormatText     Format = "text"
	FormatMarkdown Format = "markdown"
)

const (
	DefaultMaxBytes = 8 << 20
	DefaultTimeout  = 30 * time.Second
)

// ErrUnsupportedFormat is returned for formats other than text and markdown.
var ErrUnsupportedFormat = errors.New("unsupported scrape format")

// ParseFormat maps a user-supplied name to a Format. Empty means text.
func ParseFormat(s string) (Format, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "text", "txt":
		return FormatText, nil
	case "markdown", "md":
		return FormatMarkdown, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrUnsupportedFormat, s)
	}
}

// Page is a scraped document.
type Page struct {
	URL     string `json:"url"`
	Title   string `json:"title,omitempty"`
	Format  Format `json:"format"`
	Content string `json:"content"`
}

// PlainText returns the page content.
func (p *Page) PlainText() string { return p.Content }

// Config configures a Scraper.
type Config struct {
	HTTPClient *http.Client
	MaxBytes   int64
	Logger     *slog.Logger
}

// Scraper fetches pages. It is safe for concurrent use.
type Scraper struct {
	client    *http.Client
	maxBytes  int64
	converter *md.Converter
	logger    *slog.Logger
}

// New creates a Scraper.
func New(cfg Config) *Scraper {
	if cfg.HTTPClient == nil {
		cfg.HTTPClient = &http.Client{Timeout: DefaultTimeout}
	}
	if cfg.MaxBytes <= 0 {
		cfg.MaxBytes = DefaultMaxBytes
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Scraper{
		client:    cfg.HTTPClient,
		maxBytes:  cfg.MaxBytes,
		converter: md.NewConverter("", true, nil),
		logger:    cfg.Logger,
	}
}

// Page fetches rawURL and renders it in format.
func (s *Scraper) Page(ctx context.Context, rawURL string, format Format) (*Page, error) {
	if format == "" {
		format = FormatText
	}
	if format != FormatText && format != FormatMarkdown {
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedFormat, format)
	}

	u, err := url.Parse(strings.TrimSpace(rawURL))
	if err != nil {
		return nil, fmt.Errorf("parse URL: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, fmt.Errorf("%w: %q", ingest.ErrUnsupportedScheme, u.Scheme)
	}

	body, err := s.fetch(ctx, u.String())
	if err != nil {
		return nil, err
	}

	page := &Page{URL: u.String(), Format: format}
	switch format {
	case FormatMarkdown:
		page.Title = Title(body)
		page.Content, err = s.Markdown(body, u)
	default:
		page.Title, page.Content, err = Text(body)
	}
	if err != nil {
		return nil, err
	}

	s.logger.Debug("scraped page", "url", u.Redacted(), "format", format, "chars", len(page.Content))
	return page, nil
}

func (s *Scraper) fetch(ctx context.Context, target string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("User-Agent", "glean/1.0")
	req.Header.Set("Accept", "text/html,application/xhtml+xml;q=0.9,*/*;q=0.5")

	resp, err := s.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch %s: %w", target, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return nil, &ingest.FetchError{URL: target, StatusCode: resp.StatusCode}
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, s.maxBytes+1))
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}
	if int64(len(body)) > s.maxBytes {
		return nil, fmt.Errorf("%w (%d bytes)", ingest.ErrTooLarge, s.maxBytes)
	}
	return body, nil
}

// Text returns the page title and visible text of an HTML document.
// Script, style and noscript contents are dropped and blank lines collapsed.
func Text(html []byte) (title, text string, err error) {
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(html))
	if err != nil {
		return "", "", fmt.Errorf("parse html: %w", err)
	}
	doc.Find("script, style, noscript, template").Remove()

	title = strings.TrimSpace(doc.Find("title").First().Text())

	root := doc.Find("body")
	if root.Length() == 0 {
		root = doc.Selection
	}
	// Block elements end a line in the rendered page.
	root.Find("p, div, br, li, h1, h2, h3, h4, h5, h6, tr, section, article, header, footer").Each(func(_ int, sel *goquery.Selection) {
		sel.AppendHtml("\n")
	})
	return title, collapse(root.Text()), nil
}

// Title returns the document title, or "".
func Title(html []byte) string {
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(html))
	if err != nil {
		return ""
	}
	return strings.TrimSpace(doc.Find("title").First().Text())
}

// Markdown converts an HTML document to markdown, resolving links against base.
func (s *Scraper) Markdown(html []byte, base *url.URL) (string, error) {
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(html))
	if err != nil {
		return "", fmt.Errorf("parse html: %w", err)
	}
	doc.Find("script, style, noscript, template").Remove()

	root := doc.Find("body")
	if root.Length() == 0 {
		root = doc.Selection
	}

	conv := s.converter
	if base != nil {
		conv = md.NewConverter(base.Scheme+"://"+base.Host, true, nil)
	}
	return strings.TrimSpace(conv.Convert(root)), nil
}

// collapse trims each line and squeezes runs of blank lines to one.
func collapse(s string) string {
	lines := strings.Split(s, "\n")
	out := make([]string, 0, len(lines))
	blank := false
	for _, line := range lines {
		line = strings.Join(strings.Fields(line), " ")
		if line == "" {
			if !blank && len(out) > 0 {
				out = append(out, "")
			}
			blank = true
			continue
		}
		blank = false
		out = append(out, line)
	}
	return strings.TrimSpace(strings.Join(out, "\n"))
}
