// Package ingest turns uploads, remote URLs and PDFs into image bytes for extraction.
package ingest

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"strings"
	"time"

	"github.com/avast/retry-go/v4"
	"github.com/google/uuid"
)

const (
	DefaultMaxBytes   = 32 << 20
	DefaultMaxPages   = 50
	DefaultDPI        = 300
	DefaultAttempts   = 3
	DefaultRetryDelay = 500 * time.Millisecond
	DefaultTimeout    = 30 * time.Second
)

var (
	// ErrUnsupportedScheme is returned for URLs that are not http or https.
	ErrUnsupportedScheme = errors.New("unsupported URL scheme")

	// ErrTooLarge is returned when an input exceeds the size cap.
	ErrTooLarge = errors.New("input exceeds size limit")

	// ErrTooManyPages is returned for PDFs longer than the page cap.
	ErrTooManyPages = errors.New("PDF has too many pages")
)

// FetchError reports a non-success HTTP response for a URL download.
type FetchError struct {
	URL        string
	StatusCode int
}

func (e *FetchError) Error() string {
	return fmt.Sprintf("fetch %s: status %d", e.URL, e.StatusCode)
}

// Source is one image ready for the pipeline.
type Source struct {
	ID          string // Unique per stored input; prefixes the saved file
	Name        string // Sanitized file name
	Path        string // Where the bytes were saved, if anywhere
	Data        []byte
	ContentType string
	Page        int // 1-based page for PDF renders, 0 otherwise
}

// Config configures an Ingester.
type Config struct {
	UploadsDir string // Saved uploads and downloads
	PagesDir   string // Root for rendered PDF pages
	MaxBytes   int64
	MaxPages   int
	DPI        int
	Attempts   int
	RetryDelay time.Duration
	HTTPClient *http.Client
	Logger     *slog.Logger
}

// Ingester saves and normalizes inputs.
type Ingester struct {
	uploadsDir string
	pagesDir   string
	maxBytes   int64
	maxPages   int
	dpi        int
	attempts   uint
	retryDelay time.Duration
	client     *http.Client
	logger     *slog.Logger
}

// New creates an Ingester.
func New(cfg Config) *Ingester {
	if cfg.MaxBytes <= 0 {
		cfg.MaxBytes = DefaultMaxBytes
	}
	if cfg.MaxPages <= 0 {
		cfg.MaxPages = DefaultMaxPages
	}
	if cfg.DPI <= 0 {
		cfg.DPI = DefaultDPI
	}
	if cfg.Attempts <= 0 {
		cfg.Attempts = DefaultAttempts
	}
	if cfg.RetryDelay <= 0 {
		cfg.RetryDelay = DefaultRetryDelay
	}
	if cfg.HTTPClient == nil {
		cfg.HTTPClient = &http.Client{Timeout: DefaultTimeout}
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.PagesDir == "" && cfg.UploadsDir != "" {
		cfg.PagesDir = filepath.Join(filepath.Dir(cfg.UploadsDir), "pages")
	}
	return &Ingester{
		uploadsDir: cfg.UploadsDir,
		pagesDir:   cfg.PagesDir,
		maxBytes:   cfg.MaxBytes,
		maxPages:   cfg.MaxPages,
		dpi:        cfg.DPI,
		attempts:   uint(cfg.Attempts),
		retryDelay: cfg.RetryDelay,
		client:     cfg.HTTPClient,
		logger:     cfg.Logger,
	}
}

// MaxBytes returns the size cap applied to every input.
func (in *Ingester) MaxBytes() int64 { return in.maxBytes }

// SaveUpload reads an uploaded file and stores it under the uploads directory.
func (in *Ingester) SaveUpload(name string, r io.Reader) (*Source, error) {
	data, err := in.readLimited(r)
	if err != nil {
		return nil, err
	}
	return in.store(name, data)
}

// Open reads a local file.
func (in *Ingester) Open(p string) (*Source, error) {
	f, err := os.Open(p)
	if err != nil {
		return nil, fmt.Errorf("open input: %w", err)
	}
	defer f.Close()

	data, err := in.readLimited(f)
	if err != nil {
		return nil, err
	}
	return &Source{
		ID:          uuid.New().String(),
		Name:        SecureFilename(filepath.Base(p)),
		Path:        p,
		Data:        data,
		ContentType: sniff(data),
	}, nil
}

// Fetch downloads rawURL, retrying transient failures, and stores the body
// under a name taken from the last URL path segment.
func (in *Ingester) Fetch(ctx context.Context, rawURL string) (*Source, error) {
	u, err := url.Parse(strings.TrimSpace(rawURL))
	if err != nil {
		return nil, fmt.Errorf("parse URL: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedScheme, u.Scheme)
	}

	var data []byte
	err = retry.Do(
		func() error {
			body, err := in.download(ctx, u.String())
			if err != nil {
				return err
			}
			data = body
			return nil
		},
		retry.Context(ctx),
		retry.Attempts(in.attempts),
		retry.Delay(in.retryDelay),
		retry.DelayType(retry.BackOffDelay),
		retry.LastErrorOnly(true),
		retry.RetryIf(retryableFetch),
		retry.OnRetry(func(n uint, err error) {
			in.logger.Warn("retrying download", "url", u.Redacted(), "attempt", n+1, "error", err)
		}),
	)
	if err != nil {
		return nil, err
	}

	name := path.Base(u.Path)
	if name == "/" || name == "." {
		name = ""
	}
	return in.store(name, data)
}

func (in *Ingester) download(ctx context.Context, target string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return nil, retry.Unrecoverable(err)
	}
	req.Header.Set("User-Agent", "glean/1.0")

	resp, err := in.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, &FetchError{URL: target, StatusCode: resp.StatusCode}
	}
	if resp.ContentLength > in.maxBytes {
		return nil, fmt.Errorf("%w: %d bytes", ErrTooLarge, resp.ContentLength)
	}
	return in.readLimited(resp.Body)
}

func retryableFetch(err error) bool {
	if errors.Is(err, ErrTooLarge) || errors.Is(err, context.Canceled) {
		return false
	}
	var fe *FetchError
	if errors.As(err, &fe) {
		return fe.StatusCode >= 500 || fe.StatusCode == http.StatusTooManyRequests
	}
	return true
}

func (in *Ingester) readLimited(r io.Reader) ([]byte, error) {
	data, err := io.ReadAll(io.LimitReader(r, in.maxBytes+1))
	if err != nil {
		return nil, fmt.Errorf("read input: %w", err)
	}
	if int64(len(data)) > in.maxBytes {
		return nil, fmt.Errorf("%w (%d bytes)", ErrTooLarge, in.maxBytes)
	}
	return data, nil
}

// store writes data to the uploads directory, when one is set, as <id>_<name>.
// Content is not validated here; bytes that are not an image fail decoding
// in the pipeline.
func (in *Ingester) store(name string, data []byte) (*Source, error) {
	ct := sniff(data)
	id := uuid.New().String()

	name = SecureFilename(name)
	if name == "" {
		name = id + extensionFor(ct)
	}
	src := &Source{ID: id, Name: name, Data: data, ContentType: ct}
	if in.uploadsDir == "" {
		return src, nil
	}

	if err := os.MkdirAll(in.uploadsDir, 0o755); err != nil {
		return nil, fmt.Errorf("create uploads dir: %w", err)
	}
	src.Path = filepath.Join(in.uploadsDir, StoredName(id, name))
	if err := os.WriteFile(src.Path, data, 0o644); err != nil {
		return nil, fmt.Errorf("save input: %w", err)
	}
	in.logger.Debug("saved input", "path", src.Path, "bytes", len(data), "content_type", ct)
	return src, nil
}

// Pages expands a PDF source into one rendered image per page.
// Image sources are returned unchanged.
func (in *Ingester) Pages(ctx context.Context, src *Source) ([]*Source, error) {
	if !IsPDF(src.Data) {
		return []*Source{src}, nil
	}

	n, err := PageCount(src.Data)
	if err != nil {
		return nil, err
	}
	if n > in.maxPages {
		return nil, fmt.Errorf("%w: %d > %d", ErrTooManyPages, n, in.maxPages)
	}

	pdfPath := src.Path
	if pdfPath == "" {
		tmp, err := os.CreateTemp("", "glean-*.pdf")
		if err != nil {
			return nil, fmt.Errorf("create temp pdf: %w", err)
		}
		defer os.Remove(tmp.Name())
		if _, err := tmp.Write(src.Data); err != nil {
			tmp.Close()
			return nil, fmt.Errorf("write temp pdf: %w", err)
		}
		tmp.Close()
		pdfPath = tmp.Name()
	}

	root := in.pagesDir
	if root == "" {
		root = os.TempDir()
	}
	outDir := filepath.Join(root, uuid.New().String())
	if err := os.MkdirAll(outDir, 0o755); err != nil {
		return nil, fmt.Errorf("create pages dir: %w", err)
	}
	defer os.RemoveAll(outDir)

	in.logger.Info("rendering PDF", "name", src.Name, "pages", n)
	stem := strings.TrimSuffix(src.Name, filepath.Ext(src.Name))
	pages := make([]*Source, 0, n)
	for page := 1; page <= n; page++ {
		p, err := renderPage(ctx, pdfPath, outDir, page, in.dpi)
		if err != nil {
			return nil, fmt.Errorf("render page %d: %w", page, err)
		}
		data, err := os.ReadFile(p)
		if err != nil {
			return nil, fmt.Errorf("read page %d: %w", page, err)
		}
		pages = append(pages, &Source{
			ID:          src.ID,
			Name:        fmt.Sprintf("%s_page_%04d.png", stem, page),
			Data:        data,
			ContentType: "image/png",
			Page:        page,
		})
	}
	return pages, nil
}

// sniff returns the detected content type.
func sniff(data []byte) string {
	if IsPDF(data) {
		return "application/pdf"
	}
	// DetectContentType does not know TIFF.
	if len(data) >= 4 && (string(data[:4]) == "II*\x00" || string(data[:4]) == "MM\x00*") {
		return "image/tiff"
	}
	return http.DetectContentType(data)
}

// StoredName is the file name an input with the given id is saved under.
func StoredName(id, name string) string {
	if id == "" || strings.HasPrefix(name, id) {
		return name
	}
	return id + "_" + name
}

func extensionFor(contentType string) string {
	switch contentType {
	case "image/png":
		return ".png"
	case "image/jpeg":
		return ".jpg"
	case "image/gif":
		return ".gif"
	case "image/webp":
		return ".webp"
	case "image/bmp":
		return ".bmp"
	case "image/tiff":
		return ".tiff"
	case "application/pdf":
		return ".pdf"
	default:
		return ".bin"
	}
}
