package ingest

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"image"
	"image/png"
	"net/http"
	"net/http/httptest"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"
	"time"
)

func pngBytes(t *testing.T) []byte {
	t.Helper()
	var buf bytes.Buffer
	if err := png.Encode(&buf, image.NewGray(image.Rect(0, 0, 4, 4))); err != nil {
		t.Fatal(err)
	}
	return buf.Bytes()
}

func TestSecureFilename(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"My cool movie.mov", "My_cool_movie.mov"},
		{"../../../etc/passwd", "etc_passwd"},
		{"i contain cool \xfcml\xe4uts.txt", "i_contain_cool_mluts.txt"},
		{"receipt (1).jpg", "receipt_1.jpg"},
		{"...", ""},
		{"con.txt", "_con.txt"},
		{"scan.PNG", "scan.PNG"},
		{"", ""},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			if got := SecureFilename(tt.in); got != tt.want {
				t.Errorf("SecureFilename(%q) = %q, want %q", tt.in, got, tt.want)
			}
		})
	}
}

func TestIngester_SaveUpload(t *testing.T) {
	dir := t.TempDir()
	in := New(Config{UploadsDir: dir, MaxBytes: 1 << 20})

	t.Run("saves sanitized name", func(t *testing.T) {
		src, err := in.SaveUpload("../my scan.png", bytes.NewReader(pngBytes(t)))
		if err != nil {
			t.Fatalf("SaveUpload() error = %v", err)
		}
		if src.Name != "my_scan.png" || src.ContentType != "image/png" {
			t.Errorf("source = %+v", src)
		}
		if src.ID == "" || src.Path != filepath.Join(dir, src.ID+"_my_scan.png") {
			t.Errorf("path = %s", src.Path)
		}
		if _, err := os.Stat(src.Path); err != nil {
			t.Errorf("upload not written: %v", err)
		}
	})

	t.Run("generates name when empty", func(t *testing.T) {
		src, err := in.SaveUpload("///", bytes.NewReader(pngBytes(t)))
		if err != nil {
			t.Fatalf("SaveUpload() error = %v", err)
		}
		if !strings.HasSuffix(src.Name, ".png") || len(src.Name) < 10 {
			t.Errorf("name = %q", src.Name)
		}
	})

	t.Run("same name does not overwrite", func(t *testing.T) {
		a, err := in.SaveUpload("scan.png", bytes.NewReader(pngBytes(t)))
		if err != nil {
			t.Fatal(err)
		}
		b, err := in.SaveUpload("scan.png", strings.NewReader("second upload"))
		if err != nil {
			t.Fatal(err)
		}
		if a.Path == b.Path {
			t.Fatalf("both uploads saved to %s", a.Path)
		}
		got, err := os.ReadFile(a.Path)
		if err != nil {
			t.Fatal(err)
		}
		if !bytes.Equal(got, pngBytes(t)) {
			t.Error("first upload was overwritten")
		}
	})

	t.Run("keeps non-image bytes for the pipeline", func(t *testing.T) {
		src, err := in.SaveUpload("notes.txt", strings.NewReader("just some text"))
		if err != nil {
			t.Fatalf("SaveUpload() error = %v", err)
		}
		if !strings.HasPrefix(src.ContentType, "text/plain") {
			t.Errorf("content type = %q", src.ContentType)
		}
	})

	t.Run("rejects oversized", func(t *testing.T) {
		small := New(Config{UploadsDir: dir, MaxBytes: 8})
		_, err := small.SaveUpload("big.png", bytes.NewReader(pngBytes(t)))
		if !errors.Is(err, ErrTooLarge) {
			t.Errorf("expected ErrTooLarge, got %v", err)
		}
	})

	t.Run("without uploads dir keeps bytes in memory", func(t *testing.T) {
		mem := New(Config{})
		src, err := mem.SaveUpload("a.png", bytes.NewReader(pngBytes(t)))
		if err != nil {
			t.Fatal(err)
		}
		if src.Path != "" || len(src.Data) == 0 {
			t.Errorf("source = %+v", src)
		}
	})
}

func TestIngester_Fetch(t *testing.T) {
	img := pngBytes(t)

	t.Run("downloads and names from path", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Write(img)
		}))
		defer server.Close()

		dir := t.TempDir()
		in := New(Config{UploadsDir: dir})
		src, err := in.Fetch(context.Background(), server.URL+"/images/receipt%20scan.png?x=1")
		if err != nil {
			t.Fatalf("Fetch() error = %v", err)
		}
		if src.Name != "receipt_scan.png" {
			t.Errorf("name = %q", src.Name)
		}
		if !bytes.Equal(src.Data, img) {
			t.Error("data mismatch")
		}
	})

	t.Run("retries server errors", func(t *testing.T) {
		var calls atomic.Int32
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if calls.Add(1) < 3 {
				w.WriteHeader(http.StatusServiceUnavailable)
				return
			}
			w.Write(img)
		}))
		defer server.Close()

		in := New(Config{RetryDelay: time.Millisecond})
		if _, err := in.Fetch(context.Background(), server.URL+"/a.png"); err != nil {
			t.Fatalf("Fetch() error = %v", err)
		}
		if calls.Load() != 3 {
			t.Errorf("calls = %d, want 3", calls.Load())
		}
	})

	t.Run("does not retry not found", func(t *testing.T) {
		var calls atomic.Int32
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			calls.Add(1)
			http.NotFound(w, r)
		}))
		defer server.Close()

		in := New(Config{RetryDelay: time.Millisecond})
		_, err := in.Fetch(context.Background(), server.URL+"/missing.png")
		var fe *FetchError
		if !errors.As(err, &fe) || fe.StatusCode != http.StatusNotFound {
			t.Fatalf("expected 404 FetchError, got %v", err)
		}
		if calls.Load() != 1 {
			t.Errorf("calls = %d, want 1", calls.Load())
		}
	})

	t.Run("html passes through", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Write([]byte("<html><body>hi</body></html>"))
		}))
		defer server.Close()

		src, err := New(Config{}).Fetch(context.Background(), server.URL)
		if err != nil {
			t.Fatalf("Fetch() error = %v", err)
		}
		if !strings.HasPrefix(src.ContentType, "text/html") || !strings.HasSuffix(src.Name, ".bin") {
			t.Errorf("source = %+v", src)
		}
	})

	t.Run("size cap", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Write(img)
		}))
		defer server.Close()

		_, err := New(Config{MaxBytes: 16}).Fetch(context.Background(), server.URL+"/a.png")
		if !errors.Is(err, ErrTooLarge) {
			t.Errorf("expected ErrTooLarge, got %v", err)
		}
	})

	t.Run("unsupported scheme", func(t *testing.T) {
		for _, u := range []string{"file:///etc/passwd", "ftp://example.com/a.png", "not a url"} {
			_, err := New(Config{}).Fetch(context.Background(), u)
			if !errors.Is(err, ErrUnsupportedScheme) {
				t.Errorf("Fetch(%q) error = %v, want ErrUnsupportedScheme", u, err)
			}
		}
	})
}

func TestIngester_Open(t *testing.T) {
	p := filepath.Join(t.TempDir(), "page one.png")
	if err := os.WriteFile(p, pngBytes(t), 0o644); err != nil {
		t.Fatal(err)
	}

	src, err := New(Config{}).Open(p)
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	if src.Name != "page_one.png" || src.Path != p {
		t.Errorf("source = %+v", src)
	}

	if _, err := New(Config{}).Open(filepath.Join(t.TempDir(), "missing.png")); err == nil {
		t.Error("expected error for missing file")
	}
}

func TestIngester_Pages(t *testing.T) {
	in := New(Config{})

	t.Run("image passthrough", func(t *testing.T) {
		src := &Source{Name: "a.png", Data: pngBytes(t), ContentType: "image/png"}
		pages, err := in.Pages(context.Background(), src)
		if err != nil {
			t.Fatal(err)
		}
		if len(pages) != 1 || pages[0] != src {
			t.Errorf("pages = %v", pages)
		}
	})

	t.Run("corrupt pdf", func(t *testing.T) {
		src := &Source{Name: "bad.pdf", Data: []byte("%PDF-1.4\nthis is not really a pdf")}
		if _, err := in.Pages(context.Background(), src); err == nil {
			t.Error("expected error for corrupt PDF")
		}
	})
}

// onePagePDF builds a blank single-page PDF with a valid xref table.
func onePagePDF() []byte {
	objs := []string{
		"<< /Type /Catalog /Pages 2 0 R >>",
		"<< /Type /Pages /Kids [3 0 R] /Count 1 >>",
		"<< /Type /Page /Parent 2 0 R /MediaBox [0 0 72 72] >>",
	}
	var buf bytes.Buffer
	buf.WriteString("%PDF-1.4\n")
	offsets := make([]int, len(objs))
	for i, o := range objs {
		offsets[i] = buf.Len()
		fmt.Fprintf(&buf, "%d 0 obj\n%s\nendobj\n", i+1, o)
	}
	xref := buf.Len()
	fmt.Fprintf(&buf, "xref\n0 %d\n0000000000 65535 f \n", len(objs)+1)
	for _, off := range offsets {
		fmt.Fprintf(&buf, "%010d 00000 n \n", off)
	}
	fmt.Fprintf(&buf, "trailer\n<< /Size %d /Root 1 0 R >>\nstartxref\n%d\n%%%%EOF\n", len(objs)+1, xref)
	return buf.Bytes()
}

func TestIngester_Pages_RemovesRenders(t *testing.T) {
	pagesDir := t.TempDir()
	in := New(Config{PagesDir: pagesDir})
	src := &Source{ID: "req-1", Name: "doc.pdf", Data: onePagePDF(), ContentType: "application/pdf"}

	pages, err := in.Pages(context.Background(), src)
	if err == nil {
		if len(pages) != 1 || len(pages[0].Data) == 0 || pages[0].ID != "req-1" {
			t.Errorf("pages = %+v", pages)
		}
		if pages[0].Path != "" {
			t.Errorf("page path = %q, renders should not outlive the call", pages[0].Path)
		}
	}

	entries, err := os.ReadDir(pagesDir)
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 0 {
		t.Errorf("pages dir has %d leftover entries", len(entries))
	}
}

func TestRenderPage_NoTool(t *testing.T) {
	if _, err := exec.LookPath("pdftoppm"); err == nil {
		t.Skip("pdftoppm installed")
	}
	if _, err := renderPage(context.Background(), "missing.pdf", t.TempDir(), 1, 72); err == nil {
		t.Error("expected error without pdftoppm")
	}
}

func TestSniff(t *testing.T) {
	tests := []struct {
		name string
		data []byte
		want string
	}{
		{"png", pngBytes(t), "image/png"},
		{"pdf", []byte("%PDF-1.7 ..."), "application/pdf"},
		{"tiff", []byte("II*\x00rest"), "image/tiff"},
		{"text", []byte("hello"), "text/plain; charset=utf-8"},
		{"empty", nil, "text/plain; charset=utf-8"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := sniff(tt.data); got != tt.want {
				t.Errorf("sniff() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestStoredName(t *testing.T) {
	tests := []struct {
		id, name, want string
	}{
		{"abc", "scan.png", "abc_scan.png"},
		{"", "scan.png", "scan.png"},
		{"abc", "abc.png", "abc.png"},
	}
	for _, tt := range tests {
		if got := StoredName(tt.id, tt.name); got != tt.want {
			t.Errorf("StoredName(%q, %q) = %q, want %q", tt.id, tt.name, got, tt.want)
		}
	}
}
