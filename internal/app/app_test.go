package app

import (
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/jackzampolin/glean/internal/config"
	"github.com/jackzampolin/glean/internal/home"
	"github.com/jackzampolin/glean/internal/ingest"
	"github.com/jackzampolin/glean/internal/pipeline"
	refineprompt "github.com/jackzampolin/glean/internal/prompts/refine"
	"github.com/jackzampolin/glean/internal/providers"
	"github.com/jackzampolin/glean/internal/testutil"
)

const mockConfig = `
engines:
  first:
    type: mock
    model: HELLO 123
    enabled: true
  second:
    type: mock
    model: HELLO l23
    enabled: true
pipeline:
  engines: [first, second]
refiner:
  provider: openai
  max_attempts: 1
`

func setup(t *testing.T) (*config.Manager, *home.Dir) {
	t.Helper()
	t.Setenv("OPENAI", "")

	dir := t.TempDir()
	cfgFile := filepath.Join(dir, "config.yaml")
	if err := os.WriteFile(cfgFile, []byte(mockConfig), 0o644); err != nil {
		t.Fatal(err)
	}
	mgr, err := config.NewManager(cfgFile, dir)
	if err != nil {
		t.Fatalf("NewManager() error = %v", err)
	}
	h, err := home.New(dir)
	if err != nil {
		t.Fatal(err)
	}
	return mgr, h
}

func TestNew(t *testing.T) {
	mgr, h := setup(t)

	s, err := New(Options{ConfigManager: mgr, Home: h})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	defer s.Close()

	if got := s.Pipeline.EngineNames(); len(got) != 2 || got[0] != "first" || got[1] != "second" {
		t.Errorf("engines = %v", got)
	}
	if s.Pipeline.Refiner() != nil {
		t.Error("expected no refiner without an API key")
	}
	if _, err := os.Stat(h.UploadsDir()); err != nil {
		t.Errorf("uploads dir not created: %v", err)
	}

	res, err := s.Pipeline.Run(context.Background(), pipeline.Input{Data: testutil.PNG(t, 16, 16), Name: "scan.png"})
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if !res.Degraded || res.Text != "first: HELLO 123\nsecond: HELLO l23" {
		t.Errorf("result = %+v", res)
	}
	if res.ProcessedPath == "" || filepath.Dir(res.ProcessedPath) != h.ProcessedDir() {
		t.Errorf("processed path = %q", res.ProcessedPath)
	}
}

func TestNew_RequiresDependencies(t *testing.T) {
	mgr, h := setup(t)
	if _, err := New(Options{Home: h}); err == nil {
		t.Error("expected error without config manager")
	}
	if _, err := New(Options{ConfigManager: mgr}); err == nil {
		t.Error("expected error without home")
	}
}

func TestRefiner_PromptOverride(t *testing.T) {
	mgr, h := setup(t)
	s, err := New(Options{ConfigManager: mgr, Home: h})
	if err != nil {
		t.Fatal(err)
	}
	defer s.Close()

	if err := os.MkdirAll(h.PromptsDir(), 0o755); err != nil {
		t.Fatal(err)
	}
	override := "Fix the OCR text. Reply with text only."
	if err := os.WriteFile(filepath.Join(h.PromptsDir(), refineprompt.PromptKey+".tmpl"), []byte(override), 0o644); err != nil {
		t.Fatal(err)
	}

	client := providers.NewMockClient()
	client.ResponseText = "HELLO 123"
	s.Registry.RegisterLLM("openai", client)

	r, err := Refiner(mgr.Get(), s.Registry, s.Prompts, s.Logger)
	if err != nil || r == nil {
		t.Fatalf("Refiner() = %v, %v", r, err)
	}
	res, err := r.Refine(context.Background(), "first: HELLO 123")
	if err != nil {
		t.Fatal(err)
	}
	if !res.Refined || res.Text != "HELLO 123" {
		t.Errorf("result = %+v", res)
	}
	if got := client.LastRequest().Messages[0].Content; got != override {
		t.Errorf("system prompt = %q", got)
	}
}

func TestReload(t *testing.T) {
	mgr, h := setup(t)
	s, err := New(Options{ConfigManager: mgr, Home: h})
	if err != nil {
		t.Fatal(err)
	}
	defer s.Close()

	if s.Pipeline.Refiner() != nil {
		t.Fatal("expected no refiner before reload")
	}

	t.Setenv("OPENAI", "sk-test")
	Reload(s, mgr.Get())

	if !s.Registry.HasLLM("openai") {
		t.Error("expected openai client after reload")
	}
	if s.Pipeline.Refiner() == nil {
		t.Error("expected refiner after reload")
	}
}

func TestExtract(t *testing.T) {
	mgr, h := setup(t)
	s, err := New(Options{ConfigManager: mgr, Home: h})
	if err != nil {
		t.Fatal(err)
	}
	defer s.Close()

	t.Run("image", func(t *testing.T) {
		src, err := s.Ingester.SaveUpload("receipt.png", bytes.NewReader(testutil.PNG(t, 16, 16)))
		if err != nil {
			t.Fatal(err)
		}
		ext, err := Extract(context.Background(), s, src, "req-1")
		if err != nil {
			t.Fatalf("Extract() error = %v", err)
		}
		if len(ext.Pages) != 1 || ext.Pages[0].Result.RequestID != "req-1" {
			t.Errorf("pages = %+v", ext.Pages)
		}
		if ext.PlainText() != "first: HELLO 123\nsecond: HELLO l23" || !ext.Degraded {
			t.Errorf("extraction = %+v", ext)
		}
	})

	t.Run("source id keys side files", func(t *testing.T) {
		src, err := s.Ingester.SaveUpload("receipt.png", bytes.NewReader(testutil.PNG(t, 16, 16)))
		if err != nil {
			t.Fatal(err)
		}
		ext, err := Extract(context.Background(), s, src, "")
		if err != nil {
			t.Fatalf("Extract() error = %v", err)
		}
		res := ext.Pages[0].Result
		if res.RequestID != src.ID {
			t.Errorf("request id = %q, want %q", res.RequestID, src.ID)
		}
		if want := filepath.Join(h.ProcessedDir(), "processed_"+src.ID+"_receipt.png"); res.ProcessedPath != want {
			t.Errorf("processed path = %q, want %q", res.ProcessedPath, want)
		}
		if want := filepath.Join(h.UploadsDir(), src.ID+"_receipt.png"); src.Path != want {
			t.Errorf("upload path = %q, want %q", src.Path, want)
		}
	})

	t.Run("undecodable image fails in preprocessing", func(t *testing.T) {
		src := &ingest.Source{Name: "x.gif", Data: []byte("GIF89a not really"), ContentType: "image/gif"}
		ext, err := Extract(context.Background(), s, src, "")
		var se *pipeline.StageError
		if !errors.As(err, &se) || se.Stage != pipeline.StagePreprocessing {
			t.Fatalf("expected preprocessing StageError, got %v", err)
		}
		if len(ext.Pages) != 1 || ext.Pages[0].Result.State != pipeline.StateFailed {
			t.Errorf("pages = %+v", ext.Pages)
		}
	})

	t.Run("nil services", func(t *testing.T) {
		if _, err := Extract(context.Background(), nil, &ingest.Source{}, ""); err == nil {
			t.Error("expected error")
		}
	})
}
