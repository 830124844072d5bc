package config

import (
	"os"
	"path/filepath"
	"reflect"
	"sync/atomic"
	"testing"
	"time"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	configFile := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(configFile, []byte(content), 0644); err != nil {
		t.Fatalf("failed to write config file: %v", err)
	}
	return configFile
}

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	if got := cfg.Pipeline.Engines; !reflect.DeepEqual(got, []string{"tesseract", "paddle"}) {
		t.Errorf("pipeline engines = %v", got)
	}
	if cfg.Engines["tesseract"].PSM != 6 {
		t.Errorf("tesseract psm = %d, want 6", cfg.Engines["tesseract"].PSM)
	}
	if cfg.LLMProviders["openai"].APIKey != "${OPENAI}" {
		t.Error("expected OPENAI API key placeholder")
	}
	if cfg.Preprocess.MaxPixels != 50_000_000 {
		t.Errorf("preprocess max pixels = %d", cfg.Preprocess.MaxPixels)
	}
	if cfg.Refiner.MaxTokens != 1000 {
		t.Errorf("refiner max tokens = %d, want 1000", cfg.Refiner.MaxTokens)
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("default config should validate: %v", err)
	}
}

func TestResolveEnvVars(t *testing.T) {
	t.Run("resolves environment variable", func(t *testing.T) {
		t.Setenv("TEST_API_KEY", "secret123")

		if result := ResolveEnvVars("${TEST_API_KEY}"); result != "secret123" {
			t.Errorf("expected secret123, got %s", result)
		}
	})

	t.Run("returns empty for missing env var", func(t *testing.T) {
		if result := ResolveEnvVars("${DEFINITELY_NOT_SET_12345}"); result != "" {
			t.Errorf("expected empty string, got %s", result)
		}
	})

	t.Run("leaves literal values unchanged", func(t *testing.T) {
		if result := ResolveEnvVars("literal-value"); result != "literal-value" {
			t.Errorf("expected literal-value, got %s", result)
		}
	})
}

func TestConfig_Validate(t *testing.T) {
	t.Run("unknown pipeline engine", func(t *testing.T) {
		cfg := DefaultConfig()
		cfg.Pipeline.Engines = append(cfg.Pipeline.Engines, "ghost")
		if err := cfg.Validate(); err == nil {
			t.Error("expected error for undefined engine")
		}
	})

	t.Run("unknown refiner provider", func(t *testing.T) {
		cfg := DefaultConfig()
		cfg.Refiner.Provider = "ghost"
		if err := cfg.Validate(); err == nil {
			t.Error("expected error for undefined provider")
		}
	})

	t.Run("even median window", func(t *testing.T) {
		cfg := DefaultConfig()
		cfg.Preprocess.MedianWindow = 4
		if err := cfg.Validate(); err == nil {
			t.Error("expected error for even window")
		}
	})

	t.Run("negative pixel limit", func(t *testing.T) {
		cfg := DefaultConfig()
		cfg.Preprocess.MaxPixels = -1
		if err := cfg.Validate(); err == nil {
			t.Error("expected error for negative max_pixels")
		}
	})
}

func TestConfig_ToProviderRegistryConfig(t *testing.T) {
	t.Setenv("DEEPINFRA_API_KEY", "di-key")
	t.Setenv("OPENAI", "oa-key")

	rc := DefaultConfig().ToProviderRegistryConfig()

	if rc.Engines["paddle"].APIKey != "di-key" {
		t.Errorf("paddle api key = %q", rc.Engines["paddle"].APIKey)
	}
	if rc.LLMProviders["openai"].APIKey != "oa-key" {
		t.Errorf("openai api key = %q", rc.LLMProviders["openai"].APIKey)
	}
	if !reflect.DeepEqual(rc.EngineOrder, []string{"tesseract", "paddle"}) {
		t.Errorf("engine order = %v", rc.EngineOrder)
	}
	if got := rc.Engines["tesseract"].Languages; !reflect.DeepEqual(got, []string{"eng"}) {
		t.Errorf("tesseract languages = %v", got)
	}
}

func TestNewManager(t *testing.T) {
	t.Run("loads from config file", func(t *testing.T) {
		configFile := writeConfig(t, `
server:
  port: "9090"
refiner:
  model: gpt-4o
  timeout: 30s
`)

		mgr, err := NewManager(configFile, "")
		if err != nil {
			t.Fatalf("failed to create manager: %v", err)
		}

		cfg := mgr.Get()
		if cfg.Server.Port != "9090" {
			t.Errorf("expected port 9090, got %s", cfg.Server.Port)
		}
		if cfg.Server.Host != "127.0.0.1" {
			t.Errorf("host default lost, got %q", cfg.Server.Host)
		}
		if cfg.Refiner.Model != "gpt-4o" || cfg.Refiner.Timeout != 30*time.Second {
			t.Errorf("refiner = %+v", cfg.Refiner)
		}
		if cfg.Refiner.MaxTokens != 1000 {
			t.Errorf("max tokens default lost, got %d", cfg.Refiner.MaxTokens)
		}
		if mgr.ConfigFile() != configFile {
			t.Errorf("ConfigFile() = %q", mgr.ConfigFile())
		}
	})

	t.Run("defaults without config file", func(t *testing.T) {
		dir := t.TempDir()
		wd, _ := os.Getwd()
		if err := os.Chdir(dir); err != nil {
			t.Fatal(err)
		}
		defer os.Chdir(wd)

		mgr, err := NewManager("", dir)
		if err != nil {
			t.Fatalf("failed to create manager: %v", err)
		}
		if mgr.Get().Server.Port != "8080" {
			t.Errorf("expected default port, got %s", mgr.Get().Server.Port)
		}
	})

	t.Run("environment overrides", func(t *testing.T) {
		t.Setenv("GLEAN_SERVER_PORT", "7070")
		configFile := writeConfig(t, "log:\n  level: debug\n")

		mgr, err := NewManager(configFile, "")
		if err != nil {
			t.Fatalf("failed to create manager: %v", err)
		}
		if mgr.Get().Server.Port != "7070" {
			t.Errorf("expected env port 7070, got %s", mgr.Get().Server.Port)
		}
	})

	t.Run("invalid config is rejected", func(t *testing.T) {
		configFile := writeConfig(t, "pipeline:\n  engines: [ghost]\n")

		if _, err := NewManager(configFile, ""); err == nil {
			t.Error("expected validation error")
		}
	})
}

func TestWriteDefault(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "config.yaml")
	if err := WriteDefault(path); err != nil {
		t.Fatalf("WriteDefault() error = %v", err)
	}

	mgr, err := NewManager(path, "")
	if err != nil {
		t.Fatalf("written config should load: %v", err)
	}
	cfg := mgr.Get()
	if cfg.Engines["paddle"].Type != "deepinfra" {
		t.Errorf("paddle type = %q", cfg.Engines["paddle"].Type)
	}
	if cfg.Pipeline.EngineTimeout != 2*time.Minute {
		t.Errorf("engine timeout = %v", cfg.Pipeline.EngineTimeout)
	}
}

func TestManager_OnChange_Multiple(t *testing.T) {
	mgr, err := NewManager(writeConfig(t, "log:\n  level: info\n"), "")
	if err != nil {
		t.Fatalf("failed to create manager: %v", err)
	}

	mgr.OnChange(func(cfg *Config) {})
	mgr.OnChange(func(cfg *Config) {})
	mgr.OnChange(func(cfg *Config) {})

	mgr.mu.RLock()
	if len(mgr.callbacks) != 3 {
		t.Errorf("expected 3 callbacks, got %d", len(mgr.callbacks))
	}
	mgr.mu.RUnlock()
}

func TestManager_Get_ThreadSafe(t *testing.T) {
	mgr, err := NewManager(writeConfig(t, "log:\n  level: info\n"), "")
	if err != nil {
		t.Fatalf("failed to create manager: %v", err)
	}

	done := make(chan struct{})
	for i := 0; i < 10; i++ {
		go func() {
			for j := 0; j < 100; j++ {
				_ = mgr.Get().Log.Level
			}
			done <- struct{}{}
		}()
	}
	for i := 0; i < 10; i++ {
		<-done
	}
}

func TestManager_WatchConfig(t *testing.T) {
	configFile := writeConfig(t, "refiner:\n  model: initial-model\n")

	mgr, err := NewManager(configFile, "")
	if err != nil {
		t.Fatalf("failed to create manager: %v", err)
	}
	if got := mgr.Get().Refiner.Model; got != "initial-model" {
		t.Errorf("initial value mismatch: got %s", got)
	}

	var callbackCount atomic.Int32
	var lastValue atomic.Value

	mgr.OnChange(func(cfg *Config) {
		callbackCount.Add(1)
		lastValue.Store(cfg.Refiner.Model)
	})

	mgr.WatchConfig()

	// Give fsnotify time to set up the watcher
	time.Sleep(100 * time.Millisecond)

	if err := os.WriteFile(configFile, []byte("refiner:\n  model: updated-model\n"), 0644); err != nil {
		t.Fatalf("failed to write updated config file: %v", err)
	}

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if v, _ := lastValue.Load().(string); v == "updated-model" {
			break
		}
		time.Sleep(50 * time.Millisecond)
	}

	if callbackCount.Load() == 0 {
		t.Error("callback was not invoked after config file change")
	}
	if got := mgr.Get().Refiner.Model; got != "updated-model" {
		t.Errorf("config not updated: got %s", got)
	}
	if v := lastValue.Load(); v != "updated-model" {
		t.Errorf("callback received wrong value: %v", v)
	}
}
