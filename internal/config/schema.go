package config

import "time"

// Config holds glean configuration.
// Stored at: {home}/config.yaml
type Config struct {
	Engines      map[string]EngineCfg      `mapstructure:"engines" yaml:"engines"`
	LLMProviders map[string]LLMProviderCfg `mapstructure:"llm_providers" yaml:"llm_providers"`
	Pipeline     PipelineCfg               `mapstructure:"pipeline" yaml:"pipeline"`
	Refiner      RefinerCfg                `mapstructure:"refiner" yaml:"refiner"`
	Preprocess   PreprocessCfg             `mapstructure:"preprocess" yaml:"preprocess"`
	Server       ServerCfg                 `mapstructure:"server" yaml:"server"`
	Log          LogCfg                    `mapstructure:"log" yaml:"log"`
}

// EngineCfg configures an OCR engine.
type EngineCfg struct {
	Type      string   `mapstructure:"type" yaml:"type"`             // "tesseract", "deepinfra", "mistral-ocr"
	Model     string   `mapstructure:"model" yaml:"model"`           // Model name (remote engines)
	APIKey    string   `mapstructure:"api_key" yaml:"api_key"`       // API key (supports ${ENV_VAR} syntax)
	RateLimit float64  `mapstructure:"rate_limit" yaml:"rate_limit"` // Requests per second
	Languages []string `mapstructure:"languages" yaml:"languages"`   // Tesseract languages
	PSM       int      `mapstructure:"psm" yaml:"psm"`               // Tesseract page segmentation mode
	PoolSize  int      `mapstructure:"pool_size" yaml:"pool_size"`   // Tesseract clients kept loaded
	Enabled   bool     `mapstructure:"enabled" yaml:"enabled"`
}

// LLMProviderCfg configures an LLM provider used by the refiner.
type LLMProviderCfg struct {
	Type      string  `mapstructure:"type" yaml:"type"`             // "openai", "anthropic"
	Model     string  `mapstructure:"model" yaml:"model"`           // Default model
	APIKey    string  `mapstructure:"api_key" yaml:"api_key"`       // API key (supports ${ENV_VAR} syntax)
	BaseURL   string  `mapstructure:"base_url" yaml:"base_url"`     // Optional OpenAI-compatible endpoint
	RateLimit float64 `mapstructure:"rate_limit" yaml:"rate_limit"` // Requests per second
	Enabled   bool    `mapstructure:"enabled" yaml:"enabled"`
}

// PipelineCfg controls the orchestrator.
type PipelineCfg struct {
	Engines       []string      `mapstructure:"engines" yaml:"engines"` // Ordered engine names
	EngineTimeout time.Duration `mapstructure:"engine_timeout" yaml:"engine_timeout"`
}

// RefinerCfg controls the LLM correction pass.
type RefinerCfg struct {
	Provider         string        `mapstructure:"provider" yaml:"provider"`
	Model            string        `mapstructure:"model" yaml:"model"` // Overrides the provider default
	MaxTokens        int           `mapstructure:"max_tokens" yaml:"max_tokens"`
	Temperature      float64       `mapstructure:"temperature" yaml:"temperature"`
	Timeout          time.Duration `mapstructure:"timeout" yaml:"timeout"`
	MaxAttempts      int           `mapstructure:"max_attempts" yaml:"max_attempts"`
	RetryDelay       time.Duration `mapstructure:"retry_delay" yaml:"retry_delay"`
	StructuredOutput bool          `mapstructure:"structured_output" yaml:"structured_output"`
	SystemPrompt     string        `mapstructure:"system_prompt" yaml:"system_prompt"` // Empty uses the embedded prompt
}

// PreprocessCfg controls image normalization.
type PreprocessCfg struct {
	MedianWindow  int   `mapstructure:"median_window" yaml:"median_window"`
	SaveProcessed bool  `mapstructure:"save_processed" yaml:"save_processed"`
	MaxPixels     int64 `mapstructure:"max_pixels" yaml:"max_pixels"` // Largest accepted width*height
}

// ServerCfg holds HTTP server settings.
type ServerCfg struct {
	Host          string `mapstructure:"host" yaml:"host"`
	Port          string `mapstructure:"port" yaml:"port"`
	MaxUploadMB   int64  `mapstructure:"max_upload_mb" yaml:"max_upload_mb"`
	MaxDownloadMB int64  `mapstructure:"max_download_mb" yaml:"max_download_mb"`
}

// LogCfg selects the slog handler.
type LogCfg struct {
	Level  string `mapstructure:"level" yaml:"level"`   // debug, info, warn, error
	Format string `mapstructure:"format" yaml:"format"` // text, json
}

// DefaultConfig returns configuration with sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		Engines: map[string]EngineCfg{
			"tesseract": {
				Type:      "tesseract",
				Languages: []string{"eng"},
				PSM:       6,
				PoolSize:  2,
				Enabled:   true,
			},
			"paddle": {
				Type:      "deepinfra",
				Model:     "PaddlePaddle/PaddleOCR-VL-0.9B",
				APIKey:    "${DEEPINFRA_API_KEY}",
				RateLimit: 10.0,
				Enabled:   true,
			},
			"mistral": {
				Type:      "mistral-ocr",
				APIKey:    "${MISTRAL_API_KEY}",
				RateLimit: 6.0,
				Enabled:   false,
			},
		},
		LLMProviders: map[string]LLMProviderCfg{
			"openai": {
				Type:    "openai",
				Model:   "gpt-4",
				APIKey:  "${OPENAI}",
				Enabled: true,
			},
			"anthropic": {
				Type:    "anthropic",
				Model:   "claude-sonnet-4-20250514",
				APIKey:  "${ANTHROPIC_API_KEY}",
				Enabled: false,
			},
		},
		Pipeline: PipelineCfg{
			Engines:       []string{"tesseract", "paddle"},
			EngineTimeout: 2 * time.Minute,
		},
		Refiner: RefinerCfg{
			Provider:    "openai",
			MaxTokens:   1000,
			Timeout:     60 * time.Second,
			MaxAttempts: 3,
			RetryDelay:  time.Second,
		},
		Preprocess: PreprocessCfg{
			MedianWindow:  3,
			SaveProcessed: true,
			MaxPixels:     50_000_000,
		},
		Server: ServerCfg{
			Host:          "127.0.0.1",
			Port:          "8080",
			MaxUploadMB:   32,
			MaxDownloadMB: 32,
		},
		Log: LogCfg{
			Level:  "info",
			Format: "text",
		},
	}
}

// GetEngine returns an engine config by name.
func (c *Config) GetEngine(name string) (EngineCfg, bool) {
	cfg, ok := c.Engines[name]
	return cfg, ok
}

// GetLLMProvider returns an LLM provider config by name.
func (c *Config) GetLLMProvider(name string) (LLMProviderCfg, bool) {
	cfg, ok := c.LLMProviders[name]
	return cfg, ok
}
