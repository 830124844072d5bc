package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"sync"

	"github.com/fsnotify/fsnotify"
	"github.com/joho/godotenv"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v2"

	"github.com/jackzampolin/glean/internal/providers"
)

// EnvPrefix is the prefix for environment overrides, e.g. GLEAN_SERVER_PORT.
const EnvPrefix = "GLEAN"

var envVarPattern = regexp.MustCompile(`\$\{([^}]+)\}`)

// Manager handles loading and hot-reloading configuration.
type Manager struct {
	v         *viper.Viper
	mu        sync.RWMutex
	config    *Config
	callbacks []func(*Config)
}

// NewManager creates a new config manager and loads initial config.
// When cfgFile is empty, config.yaml is searched in the working directory
// and then in homeDir.
func NewManager(cfgFile, homeDir string) (*Manager, error) {
	cm := &Manager{
		v:         viper.New(),
		callbacks: make([]func(*Config), 0),
	}

	loadDotEnv(homeDir)

	if err := cm.initViper(cfgFile, homeDir); err != nil {
		return nil, err
	}

	cfg, err := cm.load()
	if err != nil {
		return nil, err
	}
	cm.config = cfg

	return cm, nil
}

// loadDotEnv loads .env files so ${VAR} references in API keys resolve.
// Variables already present in the environment win.
func loadDotEnv(homeDir string) {
	_ = godotenv.Load(".env")
	if homeDir != "" {
		_ = godotenv.Load(filepath.Join(homeDir, ".env"))
	}
}

// initViper sets up viper with defaults and config file.
func (cm *Manager) initViper(cfgFile, homeDir string) error {
	v := cm.v
	setDefaults(v, DefaultConfig())

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if cfgFile != "" {
		v.SetConfigFile(cfgFile)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		if homeDir != "" {
			v.AddConfigPath(homeDir)
		}
	}

	// Config file is optional
	if err := v.ReadInConfig(); err != nil {
		var configFileNotFoundError viper.ConfigFileNotFoundError
		if !errors.As(err, &configFileNotFoundError) {
			return fmt.Errorf("error reading config file: %w", err)
		}
	}

	return nil
}

// setDefaults registers scalar settings leaf by leaf, so a config file that
// sets one key of a section keeps the defaults for the rest, and every leaf
// can be overridden from the environment.
func setDefaults(v *viper.Viper, d *Config) {
	v.SetDefault("engines", d.Engines)
	v.SetDefault("llm_providers", d.LLMProviders)

	v.SetDefault("pipeline.engines", d.Pipeline.Engines)
	v.SetDefault("pipeline.engine_timeout", d.Pipeline.EngineTimeout)

	v.SetDefault("refiner.provider", d.Refiner.Provider)
	v.SetDefault("refiner.model", d.Refiner.Model)
	v.SetDefault("refiner.max_tokens", d.Refiner.MaxTokens)
	v.SetDefault("refiner.temperature", d.Refiner.Temperature)
	v.SetDefault("refiner.timeout", d.Refiner.Timeout)
	v.SetDefault("refiner.max_attempts", d.Refiner.MaxAttempts)
	v.SetDefault("refiner.retry_delay", d.Refiner.RetryDelay)
	v.SetDefault("refiner.structured_output", d.Refiner.StructuredOutput)
	v.SetDefault("refiner.system_prompt", d.Refiner.SystemPrompt)

	v.SetDefault("preprocess.median_window", d.Preprocess.MedianWindow)
	v.SetDefault("preprocess.save_processed", d.Preprocess.SaveProcessed)
	v.SetDefault("preprocess.max_pixels", d.Preprocess.MaxPixels)

	v.SetDefault("server.host", d.Server.Host)
	v.SetDefault("server.port", d.Server.Port)
	v.SetDefault("server.max_upload_mb", d.Server.MaxUploadMB)
	v.SetDefault("server.max_download_mb", d.Server.MaxDownloadMB)

	v.SetDefault("log.level", d.Log.Level)
	v.SetDefault("log.format", d.Log.Format)
}

// load parses the current viper state into a Config struct.
func (cm *Manager) load() (*Config, error) {
	var cfg Config
	if err := cm.v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Get returns the current configuration (thread-safe).
func (cm *Manager) Get() *Config {
	cm.mu.RLock()
	defer cm.mu.RUnlock()
	return cm.config
}

// ConfigFile returns the path of the loaded config file, or "" if none was found.
func (cm *Manager) ConfigFile() string {
	return cm.v.ConfigFileUsed()
}

// OnChange registers a callback for config changes.
func (cm *Manager) OnChange(fn func(*Config)) {
	cm.mu.Lock()
	defer cm.mu.Unlock()
	cm.callbacks = append(cm.callbacks, fn)
}

// WatchConfig enables hot-reloading of configuration.
// Invalid edits are ignored and the previous config stays active.
func (cm *Manager) WatchConfig() {
	cm.v.OnConfigChange(func(e fsnotify.Event) {
		cfg, err := cm.load()
		if err != nil {
			return
		}

		cm.mu.Lock()
		cm.config = cfg
		callbacks := make([]func(*Config), len(cm.callbacks))
		copy(callbacks, cm.callbacks)
		cm.mu.Unlock()

		for _, fn := range callbacks {
			fn(cfg)
		}
	})
	cm.v.WatchConfig()
}

// Validate checks settings that would otherwise fail deep inside a request.
func (c *Config) Validate() error {
	var errs []error
	for _, name := range c.Pipeline.Engines {
		if _, ok := c.GetEngine(name); !ok {
			errs = append(errs, fmt.Errorf("pipeline.engines: %q is not defined under engines", name))
		}
	}
	if c.Refiner.Provider != "" {
		if _, ok := c.GetLLMProvider(c.Refiner.Provider); !ok {
			errs = append(errs, fmt.Errorf("refiner.provider: %q is not defined under llm_providers", c.Refiner.Provider))
		}
	}
	if c.Refiner.MaxTokens < 0 {
		errs = append(errs, fmt.Errorf("refiner.max_tokens must not be negative"))
	}
	if w := c.Preprocess.MedianWindow; w != 0 && w%2 == 0 {
		errs = append(errs, fmt.Errorf("preprocess.median_window must be odd, got %d", w))
	}
	if c.Preprocess.MaxPixels < 0 {
		errs = append(errs, fmt.Errorf("preprocess.max_pixels must not be negative"))
	}
	switch c.Log.Format {
	case "", "text", "json":
	default:
		errs = append(errs, fmt.Errorf("log.format must be text or json, got %q", c.Log.Format))
	}
	return errors.Join(errs...)
}

// ResolveEnvVars expands ${ENV_VAR} references in a string.
func ResolveEnvVars(value string) string {
	if value == "" {
		return value
	}
	return envVarPattern.ReplaceAllStringFunc(value, func(match string) string {
		varName := match[2 : len(match)-1]
		return os.Getenv(varName)
	})
}

// ToProviderRegistryConfig converts the config to a format suitable for providers.Registry.
// It resolves all ${ENV_VAR} references in API keys.
func (c *Config) ToProviderRegistryConfig() providers.RegistryConfig {
	cfg := providers.RegistryConfig{
		Engines:      make(map[string]providers.EngineConfig),
		EngineOrder:  append([]string(nil), c.Pipeline.Engines...),
		LLMProviders: make(map[string]providers.LLMProviderConfig),
	}

	for name, e := range c.Engines {
		cfg.Engines[name] = providers.EngineConfig{
			Type:      e.Type,
			Model:     e.Model,
			APIKey:    ResolveEnvVars(e.APIKey),
			RateLimit: e.RateLimit,
			Languages: e.Languages,
			PSM:       e.PSM,
			PoolSize:  e.PoolSize,
			Enabled:   e.Enabled,
		}
	}

	for name, llm := range c.LLMProviders {
		cfg.LLMProviders[name] = providers.LLMProviderConfig{
			Type:      llm.Type,
			Model:     llm.Model,
			APIKey:    ResolveEnvVars(llm.APIKey),
			BaseURL:   llm.BaseURL,
			RateLimit: llm.RateLimit,
			Enabled:   llm.Enabled,
		}
	}

	return cfg
}

// WriteDefault writes the default configuration to the specified path.
func WriteDefault(path string) error {
	cfg := DefaultConfig()
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	header := []byte(`# Glean configuration
# API keys use ${ENV_VAR} syntax to reference environment variables
# Set these in your shell or a .env file: export OPENAI=xxx DEEPINFRA_API_KEY=xxx

`)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("failed to create config dir: %w", err)
	}
	return os.WriteFile(path, append(header, data...), 0o644)
}
