package providers

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"reflect"
	"sort"
	"sync"
)

// EngineFactory builds an engine from its resolved configuration.
type EngineFactory func(name string, cfg EngineConfig) (Engine, error)

var (
	factoriesMu     sync.RWMutex
	engineFactories = make(map[string]EngineFactory)
)

// RegisterEngineType makes an engine type available to configuration.
// Engine packages call it from init, so importing the package enables the type.
func RegisterEngineType(typ string, f EngineFactory) {
	factoriesMu.Lock()
	defer factoriesMu.Unlock()
	engineFactories[typ] = f
}

// EngineTypes returns the registered engine type names.
func EngineTypes() []string {
	factoriesMu.RLock()
	defer factoriesMu.RUnlock()
	types := make([]string, 0, len(engineFactories))
	for t := range engineFactories {
		types = append(types, t)
	}
	sort.Strings(types)
	return types
}

func engineFactory(typ string) (EngineFactory, bool) {
	factoriesMu.RLock()
	defer factoriesMu.RUnlock()
	f, ok := engineFactories[typ]
	return f, ok
}

// EngineSet is the immutable collection of engines built at startup.
// It is safe to share across goroutines.
type EngineSet struct {
	order   []string
	engines map[string]Engine
}

// NewEngineSet builds a set from already constructed engines, keeping their order.
func NewEngineSet(engines ...Engine) *EngineSet {
	s := &EngineSet{engines: make(map[string]Engine, len(engines))}
	for _, e := range engines {
		if _, dup := s.engines[e.Name()]; dup {
			continue
		}
		s.order = append(s.order, e.Name())
		s.engines[e.Name()] = e
	}
	return s
}

// BuildEngineSet instantiates the named engines in order.
// A name that is missing from cfg, disabled or of an unknown type is an error.
func BuildEngineSet(cfg map[string]EngineConfig, order []string) (*EngineSet, error) {
	if len(order) == 0 {
		for name, c := range cfg {
			if c.Enabled {
				order = append(order, name)
			}
		}
		sort.Strings(order)
	}

	var built []Engine
	for _, name := range order {
		c, ok := cfg[name]
		if !ok {
			closeEngines(built)
			return nil, fmt.Errorf("engine %q not configured", name)
		}
		if !c.Enabled {
			closeEngines(built)
			return nil, fmt.Errorf("engine %q is disabled", name)
		}
		f, ok := engineFactory(c.Type)
		if !ok {
			closeEngines(built)
			return nil, fmt.Errorf("engine %q: unknown type %q (available: %v)", name, c.Type, EngineTypes())
		}
		e, err := f(name, c)
		if err != nil {
			closeEngines(built)
			return nil, fmt.Errorf("engine %q: %w", name, err)
		}
		built = append(built, e)
	}
	return NewEngineSet(built...), nil
}

// Get returns an engine by name.
func (s *EngineSet) Get(name string) (Engine, bool) {
	e, ok := s.engines[name]
	return e, ok
}

// Names returns engine names in pipeline order.
func (s *EngineSet) Names() []string {
	out := make([]string, len(s.order))
	copy(out, s.order)
	return out
}

// Engines returns the engines in pipeline order.
func (s *EngineSet) Engines() []Engine {
	out := make([]Engine, 0, len(s.order))
	for _, name := range s.order {
		out = append(out, s.engines[name])
	}
	return out
}

// Len returns the number of engines.
func (s *EngineSet) Len() int {
	return len(s.order)
}

// Close releases engine resources (e.g. loaded Tesseract clients).
func (s *EngineSet) Close() error {
	return closeEngines(s.Engines())
}

func closeEngines(engines []Engine) error {
	var errs []error
	for _, e := range engines {
		if c, ok := e.(io.Closer); ok {
			if err := c.Close(); err != nil {
				errs = append(errs, fmt.Errorf("close %s: %w", e.Name(), err))
			}
		}
	}
	return errors.Join(errs...)
}

// Registry holds the LLM clients and the engine set.
// LLM clients follow config hot-reload; the engine set is fixed for the
// lifetime of the process.
type Registry struct {
	mu         sync.RWMutex
	llmClients map[string]LLMClient
	engines    *EngineSet
	engineCfg  map[string]EngineConfig
	logger     *slog.Logger
}

// NewRegistry creates a new empty provider registry.
func NewRegistry() *Registry {
	return &Registry{
		llmClients: make(map[string]LLMClient),
		engines:    NewEngineSet(),
		logger:     slog.Default(),
	}
}

// SetLogger sets the logger for the registry.
func (r *Registry) SetLogger(logger *slog.Logger) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.logger = logger
}

// RegisterLLM registers an LLM client by name.
func (r *Registry) RegisterLLM(name string, client LLMClient) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.llmClients[name] = client
	if r.logger != nil {
		r.logger.Info("registered LLM client", "name", name)
	}
}

// UnregisterLLM removes an LLM client by name.
func (r *Registry) UnregisterLLM(name string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.llmClients, name)
	if r.logger != nil {
		r.logger.Info("unregistered LLM client", "name", name)
	}
}

// GetLLM returns an LLM client by name.
func (r *Registry) GetLLM(name string) (LLMClient, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	client, ok := r.llmClients[name]
	if !ok {
		return nil, fmt.Errorf("LLM client not found: %s", name)
	}
	return client, nil
}

// ListLLM returns all registered LLM client names, sorted.
func (r *Registry) ListLLM() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.llmClients))
	for name := range r.llmClients {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// HasLLM checks if an LLM client is registered.
func (r *Registry) HasLLM(name string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.llmClients[name]
	return ok
}

// SetEngines installs the engine set. It may only be called once.
func (r *Registry) SetEngines(set *EngineSet) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.engines.Len() > 0 {
		return errors.New("engines already initialized")
	}
	r.engines = set
	for _, name := range set.Names() {
		if r.logger != nil {
			r.logger.Info("registered OCR engine", "name", name)
		}
	}
	return nil
}

// Engines returns the engine set.
func (r *Registry) Engines() *EngineSet {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.engines
}

// ListEngines returns engine names in pipeline order.
func (r *Registry) ListEngines() []string {
	return r.Engines().Names()
}

// RegistryConfig defines the providers to instantiate from config.
type RegistryConfig struct {
	// Engines maps engine names to their config
	Engines map[string]EngineConfig

	// EngineOrder lists the engines the pipeline runs, in order
	EngineOrder []string

	// LLMProviders maps provider names to their config
	LLMProviders map[string]LLMProviderConfig
}

// EngineConfig matches config.EngineCfg with resolved API key.
type EngineConfig struct {
	Type      string   // "tesseract", "deepinfra", "mistral-ocr"
	Model     string   // Model name (remote engines)
	APIKey    string   // Resolved API key
	RateLimit float64  // Requests per second
	Languages []string // Tesseract languages
	PSM       int      // Tesseract page segmentation mode
	PoolSize  int      // Tesseract clients kept loaded
	Enabled   bool
}

// LLMProviderConfig matches config.LLMProviderCfg with resolved API key.
type LLMProviderConfig struct {
	Type      string  // "openai", "anthropic"
	Model     string  // Model name
	APIKey    string  // Resolved API key
	BaseURL   string  // Optional endpoint override
	RateLimit float64 // Requests per second
	Enabled   bool
}

// NewRegistryFromConfig creates a registry with providers based on configuration.
// Engines are built once here. Only enabled LLM providers with API keys are registered.
func NewRegistryFromConfig(cfg RegistryConfig) (*Registry, error) {
	r := NewRegistry()

	engines, err := BuildEngineSet(cfg.Engines, cfg.EngineOrder)
	if err != nil {
		return nil, err
	}
	r.engines = engines
	r.engineCfg = cfg.Engines

	for name, provCfg := range cfg.LLMProviders {
		if !provCfg.Enabled || provCfg.APIKey == "" {
			continue
		}
		if client := createLLMClient(provCfg); client != nil {
			r.llmClients[name] = client
		}
	}
	return r, nil
}

// Reload updates LLM clients based on new configuration.
// Providers that are no longer configured are unregistered and changed ones
// are re-created. Engine changes are reported but not applied.
func (r *Registry) Reload(cfg RegistryConfig) {
	r.mu.Lock()
	defer r.mu.Unlock()

	want := make(map[string]bool)

	for name, provCfg := range cfg.LLMProviders {
		if !provCfg.Enabled || provCfg.APIKey == "" {
			continue
		}
		want[name] = true

		existing, hasExisting := r.llmClients[name]
		if !hasExisting || needsLLMUpdate(existing, provCfg) {
			client := createLLMClient(provCfg)
			if client != nil {
				r.llmClients[name] = client
				if r.logger != nil {
					if hasExisting {
						r.logger.Info("updated LLM client", "name", name, "type", provCfg.Type)
					} else {
						r.logger.Info("registered LLM client", "name", name, "type", provCfg.Type)
					}
				}
			}
		}
	}

	for name := range r.llmClients {
		if !want[name] {
			delete(r.llmClients, name)
			if r.logger != nil {
				r.logger.Info("unregistered LLM client", "name", name)
			}
		}
	}

	if r.engineCfg != nil && !reflect.DeepEqual(r.engineCfg, cfg.Engines) && r.logger != nil {
		r.logger.Warn("engine configuration changed; restart to apply")
	}
}

// createLLMClient creates an LLM client based on provider type.
func createLLMClient(cfg LLMProviderConfig) LLMClient {
	switch cfg.Type {
	case "openai":
		return NewOpenAIClient(OpenAIConfig{
			APIKey:       cfg.APIKey,
			BaseURL:      cfg.BaseURL,
			DefaultModel: cfg.Model,
			RateLimit:    cfg.RateLimit,
		})
	case "anthropic":
		return NewAnthropicClient(AnthropicConfig{
			APIKey:       cfg.APIKey,
			BaseURL:      cfg.BaseURL,
			DefaultModel: cfg.Model,
			RateLimit:    cfg.RateLimit,
		})
	default:
		return nil
	}
}

// needsLLMUpdate checks if an LLM client needs to be recreated.
func needsLLMUpdate(client LLMClient, cfg LLMProviderConfig) bool {
	switch c := client.(type) {
	case *OpenAIClient:
		return c.apiKey != cfg.APIKey ||
			c.defaultModel != cfg.Model ||
			c.baseURL != cfg.BaseURL ||
			c.rateLimit != cfg.RateLimit
	case *AnthropicClient:
		return c.apiKey != cfg.APIKey ||
			c.defaultModel != cfg.Model ||
			c.baseURL != cfg.BaseURL ||
			c.rateLimit != cfg.RateLimit
	default:
		return true
	}
}
