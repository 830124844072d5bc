package providers

import (
	"os"
)

// TestConfig holds provider credentials loaded from environment variables.
// Integration tests use it to decide which live APIs they can reach.
type TestConfig struct {
	OpenAIAPIKey    string
	AnthropicAPIKey string
	DeepInfraAPIKey string
	MistralAPIKey   string
}

// LoadTestConfig loads provider API keys from environment variables.
func LoadTestConfig() TestConfig {
	return TestConfig{
		OpenAIAPIKey:    os.Getenv("OPENAI"),
		AnthropicAPIKey: os.Getenv("ANTHROPIC_API_KEY"),
		DeepInfraAPIKey: os.Getenv("DEEPINFRA_API_KEY"),
		MistralAPIKey:   os.Getenv("MISTRAL_API_KEY"),
	}
}

// HasOpenAI returns true if an OpenAI API key is configured.
func (c TestConfig) HasOpenAI() bool { return c.OpenAIAPIKey != "" }

// HasAnthropic returns true if an Anthropic API key is configured.
func (c TestConfig) HasAnthropic() bool { return c.AnthropicAPIKey != "" }

// HasDeepInfra returns true if a DeepInfra API key is configured.
func (c TestConfig) HasDeepInfra() bool { return c.DeepInfraAPIKey != "" }

// HasMistral returns true if a Mistral API key is configured.
func (c TestConfig) HasMistral() bool { return c.MistralAPIKey != "" }

// ToRegistryConfig converts test config to a RegistryConfig.
// A mock engine is always present so the engine set is never empty.
func (c TestConfig) ToRegistryConfig() RegistryConfig {
	cfg := RegistryConfig{
		Engines: map[string]EngineConfig{
			"mock": {Type: MockEngineType, Enabled: true},
		},
		LLMProviders: make(map[string]LLMProviderConfig),
	}

	if c.HasDeepInfra() {
		cfg.Engines["paddle"] = EngineConfig{
			Type:      DeepInfraEngineType,
			APIKey:    c.DeepInfraAPIKey,
			RateLimit: 10,
			Enabled:   true,
		}
	}
	if c.HasMistral() {
		cfg.Engines["mistral"] = EngineConfig{
			Type:      MistralEngineType,
			APIKey:    c.MistralAPIKey,
			RateLimit: 6,
			Enabled:   true,
		}
	}
	if c.HasOpenAI() {
		cfg.LLMProviders["openai"] = LLMProviderConfig{
			Type:    "openai",
			APIKey:  c.OpenAIAPIKey,
			Enabled: true,
		}
	}
	if c.HasAnthropic() {
		cfg.LLMProviders["anthropic"] = LLMProviderConfig{
			Type:    "anthropic",
			APIKey:  c.AnthropicAPIKey,
			Enabled: true,
		}
	}
	return cfg
}
