// Package app wires configuration into the services shared by serve, extract and mcp.
package app

import (
	"errors"
	"fmt"
	"log/slog"

	"github.com/jackzampolin/glean/internal/config"
	"github.com/jackzampolin/glean/internal/home"
	"github.com/jackzampolin/glean/internal/ingest"
	"github.com/jackzampolin/glean/internal/pipeline"
	"github.com/jackzampolin/glean/internal/preprocess"
	"github.com/jackzampolin/glean/internal/prompts"
	refineprompt "github.com/jackzampolin/glean/internal/prompts/refine"
	"github.com/jackzampolin/glean/internal/providers"
	"github.com/jackzampolin/glean/internal/refine"
	"github.com/jackzampolin/glean/internal/scrape"
	"github.com/jackzampolin/glean/internal/svcctx"
)

// Options configures New.
type Options struct {
	ConfigManager *config.Manager
	Home          *home.Dir
	Logger        *slog.Logger
}

// New builds the engines, refiner, pipeline, ingester and scraper from the
// current configuration. Call Services.Close to release the engines.
func New(opts Options) (*svcctx.Services, error) {
	if opts.ConfigManager == nil {
		return nil, errors.New("config manager is required")
	}
	if opts.Home == nil {
		return nil, errors.New("home directory is required")
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	if err := opts.Home.EnsureExists(); err != nil {
		return nil, err
	}

	cfg := opts.ConfigManager.Get()
	registry, err := providers.NewRegistryFromConfig(cfg.ToProviderRegistryConfig())
	if err != nil {
		return nil, fmt.Errorf("failed to build engines: %w", err)
	}
	registry.SetLogger(logger)

	resolver := prompts.NewResolver(prompts.NewStore(opts.Home.PromptsDir(), logger), logger)
	refineprompt.RegisterPrompts(resolver)

	refiner, err := Refiner(cfg, registry, resolver, logger)
	if err != nil {
		registry.Engines().Close()
		return nil, err
	}

	p, err := pipeline.New(pipeline.Config{
		Engines: registry.Engines(),
		Preprocessor: preprocess.New(preprocess.Config{
			MedianWindow:  cfg.Preprocess.MedianWindow,
			SaveProcessed: cfg.Preprocess.SaveProcessed,
			MaxPixels:     cfg.Preprocess.MaxPixels,
			OutputDir:     opts.Home.ProcessedDir(),
			Logger:        logger,
		}),
		Refiner:       refiner,
		EngineTimeout: cfg.Pipeline.EngineTimeout,
		Logger:        logger,
	})
	if err != nil {
		registry.Engines().Close()
		return nil, err
	}

	return &svcctx.Services{
		Pipeline: p,
		Ingester: ingest.New(ingest.Config{
			UploadsDir: opts.Home.UploadsDir(),
			PagesDir:   opts.Home.PagesDir(""),
			MaxBytes:   cfg.Server.MaxUploadMB << 20,
			Logger:     logger,
		}),
		Scraper: scrape.New(scrape.Config{
			MaxBytes: cfg.Server.MaxDownloadMB << 20,
			Logger:   logger,
		}),
		Registry:      registry,
		Prompts:       resolver,
		ConfigManager: opts.ConfigManager,
		Logger:        logger,
		Home:          opts.Home,
	}, nil
}

// Refiner builds the configured refiner. It returns nil without an error when
// no provider is configured or the provider has no registered client; the
// pipeline then degrades every result to the fused text.
func Refiner(cfg *config.Config, registry *providers.Registry, resolver *prompts.Resolver, logger *slog.Logger) (refine.Refiner, error) {
	name := cfg.Refiner.Provider
	if name == "" {
		logger.Warn("no refiner provider configured; results will be unrefined")
		return nil, nil
	}
	client, err := registry.GetLLM(name)
	if err != nil {
		logger.Warn("refiner provider unavailable; results will be unrefined", "provider", name, "error", err)
		return nil, nil
	}

	rc := cfg.Refiner
	if rc.SystemPrompt == "" && resolver != nil {
		if p, err := resolver.Resolve(refineprompt.PromptKey); err == nil && p.IsOverride {
			logger.Info("using prompt override", "key", p.Key, "source", p.Source)
			rc.SystemPrompt = p.Text
		}
	}
	return refine.FromConfig(rc, client, logger)
}

// Reload applies a changed configuration. LLM clients and the refiner are
// rebuilt; engines keep running until restart.
func Reload(s *svcctx.Services, cfg *config.Config) {
	s.Registry.Reload(cfg.ToProviderRegistryConfig())
	refiner, err := Refiner(cfg, s.Registry, s.Prompts, s.Logger)
	if err != nil {
		s.Logger.Error("failed to rebuild refiner; keeping previous", "error", err)
		return
	}
	s.Pipeline.SetRefiner(refiner)
	s.Logger.Info("configuration reloaded", "refiner", cfg.Refiner.Provider)
}
