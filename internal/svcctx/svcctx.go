// Package svcctx provides service context for dependency injection via context.
// This package is separate from server to avoid import cycles with endpoints.
package svcctx

import (
	"context"
	"log/slog"

	"github.com/jackzampolin/glean/internal/config"
	"github.com/jackzampolin/glean/internal/home"
	"github.com/jackzampolin/glean/internal/ingest"
	"github.com/jackzampolin/glean/internal/pipeline"
	"github.com/jackzampolin/glean/internal/prompts"
	"github.com/jackzampolin/glean/internal/providers"
	"github.com/jackzampolin/glean/internal/scrape"
)

// Services holds all core services that flow through context.
// Components extract what they need via the individual extractors.
type Services struct {
	Pipeline      *pipeline.Pipeline
	Ingester      *ingest.Ingester
	Scraper       *scrape.Scraper
	Registry      *providers.Registry
	Prompts       *prompts.Resolver
	ConfigManager *config.Manager
	Logger        *slog.Logger
	Home          *home.Dir
}

// Close releases the OCR engines.
func (s *Services) Close() error {
	if s == nil || s.Registry == nil {
		return nil
	}
	return s.Registry.Engines().Close()
}

type servicesKey struct{}

// WithServices returns a new context with services attached.
func WithServices(ctx context.Context, s *Services) context.Context {
	return context.WithValue(ctx, servicesKey{}, s)
}

// ServicesFrom extracts the full Services struct from context.
// Returns nil if not present.
func ServicesFrom(ctx context.Context) *Services {
	s, _ := ctx.Value(servicesKey{}).(*Services)
	return s
}

// PipelineFrom extracts the extraction pipeline from context.
func PipelineFrom(ctx context.Context) *pipeline.Pipeline {
	if s := ServicesFrom(ctx); s != nil {
		return s.Pipeline
	}
	return nil
}

// IngesterFrom extracts the input ingester from context.
func IngesterFrom(ctx context.Context) *ingest.Ingester {
	if s := ServicesFrom(ctx); s != nil {
		return s.Ingester
	}
	return nil
}

// ScraperFrom extracts the page scraper from context.
func ScraperFrom(ctx context.Context) *scrape.Scraper {
	if s := ServicesFrom(ctx); s != nil {
		return s.Scraper
	}
	return nil
}

// RegistryFrom extracts the provider registry from context.
func RegistryFrom(ctx context.Context) *providers.Registry {
	if s := ServicesFrom(ctx); s != nil {
		return s.Registry
	}
	return nil
}

// PromptsFrom extracts the prompt resolver from context.
func PromptsFrom(ctx context.Context) *prompts.Resolver {
	if s := ServicesFrom(ctx); s != nil {
		return s.Prompts
	}
	return nil
}

// ConfigManagerFrom extracts the config manager from context.
func ConfigManagerFrom(ctx context.Context) *config.Manager {
	if s := ServicesFrom(ctx); s != nil {
		return s.ConfigManager
	}
	return nil
}

// LoggerFrom extracts the logger from context.
// Falls back to slog.Default so handlers can log unconditionally.
func LoggerFrom(ctx context.Context) *slog.Logger {
	if s := ServicesFrom(ctx); s != nil && s.Logger != nil {
		return s.Logger
	}
	return slog.Default()
}

// HomeFrom extracts the home directory from context.
func HomeFrom(ctx context.Context) *home.Dir {
	if s := ServicesFrom(ctx); s != nil {
		return s.Home
	}
	return nil
}
