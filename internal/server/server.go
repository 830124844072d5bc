package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5/middleware"

	"github.com/jackzampolin/glean/internal/api"
	"github.com/jackzampolin/glean/internal/app"
	"github.com/jackzampolin/glean/internal/config"
	"github.com/jackzampolin/glean/internal/server/endpoints"
	"github.com/jackzampolin/glean/internal/svcctx"
)

// Server is the glean HTTP server.
type Server struct {
	httpServer *http.Server
	services   *svcctx.Services
	logger     *slog.Logger

	// endpoints registry for HTTP routes
	endpointRegistry *api.Registry

	mu       sync.RWMutex
	running  bool
	listener net.Listener
}

// Config holds server configuration.
type Config struct {
	// Host is the address to bind to (default: 127.0.0.1)
	Host string
	// Port is the port to listen on (default: 8080, "0" picks a free port)
	Port string
	// Services are the extraction services built by app.New.
	// Without them only health endpoints answer; the rest return 503.
	Services *svcctx.Services
	// ConfigManager enables hot reload of the refiner
	ConfigManager *config.Manager
	// Logger is the structured logger to use
	Logger *slog.Logger
}

// New creates a new Server with the given configuration.
func New(cfg Config) (*Server, error) {
	if cfg.Host == "" {
		cfg.Host = "127.0.0.1"
	}
	if cfg.Port == "" {
		cfg.Port = "8080"
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}

	s := &Server{
		services: cfg.Services,
		logger:   cfg.Logger,
	}

	if cfg.ConfigManager != nil && cfg.Services != nil {
		cfg.ConfigManager.OnChange(func(c *config.Config) {
			app.Reload(cfg.Services, c)
		})
	}

	// Create endpoint registry and register all endpoints
	s.endpointRegistry = api.NewRegistry()
	for _, ep := range endpoints.All() {
		s.endpointRegistry.Register(ep)
	}

	mux := http.NewServeMux()
	s.endpointRegistry.RegisterRoutes(mux, s.requireInit)

	s.httpServer = &http.Server{
		Addr:              net.JoinHostPort(cfg.Host, cfg.Port),
		Handler:           s.Handler(mux),
		ReadHeaderTimeout: 30 * time.Second,
		WriteTimeout:      10 * time.Minute,
		IdleTimeout:       120 * time.Second,
	}

	return s, nil
}

// Handler wraps mux with request IDs, real client IPs, request logging,
// panic recovery and the service context.
func (s *Server) Handler(mux http.Handler) http.Handler {
	var h http.Handler = mux
	h = s.withServices(h)
	h = middleware.Recoverer(h)
	h = s.logRequests(h)
	h = middleware.RealIP(h)
	h = middleware.RequestID(h)
	return h
}

// Start serves HTTP until ctx is cancelled or the listener fails.
func (s *Server) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return errors.New("server already running")
	}
	ln, err := net.Listen("tcp", s.httpServer.Addr)
	if err != nil {
		s.mu.Unlock()
		return fmt.Errorf("failed to listen on %s: %w", s.httpServer.Addr, err)
	}
	s.listener = ln
	s.running = true
	s.mu.Unlock()

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("starting HTTP server", "addr", ln.Addr().String())
		if err := s.httpServer.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case <-ctx.Done():
		s.logger.Info("shutdown signal received")
	case err := <-errCh:
		if err != nil {
			_ = s.shutdown()
			return fmt.Errorf("HTTP server error: %w", err)
		}
	}

	return s.shutdown()
}

// shutdown drains in-flight requests, then releases the engines.
func (s *Server) shutdown() error {
	s.logger.Info("shutting down server")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := s.httpServer.Shutdown(shutdownCtx); err != nil {
		s.logger.Error("HTTP server shutdown error", "error", err)
	}

	if err := s.services.Close(); err != nil {
		s.logger.Error("engine close error", "error", err)
	}

	s.mu.Lock()
	s.running = false
	s.mu.Unlock()
	s.logger.Info("server stopped")
	return nil
}

// IsRunning returns whether the server is currently running.
func (s *Server) IsRunning() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.running
}

// Addr returns the listen address. Once started it is the bound address,
// so a configured port of "0" reports the port actually chosen.
func (s *Server) Addr() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.listener != nil {
		return s.listener.Addr().String()
	}
	return s.httpServer.Addr
}

// withServices wraps a handler to enrich the request context with services.
func (s *Server) withServices(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		if s.services != nil {
			ctx = svcctx.WithServices(ctx, s.services)
		}
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func (s *Server) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		s.logger.Info("request",
			"request_id", middleware.GetReqID(r.Context()),
			"method", r.Method,
			"path", r.URL.Path,
			"status", ww.Status(),
			"bytes", ww.BytesWritten(),
			"remote", r.RemoteAddr,
			"duration", time.Since(start))
	})
}

// requireInit is middleware that ensures the extraction services are ready.
// Returns 503 Service Unavailable otherwise.
func (s *Server) requireInit(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if s.services == nil || s.services.Pipeline == nil || s.services.Ingester == nil {
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusServiceUnavailable)
			w.Write([]byte(`{"error":"server not fully initialized"}`))
			return
		}
		next(w, r)
	}
}
