package endpoints

import (
	"context"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/spf13/cobra"

	"github.com/jackzampolin/glean/internal/api"
	"github.com/jackzampolin/glean/internal/providers"
	"github.com/jackzampolin/glean/internal/svcctx"
)

// HealthResponse is the response for health check endpoints.
type HealthResponse struct {
	Status  string   `json:"status"`
	Engines []string `json:"engines,omitempty"`
	Refiner string   `json:"refiner,omitempty"`
}

// HealthEndpoint handles GET /health.
type HealthEndpoint struct{}

func (e *HealthEndpoint) Route() (string, string, http.HandlerFunc) {
	return "GET", "/health", e.handler
}

func (e *HealthEndpoint) RequiresInit() bool { return false }

func (e *HealthEndpoint) handler(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, HealthResponse{Status: "ok"})
}

func (e *HealthEndpoint) Command(getServerURL func() string) *cobra.Command {
	return &cobra.Command{
		Use:   "health",
		Short: "Check server health",
		RunE: func(cmd *cobra.Command, args []string) error {
			client := api.NewClient(getServerURL())
			var resp HealthResponse
			if err := client.Get(cmd.Context(), "/health", &resp); err != nil {
				return err
			}
			fmt.Printf("Status: %s\n", resp.Status)
			return nil
		},
	}
}

// ReadyEndpoint handles GET /ready.
type ReadyEndpoint struct{}

func (e *ReadyEndpoint) Route() (string, string, http.HandlerFunc) {
	return "GET", "/ready", e.handler
}

func (e *ReadyEndpoint) RequiresInit() bool { return false }

// handler reports ready only when engines are loaded and a refiner is
// configured. Without a refiner extraction still works but every result is
// degraded, which is reported as "degraded".
func (e *ReadyEndpoint) handler(w http.ResponseWriter, r *http.Request) {
	p := svcctx.PipelineFrom(r.Context())
	if p == nil {
		writeJSON(w, http.StatusServiceUnavailable, HealthResponse{Status: "not_initialized"})
		return
	}

	resp := HealthResponse{Status: "ok", Engines: p.EngineNames(), Refiner: "ok"}
	if p.Refiner() == nil {
		resp.Status = "degraded"
		resp.Refiner = "not_configured"
		writeJSON(w, http.StatusServiceUnavailable, resp)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func (e *ReadyEndpoint) Command(getServerURL func() string) *cobra.Command {
	return &cobra.Command{
		Use:   "ready",
		Short: "Check server readiness (engines + refiner)",
		RunE: func(cmd *cobra.Command, args []string) error {
			client := api.NewClient(getServerURL())
			var resp HealthResponse
			if err := client.Get(cmd.Context(), "/ready", &resp); err != nil {
				return err
			}
			fmt.Printf("Status:  %s\n", resp.Status)
			fmt.Printf("Engines: %v\n", resp.Engines)
			fmt.Printf("Refiner: %s\n", resp.Refiner)
			return nil
		},
	}
}

// PromptStatus reports where a prompt's text comes from.
type PromptStatus struct {
	Key    string `json:"key"`
	Source string `json:"source"` // "embedded" or the override file path
	Hash   string `json:"hash"`
}

// StatusResponse is the detailed status response.
type StatusResponse struct {
	Server     string                                 `json:"server"`
	Engines    []string                               `json:"engines"`
	LLM        []string                               `json:"llm"`
	Refiner    string                                 `json:"refiner"`
	ConfigFile string                                 `json:"config_file,omitempty"`
	Home       string                                 `json:"home,omitempty"`
	Prompts    []PromptStatus                         `json:"prompts,omitempty"`
	RateLimits map[string]providers.RateLimiterStatus `json:"rate_limits,omitempty"`
	Health     *providers.HealthReport                `json:"health,omitempty"`
}

// healthCheckTimeout bounds the remote probes made by GET /status?check=true.
const healthCheckTimeout = 10 * time.Second

// StatusEndpoint handles GET /status.
//
// With ?check=true it also probes every remote engine and LLM client that
// supports it and reports reachability under "health".
type StatusEndpoint struct{}

func (e *StatusEndpoint) Route() (string, string, http.HandlerFunc) {
	return "GET", "/status", e.handler
}

func (e *StatusEndpoint) RequiresInit() bool { return false }

func (e *StatusEndpoint) handler(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	resp := StatusResponse{
		Server:  "running",
		Refiner: "not_configured",
	}

	if registry := svcctx.RegistryFrom(ctx); registry != nil {
		resp.Engines = registry.ListEngines()
		resp.LLM = registry.ListLLM()
		if limits := registry.RateLimits(); len(limits) > 0 {
			resp.RateLimits = limits
		}
		if check, _ := strconv.ParseBool(r.URL.Query().Get("check")); check {
			checkCtx, cancel := context.WithTimeout(ctx, healthCheckTimeout)
			resp.Health = registry.CheckHealth(checkCtx)
			cancel()
		}
	}
	if mgr := svcctx.ConfigManagerFrom(ctx); mgr != nil {
		resp.ConfigFile = mgr.ConfigFile()
		if p := svcctx.PipelineFrom(ctx); p != nil && p.Refiner() != nil {
			resp.Refiner = mgr.Get().Refiner.Provider
		}
	}
	if h := svcctx.HomeFrom(ctx); h != nil {
		resp.Home = h.Path()
	}
	if resolver := svcctx.PromptsFrom(ctx); resolver != nil {
		for _, p := range resolver.AllEmbedded() {
			resolved, err := resolver.Resolve(p.Key)
			if err != nil {
				continue
			}
			resp.Prompts = append(resp.Prompts, PromptStatus{Key: p.Key, Source: resolved.Source, Hash: resolved.Hash})
		}
	}

	writeJSON(w, http.StatusOK, resp)
}

func (e *StatusEndpoint) Command(getServerURL func() string) *cobra.Command {
	var check bool
	cmd := &cobra.Command{
		Use:   "status",
		Short: "Get detailed server status",
		RunE: func(cmd *cobra.Command, args []string) error {
			client := api.NewClient(getServerURL())
			path := "/status"
			if check {
				path += "?check=true"
			}
			var resp StatusResponse
			if err := client.Get(cmd.Context(), path, &resp); err != nil {
				return err
			}
			return api.Output(resp)
		},
	}
	cmd.Flags().BoolVar(&check, "check", false, "Probe remote engines and LLM providers")
	return cmd
}
