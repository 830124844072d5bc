package providers

import (
	"context"
	"sync"

	"golang.org/x/sync/errgroup"
)

// HealthChecker is implemented by engines and clients that can verify their
// remote API is reachable without doing billable work.
type HealthChecker interface {
	HealthCheck(ctx context.Context) error
}

// StatusUnchecked marks a component that has no health probe.
const StatusUnchecked = "unchecked"

// HealthReport maps engine and LLM client names to "ok", StatusUnchecked or
// the probe error.
type HealthReport struct {
	Engines map[string]string `json:"engines"`
	LLM     map[string]string `json:"llm"`
}

// OK reports whether no probe failed.
func (h *HealthReport) OK() bool {
	for _, m := range []map[string]string{h.Engines, h.LLM} {
		for _, s := range m {
			if s != "ok" && s != StatusUnchecked {
				return false
			}
		}
	}
	return true
}

// CheckHealth probes every engine and LLM client implementing HealthChecker
// concurrently.
func (r *Registry) CheckHealth(ctx context.Context) *HealthReport {
	r.mu.RLock()
	engines := r.engines
	llms := make(map[string]LLMClient, len(r.llmClients))
	for name, c := range r.llmClients {
		llms[name] = c
	}
	r.mu.RUnlock()

	report := &HealthReport{
		Engines: make(map[string]string),
		LLM:     make(map[string]string),
	}
	var (
		mu sync.Mutex
		g  errgroup.Group
	)
	set := func(dst map[string]string, name, status string) {
		mu.Lock()
		dst[name] = status
		mu.Unlock()
	}
	probe := func(dst map[string]string, name string, v any) {
		hc, ok := v.(HealthChecker)
		if !ok {
			set(dst, name, StatusUnchecked)
			return
		}
		g.Go(func() error {
			status := "ok"
			if err := hc.HealthCheck(ctx); err != nil {
				status = err.Error()
			}
			set(dst, name, status)
			return nil
		})
	}

	for _, name := range engines.Names() {
		e, _ := engines.Get(name)
		probe(report.Engines, name, e)
	}
	for name, c := range llms {
		probe(report.LLM, name, c)
	}
	g.Wait()
	return report
}

// RateLimits returns limiter status for every engine and LLM client that
// throttles itself, keyed "engine/<name>" and "llm/<name>".
func (r *Registry) RateLimits() map[string]RateLimiterStatus {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make(map[string]RateLimiterStatus)
	for _, name := range r.engines.Names() {
		e, _ := r.engines.Get(name)
		if rl, ok := e.(RateLimited); ok {
			out["engine/"+name] = rl.RateLimiterStatus()
		}
	}
	for name, c := range r.llmClients {
		if rl, ok := c.(RateLimited); ok {
			out["llm/"+name] = rl.RateLimiterStatus()
		}
	}
	return out
}
