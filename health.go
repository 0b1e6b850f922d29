package vstore

import (
	"context"
	"encoding/json"
	"net/http"
	"runtime/debug"
	"sort"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
)

// HealthCheck represents a liveness or readiness probe.
type HealthCheck func(context.Context) error

// HealthChecks aggregates liveness and readiness probes.
type HealthChecks struct {
	Liveness  map[string]HealthCheck
	Readiness map[string]HealthCheck
}

// HealthReporter lets components such as storage backends expose probes.
type HealthReporter interface {
	HealthChecks() HealthChecks
}

// HealthRegistry stores probes shared by the HTTP endpoints and gRPC health.
type HealthRegistry struct {
	mu        sync.RWMutex
	liveness  map[string]HealthCheck
	readiness map[string]HealthCheck
}

func NewHealthRegistry() *HealthRegistry {
	return &HealthRegistry{
		liveness:  map[string]HealthCheck{},
		readiness: map[string]HealthCheck{},
	}
}

func (hr *HealthRegistry) RegisterChecks(checks HealthChecks) {
	for name, check := range checks.Liveness {
		hr.RegisterLiveness(name, check)
	}
	for name, check := range checks.Readiness {
		hr.RegisterReadiness(name, check)
	}
}

func (hr *HealthRegistry) RegisterLiveness(name string, check HealthCheck) {
	if check == nil || name == "" {
		return
	}
	hr.mu.Lock()
	hr.liveness[name] = check
	hr.mu.Unlock()
}

func (hr *HealthRegistry) RegisterReadiness(name string, check HealthCheck) {
	if check == nil || name == "" {
		return
	}
	hr.mu.Lock()
	hr.readiness[name] = check
	hr.mu.Unlock()
}

func (hr *HealthRegistry) livenessSnapshot() map[string]HealthCheck {
	hr.mu.RLock()
	defer hr.mu.RUnlock()
	return copyChecks(hr.liveness)
}

func (hr *HealthRegistry) readinessSnapshot() map[string]HealthCheck {
	hr.mu.RLock()
	defer hr.mu.RUnlock()
	return copyChecks(hr.readiness)
}

func copyChecks(in map[string]HealthCheck) map[string]HealthCheck {
	out := make(map[string]HealthCheck, len(in))
	for name, check := range in {
		out[name] = check
	}
	return out
}

// RegisterHealthEndpoints mounts the probe, ping and version endpoints.
func RegisterHealthEndpoints(r chi.Router, registry *HealthRegistry) {
	if registry == nil {
		registry = NewHealthRegistry()
	}
	r.Get("/healthz", makeHealthHandler(registry.livenessSnapshot))
	r.Get("/livez", makeHealthHandler(registry.livenessSnapshot))
	r.Get("/readyz", makeHealthHandler(registry.readinessSnapshot))
	r.Get("/ping", pingHandler)
	r.Get("/version", versionHandler)
}

func pingHandler(w http.ResponseWriter, _ *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("pong"))
}

func versionHandler(w http.ResponseWriter, _ *http.Request) {
	info := map[string]string{"version": "devel"}
	if bi, ok := debug.ReadBuildInfo(); ok {
		info["version"] = bi.Main.Version
		info["go"] = bi.GoVersion
	}
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(info)
}

func makeHealthHandler(snapshot func() map[string]HealthCheck) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		summary := runChecks(r.Context(), snapshot())
		status := http.StatusOK
		if summary.Status != "ok" {
			status = http.StatusServiceUnavailable
		}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		_ = json.NewEncoder(w).Encode(summary)
	}
}

func runChecks(ctx context.Context, checks map[string]HealthCheck) ProbeResponse {
	results := make([]HealthResult, 0, len(checks))
	status := "ok"
	for name, check := range checks {
		result := HealthResult{Name: name}
		if err := check(ctx); err != nil {
			result.Error = err.Error()
			status = "degraded"
		}
		results = append(results, result)
	}
	sort.Slice(results, func(i, j int) bool { return results[i].Name < results[j].Name })
	return ProbeResponse{
		Status:    status,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
		Results:   results,
	}
}

// HealthStatusOK always reports a healthy state.
func HealthStatusOK(context.Context) error { return nil }

// HealthResult captures the outcome of a single probe.
type HealthResult struct {
	Name  string `json:"name"`
	Error string `json:"error,omitempty"`
}

// ProbeResponse wraps probe results in a standard JSON envelope.
type ProbeResponse struct {
	Status    string         `json:"status"`
	Timestamp string         `json:"timestamp"`
	Results   []HealthResult `json:"results,omitempty"`
}
