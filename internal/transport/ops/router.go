// Package ops serves the operational HTTP surface: liveness, readiness and Prometheus metrics.
package ops

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
)

// Pinger is a dependency whose reachability gates readiness.
type Pinger interface {
	Ping(ctx context.Context) error
}

// PingFunc adapts a function to Pinger.
type PingFunc func(ctx context.Context) error

func (f PingFunc) Ping(ctx context.Context) error {
	return f(ctx)
}

type Check struct {
	Name string
	Dep  Pinger
	// Optional checks degrade readiness without failing it.
	Optional bool
}

type RouterConfig struct {
	Checks  []Check
	Metrics http.Handler
	Version string
	Log     *slog.Logger
}

func NewRouter(cfg RouterConfig) http.Handler {
	log := cfg.Log
	if log == nil {
		log = slog.Default()
	}

	r := chi.NewRouter()
	r.Use(middleware.Recoverer)

	health := &healthHandler{checks: cfg.Checks, version: cfg.Version, log: log.With(slog.String("component", "ops.health"))}
	r.Get("/health/live", health.liveness)
	r.Get("/health/ready", health.readiness)
	if cfg.Metrics != nil {
		r.Method(http.MethodGet, "/metrics", cfg.Metrics)
	}
	return r
}

type healthHandler struct {
	checks  []Check
	version string
	log     *slog.Logger
}

type livenessResponse struct {
	Status  string `json:"status"`
	Version string `json:"version,omitempty"`
}

type readinessResponse struct {
	Status       string            `json:"status"`
	Version      string            `json:"version,omitempty"`
	Dependencies map[string]string `json:"dependencies"`
}

func (h *healthHandler) liveness(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, livenessResponse{Status: "ok", Version: h.version})
}

func (h *healthHandler) readiness(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	deps := make(map[string]string, len(h.checks))
	status := "ok"
	for _, c := range h.checks {
		checkCtx, checkCancel := context.WithTimeout(ctx, time.Second)
		err := c.Dep.Ping(checkCtx)
		checkCancel()
		if err == nil {
			deps[c.Name] = "ok"
			continue
		}

		deps[c.Name] = "down"
		h.log.Warn("dependency check failed", slog.String("dependency", c.Name), slog.Any("err", err))
		switch {
		case !c.Optional:
			status = "error"
		case status == "ok":
			status = "degraded"
		}
	}

	code := http.StatusOK
	if status == "error" {
		code = http.StatusServiceUnavailable
	}
	writeJSON(w, code, readinessResponse{Status: status, Version: h.version, Dependencies: deps})
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}
