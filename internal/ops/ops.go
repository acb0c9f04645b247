// Package ops serves the operational HTTP endpoints: liveness, readiness,
// and Prometheus metrics. It is not user-facing.
package ops

import (
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/probekit/mailprobe/internal/metrics"
	"github.com/probekit/mailprobe/internal/session"
)

// Handler serves the operational endpoints.
type Handler struct {
	store   *session.Store
	version string
	mu      sync.RWMutex
	ready   bool
}

// NewHandler creates an ops handler reporting on the given session store.
// The handler starts not ready; SetReady(true) once the transport is up.
func NewHandler(store *session.Store, version string) *Handler {
	return &Handler{store: store, version: version}
}

// SetReady flips the readiness state: set once the poller is up, cleared
// during graceful shutdown.
func (h *Handler) SetReady(ready bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.ready = ready
}

// Router builds the chi router for the ops endpoints.
func (h *Handler) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(10 * time.Second))

	r.Get("/healthz", h.liveness)
	r.Get("/readyz", h.readiness)
	r.Get("/metrics", h.observeSessions(promhttp.Handler()))
	return r
}

func (h *Handler) liveness(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"alive":     true,
		"version":   h.version,
		"timestamp": time.Now().UTC().Format(time.RFC3339),
	})
}

func (h *Handler) readiness(w http.ResponseWriter, r *http.Request) {
	h.mu.RLock()
	ready := h.ready
	h.mu.RUnlock()

	status := http.StatusOK
	if !ready {
		status = http.StatusServiceUnavailable
	}
	writeJSON(w, status, map[string]any{
		"ready":     ready,
		"sessions":  h.store.Len(),
		"timestamp": time.Now().UTC().Format(time.RFC3339),
	})
}

// observeSessions refreshes the active-sessions gauge right before a scrape.
func (h *Handler) observeSessions(next http.Handler) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		metrics.ActiveSessions.Set(float64(h.store.Len()))
		next.ServeHTTP(w, r)
	}
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(body)
}
