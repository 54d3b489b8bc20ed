// Package health provides the liveness, readiness and summary endpoints.
//
//   - /healthz: liveness probe, always 200 OK.
//   - /readyz: readiness probe, 200 only when every registered [Checker]
//     passes. Checks run concurrently.
//   - /health: service summary with the current values of registered
//     [Gauge] functions, used by the browser front-end.
//
// Probe responses are JSON objects with a top-level "status" field ("ok" or
// "fail") and a "checks" map containing the result of each named checker.
package health

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"
	"time"
)

// checkTimeout bounds a single readiness check.
const checkTimeout = 5 * time.Second

// Checker is a named readiness check. Check returns nil when the dependency
// is usable.
type Checker struct {
	// Name keys the result in the JSON response (e.g. "llm").
	Name string

	// Check probes the dependency. It must respect context cancellation.
	Check func(ctx context.Context) error
}

// Gauge is a named value reported by /health (e.g. the number of live
// sessions).
type Gauge struct {
	Name  string
	Value func() int
}

type result struct {
	Status string            `json:"status"`
	Checks map[string]string `json:"checks,omitempty"`
}

// Handler serves the health endpoints. The checker and gauge lists are fixed
// at construction time.
type Handler struct {
	service  string
	checkers []Checker
	gauges   []Gauge
	now      func() time.Time
}

// Option configures a [Handler].
type Option func(*Handler)

// WithCheckers adds readiness checks.
func WithCheckers(c ...Checker) Option {
	return func(h *Handler) { h.checkers = append(h.checkers, c...) }
}

// WithGauges adds values reported by /health.
func WithGauges(g ...Gauge) Option {
	return func(h *Handler) { h.gauges = append(h.gauges, g...) }
}

// WithClock overrides the timestamp source of /health.
func WithClock(now func() time.Time) Option {
	return func(h *Handler) { h.now = now }
}

// New creates a [Handler] reporting as service.
func New(service string, opts ...Option) *Handler {
	h := &Handler{service: service, now: time.Now}
	for _, o := range opts {
		o(h)
	}
	return h
}

// Healthz is a liveness probe that always returns 200 OK.
func (h *Handler) Healthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, result{Status: "ok"})
}

// Readyz returns 200 only when every [Checker] passes. Each checker gets a
// [checkTimeout] deadline derived from the request context.
func (h *Handler) Readyz(w http.ResponseWriter, r *http.Request) {
	var (
		mu     sync.Mutex
		wg     sync.WaitGroup
		checks = make(map[string]string, len(h.checkers))
		allOK  = true
	)
	for _, c := range h.checkers {
		wg.Go(func() {
			ctx, cancel := context.WithTimeout(r.Context(), checkTimeout)
			defer cancel()
			err := c.Check(ctx)

			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				checks[c.Name] = "fail: " + err.Error()
				allOK = false
				return
			}
			checks[c.Name] = "ok"
		})
	}
	wg.Wait()

	res := result{Status: "ok", Checks: checks}
	status := http.StatusOK
	if !allOK {
		res.Status = "fail"
		status = http.StatusServiceUnavailable
		slog.Warn("readiness check failed", "checks", checks)
	}
	writeJSON(w, status, res)
}

// Health reports the service name, every gauge and the current time.
func (h *Handler) Health(w http.ResponseWriter, _ *http.Request) {
	body := map[string]any{
		"status":    "healthy",
		"service":   h.service,
		"timestamp": h.now().UTC().Format(time.RFC3339),
	}
	for _, g := range h.gauges {
		body[g.Name] = g.Value()
	}
	writeJSON(w, http.StatusOK, body)
}

// Register adds the health routes to mux.
func (h *Handler) Register(mux *http.ServeMux) {
	mux.HandleFunc("GET /healthz", h.Healthz)
	mux.HandleFunc("GET /readyz", h.Readyz)
	mux.HandleFunc("GET /health", h.Health)
}

// writeJSON encodes v with the given status code. Encoding errors are only
// logged since the header is already written.
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Warn("health: encode response", "err", err)
	}
}
