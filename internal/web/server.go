// Package web serves the pitchcoach HTTP API and the interactive WebSocket.
//
// Routes are registered on a Go 1.22 [http.ServeMux] and wrapped in
// [observe.Middleware]. Error responses are JSON objects of the form
// {"detail": "..."}.
package web

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"net/url"
	"path"
	"strings"
	"time"

	"github.com/MrWong99/pitchcoach/internal/config"
	"github.com/MrWong99/pitchcoach/internal/health"
	"github.com/MrWong99/pitchcoach/internal/observe"
	"github.com/MrWong99/pitchcoach/internal/rules"
	"github.com/MrWong99/pitchcoach/internal/session"
	"github.com/MrWong99/pitchcoach/internal/turn"
)

// defaultEventBuffer is how many inbound WebSocket events may queue while
// the session loop waits on the language model.
const defaultEventBuffer = 32

// SupportedAvatarRegions are the speech service regions that offer the
// talking avatar.
var SupportedAvatarRegions = []string{"westus2", "westeurope", "southeastasia", "eastus", "westus"}

// Avatar defaults used when the config leaves a field empty.
const (
	DefaultAvatarCharacter = "Lisa"
	DefaultAvatarStyle     = "casual-sitting"
	DefaultAvatarVoice     = "en-US-JennyNeural"
)

// Analyzer is the report side of the coaching engine plus access to the
// active rulebook.
type Analyzer interface {
	session.Analyzer
	Rules() *rules.Rulebook
}

// Config holds the dependencies of a [Server].
type Config struct {
	Store    *session.Store
	Decider  session.Decider
	Asker    session.Asker
	Analyzer Analyzer

	// Gate and Greeting are handed to every WebSocket session loop.
	Gate     turn.Gate
	Greeting string

	// ModelName is reported by /api/config.
	ModelName string
	Avatar    config.AvatarConfig

	// Health serves /health, /healthz and /readyz when set.
	Health *health.Handler

	// MetricsHandler serves /metrics when set.
	MetricsHandler http.Handler

	// Metrics records HTTP request durations. Defaults to
	// [observe.DefaultMetrics].
	Metrics *observe.Metrics

	// StaticDir, when set, is served at "/".
	StaticDir string

	// AllowedOrigins are cross-origin host patterns for the API and the
	// WebSocket.
	AllowedOrigins []string

	// EventBuffer sizes the per-connection inbound event queue.
	EventBuffer int

	// Clock overrides time.Now for response timestamps.
	Clock func() time.Time
}

// Server is the HTTP front of pitchcoach.
type Server struct {
	cfg     Config
	now     func() time.Time
	handler http.Handler
}

// New builds a [Server] and its routes.
func New(cfg Config) *Server {
	if cfg.Metrics == nil {
		cfg.Metrics = observe.DefaultMetrics()
	}
	if cfg.EventBuffer <= 0 {
		cfg.EventBuffer = defaultEventBuffer
	}
	s := &Server{cfg: cfg, now: cfg.Clock}
	if s.now == nil {
		s.now = time.Now
	}

	mux := http.NewServeMux()
	if cfg.Health != nil {
		cfg.Health.Register(mux)
	}
	if cfg.MetricsHandler != nil {
		mux.Handle("GET /metrics", cfg.MetricsHandler)
	}
	mux.HandleFunc("GET /api/config", s.handleConfig)
	mux.HandleFunc("GET /api/avatar/config", s.handleAvatarConfig)
	mux.HandleFunc("GET /api/sessions", s.handleListSessions)
	mux.HandleFunc("POST /api/session/start", s.handleStartSession)
	mux.HandleFunc("POST /api/session/{id}/analyze", s.handleAnalyze)
	mux.HandleFunc("GET /api/session/{id}/report", s.handleReport)
	mux.HandleFunc("DELETE /api/session/{id}", s.handleDeleteSession)
	mux.HandleFunc("GET /ws/interactive", s.handleInteractive)
	if cfg.StaticDir != "" {
		mux.Handle("GET /", http.FileServer(http.Dir(cfg.StaticDir)))
	}

	s.handler = observe.Middleware(cfg.Metrics)(s.cors(mux))
	return s
}

// ServeHTTP implements [http.Handler].
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.handler.ServeHTTP(w, r)
}

// cors adds CORS headers for allowed origins and answers preflights.
func (s *Server) cors(next http.Handler) http.Handler {
	if len(s.cfg.AllowedOrigins) == 0 {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		origin := r.Header.Get("Origin")
		if origin == "" || !s.originAllowed(origin) {
			next.ServeHTTP(w, r)
			return
		}
		h := w.Header()
		h.Set("Access-Control-Allow-Origin", origin)
		h.Add("Vary", "Origin")
		if r.Method == http.MethodOptions && r.Header.Get("Access-Control-Request-Method") != "" {
			h.Set("Access-Control-Allow-Methods", "GET, POST, DELETE, OPTIONS")
			h.Set("Access-Control-Allow-Headers", "Content-Type, traceparent")
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) originAllowed(origin string) bool {
	u, err := url.Parse(origin)
	if err != nil || u.Host == "" {
		return false
	}
	host := strings.ToLower(u.Host)
	for _, pattern := range s.cfg.AllowedOrigins {
		if ok, _ := path.Match(strings.ToLower(pattern), host); ok {
			return true
		}
	}
	return false
}

func (s *Server) timestamp() string {
	return s.now().UTC().Format(time.RFC3339Nano)
}

// writeJSON encodes v with the given status code.
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Warn("web: encode response", "err", err)
	}
}

// writeDetail writes an error response body.
func writeDetail(w http.ResponseWriter, status int, detail string) {
	writeJSON(w, status, map[string]string{"detail": detail})
}
