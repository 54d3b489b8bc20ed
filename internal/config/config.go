// Package config provides the configuration schema, loader, provider registry
// and hot-reload watcher for the pitchcoach server.
package config

import (
	"log/slog"
	"time"
)

// LogLevel controls log verbosity for the pitchcoach server.
type LogLevel string

const (
	LogDebug LogLevel = "debug"
	LogInfo  LogLevel = "info"
	LogWarn  LogLevel = "warn"
	LogError LogLevel = "error"
)

// IsValid reports whether l is a recognised log level.
func (l LogLevel) IsValid() bool {
	switch l {
	case LogDebug, LogInfo, LogWarn, LogError:
		return true
	}
	return false
}

// Slog maps l to a [slog.Level]. Unknown values map to [slog.LevelInfo].
func (l LogLevel) Slog() slog.Level {
	switch l {
	case LogDebug:
		return slog.LevelDebug
	case LogWarn:
		return slog.LevelWarn
	case LogError:
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// Config is the root configuration structure for pitchcoach.
// It is typically loaded from a YAML file using [Load] or [LoadFromReader].
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Providers ProvidersConfig `yaml:"providers"`
	Oracle    OracleConfig    `yaml:"oracle"`
	Coach     CoachConfig     `yaml:"coach"`
	Avatar    AvatarConfig    `yaml:"avatar"`
	Telemetry TelemetryConfig `yaml:"telemetry"`
}

// ServerConfig holds network and logging settings.
type ServerConfig struct {
	// ListenAddr is the TCP address the HTTP server listens on (e.g., ":8000").
	ListenAddr string `yaml:"listen_addr"`

	// LogLevel controls verbosity. Hot-reloadable.
	LogLevel LogLevel `yaml:"log_level"`

	// StaticDir, when set, is served at "/" (the browser front-end).
	StaticDir string `yaml:"static_dir"`

	// AllowedOrigins are host patterns (path.Match syntax) allowed to open
	// WebSockets and call the API cross-origin. Same-origin is always allowed.
	AllowedOrigins []string `yaml:"allowed_origins"`

	// TLS configures TLS for the server. When nil, the server runs plain HTTP.
	TLS *TLSConfig `yaml:"tls"`
}

// TLSConfig holds TLS certificate paths for enabling HTTPS.
type TLSConfig struct {
	// CertFile is the path to the PEM-encoded TLS certificate.
	CertFile string `yaml:"cert_file"`

	// KeyFile is the path to the PEM-encoded TLS private key.
	KeyFile string `yaml:"key_file"`
}

// ProvidersConfig selects the language model backends. The primary LLM is
// tried first; fallbacks are tried in order when it fails or its circuit
// breaker is open.
type ProvidersConfig struct {
	LLM          ProviderEntry   `yaml:"llm"`
	LLMFallbacks []ProviderEntry `yaml:"llm_fallbacks"`
}

// ProviderEntry is the configuration block of one provider.
// The Name field is used to look up the constructor in the [Registry].
type ProviderEntry struct {
	// Name selects the registered provider implementation (e.g., "openai", "anthropic").
	Name string `yaml:"name"`

	// APIKey is the authentication key for the provider's API if any.
	APIKey string `yaml:"api_key"`

	// BaseURL overrides the provider's default API endpoint.
	// Leave empty to use the provider's built-in default.
	BaseURL string `yaml:"base_url"`

	// Model selects a specific model within the provider (e.g., "gpt-4o").
	Model string `yaml:"model"`

	// Options holds provider-specific configuration values not covered by the
	// standard fields above. Values may be strings, numbers, booleans, or nested maps.
	Options map[string]any `yaml:"options"`
}

// OracleConfig bounds language model calls.
type OracleConfig struct {
	// ResponseTimeout bounds each customer reply or question. Default 8s.
	ResponseTimeout time.Duration `yaml:"response_timeout"`

	// AnalysisTimeout bounds each report or coaching script call. Default 90s.
	AnalysisTimeout time.Duration `yaml:"analysis_timeout"`

	// CircuitBreaker configures the per-provider breaker.
	CircuitBreaker CircuitBreakerConfig `yaml:"circuit_breaker"`
}

// CircuitBreakerConfig mirrors the resilience package's breaker settings.
type CircuitBreakerConfig struct {
	MaxFailures  int           `yaml:"max_failures"`
	ResetTimeout time.Duration `yaml:"reset_timeout"`
	HalfOpenMax  int           `yaml:"half_open_max"`
}

// CoachConfig tunes the customer avatar and the analysis.
type CoachConfig struct {
	// Greeting is the avatar's opening line.
	Greeting string `yaml:"greeting"`

	// FallbackReply is spoken when a direct question got no usable reply.
	FallbackReply string `yaml:"fallback_reply"`

	// QuestionPhrases are sentence openings treated as direct questions.
	// Hot-reloadable.
	QuestionPhrases []string `yaml:"question_phrases"`

	// PrefixLength is how many leading characters of each sentence are
	// compared against QuestionPhrases. Hot-reloadable.
	PrefixLength int `yaml:"prefix_length"`

	// MinWords is the shortest utterance, in words, the avatar reacts to.
	MinWords int `yaml:"min_words"`

	// ContextTurns is how many previous turns the avatar sees.
	ContextTurns int `yaml:"context_turns"`

	// RulesFile is a YAML or JSON company rulebook. Hot-reloadable.
	RulesFile string `yaml:"rules_file"`
}

// AvatarConfig is handed to the browser to set up the talking avatar.
type AvatarConfig struct {
	// SpeechKey is the browser speech service subscription key.
	SpeechKey string `yaml:"speech_key"`

	Region    string `yaml:"region"`
	Character string `yaml:"character"`
	Style     string `yaml:"style"`
	Voice     string `yaml:"voice"`
}

// TelemetryConfig configures OpenTelemetry.
type TelemetryConfig struct {
	// ServiceName is reported as the service.name resource attribute.
	ServiceName string `yaml:"service_name"`
}
