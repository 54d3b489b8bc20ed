package config

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"slices"
	"strings"
	"time"
	"unicode/utf8"

	"gopkg.in/yaml.v3"
)

// Defaults applied by [ApplyDefaults].
const (
	DefaultListenAddr      = ":8000"
	DefaultResponseTimeout = 8 * time.Second
	DefaultAnalysisTimeout = 90 * time.Second
	DefaultServiceName     = "pitchcoach"
)

// ValidProviderNames lists known provider names per provider kind.
// Used by [Validate] to warn about unrecognised provider names.
var ValidProviderNames = map[string][]string{
	"llm": {"openai", "anthropic", "ollama", "gemini", "deepseek", "mistral", "groq", "llamacpp", "llamafile"},
}

// Load reads the YAML configuration file at path and returns a validated [Config].
// It is a convenience wrapper around [LoadFromReader].
func Load(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("config: open %q: %w", path, err)
	}
	defer f.Close()

	cfg, err := LoadFromReader(f)
	if err != nil {
		return nil, fmt.Errorf("config: parse %q: %w", path, err)
	}
	return cfg, nil
}

// LoadFromReader decodes a YAML config from r, fills in defaults and
// validates the result. Useful in tests where configs are constructed from
// string literals.
func LoadFromReader(r io.Reader) (*Config, error) {
	cfg := &Config{}
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil {
		return nil, fmt.Errorf("config: decode yaml: %w", err)
	}
	ApplyDefaults(cfg)
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// ApplyDefaults fills unset server, oracle and telemetry fields. Coach
// fields are left alone; their consumers carry their own defaults.
func ApplyDefaults(cfg *Config) {
	if cfg.Server.ListenAddr == "" {
		cfg.Server.ListenAddr = DefaultListenAddr
	}
	if cfg.Server.LogLevel == "" {
		cfg.Server.LogLevel = LogInfo
	}
	if cfg.Oracle.ResponseTimeout == 0 {
		cfg.Oracle.ResponseTimeout = DefaultResponseTimeout
	}
	if cfg.Oracle.AnalysisTimeout == 0 {
		cfg.Oracle.AnalysisTimeout = DefaultAnalysisTimeout
	}
	if cfg.Telemetry.ServiceName == "" {
		cfg.Telemetry.ServiceName = DefaultServiceName
	}
}

// Validate checks that cfg contains a coherent set of values.
// It returns a joined error listing all validation failures found.
func Validate(cfg *Config) error {
	var errs []error

	// Server
	if cfg.Server.LogLevel != "" && !cfg.Server.LogLevel.IsValid() {
		errs = append(errs, fmt.Errorf("server.log_level %q is invalid; valid values: debug, info, warn, error", cfg.Server.LogLevel))
	}
	if tls := cfg.Server.TLS; tls != nil && (tls.CertFile == "" || tls.KeyFile == "") {
		errs = append(errs, errors.New("server.tls requires both cert_file and key_file"))
	}
	if dir := cfg.Server.StaticDir; dir != "" {
		if fi, err := os.Stat(dir); err != nil || !fi.IsDir() {
			slog.Warn("server.static_dir is not a readable directory; front-end will not be served", "static_dir", dir)
		}
	}

	// Providers
	if cfg.Providers.LLM.Name == "" {
		errs = append(errs, errors.New("providers.llm.name is required"))
	}
	validateProviderName("llm", cfg.Providers.LLM.Name)
	seen := map[string]int{}
	if cfg.Providers.LLM.Name != "" {
		seen[providerKey(cfg.Providers.LLM)] = -1
	}
	for i, fb := range cfg.Providers.LLMFallbacks {
		prefix := fmt.Sprintf("providers.llm_fallbacks[%d]", i)
		if fb.Name == "" {
			errs = append(errs, fmt.Errorf("%s.name is required", prefix))
			continue
		}
		validateProviderName("llm", fb.Name)
		if prev, ok := seen[providerKey(fb)]; ok {
			if prev < 0 {
				slog.Warn("LLM fallback duplicates the primary provider", "fallback", prefix, "name", fb.Name, "model", fb.Model)
			} else {
				slog.Warn("duplicate LLM fallback", "fallback", prefix, "duplicate_of", prev, "name", fb.Name, "model", fb.Model)
			}
		}
		seen[providerKey(fb)] = i
	}

	// Oracle
	if cfg.Oracle.ResponseTimeout < 0 {
		errs = append(errs, fmt.Errorf("oracle.response_timeout %s must not be negative", cfg.Oracle.ResponseTimeout))
	}
	if cfg.Oracle.AnalysisTimeout < 0 {
		errs = append(errs, fmt.Errorf("oracle.analysis_timeout %s must not be negative", cfg.Oracle.AnalysisTimeout))
	}
	if cfg.Oracle.ResponseTimeout > 30*time.Second {
		slog.Warn("oracle.response_timeout is long for a live conversation; the avatar will feel unresponsive",
			"response_timeout", cfg.Oracle.ResponseTimeout)
	}
	cb := cfg.Oracle.CircuitBreaker
	if cb.MaxFailures < 0 || cb.HalfOpenMax < 0 || cb.ResetTimeout < 0 {
		errs = append(errs, errors.New("oracle.circuit_breaker values must not be negative"))
	}

	// Coach
	c := cfg.Coach
	if c.FallbackReply != "" && utf8.RuneCountInString(strings.TrimSpace(c.FallbackReply)) < 3 {
		errs = append(errs, fmt.Errorf("coach.fallback_reply %q must be at least 3 characters", c.FallbackReply))
	}
	for i, p := range c.QuestionPhrases {
		if strings.TrimSpace(p) == "" {
			errs = append(errs, fmt.Errorf("coach.question_phrases[%d] is empty", i))
		}
	}
	if c.PrefixLength < 0 {
		errs = append(errs, fmt.Errorf("coach.prefix_length %d must not be negative", c.PrefixLength))
	}
	for _, p := range c.QuestionPhrases {
		if c.PrefixLength > 0 && utf8.RuneCountInString(strings.TrimSpace(p)) > c.PrefixLength {
			slog.Warn("question phrase is longer than coach.prefix_length and can never match",
				"phrase", p, "prefix_length", c.PrefixLength)
		}
	}
	if c.MinWords < 0 {
		errs = append(errs, fmt.Errorf("coach.min_words %d must not be negative", c.MinWords))
	}
	if c.ContextTurns < 0 {
		errs = append(errs, fmt.Errorf("coach.context_turns %d must not be negative", c.ContextTurns))
	}

	return errors.Join(errs...)
}

func providerKey(e ProviderEntry) string {
	return e.Name + "/" + e.Model + "/" + e.BaseURL
}

// validateProviderName logs a warning if name is non-empty and not found in
// the [ValidProviderNames] list for the given kind.
func validateProviderName(kind, name string) {
	if name == "" {
		return
	}
	known, ok := ValidProviderNames[kind]
	if !ok {
		return
	}
	if slices.Contains(known, name) {
		return
	}
	slog.Warn("unknown provider name, may be a typo or third-party provider",
		"kind", kind,
		"name", name,
		"known", known,
	)
}
