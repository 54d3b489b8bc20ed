package main

import (
	"errors"
	"slices"
	"testing"

	"github.com/MrWong99/pitchcoach/internal/config"
	"github.com/MrWong99/pitchcoach/pkg/provider/llm"
	"github.com/MrWong99/pitchcoach/pkg/provider/llm/mock"
)

func TestRegisterBuiltinProviders(t *testing.T) {
	t.Parallel()

	reg := config.NewRegistry()
	registerBuiltinProviders(reg)

	got := reg.LLMNames()
	for _, name := range config.ValidProviderNames["llm"] {
		if !slices.Contains(got, name) {
			t.Errorf("provider %q not registered, have %v", name, got)
		}
	}
}

func TestBuildProviders(t *testing.T) {
	t.Parallel()

	reg := config.NewRegistry()
	reg.RegisterLLM("fake", func(config.ProviderEntry) (llm.Provider, error) {
		return &mock.Provider{}, nil
	})
	reg.RegisterLLM("broken", func(config.ProviderEntry) (llm.Provider, error) {
		return nil, errors.New("no api key")
	})

	cfg := &config.Config{Providers: config.ProvidersConfig{
		LLM: config.ProviderEntry{Name: "fake", Model: "m1"},
		LLMFallbacks: []config.ProviderEntry{
			{Name: "broken"},
			{Name: "fake"},
		},
	}}
	ps, err := buildProviders(cfg, reg)
	if err != nil {
		t.Fatalf("buildProviders: %v", err)
	}
	if ps.LLM.Name != "fake/m1" || ps.LLM.Provider == nil {
		t.Errorf("primary = %+v", ps.LLM)
	}
	if len(ps.Fallbacks) != 1 || ps.Fallbacks[0].Name != "fake" {
		t.Errorf("fallbacks = %+v, want only the buildable one", ps.Fallbacks)
	}

	cfg.Providers.LLM = config.ProviderEntry{Name: "broken"}
	if _, err := buildProviders(cfg, reg); err == nil {
		t.Error("expected error when the primary cannot be built")
	}
	cfg.Providers.LLM = config.ProviderEntry{Name: "unknown"}
	if _, err := buildProviders(cfg, reg); !errors.Is(err, config.ErrProviderNotRegistered) {
		t.Errorf("err = %v, want ErrProviderNotRegistered", err)
	}
}

func TestOptString(t *testing.T) {
	t.Parallel()

	opts := map[string]any{"organization": "acme", "retries": 3}
	tests := []struct {
		opts map[string]any
		key  string
		want string
	}{
		{opts, "organization", "acme"},
		{opts, "retries", ""},
		{opts, "missing", ""},
		{nil, "organization", ""},
	}
	for _, tt := range tests {
		if got := optString(tt.opts, tt.key); got != tt.want {
			t.Errorf("optString(%v, %q) = %q, want %q", tt.opts, tt.key, got, tt.want)
		}
	}
}
