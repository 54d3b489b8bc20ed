package config_test

import (
	"slices"
	"testing"
	"time"

	"github.com/MrWong99/pitchcoach/internal/config"
)

func baseConfig() *config.Config {
	return &config.Config{
		Server:    config.ServerConfig{ListenAddr: ":8000", LogLevel: config.LogInfo},
		Providers: config.ProvidersConfig{LLM: config.ProviderEntry{Name: "openai", Model: "gpt-4o"}},
		Oracle:    config.OracleConfig{ResponseTimeout: 8 * time.Second},
		Coach: config.CoachConfig{
			QuestionPhrases: []string{"what do you think"},
			PrefixLength:    20,
			RulesFile:       "rules.yaml",
		},
	}
}

func TestDiff_NoChanges(t *testing.T) {
	t.Parallel()

	d := config.Diff(baseConfig(), baseConfig())
	if d.LogLevelChanged || d.ClassifierChanged || d.RulesFileChanged || len(d.RestartRequired) != 0 {
		t.Errorf("expected empty diff, got %+v", d)
	}
}

func TestDiff_LogLevelChanged(t *testing.T) {
	t.Parallel()

	old := baseConfig()
	new := baseConfig()
	new.Server.LogLevel = config.LogDebug

	d := config.Diff(old, new)
	if !d.LogLevelChanged {
		t.Error("expected LogLevelChanged=true")
	}
	if d.NewLogLevel != config.LogDebug {
		t.Errorf("expected NewLogLevel=debug, got %q", d.NewLogLevel)
	}
}

func TestDiff_Classifier(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name   string
		mutate func(*config.Config)
	}{
		{"phrase added", func(c *config.Config) { c.Coach.QuestionPhrases = append(c.Coach.QuestionPhrases, "any questions") }},
		{"phrase edited", func(c *config.Config) { c.Coach.QuestionPhrases = []string{"what do you say"} }},
		{"prefix length", func(c *config.Config) { c.Coach.PrefixLength = 30 }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			new := baseConfig()
			tt.mutate(new)
			d := config.Diff(baseConfig(), new)
			if !d.ClassifierChanged {
				t.Error("expected ClassifierChanged=true")
			}
			if len(d.RestartRequired) != 0 {
				t.Errorf("classifier change should be hot, got RestartRequired=%v", d.RestartRequired)
			}
		})
	}
}

func TestDiff_RulesFileChanged(t *testing.T) {
	t.Parallel()

	new := baseConfig()
	new.Coach.RulesFile = "other.json"
	d := config.Diff(baseConfig(), new)
	if !d.RulesFileChanged {
		t.Error("expected RulesFileChanged=true")
	}
	if d.ClassifierChanged {
		t.Error("classifier did not change")
	}
}

func TestDiff_RestartRequired(t *testing.T) {
	t.Parallel()

	new := baseConfig()
	new.Server.ListenAddr = ":9000"
	new.Providers.LLM.Model = "gpt-4o-mini"
	new.Oracle.ResponseTimeout = 3 * time.Second
	new.Coach.MinWords = 7

	d := config.Diff(baseConfig(), new)
	want := []string{"server.listen_addr", "providers", "oracle", "coach"}
	if !slices.Equal(d.RestartRequired, want) {
		t.Errorf("RestartRequired = %v, want %v", d.RestartRequired, want)
	}
}

func TestDiff_ProviderOptionsIgnored(t *testing.T) {
	t.Parallel()

	new := baseConfig()
	new.Providers.LLM.Options = map[string]any{"organization": "acme"}
	if d := config.Diff(baseConfig(), new); len(d.RestartRequired) != 0 {
		t.Errorf("RestartRequired = %v, want none", d.RestartRequired)
	}
}
