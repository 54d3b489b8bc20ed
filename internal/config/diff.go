package config

import "slices"

// ConfigDiff describes what changed between two configs.
// Only fields that can be safely hot-reloaded are tracked.
type ConfigDiff struct {
	LogLevelChanged bool
	NewLogLevel     LogLevel

	// ClassifierChanged is true when the question phrases or the prefix
	// length differ.
	ClassifierChanged bool

	// RulesFileChanged is true when coach.rules_file points somewhere else.
	// Edits to the file's content are detected by the [Watcher], not here.
	RulesFileChanged bool

	// RestartRequired lists changed fields that only take effect after a
	// restart.
	RestartRequired []string
}

// Diff compares old and new configs and returns what changed.
func Diff(old, new *Config) ConfigDiff {
	d := ConfigDiff{}

	if old.Server.LogLevel != new.Server.LogLevel {
		d.LogLevelChanged = true
		d.NewLogLevel = new.Server.LogLevel
	}

	if !slices.Equal(old.Coach.QuestionPhrases, new.Coach.QuestionPhrases) ||
		old.Coach.PrefixLength != new.Coach.PrefixLength {
		d.ClassifierChanged = true
	}

	if old.Coach.RulesFile != new.Coach.RulesFile {
		d.RulesFileChanged = true
	}

	if old.Server.ListenAddr != new.Server.ListenAddr {
		d.RestartRequired = append(d.RestartRequired, "server.listen_addr")
	}
	if !sameProvider(old.Providers.LLM, new.Providers.LLM) ||
		!slices.EqualFunc(old.Providers.LLMFallbacks, new.Providers.LLMFallbacks, sameProvider) {
		d.RestartRequired = append(d.RestartRequired, "providers")
	}
	if old.Oracle != new.Oracle {
		d.RestartRequired = append(d.RestartRequired, "oracle")
	}
	if old.Coach.Greeting != new.Coach.Greeting || old.Coach.FallbackReply != new.Coach.FallbackReply ||
		old.Coach.MinWords != new.Coach.MinWords || old.Coach.ContextTurns != new.Coach.ContextTurns {
		d.RestartRequired = append(d.RestartRequired, "coach")
	}

	return d
}

// sameProvider compares the identifying fields of two entries. Options are
// not compared.
func sameProvider(a, b ProviderEntry) bool {
	return a.Name == b.Name && a.Model == b.Model && a.BaseURL == b.BaseURL && a.APIKey == b.APIKey
}
