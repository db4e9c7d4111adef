package config

import "fmt"

// ConfigDiff describes what changed between two configs.
// Only fields that can be safely hot-reloaded are tracked individually;
// everything else is summarised by RestartRequired.
type ConfigDiff struct {
	LogLevelChanged bool
	NewLogLevel     LogLevel

	// DirectoryChanged is true when the directory file or matching mode
	// changed. The directory is reloaded in place.
	DirectoryChanged bool

	// SessionChanged is true when any session tuning changed. New sessions
	// pick up the new values; open sessions keep theirs.
	SessionChanged bool

	// RestartRequired is true when providers, fallbacks, the registry, the
	// listen address, TLS, or MCP changed. These are applied on restart only.
	RestartRequired bool
}

// Changed reports whether anything differs.
func (d ConfigDiff) Changed() bool {
	return d.LogLevelChanged || d.DirectoryChanged || d.SessionChanged || d.RestartRequired
}

// Diff compares old and new configs and returns what changed.
func Diff(old, new *Config) ConfigDiff {
	d := ConfigDiff{}

	if old.Server.LogLevel != new.Server.LogLevel {
		d.LogLevelChanged = true
		d.NewLogLevel = new.Server.LogLevel
	}

	d.DirectoryChanged = old.Directory != new.Directory
	d.SessionChanged = old.Session != new.Session

	d.RestartRequired = old.Server.ListenAddr != new.Server.ListenAddr ||
		!sameTLS(old.Server.TLS, new.Server.TLS) ||
		!sameProviders(old.Providers, new.Providers) ||
		old.Fallbacks != new.Fallbacks ||
		old.Registry != new.Registry ||
		old.MCP != new.MCP

	return d
}

func sameTLS(a, b *TLSConfig) bool {
	if a == nil || b == nil {
		return a == b
	}
	return *a == *b
}

func sameProviders(a, b ProvidersConfig) bool {
	return sameEntry(a.LLM, b.LLM) && sameEntry(a.STT, b.STT) &&
		sameEntry(a.TTS, b.TTS) && sameEntry(a.Audio, b.Audio) &&
		sameEntries(a.LLMFallbacks, b.LLMFallbacks) &&
		sameEntries(a.STTFallbacks, b.STTFallbacks) &&
		sameEntries(a.TTSFallbacks, b.TTSFallbacks)
}

func sameEntries(a, b []ProviderEntry) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if !sameEntry(a[i], b[i]) {
			return false
		}
	}
	return true
}

// sameEntry compares entries. Options are compared by their formatted value
// since they may hold nested maps decoded from YAML.
func sameEntry(a, b ProviderEntry) bool {
	if a.Name != b.Name || a.APIKey != b.APIKey || a.BaseURL != b.BaseURL || a.Model != b.Model {
		return false
	}
	if len(a.Options) != len(b.Options) {
		return false
	}
	for k, av := range a.Options {
		bv, ok := b.Options[k]
		if !ok || fmt.Sprint(av) != fmt.Sprint(bv) {
			return false
		}
	}
	return true
}
