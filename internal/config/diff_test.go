package config_test

import (
	"testing"
	"time"

	"github.com/MrWong99/meetvoice/internal/config"
	"github.com/MrWong99/meetvoice/internal/meeting"
)

func baseConfig() *config.Config {
	return &config.Config{
		Server: config.ServerConfig{ListenAddr: ":8080", LogLevel: config.LogInfo},
		Providers: config.ProvidersConfig{
			LLM: config.ProviderEntry{Name: "openai", Model: "gpt-4o-mini", Options: map[string]any{"organization": "acme"}},
		},
		Directory: config.DirectoryConfig{File: "contacts.yaml"},
		Session:   config.SessionConfig{MinTranscriptChars: 10, TimeResolution: meeting.ResolvePlaceholder},
	}
}

func TestDiff_NoChanges(t *testing.T) {
	t.Parallel()
	d := config.Diff(baseConfig(), baseConfig())
	if d.Changed() {
		t.Errorf("expected no changes for identical configs, got %+v", d)
	}
}

func TestDiff_LogLevelChanged(t *testing.T) {
	t.Parallel()
	old, new := baseConfig(), baseConfig()
	new.Server.LogLevel = config.LogDebug

	d := config.Diff(old, new)
	if !d.LogLevelChanged {
		t.Error("expected LogLevelChanged=true")
	}
	if d.NewLogLevel != config.LogDebug {
		t.Errorf("expected NewLogLevel=debug, got %q", d.NewLogLevel)
	}
	if d.RestartRequired {
		t.Error("log level must not require a restart")
	}
}

func TestDiff_HotReloadable(t *testing.T) {
	t.Parallel()
	old, new := baseConfig(), baseConfig()
	new.Directory.Phonetic = true
	new.Session.TimeResolution = meeting.ResolvePrecise

	d := config.Diff(old, new)
	if !d.DirectoryChanged {
		t.Error("expected DirectoryChanged=true")
	}
	if !d.SessionChanged {
		t.Error("expected SessionChanged=true")
	}
	if d.RestartRequired || d.LogLevelChanged {
		t.Errorf("unexpected flags %+v", d)
	}
}

func TestDiff_RestartRequired(t *testing.T) {
	t.Parallel()
	cases := map[string]func(*config.Config){
		"listen addr":     func(c *config.Config) { c.Server.ListenAddr = ":9090" },
		"tls":             func(c *config.Config) { c.Server.TLS = &config.TLSConfig{CertFile: "c", KeyFile: "k"} },
		"llm model":       func(c *config.Config) { c.Providers.LLM.Model = "gpt-4o" },
		"llm option":      func(c *config.Config) { c.Providers.LLM.Options["organization"] = "other" },
		"stt fallback":    func(c *config.Config) { c.Providers.STTFallbacks = []config.ProviderEntry{{Name: "whisper"}} },
		"breaker":         func(c *config.Config) { c.Fallbacks.ResetTimeout = time.Minute },
		"registry":        func(c *config.Config) { c.Registry.PostgresDSN = "postgres://localhost/db" },
		"mcp":             func(c *config.Config) { c.MCP.Enabled = true },
		"audio provider":  func(c *config.Config) { c.Providers.Audio.Name = "mock" },
		"tts provider":    func(c *config.Config) { c.Providers.TTS.Name = "elevenlabs" },
		"tts fallback":    func(c *config.Config) { c.Providers.TTSFallbacks = []config.ProviderEntry{{Name: "openai"}} },
		"llm fallback":    func(c *config.Config) { c.Providers.LLMFallbacks = []config.ProviderEntry{{Name: "anthropic"}} },
		"extract timeout": func(c *config.Config) { c.Fallbacks.ExtractionTimeout = time.Second },
	}
	for name, mutate := range cases {
		t.Run(name, func(t *testing.T) {
			t.Parallel()
			old, new := baseConfig(), baseConfig()
			mutate(new)
			d := config.Diff(old, new)
			if !d.RestartRequired {
				t.Errorf("expected RestartRequired=true, got %+v", d)
			}
			if d.DirectoryChanged || d.SessionChanged {
				t.Errorf("unexpected hot-reload flags %+v", d)
			}
		})
	}
}
