package config

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"slices"
	"time"

	"github.com/MrWong99/meetvoice/internal/meeting"
	"gopkg.in/yaml.v3"
)

// Environment variables that override API keys from the config file, so
// secrets need not be written to disk.
const (
	EnvLLMAPIKey = "MEETVOICE_LLM_API_KEY"
	EnvSTTAPIKey = "MEETVOICE_STT_API_KEY"
	EnvTTSAPIKey = "MEETVOICE_TTS_API_KEY"
)

// ValidProviderNames lists known provider names per provider kind.
// Used by [Validate] to warn about unrecognised provider names.
var ValidProviderNames = map[string][]string{
	"llm":   {"openai", "anthropic", "ollama", "gemini", "deepseek", "mistral", "groq", "llamacpp", "llamafile", "mock"},
	"stt":   {"openai", "whisper", "mock"},
	"tts":   {"openai", "elevenlabs", "mock"},
	"audio": {"ffmpeg", "mock"},
}

// Load reads the YAML configuration file at path and returns a validated [Config].
// It is a convenience wrapper around [LoadFromReader] and [Validate].
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

// LoadFromReader decodes a YAML config from r, applies environment overrides
// and defaults, and validates the result. An empty document yields the
// default configuration.
func LoadFromReader(r io.Reader) (*Config, error) {
	cfg := &Config{}
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("config: decode yaml: %w", err)
	}
	ApplyEnv(cfg, os.LookupEnv)
	ApplyDefaults(cfg)
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Default returns the configuration used when no file is given.
func Default() *Config {
	cfg := &Config{}
	ApplyEnv(cfg, os.LookupEnv)
	ApplyDefaults(cfg)
	return cfg
}

// ApplyEnv copies API keys from the environment into cfg. lookup is usually
// [os.LookupEnv].
func ApplyEnv(cfg *Config, lookup func(string) (string, bool)) {
	for _, o := range []struct {
		env   string
		entry *ProviderEntry
	}{
		{EnvLLMAPIKey, &cfg.Providers.LLM},
		{EnvSTTAPIKey, &cfg.Providers.STT},
		{EnvTTSAPIKey, &cfg.Providers.TTS},
	} {
		if v, ok := lookup(o.env); ok && v != "" {
			o.entry.APIKey = v
		}
	}
}

// ApplyDefaults fills unset values with their defaults.
func ApplyDefaults(cfg *Config) {
	if cfg.Server.ListenAddr == "" {
		cfg.Server.ListenAddr = ":8080"
	}
	if cfg.Server.LogLevel == "" {
		cfg.Server.LogLevel = LogInfo
	}
	if cfg.Providers.Audio.Name == "" {
		cfg.Providers.Audio.Name = "ffmpeg"
	}
	if cfg.Fallbacks.MaxFailures == 0 {
		cfg.Fallbacks.MaxFailures = 5
	}
	if cfg.Fallbacks.ResetTimeout == 0 {
		cfg.Fallbacks.ResetTimeout = 30 * time.Second
	}
	if cfg.Fallbacks.HalfOpenMax == 0 {
		cfg.Fallbacks.HalfOpenMax = 1
	}
	if cfg.Fallbacks.ExtractionTimeout == 0 {
		cfg.Fallbacks.ExtractionTimeout = 20 * time.Second
	}
	if cfg.Session.MinTranscriptChars == 0 {
		cfg.Session.MinTranscriptChars = 10
	}
	if cfg.Session.TimeResolution == "" {
		cfg.Session.TimeResolution = meeting.ResolvePlaceholder
	}
	if cfg.Session.Language == "" {
		cfg.Session.Language = "en"
	}
	if cfg.Session.MaxRecording == 0 {
		cfg.Session.MaxRecording = 2 * time.Minute
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

	validateProviderName("llm", cfg.Providers.LLM.Name)
	validateProviderName("stt", cfg.Providers.STT.Name)
	validateProviderName("tts", cfg.Providers.TTS.Name)
	validateProviderName("audio", cfg.Providers.Audio.Name)
	for i, fb := range cfg.Providers.LLMFallbacks {
		if fb.Name == "" {
			errs = append(errs, fmt.Errorf("providers.llm_fallbacks[%d].name is required", i))
		}
		validateProviderName("llm", fb.Name)
	}
	for i, fb := range cfg.Providers.STTFallbacks {
		if fb.Name == "" {
			errs = append(errs, fmt.Errorf("providers.stt_fallbacks[%d].name is required", i))
		}
		validateProviderName("stt", fb.Name)
	}
	for i, fb := range cfg.Providers.TTSFallbacks {
		if fb.Name == "" {
			errs = append(errs, fmt.Errorf("providers.tts_fallbacks[%d].name is required", i))
		}
		validateProviderName("tts", fb.Name)
	}
	if len(cfg.Providers.LLMFallbacks) > 0 && !cfg.Providers.LLM.Configured() {
		errs = append(errs, errors.New("providers.llm_fallbacks requires providers.llm"))
	}
	if len(cfg.Providers.STTFallbacks) > 0 && !cfg.Providers.STT.Configured() {
		errs = append(errs, errors.New("providers.stt_fallbacks requires providers.stt"))
	}
	if len(cfg.Providers.TTSFallbacks) > 0 && !cfg.Providers.TTS.Configured() {
		errs = append(errs, errors.New("providers.tts_fallbacks requires providers.tts"))
	}

	// Provider availability warnings
	if !cfg.Providers.LLM.Configured() {
		slog.Warn("no LLM provider configured; extraction uses the local heuristic only")
	}
	if !cfg.Providers.STT.Configured() {
		slog.Warn("no STT provider configured; sessions accept typed transcripts only")
	}

	// Fallbacks
	if cfg.Fallbacks.MaxFailures < 0 {
		errs = append(errs, fmt.Errorf("fallbacks.max_failures %d must not be negative", cfg.Fallbacks.MaxFailures))
	}
	if cfg.Fallbacks.ResetTimeout < 0 {
		errs = append(errs, fmt.Errorf("fallbacks.reset_timeout %s must not be negative", cfg.Fallbacks.ResetTimeout))
	}
	if cfg.Fallbacks.HalfOpenMax < 0 {
		errs = append(errs, fmt.Errorf("fallbacks.half_open_max %d must not be negative", cfg.Fallbacks.HalfOpenMax))
	}
	if cfg.Fallbacks.ExtractionTimeout < 0 {
		errs = append(errs, fmt.Errorf("fallbacks.extraction_timeout %s must not be negative", cfg.Fallbacks.ExtractionTimeout))
	}

	// Directory
	if cfg.Directory.Watch && cfg.Directory.File == "" {
		errs = append(errs, errors.New("directory.watch requires directory.file"))
	}

	// Registry
	if cfg.Registry.PostgresDSN == "" {
		slog.Warn("registry.postgres_dsn is empty; contacts and meetings are kept in memory only")
	}

	// Session
	if cfg.Session.MinTranscriptChars < 0 {
		errs = append(errs, fmt.Errorf("session.min_transcript_chars %d must not be negative", cfg.Session.MinTranscriptChars))
	}
	if !cfg.Session.TimeResolution.Valid() {
		errs = append(errs, fmt.Errorf("session.time_resolution %q is invalid; valid values: placeholder, precise", cfg.Session.TimeResolution))
	}
	if cfg.Session.ConversationMode && !cfg.Providers.LLM.Configured() {
		errs = append(errs, errors.New("session.conversation_mode requires an LLM provider but providers.llm is not configured"))
	}
	if cfg.Session.MaxSessions < 0 {
		errs = append(errs, fmt.Errorf("session.max_sessions %d must not be negative", cfg.Session.MaxSessions))
	}
	if cfg.Session.MaxRecording < 0 {
		errs = append(errs, fmt.Errorf("session.max_recording %s must not be negative", cfg.Session.MaxRecording))
	}

	return errors.Join(errs...)
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
	slog.Warn("unknown provider name; may be a typo or third-party provider",
		"kind", kind,
		"name", name,
		"known", known,
	)
}
