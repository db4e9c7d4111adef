package config_test

import (
	"strings"
	"testing"
	"time"

	"github.com/MrWong99/meetvoice/internal/config"
	"github.com/MrWong99/meetvoice/internal/meeting"
)

func TestLoadFromReader_EmptyDocumentYieldsDefaults(t *testing.T) {
	t.Parallel()
	cfg, err := config.LoadFromReader(strings.NewReader(""))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Server.ListenAddr != ":8080" {
		t.Errorf("listen_addr = %q, want :8080", cfg.Server.ListenAddr)
	}
	if cfg.Server.LogLevel != config.LogInfo {
		t.Errorf("log_level = %q, want info", cfg.Server.LogLevel)
	}
	if cfg.Providers.Audio.Name != "ffmpeg" {
		t.Errorf("audio = %q, want ffmpeg", cfg.Providers.Audio.Name)
	}
	if cfg.Fallbacks.MaxFailures != 5 || cfg.Fallbacks.ResetTimeout != 30*time.Second || cfg.Fallbacks.HalfOpenMax != 1 {
		t.Errorf("fallbacks = %+v", cfg.Fallbacks)
	}
	if cfg.Session.MinTranscriptChars != 10 {
		t.Errorf("min_transcript_chars = %d, want 10", cfg.Session.MinTranscriptChars)
	}
	if cfg.Session.TimeResolution != meeting.ResolvePlaceholder {
		t.Errorf("time_resolution = %q, want placeholder", cfg.Session.TimeResolution)
	}
	if cfg.Session.Language != "en" || cfg.Session.MaxRecording != 2*time.Minute {
		t.Errorf("session = %+v", cfg.Session)
	}
}

func TestLoadFromReader_UnknownField(t *testing.T) {
	t.Parallel()
	_, err := config.LoadFromReader(strings.NewReader("server:\n  listen_adr: \":80\"\n"))
	if err == nil {
		t.Fatal("expected error for unknown field, got nil")
	}
	if !strings.Contains(err.Error(), "listen_adr") {
		t.Errorf("error should name the field, got: %v", err)
	}
}

func TestValidate_CollectsAllErrors(t *testing.T) {
	t.Parallel()
	yaml := `
server:
  log_level: loud
  tls:
    cert_file: cert.pem
fallbacks:
  max_failures: -1
directory:
  watch: true
session:
  time_resolution: fuzzy
  min_transcript_chars: -3
  conversation_mode: true
  max_sessions: -1
`
	_, err := config.LoadFromReader(strings.NewReader(yaml))
	if err == nil {
		t.Fatal("expected validation error, got nil")
	}
	for _, want := range []string{
		"server.log_level",
		"server.tls",
		"fallbacks.max_failures",
		"directory.watch",
		"session.time_resolution",
		"session.min_transcript_chars",
		"session.conversation_mode",
		"session.max_sessions",
	} {
		if !strings.Contains(err.Error(), want) {
			t.Errorf("error should mention %s, got: %v", want, err)
		}
	}
}

func TestValidate_FallbacksRequirePrimary(t *testing.T) {
	t.Parallel()
	yaml := `
providers:
  llm_fallbacks:
    - name: anthropic
  stt_fallbacks:
    - model: whisper-1
`
	_, err := config.LoadFromReader(strings.NewReader(yaml))
	if err == nil {
		t.Fatal("expected error, got nil")
	}
	for _, want := range []string{"requires providers.llm", "requires providers.stt", "stt_fallbacks[0].name is required"} {
		if !strings.Contains(err.Error(), want) {
			t.Errorf("error should mention %q, got: %v", want, err)
		}
	}
}

func TestValidate_UnknownProviderNameIsOnlyAWarning(t *testing.T) {
	t.Parallel()
	yaml := `
providers:
  llm:
    name: my-custom-llm
`
	if _, err := config.LoadFromReader(strings.NewReader(yaml)); err != nil {
		t.Fatalf("unknown provider names must not fail validation: %v", err)
	}
}

func TestApplyEnv(t *testing.T) {
	t.Parallel()
	env := map[string]string{
		config.EnvLLMAPIKey: "sk-env",
		config.EnvSTTAPIKey: "",
	}
	lookup := func(k string) (string, bool) {
		v, ok := env[k]
		return v, ok
	}
	cfg := &config.Config{}
	cfg.Providers.STT.APIKey = "from-file"
	cfg.Providers.TTS.APIKey = "tts-file"

	config.ApplyEnv(cfg, lookup)

	if cfg.Providers.LLM.APIKey != "sk-env" {
		t.Errorf("llm api key = %q, want sk-env", cfg.Providers.LLM.APIKey)
	}
	if cfg.Providers.STT.APIKey != "from-file" {
		t.Errorf("empty env var must not clear the file value, got %q", cfg.Providers.STT.APIKey)
	}
	if cfg.Providers.TTS.APIKey != "tts-file" {
		t.Errorf("tts api key = %q", cfg.Providers.TTS.APIKey)
	}
}

func TestLoad_MissingFile(t *testing.T) {
	t.Parallel()
	if _, err := config.Load("/nonexistent/meetvoice.yaml"); err == nil {
		t.Fatal("expected error for missing file")
	}
}
