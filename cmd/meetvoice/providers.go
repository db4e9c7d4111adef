package main

import (
	"fmt"
	"io"
	"strconv"

	anyllmlib "github.com/mozilla-ai/any-llm-go"

	"github.com/MrWong99/meetvoice/internal/config"
	"github.com/MrWong99/meetvoice/pkg/audio"
	"github.com/MrWong99/meetvoice/pkg/audio/ffmpeg"
	audiomock "github.com/MrWong99/meetvoice/pkg/audio/mock"
	"github.com/MrWong99/meetvoice/pkg/provider/llm"
	"github.com/MrWong99/meetvoice/pkg/provider/llm/anyllm"
	llmmock "github.com/MrWong99/meetvoice/pkg/provider/llm/mock"
	oaillm "github.com/MrWong99/meetvoice/pkg/provider/llm/openai"
	"github.com/MrWong99/meetvoice/pkg/provider/stt"
	sttmock "github.com/MrWong99/meetvoice/pkg/provider/stt/mock"
	oaistt "github.com/MrWong99/meetvoice/pkg/provider/stt/openai"
	"github.com/MrWong99/meetvoice/pkg/provider/stt/whisper"
	"github.com/MrWong99/meetvoice/pkg/provider/tts"
	"github.com/MrWong99/meetvoice/pkg/provider/tts/elevenlabs"
	ttsmock "github.com/MrWong99/meetvoice/pkg/provider/tts/mock"
	oaitts "github.com/MrWong99/meetvoice/pkg/provider/tts/openai"
)

// ── Provider wiring ───────────────────────────────────────────────────────────

// registerBuiltinProviders wires all built-in provider factories into reg.
// Each factory receives a config.ProviderEntry and constructs the matching
// provider from the implementation packages.
func registerBuiltinProviders(reg *config.Registry) {
	// ── LLM ───────────────────────────────────────────────────────────────────

	// OpenAI and OpenAI-compatible local servers use the native client.
	for _, name := range []string{"openai", "llamafile"} {
		reg.RegisterLLM(name, func(entry config.ProviderEntry) (llm.Provider, error) {
			var opts []oaillm.Option
			if entry.BaseURL != "" {
				opts = append(opts, oaillm.WithBaseURL(entry.BaseURL))
			}
			if org := entry.OptionString("organization"); org != "" {
				opts = append(opts, oaillm.WithOrganization(org))
			}
			return oaillm.New(entry.APIKey, entry.Model, opts...)
		})
	}

	// Every other vendor goes through any-llm: optional APIKey + BaseURL.
	for _, vendor := range []string{"anthropic", "gemini", "deepseek", "mistral", "groq", "llamacpp", "ollama"} {
		reg.RegisterLLM(vendor, func(entry config.ProviderEntry) (llm.Provider, error) {
			var opts []anyllmlib.Option
			if entry.APIKey != "" {
				opts = append(opts, anyllmlib.WithAPIKey(entry.APIKey))
			}
			if entry.BaseURL != "" {
				opts = append(opts, anyllmlib.WithBaseURL(entry.BaseURL))
			}
			return anyllm.New(vendor, entry.Model, opts...)
		})
	}

	// mock answers every completion with options.response (default "{}"),
	// which makes extraction fall through to the directory backfill.
	reg.RegisterLLM("mock", func(entry config.ProviderEntry) (llm.Provider, error) {
		content := entry.OptionString("response")
		if content == "" {
			content = "{}"
		}
		return &llmmock.Provider{CompleteResponse: &llm.CompletionResponse{Content: content}}, nil
	})

	// ── STT ───────────────────────────────────────────────────────────────────

	reg.RegisterSTT("openai", func(entry config.ProviderEntry) (stt.Provider, error) {
		var opts []oaistt.Option
		if entry.BaseURL != "" {
			opts = append(opts, oaistt.WithBaseURL(entry.BaseURL))
		}
		return oaistt.New(entry.APIKey, entry.Model, opts...)
	})

	reg.RegisterSTT("whisper", func(entry config.ProviderEntry) (stt.Provider, error) {
		var opts []whisper.Option
		if entry.Model != "" {
			opts = append(opts, whisper.WithModel(entry.Model))
		}
		if lang := entry.OptionString("language"); lang != "" {
			opts = append(opts, whisper.WithLanguage(lang))
		}
		return whisper.New(entry.BaseURL, opts...)
	})

	reg.RegisterSTT("mock", func(entry config.ProviderEntry) (stt.Provider, error) {
		return &sttmock.Provider{Text: entry.OptionString("text")}, nil
	})

	// ── TTS ───────────────────────────────────────────────────────────────────

	reg.RegisterTTS("openai", func(entry config.ProviderEntry) (tts.Provider, error) {
		var opts []oaitts.Option
		if entry.BaseURL != "" {
			opts = append(opts, oaitts.WithBaseURL(entry.BaseURL))
		}
		if voice := entry.OptionString("voice"); voice != "" {
			opts = append(opts, oaitts.WithVoice(voice))
		}
		if format := entry.OptionString("format"); format != "" {
			opts = append(opts, oaitts.WithFormat(format))
		}
		return oaitts.New(entry.APIKey, entry.Model, opts...)
	})

	reg.RegisterTTS("elevenlabs", func(entry config.ProviderEntry) (tts.Provider, error) {
		var opts []elevenlabs.Option
		if entry.Model != "" {
			opts = append(opts, elevenlabs.WithModel(entry.Model))
		}
		if voice := entry.OptionString("voice"); voice != "" {
			opts = append(opts, elevenlabs.WithVoice(voice))
		}
		if outputFmt := entry.OptionString("output_format"); outputFmt != "" {
			opts = append(opts, elevenlabs.WithOutputFormat(outputFmt))
		}
		if entry.BaseURL != "" {
			opts = append(opts, elevenlabs.WithEndpoint(entry.BaseURL))
		}
		return elevenlabs.New(entry.APIKey, opts...)
	})

	reg.RegisterTTS("mock", func(config.ProviderEntry) (tts.Provider, error) {
		return &ttsmock.Provider{}, nil
	})

	// ── Audio capture ─────────────────────────────────────────────────────────

	reg.RegisterAudio("ffmpeg", func(entry config.ProviderEntry) (audio.Source, error) {
		var opts []ffmpeg.Option
		if bin := entry.OptionString("binary"); bin != "" {
			opts = append(opts, ffmpeg.WithBinary(bin))
		}
		if format := entry.OptionString("input_format"); format != "" {
			opts = append(opts, ffmpeg.WithInputFormat(format))
		}
		if dev := entry.OptionString("device"); dev != "" {
			opts = append(opts, ffmpeg.WithDevice(dev))
		}
		if rate, err := optInt(entry, "sample_rate"); err != nil {
			return nil, err
		} else if rate > 0 {
			opts = append(opts, ffmpeg.WithSampleRate(rate))
		}
		return ffmpeg.New(opts...), nil
	})

	reg.RegisterAudio("mock", func(config.ProviderEntry) (audio.Source, error) {
		return &audiomock.Source{}, nil
	})
}

// optInt reads an integer option that YAML may have decoded as int or as a
// string.
func optInt(entry config.ProviderEntry, key string) (int, error) {
	switch v := entry.Options[key].(type) {
	case nil:
		return 0, nil
	case int:
		return v, nil
	case string:
		n, err := strconv.Atoi(v)
		if err != nil {
			return 0, fmt.Errorf("%s: option %s: %w", entry.Name, key, err)
		}
		return n, nil
	}
	return 0, fmt.Errorf("%s: option %s: unsupported type %T", entry.Name, key, entry.Options[key])
}

// ── Startup summary ───────────────────────────────────────────────────────────

func printStartupSummary(w io.Writer, cfg *config.Config) {
	fmt.Fprintln(w, "╔═══════════════════════════════════════╗")
	fmt.Fprintln(w, "║        meetvoice startup summary      ║")
	fmt.Fprintln(w, "╠═══════════════════════════════════════╣")
	printProvider(w, "LLM", cfg.Providers.LLM.Name, cfg.Providers.LLM.Model)
	printProvider(w, "STT", cfg.Providers.STT.Name, cfg.Providers.STT.Model)
	printProvider(w, "TTS", cfg.Providers.TTS.Name, cfg.Providers.TTS.Model)
	printProvider(w, "Audio", cfg.Providers.Audio.Name, "")
	printRow(w, "LLM fallbacks", strconv.Itoa(len(cfg.Providers.LLMFallbacks)))
	printRow(w, "STT fallbacks", strconv.Itoa(len(cfg.Providers.STTFallbacks)))
	printRow(w, "TTS fallbacks", strconv.Itoa(len(cfg.Providers.TTSFallbacks)))
	dir := cfg.Directory.File
	if dir == "" {
		dir = "(built-in)"
	}
	printRow(w, "Directory", dir)
	registry := "in-memory"
	if cfg.Registry.PostgresDSN != "" {
		registry = "postgres"
	}
	printRow(w, "Registry", registry)
	mode := "direct"
	if cfg.Session.ConversationMode {
		mode = "conversation"
	}
	printRow(w, "Session mode", mode)
	mcp := "(disabled)"
	if cfg.MCP.Enabled {
		mcp = "/mcp"
	}
	printRow(w, "MCP", mcp)
	printRow(w, "Listen addr", cfg.Server.ListenAddr)
	fmt.Fprintln(w, "╚═══════════════════════════════════════╝")
}

func printProvider(w io.Writer, kind, name, model string) {
	value := name
	if value == "" {
		value = "(not configured)"
	} else if model != "" {
		value = name + " / " + model
	}
	printRow(w, kind, value)
}

func printRow(w io.Writer, label, value string) {
	if len(value) > 19 {
		value = value[:16] + "…"
	}
	fmt.Fprintf(w, "║  %-14s  : %-19s ║\n", label, value)
}
