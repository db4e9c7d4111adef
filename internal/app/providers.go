package app

import (
	"context"
	"fmt"
	"log/slog"
	"maps"

	"github.com/MrWong99/meetvoice/internal/config"
	"github.com/MrWong99/meetvoice/internal/observe"
	"github.com/MrWong99/meetvoice/internal/resilience"
	"github.com/MrWong99/meetvoice/pkg/audio"
	"github.com/MrWong99/meetvoice/pkg/provider/llm"
	"github.com/MrWong99/meetvoice/pkg/provider/stt"
	"github.com/MrWong99/meetvoice/pkg/provider/tts"
)

// Providers holds one interface value per provider slot. Nil means the
// provider is not configured.
type Providers struct {
	LLM   llm.Provider
	STT   stt.Provider
	TTS   tts.Provider
	Audio audio.Source
}

// BuildProviders instantiates every provider named in cfg through reg. Each
// remote provider is instrumented with m; LLM and STT are wrapped in a
// fallback group when fallbacks are configured.
func BuildProviders(cfg *config.Config, reg *config.Registry, m *observe.Metrics) (*Providers, error) {
	if m == nil {
		m = observe.DefaultMetrics()
	}
	fbCfg := func(kind string) resilience.FallbackConfig {
		return resilience.FallbackConfig{CircuitBreaker: resilience.CircuitBreakerConfig{
			MaxFailures:   cfg.Fallbacks.MaxFailures,
			ResetTimeout:  cfg.Fallbacks.ResetTimeout,
			HalfOpenMax:   cfg.Fallbacks.HalfOpenMax,
			OnStateChange: breakerHook(m, kind+"/"),
		}}
	}
	ps := &Providers{}

	if e := cfg.Providers.LLM; e.Configured() {
		p, err := reg.CreateLLM(e)
		if err != nil {
			return nil, fmt.Errorf("app: create llm provider %q: %w", e.Name, err)
		}
		p = observe.InstrumentLLM(p, e.Name, m)
		if fbs := cfg.Providers.LLMFallbacks; len(fbs) > 0 {
			group := resilience.NewLLMFallback(p, e.Name, fbCfg("llm"))
			for _, fb := range fbs {
				fp, err := reg.CreateLLM(fb)
				if err != nil {
					return nil, fmt.Errorf("app: create llm fallback %q: %w", fb.Name, err)
				}
				group.AddFallback(fb.Name, observe.InstrumentLLM(fp, fb.Name, m))
			}
			p = group
		}
		ps.LLM = p
		slog.Info("provider created", "kind", "llm", "name", e.Name, "fallbacks", len(cfg.Providers.LLMFallbacks))
	}

	if e := cfg.Providers.STT; e.Configured() {
		p, err := reg.CreateSTT(e)
		if err != nil {
			return nil, fmt.Errorf("app: create stt provider %q: %w", e.Name, err)
		}
		p = observe.InstrumentSTT(p, e.Name, m)
		if fbs := cfg.Providers.STTFallbacks; len(fbs) > 0 {
			group := resilience.NewSTTFallback(p, e.Name, fbCfg("stt"))
			for _, fb := range fbs {
				fp, err := reg.CreateSTT(fb)
				if err != nil {
					return nil, fmt.Errorf("app: create stt fallback %q: %w", fb.Name, err)
				}
				group.AddFallback(fb.Name, observe.InstrumentSTT(fp, fb.Name, m))
			}
			p = group
		}
		ps.STT = p
		slog.Info("provider created", "kind", "stt", "name", e.Name, "fallbacks", len(cfg.Providers.STTFallbacks))
	}

	if e := cfg.Providers.TTS; e.Configured() {
		p, err := reg.CreateTTS(e)
		if err != nil {
			return nil, fmt.Errorf("app: create tts provider %q: %w", e.Name, err)
		}
		p = observe.InstrumentTTS(p, e.Name, m)
		if fbs := cfg.Providers.TTSFallbacks; len(fbs) > 0 {
			group := resilience.NewTTSFallback(p, e.Name, fbCfg("tts"))
			for _, fb := range fbs {
				fp, err := reg.CreateTTS(fb)
				if err != nil {
					return nil, fmt.Errorf("app: create tts fallback %q: %w", fb.Name, err)
				}
				group.AddFallback(fb.Name, observe.InstrumentTTS(fp, fb.Name, m))
			}
			p = group
		}
		ps.TTS = p
		slog.Info("provider created", "kind", "tts", "name", e.Name, "fallbacks", len(cfg.Providers.TTSFallbacks))
	}

	if e := cfg.Providers.Audio; e.Configured() {
		if dev := cfg.Session.CaptureDevice; dev != "" && e.OptionString("device") == "" {
			e.Options = maps.Clone(e.Options)
			if e.Options == nil {
				e.Options = make(map[string]any, 1)
			}
			e.Options["device"] = dev
		}
		src, err := reg.CreateAudio(e)
		if err != nil {
			return nil, fmt.Errorf("app: create audio source %q: %w", e.Name, err)
		}
		if c, ok := src.(interface{ Check() error }); ok {
			if err := c.Check(); err != nil {
				slog.Warn("audio capture unavailable, recording will fail", "name", e.Name, "err", err)
			}
		}
		ps.Audio = src
		slog.Info("provider created", "kind", "audio", "name", e.Name)
	}

	return ps, nil
}

// breakerHook counts breaker transitions; prefix keeps same-named backends
// of different kinds apart.
func breakerHook(m *observe.Metrics, prefix string) func(string, resilience.State, resilience.State) {
	return func(name string, _, to resilience.State) {
		m.RecordBreakerTransition(context.Background(), prefix+name, to.String())
	}
}
