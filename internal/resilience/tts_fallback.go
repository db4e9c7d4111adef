package resilience

import (
	"context"

	"github.com/MrWong99/meetvoice/pkg/provider/tts"
)

// TTSFallback implements [tts.Provider] with automatic failover across multiple
// TTS backends. Only stream setup is covered; once audio starts flowing a
// mid-stream failure surfaces as a read error on the returned body.
type TTSFallback struct {
	group *FallbackGroup[tts.Provider]
}

var _ tts.Provider = (*TTSFallback)(nil)

// NewTTSFallback creates a [TTSFallback] with primary as the preferred backend.
func NewTTSFallback(primary tts.Provider, primaryName string, cfg FallbackConfig) *TTSFallback {
	return &TTSFallback{group: NewFallbackGroup(primary, primaryName, cfg)}
}

// AddFallback registers an additional TTS provider as a fallback.
func (f *TTSFallback) AddFallback(name string, provider tts.Provider) {
	f.group.AddFallback(name, provider)
}

// Synthesize opens a speech stream on the first healthy backend.
func (f *TTSFallback) Synthesize(ctx context.Context, text string) (tts.Speech, error) {
	return ExecuteWithResult(f.group, func(p tts.Provider) (tts.Speech, error) {
		return p.Synthesize(ctx, text)
	})
}
