// Package tts defines the Provider interface for Text-to-Speech backends.
//
// meetvoice speaks follow-up questions and the final confirmation back to the
// user. A provider turns one piece of text into a streamed audio body; the
// voice is fixed when the provider is constructed.
//
// Implementations must be safe for concurrent use.
package tts

import (
	"context"
	"io"
)

// Speech is a synthesised audio stream.
type Speech struct {
	// Audio yields encoded audio as it arrives. The caller must close it.
	Audio io.ReadCloser

	// ContentType is the MIME type of Audio, e.g. "audio/mpeg" or "audio/pcm".
	ContentType string
}

// Provider is the abstraction over any TTS backend.
type Provider interface {
	// Synthesize converts text to speech. Errors that occur after the
	// stream has started are reported by Audio.Read.
	Synthesize(ctx context.Context, text string) (Speech, error)
}

// ContentTypeFor maps an output-format name such as "mp3", "mp3_44100_128",
// "pcm_16000" or "opus" to its MIME type.
func ContentTypeFor(format string) string {
	switch {
	case len(format) >= 3 && format[:3] == "mp3":
		return "audio/mpeg"
	case len(format) >= 3 && format[:3] == "pcm":
		return "audio/pcm"
	case format == "wav":
		return "audio/wav"
	case format == "opus":
		return "audio/ogg"
	case format == "aac":
		return "audio/aac"
	case format == "flac":
		return "audio/flac"
	default:
		return "application/octet-stream"
	}
}
