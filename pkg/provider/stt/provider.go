// Package stt defines the Provider interface for Speech-to-Text backends.
//
// An STT provider wraps a transcription service (a hosted API or a local
// whisper.cpp server) and turns one finished audio.Segment into text. The
// rest of meetvoice never assumes a particular vendor.
//
// Implementations must be safe for concurrent use and must report failures
// by wrapping the sentinels in package provider. A transcription that yields
// no text is an error (provider.ErrEmptyResult), never an empty success.
package stt

import (
	"context"
	"fmt"
	"strings"

	"github.com/MrWong99/meetvoice/pkg/audio"
	"github.com/MrWong99/meetvoice/pkg/provider"
)

// Options carries recognition hints for a single request.
type Options struct {
	// Language is the BCP-47 language code (e.g. "en"). Empty lets the
	// backend auto-detect.
	Language string

	// Vocabulary lists proper nouns (contact names, companies) the
	// recogniser should favour. Backends that accept a free-text prompt
	// receive them joined by commas.
	Vocabulary []string
}

// Prompt renders Vocabulary as a recogniser prompt, or "" when empty.
func (o Options) Prompt() string {
	if len(o.Vocabulary) == 0 {
		return ""
	}
	return "Names that may appear: " + strings.Join(o.Vocabulary, ", ") + "."
}

// Provider is the abstraction over any STT backend.
type Provider interface {
	// Transcribe converts seg to text. It returns provider.ErrEmptyResult for
	// empty input and for silence.
	Transcribe(ctx context.Context, seg audio.Segment, opts Options) (string, error)
}

// CheckInput rejects segments that cannot contain speech before they are
// sent to a backend.
func CheckInput(seg audio.Segment) error {
	if seg.Empty() {
		return fmt.Errorf("stt: %w: no audio captured", provider.ErrEmptyResult)
	}
	if seg.Silent(SilenceRMS) {
		return fmt.Errorf("stt: %w: no speech detected", provider.ErrEmptyResult)
	}
	return nil
}

// CheckOutput trims text and turns a blank transcription into
// provider.ErrEmptyResult.
func CheckOutput(text string) (string, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return "", fmt.Errorf("stt: %w: no speech detected", provider.ErrEmptyResult)
	}
	return text, nil
}

// SilenceRMS is the root-mean-square energy (16-bit PCM units) below which a
// segment is treated as silence. The maximum is 32767; 300 is near-silence.
const SilenceRMS = 300.0
