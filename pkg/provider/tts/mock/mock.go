// Package mock provides a test double for the tts.Provider interface.
//
// Example:
//
//	p := &mock.Provider{Audio: []byte("pcm")}
//	speech, _ := p.Synthesize(ctx, "Meeting booked.")
package mock

import (
	"bytes"
	"context"
	"io"
	"sync"

	"github.com/MrWong99/meetvoice/pkg/provider/tts"
)

// Provider is a mock implementation of tts.Provider.
type Provider struct {
	mu sync.Mutex

	// Audio is streamed back by Synthesize.
	Audio []byte

	// ContentType is reported on the Speech. Defaults to "audio/pcm".
	ContentType string

	// Err, if non-nil, is returned by Synthesize.
	Err error

	// Texts records the text of every Synthesize call in order.
	Texts []string
}

// Synthesize records the call and returns Audio as a stream.
func (p *Provider) Synthesize(_ context.Context, text string) (tts.Speech, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.Texts = append(p.Texts, text)
	if p.Err != nil {
		return tts.Speech{}, p.Err
	}
	ct := p.ContentType
	if ct == "" {
		ct = "audio/pcm"
	}
	return tts.Speech{Audio: io.NopCloser(bytes.NewReader(p.Audio)), ContentType: ct}, nil
}

var _ tts.Provider = (*Provider)(nil)
