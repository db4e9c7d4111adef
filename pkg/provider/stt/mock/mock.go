// Package mock provides a test double for the stt.Provider interface.
//
// Example:
//
//	p := &mock.Provider{Text: "meeting with Phil tomorrow at 2pm"}
//	text, _ := p.Transcribe(ctx, seg, stt.Options{})
package mock

import (
	"context"
	"sync"

	"github.com/MrWong99/meetvoice/pkg/audio"
	"github.com/MrWong99/meetvoice/pkg/provider/stt"
)

// TranscribeCall records a single invocation of Provider.Transcribe.
type TranscribeCall struct {
	Segment audio.Segment
	Options stt.Options
}

// Provider is a mock implementation of stt.Provider.
type Provider struct {
	mu sync.Mutex

	// Text is returned by Transcribe when Err is nil.
	Text string

	// Err, if non-nil, is returned by Transcribe.
	Err error

	// Block, if non-nil, makes Transcribe wait until it is closed or the
	// context is cancelled. Used to hold a session in the processing state.
	Block chan struct{}

	// Calls records every call to Transcribe.
	Calls []TranscribeCall
}

// Transcribe records the call and returns Text, Err.
func (p *Provider) Transcribe(ctx context.Context, seg audio.Segment, opts stt.Options) (string, error) {
	p.mu.Lock()
	p.Calls = append(p.Calls, TranscribeCall{Segment: seg, Options: opts})
	block := p.Block
	p.mu.Unlock()

	if block != nil {
		select {
		case <-block:
		case <-ctx.Done():
			return "", ctx.Err()
		}
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	return p.Text, p.Err
}

// CallCount returns the number of Transcribe calls. Thread-safe.
func (p *Provider) CallCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.Calls)
}

var _ stt.Provider = (*Provider)(nil)
