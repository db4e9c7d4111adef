// Package mock provides an in-memory [audio.Source] for unit tests.
//
// Source blocks like a real device until its context is done and records
// how often the device was acquired and released, so tests can assert that
// every exit path releases it.
//
//	src := &mock.Source{Segment: audio.Segment{Data: pcm, Format: audio.FormatPCM16, SampleRate: 16000}}
//	rec := audio.NewRecorder(src)
package mock

import (
	"context"
	"sync"

	"github.com/MrWong99/meetvoice/pkg/audio"
)

// Source is a mock implementation of [audio.Source].
type Source struct {
	mu sync.Mutex

	// Segment is returned when the capture is stopped normally.
	Segment audio.Segment

	// Err, if non-nil, is returned immediately after acquiring the device.
	Err error

	// Started, if non-nil, receives a value once the device is acquired.
	Started chan struct{}

	acquired int
	released int
}

// Capture implements [audio.Source].
func (s *Source) Capture(ctx context.Context) (audio.Segment, error) {
	s.mu.Lock()
	s.acquired++
	seg, err, started := s.Segment, s.Err, s.Started
	s.mu.Unlock()

	defer func() {
		s.mu.Lock()
		s.released++
		s.mu.Unlock()
	}()

	if started != nil {
		select {
		case started <- struct{}{}:
		default:
		}
	}
	if err != nil {
		return audio.Segment{}, err
	}

	<-ctx.Done()
	if audio.Stopped(ctx) {
		return seg, nil
	}
	return audio.Segment{}, ctx.Err()
}

// Acquired returns how many captures acquired the device.
func (s *Source) Acquired() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.acquired
}

// Released returns how many captures released the device.
func (s *Source) Released() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.released
}

var _ audio.Source = (*Source)(nil)
