package audio

import (
	"context"
	"errors"
	"sync"
	"time"
)

// Source is a capture backend.
//
// Capture acquires the device, records until ctx is done and releases the
// device on every exit path before returning. When the cancellation cause is
// ErrStopped it returns the captured audio; for any other cause it discards
// the audio and returns the context error.
//
// Implementations must be safe for concurrent use, although Recorder never
// runs two captures at once.
type Source interface {
	Capture(ctx context.Context) (Segment, error)
}

// Recorder runs at most one Source capture at a time.
type Recorder struct {
	src         Source
	maxDuration time.Duration

	mu     sync.Mutex
	active *recording
}

type recording struct {
	cancel context.CancelCauseFunc
	done   chan struct{}
	seg    Segment
	err    error
}

// RecorderOption configures a Recorder.
type RecorderOption func(*Recorder)

// WithMaxDuration stops a recording automatically once d has elapsed; the
// captured audio is kept as if Stop had been called. Zero disables the limit.
func WithMaxDuration(d time.Duration) RecorderOption {
	return func(r *Recorder) {
		r.maxDuration = d
	}
}

// NewRecorder returns a Recorder that captures from src.
func NewRecorder(src Source, opts ...RecorderOption) *Recorder {
	r := &Recorder{src: src}
	for _, o := range opts {
		o(r)
	}
	return r
}

// Start begins a capture in the background. It returns ErrRecordingActive if
// a capture is already running. The capture is bound to ctx: cancelling ctx
// aborts it and discards the audio.
func (r *Recorder) Start(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.active != nil {
		return ErrRecordingActive
	}

	cctx, cancel := context.WithCancelCause(ctx)
	rec := &recording{cancel: cancel, done: make(chan struct{})}
	r.active = rec

	captureCtx := context.Context(cctx)
	var stopTimer context.CancelFunc = func() {}
	if r.maxDuration > 0 {
		captureCtx, stopTimer = context.WithTimeoutCause(cctx, r.maxDuration, ErrStopped)
	}

	go func() {
		defer close(rec.done)
		defer stopTimer()
		rec.seg, rec.err = r.src.Capture(captureCtx)
	}()
	return nil
}

// Stop ends the active capture, waits for the device to be released and
// returns the captured audio.
func (r *Recorder) Stop(ctx context.Context) (Segment, error) {
	rec := r.take()
	if rec == nil {
		return Segment{}, ErrNotRecording
	}
	rec.cancel(ErrStopped)
	select {
	case <-rec.done:
		return rec.seg, rec.err
	case <-ctx.Done():
		return Segment{}, ctx.Err()
	}
}

// Abort cancels the active capture, discards its audio and waits until the
// device has been released. It is a no-op when nothing is recording.
func (r *Recorder) Abort() {
	rec := r.take()
	if rec == nil {
		return
	}
	rec.cancel(context.Canceled)
	<-rec.done
}

// Active reports whether a capture is running.
func (r *Recorder) Active() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.active != nil
}

func (r *Recorder) take() *recording {
	r.mu.Lock()
	defer r.mu.Unlock()
	rec := r.active
	r.active = nil
	return rec
}

// Stopped reports whether err (or the cause of ctx) asks for a normal finish.
func Stopped(ctx context.Context) bool {
	return errors.Is(context.Cause(ctx), ErrStopped)
}
