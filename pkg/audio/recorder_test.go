package audio_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/MrWong99/meetvoice/pkg/audio"
	"github.com/MrWong99/meetvoice/pkg/audio/mock"
)

func TestRecorder_StopReturnsAudio(t *testing.T) {
	t.Parallel()

	want := audio.Segment{Data: []byte{1, 2, 3, 4}, Format: audio.FormatPCM16, SampleRate: 16000}
	src := &mock.Source{Segment: want, Started: make(chan struct{}, 1)}
	rec := audio.NewRecorder(src)

	if err := rec.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	<-src.Started
	if !rec.Active() {
		t.Fatal("Active = false during capture")
	}

	got, err := rec.Stop(context.Background())
	if err != nil {
		t.Fatalf("Stop: %v", err)
	}
	if len(got.Data) != 4 {
		t.Errorf("segment = %+v, want captured data", got)
	}
	if rec.Active() {
		t.Error("Active = true after Stop")
	}
	if src.Acquired() != 1 || src.Released() != 1 {
		t.Errorf("acquired=%d released=%d, want 1/1", src.Acquired(), src.Released())
	}
}

func TestRecorder_SecondStartFails(t *testing.T) {
	t.Parallel()

	rec := audio.NewRecorder(&mock.Source{})
	if err := rec.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer rec.Abort()

	if err := rec.Start(context.Background()); !errors.Is(err, audio.ErrRecordingActive) {
		t.Fatalf("second Start err = %v, want ErrRecordingActive", err)
	}
}

func TestRecorder_AbortReleasesDevice(t *testing.T) {
	t.Parallel()

	src := &mock.Source{Segment: audio.Segment{Data: []byte{9}}, Started: make(chan struct{}, 1)}
	rec := audio.NewRecorder(src)
	if err := rec.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	<-src.Started
	rec.Abort()

	if src.Released() != 1 {
		t.Errorf("released = %d, want 1", src.Released())
	}
	if _, err := rec.Stop(context.Background()); !errors.Is(err, audio.ErrNotRecording) {
		t.Errorf("Stop after Abort err = %v, want ErrNotRecording", err)
	}
	// A fresh recording is allowed after an abort.
	if err := rec.Start(context.Background()); err != nil {
		t.Fatalf("Start after Abort: %v", err)
	}
	rec.Abort()
}

func TestRecorder_ParentCancelDiscards(t *testing.T) {
	t.Parallel()

	src := &mock.Source{Segment: audio.Segment{Data: []byte{9}}, Started: make(chan struct{}, 1)}
	rec := audio.NewRecorder(src)
	ctx, cancel := context.WithCancel(context.Background())
	if err := rec.Start(ctx); err != nil {
		t.Fatalf("Start: %v", err)
	}
	<-src.Started
	cancel()

	seg, err := rec.Stop(context.Background())
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("Stop err = %v, want context.Canceled", err)
	}
	if len(seg.Data) != 0 {
		t.Errorf("cancelled recording returned audio: %+v", seg)
	}
}

func TestRecorder_MaxDurationKeepsAudio(t *testing.T) {
	t.Parallel()

	src := &mock.Source{Segment: audio.Segment{Data: []byte{7, 7}}}
	rec := audio.NewRecorder(src, audio.WithMaxDuration(10*time.Millisecond))
	if err := rec.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}

	deadline := time.Now().Add(2 * time.Second)
	for src.Released() == 0 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}

	seg, err := rec.Stop(context.Background())
	if err != nil {
		t.Fatalf("Stop: %v", err)
	}
	if len(seg.Data) != 2 {
		t.Errorf("segment = %+v, want audio kept after max duration", seg)
	}
}

func TestRecorder_CaptureError(t *testing.T) {
	t.Parallel()

	src := &mock.Source{Err: audio.ErrPermissionDenied}
	rec := audio.NewRecorder(src)
	if err := rec.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if _, err := rec.Stop(context.Background()); !errors.Is(err, audio.ErrPermissionDenied) {
		t.Fatalf("Stop err = %v, want ErrPermissionDenied", err)
	}
	if src.Released() != 1 {
		t.Errorf("released = %d, want 1", src.Released())
	}
}
