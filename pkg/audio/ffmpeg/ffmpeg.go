// Package ffmpeg captures microphone audio by running the ffmpeg binary and
// reading raw PCM from its stdout.
//
// Usage:
//
//	src := ffmpeg.New(ffmpeg.WithDevice(":default"))
//	rec := audio.NewRecorder(src)
package ffmpeg

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"runtime"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/MrWong99/meetvoice/pkg/audio"
)

const (
	defaultBinary     = "ffmpeg"
	defaultSampleRate = 16000

	// gracePeriod is how long ffmpeg gets to flush after an interrupt
	// before it is killed.
	gracePeriod = 2 * time.Second
)

// Source implements audio.Source on top of an ffmpeg child process.
type Source struct {
	binary      string
	inputFormat string
	device      string
	sampleRate  int
}

// Option configures a Source.
type Option func(*Source)

// WithBinary overrides the ffmpeg executable name or path.
func WithBinary(path string) Option {
	return func(s *Source) {
		s.binary = path
	}
}

// WithInputFormat sets ffmpeg's -f input demuxer (avfoundation, pulse, alsa, dshow).
func WithInputFormat(format string) Option {
	return func(s *Source) {
		s.inputFormat = format
	}
}

// WithDevice sets ffmpeg's -i input device.
func WithDevice(device string) Option {
	return func(s *Source) {
		s.device = device
	}
}

// WithSampleRate sets the capture sample rate. Defaults to 16000.
func WithSampleRate(rate int) Option {
	return func(s *Source) {
		s.sampleRate = rate
	}
}

// New returns a Source with platform defaults: avfoundation ":default" on
// macOS, pulse "default" on Linux and dshow "audio=default" on Windows.
func New(opts ...Option) *Source {
	s := &Source{binary: defaultBinary, sampleRate: defaultSampleRate}
	switch runtime.GOOS {
	case "darwin":
		s.inputFormat, s.device = "avfoundation", ":default"
	case "linux":
		s.inputFormat, s.device = "pulse", "default"
	case "windows":
		s.inputFormat, s.device = "dshow", "audio=default"
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

// Check reports whether capture can work here without starting it.
func (s *Source) Check() error {
	if s.inputFormat == "" {
		return fmt.Errorf("ffmpeg: %w: no input format for %s", audio.ErrUnsupported, runtime.GOOS)
	}
	if _, err := exec.LookPath(s.binary); err != nil {
		return fmt.Errorf("ffmpeg: %w: %s not found in PATH", audio.ErrUnsupported, s.binary)
	}
	return nil
}

// Capture implements audio.Source.
func (s *Source) Capture(ctx context.Context) (audio.Segment, error) {
	if err := s.Check(); err != nil {
		return audio.Segment{}, err
	}

	cmd := exec.Command(s.binary,
		"-hide_banner", "-loglevel", "error", "-nostdin",
		"-f", s.inputFormat,
		"-i", s.device,
		"-ac", "1",
		"-ar", strconv.Itoa(s.sampleRate),
		"-f", "s16le",
		"pipe:1",
	)
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return audio.Segment{}, fmt.Errorf("ffmpeg: stdout pipe: %w", err)
	}
	var stderr lockedBuffer
	cmd.Stderr = &stderr

	if err := cmd.Start(); err != nil {
		if errors.Is(err, os.ErrPermission) {
			return audio.Segment{}, fmt.Errorf("ffmpeg: %w: %w", audio.ErrPermissionDenied, err)
		}
		return audio.Segment{}, fmt.Errorf("ffmpeg: %w: start: %w", audio.ErrUnsupported, err)
	}

	var pcm bytes.Buffer
	var waitErr error
	done := make(chan struct{})
	go func() {
		defer close(done)
		_, _ = io.Copy(&pcm, stdout)
		waitErr = cmd.Wait()
	}()

	select {
	case <-done:
		// ffmpeg exited on its own: device refused or vanished.
		if err := classify(stderr.String()); err != nil {
			return audio.Segment{}, err
		}
		if waitErr != nil {
			return audio.Segment{}, fmt.Errorf("ffmpeg: capture: %w: %s", waitErr, strings.TrimSpace(stderr.String()))
		}
	case <-ctx.Done():
		s.release(cmd, done)
		if !audio.Stopped(ctx) {
			return audio.Segment{}, ctx.Err()
		}
	}

	return audio.Segment{
		Data:       pcm.Bytes(),
		Format:     audio.FormatPCM16,
		SampleRate: s.sampleRate,
		Channels:   1,
	}, nil
}

// release interrupts ffmpeg so it closes the device, kills it if it does not
// exit within gracePeriod and always waits for the reaper goroutine.
func (s *Source) release(cmd *exec.Cmd, done <-chan struct{}) {
	if err := cmd.Process.Signal(os.Interrupt); err != nil {
		_ = cmd.Process.Kill()
	}
	select {
	case <-done:
	case <-time.After(gracePeriod):
		_ = cmd.Process.Kill()
		<-done
	}
}

// classify maps ffmpeg's stderr to the audio sentinels.
func classify(stderr string) error {
	lower := strings.ToLower(stderr)
	switch {
	case strings.Contains(lower, "permission denied"),
		strings.Contains(lower, "not authorized"),
		strings.Contains(lower, "operation not permitted"):
		return fmt.Errorf("ffmpeg: %w: %s", audio.ErrPermissionDenied, strings.TrimSpace(stderr))
	case strings.Contains(lower, "unknown input format"),
		strings.Contains(lower, "no such device"),
		strings.Contains(lower, "no such file or directory"):
		return fmt.Errorf("ffmpeg: %w: %s", audio.ErrUnsupported, strings.TrimSpace(stderr))
	}
	return nil
}

// lockedBuffer is written by the exec copier goroutine and read by Capture.
type lockedBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *lockedBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *lockedBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

var _ audio.Source = (*Source)(nil)
