// Package audio defines the captured-audio value that flows into
// transcription and the scoped capture abstraction that produces it.
//
// A [Source] acquires an input device, records until told to stop and
// releases the device before returning a single [Segment]. [Recorder] wraps a
// Source and enforces that at most one recording is active at a time.
//
// Backends live in sub-packages (audio/ffmpeg for local microphones,
// audio/mock for tests). Browser clients skip capture entirely and upload a
// finished Segment over the HTTP API.
package audio

import (
	"errors"
	"time"
)

var (
	// ErrStopped is the cancellation cause that asks a Source to finish
	// normally and return what it captured. Any other cause discards audio.
	ErrStopped = errors.New("audio: recording stopped")

	// ErrPermissionDenied reports that the operating system refused access
	// to the capture device.
	ErrPermissionDenied = errors.New("audio: permission denied")

	// ErrUnsupported reports that capture is not available in this
	// environment (missing binary, unknown platform, no device).
	ErrUnsupported = errors.New("audio: capture not supported")

	// ErrRecordingActive is returned when a recording is started while
	// another one is still running.
	ErrRecordingActive = errors.New("audio: recording already active")

	// ErrNotRecording is returned by Stop when nothing is being recorded.
	ErrNotRecording = errors.New("audio: no active recording")
)

// Format identifies the container or sample layout of Segment.Data.
type Format string

const (
	// FormatPCM16 is raw 16-bit signed little-endian PCM.
	FormatPCM16 Format = "pcm16"
	// FormatWAV is a RIFF/WAV container holding PCM16.
	FormatWAV Format = "wav"
	// FormatWebM is Opus in WebM, as produced by browser MediaRecorder.
	FormatWebM Format = "webm"
	// FormatOGG is Opus or Vorbis in Ogg.
	FormatOGG Format = "ogg"
	// FormatMP3 is MPEG layer III.
	FormatMP3 Format = "mp3"
)

// Segment is one finished recording.
type Segment struct {
	// Data holds the encoded audio.
	Data []byte

	// Format describes Data.
	Format Format

	// SampleRate in Hz. Only meaningful for PCM16; a hint for other formats.
	SampleRate int

	// Channels is 1 for mono, 2 for stereo. Only meaningful for PCM16.
	Channels int
}

// Empty reports whether the segment carries no audio bytes.
func (s Segment) Empty() bool {
	if s.Format == FormatWAV {
		return len(s.Data) <= wavHeaderSize
	}
	return len(s.Data) == 0
}

// Duration returns the playback length for PCM16 and WAV segments and zero
// for compressed formats.
func (s Segment) Duration() time.Duration {
	pcm, rate, channels, ok := s.PCM()
	if !ok || rate <= 0 || channels <= 0 {
		return 0
	}
	samples := len(pcm) / 2 / channels
	return time.Duration(samples) * time.Second / time.Duration(rate)
}

// Filename returns a file name whose extension matches Format. Upload APIs
// use the extension to sniff the container.
func (s Segment) Filename() string {
	switch s.Format {
	case FormatPCM16, FormatWAV, "":
		return "audio.wav"
	default:
		return "audio." + string(s.Format)
	}
}

// PCM returns the raw samples for PCM16 and WAV segments. ok is false for
// compressed formats.
func (s Segment) PCM() (pcm []byte, sampleRate, channels int, ok bool) {
	switch s.Format {
	case FormatPCM16:
		return s.Data, s.SampleRate, max(s.Channels, 1), true
	case FormatWAV:
		return DecodeWAV(s.Data)
	default:
		return nil, 0, 0, false
	}
}

// WAV returns the segment as an uploadable file body: PCM16 data is wrapped
// in a WAV container, everything else is returned unchanged.
func (s Segment) WAV() []byte {
	if s.Format == FormatPCM16 {
		return EncodeWAV(s.Data, s.SampleRate, max(s.Channels, 1))
	}
	return s.Data
}

// Silent reports whether a PCM segment's RMS energy stays below threshold.
// Compressed segments are never reported silent; the backend decides.
func (s Segment) Silent(threshold float64) bool {
	pcm, _, _, ok := s.PCM()
	if !ok {
		return false
	}
	return RMS(pcm) < threshold
}

// Mono16k converts a PCM segment to 16 kHz mono, the layout speech
// recognisers expect. Compressed segments are returned unchanged.
func (s Segment) Mono16k() Segment {
	pcm, rate, channels, ok := s.PCM()
	if !ok {
		return s
	}
	if channels == 2 {
		pcm = StereoToMono(pcm)
	}
	if rate > 0 {
		pcm = ResampleMono16(pcm, rate, 16000)
	}
	return Segment{Data: pcm, Format: FormatPCM16, SampleRate: 16000, Channels: 1}
}
