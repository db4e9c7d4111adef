package main

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/MrWong99/meetvoice/internal/config"
	"github.com/MrWong99/meetvoice/internal/confirm"
	"github.com/MrWong99/meetvoice/internal/directory"
	"github.com/MrWong99/meetvoice/internal/extract"
	"github.com/MrWong99/meetvoice/pkg/audio"
	"github.com/MrWong99/meetvoice/pkg/provider/stt"
)

// ── extract ───────────────────────────────────────────────────────────────────

func newExtractCmd(opts *rootOptions) *cobra.Command {
	var (
		heuristicOnly bool
		readBack      bool
	)
	cmd := &cobra.Command{
		Use:   "extract [transcript...]",
		Short: "Extract meeting details from a transcript",
		Long: `Extract contact and meeting details from a transcript and print the
record as JSON. The transcript is taken from the arguments, or from stdin
when no arguments are given.

The configured LLM is used when present; --heuristic-only skips it and
runs the local pattern matcher against the contact directory.`,
		Example: `  meetvoice extract "Meeting with Phillip from Acme tomorrow at 2pm"
  echo "book Sarah for 30 minutes" | meetvoice extract --heuristic-only`,
		RunE: func(cmd *cobra.Command, args []string) error {
			transcript, err := readTranscript(cmd.InOrStdin(), args)
			if err != nil {
				return err
			}
			svc, err := newExtractor(opts.cfg, heuristicOnly)
			if err != nil {
				return err
			}
			info, err := svc.Extract(cmd.Context(), transcript)
			if err != nil {
				return err
			}
			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			if err := enc.Encode(info); err != nil {
				return err
			}
			if readBack {
				fmt.Fprintln(cmd.OutOrStdout(), confirm.ReadBack(info))
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&heuristicOnly, "heuristic-only", false, "skip the remote LLM")
	cmd.Flags().BoolVar(&readBack, "read-back", false, "also print the confirmation prompt")
	return cmd
}

func readTranscript(stdin io.Reader, args []string) (string, error) {
	var text string
	if len(args) > 0 {
		text = strings.Join(args, " ")
	} else {
		data, err := io.ReadAll(io.LimitReader(stdin, 1<<20))
		if err != nil {
			return "", fmt.Errorf("read stdin: %w", err)
		}
		text = string(data)
	}
	text = strings.TrimSpace(text)
	if text == "" {
		return "", errors.New("empty transcript")
	}
	return text, nil
}

// newDirectory loads the contact directory named by cfg.
func newDirectory(cfg *config.Config) (*directory.Directory, error) {
	if cfg.Directory.File == "" {
		return directory.Default(directory.WithPhonetic(cfg.Directory.Phonetic)), nil
	}
	contacts, err := directory.Load(cfg.Directory.File)
	if err != nil {
		return nil, err
	}
	return directory.New(contacts, directory.WithPhonetic(cfg.Directory.Phonetic)), nil
}

func newExtractor(cfg *config.Config, heuristicOnly bool) (*extract.Service, error) {
	dir, err := newDirectory(cfg)
	if err != nil {
		return nil, err
	}
	opts := []extract.Option{extract.WithRemoteTimeout(cfg.Fallbacks.ExtractionTimeout)}
	if !heuristicOnly && cfg.Providers.LLM.Configured() {
		reg := config.NewRegistry()
		registerBuiltinProviders(reg)
		p, err := reg.CreateLLM(cfg.Providers.LLM)
		if err != nil {
			return nil, fmt.Errorf("create llm %q: %w", cfg.Providers.LLM.Name, err)
		}
		remote, err := extract.NewRemote(p, dir)
		if err != nil {
			return nil, err
		}
		opts = append(opts, extract.WithRemote(remote))
	}
	return extract.New(dir, opts...)
}

// ── transcribe ────────────────────────────────────────────────────────────────

func newTranscribeCmd(opts *rootOptions) *cobra.Command {
	var (
		sampleRate int
		language   string
	)
	cmd := &cobra.Command{
		Use:   "transcribe <file>",
		Short: "Transcribe an audio file with the configured STT provider",
		Long: `Transcribe an audio file and print the text. The format is taken from
the extension: .wav, .webm, .ogg and .mp3 are uploaded as-is, .pcm and
.raw are read as 16-bit mono PCM at --sample-rate.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			seg, err := readSegmentFile(args[0], sampleRate)
			if err != nil {
				return err
			}
			if language == "" {
				language = opts.cfg.Session.Language
			}
			text, err := transcribe(cmd.Context(), opts.cfg, seg, language)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), text)
			return nil
		},
	}
	cmd.Flags().IntVar(&sampleRate, "sample-rate", 16000, "sample rate of raw PCM input")
	cmd.Flags().StringVar(&language, "language", "", "override session.language")
	return cmd
}

// formatsByExt maps file extensions to segment formats.
var formatsByExt = map[string]audio.Format{
	".wav":  audio.FormatWAV,
	".webm": audio.FormatWebM,
	".ogg":  audio.FormatOGG,
	".opus": audio.FormatOGG,
	".mp3":  audio.FormatMP3,
	".pcm":  audio.FormatPCM16,
	".raw":  audio.FormatPCM16,
}

func readSegmentFile(path string, sampleRate int) (audio.Segment, error) {
	ext := strings.ToLower(filepath.Ext(path))
	format, ok := formatsByExt[ext]
	if !ok {
		return audio.Segment{}, fmt.Errorf("unsupported audio file extension %q", ext)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return audio.Segment{}, err
	}
	seg := audio.Segment{Data: data, Format: format}
	switch format {
	case audio.FormatPCM16:
		if sampleRate <= 0 {
			return audio.Segment{}, fmt.Errorf("invalid --sample-rate %d", sampleRate)
		}
		seg.SampleRate, seg.Channels = sampleRate, 1
	case audio.FormatWAV:
		_, rate, channels, ok := audio.DecodeWAV(data)
		if !ok {
			return audio.Segment{}, fmt.Errorf("%s: not a PCM16 WAV file", path)
		}
		seg.SampleRate, seg.Channels = rate, channels
	}
	return seg, nil
}

func transcribe(ctx context.Context, cfg *config.Config, seg audio.Segment, language string) (string, error) {
	if !cfg.Providers.STT.Configured() {
		return "", errors.New("no STT provider configured (providers.stt)")
	}
	reg := config.NewRegistry()
	registerBuiltinProviders(reg)
	p, err := reg.CreateSTT(cfg.Providers.STT)
	if err != nil {
		return "", fmt.Errorf("create stt %q: %w", cfg.Providers.STT.Name, err)
	}
	var vocab []string
	if dir, err := newDirectory(cfg); err == nil {
		vocab = dir.Vocabulary()
	}
	return p.Transcribe(ctx, seg, stt.Options{Language: language, Vocabulary: vocab})
}

// ── record ────────────────────────────────────────────────────────────────────

func newRecordCmd(opts *rootOptions) *cobra.Command {
	var (
		out            string
		duration       time.Duration
		thenTranscribe bool
		thenExtract    bool
	)
	cmd := &cobra.Command{
		Use:   "record",
		Short: "Capture audio from the configured device",
		Long: `Capture audio from providers.audio until Enter, Ctrl+C or --duration
and write it to --out. With --transcribe the recording is also sent to
the STT provider; --extract additionally runs extraction on the transcript
and prints the record as JSON.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg := opts.cfg
			if !cfg.Providers.Audio.Configured() {
				return errors.New("no audio provider configured (providers.audio)")
			}
			entry := cfg.Providers.Audio
			if cfg.Session.CaptureDevice != "" && entry.OptionString("device") == "" {
				options := map[string]any{"device": cfg.Session.CaptureDevice}
				for k, v := range entry.Options {
					options[k] = v
				}
				entry.Options = options
			}
			reg := config.NewRegistry()
			registerBuiltinProviders(reg)
			src, err := reg.CreateAudio(entry)
			if err != nil {
				return fmt.Errorf("create audio %q: %w", entry.Name, err)
			}

			seg, err := record(cmd.Context(), src, duration, enterPressed(cmd.InOrStdin()), cmd.ErrOrStderr())
			if err != nil {
				return err
			}
			if err := os.WriteFile(out, seg.WAV(), 0o644); err != nil {
				return err
			}
			fmt.Fprintf(cmd.ErrOrStderr(), "wrote %s (%s)\n", out, seg.Duration().Round(time.Millisecond))

			if !thenTranscribe && !thenExtract {
				return nil
			}
			ctx := context.WithoutCancel(cmd.Context())
			text, err := transcribe(ctx, cfg, seg, cfg.Session.Language)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), text)
			if !thenExtract {
				return nil
			}
			svc, err := newExtractor(cfg, false)
			if err != nil {
				return err
			}
			info, err := svc.Extract(ctx, text)
			if err != nil {
				return err
			}
			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			return enc.Encode(info)
		},
	}
	cmd.Flags().StringVarP(&out, "out", "o", "recording.wav", "output file")
	cmd.Flags().DurationVarP(&duration, "duration", "d", 0, "stop after this long (0 waits for Ctrl+C)")
	cmd.Flags().BoolVar(&thenTranscribe, "transcribe", false, "transcribe the recording afterwards")
	cmd.Flags().BoolVar(&thenExtract, "extract", false, "transcribe and extract meeting details afterwards")
	return cmd
}

// enterPressed returns a channel that is closed once a line is read from r.
// End of input without a newline leaves it open.
func enterPressed(r io.Reader) <-chan struct{} {
	ch := make(chan struct{})
	go func() {
		if _, err := bufio.NewReader(r).ReadString('\n'); err == nil {
			close(ch)
		}
	}()
	return ch
}

// record captures from src until ctx ends, stop is closed or d elapses.
// Cancelling ctx finishes the recording normally instead of discarding it.
func record(ctx context.Context, src audio.Source, d time.Duration, stop <-chan struct{}, status io.Writer) (audio.Segment, error) {
	rec := audio.NewRecorder(src, audio.WithMaxDuration(d))
	if err := rec.Start(context.WithoutCancel(ctx)); err != nil {
		return audio.Segment{}, err
	}
	fmt.Fprintln(status, "recording, press Enter or Ctrl+C to stop")

	var timeout <-chan time.Time
	if d > 0 {
		t := time.NewTimer(d)
		defer t.Stop()
		timeout = t.C
	}
	select {
	case <-ctx.Done():
	case <-stop:
	case <-timeout:
	}

	stopCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	seg, err := rec.Stop(stopCtx)
	if err != nil {
		return audio.Segment{}, fmt.Errorf("stop recording: %w", err)
	}
	if seg.Empty() {
		return audio.Segment{}, errors.New("no audio captured")
	}
	return seg, nil
}
