// Package openai provides an STT provider backed by the OpenAI audio
// transcription API (whisper-1, gpt-4o-transcribe and compatible servers).
package openai

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"mime"
	"net/http"
	"path/filepath"
	"time"

	oai "github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	"github.com/openai/openai-go/packages/param"

	"github.com/MrWong99/meetvoice/pkg/audio"
	"github.com/MrWong99/meetvoice/pkg/provider"
	"github.com/MrWong99/meetvoice/pkg/provider/stt"
)

// DefaultModel is used when New receives an empty model.
const DefaultModel = oai.AudioModelWhisper1

// Provider implements stt.Provider using the OpenAI transcription endpoint.
type Provider struct {
	client oai.Client
	model  string
}

type config struct {
	baseURL    string
	timeout    time.Duration
	maxRetries int
}

// Option is a functional option for Provider.
type Option func(*config)

// WithBaseURL points the client at an OpenAI-compatible server.
func WithBaseURL(url string) Option {
	return func(c *config) {
		c.baseURL = url
	}
}

// WithTimeout sets a per-request HTTP timeout.
func WithTimeout(d time.Duration) Option {
	return func(c *config) {
		c.timeout = d
	}
}

// WithMaxRetries overrides the SDK's retry count for 429 and 5xx responses.
func WithMaxRetries(n int) Option {
	return func(c *config) {
		c.maxRetries = n
	}
}

// New constructs a Provider. model defaults to whisper-1.
func New(apiKey, model string, opts ...Option) (*Provider, error) {
	if apiKey == "" {
		return nil, errors.New("stt/openai: apiKey must not be empty")
	}
	if model == "" {
		model = DefaultModel
	}
	cfg := &config{maxRetries: -1}
	for _, o := range opts {
		o(cfg)
	}

	reqOpts := []option.RequestOption{option.WithAPIKey(apiKey)}
	if cfg.baseURL != "" {
		reqOpts = append(reqOpts, option.WithBaseURL(cfg.baseURL))
	}
	if cfg.timeout > 0 {
		reqOpts = append(reqOpts, option.WithHTTPClient(&http.Client{Timeout: cfg.timeout}))
	}
	if cfg.maxRetries >= 0 {
		reqOpts = append(reqOpts, option.WithMaxRetries(cfg.maxRetries))
	}
	return &Provider{client: oai.NewClient(reqOpts...), model: model}, nil
}

// Transcribe implements stt.Provider.
func (p *Provider) Transcribe(ctx context.Context, seg audio.Segment, opts stt.Options) (string, error) {
	if err := stt.CheckInput(seg); err != nil {
		return "", err
	}

	name := seg.Filename()
	contentType := mime.TypeByExtension(filepath.Ext(name))
	if contentType == "" {
		contentType = "application/octet-stream"
	}

	params := oai.AudioTranscriptionNewParams{
		File:           oai.File(bytes.NewReader(seg.WAV()), name, contentType),
		Model:          p.model,
		ResponseFormat: oai.AudioResponseFormatJSON,
	}
	if opts.Language != "" {
		params.Language = param.NewOpt(opts.Language)
	}
	if prompt := opts.Prompt(); prompt != "" {
		params.Prompt = param.NewOpt(prompt)
	}

	resp, err := p.client.Audio.Transcriptions.New(ctx, params)
	if err != nil {
		return "", fmt.Errorf("stt/openai: transcribe: %w", classify(err))
	}
	return stt.CheckOutput(resp.Text)
}

func classify(err error) error {
	var apiErr *oai.Error
	if errors.As(err, &apiErr) {
		return fmt.Errorf("%w: %w", provider.Classify(apiErr.StatusCode), err)
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	return fmt.Errorf("%w: %w", provider.ErrUnavailable, err)
}

var _ stt.Provider = (*Provider)(nil)
