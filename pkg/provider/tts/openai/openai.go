// Package openai provides a TTS provider backed by the OpenAI speech API.
package openai

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	oai "github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	"github.com/openai/openai-go/packages/param"

	"github.com/MrWong99/meetvoice/pkg/provider"
	"github.com/MrWong99/meetvoice/pkg/provider/tts"
)

// Provider implements tts.Provider using POST /audio/speech.
type Provider struct {
	client oai.Client
	model  string
	voice  string
	format string
	speed  float64
}

type config struct {
	baseURL string
	timeout time.Duration
	voice   string
	format  string
	speed   float64
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

// WithVoice selects the voice (alloy, ash, coral, echo, sage, shimmer, ...).
func WithVoice(voice string) Option {
	return func(c *config) {
		c.voice = voice
	}
}

// WithFormat selects the response format (mp3, opus, aac, flac, wav, pcm).
func WithFormat(format string) Option {
	return func(c *config) {
		c.format = format
	}
}

// WithSpeed sets the playback speed in [0.25, 4.0].
func WithSpeed(speed float64) Option {
	return func(c *config) {
		c.speed = speed
	}
}

// New constructs a Provider. model defaults to gpt-4o-mini-tts.
func New(apiKey, model string, opts ...Option) (*Provider, error) {
	if apiKey == "" {
		return nil, errors.New("tts/openai: apiKey must not be empty")
	}
	if model == "" {
		model = oai.SpeechModelGPT4oMiniTTS
	}
	cfg := &config{voice: string(oai.AudioSpeechNewParamsVoiceAlloy), format: "mp3"}
	for _, o := range opts {
		o(cfg)
	}
	if cfg.speed != 0 && (cfg.speed < 0.25 || cfg.speed > 4) {
		return nil, fmt.Errorf("tts/openai: speed %.2f out of range [0.25, 4.0]", cfg.speed)
	}

	reqOpts := []option.RequestOption{option.WithAPIKey(apiKey)}
	if cfg.baseURL != "" {
		reqOpts = append(reqOpts, option.WithBaseURL(cfg.baseURL))
	}
	if cfg.timeout > 0 {
		reqOpts = append(reqOpts, option.WithHTTPClient(&http.Client{Timeout: cfg.timeout}))
	}
	return &Provider{
		client: oai.NewClient(reqOpts...),
		model:  model,
		voice:  cfg.voice,
		format: cfg.format,
		speed:  cfg.speed,
	}, nil
}

// Synthesize implements tts.Provider.
func (p *Provider) Synthesize(ctx context.Context, text string) (tts.Speech, error) {
	if strings.TrimSpace(text) == "" {
		return tts.Speech{}, errors.New("tts/openai: text must not be empty")
	}

	params := oai.AudioSpeechNewParams{
		Input:          text,
		Model:          p.model,
		Voice:          oai.AudioSpeechNewParamsVoice(p.voice),
		ResponseFormat: oai.AudioSpeechNewParamsResponseFormat(p.format),
	}
	if p.speed != 0 {
		params.Speed = param.NewOpt(p.speed)
	}

	resp, err := p.client.Audio.Speech.New(ctx, params)
	if err != nil {
		var apiErr *oai.Error
		if errors.As(err, &apiErr) {
			return tts.Speech{}, fmt.Errorf("tts/openai: speech: %w: %w", provider.Classify(apiErr.StatusCode), err)
		}
		return tts.Speech{}, fmt.Errorf("tts/openai: speech: %w: %w", provider.ErrUnavailable, err)
	}

	ct := resp.Header.Get("Content-Type")
	if ct == "" {
		ct = tts.ContentTypeFor(p.format)
	}
	return tts.Speech{Audio: resp.Body, ContentType: ct}, nil
}

var _ tts.Provider = (*Provider)(nil)
