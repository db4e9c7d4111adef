// Package elevenlabs provides an ElevenLabs-backed TTS provider using the
// ElevenLabs streaming WebSocket API. It implements the tts.Provider interface.
package elevenlabs

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/url"
	"strings"

	"github.com/coder/websocket"

	"github.com/MrWong99/meetvoice/pkg/provider"
	"github.com/MrWong99/meetvoice/pkg/provider/tts"
)

const (
	defaultEndpoint  = "wss://api.elevenlabs.io"
	defaultModel     = "eleven_flash_v2_5"
	defaultOutputFmt = "mp3_44100_128"

	// defaultVoice is the stock "Rachel" voice.
	defaultVoice = "21m00Tcm4TlvDq8ikWAM"
)

// Option is a functional option for configuring the ElevenLabs Provider.
type Option func(*Provider)

// WithModel sets the ElevenLabs model ID (e.g., "eleven_flash_v2_5").
func WithModel(model string) Option {
	return func(p *Provider) {
		p.model = model
	}
}

// WithVoice sets the ElevenLabs voice ID.
func WithVoice(voiceID string) Option {
	return func(p *Provider) {
		p.voice = voiceID
	}
}

// WithOutputFormat sets the audio output format (e.g., "mp3_44100_128", "pcm_16000").
func WithOutputFormat(format string) Option {
	return func(p *Provider) {
		p.outputFormat = format
	}
}

// WithEndpoint overrides the WebSocket base URL. Used by tests.
func WithEndpoint(endpoint string) Option {
	return func(p *Provider) {
		p.endpoint = strings.TrimRight(endpoint, "/")
	}
}

// Provider implements tts.Provider backed by the ElevenLabs streaming API.
type Provider struct {
	apiKey       string
	model        string
	voice        string
	outputFormat string
	endpoint     string
}

// New creates a new ElevenLabs Provider. apiKey must be non-empty.
func New(apiKey string, opts ...Option) (*Provider, error) {
	if apiKey == "" {
		return nil, errors.New("elevenlabs: apiKey must not be empty")
	}
	p := &Provider{
		apiKey:       apiKey,
		model:        defaultModel,
		voice:        defaultVoice,
		outputFormat: defaultOutputFmt,
		endpoint:     defaultEndpoint,
	}
	for _, o := range opts {
		o(p)
	}
	return p, nil
}

// ---- WebSocket message types ----

// textMessage is the JSON payload sent to ElevenLabs for each text fragment.
type textMessage struct {
	Text          string         `json:"text"`
	VoiceSettings *voiceSettings `json:"voice_settings,omitempty"`
	XiAPIKey      string         `json:"xi_api_key,omitempty"`
}

// voiceSettings mirrors the ElevenLabs voice_settings object.
type voiceSettings struct {
	Stability       float64 `json:"stability"`
	SimilarityBoost float64 `json:"similarity_boost"`
}

// audioResponse is the JSON message received from ElevenLabs over the WebSocket.
type audioResponse struct {
	Audio   string `json:"audio"` // base64-encoded
	IsFinal bool   `json:"isFinal"`
	Message string `json:"message,omitempty"`
	Error   string `json:"error,omitempty"`
}

// streamURL builds the stream-input URL for the configured voice and model.
func (p *Provider) streamURL() string {
	q := url.Values{}
	q.Set("model_id", p.model)
	q.Set("output_format", p.outputFormat)
	return fmt.Sprintf("%s/v1/text-to-speech/%s/stream-input?%s", p.endpoint, url.PathEscape(p.voice), q.Encode())
}

// Synthesize opens a WebSocket to ElevenLabs, sends text followed by the
// flush marker and streams the decoded audio frames through the returned
// reader until the server reports isFinal.
func (p *Provider) Synthesize(ctx context.Context, text string) (tts.Speech, error) {
	if strings.TrimSpace(text) == "" {
		return tts.Speech{}, errors.New("elevenlabs: text must not be empty")
	}

	conn, resp, err := websocket.Dial(ctx, p.streamURL(), nil)
	if err != nil {
		if resp != nil {
			return tts.Speech{}, fmt.Errorf("elevenlabs: dial: %w", provider.StatusError(resp.StatusCode, err.Error()))
		}
		return tts.Speech{}, fmt.Errorf("elevenlabs: dial: %w: %w", provider.ErrUnavailable, err)
	}

	// ElevenLabs requires a single space as the first text value; it carries
	// authentication and voice settings.
	msgs := []textMessage{
		{Text: " ", XiAPIKey: p.apiKey, VoiceSettings: &voiceSettings{Stability: 0.5, SimilarityBoost: 0.75}},
		{Text: text + " "},
		{Text: ""},
	}
	for _, m := range msgs {
		b, _ := json.Marshal(m)
		if err := conn.Write(ctx, websocket.MessageText, b); err != nil {
			conn.Close(websocket.StatusInternalError, "write failed")
			return tts.Speech{}, fmt.Errorf("elevenlabs: send: %w: %w", provider.ErrUnavailable, err)
		}
	}

	pr, pw := io.Pipe()
	go func() {
		defer conn.Close(websocket.StatusNormalClosure, "done")
		pw.CloseWithError(p.pump(ctx, conn, pw))
	}()

	return tts.Speech{Audio: pr, ContentType: tts.ContentTypeFor(p.outputFormat)}, nil
}

// pump copies decoded audio frames into w. It returns nil once the final
// frame arrived or the server closed the socket normally.
func (p *Provider) pump(ctx context.Context, conn *websocket.Conn, w io.Writer) error {
	for {
		_, msg, err := conn.Read(ctx)
		if err != nil {
			if websocket.CloseStatus(err) == websocket.StatusNormalClosure {
				return nil
			}
			return fmt.Errorf("elevenlabs: read: %w", err)
		}
		var resp audioResponse
		if err := json.Unmarshal(msg, &resp); err != nil {
			continue
		}
		if resp.Error != "" {
			return fmt.Errorf("elevenlabs: %w: %s", provider.ErrUnavailable, resp.Error)
		}
		if resp.Audio != "" {
			data, err := base64.StdEncoding.DecodeString(resp.Audio)
			if err != nil {
				return fmt.Errorf("elevenlabs: %w: %w", provider.ErrMalformedResponse, err)
			}
			if _, err := w.Write(data); err != nil {
				// Reader closed early; nothing left to do.
				return nil
			}
		}
		if resp.IsFinal {
			return nil
		}
	}
}

var _ tts.Provider = (*Provider)(nil)
