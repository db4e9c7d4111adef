// Package openai implements [llm.Provider] on the OpenAI chat completions
// API. Self-hosted servers that speak the same protocol, such as llamafile,
// vLLM or LM Studio, are reached with [WithBaseURL].
package openai

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	oai "github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	"github.com/openai/openai-go/packages/param"
	"github.com/openai/openai-go/shared"

	"github.com/MrWong99/meetvoice/pkg/provider"
	"github.com/MrWong99/meetvoice/pkg/provider/llm"
)

var _ llm.Provider = (*Provider)(nil)

// Provider sends extraction prompts to a chat completions endpoint.
type Provider struct {
	client oai.Client
	model  string
}

// Option adjusts the client built by [New].
type Option func(*[]option.RequestOption)

// WithBaseURL points the client at an OpenAI-compatible server.
func WithBaseURL(url string) Option {
	return func(o *[]option.RequestOption) {
		if url != "" {
			*o = append(*o, option.WithBaseURL(url))
		}
	}
}

// WithOrganization sends the OpenAI-Organization header.
func WithOrganization(org string) Option {
	return func(o *[]option.RequestOption) {
		if org != "" {
			*o = append(*o, option.WithOrganization(org))
		}
	}
}

// WithTimeout caps every HTTP round trip.
func WithTimeout(d time.Duration) Option {
	return func(o *[]option.RequestOption) {
		if d > 0 {
			*o = append(*o, option.WithHTTPClient(&http.Client{Timeout: d}))
		}
	}
}

// New returns a Provider for model. Both apiKey and model are required.
func New(apiKey, model string, opts ...Option) (*Provider, error) {
	switch {
	case apiKey == "":
		return nil, errors.New("openai: api key is required")
	case model == "":
		return nil, errors.New("openai: model is required")
	}
	reqOpts := []option.RequestOption{option.WithAPIKey(apiKey)}
	for _, o := range opts {
		o(&reqOpts)
	}
	return &Provider{client: oai.NewClient(reqOpts...), model: model}, nil
}

// Complete implements [llm.Provider].
func (p *Provider) Complete(ctx context.Context, req llm.CompletionRequest) (*llm.CompletionResponse, error) {
	params := oai.ChatCompletionNewParams{Model: shared.ChatModel(p.model)}
	if req.SystemPrompt != "" {
		params.Messages = append(params.Messages, oai.SystemMessage(req.SystemPrompt))
	}
	for _, m := range req.Messages {
		msg, err := convertMessage(m)
		if err != nil {
			return nil, err
		}
		params.Messages = append(params.Messages, msg)
	}
	if req.Temperature != 0 {
		params.Temperature = param.NewOpt(req.Temperature)
	}
	if req.MaxTokens > 0 {
		params.MaxCompletionTokens = param.NewOpt(int64(req.MaxTokens))
	}
	if req.JSONObject {
		params.ResponseFormat.OfJSONObject = &shared.ResponseFormatJSONObjectParam{}
	}

	resp, err := p.client.Chat.Completions.New(ctx, params)
	if err != nil {
		return nil, fmt.Errorf("openai: chat completion: %w", classify(err))
	}
	if len(resp.Choices) == 0 {
		return nil, fmt.Errorf("openai: %w: response has no choices", provider.ErrEmptyResult)
	}
	u := resp.Usage
	return &llm.CompletionResponse{
		Content: resp.Choices[0].Message.Content,
		Usage: llm.Usage{
			PromptTokens:     int(u.PromptTokens),
			CompletionTokens: int(u.CompletionTokens),
			TotalTokens:      int(u.TotalTokens),
		},
	}, nil
}

// classify tags err with the provider sentinel for its HTTP status. Context
// errors pass through untouched; transport failures count as unavailable.
func classify(err error) error {
	var apiErr *oai.Error
	switch {
	case errors.As(err, &apiErr):
		return fmt.Errorf("%w: %w", provider.Classify(apiErr.StatusCode), err)
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return err
	}
	return fmt.Errorf("%w: %w", provider.ErrUnavailable, err)
}

func convertMessage(m llm.Message) (oai.ChatCompletionMessageParamUnion, error) {
	switch m.Role {
	case llm.RoleSystem:
		return oai.SystemMessage(m.Content), nil
	case llm.RoleUser:
		return oai.UserMessage(m.Content), nil
	case llm.RoleAssistant:
		return oai.AssistantMessage(m.Content), nil
	}
	return oai.ChatCompletionMessageParamUnion{}, fmt.Errorf("openai: unsupported message role %q", m.Role)
}
