// Package anyllm adapts github.com/mozilla-ai/any-llm-go to [llm.Provider],
// so remote extraction can run on Anthropic, Gemini, Ollama, Mistral and
// other vendors through one client.
//
//	p, err := anyllm.New("anthropic", "claude-3-5-haiku-latest", anyllmlib.WithAPIKey(key))
package anyllm

import (
	"context"
	"fmt"
	"slices"
	"strings"

	anyllmlib "github.com/mozilla-ai/any-llm-go"
	"github.com/mozilla-ai/any-llm-go/providers/anthropic"
	"github.com/mozilla-ai/any-llm-go/providers/deepseek"
	"github.com/mozilla-ai/any-llm-go/providers/gemini"
	"github.com/mozilla-ai/any-llm-go/providers/groq"
	"github.com/mozilla-ai/any-llm-go/providers/llamacpp"
	"github.com/mozilla-ai/any-llm-go/providers/mistral"
	"github.com/mozilla-ai/any-llm-go/providers/ollama"
	anyllmoai "github.com/mozilla-ai/any-llm-go/providers/openai"

	"github.com/MrWong99/meetvoice/pkg/provider"
	"github.com/MrWong99/meetvoice/pkg/provider/llm"
)

var _ llm.Provider = (*Provider)(nil)

type constructor func(...anyllmlib.Option) (anyllmlib.Provider, error)

var vendors = map[string]constructor{
	"openai":    func(o ...anyllmlib.Option) (anyllmlib.Provider, error) { return anyllmoai.New(o...) },
	"anthropic": func(o ...anyllmlib.Option) (anyllmlib.Provider, error) { return anthropic.New(o...) },
	"gemini":    func(o ...anyllmlib.Option) (anyllmlib.Provider, error) { return gemini.New(o...) },
	"ollama":    func(o ...anyllmlib.Option) (anyllmlib.Provider, error) { return ollama.New(o...) },
	"deepseek":  func(o ...anyllmlib.Option) (anyllmlib.Provider, error) { return deepseek.New(o...) },
	"mistral":   func(o ...anyllmlib.Option) (anyllmlib.Provider, error) { return mistral.New(o...) },
	"groq":      func(o ...anyllmlib.Option) (anyllmlib.Provider, error) { return groq.New(o...) },
	"llamacpp":  func(o ...anyllmlib.Option) (anyllmlib.Provider, error) { return llamacpp.New(o...) },
}

// Supported returns the accepted vendor names, sorted.
func Supported() []string {
	names := make([]string, 0, len(vendors))
	for n := range vendors {
		names = append(names, n)
	}
	slices.Sort(names)
	return names
}

// Provider talks to one vendor through any-llm-go.
type Provider struct {
	backend anyllmlib.Provider
	model   string
}

// New builds a Provider for vendor (case-insensitive) and model. Without
// [anyllmlib.WithAPIKey] the vendor's usual environment variable is read.
func New(vendor, model string, opts ...anyllmlib.Option) (*Provider, error) {
	if vendor == "" || model == "" {
		return nil, fmt.Errorf("anyllm: vendor and model are required (got %q, %q)", vendor, model)
	}
	ctor, ok := vendors[strings.ToLower(vendor)]
	if !ok {
		return nil, fmt.Errorf("anyllm: unsupported vendor %q (supported: %s)", vendor, strings.Join(Supported(), ", "))
	}
	backend, err := ctor(opts...)
	if err != nil {
		return nil, fmt.Errorf("anyllm: create %s backend: %w", vendor, err)
	}
	return &Provider{backend: backend, model: model}, nil
}

// Complete implements [llm.Provider].
func (p *Provider) Complete(ctx context.Context, req llm.CompletionRequest) (*llm.CompletionResponse, error) {
	resp, err := p.backend.Completion(ctx, p.buildParams(req))
	if err != nil {
		return nil, fmt.Errorf("anyllm: completion: %w: %w", provider.ErrUnavailable, err)
	}
	if len(resp.Choices) == 0 {
		return nil, fmt.Errorf("anyllm: %w: response has no choices", provider.ErrEmptyResult)
	}
	out := &llm.CompletionResponse{Content: resp.Choices[0].Message.ContentString()}
	if u := resp.Usage; u != nil {
		out.Usage = llm.Usage{PromptTokens: u.PromptTokens, CompletionTokens: u.CompletionTokens, TotalTokens: u.TotalTokens}
	}
	return out, nil
}

// buildParams maps req onto any-llm-go. JSONObject has no portable
// equivalent and is dropped; the extraction prompt asks for JSON anyway.
func (p *Provider) buildParams(req llm.CompletionRequest) anyllmlib.CompletionParams {
	params := anyllmlib.CompletionParams{Model: p.model}
	if req.SystemPrompt != "" {
		params.Messages = append(params.Messages, anyllmlib.Message{Role: anyllmlib.RoleSystem, Content: req.SystemPrompt})
	}
	for _, m := range req.Messages {
		params.Messages = append(params.Messages, convertMessage(m))
	}
	if req.Temperature != 0 {
		params.Temperature = ptr(req.Temperature)
	}
	if req.MaxTokens > 0 {
		params.MaxTokens = ptr(req.MaxTokens)
	}
	return params
}

func convertMessage(m llm.Message) anyllmlib.Message {
	return anyllmlib.Message{Role: m.Role, Content: m.Content}
}

func ptr[T any](v T) *T { return &v }
