package config

import (
	"errors"
	"fmt"
	"sync"

	"github.com/MrWong99/meetvoice/pkg/audio"
	"github.com/MrWong99/meetvoice/pkg/provider/llm"
	"github.com/MrWong99/meetvoice/pkg/provider/stt"
	"github.com/MrWong99/meetvoice/pkg/provider/tts"
)

// ErrProviderNotRegistered is returned by Create* methods when no factory has
// been registered under the requested provider name.
var ErrProviderNotRegistered = errors.New("config: provider not registered")

// Registry maps provider names to their constructor functions for each
// provider type. It is safe for concurrent use.
type Registry struct {
	mu    sync.RWMutex
	llm   map[string]func(ProviderEntry) (llm.Provider, error)
	stt   map[string]func(ProviderEntry) (stt.Provider, error)
	tts   map[string]func(ProviderEntry) (tts.Provider, error)
	audio map[string]func(ProviderEntry) (audio.Source, error)
}

// NewRegistry returns an empty, ready-to-use [Registry].
func NewRegistry() *Registry {
	return &Registry{
		llm:   make(map[string]func(ProviderEntry) (llm.Provider, error)),
		stt:   make(map[string]func(ProviderEntry) (stt.Provider, error)),
		tts:   make(map[string]func(ProviderEntry) (tts.Provider, error)),
		audio: make(map[string]func(ProviderEntry) (audio.Source, error)),
	}
}

// RegisterLLM registers an LLM provider factory under name.
// Subsequent calls with the same name overwrite the previous registration.
func (r *Registry) RegisterLLM(name string, factory func(ProviderEntry) (llm.Provider, error)) {
	register(&r.mu, r.llm, name, factory)
}

// RegisterSTT registers an STT provider factory under name.
func (r *Registry) RegisterSTT(name string, factory func(ProviderEntry) (stt.Provider, error)) {
	register(&r.mu, r.stt, name, factory)
}

// RegisterTTS registers a TTS provider factory under name.
func (r *Registry) RegisterTTS(name string, factory func(ProviderEntry) (tts.Provider, error)) {
	register(&r.mu, r.tts, name, factory)
}

// RegisterAudio registers an audio capture source factory under name.
func (r *Registry) RegisterAudio(name string, factory func(ProviderEntry) (audio.Source, error)) {
	register(&r.mu, r.audio, name, factory)
}

// CreateLLM instantiates an LLM provider using the factory registered under entry.Name.
// Returns [ErrProviderNotRegistered] if no factory has been registered for that name.
func (r *Registry) CreateLLM(entry ProviderEntry) (llm.Provider, error) {
	return create(&r.mu, r.llm, "llm", entry)
}

// CreateSTT instantiates an STT provider using the factory registered under entry.Name.
func (r *Registry) CreateSTT(entry ProviderEntry) (stt.Provider, error) {
	return create(&r.mu, r.stt, "stt", entry)
}

// CreateTTS instantiates a TTS provider using the factory registered under entry.Name.
func (r *Registry) CreateTTS(entry ProviderEntry) (tts.Provider, error) {
	return create(&r.mu, r.tts, "tts", entry)
}

// CreateAudio instantiates a capture source using the factory registered under entry.Name.
func (r *Registry) CreateAudio(entry ProviderEntry) (audio.Source, error) {
	return create(&r.mu, r.audio, "audio", entry)
}

func register[T any](mu *sync.RWMutex, m map[string]func(ProviderEntry) (T, error), name string, factory func(ProviderEntry) (T, error)) {
	mu.Lock()
	defer mu.Unlock()
	m[name] = factory
}

func create[T any](mu *sync.RWMutex, m map[string]func(ProviderEntry) (T, error), kind string, entry ProviderEntry) (T, error) {
	mu.RLock()
	factory, ok := m[entry.Name]
	mu.RUnlock()
	if !ok {
		var zero T
		return zero, fmt.Errorf("%w: %s/%q", ErrProviderNotRegistered, kind, entry.Name)
	}
	return factory(entry)
}
