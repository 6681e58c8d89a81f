package config

import (
	"errors"
	"fmt"
	"sync"

	"github.com/chytonpide/chipi/pkg/provider/llm"
	"github.com/chytonpide/chipi/pkg/provider/stt"
	"github.com/chytonpide/chipi/pkg/provider/tts"
)

// ErrProviderNotRegistered is returned by the Create methods when no factory
// is registered under the requested name.
var ErrProviderNotRegistered = errors.New("config: provider not registered")

// Factory builds a provider from its configuration entry.
type Factory[T any] func(ProviderEntry) (T, error)

// Registry maps provider names to factories for each provider kind. It is
// safe for concurrent use.
type Registry struct {
	mu  sync.RWMutex
	tts map[string]Factory[tts.Provider]
	stt map[string]Factory[stt.Provider]
	llm map[string]Factory[llm.Provider]
}

// NewRegistry returns an empty [Registry].
func NewRegistry() *Registry {
	return &Registry{
		tts: make(map[string]Factory[tts.Provider]),
		stt: make(map[string]Factory[stt.Provider]),
		llm: make(map[string]Factory[llm.Provider]),
	}
}

// RegisterTTS registers a TTS factory under name, replacing any previous one.
func (r *Registry) RegisterTTS(name string, f Factory[tts.Provider]) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.tts[name] = f
}

// RegisterSTT registers an STT factory under name.
func (r *Registry) RegisterSTT(name string, f Factory[stt.Provider]) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.stt[name] = f
}

// RegisterLLM registers an LLM factory under name.
func (r *Registry) RegisterLLM(name string, f Factory[llm.Provider]) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.llm[name] = f
}

// CreateTTS builds the TTS provider named by entry.Name.
func (r *Registry) CreateTTS(entry ProviderEntry) (tts.Provider, error) {
	return create(r, r.tts, "tts", entry)
}

// CreateSTT builds the STT provider named by entry.Name.
func (r *Registry) CreateSTT(entry ProviderEntry) (stt.Provider, error) {
	return create(r, r.stt, "stt", entry)
}

// CreateLLM builds the LLM provider named by entry.Name.
func (r *Registry) CreateLLM(entry ProviderEntry) (llm.Provider, error) {
	return create(r, r.llm, "llm", entry)
}

func create[T any](r *Registry, factories map[string]Factory[T], kind string, entry ProviderEntry) (T, error) {
	r.mu.RLock()
	f, ok := factories[entry.Name]
	r.mu.RUnlock()
	if !ok {
		var zero T
		return zero, fmt.Errorf("%w: %s/%q", ErrProviderNotRegistered, kind, entry.Name)
	}
	p, err := f(entry)
	if err != nil {
		var zero T
		return zero, fmt.Errorf("config: create %s/%s: %w", kind, entry.Name, err)
	}
	return p, nil
}
