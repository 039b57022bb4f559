package config

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/fablespeak/fablespeak/pkg/asr"
	"github.com/fablespeak/fablespeak/pkg/asr/deepgram"
	"github.com/fablespeak/fablespeak/pkg/asr/mock"
	"github.com/fablespeak/fablespeak/pkg/asr/openai"
	"github.com/fablespeak/fablespeak/pkg/asr/whisper"
)

// ErrKindNotRegistered is returned by [Registry.Create] when no factory has
// been registered for the requested provider kind.
var ErrKindNotRegistered = errors.New("config: provider kind not registered")

// Factory builds an [asr.Provider] from its configuration block.
type Factory func(ProviderConfig) (asr.Provider, error)

// Registry maps provider kinds to their constructor functions.
// It is safe for concurrent use.
type Registry struct {
	mu        sync.RWMutex
	factories map[ProviderKind]Factory
}

// NewRegistry returns an empty, ready-to-use [Registry].
func NewRegistry() *Registry {
	return &Registry{factories: make(map[ProviderKind]Factory)}
}

// Register registers a provider factory under kind.
// Subsequent calls with the same kind overwrite the previous registration.
func (r *Registry) Register(kind ProviderKind, factory Factory) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.factories[kind] = factory
}

// Create constructs the provider described by entry.
func (r *Registry) Create(entry ProviderConfig) (asr.Provider, error) {
	r.mu.RLock()
	factory, ok := r.factories[entry.Kind]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrKindNotRegistered, entry.Kind)
	}
	p, err := factory(entry)
	if err != nil {
		return nil, fmt.Errorf("config: create provider %q: %w", entry.Name, err)
	}
	if entry.Name != "" && entry.Name != p.Name() {
		p = named{Provider: p, name: entry.Name}
	}
	return p, nil
}

// named overrides the wrapped provider's name so several instances of the
// same kind can coexist in one preference list.
type named struct {
	asr.Provider
	name string
}

func (n named) Name() string { return n.name }

// DefaultRegistry returns a [Registry] with factories for every built-in
// provider kind.
func DefaultRegistry() *Registry {
	r := NewRegistry()

	r.Register(KindWhisper, func(entry ProviderConfig) (asr.Provider, error) {
		var opts []whisper.Option
		if entry.Model != "" {
			opts = append(opts, whisper.WithModel(entry.Model))
		}
		if entry.Timeout > 0 {
			opts = append(opts, whisper.WithTimeout(time.Duration(entry.Timeout)))
		}
		return whisper.New(entry.BaseURL, opts...)
	})

	r.Register(KindDeepgram, func(entry ProviderConfig) (asr.Provider, error) {
		var opts []deepgram.Option
		if entry.Model != "" {
			opts = append(opts, deepgram.WithModel(entry.Model))
		}
		if entry.BaseURL != "" {
			opts = append(opts, deepgram.WithEndpoint(entry.BaseURL))
		}
		if entry.Timeout > 0 {
			opts = append(opts, deepgram.WithTimeout(time.Duration(entry.Timeout)))
		}
		return deepgram.New(entry.APIKey, opts...)
	})

	r.Register(KindOpenAI, func(entry ProviderConfig) (asr.Provider, error) {
		var opts []openai.Option
		if entry.BaseURL != "" {
			opts = append(opts, openai.WithBaseURL(entry.BaseURL))
		}
		if entry.Model != "" {
			opts = append(opts, openai.WithModel(entry.Model))
		}
		if entry.Timeout > 0 {
			opts = append(opts, openai.WithTimeout(time.Duration(entry.Timeout)))
		}
		return openai.New(entry.APIKey, opts...)
	})

	r.Register(KindMock, func(entry ProviderConfig) (asr.Provider, error) {
		p := mock.New(entry.Name)
		if entry.Transcript != "" {
			p.QueueResult(asr.Result{Text: entry.Transcript})
		}
		return p, nil
	})

	return r
}

// CreateAll constructs every provider in entries, preserving declaration order.
// The first failure aborts the whole build.
func (r *Registry) CreateAll(entries []ProviderConfig) ([]asr.Provider, error) {
	providers := make([]asr.Provider, 0, len(entries))
	for _, entry := range entries {
		p, err := r.Create(entry)
		if err != nil {
			return nil, err
		}
		providers = append(providers, p)
	}
	return providers, nil
}
