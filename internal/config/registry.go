package config

import (
	"errors"
	"fmt"
	"sync"

	"github.com/glintlabs/glint/internal/dispatch"
	"github.com/glintlabs/glint/pkg/perception"
)

// ErrProviderNotRegistered is returned by Create* methods when no factory
// has been registered under the requested provider name.
var ErrProviderNotRegistered = errors.New("config: provider not registered")

// Registry maps provider names to their constructor functions for each
// provider kind. It is safe for concurrent use.
type Registry struct {
	mu     sync.RWMutex
	audio  map[string]func(ProviderEntry) (perception.Source, error)
	vision map[string]func(ProviderEntry) (perception.Source, error)
	sinks  map[string]func(DispatchConfig) (dispatch.Sink, error)
}

// NewRegistry returns an empty, ready-to-use [Registry].
func NewRegistry() *Registry {
	return &Registry{
		audio:  make(map[string]func(ProviderEntry) (perception.Source, error)),
		vision: make(map[string]func(ProviderEntry) (perception.Source, error)),
		sinks:  make(map[string]func(DispatchConfig) (dispatch.Sink, error)),
	}
}

// RegisterAudioSource registers an audio adapter factory under name.
// Subsequent calls with the same name overwrite the previous registration.
func (r *Registry) RegisterAudioSource(name string, factory func(ProviderEntry) (perception.Source, error)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.audio[name] = factory
}

// RegisterVisionSource registers a vision adapter factory under name.
func (r *Registry) RegisterVisionSource(name string, factory func(ProviderEntry) (perception.Source, error)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.vision[name] = factory
}

// RegisterSink registers a dispatch sink factory under name.
func (r *Registry) RegisterSink(name string, factory func(DispatchConfig) (dispatch.Sink, error)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sinks[name] = factory
}

// CreateAudioSource instantiates an audio adapter using the factory
// registered under entry.Name. An empty name selects "rmsvad". Returns
// [ErrProviderNotRegistered] if no factory has been registered for that
// name.
func (r *Registry) CreateAudioSource(entry ProviderEntry) (perception.Source, error) {
	if entry.Name == "" {
		entry.Name = "rmsvad"
	}
	r.mu.RLock()
	factory, ok := r.audio[entry.Name]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: audio/%q", ErrProviderNotRegistered, entry.Name)
	}
	return factory(entry)
}

// CreateVisionSource instantiates a vision adapter using the factory
// registered under entry.Name. An empty name selects "lumadelta".
func (r *Registry) CreateVisionSource(entry ProviderEntry) (perception.Source, error) {
	if entry.Name == "" {
		entry.Name = "lumadelta"
	}
	r.mu.RLock()
	factory, ok := r.vision[entry.Name]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: vision/%q", ErrProviderNotRegistered, entry.Name)
	}
	return factory(entry)
}

// CreateSink instantiates a dispatch sink using the factory registered
// under dc.Sink. An empty sink name selects "log".
func (r *Registry) CreateSink(dc DispatchConfig) (dispatch.Sink, error) {
	name := dc.Sink
	if name == "" {
		name = "log"
	}
	r.mu.RLock()
	factory, ok := r.sinks[name]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: dispatch/%q", ErrProviderNotRegistered, name)
	}
	return factory(dc)
}
