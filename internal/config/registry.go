package config

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sync"

	"github.com/MrWong99/streamstudio/pkg/provider/tts"
	"github.com/MrWong99/streamstudio/pkg/provider/video"
)

// ErrProviderNotRegistered is returned by Create* methods when no factory has
// been registered under the requested provider name.
var ErrProviderNotRegistered = errors.New("config: provider not registered")

// VideoFactory constructs a video provider from a config entry.
type VideoFactory func(ctx context.Context, entry ProviderEntry) (video.Provider, error)

// SpeechFactory constructs a speech provider from a config entry.
type SpeechFactory func(ctx context.Context, entry ProviderEntry) (tts.Provider, error)

// Registry maps provider names to their constructor functions for each
// provider type. It is safe for concurrent use.
type Registry struct {
	mu    sync.RWMutex
	video map[string]VideoFactory
	tts   map[string]SpeechFactory
}

// NewRegistry returns an empty, ready-to-use [Registry].
func NewRegistry() *Registry {
	return &Registry{
		video: make(map[string]VideoFactory),
		tts:   make(map[string]SpeechFactory),
	}
}

// RegisterVideo registers a video provider factory under name.
// Subsequent calls with the same name overwrite the previous registration.
func (r *Registry) RegisterVideo(name string, factory VideoFactory) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.video[name] = factory
}

// RegisterTTS registers a speech provider factory under name.
func (r *Registry) RegisterTTS(name string, factory SpeechFactory) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.tts[name] = factory
}

// CreateVideo instantiates a video provider using the factory registered
// under entry.Name. Returns [ErrProviderNotRegistered] if there is none.
func (r *Registry) CreateVideo(ctx context.Context, entry ProviderEntry) (video.Provider, error) {
	r.mu.RLock()
	factory, ok := r.video[entry.Name]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: video/%q", ErrProviderNotRegistered, entry.Name)
	}
	return factory(ctx, entry)
}

// CreateTTS instantiates a speech provider using the factory registered
// under entry.Name.
func (r *Registry) CreateTTS(ctx context.Context, entry ProviderEntry) (tts.Provider, error) {
	r.mu.RLock()
	factory, ok := r.tts[entry.Name]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: tts/%q", ErrProviderNotRegistered, entry.Name)
	}
	return factory(ctx, entry)
}

// Names returns the registered provider names per kind, sorted.
func (r *Registry) Names() map[string][]string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := map[string][]string{
		"video": make([]string, 0, len(r.video)),
		"tts":   make([]string, 0, len(r.tts)),
	}
	for name := range r.video {
		out["video"] = append(out["video"], name)
	}
	for name := range r.tts {
		out["tts"] = append(out["tts"], name)
	}
	slices.Sort(out["video"])
	slices.Sort(out["tts"])
	return out
}
