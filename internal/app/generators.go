package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/MrWong99/streamstudio/internal/config"
	"github.com/MrWong99/streamstudio/internal/observe"
	"github.com/MrWong99/streamstudio/internal/resilience"
	"github.com/MrWong99/streamstudio/internal/studio"
)

// generatorCache builds the video and speech backends for a credential and
// keeps them until a different credential is selected. Each kind is a
// fallback group: the configured primary followed by the tts fallbacks.
type generatorCache struct {
	ctx       context.Context
	registry  *config.Registry
	providers config.ProvidersConfig
	metrics   *observe.Metrics

	mu     sync.Mutex
	key    string
	built  bool
	video  *resilience.VideoFallback
	speech *resilience.SpeechFallback
}

func newGeneratorCache(ctx context.Context, reg *config.Registry, providers config.ProvidersConfig, m *observe.Metrics) *generatorCache {
	return &generatorCache{
		ctx:       context.WithoutCancel(ctx),
		registry:  reg,
		providers: providers,
		metrics:   m,
	}
}

// Generators implements [studio.GeneratorSource].
func (c *generatorCache) Generators(apiKey string) (studio.Generators, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.built && c.key == apiKey {
		return studio.Generators{Video: c.video, Speech: c.speech}, nil
	}

	v, err := c.registry.CreateVideo(c.ctx, c.withKey(c.providers.Video, apiKey))
	if err != nil {
		return studio.Generators{}, fmt.Errorf("app: build video provider %q: %w", c.providers.Video.Name, err)
	}
	videoFB := resilience.NewVideoFallback(v, c.providers.Video.Name, resilience.FallbackConfig{
		OnResult: c.record("video"),
	})

	s, err := c.registry.CreateTTS(c.ctx, c.withKey(c.providers.TTS, apiKey))
	if err != nil {
		return studio.Generators{}, fmt.Errorf("app: build tts provider %q: %w", c.providers.TTS.Name, err)
	}
	speechFB := resilience.NewSpeechFallback(s, c.providers.TTS.Name, resilience.FallbackConfig{
		OnResult: c.record("tts"),
	})
	for i, entry := range c.providers.TTSFallbacks {
		fb, err := c.registry.CreateTTS(c.ctx, c.withKey(entry, apiKey))
		if err != nil {
			// A broken fallback must not take the primary down with it.
			slog.Warn("skipping tts fallback", "index", i, "name", entry.Name, "err", err)
			continue
		}
		speechFB.AddFallback(entry.Name, fb)
	}

	c.key, c.built = apiKey, true
	c.video, c.speech = videoFB, speechFB
	slog.Info("generation backends built",
		"video", videoFB.Group().Names(),
		"tts", speechFB.Group().Names(),
	)
	return studio.Generators{Video: videoFB, Speech: speechFB}, nil
}

// withKey applies the selected credential to entries of the gated service
// (the video provider's service). Other services keep their configured key,
// so a rejection from them never clears the selected credential's service.
func (c *generatorCache) withKey(entry config.ProviderEntry, apiKey string) config.ProviderEntry {
	if entry.Name == c.providers.Video.Name {
		entry.APIKey = apiKey
	}
	return entry
}

func (c *generatorCache) record(kind string) func(name string, err error) {
	return func(name string, err error) {
		status := "ok"
		if err != nil {
			status = "error"
			c.metrics.RecordProviderError(c.ctx, name, kind)
		}
		c.metrics.RecordProviderRequest(c.ctx, name, kind, status)
	}
}

// check reports an error when every backend of a kind has an open circuit.
// Nothing built yet counts as healthy.
func (c *generatorCache) check(context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.built {
		return nil
	}
	var errs []error
	if !c.video.Group().Healthy() {
		errs = append(errs, fmt.Errorf("video: all circuits open %v", c.video.Group().States()))
	}
	if !c.speech.Group().Healthy() {
		errs = append(errs, fmt.Errorf("tts: all circuits open %v", c.speech.Group().States()))
	}
	return errors.Join(errs...)
}
