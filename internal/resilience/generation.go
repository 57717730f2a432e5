package resilience

import (
	"context"
	"errors"

	"github.com/MrWong99/streamstudio/pkg/audio"
	"github.com/MrWong99/streamstudio/pkg/provider"
	"github.com/MrWong99/streamstudio/pkg/provider/tts"
	"github.com/MrWong99/streamstudio/pkg/provider/video"
)

// IsPermanent is the default [FallbackConfig.Permanent] predicate for
// generation backends: empty input and cancelled or expired requests.
func IsPermanent(err error) bool {
	return errors.Is(err, provider.ErrEmptyInput) ||
		errors.Is(err, context.Canceled) ||
		errors.Is(err, context.DeadlineExceeded)
}

func withDefaults(cfg FallbackConfig) FallbackConfig {
	if cfg.Permanent == nil {
		cfg.Permanent = IsPermanent
	}
	return cfg
}

// SpeechFallback implements [tts.Provider] with automatic failover across
// several speech backends, each behind its own circuit breaker.
type SpeechFallback struct {
	group *FallbackGroup[tts.Provider]
}

// Compile-time interface assertion.
var _ tts.Provider = (*SpeechFallback)(nil)

// NewSpeechFallback creates a [SpeechFallback] with primary as the preferred
// backend. A nil cfg.Permanent defaults to [IsPermanent].
func NewSpeechFallback(primary tts.Provider, primaryName string, cfg FallbackConfig) *SpeechFallback {
	return &SpeechFallback{group: NewFallbackGroup(primary, primaryName, withDefaults(cfg))}
}

// AddFallback registers an additional speech backend.
func (f *SpeechFallback) AddFallback(name string, p tts.Provider) {
	f.group.AddFallback(name, p)
}

// Group exposes the underlying group for health reporting.
func (f *SpeechFallback) Group() *FallbackGroup[tts.Provider] { return f.group }

// Synthesize returns the narration from the first healthy backend.
func (f *SpeechFallback) Synthesize(ctx context.Context, text string) (audio.PCM, error) {
	return ExecuteWithResult(f.group, func(p tts.Provider) (audio.PCM, error) {
		return p.Synthesize(ctx, text)
	})
}

// VideoFallback implements [video.Provider] with automatic failover across
// several video backends.
type VideoFallback struct {
	group *FallbackGroup[video.Provider]
}

// Compile-time interface assertion.
var _ video.Provider = (*VideoFallback)(nil)

// NewVideoFallback creates a [VideoFallback] with primary as the preferred
// backend. A nil cfg.Permanent defaults to [IsPermanent].
func NewVideoFallback(primary video.Provider, primaryName string, cfg FallbackConfig) *VideoFallback {
	return &VideoFallback{group: NewFallbackGroup(primary, primaryName, withDefaults(cfg))}
}

// AddFallback registers an additional video backend.
func (f *VideoFallback) AddFallback(name string, p video.Provider) {
	f.group.AddFallback(name, p)
}

// Group exposes the underlying group for health reporting.
func (f *VideoFallback) Group() *FallbackGroup[video.Provider] { return f.group }

// GenerateVideo returns the clip from the first healthy backend.
func (f *VideoFallback) GenerateVideo(ctx context.Context, req video.Request) (video.Clip, error) {
	return ExecuteWithResult(f.group, func(p video.Provider) (video.Clip, error) {
		return p.GenerateVideo(ctx, req)
	})
}
