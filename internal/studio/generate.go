package studio

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/MrWong99/streamstudio/internal/library"
	"github.com/MrWong99/streamstudio/internal/observe"
	"github.com/MrWong99/streamstudio/pkg/audio"
	"github.com/MrWong99/streamstudio/pkg/audio/wav"
	"github.com/MrWong99/streamstudio/pkg/provider"
	"github.com/MrWong99/streamstudio/pkg/provider/tts"
	"github.com/MrWong99/streamstudio/pkg/provider/video"
)

// ClipRequest describes a generated clip.
type ClipRequest struct {
	// Prompt describes the clip. Must be non-empty.
	Prompt string
	// Image optionally conditions the first frame.
	Image *video.Image
	// Title labels the library entry. Defaults to the prompt.
	Title string
}

// AnimationRequest describes a talking animation: a still image brought to
// life while the narration of Script plays.
type AnimationRequest struct {
	// Script is the narration text. Must be non-empty.
	Script string
	// Image is the source still. Required.
	Image *video.Image
	// Prompt describes the motion. Defaults to a prompt built from Script.
	Prompt string
	// Title labels the library entry. Defaults to the script.
	Title string
}

// GenerateClip generates a video clip and files it in the clip library.
func (s *Studio) GenerateClip(ctx context.Context, req ClipRequest) (entry library.Entry, err error) {
	ctx, span := observe.StartSpan(ctx, "studio.GenerateClip")
	defer func() { observe.EndSpan(span, err) }()
	defer func() { s.history.Record("clip generated", titleOr(req.Title, req.Prompt), err) }()

	gens, key, err := s.generatorsFor()
	if err != nil {
		return library.Entry{}, err
	}
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	clip, err := s.generateVideo(ctx, gens.Video, video.Request{Prompt: req.Prompt, Image: req.Image})
	if err != nil {
		return library.Entry{}, s.failed(ctx, "generate clip", key, err)
	}

	h := s.handles.Create(clip.Data, clip.MIMEType)
	entry, err = s.add(ctx, library.Entry{
		Kind:  library.KindClip,
		Title: titleOr(req.Title, req.Prompt),
		Video: &h,
	})
	if err != nil {
		return library.Entry{}, err
	}
	observe.Logger(ctx).Info("clip generated", "id", entry.ID, "bytes", len(clip.Data))
	return entry, nil
}

// GenerateSpeech synthesizes narration for text, encodes it as WAV and files
// it in the speech library.
func (s *Studio) GenerateSpeech(ctx context.Context, text string) (entry library.Entry, err error) {
	ctx, span := observe.StartSpan(ctx, "studio.GenerateSpeech")
	defer func() { observe.EndSpan(span, err) }()
	defer func() { s.history.Record("speech generated", titleOr(text, ""), err) }()

	gens, key, err := s.generatorsFor()
	if err != nil {
		return library.Entry{}, err
	}
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	data, err := s.narrate(ctx, gens.Speech, text)
	if err != nil {
		return library.Entry{}, s.failed(ctx, "generate speech", key, err)
	}

	h := s.handles.Create(data, wav.MIMEType)
	entry, err = s.add(ctx, library.Entry{
		Kind:  library.KindSpeech,
		Title: titleOr(text, "narration"),
		Audio: &h,
	})
	if err != nil {
		return library.Entry{}, err
	}
	observe.Logger(ctx).Info("speech generated", "id", entry.ID, "bytes", len(data))
	return entry, nil
}

// GenerateAnimation runs the talking-animation workflow. Narration and video
// are requested concurrently; the first failure cancels the other request
// and is returned without waiting for it.
func (s *Studio) GenerateAnimation(ctx context.Context, req AnimationRequest) (entry library.Entry, err error) {
	ctx, span := observe.StartSpan(ctx, "studio.GenerateAnimation")
	defer func() { observe.EndSpan(span, err) }()
	defer func() { s.history.Record("animation generated", titleOr(req.Title, req.Script), err) }()

	if strings.TrimSpace(req.Script) == "" {
		return library.Entry{}, fmt.Errorf("studio: generate animation: %w: no script", provider.ErrEmptyInput)
	}
	if req.Image == nil || len(req.Image.Data) == 0 {
		return library.Entry{}, fmt.Errorf("studio: generate animation: %w: no source image", provider.ErrEmptyInput)
	}
	gens, key, err := s.generatorsFor()
	if err != nil {
		return library.Entry{}, err
	}
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	prompt := req.Prompt
	if strings.TrimSpace(prompt) == "" {
		prompt = animationPrompt(req.Script)
	}

	start := time.Now()
	var (
		narration []byte
		clip      video.Clip
	)
	eg, egCtx := errgroup.WithContext(ctx)
	eg.Go(func() error {
		data, err := s.narrate(egCtx, gens.Speech, req.Script)
		if err != nil {
			return fmt.Errorf("narration: %w", err)
		}
		narration = data
		return nil
	})
	eg.Go(func() error {
		c, err := s.generateVideo(egCtx, gens.Video, video.Request{Prompt: prompt, Image: req.Image})
		if err != nil {
			return fmt.Errorf("video: %w", err)
		}
		clip = c
		return nil
	})
	err = eg.Wait()
	s.metrics.RecordGeneration(ctx, "animation", outcome(err), time.Since(start))
	if err != nil {
		return library.Entry{}, s.failed(ctx, "generate animation", key, err)
	}

	vh := s.handles.Create(clip.Data, clip.MIMEType)
	ah := s.handles.Create(narration, wav.MIMEType)
	ih := s.handles.Create(req.Image.Data, req.Image.MIMEType)
	entry, err = s.add(ctx, library.Entry{
		Kind:  library.KindAnimation,
		Title: titleOr(req.Title, req.Script),
		Video: &vh,
		Audio: &ah,
		Image: &ih,
	})
	if err != nil {
		return library.Entry{}, err
	}
	observe.Logger(ctx).Info("animation generated",
		"id", entry.ID,
		"video_bytes", len(clip.Data),
		"audio_bytes", len(narration),
		"duration", time.Since(start),
	)
	return entry, nil
}

// generateVideo calls p and records its latency.
func (s *Studio) generateVideo(ctx context.Context, p video.Provider, req video.Request) (video.Clip, error) {
	start := time.Now()
	clip, err := p.GenerateVideo(ctx, req)
	s.metrics.RecordGeneration(ctx, "video", outcome(err), time.Since(start))
	if err != nil {
		return video.Clip{}, err
	}
	if clip.MIMEType == "" {
		clip.MIMEType = "video/mp4"
	}
	return clip, nil
}

// narrate synthesizes text with p, resamples the result to the studio rate
// and encodes it as a WAV file.
func (s *Studio) narrate(ctx context.Context, p tts.Provider, text string) ([]byte, error) {
	start := time.Now()
	pcm, err := p.Synthesize(ctx, text)
	s.metrics.RecordGeneration(ctx, "tts", outcome(err), time.Since(start))
	if err != nil {
		return nil, err
	}
	if pcm.SampleRate <= 0 {
		pcm.SampleRate = s.sampleRate
	}
	if pcm.SampleRate != s.sampleRate {
		pcm = audio.Resample(pcm, s.sampleRate)
	}
	data, err := wav.EncodePCM(pcm)
	if err != nil {
		return nil, fmt.Errorf("encode narration: %w", err)
	}
	return data, nil
}

// generatorsFor resolves the generators for the selected credential.
func (s *Studio) generatorsFor() (Generators, string, error) {
	key, err := s.creds.Key()
	if err != nil {
		return Generators{}, "", err
	}
	gens, err := s.generators(key)
	if err != nil {
		if errors.Is(err, provider.ErrCredentialRejected) {
			s.creds.reject(key)
		}
		return Generators{}, "", fmt.Errorf("studio: generators: %w", err)
	}
	if gens.Video == nil || gens.Speech == nil {
		return Generators{}, "", fmt.Errorf("studio: generators: %w: backend not configured", provider.ErrGenerationFailed)
	}
	return gens, key, nil
}

// failed wraps err for op and clears the credential if the service refused
// it, so the next request prompts for a new one.
func (s *Studio) failed(ctx context.Context, op, key string, err error) error {
	if errors.Is(err, provider.ErrCredentialRejected) && s.creds.reject(key) {
		observe.Logger(ctx).Warn("credential rejected; cleared", "op", op)
	}
	return fmt.Errorf("studio: %s: %w", op, err)
}

func (s *Studio) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if s.timeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, s.timeout)
}

// outcome is the status attribute recorded with generation latency.
func outcome(err error) string {
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, provider.ErrCredentialRejected):
		return "rejected"
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return "cancelled"
	default:
		return "error"
	}
}

func animationPrompt(script string) string {
	return fmt.Sprintf("The person in the image looks into the camera and speaks naturally, "+
		"with subtle head movement and lip motion matching the words: %q", strings.TrimSpace(script))
}
