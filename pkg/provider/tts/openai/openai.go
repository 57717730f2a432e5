// Package openai provides a TTS provider backed by the OpenAI speech API.
//
// Speech is requested in the raw "pcm" response format, which OpenAI defines
// as 24 kHz mono 16-bit little-endian samples without a header.
package openai

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	oai "github.com/openai/openai-go"
	"github.com/openai/openai-go/option"

	"github.com/MrWong99/streamstudio/pkg/audio"
	"github.com/MrWong99/streamstudio/pkg/provider"
	"github.com/MrWong99/streamstudio/pkg/provider/tts"
)

const (
	// DefaultModel is the default OpenAI speech model.
	DefaultModel = "gpt-4o-mini-tts"

	// DefaultVoice is the default OpenAI voice.
	DefaultVoice = "alloy"

	// pcmSampleRate is the fixed rate of the "pcm" response format.
	pcmSampleRate = 24000
)

// Ensure Provider implements the tts.Provider interface.
var _ tts.Provider = (*Provider)(nil)

// Provider implements tts.Provider using the OpenAI API.
type Provider struct {
	client oai.Client
	model  string
	voice  string
}

type config struct {
	baseURL string
	voice   string
	timeout time.Duration
}

// Option is a functional option for Provider.
type Option func(*config)

// WithBaseURL overrides the default OpenAI API base URL.
func WithBaseURL(url string) Option {
	return func(c *config) {
		c.baseURL = url
	}
}

// WithVoice selects the voice, e.g. "alloy" or "nova".
func WithVoice(voice string) Option {
	return func(c *config) {
		c.voice = voice
	}
}

// WithTimeout sets a per-request HTTP timeout.
func WithTimeout(d time.Duration) Option {
	return func(c *config) {
		c.timeout = d
	}
}

// New constructs an OpenAI speech Provider. If model is empty, DefaultModel
// is used. Retries are disabled; retry policy belongs to the caller's
// fallback group.
func New(apiKey, model string, opts ...Option) (*Provider, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("openai tts: %w: apiKey must not be empty", provider.ErrCredentialRejected)
	}
	if model == "" {
		model = DefaultModel
	}

	cfg := &config{voice: DefaultVoice}
	for _, o := range opts {
		o(cfg)
	}

	reqOpts := []option.RequestOption{
		option.WithAPIKey(apiKey),
		option.WithMaxRetries(0),
	}
	if cfg.baseURL != "" {
		reqOpts = append(reqOpts, option.WithBaseURL(cfg.baseURL))
	}
	if cfg.timeout > 0 {
		reqOpts = append(reqOpts, option.WithHTTPClient(&http.Client{
			Timeout: cfg.timeout,
		}))
	}

	return &Provider{
		client: oai.NewClient(reqOpts...),
		model:  model,
		voice:  cfg.voice,
	}, nil
}

// Synthesize implements tts.Provider.
func (p *Provider) Synthesize(ctx context.Context, text string) (audio.PCM, error) {
	if strings.TrimSpace(text) == "" {
		return audio.PCM{}, fmt.Errorf("openai tts: synthesize: %w: text", provider.ErrEmptyInput)
	}

	resp, err := p.client.Audio.Speech.New(ctx, oai.AudioSpeechNewParams{
		Model:          oai.SpeechModel(p.model),
		Input:          text,
		Voice:          oai.AudioSpeechNewParamsVoice(p.voice),
		ResponseFormat: oai.AudioSpeechNewParamsResponseFormatPCM,
	})
	if err != nil {
		return audio.PCM{}, classify(err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return audio.PCM{}, fmt.Errorf("openai tts: read body: %w: %w", provider.ErrGenerationFailed, err)
	}
	if len(data) == 0 {
		return audio.PCM{}, fmt.Errorf("openai tts: %w: empty audio", provider.ErrGenerationFailed)
	}
	// A dangling byte can only come from a truncated response.
	if len(data)%audio.BytesPerSample != 0 {
		data = data[:len(data)-1]
	}
	return audio.PCM{Data: data, SampleRate: pcmSampleRate}, nil
}

// classify maps an SDK error onto the provider error taxonomy.
func classify(err error) error {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("openai tts: synthesize: %w", err)
	}
	var apiErr *oai.Error
	if errors.As(err, &apiErr) {
		switch apiErr.StatusCode {
		case http.StatusUnauthorized, http.StatusForbidden:
			return fmt.Errorf("openai tts: synthesize: %w: %w", provider.ErrCredentialRejected, err)
		}
	}
	return fmt.Errorf("openai tts: synthesize: %w: %w", provider.ErrGenerationFailed, err)
}
