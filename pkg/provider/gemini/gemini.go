// Package gemini implements the video.Provider and tts.Provider interfaces on
// top of Google's generative AI SDK.
//
// Video generation uses a Veo model through the long-running GenerateVideos
// operation, polled at a fixed interval until it completes. Speech uses a
// Gemini TTS model through GenerateContent with the AUDIO response modality;
// the model answers with 24 kHz mono 16-bit PCM.
package gemini

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"google.golang.org/genai"

	"github.com/MrWong99/streamstudio/pkg/audio"
	"github.com/MrWong99/streamstudio/pkg/provider"
	"github.com/MrWong99/streamstudio/pkg/provider/tts"
	"github.com/MrWong99/streamstudio/pkg/provider/video"
)

// Compile-time assertions that Provider satisfies both generator interfaces.
var (
	_ video.Provider = (*Provider)(nil)
	_ tts.Provider   = (*Provider)(nil)
)

const (
	DefaultVideoModel   = "veo-2.0-generate-001"
	DefaultSpeechModel  = "gemini-2.5-flash-preview-tts"
	DefaultVoice        = "Kore"
	DefaultAspectRatio  = "16:9"
	DefaultPollInterval = 10 * time.Second

	apiKeyHeader = "x-goog-api-key"
)

// ── Options ────────────────────────────────────────────────────────────────────

// Option is a functional option for configuring a Provider.
type Option func(*Provider)

// WithVideoModel sets the Veo model used for clips.
func WithVideoModel(model string) Option {
	return func(p *Provider) { p.videoModel = model }
}

// WithSpeechModel sets the Gemini model used for narration.
func WithSpeechModel(model string) Option {
	return func(p *Provider) { p.speechModel = model }
}

// WithVoice sets the prebuilt voice name used for narration.
func WithVoice(voice string) Option {
	return func(p *Provider) { p.voice = voice }
}

// WithAspectRatio sets the clip aspect ratio, e.g. "16:9" or "9:16".
func WithAspectRatio(ratio string) Option {
	return func(p *Provider) { p.aspectRatio = ratio }
}

// WithPollInterval sets the delay between video operation status checks.
// Non-positive values are ignored.
func WithPollInterval(d time.Duration) Option {
	return func(p *Provider) {
		if d > 0 {
			p.pollInterval = d
		}
	}
}

// WithHTTPClient sets the HTTP client used by the SDK and for downloading
// finished clips.
func WithHTTPClient(c *http.Client) Option {
	return func(p *Provider) { p.httpClient = c }
}

// ── Backend seams ──────────────────────────────────────────────────────────────

// videoBackend is the subset of the SDK used for clip generation.
type videoBackend interface {
	start(ctx context.Context, model, prompt string, image *genai.Image, cfg *genai.GenerateVideosConfig) (*genai.GenerateVideosOperation, error)
	poll(ctx context.Context, op *genai.GenerateVideosOperation) (*genai.GenerateVideosOperation, error)
}

// speechBackend is the subset of the SDK used for narration.
type speechBackend interface {
	generate(ctx context.Context, model string, contents []*genai.Content, cfg *genai.GenerateContentConfig) (*genai.GenerateContentResponse, error)
}

// sdkBackend adapts a *genai.Client to both backend seams.
type sdkBackend struct {
	client *genai.Client
}

func (b sdkBackend) start(ctx context.Context, model, prompt string, image *genai.Image, cfg *genai.GenerateVideosConfig) (*genai.GenerateVideosOperation, error) {
	return b.client.Models.GenerateVideos(ctx, model, prompt, image, cfg)
}

func (b sdkBackend) poll(ctx context.Context, op *genai.GenerateVideosOperation) (*genai.GenerateVideosOperation, error) {
	return b.client.Operations.GetVideosOperation(ctx, op, nil)
}

func (b sdkBackend) generate(ctx context.Context, model string, contents []*genai.Content, cfg *genai.GenerateContentConfig) (*genai.GenerateContentResponse, error) {
	return b.client.Models.GenerateContent(ctx, model, contents, cfg)
}

// ── Provider ───────────────────────────────────────────────────────────────────

// Provider generates clips and narration through the Gemini API.
type Provider struct {
	apiKey       string
	videoModel   string
	speechModel  string
	voice        string
	aspectRatio  string
	pollInterval time.Duration
	httpClient   *http.Client

	videos videoBackend
	speech speechBackend
}

// New creates a Provider authenticated with apiKey. The key is also sent when
// downloading finished clips from the URIs the service returns.
func New(ctx context.Context, apiKey string, opts ...Option) (*Provider, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("gemini: %w: api key must not be empty", provider.ErrCredentialRejected)
	}
	p := newProvider(apiKey, opts...)

	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:     apiKey,
		Backend:    genai.BackendGeminiAPI,
		HTTPClient: p.httpClient,
	})
	if err != nil {
		return nil, fmt.Errorf("gemini: new client: %w", err)
	}
	backend := sdkBackend{client: client}
	p.videos = backend
	p.speech = backend
	return p, nil
}

// newProvider applies defaults and options without creating an SDK client.
func newProvider(apiKey string, opts ...Option) *Provider {
	p := &Provider{
		apiKey:       apiKey,
		videoModel:   DefaultVideoModel,
		speechModel:  DefaultSpeechModel,
		voice:        DefaultVoice,
		aspectRatio:  DefaultAspectRatio,
		pollInterval: DefaultPollInterval,
		httpClient:   &http.Client{},
	}
	for _, o := range opts {
		o(p)
	}
	return p
}

// ── Video ──────────────────────────────────────────────────────────────────────

// GenerateVideo starts a Veo operation and polls it every poll interval until
// it is done. There is no server-side cancellation; when ctx ends the local
// wait is abandoned and ctx.Err() is returned.
func (p *Provider) GenerateVideo(ctx context.Context, req video.Request) (video.Clip, error) {
	if strings.TrimSpace(req.Prompt) == "" {
		return video.Clip{}, fmt.Errorf("gemini: generate video: %w: prompt", provider.ErrEmptyInput)
	}

	var img *genai.Image
	if req.Image != nil && len(req.Image.Data) > 0 {
		img = &genai.Image{ImageBytes: req.Image.Data, MIMEType: req.Image.MIMEType}
	}

	op, err := p.videos.start(ctx, p.videoModel, req.Prompt, img, &genai.GenerateVideosConfig{
		AspectRatio: p.aspectRatio,
	})
	if err != nil {
		return video.Clip{}, classify("generate video", err)
	}

	op, err = p.waitForOperation(ctx, op)
	if err != nil {
		return video.Clip{}, err
	}

	v, err := firstVideo(op)
	if err != nil {
		return video.Clip{}, err
	}

	mime := v.MIMEType
	if mime == "" {
		mime = "video/mp4"
	}
	if len(v.VideoBytes) > 0 {
		return video.Clip{Data: v.VideoBytes, MIMEType: mime}, nil
	}

	data, err := p.download(ctx, v.URI)
	if err != nil {
		return video.Clip{}, err
	}
	return video.Clip{Data: data, MIMEType: mime}, nil
}

// waitForOperation polls op until Done, the context ends, or a poll fails.
func (p *Provider) waitForOperation(ctx context.Context, op *genai.GenerateVideosOperation) (*genai.GenerateVideosOperation, error) {
	polls := 0
	for op != nil && !op.Done {
		timer := time.NewTimer(p.pollInterval)
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil, ctx.Err()
		case <-timer.C:
		}

		next, err := p.videos.poll(ctx, op)
		if err != nil {
			return nil, classify("poll video operation", err)
		}
		op = next
		polls++
		slog.Debug("gemini: video operation polled", "operation", op.Name, "done", op.Done, "polls", polls)
	}
	if op == nil {
		return nil, fmt.Errorf("gemini: poll video operation: %w: no operation returned", provider.ErrGenerationFailed)
	}
	return op, nil
}

// firstVideo extracts the first generated video from a finished operation.
func firstVideo(op *genai.GenerateVideosOperation) (*genai.Video, error) {
	if len(op.Error) > 0 {
		return nil, fmt.Errorf("gemini: video operation: %w: %v", provider.ErrGenerationFailed, op.Error["message"])
	}
	if op.Response == nil || len(op.Response.GeneratedVideos) == 0 {
		return nil, fmt.Errorf("gemini: video operation: %w: no video in response", provider.ErrGenerationFailed)
	}
	gv := op.Response.GeneratedVideos[0]
	if gv == nil || gv.Video == nil || (len(gv.Video.VideoBytes) == 0 && gv.Video.URI == "") {
		return nil, fmt.Errorf("gemini: video operation: %w: empty video", provider.ErrGenerationFailed)
	}
	return gv.Video, nil
}

// download fetches a generated clip from uri, authenticating with the API key.
func (p *Provider) download(ctx context.Context, uri string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, uri, nil)
	if err != nil {
		return nil, fmt.Errorf("gemini: download video: %w: %v", provider.ErrGenerationFailed, err)
	}
	req.Header.Set(apiKeyHeader, p.apiKey)

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("gemini: download video: %w: %w", provider.ErrGenerationFailed, err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusUnauthorized, resp.StatusCode == http.StatusForbidden:
		return nil, fmt.Errorf("gemini: download video: %w: status %d", provider.ErrCredentialRejected, resp.StatusCode)
	case resp.StatusCode != http.StatusOK:
		return nil, fmt.Errorf("gemini: download video: %w: status %d", provider.ErrGenerationFailed, resp.StatusCode)
	}

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("gemini: download video: %w: %w", provider.ErrGenerationFailed, err)
	}
	if len(data) == 0 {
		return nil, fmt.Errorf("gemini: download video: %w: empty body", provider.ErrGenerationFailed)
	}
	return data, nil
}

// ── Speech ─────────────────────────────────────────────────────────────────────

// Synthesize asks the TTS model to read text aloud with the configured voice.
func (p *Provider) Synthesize(ctx context.Context, text string) (audio.PCM, error) {
	if strings.TrimSpace(text) == "" {
		return audio.PCM{}, fmt.Errorf("gemini: synthesize: %w: text", provider.ErrEmptyInput)
	}

	resp, err := p.speech.generate(ctx, p.speechModel, genai.Text(text), &genai.GenerateContentConfig{
		ResponseModalities: []string{"AUDIO"},
		SpeechConfig: &genai.SpeechConfig{
			VoiceConfig: &genai.VoiceConfig{
				PrebuiltVoiceConfig: &genai.PrebuiltVoiceConfig{VoiceName: p.voice},
			},
		},
	})
	if err != nil {
		return audio.PCM{}, classify("synthesize", err)
	}
	return extractPCM(resp)
}

// extractPCM concatenates the inline audio parts of resp.
func extractPCM(resp *genai.GenerateContentResponse) (audio.PCM, error) {
	if resp == nil || len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil {
		return audio.PCM{}, fmt.Errorf("gemini: synthesize: %w: no candidates", provider.ErrGenerationFailed)
	}

	out := audio.PCM{SampleRate: audio.DefaultSampleRate}
	for _, part := range resp.Candidates[0].Content.Parts {
		if part == nil || part.InlineData == nil || len(part.InlineData.Data) == 0 {
			continue
		}
		if rate := sampleRateFromMIME(part.InlineData.MIMEType); rate > 0 {
			out.SampleRate = rate
		}
		out.Data = append(out.Data, part.InlineData.Data...)
	}
	if len(out.Data) == 0 {
		return audio.PCM{}, fmt.Errorf("gemini: synthesize: %w: no audio in response", provider.ErrGenerationFailed)
	}
	return out, nil
}

// sampleRateFromMIME parses the rate parameter of an audio MIME type such as
// "audio/L16;codec=pcm;rate=24000". It returns 0 when absent or invalid.
func sampleRateFromMIME(mime string) int {
	for _, param := range strings.Split(mime, ";") {
		key, value, ok := strings.Cut(strings.TrimSpace(param), "=")
		if !ok || !strings.EqualFold(key, "rate") {
			continue
		}
		rate, err := strconv.Atoi(value)
		if err != nil || rate <= 0 {
			return 0
		}
		return rate
	}
	return 0
}

// ── Errors ─────────────────────────────────────────────────────────────────────

// classify maps an SDK error onto the provider error taxonomy.
func classify(op string, err error) error {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("gemini: %s: %w", op, err)
	}
	if isCredentialError(err) {
		return fmt.Errorf("gemini: %s: %w: %w", op, provider.ErrCredentialRejected, err)
	}
	return fmt.Errorf("gemini: %s: %w: %w", op, provider.ErrGenerationFailed, err)
}

// isCredentialError reports whether err means the API key was refused. The
// service answers "Requested entity was not found" when the key's project
// has no access to the model, which also calls for a new key.
func isCredentialError(err error) bool {
	var code int
	var status, message string

	var apiErr genai.APIError
	var apiErrPtr *genai.APIError
	switch {
	case errors.As(err, &apiErr):
		code, status, message = apiErr.Code, apiErr.Status, apiErr.Message
	case errors.As(err, &apiErrPtr) && apiErrPtr != nil:
		code, status, message = apiErrPtr.Code, apiErrPtr.Status, apiErrPtr.Message
	default:
		message = err.Error()
	}

	switch code {
	case http.StatusUnauthorized, http.StatusForbidden:
		return true
	}
	switch status {
	case "UNAUTHENTICATED", "PERMISSION_DENIED":
		return true
	}
	lower := strings.ToLower(message)
	return strings.Contains(lower, "requested entity was not found") ||
		strings.Contains(lower, "api key not valid")
}
