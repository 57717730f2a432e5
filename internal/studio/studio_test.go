package studio_test

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"go.opentelemetry.io/otel/metric/noop"

	"github.com/MrWong99/streamstudio/internal/capture"
	"github.com/MrWong99/streamstudio/internal/handle"
	"github.com/MrWong99/streamstudio/internal/library"
	"github.com/MrWong99/streamstudio/internal/observe"
	"github.com/MrWong99/streamstudio/internal/preview"
	pmock "github.com/MrWong99/streamstudio/internal/preview/mock"
	"github.com/MrWong99/streamstudio/internal/studio"
	"github.com/MrWong99/streamstudio/pkg/audio"
	"github.com/MrWong99/streamstudio/pkg/provider"
	ttsmock "github.com/MrWong99/streamstudio/pkg/provider/tts/mock"
	"github.com/MrWong99/streamstudio/pkg/provider/video"
	videomock "github.com/MrWong99/streamstudio/pkg/provider/video/mock"
)

// fakeDevice hands out streams and runs onStop when one is released.
type fakeDevice struct {
	err    error
	onStop func()
}

func (d *fakeDevice) Open(context.Context) (*capture.Stream, error) {
	if d.err != nil {
		return nil, d.err
	}
	return &capture.Stream{ID: "cam", URL: "/live/cam", Stop: func() {
		if d.onStop != nil {
			d.onStop()
		}
	}}, nil
}

type harness struct {
	studio  *studio.Studio
	creds   *studio.Credentials
	video   *videomock.Provider
	speech  *ttsmock.Provider
	handles *handle.Registry
	lib     *library.Library
	pv      *pmock.Video
	pa      *pmock.Audio
	device  *fakeDevice

	mu        sync.Mutex
	keys      []string
	sourceErr error
}

func (h *harness) keysSeen() []string {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]string(nil), h.keys...)
}

func newHarness(t *testing.T, libOpts ...library.Option) *harness {
	t.Helper()

	m, err := observe.NewMetrics(noop.NewMeterProvider())
	if err != nil {
		t.Fatalf("NewMetrics: %v", err)
	}

	h := &harness{
		creds: &studio.Credentials{},
		video: &videomock.Provider{
			Result: video.Clip{Data: []byte("mp4-bytes"), MIMEType: "video/mp4"},
		},
		speech: &ttsmock.Provider{
			Result: audio.PCM{Data: []byte{0, 0, 0, 0x40, 0, 0xC0, 0xFF, 0x7F}, SampleRate: 24000},
		},
		handles: handle.NewRegistry("/assets"),
		pv:      &pmock.Video{},
		pa:      &pmock.Audio{},
		device:  &fakeDevice{},
	}

	var st *studio.Studio
	libOpts = append(libOpts, library.WithOnEvict(func(e library.Entry) {
		st.EntryGone(context.Background(), e)
	}))
	h.lib = library.New(h.handles, libOpts...)

	source := func(key string) (studio.Generators, error) {
		h.mu.Lock()
		defer h.mu.Unlock()
		h.keys = append(h.keys, key)
		if h.sourceErr != nil {
			return studio.Generators{}, h.sourceErr
		}
		return studio.Generators{Video: h.video, Speech: h.speech}, nil
	}

	st, err = studio.New(studio.Deps{
		Credentials: h.creds,
		Generators:  source,
		Handles:     h.handles,
		Library:     h.lib,
		Capture:     capture.NewManager(h.device),
		Preview:     preview.New(h.pv, h.pa),
	}, studio.WithMetrics(m))
	if err != nil {
		t.Fatalf("studio.New: %v", err)
	}
	h.studio = st
	return h
}

func (h *harness) selectKey(t *testing.T) {
	t.Helper()
	if err := h.creds.Select("key-1"); err != nil {
		t.Fatalf("Select: %v", err)
	}
}

var stillImage = &video.Image{Data: []byte("png-bytes"), MIMEType: "image/png"}

func TestNew_MissingDependencies(t *testing.T) {
	t.Parallel()

	_, err := studio.New(studio.Deps{})
	if err == nil {
		t.Fatal("expected error for missing dependencies")
	}
}

func TestNew_StartsAwaitingWebcam(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	st := h.studio.Preview().Status()
	if st.State != preview.StateUnbound || !st.AwaitingDevice || st.Source != preview.SourceWebcam {
		t.Errorf("initial status = %+v, want unbound webcam awaiting device", st)
	}
}

// ─────────────────────────────────────────────────────────────────────────────
// Credentials
// ─────────────────────────────────────────────────────────────────────────────

func TestGenerate_RequiresCredential(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	ctx := context.Background()

	calls := []struct {
		name string
		run  func() error
	}{
		{"clip", func() error {
			_, err := h.studio.GenerateClip(ctx, studio.ClipRequest{Prompt: "a cat"})
			return err
		}},
		{"speech", func() error {
			_, err := h.studio.GenerateSpeech(ctx, "hello")
			return err
		}},
		{"animation", func() error {
			_, err := h.studio.GenerateAnimation(ctx, studio.AnimationRequest{Script: "hello", Image: stillImage})
			return err
		}},
	}
	for _, c := range calls {
		if err := c.run(); !errors.Is(err, studio.ErrCredentialRequired) {
			t.Errorf("%s: err = %v, want ErrCredentialRequired", c.name, err)
		}
	}
	if h.video.CallCount() != 0 || h.speech.CallCount() != 0 {
		t.Error("generators called without a credential")
	}
	if len(h.keysSeen()) != 0 {
		t.Error("generator source consulted without a credential")
	}
}

func TestGenerate_CredentialRejectedClearsCredential(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	h.selectKey(t)
	h.video.Err = fmt.Errorf("gemini: %w", provider.ErrCredentialRejected)

	_, err := h.studio.GenerateClip(context.Background(), studio.ClipRequest{Prompt: "a cat"})
	if !errors.Is(err, provider.ErrCredentialRejected) {
		t.Fatalf("err = %v, want ErrCredentialRejected", err)
	}
	if h.creds.Selected() {
		t.Error("credential still selected after rejection")
	}

	_, err = h.studio.GenerateClip(context.Background(), studio.ClipRequest{Prompt: "a cat"})
	if !errors.Is(err, studio.ErrCredentialRequired) {
		t.Errorf("second call err = %v, want ErrCredentialRequired", err)
	}
	if h.video.CallCount() != 1 {
		t.Errorf("video calls = %d, want 1", h.video.CallCount())
	}
}

func TestGenerate_SourceRejectsCredential(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	h.selectKey(t)
	h.sourceErr = fmt.Errorf("gemini: %w", provider.ErrCredentialRejected)

	_, err := h.studio.GenerateSpeech(context.Background(), "hello")
	if !errors.Is(err, provider.ErrCredentialRejected) {
		t.Fatalf("err = %v, want ErrCredentialRejected", err)
	}
	if h.creds.Selected() {
		t.Error("credential still selected after rejection")
	}
}

func TestGenerate_OtherFailureKeepsCredential(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	h.selectKey(t)
	h.speech.Err = provider.ErrGenerationFailed

	_, err := h.studio.GenerateSpeech(context.Background(), "hello")
	if !errors.Is(err, provider.ErrGenerationFailed) {
		t.Fatalf("err = %v, want ErrGenerationFailed", err)
	}
	if !h.creds.Selected() {
		t.Error("credential cleared by a non-credential failure")
	}
	if got := h.keysSeen(); len(got) != 1 || got[0] != "key-1" {
		t.Errorf("keys = %v, want [key-1]", got)
	}
}

// ─────────────────────────────────────────────────────────────────────────────
// Generation
// ─────────────────────────────────────────────────────────────────────────────

func TestGenerateClip_FilesEntry(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	h.selectKey(t)

	e, err := h.studio.GenerateClip(context.Background(), studio.ClipRequest{Prompt: "  a cat\non a skateboard ", Image: stillImage})
	if err != nil {
		t.Fatalf("GenerateClip: %v", err)
	}
	if e.Kind != library.KindClip || e.Video == nil {
		t.Fatalf("entry = %+v", e)
	}
	if e.Title != "a cat on a skateboard" {
		t.Errorf("title = %q", e.Title)
	}
	_, data, ok := h.handles.Open(e.Video.ID)
	if !ok || string(data) != "mp4-bytes" {
		t.Errorf("handle data = %q, %v", data, ok)
	}
	if req := h.video.Calls[0].Request; req.Image != stillImage {
		t.Error("image not forwarded to the video backend")
	}
	if h.lib.Len(library.KindClip) != 1 {
		t.Errorf("clips = %d, want 1", h.lib.Len(library.KindClip))
	}

	events := h.studio.History().Events()
	if len(events) == 0 || events[len(events)-1].Action != "clip generated" || events[len(events)-1].Error != "" {
		t.Errorf("history = %+v", events)
	}
}

func TestGenerateSpeech_EncodesWAV(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	h.selectKey(t)

	e, err := h.studio.GenerateSpeech(context.Background(), "hello there")
	if err != nil {
		t.Fatalf("GenerateSpeech: %v", err)
	}
	if e.Kind != library.KindSpeech || e.Audio == nil {
		t.Fatalf("entry = %+v", e)
	}
	hd, data, ok := h.handles.Open(e.Audio.ID)
	if !ok {
		t.Fatal("narration handle does not resolve")
	}
	if hd.MIMEType != "audio/wav" {
		t.Errorf("mime = %q, want audio/wav", hd.MIMEType)
	}
	want := []byte{0x00, 0x00, 0x00, 0x40, 0x00, 0xC0, 0xFF, 0x7F}
	if len(data) != 52 {
		t.Fatalf("wav length = %d, want 52", len(data))
	}
	for i, b := range want {
		if data[44+i] != b {
			t.Errorf("byte %d = %#x, want %#x", 44+i, data[44+i], b)
		}
	}
}

func TestGenerateSpeech_ResamplesToStudioRate(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	h.selectKey(t)
	h.speech.Result = audio.PCM{Data: make([]byte, 16), SampleRate: 48000}

	e, err := h.studio.GenerateSpeech(context.Background(), "hello")
	if err != nil {
		t.Fatalf("GenerateSpeech: %v", err)
	}
	_, data, _ := h.handles.Open(e.Audio.ID)
	if rate := binary.LittleEndian.Uint32(data[24:28]); rate != 24000 {
		t.Errorf("sample rate = %d, want 24000", rate)
	}
	if n := binary.LittleEndian.Uint32(data[40:44]); n != 8 {
		t.Errorf("data size = %d, want 8", n)
	}
}

func TestGenerateSpeech_EmptyAudioIsMalformed(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	h.selectKey(t)
	h.speech.Result = audio.PCM{SampleRate: 24000}

	if _, err := h.studio.GenerateSpeech(context.Background(), "hello"); err == nil {
		t.Fatal("expected error for empty narration")
	}
	if h.handles.Len() != 0 {
		t.Errorf("handles = %d, want 0", h.handles.Len())
	}
}

func TestGenerateAnimation_Validation(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	h.selectKey(t)

	tests := []struct {
		name string
		req  studio.AnimationRequest
	}{
		{"empty script", studio.AnimationRequest{Script: "  ", Image: stillImage}},
		{"no image", studio.AnimationRequest{Script: "hello"}},
		{"empty image", studio.AnimationRequest{Script: "hello", Image: &video.Image{MIMEType: "image/png"}}},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			_, err := h.studio.GenerateAnimation(context.Background(), tc.req)
			if !errors.Is(err, provider.ErrEmptyInput) {
				t.Errorf("err = %v, want ErrEmptyInput", err)
			}
		})
	}
	if h.video.CallCount() != 0 || h.speech.CallCount() != 0 {
		t.Error("generators called for invalid input")
	}
}

func TestGenerateAnimation_FilesEntryAndBindsOnSelect(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	h.selectKey(t)

	e, err := h.studio.GenerateAnimation(context.Background(), studio.AnimationRequest{
		Script: "Welcome to the stream!",
		Image:  stillImage,
	})
	if err != nil {
		t.Fatalf("GenerateAnimation: %v", err)
	}
	if e.Kind != library.KindAnimation || e.Video == nil || e.Audio == nil || e.Image == nil {
		t.Fatalf("entry = %+v", e)
	}
	if h.speech.Calls[0].Text != "Welcome to the stream!" {
		t.Errorf("speech text = %q", h.speech.Calls[0].Text)
	}
	if h.video.Calls[0].Request.Prompt == "" {
		t.Error("video prompt not derived from the script")
	}

	st, err := h.studio.SelectAnimation(e.ID)
	if err != nil {
		t.Fatalf("SelectAnimation: %v", err)
	}
	if st.State != preview.StateBoundSynced || !st.Synced {
		t.Errorf("status = %+v, want bound synced", st)
	}
	if h.pv.Source() != e.Video.URL || h.pa.Source() != e.Audio.URL {
		t.Errorf("video=%q audio=%q, want %q and %q", h.pv.Source(), h.pa.Source(), e.Video.URL, e.Audio.URL)
	}
	if !h.pa.Playing() {
		t.Error("narration not started with the video")
	}
}

func TestGenerateAnimation_RequestsOverlap(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	h.selectKey(t)

	// The narration cannot finish until the video request has started, so a
	// sequential workflow would never complete.
	gate := make(chan struct{})
	started := make(chan struct{}, 1)
	h.speech.Gate = gate
	h.video.Started = started

	done := make(chan error, 1)
	go func() {
		_, err := h.studio.GenerateAnimation(context.Background(), studio.AnimationRequest{Script: "hi", Image: stillImage})
		done <- err
	}()

	select {
	case <-started:
	case <-time.After(5 * time.Second):
		t.Fatal("video request not issued while narration was pending")
	}
	close(gate)

	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("GenerateAnimation: %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("workflow did not complete")
	}
}

func TestGenerateAnimation_LatencyIsTheSlowerCall(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	h.selectKey(t)
	h.speech.Delay = 300 * time.Millisecond
	h.video.Delay = 300 * time.Millisecond

	start := time.Now()
	if _, err := h.studio.GenerateAnimation(context.Background(), studio.AnimationRequest{Script: "hi", Image: stillImage}); err != nil {
		t.Fatalf("GenerateAnimation: %v", err)
	}
	if elapsed := time.Since(start); elapsed >= 550*time.Millisecond {
		t.Errorf("elapsed = %v, want < 550ms (concurrent requests)", elapsed)
	}
}

func TestGenerateAnimation_FailsFast(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name      string
		configure func(h *harness)
		slow      func(h *harness) context.Context
	}{
		{
			name: "speech fails",
			configure: func(h *harness) {
				h.video.Delay = 5 * time.Second
				h.speech.Delay = 10 * time.Millisecond
				h.speech.Err = fmt.Errorf("gemini: %w", provider.ErrGenerationFailed)
			},
			slow: func(h *harness) context.Context { return h.video.Calls[0].Ctx },
		},
		{
			name: "video fails",
			configure: func(h *harness) {
				h.speech.Delay = 5 * time.Second
				h.video.Delay = 10 * time.Millisecond
				h.video.Err = fmt.Errorf("gemini: %w", provider.ErrGenerationFailed)
			},
			slow: func(h *harness) context.Context { return h.speech.Calls[0].Ctx },
		},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			h := newHarness(t)
			h.selectKey(t)
			tc.configure(h)

			start := time.Now()
			_, err := h.studio.GenerateAnimation(context.Background(), studio.AnimationRequest{Script: "hi", Image: stillImage})
			elapsed := time.Since(start)

			if !errors.Is(err, provider.ErrGenerationFailed) {
				t.Fatalf("err = %v, want ErrGenerationFailed", err)
			}
			if elapsed >= time.Second {
				t.Errorf("elapsed = %v, want < 1s (fail fast)", elapsed)
			}
			if tc.slow(h).Err() == nil {
				t.Error("pending request was not cancelled")
			}
			if h.lib.Len(library.KindAnimation) != 0 || h.handles.Len() != 0 {
				t.Error("failed workflow left assets behind")
			}
			if !h.creds.Selected() {
				t.Error("credential cleared by a generation failure")
			}
		})
	}
}

func TestGenerate_Timeout(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	h.selectKey(t)
	h.video.Delay = 5 * time.Second

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err := h.studio.GenerateClip(ctx, studio.ClipRequest{Prompt: "a cat"})
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("err = %v, want DeadlineExceeded", err)
	}
}

// ─────────────────────────────────────────────────────────────────────────────
// Selection, removal and eviction
// ─────────────────────────────────────────────────────────────────────────────

func TestSelectClip_Validation(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	h.selectKey(t)
	speech, err := h.studio.GenerateSpeech(context.Background(), "hello")
	if err != nil {
		t.Fatal(err)
	}

	if _, err := h.studio.SelectClip(speech.ID); !errors.Is(err, studio.ErrWrongKind) {
		t.Errorf("err = %v, want ErrWrongKind", err)
	}
	if _, err := h.studio.SelectClip("missing"); !errors.Is(err, library.ErrNotFound) {
		t.Errorf("err = %v, want ErrNotFound", err)
	}
	if _, err := h.studio.SelectAnimation(speech.ID); !errors.Is(err, studio.ErrWrongKind) {
		t.Errorf("err = %v, want ErrWrongKind", err)
	}
}

func TestSelectClip_ConcurrentRemovalLeavesNoDanglingSelection(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	ctx := context.Background()
	for i := range 100 {
		clip, err := h.studio.UploadClip(ctx, fmt.Sprintf("clip %d", i), []byte("mp4"), "video/mp4")
		if err != nil {
			t.Fatal(err)
		}

		var wg sync.WaitGroup
		wg.Go(func() { _, _ = h.studio.SelectClip(clip.ID) })
		wg.Go(func() { _ = h.studio.RemoveEntry(ctx, clip.ID) })
		wg.Wait()

		if snap := h.studio.Snapshot(); snap.ClipID != "" {
			t.Fatalf("round %d: clip selection = %q after its removal", i, snap.ClipID)
		}
		if st := h.studio.Preview().Status(); st.VideoURL == clip.Video.URL {
			t.Fatalf("round %d: preview still bound to removed clip %s", i, st.VideoURL)
		}
	}
}

func TestSelectSource_RemembersAssets(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	h.selectKey(t)
	clip, err := h.studio.GenerateClip(context.Background(), studio.ClipRequest{Prompt: "a cat"})
	if err != nil {
		t.Fatal(err)
	}
	if _, err := h.studio.SelectClip(clip.ID); err != nil {
		t.Fatal(err)
	}

	if st := h.studio.SelectSource(preview.SourceWebcam); st.State != preview.StateUnbound || !st.AwaitingDevice {
		t.Errorf("webcam status = %+v", st)
	}
	st := h.studio.SelectSource(preview.SourceStatic)
	if st.State != preview.StateBoundStatic || st.VideoURL != clip.Video.URL {
		t.Errorf("static status = %+v, want clip %s", st, clip.Video.URL)
	}
	if st := h.studio.SelectSource(preview.SourceSynced); st.State != preview.StateUnbound {
		t.Errorf("synced without animation = %+v, want unbound", st)
	}
}

func TestRemoveEntry_RevokesAndRebinds(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	h.selectKey(t)
	clip, err := h.studio.GenerateClip(context.Background(), studio.ClipRequest{Prompt: "a cat"})
	if err != nil {
		t.Fatal(err)
	}
	if st, _ := h.studio.SelectClip(clip.ID); st.State != preview.StateBoundStatic {
		t.Fatalf("status = %+v", st)
	}

	if err := h.studio.RemoveEntry(context.Background(), clip.ID); err != nil {
		t.Fatalf("RemoveEntry: %v", err)
	}
	if _, _, ok := h.handles.Open(clip.Video.ID); ok {
		t.Error("handle still resolves after removal")
	}
	if st := h.studio.Preview().Status(); st.State != preview.StateUnbound || st.VideoURL != "" {
		t.Errorf("status after removal = %+v, want unbound", st)
	}
	if h.pv.Source() != "" {
		t.Errorf("video source = %q, want cleared", h.pv.Source())
	}
	if err := h.studio.RemoveEntry(context.Background(), clip.ID); !errors.Is(err, library.ErrNotFound) {
		t.Errorf("second removal err = %v, want ErrNotFound", err)
	}
}

func TestEviction_RebindsPreview(t *testing.T) {
	t.Parallel()

	h := newHarness(t, library.WithMaxPerKind(1))
	h.selectKey(t)
	ctx := context.Background()

	first, err := h.studio.GenerateAnimation(ctx, studio.AnimationRequest{Script: "one", Image: stillImage})
	if err != nil {
		t.Fatal(err)
	}
	if _, err := h.studio.SelectAnimation(first.ID); err != nil {
		t.Fatal(err)
	}

	if _, err := h.studio.GenerateAnimation(ctx, studio.AnimationRequest{Script: "two", Image: stillImage}); err != nil {
		t.Fatal(err)
	}
	if _, ok := h.lib.Get(first.ID); ok {
		t.Fatal("first animation not evicted")
	}
	for _, hd := range first.Handles() {
		if _, _, ok := h.handles.Open(hd.ID); ok {
			t.Errorf("evicted handle %s still resolves", hd.ID)
		}
	}
	st := h.studio.Preview().Status()
	if st.State != preview.StateUnbound || h.pa.Source() != "" {
		t.Errorf("status after eviction = %+v, audio=%q", st, h.pa.Source())
	}
	if snap := h.studio.Snapshot(); snap.AnimationID != "" {
		t.Errorf("animation selection = %q, want cleared", snap.AnimationID)
	}
}

// ─────────────────────────────────────────────────────────────────────────────
// Capture, overlays, uploads, live
// ─────────────────────────────────────────────────────────────────────────────

func TestCapture_StartBindsAndStopDetachesFirst(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	var attachedAtStop *capture.Stream
	h.device.onStop = func() { attachedAtStop = h.pv.Stream() }

	stream, err := h.studio.StartCapture(context.Background())
	if err != nil {
		t.Fatalf("StartCapture: %v", err)
	}
	st := h.studio.Preview().Status()
	if st.State != preview.StateBoundWebcam || st.StreamID != stream.ID {
		t.Fatalf("status = %+v, want bound webcam", st)
	}
	if h.pv.Stream() != stream {
		t.Error("stream not attached to the preview")
	}

	if !h.studio.StopCapture(context.Background()) {
		t.Fatal("StopCapture = false, want true")
	}
	if attachedAtStop != nil {
		t.Error("stream still attached when the device was released")
	}
	if st := h.studio.Preview().Status(); st.State != preview.StateUnbound || !st.AwaitingDevice {
		t.Errorf("status after stop = %+v", st)
	}
	if h.studio.StopCapture(context.Background()) {
		t.Error("second StopCapture = true, want false")
	}
}

func TestCapture_ConcurrentStartsCountOnce(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	var wg sync.WaitGroup
	for range 8 {
		wg.Go(func() {
			if _, err := h.studio.StartCapture(context.Background()); err != nil {
				t.Errorf("StartCapture: %v", err)
			}
		})
	}
	wg.Wait()

	var started int
	for _, ev := range h.studio.History().Events() {
		if ev.Action == "capture started" {
			started++
		}
	}
	if started != 1 {
		t.Errorf("capture started recorded %d times, want 1", started)
	}
	if !h.studio.StopCapture(context.Background()) {
		t.Fatal("StopCapture = false, want true")
	}
	if h.studio.Snapshot().Capturing {
		t.Error("still capturing after a single stop")
	}
}

func TestCapture_DeviceUnavailable(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	h.device.err = errors.New("permission denied")

	if _, err := h.studio.StartCapture(context.Background()); !errors.Is(err, capture.ErrDeviceUnavailable) {
		t.Fatalf("err = %v, want ErrDeviceUnavailable", err)
	}
	events := h.studio.History().Events()
	if len(events) == 0 || events[len(events)-1].Error == "" {
		t.Errorf("history = %+v, want failure recorded", events)
	}
}

func TestCapture_NotBoundWhileOtherSourceSelected(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	h.studio.SelectSource(preview.SourceStatic)

	if _, err := h.studio.StartCapture(context.Background()); err != nil {
		t.Fatal(err)
	}
	if h.pv.Stream() != nil {
		t.Error("stream attached while the static source is selected")
	}
	if st := h.studio.SelectSource(preview.SourceWebcam); st.State != preview.StateBoundWebcam {
		t.Errorf("status = %+v, want bound webcam", st)
	}
}

func TestOverlay_Lifecycle(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	ctx := context.Background()

	if _, err := h.studio.AddOverlay(ctx, "logo", []byte("gif"), "video/mp4"); !errors.Is(err, studio.ErrUnsupportedMedia) {
		t.Errorf("err = %v, want ErrUnsupportedMedia", err)
	}
	if _, err := h.studio.AddOverlay(ctx, "logo", nil, "image/png"); !errors.Is(err, provider.ErrEmptyInput) {
		t.Errorf("err = %v, want ErrEmptyInput", err)
	}

	e, err := h.studio.AddOverlay(ctx, "logo", []byte("png"), "image/png")
	if err != nil {
		t.Fatalf("AddOverlay: %v", err)
	}
	if _, err := h.studio.SelectOverlay(e.ID); err != nil {
		t.Fatalf("SelectOverlay: %v", err)
	}
	if got, ok := h.studio.Overlay(); !ok || got.ID != e.ID {
		t.Errorf("overlay = %+v, %v", got, ok)
	}
	if snap := h.studio.Snapshot(); snap.Overlay == nil || snap.Overlay.ID != e.ID {
		t.Errorf("snapshot overlay = %+v", snap.Overlay)
	}

	h.studio.ClearOverlay()
	if _, ok := h.studio.Overlay(); ok {
		t.Error("overlay still selected after ClearOverlay")
	}

	if _, err := h.studio.SelectOverlay(e.ID); err != nil {
		t.Fatal(err)
	}
	if err := h.studio.RemoveEntry(ctx, e.ID); err != nil {
		t.Fatal(err)
	}
	if _, ok := h.studio.Overlay(); ok {
		t.Error("removed overlay still selected")
	}
}

func TestUploadClip(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	ctx := context.Background()

	if _, err := h.studio.UploadClip(ctx, "intro", []byte("png"), "image/png"); !errors.Is(err, studio.ErrUnsupportedMedia) {
		t.Errorf("err = %v, want ErrUnsupportedMedia", err)
	}
	e, err := h.studio.UploadClip(ctx, "", []byte("webm"), "video/webm")
	if err != nil {
		t.Fatalf("UploadClip: %v", err)
	}
	if e.Kind != library.KindClip || e.Title != "uploaded clip" || e.Video.MIMEType != "video/webm" {
		t.Errorf("entry = %+v", e)
	}
	if st, err := h.studio.SelectClip(e.ID); err != nil || st.State != preview.StateBoundStatic {
		t.Errorf("SelectClip = %+v, %v", st, err)
	}
}

func TestSetLive_RecordsChangesOnly(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	before := h.studio.History().Len()

	h.studio.SetLive(true)
	h.studio.SetLive(true)
	h.studio.SetLive(false)

	if h.studio.Live() {
		t.Error("Live = true after SetLive(false)")
	}
	if got := h.studio.History().Len() - before; got != 2 {
		t.Errorf("history events = %d, want 2", got)
	}
}
