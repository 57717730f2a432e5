// Package studio orchestrates the virtual streaming studio: it gates
// generation on an explicit credential, runs the clip, narration and
// talking-animation workflows, files their results in the library and
// drives the preview controller from the user's source, clip, animation and
// capture selections.
//
// A [Studio] owns no media itself. Handles belong to library entries, the
// capture stream belongs to the capture manager and the preview controller
// only references both.
package studio

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/MrWong99/streamstudio/internal/capture"
	"github.com/MrWong99/streamstudio/internal/handle"
	"github.com/MrWong99/streamstudio/internal/library"
	"github.com/MrWong99/streamstudio/internal/observe"
	"github.com/MrWong99/streamstudio/internal/preview"
	"github.com/MrWong99/streamstudio/pkg/audio"
	"github.com/MrWong99/streamstudio/pkg/provider"
	"github.com/MrWong99/streamstudio/pkg/provider/tts"
	"github.com/MrWong99/streamstudio/pkg/provider/video"
)

// DefaultTimeout bounds a single generation workflow.
const DefaultTimeout = 15 * time.Minute

var (
	// ErrWrongKind is returned when an entry of one kind is used where
	// another is required, e.g. selecting a narration as the stream clip.
	ErrWrongKind = errors.New("studio: wrong entry kind")

	// ErrUnsupportedMedia is returned for uploads whose MIME type does not
	// match the target library.
	ErrUnsupportedMedia = errors.New("studio: unsupported media type")
)

// Generators are the backends a generation workflow runs against.
type Generators struct {
	Video  video.Provider
	Speech tts.Provider
}

// GeneratorSource builds (or returns cached) generators bound to apiKey.
// A source that refuses the key must wrap [provider.ErrCredentialRejected].
type GeneratorSource func(apiKey string) (Generators, error)

// Deps are the collaborators a [Studio] coordinates. All are required.
type Deps struct {
	Credentials *Credentials
	Generators  GeneratorSource
	Handles     *handle.Registry
	Library     *library.Library
	Capture     *capture.Manager
	Preview     *preview.Controller
}

// Option is a functional option for [New].
type Option func(*Studio)

// WithMetrics records generation latency and library size to m. Defaults to
// [observe.DefaultMetrics].
func WithMetrics(m *observe.Metrics) Option {
	return func(s *Studio) { s.metrics = m }
}

// WithSampleRate sets the rate narration is resampled to before encoding.
// Defaults to [audio.DefaultSampleRate]. Values < 1 are ignored.
func WithSampleRate(rate int) Option {
	return func(s *Studio) {
		if rate > 0 {
			s.sampleRate = rate
		}
	}
}

// WithTimeout bounds every generation workflow. Zero disables the bound and
// leaves cancellation to the caller's context.
func WithTimeout(d time.Duration) Option {
	return func(s *Studio) { s.timeout = d }
}

// WithHistory replaces the activity log. Defaults to a [NewHistory] of
// [DefaultHistorySize].
func WithHistory(h *History) Option {
	return func(s *Studio) { s.history = h }
}

// Studio is the orchestration root. It is safe for concurrent use; binding
// changes are serialized, generation workflows run concurrently.
type Studio struct {
	creds      *Credentials
	generators GeneratorSource
	handles    *handle.Registry
	lib        *library.Library
	capture    *capture.Manager
	preview    *preview.Controller
	history    *History
	metrics    *observe.Metrics
	sampleRate int
	timeout    time.Duration

	// mu guards the selection below and serializes preview rebinding. It is
	// never held across library mutations, whose eviction hook re-enters
	// the studio through [Studio.EntryGone].
	mu          sync.Mutex
	source      preview.Source
	clipID      string
	animationID string
	overlayID   string
	live        bool
}

// New creates a Studio from deps. The preview starts on the webcam source,
// awaiting a device until capture starts.
func New(deps Deps, opts ...Option) (*Studio, error) {
	var errs []error
	if deps.Credentials == nil {
		errs = append(errs, errors.New("credentials"))
	}
	if deps.Generators == nil {
		errs = append(errs, errors.New("generators"))
	}
	if deps.Handles == nil {
		errs = append(errs, errors.New("handles"))
	}
	if deps.Library == nil {
		errs = append(errs, errors.New("library"))
	}
	if deps.Capture == nil {
		errs = append(errs, errors.New("capture"))
	}
	if deps.Preview == nil {
		errs = append(errs, errors.New("preview"))
	}
	if err := errors.Join(errs...); err != nil {
		return nil, fmt.Errorf("studio: missing dependencies: %w", err)
	}

	s := &Studio{
		creds:      deps.Credentials,
		generators: deps.Generators,
		handles:    deps.Handles,
		lib:        deps.Library,
		capture:    deps.Capture,
		preview:    deps.Preview,
		sampleRate: audio.DefaultSampleRate,
		timeout:    DefaultTimeout,
		source:     preview.SourceWebcam,
	}
	for _, o := range opts {
		o(s)
	}
	if s.history == nil {
		s.history = NewHistory(DefaultHistorySize)
	}
	if s.metrics == nil {
		s.metrics = observe.DefaultMetrics()
	}

	s.mu.Lock()
	s.rebindLocked()
	s.mu.Unlock()
	return s, nil
}

// Credentials returns the studio's credential context.
func (s *Studio) Credentials() *Credentials { return s.creds }

// History returns the activity log.
func (s *Studio) History() *History { return s.history }

// Library returns the asset library.
func (s *Studio) Library() *library.Library { return s.lib }

// Preview returns the preview controller.
func (s *Studio) Preview() *preview.Controller { return s.preview }

// Snapshot is the user-visible studio state.
type Snapshot struct {
	Source        preview.Source `json:"source"`
	ClipID        string         `json:"clip_id,omitempty"`
	AnimationID   string         `json:"animation_id,omitempty"`
	Overlay       *library.Entry `json:"overlay,omitempty"`
	Live          bool           `json:"live"`
	Credential    bool           `json:"credential"`
	Capturing     bool           `json:"capturing"`
	Preview       preview.Status `json:"preview"`
	LibrarySize   map[string]int `json:"library_size"`
	HistoryLength int            `json:"history_length"`
}

// Snapshot returns the current studio state.
func (s *Studio) Snapshot() Snapshot {
	s.mu.Lock()
	snap := Snapshot{
		Source:      s.source,
		ClipID:      s.clipID,
		AnimationID: s.animationID,
		Live:        s.live,
	}
	overlayID := s.overlayID
	s.mu.Unlock()

	if e, ok := s.lib.Get(overlayID); ok {
		snap.Overlay = &e
	}
	snap.Credential = s.creds.Selected()
	snap.Capturing = s.capture.Current() != nil
	snap.Preview = s.preview.Status()
	snap.LibrarySize = make(map[string]int, len(library.Kinds))
	for k, n := range s.lib.Counts() {
		snap.LibrarySize[string(k)] = n
	}
	snap.HistoryLength = s.history.Len()
	return snap
}

// ─────────────────────────────────────────────────────────────────────────────
// Preview selection
// ─────────────────────────────────────────────────────────────────────────────

// SelectSource switches the preview to source, keeping the clip or animation
// last selected for it.
func (s *Studio) SelectSource(source preview.Source) preview.Status {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.source = source
	st := s.rebindLocked()
	s.history.Record("source selected", string(source), nil)
	return st
}

// SelectClip shows the clip entry id as static media.
func (s *Studio) SelectClip(id string) (preview.Status, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, err := s.entry(id, library.KindClip); err != nil {
		return preview.Status{}, err
	}
	s.clipID = id
	s.source = preview.SourceStatic
	st := s.rebindLocked()
	s.history.Record("clip selected", id, nil)
	return st, nil
}

// SelectAnimation shows the animation entry id with its narration synced.
func (s *Studio) SelectAnimation(id string) (preview.Status, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, err := s.entry(id, library.KindAnimation); err != nil {
		return preview.Status{}, err
	}
	s.animationID = id
	s.source = preview.SourceSynced
	st := s.rebindLocked()
	s.history.Record("animation selected", id, nil)
	return st, nil
}

// rebindLocked binds the preview to the current selection. Must be called
// with s.mu held.
func (s *Studio) rebindLocked() preview.Status {
	var assets preview.Assets
	switch s.source {
	case preview.SourceWebcam:
		assets.Stream = s.capture.Current()
	case preview.SourceStatic:
		if e, ok := s.lib.Get(s.clipID); ok && e.Video != nil {
			assets.VideoURL = e.Video.URL
		}
	case preview.SourceSynced:
		if e, ok := s.lib.Get(s.animationID); ok && e.Video != nil {
			assets.VideoURL = e.Video.URL
			if e.Audio != nil {
				assets.AudioURL = e.Audio.URL
			}
		}
	}
	return s.preview.Bind(s.source, assets)
}

// entry returns the library entry id, which must be of kind. Selections call
// it with s.mu held: an entry removed after the check has its EntryGone
// queued behind s.mu and clears the selection.
func (s *Studio) entry(id string, kind library.Kind) (library.Entry, error) {
	e, ok := s.lib.Get(id)
	if !ok {
		return library.Entry{}, fmt.Errorf("studio: entry %s: %w", id, library.ErrNotFound)
	}
	if e.Kind != kind {
		return library.Entry{}, fmt.Errorf("%w: %s is a %s, want %s", ErrWrongKind, id, e.Kind, kind)
	}
	return e, nil
}

// ─────────────────────────────────────────────────────────────────────────────
// Capture
// ─────────────────────────────────────────────────────────────────────────────

// StartCapture opens the capture device and, if the webcam source is
// selected, binds the stream to the preview.
func (s *Studio) StartCapture(ctx context.Context) (*capture.Stream, error) {
	stream, opened, err := s.capture.Start(ctx)
	if err != nil {
		s.history.Record("capture failed", "", err)
		return nil, err
	}
	if opened {
		s.metrics.ActiveCaptures.Add(ctx, 1)
		s.history.Record("capture started", stream.ID, nil)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.source == preview.SourceWebcam {
		s.rebindLocked()
	}
	return stream, nil
}

// StopCapture detaches the stream from the preview and then releases it. It
// reports whether a stream was active.
func (s *Studio) StopCapture(ctx context.Context) bool {
	s.mu.Lock()
	if s.source == preview.SourceWebcam {
		s.preview.Bind(preview.SourceWebcam, preview.Assets{})
	}
	stopped := s.capture.Stop()
	s.mu.Unlock()

	if stopped {
		s.metrics.ActiveCaptures.Add(ctx, -1)
		s.history.Record("capture stopped", "", nil)
	}
	return stopped
}

// ─────────────────────────────────────────────────────────────────────────────
// Library and overlays
// ─────────────────────────────────────────────────────────────────────────────

// UploadClip files a user-supplied video as a clip.
func (s *Studio) UploadClip(ctx context.Context, title string, data []byte, mimeType string) (library.Entry, error) {
	if len(data) == 0 {
		return library.Entry{}, fmt.Errorf("studio: upload clip: %w", provider.ErrEmptyInput)
	}
	if !strings.HasPrefix(mimeType, "video/") {
		return library.Entry{}, fmt.Errorf("%w: %q is not a video", ErrUnsupportedMedia, mimeType)
	}
	h := s.handles.Create(data, mimeType)
	e, err := s.add(ctx, library.Entry{Kind: library.KindClip, Title: titleOr(title, "uploaded clip"), Video: &h})
	s.history.Record("clip uploaded", e.Title, err)
	return e, err
}

// AddOverlay files a still image as an overlay.
func (s *Studio) AddOverlay(ctx context.Context, title string, data []byte, mimeType string) (library.Entry, error) {
	if len(data) == 0 {
		return library.Entry{}, fmt.Errorf("studio: add overlay: %w", provider.ErrEmptyInput)
	}
	if !strings.HasPrefix(mimeType, "image/") {
		return library.Entry{}, fmt.Errorf("%w: %q is not an image", ErrUnsupportedMedia, mimeType)
	}
	h := s.handles.Create(data, mimeType)
	e, err := s.add(ctx, library.Entry{Kind: library.KindOverlay, Title: titleOr(title, "overlay"), Image: &h})
	s.history.Record("overlay added", e.Title, err)
	return e, err
}

// SelectOverlay shows the overlay entry id on top of the preview.
func (s *Studio) SelectOverlay(id string) (library.Entry, error) {
	s.mu.Lock()
	e, err := s.entry(id, library.KindOverlay)
	if err != nil {
		s.mu.Unlock()
		return library.Entry{}, err
	}
	s.overlayID = id
	s.mu.Unlock()
	s.history.Record("overlay selected", e.Title, nil)
	return e, nil
}

// ClearOverlay hides the overlay.
func (s *Studio) ClearOverlay() {
	s.mu.Lock()
	s.overlayID = ""
	s.mu.Unlock()
	s.history.Record("overlay cleared", "", nil)
}

// Overlay returns the selected overlay, if any.
func (s *Studio) Overlay() (library.Entry, bool) {
	s.mu.Lock()
	id := s.overlayID
	s.mu.Unlock()
	return s.lib.Get(id)
}

// RemoveEntry deletes a library entry, revoking its handles. If the entry was
// on screen the preview is rebound without it.
func (s *Studio) RemoveEntry(ctx context.Context, id string) error {
	e, err := s.lib.Remove(id)
	if err != nil {
		return err
	}
	s.EntryGone(ctx, e)
	s.history.Record("entry removed", e.Title, nil)
	return nil
}

// EntryGone drops every reference to e after it left the library, by
// removal or by capacity eviction, and rebinds the preview if e was bound.
func (s *Studio) EntryGone(ctx context.Context, e library.Entry) {
	s.metrics.AddLibraryEntries(ctx, string(e.Kind), -1)

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.overlayID == e.ID {
		s.overlayID = ""
	}
	rebind := false
	if s.clipID == e.ID {
		s.clipID = ""
		rebind = s.source == preview.SourceStatic
	}
	if s.animationID == e.ID {
		s.animationID = ""
		rebind = s.source == preview.SourceSynced
	}
	if rebind {
		s.rebindLocked()
		slog.Info("bound entry left the library; preview rebound", "id", e.ID, "kind", e.Kind)
	}
}

// add files e and accounts for it in the library gauge. Must not be called
// with s.mu held.
func (s *Studio) add(ctx context.Context, e library.Entry) (library.Entry, error) {
	stored, err := s.lib.Add(e)
	if err != nil {
		return library.Entry{}, fmt.Errorf("studio: %w", err)
	}
	s.metrics.AddLibraryEntries(ctx, string(stored.Kind), 1)
	return stored, nil
}

// ─────────────────────────────────────────────────────────────────────────────
// Go Live
// ─────────────────────────────────────────────────────────────────────────────

// SetLive toggles the local "live" indicator. Nothing is sent anywhere.
func (s *Studio) SetLive(live bool) {
	s.mu.Lock()
	changed := s.live != live
	s.live = live
	s.mu.Unlock()
	if changed {
		action := "went offline"
		if live {
			action = "went live"
		}
		s.history.Record(action, "", nil)
	}
}

// Live reports the "live" indicator.
func (s *Studio) Live() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.live
}

// titleOr trims title to a single line of at most 80 runes, or returns
// fallback when it is blank.
func titleOr(title, fallback string) string {
	title = strings.Join(strings.Fields(title), " ")
	if title == "" {
		return fallback
	}
	if r := []rune(title); len(r) > 80 {
		return string(r[:79]) + "…"
	}
	return title
}
