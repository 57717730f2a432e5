// Package preview implements the synchronized preview controller: the state
// machine that owns the studio's single video surface, binds it to the
// selected source and, for talking animations, keeps a narration track
// phase-locked to the video.
//
// Every rebinding tears the previous binding down completely before the next
// one is installed, so two sources never render into the surface at once and
// no listener outlives its binding.
package preview

import (
	"errors"
	"fmt"
	"time"

	"github.com/MrWong99/streamstudio/internal/capture"
)

// DefaultDriftTolerance is the audio/video divergence above which the
// narration is re-seeked to the video position.
const DefaultDriftTolerance = 500 * time.Millisecond

// ErrPlaybackRejected wraps a refused Play call (autoplay policy, device
// error). It is never fatal; the binding persists and [Controller.Retry]
// replays on the next user gesture.
var ErrPlaybackRejected = errors.New("preview: playback rejected")

// ErrNotBound is returned by [Controller.Retry] when no source is bound.
var ErrNotBound = errors.New("preview: nothing bound")

// Source names the binding strategy that governs the preview surface.
type Source string

const (
	// SourceWebcam shows the live capture stream.
	SourceWebcam Source = "webcam"
	// SourceStatic shows a looping clip.
	SourceStatic Source = "static"
	// SourceSynced shows a talking animation with its narration track.
	SourceSynced Source = "synced"
)

// ParseSource converts s to a Source.
func ParseSource(s string) (Source, error) {
	switch src := Source(s); src {
	case SourceWebcam, SourceStatic, SourceSynced:
		return src, nil
	}
	return "", fmt.Errorf("preview: unknown source %q", s)
}

// State is the controller's binding state.
type State string

const (
	StateUnbound     State = "unbound"
	StateBoundWebcam State = "bound_webcam"
	StateBoundStatic State = "bound_static"
	StateBoundSynced State = "bound_synced"
)

// Assets are the concrete media handles behind a source selection. Only the
// fields relevant to the selected source are consulted.
type Assets struct {
	// Stream is the live capture stream, referenced but not owned.
	Stream *capture.Stream
	// VideoURL is the clip or animation video handle.
	VideoURL string
	// AudioURL is the animation narration handle. Empty means the video
	// plays standalone.
	AudioURL string
}

func (a Assets) equal(b Assets) bool {
	return a.Stream == b.Stream && a.VideoURL == b.VideoURL && a.AudioURL == b.AudioURL
}

// Event is a playback lifecycle signal emitted by a [VideoElement].
type Event string

const (
	EventPlay       Event = "play"
	EventPause      Event = "pause"
	EventTimeUpdate Event = "timeupdate"
)

// VideoElement is the primary presentation surface.
type VideoElement interface {
	// AttachStream binds a live stream, replacing any source URL.
	AttachStream(s *capture.Stream)
	// DetachStream unbinds the live stream, if any.
	DetachStream()
	// SetSource loads url. An empty url clears the source and stops playback.
	SetSource(url string)
	SetMuted(muted bool)
	SetLoop(loop bool)
	// Play starts playback. A non-nil error means the request was refused.
	Play() error
	Pause()
	Paused() bool
	CurrentTime() time.Duration
	// On registers fn for ev and returns a function that removes it.
	// Listeners may be invoked synchronously from within Play or Pause.
	On(ev Event, fn func()) (remove func())
}

// AudioElement is the secondary narration track.
type AudioElement interface {
	SetSource(url string)
	Play() error
	Pause()
	// Paused reports whether the narration is stopped, including after it
	// reached its end.
	Paused() bool
	CurrentTime() time.Duration
	Seek(pos time.Duration)
}

// Observer receives controller notifications. Methods are called
// synchronously and must not call back into the Controller.
type Observer interface {
	// Transition is called after every rebinding.
	Transition(from, to State, source Source)
	// DriftCorrected is called when the narration was re-seeked.
	DriftCorrected(audioPos, videoPos time.Duration)
	// PlaybackRejected is called when a Play call was refused.
	PlaybackRejected(err error)
}

// Status is a point-in-time snapshot of the controller.
type Status struct {
	Source           Source `json:"source,omitempty"`
	State            State  `json:"state"`
	AwaitingDevice   bool   `json:"awaiting_device"`
	StreamID         string `json:"stream_id,omitempty"`
	VideoURL         string `json:"video_url,omitempty"`
	AudioURL         string `json:"audio_url,omitempty"`
	Synced           bool   `json:"synced"`
	Playing          bool   `json:"playing"`
	PositionMS       int64  `json:"position_ms"`
	DriftToleranceMS int64  `json:"drift_tolerance_ms"`
	LastError        string `json:"last_error,omitempty"`
	Transitions      uint64 `json:"transitions"`
}
