package preview

import (
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"
)

// Option configures a Controller.
type Option func(*Controller)

// WithDriftTolerance sets the initial drift tolerance. Non-positive values
// are ignored.
func WithDriftTolerance(d time.Duration) Option {
	return func(c *Controller) {
		if d > 0 {
			c.tolerance.Store(int64(d))
		}
	}
}

// WithObserver adds an observer. May be given more than once.
func WithObserver(o Observer) Option {
	return func(c *Controller) {
		if o != nil {
			c.observers = append(c.observers, o)
		}
	}
}

// Controller owns the preview surface. All methods are safe for concurrent
// use; rebindings are serialized.
type Controller struct {
	video     VideoElement
	audio     AudioElement
	observers []Observer
	tolerance atomic.Int64

	mu          sync.Mutex
	bound       bool
	source      Source
	assets      Assets
	state       State
	awaiting    bool
	assoc       *association
	lastErr     error
	transitions uint64
}

// New creates an unbound Controller driving video and audio.
func New(video VideoElement, audio AudioElement, opts ...Option) *Controller {
	c := &Controller{
		video: video,
		audio: audio,
		state: StateUnbound,
	}
	c.tolerance.Store(int64(DefaultDriftTolerance))
	for _, o := range opts {
		o(c)
	}
	return c
}

// DriftTolerance returns the current drift tolerance.
func (c *Controller) DriftTolerance() time.Duration {
	return time.Duration(c.tolerance.Load())
}

// SetDriftTolerance changes the drift tolerance. It takes effect on the next
// time update, including for an association that is already running.
// Non-positive values are ignored.
func (c *Controller) SetDriftTolerance(d time.Duration) {
	if d <= 0 {
		return
	}
	c.tolerance.Store(int64(d))
}

// Bind selects source backed by assets. The previous binding is torn down
// completely before the new one is installed. Binding the current selection
// again is a no-op.
//
// A refused Play call does not fail Bind: the binding persists, the error is
// reported to observers and visible in the returned Status.
func (c *Controller) Bind(source Source, assets Assets) Status {
	c.mu.Lock()
	if c.bound && c.source == source && c.assets.equal(assets) {
		st := c.statusLocked()
		c.mu.Unlock()
		return st
	}

	from := c.state
	c.teardownLocked()
	c.installLocked(source, assets)
	c.bound = true
	c.transitions++
	to := c.state
	st := c.statusLocked()
	c.mu.Unlock()

	slog.Info("preview rebound", "from", from, "to", to, "source", source, "awaiting_device", st.AwaitingDevice)
	for _, o := range c.observers {
		o.Transition(from, to, source)
	}
	return st
}

// Unbind tears down the current binding and leaves the surface empty.
func (c *Controller) Unbind() Status {
	c.mu.Lock()
	from := c.state
	c.teardownLocked()
	c.bound = false
	c.source = ""
	c.assets = Assets{}
	c.awaiting = false
	c.state = StateUnbound
	c.transitions++
	st := c.statusLocked()
	c.mu.Unlock()

	for _, o := range c.observers {
		o.Transition(from, StateUnbound, "")
	}
	return st
}

// Retry replays the current binding, typically in response to a user
// gesture after playback was rejected.
func (c *Controller) Retry() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.state == StateUnbound {
		return fmt.Errorf("preview: retry: %w", ErrNotBound)
	}
	c.lastErr = nil
	if c.video.Paused() {
		c.playLocked()
	} else if c.assoc != nil {
		// Video already running; only the narration may have been refused.
		c.assoc.handlePlay()
	}
	if c.lastErr != nil {
		return c.lastErr
	}
	if c.assoc != nil {
		if err := c.assoc.err(); err != nil {
			return fmt.Errorf("%w: narration: %w", ErrPlaybackRejected, err)
		}
	}
	return nil
}

// Status returns a snapshot of the controller.
func (c *Controller) Status() Status {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.statusLocked()
}

// Selection returns the current source and assets.
func (c *Controller) Selection() (Source, Assets) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.source, c.assets
}

// teardownLocked fully removes the current binding: sync listeners first,
// then the live stream and source, then the narration is paused and rewound.
func (c *Controller) teardownLocked() {
	if c.assoc != nil {
		c.assoc.teardown()
		c.assoc = nil
	}

	c.video.DetachStream()
	c.video.SetSource("")
	c.audio.Pause()
	c.audio.Seek(0)
	c.audio.SetSource("")
	c.lastErr = nil
}

func (c *Controller) installLocked(source Source, assets Assets) {
	c.source = source
	c.assets = assets
	c.awaiting = false
	c.state = StateUnbound

	switch source {
	case SourceWebcam:
		if assets.Stream == nil {
			c.awaiting = true
			return
		}
		c.video.AttachStream(assets.Stream)
		c.video.SetMuted(true)
		c.video.SetLoop(false)
		c.state = StateBoundWebcam
		c.playLocked()

	case SourceStatic:
		if assets.VideoURL == "" {
			return
		}
		c.video.SetSource(assets.VideoURL)
		c.video.SetMuted(false)
		c.video.SetLoop(true)
		c.state = StateBoundStatic
		c.playLocked()

	case SourceSynced:
		if assets.VideoURL == "" {
			return
		}
		c.video.SetSource(assets.VideoURL)
		c.video.SetMuted(true)
		c.video.SetLoop(true)
		c.state = StateBoundSynced
		if assets.AudioURL != "" {
			c.audio.SetSource(assets.AudioURL)
			a := newAssociation(c.video, c.audio, c.DriftTolerance)
			a.onDrift = c.driftCorrected
			a.onReject = c.rejected
			c.assoc = a
			a.install()
		}
		if c.video.Paused() {
			c.playLocked()
		}
	}
}

func (c *Controller) playLocked() {
	if err := c.video.Play(); err != nil {
		c.lastErr = fmt.Errorf("%w: %w", ErrPlaybackRejected, err)
		c.report(c.lastErr)
	}
}

// rejected is called by the association, which may run without c.mu held.
func (c *Controller) rejected(err error) {
	c.report(fmt.Errorf("%w: narration: %w", ErrPlaybackRejected, err))
}

func (c *Controller) report(err error) {
	slog.Warn("preview playback rejected", "err", err)
	for _, o := range c.observers {
		o.PlaybackRejected(err)
	}
}

func (c *Controller) driftCorrected(audioPos, videoPos time.Duration) {
	slog.Debug("preview drift corrected", "audio", audioPos, "video", videoPos)
	for _, o := range c.observers {
		o.DriftCorrected(audioPos, videoPos)
	}
}

func (c *Controller) statusLocked() Status {
	st := Status{
		Source:           c.source,
		State:            c.state,
		AwaitingDevice:   c.awaiting,
		Synced:           c.assoc != nil,
		DriftToleranceMS: c.DriftTolerance().Milliseconds(),
		Transitions:      c.transitions,
	}
	if c.state != StateUnbound {
		st.Playing = !c.video.Paused()
		st.PositionMS = c.video.CurrentTime().Milliseconds()
		st.VideoURL = c.assets.VideoURL
		if c.assoc != nil {
			st.AudioURL = c.assets.AudioURL
		}
		if c.state == StateBoundWebcam && c.assets.Stream != nil {
			st.StreamID = c.assets.Stream.ID
			st.VideoURL = c.assets.Stream.URL
		}
	}
	switch {
	case c.lastErr != nil:
		st.LastError = c.lastErr.Error()
	case c.assoc != nil:
		if err := c.assoc.err(); err != nil {
			st.LastError = fmt.Errorf("%w: narration: %w", ErrPlaybackRejected, err).Error()
		}
	}
	return st
}
