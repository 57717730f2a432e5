// Package media provides headless media elements: clock-driven stand-ins for
// the browser's video and audio elements that the preview controller drives
// on the server.
//
// An [Element] tracks its source, transport state and playback position on a
// monotonic clock and dispatches play, pause and time update events the way
// a browser media element does. [Element.Run] emits time updates at a fixed
// cadence while playing.
package media

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/MrWong99/streamstudio/internal/capture"
	"github.com/MrWong99/streamstudio/internal/preview"
)

// DefaultTimeUpdateInterval matches the cadence at which browsers fire
// "timeupdate" during playback.
const DefaultTimeUpdateInterval = 250 * time.Millisecond

// ErrAutoplayBlocked is returned by Play while the autoplay policy is locked.
var ErrAutoplayBlocked = errors.New("media: autoplay blocked until user gesture")

// ErrNoSource is returned by Play when nothing is loaded.
var ErrNoSource = errors.New("media: no source")

// Compile-time interface assertions.
var (
	_ preview.VideoElement = (*Element)(nil)
	_ preview.AudioElement = (*Element)(nil)
)

// AutoplayPolicy models the restriction that media may only start playing
// after a user gesture. Elements sharing a policy are unlocked together. The
// zero value is locked.
type AutoplayPolicy struct {
	mu       sync.Mutex
	unlocked bool
}

// Unlock records a user gesture; subsequent Play calls are allowed.
func (p *AutoplayPolicy) Unlock() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.unlocked = true
}

// Allowed reports whether playback may start.
func (p *AutoplayPolicy) Allowed() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.unlocked
}

// Option configures an Element.
type Option func(*Element)

// WithClock replaces the time source. Tests use it to step time manually.
func WithClock(now func() time.Time) Option {
	return func(e *Element) { e.now = now }
}

// WithAutoplayPolicy makes Play fail with ErrAutoplayBlocked until policy is
// unlocked.
func WithAutoplayPolicy(policy *AutoplayPolicy) Option {
	return func(e *Element) { e.policy = policy }
}

// WithDurationFunc supplies the media length for a source URL. A zero
// duration means unknown: the position grows without bound and looping has
// no effect.
func WithDurationFunc(fn func(url string) time.Duration) Option {
	return func(e *Element) { e.durationOf = fn }
}

// Element is a headless media element. It is safe for concurrent use.
// Listeners are invoked without internal locks held.
type Element struct {
	name       string
	now        func() time.Time
	policy     *AutoplayPolicy
	durationOf func(string) time.Duration

	mu        sync.Mutex
	source    string
	stream    *capture.Stream
	muted     bool
	loop      bool
	duration  time.Duration
	playing   bool
	base      time.Duration // position when playback last (re)started or paused
	startedAt time.Time
	nextID    int
	listeners map[preview.Event]map[int]func()
}

// New creates a paused Element without a source. name appears in logs.
func New(name string, opts ...Option) *Element {
	e := &Element{
		name:      name,
		now:       time.Now,
		listeners: make(map[preview.Event]map[int]func()),
	}
	for _, o := range opts {
		o(e)
	}
	return e
}

// ── Source binding ─────────────────────────────────────────────────────────────

// AttachStream implements preview.VideoElement. A live stream has no
// duration and replaces any loaded source.
func (e *Element) AttachStream(s *capture.Stream) {
	e.mu.Lock()
	stopped := e.resetLocked()
	e.stream = s
	e.mu.Unlock()
	if stopped {
		e.emit(preview.EventPause)
	}
}

// DetachStream implements preview.VideoElement.
func (e *Element) DetachStream() {
	e.mu.Lock()
	if e.stream == nil {
		e.mu.Unlock()
		return
	}
	stopped := e.resetLocked()
	e.mu.Unlock()
	if stopped {
		e.emit(preview.EventPause)
	}
}

// SetSource implements preview.VideoElement and preview.AudioElement.
// Loading a source rewinds to zero and stops playback.
func (e *Element) SetSource(url string) {
	e.mu.Lock()
	stopped := e.resetLocked()
	e.source = url
	if url != "" && e.durationOf != nil {
		e.duration = e.durationOf(url)
	}
	e.mu.Unlock()
	if stopped {
		e.emit(preview.EventPause)
	}
}

// resetLocked clears the source, stream and position. It reports whether
// playback was running.
func (e *Element) resetLocked() bool {
	wasPlaying := e.playing
	e.playing = false
	e.source = ""
	e.stream = nil
	e.duration = 0
	e.base = 0
	return wasPlaying
}

// SetMuted implements preview.VideoElement.
func (e *Element) SetMuted(muted bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.muted = muted
}

// SetLoop implements preview.VideoElement.
func (e *Element) SetLoop(loop bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.loop = loop
}

// ── Transport ──────────────────────────────────────────────────────────────────

// Play implements preview.VideoElement and preview.AudioElement. Play on a
// playing element is a no-op.
func (e *Element) Play() error {
	e.mu.Lock()
	if e.source == "" && e.stream == nil {
		e.mu.Unlock()
		return ErrNoSource
	}
	if e.policy != nil && !e.policy.Allowed() {
		e.mu.Unlock()
		return ErrAutoplayBlocked
	}
	if e.playing {
		e.mu.Unlock()
		return nil
	}
	// An ended, non-looping element restarts from the beginning.
	if e.duration > 0 && !e.loop && e.base >= e.duration {
		e.base = 0
	}
	e.playing = true
	e.startedAt = e.now()
	e.mu.Unlock()

	slog.Debug("media: play", "element", e.name)
	e.emit(preview.EventPlay)
	return nil
}

// Pause implements preview.VideoElement and preview.AudioElement.
func (e *Element) Pause() {
	e.mu.Lock()
	if !e.playing {
		e.mu.Unlock()
		return
	}
	e.base = e.positionLocked()
	e.playing = false
	e.mu.Unlock()

	e.emit(preview.EventPause)
}

// Paused implements preview.VideoElement and preview.AudioElement.
func (e *Element) Paused() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return !e.playing
}

// CurrentTime implements preview.VideoElement and preview.AudioElement.
func (e *Element) CurrentTime() time.Duration {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.positionLocked()
}

// Seek implements preview.AudioElement. Positions are clamped to
// [0, duration] when the duration is known.
func (e *Element) Seek(pos time.Duration) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if pos < 0 {
		pos = 0
	}
	if e.duration > 0 && pos > e.duration {
		pos = e.duration
	}
	e.base = pos
	e.startedAt = e.now()
}

func (e *Element) positionLocked() time.Duration {
	pos := e.base
	if e.playing {
		pos += e.now().Sub(e.startedAt)
	}
	if e.duration <= 0 {
		return pos
	}
	if e.loop {
		return pos % e.duration
	}
	return min(pos, e.duration)
}

// ── Events ─────────────────────────────────────────────────────────────────────

// On implements preview.VideoElement.
func (e *Element) On(ev preview.Event, fn func()) func() {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.listeners[ev] == nil {
		e.listeners[ev] = make(map[int]func())
	}
	id := e.nextID
	e.nextID++
	e.listeners[ev][id] = fn

	var once sync.Once
	return func() {
		once.Do(func() {
			e.mu.Lock()
			defer e.mu.Unlock()
			delete(e.listeners[ev], id)
		})
	}
}

// emit dispatches ev to a snapshot of its listeners in registration order.
func (e *Element) emit(ev preview.Event) {
	e.mu.Lock()
	fns := make([]func(), 0, len(e.listeners[ev]))
	for id := range e.nextID {
		if fn, ok := e.listeners[ev][id]; ok {
			fns = append(fns, fn)
		}
	}
	e.mu.Unlock()

	for _, fn := range fns {
		fn()
	}
}

// Tick advances end-of-media handling and emits a time update while
// playing. Run calls it on every interval; tests may call it directly.
func (e *Element) Tick() {
	e.mu.Lock()
	if !e.playing {
		e.mu.Unlock()
		return
	}
	ended := e.duration > 0 && !e.loop && e.base+e.now().Sub(e.startedAt) >= e.duration
	if ended {
		e.base = e.duration
		e.playing = false
	}
	e.mu.Unlock()

	e.emit(preview.EventTimeUpdate)
	if ended {
		e.emit(preview.EventPause)
	}
}

// Run emits time updates every interval until ctx is done. Non-positive
// intervals use DefaultTimeUpdateInterval.
func (e *Element) Run(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = DefaultTimeUpdateInterval
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			e.Tick()
		}
	}
}

// ── Inspection ─────────────────────────────────────────────────────────────────

// Snapshot describes an element's observable state.
type Snapshot struct {
	Source     string `json:"source,omitempty"`
	StreamID   string `json:"stream_id,omitempty"`
	Muted      bool   `json:"muted"`
	Loop       bool   `json:"loop"`
	Playing    bool   `json:"playing"`
	PositionMS int64  `json:"position_ms"`
	DurationMS int64  `json:"duration_ms,omitempty"`
}

// Snapshot returns the element's current state.
func (e *Element) Snapshot() Snapshot {
	e.mu.Lock()
	defer e.mu.Unlock()
	s := Snapshot{
		Source:     e.source,
		Muted:      e.muted,
		Loop:       e.loop,
		Playing:    e.playing,
		PositionMS: e.positionLocked().Milliseconds(),
		DurationMS: e.duration.Milliseconds(),
	}
	if e.stream != nil {
		s.StreamID = e.stream.ID
	}
	return s
}
