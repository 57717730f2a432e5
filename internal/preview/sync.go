package preview

import (
	"sync"
	"time"
)

// association keeps the narration track following the video while the
// synced source is bound. Its handlers lock only the association, never the
// controller, so elements may dispatch events from inside Play.
type association struct {
	video VideoElement
	audio AudioElement

	tolerance func() time.Duration
	onDrift   func(audioPos, videoPos time.Duration)
	onReject  func(err error)

	mu      sync.Mutex
	active  bool
	removes []func()
	lastErr error
}

func newAssociation(video VideoElement, audio AudioElement, tolerance func() time.Duration) *association {
	return &association{
		video:     video,
		audio:     audio,
		tolerance: tolerance,
		active:    true,
	}
}

// install registers the video listeners. If the video is already playing the
// narration starts at once instead of waiting for the next play event.
func (a *association) install() {
	a.removes = append(a.removes,
		a.video.On(EventPlay, a.handlePlay),
		a.video.On(EventPause, a.handlePause),
		a.video.On(EventTimeUpdate, a.handleTimeUpdate),
	)
	if !a.video.Paused() {
		a.handlePlay()
	}
}

// teardown deactivates the association and removes every listener. Handlers
// still in flight on another goroutine finish before teardown returns.
func (a *association) teardown() {
	a.mu.Lock()
	a.active = false
	removes := a.removes
	a.removes = nil
	a.mu.Unlock()

	for _, remove := range removes {
		remove()
	}
}

func (a *association) handlePlay() {
	a.mu.Lock()
	defer a.mu.Unlock()
	if !a.active {
		return
	}
	err := a.audio.Play()
	a.lastErr = err
	if err != nil && a.onReject != nil {
		a.onReject(err)
	}
}

// err returns the error of the most recent narration Play call.
func (a *association) err() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.lastErr
}

func (a *association) handlePause() {
	a.mu.Lock()
	defer a.mu.Unlock()
	if !a.active {
		return
	}
	a.audio.Pause()
}

func (a *association) handleTimeUpdate() {
	a.mu.Lock()
	defer a.mu.Unlock()
	// An ended or paused narration is left alone until the next play.
	if !a.active || a.audio.Paused() {
		return
	}
	videoPos := a.video.CurrentTime()
	audioPos := a.audio.CurrentTime()
	if !drifted(audioPos, videoPos, a.tolerance()) {
		return
	}
	a.audio.Seek(videoPos)
	if a.onDrift != nil {
		a.onDrift(audioPos, videoPos)
	}
}

// drifted reports whether the two positions diverge by more than tolerance.
func drifted(audioPos, videoPos, tolerance time.Duration) bool {
	d := audioPos - videoPos
	if d < 0 {
		d = -d
	}
	return d > tolerance
}
