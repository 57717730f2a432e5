// Package mock provides test doubles for the preview element interfaces.
//
// Video and Audio record every method call in order so tests can assert the
// exact teardown and install sequence, and expose their playback state as
// plain fields guarded by a mutex. Video dispatches events synchronously from
// Play and Pause like a browser media element; tests drive position updates
// with [Video.Emit].
package mock

import (
	"sync"
	"time"

	"github.com/MrWong99/streamstudio/internal/capture"
	"github.com/MrWong99/streamstudio/internal/preview"
)

// Video is a mock implementation of preview.VideoElement.
type Video struct {
	mu sync.Mutex

	// PlayErr, if non-nil, is returned by Play and playback does not start.
	PlayErr error

	// AutoplayOnSource starts playback silently when a non-empty source is
	// loaded, modelling an element that autoplayed before any listener was
	// installed. No play event is emitted.
	AutoplayOnSource bool

	playing   bool
	muted     bool
	loop      bool
	source    string
	stream    *capture.Stream
	position  time.Duration
	nextID    int
	listeners map[preview.Event]map[int]func()
	calls     []string
}

// Calls returns the recorded method names in call order.
func (v *Video) Calls() []string {
	v.mu.Lock()
	defer v.mu.Unlock()
	return append([]string(nil), v.calls...)
}

// ResetCalls clears the call log.
func (v *Video) ResetCalls() {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.calls = nil
}

// ListenerCount returns the number of registered listeners across all events.
func (v *Video) ListenerCount() int {
	v.mu.Lock()
	defer v.mu.Unlock()
	n := 0
	for _, m := range v.listeners {
		n += len(m)
	}
	return n
}

// Muted reports the muted flag.
func (v *Video) Muted() bool {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.muted
}

// Loop reports the loop flag.
func (v *Video) Loop() bool {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.loop
}

// Source returns the loaded source URL.
func (v *Video) Source() string {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.source
}

// Stream returns the attached stream.
func (v *Video) Stream() *capture.Stream {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.stream
}

// SetPosition moves the playback position without emitting an event.
func (v *Video) SetPosition(d time.Duration) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.position = d
}

// SetPlaying changes the playback state without emitting an event.
func (v *Video) SetPlaying(playing bool) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.playing = playing
}

// Emit synchronously dispatches ev to the registered listeners.
func (v *Video) Emit(ev preview.Event) {
	v.mu.Lock()
	fns := make([]func(), 0, len(v.listeners[ev]))
	for id := 0; id < v.nextID; id++ {
		if fn, ok := v.listeners[ev][id]; ok {
			fns = append(fns, fn)
		}
	}
	v.mu.Unlock()

	for _, fn := range fns {
		fn()
	}
}

func (v *Video) record(call string) {
	v.calls = append(v.calls, call)
}

// AttachStream implements preview.VideoElement.
func (v *Video) AttachStream(s *capture.Stream) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.record("AttachStream")
	v.stream = s
	v.source = ""
}

// DetachStream implements preview.VideoElement.
func (v *Video) DetachStream() {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.record("DetachStream")
	v.stream = nil
}

// SetSource implements preview.VideoElement.
func (v *Video) SetSource(url string) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.record("SetSource(" + url + ")")
	v.source = url
	v.position = 0
	v.playing = url != "" && v.AutoplayOnSource
}

// SetMuted implements preview.VideoElement.
func (v *Video) SetMuted(muted bool) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.record("SetMuted")
	v.muted = muted
}

// SetLoop implements preview.VideoElement.
func (v *Video) SetLoop(loop bool) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.record("SetLoop")
	v.loop = loop
}

// Play implements preview.VideoElement. On success it emits EventPlay.
func (v *Video) Play() error {
	v.mu.Lock()
	v.record("Play")
	if v.PlayErr != nil {
		err := v.PlayErr
		v.mu.Unlock()
		return err
	}
	v.playing = true
	v.mu.Unlock()

	v.Emit(preview.EventPlay)
	return nil
}

// Pause implements preview.VideoElement. It emits EventPause.
func (v *Video) Pause() {
	v.mu.Lock()
	v.record("Pause")
	v.playing = false
	v.mu.Unlock()

	v.Emit(preview.EventPause)
}

// Paused implements preview.VideoElement.
func (v *Video) Paused() bool {
	v.mu.Lock()
	defer v.mu.Unlock()
	return !v.playing
}

// CurrentTime implements preview.VideoElement.
func (v *Video) CurrentTime() time.Duration {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.position
}

// On implements preview.VideoElement.
func (v *Video) On(ev preview.Event, fn func()) func() {
	v.mu.Lock()
	defer v.mu.Unlock()
	if v.listeners == nil {
		v.listeners = make(map[preview.Event]map[int]func())
	}
	if v.listeners[ev] == nil {
		v.listeners[ev] = make(map[int]func())
	}
	id := v.nextID
	v.nextID++
	v.listeners[ev][id] = fn
	v.record("On(" + string(ev) + ")")

	return func() {
		v.mu.Lock()
		defer v.mu.Unlock()
		delete(v.listeners[ev], id)
		v.record("Off(" + string(ev) + ")")
	}
}

// Audio is a mock implementation of preview.AudioElement.
type Audio struct {
	mu sync.Mutex

	// PlayErr, if non-nil, is returned by Play and playback does not start.
	PlayErr error

	playing  bool
	source   string
	position time.Duration
	plays    int
	pauses   int
	seeks    []time.Duration
	calls    []string
}

// Calls returns the recorded method names in call order.
func (a *Audio) Calls() []string {
	a.mu.Lock()
	defer a.mu.Unlock()
	return append([]string(nil), a.calls...)
}

// ResetCalls clears the call log and counters.
func (a *Audio) ResetCalls() {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.calls = nil
	a.plays = 0
	a.pauses = 0
	a.seeks = nil
}

// Plays returns the number of successful Play calls.
func (a *Audio) Plays() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.plays
}

// Pauses returns the number of Pause calls.
func (a *Audio) Pauses() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.pauses
}

// Seeks returns every position passed to Seek.
func (a *Audio) Seeks() []time.Duration {
	a.mu.Lock()
	defer a.mu.Unlock()
	return append([]time.Duration(nil), a.seeks...)
}

// Playing reports whether the audio is playing.
func (a *Audio) Playing() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.playing
}

// Source returns the loaded source URL.
func (a *Audio) Source() string {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.source
}

// SetPosition moves the playback position without recording a seek.
func (a *Audio) SetPosition(d time.Duration) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.position = d
}

// SetSource implements preview.AudioElement.
func (a *Audio) SetSource(url string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.calls = append(a.calls, "SetSource("+url+")")
	a.source = url
}

// Play implements preview.AudioElement.
func (a *Audio) Play() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.calls = append(a.calls, "Play")
	if a.PlayErr != nil {
		return a.PlayErr
	}
	a.playing = true
	a.plays++
	return nil
}

// Pause implements preview.AudioElement.
func (a *Audio) Pause() {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.calls = append(a.calls, "Pause")
	a.playing = false
	a.pauses++
}

// Paused implements preview.AudioElement.
func (a *Audio) Paused() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return !a.playing
}

// SetPlaying changes the transport state without recording a call, as when
// the narration reaches its end on its own.
func (a *Audio) SetPlaying(playing bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.playing = playing
}

// CurrentTime implements preview.AudioElement.
func (a *Audio) CurrentTime() time.Duration {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.position
}

// Seek implements preview.AudioElement.
func (a *Audio) Seek(pos time.Duration) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.calls = append(a.calls, "Seek")
	a.position = pos
	a.seeks = append(a.seeks, pos)
}

// Ensure the mocks implement the element interfaces at compile time.
var (
	_ preview.VideoElement = (*Video)(nil)
	_ preview.AudioElement = (*Audio)(nil)
)
