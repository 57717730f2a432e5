// Package library holds the studio's transient asset libraries: generated and
// uploaded clips, talking animations, narrations and overlay images.
//
// Libraries live in memory only. Each entry owns the playable handles that
// point at its bytes; removing or evicting an entry revokes all of them.
package library

import (
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/MrWong99/streamstudio/internal/handle"
)

// DefaultMaxPerKind is the per-kind capacity used when none is configured.
const DefaultMaxPerKind = 50

// ErrNotFound is returned when no entry has the requested ID.
var ErrNotFound = errors.New("library: entry not found")

// Kind classifies library entries.
type Kind string

const (
	// KindClip is a static video: generated from a prompt or uploaded.
	KindClip Kind = "clip"
	// KindAnimation is a video paired with a narration track.
	KindAnimation Kind = "animation"
	// KindSpeech is a standalone narration track.
	KindSpeech Kind = "speech"
	// KindOverlay is a still image shown above the preview.
	KindOverlay Kind = "overlay"
)

// Kinds lists every entry kind in display order.
var Kinds = []Kind{KindClip, KindAnimation, KindSpeech, KindOverlay}

// Valid reports whether k is a known kind.
func (k Kind) Valid() bool {
	return slices.Contains(Kinds, k)
}

// Entry is a single library item.
type Entry struct {
	ID      string    `json:"id"`
	Kind    Kind      `json:"kind"`
	Title   string    `json:"title"`
	Created time.Time `json:"created"`

	// Video is set for clips and animations.
	Video *handle.Handle `json:"video,omitempty"`
	// Audio is set for animations and speech.
	Audio *handle.Handle `json:"audio,omitempty"`
	// Image is set for overlays and for animations generated from a still.
	Image *handle.Handle `json:"image,omitempty"`
}

// Handles returns every handle owned by e.
func (e Entry) Handles() []handle.Handle {
	var hs []handle.Handle
	for _, h := range []*handle.Handle{e.Video, e.Audio, e.Image} {
		if h != nil {
			hs = append(hs, *h)
		}
	}
	return hs
}

// Revoker releases playable handles. *handle.Registry satisfies it.
type Revoker interface {
	Revoke(id string) bool
}

// Option configures a Library.
type Option func(*Library)

// WithMaxPerKind caps the number of entries kept per kind. When the cap is
// exceeded the oldest entry of that kind is evicted. Values < 1 are ignored.
func WithMaxPerKind(n int) Option {
	return func(l *Library) {
		if n > 0 {
			l.maxPerKind = n
		}
	}
}

// WithOnEvict registers fn to be called after an entry is evicted for
// capacity. fn runs without the library lock held.
func WithOnEvict(fn func(Entry)) Option {
	return func(l *Library) { l.onEvict = fn }
}

// Library is a set of per-kind, insertion-ordered entry lists. It is safe for
// concurrent use.
type Library struct {
	revoker    Revoker
	maxPerKind int
	onEvict    func(Entry)

	mu      sync.Mutex
	entries map[Kind][]Entry // oldest first
	closed  bool
}

// New creates an empty Library that revokes handles through revoker.
func New(revoker Revoker, opts ...Option) *Library {
	l := &Library{
		revoker:    revoker,
		maxPerKind: DefaultMaxPerKind,
		entries:    make(map[Kind][]Entry, len(Kinds)),
	}
	for _, o := range opts {
		o(l)
	}
	return l
}

// Add stores e, assigning an ID and creation time when they are unset, and
// returns the stored entry. The oldest entries of the same kind are evicted
// once the capacity is exceeded.
func (l *Library) Add(e Entry) (Entry, error) {
	if !e.Kind.Valid() {
		return Entry{}, fmt.Errorf("library: add: unknown kind %q", e.Kind)
	}
	if e.ID == "" {
		e.ID = uuid.NewString()
	}
	if e.Created.IsZero() {
		e.Created = time.Now()
	}

	l.mu.Lock()
	if l.closed {
		l.mu.Unlock()
		l.revoke(e)
		return Entry{}, errors.New("library: add: closed")
	}
	list := append(l.entries[e.Kind], e)
	var evicted []Entry
	if over := len(list) - l.maxPerKind; over > 0 {
		evicted = slices.Clone(list[:over])
		list = slices.Delete(list, 0, over)
	}
	l.entries[e.Kind] = list
	l.mu.Unlock()

	for _, old := range evicted {
		l.revoke(old)
		slog.Info("library entry evicted", "id", old.ID, "kind", old.Kind)
		if l.onEvict != nil {
			l.onEvict(old)
		}
	}
	return e, nil
}

// Get returns the entry with the given ID.
func (l *Library) Get(id string) (Entry, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	for _, list := range l.entries {
		for _, e := range list {
			if e.ID == id {
				return e, true
			}
		}
	}
	return Entry{}, false
}

// List returns the entries of kind, newest first.
func (l *Library) List(kind Kind) []Entry {
	l.mu.Lock()
	defer l.mu.Unlock()
	list := slices.Clone(l.entries[kind])
	slices.Reverse(list)
	return list
}

// Remove deletes the entry with the given ID and revokes its handles.
func (l *Library) Remove(id string) (Entry, error) {
	l.mu.Lock()
	var (
		removed Entry
		found   bool
	)
	for kind, list := range l.entries {
		i := slices.IndexFunc(list, func(e Entry) bool { return e.ID == id })
		if i < 0 {
			continue
		}
		removed, found = list[i], true
		l.entries[kind] = slices.Delete(list, i, i+1)
		break
	}
	l.mu.Unlock()

	if !found {
		return Entry{}, fmt.Errorf("library: remove %s: %w", id, ErrNotFound)
	}
	l.revoke(removed)
	return removed, nil
}

// Len returns the number of entries of kind.
func (l *Library) Len(kind Kind) int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.entries[kind])
}

// Counts returns the number of entries per kind.
func (l *Library) Counts() map[Kind]int {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make(map[Kind]int, len(Kinds))
	for _, k := range Kinds {
		out[k] = len(l.entries[k])
	}
	return out
}

// Close revokes every handle and empties the library. Later Adds fail.
func (l *Library) Close() error {
	l.mu.Lock()
	all := l.entries
	l.entries = make(map[Kind][]Entry)
	l.closed = true
	l.mu.Unlock()

	for _, list := range all {
		for _, e := range list {
			l.revoke(e)
		}
	}
	return nil
}

func (l *Library) revoke(e Entry) {
	if l.revoker == nil {
		return
	}
	for _, h := range e.Handles() {
		l.revoker.Revoke(h.ID)
	}
}
