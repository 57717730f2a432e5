package studio

import (
	"sync"
	"time"
)

// DefaultHistorySize is the number of activity events kept by [NewHistory]
// when no size is given.
const DefaultHistorySize = 200

// Event is one line of the activity log.
type Event struct {
	At     time.Time `json:"at"`
	Action string    `json:"action"`
	Detail string    `json:"detail,omitempty"`
	Error  string    `json:"error,omitempty"`
}

// History is a bounded activity log. Once full, each new event displaces the
// oldest one. It is safe for concurrent use.
type History struct {
	mu   sync.Mutex
	buf  []Event
	next int
	full bool
	now  func() time.Time
}

// NewHistory returns a log holding at most size events. A size < 1 selects
// [DefaultHistorySize].
func NewHistory(size int) *History {
	if size < 1 {
		size = DefaultHistorySize
	}
	return &History{buf: make([]Event, size), now: time.Now}
}

// Record appends an event. err, if non-nil, marks it as a failure.
func (h *History) Record(action, detail string, err error) {
	ev := Event{Action: action, Detail: detail}
	if err != nil {
		ev.Error = err.Error()
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	ev.At = h.now()
	h.buf[h.next] = ev
	h.next = (h.next + 1) % len(h.buf)
	if h.next == 0 {
		h.full = true
	}
}

// Events returns the logged events, oldest first.
func (h *History) Events() []Event {
	h.mu.Lock()
	defer h.mu.Unlock()
	if !h.full {
		out := make([]Event, h.next)
		copy(out, h.buf[:h.next])
		return out
	}
	out := make([]Event, 0, len(h.buf))
	out = append(out, h.buf[h.next:]...)
	return append(out, h.buf[:h.next]...)
}

// Len returns the number of logged events.
func (h *History) Len() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.full {
		return len(h.buf)
	}
	return h.next
}
