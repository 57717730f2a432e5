package server

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"

	"github.com/MrWong99/streamstudio/internal/observe"
	"github.com/MrWong99/streamstudio/internal/studio"
)

// eventWriteTimeout bounds a single WebSocket write.
const eventWriteTimeout = 5 * time.Second

// Hub fans studio change signals out to WebSocket subscribers. Each
// subscriber holds a single pending signal; bursts coalesce and the
// subscriber sends the latest snapshot once it catches up. [Hub.Notify]
// never blocks, so it is safe to call from preview observer callbacks.
type Hub struct {
	mu     sync.Mutex
	subs   map[chan struct{}]struct{}
	done   chan struct{}
	closed bool
}

// NewHub returns an empty hub.
func NewHub() *Hub {
	return &Hub{
		subs: make(map[chan struct{}]struct{}),
		done: make(chan struct{}),
	}
}

// Notify wakes every subscriber.
func (h *Hub) Notify() {
	h.mu.Lock()
	defer h.mu.Unlock()
	for ch := range h.subs {
		select {
		case ch <- struct{}{}:
		default:
		}
	}
}

// Len returns the number of connected subscribers.
func (h *Hub) Len() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.subs)
}

// Close disconnects every subscriber and refuses new ones. Hijacked
// connections are not closed by http.Server.Shutdown, so the server calls
// this on shutdown.
func (h *Hub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	if !h.closed {
		h.closed = true
		close(h.done)
	}
}

// subscribe registers a signal channel. ok is false after Close.
func (h *Hub) subscribe() (ch chan struct{}, unsubscribe func(), ok bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return nil, nil, false
	}
	ch = make(chan struct{}, 1)
	h.subs[ch] = struct{}{}
	return ch, func() {
		h.mu.Lock()
		delete(h.subs, ch)
		h.mu.Unlock()
	}, true
}

// event is a single WebSocket message.
type event struct {
	Type   string          `json:"type"`
	At     time.Time       `json:"at"`
	Studio studio.Snapshot `json:"studio"`
}

// handleEvents streams a studio snapshot on connect and after every change
// until the client disconnects or the hub closes.
func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	sig, unsubscribe, ok := s.hub.subscribe()
	if !ok {
		http.Error(w, "shutting down", http.StatusServiceUnavailable)
		return
	}
	defer unsubscribe()

	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{OriginPatterns: s.originPatterns})
	if err != nil {
		observe.Logger(r.Context()).Debug("events: websocket accept failed", "err", err)
		return
	}
	defer conn.CloseNow()

	// Client messages are ignored; CloseRead ends ctx when the peer goes away.
	ctx := conn.CloseRead(r.Context())
	log := observe.Logger(ctx)
	log.Debug("events: subscriber connected", "subscribers", s.hub.Len())

	send := func() error {
		wctx, cancel := context.WithTimeout(ctx, eventWriteTimeout)
		defer cancel()
		return wsjson.Write(wctx, conn, event{Type: "studio", At: time.Now().UTC(), Studio: s.studio.Snapshot()})
	}

	if err := send(); err != nil {
		log.Debug("events: initial write failed", "err", err)
		return
	}
	for {
		select {
		case <-ctx.Done():
			return
		case <-s.hub.done:
			_ = conn.Close(websocket.StatusGoingAway, "server shutting down")
			return
		case <-sig:
			if err := send(); err != nil {
				log.Debug("events: write failed", "err", err)
				return
			}
		}
	}
}
