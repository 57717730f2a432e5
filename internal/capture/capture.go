// Package capture manages the live capture stream shown when the webcam
// source is selected.
//
// A [Manager] exclusively owns at most one [Stream] at a time. The preview
// controller only references the stream; stopping it is the manager's job.
package capture

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
)

// ErrDeviceUnavailable is returned when no capture device can be opened:
// access was denied, the device is absent, or its endpoint is unreachable.
var ErrDeviceUnavailable = errors.New("capture: device unavailable")

// Stream is a live capture stream.
type Stream struct {
	// ID identifies the stream for logging and status reporting.
	ID string `json:"id"`

	// URL is where the live feed can be consumed.
	URL string `json:"url"`

	// Stop releases the underlying device. It must be safe to call more than
	// once.
	Stop func() `json:"-"`
}

// Device opens capture streams.
type Device interface {
	// Open acquires the device and returns a live stream. Failures wrap
	// ErrDeviceUnavailable.
	Open(ctx context.Context) (*Stream, error)
}

// ── IngestDevice ───────────────────────────────────────────────────────────────

// IngestDevice exposes an externally produced live feed (a camera relay, an
// HLS or WebRTC gateway) as a capture device. Opening it verifies that the
// ingest endpoint answers.
type IngestDevice struct {
	url    string
	client *http.Client
}

// NewIngestDevice returns a device for the feed at url. An empty url yields a
// device that is always unavailable.
func NewIngestDevice(url string, client *http.Client) *IngestDevice {
	if client == nil {
		client = &http.Client{Timeout: 5 * time.Second}
	}
	return &IngestDevice{url: url, client: client}
}

// Open probes the ingest URL with a HEAD request.
func (d *IngestDevice) Open(ctx context.Context) (*Stream, error) {
	if d.url == "" {
		return nil, fmt.Errorf("%w: no ingest url configured", ErrDeviceUnavailable)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodHead, d.url, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrDeviceUnavailable, err)
	}
	resp, err := d.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrDeviceUnavailable, err)
	}
	resp.Body.Close()
	if resp.StatusCode >= 400 {
		return nil, fmt.Errorf("%w: ingest answered %d", ErrDeviceUnavailable, resp.StatusCode)
	}

	id := uuid.NewString()
	return &Stream{
		ID:  id,
		URL: d.url,
		Stop: func() {
			slog.Debug("capture: ingest stream released", "id", id)
		},
	}, nil
}

// ── Manager ────────────────────────────────────────────────────────────────────

// Manager owns the current capture stream. It is safe for concurrent use.
type Manager struct {
	device Device

	mu      sync.Mutex
	current *Stream
}

// NewManager creates a Manager that opens streams from device.
func NewManager(device Device) *Manager {
	return &Manager{device: device}
}

// Start opens a stream if none is active and returns the current stream.
// opened reports whether this call installed a new stream; starting while a
// stream is active returns that stream with opened false.
//
// The device is opened without holding the manager lock, so [Manager.Current]
// stays responsive during a slow probe. When concurrent starts race, the
// first to finish wins and the others release their streams.
func (m *Manager) Start(ctx context.Context) (s *Stream, opened bool, err error) {
	if cur := m.Current(); cur != nil {
		return cur, false, nil
	}
	if m.device == nil {
		return nil, false, fmt.Errorf("capture: start: %w: no device", ErrDeviceUnavailable)
	}

	s, err = m.device.Open(ctx)
	if err != nil {
		if !errors.Is(err, ErrDeviceUnavailable) {
			err = fmt.Errorf("%w: %w", ErrDeviceUnavailable, err)
		}
		return nil, false, fmt.Errorf("capture: start: %w", err)
	}

	m.mu.Lock()
	if winner := m.current; winner != nil {
		m.mu.Unlock()
		if s.Stop != nil {
			s.Stop()
		}
		slog.Debug("capture: concurrent start lost; stream released", "stream", s.ID, "active", winner.ID)
		return winner, false, nil
	}
	m.current = s
	m.mu.Unlock()

	slog.Info("capture started", "stream", s.ID)
	return s, true, nil
}

// Stop releases the active stream. It reports whether a stream was active.
func (m *Manager) Stop() bool {
	m.mu.Lock()
	s := m.current
	m.current = nil
	m.mu.Unlock()

	if s == nil {
		return false
	}
	if s.Stop != nil {
		s.Stop()
	}
	slog.Info("capture stopped", "stream", s.ID)
	return true
}

// Current returns the active stream or nil.
func (m *Manager) Current() *Stream {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.current
}
