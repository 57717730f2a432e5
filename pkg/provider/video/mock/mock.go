// Package mock provides a test double for the video.Provider interface.
//
// Example:
//
//	p := &mock.Provider{
//	    Result: video.Clip{Data: []byte("mp4"), MIMEType: "video/mp4"},
//	    Delay:  50 * time.Millisecond,
//	}
//	clip, err := p.GenerateVideo(ctx, video.Request{Prompt: "a cat"})
package mock

import (
	"context"
	"sync"
	"time"

	"github.com/MrWong99/streamstudio/pkg/provider/video"
)

// GenerateVideoCall records a single invocation of GenerateVideo.
type GenerateVideoCall struct {
	// Ctx is the context passed to GenerateVideo.
	Ctx context.Context
	// Request is the request passed to GenerateVideo.
	Request video.Request
	// At is when the call started.
	At time.Time
}

// Provider is a mock implementation of video.Provider.
type Provider struct {
	mu sync.Mutex

	// Result is returned by GenerateVideo when Err is nil.
	Result video.Clip

	// Err, if non-nil, is returned after Delay elapses.
	Err error

	// Delay simulates generation latency. The wait ends early with ctx.Err()
	// when the context is cancelled.
	Delay time.Duration

	// Started, if non-nil, receives a value as soon as a call begins. Sends
	// never block.
	Started chan struct{}

	// Calls records every call to GenerateVideo in order.
	Calls []GenerateVideoCall
}

// GenerateVideo records the call, waits Delay, then returns Result or Err.
func (p *Provider) GenerateVideo(ctx context.Context, req video.Request) (video.Clip, error) {
	p.mu.Lock()
	p.Calls = append(p.Calls, GenerateVideoCall{Ctx: ctx, Request: req, At: time.Now()})
	result, err, delay, started := p.Result, p.Err, p.Delay, p.Started
	p.mu.Unlock()

	if started != nil {
		select {
		case started <- struct{}{}:
		default:
		}
	}

	if delay > 0 {
		timer := time.NewTimer(delay)
		defer timer.Stop()
		select {
		case <-ctx.Done():
			return video.Clip{}, ctx.Err()
		case <-timer.C:
		}
	}
	if err != nil {
		return video.Clip{}, err
	}
	return result, nil
}

// CallCount returns the number of recorded calls. Thread-safe.
func (p *Provider) CallCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.Calls)
}

// Reset clears all recorded calls. Thread-safe.
func (p *Provider) Reset() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.Calls = nil
}

// Ensure Provider implements video.Provider at compile time.
var _ video.Provider = (*Provider)(nil)
