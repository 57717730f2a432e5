// Package mock provides a test double for the tts.Provider interface.
//
// Use Provider to feed controlled narration to consumers and to verify the
// text handed to the speech backend.
//
// Example:
//
//	p := &mock.Provider{
//	    Result: audio.PCM{Data: []byte{0, 0, 1, 0}, SampleRate: 24000},
//	}
//	pcm, _ := p.Synthesize(ctx, "hello")
package mock

import (
	"context"
	"sync"
	"time"

	"github.com/MrWong99/streamstudio/pkg/audio"
	"github.com/MrWong99/streamstudio/pkg/provider/tts"
)

// SynthesizeCall records a single invocation of Synthesize.
type SynthesizeCall struct {
	// Ctx is the context passed to Synthesize.
	Ctx context.Context
	// Text is the text passed to Synthesize.
	Text string
	// At is when the call started.
	At time.Time
}

// Provider is a mock implementation of tts.Provider.
type Provider struct {
	mu sync.Mutex

	// --- Configurable responses ---

	// Result is returned by Synthesize when Err is nil.
	Result audio.PCM

	// Err, if non-nil, is returned after Delay elapses.
	Err error

	// Delay simulates synthesis latency. The wait ends early with ctx.Err()
	// when the context is cancelled.
	Delay time.Duration

	// Gate, if non-nil, must yield a value (or be closed) before Synthesize
	// proceeds past its delay. Tests use it to prove overlap with other calls.
	Gate <-chan struct{}

	// --- Call records ---

	// Calls records every call to Synthesize in order.
	Calls []SynthesizeCall
}

// Synthesize records the call, waits Delay (and Gate), then returns Result
// or Err.
func (p *Provider) Synthesize(ctx context.Context, text string) (audio.PCM, error) {
	p.mu.Lock()
	p.Calls = append(p.Calls, SynthesizeCall{Ctx: ctx, Text: text, At: time.Now()})
	result, err, delay, gate := p.Result, p.Err, p.Delay, p.Gate
	p.mu.Unlock()

	if delay > 0 {
		timer := time.NewTimer(delay)
		defer timer.Stop()
		select {
		case <-ctx.Done():
			return audio.PCM{}, ctx.Err()
		case <-timer.C:
		}
	}
	if gate != nil {
		select {
		case <-ctx.Done():
			return audio.PCM{}, ctx.Err()
		case <-gate:
		}
	}
	if err != nil {
		return audio.PCM{}, err
	}
	data := make([]byte, len(result.Data))
	copy(data, result.Data)
	return audio.PCM{Data: data, SampleRate: result.SampleRate}, nil
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

// Ensure Provider implements tts.Provider at compile time.
var _ tts.Provider = (*Provider)(nil)
