// Package tts defines the Provider interface for Text-to-Speech backends.
//
// A TTS provider wraps a speech synthesis service and returns the complete
// narration for a piece of text as raw 16-bit mono PCM. Synthesis is a single
// request/response exchange; the caller turns the samples into a playable
// asset with the wav package.
//
// Implementations must be safe for concurrent use.
package tts

import (
	"context"

	"github.com/MrWong99/streamstudio/pkg/audio"
)

// Provider is the abstraction over any TTS backend.
type Provider interface {
	// Synthesize returns the narration for text as mono 16-bit little-endian
	// PCM. The returned buffer reports its native sample rate; the built-in
	// providers produce 24 kHz.
	//
	// Empty text yields [provider.ErrEmptyInput] without contacting the
	// backend. Backend failures wrap [provider.ErrCredentialRejected] or
	// [provider.ErrGenerationFailed].
	Synthesize(ctx context.Context, text string) (audio.PCM, error)
}
