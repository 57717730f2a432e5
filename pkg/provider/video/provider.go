// Package video defines the Provider interface for generative video backends.
//
// A video provider turns a text prompt, optionally conditioned on a still
// image, into a short clip. Generation is long-running (minutes); providers
// are expected to block until the clip is ready, polling the backend as
// needed, and to return promptly once ctx is cancelled.
//
// Implementations must be safe for concurrent use.
package video

import "context"

// Image is the optional still frame a clip is conditioned on.
type Image struct {
	// Data holds the encoded image bytes (PNG, JPEG, ...).
	Data []byte

	// MIMEType describes Data, e.g. "image/png".
	MIMEType string
}

// Request describes a single video generation.
type Request struct {
	// Prompt is the text description of the clip. Must be non-empty.
	Prompt string

	// Image conditions the first frame. Nil means text-only generation.
	Image *Image
}

// Clip is a finished, playable video.
type Clip struct {
	// Data holds the encoded video bytes.
	Data []byte

	// MIMEType describes Data, typically "video/mp4".
	MIMEType string
}

// Provider is the abstraction over any video generation backend.
type Provider interface {
	// GenerateVideo blocks until the clip is ready, the backend reports a
	// failure, or ctx is done.
	//
	// Failures wrap [provider.ErrCredentialRejected] when the backend refused
	// the credential and [provider.ErrGenerationFailed] otherwise. An empty
	// prompt yields [provider.ErrEmptyInput] without contacting the backend.
	GenerateVideo(ctx context.Context, req Request) (Clip, error)
}
