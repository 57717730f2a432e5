// Package provider holds the error taxonomy shared by all generation
// backends. Concrete backends live in sub-packages (video, tts, gemini) and
// wrap these sentinels so callers can classify failures with [errors.Is]
// regardless of which backend produced them.
package provider

import "errors"

var (
	// ErrCredentialRejected reports that the external service refused the
	// supplied credential (missing, invalid, or lacking access). Callers must
	// prompt for a new credential rather than retry.
	ErrCredentialRejected = errors.New("provider: credential rejected")

	// ErrGenerationFailed reports any other external failure that produced
	// no result.
	ErrGenerationFailed = errors.New("provider: generation failed")

	// ErrEmptyInput is returned before any external call when the prompt or
	// text to synthesise is empty.
	ErrEmptyInput = errors.New("provider: empty input")
)
