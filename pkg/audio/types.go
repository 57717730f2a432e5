// Package audio defines the raw sample buffer exchanged between speech
// providers and the WAV encoder, plus the sample-rate conversion applied when
// a provider's native rate differs from the studio rate.
//
// All audio in streamstudio is signed 16-bit little-endian mono PCM.
package audio

import "time"

// DefaultSampleRate is the rate, in Hz, of synthesized narration.
const DefaultSampleRate = 24000

// BytesPerSample is the width of a single 16-bit sample.
const BytesPerSample = 2

// PCM is an immutable buffer of 16-bit little-endian mono samples.
// It is produced once per speech request and consumed by the WAV encoder.
type PCM struct {
	// Data holds the raw sample bytes, two bytes per sample.
	Data []byte

	// SampleRate in Hz (24000 for the built-in speech providers).
	SampleRate int
}

// Samples returns the number of whole samples in the buffer.
func (p PCM) Samples() int {
	return len(p.Data) / BytesPerSample
}

// Duration returns the playback length of the buffer. It returns zero when
// the sample rate is unknown.
func (p PCM) Duration() time.Duration {
	if p.SampleRate <= 0 {
		return 0
	}
	return time.Duration(p.Samples()) * time.Second / time.Duration(p.SampleRate)
}
