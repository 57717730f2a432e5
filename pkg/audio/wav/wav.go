// Package wav wraps raw 16-bit mono PCM in a standard RIFF/WAVE container.
//
// Encoding is a pure function of its input: identical samples and sample rate
// always yield identical bytes. The produced layout is the canonical 44-byte
// PCM header followed by the sample bytes unchanged:
//
//	offset  size  field
//	0       4     "RIFF"
//	4       4     36 + dataBytes
//	8       4     "WAVE"
//	12      4     "fmt "
//	16      4     16 (fmt chunk size)
//	20      2     1 (PCM)
//	22      2     1 (mono)
//	24      4     sample rate
//	28      4     sample rate * 2 (byte rate)
//	32      2     2 (block align)
//	34      2     16 (bits per sample)
//	36      4     "data"
//	40      4     dataBytes
//	44      n     samples
package wav

import (
	"encoding/binary"
	"errors"
	"fmt"

	"github.com/MrWong99/streamstudio/pkg/audio"
)

// HeaderSize is the length of the canonical PCM WAV header.
const HeaderSize = 44

// MIMEType is the media type served for encoded assets.
const MIMEType = "audio/wav"

const (
	formatPCM     = 1
	channels      = 1
	bitsPerSample = 16
	blockAlign    = channels * bitsPerSample / 8
)

// ErrMalformedAudio is returned when the PCM input cannot form a valid file:
// it is empty, has an odd byte length, or the sample rate is not positive.
var ErrMalformedAudio = errors.New("wav: malformed audio")

// Encode returns a complete WAV file holding pcm, which must contain signed
// 16-bit little-endian mono samples recorded at sampleRate Hz.
func Encode(pcm []byte, sampleRate int) ([]byte, error) {
	switch {
	case len(pcm) == 0:
		return nil, fmt.Errorf("%w: no samples", ErrMalformedAudio)
	case len(pcm)%audio.BytesPerSample != 0:
		return nil, fmt.Errorf("%w: odd byte length %d", ErrMalformedAudio, len(pcm))
	case sampleRate <= 0:
		return nil, fmt.Errorf("%w: sample rate %d", ErrMalformedAudio, sampleRate)
	}

	dataLen := len(pcm)
	out := make([]byte, HeaderSize+dataLen)

	copy(out[0:4], "RIFF")
	binary.LittleEndian.PutUint32(out[4:8], uint32(36+dataLen))
	copy(out[8:12], "WAVE")

	copy(out[12:16], "fmt ")
	binary.LittleEndian.PutUint32(out[16:20], 16)
	binary.LittleEndian.PutUint16(out[20:22], formatPCM)
	binary.LittleEndian.PutUint16(out[22:24], channels)
	binary.LittleEndian.PutUint32(out[24:28], uint32(sampleRate))
	binary.LittleEndian.PutUint32(out[28:32], uint32(sampleRate*blockAlign))
	binary.LittleEndian.PutUint16(out[32:34], blockAlign)
	binary.LittleEndian.PutUint16(out[34:36], bitsPerSample)

	copy(out[36:40], "data")
	binary.LittleEndian.PutUint32(out[40:44], uint32(dataLen))

	copy(out[HeaderSize:], pcm)
	return out, nil
}

// EncodePCM is [Encode] for an [audio.PCM] buffer.
func EncodePCM(p audio.PCM) ([]byte, error) {
	return Encode(p.Data, p.SampleRate)
}

// QuantizeFloat converts a normalised sample to int16. Input is clamped to
// [-1, 1]; negative values scale by 32768 and non-negative values by 32767
// so both extremes map exactly onto the int16 range.
func QuantizeFloat(s float32) int16 {
	switch {
	case s != s: // NaN
		return 0
	case s >= 1:
		return 32767
	case s <= -1:
		return -32768
	case s < 0:
		return int16(s * 32768)
	default:
		return int16(s * 32767)
	}
}

// FloatToPCM quantizes normalised float samples into 16-bit little-endian
// PCM bytes suitable for [Encode].
func FloatToPCM(samples []float32) []byte {
	out := make([]byte, len(samples)*audio.BytesPerSample)
	for i, s := range samples {
		binary.LittleEndian.PutUint16(out[i*2:], uint16(QuantizeFloat(s)))
	}
	return out
}
