package audio

import (
	"fmt"
	"log/slog"
)

// Resample returns p converted to dstRate. If p is already at dstRate, or
// either rate is unknown, p is returned unchanged.
func Resample(p PCM, dstRate int) PCM {
	if p.SampleRate == dstRate || p.SampleRate <= 0 || dstRate <= 0 {
		return p
	}
	slog.Debug("audio: resampling narration",
		"from", formatString(p.SampleRate),
		"to", formatString(dstRate),
		"samples", p.Samples(),
	)
	return PCM{
		Data:       ResampleMono16(p.Data, p.SampleRate, dstRate),
		SampleRate: dstRate,
	}
}

// ResampleMono16 resamples 16-bit mono PCM from srcRate to dstRate using linear
// interpolation. The input must be little-endian int16 samples. If srcRate ==
// dstRate, the input is returned unchanged. A trailing odd byte is ignored.
func ResampleMono16(pcm []byte, srcRate, dstRate int) []byte {
	if srcRate <= 0 || dstRate <= 0 {
		return pcm
	}
	if srcRate == dstRate || len(pcm) < 2 {
		return pcm
	}
	srcSamples := len(pcm) / 2
	dstSamples := int(int64(srcSamples) * int64(dstRate) / int64(srcRate))
	if dstSamples == 0 {
		return nil
	}

	out := make([]byte, dstSamples*2)
	ratio := float64(srcRate) / float64(dstRate)

	for i := range dstSamples {
		srcPos := float64(i) * ratio
		srcIdx := int(srcPos)
		frac := srcPos - float64(srcIdx)

		s0 := int16(pcm[srcIdx*2]) | int16(pcm[srcIdx*2+1])<<8
		s1 := s0
		if srcIdx+1 < srcSamples {
			s1 = int16(pcm[(srcIdx+1)*2]) | int16(pcm[(srcIdx+1)*2+1])<<8
		}

		interpolated := int16(float64(s0)*(1-frac) + float64(s1)*frac)
		out[i*2] = byte(interpolated)
		out[i*2+1] = byte(interpolated >> 8)
	}
	return out
}

// formatString returns a human-readable rate label, e.g. "24000Hz mono".
func formatString(rate int) string {
	return fmt.Sprintf("%dHz mono", rate)
}
