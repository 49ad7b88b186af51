// Package audio provides PCM utilities for the capture pipeline.
//
// All functions operate on 16 kHz mono signed 16-bit little-endian PCM,
// which is the only format the engine accepts from capture sources.
package audio

import (
	"encoding/binary"
	"math"
)

const (
	// SampleRate is the fixed input sample rate for the engine.
	SampleRate = 16000

	// BytesPerSample for 16-bit mono PCM.
	BytesPerSample = 2
)

// DurationMs returns the duration in milliseconds of a PCM byte slice.
func DurationMs(pcm []byte) int {
	return len(pcm) * 1000 / (SampleRate * BytesPerSample)
}

// BytesForMs returns the byte length of a PCM slice of the given duration.
func BytesForMs(ms int) int {
	return SampleRate * BytesPerSample * ms / 1000
}

// RMS computes the root-mean-square energy of a PCM buffer.
// Samples are decoded as signed little-endian 16-bit integers.
// Returns 0 for an empty buffer.
func RMS(pcm []byte) float64 {
	n := len(pcm) / BytesPerSample
	if n == 0 {
		return 0
	}

	var sum float64
	for i := 0; i < n; i++ {
		s := int16(binary.LittleEndian.Uint16(pcm[i*2 : i*2+2]))
		sum += float64(s) * float64(s)
	}

	return math.Sqrt(sum / float64(n))
}

// IsSilent reports whether the buffer's RMS energy is below threshold.
func IsSilent(pcm []byte, threshold float64) bool {
	return RMS(pcm) < threshold
}

// PCMToFloat32 converts 16-bit PCM to normalized float32 samples in [-1, 1).
func PCMToFloat32(pcm []byte) []float32 {
	n := len(pcm) / BytesPerSample
	samples := make([]float32, n)
	for i := 0; i < n; i++ {
		s := int16(binary.LittleEndian.Uint16(pcm[i*2 : i*2+2]))
		samples[i] = float32(s) / 32768.0
	}
	return samples
}

// Float32ToPCM converts normalized float32 samples back to 16-bit PCM,
// clamping out-of-range values.
func Float32ToPCM(samples []float32) []byte {
	pcm := make([]byte, len(samples)*BytesPerSample)
	for i, f := range samples {
		v := f * 32768.0
		if v > 32767 {
			v = 32767
		} else if v < -32768 {
			v = -32768
		}
		binary.LittleEndian.PutUint16(pcm[i*2:i*2+2], uint16(int16(v)))
	}
	return pcm
}
