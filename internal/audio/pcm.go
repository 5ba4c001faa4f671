// Package audio provides PCM helpers, voice-activity detection and
// buffering for the agent's capture and playback paths. All audio is
// 16-bit signed little-endian mono.
package audio

import (
	"fmt"
	"math"
)

// BytesToSamples decodes little-endian 16-bit PCM bytes into samples
func BytesToSamples(data []byte) ([]int16, error) {
	if len(data)%2 != 0 {
		return nil, fmt.Errorf("pcm data length must be even, got %d", len(data))
	}
	samples := make([]int16, len(data)/2)
	for i := range samples {
		samples[i] = int16(data[i*2]) | int16(data[i*2+1])<<8
	}
	return samples, nil
}

// SamplesToBytes encodes samples as little-endian 16-bit PCM bytes
func SamplesToBytes(samples []int16) []byte {
	data := make([]byte, len(samples)*2)
	for i, s := range samples {
		data[i*2] = byte(s)
		data[i*2+1] = byte(s >> 8)
	}
	return data
}

// Resample converts samples between rates with linear interpolation.
// Good enough for speech; swap in a sinc resampler if quality matters.
func Resample(samples []int16, inputRate, outputRate int) []int16 {
	if inputRate == outputRate || len(samples) == 0 {
		return samples
	}

	ratio := float64(outputRate) / float64(inputRate)
	out := make([]int16, int(float64(len(samples))*ratio))

	for i := range out {
		srcPos := float64(i) / ratio
		idx0 := int(srcPos)
		idx1 := idx0 + 1
		if idx1 >= len(samples) {
			idx1 = len(samples) - 1
		}
		frac := srcPos - float64(idx0)
		out[i] = int16(float64(samples[idx0])*(1.0-frac) + float64(samples[idx1])*frac)
	}

	return out
}

// Normalize scales samples down so none exceeds maxAmplitude. Samples
// already within range are returned unchanged.
func Normalize(samples []int16, maxAmplitude int16) []int16 {
	// Track the peak in int: negating math.MinInt16 overflows int16
	peak := 0
	for _, s := range samples {
		abs := int(s)
		if abs < 0 {
			abs = -abs
		}
		if abs > peak {
			peak = abs
		}
	}
	if peak <= int(maxAmplitude) {
		return samples
	}

	ratio := float64(maxAmplitude) / float64(peak)
	out := make([]int16, len(samples))
	for i, s := range samples {
		out[i] = int16(float64(s) * ratio)
	}
	return out
}

// CalculateRMS returns the root mean square energy of the samples
func CalculateRMS(samples []int16) float64 {
	if len(samples) == 0 {
		return 0.0
	}
	sum := 0.0
	for _, s := range samples {
		sum += float64(s) * float64(s)
	}
	return math.Sqrt(sum / float64(len(samples)))
}
