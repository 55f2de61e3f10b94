package audio

import (
	"encoding/binary"
	"math"
)

// PCM is decoded mono 16-bit audio ready to be written as a canonical WAV file.
type PCM struct {
	Samples    []int16
	SampleRate int
}

// mixInt averages interleaved integer frames into mono and rescales them to 16 bits.
func mixInt(data []int, channels, bitDepth int) []int16 {
	if channels < 1 {
		channels = 1
	}

	frames := len(data) / channels
	out := make([]int16, frames)

	for f := 0; f < frames; f++ {
		var sum int64
		for c := 0; c < channels; c++ {
			sum += int64(to16(data[f*channels+c], bitDepth))
		}
		out[f] = clamp16(sum / int64(channels))
	}

	return out
}

// mixFloat averages interleaved float frames in [-1, 1] into mono PCM-16.
func mixFloat(data []float32, channels int) []int16 {
	if channels < 1 {
		channels = 1
	}

	frames := len(data) / channels
	out := make([]int16, frames)

	for f := 0; f < frames; f++ {
		var sum float64
		for c := 0; c < channels; c++ {
			sum += float64(data[f*channels+c])
		}
		v := sum / float64(channels) * math.MaxInt16
		out[f] = clamp16(int64(math.Round(v)))
	}

	return out
}

// to16 rescales a sample of the given bit depth to the signed 16-bit range.
// 8-bit PCM is unsigned with a 128 midpoint.
func to16(v, bitDepth int) int {
	switch {
	case bitDepth == 8:
		return (v - 128) << 8
	case bitDepth > 16:
		return v >> (bitDepth - 16)
	case bitDepth < 16:
		return v << (16 - bitDepth)
	}
	return v
}

func clamp16(v int64) int16 {
	if v > math.MaxInt16 {
		return math.MaxInt16
	}
	if v < math.MinInt16 {
		return math.MinInt16
	}
	return int16(v)
}

// bytesToSamples reinterprets little-endian PCM-16 bytes as samples.
func bytesToSamples(pcm []byte) []int16 {
	samples := make([]int16, len(pcm)/2)
	for i := range samples {
		samples[i] = int16(binary.LittleEndian.Uint16(pcm[i*2:]))
	}
	return samples
}
