// ABOUTME: Bit depth and integer/float requantization
// ABOUTME: Shifts integer samples between depths and scales to and from float
package convert

import (
	"github.com/Resonate-Protocol/resonate-transcoder/pkg/audio"
)

// Requantize converts a buffer to bitDepth (or float). Integer depth changes
// are exact shifts, so widening then narrowing restores the original.
// The input is never modified.
func Requantize(buf audio.Buffer, bitDepth int, float bool) audio.Buffer {
	src := buf.Format
	dst := src
	dst.Float = float
	dst.BitDepth = bitDepth
	if float {
		dst.BitDepth = 32
	}

	if src.Float == dst.Float && (src.Float || src.BitDepth == dst.BitDepth) {
		return buf
	}

	out := audio.Buffer{Format: dst, Timestamp: buf.Timestamp}
	switch {
	case src.Float && !dst.Float:
		out.Samples = FloatsToInts(buf.Floats, bitDepth)
	case !src.Float && dst.Float:
		out.Floats = IntsToFloats(buf.Samples, src.BitDepth)
	default:
		out.Samples = ShiftDepth(buf.Samples, src.BitDepth, bitDepth)
	}
	return out
}

// ShiftDepth moves integer samples between bit depths.
func ShiftDepth(samples []int32, from, to int) []int32 {
	out := make([]int32, len(samples))
	switch {
	case to > from:
		shift := uint(to - from)
		for i, s := range samples {
			out[i] = s << shift
		}
	case to < from:
		shift := uint(from - to)
		for i, s := range samples {
			out[i] = s >> shift
		}
	default:
		copy(out, samples)
	}
	return out
}

// IntsToFloats scales integer samples at bitDepth into [-1, 1).
func IntsToFloats(samples []int32, bitDepth int) []float32 {
	scale := float64(audio.MaxSample(bitDepth)) + 1
	out := make([]float32, len(samples))
	for i, s := range samples {
		out[i] = float32(float64(s) / scale)
	}
	return out
}

// FloatsToInts scales float samples to bitDepth, clamping out of range values.
func FloatsToInts(samples []float32, bitDepth int) []int32 {
	out := make([]int32, len(samples))
	for i, s := range samples {
		out[i] = FloatToInt(float64(s), bitDepth)
	}
	return out
}

// FloatToInt converts one normalised sample to bitDepth.
func FloatToInt(s float64, bitDepth int) int32 {
	maxVal := float64(audio.MaxSample(bitDepth))
	minVal := -maxVal - 1
	v := s * (maxVal + 1)
	if v > maxVal {
		return int32(maxVal)
	}
	if v < minVal {
		return int32(minVal)
	}
	if v >= 0 {
		return int32(v + 0.5)
	}
	return int32(v - 0.5)
}

// ToFloat64 returns normalised interleaved samples for DSP stages.
func ToFloat64(buf audio.Buffer) []float64 {
	out := make([]float64, buf.Len())
	if buf.Format.Float {
		for i, s := range buf.Floats {
			out[i] = float64(s)
		}
		return out
	}
	scale := float64(audio.MaxSample(buf.Format.BitDepth)) + 1
	for i, s := range buf.Samples {
		out[i] = float64(s) / scale
	}
	return out
}

// FromFloat64 builds a buffer in format from normalised samples.
func FromFloat64(samples []float64, format audio.Format) audio.Buffer {
	out := audio.Buffer{Format: format}
	if format.Float {
		out.Floats = make([]float32, len(samples))
		for i, s := range samples {
			out.Floats[i] = float32(s)
		}
		return out
	}
	out.Samples = make([]int32, len(samples))
	for i, s := range samples {
		out.Samples[i] = FloatToInt(s, format.BitDepth)
	}
	return out
}
