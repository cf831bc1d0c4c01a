// ABOUTME: Channel mixing and interleaving helpers
// ABOUTME: Up/down mixes channel layouts and converts between planar and interleaved
package convert

import (
	"fmt"

	"github.com/Resonate-Protocol/resonate-transcoder/pkg/audio"
)

// Sample is the set of sample element types buffers carry.
type Sample interface {
	~int32 | ~float32 | ~float64
}

// MixChannels converts a buffer to the target channel count.
// Mono input is duplicated, mono output averages all channels, and other
// layouts fold source channel i into target channel i%to.
func MixChannels(buf audio.Buffer, to int) (audio.Buffer, error) {
	from := buf.Format.Channels
	if to <= 0 {
		return audio.Buffer{}, fmt.Errorf("invalid target channel count: %d", to)
	}
	if from == to {
		return buf, nil
	}

	out := audio.Buffer{Format: buf.Format, Timestamp: buf.Timestamp}
	out.Format.Channels = to
	if buf.Format.Float {
		out.Floats = mix(buf.Floats, from, to, func(sum float64, n int) float32 {
			return float32(sum / float64(n))
		})
	} else {
		out.Samples = mix(buf.Samples, from, to, func(sum float64, n int) int32 {
			return int32(sum / float64(n))
		})
	}
	return out, nil
}

func mix[T Sample](in []T, from, to int, avg func(sum float64, n int) T) []T {
	frames := len(in) / from
	out := make([]T, frames*to)
	sums := make([]float64, to)
	counts := make([]int, to)

	for f := 0; f < frames; f++ {
		src := in[f*from : (f+1)*from]
		dst := out[f*to : (f+1)*to]
		if from < to {
			for c := range dst {
				dst[c] = src[c%from]
			}
			continue
		}
		for c := range sums {
			sums[c] = 0
			counts[c] = 0
		}
		for c, s := range src {
			sums[c%to] += float64(s)
			counts[c%to]++
		}
		for c := range dst {
			dst[c] = avg(sums[c], counts[c])
		}
	}
	return out
}

// Deinterleave splits interleaved samples into one slice per channel.
func Deinterleave[T Sample](samples []T, channels int) [][]T {
	frames := len(samples) / channels
	planes := make([][]T, channels)
	for c := range planes {
		planes[c] = make([]T, frames)
	}
	for f := 0; f < frames; f++ {
		for c := 0; c < channels; c++ {
			planes[c][f] = samples[f*channels+c]
		}
	}
	return planes
}

// Interleave merges per-channel slices. All planes must have equal length.
func Interleave[T Sample](planes [][]T) ([]T, error) {
	if len(planes) == 0 {
		return nil, nil
	}
	frames := len(planes[0])
	for c, p := range planes {
		if len(p) != frames {
			return nil, fmt.Errorf("channel %d has %d frames, expected %d", c, len(p), frames)
		}
	}
	out := make([]T, frames*len(planes))
	for f := 0; f < frames; f++ {
		for c, p := range planes {
			out[f*len(planes)+c] = p[f]
		}
	}
	return out, nil
}
