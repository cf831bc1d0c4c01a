// ABOUTME: Audio output interface definition
// ABOUTME: Common interface for playback backends plus shared sample conversion
package output

import (
	"math"

	"github.com/Resonate-Protocol/resonate-transcoder/pkg/audio"
)

// Output represents an audio output device
type Output interface {
	// Open initializes the device for format's rate and channel count.
	Open(format audio.Format) error

	// Write plays buf, blocking until the device accepted it.
	Write(buf audio.Buffer) error

	// Close drains pending audio and releases the device.
	Close() error
}

// Volume is software gain shared by the backends.
type Volume struct {
	level int // 0-100
	muted bool
}

// SetVolume sets the volume (0-100)
func (v *Volume) SetVolume(level int) {
	if level < 0 {
		level = 0
	}
	if level > 100 {
		level = 100
	}
	v.level = level
}

// SetMuted sets mute state
func (v *Volume) SetMuted(muted bool) {
	v.muted = muted
}

// GetVolume returns current volume
func (v *Volume) GetVolume() int {
	return v.level
}

// IsMuted returns mute state
func (v *Volume) IsMuted() bool {
	return v.muted
}

func (v *Volume) multiplier() float64 {
	if v.muted {
		return 0
	}
	return float64(v.level) / 100
}

// toInt16 converts buf to interleaved 16-bit samples with gain applied.
func toInt16(buf audio.Buffer, gain float64) []int16 {
	n := buf.Len()
	out := make([]int16, n)
	if buf.Format.Float {
		for i, f := range buf.Floats {
			out[i] = clamp16(float64(f) * gain * math.MaxInt16)
		}
		return out
	}
	for i, s := range buf.Samples {
		out[i] = clamp16(float64(audio.SampleToInt16(s, buf.Format.BitDepth)) * gain)
	}
	return out
}

func clamp16(v float64) int16 {
	switch {
	case v > math.MaxInt16:
		return math.MaxInt16
	case v < math.MinInt16:
		return math.MinInt16
	}
	return int16(v)
}

func checkFormat(open, got audio.Format) error {
	if open.SampleRate != got.SampleRate || open.Channels != got.Channels {
		return audio.Errorf(audio.UnsupportedFormat, "output: write",
			"buffer is %dHz %dch, device opened at %dHz %dch",
			got.SampleRate, got.Channels, open.SampleRate, open.Channels)
	}
	return nil
}
