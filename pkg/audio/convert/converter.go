// ABOUTME: Streaming sample format converter
// ABOUTME: Mixes channels, resamples and requantizes chunks into a target format
package convert

import (
	"fmt"

	"github.com/Resonate-Protocol/resonate-transcoder/pkg/audio"
	"github.com/Resonate-Protocol/resonate-transcoder/pkg/audio/resample"
)

// Target describes the canonical output format. Zero fields keep the
// corresponding property of the input.
type Target struct {
	SampleRate int
	Channels   int
	BitDepth   int
	Float      bool
	Quality    resample.Quality
}

// Converter converts a stream of buffers that share one source format.
// It is not safe for concurrent use.
type Converter struct {
	target    Target
	source    *audio.Format
	resampler resample.Stream
	out       audio.Format
	frames    int64
}

// NewConverter creates a converter for target
func NewConverter(target Target) *Converter {
	return &Converter{target: target}
}

// OutputFormat resolves the format produced for a source format.
func (t Target) OutputFormat(src audio.Format) audio.Format {
	out := src
	if t.SampleRate > 0 {
		out.SampleRate = t.SampleRate
	}
	if t.Channels > 0 {
		out.Channels = t.Channels
	}
	if t.Float {
		out.Float = true
		out.BitDepth = 32
	} else if t.BitDepth > 0 {
		out.Float = false
		out.BitDepth = t.BitDepth
	}
	return out
}

// Convert converts one chunk. The first call fixes the source format.
func (c *Converter) Convert(buf audio.Buffer) (audio.Buffer, error) {
	if err := c.bind(buf.Format); err != nil {
		return audio.Buffer{}, err
	}

	mixed, err := MixChannels(buf, c.out.Channels)
	if err != nil {
		return audio.Buffer{}, err
	}

	var out audio.Buffer
	if c.resampler != nil {
		res, err := c.resampler.Process(ToFloat64(mixed))
		if err != nil {
			return audio.Buffer{}, err
		}
		out = FromFloat64(res, c.out)
	} else {
		out = Requantize(mixed, c.out.BitDepth, c.out.Float)
		out.Format = c.out
	}

	out.Timestamp = c.frames
	c.frames += int64(out.NumFrames())
	return out, nil
}

// Flush returns samples still held by the resampler.
func (c *Converter) Flush() (audio.Buffer, error) {
	if c.source == nil {
		return audio.Buffer{Format: c.target.OutputFormat(audio.Format{})}, nil
	}
	out := audio.Buffer{Format: c.out, Timestamp: c.frames}
	if c.resampler == nil {
		if c.out.Float {
			out.Floats = []float32{}
		} else {
			out.Samples = []int32{}
		}
		return out, nil
	}
	tail, err := c.resampler.Flush()
	if err != nil {
		return audio.Buffer{}, err
	}
	out = FromFloat64(tail, c.out)
	out.Timestamp = c.frames
	c.frames += int64(out.NumFrames())
	return out, nil
}

// Format returns the output format, valid after the first Convert.
func (c *Converter) Format() audio.Format {
	return c.out
}

func (c *Converter) bind(src audio.Format) error {
	if c.source != nil {
		if src.SampleRate != c.source.SampleRate || src.Channels != c.source.Channels {
			return fmt.Errorf("source format changed mid-stream: %s -> %s", c.source, src)
		}
		return nil
	}
	if err := src.Validate(); err != nil {
		return err
	}

	c.source = &src
	c.out = c.target.OutputFormat(src)
	if err := c.out.Validate(); err != nil {
		return err
	}

	if c.out.SampleRate != src.SampleRate {
		r, err := resample.NewStream(src.SampleRate, c.out.SampleRate, c.out.Channels, c.target.Quality)
		if err != nil {
			return err
		}
		c.resampler = r
	}
	return nil
}

// ConvertAll converts a complete buffer in one pass, including the flush.
func ConvertAll(buf audio.Buffer, target Target) (audio.Buffer, error) {
	c := NewConverter(target)
	out, err := c.Convert(buf)
	if err != nil {
		return audio.Buffer{}, err
	}
	tail, err := c.Flush()
	if err != nil {
		return audio.Buffer{}, err
	}
	if err := out.Append(tail); err != nil {
		return audio.Buffer{}, err
	}
	return out, nil
}
