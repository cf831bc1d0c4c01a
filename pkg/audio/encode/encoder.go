// ABOUTME: Encoder interface, options and shared sink bookkeeping
// ABOUTME: Encoders write to a sink incrementally and finalize exactly once
package encode

import (
	"github.com/Resonate-Protocol/resonate-transcoder/pkg/audio"
	"github.com/Resonate-Protocol/resonate-transcoder/pkg/audio/convert"
	"github.com/Resonate-Protocol/resonate-transcoder/pkg/audio/resample"
)

// Encoder writes PCM to an encoded sink.
type Encoder interface {
	// Format is the format of the encoded stream.
	Format() audio.Format

	// Encode consumes one buffer in the format the encoder was opened with.
	Encode(buf audio.Buffer) error

	// Close flushes and writes trailers. Later calls to Encode or Close
	// fail with EncoderClosed. The sink itself is not closed.
	Close() error
}

// Options tune lossy encoders. Lossless encoders ignore them.
type Options struct {
	Quality  int // 0-100, 0 picks the codec default
	Bitrate  int // bits per second, overrides Quality
	Resample resample.Quality
}

// sink is the bookkeeping shared by the container encoders: input
// validation, conversion into the output format and the closed state.
type sink struct {
	op     string
	in     audio.Format
	out    audio.Format
	conv   *convert.Converter
	closed bool
	frames int64
}

func newSink(op string, in, out audio.Format, quality resample.Quality) sink {
	s := sink{op: op, in: in, out: out}
	if in.SampleRate != out.SampleRate || in.Channels != out.Channels {
		s.conv = convert.NewConverter(convert.Target{
			SampleRate: out.SampleRate,
			Channels:   out.Channels,
			BitDepth:   out.BitDepth,
			Float:      out.Float,
			Quality:    quality,
		})
	}
	return s
}

func (s *sink) Format() audio.Format {
	return s.out
}

// Frames returns the number of frames encoded so far.
func (s *sink) Frames() int64 {
	return s.frames
}

// prepare validates buf and converts it into the output format.
func (s *sink) prepare(buf audio.Buffer) (audio.Buffer, error) {
	if s.closed {
		return audio.Buffer{}, audio.NewError(audio.EncoderClosed, s.op, nil)
	}
	if err := buf.Validate(); err != nil {
		return audio.Buffer{}, audio.NewError(audio.UnsupportedFormat, s.op, err)
	}
	if buf.Format.SampleRate != s.in.SampleRate || buf.Format.Channels != s.in.Channels {
		return audio.Buffer{}, audio.Errorf(audio.UnsupportedFormat, s.op,
			"encoder opened for %s, got %s", s.in, buf.Format)
	}

	var out audio.Buffer
	if s.conv != nil {
		var err error
		if out, err = s.conv.Convert(buf); err != nil {
			return audio.Buffer{}, audio.NewError(audio.UnsupportedFormat, s.op, err)
		}
	} else {
		out = convert.Requantize(buf, s.out.BitDepth, s.out.Float)
	}
	out.Format = s.out
	s.frames += int64(out.NumFrames())
	return out, nil
}

// finish marks the encoder closed and returns any converter tail.
func (s *sink) finish() (audio.Buffer, error) {
	if s.closed {
		return audio.Buffer{}, audio.NewError(audio.EncoderClosed, s.op, nil)
	}
	s.closed = true

	tail := audio.Buffer{Format: s.out}
	if s.conv == nil {
		return tail, nil
	}
	flushed, err := s.conv.Flush()
	if err != nil {
		return tail, err
	}
	flushed.Format = s.out
	s.frames += int64(flushed.NumFrames())
	return flushed, nil
}

// canonicalInt is the integer output format for lossless containers.
func canonicalInt(in audio.Format, codec string, maxBits int) audio.Format {
	out := in
	out.Codec = codec
	if out.Float {
		out.Float = false
		out.BitDepth = 32
	}
	if out.BitDepth > maxBits {
		out.BitDepth = maxBits
	}
	return out
}
