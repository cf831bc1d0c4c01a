// ABOUTME: FLAC encoder
// ABOUTME: Writes lossless FLAC in fixed 4096-frame blocks with mewkiz/flac
package encode

import (
	"io"

	"github.com/mewkiz/flac"
	"github.com/mewkiz/flac/frame"
	"github.com/mewkiz/flac/meta"

	"github.com/Resonate-Protocol/resonate-transcoder/pkg/audio"
)

const (
	flacBlockSize   = 4096
	flacMaxChannels = 8
	flacMaxBits     = 24
)

// FLAC encodes lossless FLAC using verbatim and constant subframes.
type FLAC struct {
	sink
	enc     *flac.Encoder
	pending []int32
	num     uint64
}

// NewFLAC writes the stream header to w. On an io.WriteSeeker the stream
// info (sample count and MD5) is rewritten on Close.
func NewFLAC(w io.Writer, format audio.Format, opts Options) (*FLAC, error) {
	const op = "flac: open"
	out := canonicalInt(format, "flac", flacMaxBits)
	if err := out.Validate(); err != nil {
		return nil, audio.NewError(audio.UnsupportedFormat, op, err)
	}
	if out.Channels > flacMaxChannels {
		return nil, audio.Errorf(audio.UnsupportedFeature, op, "%d channels exceeds %d", out.Channels, flacMaxChannels)
	}

	info := &meta.StreamInfo{
		BlockSizeMin:  flacBlockSize,
		BlockSizeMax:  flacBlockSize,
		SampleRate:    uint32(out.SampleRate),
		NChannels:     uint8(out.Channels),
		BitsPerSample: uint8(out.BitDepth),
	}
	enc, err := flac.NewEncoder(keepOpen(w), info)
	if err != nil {
		return nil, audio.NewError(audio.UnsupportedFormat, op, err)
	}

	return &FLAC{
		sink: newSink("flac: encode", format, out, opts.Resample),
		enc:  enc,
	}, nil
}

// Encode buffers samples and writes every complete block.
func (e *FLAC) Encode(buf audio.Buffer) error {
	b, err := e.prepare(buf)
	if err != nil {
		return err
	}
	e.pending = append(e.pending, b.Samples...)
	return e.writeBlocks(false)
}

func (e *FLAC) writeBlocks(final bool) error {
	ch := e.out.Channels
	for len(e.pending) >= flacBlockSize*ch || (final && len(e.pending) > 0) {
		n := flacBlockSize
		if len(e.pending) < n*ch {
			n = len(e.pending) / ch
		}
		if err := e.writeFrame(e.pending[:n*ch], n); err != nil {
			return err
		}
		e.pending = e.pending[n*ch:]
	}
	if len(e.pending) == 0 {
		e.pending = nil
	}
	return nil
}

func (e *FLAC) writeFrame(interleaved []int32, n int) error {
	ch := e.out.Channels
	subframes := make([]*frame.Subframe, ch)
	for c := 0; c < ch; c++ {
		samples := make([]int32, n)
		constant := true
		for i := 0; i < n; i++ {
			samples[i] = interleaved[i*ch+c]
			if samples[i] != samples[0] {
				constant = false
			}
		}
		pred := frame.PredVerbatim
		if constant {
			pred = frame.PredConstant
		}
		subframes[c] = &frame.Subframe{
			SubHeader: frame.SubHeader{Pred: pred},
			Samples:   samples,
			NSamples:  n,
		}
	}

	fr := &frame.Frame{
		Header: frame.Header{
			HasFixedBlockSize: true,
			BlockSize:         uint16(n),
			SampleRate:        uint32(e.out.SampleRate),
			Channels:          frame.Channels(ch - 1),
			BitsPerSample:     uint8(e.out.BitDepth),
			Num:               e.num,
		},
		Subframes: subframes,
	}
	if err := e.enc.WriteFrame(fr); err != nil {
		return audio.NewError(audio.CorruptStream, e.op, err)
	}
	e.num++
	return nil
}

// Close writes the final short block and the stream trailer.
func (e *FLAC) Close() error {
	tail, err := e.finish()
	if err != nil {
		return err
	}
	e.pending = append(e.pending, tail.Samples...)
	if err := e.writeBlocks(true); err != nil {
		return err
	}
	return e.enc.Close()
}

// keepOpen hides any Close method so finalizing the encoder leaves the
// caller's sink open, while keeping Seek for the stream info rewrite.
func keepOpen(w io.Writer) io.Writer {
	if ws, ok := w.(io.WriteSeeker); ok {
		return struct{ io.WriteSeeker }{ws}
	}
	return struct{ io.Writer }{w}
}
