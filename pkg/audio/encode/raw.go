// ABOUTME: Headerless PCM encoder
// ABOUTME: Writes interleaved little-endian samples in a RAW format
package encode

import (
	"io"

	"github.com/Resonate-Protocol/resonate-transcoder/pkg/audio"
	"github.com/Resonate-Protocol/resonate-transcoder/pkg/audio/convert"
)

// Raw writes samples with no header.
type Raw struct {
	sink
	w   io.Writer
	raw convert.RawFormat
}

// NewRaw writes buffers in format as RAW samples of kind f.
func NewRaw(w io.Writer, format audio.Format, f convert.RawFormat, opts Options) (*Raw, error) {
	if err := format.Validate(); err != nil {
		return nil, audio.NewError(audio.UnsupportedFormat, "raw: open", err)
	}
	out := format
	out.Codec = "raw"
	out.BitDepth = f.BitDepth()
	out.Float = f.IsFloat()
	return &Raw{
		sink: newSink("raw: encode", format, out, opts.Resample),
		w:    w,
		raw:  f,
	}, nil
}

// RawFormat returns the sample encoding.
func (e *Raw) RawFormat() convert.RawFormat {
	return e.raw
}

func (e *Raw) Encode(buf audio.Buffer) error {
	b, err := e.prepare(buf)
	if err != nil {
		return err
	}
	return e.write(b)
}

func (e *Raw) write(b audio.Buffer) error {
	if b.Len() == 0 {
		return nil
	}
	_, err := e.w.Write(convert.EncodeRaw(b, e.raw))
	return err
}

func (e *Raw) Close() error {
	tail, err := e.finish()
	if err != nil {
		return err
	}
	return e.write(tail)
}
