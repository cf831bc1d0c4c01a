// ABOUTME: Headerless PCM decoder
// ABOUTME: Reads interleaved RAW samples with a declared rate and channel count
package decode

import (
	"fmt"
	"io"

	"github.com/Resonate-Protocol/resonate-transcoder/pkg/audio"
	"github.com/Resonate-Protocol/resonate-transcoder/pkg/audio/convert"
)

// Raw decodes headerless PCM.
type Raw struct {
	base
	r          io.Reader
	seeker     io.Seeker
	raw        convert.RawFormat
	frameBytes int
	buf        []byte
}

// NewRaw wraps r as a stream of samples in format f.
func NewRaw(r io.Reader, f convert.RawFormat, sampleRate, channels int) (*Raw, error) {
	format := audio.Format{Codec: "raw", SampleRate: sampleRate, Channels: channels, BitDepth: f.BitDepth()}
	if f.IsFloat() {
		format.BitDepth = 32
	}
	if err := format.Validate(); err != nil {
		return nil, audio.NewError(audio.CorruptHeader, "raw: open", err)
	}

	d := &Raw{
		base: base{
			op:   "raw: decode",
			info: StreamInfo{Format: format, TotalFrames: -1},
		},
		r:          r,
		raw:        f,
		frameBytes: f.BytesPerSample() * channels,
	}

	if s, ok := r.(io.Seeker); ok {
		cur, err := s.Seek(0, io.SeekCurrent)
		if err == nil {
			var end int64
			if end, err = s.Seek(0, io.SeekEnd); err == nil {
				_, err = s.Seek(cur, io.SeekStart)
			}
			if err == nil && cur == 0 {
				d.seeker = s
				d.info.TotalFrames = end / int64(d.frameBytes)
			}
		}
	}
	return d, nil
}

// DecodeNext returns up to frameBudget frames. A trailing partial frame is
// reported as a partial decode.
func (d *Raw) DecodeNext(frameBudget int) (audio.StreamFrame, error) {
	return d.next(frameBudget, d.fill)
}

func (d *Raw) fill(want int) error {
	frames := (want - len(d.pending)) / d.info.Format.Channels
	if frames <= 0 {
		frames = 1
	}
	size := frames * d.frameBytes
	if cap(d.buf) < size {
		d.buf = make([]byte, size)
	}

	n, err := io.ReadFull(d.r, d.buf[:size])
	whole := n - n%d.frameBytes
	if whole > 0 {
		buf := convert.DecodeRaw(d.buf[:whole], d.raw, d.info.Format.SampleRate, d.info.Format.Channels)
		if buf.Format.Float {
			d.pending = append(d.pending, convert.FloatsToInts(buf.Floats, 32)...)
		} else {
			d.pending = append(d.pending, buf.Samples...)
		}
	}

	switch err {
	case nil:
		return nil
	case io.EOF:
		return io.EOF
	case io.ErrUnexpectedEOF:
		if n != whole {
			return fmt.Errorf("%d trailing bytes do not form a frame", n-whole)
		}
		return io.EOF
	}
	return err
}

// SeekFrame moves to an exact frame when the source is seekable from its start.
func (d *Raw) SeekFrame(frame int64) error {
	if err := d.checkSeek(frame); err != nil {
		return err
	}
	if d.seeker == nil {
		return d.seekUnsupported("source is not seekable")
	}
	if _, err := d.seeker.Seek(frame*int64(d.frameBytes), io.SeekStart); err != nil {
		return audio.NewError(audio.SeekUnsupported, d.op, err)
	}
	d.seeked(frame)
	return nil
}

func (d *Raw) Close() error {
	d.close()
	return nil
}
