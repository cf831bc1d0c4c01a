// ABOUTME: Ogg Vorbis decoder
// ABOUTME: Decodes Vorbis with jfreymuth/oggvorbis and quantizes to 16-bit
package decode

import (
	"errors"
	"io"

	"github.com/jfreymuth/oggvorbis"

	"github.com/Resonate-Protocol/resonate-transcoder/pkg/audio"
	"github.com/Resonate-Protocol/resonate-transcoder/pkg/audio/convert"
)

// Vorbis decodes Ogg Vorbis streams.
type Vorbis struct {
	base
	r        *oggvorbis.Reader
	seekable bool
	buf      []float32
}

// NewVorbis reads the three Vorbis header packets.
func NewVorbis(r io.Reader) (*Vorbis, error) {
	vr, err := oggvorbis.NewReader(r)
	if err != nil {
		return nil, audio.NewError(audio.CorruptHeader, "vorbis: open", err)
	}

	_, seekable := r.(io.Seeker)
	total := int64(-1)
	if l := vr.Length(); l > 0 {
		total = l
	}

	return &Vorbis{
		base: base{
			op: "vorbis: decode",
			info: StreamInfo{
				Format: audio.Format{
					Codec:      "vorbis",
					SampleRate: vr.SampleRate(),
					Channels:   vr.Channels(),
					BitDepth:   16,
				},
				TotalFrames: total,
			},
		},
		r:        vr,
		seekable: seekable,
	}, nil
}

// DecodeNext returns up to frameBudget frames.
func (v *Vorbis) DecodeNext(frameBudget int) (audio.StreamFrame, error) {
	return v.next(frameBudget, v.fill)
}

func (v *Vorbis) fill(want int) error {
	size := want - len(v.pending)
	if size < v.info.Format.Channels {
		size = v.info.Format.Channels
	}
	if cap(v.buf) < size {
		v.buf = make([]float32, size)
	}

	n, err := v.r.Read(v.buf[:size])
	for _, s := range v.buf[:n] {
		v.pending = append(v.pending, convert.FloatToInt(float64(s), 16))
	}

	if err == nil {
		return nil
	}
	if errors.Is(err, io.EOF) {
		return io.EOF
	}
	return err
}

// SeekFrame moves to an exact frame on seekable sources.
func (v *Vorbis) SeekFrame(frame int64) error {
	if err := v.checkSeek(frame); err != nil {
		return err
	}
	if !v.seekable {
		return v.seekUnsupported("source is not seekable")
	}
	if err := v.r.SetPosition(frame); err != nil {
		return audio.NewError(audio.SeekUnsupported, v.op, err)
	}
	v.seeked(frame)
	return nil
}

func (v *Vorbis) Close() error {
	v.close()
	return nil
}
