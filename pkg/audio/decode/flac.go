// ABOUTME: FLAC decoder
// ABOUTME: Streams FLAC frames at their native depth with mewkiz/flac
package decode

import (
	"errors"
	"io"

	"github.com/mewkiz/flac"
	"github.com/mewkiz/flac/frame"

	"github.com/Resonate-Protocol/resonate-transcoder/internal/log"
	"github.com/Resonate-Protocol/resonate-transcoder/pkg/audio"
)

// FLAC decodes native FLAC streams.
type FLAC struct {
	base
	stream   *flac.Stream
	seekable bool
	shift    uint // widens depths like 12 or 20 bits to the next canonical depth
}

// NewFLAC parses the stream info block. Seekable sources use the seek table.
func NewFLAC(r io.Reader) (*FLAC, error) {
	var (
		stream *flac.Stream
		err    error
	)
	rs, seekable := r.(io.ReadSeeker)
	if seekable {
		stream, err = flac.NewSeek(rs)
	} else {
		stream, err = flac.New(r)
	}
	if err != nil {
		return nil, audio.NewError(audio.CorruptHeader, "flac: open", err)
	}

	info := stream.Info
	if info.NChannels == 0 || info.SampleRate == 0 || info.BitsPerSample == 0 {
		return nil, audio.Errorf(audio.CorruptHeader, "flac: open", "invalid stream info %+v", *info)
	}

	native := int(info.BitsPerSample)
	bits := clampBits(native)
	total := int64(info.NSamples)
	if total == 0 {
		total = -1
	}

	return &FLAC{
		base: base{
			op: "flac: decode",
			info: StreamInfo{
				Format: audio.Format{
					Codec:      "flac",
					SampleRate: int(info.SampleRate),
					Channels:   int(info.NChannels),
					BitDepth:   bits,
				},
				TotalFrames: total,
			},
		},
		stream:   stream,
		seekable: seekable,
		shift:    uint(bits - native),
	}, nil
}

// DecodeNext returns up to frameBudget frames.
func (f *FLAC) DecodeNext(frameBudget int) (audio.StreamFrame, error) {
	return f.next(frameBudget, f.fill)
}

func (f *FLAC) fill(int) error {
	fr, err := f.stream.ParseNext()
	if err != nil {
		if errors.Is(err, io.EOF) {
			return io.EOF
		}
		return err
	}
	if len(fr.Subframes) != f.info.Format.Channels {
		log.Warnf("flac: skipping frame %d with %d channels", fr.Num, len(fr.Subframes))
		return nil
	}
	f.pending = appendFrame(f.pending, fr, f.shift)
	return nil
}

// appendFrame interleaves a frame's subframes.
func appendFrame(dst []int32, fr *frame.Frame, shift uint) []int32 {
	n := int(fr.BlockSize)
	for i := 0; i < n; i++ {
		for _, sub := range fr.Subframes {
			dst = append(dst, sub.Samples[i]<<shift)
		}
	}
	return dst
}

// SeekFrame moves to an exact frame on seekable sources.
func (f *FLAC) SeekFrame(frame int64) error {
	if err := f.checkSeek(frame); err != nil {
		return err
	}
	if !f.seekable {
		return f.seekUnsupported("source is not seekable")
	}
	pos, err := f.stream.Seek(uint64(frame))
	if err != nil {
		return audio.NewError(audio.SeekUnsupported, f.op, err)
	}
	f.seeked(int64(pos))

	// The stream lands on the frame containing the target; drop the lead-in.
	for f.position < frame {
		fr, err := f.stream.ParseNext()
		if err != nil {
			return audio.NewError(audio.CorruptStream, f.op, err)
		}
		skip := frame - f.position
		block := int64(fr.BlockSize)
		if block <= skip {
			f.position += block
			continue
		}
		f.pending = appendFrame(nil, fr, f.shift)[skip*int64(f.info.Format.Channels):]
		f.position = frame
	}
	return nil
}

// Close releases the decoder. The source is left open for its owner.
func (f *FLAC) Close() error {
	f.close()
	return nil
}
