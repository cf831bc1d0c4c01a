// ABOUTME: Ogg Opus decoder
// ABOUTME: Demuxes Ogg pages and decodes Opus packets at 48kHz honouring pre-skip
package decode

import (
	"errors"
	"fmt"
	"io"

	"github.com/Resonate-Protocol/resonate-transcoder/internal/log"
	"github.com/Resonate-Protocol/resonate-transcoder/internal/ogg"
	"github.com/Resonate-Protocol/resonate-transcoder/pkg/audio"
)

// OpusRate is the only rate Ogg Opus decodes at.
const OpusRate = 48000

// Opus decodes Ogg Opus files.
type Opus struct {
	base
	r       *ogg.Reader
	packets *OpusPacket
	skip    int    // pre-skip frames still to drop
	decoded uint64 // granule position of decoded output, pre-skip included
	dropped int
}

// NewOpus reads the identification and comment headers.
func NewOpus(r io.Reader) (*Opus, error) {
	const op = "opus: open"

	rd := ogg.NewReader(r)
	p, err := rd.ReadPacket()
	if err != nil {
		return nil, audio.NewError(audio.CorruptHeader, op, err)
	}
	head, err := ogg.ParseOpusHead(p.Data)
	if err != nil {
		return nil, audio.NewError(audio.CorruptHeader, op, err)
	}
	if head.MappingFamily != 0 || head.Channels > 2 {
		return nil, audio.Errorf(audio.UnsupportedFeature, op,
			"channel mapping family %d with %d channels", head.MappingFamily, head.Channels)
	}

	tags, err := rd.ReadPacket()
	if err != nil {
		return nil, audio.NewError(audio.CorruptHeader, op, err)
	}
	if !ogg.IsOpusTags(tags.Data) {
		return nil, audio.Errorf(audio.CorruptHeader, op, "second packet is not OpusTags")
	}

	format := audio.Format{Codec: "opus", SampleRate: OpusRate, Channels: int(head.Channels), BitDepth: 16}
	packets, err := NewOpusPacket(format)
	if err != nil {
		return nil, audio.NewError(audio.UnsupportedFeature, op, err)
	}

	return &Opus{
		base: base{
			op:   "opus: decode",
			info: StreamInfo{Format: format, TotalFrames: -1},
		},
		r:       rd,
		packets: packets,
		skip:    int(head.PreSkip),
	}, nil
}

// DecodeNext returns up to frameBudget frames.
func (o *Opus) DecodeNext(frameBudget int) (audio.StreamFrame, error) {
	return o.next(frameBudget, o.fill)
}

func (o *Opus) fill(int) error {
	p, err := o.r.ReadPacket()
	if err != nil {
		if errors.Is(err, io.EOF) {
			return io.EOF
		}
		return err
	}
	if len(p.Data) == 0 {
		return o.endOf(p)
	}

	buf, err := o.packets.Decode(p.Data)
	if err != nil {
		// A bad packet does not desynchronise the stream.
		o.dropped++
		log.Warnf("opus: skipping packet: %v", err)
		return o.endOf(p)
	}

	ch := o.info.Format.Channels
	samples := buf.Samples
	frames := len(samples) / ch
	start := o.decoded
	o.decoded += uint64(frames)

	// The final page's granule marks where the real audio ends.
	if p.EOS && p.Granule != ogg.NoGranule && o.decoded > p.Granule {
		keep := int64(p.Granule) - int64(start)
		if keep < 0 {
			keep = 0
		}
		samples = samples[:int(keep)*ch]
	}

	if o.skip > 0 {
		drop := o.skip
		if drop > len(samples)/ch {
			drop = len(samples) / ch
		}
		samples = samples[drop*ch:]
		o.skip -= drop
	}

	o.pending = append(o.pending, samples...)
	return o.endOf(p)
}

func (o *Opus) endOf(p ogg.Packet) error {
	if !p.EOS {
		return nil
	}
	if o.dropped > 0 && o.produced == 0 && len(o.pending) == 0 {
		return fmt.Errorf("none of %d audio packets decoded", o.dropped)
	}
	return io.EOF
}

// Dropped reports how many packets failed to decode and were skipped.
func (o *Opus) Dropped() int {
	return o.dropped
}

// SeekFrame is not supported: there is no seek index in an Ogg Opus stream.
func (o *Opus) SeekFrame(int64) error {
	if o.closed {
		return ErrClosed
	}
	return o.seekUnsupported("ogg opus has no seek index")
}

func (o *Opus) Close() error {
	o.close()
	return o.packets.Close()
}
