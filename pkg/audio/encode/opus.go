// ABOUTME: Ogg Opus encoder
// ABOUTME: Resamples to 48kHz, encodes 20ms packets and muxes them into Ogg pages
package encode

import (
	"io"

	"github.com/google/uuid"

	"github.com/Resonate-Protocol/resonate-transcoder/internal/ogg"
	"github.com/Resonate-Protocol/resonate-transcoder/pkg/audio"
)

const (
	opusRate = 48000
	// opusPreSkip is the libopus encoder delay at 48kHz.
	opusPreSkip = 312
	opusVendor  = "resonate-transcoder"
)

// Opus encodes Ogg Opus files.
type Opus struct {
	sink
	packets *OpusPacket
	ogg     *ogg.Writer
	pending []int16
	held    []byte // last packet, written once we know whether it ends the stream
	granule uint64 // output samples encoded so far, pre-skip included
	input   uint64 // input frames at 48kHz
}

// OpusBitrate maps quality 1-100 to a bitrate; 0 keeps the 64 kbps per
// channel default.
func OpusBitrate(quality, channels int) int {
	if quality <= 0 {
		return 64000 * channels
	}
	if quality > 100 {
		quality = 100
	}
	return channels * (12000 + quality*1880)
}

// NewOpus writes the Opus headers to w. Input is resampled to 48kHz and
// mixed down to at most two channels.
func NewOpus(w io.Writer, format audio.Format, opts Options) (*Opus, error) {
	const op = "opus: open"
	if err := format.Validate(); err != nil {
		return nil, audio.NewError(audio.UnsupportedFormat, op, err)
	}

	channels := format.Channels
	if channels > 2 {
		channels = 2
	}
	out := audio.Format{Codec: "opus", SampleRate: opusRate, Channels: channels, BitDepth: 16}

	bitrate := opts.Bitrate
	if bitrate <= 0 {
		bitrate = OpusBitrate(opts.Quality, channels)
	}
	packets, err := NewOpusPacket(out, bitrate)
	if err != nil {
		return nil, audio.NewError(audio.UnsupportedFormat, op, err)
	}

	e := &Opus{
		sink:    newSink("opus: encode", format, out, opts.Resample),
		packets: packets,
		ogg:     ogg.NewWriter(w, uuid.New().ID()),
	}

	head := ogg.OpusHead{
		Version:         1,
		Channels:        uint8(channels),
		PreSkip:         opusPreSkip,
		InputSampleRate: uint32(format.SampleRate),
	}
	if err := e.ogg.WritePacket(head.Encode(), 0, false); err != nil {
		return nil, err
	}
	if err := e.ogg.WritePacket(ogg.OpusTags(opusVendor), 0, false); err != nil {
		return nil, err
	}
	return e, nil
}

// Encode buffers samples and emits every complete 20ms packet.
func (e *Opus) Encode(buf audio.Buffer) error {
	b, err := e.prepare(buf)
	if err != nil {
		return err
	}
	e.push(b)
	return e.drain()
}

func (e *Opus) push(b audio.Buffer) {
	for _, s := range b.Samples {
		e.pending = append(e.pending, int16(s))
	}
	e.input += uint64(b.NumFrames())
}

func (e *Opus) drain() error {
	size := e.packets.FrameSize() * e.out.Channels
	for len(e.pending) >= size {
		if err := e.encodeFrame(e.pending[:size]); err != nil {
			return err
		}
		e.pending = e.pending[size:]
	}
	return nil
}

func (e *Opus) encodeFrame(pcm []int16) error {
	packet, err := e.packets.EncodeInt16(pcm)
	if err != nil {
		return audio.NewError(audio.CorruptStream, e.op, err)
	}
	if e.held != nil {
		if err := e.ogg.WritePacket(e.held, e.granule, false); err != nil {
			return err
		}
	}
	e.held = packet
	e.granule += uint64(e.packets.FrameSize())
	return nil
}

// Close pads the last packet, flushes the encoder delay and writes the
// end-of-stream page whose granule marks the exact length.
func (e *Opus) Close() error {
	tail, err := e.finish()
	if err != nil {
		return err
	}
	e.push(tail)

	frame := e.packets.FrameSize()
	end := e.input + opusPreSkip
	for e.granule < end || e.held == nil {
		missing := frame*e.out.Channels - len(e.pending)
		if missing > 0 {
			e.pending = append(e.pending, make([]int16, missing)...)
		}
		if err := e.drain(); err != nil {
			return err
		}
	}
	return e.ogg.WritePacket(e.held, end, true)
}
