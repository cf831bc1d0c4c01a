// ABOUTME: Packet decoders for network transports
// ABOUTME: Decodes self-contained PCM and Opus packets into buffers
package decode

import (
	"fmt"

	"gopkg.in/hraban/opus.v2"

	"github.com/Resonate-Protocol/resonate-transcoder/pkg/audio"
	"github.com/Resonate-Protocol/resonate-transcoder/pkg/audio/convert"
)

// opusMaxFrame is the largest Opus frame: 120ms at 48kHz.
const opusMaxFrame = 5760

// PacketDecoder decodes packets that each carry whole frames, as received
// from WebSocket or RTP ingest.
type PacketDecoder interface {
	Format() audio.Format
	Decode(data []byte) (audio.Buffer, error)
	Close() error
}

// PCMPacket decodes little-endian interleaved PCM packets.
type PCMPacket struct {
	format audio.Format
	raw    convert.RawFormat
}

// NewPCMPacket creates a decoder for raw PCM packets
func NewPCMPacket(format audio.Format) (*PCMPacket, error) {
	if format.Codec != "pcm" {
		return nil, fmt.Errorf("invalid codec for PCM decoder: %s", format.Codec)
	}
	if err := format.Validate(); err != nil {
		return nil, err
	}
	return &PCMPacket{format: format, raw: convert.RawFormatFor(format)}, nil
}

func (d *PCMPacket) Format() audio.Format {
	return d.format
}

// Decode converts PCM bytes to samples. A trailing partial frame is dropped.
func (d *PCMPacket) Decode(data []byte) (audio.Buffer, error) {
	buf := convert.DecodeRaw(data, d.raw, d.format.SampleRate, d.format.Channels)
	buf.Format.Codec = d.format.Codec
	return buf, nil
}

func (d *PCMPacket) Close() error {
	return nil
}

// OpusPacket decodes individual Opus packets.
type OpusPacket struct {
	decoder *opus.Decoder
	format  audio.Format
	pcm     []int16
}

// NewOpusPacket creates a new Opus packet decoder
func NewOpusPacket(format audio.Format) (*OpusPacket, error) {
	if format.Codec != "opus" {
		return nil, fmt.Errorf("invalid codec for Opus decoder: %s", format.Codec)
	}

	dec, err := opus.NewDecoder(format.SampleRate, format.Channels)
	if err != nil {
		return nil, fmt.Errorf("failed to create opus decoder: %w", err)
	}

	format.BitDepth = 16
	format.Float = false
	return &OpusPacket{
		decoder: dec,
		format:  format,
		pcm:     make([]int16, opusMaxFrame*format.Channels),
	}, nil
}

func (d *OpusPacket) Format() audio.Format {
	return d.format
}

// Decode converts one Opus packet to 16-bit samples
func (d *OpusPacket) Decode(data []byte) (audio.Buffer, error) {
	n, err := d.decoder.Decode(data, d.pcm)
	if err != nil {
		return audio.Buffer{}, fmt.Errorf("opus decode failed: %w", err)
	}

	samples := make([]int32, n*d.format.Channels)
	for i := range samples {
		samples[i] = int32(d.pcm[i])
	}
	return audio.Buffer{Format: d.format, Samples: samples}, nil
}

func (d *OpusPacket) Close() error {
	return nil
}
