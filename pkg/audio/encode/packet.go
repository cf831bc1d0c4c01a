// ABOUTME: Packet encoders for network transports
// ABOUTME: Encodes buffers to self-contained PCM and Opus packets
package encode

import (
	"fmt"

	"gopkg.in/hraban/opus.v2"

	"github.com/Resonate-Protocol/resonate-transcoder/internal/log"
	"github.com/Resonate-Protocol/resonate-transcoder/pkg/audio"
	"github.com/Resonate-Protocol/resonate-transcoder/pkg/audio/convert"
)

const (
	// OpusMaxPacket is the largest packet libopus produces.
	OpusMaxPacket = 4000
	// OpusFrameMillis is the frame duration used for encoding.
	OpusFrameMillis = 20
)

// PacketEncoder produces one self-contained packet per call.
type PacketEncoder interface {
	Format() audio.Format
	Encode(buf audio.Buffer) ([]byte, error)
	Close() error
}

// PCMPacket encodes little-endian interleaved PCM.
type PCMPacket struct {
	format audio.Format
	raw    convert.RawFormat
}

// NewPCMPacket creates a new PCM packet encoder
func NewPCMPacket(format audio.Format) (*PCMPacket, error) {
	if format.Codec != "pcm" {
		return nil, fmt.Errorf("invalid codec for PCM encoder: %s", format.Codec)
	}
	if format.BitDepth != 16 && format.BitDepth != 24 {
		return nil, fmt.Errorf("unsupported bit depth: %d (supported: 16, 24)", format.BitDepth)
	}
	return &PCMPacket{format: format, raw: convert.RawFormatFor(format)}, nil
}

func (e *PCMPacket) Format() audio.Format {
	return e.format
}

// Encode converts samples to PCM bytes, requantizing to the packet depth
func (e *PCMPacket) Encode(buf audio.Buffer) ([]byte, error) {
	return convert.EncodeRaw(buf, e.raw), nil
}

func (e *PCMPacket) Close() error {
	return nil
}

// OpusPacket wraps a libopus encoder producing 20ms packets.
type OpusPacket struct {
	encoder   *opus.Encoder
	format    audio.Format
	frameSize int // samples per channel per packet
	pcm       []int16
	out       []byte
}

// NewOpusPacket creates an Opus encoder. A bitrate <= 0 uses 64 kbps per channel.
func NewOpusPacket(format audio.Format, bitrate int) (*OpusPacket, error) {
	if format.Codec != "opus" {
		return nil, fmt.Errorf("invalid codec for Opus encoder: %s", format.Codec)
	}

	encoder, err := opus.NewEncoder(format.SampleRate, format.Channels, opus.AppAudio)
	if err != nil {
		return nil, fmt.Errorf("failed to create opus encoder: %w", err)
	}

	if bitrate <= 0 {
		bitrate = 64000 * format.Channels
	}
	if err := encoder.SetBitrate(bitrate); err != nil {
		log.Warnf("opus: failed to set bitrate %d: %v", bitrate, err)
	}

	format.BitDepth = 16
	format.Float = false
	frameSize := format.SampleRate * OpusFrameMillis / 1000
	return &OpusPacket{
		encoder:   encoder,
		format:    format,
		frameSize: frameSize,
		pcm:       make([]int16, frameSize*format.Channels),
		out:       make([]byte, OpusMaxPacket),
	}, nil
}

func (e *OpusPacket) Format() audio.Format {
	return e.format
}

// FrameSize is the number of frames each packet must carry.
func (e *OpusPacket) FrameSize() int {
	return e.frameSize
}

// Encode encodes exactly one frame of FrameSize frames.
func (e *OpusPacket) Encode(buf audio.Buffer) ([]byte, error) {
	if buf.NumFrames() != e.frameSize || buf.Format.Channels != e.format.Channels {
		return nil, fmt.Errorf("opus packet needs %d frames of %d channels, got %d of %d",
			e.frameSize, e.format.Channels, buf.NumFrames(), buf.Format.Channels)
	}
	b := convert.Requantize(buf, 16, false)
	for i, s := range b.Samples {
		e.pcm[i] = int16(s)
	}
	return e.EncodeInt16(e.pcm)
}

// EncodeInt16 encodes one frame of interleaved 16-bit samples.
func (e *OpusPacket) EncodeInt16(pcm []int16) ([]byte, error) {
	n, err := e.encoder.Encode(pcm, e.out)
	if err != nil {
		return nil, fmt.Errorf("opus encode failed: %w", err)
	}
	packet := make([]byte, n)
	copy(packet, e.out[:n])
	return packet, nil
}

func (e *OpusPacket) Close() error {
	return nil
}
