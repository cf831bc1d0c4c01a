// ABOUTME: Bink Audio container parser
// ABOUTME: Reads UEBA headers; bitstream decoding needs a platform codec
package decode

import (
	"bytes"
	"encoding/binary"
	"io"

	"github.com/Resonate-Protocol/resonate-transcoder/pkg/audio"
)

// Magic values recognised as Bink.
var (
	BinkAudioMagic = []byte("ABEU") // "UEBA" stored little-endian
	BinkVideoMagic = []byte("BIK")
	Bink2Magic     = []byte("KB2")
)

const binkHeaderSize = 28

// BinkHeader is the fixed header of a standalone Bink Audio file.
type BinkHeader struct {
	Version          uint8
	Channels         uint8
	SampleRate       uint16
	SampleCount      uint32
	MaxCompSpace     uint16
	Flags            uint16
	OutputReserve    uint32
	EncodedSize      uint32
	SeekEntries      uint16
	BlocksPerSeekEnt uint16
}

// ParseBinkHeader decodes the header at the start of data.
func ParseBinkHeader(data []byte) (BinkHeader, error) {
	const op = "bink: open"
	if bytes.HasPrefix(data, BinkVideoMagic) || bytes.HasPrefix(data, Bink2Magic) {
		return BinkHeader{}, audio.Errorf(audio.UnsupportedFeature, op, "bink video containers are not supported")
	}
	if !bytes.HasPrefix(data, BinkAudioMagic) {
		return BinkHeader{}, audio.Errorf(audio.CorruptHeader, op, "missing UEBA tag")
	}
	if len(data) < binkHeaderSize {
		return BinkHeader{}, audio.Errorf(audio.CorruptHeader, op, "header is %d bytes, need %d", len(data), binkHeaderSize)
	}

	le := binary.LittleEndian
	h := BinkHeader{
		Version:          data[4],
		Channels:         data[5],
		SampleRate:       le.Uint16(data[6:]),
		SampleCount:      le.Uint32(data[8:]),
		MaxCompSpace:     le.Uint16(data[12:]),
		Flags:            le.Uint16(data[14:]),
		OutputReserve:    le.Uint32(data[16:]),
		EncodedSize:      le.Uint32(data[20:]),
		SeekEntries:      le.Uint16(data[24:]),
		BlocksPerSeekEnt: le.Uint16(data[26:]),
	}
	if h.Channels == 0 || h.SampleRate == 0 {
		return BinkHeader{}, audio.Errorf(audio.CorruptHeader, op, "invalid header: %d channels at %d Hz", h.Channels, h.SampleRate)
	}
	return h, nil
}

// Bink exposes Bink Audio header information. Decoding the bitstream is not
// available; register a replacement decoder in the codec registry for that.
type Bink struct {
	base
	Header BinkHeader
}

// NewBink parses the container header.
func NewBink(r io.Reader) (*Bink, error) {
	data := make([]byte, binkHeaderSize)
	n, err := io.ReadFull(r, data)
	if err != nil && err != io.ErrUnexpectedEOF && err != io.EOF {
		return nil, audio.NewError(audio.CorruptHeader, "bink: open", err)
	}
	h, err := ParseBinkHeader(data[:n])
	if err != nil {
		return nil, err
	}

	return &Bink{
		base: base{
			op: "bink: decode",
			info: StreamInfo{
				Format: audio.Format{
					Codec:      "bink",
					SampleRate: int(h.SampleRate),
					Channels:   int(h.Channels),
					BitDepth:   16,
				},
				TotalFrames: int64(h.SampleCount),
			},
		},
		Header: h,
	}, nil
}

// DecodeNext always fails: the bitstream codec is platform provided.
func (b *Bink) DecodeNext(int) (audio.StreamFrame, error) {
	if b.closed {
		return audio.StreamFrame{}, ErrClosed
	}
	return audio.StreamFrame{}, audio.Errorf(audio.UnsupportedFeature, b.op, "bink audio bitstream decoding is not available")
}

func (b *Bink) SeekFrame(int64) error {
	return b.seekUnsupported("bink audio bitstream decoding is not available")
}

func (b *Bink) Close() error {
	b.close()
	return nil
}
