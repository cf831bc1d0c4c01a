// ABOUTME: Ogg Opus identification and comment headers
// ABOUTME: Parses and builds OpusHead and OpusTags packets (RFC 7845)
package ogg

import (
	"bytes"
	"encoding/binary"
	"errors"
)

const (
	opusHeadMagic = "OpusHead"
	opusTagsMagic = "OpusTags"
	opusHeadSize  = 19
)

// ErrNotOpusHead is returned when the first packet is not an OpusHead.
var ErrNotOpusHead = errors.New("ogg: not an OpusHead packet")

// OpusHead is the Ogg Opus identification header.
type OpusHead struct {
	Version         uint8
	Channels        uint8
	PreSkip         uint16
	InputSampleRate uint32
	OutputGain      int16
	MappingFamily   uint8
}

// IsOpusHead reports whether data starts with the OpusHead magic.
func IsOpusHead(data []byte) bool {
	return bytes.HasPrefix(data, []byte(opusHeadMagic))
}

// ParseOpusHead decodes an identification header packet.
func ParseOpusHead(data []byte) (OpusHead, error) {
	if !IsOpusHead(data) {
		return OpusHead{}, ErrNotOpusHead
	}
	if len(data) < opusHeadSize {
		return OpusHead{}, ErrInvalidPage
	}
	h := OpusHead{
		Version:         data[8],
		Channels:        data[9],
		PreSkip:         binary.LittleEndian.Uint16(data[10:12]),
		InputSampleRate: binary.LittleEndian.Uint32(data[12:16]),
		OutputGain:      int16(binary.LittleEndian.Uint16(data[16:18])),
		MappingFamily:   data[18],
	}
	if h.Version>>4 != 0 || h.Channels == 0 {
		return OpusHead{}, ErrNotOpusHead
	}
	return h, nil
}

// Encode serialises the header. Only mapping family 0 is produced.
func (h OpusHead) Encode() []byte {
	data := make([]byte, opusHeadSize)
	copy(data, opusHeadMagic)
	data[8] = h.Version
	data[9] = h.Channels
	binary.LittleEndian.PutUint16(data[10:12], h.PreSkip)
	binary.LittleEndian.PutUint32(data[12:16], h.InputSampleRate)
	binary.LittleEndian.PutUint16(data[16:18], uint16(h.OutputGain))
	data[18] = h.MappingFamily
	return data
}

// OpusTags builds a comment header with the vendor string and no comments.
func OpusTags(vendor string) []byte {
	data := make([]byte, 8+4+len(vendor)+4)
	copy(data, opusTagsMagic)
	binary.LittleEndian.PutUint32(data[8:12], uint32(len(vendor)))
	copy(data[12:], vendor)
	return data
}

// IsOpusTags reports whether data starts with the OpusTags magic.
func IsOpusTags(data []byte) bool {
	return bytes.HasPrefix(data, []byte(opusTagsMagic))
}
