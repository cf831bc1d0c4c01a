// ABOUTME: RAW PCM sample formats and byte-level transcoding
// ABOUTME: Maps headerless sample bytes to canonical buffers and between formats
package convert

import (
	"encoding/binary"
	"fmt"
	"math"
	"strings"

	"github.com/Resonate-Protocol/resonate-transcoder/pkg/audio"
)

// RawFormat is the encoding of one headerless little-endian sample.
type RawFormat int

const (
	Int8 RawFormat = iota
	UInt8
	Int16
	UInt16
	Int24
	Int32
	UInt32
	Float32
)

var rawNames = []string{"int8", "uint8", "int16", "uint16", "int24", "int32", "uint32", "float32"}

func (f RawFormat) String() string {
	if int(f) < len(rawNames) {
		return rawNames[f]
	}
	return fmt.Sprintf("RawFormat(%d)", int(f))
}

// ParseRawFormat accepts names like "int16" or "f32".
func ParseRawFormat(s string) (RawFormat, error) {
	s = strings.ToLower(s)
	switch s {
	case "s8":
		return Int8, nil
	case "u8":
		return UInt8, nil
	case "s16", "s16le":
		return Int16, nil
	case "u16", "u16le":
		return UInt16, nil
	case "s24", "s24le":
		return Int24, nil
	case "s32", "s32le":
		return Int32, nil
	case "u32", "u32le":
		return UInt32, nil
	case "f32", "f32le", "float":
		return Float32, nil
	}
	for i, name := range rawNames {
		if name == s {
			return RawFormat(i), nil
		}
	}
	return 0, fmt.Errorf("unknown raw format: %s", s)
}

// BytesPerSample returns the encoded width.
func (f RawFormat) BytesPerSample() int {
	switch f {
	case Int8, UInt8:
		return 1
	case Int16, UInt16:
		return 2
	case Int24:
		return 3
	}
	return 4
}

// BitDepth is the canonical integer depth the format decodes to.
func (f RawFormat) BitDepth() int {
	return f.BytesPerSample() * 8
}

// IsFloat reports whether samples are IEEE floats.
func (f RawFormat) IsFloat() bool {
	return f == Float32
}

// RawFormatFor picks the RAW format matching an audio format.
func RawFormatFor(format audio.Format) RawFormat {
	if format.Float {
		return Float32
	}
	switch format.BitDepth {
	case 8:
		return Int8
	case 24:
		return Int24
	case 32:
		return Int32
	}
	return Int16
}

// DecodeRaw converts little-endian sample bytes into a buffer of the given
// rate and channel count. Unsigned formats are re-centred around zero.
// Trailing bytes that do not form a whole frame are ignored.
func DecodeRaw(data []byte, f RawFormat, sampleRate, channels int) audio.Buffer {
	width := f.BytesPerSample()
	frameBytes := width * channels
	n := (len(data) / frameBytes) * channels

	buf := audio.Buffer{Format: audio.Format{
		Codec:      "raw",
		SampleRate: sampleRate,
		Channels:   channels,
		BitDepth:   f.BitDepth(),
		Float:      f.IsFloat(),
	}}

	if f.IsFloat() {
		buf.Floats = make([]float32, n)
		for i := 0; i < n; i++ {
			buf.Floats[i] = math.Float32frombits(binary.LittleEndian.Uint32(data[i*4:]))
		}
		return buf
	}

	buf.Samples = make([]int32, n)
	for i := 0; i < n; i++ {
		off := i * width
		switch f {
		case Int8:
			buf.Samples[i] = int32(int8(data[off]))
		case UInt8:
			buf.Samples[i] = int32(data[off]) - 128
		case Int16:
			buf.Samples[i] = int32(int16(binary.LittleEndian.Uint16(data[off:])))
		case UInt16:
			buf.Samples[i] = int32(binary.LittleEndian.Uint16(data[off:])) - 32768
		case Int24:
			buf.Samples[i] = audio.SampleFrom24Bit([3]byte{data[off], data[off+1], data[off+2]})
		case Int32:
			buf.Samples[i] = int32(binary.LittleEndian.Uint32(data[off:]))
		case UInt32:
			buf.Samples[i] = int32(binary.LittleEndian.Uint32(data[off:]) - 1<<31)
		}
	}
	return buf
}

// EncodeRaw serialises a buffer as little-endian samples in format f,
// requantizing first when the buffer depth differs.
func EncodeRaw(buf audio.Buffer, f RawFormat) []byte {
	buf = Requantize(buf, f.BitDepth(), f.IsFloat())
	width := f.BytesPerSample()
	out := make([]byte, buf.Len()*width)

	if f.IsFloat() {
		for i, s := range buf.Floats {
			binary.LittleEndian.PutUint32(out[i*4:], math.Float32bits(s))
		}
		return out
	}

	for i, s := range buf.Samples {
		off := i * width
		switch f {
		case Int8:
			out[off] = byte(int8(s))
		case UInt8:
			out[off] = byte(s + 128)
		case Int16:
			binary.LittleEndian.PutUint16(out[off:], uint16(int16(s)))
		case UInt16:
			binary.LittleEndian.PutUint16(out[off:], uint16(s+32768))
		case Int24:
			b := audio.SampleTo24Bit(s)
			copy(out[off:], b[:])
		case Int32:
			binary.LittleEndian.PutUint32(out[off:], uint32(s))
		case UInt32:
			binary.LittleEndian.PutUint32(out[off:], uint32(s)+1<<31)
		}
	}
	return out
}

// TranscodeRaw range-maps interleaved samples from one RAW format to another.
func TranscodeRaw(data []byte, from, to RawFormat) ([]byte, error) {
	if len(data)%from.BytesPerSample() != 0 {
		return nil, audio.Errorf(audio.CorruptStream, "raw: transcode",
			"%d bytes is not a multiple of the %s sample size", len(data), from)
	}
	if from == to {
		return append([]byte(nil), data...), nil
	}
	// Channel layout does not matter for a per-sample mapping.
	buf := DecodeRaw(data, from, 1, 1)
	return EncodeRaw(buf, to), nil
}
