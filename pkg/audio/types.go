// ABOUTME: Audio type definitions
// ABOUTME: Defines canonical PCM formats, buffers and stream frames
package audio

import "fmt"

const (
	// 24-bit audio range constants
	Max24Bit = 8388607  // 2^23 - 1
	Min24Bit = -8388608 // -2^23
)

// Format describes a PCM stream or the format a codec produces.
type Format struct {
	Codec      string
	SampleRate int
	Channels   int
	BitDepth   int  // 8, 16, 24 or 32 for integer samples; 32 when Float
	Float      bool // samples live in Buffer.Floats in [-1, 1]
}

// Validate checks that the format describes usable PCM.
func (f Format) Validate() error {
	if f.SampleRate <= 0 {
		return fmt.Errorf("invalid sample rate: %d", f.SampleRate)
	}
	if f.Channels <= 0 || f.Channels > 255 {
		return fmt.Errorf("invalid channel count: %d", f.Channels)
	}
	if f.Float {
		return nil
	}
	switch f.BitDepth {
	case 8, 16, 24, 32:
		return nil
	}
	return fmt.Errorf("unsupported bit depth: %d (supported: 8, 16, 24, 32)", f.BitDepth)
}

// BytesPerFrame is the interleaved size of one frame at this format's depth.
func (f Format) BytesPerFrame() int {
	if f.Float {
		return 4 * f.Channels
	}
	return (f.BitDepth / 8) * f.Channels
}

func (f Format) String() string {
	depth := fmt.Sprintf("%dbit", f.BitDepth)
	if f.Float {
		depth = "float32"
	}
	return fmt.Sprintf("%s %dHz/%s/%dch", f.Codec, f.SampleRate, depth, f.Channels)
}

// Buffer holds interleaved PCM audio.
//
// Integer samples hold values in the signed range of Format.BitDepth.
// Exactly one of Samples or Floats is populated depending on Format.Float.
// A Buffer published to a consumer must not be mutated.
type Buffer struct {
	Format    Format
	Samples   []int32
	Floats    []float32
	Timestamp int64 // frame offset of the first frame in its stream
}

// Len returns the number of interleaved samples.
func (b Buffer) Len() int {
	if b.Format.Float {
		return len(b.Floats)
	}
	return len(b.Samples)
}

// NumFrames returns the number of frames across all channels.
func (b Buffer) NumFrames() int {
	if b.Format.Channels == 0 {
		return 0
	}
	return b.Len() / b.Format.Channels
}

// Duration in seconds.
func (b Buffer) Duration() float64 {
	if b.Format.SampleRate == 0 {
		return 0
	}
	return float64(b.NumFrames()) / float64(b.Format.SampleRate)
}

// Validate enforces len(samples) == numFrames * numChannels.
func (b Buffer) Validate() error {
	if err := b.Format.Validate(); err != nil {
		return err
	}
	if b.Len()%b.Format.Channels != 0 {
		return fmt.Errorf("sample count %d is not a multiple of %d channels", b.Len(), b.Format.Channels)
	}
	if b.Format.Float && b.Samples != nil {
		return fmt.Errorf("float buffer carries integer samples")
	}
	if !b.Format.Float && b.Floats != nil {
		return fmt.Errorf("integer buffer carries float samples")
	}
	return nil
}

// Slice returns frames [from, to) sharing the underlying storage.
func (b Buffer) Slice(from, to int) Buffer {
	ch := b.Format.Channels
	out := Buffer{Format: b.Format, Timestamp: b.Timestamp + int64(from)}
	if b.Format.Float {
		out.Floats = b.Floats[from*ch : to*ch]
	} else {
		out.Samples = b.Samples[from*ch : to*ch]
	}
	return out
}

// Append copies the samples of other onto b. Formats must match.
func (b *Buffer) Append(other Buffer) error {
	if b.Format.SampleRate != other.Format.SampleRate ||
		b.Format.Channels != other.Format.Channels ||
		b.Format.BitDepth != other.Format.BitDepth ||
		b.Format.Float != other.Format.Float {
		return fmt.Errorf("cannot append %s to %s", other.Format, b.Format)
	}
	if b.Format.Float {
		b.Floats = append(b.Floats, other.Floats...)
	} else {
		b.Samples = append(b.Samples, other.Samples...)
	}
	return nil
}

// Clone returns a deep copy.
func (b Buffer) Clone() Buffer {
	out := Buffer{Format: b.Format, Timestamp: b.Timestamp}
	if b.Samples != nil {
		out.Samples = append([]int32(nil), b.Samples...)
	}
	if b.Floats != nil {
		out.Floats = append([]float32(nil), b.Floats...)
	}
	return out
}

// StreamFrame is a chunk of PCM passed between pipeline stages.
// Seq increases by one for every frame a producer emits.
type StreamFrame struct {
	Seq uint64
	Buffer
}

// MaxSample returns the largest positive integer value at bitDepth.
func MaxSample(bitDepth int) int32 {
	if bitDepth >= 32 {
		return 1<<31 - 1
	}
	return 1<<(bitDepth-1) - 1
}

// SampleToInt16 converts a sample at bitDepth to int16
func SampleToInt16(sample int32, bitDepth int) int16 {
	switch {
	case bitDepth > 16:
		return int16(sample >> (bitDepth - 16))
	case bitDepth < 16:
		return int16(sample << (16 - bitDepth))
	}
	return int16(sample)
}

// SampleFromInt16 converts an int16 sample to bitDepth
func SampleFromInt16(sample int16, bitDepth int) int32 {
	switch {
	case bitDepth > 16:
		return int32(sample) << (bitDepth - 16)
	case bitDepth < 16:
		return int32(sample) >> (16 - bitDepth)
	}
	return int32(sample)
}

// SampleTo24Bit converts int32 to 24-bit packed bytes (little-endian)
func SampleTo24Bit(sample int32) [3]byte {
	return [3]byte{
		byte(sample),
		byte(sample >> 8),
		byte(sample >> 16),
	}
}

// SampleFrom24Bit converts 24-bit packed bytes to int32 (little-endian)
func SampleFrom24Bit(b [3]byte) int32 {
	val := int32(b[0]) | int32(b[1])<<8 | int32(b[2])<<16
	// Sign extend from 24-bit to 32-bit
	if val&0x800000 != 0 {
		val |= ^0xFFFFFF
	}
	return val
}
