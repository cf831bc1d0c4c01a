// ABOUTME: Tests for the WAV decoder
// ABOUTME: Covers lengths, header repair, truncation and seeking
package decode

import (
	"bytes"
	"encoding/binary"
	"errors"
	"io"
	"math"
	"testing"

	"github.com/Resonate-Protocol/resonate-transcoder/pkg/audio"
)

// onlyReader hides Seek so decoders see a forward-only stream.
type onlyReader struct{ r io.Reader }

func (o onlyReader) Read(p []byte) (int, error) { return o.r.Read(p) }

// makeWAV builds a canonical 44-byte header WAV. dataSize overrides the
// declared data chunk size when non-zero.
func makeWAV(rate, channels, bits, format int, data []byte, dataSize uint32) []byte {
	if dataSize == 0 {
		dataSize = uint32(len(data))
	}
	riffSize := uint32(36) + dataSize
	if dataSize == 0xFFFFFFFF {
		riffSize = 0xFFFFFFFF
	}

	var b bytes.Buffer
	le := binary.LittleEndian
	b.WriteString("RIFF")
	binary.Write(&b, le, riffSize)
	b.WriteString("WAVEfmt ")
	binary.Write(&b, le, uint32(16))
	binary.Write(&b, le, uint16(format))
	binary.Write(&b, le, uint16(channels))
	binary.Write(&b, le, uint32(rate))
	binary.Write(&b, le, uint32(rate*channels*bits/8))
	binary.Write(&b, le, uint16(channels*bits/8))
	binary.Write(&b, le, uint16(bits))
	b.WriteString("data")
	binary.Write(&b, le, dataSize)
	b.Write(data)
	return b.Bytes()
}

// sine16 returns interleaved 16-bit sine samples, the same on every channel.
func sine16(frames, channels int, freq, rate float64) ([]int16, []byte) {
	samples := make([]int16, frames*channels)
	for i := 0; i < frames; i++ {
		v := int16(math.Sin(2*math.Pi*freq*float64(i)/rate) * 12000)
		for c := 0; c < channels; c++ {
			samples[i*channels+c] = v
		}
	}
	data := make([]byte, len(samples)*2)
	for i, s := range samples {
		binary.LittleEndian.PutUint16(data[i*2:], uint16(s))
	}
	return samples, data
}

func drain(t *testing.T, dec Decoder, budget int) ([]int32, error) {
	t.Helper()
	var out []int32
	var lastSeq uint64
	first := true
	for {
		frame, err := dec.DecodeNext(budget)
		if err != nil {
			return out, err
		}
		if !first && frame.Seq != lastSeq+1 {
			t.Fatalf("sequence jumped from %d to %d", lastSeq, frame.Seq)
		}
		first = false
		lastSeq = frame.Seq
		if err := frame.Validate(); err != nil {
			t.Fatalf("invalid frame: %v", err)
		}
		out = append(out, frame.Samples...)
	}
}

func TestWAVOneSecondStereo(t *testing.T) {
	_, data := sine16(44100, 2, 440, 44100)
	file := makeWAV(44100, 2, 16, 1, data, 0)

	dec, err := NewWAV(bytes.NewReader(file))
	if err != nil {
		t.Fatalf("NewWAV failed: %v", err)
	}
	defer dec.Close()

	info := dec.Info()
	if info.TotalFrames != 44100 {
		t.Errorf("expected 44100 total frames, got %d", info.TotalFrames)
	}
	if info.Format.SampleRate != 44100 || info.Format.Channels != 2 || info.Format.BitDepth != 16 {
		t.Errorf("unexpected format %s", info.Format)
	}

	samples, err := drain(t, dec, 1000)
	if err != io.EOF {
		t.Fatalf("expected io.EOF, got %v", err)
	}
	if frames := len(samples) / 2; frames != 44100 {
		t.Errorf("expected 44100 frames, got %d", frames)
	}
}

func TestWAVTruncatedHeader(t *testing.T) {
	tests := []struct {
		name string
		data []byte
	}{
		{"four bytes", []byte("RIFF")},
		{"no fmt", []byte("RIFF\x04\x00\x00\x00WAVE")},
		{"cut in fmt", makeWAV(8000, 1, 16, 1, nil, 0)[:30]},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewWAV(bytes.NewReader(tt.data))
			if !errors.Is(err, audio.ErrCorruptHeader) {
				t.Errorf("expected CorruptHeader, got %v", err)
			}
		})
	}
}

func TestWAVNonSeekableMatchesSeekable(t *testing.T) {
	_, data := sine16(5000, 1, 300, 8000)
	file := makeWAV(8000, 1, 16, 1, data, 0)

	seekDec, err := NewWAV(bytes.NewReader(file))
	if err != nil {
		t.Fatalf("NewWAV failed: %v", err)
	}
	want, _ := drain(t, seekDec, 700)

	streamDec, err := NewWAV(onlyReader{bytes.NewReader(file)})
	if err != nil {
		t.Fatalf("NewWAV on stream failed: %v", err)
	}
	got, err := drain(t, streamDec, 700)
	if err != io.EOF {
		t.Fatalf("expected io.EOF, got %v", err)
	}
	if len(got) != len(want) {
		t.Fatalf("got %d samples, want %d", len(got), len(want))
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("sample %d differs: %d vs %d", i, got[i], want[i])
		}
	}

	if err := streamDec.SeekFrame(10); !errors.Is(err, audio.ErrSeekUnsupported) {
		t.Errorf("expected SeekUnsupported on stream, got %v", err)
	}
}

func TestWAVStreamingHeaderRepaired(t *testing.T) {
	_, data := sine16(3000, 2, 300, 8000)
	unknown := makeWAV(8000, 2, 16, 1, data, 0xFFFFFFFF)
	zero := makeWAV(8000, 2, 16, 1, data, 0)
	binary.LittleEndian.PutUint32(zero[4:], 0)
	binary.LittleEndian.PutUint32(zero[40:], 0)

	tests := []struct {
		name      string
		r         io.Reader
		wantTotal int64
	}{
		{"unknown size seekable", bytes.NewReader(unknown), 3000},
		{"unknown size stream", onlyReader{bytes.NewReader(unknown)}, -1},
		{"zero size seekable", bytes.NewReader(zero), 3000},
		{"zero size stream", onlyReader{bytes.NewReader(zero)}, -1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			dec, err := NewWAV(tt.r)
			if err != nil {
				t.Fatalf("NewWAV failed: %v", err)
			}
			if got := dec.Info().TotalFrames; got != tt.wantTotal {
				t.Errorf("TotalFrames = %d, want %d", got, tt.wantTotal)
			}
			samples, err := drain(t, dec, 512)
			if err != io.EOF {
				t.Fatalf("expected io.EOF, got %v", err)
			}
			if len(samples) != 6000 {
				t.Errorf("expected 6000 samples, got %d", len(samples))
			}
		})
	}
}

func TestWAVOddDataSize(t *testing.T) {
	// Three 8-bit mono samples plus the pad byte the RIFF rules require.
	file := makeWAV(8000, 1, 8, 1, []byte{0, 128, 255, 0}, 3)

	dec, err := NewWAV(bytes.NewReader(file))
	if err != nil {
		t.Fatalf("NewWAV failed: %v", err)
	}
	if dec.Info().TotalFrames != 3 {
		t.Errorf("TotalFrames = %d, want 3", dec.Info().TotalFrames)
	}
	samples, err := drain(t, dec, 16)
	if err != io.EOF {
		t.Fatalf("expected io.EOF, got %v", err)
	}
	if len(samples) != 3 {
		t.Errorf("expected 3 samples, got %d", len(samples))
	}
}

func TestWAVTruncatedDataIsPartial(t *testing.T) {
	_, data := sine16(1000, 1, 300, 8000)
	file := makeWAV(8000, 1, 16, 1, data[:1000], uint32(len(data)))

	dec, err := NewWAV(bytes.NewReader(file))
	if err != nil {
		t.Fatalf("NewWAV failed: %v", err)
	}
	samples, err := drain(t, dec, 128)
	if !errors.Is(err, audio.ErrPartialDecode) {
		t.Fatalf("expected PartialDecode, got %v", err)
	}
	if len(samples) != 500 {
		t.Errorf("expected the 500 frames present, got %d", len(samples))
	}

	// The terminal error is sticky.
	if _, err := dec.DecodeNext(128); !errors.Is(err, audio.ErrPartialDecode) {
		t.Errorf("expected sticky PartialDecode, got %v", err)
	}
}

func TestWAVEmptyDataIsCorruptStream(t *testing.T) {
	file := makeWAV(8000, 1, 16, 1, nil, 400)

	dec, err := NewWAV(bytes.NewReader(file))
	if err != nil {
		t.Fatalf("NewWAV failed: %v", err)
	}
	if _, err := dec.DecodeNext(64); !errors.Is(err, audio.ErrCorruptStream) {
		t.Errorf("expected CorruptStream, got %v", err)
	}
}

func TestWAVSeekExact(t *testing.T) {
	samples, data := sine16(4000, 1, 300, 8000)
	dec, err := NewWAV(bytes.NewReader(makeWAV(8000, 1, 16, 1, data, 0)))
	if err != nil {
		t.Fatalf("NewWAV failed: %v", err)
	}

	if err := dec.SeekFrame(1234); err != nil {
		t.Fatalf("SeekFrame failed: %v", err)
	}
	frame, err := dec.DecodeNext(10)
	if err != nil {
		t.Fatalf("DecodeNext failed: %v", err)
	}
	if frame.Timestamp != 1234 {
		t.Errorf("expected timestamp 1234, got %d", frame.Timestamp)
	}
	for i, s := range frame.Samples {
		if s != int32(samples[1234+i]) {
			t.Fatalf("sample %d after seek: got %d want %d", i, s, samples[1234+i])
		}
	}

	if err := dec.SeekFrame(5000); !errors.Is(err, audio.ErrSeekUnsupported) {
		t.Errorf("expected out of range seek to fail, got %v", err)
	}
}

func TestWAVSampleFormats(t *testing.T) {
	t.Run("8-bit unsigned", func(t *testing.T) {
		dec, err := NewWAV(bytes.NewReader(makeWAV(8000, 1, 8, 1, []byte{0, 128, 255}, 0)))
		if err != nil {
			t.Fatalf("NewWAV failed: %v", err)
		}
		got, _ := drain(t, dec, 10)
		want := []int32{-128, 0, 127}
		for i := range want {
			if got[i] != want[i] {
				t.Errorf("sample %d: got %d want %d", i, got[i], want[i])
			}
		}
	})

	t.Run("float32", func(t *testing.T) {
		data := make([]byte, 8)
		binary.LittleEndian.PutUint32(data, math.Float32bits(0.5))
		binary.LittleEndian.PutUint32(data[4:], math.Float32bits(-1))
		dec, err := NewWAV(bytes.NewReader(makeWAV(8000, 1, 32, 3, data, 0)))
		if err != nil {
			t.Fatalf("NewWAV failed: %v", err)
		}
		if dec.Info().Format.Float || dec.Info().Format.BitDepth != 32 {
			t.Errorf("expected 32-bit integer output, got %s", dec.Info().Format)
		}
		got, _ := drain(t, dec, 10)
		if got[0] != 1<<30 || got[1] != math.MinInt32 {
			t.Errorf("unexpected samples %v", got)
		}
	})

	t.Run("compressed", func(t *testing.T) {
		_, err := NewWAV(bytes.NewReader(makeWAV(8000, 1, 16, 0x11, make([]byte, 8), 0)))
		if !errors.Is(err, audio.ErrUnsupportedFeature) {
			t.Errorf("expected UnsupportedFeature, got %v", err)
		}
	})
}

func TestDecoderClosed(t *testing.T) {
	_, data := sine16(10, 1, 300, 8000)
	dec, err := NewWAV(bytes.NewReader(makeWAV(8000, 1, 16, 1, data, 0)))
	if err != nil {
		t.Fatalf("NewWAV failed: %v", err)
	}
	dec.Close()
	if _, err := dec.DecodeNext(10); err != ErrClosed {
		t.Errorf("expected ErrClosed, got %v", err)
	}
}
