// ABOUTME: Tests for the container encoders
// ABOUTME: Round trips through the decoders and checks the closed state
package encode

import (
	"bytes"
	"errors"
	"io"
	"math"
	"testing"

	"github.com/Resonate-Protocol/resonate-transcoder/pkg/audio"
	"github.com/Resonate-Protocol/resonate-transcoder/pkg/audio/convert"
	"github.com/Resonate-Protocol/resonate-transcoder/pkg/audio/decode"
)

// sine builds an integer buffer holding a sine at 0.4 of full scale with a
// small per-channel offset so channels are distinguishable.
func sine(rate, channels, bits int, seconds, freq float64) audio.Buffer {
	frames := int(float64(rate) * seconds)
	peak := float64(audio.MaxSample(bits)) * 0.4
	buf := audio.Buffer{
		Format:  audio.Format{Codec: "pcm", SampleRate: rate, Channels: channels, BitDepth: bits},
		Samples: make([]int32, frames*channels),
	}
	for i := 0; i < frames; i++ {
		v := math.Sin(2 * math.Pi * freq * float64(i) / float64(rate))
		for c := 0; c < channels; c++ {
			buf.Samples[i*channels+c] = int32(v*peak) + int32(c)
		}
	}
	return buf
}

func rms(samples []int32, bits int) float64 {
	if len(samples) == 0 {
		return 0
	}
	scale := float64(audio.MaxSample(bits))
	var sum float64
	for _, s := range samples {
		v := float64(s) / scale
		sum += v * v
	}
	return math.Sqrt(sum / float64(len(samples)))
}

func decodeAll(t *testing.T, dec decode.Decoder) []int32 {
	t.Helper()
	var out []int32
	for {
		frame, err := dec.DecodeNext(1000)
		if err == io.EOF {
			return out
		}
		if err != nil {
			t.Fatalf("decode failed after %d samples: %v", len(out), err)
		}
		out = append(out, frame.Samples...)
	}
}

// encodeChunks feeds buf to enc in uneven chunks.
func encodeChunks(t *testing.T, enc Encoder, buf audio.Buffer) {
	t.Helper()
	frames := buf.NumFrames()
	for from, step := 0, 777; from < frames; from, step = from+step, step+311 {
		to := from + step
		if to > frames {
			to = frames
		}
		if err := enc.Encode(buf.Slice(from, to)); err != nil {
			t.Fatalf("Encode failed: %v", err)
		}
	}
	if err := enc.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}
}

func assertIdentical(t *testing.T, got, want []int32) {
	t.Helper()
	if len(got) != len(want) {
		t.Fatalf("got %d samples, want %d", len(got), len(want))
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("sample %d: got %d want %d", i, got[i], want[i])
		}
	}
}

func TestWAVLosslessRoundTrip(t *testing.T) {
	for _, bits := range []int{8, 16, 24, 32} {
		buf := sine(44100, 2, bits, 2, 440)

		t.Run("seekable", func(t *testing.T) {
			var sink WriteSeekBuffer
			enc, err := NewWAV(&sink, buf.Format, Options{})
			if err != nil {
				t.Fatalf("NewWAV failed: %v", err)
			}
			encodeChunks(t, enc, buf)

			dec, err := decode.NewWAV(bytes.NewReader(sink.Bytes()))
			if err != nil {
				t.Fatalf("%d-bit: decode open failed: %v", bits, err)
			}
			if dec.Info().TotalFrames != int64(buf.NumFrames()) {
				t.Errorf("%d-bit: header says %d frames, want %d", bits, dec.Info().TotalFrames, buf.NumFrames())
			}
			assertIdentical(t, decodeAll(t, dec), buf.Samples)
		})

		t.Run("streaming", func(t *testing.T) {
			var sink bytes.Buffer
			enc, err := NewWAV(&sink, buf.Format, Options{})
			if err != nil {
				t.Fatalf("NewWAV failed: %v", err)
			}
			encodeChunks(t, enc, buf)

			dec, err := decode.NewWAV(bytes.NewReader(sink.Bytes()))
			if err != nil {
				t.Fatalf("%d-bit: decode open failed: %v", bits, err)
			}
			assertIdentical(t, decodeAll(t, dec), buf.Samples)
		})
	}
}

func TestFLACLosslessRoundTrip(t *testing.T) {
	for _, bits := range []int{16, 24} {
		buf := sine(48000, 2, bits, 2, 1000)
		// A silent stretch exercises constant subframes.
		for i := 0; i < 8192; i++ {
			buf.Samples[i] = 0
		}

		var sink WriteSeekBuffer
		enc, err := NewFLAC(&sink, buf.Format, Options{})
		if err != nil {
			t.Fatalf("NewFLAC failed: %v", err)
		}
		encodeChunks(t, enc, buf)

		dec, err := decode.NewFLAC(bytes.NewReader(sink.Bytes()))
		if err != nil {
			t.Fatalf("%d-bit: decode open failed: %v", bits, err)
		}
		if got := dec.Info().Format.BitDepth; got != bits {
			t.Errorf("expected %d-bit output, got %d", bits, got)
		}
		assertIdentical(t, decodeAll(t, dec), buf.Samples)
	}
}

func TestFLACSeekExact(t *testing.T) {
	buf := sine(8000, 1, 16, 2, 300)
	var sink WriteSeekBuffer
	enc, err := NewFLAC(&sink, buf.Format, Options{})
	if err != nil {
		t.Fatalf("NewFLAC failed: %v", err)
	}
	encodeChunks(t, enc, buf)

	dec, err := decode.NewFLAC(bytes.NewReader(sink.Bytes()))
	if err != nil {
		t.Fatalf("decode open failed: %v", err)
	}
	if err := dec.SeekFrame(5000); err != nil {
		t.Fatalf("SeekFrame failed: %v", err)
	}
	frame, err := dec.DecodeNext(16)
	if err != nil {
		t.Fatalf("DecodeNext failed: %v", err)
	}
	assertIdentical(t, frame.Samples, buf.Samples[5000:5016])
}

func TestOpusLossyRoundTrip(t *testing.T) {
	buf := sine(44100, 2, 16, 1, 440)

	var sink bytes.Buffer
	enc, err := NewOpus(&sink, buf.Format, Options{Quality: 80})
	if err != nil {
		t.Fatalf("NewOpus failed: %v", err)
	}
	if enc.Format().SampleRate != 48000 {
		t.Errorf("expected 48kHz output, got %d", enc.Format().SampleRate)
	}
	encodeChunks(t, enc, buf)

	dec, err := decode.NewOpus(bytes.NewReader(sink.Bytes()))
	if err != nil {
		t.Fatalf("decode open failed: %v", err)
	}
	got := decodeAll(t, dec)

	wantFrames := 48000
	gotFrames := len(got) / 2
	if diff := gotFrames - wantFrames; diff < -48 || diff > 48 {
		t.Errorf("expected about %d frames, got %d", wantFrames, gotFrames)
	}

	want := rms(buf.Samples, 16)
	have := rms(got, 16)
	if math.Abs(have-want)/want > 0.2 {
		t.Errorf("energy drifted: input rms %.4f, output rms %.4f", want, have)
	}
}

func TestOpusMixesDownToStereo(t *testing.T) {
	buf := sine(48000, 6, 16, 0.1, 440)
	var sink bytes.Buffer
	enc, err := NewOpus(&sink, buf.Format, Options{})
	if err != nil {
		t.Fatalf("NewOpus failed: %v", err)
	}
	if enc.Format().Channels != 2 {
		t.Errorf("expected 2 output channels, got %d", enc.Format().Channels)
	}
	encodeChunks(t, enc, buf)

	dec, err := decode.NewOpus(bytes.NewReader(sink.Bytes()))
	if err != nil {
		t.Fatalf("decode open failed: %v", err)
	}
	if dec.Info().Format.Channels != 2 {
		t.Errorf("expected stereo stream, got %d channels", dec.Info().Format.Channels)
	}
}

func TestOpusBitrate(t *testing.T) {
	tests := []struct {
		quality, channels, want int
	}{
		{0, 2, 128000},
		{0, 1, 64000},
		{100, 1, 200000},
		{150, 1, 200000},
		{50, 2, 212000},
	}
	for _, tt := range tests {
		if got := OpusBitrate(tt.quality, tt.channels); got != tt.want {
			t.Errorf("OpusBitrate(%d, %d) = %d, want %d", tt.quality, tt.channels, got, tt.want)
		}
	}
}

func TestRawEncoder(t *testing.T) {
	buf := audio.Buffer{
		Format:  audio.Format{SampleRate: 8000, Channels: 1, BitDepth: 16},
		Samples: []int32{-32768, 0, 32767},
	}
	var sink bytes.Buffer
	enc, err := NewRaw(&sink, buf.Format, convert.UInt8, Options{})
	if err != nil {
		t.Fatalf("NewRaw failed: %v", err)
	}
	if err := enc.Encode(buf); err != nil {
		t.Fatalf("Encode failed: %v", err)
	}
	if err := enc.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}
	want := []byte{0, 128, 255}
	if !bytes.Equal(sink.Bytes(), want) {
		t.Errorf("got %v, want %v", sink.Bytes(), want)
	}
}

func TestEncoderClosedExactlyOnce(t *testing.T) {
	format := audio.Format{SampleRate: 48000, Channels: 2, BitDepth: 16}
	open := map[string]func(io.Writer) (Encoder, error){
		"wav":  func(w io.Writer) (Encoder, error) { return NewWAV(w, format, Options{}) },
		"flac": func(w io.Writer) (Encoder, error) { return NewFLAC(w, format, Options{}) },
		"opus": func(w io.Writer) (Encoder, error) { return NewOpus(w, format, Options{}) },
		"raw":  func(w io.Writer) (Encoder, error) { return NewRaw(w, format, convert.Int16, Options{}) },
	}
	for name, fn := range open {
		t.Run(name, func(t *testing.T) {
			var sink WriteSeekBuffer
			enc, err := fn(&sink)
			if err != nil {
				t.Fatalf("open failed: %v", err)
			}
			if err := enc.Close(); err != nil {
				t.Fatalf("first Close failed: %v", err)
			}
			if err := enc.Close(); !errors.Is(err, audio.ErrEncoderClosed) {
				t.Errorf("second Close: expected EncoderClosed, got %v", err)
			}
			buf := audio.Buffer{Format: format, Samples: make([]int32, 4)}
			if err := enc.Encode(buf); !errors.Is(err, audio.ErrEncoderClosed) {
				t.Errorf("Encode after Close: expected EncoderClosed, got %v", err)
			}
		})
	}
}

func TestEncoderRejectsFormatChange(t *testing.T) {
	format := audio.Format{SampleRate: 48000, Channels: 2, BitDepth: 16}
	enc, err := NewWAV(&WriteSeekBuffer{}, format, Options{})
	if err != nil {
		t.Fatalf("NewWAV failed: %v", err)
	}
	buf := audio.Buffer{Format: audio.Format{SampleRate: 44100, Channels: 2, BitDepth: 16}, Samples: make([]int32, 4)}
	if err := enc.Encode(buf); !errors.Is(err, audio.ErrUnsupportedFormat) {
		t.Errorf("expected UnsupportedFormat, got %v", err)
	}
}

func TestWriteSeekBuffer(t *testing.T) {
	var b WriteSeekBuffer
	b.Write([]byte("hello world"))
	b.Seek(6, io.SeekStart)
	b.Write([]byte("WORLD"))
	b.Seek(0, io.SeekEnd)
	b.Write([]byte("!"))
	if got := string(b.Bytes()); got != "hello WORLD!" {
		t.Errorf("got %q", got)
	}
}
