// ABOUTME: Tests for the MP3, FLAC, Vorbis, Opus, Bink and RAW decoders
// ABOUTME: Covers header rejection, RAW framing and Bink header parsing
package decode

import (
	"bytes"
	"encoding/binary"
	"errors"
	"io"
	"testing"

	"github.com/Resonate-Protocol/resonate-transcoder/pkg/audio"
	"github.com/Resonate-Protocol/resonate-transcoder/pkg/audio/convert"
)

func TestOpenRejectsGarbage(t *testing.T) {
	garbage := bytes.Repeat([]byte{0x00, 0x13, 0x37}, 64)

	openers := map[string]func(io.Reader) error{
		"mp3": func(r io.Reader) error { _, err := NewMP3(r); return err },
		"flac": func(r io.Reader) error {
			_, err := NewFLAC(r)
			return err
		},
		"vorbis": func(r io.Reader) error { _, err := NewVorbis(r); return err },
		"opus":   func(r io.Reader) error { _, err := NewOpus(r); return err },
		"bink":   func(r io.Reader) error { _, err := NewBink(r); return err },
	}
	for name, open := range openers {
		t.Run(name, func(t *testing.T) {
			err := open(bytes.NewReader(garbage))
			if !errors.Is(err, audio.ErrCorruptHeader) {
				t.Errorf("expected CorruptHeader, got %v", err)
			}
		})
	}
}

// silentMP3 builds n MPEG-1 Layer III frames (mono, 128 kbit/s, 44.1 kHz)
// with empty side info, which decode to 1152 frames of silence each.
func silentMP3(n int) []byte {
	const frameSize = 144 * 128000 / 44100
	frame := make([]byte, frameSize)
	copy(frame, []byte{0xFF, 0xFB, 0x90, 0xC0})
	return bytes.Repeat(frame, n)
}

func TestMP3TruncatedTail(t *testing.T) {
	whole := silentMP3(5)
	tests := []struct {
		name    string
		data    []byte
		total   int64
		samples int
		wantErr error
	}{
		{"complete", whole, 5 * 1152, 5 * 1152 * 2, io.EOF},
		{"cut in last frame", whole[:len(whole)-400], 5 * 1152, 4 * 1152 * 2, audio.ErrPartialDecode},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			dec, err := NewMP3(bytes.NewReader(tt.data))
			if err != nil {
				t.Fatalf("NewMP3 failed: %v", err)
			}
			if got := dec.Info().TotalFrames; got != tt.total {
				t.Errorf("TotalFrames = %d, want %d", got, tt.total)
			}
			got, err := drain(t, dec, 1000)
			if !errors.Is(err, tt.wantErr) {
				t.Fatalf("expected %v, got %v", tt.wantErr, err)
			}
			if len(got) != tt.samples {
				t.Errorf("decoded %d samples, want %d", len(got), tt.samples)
			}
		})
	}
}

func TestRawDecode(t *testing.T) {
	data := []byte{0x01, 0x00, 0xFF, 0xFF, 0x00, 0x80, 0xFF, 0x7F}

	dec, err := NewRaw(bytes.NewReader(data), convert.Int16, 8000, 2)
	if err != nil {
		t.Fatalf("NewRaw failed: %v", err)
	}
	if dec.Info().TotalFrames != 2 {
		t.Errorf("expected 2 frames, got %d", dec.Info().TotalFrames)
	}

	got, err := drain(t, dec, 1)
	if err != io.EOF {
		t.Fatalf("expected io.EOF, got %v", err)
	}
	want := []int32{1, -1, -32768, 32767}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("sample %d: got %d want %d", i, got[i], want[i])
		}
	}

	if err := dec.SeekFrame(1); err != nil {
		t.Fatalf("SeekFrame failed: %v", err)
	}
	frame, err := dec.DecodeNext(4)
	if err != nil || len(frame.Samples) != 2 || frame.Samples[0] != -32768 {
		t.Errorf("unexpected frame after seek: %v, %v", frame.Samples, err)
	}
}

func TestRawTrailingBytesArePartial(t *testing.T) {
	data := make([]byte, 4*10+3)
	dec, err := NewRaw(onlyReader{bytes.NewReader(data)}, convert.Int16, 8000, 2)
	if err != nil {
		t.Fatalf("NewRaw failed: %v", err)
	}
	samples, err := drain(t, dec, 64)
	if !errors.Is(err, audio.ErrPartialDecode) {
		t.Fatalf("expected PartialDecode, got %v", err)
	}
	if len(samples) != 20 {
		t.Errorf("expected 20 samples, got %d", len(samples))
	}
}

func TestRawRejectsBadFormat(t *testing.T) {
	if _, err := NewRaw(bytes.NewReader(nil), convert.Int16, 0, 2); !errors.Is(err, audio.ErrCorruptHeader) {
		t.Errorf("expected CorruptHeader, got %v", err)
	}
}

func binkFile(channels uint8, rate uint16, frames uint32) []byte {
	h := make([]byte, binkHeaderSize)
	copy(h, BinkAudioMagic)
	h[4] = 1
	h[5] = channels
	binary.LittleEndian.PutUint16(h[6:], rate)
	binary.LittleEndian.PutUint32(h[8:], frames)
	return append(h, make([]byte, 64)...)
}

func TestBinkHeader(t *testing.T) {
	dec, err := NewBink(bytes.NewReader(binkFile(2, 48000, 96000)))
	if err != nil {
		t.Fatalf("NewBink failed: %v", err)
	}
	info := dec.Info()
	if info.Format.Channels != 2 || info.Format.SampleRate != 48000 || info.TotalFrames != 96000 {
		t.Errorf("unexpected info %+v", info)
	}
	if info.Duration() != 2 {
		t.Errorf("expected 2s duration, got %v", info.Duration())
	}

	if _, err := dec.DecodeNext(100); !errors.Is(err, audio.ErrUnsupportedFeature) {
		t.Errorf("expected UnsupportedFeature, got %v", err)
	}
	if err := dec.SeekFrame(0); !errors.Is(err, audio.ErrSeekUnsupported) {
		t.Errorf("expected SeekUnsupported, got %v", err)
	}
}

func TestBinkHeaderErrors(t *testing.T) {
	tests := []struct {
		name string
		data []byte
		want error
	}{
		{"truncated", binkFile(2, 48000, 10)[:12], audio.ErrCorruptHeader},
		{"no channels", binkFile(0, 48000, 10), audio.ErrCorruptHeader},
		{"video", []byte("BIKi0000000000000000000000000000"), audio.ErrUnsupportedFeature},
		{"bink2", []byte("KB2j0000000000000000000000000000"), audio.ErrUnsupportedFeature},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := NewBink(bytes.NewReader(tt.data)); !errors.Is(err, tt.want) {
				t.Errorf("expected %v, got %v", tt.want, err)
			}
		})
	}
}

func TestPCMPacket(t *testing.T) {
	tests := []struct {
		name  string
		bits  int
		input []byte
		want  []int32
	}{
		{"16-bit", 16, []byte{0x00, 0x01, 0x02, 0x03}, []int32{256, 770}},
		{"24-bit", 24, []byte{0x00, 0x01, 0x02, 0x03, 0x04, 0x05}, []int32{0x020100, 0x050403}},
		{"empty", 16, []byte{}, []int32{}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			dec, err := NewPCMPacket(audio.Format{Codec: "pcm", SampleRate: 48000, Channels: 1, BitDepth: tt.bits})
			if err != nil {
				t.Fatalf("failed to create decoder: %v", err)
			}
			buf, err := dec.Decode(tt.input)
			if err != nil {
				t.Fatalf("decode failed: %v", err)
			}
			if len(buf.Samples) != len(tt.want) {
				t.Fatalf("expected %d samples, got %d", len(tt.want), len(buf.Samples))
			}
			for i := range tt.want {
				if buf.Samples[i] != tt.want[i] {
					t.Errorf("sample %d: got %d want %d", i, buf.Samples[i], tt.want[i])
				}
			}
		})
	}
}

func TestNewPCMPacket_InvalidCodec(t *testing.T) {
	dec, err := NewPCMPacket(audio.Format{Codec: "opus", SampleRate: 48000, Channels: 2, BitDepth: 16})
	if err == nil {
		t.Fatal("expected error for invalid codec, got nil")
	}
	if dec != nil {
		t.Fatal("expected decoder to be nil for invalid codec")
	}
	expected := "invalid codec for PCM decoder: opus"
	if err.Error() != expected {
		t.Errorf("expected error %q, got %q", expected, err.Error())
	}
}

func TestNewOpusPacket(t *testing.T) {
	for _, channels := range []int{1, 2} {
		dec, err := NewOpusPacket(audio.Format{Codec: "opus", SampleRate: 48000, Channels: channels})
		if err != nil {
			t.Fatalf("failed to create %d channel decoder: %v", channels, err)
		}
		if dec.Format().BitDepth != 16 {
			t.Errorf("expected 16-bit output, got %d", dec.Format().BitDepth)
		}
		if err := dec.Close(); err != nil {
			t.Errorf("expected Close to succeed, got error: %v", err)
		}
	}

	if _, err := NewOpusPacket(audio.Format{Codec: "pcm", SampleRate: 48000, Channels: 2}); err == nil {
		t.Error("expected error for invalid codec")
	}
}

func TestOpusSeekUnsupported(t *testing.T) {
	o := &Opus{base: base{op: "opus: decode"}}
	if err := o.SeekFrame(0); !errors.Is(err, audio.ErrSeekUnsupported) {
		t.Errorf("expected SeekUnsupported, got %v", err)
	}
}
