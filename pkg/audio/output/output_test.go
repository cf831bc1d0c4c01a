// ABOUTME: Audio output tests
// ABOUTME: Verifies backends satisfy Output and sample conversion with volume
package output

import (
	"math"
	"testing"

	"github.com/Resonate-Protocol/resonate-transcoder/pkg/audio"
)

var (
	_ Output = (*Oto)(nil)
	_ Output = (*PortAudio)(nil)
)

func TestVolume(t *testing.T) {
	tests := []struct {
		name  string
		level int
		muted bool
		want  float64
	}{
		{"full", 100, false, 1},
		{"half", 50, false, 0.5},
		{"clamp high", 150, false, 1},
		{"clamp low", -10, false, 0},
		{"muted", 100, true, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var v Volume
			v.SetVolume(tt.level)
			v.SetMuted(tt.muted)
			if got := v.multiplier(); got != tt.want {
				t.Errorf("multiplier = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestToInt16(t *testing.T) {
	tests := []struct {
		name string
		buf  audio.Buffer
		gain float64
		want []int16
	}{
		{
			name: "16-bit passthrough",
			buf:  audio.Buffer{Format: audio.Format{BitDepth: 16, Channels: 1}, Samples: []int32{100, -100, 32767}},
			gain: 1,
			want: []int16{100, -100, 32767},
		},
		{
			name: "24-bit shifted",
			buf:  audio.Buffer{Format: audio.Format{BitDepth: 24, Channels: 1}, Samples: []int32{256 * 1000, audio.Min24Bit}},
			gain: 1,
			want: []int16{1000, math.MinInt16},
		},
		{
			name: "half gain",
			buf:  audio.Buffer{Format: audio.Format{BitDepth: 16, Channels: 1}, Samples: []int32{1000, -1000}},
			gain: 0.5,
			want: []int16{500, -500},
		},
		{
			name: "float clipped",
			buf:  audio.Buffer{Format: audio.Format{BitDepth: 32, Float: true, Channels: 1}, Floats: []float32{0, 1.5, -2}},
			gain: 1,
			want: []int16{0, math.MaxInt16, math.MinInt16},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := toInt16(tt.buf, tt.gain)
			if len(got) != len(tt.want) {
				t.Fatalf("len = %d, want %d", len(got), len(tt.want))
			}
			for i := range got {
				if got[i] != tt.want[i] {
					t.Errorf("sample %d = %d, want %d", i, got[i], tt.want[i])
				}
			}
		})
	}
}

func TestWriteBeforeOpen(t *testing.T) {
	buf := audio.Buffer{Format: audio.Format{SampleRate: 48000, Channels: 2, BitDepth: 16}, Samples: make([]int32, 4)}
	if err := NewOto().Write(buf); err == nil {
		t.Error("expected error writing to unopened output")
	}
}

func TestCheckFormat(t *testing.T) {
	open := audio.Format{SampleRate: 48000, Channels: 2}
	if err := checkFormat(open, audio.Format{SampleRate: 48000, Channels: 2, BitDepth: 24}); err != nil {
		t.Errorf("matching rate and channels rejected: %v", err)
	}
	err := checkFormat(open, audio.Format{SampleRate: 44100, Channels: 2})
	if audio.KindOf(err) != audio.UnsupportedFormat {
		t.Errorf("expected UnsupportedFormat, got %v", err)
	}
}
