// ABOUTME: Tests for the playback pipeline
// ABOUTME: Uses a recording output and encoder-generated WAV fixtures
package player

import (
	"context"
	"testing"
	"time"

	"github.com/Resonate-Protocol/resonate-transcoder/pkg/audio"
	"github.com/Resonate-Protocol/resonate-transcoder/pkg/audio/codec"
	"github.com/Resonate-Protocol/resonate-transcoder/pkg/audio/encode"
)

type recordingOutput struct {
	format audio.Format
	frames int
	writes int
	closed bool
	// cancel fires after the first write when set.
	cancel context.CancelFunc
}

func (r *recordingOutput) Open(format audio.Format) error {
	r.format = format
	return nil
}

func (r *recordingOutput) Write(buf audio.Buffer) error {
	r.frames += buf.NumFrames()
	r.writes++
	if r.cancel != nil {
		r.cancel()
	}
	return nil
}

func (r *recordingOutput) Close() error {
	r.closed = true
	return nil
}

func testWAV(t *testing.T, rate, frames int) []byte {
	t.Helper()
	buf := audio.Buffer{
		Format:  audio.Format{SampleRate: rate, Channels: 2, BitDepth: 16},
		Samples: make([]int32, frames*2),
	}
	for i := range buf.Samples {
		buf.Samples[i] = int32(i%2000) - 1000
	}
	var sink encode.WriteSeekBuffer
	enc, err := encode.NewWAV(&sink, buf.Format, encode.Options{})
	if err != nil {
		t.Fatalf("NewWAV failed: %v", err)
	}
	if err := enc.Encode(buf); err != nil {
		t.Fatalf("Encode failed: %v", err)
	}
	if err := enc.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}
	return sink.Bytes()
}

func TestPlay(t *testing.T) {
	tests := []struct {
		name       string
		start      time.Duration
		wantFrames int
	}{
		{"from start", 0, 8000},
		{"seek half", 500 * time.Millisecond, 4000},
	}

	data := testWAV(t, 8000, 8000)
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			out := &recordingOutput{}
			var last Position
			p := New(out, Config{
				FrameBudget: 1024,
				Start:       tt.start,
				OnPosition:  func(pos Position) { last = pos },
			})

			stats, err := p.Play(context.Background(), codec.FromBytes("tone.wav", data))
			if err != nil {
				t.Fatalf("Play failed: %v", err)
			}
			if out.frames != tt.wantFrames || stats.Frames != int64(tt.wantFrames) {
				t.Errorf("played %d frames (stats %d), want %d", out.frames, stats.Frames, tt.wantFrames)
			}
			if out.format.SampleRate != 8000 || out.format.Channels != 2 {
				t.Errorf("output opened with %s", out.format)
			}
			if !out.closed {
				t.Error("output not closed")
			}
			if last.Played != 8000 || last.Total != 8000 {
				t.Errorf("last position %d/%d, want 8000/8000", last.Played, last.Total)
			}
			if got := last.String(); got != "00:01 / 00:01" {
				t.Errorf("position string = %q", got)
			}
			if stats.Partial {
				t.Error("unexpected partial playback")
			}
		})
	}
}

func TestPlayCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	out := &recordingOutput{cancel: cancel}
	p := New(out, Config{FrameBudget: 512})

	_, err := p.Play(ctx, codec.FromBytes("tone.wav", testWAV(t, 8000, 8000)))
	if audio.KindOf(err) != audio.Cancelled {
		t.Fatalf("expected Cancelled, got %v", err)
	}
	if out.writes != 1 {
		t.Errorf("expected playback to stop after one write, got %d", out.writes)
	}
	if !out.closed {
		t.Error("output not closed")
	}
}

func TestPositionString(t *testing.T) {
	tests := []struct {
		pos  Position
		want string
	}{
		{Position{Played: 48000 * 90, Total: 48000 * 200, SampleRate: 48000}, "01:30 / 03:20"},
		{Position{Played: 48000 * 5, Total: -1, SampleRate: 48000}, "00:05"},
		{Position{Played: 1234, Total: -1}, "1234 frames"},
	}
	for _, tt := range tests {
		if got := tt.pos.String(); got != tt.want {
			t.Errorf("%+v.String() = %q, want %q", tt.pos, got, tt.want)
		}
	}
}

func TestPlayUnknownSource(t *testing.T) {
	out := &recordingOutput{}
	_, err := New(out, Config{}).Play(context.Background(), codec.FromBytes("noise.bin", []byte("definitely not audio")))
	if err == nil {
		t.Fatal("expected error for unidentifiable source")
	}
	if out.writes != 0 {
		t.Error("nothing should be written")
	}
}
