// ABOUTME: Tests for voice activity detection
// ABOUTME: Covers window classification, hangover and the capture gate
package vad

import (
	"math"
	"testing"
	"time"

	"github.com/Resonate-Protocol/resonate-transcoder/pkg/audio"
)

func tone(freq float64, amp float64, rate, n int) []int16 {
	out := make([]int16, n)
	for i := range out {
		out[i] = int16(amp * math.Sin(2*math.Pi*freq*float64(i)/float64(rate)))
	}
	return out
}

func mustSession(t *testing.T, cfg Config) *Session {
	t.Helper()
	s, err := NewSession(cfg)
	if err != nil {
		t.Fatalf("NewSession failed: %v", err)
	}
	return s
}

func TestClassify(t *testing.T) {
	const rate = 16000
	tests := []struct {
		name  string
		mode  Mode
		frame []int16
		want  Decision
	}{
		{"digital silence", VeryAggressive, make([]int16, 160), Silence},
		{"voice band tone", VeryAggressive, tone(1000, 8000, rate, 160), Speech},
		{"voice band tone 30ms", Quality, tone(440, 8000, rate, 480), Speech},
		{"mains hum", Quality, tone(60, 8000, rate, 480), Silence},
		{"high whistle", VeryAggressive, tone(6000, 8000, rate, 160), Silence},
		{"quiet tone", Quality, tone(1000, 30, rate, 160), Silence},
		{"moderate tone in quality mode", Quality, tone(1000, 300, rate, 320), Speech},
		{"moderate tone in aggressive mode", VeryAggressive, tone(1000, 300, rate, 320), Silence},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			cfg.Mode = tt.mode
			s := mustSession(t, cfg)
			got, err := s.Classify(tt.frame)
			if err != nil {
				t.Fatalf("Classify failed: %v", err)
			}
			if got != tt.want {
				t.Errorf("got %s, want %s (%.1f dBFS)", got, tt.want, energyDBFS(tt.frame))
			}
			if s.State() != Silence {
				t.Error("Classify must not change the hangover state")
			}
		})
	}
}

func TestClassifyRejectsWindowLength(t *testing.T) {
	s := mustSession(t, DefaultConfig())
	for _, n := range []int{0, 100, 161, 800} {
		if _, err := s.Classify(make([]int16, n)); err == nil {
			t.Errorf("expected error for %d samples", n)
		}
	}
}

func TestHangoverSequence(t *testing.T) {
	s := mustSession(t, DefaultConfig())
	silence := make([]int16, 160)
	speech := tone(1000, 8000, 16000, 160)

	const k, m = 80, 60
	var windows [][]int16
	for i := 0; i < k; i++ {
		windows = append(windows, silence)
	}
	for i := 0; i < m; i++ {
		windows = append(windows, speech)
	}
	for i := 0; i < k; i++ {
		windows = append(windows, silence)
	}

	var changes []int
	for i, w := range windows {
		_, changed, err := s.Process(w)
		if err != nil {
			t.Fatalf("Process failed: %v", err)
		}
		if changed {
			changes = append(changes, i)
		}
	}

	if len(changes) != 2 {
		t.Fatalf("expected exactly 2 transitions, got %v", changes)
	}
	// 300 ms of speech enters, 500 ms of silence leaves.
	if changes[0] != k+29 {
		t.Errorf("entered speech at window %d, want %d", changes[0], k+29)
	}
	if changes[1] != k+m+49 {
		t.Errorf("left speech at window %d, want %d", changes[1], k+m+49)
	}
	if s.State() != Silence {
		t.Error("expected to finish in silence")
	}
}

func TestHangoverIgnoresShortEvents(t *testing.T) {
	silence := make([]int16, 160)
	speech := tone(1000, 8000, 16000, 160)

	t.Run("short burst", func(t *testing.T) {
		s := mustSession(t, DefaultConfig())
		for i := 0; i < 29; i++ {
			if _, changed, _ := s.Process(speech); changed {
				t.Fatalf("transition after %d ms of speech", (i+1)*10)
			}
		}
		s.Process(silence)
		for i := 0; i < 29; i++ {
			if _, changed, _ := s.Process(speech); changed {
				t.Fatal("speech run must restart after silence")
			}
		}
	})

	t.Run("short gap", func(t *testing.T) {
		s := mustSession(t, DefaultConfig())
		for i := 0; i < 30; i++ {
			s.Process(speech)
		}
		if s.State() != Speech {
			t.Fatal("expected speech after 300 ms")
		}
		for i := 0; i < 49; i++ {
			if state, _, _ := s.Process(silence); state != Speech {
				t.Fatalf("left speech after %d ms of silence", (i+1)*10)
			}
		}
		s.Process(speech)
		for i := 0; i < 49; i++ {
			s.Process(silence)
		}
		if s.State() != Speech {
			t.Error("silence run must restart after speech")
		}
	})
}

func TestSessionDeterministic(t *testing.T) {
	frames := [][]int16{
		make([]int16, 320),
		tone(700, 5000, 16000, 320),
		tone(2500, 2000, 16000, 320),
		tone(60, 9000, 16000, 320),
	}
	run := func() []State {
		s := mustSession(t, Config{Mode: Aggressive, SampleRate: 16000})
		var out []State
		for i := 0; i < 20; i++ {
			st, _, _ := s.Process(frames[i%len(frames)])
			out = append(out, st)
		}
		return out
	}
	a, b := run(), run()
	for i := range a {
		if a[i] != b[i] {
			t.Fatalf("runs diverge at window %d", i)
		}
	}
}

func TestConfigValidate(t *testing.T) {
	tests := []struct {
		name    string
		cfg     Config
		wantErr bool
	}{
		{"default", DefaultConfig(), false},
		{"8k", Config{Mode: Quality, SampleRate: 8000}, false},
		{"44.1k", Config{Mode: Quality, SampleRate: 44100}, true},
		{"bad mode", Config{Mode: Mode(7), SampleRate: 16000}, true},
		{"negative hangover", Config{SampleRate: 16000, MinSpeech: -time.Millisecond}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if err := tt.cfg.Validate(); (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestParseMode(t *testing.T) {
	for _, m := range []Mode{Quality, LowBitrate, Aggressive, VeryAggressive} {
		got, err := ParseMode(m.String())
		if err != nil || got != m {
			t.Errorf("ParseMode(%q) = %v, %v", m.String(), got, err)
		}
	}
	if _, err := ParseMode("loud"); err == nil {
		t.Error("expected error for unknown mode")
	}
}

// chunk builds a 20 ms stereo chunk at 48 kHz.
func chunk(speech bool, index int) audio.Buffer {
	const rate, frames = 48000, 960
	buf := audio.Buffer{
		Format:    audio.Format{SampleRate: rate, Channels: 2, BitDepth: 16},
		Timestamp: int64(index * frames),
	}
	buf.Samples = make([]int32, frames*2)
	if speech {
		for i := 0; i < frames; i++ {
			n := index*frames + i
			v := int32(8000 * math.Sin(2*math.Pi*1000*float64(n)/rate))
			buf.Samples[2*i] = v
			buf.Samples[2*i+1] = v
		}
	}
	return buf
}

// runGate feeds 20 ms chunks to g and returns the indices of the chunks
// it released, in order.
func runGate(t *testing.T, g *Gate, n int, speech func(int) bool) []int {
	t.Helper()
	var out []int
	for i := 0; i < n; i++ {
		bufs, err := g.Process(chunk(speech(i), i))
		if err != nil {
			t.Fatalf("Process failed at chunk %d: %v", i, err)
		}
		for _, b := range bufs {
			out = append(out, int(b.Timestamp/960))
		}
	}
	return out
}

func TestGate(t *testing.T) {
	g, err := NewGate(DefaultConfig(), 0)
	if err != nil {
		t.Fatalf("NewGate failed: %v", err)
	}
	var seen []State
	g.OnChange = func(s State) { seen = append(seen, s) }

	// 1 s silence, 1 s speech, 1 s silence in 20 ms chunks.
	got := runGate(t, g, 150, func(i int) bool { return i >= 50 && i < 100 })

	if len(seen) != 2 || seen[0] != Speech || seen[1] != Silence {
		t.Fatalf("unexpected transitions: %v", seen)
	}
	kept := make(map[int]bool)
	for i, idx := range got {
		if i > 0 && idx != got[i-1]+1 {
			t.Fatalf("released chunks out of order: %v", got)
		}
		kept[idx] = true
	}
	for i := 0; i < 49; i++ {
		if kept[i] {
			t.Errorf("leading silence chunk %d kept", i)
		}
	}
	for i := 50; i < 100; i++ {
		if !kept[i] {
			t.Errorf("speech chunk %d dropped", i)
		}
	}
	for i := 130; i < 150; i++ {
		if kept[i] {
			t.Errorf("trailing silence chunk %d kept", i)
		}
	}

	st := g.Stats()
	if st.Kept != int64(len(got))*960 {
		t.Errorf("kept %d frames, released %d", st.Kept, len(got)*960)
	}
	if st.Kept+st.Dropped+st.Held != 150*960 {
		t.Errorf("stats cover %d frames, want %d", st.Kept+st.Dropped+st.Held, 150*960)
	}
	if st.Held > 15*960 {
		t.Errorf("pre-roll holds %d frames, more than MinSpeech", st.Held)
	}
	if st.Transitions != 2 {
		t.Errorf("expected 2 transitions, got %d", st.Transitions)
	}
}

func TestGateDropsShortBurst(t *testing.T) {
	g, err := NewGate(DefaultConfig(), 0)
	if err != nil {
		t.Fatalf("NewGate failed: %v", err)
	}

	// A single 20 ms burst is far shorter than the 300 ms MinSpeech.
	got := runGate(t, g, 50, func(i int) bool { return i == 25 })

	if len(got) != 0 {
		t.Errorf("short burst released chunks %v", got)
	}
	if g.Session().State() != Silence {
		t.Errorf("state = %v, want Silence", g.Session().State())
	}
	st := g.Stats()
	if st.Kept != 0 || st.Transitions != 0 {
		t.Errorf("unexpected stats %+v", st)
	}
	g.Reset()
	if st := g.Stats(); st.Held != 0 || st.Dropped != 50*960 {
		t.Errorf("after reset: %+v", st)
	}
}

func TestGateRejectsBadWindow(t *testing.T) {
	if _, err := NewGate(DefaultConfig(), 15*time.Millisecond); err == nil {
		t.Error("expected error for a 15 ms window")
	}
}
