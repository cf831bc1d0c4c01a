// ABOUTME: Capture gate built on a VAD session
// ABOUTME: Downmixes and resamples chunks, holds a pre-roll and releases speech
package vad

import (
	"fmt"
	"time"

	"github.com/Resonate-Protocol/resonate-transcoder/internal/log"
	"github.com/Resonate-Protocol/resonate-transcoder/pkg/audio"
	"github.com/Resonate-Protocol/resonate-transcoder/pkg/audio/convert"
	"github.com/Resonate-Protocol/resonate-transcoder/pkg/audio/resample"
)

// GateStats counts input frames by outcome.
type GateStats struct {
	Kept        int64
	Dropped     int64
	Held        int64 // waiting in the pre-roll
	Transitions int
}

// Gate filters a capture stream on the session state, not on single
// windows, so bursts shorter than MinSpeech never pass. While the session
// is in Silence the latest MinSpeech of input is held back; entering
// Speech releases it ahead of the chunk, so the onset survives. The
// hangover tail is kept while the session stays in Speech.
type Gate struct {
	session   *Session
	conv      *convert.Converter
	window    int
	windowLen time.Duration
	pending   []int16
	preroll   []audio.Buffer
	held      int64
	stats     GateStats

	// OnChange is called on every transition, from the goroutine calling Process.
	OnChange func(State)
}

// NewGate creates a gate analysing windows of the given length
// (10, 20 or 30 ms).
func NewGate(cfg Config, window time.Duration) (*Gate, error) {
	s, err := NewSession(cfg)
	if err != nil {
		return nil, err
	}
	if window == 0 {
		window = DefaultWindow
	}
	n := s.WindowSamples(window)
	d, err := s.windowDuration(n)
	if err != nil {
		return nil, fmt.Errorf("invalid vad window %v: %w", window, err)
	}
	return &Gate{
		session: s,
		conv: convert.NewConverter(convert.Target{
			SampleRate: cfg.SampleRate,
			Channels:   1,
			BitDepth:   16,
			Quality:    resample.QualityLinear,
		}),
		window:    n,
		windowLen: d,
	}, nil
}

// Session exposes the underlying session.
func (g *Gate) Session() *Session {
	return g.session
}

// Stats returns the running counts.
func (g *Gate) Stats() GateStats {
	st := g.stats
	st.Held = g.held
	return st
}

// Process analyses buf and returns the audio to retain, in stream order:
// nothing while the session is in Silence, otherwise any released pre-roll
// followed by buf.
func (g *Gate) Process(buf audio.Buffer) ([]audio.Buffer, error) {
	mono, err := g.conv.Convert(buf)
	if err != nil {
		return nil, fmt.Errorf("vad: failed to convert chunk: %w", err)
	}
	for _, v := range mono.Samples {
		g.pending = append(g.pending, int16(v))
	}

	active := g.session.State() == Speech
	n := 0
	for len(g.pending)-n >= g.window {
		_, state, changed := g.session.step(g.pending[n:n+g.window], g.windowLen)
		n += g.window
		if state == Speech {
			active = true
		}
		if changed {
			g.stats.Transitions++
			log.Debugf("vad: %s", state)
			if g.OnChange != nil {
				g.OnChange(state)
			}
		}
	}
	g.pending = append(g.pending[:0], g.pending[n:]...)

	if !active {
		g.hold(buf)
		return nil, nil
	}

	out := append(g.preroll, buf)
	g.stats.Kept += g.held + int64(buf.NumFrames())
	g.preroll = nil
	g.held = 0
	return out, nil
}

// hold adds a private copy of buf to the pre-roll and trims it to MinSpeech.
func (g *Gate) hold(buf audio.Buffer) {
	g.preroll = append(g.preroll, buf.Clone())
	g.held += int64(buf.NumFrames())

	limit := int64(buf.Format.SampleRate) * int64(g.session.cfg.MinSpeech) / int64(time.Second)
	for len(g.preroll) > 0 {
		first := int64(g.preroll[0].NumFrames())
		if g.held-first < limit {
			break
		}
		g.preroll[0] = audio.Buffer{}
		g.preroll = g.preroll[1:]
		g.held -= first
		g.stats.Dropped += first
	}
}

// Reset clears the session, any partial window and the pre-roll. Held
// audio counts as dropped.
func (g *Gate) Reset() {
	g.session.Reset()
	g.pending = nil
	g.stats.Dropped += g.held
	g.preroll = nil
	g.held = 0
}
