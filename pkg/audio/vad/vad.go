// ABOUTME: Voice activity detection session
// ABOUTME: Classifies short PCM windows and applies speech/silence hangover
package vad

import (
	"fmt"
	"time"

	"gonum.org/v1/gonum/dsp/fourier"
)

// Mode trades missed speech against false positives. Higher modes reject
// more non-speech.
type Mode int

const (
	Quality Mode = iota
	LowBitrate
	Aggressive
	VeryAggressive
)

var modeNames = []string{"quality", "low_bitrate", "aggressive", "very_aggressive"}

func (m Mode) String() string {
	if m < 0 || int(m) >= len(modeNames) {
		return fmt.Sprintf("Mode(%d)", int(m))
	}
	return modeNames[m]
}

// ParseMode accepts the names returned by Mode.String.
func ParseMode(s string) (Mode, error) {
	for i, name := range modeNames {
		if s == name {
			return Mode(i), nil
		}
	}
	return 0, fmt.Errorf("unknown vad mode %q", s)
}

// thresholds per mode: minimum frame energy and minimum share of spectral
// power inside the speech band.
type thresholds struct {
	energyDBFS float64
	bandRatio  float64
}

var modeThresholds = [...]thresholds{
	Quality:        {energyDBFS: -55, bandRatio: 0.35},
	LowBitrate:     {energyDBFS: -50, bandRatio: 0.45},
	Aggressive:     {energyDBFS: -45, bandRatio: 0.55},
	VeryAggressive: {energyDBFS: -40, bandRatio: 0.65},
}

// Decision is the verdict for one window.
type Decision int

const (
	Silence Decision = iota
	Speech
)

func (d Decision) String() string {
	if d == Speech {
		return "speech"
	}
	return "silence"
}

// State is the smoothed activity after hangover.
type State = Decision

// Config configures a Session.
type Config struct {
	Mode       Mode
	SampleRate int           // 8000, 16000, 32000 or 48000
	MinSpeech  time.Duration // speech needed before entering Speech
	MinSilence time.Duration // silence needed before leaving Speech
}

// Defaults for capture gating.
const (
	DefaultSampleRate = 16000
	DefaultMinSpeech  = 300 * time.Millisecond
	DefaultMinSilence = 500 * time.Millisecond
	DefaultWindow     = 10 * time.Millisecond
)

// DefaultConfig returns the capture defaults.
func DefaultConfig() Config {
	return Config{
		Mode:       VeryAggressive,
		SampleRate: DefaultSampleRate,
		MinSpeech:  DefaultMinSpeech,
		MinSilence: DefaultMinSilence,
	}
}

// Validate checks the mode and sample rate.
func (c Config) Validate() error {
	if c.Mode < Quality || c.Mode > VeryAggressive {
		return fmt.Errorf("invalid vad mode: %d", int(c.Mode))
	}
	switch c.SampleRate {
	case 8000, 16000, 32000, 48000:
	default:
		return fmt.Errorf("unsupported vad sample rate: %d (supported: 8000, 16000, 32000, 48000)", c.SampleRate)
	}
	if c.MinSpeech < 0 || c.MinSilence < 0 {
		return fmt.Errorf("negative hangover duration")
	}
	return nil
}

// Session holds the rolling decision state for one stream. It starts in
// Silence and is not safe for concurrent use.
type Session struct {
	cfg Config

	active      bool
	speechRun   time.Duration
	silenceRun  time.Duration
	ffts        map[int]*fourier.FFT
	windowFuncs map[int][]float64
	scratch     []float64
	coeffs      []complex128
}

// NewSession creates a session in the Silence state.
func NewSession(cfg Config) (*Session, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &Session{
		cfg:         cfg,
		ffts:        make(map[int]*fourier.FFT),
		windowFuncs: make(map[int][]float64),
	}, nil
}

// Config returns the session configuration.
func (s *Session) Config() Config {
	return s.cfg
}

// SetMode changes the mode without resetting the hangover state.
func (s *Session) SetMode(m Mode) error {
	if m < Quality || m > VeryAggressive {
		return fmt.Errorf("invalid vad mode: %d", int(m))
	}
	s.cfg.Mode = m
	return nil
}

// Reset returns the session to Silence with empty history.
func (s *Session) Reset() {
	s.active = false
	s.speechRun = 0
	s.silenceRun = 0
}

// State returns the current smoothed state.
func (s *Session) State() State {
	if s.active {
		return Speech
	}
	return Silence
}

// WindowSamples returns the sample count of a window of length d at the
// session rate.
func (s *Session) WindowSamples(d time.Duration) int {
	return int(int64(s.cfg.SampleRate) * int64(d) / int64(time.Second))
}

func (s *Session) windowDuration(n int) (time.Duration, error) {
	for _, ms := range []int{10, 20, 30} {
		if n == s.cfg.SampleRate*ms/1000 {
			return time.Duration(ms) * time.Millisecond, nil
		}
	}
	return 0, fmt.Errorf("window of %d samples is not 10, 20 or 30 ms at %d Hz", n, s.cfg.SampleRate)
}

// Classify judges a single mono window of 10, 20 or 30 ms. It does not
// touch the hangover state.
func (s *Session) Classify(frame []int16) (Decision, error) {
	if _, err := s.windowDuration(len(frame)); err != nil {
		return Silence, err
	}
	return s.classify(frame), nil
}

func (s *Session) classify(frame []int16) Decision {
	th := modeThresholds[s.cfg.Mode]
	if energyDBFS(frame) < th.energyDBFS {
		return Silence
	}
	if s.bandRatio(frame) < th.bandRatio {
		return Silence
	}
	return Speech
}

// Process classifies a window and applies hangover. changed reports a
// transition into or out of Speech.
func (s *Session) Process(frame []int16) (state State, changed bool, err error) {
	d, err := s.windowDuration(len(frame))
	if err != nil {
		return s.State(), false, err
	}

	_, state, changed = s.step(frame, d)
	return state, changed, nil
}

// step classifies a validated window of length d and updates hangover.
func (s *Session) step(frame []int16, d time.Duration) (Decision, State, bool) {
	was := s.active
	decision := s.classify(frame)
	if decision == Speech {
		s.speechRun += d
		s.silenceRun = 0
		if !s.active && s.speechRun >= s.cfg.MinSpeech {
			s.active = true
		}
	} else {
		s.silenceRun += d
		s.speechRun = 0
		if s.active && s.silenceRun >= s.cfg.MinSilence {
			s.active = false
		}
	}
	return decision, s.State(), was != s.active
}
