// ABOUTME: Synthetic capture device
// ABOUTME: Generates a sine tone, optionally gated on and off, for tests and demos
package capture

import (
	"math"
	"sync"
	"time"

	"github.com/Resonate-Protocol/resonate-transcoder/pkg/audio"
)

// Segment is one step of a tone pattern.
type Segment struct {
	Length time.Duration
	On     bool
}

// SpeechPattern alternates one second of silence and tone.
func SpeechPattern() []Segment {
	return []Segment{{Length: time.Second}, {Length: time.Second, On: true}}
}

// ToneOptions configures a Tone device.
type ToneOptions struct {
	Format    audio.Format
	Frequency float64 // Hz, default 440
	Amplitude float64 // of full scale, default 0.5; negative means silence
	Chunk     time.Duration
	Duration  time.Duration // zero runs until Close
	Pattern   []Segment     // repeated; nil keeps the tone on
	Realtime  bool          // pace chunks by the wall clock
}

// Tone generates a sine wave.
type Tone struct {
	opts ToneOptions

	mu     sync.Mutex
	stop   chan struct{}
	done   chan struct{}
	sample uint64
}

// NewTone creates a tone device. Unset options take defaults.
func NewTone(opts ToneOptions) *Tone {
	if opts.Format.SampleRate == 0 {
		opts.Format.SampleRate = 48000
	}
	if opts.Format.Channels == 0 {
		opts.Format.Channels = 2
	}
	if opts.Format.BitDepth == 0 || opts.Format.Float {
		opts.Format.BitDepth = 16
		opts.Format.Float = false
	}
	if opts.Format.Codec == "" {
		opts.Format.Codec = "pcm"
	}
	if opts.Frequency == 0 {
		opts.Frequency = 440
	}
	if opts.Amplitude == 0 {
		opts.Amplitude = 0.5
	}
	if opts.Amplitude < 0 {
		opts.Amplitude = 0
	}
	if opts.Chunk == 0 {
		opts.Chunk = 20 * time.Millisecond
	}
	return &Tone{opts: opts}
}

func (t *Tone) Format() audio.Format {
	return t.opts.Format
}

// Open starts the generator goroutine.
func (t *Tone) Open(sink Sink) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.stop != nil {
		return audio.Errorf(audio.DeviceError, "tone: open", "already open")
	}
	t.stop = make(chan struct{})
	t.done = make(chan struct{})
	go t.run(sink, t.stop, t.done)
	return nil
}

// Close stops the generator and waits for it.
func (t *Tone) Close() error {
	t.mu.Lock()
	stop, done := t.stop, t.done
	t.stop = nil
	t.mu.Unlock()
	if stop == nil {
		return nil
	}
	close(stop)
	<-done
	return nil
}

func (t *Tone) run(sink Sink, stop, done chan struct{}) {
	defer close(done)

	f := t.opts.Format
	chunk := int(int64(f.SampleRate) * int64(t.opts.Chunk) / int64(time.Second))
	if chunk < 1 {
		chunk = 1
	}
	var limit uint64
	if t.opts.Duration > 0 {
		limit = uint64(int64(f.SampleRate) * int64(t.opts.Duration) / int64(time.Second))
	}

	var tick <-chan time.Time
	if t.opts.Realtime {
		ticker := time.NewTicker(t.opts.Chunk)
		defer ticker.Stop()
		tick = ticker.C
	}

	buf := make([]int32, chunk*f.Channels)
	for {
		n := chunk
		if limit > 0 {
			if t.sample >= limit {
				sink.End()
				return
			}
			if rem := limit - t.sample; rem < uint64(n) {
				n = int(rem)
			}
		}
		t.fill(buf[:n*f.Channels])
		sink.Push(buf[:n*f.Channels])

		if tick != nil {
			select {
			case <-stop:
				return
			case <-tick:
			}
		} else {
			select {
			case <-stop:
				return
			default:
			}
		}
	}
}

func (t *Tone) fill(out []int32) {
	f := t.opts.Format
	peak := t.opts.Amplitude * float64(audio.MaxSample(f.BitDepth))
	for i := 0; i < len(out)/f.Channels; i++ {
		var v int32
		if t.on(t.sample) {
			v = int32(peak * math.Sin(2*math.Pi*t.opts.Frequency*float64(t.sample)/float64(f.SampleRate)))
		}
		for c := 0; c < f.Channels; c++ {
			out[i*f.Channels+c] = v
		}
		t.sample++
	}
}

func (t *Tone) on(sample uint64) bool {
	if len(t.opts.Pattern) == 0 {
		return true
	}
	rate := int64(t.opts.Format.SampleRate)
	var period int64
	for _, s := range t.opts.Pattern {
		period += rate * int64(s.Length) / int64(time.Second)
	}
	if period == 0 {
		return true
	}
	pos := int64(sample) % period
	for _, s := range t.opts.Pattern {
		n := rate * int64(s.Length) / int64(time.Second)
		if pos < n {
			return s.On
		}
		pos -= n
	}
	return true
}
