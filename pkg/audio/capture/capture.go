// ABOUTME: Capture device boundary
// ABOUTME: Devices push interleaved PCM into a Sink that feeds a ring buffer
package capture

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/Resonate-Protocol/resonate-transcoder/pkg/audio"
	"github.com/Resonate-Protocol/resonate-transcoder/pkg/audio/stream"
)

// Sink receives audio from a device. Push and End are called from the
// device's goroutine; they must return quickly.
type Sink interface {
	// Push delivers interleaved samples in the device format. The sink
	// copies what it keeps; the device may reuse samples afterwards.
	Push(samples []int32)
	// Fail reports an unrecoverable device error.
	Fail(err error)
	// End reports that a finite device has no more input.
	End()
}

// Device is a live audio source.
type Device interface {
	Format() audio.Format
	// Open starts delivering audio to sink. It returns once the device runs.
	Open(sink Sink) error
	Close() error
}

// Info describes an available device.
type Info struct {
	Name       string
	SampleRate int
	Channels   int
	Default    bool
}

// RingSink forwards pushed chunks into a ring buffer as stream frames.
type RingSink struct {
	ctx    context.Context
	ring   *stream.RingBuffer
	format audio.Format

	mu     sync.Mutex
	seq    stream.Sequencer
	frames int64
	err    error
	ended  bool
}

// NewRingSink creates a sink stamping chunks in format into ring. ctx bounds
// any wait imposed by the ring's policy.
func NewRingSink(ctx context.Context, ring *stream.RingBuffer, format audio.Format) *RingSink {
	return &RingSink{ctx: ctx, ring: ring, format: format}
}

// Push copies samples into a frame and enqueues it. After the first
// failure pushes are discarded.
func (s *RingSink) Push(samples []int32) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil || s.ended {
		return
	}
	if len(samples)%s.format.Channels != 0 {
		s.failLocked(audio.Errorf(audio.DeviceError, "capture: push", "%d samples is not a multiple of %d channels", len(samples), s.format.Channels))
		return
	}

	buf := audio.Buffer{
		Format:    s.format,
		Samples:   append([]int32(nil), samples...),
		Timestamp: s.frames,
	}
	if err := s.ring.Push(s.ctx, s.seq.Stamp(buf)); err != nil {
		if errors.Is(err, stream.ErrClosed) {
			s.ended = true
			return
		}
		s.failLocked(err)
		return
	}
	s.frames += int64(buf.NumFrames())
}

// Fail ends the stream with a DeviceError.
func (s *RingSink) Fail(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil || s.ended {
		return
	}
	var ae *audio.Error
	if !errors.As(err, &ae) || ae.Kind != audio.DeviceError {
		err = audio.NewError(audio.DeviceError, "capture", err)
	}
	s.failLocked(err)
}

// End closes the ring so the consumer drains and stops.
func (s *RingSink) End() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil || s.ended {
		return
	}
	s.ended = true
	_ = s.ring.Close()
}

func (s *RingSink) failLocked(err error) {
	s.err = err
	_ = s.ring.CloseWithError(err)
}

// Err returns the error that stopped the sink, if any.
func (s *RingSink) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

// Frames returns the number of frames accepted so far.
func (s *RingSink) Frames() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.frames
}

// Open resolves a device by name. "tone" and "silence" are synthetic; any
// other name goes to the system backend.
func Open(name string, format audio.Format) (Device, error) {
	switch name {
	case "tone":
		return NewTone(ToneOptions{Format: format}), nil
	case "silence":
		return NewTone(ToneOptions{Format: format, Amplitude: -1}), nil
	case "speech":
		return NewTone(ToneOptions{Format: format, Pattern: SpeechPattern()}), nil
	}
	dev, err := openSystem(name, format)
	if err != nil {
		return nil, fmt.Errorf("failed to open capture device %q: %w", name, err)
	}
	return dev, nil
}

// List returns the synthetic devices followed by the system devices.
func List() ([]Info, error) {
	infos := []Info{
		{Name: "tone", SampleRate: 48000, Channels: 2},
		{Name: "silence", SampleRate: 48000, Channels: 2},
		{Name: "speech", SampleRate: 48000, Channels: 2},
	}
	system, err := listSystem()
	if err != nil {
		return infos, err
	}
	return append(infos, system...), nil
}
