// ABOUTME: Bounded single-producer single-consumer frame queue
// ABOUTME: Connects a decoder or capture device to a consumer with a backpressure policy
package stream

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/Resonate-Protocol/resonate-transcoder/pkg/audio"
)

// ErrClosed is returned by Push after the producer side has been closed.
var ErrClosed = errors.New("stream: push to closed buffer")

// Mode selects what Push does when the buffer is full.
type Mode int

const (
	// Block waits for space, optionally bounded by Policy.Timeout.
	Block Mode = iota
	// DropOldest evicts the oldest queued frame to make room.
	DropOldest
	// FailFast returns BufferFull immediately.
	FailFast
)

func (m Mode) String() string {
	switch m {
	case Block:
		return "block"
	case DropOldest:
		return "drop-oldest"
	case FailFast:
		return "fail-fast"
	}
	return fmt.Sprintf("Mode(%d)", int(m))
}

// ParseMode maps a config string to a Mode.
func ParseMode(s string) (Mode, error) {
	switch s {
	case "block", "":
		return Block, nil
	case "drop-oldest", "drop":
		return DropOldest, nil
	case "fail-fast", "fail":
		return FailFast, nil
	}
	return Block, fmt.Errorf("unknown backpressure policy: %s", s)
}

// Policy is a backpressure configuration.
type Policy struct {
	Mode    Mode
	Timeout time.Duration // Block only; zero waits forever
}

// CapturePolicy bounds audio latency: a stalled consumer makes the
// capture side fail with BufferFull after a short wait.
func CapturePolicy() Policy {
	return Policy{Mode: Block, Timeout: 20 * time.Millisecond}
}

// ImportPolicy paces the decoder by the consumer.
func ImportPolicy() Policy {
	return Policy{Mode: Block}
}

// Stats are cumulative counters for one buffer.
type Stats struct {
	Pushed    uint64
	Popped    uint64
	Dropped   uint64
	Rejected  uint64 // pushes refused with BufferFull
	HighWater int
}

// RingBuffer is a bounded FIFO of stream frames.
//
// Exactly one goroutine may push and exactly one may pop. Ownership of a
// frame passes to the consumer on Pop; the buffer clears its slot.
type RingBuffer struct {
	policy Policy

	mu         sync.Mutex
	buf        []audio.StreamFrame
	head, tail uint64
	closed     bool
	closeErr   error
	stats      Stats

	notEmpty chan struct{}
	notFull  chan struct{}
	done     chan struct{}
}

// NewRingBuffer creates a buffer holding up to capacity frames.
func NewRingBuffer(capacity int, policy Policy) *RingBuffer {
	if capacity < 1 {
		capacity = 1
	}
	return &RingBuffer{
		policy:   policy,
		buf:      make([]audio.StreamFrame, capacity),
		notEmpty: make(chan struct{}, 1),
		notFull:  make(chan struct{}, 1),
		done:     make(chan struct{}),
	}
}

// Push enqueues frame according to the buffer's policy.
func (rb *RingBuffer) Push(ctx context.Context, frame audio.StreamFrame) error {
	var timeout <-chan time.Time
	if rb.policy.Mode == Block && rb.policy.Timeout > 0 {
		timer := time.NewTimer(rb.policy.Timeout)
		defer timer.Stop()
		timeout = timer.C
	}

	for {
		rb.mu.Lock()
		if rb.closed {
			rb.mu.Unlock()
			return ErrClosed
		}

		if rb.lenLocked() < len(rb.buf) {
			rb.storeLocked(frame)
			rb.mu.Unlock()
			return nil
		}

		switch rb.policy.Mode {
		case DropOldest:
			rb.buf[rb.head%uint64(len(rb.buf))] = audio.StreamFrame{}
			rb.head++
			rb.stats.Dropped++
			rb.storeLocked(frame)
			rb.mu.Unlock()
			return nil
		case FailFast:
			rb.stats.Rejected++
			rb.mu.Unlock()
			return audio.Errorf(audio.BufferFull, "stream: push", "buffer full (%d frames)", len(rb.buf))
		}
		rb.mu.Unlock()

		select {
		case <-rb.notFull:
		case <-rb.done:
		case <-timeout:
			rb.mu.Lock()
			rb.stats.Rejected++
			rb.mu.Unlock()
			return audio.Errorf(audio.BufferFull, "stream: push", "no space after %s", rb.policy.Timeout)
		case <-ctx.Done():
			return audio.NewError(audio.Cancelled, "stream: push", ctx.Err())
		}
	}
}

// Pop dequeues the oldest frame. After Close it drains the remaining frames
// and then returns io.EOF, or the error given to CloseWithError.
func (rb *RingBuffer) Pop(ctx context.Context) (audio.StreamFrame, error) {
	for {
		rb.mu.Lock()
		if rb.tail > rb.head {
			idx := rb.head % uint64(len(rb.buf))
			frame := rb.buf[idx]
			rb.buf[idx] = audio.StreamFrame{}
			rb.head++
			rb.stats.Popped++
			rb.mu.Unlock()
			signal(rb.notFull)
			return frame, nil
		}
		if rb.closed {
			err := rb.closeErr
			rb.mu.Unlock()
			if err == nil {
				err = io.EOF
			}
			return audio.StreamFrame{}, err
		}
		rb.mu.Unlock()

		select {
		case <-rb.notEmpty:
		case <-rb.done:
		case <-ctx.Done():
			return audio.StreamFrame{}, audio.NewError(audio.Cancelled, "stream: pop", ctx.Err())
		}
	}
}

// Close marks the end of the stream. Queued frames remain poppable.
func (rb *RingBuffer) Close() error {
	return rb.CloseWithError(nil)
}

// CloseWithError ends the stream with a terminal error reported to the
// consumer after the queued frames. Only the first close takes effect.
func (rb *RingBuffer) CloseWithError(err error) error {
	rb.mu.Lock()
	defer rb.mu.Unlock()
	if rb.closed {
		return nil
	}
	rb.closed = true
	rb.closeErr = err
	close(rb.done)
	return nil
}

// Len returns the number of queued frames.
func (rb *RingBuffer) Len() int {
	rb.mu.Lock()
	defer rb.mu.Unlock()
	return rb.lenLocked()
}

// Cap returns the capacity in frames.
func (rb *RingBuffer) Cap() int {
	return len(rb.buf)
}

// Policy returns the backpressure policy.
func (rb *RingBuffer) Policy() Policy {
	return rb.policy
}

// Stats returns a snapshot of the counters.
func (rb *RingBuffer) Stats() Stats {
	rb.mu.Lock()
	defer rb.mu.Unlock()
	return rb.stats
}

func (rb *RingBuffer) lenLocked() int {
	return int(rb.tail - rb.head)
}

func (rb *RingBuffer) storeLocked(frame audio.StreamFrame) {
	rb.buf[rb.tail%uint64(len(rb.buf))] = frame
	rb.tail++
	rb.stats.Pushed++
	if n := rb.lenLocked(); n > rb.stats.HighWater {
		rb.stats.HighWater = n
	}
	signal(rb.notEmpty)
}

// signal wakes a waiter without blocking when one is already pending
func signal(ch chan struct{}) {
	select {
	case ch <- struct{}{}:
	default:
	}
}
