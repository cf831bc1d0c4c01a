// ABOUTME: Sequence stamping and verification for stream frames
// ABOUTME: Producers stamp frames, consumers detect gaps or reordering
package stream

import (
	"fmt"

	"github.com/Resonate-Protocol/resonate-transcoder/pkg/audio"
)

// Sequencer assigns increasing sequence numbers to a producer's frames.
type Sequencer struct {
	next uint64
}

// Stamp wraps buf in the next frame.
func (s *Sequencer) Stamp(buf audio.Buffer) audio.StreamFrame {
	f := audio.StreamFrame{Seq: s.next, Buffer: buf}
	s.next++
	return f
}

// Next returns the sequence number the next Stamp will use.
func (s *Sequencer) Next() uint64 {
	return s.next
}

// Verifier checks frames arrive in order on the consumer side.
type Verifier struct {
	expected uint64
	gaps     uint64
}

// Check accepts frame if its sequence is not behind the expected one.
// Skipped sequence numbers are counted as gaps (frames dropped upstream).
func (v *Verifier) Check(frame audio.StreamFrame) error {
	if frame.Seq < v.expected {
		return fmt.Errorf("frame %d arrived after %d: out of order", frame.Seq, v.expected-1)
	}
	v.gaps += frame.Seq - v.expected
	v.expected = frame.Seq + 1
	return nil
}

// Gaps returns the number of sequence numbers skipped so far.
func (v *Verifier) Gaps() uint64 {
	return v.gaps
}
