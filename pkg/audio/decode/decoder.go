// ABOUTME: Decoder interface and shared frame bookkeeping
// ABOUTME: Streams canonical PCM frames out of encoded sources
package decode

import (
	"errors"
	"io"

	"github.com/Resonate-Protocol/resonate-transcoder/pkg/audio"
)

// DefaultFrameBudget is used when DecodeNext is called with a budget <= 0.
const DefaultFrameBudget = 4096

// ErrClosed is returned by calls on a closed decoder.
var ErrClosed = errors.New("decode: decoder closed")

// Decoder streams PCM out of one encoded source.
type Decoder interface {
	// Info reports the output format and length. It is valid right after open.
	Info() StreamInfo

	// DecodeNext returns at most frameBudget frames. It returns io.EOF once
	// the stream is exhausted. A mid-stream failure after some frames were
	// delivered is reported as PartialDecode, before any as CorruptStream.
	DecodeNext(frameBudget int) (audio.StreamFrame, error)

	// SeekFrame positions the decoder at an absolute frame index.
	SeekFrame(frame int64) error

	Close() error
}

// StreamInfo describes a decoder's output.
type StreamInfo struct {
	Format      audio.Format
	TotalFrames int64 // -1 when unknown
}

// Duration in seconds, or -1 when the length is unknown.
func (i StreamInfo) Duration() float64 {
	if i.TotalFrames < 0 || i.Format.SampleRate == 0 {
		return -1
	}
	return float64(i.TotalFrames) / float64(i.Format.SampleRate)
}

// base holds the bookkeeping every decoder shares: sequence numbers, the
// frame position, decoded samples waiting for the next call and the
// terminal condition that follows them.
type base struct {
	op       string
	info     StreamInfo
	seq      uint64
	position int64
	produced int64
	pending  []int32
	tail     error
	closed   bool
}

func (b *base) Info() StreamInfo {
	return b.info
}

// next calls fill until a budget of frames is buffered or the stream ends,
// then emits up to the budget. fill appends to b.pending and returns io.EOF
// at the end of the stream.
func (b *base) next(budget int, fill func(want int) error) (audio.StreamFrame, error) {
	if b.closed {
		return audio.StreamFrame{}, ErrClosed
	}
	if budget <= 0 {
		budget = DefaultFrameBudget
	}

	ch := b.info.Format.Channels
	want := budget * ch
	for len(b.pending) < want && b.tail == nil {
		if err := fill(want); err != nil {
			if err == io.EOF {
				b.tail = io.EOF
			} else {
				b.tail = b.broken(err)
			}
		}
	}

	n := want
	if len(b.pending) < n {
		n = len(b.pending) - len(b.pending)%ch
	}
	if n == 0 {
		b.pending = nil
		return audio.StreamFrame{}, b.tail
	}

	samples := make([]int32, n)
	copy(samples, b.pending)
	b.pending = b.pending[n:]

	frame := audio.StreamFrame{
		Seq: b.seq,
		Buffer: audio.Buffer{
			Format:    b.info.Format,
			Samples:   samples,
			Timestamp: b.position,
		},
	}
	b.seq++
	frames := int64(n / ch)
	b.position += frames
	b.produced += frames
	return frame, nil
}

// broken classifies a mid-stream failure. Kinded errors pass through.
func (b *base) broken(err error) error {
	var ae *audio.Error
	if errors.As(err, &ae) {
		return err
	}
	if b.produced > 0 || len(b.pending) > 0 {
		return audio.NewError(audio.PartialDecode, b.op, err)
	}
	return audio.NewError(audio.CorruptStream, b.op, err)
}

// checkSeek validates a seek target.
func (b *base) checkSeek(frame int64) error {
	if b.closed {
		return ErrClosed
	}
	if frame < 0 || (b.info.TotalFrames >= 0 && frame > b.info.TotalFrames) {
		return audio.Errorf(audio.SeekUnsupported, b.op, "frame %d outside [0, %d]", frame, b.info.TotalFrames)
	}
	return nil
}

// seeked resets the buffered state after a successful seek.
func (b *base) seeked(frame int64) {
	b.position = frame
	b.pending = nil
	b.tail = nil
}

func (b *base) seekUnsupported(reason string) error {
	return audio.Errorf(audio.SeekUnsupported, b.op, "%s", reason)
}

func (b *base) close() {
	b.closed = true
	b.pending = nil
}

func clampBits(bits int) int {
	switch {
	case bits <= 8:
		return 8
	case bits <= 16:
		return 16
	case bits <= 24:
		return 24
	}
	return 32
}
