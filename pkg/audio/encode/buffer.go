// ABOUTME: In-memory io.WriteSeeker
// ABOUTME: Lets header-patching encoders target a byte slice
package encode

import (
	"errors"
	"io"
)

// WriteSeekBuffer is a growable byte slice that supports seeking, so
// encoders can patch headers when the destination is memory.
type WriteSeekBuffer struct {
	buf []byte
	pos int
}

func (b *WriteSeekBuffer) Write(p []byte) (int, error) {
	end := b.pos + len(p)
	if end > len(b.buf) {
		if end > cap(b.buf) {
			grown := make([]byte, end, 2*end)
			copy(grown, b.buf)
			b.buf = grown
		} else {
			b.buf = b.buf[:end]
		}
	}
	copy(b.buf[b.pos:], p)
	b.pos = end
	return len(p), nil
}

func (b *WriteSeekBuffer) Seek(offset int64, whence int) (int64, error) {
	var abs int64
	switch whence {
	case io.SeekStart:
		abs = offset
	case io.SeekCurrent:
		abs = int64(b.pos) + offset
	case io.SeekEnd:
		abs = int64(len(b.buf)) + offset
	default:
		return 0, errors.New("encode: invalid whence")
	}
	if abs < 0 {
		return 0, errors.New("encode: negative position")
	}
	b.pos = int(abs)
	return abs, nil
}

// Bytes returns the written data.
func (b *WriteSeekBuffer) Bytes() []byte {
	return b.buf
}

func (b *WriteSeekBuffer) Len() int {
	return len(b.buf)
}
