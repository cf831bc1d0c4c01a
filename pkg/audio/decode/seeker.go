// ABOUTME: Seek adapter for forward-only sources
// ABOUTME: Records the header region so container parsers can rewind within it
package decode

import (
	"errors"
	"fmt"
	"io"
)

var errBackwardSeek = errors.New("decode: cannot seek backwards on a non-seekable source")

// headSeeker gives a plain io.Reader enough seeking for header parsing.
// While recording, every byte read is kept so seeks anywhere inside the
// consumed prefix work. Forward seeks past it read and discard.
type headSeeker struct {
	r      io.Reader
	head   []byte
	pos    int64
	end    int64 // bytes consumed from r
	record bool
}

func newHeadSeeker(r io.Reader) *headSeeker {
	return &headSeeker{r: r, record: true}
}

// release stops recording. Later backward seeks into unrecorded data fail.
func (h *headSeeker) release() {
	h.record = false
}

func (h *headSeeker) Read(p []byte) (int, error) {
	if h.pos < int64(len(h.head)) {
		n := copy(p, h.head[h.pos:])
		h.pos += int64(n)
		return n, nil
	}
	if h.pos != h.end {
		return 0, errBackwardSeek
	}
	n, err := h.r.Read(p)
	if h.record {
		h.head = append(h.head, p[:n]...)
	}
	h.pos += int64(n)
	h.end += int64(n)
	return n, err
}

func (h *headSeeker) Seek(offset int64, whence int) (int64, error) {
	var abs int64
	switch whence {
	case io.SeekStart:
		abs = offset
	case io.SeekCurrent:
		abs = h.pos + offset
	default:
		return h.pos, fmt.Errorf("decode: whence %d not supported on a non-seekable source", whence)
	}
	if abs < 0 {
		return h.pos, fmt.Errorf("decode: negative seek position %d", abs)
	}
	if abs <= int64(len(h.head)) || abs == h.end {
		h.pos = abs
		return abs, nil
	}
	if abs < h.end {
		return h.pos, errBackwardSeek
	}

	h.pos = h.end
	if _, err := io.CopyN(io.Discard, h, abs-h.end); err != nil {
		return h.pos, err
	}
	return h.pos, nil
}
