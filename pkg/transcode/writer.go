// ABOUTME: Byte counting around encoder sinks
// ABOUTME: Keeps io.Seeker visible so WAV headers can still be patched
package transcode

import "io"

type counter interface {
	io.Writer
	Size() int64
}

func countBytes(w io.Writer) counter {
	if ws, ok := w.(io.WriteSeeker); ok {
		return &seekCounter{w: ws}
	}
	return &writeCounter{w: w}
}

type writeCounter struct {
	w io.Writer
	n int64
}

func (c *writeCounter) Write(p []byte) (int, error) {
	n, err := c.w.Write(p)
	c.n += int64(n)
	return n, err
}

func (c *writeCounter) Size() int64 { return c.n }

// seekCounter reports the furthest offset written.
type seekCounter struct {
	w        io.WriteSeeker
	pos, max int64
}

func (c *seekCounter) Write(p []byte) (int, error) {
	n, err := c.w.Write(p)
	c.pos += int64(n)
	if c.pos > c.max {
		c.max = c.pos
	}
	return n, err
}

func (c *seekCounter) Seek(offset int64, whence int) (int64, error) {
	pos, err := c.w.Seek(offset, whence)
	if err == nil {
		c.pos = pos
	}
	return pos, err
}

func (c *seekCounter) Size() int64 { return c.max }
