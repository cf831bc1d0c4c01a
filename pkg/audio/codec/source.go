// ABOUTME: Encoded input sources
// ABOUTME: Wraps files, byte slices and readers with an optional codec hint
package codec

import (
	"bytes"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/Resonate-Protocol/resonate-transcoder/pkg/audio/convert"
)

// RawParams declares the layout of headerless input.
type RawParams struct {
	Format     convert.RawFormat
	SampleRate int
	Channels   int
}

// Source is encoded input plus what is known about it up front.
type Source struct {
	Name  string     // path or display name
	Hint  string     // file name or extension, used when the header is ambiguous
	Codec ID         // explicit codec tag; skips probing
	Raw   *RawParams // required for the raw codec

	r      io.Reader
	closer io.Closer
}

// FromFile opens path. The file name doubles as the hint.
func FromFile(path string) (*Source, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open %s: %w", path, err)
	}
	return &Source{Name: path, Hint: filepath.Base(path), r: f, closer: f}, nil
}

// FromBytes wraps an in-memory file.
func FromBytes(name string, data []byte) *Source {
	return &Source{Name: name, Hint: name, r: bytes.NewReader(data)}
}

// FromReader wraps an arbitrary reader. If r is an io.Closer, Close closes it.
func FromReader(name string, r io.Reader) *Source {
	s := &Source{Name: name, Hint: name, r: r}
	if c, ok := r.(io.Closer); ok {
		s.closer = c
	}
	return s
}

// WithCodec sets an explicit codec tag.
func (s *Source) WithCodec(id ID) *Source {
	s.Codec = id
	return s
}

// WithRaw declares headerless input.
func (s *Source) WithRaw(p RawParams) *Source {
	s.Codec = Raw
	s.Raw = &p
	return s
}

// Reader returns the underlying reader.
func (s *Source) Reader() io.Reader {
	return s.r
}

// Close releases the underlying file, if any.
func (s *Source) Close() error {
	if s.closer == nil {
		return nil
	}
	return s.closer.Close()
}

func (s *Source) String() string {
	if s.Name != "" {
		return s.Name
	}
	return "<stream>"
}
