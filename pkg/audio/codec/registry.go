// ABOUTME: Codec registry and format prober
// ABOUTME: Maps signatures and extensions to decoder and encoder factories
package codec

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"path/filepath"
	"strings"

	"github.com/Resonate-Protocol/resonate-transcoder/pkg/audio"
	"github.com/Resonate-Protocol/resonate-transcoder/pkg/audio/decode"
	"github.com/Resonate-Protocol/resonate-transcoder/pkg/audio/encode"
)

// ProbeSize is how many bytes the prober inspects.
const ProbeSize = 512

// DecoderFunc opens a decoder on r, which is positioned at the start of src.
type DecoderFunc func(r io.Reader, src *Source) (decode.Decoder, error)

// EncoderFunc opens an encoder writing to w for buffers in format.
type EncoderFunc func(w io.Writer, format audio.Format, opts encode.Options) (encode.Encoder, error)

// Codec binds a descriptor to its signature and factories. A nil factory
// means the capability is missing.
type Codec struct {
	Descriptor
	Probe      ProbeFunc
	NewDecoder DecoderFunc
	NewEncoder EncoderFunc

	// HeaderOnly marks a decoder that reports stream info but cannot
	// produce samples.
	HeaderOnly bool
}

// Registry holds codecs in probe precedence order.
type Registry struct {
	codecs []*Codec
	byID   map[ID]*Codec
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{byID: make(map[ID]*Codec)}
}

// Register adds c, or replaces the codec with the same ID in place so its
// probe precedence is kept. Caps.Decode and Caps.Encode follow the factories.
func (r *Registry) Register(c Codec) error {
	if c.ID == "" {
		return errors.New("codec: empty codec id")
	}
	c.Caps.Decode = c.NewDecoder != nil && !c.HeaderOnly
	c.Caps.Encode = c.NewEncoder != nil
	if existing, ok := r.byID[c.ID]; ok {
		*existing = c
		return nil
	}
	cp := c
	r.codecs = append(r.codecs, &cp)
	r.byID[c.ID] = &cp
	return nil
}

// Lookup returns the codec registered under id.
func (r *Registry) Lookup(id ID) (Codec, bool) {
	c, ok := r.byID[id]
	if !ok {
		return Codec{}, false
	}
	return *c, true
}

// Descriptors lists registered codecs in probe order.
func (r *Registry) Descriptors() []Descriptor {
	out := make([]Descriptor, len(r.codecs))
	for i, c := range r.codecs {
		out[i] = c.Descriptor
	}
	return out
}

// ByExtension finds the codec for a file name or bare extension.
func (r *Registry) ByExtension(name string) (Descriptor, bool) {
	ext := filepath.Ext(name)
	if ext == "" {
		ext = name
	}
	for _, c := range r.codecs {
		if c.HasExtension(ext) {
			return c.Descriptor, true
		}
	}
	return Descriptor{}, false
}

// Probe identifies src. The returned reader yields the complete stream from
// its start: seekable sources are rewound and the peeked bytes of others
// are replayed in front of the remainder.
func (r *Registry) Probe(src *Source) (Descriptor, io.Reader, error) {
	const op = "codec: probe"

	if src.Codec != "" {
		c, ok := r.byID[src.Codec]
		if !ok {
			return Descriptor{}, nil, audio.Errorf(audio.UnsupportedFormat, op, "unknown codec %q", src.Codec)
		}
		return c.Descriptor, src.r, nil
	}

	head, rd, err := peek(src.r, ProbeSize)
	if err != nil {
		return Descriptor{}, nil, audio.NewError(audio.UnsupportedFormat, op, err)
	}

	d, err := r.identify(head, src.Hint)
	if err != nil {
		return Descriptor{}, nil, audio.NewError(audio.UnsupportedFormat, op, fmt.Errorf("%s: %w", src, err))
	}
	return d, rd, nil
}

// Identify classifies a header without consuming a source.
func (r *Registry) Identify(head []byte, hint string) (Descriptor, error) {
	d, err := r.identify(head, hint)
	if err != nil {
		return Descriptor{}, audio.NewError(audio.UnsupportedFormat, "codec: probe", err)
	}
	return d, nil
}

func (r *Registry) identify(head []byte, hint string) (Descriptor, error) {
	var partial []*Codec
	for _, c := range r.codecs {
		if c.Probe == nil {
			continue
		}
		switch c.Probe(head) {
		case FullMatch:
			return c.Descriptor, nil
		case PartialMatch:
			partial = append(partial, c)
		}
	}

	hinted, hasHint := r.ByExtension(hint)
	if hint == "" {
		hasHint = false
	}
	if len(partial) > 0 {
		if hasHint {
			for _, c := range partial {
				if c.ID == hinted.ID {
					return c.Descriptor, nil
				}
			}
		}
		return partial[0].Descriptor, nil
	}

	// Headerless formats cannot be recognised and rely on the hint alone.
	if hasHint {
		if c := r.byID[hinted.ID]; c != nil && c.Probe == nil {
			return c.Descriptor, nil
		}
	}
	if len(head) == 0 {
		return Descriptor{}, errors.New("empty input")
	}
	return Descriptor{}, fmt.Errorf("no known signature in %d header bytes", len(head))
}

// peek reads up to n bytes and returns a reader positioned at the start.
func peek(r io.Reader, n int) ([]byte, io.Reader, error) {
	if s, ok := r.(io.ReadSeeker); ok {
		start, err := s.Seek(0, io.SeekCurrent)
		if err == nil {
			head := make([]byte, n)
			got, rerr := io.ReadFull(s, head)
			if rerr != nil && rerr != io.EOF && rerr != io.ErrUnexpectedEOF {
				return nil, nil, rerr
			}
			if _, err := s.Seek(start, io.SeekStart); err != nil {
				return nil, nil, err
			}
			return head[:got], s, nil
		}
	}

	head := make([]byte, n)
	got, err := io.ReadFull(r, head)
	if err != nil && err != io.EOF && err != io.ErrUnexpectedEOF {
		return nil, nil, err
	}
	head = head[:got]
	return head, io.MultiReader(bytes.NewReader(head), r), nil
}

// OpenDecoder probes src and opens a decoder for it.
func (r *Registry) OpenDecoder(src *Source) (decode.Decoder, Descriptor, error) {
	d, rd, err := r.Probe(src)
	if err != nil {
		return nil, Descriptor{}, err
	}
	c := r.byID[d.ID]
	if c.NewDecoder == nil {
		return nil, d, audio.Errorf(audio.UnsupportedFeature, "codec: open", "%s cannot be decoded", d.Name)
	}
	dec, err := c.NewDecoder(rd, src)
	if err != nil {
		return nil, d, err
	}
	return dec, d, nil
}

// OpenEncoder opens an encoder for id.
func (r *Registry) OpenEncoder(id ID, w io.Writer, format audio.Format, opts encode.Options) (encode.Encoder, error) {
	c, ok := r.byID[id]
	if !ok {
		return nil, audio.Errorf(audio.UnsupportedFormat, "codec: open", "unknown codec %q", id)
	}
	if c.NewEncoder == nil {
		return nil, audio.Errorf(audio.UnsupportedFeature, "codec: open", "%s cannot be encoded", c.Name)
	}
	return c.NewEncoder(w, format, opts)
}

// ParseID accepts a codec id or a file extension.
func (r *Registry) ParseID(s string) (ID, error) {
	s = strings.ToLower(strings.TrimPrefix(s, "."))
	if _, ok := r.byID[ID(s)]; ok {
		return ID(s), nil
	}
	if d, ok := r.ByExtension(s); ok {
		return d.ID, nil
	}
	return "", audio.Errorf(audio.UnsupportedFormat, "codec: parse", "unknown codec %q", s)
}

// HeaderInfo opens src just far enough to report its format and length.
func (r *Registry) HeaderInfo(src *Source) (Descriptor, decode.StreamInfo, error) {
	dec, d, err := r.OpenDecoder(src)
	if err != nil {
		return d, decode.StreamInfo{}, err
	}
	defer dec.Close()
	return d, dec.Info(), nil
}
