// ABOUTME: Codec identities and capability descriptors
// ABOUTME: Describes what each codec can decode, encode, stream and seek
package codec

import "strings"

// ID names a codec.
type ID string

const (
	WAV    ID = "wav"
	MP3    ID = "mp3"
	FLAC   ID = "flac"
	Vorbis ID = "vorbis"
	Opus   ID = "opus"
	Bink   ID = "bink"
	Raw    ID = "raw"
)

// SeekPrecision says how closely Seek lands on the requested frame.
type SeekPrecision int

const (
	SeekNone SeekPrecision = iota
	SeekApproximate
	SeekExact
)

func (p SeekPrecision) String() string {
	switch p {
	case SeekApproximate:
		return "approximate"
	case SeekExact:
		return "exact"
	}
	return "none"
}

// Caps is a codec's capability set.
type Caps struct {
	Decode        bool
	Encode        bool
	Stream        bool // decodes incrementally from a forward-only reader
	Seek          bool
	SeekPrecision SeekPrecision
}

func (c Caps) String() string {
	var parts []string
	if c.Decode {
		parts = append(parts, "decode")
	}
	if c.Encode {
		parts = append(parts, "encode")
	}
	if c.Stream {
		parts = append(parts, "stream")
	}
	if c.Seek {
		parts = append(parts, "seek("+c.SeekPrecision.String()+")")
	}
	if len(parts) == 0 {
		return "none"
	}
	return strings.Join(parts, ",")
}

// Descriptor identifies a codec and what it supports.
type Descriptor struct {
	ID         ID
	Name       string
	Extensions []string
	Caps       Caps
}

// HasExtension reports whether ext (with or without the dot) belongs to d.
func (d Descriptor) HasExtension(ext string) bool {
	ext = strings.TrimPrefix(strings.ToLower(ext), ".")
	for _, e := range d.Extensions {
		if e == ext {
			return true
		}
	}
	return false
}
