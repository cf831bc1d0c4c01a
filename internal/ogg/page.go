// ABOUTME: Ogg page framing and CRC
// ABOUTME: Encodes and parses RFC 3533 pages with the Ogg CRC-32 checksum
package ogg

import (
	"encoding/binary"
	"errors"
	"io"
)

const (
	flagContinuation = 0x01
	flagBOS          = 0x02
	flagEOS          = 0x04

	headerSize = 27
	magic      = "OggS"

	// NoGranule marks pages on which no packet completes.
	NoGranule = ^uint64(0)
)

var (
	ErrInvalidPage = errors.New("ogg: invalid page")
	ErrBadCRC      = errors.New("ogg: page checksum mismatch")
)

// Page is a single Ogg page.
type Page struct {
	HeaderType uint8
	Granule    uint64
	Serial     uint32
	Sequence   uint32
	Segments   []byte
	Payload    []byte
}

func (p *Page) IsBOS() bool          { return p.HeaderType&flagBOS != 0 }
func (p *Page) IsEOS() bool          { return p.HeaderType&flagEOS != 0 }
func (p *Page) IsContinuation() bool { return p.HeaderType&flagContinuation != 0 }

// Encode serialises the page and fills in its checksum.
func (p *Page) Encode() []byte {
	hdr := headerSize + len(p.Segments)
	data := make([]byte, hdr+len(p.Payload))
	copy(data, magic)
	data[5] = p.HeaderType
	binary.LittleEndian.PutUint64(data[6:14], p.Granule)
	binary.LittleEndian.PutUint32(data[14:18], p.Serial)
	binary.LittleEndian.PutUint32(data[18:22], p.Sequence)
	data[26] = byte(len(p.Segments))
	copy(data[headerSize:], p.Segments)
	copy(data[hdr:], p.Payload)
	binary.LittleEndian.PutUint32(data[22:26], crc(data))
	return data
}

// ReadPage reads and verifies one page from r.
// A clean end of input before any header byte returns io.EOF.
func ReadPage(r io.Reader) (*Page, error) {
	var hdr [headerSize]byte
	if _, err := io.ReadFull(r, hdr[:]); err != nil {
		return nil, err
	}
	if string(hdr[:4]) != magic || hdr[4] != 0 {
		return nil, ErrInvalidPage
	}

	p := &Page{
		HeaderType: hdr[5],
		Granule:    binary.LittleEndian.Uint64(hdr[6:14]),
		Serial:     binary.LittleEndian.Uint32(hdr[14:18]),
		Sequence:   binary.LittleEndian.Uint32(hdr[18:22]),
		Segments:   make([]byte, hdr[26]),
	}
	if _, err := io.ReadFull(r, p.Segments); err != nil {
		return nil, unexpected(err)
	}

	size := 0
	for _, s := range p.Segments {
		size += int(s)
	}
	p.Payload = make([]byte, size)
	if _, err := io.ReadFull(r, p.Payload); err != nil {
		return nil, unexpected(err)
	}

	stored := binary.LittleEndian.Uint32(hdr[22:26])
	if stored != binary.LittleEndian.Uint32(p.Encode()[22:26]) {
		return nil, ErrBadCRC
	}
	return p, nil
}

// segmentTable lays out a packet of n bytes as lacing values.
func segmentTable(n int) []byte {
	segs := make([]byte, n/255+1)
	for i := 0; i < len(segs)-1; i++ {
		segs[i] = 255
	}
	segs[len(segs)-1] = byte(n % 255)
	return segs
}

func unexpected(err error) error {
	if err == io.EOF {
		return io.ErrUnexpectedEOF
	}
	return err
}

var crcTable = func() [256]uint32 {
	var t [256]uint32
	const poly = 0x04C11DB7
	for i := range t {
		c := uint32(i) << 24
		for j := 0; j < 8; j++ {
			if c&0x80000000 != 0 {
				c = c<<1 ^ poly
			} else {
				c <<= 1
			}
		}
		t[i] = c
	}
	return t
}()

// crc computes the Ogg checksum with the CRC field treated as zero.
func crc(page []byte) uint32 {
	var c uint32
	for i, b := range page {
		if i >= 22 && i < 26 {
			b = 0
		}
		c = c<<8 ^ crcTable[byte(c>>24)^b]
	}
	return c
}
