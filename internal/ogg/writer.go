// ABOUTME: Ogg packet muxer
// ABOUTME: Writes packets into pages with lacing, granule positions and checksums
package ogg

import (
	"errors"
	"io"
)

const maxSegments = 255

// ErrWriterClosed is returned after the end-of-stream page was written.
var ErrWriterClosed = errors.New("ogg: writer closed")

// Writer muxes a single logical stream.
type Writer struct {
	w        io.Writer
	serial   uint32
	sequence uint32
	started  bool
	closed   bool
}

// NewWriter creates a stream writer with the given serial number
func NewWriter(w io.Writer, serial uint32) *Writer {
	return &Writer{w: w, serial: serial}
}

// WritePacket writes one packet, flushing it onto its own page(s).
// granule is the stream position at the end of this packet.
func (wr *Writer) WritePacket(packet []byte, granule uint64, eos bool) error {
	if wr.closed {
		return ErrWriterClosed
	}

	segs := segmentTable(len(packet))
	offset := 0
	continued := false
	for len(segs) > 0 {
		n := len(segs)
		if n > maxSegments {
			n = maxSegments
		}
		pageSegs := segs[:n]
		segs = segs[n:]

		size := 0
		for _, s := range pageSegs {
			size += int(s)
		}

		page := Page{
			Serial:   wr.serial,
			Sequence: wr.sequence,
			Segments: pageSegs,
			Payload:  packet[offset : offset+size],
			Granule:  NoGranule,
		}
		offset += size

		if !wr.started {
			page.HeaderType |= flagBOS
			wr.started = true
		}
		if continued {
			page.HeaderType |= flagContinuation
		}
		if len(segs) == 0 {
			page.Granule = granule
			if eos {
				page.HeaderType |= flagEOS
			}
		}

		if _, err := wr.w.Write(page.Encode()); err != nil {
			return err
		}
		wr.sequence++
		continued = true
	}

	if eos {
		wr.closed = true
	}
	return nil
}

// Close writes an empty end-of-stream page unless one was already written.
func (wr *Writer) Close(granule uint64) error {
	if wr.closed {
		return nil
	}
	return wr.WritePacket(nil, granule, true)
}
