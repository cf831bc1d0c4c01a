// ABOUTME: Ogg packet demuxer
// ABOUTME: Reassembles packets that span segments and pages for one logical stream
package ogg

import (
	"bufio"
	"io"
)

// Packet is one logical packet from a stream.
type Packet struct {
	Data []byte
	// Granule is the page granule position when this packet is the last one
	// completed on its page, NoGranule otherwise.
	Granule uint64
	BOS     bool
	EOS     bool
}

// Reader demultiplexes the first logical stream found in an Ogg file.
// Pages that belong to other streams are skipped.
type Reader struct {
	r       *bufio.Reader
	serial  uint32
	started bool
	partial []byte
	queue   []Packet
	eos     bool
	pages   int
}

// NewReader creates a packet reader
func NewReader(r io.Reader) *Reader {
	return &Reader{r: bufio.NewReader(r)}
}

// ReadPacket returns the next packet or io.EOF after the final page.
func (rd *Reader) ReadPacket() (Packet, error) {
	for len(rd.queue) == 0 {
		if rd.eos {
			return Packet{}, io.EOF
		}
		if err := rd.readPage(); err != nil {
			return Packet{}, err
		}
	}
	p := rd.queue[0]
	rd.queue = rd.queue[1:]
	return p, nil
}

// Serial returns the serial number of the stream being read.
func (rd *Reader) Serial() uint32 {
	return rd.serial
}

// Pages returns the number of pages consumed for this stream.
func (rd *Reader) Pages() int {
	return rd.pages
}

func (rd *Reader) readPage() error {
	page, err := ReadPage(rd.r)
	if err != nil {
		if err == io.EOF && rd.started {
			// Missing EOS flag: treat end of input as end of stream.
			rd.eos = true
			if len(rd.partial) > 0 {
				rd.partial = nil
				return io.ErrUnexpectedEOF
			}
			return nil
		}
		return err
	}

	if !rd.started {
		if !page.IsBOS() {
			return ErrInvalidPage
		}
		rd.started = true
		rd.serial = page.Serial
	} else if page.Serial != rd.serial {
		return nil
	}
	rd.pages++

	if !page.IsContinuation() {
		rd.partial = nil
	}

	offset := 0
	lastComplete := -1
	for _, seg := range page.Segments {
		rd.partial = append(rd.partial, page.Payload[offset:offset+int(seg)]...)
		offset += int(seg)
		if seg < 255 {
			rd.queue = append(rd.queue, Packet{
				Data:    rd.partial,
				Granule: NoGranule,
				BOS:     page.IsBOS(),
			})
			lastComplete = len(rd.queue) - 1
			rd.partial = nil
		}
	}

	if lastComplete >= 0 {
		rd.queue[lastComplete].Granule = page.Granule
	}
	if page.IsEOS() {
		rd.eos = true
		if lastComplete >= 0 {
			rd.queue[lastComplete].EOS = true
		}
	}
	return nil
}
