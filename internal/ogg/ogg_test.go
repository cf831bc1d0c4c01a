// ABOUTME: Tests for the Ogg container
// ABOUTME: Covers page framing, checksums, packet spanning and Opus headers
package ogg

import (
	"bytes"
	"errors"
	"io"
	"testing"
)

func TestPageRoundTrip(t *testing.T) {
	p := Page{
		HeaderType: flagBOS,
		Granule:    960,
		Serial:     0x1234,
		Sequence:   0,
		Segments:   []byte{3},
		Payload:    []byte{1, 2, 3},
	}
	data := p.Encode()

	got, err := ReadPage(bytes.NewReader(data))
	if err != nil {
		t.Fatalf("ReadPage failed: %v", err)
	}
	if got.Granule != 960 || got.Serial != 0x1234 || !got.IsBOS() {
		t.Errorf("unexpected page header: %+v", got)
	}
	if !bytes.Equal(got.Payload, p.Payload) {
		t.Errorf("payload mismatch: %v", got.Payload)
	}
}

func TestReadPageDetectsCorruption(t *testing.T) {
	p := Page{Segments: []byte{4}, Payload: []byte{9, 9, 9, 9}}
	data := p.Encode()
	data[len(data)-1] ^= 0xFF

	if _, err := ReadPage(bytes.NewReader(data)); !errors.Is(err, ErrBadCRC) {
		t.Errorf("expected ErrBadCRC, got %v", err)
	}
}

func TestReadPageTruncated(t *testing.T) {
	p := Page{Segments: []byte{10}, Payload: make([]byte, 10)}
	data := p.Encode()

	if _, err := ReadPage(bytes.NewReader(data[:len(data)-3])); err != io.ErrUnexpectedEOF {
		t.Errorf("expected io.ErrUnexpectedEOF, got %v", err)
	}
	if _, err := ReadPage(bytes.NewReader(nil)); err != io.EOF {
		t.Errorf("expected io.EOF on empty input, got %v", err)
	}
}

func TestSegmentTable(t *testing.T) {
	tests := []struct {
		n    int
		want []byte
	}{
		{0, []byte{0}},
		{100, []byte{100}},
		{255, []byte{255, 0}},
		{600, []byte{255, 255, 90}},
	}
	for _, tt := range tests {
		if got := segmentTable(tt.n); !bytes.Equal(got, tt.want) {
			t.Errorf("segmentTable(%d) = %v, want %v", tt.n, got, tt.want)
		}
	}
}

func TestWriterReaderPackets(t *testing.T) {
	var buf bytes.Buffer
	w := NewWriter(&buf, 42)

	// The large packet needs more than 255 lacing values and so spans pages.
	packets := [][]byte{
		[]byte("first"),
		bytes.Repeat([]byte{0xAB}, 255*300),
		[]byte("last"),
	}
	for i, p := range packets {
		if err := w.WritePacket(p, uint64(i+1)*960, i == len(packets)-1); err != nil {
			t.Fatalf("WritePacket %d failed: %v", i, err)
		}
	}
	if err := w.WritePacket([]byte("late"), 0, false); !errors.Is(err, ErrWriterClosed) {
		t.Errorf("expected ErrWriterClosed, got %v", err)
	}

	r := NewReader(&buf)
	for i, want := range packets {
		p, err := r.ReadPacket()
		if err != nil {
			t.Fatalf("ReadPacket %d failed: %v", i, err)
		}
		if !bytes.Equal(p.Data, want) {
			t.Errorf("packet %d: got %d bytes, want %d", i, len(p.Data), len(want))
		}
		if p.Granule != uint64(i+1)*960 {
			t.Errorf("packet %d: granule %d", i, p.Granule)
		}
		if p.BOS != (i == 0) {
			t.Errorf("packet %d: BOS %v", i, p.BOS)
		}
	}
	if _, err := r.ReadPacket(); err != io.EOF {
		t.Errorf("expected io.EOF, got %v", err)
	}
	if r.Serial() != 42 {
		t.Errorf("expected serial 42, got %d", r.Serial())
	}
}

func TestReaderRequiresBOS(t *testing.T) {
	p := Page{Segments: []byte{1}, Payload: []byte{0}}
	r := NewReader(bytes.NewReader(p.Encode()))
	if _, err := r.ReadPacket(); !errors.Is(err, ErrInvalidPage) {
		t.Errorf("expected ErrInvalidPage, got %v", err)
	}
}

func TestReaderSkipsOtherStreams(t *testing.T) {
	var buf bytes.Buffer
	a := NewWriter(&buf, 1)
	b := NewWriter(&buf, 2)
	_ = a.WritePacket([]byte("a1"), 1, false)
	_ = b.WritePacket([]byte("b1"), 1, false)
	_ = a.WritePacket([]byte("a2"), 2, true)

	r := NewReader(&buf)
	var got []string
	for {
		p, err := r.ReadPacket()
		if err == io.EOF {
			break
		}
		if err != nil {
			t.Fatalf("ReadPacket failed: %v", err)
		}
		got = append(got, string(p.Data))
	}
	if len(got) != 2 || got[0] != "a1" || got[1] != "a2" {
		t.Errorf("unexpected packets: %v", got)
	}
}

func TestOpusHeadRoundTrip(t *testing.T) {
	h := OpusHead{Version: 1, Channels: 2, PreSkip: 312, InputSampleRate: 44100}
	got, err := ParseOpusHead(h.Encode())
	if err != nil {
		t.Fatalf("ParseOpusHead failed: %v", err)
	}
	if got != h {
		t.Errorf("got %+v, want %+v", got, h)
	}

	if _, err := ParseOpusHead([]byte("OpusTags")); !errors.Is(err, ErrNotOpusHead) {
		t.Errorf("expected ErrNotOpusHead, got %v", err)
	}
	if !IsOpusTags(OpusTags("transcoder")) {
		t.Error("expected OpusTags magic")
	}
}
