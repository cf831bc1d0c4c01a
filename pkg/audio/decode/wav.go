// ABOUTME: WAV decoder
// ABOUTME: Parses RIFF/WAVE headers with go-audio/wav and streams the data chunk
package decode

import (
	"encoding/binary"
	"fmt"
	"io"

	"github.com/go-audio/wav"

	"github.com/Resonate-Protocol/resonate-transcoder/pkg/audio"
	"github.com/Resonate-Protocol/resonate-transcoder/pkg/audio/convert"
)

const (
	wavFormatPCM        = 1
	wavFormatFloat      = 3
	wavFormatExtensible = 0xFFFE

	// Streaming writers that cannot patch the header use this size.
	wavUnknownSize = 0xFFFFFFFF
)

// WAV decodes RIFF/WAVE files holding integer PCM or IEEE float32.
type WAV struct {
	base
	src        io.ReadSeeker
	seekable   bool
	raw        convert.RawFormat
	frameBytes int
	dataStart  int64
	dataSize   int64 // -1 reads to the end of the stream
	data       io.Reader
	frame      int64 // next frame index in the data chunk
	buf        []byte
}

// NewWAV parses the header and positions r at the first sample.
func NewWAV(r io.Reader) (*WAV, error) {
	const op = "wav: open"

	rs, seekable := r.(io.ReadSeeker)
	var hs *headSeeker
	if !seekable {
		hs = newHeadSeeker(r)
		rs = hs
	}

	dec := wav.NewDecoder(rs)
	if err := forwardToPCM(dec); err != nil {
		return nil, audio.NewError(audio.CorruptHeader, op, err)
	}

	raw, err := wavRawFormat(dec.WavAudioFormat, dec.BitDepth)
	if err != nil {
		return nil, audio.NewError(audio.UnsupportedFeature, op, err)
	}

	w := &WAV{
		src:        rs,
		seekable:   seekable,
		raw:        raw,
		frameBytes: raw.BytesPerSample() * int(dec.NumChans),
	}

	if hs != nil {
		w.dataStart = hs.pos
	} else if w.dataStart, err = rs.Seek(0, io.SeekCurrent); err != nil {
		return nil, audio.NewError(audio.CorruptHeader, op, err)
	}

	// The parser pads odd sizes, which wraps 0xFFFFFFFF to 0, so the data
	// chunk size is read from the header bytes themselves.
	declared, err := dataChunkSize(rs, hs, w.dataStart)
	if err != nil {
		return nil, audio.NewError(audio.CorruptHeader, op, err)
	}
	if hs != nil {
		hs.release()
	}
	switch declared {
	case wavUnknownSize, 0:
		// 0 is what writers that never patch the header leave behind.
		w.dataSize = -1
	default:
		w.dataSize = int64(declared)
	}

	total := int64(-1)
	switch {
	case w.dataSize >= 0:
		total = w.dataSize / int64(w.frameBytes)
	case seekable:
		// Repair a streaming header by measuring what is actually there.
		// An empty data chunk stays empty.
		end, err := rs.Seek(0, io.SeekEnd)
		if err == nil {
			total = (end - w.dataStart) / int64(w.frameBytes)
			w.dataSize = total * int64(w.frameBytes)
			_, err = rs.Seek(w.dataStart, io.SeekStart)
		}
		if err != nil {
			return nil, audio.NewError(audio.CorruptHeader, op, err)
		}
	}

	bits := raw.BitDepth()
	w.base = base{
		op: "wav: decode",
		info: StreamInfo{
			Format: audio.Format{
				Codec:      "wav",
				SampleRate: int(dec.SampleRate),
				Channels:   int(dec.NumChans),
				BitDepth:   bits,
			},
			TotalFrames: total,
		},
	}
	w.resetData()
	return w, nil
}

// dataChunkSize returns the size field just before dataStart, leaving the
// source positioned at dataStart.
func dataChunkSize(rs io.ReadSeeker, hs *headSeeker, dataStart int64) (uint32, error) {
	if dataStart < 4 {
		return 0, fmt.Errorf("data chunk at offset %d", dataStart)
	}
	if hs != nil {
		if int64(len(hs.head)) < dataStart {
			return 0, fmt.Errorf("data chunk header not recorded")
		}
		return binary.LittleEndian.Uint32(hs.head[dataStart-4 : dataStart]), nil
	}
	if _, err := rs.Seek(dataStart-4, io.SeekStart); err != nil {
		return 0, err
	}
	var size [4]byte
	if _, err := io.ReadFull(rs, size[:]); err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint32(size[:]), nil
}

// forwardToPCM runs the header parser and checks it found a usable stream.
func forwardToPCM(dec *wav.Decoder) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("malformed header: %v", r)
		}
	}()
	if err := dec.FwdToPCM(); err != nil {
		return err
	}
	if err := dec.Err(); err != nil {
		return err
	}
	if dec.PCMChunk == nil {
		return fmt.Errorf("no data chunk")
	}
	if dec.NumChans == 0 || dec.SampleRate == 0 {
		return fmt.Errorf("missing or empty fmt chunk")
	}
	return nil
}

func wavRawFormat(format, bits uint16) (convert.RawFormat, error) {
	switch format {
	case wavFormatFloat:
		if bits != 32 {
			return 0, fmt.Errorf("%d-bit float samples", bits)
		}
		return convert.Float32, nil
	case wavFormatPCM, wavFormatExtensible:
	default:
		return 0, fmt.Errorf("compressed format tag 0x%04x", format)
	}
	switch bits {
	case 8:
		return convert.UInt8, nil
	case 16:
		return convert.Int16, nil
	case 24:
		return convert.Int24, nil
	case 32:
		return convert.Int32, nil
	}
	return 0, fmt.Errorf("%d-bit integer samples", bits)
}

func (w *WAV) resetData() {
	remaining := w.dataSize - w.frame*int64(w.frameBytes)
	if w.dataSize < 0 {
		w.data = w.src
		return
	}
	w.data = io.LimitReader(w.src, remaining)
}

// DecodeNext returns up to frameBudget frames.
func (w *WAV) DecodeNext(frameBudget int) (audio.StreamFrame, error) {
	return w.next(frameBudget, w.fill)
}

func (w *WAV) fill(want int) error {
	frames := (want - len(w.pending)) / w.info.Format.Channels
	if frames <= 0 {
		frames = 1
	}
	size := frames * w.frameBytes
	if cap(w.buf) < size {
		w.buf = make([]byte, size)
	}
	n, err := io.ReadFull(w.data, w.buf[:size])
	got := n / w.frameBytes

	if got > 0 {
		buf := convert.DecodeRaw(w.buf[:got*w.frameBytes], w.raw, w.info.Format.SampleRate, w.info.Format.Channels)
		if buf.Format.Float {
			w.pending = append(w.pending, convert.FloatsToInts(buf.Floats, 32)...)
		} else {
			w.pending = append(w.pending, buf.Samples...)
		}
		w.frame += int64(got)
	}

	switch err {
	case nil:
		return nil
	case io.EOF, io.ErrUnexpectedEOF:
		if w.info.TotalFrames >= 0 && w.frame < w.info.TotalFrames {
			return fmt.Errorf("data chunk ends at frame %d of %d", w.frame, w.info.TotalFrames)
		}
		return io.EOF
	}
	return err
}

// SeekFrame moves to an exact frame. Only seekable sources support it.
func (w *WAV) SeekFrame(frame int64) error {
	if err := w.checkSeek(frame); err != nil {
		return err
	}
	if !w.seekable {
		return w.seekUnsupported("source is not seekable")
	}
	if _, err := w.src.Seek(w.dataStart+frame*int64(w.frameBytes), io.SeekStart); err != nil {
		return audio.NewError(audio.SeekUnsupported, w.op, err)
	}
	w.frame = frame
	w.resetData()
	w.seeked(frame)
	return nil
}

// Close releases the decoder. The source is left open for its owner.
func (w *WAV) Close() error {
	w.close()
	return nil
}
