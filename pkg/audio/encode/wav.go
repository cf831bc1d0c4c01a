// ABOUTME: WAV encoder
// ABOUTME: Writes RIFF/WAVE with go-audio/wav or a streaming header on plain writers
package encode

import (
	"encoding/binary"
	"io"

	goaudio "github.com/go-audio/audio"
	"github.com/go-audio/wav"

	"github.com/Resonate-Protocol/resonate-transcoder/pkg/audio"
	"github.com/Resonate-Protocol/resonate-transcoder/pkg/audio/convert"
)

const (
	wavFormatPCM   = 1
	wavUnknownSize = 0xFFFFFFFF
)

// WAV encodes integer PCM WAV files. On an io.WriteSeeker the sizes are
// patched on Close; the WAV must start at offset 0 of that sink. On other
// writers the header carries 0xFFFFFFFF sizes, which readers treat as
// "until end of stream".
type WAV struct {
	sink
	enc     *wav.Encoder
	w       io.Writer
	raw     convert.RawFormat
	started bool
	header  bool
}

// NewWAV creates a WAV encoder for buffers in format.
func NewWAV(w io.Writer, format audio.Format, opts Options) (*WAV, error) {
	out := canonicalInt(format, "wav", 32)
	if err := out.Validate(); err != nil {
		return nil, audio.NewError(audio.UnsupportedFormat, "wav: open", err)
	}

	e := &WAV{
		sink: newSink("wav: encode", format, out, opts.Resample),
		w:    w,
		raw:  convert.RawFormatFor(out),
	}
	if out.BitDepth == 8 {
		e.raw = convert.UInt8
	}
	if ws, ok := w.(io.WriteSeeker); ok {
		e.enc = wav.NewEncoder(ws, out.SampleRate, out.BitDepth, out.Channels, wavFormatPCM)
	}
	return e, nil
}

// Encode appends a buffer of samples.
func (e *WAV) Encode(buf audio.Buffer) error {
	b, err := e.prepare(buf)
	if err != nil {
		return err
	}
	return e.write(b)
}

func (e *WAV) write(b audio.Buffer) error {
	e.started = true
	if e.enc != nil {
		return e.enc.Write(e.intBuffer(b))
	}
	if !e.header {
		if err := e.writeStreamHeader(); err != nil {
			return err
		}
		e.header = true
	}
	if b.Len() == 0 {
		return nil
	}
	_, err := e.w.Write(convert.EncodeRaw(b, e.raw))
	return err
}

func (e *WAV) intBuffer(b audio.Buffer) *goaudio.IntBuffer {
	data := make([]int, len(b.Samples))
	for i, s := range b.Samples {
		data[i] = int(s)
		if e.out.BitDepth == 8 {
			// 8-bit WAV samples are unsigned.
			data[i] += 128
		}
	}
	return &goaudio.IntBuffer{
		Format:         &goaudio.Format{NumChannels: e.out.Channels, SampleRate: e.out.SampleRate},
		Data:           data,
		SourceBitDepth: e.out.BitDepth,
	}
}

// Close writes any resampler tail and finalizes the header.
func (e *WAV) Close() error {
	tail, err := e.finish()
	if err != nil {
		return err
	}
	if tail.Len() > 0 || !e.started {
		if err := e.write(tail); err != nil {
			return err
		}
	}
	if e.enc != nil {
		return e.enc.Close()
	}
	return nil
}

// writeStreamHeader writes a canonical 44-byte header with unknown sizes.
func (e *WAV) writeStreamHeader() error {
	le := binary.LittleEndian
	h := make([]byte, 44)
	copy(h[0:], "RIFF")
	le.PutUint32(h[4:], wavUnknownSize)
	copy(h[8:], "WAVEfmt ")
	le.PutUint32(h[16:], 16)
	le.PutUint16(h[20:], wavFormatPCM)
	le.PutUint16(h[22:], uint16(e.out.Channels))
	le.PutUint32(h[24:], uint32(e.out.SampleRate))
	le.PutUint32(h[28:], uint32(e.out.SampleRate*e.out.BytesPerFrame()))
	le.PutUint16(h[32:], uint16(e.out.BytesPerFrame()))
	le.PutUint16(h[34:], uint16(e.out.BitDepth))
	copy(h[36:], "data")
	le.PutUint32(h[40:], wavUnknownSize)
	_, err := e.w.Write(h)
	return err
}
