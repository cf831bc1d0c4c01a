// ABOUTME: MP3 decoder
// ABOUTME: Decodes MPEG-1/2 Layer III to 16-bit stereo frames with go-mp3
package decode

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"

	"github.com/hajimehoshi/go-mp3"

	"github.com/Resonate-Protocol/resonate-transcoder/pkg/audio"
)

// go-mp3 always produces interleaved 16-bit little-endian stereo.
const mp3FrameBytes = 4

// MP3 decodes MP3 streams.
type MP3 struct {
	base
	dec      *mp3.Decoder
	seekable bool
	buf      []byte
	frame    int64 // decoder position
}

// NewMP3 reads the first frame header to learn the sample rate.
func NewMP3(r io.Reader) (*MP3, error) {
	dec, err := mp3.NewDecoder(r)
	if err != nil {
		return nil, audio.NewError(audio.CorruptHeader, "mp3: open", err)
	}

	_, seekable := r.(io.Seeker)
	total := int64(-1)
	if seekable {
		if l := dec.Length(); l > 0 {
			total = l / mp3FrameBytes
		}
	}

	return &MP3{
		base: base{
			op: "mp3: decode",
			info: StreamInfo{
				Format: audio.Format{
					Codec:      "mp3",
					SampleRate: dec.SampleRate(),
					Channels:   2,
					BitDepth:   16,
				},
				TotalFrames: total,
			},
		},
		dec:      dec,
		seekable: seekable,
	}, nil
}

// DecodeNext returns up to frameBudget frames.
func (m *MP3) DecodeNext(frameBudget int) (audio.StreamFrame, error) {
	return m.next(frameBudget, m.fill)
}

func (m *MP3) fill(want int) error {
	frames := (want - len(m.pending)) / 2
	if frames <= 0 {
		frames = 1
	}
	size := frames * mp3FrameBytes
	if cap(m.buf) < size {
		m.buf = make([]byte, size)
	}

	n, err := io.ReadFull(m.dec, m.buf[:size])
	n -= n % mp3FrameBytes
	for i := 0; i < n; i += 2 {
		m.pending = append(m.pending, int32(int16(binary.LittleEndian.Uint16(m.buf[i:]))))
	}
	m.frame += int64(n / mp3FrameBytes)

	if err == nil {
		return nil
	}
	if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
		// go-mp3 reports a cut-off last frame as a clean EOF.
		if m.info.TotalFrames >= 0 && m.frame < m.info.TotalFrames {
			return fmt.Errorf("stream ends at frame %d of %d", m.frame, m.info.TotalFrames)
		}
		return io.EOF
	}
	return err
}

// SeekFrame positions at a frame index. go-mp3 maps it to the nearest frame
// boundary, so the position is approximate.
func (m *MP3) SeekFrame(frame int64) error {
	if err := m.checkSeek(frame); err != nil {
		return err
	}
	if !m.seekable {
		return m.seekUnsupported("source is not seekable")
	}
	if _, err := m.dec.Seek(frame*mp3FrameBytes, io.SeekStart); err != nil {
		return audio.NewError(audio.SeekUnsupported, m.op, err)
	}
	m.frame = frame
	m.seeked(frame)
	return nil
}

func (m *MP3) Close() error {
	m.close()
	return nil
}
