//go:build portaudio

// ABOUTME: PortAudio output implementation
// ABOUTME: Cross-platform audio output using a blocking PortAudio stream
package output

import (
	"fmt"

	"github.com/gordonklaus/portaudio"

	"github.com/Resonate-Protocol/resonate-transcoder/pkg/audio"
)

const portAudioFrames = 1024

// PortAudio output implementation
type PortAudio struct {
	Volume

	stream *portaudio.Stream
	format audio.Format
	buffer []int16
}

// NewPortAudio creates a new PortAudio output
func NewPortAudio() *PortAudio {
	return &PortAudio{Volume: Volume{level: 100}}
}

// Open initializes PortAudio
func (p *PortAudio) Open(format audio.Format) error {
	if err := portaudio.Initialize(); err != nil {
		return audio.NewError(audio.DeviceError, "portaudio: init", err)
	}

	p.buffer = make([]int16, portAudioFrames*format.Channels)
	stream, err := portaudio.OpenDefaultStream(0, format.Channels, float64(format.SampleRate), portAudioFrames, &p.buffer)
	if err != nil {
		portaudio.Terminate()
		return audio.NewError(audio.DeviceError, "portaudio: open stream", err)
	}
	if err := stream.Start(); err != nil {
		stream.Close()
		portaudio.Terminate()
		return audio.NewError(audio.DeviceError, "portaudio: start", err)
	}

	p.stream = stream
	p.format = format
	return nil
}

// Write outputs audio samples one device buffer at a time.
func (p *PortAudio) Write(buf audio.Buffer) error {
	if p.stream == nil {
		return fmt.Errorf("output not opened")
	}
	if err := checkFormat(p.format, buf.Format); err != nil {
		return err
	}

	samples := toInt16(buf, p.multiplier())
	for len(samples) > 0 {
		n := copy(p.buffer, samples)
		clear(p.buffer[n:])
		samples = samples[n:]
		if err := p.stream.Write(); err != nil {
			return audio.NewError(audio.DeviceError, "portaudio: write", err)
		}
	}
	return nil
}

// Close releases resources
func (p *PortAudio) Close() error {
	if p.stream != nil {
		if err := p.stream.Stop(); err != nil {
			return fmt.Errorf("failed to stop stream: %w", err)
		}
		if err := p.stream.Close(); err != nil {
			return fmt.Errorf("failed to close stream: %w", err)
		}
		p.stream = nil
	}
	return portaudio.Terminate()
}
