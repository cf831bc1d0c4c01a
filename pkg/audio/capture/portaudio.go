//go:build portaudio

// ABOUTME: PortAudio capture backend
// ABOUTME: Records from system input devices and pushes 16-bit PCM to a Sink
package capture

import (
	"fmt"

	"github.com/Resonate-Protocol/resonate-transcoder/pkg/audio"
	"github.com/gordonklaus/portaudio"
)

// PortAudio captures from a system input device.
type PortAudio struct {
	info   *portaudio.DeviceInfo
	format audio.Format
	stream *portaudio.Stream
	buf    []int32
}

func openSystem(name string, format audio.Format) (Device, error) {
	if err := portaudio.Initialize(); err != nil {
		return nil, audio.NewError(audio.DeviceError, "portaudio: init", err)
	}
	info, err := findInput(name)
	if err != nil {
		portaudio.Terminate()
		return nil, err
	}

	if format.SampleRate == 0 {
		format.SampleRate = int(info.DefaultSampleRate)
	}
	if format.Channels == 0 || format.Channels > info.MaxInputChannels {
		format.Channels = info.MaxInputChannels
		if format.Channels > 2 {
			format.Channels = 2
		}
	}
	format.BitDepth = 16
	format.Float = false
	format.Codec = "pcm"
	return &PortAudio{info: info, format: format}, nil
}

func findInput(name string) (*portaudio.DeviceInfo, error) {
	if name == "" || name == "default" {
		info, err := portaudio.DefaultInputDevice()
		if err != nil {
			return nil, audio.NewError(audio.DeviceError, "portaudio: default input", err)
		}
		return info, nil
	}
	devices, err := portaudio.Devices()
	if err != nil {
		return nil, audio.NewError(audio.DeviceError, "portaudio: devices", err)
	}
	for _, d := range devices {
		if d.Name == name && d.MaxInputChannels > 0 {
			return d, nil
		}
	}
	return nil, audio.Errorf(audio.DeviceError, "portaudio: open", "no input device named %q", name)
}

func listSystem() ([]Info, error) {
	if err := portaudio.Initialize(); err != nil {
		return nil, audio.NewError(audio.DeviceError, "portaudio: init", err)
	}
	defer portaudio.Terminate()

	devices, err := portaudio.Devices()
	if err != nil {
		return nil, audio.NewError(audio.DeviceError, "portaudio: devices", err)
	}
	def, _ := portaudio.DefaultInputDevice()

	var out []Info
	for _, d := range devices {
		if d.MaxInputChannels == 0 {
			continue
		}
		out = append(out, Info{
			Name:       d.Name,
			SampleRate: int(d.DefaultSampleRate),
			Channels:   d.MaxInputChannels,
			Default:    def != nil && d.Name == def.Name,
		})
	}
	return out, nil
}

func (p *PortAudio) Format() audio.Format {
	return p.format
}

// Open starts the input stream. The callback runs on the PortAudio thread.
func (p *PortAudio) Open(sink Sink) error {
	params := portaudio.LowLatencyParameters(p.info, nil)
	params.Input.Channels = p.format.Channels
	params.SampleRate = float64(p.format.SampleRate)

	stream, err := portaudio.OpenStream(params, func(in []int16) {
		if cap(p.buf) < len(in) {
			p.buf = make([]int32, len(in))
		}
		buf := p.buf[:len(in)]
		for i, s := range in {
			buf[i] = int32(s)
		}
		sink.Push(buf)
	})
	if err != nil {
		return audio.NewError(audio.DeviceError, "portaudio: open stream", err)
	}
	if err := stream.Start(); err != nil {
		stream.Close()
		return audio.NewError(audio.DeviceError, "portaudio: start", err)
	}
	p.stream = stream
	return nil
}

// Close stops the stream and releases PortAudio.
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
