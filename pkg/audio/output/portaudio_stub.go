//go:build !portaudio

// ABOUTME: PortAudio stub when library not available
// ABOUTME: Provides compile-time placeholder when PortAudio not installed
package output

import (
	"github.com/Resonate-Protocol/resonate-transcoder/pkg/audio"
)

// PortAudio output implementation (stub)
type PortAudio struct {
	Volume
}

// NewPortAudio creates a new PortAudio output
func NewPortAudio() *PortAudio {
	return &PortAudio{Volume: Volume{level: 100}}
}

func errNoPortAudio(op string) error {
	return audio.Errorf(audio.DeviceError, op, "PortAudio support not enabled (build with -tags portaudio)")
}

// Open initializes PortAudio
func (p *PortAudio) Open(audio.Format) error {
	return errNoPortAudio("portaudio: open")
}

// Write outputs audio samples
func (p *PortAudio) Write(audio.Buffer) error {
	return errNoPortAudio("portaudio: write")
}

// Close releases resources
func (p *PortAudio) Close() error {
	return nil
}
