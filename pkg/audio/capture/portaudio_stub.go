//go:build !portaudio

// ABOUTME: Capture backend placeholder when PortAudio is not built in
// ABOUTME: Only the synthetic devices are available
package capture

import "github.com/Resonate-Protocol/resonate-transcoder/pkg/audio"

func openSystem(name string, _ audio.Format) (Device, error) {
	return nil, audio.Errorf(audio.DeviceError, "capture: open", "system device %q unavailable (build with -tags portaudio)", name)
}

func listSystem() ([]Info, error) {
	return nil, nil
}
