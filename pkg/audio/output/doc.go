// ABOUTME: Audio output package for playing decoded buffers
// ABOUTME: Provides the Output interface with oto and PortAudio backends
// Package output plays audio.Buffer values on the local machine.
//
// Oto is always available. PortAudio needs the portaudio build tag.
//
// Example:
//
//	out := output.NewOto()
//	err := out.Open(buf.Format)
//	err = out.Write(buf)
//	err = out.Close()
package output
