// ABOUTME: Audio encoder package for containers and network packets
// ABOUTME: Provides the streaming Encoder interface and per-codec implementations
// Package encode writes PCM buffers to encoded sinks.
//
// Container encoders: WAV, FLAC, Ogg Opus and headerless RAW. Packet
// encoders (PCM and Opus) produce self-contained packets for transports.
//
// Encoders accept buffers incrementally and finalize on Close:
//
//	enc, err := encode.NewFLAC(f, buf.Format, encode.Options{})
//	err = enc.Encode(buf)
//	err = enc.Close()
package encode
