// ABOUTME: Audio decoder package for container and packet formats
// ABOUTME: Provides the streaming Decoder interface and per-codec implementations
// Package decode turns encoded audio into canonical PCM frames.
//
// Container decoders: WAV, MP3, FLAC, Ogg Vorbis, Ogg Opus, Bink Audio
// (header only) and headerless RAW PCM. Packet decoders (PCM and Opus)
// serve network transports where each packet is self-contained.
//
// Every decoder emits integer samples at its declared bit depth:
//
//	dec, err := decode.NewWAV(f)
//	for {
//		frame, err := dec.DecodeNext(decode.DefaultFrameBudget)
//		if err == io.EOF {
//			break
//		}
//		...
//	}
package decode
