// ABOUTME: Audio fundamentals package providing core types and utilities
// ABOUTME: Defines Format, Buffer, StreamFrame and the error kinds
// Package audio provides the canonical PCM representation used throughout
// the transcoder.
//
// This package defines core types used by every other package:
//   - Format: sample rate, channel count, bit depth or float flag
//   - Buffer: interleaved PCM samples owned by a single holder at a time
//   - StreamFrame: a Buffer tagged with a producer sequence number
//   - Error and Kind: structured failures (CorruptHeader, PartialDecode, ...)
//
// Example:
//
//	buf := audio.Buffer{
//	    Format: audio.Format{SampleRate: 44100, Channels: 2, BitDepth: 16},
//	    Samples: make([]int32, 44100*2),
//	}
//	fmt.Println(buf.NumFrames()) // 44100
//
//	if errors.Is(err, audio.ErrCorruptHeader) {
//	    // the source could not be parsed
//	}
package audio
