// ABOUTME: Audio resampling package
// ABOUTME: Converts audio between sample rates with linear or polyphase filters
// Package resample provides audio sample rate conversion.
//
// Two implementations share the Stream interface:
//   - Resampler: linear interpolation, continuous across chunks
//   - Polyphase: high quality FIR filtering via go-audio-resampling
//
// Example:
//
//	r, err := resample.NewStream(44100, 48000, 2, resample.QualityHigh)
//	out, err := r.Process(interleaved)
//	tail, err := r.Flush()
package resample
