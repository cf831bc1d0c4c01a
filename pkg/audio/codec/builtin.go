// ABOUTME: Built-in codec table
// ABOUTME: Registers WAV, FLAC, Opus, Vorbis, Bink, MP3 and RAW in probe order
package codec

import (
	"io"

	"github.com/Resonate-Protocol/resonate-transcoder/pkg/audio"
	"github.com/Resonate-Protocol/resonate-transcoder/pkg/audio/convert"
	"github.com/Resonate-Protocol/resonate-transcoder/pkg/audio/decode"
	"github.com/Resonate-Protocol/resonate-transcoder/pkg/audio/encode"
)

// DefaultRegistry returns a new registry holding every built-in codec.
// Strong signatures are probed first; MP3 goes last because a frame sync
// can appear by chance in other data.
func DefaultRegistry() *Registry {
	r := NewRegistry()
	for _, c := range builtin() {
		// Built-in codecs always carry an ID.
		_ = r.Register(c)
	}
	return r
}

func builtin() []Codec {
	return []Codec{
		{
			Descriptor: Descriptor{
				ID: WAV, Name: "WAV", Extensions: []string{"wav", "wave"},
				Caps: Caps{Stream: true, Seek: true, SeekPrecision: SeekExact},
			},
			Probe: probeWAV,
			NewDecoder: func(r io.Reader, _ *Source) (decode.Decoder, error) {
				return decode.NewWAV(r)
			},
			NewEncoder: func(w io.Writer, f audio.Format, o encode.Options) (encode.Encoder, error) {
				return encode.NewWAV(w, f, o)
			},
		},
		{
			Descriptor: Descriptor{
				ID: FLAC, Name: "FLAC", Extensions: []string{"flac"},
				Caps: Caps{Stream: true, Seek: true, SeekPrecision: SeekExact},
			},
			Probe: probeFLAC,
			NewDecoder: func(r io.Reader, _ *Source) (decode.Decoder, error) {
				return decode.NewFLAC(r)
			},
			NewEncoder: func(w io.Writer, f audio.Format, o encode.Options) (encode.Encoder, error) {
				return encode.NewFLAC(w, f, o)
			},
		},
		{
			Descriptor: Descriptor{
				ID: Opus, Name: "Ogg Opus", Extensions: []string{"opus"},
				Caps: Caps{Stream: true},
			},
			Probe: probeOpus,
			NewDecoder: func(r io.Reader, _ *Source) (decode.Decoder, error) {
				return decode.NewOpus(r)
			},
			NewEncoder: func(w io.Writer, f audio.Format, o encode.Options) (encode.Encoder, error) {
				return encode.NewOpus(w, f, o)
			},
		},
		{
			Descriptor: Descriptor{
				ID: Vorbis, Name: "Ogg Vorbis", Extensions: []string{"ogg", "oga", "sb0"},
				Caps: Caps{Stream: true, Seek: true, SeekPrecision: SeekExact},
			},
			Probe: probeVorbis,
			NewDecoder: func(r io.Reader, _ *Source) (decode.Decoder, error) {
				return decode.NewVorbis(r)
			},
		},
		{
			Descriptor: Descriptor{
				ID: Bink, Name: "Bink Audio", Extensions: []string{"bink", "binka", "bnk"},
			},
			Probe: probeBink,
			NewDecoder: func(r io.Reader, _ *Source) (decode.Decoder, error) {
				return decode.NewBink(r)
			},
			HeaderOnly: true,
		},
		{
			Descriptor: Descriptor{
				ID: MP3, Name: "MP3", Extensions: []string{"mp3"},
				Caps: Caps{Stream: true, Seek: true, SeekPrecision: SeekApproximate},
			},
			Probe: probeMP3,
			NewDecoder: func(r io.Reader, _ *Source) (decode.Decoder, error) {
				return decode.NewMP3(r)
			},
		},
		{
			Descriptor: Descriptor{
				ID: Raw, Name: "RAW PCM", Extensions: []string{"raw", "pcm"},
				Caps: Caps{Stream: true, Seek: true, SeekPrecision: SeekExact},
			},
			NewDecoder: openRaw,
			NewEncoder: func(w io.Writer, f audio.Format, o encode.Options) (encode.Encoder, error) {
				return encode.NewRaw(w, f, convert.RawFormatFor(f), o)
			},
		},
	}
}

func openRaw(r io.Reader, src *Source) (decode.Decoder, error) {
	if src == nil || src.Raw == nil {
		return nil, audio.Errorf(audio.CorruptHeader, "raw: open", "raw input needs a declared sample format, rate and channel count")
	}
	return decode.NewRaw(r, src.Raw.Format, src.Raw.SampleRate, src.Raw.Channels)
}
