// ABOUTME: Import and transcode operations
// ABOUTME: Decode encoded sources into a canonical buffer or straight into an encoder
package transcode

import (
	"io"

	"github.com/Resonate-Protocol/resonate-transcoder/internal/log"
	"github.com/Resonate-Protocol/resonate-transcoder/pkg/audio"
	"github.com/Resonate-Protocol/resonate-transcoder/pkg/audio/codec"
	"github.com/Resonate-Protocol/resonate-transcoder/pkg/audio/convert"
	"github.com/Resonate-Protocol/resonate-transcoder/pkg/audio/encode"
)

// ImportOptions configures Import.
type ImportOptions struct {
	Callbacks
	// Target is the canonical output format; zero fields keep the source's.
	Target convert.Target
}

// Import decodes src into one buffer.
func (e *Engine) Import(src *codec.Source, opts ImportOptions) *Task {
	return e.submit(newTask(KindImport, opts.Callbacks), func(t *Task) Result {
		return e.runImport(t, src, opts)
	})
}

func (e *Engine) runImport(t *Task, src *codec.Source, opts ImportOptions) Result {
	dec, desc, err := e.reg.OpenDecoder(src)
	if err != nil {
		return outcome(t, err)
	}
	defer dec.Close()

	info := dec.Info()
	t.setTotal(info.TotalFrames)
	log.Debugf("import %s: %s %s", src, desc.Name, info.Format)

	conv := convert.NewConverter(opts.Target)
	var out *audio.Buffer
	warning, err := e.pump(t, dec, func(frame audio.StreamFrame) error {
		b, err := conv.Convert(frame.Buffer)
		if err != nil {
			return err
		}
		return appendTo(&out, b)
	})
	if err != nil {
		return outcome(t, err)
	}

	if out == nil {
		empty := audio.Buffer{Format: opts.Target.OutputFormat(info.Format)}
		out = &empty
	} else {
		tail, err := conv.Flush()
		if err != nil {
			return outcome(t, err)
		}
		if err := out.Append(tail); err != nil {
			return outcome(t, err)
		}
	}

	return Result{
		State:   Succeeded,
		Buffer:  out,
		Frames:  t.processed.Load(),
		Partial: warning != nil,
		Warning: warning,
	}
}

// TranscodeOptions configures Transcode.
type TranscodeOptions struct {
	Callbacks
	Codec  codec.ID
	Encode encode.Options
	// Target overrides the sample rate, channel count or depth before encoding.
	Target convert.Target
}

// Transcode decodes src and encodes it to w without holding the whole
// stream in memory.
func (e *Engine) Transcode(src *codec.Source, w io.Writer, opts TranscodeOptions) *Task {
	return e.submit(newTask(KindTranscode, opts.Callbacks), func(t *Task) Result {
		return e.runTranscode(t, src, w, opts)
	})
}

func (e *Engine) runTranscode(t *Task, src *codec.Source, w io.Writer, opts TranscodeOptions) Result {
	dec, desc, err := e.reg.OpenDecoder(src)
	if err != nil {
		return outcome(t, err)
	}
	defer dec.Close()

	info := dec.Info()
	t.setTotal(info.TotalFrames)

	out := countBytes(w)
	format := opts.Target.OutputFormat(info.Format)
	enc, err := e.reg.OpenEncoder(opts.Codec, out, format, opts.Encode)
	if err != nil {
		return outcome(t, err)
	}
	log.Debugf("transcode %s: %s %s -> %s %s", src, desc.Name, info.Format, opts.Codec, enc.Format())

	conv := convert.NewConverter(opts.Target)
	seen := false
	warning, err := e.pump(t, dec, func(frame audio.StreamFrame) error {
		b, err := conv.Convert(frame.Buffer)
		if err != nil {
			return err
		}
		seen = true
		return enc.Encode(b)
	})
	if err != nil {
		_ = enc.Close()
		return outcome(t, err)
	}
	if seen {
		tail, err := conv.Flush()
		if err != nil {
			_ = enc.Close()
			return outcome(t, err)
		}
		if tail.NumFrames() > 0 {
			if err := enc.Encode(tail); err != nil {
				_ = enc.Close()
				return outcome(t, err)
			}
		}
	}
	if err := enc.Close(); err != nil {
		return outcome(t, err)
	}

	return Result{
		State:   Succeeded,
		Frames:  t.processed.Load(),
		Encoded: out.Size(),
		Partial: warning != nil,
		Warning: warning,
	}
}
