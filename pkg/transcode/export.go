// ABOUTME: Export operation
// ABOUTME: Encodes a canonical buffer chunk by chunk into a container
package transcode

import (
	"io"

	"github.com/Resonate-Protocol/resonate-transcoder/pkg/audio"
	"github.com/Resonate-Protocol/resonate-transcoder/pkg/audio/codec"
	"github.com/Resonate-Protocol/resonate-transcoder/pkg/audio/convert"
	"github.com/Resonate-Protocol/resonate-transcoder/pkg/audio/encode"
)

// ExportOptions configures Export.
type ExportOptions struct {
	Callbacks
	Codec  codec.ID
	Encode encode.Options
	// Target overrides the sample rate, channel count or depth before encoding.
	Target convert.Target
}

// Export encodes buf to w. The buffer is read, never modified.
func (e *Engine) Export(buf audio.Buffer, w io.Writer, opts ExportOptions) *Task {
	return e.submit(newTask(KindExport, opts.Callbacks), func(t *Task) Result {
		return e.runExport(t, buf, w, opts)
	})
}

func (e *Engine) runExport(t *Task, buf audio.Buffer, w io.Writer, opts ExportOptions) Result {
	if err := buf.Validate(); err != nil {
		return outcome(t, audio.NewError(audio.UnsupportedFormat, "export", err))
	}
	total := buf.NumFrames()
	t.setTotal(int64(total))

	out := countBytes(w)
	enc, err := e.reg.OpenEncoder(opts.Codec, out, opts.Target.OutputFormat(buf.Format), opts.Encode)
	if err != nil {
		return outcome(t, err)
	}

	conv := convert.NewConverter(opts.Target)
	encodeChunk := func(b audio.Buffer) error {
		c, err := conv.Convert(b)
		if err != nil {
			return err
		}
		return enc.Encode(c)
	}

	budget := e.cfg.FrameBudget
	for from := 0; from < total; from += budget {
		if err := t.ctx.Err(); err != nil {
			_ = enc.Close()
			return cancelled(t.kind, err)
		}
		to := from + budget
		if to > total {
			to = total
		}
		if err := encodeChunk(buf.Slice(from, to)); err != nil {
			_ = enc.Close()
			return outcome(t, err)
		}
		t.advance(int64(to - from))
		e.obs.FramesProcessed(t.kind, int64(to-from))
	}

	if total > 0 {
		tail, err := conv.Flush()
		if err == nil && tail.NumFrames() > 0 {
			err = enc.Encode(tail)
		}
		if err != nil {
			_ = enc.Close()
			return outcome(t, err)
		}
	}
	if err := enc.Close(); err != nil {
		return outcome(t, err)
	}
	return Result{State: Succeeded, Frames: int64(total), Encoded: out.Size()}
}
