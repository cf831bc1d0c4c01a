// ABOUTME: Live capture sessions
// ABOUTME: Device pushes feed a ring buffer, then conversion, VAD gating and encoding
package transcode

import (
	"errors"
	"io"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/Resonate-Protocol/resonate-transcoder/internal/log"
	"github.com/Resonate-Protocol/resonate-transcoder/pkg/audio"
	"github.com/Resonate-Protocol/resonate-transcoder/pkg/audio/capture"
	"github.com/Resonate-Protocol/resonate-transcoder/pkg/audio/codec"
	"github.com/Resonate-Protocol/resonate-transcoder/pkg/audio/convert"
	"github.com/Resonate-Protocol/resonate-transcoder/pkg/audio/encode"
	"github.com/Resonate-Protocol/resonate-transcoder/pkg/audio/stream"
	"github.com/Resonate-Protocol/resonate-transcoder/pkg/audio/vad"
)

// DefaultCaptureCapacity is the ring size, in device chunks, of a capture.
const DefaultCaptureCapacity = 64

// CaptureOptions configures Capture.
type CaptureOptions struct {
	Callbacks
	Target convert.Target

	// VAD gates the converted stream when set.
	VAD       *vad.Config
	VADWindow time.Duration
	OnSpeech  func(vad.State)

	Capacity int
	Policy   *stream.Policy // nil uses stream.CapturePolicy

	// Sink, when set, receives kept audio encoded as Codec while the session runs.
	Sink   io.Writer
	Codec  codec.ID
	Encode encode.Options

	// Discard skips building the result buffer.
	Discard bool
	// MaxDuration stops the session after this much device audio.
	MaxDuration time.Duration
}

// Capture runs a live session on dev until the device ends, Stop is called
// or the task is cancelled. The result buffer holds only the kept audio.
func (e *Engine) Capture(dev capture.Device, opts CaptureOptions) *Task {
	return e.submit(newTask(KindCapture, opts.Callbacks), func(t *Task) Result {
		return e.runCapture(t, dev, opts)
	})
}

func (e *Engine) runCapture(t *Task, dev capture.Device, opts CaptureOptions) Result {
	in := dev.Format()
	if err := in.Validate(); err != nil {
		return outcome(t, audio.NewError(audio.DeviceError, "capture", err))
	}

	var gate *vad.Gate
	if opts.VAD != nil {
		g, err := vad.NewGate(*opts.VAD, opts.VADWindow)
		if err != nil {
			return outcome(t, err)
		}
		g.OnChange = opts.OnSpeech
		gate = g
	}

	conv := convert.NewConverter(opts.Target)
	outFormat := opts.Target.OutputFormat(in)

	var enc encode.Encoder
	var written counter
	if opts.Sink != nil {
		out := countBytes(opts.Sink)
		var err error
		enc, err = e.reg.OpenEncoder(opts.Codec, out, outFormat, opts.Encode)
		if err != nil {
			return outcome(t, err)
		}
		written = out
	}

	policy := stream.CapturePolicy()
	if opts.Policy != nil {
		policy = *opts.Policy
	}
	capacity := opts.Capacity
	if capacity <= 0 {
		capacity = DefaultCaptureCapacity
	}
	ring := stream.NewRingBuffer(capacity, policy)

	g, ctx := errgroup.WithContext(t.ctx)
	sink := capture.NewRingSink(ctx, ring, in)
	if err := dev.Open(sink); err != nil {
		if enc != nil {
			_ = enc.Close()
		}
		if audio.KindOf(err) != audio.DeviceError {
			err = audio.NewError(audio.DeviceError, "capture: open", err)
		}
		return outcome(t, err)
	}

	var limit int64
	if opts.MaxDuration > 0 {
		limit = int64(in.SampleRate) * int64(opts.MaxDuration) / int64(time.Second)
	}

	consumed := make(chan struct{})
	g.Go(func() error {
		select {
		case <-t.stop:
		case <-ctx.Done():
		case <-consumed:
		}
		if err := dev.Close(); err != nil {
			log.Warnf("capture: closing device: %v", err)
		}
		sink.End()
		return nil
	})

	var kept *audio.Buffer
	keep := func(b audio.Buffer) error {
		out := []audio.Buffer{b}
		if gate != nil {
			var err error
			if out, err = gate.Process(b); err != nil {
				return err
			}
		}
		for _, b := range out {
			if enc != nil {
				if err := enc.Encode(b); err != nil {
					return err
				}
			}
			if opts.Discard {
				continue
			}
			if err := appendTo(&kept, b); err != nil {
				return err
			}
		}
		return nil
	}

	g.Go(recovered("capture", func() error {
		defer close(consumed)
		var order stream.Verifier
		started := false
		for {
			if err := ctx.Err(); err != nil {
				return audio.NewError(audio.Cancelled, "capture", err)
			}
			frame, err := ring.Pop(ctx)
			if errors.Is(err, io.EOF) {
				break
			}
			if err != nil {
				return err
			}
			if err := order.Check(frame); err != nil {
				log.Warnf("capture: %v", err)
			}
			b, err := conv.Convert(frame.Buffer)
			if err != nil {
				return err
			}
			started = true
			if err := keep(b); err != nil {
				return err
			}
			n := int64(frame.NumFrames())
			t.advance(n)
			e.obs.FramesProcessed(t.kind, n)
			if limit > 0 && t.processed.Load() >= limit {
				t.Stop()
			}
		}
		if !started {
			return nil
		}
		tail, err := conv.Flush()
		if err != nil || tail.NumFrames() == 0 {
			return err
		}
		return keep(tail)
	}))

	err := g.Wait()
	e.obs.RingDrained(t.kind, ring.Stats())
	if enc != nil {
		if cerr := enc.Close(); err == nil {
			err = cerr
		}
	}
	if err != nil {
		return outcome(t, err)
	}

	if gate != nil {
		st := gate.Stats()
		log.Debugf("capture: vad kept %d frames, dropped %d, %d transitions", st.Kept, st.Dropped+st.Held, st.Transitions)
	}
	res := Result{State: Succeeded, Frames: t.processed.Load()}
	if !opts.Discard {
		if kept == nil {
			kept = &audio.Buffer{Format: outFormat}
		}
		res.Buffer = kept
	}
	if written != nil {
		res.Encoded = written.Size()
	}
	return res
}
