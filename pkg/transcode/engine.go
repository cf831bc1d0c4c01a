// ABOUTME: Transcoding engine
// ABOUTME: Submits import, export, transcode and capture tasks to a worker pool
package transcode

import (
	"errors"
	"fmt"
	"io"
	"runtime"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/Resonate-Protocol/resonate-transcoder/internal/log"
	"github.com/Resonate-Protocol/resonate-transcoder/pkg/audio"
	"github.com/Resonate-Protocol/resonate-transcoder/pkg/audio/codec"
	"github.com/Resonate-Protocol/resonate-transcoder/pkg/audio/decode"
	"github.com/Resonate-Protocol/resonate-transcoder/pkg/audio/stream"
)

// Config sizes the engine.
type Config struct {
	Workers      int
	Queue        int
	FrameBudget  int // frames per decode call
	RingCapacity int // frames between producer and consumer

	Registry *codec.Registry // nil uses codec.DefaultRegistry
	Observer Observer        // nil observes nothing
}

// DefaultConfig returns a config sized for the host.
func DefaultConfig() Config {
	return Config{
		Workers:      runtime.NumCPU(),
		Queue:        64,
		FrameBudget:  decode.DefaultFrameBudget,
		RingCapacity: 16,
	}
}

// Observer receives task lifecycle events, for metrics.
type Observer interface {
	TaskQueued(kind Kind)
	TaskFinished(kind Kind, state State, elapsed time.Duration)
	FramesProcessed(kind Kind, n int64)
	RingDrained(kind Kind, stats stream.Stats)
}

type nopObserver struct{}

func (nopObserver) TaskQueued(Kind)                         {}
func (nopObserver) TaskFinished(Kind, State, time.Duration) {}
func (nopObserver) FramesProcessed(Kind, int64)             {}
func (nopObserver) RingDrained(Kind, stream.Stats)          {}

// Engine owns the codec registry and the worker pool.
type Engine struct {
	cfg  Config
	reg  *codec.Registry
	pool *Pool
	obs  Observer
}

// New starts an engine. Close releases its workers.
func New(cfg Config) *Engine {
	def := DefaultConfig()
	if cfg.FrameBudget <= 0 {
		cfg.FrameBudget = def.FrameBudget
	}
	if cfg.RingCapacity <= 0 {
		cfg.RingCapacity = def.RingCapacity
	}
	if cfg.Queue <= 0 {
		cfg.Queue = def.Queue
	}
	reg := cfg.Registry
	if reg == nil {
		reg = codec.DefaultRegistry()
	}
	var obs Observer = nopObserver{}
	if cfg.Observer != nil {
		obs = cfg.Observer
	}
	return &Engine{
		cfg:  cfg,
		reg:  reg,
		pool: NewPool(cfg.Workers, cfg.Queue),
		obs:  obs,
	}
}

// Registry returns the codec registry the engine resolves codecs with.
func (e *Engine) Registry() *codec.Registry {
	return e.reg
}

// Close waits for queued and running tasks, then stops the workers.
func (e *Engine) Close() {
	e.pool.Close()
}

func (e *Engine) submit(t *Task, run func(*Task) Result) *Task {
	e.obs.TaskQueued(t.kind)
	t.observe = func(res Result) {
		e.obs.TaskFinished(t.kind, res.State, res.Elapsed)
	}
	if err := e.pool.Submit(func() { e.execute(t, run) }); err != nil {
		// Completion callbacks never run on the caller's goroutine.
		go e.complete(t, Result{State: Failed, Err: err})
	}
	return t
}

func (e *Engine) execute(t *Task, run func(*Task) Result) {
	if err := t.ctx.Err(); err != nil {
		e.complete(t, cancelled(t.kind, err))
		return
	}
	if !t.start() {
		return
	}
	log.Debugf("%s started", t)

	start := time.Now()
	res := func() (res Result) {
		defer func() {
			if r := recover(); r != nil {
				res = Result{State: Failed, Err: fmt.Errorf("%s task panicked: %v", t.kind, r)}
			}
		}()
		return run(t)
	}()
	res.Elapsed = time.Since(start)
	e.complete(t, res)
}

func (e *Engine) complete(t *Task, res Result) {
	if !t.finish(res) {
		return
	}
	if t.result.Err != nil {
		log.Debugf("%s: %v", t, t.result.Err)
	} else {
		log.Debugf("%s after %s", t, t.result.Elapsed)
	}
}

// outcome maps a pipeline error to a terminal result.
func outcome(t *Task, err error) Result {
	switch {
	case err == nil:
		return Result{State: Succeeded}
	case t.ctx.Err() != nil:
		return cancelled(t.kind, t.ctx.Err())
	case errors.Is(err, audio.ErrCancelled):
		return Result{State: Cancelled, Err: err}
	}
	return Result{State: Failed, Err: err}
}

// pump runs dec on a producer goroutine and hands every frame to consume on
// a consumer goroutine, with a ring buffer between them. A PartialDecode
// ending is returned as warning rather than err.
func (e *Engine) pump(t *Task, dec decode.Decoder, consume func(audio.StreamFrame) error) (warning, err error) {
	ring := stream.NewRingBuffer(e.cfg.RingCapacity, stream.ImportPolicy())
	g, ctx := errgroup.WithContext(t.ctx)
	op := string(t.kind)

	g.Go(recovered(op, func() error {
		for {
			frame, err := dec.DecodeNext(e.cfg.FrameBudget)
			if err != nil {
				if errors.Is(err, io.EOF) {
					err = nil
				}
				return ring.CloseWithError(err)
			}
			if err := ring.Push(ctx, frame); err != nil {
				_ = ring.CloseWithError(err)
				return err
			}
		}
	}))

	g.Go(recovered(op, func() error {
		var order stream.Verifier
		for {
			if err := ctx.Err(); err != nil {
				return audio.NewError(audio.Cancelled, op, err)
			}
			frame, err := ring.Pop(ctx)
			if errors.Is(err, io.EOF) {
				return nil
			}
			if err != nil {
				if audio.KindOf(err) == audio.PartialDecode {
					warning = err
					return nil
				}
				return err
			}
			if err := order.Check(frame); err != nil {
				return fmt.Errorf("%s: %w", op, err)
			}
			if err := consume(frame); err != nil {
				return err
			}
			n := int64(frame.NumFrames())
			t.advance(n)
			e.obs.FramesProcessed(t.kind, n)
		}
	}))

	err = g.Wait()
	e.obs.RingDrained(t.kind, ring.Stats())
	if err != nil {
		return nil, err
	}
	return warning, nil
}

// recovered turns a panic in a pipeline goroutine into a CorruptStream
// error, so the task fails instead of the process.
func recovered(op string, fn func() error) func() error {
	return func() (err error) {
		defer func() {
			if r := recover(); r != nil {
				log.Errorf("%s: pipeline panic: %v", op, r)
				err = audio.Errorf(audio.CorruptStream, op, "panic: %v", r)
			}
		}()
		return fn()
	}
}

// appendTo grows *dst by b, taking a private copy of the first chunk.
func appendTo(dst **audio.Buffer, b audio.Buffer) error {
	if *dst == nil {
		c := b.Clone()
		c.Timestamp = 0
		*dst = &c
		return nil
	}
	return (*dst).Append(b)
}
