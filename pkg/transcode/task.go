// ABOUTME: Task handle and state machine for pipeline jobs
// ABOUTME: Terminal transitions are first-wins and completion fires exactly once
package transcode

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/Resonate-Protocol/resonate-transcoder/pkg/audio"
)

// State is a task's lifecycle position.
type State int32

const (
	Pending State = iota
	Running
	Succeeded
	Failed
	Cancelled
)

var stateNames = [...]string{"pending", "running", "succeeded", "failed", "cancelled"}

func (s State) String() string {
	if s < 0 || int(s) >= len(stateNames) {
		return fmt.Sprintf("State(%d)", int(s))
	}
	return stateNames[s]
}

// Terminal reports whether no further transition is possible.
func (s State) Terminal() bool {
	return s >= Succeeded
}

// Kind names the operation a task runs.
type Kind string

const (
	KindImport    Kind = "import"
	KindExport    Kind = "export"
	KindTranscode Kind = "transcode"
	KindCapture   Kind = "capture"
)

// Progress counts source frames consumed. TotalFrames is -1 when unknown.
type Progress struct {
	FramesProcessed int64
	TotalFrames     int64
}

// Fraction returns progress in [0, 1], or -1 when the total is unknown.
func (p Progress) Fraction() float64 {
	if p.TotalFrames <= 0 {
		return -1
	}
	f := float64(p.FramesProcessed) / float64(p.TotalFrames)
	if f > 1 {
		f = 1
	}
	return f
}

// Result is the outcome of a finished task.
type Result struct {
	State   State
	Buffer  *audio.Buffer // import and capture
	Frames  int64         // source frames consumed
	Encoded int64         // bytes written by export, transcode and capture
	Partial bool          // the source ended early; Warning says why
	Warning error
	Err     error // carries the originating audio.Kind
	Elapsed time.Duration
}

// Callbacks observe a task. Both run on the task's worker goroutines.
type Callbacks struct {
	OnProgress func(Progress)
	OnComplete func(Result)
}

// Task is the handle of a submitted job.
type Task struct {
	id   uuid.UUID
	kind Kind
	cb   Callbacks

	state     atomic.Int32
	processed atomic.Int64
	total     atomic.Int64

	ctx      context.Context
	cancel   context.CancelFunc
	stop     chan struct{}
	stopOnce sync.Once
	done     chan struct{}
	result   Result

	// observe sees the result before waiters are released.
	observe func(Result)
}

func newTask(kind Kind, cb Callbacks) *Task {
	ctx, cancel := context.WithCancel(context.Background())
	t := &Task{
		id:     uuid.New(),
		kind:   kind,
		cb:     cb,
		ctx:    ctx,
		cancel: cancel,
		stop:   make(chan struct{}),
		done:   make(chan struct{}),
	}
	t.total.Store(-1)
	return t
}

func (t *Task) ID() uuid.UUID { return t.id }
func (t *Task) Kind() Kind    { return t.kind }

func (t *Task) State() State {
	return State(t.state.Load())
}

func (t *Task) Progress() Progress {
	return Progress{FramesProcessed: t.processed.Load(), TotalFrames: t.total.Load()}
}

// Done is closed once the task reaches a terminal state.
func (t *Task) Done() <-chan struct{} {
	return t.done
}

// Result returns the outcome once Done is closed.
func (t *Task) Result() (Result, bool) {
	select {
	case <-t.done:
		return t.result, true
	default:
		return Result{}, false
	}
}

// Wait blocks until the task finishes or ctx ends. The returned error is
// Result.Err, or ctx's error if ctx ended first.
func (t *Task) Wait(ctx context.Context) (Result, error) {
	select {
	case <-t.done:
		return t.result, t.result.Err
	case <-ctx.Done():
		return Result{}, ctx.Err()
	}
}

// Cancel asks the task to stop. It is observed at the next chunk boundary;
// a task still queued is cancelled when a worker picks it up.
func (t *Task) Cancel() {
	t.cancel()
}

// Stop ends a capture session gracefully: queued audio is drained and the
// task succeeds. Other tasks ignore it.
func (t *Task) Stop() {
	t.stopOnce.Do(func() { close(t.stop) })
}

func (t *Task) String() string {
	return fmt.Sprintf("%s task %s (%s)", t.kind, t.id, t.State())
}

func (t *Task) start() bool {
	return t.state.CompareAndSwap(int32(Pending), int32(Running))
}

// finish records res unless the task already finished. A task whose
// context was cancelled never succeeds.
func (t *Task) finish(res Result) bool {
	if res.State == Succeeded && t.ctx.Err() != nil {
		res = cancelled(t.kind, t.ctx.Err())
	}
	for {
		cur := State(t.state.Load())
		if cur.Terminal() {
			return false
		}
		if t.state.CompareAndSwap(int32(cur), int32(res.State)) {
			break
		}
	}
	t.result = res
	t.cancel()
	if t.observe != nil {
		t.observe(res)
	}
	close(t.done)
	if t.cb.OnComplete != nil {
		t.cb.OnComplete(res)
	}
	return true
}

func (t *Task) setTotal(n int64) {
	t.total.Store(n)
}

func (t *Task) advance(n int64) {
	processed := t.processed.Add(n)
	if t.cb.OnProgress != nil {
		t.cb.OnProgress(Progress{FramesProcessed: processed, TotalFrames: t.total.Load()})
	}
}

func cancelled(kind Kind, cause error) Result {
	return Result{State: Cancelled, Err: audio.NewError(audio.Cancelled, string(kind), cause)}
}
