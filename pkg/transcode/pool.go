// ABOUTME: Fixed-size worker pool with a bounded queue
// ABOUTME: Submit never runs work on the caller's goroutine and never blocks
package transcode

import (
	"errors"
	"runtime"
	"sync"

	"github.com/Resonate-Protocol/resonate-transcoder/pkg/audio"
)

// ErrPoolClosed is returned by Submit after Close.
var ErrPoolClosed = errors.New("transcode: pool closed")

// Pool runs jobs on a fixed set of goroutines.
type Pool struct {
	jobs    chan func()
	workers int
	wg      sync.WaitGroup

	mu     sync.RWMutex
	closed bool
}

// NewPool starts workers goroutines sharing a queue of the given depth.
// Non-positive values pick the CPU count and four jobs per worker.
func NewPool(workers, queue int) *Pool {
	if workers < 1 {
		workers = runtime.NumCPU()
	}
	if queue < 1 {
		queue = workers * 4
	}
	p := &Pool{jobs: make(chan func(), queue), workers: workers}
	p.wg.Add(workers)
	for i := 0; i < workers; i++ {
		go p.worker()
	}
	return p
}

func (p *Pool) worker() {
	defer p.wg.Done()
	for job := range p.jobs {
		job()
	}
}

// Submit queues job. A full queue fails with BufferFull.
func (p *Pool) Submit(job func()) error {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.closed {
		return ErrPoolClosed
	}
	select {
	case p.jobs <- job:
		return nil
	default:
		return audio.Errorf(audio.BufferFull, "transcode: submit", "queue full (%d jobs)", cap(p.jobs))
	}
}

// Workers returns the number of worker goroutines.
func (p *Pool) Workers() int {
	return p.workers
}

// Queued returns the number of jobs waiting for a worker.
func (p *Pool) Queued() int {
	return len(p.jobs)
}

// Close stops accepting jobs, runs the queued ones and waits for the workers.
func (p *Pool) Close() {
	p.mu.Lock()
	if !p.closed {
		p.closed = true
		close(p.jobs)
	}
	p.mu.Unlock()
	p.wg.Wait()
}
