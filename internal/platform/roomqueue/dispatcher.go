// Package roomqueue runs jobs in FIFO order per key, with different keys
// proceeding in parallel. A worker goroutine exists only while its key has
// queued work.
package roomqueue

import (
	"context"
	"fmt"
	"runtime/debug"
	"sync"

	"github.com/rs/zerolog"
)

// Job is a unit of work for one key.
type Job func(ctx context.Context)

type worker struct {
	pending []Job
}

// Dispatcher serializes jobs per key.
type Dispatcher struct {
	ctx    context.Context
	logger zerolog.Logger

	mu      sync.Mutex
	workers map[string]*worker
	closed  bool
	wg      sync.WaitGroup
}

// New returns a dispatcher whose jobs receive ctx.
func New(ctx context.Context, logger zerolog.Logger) *Dispatcher {
	return &Dispatcher{
		ctx:     ctx,
		logger:  logger.With().Str("component", "room-queue").Logger(),
		workers: make(map[string]*worker),
	}
}

// Submit enqueues job behind any earlier jobs for key.
func (d *Dispatcher) Submit(key string, job Job) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.closed {
		return fmt.Errorf("dispatcher closed, job for %s rejected", key)
	}
	if w, ok := d.workers[key]; ok {
		w.pending = append(w.pending, job)
		return nil
	}

	w := &worker{pending: []Job{job}}
	d.workers[key] = w
	d.wg.Add(1)
	go d.run(key, w)
	return nil
}

// Active returns the number of keys with queued or running work.
func (d *Dispatcher) Active() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.workers)
}

// Wait stops accepting jobs and blocks until queued work has finished.
func (d *Dispatcher) Wait() {
	d.mu.Lock()
	d.closed = true
	d.mu.Unlock()
	d.wg.Wait()
}

func (d *Dispatcher) run(key string, w *worker) {
	defer d.wg.Done()
	for {
		d.mu.Lock()
		if len(w.pending) == 0 {
			delete(d.workers, key)
			d.mu.Unlock()
			return
		}
		job := w.pending[0]
		w.pending[0] = nil
		w.pending = w.pending[1:]
		d.mu.Unlock()

		d.exec(key, job)
	}
}

func (d *Dispatcher) exec(key string, job Job) {
	defer func() {
		if r := recover(); r != nil {
			d.logger.Error().
				Str("key", key).
				Str("panic", fmt.Sprintf("%v", r)).
				Str("stack", string(debug.Stack())).
				Msg("panic recovered in room job")
		}
	}()
	job(d.ctx)
}
