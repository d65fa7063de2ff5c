package station

import (
	"context"
	"fmt"
	"runtime/debug"
	"sync"
)

// job is one unit of work queued on an instrument worker.
type job struct {
	fn   func() error
	done chan error
}

// worker executes jobs for one root instrument strictly one at a time, in
// the order they were submitted. Its queue is unbounded so submission never
// blocks; back-pressure comes from callers waiting on their own result.
type worker struct {
	name   string
	logger Logger

	mu     sync.Mutex
	jobs   []job
	closed bool

	wake    chan struct{}
	stopped chan struct{}
}

func newWorker(name string, logger Logger) *worker {
	w := &worker{
		name:    name,
		logger:  logger,
		wake:    make(chan struct{}, 1),
		stopped: make(chan struct{}),
	}
	go w.run()
	return w
}

// Do queues fn and waits for it to finish. If ctx ends first Do returns
// ctx.Err(), but fn still runs in its turn; the station never cancels a
// driver call that has been accepted.
func (w *worker) Do(ctx context.Context, fn func() error) error {
	j, err := w.submit(fn)
	if err != nil {
		return err
	}
	return w.wait(ctx, j)
}

// submit queues fn without waiting for it.
func (w *worker) submit(fn func() error) (job, error) {
	j := job{fn: fn, done: make(chan error, 1)}
	if !w.enqueue(j) {
		return job{}, fmt.Errorf("%w: %s", ErrWorkerStopped, w.name)
	}
	return j, nil
}

// wait blocks until j has run or ctx ends.
func (w *worker) wait(ctx context.Context, j job) error {
	select {
	case err := <-j.done:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Depth returns the number of queued jobs, excluding the one running.
func (w *worker) Depth() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return len(w.jobs)
}

func (w *worker) enqueue(j job) bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return false
	}
	w.jobs = append(w.jobs, j)
	w.signal()
	return true
}

func (w *worker) signal() {
	select {
	case w.wake <- struct{}{}:
	default:
	}
}

func (w *worker) run() {
	defer close(w.stopped)
	for {
		w.mu.Lock()
		if len(w.jobs) == 0 {
			closed := w.closed
			w.mu.Unlock()
			if closed {
				return
			}
			<-w.wake
			continue
		}
		j := w.jobs[0]
		w.jobs[0] = job{}
		w.jobs = w.jobs[1:]
		w.mu.Unlock()

		j.done <- w.execute(j.fn)
	}
}

// execute runs fn, converting a driver panic into an error so the worker
// and any locks held by the caller survive.
func (w *worker) execute(fn func() error) (err error) {
	defer func() {
		if r := recover(); r != nil {
			w.logger.Error("driver panic recovered",
				"instrument", w.name,
				"panic", r,
				"stack", string(debug.Stack()),
			)
			err = fmt.Errorf("%w: %v", ErrDriverPanic, r)
		}
	}()
	return fn()
}

// stop refuses new jobs, lets queued jobs finish and waits for the worker
// goroutine to exit. Jobs queued before stop still run.
func (w *worker) stop() {
	w.mu.Lock()
	w.closed = true
	w.signal()
	w.mu.Unlock()
	<-w.stopped
}
