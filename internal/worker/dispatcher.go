// Package worker runs best-effort background jobs off the request path.
package worker

import (
	"context"
	"sync"
	"time"

	"cart-service/internal/util"

	"go.uber.org/zap"
)

// Job is one unit of background work. ctx is cancelled when the job's timeout
// elapses or shutdown gives up waiting.
type Job func(ctx context.Context)

type task struct {
	name string
	job  Job
}

// Dispatcher feeds a bounded queue to a fixed pool of goroutines. Submit
// never blocks: when the queue is full the job is dropped and counted.
type Dispatcher struct {
	workers    int
	queue      chan task
	jobTimeout time.Duration
	logger     *zap.Logger

	mu      sync.RWMutex
	started bool
	stopped bool
	wg      sync.WaitGroup

	jobCtx    context.Context
	cancelJob context.CancelFunc
}

// NewDispatcher creates a new dispatcher
func NewDispatcher(workers, queueSize int, jobTimeout time.Duration) *Dispatcher {
	if workers <= 0 {
		workers = 1
	}
	if queueSize <= 0 {
		queueSize = 1
	}
	if jobTimeout <= 0 {
		jobTimeout = 10 * time.Second
	}
	jobCtx, cancel := context.WithCancel(context.Background())
	return &Dispatcher{
		workers:    workers,
		queue:      make(chan task, queueSize),
		jobTimeout: jobTimeout,
		logger:     util.GetLogger(),
		jobCtx:     jobCtx,
		cancelJob:  cancel,
	}
}

// Start launches the worker goroutines. Jobs submitted earlier stay queued
// until then.
func (d *Dispatcher) Start() {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.started || d.stopped {
		return
	}
	d.started = true

	for i := 0; i < d.workers; i++ {
		d.wg.Add(1)
		go d.loop()
	}
	d.logger.Info("Event dispatcher started", zap.Int("workers", d.workers), zap.Int("queue", cap(d.queue)))
}

// Submit enqueues job and reports whether it was accepted.
func (d *Dispatcher) Submit(name string, job Job) bool {
	d.mu.RLock()
	defer d.mu.RUnlock()

	if d.stopped {
		d.logger.Warn("Dispatcher stopped, dropping job", zap.String("job", name))
		util.EventsDroppedTotal.Inc()
		return false
	}

	select {
	case d.queue <- task{name: name, job: job}:
		return true
	default:
		d.logger.Warn("Dispatch queue full, dropping job", zap.String("job", name))
		util.EventsDroppedTotal.Inc()
		return false
	}
}

// Stop refuses new jobs and waits for queued ones to finish. If ctx ends
// first, running jobs are cancelled and ctx's error is returned.
func (d *Dispatcher) Stop(ctx context.Context) error {
	d.mu.Lock()
	if d.stopped {
		d.mu.Unlock()
		return nil
	}
	d.stopped = true
	started := d.started
	close(d.queue)
	d.mu.Unlock()

	if !started {
		for t := range d.queue {
			d.run(t)
		}
	}

	done := make(chan struct{})
	go func() {
		d.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		d.cancelJob()
		d.logger.Info("Event dispatcher drained")
		return nil
	case <-ctx.Done():
		d.cancelJob()
		d.logger.Warn("Event dispatcher stop timed out, cancelling running jobs")
		return ctx.Err()
	}
}

func (d *Dispatcher) loop() {
	defer d.wg.Done()
	for t := range d.queue {
		d.run(t)
	}
}

func (d *Dispatcher) run(t task) {
	ctx, cancel := context.WithTimeout(d.jobCtx, d.jobTimeout)
	defer cancel()

	defer func() {
		if r := recover(); r != nil {
			d.logger.Error("Recovered panic in background job", zap.String("job", t.name), zap.Any("panic", r))
		}
	}()

	t.job(ctx)
}
