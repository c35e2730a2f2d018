// Package queue provides a bounded worker pool that keeps yt-dlp work off the
// request goroutines.
package queue

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"
)

var (
	// ErrQueueFull is returned when the task queue is at capacity.
	ErrQueueFull = errors.New("task queue is full")
	// ErrDispatcherStopped is returned when submitting after Stop.
	ErrDispatcherStopped = errors.New("dispatcher has been stopped")
)

// Task is a unit of work. The context is the dispatcher's, not the caller's,
// so a task runs to completion even if its submitter goes away.
type Task func(ctx context.Context)

type envelope struct {
	task Task
	done chan error // buffered, receives exactly one value
}

// Dispatcher runs submitted tasks on a fixed number of workers.
type Dispatcher struct {
	taskChan   chan envelope
	workerWg   sync.WaitGroup
	numWorkers int
	stopped    atomic.Bool
	stopCh     chan struct{}
	mu         sync.RWMutex
	logger     *slog.Logger
}

// NewDispatcher creates a Dispatcher. Non-positive sizes fall back to 1 worker
// and a queue of 10.
func NewDispatcher(numWorkers, queueSize int, logger *slog.Logger) *Dispatcher {
	if numWorkers < 1 {
		numWorkers = 1
	}
	if queueSize < 1 {
		queueSize = 10
	}
	if logger == nil {
		logger = slog.Default()
	}

	return &Dispatcher{
		taskChan:   make(chan envelope, queueSize),
		numWorkers: numWorkers,
		stopCh:     make(chan struct{}),
		logger:     logger,
	}
}

// Start starts the worker pool.
func (d *Dispatcher) Start(ctx context.Context) {
	d.logger.Info("Starting dispatcher",
		"workers", d.numWorkers,
		"queue_size", cap(d.taskChan),
	)

	for i := 0; i < d.numWorkers; i++ {
		d.workerWg.Add(1)
		go d.worker(ctx, i)
	}
}

func (d *Dispatcher) worker(ctx context.Context, id int) {
	defer d.workerWg.Done()

	for {
		// Stop wins over queued work.
		select {
		case <-d.stopCh:
			d.logger.Debug("Worker stopping (stop signal)", "worker_id", id)
			return
		default:
		}

		select {
		case env, ok := <-d.taskChan:
			if !ok {
				return
			}
			d.run(ctx, id, env)

		case <-ctx.Done():
			d.logger.Debug("Worker stopping (context canceled)", "worker_id", id)
			return

		case <-d.stopCh:
			d.logger.Debug("Worker stopping (stop signal)", "worker_id", id)
			return
		}
	}
}

func (d *Dispatcher) run(ctx context.Context, id int, env envelope) {
	defer func() {
		if r := recover(); r != nil {
			d.logger.Error("Task panicked", "worker_id", id, "panic", r)
		}
		env.done <- nil
	}()
	env.task(ctx)
}

// Submit enqueues task and blocks until it has run or ctx is done. When ctx
// ends first the task still runs; the caller just stops waiting for it. A task
// still queued when the dispatcher stops never runs, and Submit returns
// ErrDispatcherStopped.
func (d *Dispatcher) Submit(ctx context.Context, task Task) error {
	done, err := d.enqueue(task)
	if err != nil {
		return err
	}

	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (d *Dispatcher) enqueue(task Task) (chan error, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()

	if d.stopped.Load() {
		return nil, ErrDispatcherStopped
	}

	env := envelope{task: task, done: make(chan error, 1)}
	select {
	case d.taskChan <- env:
		d.logger.Debug("Task enqueued", "queue_size", len(d.taskChan))
		return env.done, nil
	default:
		d.logger.Warn("Queue is full", "queue_size", len(d.taskChan))
		return nil, ErrQueueFull
	}
}

// Stop signals the workers and waits for in-flight tasks. Tasks still queued
// are dropped and their submitters get ErrDispatcherStopped.
func (d *Dispatcher) Stop() {
	d.mu.Lock()
	if d.stopped.Swap(true) {
		d.mu.Unlock()
		return
	}
	close(d.stopCh)
	close(d.taskChan)
	d.mu.Unlock()

	d.logger.Info("Stopping dispatcher...")
	d.workerWg.Wait()

	dropped := 0
	for env := range d.taskChan {
		env.done <- ErrDispatcherStopped
		dropped++
	}
	d.logger.Info("Dispatcher stopped", "dropped", dropped)
}

// QueueSize returns the number of tasks waiting for a worker.
func (d *Dispatcher) QueueSize() int {
	return len(d.taskChan)
}

// WorkerCount returns the number of workers.
func (d *Dispatcher) WorkerCount() int {
	return d.numWorkers
}
