// Package queue provides the asynchronous work queue feeding the worker
// pool. Tasks are buffered in a bounded channel and executed by long-lived
// workers; dispatch order follows the channel, which never starves an
// entry.
package queue

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"classifier/internal/job"
)

// ErrQueueFull is returned when the queue's buffer is full and the task is rejected.
var ErrQueueFull = errors.New("queue buffer full, task rejected")

// Runner executes one job attempt. Implemented by the worker attempt
// runner; the queue knows nothing about classification.
type Runner interface {
	Run(ctx context.Context, task *job.Task) error
}

// Stats holds queue statistics.
type Stats struct {
	QueueDepth int   // current buffered tasks
	Enqueued   int64 // total tasks accepted
	Executed   int64 // attempts handed to the runner
	Rejected   int64 // tasks rejected due to full buffer
	Active     int64 // attempts currently executing
}

// MetricsRecorder is an optional interface for recording queue metrics.
type MetricsRecorder interface {
	RecordQueueDepth(ctx context.Context, depth int64)
	RecordQueueRejected(ctx context.Context)
}

// Memory is an in-memory task queue with a fixed worker pool.
// Enqueue is non-blocking; a full buffer rejects the task so submission
// latency stays decoupled from execution latency.
type Memory struct {
	tasks   chan *job.Task
	runner  Runner
	config  Config
	logger  *slog.Logger
	metrics MetricsRecorder

	enqueued atomic.Int64
	executed atomic.Int64
	rejected atomic.Int64
	active   atomic.Int64

	wg       sync.WaitGroup
	shutdown chan struct{}
	closed   atomic.Bool
}

// NewMemory creates the queue and starts its workers.
func NewMemory(cfg Config, runner Runner, metrics MetricsRecorder) *Memory {
	cfg = cfg.withDefaults()

	q := &Memory{
		tasks:    make(chan *job.Task, cfg.BufferSize),
		runner:   runner,
		config:   cfg,
		logger:   slog.With("component", "queue"),
		metrics:  metrics,
		shutdown: make(chan struct{}),
	}

	q.wg.Add(cfg.Workers)
	for i := 0; i < cfg.Workers; i++ {
		go q.worker()
	}

	if metrics != nil {
		go q.reportDepth()
	}

	q.logger.Info("Queue started", "workers", cfg.Workers, "buffer", cfg.BufferSize)
	return q
}

// reportDepth periodically reports the queue depth metric.
func (q *Memory) reportDepth() {
	ticker := time.NewTicker(5 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-q.shutdown:
			return
		case <-ticker.C:
			q.metrics.RecordQueueDepth(context.Background(), int64(len(q.tasks)))
		}
	}
}

// Enqueue queues a task for asynchronous execution.
func (q *Memory) Enqueue(task *job.Task) error {
	if q.closed.Load() {
		return fmt.Errorf("queue is closed")
	}

	select {
	case q.tasks <- task:
		q.enqueued.Add(1)
		return nil
	default:
		q.rejected.Add(1)
		if q.metrics != nil {
			q.metrics.RecordQueueRejected(context.Background())
		}
		q.logger.Warn("Task rejected, buffer full", "jobId", task.ID)
		return ErrQueueFull
	}
}

// Stats returns current queue statistics.
func (q *Memory) Stats() Stats {
	return Stats{
		QueueDepth: len(q.tasks),
		Enqueued:   q.enqueued.Load(),
		Executed:   q.executed.Load(),
		Rejected:   q.rejected.Load(),
		Active:     q.active.Load(),
	}
}

// Close gracefully shuts down the queue, draining buffered tasks.
// The context deadline controls how long to wait for the drain.
func (q *Memory) Close(ctx context.Context) error {
	if q.closed.Swap(true) {
		return nil // already closed
	}

	q.logger.Info("Queue shutting down", "buffered", len(q.tasks))

	close(q.shutdown)

	done := make(chan struct{})
	go func() {
		q.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		q.logger.Info("Queue shutdown complete", "executed", q.executed.Load())
		return nil
	case <-ctx.Done():
		q.logger.Warn("Queue shutdown timed out", "remaining", len(q.tasks))
		return ctx.Err()
	}
}

// worker executes tasks from the queue.
func (q *Memory) worker() {
	defer q.wg.Done()

	for {
		select {
		case <-q.shutdown:
			// Drain remaining tasks before exiting.
			q.drain()
			return
		case task := <-q.tasks:
			q.execute(task)
		}
	}
}

// drain executes remaining tasks after the shutdown signal.
func (q *Memory) drain() {
	for {
		select {
		case task := <-q.tasks:
			q.execute(task)
		default:
			return // queue empty
		}
	}
}

// execute runs one attempt through the runner.
func (q *Memory) execute(task *job.Task) {
	q.executed.Add(1)
	q.active.Add(1)
	defer q.active.Add(-1)

	if err := q.runner.Run(context.Background(), task); err != nil {
		q.logger.Debug("Attempt finished with error", "jobId", task.ID, "error", err)
	}
}
