package queue

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"classifier/internal/classify"
	"classifier/internal/job"
	"classifier/internal/notify"
	"classifier/internal/observability"
)

// Execution limits per attempt. The soft limit bounds the classifier call;
// the hard limit is the authoritative cap covering a classifier that
// ignores its context.
const (
	DefaultHardTimeout = 5 * time.Minute
	DefaultSoftTimeout = 4 * time.Minute
)

// AttemptRunner executes one job attempt: it moves the job to processing,
// invokes the classifier, records the outcome in the store, and publishes
// each transition after its store write has landed.
type AttemptRunner struct {
	jobs       *job.Store
	bus        notify.Bus
	classifier classify.Classifier
	metrics    *observability.Metrics
	logger     *slog.Logger

	hardTimeout time.Duration
	softTimeout time.Duration
}

// RunnerOption configures an AttemptRunner.
type RunnerOption func(*AttemptRunner)

// WithTimeouts overrides the hard and soft execution limits.
func WithTimeouts(hard, soft time.Duration) RunnerOption {
	return func(r *AttemptRunner) {
		if hard > 0 {
			r.hardTimeout = hard
		}
		if soft > 0 {
			r.softTimeout = soft
		}
	}
}

// NewAttemptRunner creates a runner.
func NewAttemptRunner(jobs *job.Store, bus notify.Bus, classifier classify.Classifier, metrics *observability.Metrics, opts ...RunnerOption) *AttemptRunner {
	r := &AttemptRunner{
		jobs:        jobs,
		bus:         bus,
		classifier:  classifier,
		metrics:     metrics,
		logger:      slog.With("component", "runner"),
		hardTimeout: DefaultHardTimeout,
		softTimeout: DefaultSoftTimeout,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Run executes the attempt for a dequeued task.
func (r *AttemptRunner) Run(ctx context.Context, task *job.Task) error {
	logger := r.logger.With("jobId", task.ID)

	status, err := r.jobs.Status(ctx, task.ID)
	if err != nil {
		// Record expired (or was rolled back) between enqueue and pickup.
		logger.Warn("Skipping attempt, job record unavailable", "error", err)
		return err
	}
	if !job.CanTransition(status, job.StatusProcessing) {
		logger.Warn("Skipping attempt, unexpected status", "status", status)
		return fmt.Errorf("job %s is %s, cannot start processing", task.ID, status)
	}

	if err := r.jobs.SetStatus(ctx, task.ID, job.StatusProcessing); err != nil {
		logger.Error("Processing transition failed", "error", err)
		return err
	}
	r.publish(ctx, task.ID, job.StatusProcessing)
	if r.metrics != nil {
		r.metrics.RecordJobStarted(ctx)
		defer r.metrics.RecordJobFinished(ctx)
	}

	start := time.Now()
	preds, err := r.classifyWithTimeout(ctx, task.Payload)
	duration := time.Since(start)

	if err != nil {
		failure := classifyFailure(err, duration)
		logger.Warn("Attempt failed", "error", failure.Message, "duration", duration)
		return r.finish(ctx, task.ID, job.StatusFailed, nil, &failure, duration)
	}

	results := make([]job.Prediction, len(preds))
	for i, p := range preds {
		results[i] = job.Prediction{Label: p.Label, Probability: p.Probability}
	}

	logger.Info("Attempt completed", "labels", len(results), "duration", duration)
	return r.finish(ctx, task.ID, job.StatusCompleted, results, nil, duration)
}

// finish writes the terminal payload, then the status, then publishes.
// The order matters: a poll that observes a terminal status must find the
// payload already present.
func (r *AttemptRunner) finish(ctx context.Context, id string, status job.Status, results []job.Prediction, failure *job.Failure, duration time.Duration) error {
	switch status {
	case job.StatusCompleted:
		if err := r.jobs.SetResults(ctx, id, results); err != nil {
			return err
		}
	case job.StatusFailed:
		if err := r.jobs.SetFailure(ctx, id, *failure); err != nil {
			return err
		}
	}

	if err := r.jobs.SetStatus(ctx, id, status); err != nil {
		return err
	}
	r.publish(ctx, id, status)

	if r.metrics != nil {
		if status == job.StatusCompleted {
			r.metrics.RecordJobCompleted(ctx, duration.Seconds())
		} else {
			r.metrics.RecordJobFailed(ctx, duration.Seconds())
		}
	}
	return nil
}

// classifyWithTimeout calls the classifier under the soft limit while the
// hard limit guards against an implementation that never returns.
func (r *AttemptRunner) classifyWithTimeout(ctx context.Context, payload []byte) ([]classify.Prediction, error) {
	hardCtx, hardCancel := context.WithTimeout(ctx, r.hardTimeout)
	defer hardCancel()
	softCtx, softCancel := context.WithTimeout(hardCtx, r.softTimeout)
	defer softCancel()

	type outcome struct {
		preds []classify.Prediction
		err   error
	}
	done := make(chan outcome, 1)

	go func() {
		preds, err := r.classifier.Classify(softCtx, payload)
		done <- outcome{preds: preds, err: err}
	}()

	select {
	case out := <-done:
		return out.preds, out.err
	case <-hardCtx.Done():
		// The classifier ignored its context; abandon it.
		return nil, context.DeadlineExceeded
	}
}

// publish broadcasts a transition. Best-effort: observers fall back to
// polling the store.
func (r *AttemptRunner) publish(ctx context.Context, id string, status job.Status) {
	event := notify.Event{JobID: id, Status: string(status), At: time.Now().UTC()}
	if err := r.bus.Publish(ctx, event); err != nil {
		r.logger.Warn("Event publish failed", "jobId", id, "status", status, "error", err)
	}
}

// classifyFailure maps a classifier error to the stored failure record.
func classifyFailure(err error, duration time.Duration) job.Failure {
	if errors.Is(err, context.DeadlineExceeded) {
		return job.Failure{
			Message: "classification timed out",
			Detail:  fmt.Sprintf("attempt exceeded execution limit after %s", duration),
		}
	}

	var upstream *classify.UpstreamError
	if errors.As(err, &upstream) {
		return job.Failure{Message: upstream.Message, Detail: upstream.Detail}
	}

	return job.Failure{
		Message: err.Error(),
		Detail:  fmt.Sprintf("classifier error after %s: %+v", duration, err),
	}
}
