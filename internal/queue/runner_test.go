package queue

import (
	"context"
	"errors"
	"testing"
	"time"

	"classifier/internal/classify"
	"classifier/internal/job"
	"classifier/internal/notify"
	"classifier/internal/store"
)

type runnerEnv struct {
	jobs *job.Store
	bus  *notify.Memory
}

func newRunnerEnv(t *testing.T) *runnerEnv {
	t.Helper()

	kv := store.NewMemory()
	t.Cleanup(func() { kv.Close() })
	bus := notify.NewMemory()
	t.Cleanup(func() { bus.Close() })

	return &runnerEnv{jobs: job.NewStore(kv, time.Hour), bus: bus}
}

func TestAttemptRunner_Success(t *testing.T) {
	t.Parallel()
	env := newRunnerEnv(t)
	ctx := context.Background()

	classifier := classify.Func(func(ctx context.Context, payload []byte) ([]classify.Prediction, error) {
		return []classify.Prediction{
			{Label: "cat", Probability: 0.8},
			{Label: "dog", Probability: 0.2},
		}, nil
	})
	runner := NewAttemptRunner(env.jobs, env.bus, classifier, nil)

	env.jobs.Create(ctx, "job-1")

	sub, err := env.bus.Subscribe(ctx, "job-1")
	if err != nil {
		t.Fatalf("Subscribe failed: %v", err)
	}
	defer sub.Close()

	if err := runner.Run(ctx, &job.Task{ID: "job-1", Payload: []byte("img")}); err != nil {
		t.Fatalf("Run failed: %v", err)
	}

	snap, err := env.jobs.Snapshot(ctx, "job-1")
	if err != nil {
		t.Fatalf("Snapshot failed: %v", err)
	}
	if snap.Status != job.StatusCompleted {
		t.Errorf("Expected completed, got %s", snap.Status)
	}
	if len(snap.Results) != 2 || snap.Results[0].Label != "cat" {
		t.Errorf("Unexpected results: %+v", snap.Results)
	}

	// Both transitions were published, in order.
	expectEvent(t, sub, string(job.StatusProcessing))
	expectEvent(t, sub, string(job.StatusCompleted))
}

func expectEvent(t *testing.T, sub notify.Subscription, status string) {
	t.Helper()
	select {
	case event := <-sub.Events():
		if event.Status != status {
			t.Fatalf("Expected %s event, got %s", status, event.Status)
		}
	case <-time.After(5 * time.Second):
		t.Fatalf("Timed out waiting for %s event", status)
	}
}

func TestAttemptRunner_ClassifierError(t *testing.T) {
	t.Parallel()
	env := newRunnerEnv(t)
	ctx := context.Background()

	classifier := classify.Func(func(ctx context.Context, payload []byte) ([]classify.Prediction, error) {
		return nil, &classify.UpstreamError{
			Message: "model rejected the image",
			Detail:  "400 from model server: unsupported bit depth",
		}
	})
	runner := NewAttemptRunner(env.jobs, env.bus, classifier, nil)

	env.jobs.Create(ctx, "job-1")

	if err := runner.Run(ctx, &job.Task{ID: "job-1", Payload: []byte("img")}); err != nil {
		t.Fatalf("Run failed: %v", err)
	}

	snap, err := env.jobs.Snapshot(ctx, "job-1")
	if err != nil {
		t.Fatalf("Snapshot failed: %v", err)
	}
	if snap.Status != job.StatusFailed {
		t.Errorf("Expected failed, got %s", snap.Status)
	}
	if snap.Error != "model rejected the image" {
		t.Errorf("Expected the short message, got %q", snap.Error)
	}

	// The diagnostic detail lands in the store, not in the snapshot.
	failure, err := env.jobs.Failure(ctx, "job-1")
	if err != nil {
		t.Fatalf("Failure failed: %v", err)
	}
	if failure == nil || failure.Detail == "" {
		t.Errorf("Expected stored diagnostic detail, got %+v", failure)
	}
}

func TestAttemptRunner_Timeout(t *testing.T) {
	t.Parallel()
	env := newRunnerEnv(t)
	ctx := context.Background()

	classifier := classify.Func(func(ctx context.Context, payload []byte) ([]classify.Prediction, error) {
		<-ctx.Done()
		return nil, ctx.Err()
	})
	runner := NewAttemptRunner(env.jobs, env.bus, classifier, nil,
		WithTimeouts(100*time.Millisecond, 50*time.Millisecond))

	env.jobs.Create(ctx, "job-1")

	if err := runner.Run(ctx, &job.Task{ID: "job-1", Payload: []byte("img")}); err != nil {
		t.Fatalf("Run failed: %v", err)
	}

	snap, err := env.jobs.Snapshot(ctx, "job-1")
	if err != nil {
		t.Fatalf("Snapshot failed: %v", err)
	}
	if snap.Status != job.StatusFailed {
		t.Errorf("Expected failed, got %s", snap.Status)
	}
	if snap.Error != "classification timed out" {
		t.Errorf("Expected timeout message, got %q", snap.Error)
	}
}

func TestAttemptRunner_HardLimitCoversStuckClassifier(t *testing.T) {
	t.Parallel()
	env := newRunnerEnv(t)
	ctx := context.Background()

	release := make(chan struct{})
	defer close(release)
	classifier := classify.Func(func(ctx context.Context, payload []byte) ([]classify.Prediction, error) {
		// Ignores its context entirely.
		<-release
		return nil, errors.New("too late")
	})
	runner := NewAttemptRunner(env.jobs, env.bus, classifier, nil,
		WithTimeouts(100*time.Millisecond, 50*time.Millisecond))

	env.jobs.Create(ctx, "job-1")

	start := time.Now()
	if err := runner.Run(ctx, &job.Task{ID: "job-1", Payload: []byte("img")}); err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if elapsed := time.Since(start); elapsed > 3*time.Second {
		t.Errorf("Run was not bounded by the hard limit, took %s", elapsed)
	}

	status, err := env.jobs.Status(ctx, "job-1")
	if err != nil {
		t.Fatalf("Status failed: %v", err)
	}
	if status != job.StatusFailed {
		t.Errorf("Expected failed, got %s", status)
	}
}

func TestAttemptRunner_SkipsMissingJob(t *testing.T) {
	t.Parallel()
	env := newRunnerEnv(t)

	classifier := classify.Func(func(ctx context.Context, payload []byte) ([]classify.Prediction, error) {
		t.Error("Classifier must not run for a missing job")
		return nil, nil
	})
	runner := NewAttemptRunner(env.jobs, env.bus, classifier, nil)

	if err := runner.Run(context.Background(), &job.Task{ID: "missing"}); err == nil {
		t.Error("Expected an error for a missing job")
	}
}

func TestAttemptRunner_SkipsNonQueuedJob(t *testing.T) {
	t.Parallel()
	env := newRunnerEnv(t)
	ctx := context.Background()

	classifier := classify.Func(func(ctx context.Context, payload []byte) ([]classify.Prediction, error) {
		t.Error("Classifier must not run for a job that is not queued")
		return nil, nil
	})
	runner := NewAttemptRunner(env.jobs, env.bus, classifier, nil)

	env.jobs.Create(ctx, "job-1")
	env.jobs.SetStatus(ctx, "job-1", job.StatusCompleted)

	if err := runner.Run(ctx, &job.Task{ID: "job-1"}); err == nil {
		t.Error("Expected an error for a completed job")
	}
}
