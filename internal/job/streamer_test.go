package job

import (
	"context"
	"errors"
	"testing"
	"time"

	"classifier/internal/apperrors"
	"classifier/internal/notify"
	"classifier/internal/store"
)

func collectStatuses(t *testing.T, updates <-chan Update, want int) []Status {
	t.Helper()

	var got []Status
	timeout := time.After(5 * time.Second)
	for {
		select {
		case update, ok := <-updates:
			if !ok {
				return got
			}
			if update.Err != nil {
				t.Fatalf("Unexpected stream error: %v", update.Err)
			}
			got = append(got, update.Snapshot.Status)
			if len(got) > want {
				t.Fatalf("Expected at most %d updates, got %v", want, got)
			}
		case <-timeout:
			t.Fatalf("Timed out with %v", got)
		}
	}
}

func TestWatch_TerminalBeforeSubscribe(t *testing.T) {
	t.Parallel()
	env := newServiceEnv(t)
	ctx := context.Background()

	env.store.Create(ctx, "job-1")
	env.store.SetResults(ctx, "job-1", []Prediction{{Label: "cat", Probability: 1}})
	env.store.SetStatus(ctx, "job-1", StatusCompleted)

	// The completion event was published before anyone watched; the
	// store read must still produce the terminal snapshot.
	updates, err := env.svc.Watch(ctx, "job-1")
	if err != nil {
		t.Fatalf("Watch failed: %v", err)
	}

	statuses := collectStatuses(t, updates, 1)
	if len(statuses) != 1 || statuses[0] != StatusCompleted {
		t.Errorf("Expected a single completed update, got %v", statuses)
	}
}

func TestWatch_NotFound(t *testing.T) {
	t.Parallel()
	env := newServiceEnv(t)

	_, err := env.svc.Watch(context.Background(), "missing")
	if !errors.Is(err, apperrors.ErrNotFound) {
		t.Errorf("Expected not found, got %v", err)
	}
}

func TestWatch_FollowsLifecycle(t *testing.T) {
	t.Parallel()
	env := newServiceEnv(t)
	ctx := context.Background()

	env.store.Create(ctx, "job-1")

	updates, err := env.svc.Watch(ctx, "job-1")
	if err != nil {
		t.Fatalf("Watch failed: %v", err)
	}

	expectStatus(t, updates, StatusQueued)

	// Drive the lifecycle the way a worker does: store write first, then
	// publish. Wait for each delivery before advancing so the observed
	// order is exactly the transition order.
	env.store.SetStatus(ctx, "job-1", StatusProcessing)
	env.bus.Publish(ctx, notify.Event{JobID: "job-1", Status: string(StatusProcessing), At: time.Now()})
	expectStatus(t, updates, StatusProcessing)

	env.store.SetResults(ctx, "job-1", []Prediction{{Label: "cat", Probability: 1}})
	env.store.SetStatus(ctx, "job-1", StatusCompleted)
	env.bus.Publish(ctx, notify.Event{JobID: "job-1", Status: string(StatusCompleted), At: time.Now()})
	expectStatus(t, updates, StatusCompleted)

	if _, ok := <-updates; ok {
		t.Error("Expected the stream to close after the terminal update")
	}
}

// expectStatus waits for the next snapshot update and asserts its status.
func expectStatus(t *testing.T, updates <-chan Update, want Status) {
	t.Helper()
	select {
	case update, ok := <-updates:
		if !ok {
			t.Fatalf("Stream closed while waiting for %s", want)
		}
		if update.Err != nil {
			t.Fatalf("Unexpected stream error: %v", update.Err)
		}
		if update.Snapshot.Status != want {
			t.Fatalf("Expected %s, got %s", want, update.Snapshot.Status)
		}
	case <-time.After(5 * time.Second):
		t.Fatalf("Timed out waiting for %s", want)
	}
}

func TestWatch_PollFallbackWithoutEvents(t *testing.T) {
	t.Parallel()
	env := newServiceEnv(t)
	ctx := context.Background()

	env.store.Create(ctx, "job-1")

	updates, err := env.svc.Watch(ctx, "job-1")
	if err != nil {
		t.Fatalf("Watch failed: %v", err)
	}

	// Nothing is ever published; the streamer must still learn the
	// terminal state from its store poll.
	env.store.SetFailure(ctx, "job-1", Failure{Message: "model unreachable"})
	env.store.SetStatus(ctx, "job-1", StatusFailed)

	var final *Snapshot
	timeout := time.After(5 * time.Second)
	for final == nil {
		select {
		case update, ok := <-updates:
			if !ok {
				t.Fatal("Stream closed before the terminal update")
			}
			if update.Err != nil {
				t.Fatalf("Unexpected stream error: %v", update.Err)
			}
			if update.Snapshot.Status.IsTerminal() {
				final = update.Snapshot
			}
		case <-timeout:
			t.Fatal("Timed out waiting for the terminal update")
		}
	}

	if final.Status != StatusFailed {
		t.Errorf("Expected failed, got %s", final.Status)
	}
	if final.Error != "model unreachable" {
		t.Errorf("Expected the failure message, got %q", final.Error)
	}

	if _, ok := <-updates; ok {
		t.Error("Expected the stream to close after the terminal update")
	}
}

func TestWatch_DeduplicatesRepeatedEvents(t *testing.T) {
	t.Parallel()
	env := newServiceEnv(t)
	ctx := context.Background()

	env.store.Create(ctx, "job-1")

	updates, err := env.svc.Watch(ctx, "job-1")
	if err != nil {
		t.Fatalf("Watch failed: %v", err)
	}

	expectStatus(t, updates, StatusQueued)

	env.store.SetStatus(ctx, "job-1", StatusProcessing)
	for range 3 {
		env.bus.Publish(ctx, notify.Event{JobID: "job-1", Status: string(StatusProcessing), At: time.Now()})
	}
	expectStatus(t, updates, StatusProcessing)

	env.store.SetResults(ctx, "job-1", []Prediction{{Label: "cat", Probability: 1}})
	env.store.SetStatus(ctx, "job-1", StatusCompleted)
	env.bus.Publish(ctx, notify.Event{JobID: "job-1", Status: string(StatusCompleted), At: time.Now()})

	// The repeated processing events must not produce repeated updates:
	// the very next thing on the stream is the terminal one.
	expectStatus(t, updates, StatusCompleted)

	if _, ok := <-updates; ok {
		t.Error("Expected the stream to close after the terminal update")
	}
}

func TestWatch_CancelTearsDown(t *testing.T) {
	t.Parallel()
	env := newServiceEnv(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	env.store.Create(context.Background(), "job-1")

	updates, err := env.svc.Watch(ctx, "job-1")
	if err != nil {
		t.Fatalf("Watch failed: %v", err)
	}

	// Consume the initial queued update, then disconnect. One in-flight
	// update may still be buffered; the close must follow promptly.
	<-updates
	cancel()

	timeout := time.After(5 * time.Second)
	for {
		select {
		case _, ok := <-updates:
			if !ok {
				return
			}
		case <-timeout:
			t.Fatal("Timed out waiting for the stream to close")
		}
	}
}

func TestWatch_JobExpiresMidStream(t *testing.T) {
	t.Parallel()

	kv := store.NewMemory()
	t.Cleanup(func() { kv.Close() })
	bus := notify.NewMemory()
	t.Cleanup(func() { bus.Close() })

	jobs := NewStore(kv, 50*time.Millisecond)
	svc := NewService(jobs, bus, &captureQueue{}, nil, WithPollInterval(10*time.Millisecond))
	ctx := context.Background()

	jobs.Create(ctx, "job-1")

	updates, err := svc.Watch(ctx, "job-1")
	if err != nil {
		t.Fatalf("Watch failed: %v", err)
	}

	// The record expires while the observer is attached; the stream must
	// end with a not-found error rather than hang.
	timeout := time.After(5 * time.Second)
	for {
		select {
		case update, ok := <-updates:
			if !ok {
				t.Fatal("Stream closed without an error update")
			}
			if update.Err != nil {
				if !errors.Is(update.Err, apperrors.ErrNotFound) {
					t.Errorf("Expected not found, got %v", update.Err)
				}
				return
			}
		case <-timeout:
			t.Fatal("Timed out waiting for the expiry error")
		}
	}
}
