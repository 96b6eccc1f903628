package job

import (
	"context"
	"errors"
	"testing"
	"time"

	"classifier/internal/apperrors"
	"classifier/internal/store"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	kv := store.NewMemory()
	t.Cleanup(func() { kv.Close() })
	return NewStore(kv, time.Hour)
}

func TestStore_CreateAndStatus(t *testing.T) {
	t.Parallel()
	s := newTestStore(t)
	ctx := context.Background()

	if err := s.Create(ctx, "job-1"); err != nil {
		t.Fatalf("Create failed: %v", err)
	}

	status, err := s.Status(ctx, "job-1")
	if err != nil {
		t.Fatalf("Status failed: %v", err)
	}
	if status != StatusQueued {
		t.Errorf("Expected queued, got %s", status)
	}
}

func TestStore_StatusNotFound(t *testing.T) {
	t.Parallel()
	s := newTestStore(t)

	_, err := s.Status(context.Background(), "missing")
	if !errors.Is(err, apperrors.ErrNotFound) {
		t.Errorf("Expected not found, got %v", err)
	}
}

func TestStore_StatusCorruptValue(t *testing.T) {
	t.Parallel()
	kv := store.NewMemory()
	t.Cleanup(func() { kv.Close() })
	s := NewStore(kv, time.Hour)
	ctx := context.Background()

	kv.Set(ctx, "job:job-1:status", "garbage", time.Hour)

	_, err := s.Status(ctx, "job-1")
	if !errors.Is(err, apperrors.ErrInternal) {
		t.Errorf("Expected internal error for corrupt status, got %v", err)
	}
}

func TestStore_ResultsRoundTrip(t *testing.T) {
	t.Parallel()
	s := newTestStore(t)
	ctx := context.Background()

	results := []Prediction{
		{Label: "cat", Probability: 0.8},
		{Label: "dog", Probability: 0.2},
	}
	if err := s.SetResults(ctx, "job-1", results); err != nil {
		t.Fatalf("SetResults failed: %v", err)
	}

	got, err := s.Results(ctx, "job-1")
	if err != nil {
		t.Fatalf("Results failed: %v", err)
	}
	if len(got) != 2 || got[0].Label != "cat" || got[0].Probability != 0.8 {
		t.Errorf("Unexpected results: %+v", got)
	}
}

func TestStore_ResultsAbsent(t *testing.T) {
	t.Parallel()
	s := newTestStore(t)

	got, err := s.Results(context.Background(), "job-1")
	if err != nil {
		t.Fatalf("Results failed: %v", err)
	}
	if got != nil {
		t.Errorf("Expected nil results, got %+v", got)
	}
}

func TestStore_FailureRoundTrip(t *testing.T) {
	t.Parallel()
	s := newTestStore(t)
	ctx := context.Background()

	failure := Failure{Message: "model unreachable", Detail: "dial tcp: connection refused"}
	if err := s.SetFailure(ctx, "job-1", failure); err != nil {
		t.Fatalf("SetFailure failed: %v", err)
	}

	got, err := s.Failure(ctx, "job-1")
	if err != nil {
		t.Fatalf("Failure failed: %v", err)
	}
	if got == nil || got.Message != "model unreachable" || got.Detail != "dial tcp: connection refused" {
		t.Errorf("Unexpected failure: %+v", got)
	}

	if err := s.ClearFailure(ctx, "job-1"); err != nil {
		t.Fatalf("ClearFailure failed: %v", err)
	}
	got, err = s.Failure(ctx, "job-1")
	if err != nil {
		t.Fatalf("Failure after clear failed: %v", err)
	}
	if got != nil {
		t.Errorf("Expected nil failure after clear, got %+v", got)
	}
}

func TestStore_SnapshotCompleted(t *testing.T) {
	t.Parallel()
	s := newTestStore(t)
	ctx := context.Background()

	s.Create(ctx, "job-1")
	s.SetResults(ctx, "job-1", []Prediction{{Label: "cat", Probability: 1}})
	s.SetStatus(ctx, "job-1", StatusCompleted)

	snap, err := s.Snapshot(ctx, "job-1")
	if err != nil {
		t.Fatalf("Snapshot failed: %v", err)
	}
	if snap.Status != StatusCompleted {
		t.Errorf("Expected completed, got %s", snap.Status)
	}
	if len(snap.Results) != 1 || snap.Results[0].Label != "cat" {
		t.Errorf("Unexpected results: %+v", snap.Results)
	}
	if snap.Error != "" {
		t.Errorf("Expected no error, got %q", snap.Error)
	}
}

func TestStore_SnapshotFailedHidesDetail(t *testing.T) {
	t.Parallel()
	s := newTestStore(t)
	ctx := context.Background()

	s.Create(ctx, "job-1")
	s.SetFailure(ctx, "job-1", Failure{Message: "classification timed out", Detail: "goroutine stack..."})
	s.SetStatus(ctx, "job-1", StatusFailed)

	snap, err := s.Snapshot(ctx, "job-1")
	if err != nil {
		t.Fatalf("Snapshot failed: %v", err)
	}
	if snap.Error != "classification timed out" {
		t.Errorf("Expected the short message, got %q", snap.Error)
	}
	if snap.Results != nil {
		t.Errorf("Expected no results, got %+v", snap.Results)
	}
}

func TestStore_SnapshotNonTerminalOmitsPayload(t *testing.T) {
	t.Parallel()
	s := newTestStore(t)
	ctx := context.Background()

	s.Create(ctx, "job-1")
	// Leftover results from a previous attempt must not surface while the
	// job is queued again.
	s.SetResults(ctx, "job-1", []Prediction{{Label: "stale", Probability: 1}})

	snap, err := s.Snapshot(ctx, "job-1")
	if err != nil {
		t.Fatalf("Snapshot failed: %v", err)
	}
	if snap.Results != nil || snap.Error != "" {
		t.Errorf("Expected bare snapshot, got %+v", snap)
	}
}

func TestStore_WritesRefreshTTL(t *testing.T) {
	t.Parallel()
	kv := store.NewMemory()
	t.Cleanup(func() { kv.Close() })
	s := NewStore(kv, 50*time.Millisecond)
	ctx := context.Background()

	s.Create(ctx, "job-1")
	time.Sleep(30 * time.Millisecond)
	// The rewrite pushes expiry out past the original deadline.
	s.SetStatus(ctx, "job-1", StatusProcessing)
	time.Sleep(30 * time.Millisecond)

	status, err := s.Status(ctx, "job-1")
	if err != nil {
		t.Fatalf("Status failed after refresh: %v", err)
	}
	if status != StatusProcessing {
		t.Errorf("Expected processing, got %s", status)
	}

	time.Sleep(60 * time.Millisecond)
	if _, err := s.Status(ctx, "job-1"); !errors.Is(err, apperrors.ErrNotFound) {
		t.Errorf("Expected not found after expiry, got %v", err)
	}
}

func TestNewStore_DefaultTTL(t *testing.T) {
	t.Parallel()
	kv := store.NewMemory()
	t.Cleanup(func() { kv.Close() })

	if got := NewStore(kv, 0).TTL(); got != DefaultTTL {
		t.Errorf("Expected default TTL %v, got %v", DefaultTTL, got)
	}
}
