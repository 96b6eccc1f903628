package job

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"classifier/internal/apperrors"
	"classifier/internal/store"
)

// DefaultTTL is how long each job field lives after its last write.
const DefaultTTL = time.Hour

// Store is the record layer over the coordination KV. Each job field
// (status, results, error) lives under its own key with an independent TTL
// refreshed on every write. There is no cross-field transaction; callers
// tolerate the brief window where status is terminal but the payload field
// has not landed for a different writer (not a supported scenario here,
// since a single attempt has a single writer and writes payload first).
type Store struct {
	kv  store.KV
	ttl time.Duration
}

// NewStore creates a record store. A non-positive ttl falls back to
// DefaultTTL.
func NewStore(kv store.KV, ttl time.Duration) *Store {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &Store{kv: kv, ttl: ttl}
}

// TTL returns the configured field lifetime.
func (s *Store) TTL() time.Duration { return s.ttl }

func statusKey(id string) string  { return "job:" + id + ":status" }
func resultsKey(id string) string { return "job:" + id + ":results" }
func errorKey(id string) string   { return "job:" + id + ":error" }

// Create writes the initial queued record for a new job.
func (s *Store) Create(ctx context.Context, id string) error {
	return s.SetStatus(ctx, id, StatusQueued)
}

// Status reads the job's current status. An absent or expired status key
// means the job does not exist.
func (s *Store) Status(ctx context.Context, id string) (Status, error) {
	val, err := s.kv.Get(ctx, statusKey(id))
	if errors.Is(err, store.ErrKeyMiss) {
		return "", apperrors.NotFound("job", id)
	}
	if err != nil {
		return "", apperrors.Internal("job.status", err)
	}
	status := Status(val)
	if !status.Valid() {
		return "", apperrors.Internal("job.status", fmt.Errorf("corrupt status %q for job %s", val, id))
	}
	return status, nil
}

// SetStatus writes the job's status, refreshing its TTL.
func (s *Store) SetStatus(ctx context.Context, id string, status Status) error {
	if err := s.kv.Set(ctx, statusKey(id), string(status), s.ttl); err != nil {
		return apperrors.Internal("job.setStatus", err)
	}
	return nil
}

// Results reads the stored predictions, or nil when none are present.
func (s *Store) Results(ctx context.Context, id string) ([]Prediction, error) {
	val, err := s.kv.Get(ctx, resultsKey(id))
	if errors.Is(err, store.ErrKeyMiss) {
		return nil, nil
	}
	if err != nil {
		return nil, apperrors.Internal("job.results", err)
	}
	var results []Prediction
	if err := json.Unmarshal([]byte(val), &results); err != nil {
		return nil, apperrors.Internal("job.results", err)
	}
	return results, nil
}

// SetResults stores the predictions for a completed attempt.
func (s *Store) SetResults(ctx context.Context, id string, results []Prediction) error {
	payload, err := json.Marshal(results)
	if err != nil {
		return apperrors.Internal("job.setResults", err)
	}
	if err := s.kv.Set(ctx, resultsKey(id), string(payload), s.ttl); err != nil {
		return apperrors.Internal("job.setResults", err)
	}
	return nil
}

// ClearResults removes any stored predictions. A retry clears the previous
// attempt's leftovers before re-queueing.
func (s *Store) ClearResults(ctx context.Context, id string) error {
	if err := s.kv.Del(ctx, resultsKey(id)); err != nil {
		return apperrors.Internal("job.clearResults", err)
	}
	return nil
}

// Failure reads the stored failure, or nil when none is present.
func (s *Store) Failure(ctx context.Context, id string) (*Failure, error) {
	val, err := s.kv.Get(ctx, errorKey(id))
	if errors.Is(err, store.ErrKeyMiss) {
		return nil, nil
	}
	if err != nil {
		return nil, apperrors.Internal("job.failure", err)
	}
	var failure Failure
	if err := json.Unmarshal([]byte(val), &failure); err != nil {
		return nil, apperrors.Internal("job.failure", err)
	}
	return &failure, nil
}

// SetFailure stores the failure for a failed attempt, diagnostic detail
// included.
func (s *Store) SetFailure(ctx context.Context, id string, failure Failure) error {
	payload, err := json.Marshal(failure)
	if err != nil {
		return apperrors.Internal("job.setFailure", err)
	}
	if err := s.kv.Set(ctx, errorKey(id), string(payload), s.ttl); err != nil {
		return apperrors.Internal("job.setFailure", err)
	}
	return nil
}

// ClearFailure removes the stored failure when a retry re-arms the job.
func (s *Store) ClearFailure(ctx context.Context, id string) error {
	if err := s.kv.Del(ctx, errorKey(id)); err != nil {
		return apperrors.Internal("job.clearFailure", err)
	}
	return nil
}

// Snapshot assembles the external view of a job: status plus, for terminal
// states, results or the sanitized error message.
func (s *Store) Snapshot(ctx context.Context, id string) (*Snapshot, error) {
	status, err := s.Status(ctx, id)
	if err != nil {
		return nil, err
	}

	snap := &Snapshot{ID: id, Status: status}
	switch status {
	case StatusCompleted:
		results, err := s.Results(ctx, id)
		if err != nil {
			return nil, err
		}
		snap.Results = results
	case StatusFailed:
		failure, err := s.Failure(ctx, id)
		if err != nil {
			return nil, err
		}
		if failure != nil {
			snap.Error = failure.Message
		}
	}
	return snap, nil
}
