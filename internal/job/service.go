package job

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"

	"classifier/internal/apperrors"
	"classifier/internal/notify"
	"classifier/internal/observability"
)

// maxPayloadSize caps submitted images at 10 MiB.
const maxPayloadSize = 10 << 20

// Enqueuer hands tasks to the asynchronous worker pool. Implemented by the
// queue package.
type Enqueuer interface {
	Enqueue(task *Task) error
}

// Service coordinates submission, status reads, retry and streaming.
//
// The Service is stateless - all job state lives in the store. Submitters,
// workers and observers synchronize only through the store and the bus.
type Service struct {
	store   *Store
	bus     notify.Bus
	queue   Enqueuer
	metrics *observability.Metrics

	pollInterval time.Duration
}

// ServiceOption configures a Service.
type ServiceOption func(*Service)

// WithPollInterval sets the streamer's store poll interval.
func WithPollInterval(d time.Duration) ServiceOption {
	return func(s *Service) {
		if d > 0 {
			s.pollInterval = d
		}
	}
}

// NewService creates a new job service.
func NewService(store *Store, bus notify.Bus, queue Enqueuer, metrics *observability.Metrics, opts ...ServiceOption) *Service {
	s := &Service{
		store:        store,
		bus:          bus,
		queue:        queue,
		metrics:      metrics,
		pollInterval: DefaultPollInterval,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Submit validates the payload, creates the job record in queued state and
// enqueues the first attempt.
func (s *Service) Submit(ctx context.Context, payload []byte) (*SubmitResponse, error) {
	if err := validatePayload(payload); err != nil {
		return nil, err
	}

	id := uuid.NewString()
	logger := slog.With("jobId", id)

	if err := s.store.Create(ctx, id); err != nil {
		logger.Error("Job record creation failed", "error", err)
		return nil, err
	}

	if err := s.queue.Enqueue(&Task{ID: id, Payload: payload}); err != nil {
		// Roll the record back so the id does not linger as a queued
		// job that no worker will ever pick up.
		if delErr := s.store.kv.Del(ctx, statusKey(id)); delErr != nil {
			logger.Error("Rollback of unqueued job failed", "error", delErr)
		}
		logger.Error("Job failed to enqueue", "error", err)
		return nil, apperrors.Internal("job.submit", err)
	}

	if s.metrics != nil {
		s.metrics.RecordJobSubmitted(ctx)
	}

	logger.Info("Job submitted", "bytes", len(payload))

	return &SubmitResponse{ID: id, Status: StatusQueued}, nil
}

// Get returns the current snapshot of a job.
func (s *Service) Get(ctx context.Context, id string) (*Snapshot, error) {
	return s.store.Snapshot(ctx, id)
}

// Retry re-arms a failed job under its existing identity with a freshly
// supplied payload. The previous attempt's error and results are cleared,
// the status returns to queued, and only then is the new attempt enqueued,
// so no worker can observe the job ahead of the store update.
func (s *Service) Retry(ctx context.Context, id string, payload []byte) (*SubmitResponse, error) {
	if err := validatePayload(payload); err != nil {
		return nil, err
	}

	logger := slog.With("jobId", id)

	status, err := s.store.Status(ctx, id)
	if err != nil {
		return nil, err
	}
	if status != StatusFailed {
		return nil, apperrors.InvalidState("job", id,
			fmt.Sprintf("job is %s, only failed jobs can be retried", status))
	}

	if err := s.store.ClearFailure(ctx, id); err != nil {
		return nil, err
	}
	if err := s.store.ClearResults(ctx, id); err != nil {
		return nil, err
	}
	if err := s.store.SetStatus(ctx, id, StatusQueued); err != nil {
		return nil, err
	}

	// Observers may already be attached; tell them the job is queued
	// again. Best-effort, the streamer's poll covers a lost publish.
	if err := s.publish(ctx, id, StatusQueued); err != nil {
		logger.Warn("Queued event publish failed", "error", err)
	}

	if err := s.queue.Enqueue(&Task{ID: id, Payload: payload}); err != nil {
		// The retry never made it onto the queue; put the job back in
		// failed so a later retry remains possible.
		failure := Failure{Message: "retry could not be queued", Detail: err.Error()}
		if setErr := s.store.SetFailure(ctx, id, failure); setErr != nil {
			logger.Error("Failure record write failed", "error", setErr)
		}
		if setErr := s.store.SetStatus(ctx, id, StatusFailed); setErr != nil {
			logger.Error("Status rollback failed", "error", setErr)
		}
		logger.Error("Retry failed to enqueue", "error", err)
		return nil, apperrors.Internal("job.retry", err)
	}

	if s.metrics != nil {
		s.metrics.RecordJobRetried(ctx)
	}

	logger.Info("Job retried", "bytes", len(payload))

	return &SubmitResponse{ID: id, Status: StatusQueued}, nil
}

// publish broadcasts a status change on the bus.
func (s *Service) publish(ctx context.Context, id string, status Status) error {
	return s.bus.Publish(ctx, notify.Event{
		JobID:  id,
		Status: string(status),
		At:     time.Now().UTC(),
	})
}

// validatePayload rejects empty payloads and anything that does not sniff
// as an image.
func validatePayload(payload []byte) error {
	if len(payload) == 0 {
		return apperrors.Validation("payload", "payload is required")
	}
	if len(payload) > maxPayloadSize {
		return apperrors.Validation("payload", fmt.Sprintf("payload exceeds maximum size of %d bytes", maxPayloadSize))
	}
	contentType := http.DetectContentType(payload)
	if !strings.HasPrefix(contentType, "image/") {
		return apperrors.Validation("payload", fmt.Sprintf("payload must be an image, got %s", contentType))
	}
	return nil
}
