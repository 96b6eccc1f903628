package job

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"classifier/internal/apperrors"
	"classifier/internal/notify"
)

// DefaultPollInterval is the streamer's store poll fallback cadence.
const DefaultPollInterval = 100 * time.Millisecond

// maxPollFailures is how many consecutive poll errors the streamer
// tolerates before closing the stream with an error.
const maxPollFailures = 30

// Update is one element of a status stream: a snapshot, or a stream-level
// error that ends the stream.
type Update struct {
	Snapshot *Snapshot
	Err      error
}

// Watch returns an ordered feed of status updates for one job, terminal
// state included, after which the channel closes.
//
// The bus keeps no history, so a job can reach terminal state and publish
// its final event before an observer attaches. Watch closes that race:
//
//  1. Read the current status from the store first.
//  2. Already terminal: emit it and stop without subscribing.
//  3. Otherwise subscribe to the bus before entering the receive loop.
//  4. While receiving, poll the store on a fixed interval as a fallback,
//     because a publish racing the subscribe can still be missed.
//  5. On learning of a terminal state, by bus or by poll, emit it once
//     and end the stream.
//
// Redundant deliveries are de-duplicated by status value. Cancelling ctx
// tears the stream down immediately, releasing the subscription and timer.
func (s *Service) Watch(ctx context.Context, id string) (<-chan Update, error) {
	snap, err := s.store.Snapshot(ctx, id)
	if err != nil {
		return nil, err
	}

	updates := make(chan Update, 1)

	if snap.Status.IsTerminal() {
		updates <- Update{Snapshot: snap}
		close(updates)
		return updates, nil
	}

	sub, err := s.bus.Subscribe(ctx, id)
	if err != nil {
		return nil, apperrors.Internal("job.watch", err)
	}

	go s.watchLoop(ctx, id, snap, sub, updates)
	return updates, nil
}

// watchLoop is the streamer's receive loop: it waits on the first of bus
// message, poll tick, or observer disconnect.
func (s *Service) watchLoop(ctx context.Context, id string, initial *Snapshot, sub notify.Subscription, updates chan<- Update) {
	defer close(updates)
	defer sub.Close()

	logger := slog.With("component", "streamer", "jobId", id)

	last := Status("")
	deliver := func(snap *Snapshot) bool {
		select {
		case updates <- Update{Snapshot: snap}:
			last = snap.Status
			return true
		case <-ctx.Done():
			return false
		}
	}

	if !deliver(initial) {
		return
	}
	if initial.Status.IsTerminal() {
		return
	}

	ticker := time.NewTicker(s.pollInterval)
	defer ticker.Stop()

	events := sub.Events()
	pollFailures := 0

	for {
		select {
		case <-ctx.Done():
			return

		case event, ok := <-events:
			if !ok {
				// Bus ended; keep going on the poll alone.
				events = nil
				continue
			}
			status := Status(event.Status)
			if !status.Valid() || status == last {
				continue
			}
			// Re-read the store rather than trusting the event body:
			// the worker writes payload fields before publishing, so
			// the snapshot is complete by the time the event arrives.
			snap, err := s.store.Snapshot(ctx, id)
			if err != nil {
				// The poll tick will retry shortly.
				logger.Warn("Snapshot read after event failed", "error", err)
				continue
			}
			if snap.Status == last {
				continue
			}
			if !deliver(snap) {
				return
			}
			if snap.Status.IsTerminal() {
				return
			}

		case <-ticker.C:
			snap, err := s.store.Snapshot(ctx, id)
			if err != nil {
				if errors.Is(err, apperrors.ErrNotFound) {
					// TTL elapsed mid-stream; the job no longer exists.
					s.fail(ctx, updates, err)
					return
				}
				pollFailures++
				if pollFailures >= maxPollFailures {
					logger.Error("Store unavailable, closing stream", "error", err)
					s.fail(ctx, updates, apperrors.Internal("job.watch", err))
					return
				}
				continue
			}
			pollFailures = 0
			if snap.Status == last {
				continue
			}
			if !deliver(snap) {
				return
			}
			if snap.Status.IsTerminal() {
				return
			}
		}
	}
}

// fail pushes a stream-level error unless the observer is already gone.
func (s *Service) fail(ctx context.Context, updates chan<- Update, err error) {
	select {
	case updates <- Update{Err: err}:
	case <-ctx.Done():
	}
}
