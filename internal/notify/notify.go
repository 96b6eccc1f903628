// Package notify provides the per-job status notification bus.
//
// The bus is at-most-once and history-less: a subscriber only sees events
// published while it is subscribed. Observers must not rely on it alone to
// learn terminal state; the job streamer pairs it with a store poll.
package notify

import (
	"context"
	"time"
)

// Event announces a job status change. Status is carried as its wire
// string so the bus stays independent of the job domain package.
type Event struct {
	JobID  string    `json:"jobId"`
	Status string    `json:"status"`
	At     time.Time `json:"at"`
}

// Subscription is a live attachment to one job's event channel.
type Subscription interface {
	// Events returns the channel events arrive on. The channel is closed
	// when the subscription is closed.
	Events() <-chan Event

	// Close detaches the subscriber and releases its resources.
	// Safe to call more than once.
	Close() error
}

// Bus publishes and subscribes to job status events.
type Bus interface {
	// Publish broadcasts an event to current subscribers of the job.
	// Delivery is best-effort; there is no backlog for late subscribers.
	Publish(ctx context.Context, event Event) error

	// Subscribe attaches to the event channel for one job.
	Subscribe(ctx context.Context, jobID string) (Subscription, error)

	// Close shuts the bus down, closing all subscriptions.
	Close() error
}
