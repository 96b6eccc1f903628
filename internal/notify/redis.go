package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"

	"github.com/redis/go-redis/v9"
)

// channelKey returns the pub/sub channel for one job's events.
func channelKey(jobID string) string {
	return "job:" + jobID + ":events"
}

// Redis is a Bus backed by Redis pub/sub. Events are JSON on a per-job
// channel. Redis pub/sub keeps no history, which matches the bus contract.
type Redis struct {
	client *redis.Client
	logger *slog.Logger
}

// NewRedis creates a Redis-backed bus sharing an existing client.
func NewRedis(client *redis.Client) *Redis {
	return &Redis{
		client: client,
		logger: slog.With("component", "notify"),
	}
}

// Publish broadcasts an event on the job's channel.
func (r *Redis) Publish(ctx context.Context, event Event) error {
	payload, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("notify: marshal event: %w", err)
	}
	if err := r.client.Publish(ctx, channelKey(event.JobID), payload).Err(); err != nil {
		return fmt.Errorf("notify: publish %s: %w", event.JobID, err)
	}
	return nil
}

// Subscribe attaches to the job's channel. The returned subscription's
// channel is fed by a goroutine that exits when the subscription is closed
// or the context is cancelled.
func (r *Redis) Subscribe(ctx context.Context, jobID string) (Subscription, error) {
	pubsub := r.client.Subscribe(ctx, channelKey(jobID))

	// Force the subscription onto the wire before returning, so the
	// caller's subsequent store poll genuinely covers the race window.
	if _, err := pubsub.Receive(ctx); err != nil {
		_ = pubsub.Close()
		return nil, fmt.Errorf("notify: subscribe %s: %w", jobID, err)
	}

	sub := &redisSubscription{
		pubsub: pubsub,
		events: make(chan Event, 16),
	}

	go func() {
		defer close(sub.events)
		for msg := range pubsub.Channel() {
			var event Event
			if err := json.Unmarshal([]byte(msg.Payload), &event); err != nil {
				r.logger.Warn("Dropping malformed event", "jobId", jobID, "error", err)
				continue
			}
			select {
			case sub.events <- event:
			default:
				// Subscriber is not keeping up. The streamer's store
				// poll covers anything dropped here.
			}
		}
	}()

	return sub, nil
}

// Close is a no-op for the shared client; subscriptions own their pubsub.
func (r *Redis) Close() error { return nil }

type redisSubscription struct {
	pubsub *redis.PubSub
	events chan Event
	once   sync.Once
}

func (s *redisSubscription) Events() <-chan Event { return s.events }

func (s *redisSubscription) Close() error {
	var err error
	s.once.Do(func() {
		// Closing the pubsub closes its Channel(), which ends the
		// forwarding goroutine and closes s.events.
		err = s.pubsub.Close()
	})
	return err
}

// Verify Redis implements Bus
var _ Bus = (*Redis)(nil)
