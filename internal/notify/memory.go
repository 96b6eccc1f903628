package notify

import (
	"context"
	"sync"
)

// subscriberBuffer is the per-subscriber event buffer. Events beyond it are
// dropped rather than blocking the publisher.
const subscriberBuffer = 16

// Memory is an in-process Bus fanning events out to per-job subscriber
// lists. Publishing never blocks: a full subscriber buffer drops the event,
// mirroring the at-most-once contract of the Redis backend.
type Memory struct {
	mu     sync.RWMutex
	topics map[string]map[*memorySubscription]struct{}
	closed bool
}

// NewMemory creates an in-memory bus.
func NewMemory() *Memory {
	return &Memory{topics: make(map[string]map[*memorySubscription]struct{})}
}

// Publish fans the event out to the job's current subscribers.
func (m *Memory) Publish(_ context.Context, event Event) error {
	m.mu.RLock()
	defer m.mu.RUnlock()

	for sub := range m.topics[event.JobID] {
		select {
		case sub.events <- event:
		default:
			// Slow subscriber; drop. The store poll is the fallback.
		}
	}
	return nil
}

// Subscribe attaches a new subscriber to the job's topic.
func (m *Memory) Subscribe(_ context.Context, jobID string) (Subscription, error) {
	sub := &memorySubscription{
		bus:    m,
		jobID:  jobID,
		events: make(chan Event, subscriberBuffer),
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		close(sub.events)
		return sub, nil
	}
	if m.topics[jobID] == nil {
		m.topics[jobID] = make(map[*memorySubscription]struct{})
	}
	m.topics[jobID][sub] = struct{}{}
	return sub, nil
}

// Close detaches and closes every subscriber.
func (m *Memory) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return nil
	}
	m.closed = true
	for jobID, subs := range m.topics {
		for sub := range subs {
			sub.markDetached()
			close(sub.events)
		}
		delete(m.topics, jobID)
	}
	return nil
}

// detach removes a subscriber from its topic, dropping the topic entry when
// it becomes empty.
func (m *Memory) detach(sub *memorySubscription) {
	m.mu.Lock()
	defer m.mu.Unlock()
	subs, ok := m.topics[sub.jobID]
	if !ok {
		return
	}
	if _, ok := subs[sub]; !ok {
		return
	}
	delete(subs, sub)
	if len(subs) == 0 {
		delete(m.topics, sub.jobID)
	}
	close(sub.events)
}

type memorySubscription struct {
	bus    *Memory
	jobID  string
	events chan Event

	mu       sync.Mutex
	detached bool
}

func (s *memorySubscription) Events() <-chan Event { return s.events }

func (s *memorySubscription) Close() error {
	s.mu.Lock()
	if s.detached {
		s.mu.Unlock()
		return nil
	}
	s.detached = true
	s.mu.Unlock()

	s.bus.detach(s)
	return nil
}

// markDetached flags the subscription as closed without touching the topic
// map. Called by the bus while holding its own lock.
func (s *memorySubscription) markDetached() {
	s.mu.Lock()
	s.detached = true
	s.mu.Unlock()
}

// Verify Memory implements Bus
var _ Bus = (*Memory)(nil)
