package store

import (
	"context"
	"sync"
	"time"
)

// Memory is an in-process KV with per-key expiry. It backs unit tests and
// single-node deployments where running Redis is not worth the trouble.
//
// Expired entries are dropped lazily on read and by a background sweep, so
// a Get after expiry behaves identically to a Get on a never-written key.
type Memory struct {
	mu      sync.RWMutex
	entries map[string]memoryEntry

	sweepStop chan struct{}
	sweepOnce sync.Once
}

type memoryEntry struct {
	value     string
	expiresAt time.Time
}

// NewMemory creates an in-memory KV and starts its expiry sweep.
func NewMemory() *Memory {
	m := &Memory{
		entries:   make(map[string]memoryEntry),
		sweepStop: make(chan struct{}),
	}
	go m.sweep()
	return m
}

// sweep drops expired entries so the map does not grow unbounded.
func (m *Memory) sweep() {
	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()

	for {
		select {
		case <-m.sweepStop:
			return
		case <-ticker.C:
			now := time.Now()
			m.mu.Lock()
			for key, entry := range m.entries {
				if !entry.expiresAt.IsZero() && now.After(entry.expiresAt) {
					delete(m.entries, key)
				}
			}
			m.mu.Unlock()
		}
	}
}

// Get returns the value for key, or ErrKeyMiss if absent or expired.
func (m *Memory) Get(_ context.Context, key string) (string, error) {
	m.mu.RLock()
	entry, ok := m.entries[key]
	m.mu.RUnlock()

	if !ok {
		return "", ErrKeyMiss
	}
	if !entry.expiresAt.IsZero() && time.Now().After(entry.expiresAt) {
		m.mu.Lock()
		// A Set may have landed between the two lock acquisitions;
		// only drop the entry if it is still the expired one.
		if current, ok := m.entries[key]; ok && current == entry {
			delete(m.entries, key)
		}
		m.mu.Unlock()
		return "", ErrKeyMiss
	}
	return entry.value, nil
}

// Set writes value under key. A positive ttl restarts the expiry clock;
// zero means no expiry.
func (m *Memory) Set(_ context.Context, key, value string, ttl time.Duration) error {
	entry := memoryEntry{value: value}
	if ttl > 0 {
		entry.expiresAt = time.Now().Add(ttl)
	}

	m.mu.Lock()
	m.entries[key] = entry
	m.mu.Unlock()
	return nil
}

// Del removes the given keys.
func (m *Memory) Del(_ context.Context, keys ...string) error {
	m.mu.Lock()
	for _, key := range keys {
		delete(m.entries, key)
	}
	m.mu.Unlock()
	return nil
}

// Ping always succeeds; the store lives in-process.
func (m *Memory) Ping(context.Context) error { return nil }

// Close stops the expiry sweep.
func (m *Memory) Close() error {
	m.sweepOnce.Do(func() { close(m.sweepStop) })
	return nil
}

// Verify Memory implements KV
var _ KV = (*Memory)(nil)
