// Package store provides the key-value store used for job coordination.
//
// The store is the only shared mutable state between submitters, workers
// and observers. The contract is deliberately narrow: per-key TTL,
// last-write-wins, no cross-key transactionality. An expired key is
// indistinguishable from one that never existed.
package store

import (
	"context"
	"errors"
	"time"
)

// ErrKeyMiss is returned by Get when a key is absent or its TTL has elapsed.
var ErrKeyMiss = errors.New("store: key not found")

// KV is the coordination store contract.
//
// Every Set refreshes the key's TTL; reads never do. Implementations must
// treat expired keys exactly like missing ones.
type KV interface {
	// Get returns the value for key, or ErrKeyMiss if absent/expired.
	Get(ctx context.Context, key string) (string, error)

	// Set writes value under key with the given TTL, replacing any
	// previous value and restarting the expiry clock.
	Set(ctx context.Context, key, value string, ttl time.Duration) error

	// Del removes the given keys. Deleting a missing key is not an error.
	Del(ctx context.Context, keys ...string) error

	// Ping verifies the backend is reachable.
	Ping(ctx context.Context) error

	// Close releases the backend connection.
	Close() error
}
