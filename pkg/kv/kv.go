package kv

import (
	"context"
	"errors"
	"time"
)

var (
	ErrNotFound = errors.New("key not found")
	ErrClosed   = errors.New("store is closed")
)

// Event describes a single observed change to a key.
// Prev is nil when the key did not exist before the write.
type Event struct {
	Key   string
	Prev  []byte
	Value []byte
}

// Store is the shared key-value store every instance coordinates through.
// Writes made by any instance are delivered to every live watcher of the
// same key with sub-second latency (at-least-once).
type Store interface {
	// Get returns the current value, or ErrNotFound.
	Get(ctx context.Context, key string) ([]byte, error)

	// Put overwrites the value at key.
	Put(ctx context.Context, key string, value []byte) error

	// PutTTL overwrites the value at key with an expiry. Used for
	// presence heartbeats; expired keys behave as deleted.
	PutTTL(ctx context.Context, key string, value []byte, ttl time.Duration) error

	// List returns all key/value pairs under the given prefix.
	List(ctx context.Context, prefix string) (map[string][]byte, error)

	// Watch streams changes to key until ctx is cancelled.
	Watch(ctx context.Context, key string) (<-chan Event, error)

	Close() error
}
