package lock

import (
	"context"
	"errors"
)

// ErrUnavailable signals that no lock service is reachable in this
// environment. Callers use it to fall back to single-instance behavior
// instead of waiting forever on a lock that can never be granted.
var ErrUnavailable = errors.New("lock service unavailable")

// Handle represents a held lock.
type Handle interface {
	// Done fires when the grant is lost without an explicit Release,
	// e.g. the backing lease expired because the holder stopped
	// heartbeating.
	Done() <-chan struct{}

	// Release gives the lock up so the next waiting contender is granted it.
	Release(ctx context.Context) error
}

// Locker grants a named lock to at most one holder at a time.
type Locker interface {
	// Acquire blocks until the named lock is granted or ctx is done.
	// Blocking indefinitely is the expected steady state for contenders
	// while another holder is alive.
	Acquire(ctx context.Context, name string) (Handle, error)

	Close() error
}
