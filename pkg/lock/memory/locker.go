package memory

import (
	"context"
	"sync"

	"cuewise/pkg/lock"
)

// Locker is an in-process FIFO lock. It backs standalone mode and the
// election/failover tests, where several simulated instances share one
// Locker the way tabs share a platform lock manager.
type Locker struct {
	mu    sync.Mutex
	locks map[string]*namedLock
}

type namedLock struct {
	held    bool
	waiters []chan struct{}
}

// New creates an empty locker.
func New() *Locker {
	return &Locker{locks: make(map[string]*namedLock)}
}

func (l *Locker) Close() error {
	return nil
}

// Acquire blocks until the named lock is free, granting strictly in
// arrival order.
func (l *Locker) Acquire(ctx context.Context, name string) (lock.Handle, error) {
	l.mu.Lock()
	nl, ok := l.locks[name]
	if !ok {
		nl = &namedLock{}
		l.locks[name] = nl
	}
	if !nl.held {
		nl.held = true
		l.mu.Unlock()
		return l.newHandle(name), nil
	}
	grant := make(chan struct{})
	nl.waiters = append(nl.waiters, grant)
	l.mu.Unlock()

	select {
	case <-grant:
		return l.newHandle(name), nil
	case <-ctx.Done():
		l.abandon(name, grant)
		return nil, ctx.Err()
	}
}

func (l *Locker) newHandle(name string) *handle {
	return &handle{
		locker: l,
		name:   name,
		done:   make(chan struct{}),
	}
}

// abandon removes a waiter that gave up; if the grant raced the
// cancellation, pass the lock on.
func (l *Locker) abandon(name string, grant chan struct{}) {
	l.mu.Lock()
	defer l.mu.Unlock()
	nl := l.locks[name]
	for i, w := range nl.waiters {
		if w == grant {
			nl.waiters = append(nl.waiters[:i], nl.waiters[i+1:]...)
			return
		}
	}
	// Not in the waiter list: the grant already fired. Hand it over.
	l.releaseLocked(name)
}

func (l *Locker) release(name string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.releaseLocked(name)
}

func (l *Locker) releaseLocked(name string) {
	nl := l.locks[name]
	if nl == nil || !nl.held {
		return
	}
	if len(nl.waiters) == 0 {
		nl.held = false
		return
	}
	next := nl.waiters[0]
	nl.waiters = nl.waiters[1:]
	close(next) // lock stays held, ownership transfers
}

type handle struct {
	locker *Locker
	name   string
	once   sync.Once
	done   chan struct{}
}

func (h *handle) Done() <-chan struct{} {
	return h.done
}

func (h *handle) Release(_ context.Context) error {
	h.once.Do(func() {
		close(h.done)
		h.locker.release(h.name)
	})
	return nil
}
