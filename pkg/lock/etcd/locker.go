package etcd

import (
	"context"
	"fmt"

	clientv3 "go.etcd.io/etcd/client/v3"
	"go.etcd.io/etcd/client/v3/concurrency"

	"cuewise/pkg/lock"
)

const lockPrefix = "/cuewise/locks/"

// Locker implements lock.Locker on etcd concurrency sessions. Each
// acquisition gets its own session so that a crashed holder's lease
// lapses independently and the mutex is force-released after the TTL.
type Locker struct {
	client *clientv3.Client
	ttl    int
}

// New wraps an existing etcd client. ttl is the session lease TTL in
// seconds and bounds how long a dead holder keeps the lock.
func New(client *clientv3.Client, ttl int) *Locker {
	if ttl <= 0 {
		ttl = 15
	}
	return &Locker{client: client, ttl: ttl}
}

// Close is a no-op: the underlying client is owned by the caller.
func (l *Locker) Close() error {
	return nil
}

// Acquire blocks until the named mutex is granted or ctx is done.
func (l *Locker) Acquire(ctx context.Context, name string) (lock.Handle, error) {
	sess, err := concurrency.NewSession(l.client, concurrency.WithTTL(l.ttl))
	if err != nil {
		return nil, fmt.Errorf("failed to create concurrency session: %w", err)
	}

	mutex := concurrency.NewMutex(sess, lockPrefix+name)
	if err := mutex.Lock(ctx); err != nil {
		sess.Close()
		return nil, fmt.Errorf("failed to acquire lock %q: %w", name, err)
	}

	return &handle{sess: sess, mutex: mutex}, nil
}

type handle struct {
	sess  *concurrency.Session
	mutex *concurrency.Mutex
}

// Done fires when the session lease expires, i.e. the grant was lost
// without an explicit Release.
func (h *handle) Done() <-chan struct{} {
	return h.sess.Done()
}

func (h *handle) Release(ctx context.Context) error {
	err := h.mutex.Unlock(ctx)
	h.sess.Close()
	if err != nil {
		return fmt.Errorf("failed to release lock: %w", err)
	}
	return nil
}
