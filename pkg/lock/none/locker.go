// Package none is the lock driver for deployments without a lock
// service. Every Acquire reports the service unavailable, which the
// election layer treats as permission to assume leadership. Only safe
// when a single instance runs.
package none

import (
	"context"

	"cuewise/pkg/lock"
)

type Locker struct{}

// New creates the no-service locker.
func New() *Locker { return &Locker{} }

func (l *Locker) Acquire(context.Context, string) (lock.Handle, error) {
	return nil, lock.ErrUnavailable
}

func (l *Locker) Close() error { return nil }

var _ lock.Locker = (*Locker)(nil)
