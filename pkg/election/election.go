package election

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"cuewise/pkg/lock"
	"cuewise/pkg/logger"
	"cuewise/pkg/metrics"
)

// Service contends indefinitely for a single named lock. Exactly one
// instance process-wide holds the lock at a time; that instance is the
// leader and the only one allowed to drive the media hardware. A dead
// leader's grant lapses on its own, so failover needs no handoff
// message: the next waiting contender is simply granted the lock.
type Service struct {
	locker     lock.Locker
	lockName   string
	instanceID string
	log        *zap.Logger

	onAcquired func()
	onLost     func()

	leader   atomic.Bool
	degraded atomic.Bool

	stopCh   chan struct{}
	stopOnce sync.Once
	done     chan struct{}

	retryInterval time.Duration
}

// Option configures the Service.
type Option func(*Service)

// WithOnAcquired registers the leadership-acquired callback. It runs on
// the contention goroutine; keep it fast (signal, don't reconcile).
func WithOnAcquired(fn func()) Option {
	return func(s *Service) { s.onAcquired = fn }
}

// WithOnLost registers the leadership-lost callback.
func WithOnLost(fn func()) Option {
	return func(s *Service) { s.onLost = fn }
}

// WithInstanceID tags log output with the local instance identity.
func WithInstanceID(id string) Option {
	return func(s *Service) { s.instanceID = id }
}

// WithLogger overrides the default component logger.
func WithLogger(log *zap.Logger) Option {
	return func(s *Service) { s.log = log }
}

// New creates an election service for the given lock name.
func New(locker lock.Locker, lockName string, opts ...Option) *Service {
	s := &Service{
		locker:        locker,
		lockName:      lockName,
		stopCh:        make(chan struct{}),
		done:          make(chan struct{}),
		retryInterval: time.Second,
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.log == nil {
		s.log = logger.Named("election")
	}
	if s.instanceID != "" {
		s.log = s.log.With(zap.String("instance", s.instanceID))
	}
	return s
}

// IsLeader reports whether this instance currently holds leadership.
// Re-check it after every asynchronous boundary before mutating shared
// state; a stale leader must not act after losing the lock.
func (s *Service) IsLeader() bool {
	return s.leader.Load()
}

// Degraded reports whether leadership was assumed without a lock service.
func (s *Service) Degraded() bool {
	return s.degraded.Load()
}

// Start begins contention in the background. It returns immediately;
// acquisition may never resolve while another instance is alive, which
// is the expected steady state for followers.
func (s *Service) Start(ctx context.Context) {
	go s.run(ctx)
}

// Stop leaves contention and releases any held lock. Safe to call more
// than once. Blocks until the contention loop has exited.
func (s *Service) Stop() {
	s.stopOnce.Do(func() { close(s.stopCh) })
	<-s.done
}

func (s *Service) run(ctx context.Context) {
	defer close(s.done)

	for {
		s.log.Debug("contending for leadership", zap.String("lock", s.lockName))

		acquireCtx, cancel := context.WithCancel(ctx)
		go func() {
			select {
			case <-s.stopCh:
				cancel()
			case <-acquireCtx.Done():
			}
		}()

		handle, err := s.locker.Acquire(acquireCtx, s.lockName)
		cancel()

		switch {
		case errors.Is(err, lock.ErrUnavailable):
			// Assume-leader fallback: without a lock service the only
			// instance that can exist is this one. Loud, not silent.
			s.log.Warn("lock service unavailable, assuming leadership in degraded mode",
				zap.String("lock", s.lockName))
			s.degraded.Store(true)
			metrics.ElectionDegraded.Set(1)
			s.becomeLeader()
			select {
			case <-ctx.Done():
			case <-s.stopCh:
			}
			s.loseLeadership()
			return
		case err != nil:
			if ctx.Err() != nil || s.stopped() {
				return
			}
			s.log.Error("lock acquisition failed, retrying", zap.Error(err))
			select {
			case <-time.After(s.retryInterval):
				continue
			case <-ctx.Done():
				return
			case <-s.stopCh:
				return
			}
		}

		s.becomeLeader()

		// Hold the lock until it is force-lost, we are stopped, or the
		// context ends.
		select {
		case <-handle.Done():
			s.log.Warn("leadership force-released by lock service")
		case <-ctx.Done():
		case <-s.stopCh:
		}

		s.loseLeadership()
		s.release(handle)

		if ctx.Err() != nil || s.stopped() {
			return
		}
		// Re-enter contention immediately so a terminated leader's slot
		// is promptly picked up.
	}
}

func (s *Service) becomeLeader() {
	s.leader.Store(true)
	metrics.RecordLeadership(true)
	s.log.Info("leadership acquired", zap.String("lock", s.lockName))
	if s.onAcquired != nil {
		s.onAcquired()
	}
}

func (s *Service) loseLeadership() {
	if !s.leader.Swap(false) {
		return
	}
	metrics.RecordLeadership(false)
	s.log.Info("leadership lost", zap.String("lock", s.lockName))
	if s.onLost != nil {
		s.onLost()
	}
}

func (s *Service) release(handle lock.Handle) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := handle.Release(ctx); err != nil {
		s.log.Warn("failed to release lock", zap.Error(err))
	}
}

func (s *Service) stopped() bool {
	select {
	case <-s.stopCh:
		return true
	default:
		return false
	}
}
