package memory

import (
	"context"
	"strings"
	"sync"
	"time"

	"cuewise/pkg/kv"
)

// Store is an in-process implementation of kv.Store. It backs standalone
// (single instance) deployments and the simulated multi-instance tests,
// where several agents share one Store the way tabs share durable storage.
type Store struct {
	mu     sync.RWMutex
	data   map[string][]byte
	subs   map[string][]chan kv.Event
	timers map[string]*time.Timer
	closed bool
}

// New creates an empty in-memory store.
func New() *Store {
	return &Store{
		data:   make(map[string][]byte),
		subs:   make(map[string][]chan kv.Event),
		timers: make(map[string]*time.Timer),
	}
}

func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	for _, t := range s.timers {
		t.Stop()
	}
	for _, chans := range s.subs {
		for _, ch := range chans {
			close(ch)
		}
	}
	s.subs = make(map[string][]chan kv.Event)
	return nil
}

func (s *Store) Get(_ context.Context, key string) ([]byte, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	val, ok := s.data[key]
	if !ok {
		return nil, kv.ErrNotFound
	}
	out := make([]byte, len(val))
	copy(out, val)
	return out, nil
}

func (s *Store) Put(_ context.Context, key string, value []byte) error {
	return s.write(key, value, 0)
}

func (s *Store) PutTTL(_ context.Context, key string, value []byte, ttl time.Duration) error {
	return s.write(key, value, ttl)
}

func (s *Store) write(key string, value []byte, ttl time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return kv.ErrClosed
	}

	prev := s.data[key]
	stored := make([]byte, len(value))
	copy(stored, value)
	s.data[key] = stored

	if t, ok := s.timers[key]; ok {
		t.Stop()
		delete(s.timers, key)
	}
	if ttl > 0 {
		s.timers[key] = time.AfterFunc(ttl, func() { s.expire(key) })
	}

	s.notify(kv.Event{Key: key, Prev: prev, Value: stored})
	return nil
}

func (s *Store) expire(key string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	prev, ok := s.data[key]
	if !ok {
		return
	}
	delete(s.data, key)
	delete(s.timers, key)
	s.notify(kv.Event{Key: key, Prev: prev, Value: nil})
}

// notify fans the event out to subscribers. Channels are buffered; a
// subscriber that stops draining loses events rather than blocking
// writers (acceptable: watchers reconcile from the full value, not from
// event deltas).
func (s *Store) notify(ev kv.Event) {
	for _, ch := range s.subs[ev.Key] {
		select {
		case ch <- ev:
		default:
		}
	}
}

func (s *Store) List(_ context.Context, prefix string) (map[string][]byte, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(map[string][]byte)
	for key, val := range s.data {
		if strings.HasPrefix(key, prefix) {
			cp := make([]byte, len(val))
			copy(cp, val)
			out[key] = cp
		}
	}
	return out, nil
}

func (s *Store) Watch(ctx context.Context, key string) (<-chan kv.Event, error) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil, kv.ErrClosed
	}
	ch := make(chan kv.Event, 64)
	s.subs[key] = append(s.subs[key], ch)
	s.mu.Unlock()

	go func() {
		<-ctx.Done()
		s.unsubscribe(key, ch)
	}()

	return ch, nil
}

func (s *Store) unsubscribe(key string, ch chan kv.Event) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	chans := s.subs[key]
	for i, c := range chans {
		if c == ch {
			s.subs[key] = append(chans[:i], chans[i+1:]...)
			close(c)
			return
		}
	}
}
