package etcd

import (
	"context"
	"fmt"
	"time"

	clientv3 "go.etcd.io/etcd/client/v3"

	"cuewise/pkg/kv"
)

// Store is the etcd-backed shared store. Watch rides on etcd's native
// watch stream, so change fan-out and reconnection are handled by the
// client library.
type Store struct {
	client *clientv3.Client
}

// Config holds etcd connection configuration.
type Config struct {
	Endpoints   []string
	DialTimeout time.Duration
}

// DefaultConfig returns connection defaults for a local etcd.
func DefaultConfig(endpoints []string) Config {
	return Config{
		Endpoints:   endpoints,
		DialTimeout: 5 * time.Second,
	}
}

// New connects to etcd and verifies the connection.
func New(cfg Config) (*Store, error) {
	cli, err := clientv3.New(clientv3.Config{
		Endpoints:   cfg.Endpoints,
		DialTimeout: cfg.DialTimeout,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to etcd: %w", err)
	}
	return &Store{client: cli}, nil
}

// Client exposes the underlying etcd client so the lock driver can share
// one connection.
func (s *Store) Client() *clientv3.Client {
	return s.client
}

func (s *Store) Close() error {
	return s.client.Close()
}

func (s *Store) Get(ctx context.Context, key string) ([]byte, error) {
	resp, err := s.client.Get(ctx, key)
	if err != nil {
		return nil, fmt.Errorf("failed to get %q: %w", key, err)
	}
	if len(resp.Kvs) == 0 {
		return nil, kv.ErrNotFound
	}
	return resp.Kvs[0].Value, nil
}

func (s *Store) Put(ctx context.Context, key string, value []byte) error {
	if _, err := s.client.Put(ctx, key, string(value)); err != nil {
		return fmt.Errorf("failed to put %q: %w", key, err)
	}
	return nil
}

func (s *Store) PutTTL(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	seconds := int64(ttl / time.Second)
	if seconds < 1 {
		seconds = 1
	}
	lease, err := s.client.Grant(ctx, seconds)
	if err != nil {
		return fmt.Errorf("failed to grant lease: %w", err)
	}
	if _, err := s.client.Put(ctx, key, string(value), clientv3.WithLease(lease.ID)); err != nil {
		return fmt.Errorf("failed to put %q with lease: %w", key, err)
	}
	return nil
}

func (s *Store) List(ctx context.Context, prefix string) (map[string][]byte, error) {
	resp, err := s.client.Get(ctx, prefix, clientv3.WithPrefix())
	if err != nil {
		return nil, fmt.Errorf("failed to list prefix %q: %w", prefix, err)
	}
	out := make(map[string][]byte, len(resp.Kvs))
	for _, item := range resp.Kvs {
		out[string(item.Key)] = item.Value
	}
	return out, nil
}

// Watch streams changes to key. The returned channel is closed when ctx
// is cancelled or the underlying watch stream ends.
func (s *Store) Watch(ctx context.Context, key string) (<-chan kv.Event, error) {
	events := make(chan kv.Event, 16)
	wch := s.client.Watch(ctx, key, clientv3.WithPrevKV())

	go func() {
		defer close(events)
		for resp := range wch {
			if resp.Err() != nil {
				return
			}
			for _, ev := range resp.Events {
				out := kv.Event{Key: string(ev.Kv.Key), Value: ev.Kv.Value}
				if ev.PrevKv != nil {
					out.Prev = ev.PrevKv.Value
				}
				select {
				case events <- out:
				case <-ctx.Done():
					return
				}
			}
		}
	}()

	return events, nil
}
