package cluster

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/shirou/gopsutil/v3/mem"
	"go.uber.org/zap"

	"cuewise/pkg/kv"
	"cuewise/pkg/logger"
	"cuewise/pkg/metrics"
)

// DefaultTTL is how long an instance's presence entry outlives its last
// heartbeat before peers consider it dead.
const DefaultTTL = 10 * time.Second

// Instance describes one live agent.
type Instance struct {
	ID         string    `json:"id"`
	Hostname   string    `json:"hostname"`
	PID        int       `json:"pid"`
	Version    string    `json:"version"`
	TotalMemMB uint64    `json:"total_mem_mb"`
	StartedAt  time.Time `json:"started_at"`
}

// Registry announces this instance under <ns>/instances/<id> with a TTL
// heartbeat and publishes the leader's ID under <ns>/leader. An entry
// that stops being refreshed expires on its own, so a crashed instance
// disappears from the roster without cleanup.
type Registry struct {
	store    kv.Store
	prefix   string
	leader   string
	self     Instance
	ttl      time.Duration
	isLeader func() bool
	log      *zap.Logger
}

// New creates a presence registry for this instance. isLeader is polled
// on each heartbeat to decide whether to refresh the leader key.
func New(store kv.Store, namespace, instanceID, version string, ttl time.Duration, isLeader func() bool) *Registry {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	hostname, _ := os.Hostname()
	return &Registry{
		store:  store,
		prefix: namespace + "/instances/",
		leader: namespace + "/leader",
		self: Instance{
			ID:         instanceID,
			Hostname:   hostname,
			PID:        os.Getpid(),
			Version:    version,
			TotalMemMB: detectTotalMemory(),
			StartedAt:  time.Now().UTC(),
		},
		ttl:      ttl,
		isLeader: isLeader,
		log:      logger.Named("cluster").With(zap.String("instance", instanceID)),
	}
}

func detectTotalMemory() uint64 {
	v, err := mem.VirtualMemory()
	if err != nil {
		return 0
	}
	return v.Total / 1024 / 1024
}

// Self returns this instance's presence record.
func (r *Registry) Self() Instance {
	return r.self
}

// Run announces immediately, then heartbeats at ttl/2 until ctx is done.
func (r *Registry) Run(ctx context.Context) {
	if err := r.heartbeat(ctx); err != nil {
		r.log.Warn("initial presence announcement failed", zap.Error(err))
	}

	ticker := time.NewTicker(r.ttl / 2)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := r.heartbeat(ctx); err != nil {
				r.log.Warn("presence heartbeat failed", zap.Error(err))
			}
		}
	}
}

func (r *Registry) heartbeat(ctx context.Context) error {
	payload, err := json.Marshal(r.self)
	if err != nil {
		return fmt.Errorf("failed to marshal presence record: %w", err)
	}
	if err := r.store.PutTTL(ctx, r.prefix+r.self.ID, payload, r.ttl); err != nil {
		return fmt.Errorf("failed to announce presence: %w", err)
	}
	metrics.HeartbeatsSent.Inc()

	if r.isLeader != nil && r.isLeader() {
		if err := r.store.PutTTL(ctx, r.leader, []byte(r.self.ID), r.ttl); err != nil {
			return fmt.Errorf("failed to publish leader key: %w", err)
		}
	}
	return nil
}

// Instances lists the currently live agents.
func (r *Registry) Instances(ctx context.Context) ([]Instance, error) {
	entries, err := r.store.List(ctx, r.prefix)
	if err != nil {
		return nil, fmt.Errorf("failed to list instances: %w", err)
	}
	out := make([]Instance, 0, len(entries))
	for key, raw := range entries {
		var inst Instance
		if err := json.Unmarshal(raw, &inst); err != nil {
			r.log.Warn("skipping undecodable presence record", zap.String("key", key))
			continue
		}
		out = append(out, inst)
	}
	metrics.ActiveInstances.Set(float64(len(out)))
	return out, nil
}

// Leader returns the current leader's instance ID, or empty when no
// leader key is published (e.g. during failover).
func (r *Registry) Leader(ctx context.Context) (string, error) {
	raw, err := r.store.Get(ctx, r.leader)
	if err != nil {
		if errors.Is(err, kv.ErrNotFound) {
			return "", nil
		}
		return "", fmt.Errorf("failed to read leader key: %w", err)
	}
	return string(raw), nil
}
