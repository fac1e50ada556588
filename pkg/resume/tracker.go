package resume

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"cuewise/pkg/kv"
	"cuewise/pkg/logger"
	"cuewise/pkg/metrics"
)

// DefaultWriteInterval bounds how often one item's position is persisted.
const DefaultWriteInterval = 5 * time.Second

// Point is the remembered position within a playable item.
type Point struct {
	SubItemID string        `json:"sub_item_id"`
	Position  time.Duration `json:"position"`
	UpdatedAt time.Time     `json:"updated_at"`
}

// Tracker remembers, per playable item, the last played offset so
// playback resumes instead of restarting. Writes are throttled per item
// to bound storage write volume; the tracker is best-effort memory, not
// a ledger, so cross-instance last-writer races are accepted (worst
// case playback resumes a few seconds off).
type Tracker struct {
	store    kv.Store
	prefix   string
	interval time.Duration
	log      *zap.Logger

	mu        sync.Mutex
	lastWrite map[string]time.Time
	pending   map[string]Point
}

// NewTracker creates a tracker under <namespace>/resume/.
func NewTracker(store kv.Store, namespace string, writeInterval time.Duration) *Tracker {
	if writeInterval <= 0 {
		writeInterval = DefaultWriteInterval
	}
	return &Tracker{
		store:     store,
		prefix:    namespace + "/resume/",
		interval:  writeInterval,
		log:       logger.Named("resume"),
		lastWrite: make(map[string]time.Time),
		pending:   make(map[string]Point),
	}
}

// RecordProgress notes the current position for an item. At most one
// write per item per write interval reaches the store; intermediate
// positions are kept in memory and flushed by the next eligible call or
// an explicit Flush.
func (t *Tracker) RecordProgress(ctx context.Context, itemID, subItemID string, position time.Duration) error {
	point := Point{SubItemID: subItemID, Position: position, UpdatedAt: time.Now().UTC()}

	t.mu.Lock()
	t.pending[itemID] = point
	last, ok := t.lastWrite[itemID]
	if ok && time.Since(last) < t.interval {
		t.mu.Unlock()
		return nil
	}
	t.lastWrite[itemID] = time.Now()
	t.mu.Unlock()

	return t.write(ctx, itemID, point)
}

// Flush persists the most recent pending position for an item
// immediately, bypassing the throttle. Used on teardown paths so the
// last few seconds of playback are not lost.
func (t *Tracker) Flush(ctx context.Context, itemID string) error {
	t.mu.Lock()
	point, ok := t.pending[itemID]
	if ok {
		t.lastWrite[itemID] = time.Now()
	}
	t.mu.Unlock()
	if !ok {
		return nil
	}
	return t.write(ctx, itemID, point)
}

// ResumePoint returns the stored point for an item. The second return
// is false when nothing was recorded: start from the beginning.
func (t *Tracker) ResumePoint(ctx context.Context, itemID string) (Point, bool, error) {
	raw, err := t.store.Get(ctx, t.prefix+itemID)
	if err != nil {
		if errors.Is(err, kv.ErrNotFound) {
			return Point{}, false, nil
		}
		return Point{}, false, fmt.Errorf("failed to read resume point: %w", err)
	}
	var point Point
	if err := json.Unmarshal(raw, &point); err != nil {
		return Point{}, false, fmt.Errorf("failed to decode resume point: %w", err)
	}
	return point, true, nil
}

func (t *Tracker) write(ctx context.Context, itemID string, point Point) error {
	raw, err := json.Marshal(point)
	if err != nil {
		return fmt.Errorf("failed to marshal resume point: %w", err)
	}
	if err := t.store.Put(ctx, t.prefix+itemID, raw); err != nil {
		return fmt.Errorf("failed to persist resume point: %w", err)
	}
	metrics.ResumeWrites.Inc()
	t.log.Debug("resume point persisted",
		zap.String("item", itemID),
		zap.String("sub_item", point.SubItemID),
		zap.Duration("position", point.Position))
	return nil
}
