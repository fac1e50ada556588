package intent

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"cuewise/pkg/kv"
	"cuewise/pkg/logger"
	"cuewise/pkg/metrics"
)

var (
	// ErrSourceInactive is returned when a selection is set on a source
	// that is not currently active. Use Select to switch and choose in
	// one write.
	ErrSourceInactive = errors.New("source is not active")

	// ErrInvalidSource is returned for unknown source values.
	ErrInvalidSource = errors.New("invalid source")

	// ErrInvalidTransport is returned for unknown transport values.
	ErrInvalidTransport = errors.New("invalid transport state")
)

// Change pairs the previously known intent with the newly observed one.
type Change struct {
	Old Intent
	New Intent
}

// Store persists the replicated intent at a fixed key in the shared
// store. Any instance may mutate; every mutation is written immediately
// and observed by all instances through Watch. Concurrent writers race
// on last-write-wins, which is accepted: user-initiated mutations come
// from one focused instance at a time.
type Store struct {
	store      kv.Store
	key        string
	instanceID string
	log        *zap.Logger
}

// NewStore creates an intent store under the given namespace.
func NewStore(store kv.Store, namespace, instanceID string) *Store {
	return &Store{
		store:      store,
		key:        namespace + "/intent",
		instanceID: instanceID,
		log:        logger.Named("intent").With(zap.String("instance", instanceID)),
	}
}

// Current reads the stored intent, returning defaults on first run.
func (s *Store) Current(ctx context.Context) (Intent, error) {
	raw, err := s.store.Get(ctx, s.key)
	if err != nil {
		if errors.Is(err, kv.ErrNotFound) {
			return Default(), nil
		}
		return Intent{}, fmt.Errorf("failed to read intent: %w", err)
	}
	return decode(raw)
}

// SetActiveSource switches the active source, clearing the displaced
// source's selection so a selection never outlives its source being
// active. Stopping the displaced backend is the synchronizer's job on
// observing the change.
func (s *Store) SetActiveSource(ctx context.Context, source Source) error {
	if !source.Valid() {
		return ErrInvalidSource
	}
	return s.mutate(ctx, "set_active_source", func(in *Intent) error {
		if in.ActiveSource == source {
			return nil
		}
		switch in.ActiveSource {
		case SourceAmbient:
			in.AmbientSelection = ""
		case SourceExternal:
			in.ExternalSelection = ""
		}
		in.ActiveSource = source
		if source == SourceNone {
			in.Transport = TransportStopped
		}
		return nil
	})
}

// SetTransport sets the desired transport state.
func (s *Store) SetTransport(ctx context.Context, state Transport) error {
	if !state.Valid() {
		return ErrInvalidTransport
	}
	return s.mutate(ctx, "set_transport", func(in *Intent) error {
		in.Transport = state
		return nil
	})
}

// SetVolume sets the per-source volume, clamped to [0,100]. Volumes are
// persisted independently of which source is active.
func (s *Store) SetVolume(ctx context.Context, source Source, value int) error {
	if source != SourceAmbient && source != SourceExternal {
		return ErrInvalidSource
	}
	value = clampVolume(value)
	return s.mutate(ctx, "set_volume", func(in *Intent) error {
		switch source {
		case SourceAmbient:
			in.AmbientVolume = value
		case SourceExternal:
			in.ExternalVolume = value
		}
		return nil
	})
}

// SetSelection sets the selection for the currently active source.
// Selecting on an inactive source is rejected; use Select to switch and
// choose in one write.
func (s *Store) SetSelection(ctx context.Context, source Source, id string) error {
	if source != SourceAmbient && source != SourceExternal {
		return ErrInvalidSource
	}
	return s.mutate(ctx, "set_selection", func(in *Intent) error {
		if in.ActiveSource != source {
			return ErrSourceInactive
		}
		switch source {
		case SourceAmbient:
			in.AmbientSelection = id
		case SourceExternal:
			in.ExternalSelection = id
		}
		return nil
	})
}

// Select activates a source and sets its selection in a single write,
// costing one notification round-trip instead of two.
func (s *Store) Select(ctx context.Context, source Source, id string) error {
	if source != SourceAmbient && source != SourceExternal {
		return ErrInvalidSource
	}
	return s.mutate(ctx, "select", func(in *Intent) error {
		if in.ActiveSource != source {
			switch in.ActiveSource {
			case SourceAmbient:
				in.AmbientSelection = ""
			case SourceExternal:
				in.ExternalSelection = ""
			}
			in.ActiveSource = source
		}
		switch source {
		case SourceAmbient:
			in.AmbientSelection = id
		case SourceExternal:
			in.ExternalSelection = id
		}
		return nil
	})
}

// Watch streams decoded intent changes. Events whose payload fails to
// decode are dropped with a log line rather than killing the stream.
func (s *Store) Watch(ctx context.Context) (<-chan Change, error) {
	events, err := s.store.Watch(ctx, s.key)
	if err != nil {
		return nil, fmt.Errorf("failed to watch intent: %w", err)
	}

	changes := make(chan Change, 16)
	go func() {
		defer close(changes)
		for ev := range events {
			metrics.IntentWatchEvents.Inc()
			change := Change{Old: Default()}
			if ev.Prev != nil {
				old, err := decode(ev.Prev)
				if err != nil {
					s.log.Warn("dropping change with undecodable previous intent", zap.Error(err))
				} else {
					change.Old = old
				}
			}
			next, err := decode(ev.Value)
			if err != nil {
				s.log.Warn("dropping undecodable intent change", zap.Error(err))
				continue
			}
			change.New = next
			select {
			case changes <- change:
			case <-ctx.Done():
				return
			}
		}
	}()

	return changes, nil
}

// mutate is the single read-modify-write path: read current (or
// defaults), apply fn, stamp, persist.
func (s *Store) mutate(ctx context.Context, operation string, fn func(*Intent) error) error {
	current, err := s.Current(ctx)
	if err != nil {
		return err
	}
	if err := fn(&current); err != nil {
		return err
	}
	current.UpdatedAt = time.Now().UTC()
	current.UpdatedBy = s.instanceID

	raw, err := json.Marshal(current)
	if err != nil {
		return fmt.Errorf("failed to marshal intent: %w", err)
	}
	if err := s.store.Put(ctx, s.key, raw); err != nil {
		return fmt.Errorf("failed to persist intent: %w", err)
	}

	metrics.IntentWrites.WithLabelValues(operation).Inc()
	s.log.Debug("intent persisted",
		zap.String("operation", operation),
		zap.String("source", string(current.ActiveSource)),
		zap.String("transport", string(current.Transport)))
	return nil
}

func decode(raw []byte) (Intent, error) {
	in := Default()
	if err := json.Unmarshal(raw, &in); err != nil {
		return Intent{}, fmt.Errorf("failed to decode intent: %w", err)
	}
	return in, nil
}
