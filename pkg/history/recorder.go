package history

import (
	"context"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"cuewise/pkg/intent"
	"cuewise/pkg/logger"
)

// Leadership is the recorder's view of the election service.
type Leadership interface {
	IsLeader() bool
}

// Recorder journals playback sessions from observed intent transitions.
// Only the leader writes, so the journal gets exactly one row per
// stretch of playback. Errors are logged, never propagated: history is
// observability, not coordination state.
type Recorder struct {
	store      Store
	intents    *intent.Store
	leadership Leadership
	instanceID string
	log        *zap.Logger

	openID  uuid.UUID
	hasOpen bool
}

// NewRecorder creates a session recorder.
func NewRecorder(store Store, intents *intent.Store, leadership Leadership, instanceID string) *Recorder {
	return &Recorder{
		store:      store,
		intents:    intents,
		leadership: leadership,
		instanceID: instanceID,
		log:        logger.Named("history").With(zap.String("instance", instanceID)),
	}
}

// Run consumes its own intent watch until ctx is done. The kv layer
// fans changes out to every subscriber, so this does not steal events
// from the synchronizer.
func (r *Recorder) Run(ctx context.Context) error {
	changes, err := r.intents.Watch(ctx)
	if err != nil {
		return err
	}
	for {
		select {
		case <-ctx.Done():
			r.closeOpen(context.Background())
			return nil
		case change, ok := <-changes:
			if !ok {
				return nil
			}
			r.handleChange(ctx, change.Old, change.New)
		}
	}
}

func (r *Recorder) handleChange(ctx context.Context, old, next intent.Intent) {
	if !r.leadership.IsLeader() {
		// A follower that recorded while leading closes its row.
		r.closeOpen(ctx)
		return
	}

	wasPlaying := old.Transport == intent.TransportPlaying
	isPlaying := next.Transport == intent.TransportPlaying
	sameTrack := old.ActiveSource == next.ActiveSource &&
		old.Selection(old.ActiveSource) == next.Selection(next.ActiveSource)

	switch {
	case isPlaying && (!wasPlaying || !sameTrack):
		r.closeOpen(ctx)
		r.open(ctx, next)
	case wasPlaying && !isPlaying:
		r.closeOpen(ctx)
	}
}

func (r *Recorder) open(ctx context.Context, in intent.Intent) {
	session := &Session{
		Source:     string(in.ActiveSource),
		Selection:  in.Selection(in.ActiveSource),
		InstanceID: r.instanceID,
		StartedAt:  time.Now().UTC(),
	}
	if err := r.store.Open(ctx, session); err != nil {
		r.log.Warn("failed to open history session", zap.Error(err))
		return
	}
	r.openID = session.ID
	r.hasOpen = true
}

func (r *Recorder) closeOpen(ctx context.Context) {
	if !r.hasOpen {
		return
	}
	if err := r.store.CloseSession(ctx, r.openID, time.Now().UTC()); err != nil {
		r.log.Warn("failed to close history session", zap.Error(err))
	}
	r.hasOpen = false
}
