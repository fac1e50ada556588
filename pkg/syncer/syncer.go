package syncer

import (
	"context"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"cuewise/pkg/intent"
	"cuewise/pkg/logger"
	"cuewise/pkg/media"
	"cuewise/pkg/metrics"
	"cuewise/pkg/resume"
)

// State is the synchronizer's reconciliation state.
type State int

const (
	// Idle: not leader, or leader with nothing in flight after an error.
	Idle State = iota
	// Reconciling: driving backends toward the stored intent.
	Reconciling
	// Converged: backend reality matches the stored intent.
	Converged
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case Reconciling:
		return "reconciling"
	case Converged:
		return "converged"
	default:
		return "unknown"
	}
}

// Leadership is the synchronizer's view of the election service.
type Leadership interface {
	IsLeader() bool
}

// DefaultStartTimeout bounds a single backend start so a hung renderer
// surfaces as an error instead of wedging reconciliation.
const DefaultStartTimeout = 10 * time.Second

// Syncer makes backend reality match the replicated intent. It runs a
// single goroutine: leadership signals, intent change notifications and
// backend events are applied strictly sequentially, with notification
// bursts coalesced to the newest intent. Followers never touch a
// backend; leadership is re-checked after every asynchronous boundary
// before any backend call or shared-state write.
type Syncer struct {
	leadership Leadership
	intents    *intent.Store
	tracker    *resume.Tracker
	backends   *media.Selector

	log          *zap.Logger
	tracer       trace.Tracer
	startTimeout time.Duration

	leaderCh chan bool

	mu      sync.Mutex
	state   State
	last    intent.Intent
	lastErr error
}

// Option configures the Syncer.
type Option func(*Syncer)

// WithStartTimeout overrides the backend start timeout.
func WithStartTimeout(d time.Duration) Option {
	return func(s *Syncer) {
		if d > 0 {
			s.startTimeout = d
		}
	}
}

// WithLogger overrides the default component logger.
func WithLogger(log *zap.Logger) Option {
	return func(s *Syncer) { s.log = log }
}

// New creates a synchronizer.
func New(leadership Leadership, intents *intent.Store, tracker *resume.Tracker, backends *media.Selector, opts ...Option) *Syncer {
	s := &Syncer{
		leadership:   leadership,
		intents:      intents,
		tracker:      tracker,
		backends:     backends,
		tracer:       otel.Tracer("cuewise/syncer"),
		startTimeout: DefaultStartTimeout,
		leaderCh:     make(chan bool, 8),
		state:        Idle,
		last:         intent.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.log == nil {
		s.log = logger.Named("syncer")
	}
	return s
}

// HandleLeadershipAcquired queues a full reconciliation. Wire it as the
// election OnAcquired callback.
func (s *Syncer) HandleLeadershipAcquired() {
	s.leaderCh <- true
}

// HandleLeadershipLost queues an immediate backend teardown. Wire it as
// the election OnLost callback.
func (s *Syncer) HandleLeadershipLost() {
	s.leaderCh <- false
}

// State returns the current reconciliation state.
func (s *Syncer) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// LastError returns the most recent backend failure, if any.
func (s *Syncer) LastError() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastErr
}

// LastIntent returns the most recently observed intent (leader or not).
func (s *Syncer) LastIntent() intent.Intent {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.last
}

// Run drives the reconciliation loop until ctx is done. It owns every
// backend call made by this instance.
func (s *Syncer) Run(ctx context.Context) error {
	changes, err := s.intents.Watch(ctx)
	if err != nil {
		return err
	}

	backendEvents := s.mergeBackendEvents(ctx)

	for {
		select {
		case <-ctx.Done():
			if s.leadership.IsLeader() {
				s.teardown()
			}
			return nil

		case leads := <-s.leaderCh:
			if leads {
				s.reconcileFull(ctx)
			} else {
				s.teardown()
			}

		case change, ok := <-changes:
			if !ok {
				changes = nil
				continue
			}
			// Coalesce a burst of notifications to the newest intent;
			// intermediate states are superseded before we act on them.
			change = s.drainChanges(changes, change)
			s.handleChange(ctx, change.Old, change.New)

		case ev := <-backendEvents:
			s.handleBackendEvent(ctx, ev)
		}
	}
}

func (s *Syncer) drainChanges(changes <-chan intent.Change, first intent.Change) intent.Change {
	merged := first
	for {
		select {
		case next, ok := <-changes:
			if !ok {
				return merged
			}
			merged.New = next.New
		default:
			return merged
		}
	}
}

func (s *Syncer) mergeBackendEvents(ctx context.Context) <-chan media.Event {
	out := make(chan media.Event, 32)
	for _, b := range s.backends.Backends() {
		go func(events <-chan media.Event) {
			for {
				select {
				case <-ctx.Done():
					return
				case ev, ok := <-events:
					if !ok {
						return
					}
					select {
					case out <- ev:
					case <-ctx.Done():
						return
					}
				}
			}
		}(b.Events())
	}
	return out
}

// reconcileFull runs on leadership acquisition: read the stored intent
// and drive backends toward it from a cold start.
func (s *Syncer) reconcileFull(ctx context.Context) {
	current, err := s.intents.Current(ctx)
	if err != nil {
		s.log.Error("failed to read intent for full reconcile", zap.Error(err))
		s.setState(Idle)
		return
	}
	s.setLast(current)
	s.reconcile(ctx, intent.Default(), current)
}

// handleChange applies an observed intent change. Followers only mirror
// the new intent; they never drive a backend.
func (s *Syncer) handleChange(ctx context.Context, old, next intent.Intent) {
	s.setLast(next)
	if !s.leadership.IsLeader() {
		return
	}
	s.reconcile(ctx, old, next)
}

// reconcile diffs the previous intent against the new one and issues
// the minimal backend operations. Stop-before-start ordering across
// sources is load-bearing: two backends must never hold the hardware.
func (s *Syncer) reconcile(ctx context.Context, old, next intent.Intent) {
	started := time.Now()
	outcome := "converged"
	defer func() {
		metrics.RecordReconcile(outcome, time.Since(started).Seconds())
	}()

	ctx, span := s.tracer.Start(ctx, "reconcile", trace.WithAttributes(
		attribute.String("source", string(next.ActiveSource)),
		attribute.String("transport", string(next.Transport)),
	))
	defer span.End()

	if !s.leadership.IsLeader() {
		outcome = "fenced"
		return
	}
	s.setState(Reconciling)

	if next.ActiveSource != old.ActiveSource {
		// Source switch: stop the displaced backend before anything else.
		if old.ActiveSource != intent.SourceNone {
			if err := s.backends.Stop(old.ActiveSource); err != nil {
				s.log.Warn("failed to stop displaced backend", zap.Error(err))
			}
		}
		if next.ActiveSource == intent.SourceNone {
			if err := s.backends.StopAll(); err != nil {
				s.log.Warn("failed to stop backends", zap.Error(err))
			}
			s.setState(Converged)
			return
		}
		if next.Transport == intent.TransportPlaying {
			if !s.start(ctx, next) {
				outcome = "error"
			}
			return
		}
		// New source but not playing yet: nothing to load.
		s.setState(Converged)
		return
	}

	if next.ActiveSource == intent.SourceNone {
		s.setState(Converged)
		return
	}

	backend, ok := s.backends.Backend(next.ActiveSource)
	if !ok {
		s.log.Error("no backend for active source", zap.String("source", string(next.ActiveSource)))
		s.setState(Idle)
		outcome = "error"
		return
	}

	switch {
	case next.Selection(next.ActiveSource) != old.Selection(old.ActiveSource):
		if next.Transport == intent.TransportPlaying {
			if !s.start(ctx, next) {
				outcome = "error"
			}
			return
		}
		// Selection changed while not playing: unload the stale item.
		if backend.Active() {
			if err := backend.Stop(); err != nil {
				s.log.Warn("failed to stop backend", zap.Error(err))
			}
		}
		s.setState(Converged)

	case next.Transport != old.Transport:
		s.applyTransport(ctx, backend, next, &outcome)

	case next.Volume(next.ActiveSource) != old.Volume(old.ActiveSource):
		if backend.Active() {
			if err := backend.SetVolume(next.Volume(next.ActiveSource)); err != nil {
				s.log.Warn("failed to set volume", zap.Error(err))
			}
		}
		s.setState(Converged)

	default:
		s.setState(Converged)
	}
}

func (s *Syncer) applyTransport(ctx context.Context, backend media.Backend, next intent.Intent, outcome *string) {
	switch next.Transport {
	case intent.TransportPaused:
		if backend.Active() {
			if err := backend.Pause(); err != nil {
				s.log.Warn("failed to pause backend", zap.Error(err))
			}
		}
		s.flushResume(ctx, next)
		s.setState(Converged)

	case intent.TransportPlaying:
		if backend.Active() {
			if err := backend.Resume(); err != nil {
				s.log.Warn("failed to resume backend", zap.Error(err))
			}
			s.setState(Converged)
			return
		}
		// Backend not loaded, e.g. leadership acquired while paused.
		if !s.start(ctx, next) {
			*outcome = "error"
		}

	case intent.TransportStopped:
		s.flushResume(ctx, next)
		if err := s.backends.Stop(next.ActiveSource); err != nil {
			s.log.Warn("failed to stop backend", zap.Error(err))
		}
		s.setState(Converged)
	}
}

// start computes the resume point and issues a backend start. Returns
// false on failure (the intent has been reset by then). The state stays
// Reconciling until the backend's Ready event arrives.
func (s *Syncer) start(ctx context.Context, next intent.Intent) bool {
	selection := next.Selection(next.ActiveSource)
	if selection == "" {
		s.log.Warn("intent says playing but no selection is set",
			zap.String("source", string(next.ActiveSource)))
		s.setState(Converged)
		return true
	}

	var resumeAt time.Duration
	if next.ActiveSource == intent.SourceExternal {
		point, found, err := s.tracker.ResumePoint(ctx, selection)
		if err != nil {
			s.log.Warn("failed to read resume point, starting from zero", zap.Error(err))
		} else if found {
			resumeAt = point.Position
		}
	}

	// Leadership fence: the resume lookup was an asynchronous boundary.
	if !s.leadership.IsLeader() {
		return true
	}

	startCtx, cancel := context.WithTimeout(ctx, s.startTimeout)
	err := s.backends.Start(startCtx, next.ActiveSource, selection, next.Volume(next.ActiveSource), resumeAt)
	cancel()

	// Fence again: if leadership lapsed mid-start, the result is
	// irrelevant. Tear down whatever the start may have claimed.
	if !s.leadership.IsLeader() {
		if err == nil {
			if stopErr := s.backends.StopAll(); stopErr != nil {
				s.log.Warn("failed to stop backends after fenced start", zap.Error(stopErr))
			}
		}
		return true
	}

	if err != nil {
		s.failBackend(ctx, next.ActiveSource, err)
		return false
	}

	s.log.Info("backend start issued",
		zap.String("source", string(next.ActiveSource)),
		zap.String("selection", selection),
		zap.Duration("resume_at", resumeAt))
	return true
}

func (s *Syncer) handleBackendEvent(ctx context.Context, ev media.Event) {
	switch ev.Kind {
	case media.EventReady:
		s.mu.Lock()
		if s.state == Reconciling {
			s.state = Converged
			s.lastErr = nil
		}
		s.mu.Unlock()
		s.log.Info("backend ready",
			zap.String("source", string(ev.Source)),
			zap.String("item", ev.ItemID))

	case media.EventProgress:
		s.recordProgress(ctx, ev)

	case media.EventError:
		s.failBackend(ctx, ev.Source, ev.Err)
	}
}

// recordProgress feeds the resume tracker. Only the leader records, and
// only for external playback that the intent still says is playing.
func (s *Syncer) recordProgress(ctx context.Context, ev media.Event) {
	if !s.leadership.IsLeader() || ev.Source != intent.SourceExternal {
		return
	}
	s.mu.Lock()
	playing := s.last.Transport == intent.TransportPlaying &&
		s.last.ActiveSource == intent.SourceExternal
	s.mu.Unlock()
	if !playing {
		return
	}
	if err := s.tracker.RecordProgress(ctx, ev.ItemID, ev.SubItemID, ev.Position); err != nil {
		s.log.Warn("failed to record progress", zap.Error(err))
	}
}

// failBackend handles a backend failure: the intent must never keep
// claiming Playing while no backend holds the hardware.
func (s *Syncer) failBackend(ctx context.Context, source intent.Source, err error) {
	metrics.BackendErrors.WithLabelValues(string(source)).Inc()
	s.log.Error("backend failure",
		zap.String("source", string(source)),
		zap.Error(err))

	s.mu.Lock()
	s.lastErr = err
	s.state = Idle
	s.mu.Unlock()

	if !s.leadership.IsLeader() {
		return
	}
	if werr := s.intents.SetTransport(ctx, intent.TransportStopped); werr != nil {
		s.log.Error("failed to reset transport after backend failure", zap.Error(werr))
	}
}

// flushResume forces the pending resume position out before playback
// pauses or stops, so the next start does not lose the tail.
func (s *Syncer) flushResume(ctx context.Context, in intent.Intent) {
	if in.ActiveSource != intent.SourceExternal || in.ExternalSelection == "" {
		return
	}
	if err := s.tracker.Flush(ctx, in.ExternalSelection); err != nil {
		s.log.Warn("failed to flush resume point", zap.Error(err))
	}
}

// teardown releases every backend. Runs on leadership loss and on
// shutdown; the next leader starts its own backends.
func (s *Syncer) teardown() {
	if err := s.backends.StopAll(); err != nil {
		s.log.Warn("failed to stop backends on teardown", zap.Error(err))
	}
	s.setState(Idle)
}

func (s *Syncer) setState(state State) {
	s.mu.Lock()
	s.state = state
	s.mu.Unlock()
}

func (s *Syncer) setLast(in intent.Intent) {
	s.mu.Lock()
	s.last = in
	s.mu.Unlock()
}
