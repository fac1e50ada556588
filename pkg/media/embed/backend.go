package embed

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"cuewise/pkg/intent"
	"cuewise/pkg/logger"
	"cuewise/pkg/media"
	"cuewise/pkg/resilience"
)

const defaultPollInterval = 2 * time.Second

// Backend drives the embedded video renderer over its HTTP command API.
// Renderer calls go through a circuit breaker so a dead renderer fails
// fast instead of stacking up command timeouts. While active, a poll
// loop pulls position reports and republishes them as Progress events.
type Backend struct {
	client       *Client
	breaker      *resilience.CircuitBreaker
	pollInterval time.Duration
	log          *zap.Logger

	mu        sync.Mutex
	active    bool
	selection string
	cancel    context.CancelFunc

	events chan media.Event
}

// Config holds embed backend configuration.
type Config struct {
	RendererURL    string
	CommandTimeout time.Duration
	PollInterval   time.Duration
}

// New creates the embed backend against a renderer endpoint.
func New(cfg Config) *Backend {
	poll := cfg.PollInterval
	if poll <= 0 {
		poll = defaultPollInterval
	}
	return &Backend{
		client:       NewClient(cfg.RendererURL, cfg.CommandTimeout),
		breaker:      resilience.NewCircuitBreaker("embed-renderer", resilience.DefaultCircuitBreakerConfig()),
		pollInterval: poll,
		log:          logger.Named("embed"),
		events:       make(chan media.Event, 16),
	}
}

func (b *Backend) Source() intent.Source { return intent.SourceExternal }

func (b *Backend) Events() <-chan media.Event { return b.events }

// Start loads an item into the renderer at the given resume offset.
// Starting the item that is already loaded is a no-op so the position
// is never reset by a redundant reconcile.
func (b *Backend) Start(ctx context.Context, selection string, volume int, resumeAt time.Duration) error {
	if selection == "" {
		return media.ErrNoSelection
	}

	b.mu.Lock()
	if b.active && b.selection == selection {
		b.mu.Unlock()
		return nil
	}
	if b.active {
		b.stopLocked()
	}
	b.mu.Unlock()

	err := b.breaker.Execute(ctx, func() error {
		return b.client.Load(ctx, selection, resumeAt, volume)
	})
	if err != nil {
		return err
	}

	pollCtx, cancel := context.WithCancel(context.Background())

	b.mu.Lock()
	b.active = true
	b.selection = selection
	b.cancel = cancel
	b.mu.Unlock()

	b.log.Info("embedded playback started",
		zap.String("item", selection),
		zap.Duration("resume_at", resumeAt),
		zap.Int("volume", volume))

	b.emit(media.Event{Kind: media.EventReady, Source: intent.SourceExternal, ItemID: selection})
	go b.pollProgress(pollCtx, selection)
	return nil
}

// pollProgress republishes the renderer's position reports until the
// backend is stopped. Repeated poll failures surface as an Error event
// and tear the backend down; the synchronizer resets the intent.
func (b *Backend) pollProgress(ctx context.Context, selection string) {
	ticker := time.NewTicker(b.pollInterval)
	defer ticker.Stop()

	failures := 0
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			status, err := b.poll(ctx)
			if err != nil {
				failures++
				if failures >= 3 {
					b.log.Error("renderer unreachable, abandoning playback", zap.Error(err))
					b.Stop()
					b.emit(media.Event{Kind: media.EventError, Source: intent.SourceExternal, ItemID: selection, Err: err})
					return
				}
				continue
			}
			failures = 0
			b.emit(media.Event{
				Kind:      media.EventProgress,
				Source:    intent.SourceExternal,
				ItemID:    selection,
				SubItemID: status.SubItemID,
				Position:  time.Duration(status.PositionSeconds * float64(time.Second)),
			})
		}
	}
}

func (b *Backend) poll(ctx context.Context) (*StatusResponse, error) {
	var status *StatusResponse
	err := b.breaker.Execute(ctx, func() error {
		var err error
		status, err = b.client.Status(ctx)
		return err
	})
	return status, err
}

func (b *Backend) Pause() error {
	return b.command(func(ctx context.Context) error { return b.client.Pause(ctx) })
}

func (b *Backend) Resume() error {
	return b.command(func(ctx context.Context) error { return b.client.Resume(ctx) })
}

func (b *Backend) Seek(offset time.Duration) error {
	return b.command(func(ctx context.Context) error { return b.client.Seek(ctx, offset) })
}

func (b *Backend) SetVolume(v int) error {
	return b.command(func(ctx context.Context) error { return b.client.SetVolume(ctx, v) })
}

func (b *Backend) command(fn func(ctx context.Context) error) error {
	b.mu.Lock()
	active := b.active
	b.mu.Unlock()
	if !active {
		return media.ErrNotActive
	}
	ctx, cancel := context.WithTimeout(context.Background(), b.client.HTTPClient.Timeout)
	defer cancel()
	return b.breaker.Execute(ctx, func() error { return fn(ctx) })
}

func (b *Backend) Stop() error {
	b.mu.Lock()
	if !b.active {
		b.mu.Unlock()
		return nil
	}
	b.stopLocked()
	b.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), b.client.HTTPClient.Timeout)
	defer cancel()
	// Best effort: the renderer may already be gone.
	if err := b.client.Stop(ctx); err != nil {
		b.log.Warn("failed to stop renderer", zap.Error(err))
	}
	return nil
}

func (b *Backend) stopLocked() {
	if b.cancel != nil {
		b.cancel()
		b.cancel = nil
	}
	b.active = false
	b.selection = ""
}

func (b *Backend) Active() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.active
}

func (b *Backend) emit(ev media.Event) {
	select {
	case b.events <- ev:
	default:
	}
}
