package media

import (
	"context"
	"fmt"
	"time"

	"cuewise/pkg/intent"
)

// Selector holds the available backends and enforces their mutual
// exclusivity at the adapter layer: starting one source stops every
// other active backend first. This duplicates the state-model
// invariant on purpose; a bug upstream must not leave two backends
// holding the hardware.
type Selector struct {
	backends map[intent.Source]Backend
	order    []intent.Source
}

// NewSelector registers the given backends.
func NewSelector(backends ...Backend) *Selector {
	s := &Selector{backends: make(map[intent.Source]Backend, len(backends))}
	for _, b := range backends {
		s.backends[b.Source()] = b
		s.order = append(s.order, b.Source())
	}
	return s
}

// Backend returns the backend serving the given source.
func (s *Selector) Backend(source intent.Source) (Backend, bool) {
	b, ok := s.backends[source]
	return b, ok
}

// Backends returns all registered backends.
func (s *Selector) Backends() []Backend {
	out := make([]Backend, 0, len(s.order))
	for _, src := range s.order {
		out = append(out, s.backends[src])
	}
	return out
}

// Start stops every other active backend, then starts the requested
// one. The stop-before-start order is significant: two backends must
// never hold the hardware at once.
func (s *Selector) Start(ctx context.Context, source intent.Source, selection string, volume int, resumeAt time.Duration) error {
	target, ok := s.backends[source]
	if !ok {
		return fmt.Errorf("no backend registered for source %s", source)
	}
	for _, src := range s.order {
		if src == source {
			continue
		}
		if other := s.backends[src]; other.Active() {
			if err := other.Stop(); err != nil {
				return fmt.Errorf("failed to stop %s backend: %w", src, err)
			}
		}
	}
	return target.Start(ctx, selection, volume, resumeAt)
}

// Stop stops the backend for one source if it is active.
func (s *Selector) Stop(source intent.Source) error {
	b, ok := s.backends[source]
	if !ok || !b.Active() {
		return nil
	}
	return b.Stop()
}

// StopAll tears down every active backend. Used on leadership loss.
func (s *Selector) StopAll() error {
	var firstErr error
	for _, src := range s.order {
		if b := s.backends[src]; b.Active() {
			if err := b.Stop(); err != nil && firstErr == nil {
				firstErr = err
			}
		}
	}
	return firstErr
}

// ActiveSource returns the source whose backend holds the hardware, or
// SourceNone.
func (s *Selector) ActiveSource() intent.Source {
	for _, src := range s.order {
		if s.backends[src].Active() {
			return src
		}
	}
	return intent.SourceNone
}
