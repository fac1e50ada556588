package media

import (
	"context"
	"errors"
	"time"

	"cuewise/pkg/intent"
)

var (
	// ErrNoSelection is returned when Start is called without a selection.
	ErrNoSelection = errors.New("no selection given")

	// ErrNotActive is returned by transport operations when the backend
	// holds no media.
	ErrNotActive = errors.New("backend is not active")
)

// EventKind discriminates backend events.
type EventKind int

const (
	// EventReady fires once the backend has acquired the hardware and
	// playback of the requested selection is underway.
	EventReady EventKind = iota
	// EventProgress reports the current playback position.
	EventProgress
	// EventError reports an asynchronous backend failure; the backend
	// no longer holds the hardware afterwards.
	EventError
)

// Event is an asynchronous notification from a backend.
type Event struct {
	Kind      EventKind
	Source    intent.Source
	ItemID    string
	SubItemID string
	Position  time.Duration
	Err       error
}

// Backend is the uniform driver contract over the concrete media
// renderers. Only the current leader may invoke it; followers mirror
// the replicated intent without touching a backend.
type Backend interface {
	// Source identifies which intent source this backend serves.
	Source() intent.Source

	// Start begins playback of a selection. Idempotent: starting the
	// selection that is already playing is a no-op and never resets the
	// position. A different selection tears the previous one down
	// first. Readiness is reported asynchronously via Events.
	Start(ctx context.Context, selection string, volume int, resumeAt time.Duration) error

	Pause() error
	Resume() error
	Stop() error
	Seek(offset time.Duration) error
	SetVolume(v int) error

	// Active reports the local truth of whether this backend currently
	// holds the hardware resource.
	Active() bool

	// Events streams Ready/Progress/Error notifications.
	Events() <-chan Event
}
