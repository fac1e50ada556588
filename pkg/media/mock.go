package media

import (
	"context"
	"fmt"
	"sync"
	"time"

	"cuewise/pkg/intent"
)

// Mock is a test double for Backend. It records calls in order, emits a
// Ready event on successful starts, and tracks the resume position a
// start would use so idempotency can be asserted.
type Mock struct {
	mu sync.Mutex

	source    intent.Source
	active    bool
	selection string
	volume    int
	position  time.Duration
	startErr  error
	calls     []string
	events    chan Event
}

// NewMock creates a mock backend serving the given source.
func NewMock(source intent.Source) *Mock {
	return &Mock{
		source: source,
		events: make(chan Event, 32),
	}
}

// FailStartsWith makes subsequent Start calls return err.
func (m *Mock) FailStartsWith(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.startErr = err
}

// Calls returns the recorded call log.
func (m *Mock) Calls() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]string, len(m.calls))
	copy(out, m.calls)
	return out
}

// Selection returns the currently playing selection.
func (m *Mock) Selection() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.selection
}

// Position returns the mock playback position.
func (m *Mock) Position() time.Duration {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.position
}

// Volume returns the last applied volume.
func (m *Mock) Volume() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.volume
}

// EmitProgress injects a playback progress report.
func (m *Mock) EmitProgress(itemID, subItemID string, position time.Duration) {
	m.mu.Lock()
	m.position = position
	m.mu.Unlock()
	m.events <- Event{
		Kind:      EventProgress,
		Source:    m.source,
		ItemID:    itemID,
		SubItemID: subItemID,
		Position:  position,
	}
}

// EmitError injects an asynchronous backend failure and drops the
// hardware, mimicking a renderer dying mid-playback.
func (m *Mock) EmitError(err error) {
	m.mu.Lock()
	m.active = false
	m.mu.Unlock()
	m.events <- Event{Kind: EventError, Source: m.source, Err: err}
}

func (m *Mock) Source() intent.Source { return m.source }

func (m *Mock) Start(_ context.Context, selection string, volume int, resumeAt time.Duration) error {
	m.mu.Lock()
	m.calls = append(m.calls, fmt.Sprintf("start(%s,%d,%s)", selection, volume, resumeAt))
	if m.startErr != nil {
		err := m.startErr
		m.mu.Unlock()
		return err
	}
	if m.active && m.selection == selection {
		m.mu.Unlock()
		return nil // idempotent: keep position
	}
	m.active = true
	m.selection = selection
	m.volume = volume
	m.position = resumeAt
	m.mu.Unlock()

	m.events <- Event{Kind: EventReady, Source: m.source, ItemID: selection}
	return nil
}

func (m *Mock) Pause() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls = append(m.calls, "pause")
	if !m.active {
		return ErrNotActive
	}
	return nil
}

func (m *Mock) Resume() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls = append(m.calls, "resume")
	if !m.active {
		return ErrNotActive
	}
	return nil
}

func (m *Mock) Stop() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls = append(m.calls, "stop")
	m.active = false
	m.selection = ""
	m.position = 0
	return nil
}

func (m *Mock) Seek(offset time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls = append(m.calls, fmt.Sprintf("seek(%s)", offset))
	m.position = offset
	return nil
}

func (m *Mock) SetVolume(v int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls = append(m.calls, fmt.Sprintf("setVolume(%d)", v))
	m.volume = v
	return nil
}

func (m *Mock) Active() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.active
}

func (m *Mock) Events() <-chan Event { return m.events }

// Verify Mock implements Backend at compile time.
var _ Backend = (*Mock)(nil)
