package history_test

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"cuewise/pkg/history"
	"cuewise/pkg/intent"
	"cuewise/pkg/kv/memory"
)

type fakeLeadership struct {
	leader atomic.Bool
}

func (f *fakeLeadership) IsLeader() bool { return f.leader.Load() }

type recorderHarness struct {
	intents    *intent.Store
	journal    *history.MemoryStore
	leadership *fakeLeadership
}

func newRecorderHarness(t *testing.T) *recorderHarness {
	t.Helper()
	kvs := memory.New()
	t.Cleanup(func() { kvs.Close() })

	h := &recorderHarness{
		intents:    intent.NewStore(kvs, "test", "inst-1"),
		journal:    history.NewMemoryStore(),
		leadership: &fakeLeadership{},
	}
	recorder := history.NewRecorder(h.journal, h.intents, h.leadership, "inst-1")

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		_ = recorder.Run(ctx)
		close(done)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
	})
	time.Sleep(20 * time.Millisecond) // let Run subscribe
	return h
}

func (h *recorderHarness) sessions(t *testing.T) []history.Session {
	t.Helper()
	sessions, err := h.journal.ListRecent(context.Background(), 10)
	require.NoError(t, err)
	return sessions
}

func TestRecorder_OpensAndClosesSession(t *testing.T) {
	h := newRecorderHarness(t)
	ctx := context.Background()
	h.leadership.leader.Store(true)

	require.NoError(t, h.intents.Select(ctx, intent.SourceAmbient, "rain"))
	require.NoError(t, h.intents.SetTransport(ctx, intent.TransportPlaying))

	require.Eventually(t, func() bool {
		return len(h.sessions(t)) == 1
	}, time.Second, 10*time.Millisecond)

	session := h.sessions(t)[0]
	assert.Equal(t, "AMBIENT", session.Source)
	assert.Equal(t, "rain", session.Selection)
	assert.Nil(t, session.EndedAt)

	require.NoError(t, h.intents.SetTransport(ctx, intent.TransportStopped))

	require.Eventually(t, func() bool {
		sessions := h.sessions(t)
		return len(sessions) == 1 && sessions[0].EndedAt != nil
	}, time.Second, 10*time.Millisecond)
}

func TestRecorder_TrackChangeSplitsSessions(t *testing.T) {
	h := newRecorderHarness(t)
	ctx := context.Background()
	h.leadership.leader.Store(true)

	require.NoError(t, h.intents.Select(ctx, intent.SourceExternal, "ep-1"))
	require.NoError(t, h.intents.SetTransport(ctx, intent.TransportPlaying))
	require.Eventually(t, func() bool { return len(h.sessions(t)) == 1 },
		time.Second, 10*time.Millisecond)

	require.NoError(t, h.intents.SetSelection(ctx, intent.SourceExternal, "ep-2"))

	require.Eventually(t, func() bool {
		sessions := h.sessions(t)
		if len(sessions) != 2 {
			return false
		}
		// Newest first: ep-2 open, ep-1 closed.
		return sessions[0].Selection == "ep-2" && sessions[0].EndedAt == nil &&
			sessions[1].Selection == "ep-1" && sessions[1].EndedAt != nil
	}, time.Second, 10*time.Millisecond)
}

func TestRecorder_FollowerWritesNothing(t *testing.T) {
	h := newRecorderHarness(t)
	ctx := context.Background()

	require.NoError(t, h.intents.Select(ctx, intent.SourceAmbient, "rain"))
	require.NoError(t, h.intents.SetTransport(ctx, intent.TransportPlaying))

	time.Sleep(100 * time.Millisecond)
	assert.Empty(t, h.sessions(t), "only the leader journals sessions")
}

func TestMemoryStore_CloseSessionComputesDuration(t *testing.T) {
	journal := history.NewMemoryStore()
	ctx := context.Background()

	session := &history.Session{
		Source:    "AMBIENT",
		Selection: "rain",
		StartedAt: time.Now().UTC().Add(-90 * time.Second),
	}
	require.NoError(t, journal.Open(ctx, session))
	require.NoError(t, journal.CloseSession(ctx, session.ID, time.Now().UTC()))

	sessions, err := journal.ListRecent(ctx, 10)
	require.NoError(t, err)
	require.Len(t, sessions, 1)
	assert.InDelta(t, 90, sessions[0].DurationSeconds, 2)
}

func TestMemoryStore_CloseUnknownSession(t *testing.T) {
	journal := history.NewMemoryStore()

	err := journal.CloseSession(context.Background(), uuid.New(), time.Now())
	assert.ErrorIs(t, err, history.ErrNotFound)
}
