package syncer_test

import (
	"context"
	"errors"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"cuewise/pkg/intent"
	"cuewise/pkg/kv/memory"
	"cuewise/pkg/media"
	"cuewise/pkg/resume"
	"cuewise/pkg/syncer"
)

type fakeLeadership struct {
	leader atomic.Bool
}

func (f *fakeLeadership) IsLeader() bool { return f.leader.Load() }

type harness struct {
	leadership *fakeLeadership
	intents    *intent.Store
	tracker    *resume.Tracker
	ambient    *media.Mock
	external   *media.Mock
	sync       *syncer.Syncer
}

// newHarness wires a syncer against an in-memory store and mock
// backends, and starts its loop.
func newHarness(t *testing.T) *harness {
	t.Helper()

	kvs := memory.New()
	t.Cleanup(func() { kvs.Close() })

	h := &harness{
		leadership: &fakeLeadership{},
		intents:    intent.NewStore(kvs, "test", "inst-1"),
		tracker:    resume.NewTracker(kvs, "test", time.Hour),
		ambient:    media.NewMock(intent.SourceAmbient),
		external:   media.NewMock(intent.SourceExternal),
	}
	h.sync = syncer.New(h.leadership, h.intents, h.tracker,
		media.NewSelector(h.ambient, h.external))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		_ = h.sync.Run(ctx)
		close(done)
	}()
	t.Cleanup(func() {
		cancel()
		select {
		case <-done:
		case <-time.After(2 * time.Second):
			t.Error("syncer did not stop")
		}
	})

	// Let Run subscribe before the test writes intent.
	time.Sleep(20 * time.Millisecond)
	return h
}

func (h *harness) lead() {
	h.leadership.leader.Store(true)
	h.sync.HandleLeadershipAcquired()
}

func (h *harness) unlead() {
	h.leadership.leader.Store(false)
	h.sync.HandleLeadershipLost()
}

func countPrefix(calls []string, prefix string) int {
	n := 0
	for _, c := range calls {
		if strings.HasPrefix(c, prefix) {
			n++
		}
	}
	return n
}

func TestSyncer_LeaderStartsPlayback(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.lead()

	require.NoError(t, h.intents.Select(ctx, intent.SourceAmbient, "rain"))
	require.NoError(t, h.intents.SetTransport(ctx, intent.TransportPlaying))

	require.Eventually(t, h.ambient.Active, time.Second, 10*time.Millisecond)
	assert.Equal(t, "rain", h.ambient.Selection())
	assert.Equal(t, 50, h.ambient.Volume())

	// The backend's Ready event moves the syncer to Converged.
	require.Eventually(t, func() bool {
		return h.sync.State() == syncer.Converged
	}, time.Second, 10*time.Millisecond)
}

func TestSyncer_FollowerMirrorsWithoutDriving(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	require.NoError(t, h.intents.Select(ctx, intent.SourceAmbient, "rain"))
	require.NoError(t, h.intents.SetTransport(ctx, intent.TransportPlaying))

	require.Eventually(t, func() bool {
		last := h.sync.LastIntent()
		return last.Transport == intent.TransportPlaying && last.AmbientSelection == "rain"
	}, time.Second, 10*time.Millisecond)

	assert.Empty(t, h.ambient.Calls(), "a follower must never touch a backend")
	assert.Empty(t, h.external.Calls())
	assert.Equal(t, syncer.Idle, h.sync.State())
}

func TestSyncer_SourceSwitchStopsDisplacedBackend(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.lead()

	require.NoError(t, h.intents.Select(ctx, intent.SourceAmbient, "rain"))
	require.NoError(t, h.intents.SetTransport(ctx, intent.TransportPlaying))
	require.Eventually(t, h.ambient.Active, time.Second, 10*time.Millisecond)

	require.NoError(t, h.intents.Select(ctx, intent.SourceExternal, "ep-1"))

	require.Eventually(t, h.external.Active, time.Second, 10*time.Millisecond)
	assert.False(t, h.ambient.Active(), "the displaced backend must be stopped")
	assert.Contains(t, h.ambient.Calls(), "stop")
	assert.Equal(t, "ep-1", h.external.Selection())
}

func TestSyncer_ExternalResumesFromStoredPoint(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	// A previous leader recorded progress into the shared store.
	require.NoError(t, h.tracker.RecordProgress(ctx, "ep-1", "part-2", 42*time.Second))

	h.lead()
	require.NoError(t, h.intents.Select(ctx, intent.SourceExternal, "ep-1"))
	require.NoError(t, h.intents.SetTransport(ctx, intent.TransportPlaying))

	require.Eventually(t, h.external.Active, time.Second, 10*time.Millisecond)
	assert.Equal(t, 42*time.Second, h.external.Position(),
		"playback must resume where the last leader left off")
}

func TestSyncer_AmbientNeverResumes(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	require.NoError(t, h.tracker.RecordProgress(ctx, "rain", "", 42*time.Second))

	h.lead()
	require.NoError(t, h.intents.Select(ctx, intent.SourceAmbient, "rain"))
	require.NoError(t, h.intents.SetTransport(ctx, intent.TransportPlaying))

	require.Eventually(t, h.ambient.Active, time.Second, 10*time.Millisecond)
	assert.Equal(t, time.Duration(0), h.ambient.Position(),
		"ambient loops have no meaningful position to resume")
}

func TestSyncer_VolumeChangeDoesNotRestart(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.lead()

	require.NoError(t, h.intents.Select(ctx, intent.SourceAmbient, "rain"))
	require.NoError(t, h.intents.SetTransport(ctx, intent.TransportPlaying))
	require.Eventually(t, h.ambient.Active, time.Second, 10*time.Millisecond)

	require.NoError(t, h.intents.SetVolume(ctx, intent.SourceAmbient, 80))

	require.Eventually(t, func() bool {
		return h.ambient.Volume() == 80
	}, time.Second, 10*time.Millisecond)
	assert.Equal(t, 1, countPrefix(h.ambient.Calls(), "start("),
		"a volume change must not reload the backend")
}

func TestSyncer_PauseAndResume(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.lead()

	require.NoError(t, h.intents.Select(ctx, intent.SourceAmbient, "rain"))
	require.NoError(t, h.intents.SetTransport(ctx, intent.TransportPlaying))
	require.Eventually(t, h.ambient.Active, time.Second, 10*time.Millisecond)

	require.NoError(t, h.intents.SetTransport(ctx, intent.TransportPaused))
	require.Eventually(t, func() bool {
		return countPrefix(h.ambient.Calls(), "pause") == 1
	}, time.Second, 10*time.Millisecond)

	require.NoError(t, h.intents.SetTransport(ctx, intent.TransportPlaying))
	require.Eventually(t, func() bool {
		return countPrefix(h.ambient.Calls(), "resume") == 1
	}, time.Second, 10*time.Millisecond)

	assert.Equal(t, 1, countPrefix(h.ambient.Calls(), "start("),
		"pause/resume must not reload the backend")
}

func TestSyncer_BackendErrorResetsTransport(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.lead()

	require.NoError(t, h.intents.Select(ctx, intent.SourceAmbient, "rain"))
	require.NoError(t, h.intents.SetTransport(ctx, intent.TransportPlaying))
	require.Eventually(t, h.ambient.Active, time.Second, 10*time.Millisecond)

	h.ambient.EmitError(errors.New("device lost"))

	require.Eventually(t, func() bool {
		current, err := h.intents.Current(ctx)
		return err == nil && current.Transport == intent.TransportStopped
	}, time.Second, 10*time.Millisecond,
		"the intent must not keep claiming Playing after a backend failure")
}

func TestSyncer_LeadershipLossTearsDown(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.lead()

	require.NoError(t, h.intents.Select(ctx, intent.SourceAmbient, "rain"))
	require.NoError(t, h.intents.SetTransport(ctx, intent.TransportPlaying))
	require.Eventually(t, h.ambient.Active, time.Second, 10*time.Millisecond)

	h.unlead()

	require.Eventually(t, func() bool {
		return !h.ambient.Active() && h.sync.State() == syncer.Idle
	}, time.Second, 10*time.Millisecond)

	// The stored intent is untouched; the next leader will act on it.
	current, err := h.intents.Current(ctx)
	require.NoError(t, err)
	assert.Equal(t, intent.TransportPlaying, current.Transport)
}

func TestSyncer_FencedAcquisitionDoesNothing(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	require.NoError(t, h.intents.Select(ctx, intent.SourceAmbient, "rain"))
	require.NoError(t, h.intents.SetTransport(ctx, intent.TransportPlaying))

	// Leadership signal arrives but IsLeader already answers false, as
	// after an immediate force-loss.
	h.sync.HandleLeadershipAcquired()
	time.Sleep(50 * time.Millisecond)

	assert.Empty(t, h.ambient.Calls(), "a fenced acquisition must not drive backends")
}

func TestSyncer_ProgressFeedsResumeTracker(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.lead()

	require.NoError(t, h.intents.Select(ctx, intent.SourceExternal, "ep-1"))
	require.NoError(t, h.intents.SetTransport(ctx, intent.TransportPlaying))
	require.Eventually(t, h.external.Active, time.Second, 10*time.Millisecond)

	h.external.EmitProgress("ep-1", "part-1", 17*time.Second)

	require.Eventually(t, func() bool {
		point, found, err := h.tracker.ResumePoint(ctx, "ep-1")
		return err == nil && found && point.Position == 17*time.Second
	}, time.Second, 10*time.Millisecond)
}

func TestSyncer_FollowerProgressIgnored(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	h.external.EmitProgress("ep-1", "", 17*time.Second)
	time.Sleep(50 * time.Millisecond)

	_, found, err := h.tracker.ResumePoint(ctx, "ep-1")
	require.NoError(t, err)
	assert.False(t, found, "a follower must not write resume points")
}

func TestSyncer_StartFailureReportsError(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.lead()

	h.ambient.FailStartsWith(errors.New("no audio device"))

	require.NoError(t, h.intents.Select(ctx, intent.SourceAmbient, "rain"))
	require.NoError(t, h.intents.SetTransport(ctx, intent.TransportPlaying))

	require.Eventually(t, func() bool {
		current, err := h.intents.Current(ctx)
		return err == nil && current.Transport == intent.TransportStopped
	}, time.Second, 10*time.Millisecond)
	assert.Error(t, h.sync.LastError())
}
