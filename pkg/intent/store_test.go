package intent_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"cuewise/pkg/intent"
	"cuewise/pkg/kv/memory"
)

func newStore(t *testing.T) (*intent.Store, *memory.Store) {
	t.Helper()
	kvs := memory.New()
	t.Cleanup(func() { kvs.Close() })
	return intent.NewStore(kvs, "test", "inst-1"), kvs
}

func TestStore_CurrentDefaultsOnFirstRun(t *testing.T) {
	store, _ := newStore(t)

	current, err := store.Current(context.Background())
	require.NoError(t, err)

	assert.Equal(t, intent.SourceNone, current.ActiveSource)
	assert.Equal(t, intent.TransportStopped, current.Transport)
	assert.Equal(t, 50, current.AmbientVolume)
	assert.Equal(t, 50, current.ExternalVolume)
}

func TestStore_SetActiveSourceClearsDisplacedSelection(t *testing.T) {
	store, _ := newStore(t)
	ctx := context.Background()

	require.NoError(t, store.Select(ctx, intent.SourceAmbient, "rain"))
	require.NoError(t, store.SetActiveSource(ctx, intent.SourceExternal))

	current, err := store.Current(ctx)
	require.NoError(t, err)
	assert.Equal(t, intent.SourceExternal, current.ActiveSource)
	assert.Empty(t, current.AmbientSelection, "displaced source's selection must be cleared")
}

func TestStore_SwitchToNoneForcesStopped(t *testing.T) {
	store, _ := newStore(t)
	ctx := context.Background()

	require.NoError(t, store.Select(ctx, intent.SourceAmbient, "rain"))
	require.NoError(t, store.SetTransport(ctx, intent.TransportPlaying))
	require.NoError(t, store.SetActiveSource(ctx, intent.SourceNone))

	current, err := store.Current(ctx)
	require.NoError(t, err)
	assert.Equal(t, intent.TransportStopped, current.Transport)
}

func TestStore_VolumesPersistAcrossSourceSwitch(t *testing.T) {
	store, _ := newStore(t)
	ctx := context.Background()

	require.NoError(t, store.SetVolume(ctx, intent.SourceAmbient, 30))
	require.NoError(t, store.SetVolume(ctx, intent.SourceExternal, 80))
	require.NoError(t, store.SetActiveSource(ctx, intent.SourceExternal))
	require.NoError(t, store.SetActiveSource(ctx, intent.SourceAmbient))

	current, err := store.Current(ctx)
	require.NoError(t, err)
	assert.Equal(t, 30, current.AmbientVolume)
	assert.Equal(t, 80, current.ExternalVolume)
}

func TestStore_SetVolumeClamps(t *testing.T) {
	store, _ := newStore(t)
	ctx := context.Background()

	require.NoError(t, store.SetVolume(ctx, intent.SourceAmbient, 150))
	require.NoError(t, store.SetVolume(ctx, intent.SourceExternal, -10))

	current, err := store.Current(ctx)
	require.NoError(t, err)
	assert.Equal(t, 100, current.AmbientVolume)
	assert.Equal(t, 0, current.ExternalVolume)
}

func TestStore_SetSelectionRejectsInactiveSource(t *testing.T) {
	store, _ := newStore(t)
	ctx := context.Background()

	require.NoError(t, store.SetActiveSource(ctx, intent.SourceAmbient))

	err := store.SetSelection(ctx, intent.SourceExternal, "ep-1")
	assert.ErrorIs(t, err, intent.ErrSourceInactive)

	// The failed mutation must not have written anything.
	current, err := store.Current(ctx)
	require.NoError(t, err)
	assert.Empty(t, current.ExternalSelection)
}

func TestStore_SelectSwitchesAndChoosesInOneWrite(t *testing.T) {
	store, kvs := newStore(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	require.NoError(t, store.Select(ctx, intent.SourceAmbient, "rain"))

	events, err := kvs.Watch(ctx, "test/intent")
	require.NoError(t, err)

	require.NoError(t, store.Select(ctx, intent.SourceExternal, "ep-1"))

	current, err := store.Current(ctx)
	require.NoError(t, err)
	assert.Equal(t, intent.SourceExternal, current.ActiveSource)
	assert.Equal(t, "ep-1", current.ExternalSelection)
	assert.Empty(t, current.AmbientSelection)

	// One write means one notification.
	<-events
	select {
	case <-events:
		t.Fatal("Select produced more than one write")
	case <-time.After(50 * time.Millisecond):
	}
}

func TestStore_InvalidValuesRejected(t *testing.T) {
	store, _ := newStore(t)
	ctx := context.Background()

	assert.ErrorIs(t, store.SetActiveSource(ctx, intent.Source("RADIO")), intent.ErrInvalidSource)
	assert.ErrorIs(t, store.SetTransport(ctx, intent.Transport("REWINDING")), intent.ErrInvalidTransport)
	assert.ErrorIs(t, store.SetVolume(ctx, intent.SourceNone, 10), intent.ErrInvalidSource)
	assert.ErrorIs(t, store.SetSelection(ctx, intent.SourceNone, "x"), intent.ErrInvalidSource)
}

func TestStore_WatchDecodesChanges(t *testing.T) {
	store, _ := newStore(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	changes, err := store.Watch(ctx)
	require.NoError(t, err)

	require.NoError(t, store.Select(ctx, intent.SourceAmbient, "rain"))

	select {
	case change := <-changes:
		assert.Equal(t, intent.SourceNone, change.Old.ActiveSource)
		assert.Equal(t, intent.SourceAmbient, change.New.ActiveSource)
		assert.Equal(t, "rain", change.New.AmbientSelection)
		assert.Equal(t, "inst-1", change.New.UpdatedBy)
	case <-time.After(time.Second):
		t.Fatal("no change observed")
	}
}

func TestStore_MutationsStampUpdatedAt(t *testing.T) {
	store, _ := newStore(t)
	ctx := context.Background()

	before := time.Now().UTC().Add(-time.Second)
	require.NoError(t, store.SetTransport(ctx, intent.TransportPlaying))

	current, err := store.Current(ctx)
	require.NoError(t, err)
	assert.True(t, current.UpdatedAt.After(before))
	assert.Equal(t, "inst-1", current.UpdatedBy)
}
