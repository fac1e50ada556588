package resume_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"cuewise/pkg/kv/memory"
	"cuewise/pkg/resume"
)

func TestTracker_RoundTrip(t *testing.T) {
	store := memory.New()
	defer store.Close()
	tracker := resume.NewTracker(store, "test", time.Hour)
	ctx := context.Background()

	require.NoError(t, tracker.RecordProgress(ctx, "ep-1", "part-2", 42*time.Second))

	point, found, err := tracker.ResumePoint(ctx, "ep-1")
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, "part-2", point.SubItemID)
	assert.Equal(t, 42*time.Second, point.Position)
}

func TestTracker_MissingItem(t *testing.T) {
	store := memory.New()
	defer store.Close()
	tracker := resume.NewTracker(store, "test", time.Hour)

	_, found, err := tracker.ResumePoint(context.Background(), "never-played")
	require.NoError(t, err)
	assert.False(t, found)
}

func TestTracker_ThrottlesWrites(t *testing.T) {
	store := memory.New()
	defer store.Close()
	tracker := resume.NewTracker(store, "test", time.Hour)
	ctx := context.Background()

	// First write goes through; the rest land within the interval.
	for i := 1; i <= 10; i++ {
		require.NoError(t, tracker.RecordProgress(ctx, "ep-1", "", time.Duration(i)*time.Second))
	}

	point, found, err := tracker.ResumePoint(ctx, "ep-1")
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, time.Second, point.Position, "throttled updates must not reach the store")
}

func TestTracker_ThrottleIsPerItem(t *testing.T) {
	store := memory.New()
	defer store.Close()
	tracker := resume.NewTracker(store, "test", time.Hour)
	ctx := context.Background()

	require.NoError(t, tracker.RecordProgress(ctx, "ep-1", "", 10*time.Second))
	require.NoError(t, tracker.RecordProgress(ctx, "ep-2", "", 20*time.Second))

	_, found1, err := tracker.ResumePoint(ctx, "ep-1")
	require.NoError(t, err)
	_, found2, err := tracker.ResumePoint(ctx, "ep-2")
	require.NoError(t, err)
	assert.True(t, found1)
	assert.True(t, found2, "one item's throttle must not suppress another's first write")
}

func TestTracker_FlushBypassesThrottle(t *testing.T) {
	store := memory.New()
	defer store.Close()
	tracker := resume.NewTracker(store, "test", time.Hour)
	ctx := context.Background()

	require.NoError(t, tracker.RecordProgress(ctx, "ep-1", "", 10*time.Second))
	require.NoError(t, tracker.RecordProgress(ctx, "ep-1", "part-3", 95*time.Second))

	require.NoError(t, tracker.Flush(ctx, "ep-1"))

	point, found, err := tracker.ResumePoint(ctx, "ep-1")
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, 95*time.Second, point.Position, "flush must persist the newest pending position")
	assert.Equal(t, "part-3", point.SubItemID)
}

func TestTracker_FlushWithNothingPending(t *testing.T) {
	store := memory.New()
	defer store.Close()
	tracker := resume.NewTracker(store, "test", time.Hour)

	assert.NoError(t, tracker.Flush(context.Background(), "ep-1"))
}

func TestTracker_WritesResumeAfterInterval(t *testing.T) {
	store := memory.New()
	defer store.Close()
	tracker := resume.NewTracker(store, "test", 30*time.Millisecond)
	ctx := context.Background()

	require.NoError(t, tracker.RecordProgress(ctx, "ep-1", "", 10*time.Second))
	time.Sleep(50 * time.Millisecond)
	require.NoError(t, tracker.RecordProgress(ctx, "ep-1", "", 60*time.Second))

	point, _, err := tracker.ResumePoint(ctx, "ep-1")
	require.NoError(t, err)
	assert.Equal(t, 60*time.Second, point.Position)
}
