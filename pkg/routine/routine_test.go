package routine

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"cuewise/pkg/intent"
	"cuewise/pkg/kv/memory"
)

type staticLeadership bool

func (s staticLeadership) IsLeader() bool { return bool(s) }

func newIntents(t *testing.T) *intent.Store {
	t.Helper()
	kvs := memory.New()
	t.Cleanup(func() { kvs.Close() })
	return intent.NewStore(kvs, "test", "inst-1")
}

func TestNewRunner_RejectsBadSchedule(t *testing.T) {
	_, err := NewRunner([]Routine{
		{Name: "morning", Schedule: "not a cron line", Action: "play", Source: intent.SourceAmbient},
	}, newIntents(t), staticLeadership(true))
	assert.Error(t, err)
}

func TestNewRunner_RejectsPlayWithoutSource(t *testing.T) {
	_, err := NewRunner([]Routine{
		{Name: "morning", Schedule: "0 7 * * *", Action: "play"},
	}, newIntents(t), staticLeadership(true))
	assert.Error(t, err)
}

func TestNewRunner_RejectsUnknownAction(t *testing.T) {
	_, err := NewRunner([]Routine{
		{Name: "morning", Schedule: "0 7 * * *", Action: "shuffle"},
	}, newIntents(t), staticLeadership(true))
	assert.Error(t, err)
}

func TestTick_LeaderAppliesDueRoutine(t *testing.T) {
	intents := newIntents(t)
	volume := 35
	runner, err := NewRunner([]Routine{
		{Name: "evening", Schedule: "0 19 * * *", Action: "play",
			Source: intent.SourceAmbient, Selection: "rain", Volume: &volume},
	}, intents, staticLeadership(true))
	require.NoError(t, err)

	// Jump past the next scheduled firing.
	runner.tick(context.Background(), time.Now().Add(48*time.Hour))

	current, err := intents.Current(context.Background())
	require.NoError(t, err)
	assert.Equal(t, intent.SourceAmbient, current.ActiveSource)
	assert.Equal(t, "rain", current.AmbientSelection)
	assert.Equal(t, 35, current.AmbientVolume)
	assert.Equal(t, intent.TransportPlaying, current.Transport)
}

func TestTick_FollowerSkipsButAdvancesSchedule(t *testing.T) {
	intents := newIntents(t)
	runner, err := NewRunner([]Routine{
		{Name: "evening", Schedule: "0 19 * * *", Action: "play",
			Source: intent.SourceAmbient, Selection: "rain"},
	}, intents, staticLeadership(false))
	require.NoError(t, err)

	fired := time.Now().Add(48 * time.Hour)
	runner.tick(context.Background(), fired)

	current, err := intents.Current(context.Background())
	require.NoError(t, err)
	assert.Equal(t, intent.SourceNone, current.ActiveSource, "a follower must not apply routines")

	// The schedule advanced anyway, so winning leadership later must not
	// replay the missed firing.
	assert.True(t, runner.entries[0].next.After(fired))
}

func TestTick_NotDueDoesNothing(t *testing.T) {
	intents := newIntents(t)
	runner, err := NewRunner([]Routine{
		{Name: "night", Schedule: "0 22 * * *", Action: "stop"},
	}, intents, staticLeadership(true))
	require.NoError(t, err)

	before := runner.entries[0].next
	runner.tick(context.Background(), before.Add(-time.Minute))
	assert.Equal(t, before, runner.entries[0].next)
}

func TestTick_PauseRoutine(t *testing.T) {
	intents := newIntents(t)
	require.NoError(t, intents.Select(context.Background(), intent.SourceExternal, "ep-1"))
	require.NoError(t, intents.SetTransport(context.Background(), intent.TransportPlaying))

	runner, err := NewRunner([]Routine{
		{Name: "bedtime", Schedule: "30 22 * * *", Action: "pause"},
	}, intents, staticLeadership(true))
	require.NoError(t, err)

	runner.tick(context.Background(), time.Now().Add(48*time.Hour))

	current, err := intents.Current(context.Background())
	require.NoError(t, err)
	assert.Equal(t, intent.TransportPaused, current.Transport)
	assert.Equal(t, "ep-1", current.ExternalSelection, "pause must not clear the selection")
}
