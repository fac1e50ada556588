package media_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"cuewise/pkg/intent"
	"cuewise/pkg/media"
)

func TestSelector_StartStopsOtherSources(t *testing.T) {
	ambient := media.NewMock(intent.SourceAmbient)
	external := media.NewMock(intent.SourceExternal)
	sel := media.NewSelector(ambient, external)
	ctx := context.Background()

	require.NoError(t, sel.Start(ctx, intent.SourceAmbient, "rain", 50, 0))
	require.True(t, ambient.Active())

	require.NoError(t, sel.Start(ctx, intent.SourceExternal, "ep-1", 70, 0))

	assert.False(t, ambient.Active(), "displaced backend must be stopped")
	assert.True(t, external.Active())
	assert.Contains(t, ambient.Calls(), "stop")
	assert.Equal(t, intent.SourceExternal, sel.ActiveSource())
}

func TestSelector_StartUnknownSource(t *testing.T) {
	sel := media.NewSelector(media.NewMock(intent.SourceAmbient))

	err := sel.Start(context.Background(), intent.SourceExternal, "ep-1", 50, 0)
	assert.Error(t, err)
}

func TestSelector_StopInactiveIsNoop(t *testing.T) {
	ambient := media.NewMock(intent.SourceAmbient)
	sel := media.NewSelector(ambient)

	require.NoError(t, sel.Stop(intent.SourceAmbient))
	assert.Empty(t, ambient.Calls(), "stopping an inactive backend must not call it")
}

func TestSelector_StopAll(t *testing.T) {
	ambient := media.NewMock(intent.SourceAmbient)
	external := media.NewMock(intent.SourceExternal)
	sel := media.NewSelector(ambient, external)
	ctx := context.Background()

	require.NoError(t, sel.Start(ctx, intent.SourceAmbient, "rain", 50, 0))
	require.NoError(t, sel.StopAll())

	assert.False(t, ambient.Active())
	assert.Equal(t, intent.SourceNone, sel.ActiveSource())
}

func TestMock_IdempotentStartKeepsPosition(t *testing.T) {
	ambient := media.NewMock(intent.SourceAmbient)
	ctx := context.Background()

	require.NoError(t, ambient.Start(ctx, "rain", 50, 42*time.Second))
	require.NoError(t, ambient.Start(ctx, "rain", 50, 0))

	assert.Equal(t, 42*time.Second, ambient.Position(),
		"re-starting the same selection must not reset position")
}
