package agent

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"goprof/instrument"
	"goprof/internal/coordinator"
)

type markerHooks struct{ name string }

func (markerHooks) Enter(ctx context.Context, _ string) (context.Context, instrument.Region) {
	return ctx, nil
}

func TestSubstitutionRestoresPreviousHooks(t *testing.T) {
	outer := markerHooks{name: "outer"}
	prev := instrument.Install(outer)
	t.Cleanup(func() { instrument.Restore(prev) })

	var sub Substitution
	store := coordinator.New(false)
	active := markerHooks{name: "active"}
	require.NoError(t, sub.Attach(store, active))
	assert.Equal(t, active, instrument.Installed())
	assert.True(t, sub.Attached())
	assert.Same(t, store, sub.Store())

	require.ErrorIs(t, sub.Attach(coordinator.New(false), active), ErrAttached)

	sub.Detach()
	assert.Equal(t, outer, instrument.Installed())
	assert.False(t, sub.Attached())
	assert.True(t, store.Snapshot().Closed)

	sub.Detach()
	assert.Equal(t, outer, instrument.Installed())
}
