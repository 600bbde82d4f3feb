package instrument

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeRegion struct {
	mu      sync.Mutex
	exits   int
	crashed any
}

func (r *fakeRegion) Exit() {
	r.mu.Lock()
	r.exits++
	r.mu.Unlock()
}

func (r *fakeRegion) Crash(reason any) {
	r.mu.Lock()
	r.crashed = reason
	r.mu.Unlock()
}

type fakeHooks struct {
	labels  []string
	regions []*fakeRegion
	refuse  bool
}

func (h *fakeHooks) Enter(ctx context.Context, label string) (context.Context, Region) {
	h.labels = append(h.labels, label)
	if h.refuse {
		return ctx, nil
	}
	r := &fakeRegion{}
	h.regions = append(h.regions, r)
	return WithReleased(ctx, make(chan struct{})), r
}

func install(t *testing.T, h Hooks) {
	t.Helper()
	prev := Install(h)
	t.Cleanup(func() { Restore(prev) })
}

func TestInertMarkersDoNotAllocate(t *testing.T) {
	require.Nil(t, Installed())
	ctx := context.Background()
	allocs := testing.AllocsPerRun(100, func() {
		_, stop := Start(ctx, WithLabel("checkout"))
		stop()
	})
	assert.Zero(t, allocs)
}

func TestInstallRestoreIsIdempotent(t *testing.T) {
	h := &fakeHooks{}
	prev := Install(h)
	assert.Nil(t, prev)
	assert.Same(t, h, Installed())
	Restore(prev)
	assert.Nil(t, Installed())
	Restore(nil)
	assert.Nil(t, Installed())
}

func TestStartUsesLastLabel(t *testing.T) {
	h := &fakeHooks{}
	install(t, h)

	ctx, stop := Start(context.Background(), WithLabel("a"), WithLabel("B"))
	assert.NotNil(t, Released(ctx))
	stop()
	require.Len(t, h.regions, 1)
	assert.Equal(t, []string{"B"}, h.labels)
	assert.Equal(t, 1, h.regions[0].exits)
}

func TestLabelFuncCanSkip(t *testing.T) {
	h := &fakeHooks{}
	install(t, h)

	ran := false
	err := Do(context.Background(), func(context.Context) error {
		ran = true
		return nil
	}, WithLabelFunc(func() (string, bool) { return "", false }))
	require.NoError(t, err)
	assert.True(t, ran)
	assert.Empty(t, h.labels)
}

func TestDoReportsCrashAndRepanics(t *testing.T) {
	h := &fakeHooks{}
	install(t, h)

	assert.PanicsWithValue(t, "boom", func() {
		_ = Do(context.Background(), func(context.Context) error { panic("boom") })
	})
	require.Len(t, h.regions, 1)
	assert.Equal(t, "boom", h.regions[0].crashed)
	assert.Zero(t, h.regions[0].exits)
}

func TestPipePassesValues(t *testing.T) {
	h := &fakeHooks{}
	install(t, h)

	out, err := Pipe(context.Background(), 21, func(_ context.Context, v int) (int, error) {
		return v * 2, nil
	}, WithLabel("double"))
	require.NoError(t, err)
	assert.Equal(t, 42, out)
	assert.Equal(t, 1, h.regions[0].exits)

	wantErr := errors.New("nope")
	_, err = Pipe(context.Background(), "x", func(context.Context, string) (string, error) { return "", wantErr })
	assert.ErrorIs(t, err, wantErr)
}

func TestRefusedRegionRunsUnprofiled(t *testing.T) {
	h := &fakeHooks{refuse: true}
	install(t, h)

	ctx, stop := Start(context.Background())
	stop()
	assert.Nil(t, Released(ctx))
	assert.Equal(t, []string{""}, h.labels)
}
