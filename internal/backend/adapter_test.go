package backend

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/pprof/profile"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeProfiler struct {
	kind       Kind
	prof       *profile.Profile
	startErr   error
	panicStart bool
	stops      int
}

func (f *fakeProfiler) Kind() Kind { return f.kind }

func (f *fakeProfiler) Start(Scope) error {
	if f.panicStart {
		panic("profiler exploded")
	}
	return f.startErr
}

func (f *fakeProfiler) Stop() (*profile.Profile, error) {
	f.stops++
	return f.prof, nil
}

func fakeFactory(f *fakeProfiler) Factory {
	return func(func(error)) Profiler { return f }
}

func waitDone(t *testing.T, a *Adapter) {
	t.Helper()
	select {
	case <-a.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("adapter did not go down")
	}
}

func TestAdapterStartAnalyze(t *testing.T) {
	fake := &fakeProfiler{kind: KindCPU, prof: testProfile()}
	a, err := New(KindCPU, fakeFactory(fake))
	require.NoError(t, err)
	defer a.Close()

	require.NoError(t, a.Start(AllScope(), AnyFilter))
	assert.True(t, a.Running())
	assert.ErrorIs(t, a.Start(AllScope(), AnyFilter), ErrRunning)

	report, err := a.Analyze(SortTime)
	require.NoError(t, err)
	assert.Contains(t, report, "example.com/shop.checkout")
	assert.False(t, a.Running())

	_, err = a.Analyze(SortTime)
	assert.ErrorIs(t, err, ErrNotRunning)
}

func TestAdapterStartFailureKeepsIdle(t *testing.T) {
	fake := &fakeProfiler{kind: KindCPU, startErr: ErrSlotBusy}
	a, err := New(KindCPU, fakeFactory(fake))
	require.NoError(t, err)
	defer a.Close()

	assert.ErrorIs(t, a.Start(AllScope(), AnyFilter), ErrSlotBusy)
	assert.False(t, a.Running())
}

func TestAdapterPanicTakesItDown(t *testing.T) {
	fake := &fakeProfiler{kind: KindWall, panicStart: true}
	a, err := New(KindWall, fakeFactory(fake))
	require.NoError(t, err)

	err = a.Start(AllScope(), AnyFilter)
	assert.ErrorIs(t, err, ErrDead)
	waitDone(t, a)
	require.Error(t, a.Err())
	assert.Contains(t, a.Err().Error(), "profiler exploded")
	assert.ErrorIs(t, a.Stop(), ErrDead)
}

func TestAdapterFaultStopsRunningProfiler(t *testing.T) {
	fake := &fakeProfiler{kind: KindCPU, prof: testProfile()}
	var fail func(error)
	a, err := New(KindCPU, func(f func(error)) Profiler {
		fail = f
		return fake
	})
	require.NoError(t, err)
	require.NoError(t, a.Start(AllScope(), AnyFilter))

	fail(errors.New("sampler lost"))
	waitDone(t, a)
	assert.EqualError(t, a.Err(), "sampler lost")
	assert.Equal(t, 1, fake.stops)
}

func TestAdapterCloseIsClean(t *testing.T) {
	a, err := New(KindCPU, fakeFactory(&fakeProfiler{kind: KindCPU}))
	require.NoError(t, err)
	a.Close()
	waitDone(t, a)
	assert.NoError(t, a.Err())
	a.Close()
}

func TestSetFilterNeedsLiveSupport(t *testing.T) {
	wall, err := New(KindWall, fakeFactory(&fakeProfiler{kind: KindWall}))
	require.NoError(t, err)
	defer wall.Close()
	assert.ErrorIs(t, wall.SetFilter(AnyFilter), ErrNoLiveFilter)

	cpu, err := New(KindCPU, fakeFactory(&fakeProfiler{kind: KindCPU}))
	require.NoError(t, err)
	defer cpu.Close()
	require.NoError(t, cpu.SetFilter(Filter{Module: "example.com/*", Function: "check*"}))
	assert.Error(t, cpu.SetFilter(Filter{Module: "[", Function: "*"}))
}

func TestRestartRetriesFactory(t *testing.T) {
	var attempts atomic.Int32
	a, err := Restart(context.Background(), KindCPU, func(func(error)) Profiler {
		if attempts.Add(1) < 3 {
			panic("not yet")
		}
		return &fakeProfiler{kind: KindCPU}
	})
	require.NoError(t, err)
	defer a.Close()
	assert.Equal(t, int32(3), attempts.Load())
}

func TestParseKindAndSort(t *testing.T) {
	k, err := ParseKind(" WALL ")
	require.NoError(t, err)
	assert.Equal(t, KindWall, k)
	_, err = ParseKind("eprof")
	assert.ErrorIs(t, err, ErrUnknownBackend)

	s, err := ParseSort(KindWall, "")
	require.NoError(t, err)
	assert.Equal(t, SortAccumulated, s)
	s, err = ParseSort(KindCPU, "")
	require.NoError(t, err)
	assert.Equal(t, SortTime, s)
	_, err = ParseSort(KindCPU, "own")
	assert.ErrorIs(t, err, ErrBadSort)
}
