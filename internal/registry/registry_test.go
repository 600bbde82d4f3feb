package registry

import (
	"context"
	"errors"
	"runtime/pprof"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func waitClosed(t *testing.T, ch <-chan struct{}) {
	t.Helper()
	select {
	case <-ch:
	case <-time.After(2 * time.Second):
		t.Fatal("channel was not closed")
	}
}

func blockUntilDone(ctx context.Context) { <-ctx.Done() }

func TestSpawnRegistersNameAndGroups(t *testing.T) {
	r := New()
	id, err := r.Spawn(context.Background(), SpawnOptions{Name: "worker", Groups: []string{"web"}, Tags: []string{"a"}}, blockUntilDone)
	require.NoError(t, err)
	t.Cleanup(func() { r.Kill(id) })

	got, ok := r.Whereis("worker")
	require.True(t, ok)
	assert.Equal(t, id, got)
	assert.Equal(t, []ProcID{id}, r.Members("web"))
	assert.True(t, r.Alive(id))

	procs := r.List(ListFilter{TagsAny: []string{"a"}})
	require.Len(t, procs, 1)
	assert.Equal(t, "worker", procs[0].Name)
}

func TestSpawnRejectsDuplicateName(t *testing.T) {
	r := New()
	id, err := r.Spawn(context.Background(), SpawnOptions{Name: "dup"}, blockUntilDone)
	require.NoError(t, err)
	t.Cleanup(func() { r.Kill(id) })

	_, err = r.Spawn(context.Background(), SpawnOptions{Name: "dup"}, blockUntilDone)
	require.True(t, errors.Is(err, ErrNameTaken), "got %v", err)
}

func TestSpawnRejectsNumericName(t *testing.T) {
	r := New()
	_, err := r.Spawn(context.Background(), SpawnOptions{Name: "42"}, blockUntilDone)
	require.Error(t, err)
}

func TestKillReleasesNameAndClosesWatch(t *testing.T) {
	r := New()
	id, err := r.Spawn(context.Background(), SpawnOptions{Name: "short"}, blockUntilDone)
	require.NoError(t, err)

	watch := r.Watch(id)
	require.True(t, r.Kill(id))
	waitClosed(t, watch)

	_, ok := r.Whereis("short")
	assert.False(t, ok)
	assert.False(t, r.Alive(id))
	assert.Empty(t, r.Members("anything"))
	assert.True(t, r.Remove(id))
	_, ok = r.Get(id)
	assert.False(t, ok)
}

func TestWatchUnknownIsClosed(t *testing.T) {
	r := New()
	waitClosed(t, r.Watch(99))
}

func TestTaskLabelsAndLineage(t *testing.T) {
	r := New()
	childLineage := make(chan string, 1)
	parentID, err := r.Spawn(context.Background(), SpawnOptions{}, func(ctx context.Context) {
		_, err := r.Spawn(ctx, SpawnOptions{}, func(ctx context.Context) {
			v, _ := pprof.Label(ctx, LineageLabel)
			childLineage <- v
		})
		if err != nil {
			childLineage <- "error"
		}
		<-ctx.Done()
	})
	require.NoError(t, err)
	t.Cleanup(func() { r.Kill(parentID) })

	select {
	case lineage := <-childLineage:
		assert.Equal(t, "/1/2/", lineage)
	case <-time.After(2 * time.Second):
		t.Fatal("child did not report lineage")
	}
	child, ok := r.Get(2)
	require.True(t, ok)
	assert.Equal(t, parentID, child.Parent)
}

func TestPanicRestartsNamedTask(t *testing.T) {
	r := New()
	calls := 0
	first, err := r.Spawn(context.Background(), SpawnOptions{Name: "flaky", Restart: true}, func(ctx context.Context) {
		calls++
		if calls == 1 {
			panic("boom")
		}
		<-ctx.Done()
	})
	require.NoError(t, err)
	waitClosed(t, r.Watch(first))

	require.Eventually(t, func() bool {
		id, ok := r.Whereis("flaky")
		return ok && id != first
	}, 2*time.Second, 10*time.Millisecond)

	id, _ := r.Whereis("flaky")
	proc, ok := r.Get(id)
	require.True(t, ok)
	assert.Equal(t, 1, proc.Restarts)
	require.NoError(t, r.Shutdown(context.Background()))
}

func TestPools(t *testing.T) {
	r := New()
	require.NoError(t, r.RegisterPool("http", "http.acceptors"))
	g, ok := r.Pool("http")
	require.True(t, ok)
	assert.Equal(t, "http.acceptors", g)
	require.Error(t, r.RegisterPool("", "x"))
}

func TestGroupAssignAndPrune(t *testing.T) {
	r := New()
	id, err := r.Spawn(context.Background(), SpawnOptions{}, blockUntilDone)
	require.NoError(t, err)
	require.NoError(t, r.GroupAssign(id, []string{"late"}))
	assert.Equal(t, []ProcID{id}, r.Members("late"))
	require.NoError(t, r.Tag(id, []string{"x"}))

	r.Kill(id)
	waitClosed(t, r.Watch(id))
	assert.Equal(t, 1, r.Prune())
	assert.Empty(t, r.List(ListFilter{}))
}

func TestRestartVisibleWhenWatchFires(t *testing.T) {
	r := New()
	t.Cleanup(func() { _ = r.Shutdown(context.Background()) })
	crash := make(chan struct{}, 1)
	first, err := r.Spawn(context.Background(), SpawnOptions{Name: "worker", Restart: true}, func(ctx context.Context) {
		select {
		case <-crash:
			panic("worker fault")
		case <-ctx.Done():
		}
	})
	require.NoError(t, err)

	for i := 0; i < 20; i++ {
		prev, ok := r.Whereis("worker")
		require.True(t, ok)
		watch := r.Watch(prev)
		crash <- struct{}{}
		waitClosed(t, watch)

		next, ok := r.Whereis("worker")
		require.True(t, ok, "restart %d not registered when watch fired", i)
		assert.NotEqual(t, prev, next)
		assert.True(t, r.Alive(next))
	}
	assert.False(t, r.Alive(first))
}
