package agent

import (
	"context"
	"path/filepath"
	"runtime/pprof"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/google/pprof/profile"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	goprofv1 "goprof/api/goprof/v1"
	"goprof/instrument"
	"goprof/internal/backend"
	"goprof/internal/config"
	"goprof/internal/registry"
	"goprof/internal/results"
	"goprof/internal/session"
)

type stubProfiler struct {
	mu      sync.Mutex
	running bool
}

func (p *stubProfiler) Kind() backend.Kind { return backend.KindCPU }

func (p *stubProfiler) Start(backend.Scope) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.running = true
	return nil
}

func (p *stubProfiler) Stop() (*profile.Profile, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.running = false
	return &profile.Profile{SampleType: []*profile.ValueType{{Type: "samples", Unit: "count"}}}, nil
}

func stubProfilers(backend.Kind) (backend.Factory, error) {
	return func(func(error)) backend.Profiler { return &stubProfiler{} }, nil
}

func testConfig(t *testing.T) config.Config {
	cfg := config.Default()
	cfg.ResultsDir = t.TempDir()
	cfg.MaxDuration = 0
	cfg.LinkTimeout = 0
	cfg.DetachOnLinkLoss = false
	return cfg
}

func newTestAgent(t *testing.T, cfg config.Config) (*Agent, *registry.Registry) {
	t.Helper()
	reg := registry.New()
	_, err := reg.Spawn(context.Background(), registry.SpawnOptions{Name: "worker"}, func(ctx context.Context) { <-ctx.Done() })
	require.NoError(t, err)
	a := New(cfg, reg, WithProfilers(stubProfilers), WithClock(clock.NewMock()))
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = a.Close(ctx)
		_ = reg.Shutdown(ctx)
		require.Nil(t, instrument.Installed())
	})
	return a, reg
}

func TestAttachInstallsAndDetachRestoresHooks(t *testing.T) {
	a, _ := newTestAgent(t, testConfig(t))
	require.Nil(t, instrument.Installed())

	sess, err := a.Attach(&goprofv1.AttachRequest{Targets: "worker"})
	require.NoError(t, err)
	assert.NotEmpty(t, sess.ID())
	assert.NotNil(t, instrument.Installed())
	store := a.subst.Store()
	require.NotNil(t, store)

	_, err = a.Attach(&goprofv1.AttachRequest{Targets: "worker"})
	require.ErrorIs(t, err, ErrAttached)

	require.NoError(t, a.Detach(context.Background()))
	assert.Nil(t, instrument.Installed())
	assert.True(t, store.Snapshot().Closed)
	assert.Nil(t, a.subst.Store())
	require.ErrorIs(t, a.Detach(context.Background()), ErrNotAttached)

	_, err = a.Attach(&goprofv1.AttachRequest{Targets: "worker"})
	require.NoError(t, err, "a new controller can attach after detach")
}

func TestAttachRejectsUnknownBackend(t *testing.T) {
	a, _ := newTestAgent(t, testConfig(t))
	_, err := a.Attach(&goprofv1.AttachRequest{Backend: "gpu"})
	require.ErrorIs(t, err, backend.ErrUnknownBackend)
	assert.Nil(t, instrument.Installed())
	_, err = a.Session()
	require.ErrorIs(t, err, ErrNotAttached)
}

func TestAttachRequestOverridesConfig(t *testing.T) {
	cfg := testConfig(t)
	a, _ := newTestAgent(t, cfg)
	dir := filepath.Join(t.TempDir(), "out")
	sess, err := a.Attach(&goprofv1.AttachRequest{
		Backend:         "wall",
		Targets:         "worker",
		ResultsDir:      dir,
		MaxDurationMs:   1500,
		StartWaitMs:     200,
		LabelTransition: true,
	})
	require.NoError(t, err)

	snap, err := sess.State(context.Background())
	require.NoError(t, err)
	assert.Equal(t, backend.KindWall, snap.Backend)
	assert.Equal(t, dir, snap.ResultsDir)
	assert.Equal(t, 1500*time.Millisecond, snap.MaxDuration)
	assert.Equal(t, 200*time.Millisecond, snap.StartWait)
	assert.True(t, snap.Coordinator.Transition)
	assert.Equal(t, "worker", snap.TargetSpec)
}

func TestSessionEndReleasesHooks(t *testing.T) {
	a, _ := newTestAgent(t, testConfig(t))
	sess, err := a.Attach(&goprofv1.AttachRequest{Targets: "worker"})
	require.NoError(t, err)

	require.NoError(t, sess.Stop(context.Background()))
	require.Eventually(t, func() bool {
		_, err := a.Session()
		return err != nil
	}, 2*time.Second, 10*time.Millisecond)
	assert.Nil(t, instrument.Installed())
}

func TestRegionWithoutArmingRunsUnprofiled(t *testing.T) {
	a, _ := newTestAgent(t, testConfig(t))
	sess, err := a.Attach(&goprofv1.AttachRequest{Targets: "worker"})
	require.NoError(t, err)

	ran := false
	err = instrument.Do(context.Background(), func(ctx context.Context) error {
		ran = true
		_, ok := pprof.Label(ctx, backend.CallerLabel)
		assert.False(t, ok)
		return nil
	}, instrument.WithLabel("checkout"))
	require.NoError(t, err)
	assert.True(t, ran)

	recs, err := sess.LatestResults(context.Background())
	require.NoError(t, err)
	assert.Empty(t, recs)
}

func TestArmedRegionProducesLabelledResult(t *testing.T) {
	a, _ := newTestAgent(t, testConfig(t))
	sess, err := a.Attach(&goprofv1.AttachRequest{Targets: "worker"})
	require.NoError(t, err)

	manager := make(chan session.Note, 16)
	require.NoError(t, a.ArmCode([]string{"Checkout"}, manager, false))
	require.Eventually(t, func() bool {
		snap, err := sess.State(context.Background())
		return err == nil && snap.CodePending
	}, 2*time.Second, 10*time.Millisecond)

	err = instrument.Do(context.Background(), func(ctx context.Context) error {
		caller, ok := pprof.Label(ctx, backend.CallerLabel)
		assert.True(t, ok)
		assert.True(t, strings.HasPrefix(caller, "caller-"), caller)
		assert.NotNil(t, instrument.Released(ctx))

		snap, err := sess.State(ctx)
		require.NoError(t, err)
		assert.Equal(t, session.StateProfiling, snap.State)
		assert.Equal(t, session.ModeCode, snap.Mode)
		return nil
	}, instrument.WithLabel("checkout"))
	require.NoError(t, err)

	recs, err := sess.LatestResults(context.Background())
	require.NoError(t, err)
	require.Len(t, recs, 1)
	assert.Equal(t, results.KindNormal, recs[0].Kind)
	assert.Equal(t, "checkout", recs[0].Label)
	assert.Contains(t, recs[0].Text, "Label: checkout")
	assert.FileExists(t, recs[0].Path)

	select {
	case n := <-manager:
		assert.Equal(t, session.NoteResultReady, n.Kind)
	case <-time.After(2 * time.Second):
		t.Fatal("manager was not notified")
	}

	// one-shot: the label was consumed
	err = instrument.Do(context.Background(), func(ctx context.Context) error {
		_, ok := pprof.Label(ctx, backend.CallerLabel)
		assert.False(t, ok)
		return nil
	}, instrument.WithLabel("checkout"))
	require.NoError(t, err)
}

func TestPanickingRegionReportsCrash(t *testing.T) {
	a, _ := newTestAgent(t, testConfig(t))
	sess, err := a.Attach(&goprofv1.AttachRequest{Targets: "worker"})
	require.NoError(t, err)
	notes, cancel := sess.Subscribe()
	defer cancel()

	require.NoError(t, a.ArmCode(nil, nil, false))
	require.Eventually(t, func() bool {
		snap, err := sess.State(context.Background())
		return err == nil && snap.CodePending
	}, 2*time.Second, 10*time.Millisecond)

	assert.PanicsWithValue(t, "boom", func() {
		_ = instrument.Do(context.Background(), func(context.Context) error { panic("boom") })
	})

	deadline := time.After(2 * time.Second)
	for {
		select {
		case n := <-notes:
			if n.Kind == session.NoteWarning {
				assert.Contains(t, n.Message, "boom")
				recs, err := sess.LatestResults(context.Background())
				require.NoError(t, err)
				require.Len(t, recs, 1)
				assert.Equal(t, results.KindUnknown, recs[0].Kind)
				return
			}
		case <-deadline:
			t.Fatal("crash warning not emitted")
		}
	}
}

func TestPseudoRegionUnderTransition(t *testing.T) {
	a, _ := newTestAgent(t, testConfig(t))
	sess, err := a.Attach(&goprofv1.AttachRequest{Targets: "worker", LabelTransition: true})
	require.NoError(t, err)
	require.NoError(t, a.ArmCode([]string{"a", "b"}, nil, false))
	require.Eventually(t, func() bool {
		snap, err := sess.State(context.Background())
		return err == nil && snap.CodePending
	}, 2*time.Second, 10*time.Millisecond)

	release := make(chan struct{})
	inside := make(chan struct{})
	done := make(chan error, 1)
	go func() {
		done <- instrument.Do(context.Background(), func(context.Context) error {
			close(inside)
			<-release
			return nil
		}, instrument.WithLabel("a"))
	}()
	<-inside

	// b arrives while a owns the slot
	require.NoError(t, instrument.Do(context.Background(), func(context.Context) error { return nil }, instrument.WithLabel("b")))
	close(release)
	require.NoError(t, <-done)

	var kinds []results.Kind
	require.Eventually(t, func() bool {
		recs, err := sess.LatestResults(context.Background())
		require.NoError(t, err)
		for _, r := range recs {
			kinds = append(kinds, r.Kind)
		}
		return len(kinds) >= 2
	}, 2*time.Second, 10*time.Millisecond)
	assert.ElementsMatch(t, []results.Kind{results.KindPseudo, results.KindNormal}, kinds)
}

func TestArmCodeRejectsBadLabel(t *testing.T) {
	a, _ := newTestAgent(t, testConfig(t))
	require.ErrorIs(t, a.ArmCode([]string{"x"}, nil, false), ErrNotAttached)

	_, err := a.Attach(&goprofv1.AttachRequest{Targets: "worker"})
	require.NoError(t, err)
	require.Error(t, a.ArmCode([]string{"bad label!"}, nil, false))
}
