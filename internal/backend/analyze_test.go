package backend

import (
	"context"
	"runtime/pprof"
	"testing"
	"time"

	"github.com/google/pprof/profile"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"goprof/internal/registry"
)

func testProfile() *profile.Profile {
	fn := func(id uint64, name string) *profile.Function { return &profile.Function{ID: id, Name: name} }
	checkout := fn(1, "example.com/shop.checkout")
	price := fn(2, "example.com/shop.(*Cart).price")
	gc := fn(3, "runtime.gcBgMarkWorker")
	loc := func(id uint64, f *profile.Function) *profile.Location {
		return &profile.Location{ID: id, Line: []profile.Line{{Function: f}}}
	}
	lCheckout, lPrice, lGC := loc(1, checkout), loc(2, price), loc(3, gc)
	return &profile.Profile{
		SampleType: []*profile.ValueType{{Type: "samples", Unit: "count"}, {Type: "cpu", Unit: "nanoseconds"}},
		Sample: []*profile.Sample{
			{Location: []*profile.Location{lPrice, lCheckout}, Value: []int64{3, 30}, Label: map[string][]string{registry.ProcLabel: {"7"}}},
			{Location: []*profile.Location{lCheckout}, Value: []int64{1, 10}, Label: map[string][]string{registry.ProcLabel: {"7"}}},
			{Location: []*profile.Location{lGC}, Value: []int64{5, 50}},
		},
		Location: []*profile.Location{lCheckout, lPrice, lGC},
		Function: []*profile.Function{checkout, price, gc},
	}
}

func TestSplitFuncName(t *testing.T) {
	cases := map[string][2]string{
		"net/http.(*Server).Serve": {"net/http", "(*Server).Serve"},
		"main.main":                {"main", "main"},
		"example.com/a.b/c.fn":     {"example.com/a.b/c", "fn"},
		"noDot":                    {"", "noDot"},
	}
	for in, want := range cases {
		mod, fn := SplitFuncName(in)
		assert.Equal(t, want[0], mod, in)
		assert.Equal(t, want[1], fn, in)
	}
}

func TestSummarizeScopesAndSorts(t *testing.T) {
	sum, err := Summarize(KindCPU, testProfile(), TaskScope([]registry.ProcID{7}, false), AnyFilter, SortTime)
	require.NoError(t, err)
	assert.Equal(t, int64(4), sum.Samples)
	assert.Equal(t, 40*time.Nanosecond, sum.TotalTime)
	require.Len(t, sum.Rows, 2)
	assert.Equal(t, "example.com/shop.(*Cart).price", sum.Rows[0].Name)

	checkout := sum.Rows[1]
	assert.Equal(t, int64(1), checkout.OwnCount)
	assert.Equal(t, int64(4), checkout.CumCount)
	assert.Equal(t, 40*time.Nanosecond, checkout.CumTime)

	sum, err = Summarize(KindCPU, testProfile(), AllScope(), AnyFilter, SortName)
	require.NoError(t, err)
	require.Len(t, sum.Rows, 3)
	assert.Equal(t, "example.com/shop.(*Cart).price", sum.Rows[0].Name)
	assert.Equal(t, "runtime.gcBgMarkWorker", sum.Rows[2].Name)
}

func TestSummarizeFilter(t *testing.T) {
	sum, err := Summarize(KindCPU, testProfile(), AllScope(), Filter{Module: "example.com/*", Function: "check*"}, SortCalls)
	require.NoError(t, err)
	require.Len(t, sum.Rows, 1)
	assert.Equal(t, "checkout", sum.Rows[0].Function)
	assert.Contains(t, sum.Render(), "filter: example.com/*/check*")
}

func TestBlockSummaryIgnoresScope(t *testing.T) {
	sum, err := Summarize(KindBlock, testProfile(), TaskScope([]registry.ProcID{99}, false), AnyFilter, SortTime)
	require.NoError(t, err)
	assert.Equal(t, int64(9), sum.Samples)
	assert.Equal(t, "process-wide", sum.Scope)
}

func TestRenderEmpty(t *testing.T) {
	sum, err := Summarize(KindWall, nil, AllScope(), AnyFilter, SortOwn)
	require.NoError(t, err)
	assert.Contains(t, sum.Render(), "no samples matched")
}

func TestTaskScopeLineage(t *testing.T) {
	direct := TaskScope([]registry.ProcID{5}, false)
	spawned := TaskScope([]registry.ProcID{5}, true)
	child := map[string][]string{registry.ProcLabel: {"9"}, registry.LineageLabel: {"/1/5/9/"}}

	assert.False(t, direct.Matches(child))
	assert.True(t, spawned.Matches(child))
	assert.True(t, CallerScope("42").Matches(map[string][]string{CallerLabel: {"42"}}))
	assert.False(t, CallerScope("42").Matches(nil))
}

//go:noinline
func wallTestBlocker(ctx context.Context) { <-ctx.Done() }

func TestWallProfilerSeesLabelledGoroutine(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go pprof.Do(ctx, pprof.Labels(CallerLabel, "wall-test"), wallTestBlocker)

	p := newWallProfiler(5*time.Millisecond, nil)
	scope := CallerScope("wall-test")
	require.NoError(t, p.Start(scope))
	time.Sleep(100 * time.Millisecond)
	prof, err := p.Stop()
	require.NoError(t, err)

	sum, err := Summarize(KindWall, prof, scope, AnyFilter, SortAccumulated)
	require.NoError(t, err)
	assert.Positive(t, sum.Samples)
	assert.Contains(t, sum.Render(), "wallTestBlocker")
}
