// Package instrument marks code regions for on-demand profiling.
//
// Markers are inert until an agent session installs active hooks; while inert
// each marker costs one atomic load and never allocates.
package instrument

import (
	"context"
	"sync/atomic"
)

// Region is an entered, profiled region.
type Region interface {
	// Exit ends the region. Calls after the first are ignored.
	Exit()
	// Crash ends the region because the caller panicked.
	Crash(reason any)
}

// Hooks is the active implementation of the markers.
type Hooks interface {
	// Enter asks to profile the calling goroutine under label. A nil Region
	// means the region runs unprofiled.
	Enter(ctx context.Context, label string) (context.Context, Region)
}

type table struct{ hooks Hooks }

var current atomic.Pointer[table]

// Install makes h the active implementation and returns the previous one
// (nil when the markers were inert).
func Install(h Hooks) Hooks {
	var next *table
	if h != nil {
		next = &table{hooks: h}
	}
	prev := current.Swap(next)
	if prev == nil {
		return nil
	}
	return prev.hooks
}

// Restore reinstalls prev, typically the value returned by Install.
func Restore(prev Hooks) { Install(prev) }

// Installed returns the active hooks, or nil when inert.
func Installed() Hooks {
	t := current.Load()
	if t == nil {
		return nil
	}
	return t.hooks
}

// Option configures the label of one region.
type Option struct {
	label string
	fn    func() (string, bool)
}

// WithLabel tags the region with a literal label.
func WithLabel(label string) Option { return Option{label: label} }

// WithLabelFunc computes the label when a session is attached. Returning
// false skips profiling of this call.
func WithLabelFunc(fn func() (string, bool)) Option { return Option{fn: fn} }

func resolveLabel(opts []Option) (string, bool) {
	label := ""
	for _, o := range opts {
		if o.fn != nil {
			l, ok := o.fn()
			if !ok {
				return "", false
			}
			label = l
			continue
		}
		label = o.label
	}
	return label, true
}

func enter(t *table, ctx context.Context, opts []Option) (context.Context, Region) {
	label, ok := resolveLabel(opts)
	if !ok {
		return ctx, nil
	}
	return t.hooks.Enter(ctx, label)
}

func noop() {}

// Start enters a profiled region. The returned stop func must be called when
// the region ends.
func Start(ctx context.Context, opts ...Option) (context.Context, func()) {
	t := current.Load()
	if t == nil {
		return ctx, noop
	}
	ctx, r := enter(t, ctx, opts)
	if r == nil {
		return ctx, noop
	}
	return ctx, r.Exit
}

// Do runs fn as a profiled region.
func Do(ctx context.Context, fn func(context.Context) error, opts ...Option) error {
	t := current.Load()
	if t == nil {
		return fn(ctx)
	}
	ctx, r := enter(t, ctx, opts)
	if r == nil {
		return fn(ctx)
	}
	defer finish(r)
	return fn(ctx)
}

// Pipe runs fn on v as a profiled region and passes its result through.
func Pipe[T, R any](ctx context.Context, v T, fn func(context.Context, T) (R, error), opts ...Option) (R, error) {
	t := current.Load()
	if t == nil {
		return fn(ctx, v)
	}
	ctx, r := enter(t, ctx, opts)
	if r == nil {
		return fn(ctx, v)
	}
	defer finish(r)
	return fn(ctx, v)
}

func finish(r Region) {
	if p := recover(); p != nil {
		r.Crash(p)
		panic(p)
	}
	r.Exit()
}

type releasedKey struct{}

// WithReleased attaches the channel returned by Released. Hooks call it from Enter.
func WithReleased(ctx context.Context, ch <-chan struct{}) context.Context {
	return context.WithValue(ctx, releasedKey{}, ch)
}

// Released returns a channel closed when the session gives up on the region
// early, for example after its maximum duration. It is nil outside a
// profiled region.
func Released(ctx context.Context) <-chan struct{} {
	ch, _ := ctx.Value(releasedKey{}).(<-chan struct{})
	return ch
}
