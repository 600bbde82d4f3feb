package backend

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	log "github.com/sirupsen/logrus"
)

type request struct {
	fn    func(Profiler) (string, error)
	reply chan response
}

type response struct {
	text string
	err  error
}

// Adapter runs one Profiler on its own goroutine. A panic or an asynchronous
// profiler fault takes the adapter down; Done is closed and Err reports why.
type Adapter struct {
	kind     Kind
	reqs     chan request
	faults   chan error
	quit     chan struct{}
	quitOnce sync.Once
	done     chan struct{}
	downOnce sync.Once

	mu  sync.Mutex
	err error

	// owned by the actor goroutine
	running bool
	scope   Scope
	filter  Filter
}

// Open starts an adapter for the runtime profiler of kind k.
func Open(k Kind) (*Adapter, error) {
	factory, err := NewProfiler(k)
	if err != nil {
		return nil, err
	}
	return New(k, factory)
}

// New starts an adapter around the profiler built by factory.
func New(k Kind, factory Factory) (*Adapter, error) {
	a := &Adapter{
		kind:   k,
		reqs:   make(chan request),
		faults: make(chan error, 1),
		quit:   make(chan struct{}),
		done:   make(chan struct{}),
		filter: AnyFilter,
	}
	ready := make(chan error, 1)
	go a.loop(factory, ready)
	if err := <-ready; err != nil {
		return nil, err
	}
	return a, nil
}

// Restart brings up a fresh adapter, retrying with exponential backoff.
func Restart(ctx context.Context, k Kind, factory Factory) (*Adapter, error) {
	policy := backoff.NewExponentialBackOff()
	policy.InitialInterval = 50 * time.Millisecond
	policy.MaxElapsedTime = 5 * time.Second

	var a *Adapter
	err := backoff.Retry(func() error {
		var err error
		a, err = New(k, factory)
		if err != nil {
			log.WithError(err).WithField("backend", k).Warn("backend restart failed")
		}
		return err
	}, backoff.WithContext(backoff.WithMaxRetries(policy, 5), ctx))
	if err != nil {
		return nil, fmt.Errorf("restart %s backend: %w", k, err)
	}
	return a, nil
}

func (a *Adapter) loop(factory Factory, ready chan<- error) {
	var p Profiler
	func() {
		defer func() {
			if r := recover(); r != nil {
				ready <- fmt.Errorf("init %s backend: %v", a.kind, r)
			}
		}()
		p = factory(a.fault)
		ready <- nil
	}()
	if p == nil {
		a.down(errors.New("backend init failed"))
		return
	}

	for {
		select {
		case <-a.quit:
			a.release(p)
			a.down(nil)
			return
		case err := <-a.faults:
			a.release(p)
			a.down(err)
			return
		case req := <-a.reqs:
			if err := a.exec(p, req); err != nil {
				a.release(p)
				a.down(err)
				return
			}
		}
	}
}

func (a *Adapter) exec(p Profiler, req request) (crash error) {
	defer func() {
		if r := recover(); r != nil {
			crash = fmt.Errorf("%s backend panic: %v", a.kind, r)
		}
	}()
	text, err := req.fn(p)
	req.reply <- response{text: text, err: err}
	return nil
}

// release stops a running profiler so the runtime slot is free again.
func (a *Adapter) release(p Profiler) {
	if !a.running {
		return
	}
	a.running = false
	defer func() { _ = recover() }()
	if _, err := p.Stop(); err != nil {
		log.WithError(err).WithField("backend", a.kind).Debug("stop on shutdown failed")
	}
}

func (a *Adapter) fault(err error) {
	select {
	case a.faults <- err:
	default:
	}
}

func (a *Adapter) down(err error) {
	a.downOnce.Do(func() {
		a.mu.Lock()
		a.err = err
		a.mu.Unlock()
		close(a.done)
	})
}

func (a *Adapter) call(fn func(Profiler) (string, error)) (string, error) {
	req := request{fn: fn, reply: make(chan response, 1)}
	select {
	case a.reqs <- req:
	case <-a.done:
		return "", a.deadErr()
	}
	select {
	case resp := <-req.reply:
		return resp.text, resp.err
	case <-a.done:
		return "", a.deadErr()
	}
}

func (a *Adapter) deadErr() error {
	if err := a.Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrDead, err)
	}
	return ErrDead
}

// Kind returns the backend kind.
func (a *Adapter) Kind() Kind { return a.kind }

// Done is closed when the adapter goroutine exits.
func (a *Adapter) Done() <-chan struct{} { return a.done }

// Err returns the crash cause, or nil after a clean Close.
func (a *Adapter) Err() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.err
}

// Start begins profiling within scope.
func (a *Adapter) Start(scope Scope, filter Filter) error {
	if err := filter.Validate(); err != nil {
		return err
	}
	_, err := a.call(func(p Profiler) (string, error) {
		if a.running {
			return "", ErrRunning
		}
		if err := p.Start(scope); err != nil {
			return "", err
		}
		a.running, a.scope, a.filter = true, scope, filter
		return "", nil
	})
	return err
}

// Analyze stops profiling and returns the rendered report.
func (a *Adapter) Analyze(sortKey Sort) (string, error) {
	return a.call(func(p Profiler) (string, error) {
		if !a.running {
			return "", ErrNotRunning
		}
		a.running = false
		prof, err := p.Stop()
		if err != nil {
			return "", err
		}
		sum, err := Summarize(a.kind, prof, a.scope, a.filter, sortKey)
		if err != nil {
			return "", err
		}
		return sum.Render(), nil
	})
}

// Stop discards the running profile. Stopping an idle adapter is a no-op.
func (a *Adapter) Stop() error {
	_, err := a.call(func(p Profiler) (string, error) {
		if !a.running {
			return "", nil
		}
		a.running = false
		_, err := p.Stop()
		return "", err
	})
	return err
}

// SetFilter replaces the trace filter, also while profiling.
func (a *Adapter) SetFilter(f Filter) error {
	if !CapsOf(a.kind).LiveFilter {
		return fmt.Errorf("%w: %s", ErrNoLiveFilter, a.kind)
	}
	if err := f.Validate(); err != nil {
		return err
	}
	_, err := a.call(func(Profiler) (string, error) {
		a.filter = f
		return "", nil
	})
	return err
}

// Running reports whether a profile is being collected.
func (a *Adapter) Running() bool {
	text, err := a.call(func(Profiler) (string, error) {
		if a.running {
			return "yes", nil
		}
		return "", nil
	})
	return err == nil && text != ""
}

// Close stops the adapter and waits for its goroutine.
func (a *Adapter) Close() {
	a.quitOnce.Do(func() { close(a.quit) })
	<-a.done
}
