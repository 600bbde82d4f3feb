package backend

import (
	"fmt"
	"sync"
	"time"

	"github.com/google/pprof/profile"
	log "github.com/sirupsen/logrus"
)

const (
	defaultWallInterval = 10 * time.Millisecond
	wallMergeBatch      = 32
)

// wallProfiler periodically snapshots goroutine stacks. Each observation of a
// stack counts as one interval of wall time spent there.
type wallProfiler struct {
	interval time.Duration
	fail     func(error)

	mu      sync.Mutex
	acc     *profile.Profile
	pending []*profile.Profile
	scope   Scope
	ticks   int64

	stop chan struct{}
	done chan struct{}
}

func newWallProfiler(interval time.Duration, fail func(error)) *wallProfiler {
	if fail == nil {
		fail = func(error) {}
	}
	return &wallProfiler{interval: interval, fail: fail}
}

func (p *wallProfiler) Kind() Kind { return KindWall }

func (p *wallProfiler) Start(scope Scope) error {
	if p.stop != nil {
		return ErrRunning
	}
	p.mu.Lock()
	p.acc, p.pending, p.scope, p.ticks = nil, nil, scope, 0
	p.mu.Unlock()
	p.stop = make(chan struct{})
	p.done = make(chan struct{})
	go p.run(p.stop, p.done)
	return nil
}

func (p *wallProfiler) run(stop, done chan struct{}) {
	defer close(done)
	defer func() {
		if r := recover(); r != nil {
			p.fail(fmt.Errorf("wall sampler panic: %v", r))
		}
	}()
	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()
	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			if err := p.sample(); err != nil {
				log.WithError(err).Warn("wall sample failed")
			}
		}
	}
}

func (p *wallProfiler) sample() error {
	snap, err := snapshot("goroutine")
	if err != nil {
		return err
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	p.ticks++
	kept := snap.Sample[:0]
	for _, s := range snap.Sample {
		if p.scope.Matches(s.Label) {
			kept = append(kept, s)
		}
	}
	if len(kept) == 0 {
		return nil
	}
	snap.Sample = kept
	p.pending = append(p.pending, snap)
	if len(p.pending) >= wallMergeBatch {
		return p.flushLocked()
	}
	return nil
}

func (p *wallProfiler) flushLocked() error {
	if len(p.pending) == 0 {
		return nil
	}
	batch := p.pending
	if p.acc != nil {
		batch = append([]*profile.Profile{p.acc}, batch...)
	}
	merged, err := profile.Merge(batch)
	p.pending = nil
	if err != nil {
		return fmt.Errorf("merge goroutine snapshots: %w", err)
	}
	p.acc = merged
	return nil
}

func (p *wallProfiler) Stop() (*profile.Profile, error) {
	if p.stop == nil {
		return nil, ErrNotRunning
	}
	close(p.stop)
	<-p.done
	p.stop, p.done = nil, nil

	p.mu.Lock()
	defer p.mu.Unlock()
	if err := p.flushLocked(); err != nil {
		return nil, err
	}
	out := p.acc
	if out == nil {
		out = &profile.Profile{SampleType: []*profile.ValueType{{Type: "goroutine", Unit: "count"}}}
	}
	out.PeriodType = &profile.ValueType{Type: "wall", Unit: "nanoseconds"}
	out.Period = p.interval.Nanoseconds()
	out.DurationNanos = p.ticks * p.interval.Nanoseconds()
	return out, nil
}
