package agent

import (
	"context"
	"errors"
	"fmt"
	"runtime/pprof"
	"sync"
	"sync/atomic"
	"time"

	log "github.com/sirupsen/logrus"

	"goprof/instrument"
	"goprof/internal/backend"
	"goprof/internal/coordinator"
	"goprof/internal/session"
)

// codeSession is what the hooks need from the session.
type codeSession interface {
	CodeStart(ctx context.Context, caller coordinator.Caller, label string, released chan struct{}) error
	CodeStop(ctx context.Context, caller coordinator.Caller) error
	CallerCrashed(ctx context.Context, caller coordinator.Caller, reason string) error
	PseudoStart(ctx context.Context, caller coordinator.Caller, label string) error
	PseudoStop(ctx context.Context, caller coordinator.Caller, label string, elapsed time.Duration) error
}

var callerSeq atomic.Uint64

// activeHooks are installed while a controller is attached.
type activeHooks struct {
	store       *coordinator.Store
	sess        codeSession
	callTimeout time.Duration
	codeTimeout time.Duration
}

func newActiveHooks(store *coordinator.Store, sess codeSession, callTimeout, codeTimeout time.Duration) *activeHooks {
	return &activeHooks{store: store, sess: sess, callTimeout: callTimeout, codeTimeout: codeTimeout}
}

func (h *activeHooks) Enter(ctx context.Context, label string) (context.Context, instrument.Region) {
	caller := coordinator.Caller(callerSeq.Add(1))
	grant, err := h.store.Request(caller, label)
	if err != nil {
		log.WithError(err).WithField("label", label).Debug("region not profiled")
		return ctx, nil
	}

	if grant.Pseudo {
		cctx, cancel := context.WithTimeout(context.Background(), h.callTimeout)
		err := h.sess.PseudoStart(cctx, caller, grant.Label)
		cancel()
		if err != nil {
			log.WithError(err).Debug("pseudo start refused")
			return ctx, nil
		}
		return ctx, &pseudoRegion{hooks: h, caller: caller, label: grant.Label, started: time.Now()}
	}

	released := make(chan struct{})
	labelled := pprof.WithLabels(ctx, pprof.Labels(backend.CallerLabel, caller.String()))
	pprof.SetGoroutineLabels(labelled)

	cctx, cancel := context.WithTimeout(context.Background(), h.codeTimeout)
	err = h.sess.CodeStart(cctx, caller, grant.Label, released)
	cancel()
	if err != nil {
		pprof.SetGoroutineLabels(ctx)
		log.WithError(err).WithField("label", grant.Label).Warn("code profiling did not start")
		if errors.Is(err, context.DeadlineExceeded) {
			// the session may still have started; make sure it stops
			h.stop(caller)
		}
		return ctx, nil
	}
	return instrument.WithReleased(labelled, released), &codeRegion{hooks: h, caller: caller, restore: ctx}
}

func (h *activeHooks) stop(caller coordinator.Caller) {
	ctx, cancel := context.WithTimeout(context.Background(), h.codeTimeout)
	defer cancel()
	if err := h.sess.CodeStop(ctx, caller); err != nil && !errors.Is(err, session.ErrNotOwner) {
		log.WithError(err).WithField("caller", caller).Warn("code profiling stop failed")
	}
}

type codeRegion struct {
	hooks   *activeHooks
	caller  coordinator.Caller
	restore context.Context
	once    sync.Once
}

func (r *codeRegion) Exit() {
	r.once.Do(func() {
		pprof.SetGoroutineLabels(r.restore)
		r.hooks.stop(r.caller)
	})
}

func (r *codeRegion) Crash(reason any) {
	r.once.Do(func() {
		pprof.SetGoroutineLabels(r.restore)
		ctx, cancel := context.WithTimeout(context.Background(), r.hooks.codeTimeout)
		defer cancel()
		err := r.hooks.sess.CallerCrashed(ctx, r.caller, fmt.Sprint(reason))
		if err != nil && !errors.Is(err, session.ErrNotOwner) {
			log.WithError(err).WithField("caller", r.caller).Warn("crash report failed")
		}
	})
}

type pseudoRegion struct {
	hooks   *activeHooks
	caller  coordinator.Caller
	label   string
	started time.Time
	once    sync.Once
}

func (r *pseudoRegion) Exit() {
	r.once.Do(func() {
		ctx, cancel := context.WithTimeout(context.Background(), r.hooks.callTimeout)
		defer cancel()
		if err := r.hooks.sess.PseudoStop(ctx, r.caller, r.label, time.Since(r.started)); err != nil {
			log.WithError(err).Debug("pseudo stop failed")
		}
	})
}

func (r *pseudoRegion) Crash(any) { r.Exit() }
