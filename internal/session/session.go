package session

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"

	"goprof/internal/backend"
	"goprof/internal/coordinator"
	"goprof/internal/registry"
	"goprof/internal/resolve"
	"goprof/internal/results"
)

const eventBuffer = 64

// Resolver turns a target specification into live tasks.
type Resolver interface {
	Resolve(spec resolve.Spec) []registry.ProcID
}

// Watcher reports task exits.
type Watcher interface {
	Watch(id registry.ProcID) <-chan struct{}
}

// Options are the per-session settings chosen at attach time.
type Options struct {
	ID              string
	Backend         backend.Kind
	Sort            backend.Sort
	Filter          backend.Filter
	Target          string
	ResultsDir      string
	MaxDuration     time.Duration
	StartWait       time.Duration
	CodeTimeout     time.Duration
	LinkTimeout     time.Duration
	SetOnSpawn      bool
	LabelTransition bool
	ManagerBlocking bool
}

// Deps are the collaborators of a session.
type Deps struct {
	Resolver Resolver
	Watcher  Watcher
	Store    *coordinator.Store
	// Profilers builds the profiler for a backend kind; nil uses the runtime profilers.
	Profilers func(backend.Kind) (backend.Factory, error)
	Clock     clock.Clock
}

// Session is the actor owning one attachment.
type Session struct {
	id        string
	clock     clock.Clock
	resolver  Resolver
	watcher   Watcher
	store     *coordinator.Store
	factory   backend.Factory
	kind      backend.Kind
	sortKey   backend.Sort
	blocking  bool
	codeLimit time.Duration
	linkLimit time.Duration
	spawned   bool

	events chan event
	done   chan struct{}
	log    *log.Entry

	subsMu     sync.Mutex
	subs       map[int]chan Note
	nextSub    int
	subsClosed bool

	// owned by the loop goroutine
	state       State
	mode        Mode
	filter      backend.Filter
	maxDuration time.Duration
	startWait   time.Duration
	transition  bool
	adapter     *backend.Adapter
	backendGen  uint64
	spec        resolve.Spec
	hasSpec     bool
	targets     []registry.ProcID
	taskSet     *backend.TaskSet
	monitors    *monitorSet
	timerGen    uint64
	durTimer    timerSlot
	waitTimer   timerSlot
	aliveTimer  timerSlot
	links       int
	codePending bool
	wildcard    bool
	manager     chan<- Note
	code        codeRun
	startedAt   time.Time
	dir         *results.Dir
	queue       results.Queue
	terminated  bool
}

type codeRun struct {
	caller   coordinator.Caller
	label    string
	released chan struct{}
}

// New creates a session in the waiting state and starts its loop.
func New(opts Options, deps Deps) (*Session, error) {
	if deps.Store == nil {
		return nil, fmt.Errorf("session: coordinator store is required")
	}
	kind, err := backend.ParseKind(string(opts.Backend))
	if err != nil {
		return nil, err
	}
	sortKey, err := backend.ParseSort(kind, string(opts.Sort))
	if err != nil {
		return nil, err
	}
	filter := opts.Filter
	if filter.Module == "" {
		filter.Module = "*"
	}
	if filter.Function == "" {
		filter.Function = "*"
	}
	if err := filter.Validate(); err != nil {
		return nil, err
	}
	profilers := deps.Profilers
	if profilers == nil {
		profilers = backend.NewProfiler
	}
	factory, err := profilers(kind)
	if err != nil {
		return nil, err
	}
	if deps.Clock == nil {
		deps.Clock = clock.New()
	}
	if opts.ID == "" {
		opts.ID = uuid.NewString()
	}
	if opts.CodeTimeout <= 0 {
		opts.CodeTimeout = 5 * time.Second
	}

	s := &Session{
		id:          opts.ID,
		clock:       deps.Clock,
		resolver:    deps.Resolver,
		watcher:     deps.Watcher,
		store:       deps.Store,
		factory:     factory,
		kind:        kind,
		sortKey:     sortKey,
		blocking:    opts.ManagerBlocking,
		codeLimit:   opts.CodeTimeout,
		linkLimit:   opts.LinkTimeout,
		spawned:     opts.SetOnSpawn,
		events:      make(chan event, eventBuffer),
		done:        make(chan struct{}),
		subs:        make(map[int]chan Note),
		state:       StateWaiting,
		mode:        ModeNormal,
		filter:      filter,
		maxDuration: opts.MaxDuration,
		startWait:   opts.StartWait,
		transition:  opts.LabelTransition,
		monitors:    newMonitorSet(),
	}
	s.log = log.WithFields(log.Fields{"session": s.id, "backend": kind})

	if opts.Target != "" {
		spec, err := resolve.Parse(opts.Target)
		if err != nil {
			return nil, fmt.Errorf("parse target: %w", err)
		}
		s.spec, s.hasSpec = spec, true
	}
	dir, err := results.Open(opts.ResultsDir)
	if err != nil {
		return nil, err
	}
	s.dir = dir
	adapter, err := backend.New(kind, factory)
	if err != nil {
		return nil, err
	}
	s.setAdapter(adapter)
	s.store.SetTransition(s.transition)
	if s.linkLimit > 0 {
		s.armTimer(&s.aliveTimer, s.linkLimit, evKeepalive)
	}

	go s.loop()
	s.log.Info("session created")
	return s, nil
}

// ID returns the session id.
func (s *Session) ID() string { return s.id }

// Done is closed once the session has terminated.
func (s *Session) Done() <-chan struct{} { return s.done }

func (s *Session) loop() {
	defer close(s.done)
	for ev := range s.events {
		s.dispatch(ev)
		if s.terminated {
			s.drain()
			return
		}
	}
}

// drain fails every request that was queued behind the terminating event.
func (s *Session) drain() {
	for {
		select {
		case ev := <-s.events:
			if ev.reply != nil {
				ev.reply <- reply{err: ErrTerminated}
			}
		default:
			return
		}
	}
}

// post enqueues ev unless the session is gone.
func (s *Session) post(ev event) bool {
	select {
	case <-s.done:
		return false
	default:
	}
	select {
	case s.events <- ev:
		return true
	case <-s.done:
		return false
	}
}

func (s *Session) send(ev event) error {
	if !s.post(ev) {
		return ErrTerminated
	}
	return nil
}

func (s *Session) call(ctx context.Context, ev event) reply {
	ev.reply = make(chan reply, 1)
	if ev.ctx == nil {
		ev.ctx = ctx
	}
	if !s.post(ev) {
		return reply{err: ErrTerminated}
	}
	select {
	case r := <-ev.reply:
		return r
	case <-s.done:
		select {
		case r := <-ev.reply:
			return r
		default:
		}
		return reply{err: ErrTerminated}
	case <-ctx.Done():
		return reply{err: ctx.Err()}
	}
}

// Start begins process profiling. The outcome is reported through notes.
func (s *Session) Start() error { return s.send(event{kind: evStart}) }

// Analyze stops process profiling and produces a result.
func (s *Session) Analyze() error { return s.send(event{kind: evAnalyze}) }

// ArmCode arms code profiling for labels. manager, when set, receives
// result and timeout notes for this arming.
func (s *Session) ArmCode(labels []string, manager chan<- Note, keepSettings bool) error {
	clean, err := coordinator.NormalizeLabels(labels)
	if err != nil {
		return err
	}
	return s.send(event{kind: evArm, labels: clean, manager: manager, flag: keepSettings})
}

// SetLabelTransition switches label-transition mode.
func (s *Session) SetLabelTransition(on bool) error {
	return s.send(event{kind: evSetTransition, flag: on})
}

// SetMaxDuration changes the profiling time limit; zero disables it.
func (s *Session) SetMaxDuration(d time.Duration) error {
	return s.send(event{kind: evSetMaxDuration, dur: d})
}

// SetStartWait changes how long armed code profiling waits for a caller.
func (s *Session) SetStartWait(d time.Duration) error {
	return s.send(event{kind: evSetStartWait, dur: d})
}

// Touch resets the keepalive timer.
func (s *Session) Touch() { s.post(event{kind: evTouch}) }

// LinkUp registers a connected controller stream.
func (s *Session) LinkUp() error { return s.send(event{kind: evLinkUp}) }

// LinkDown unregisters a controller stream. Losing the last one terminates
// the session when detach is true.
func (s *Session) LinkDown(detach bool) { s.post(event{kind: evLinkDown, flag: detach}) }

// Stop terminates the session.
func (s *Session) Stop(ctx context.Context) error {
	r := s.call(ctx, event{kind: evStop})
	if r.err == ErrTerminated {
		return nil
	}
	return r.err
}

// Reset returns the session to waiting and disarms code profiling.
func (s *Session) Reset(ctx context.Context) error {
	return s.call(ctx, event{kind: evReset}).err
}

// UpdateFilter changes the module/function filter.
func (s *Session) UpdateFilter(ctx context.Context, f backend.Filter) error {
	return s.call(ctx, event{kind: evUpdateFilter, filter: f}).err
}

// State returns a consistent snapshot.
func (s *Session) State(ctx context.Context) (Snapshot, error) {
	r := s.call(ctx, event{kind: evGetState})
	return r.snap, r.err
}

// LatestResults drains the queued result records.
func (s *Session) LatestResults(ctx context.Context) ([]results.Record, error) {
	r := s.call(ctx, event{kind: evGetResults})
	return r.records, r.err
}

// Ping checks that the loop is responsive.
func (s *Session) Ping(ctx context.Context) error {
	return s.call(ctx, event{kind: evPing}).err
}

// CodeStart hands a granted caller to the session, which starts the backend
// scoped to it. released is closed if the session gives up on the caller.
func (s *Session) CodeStart(ctx context.Context, caller coordinator.Caller, label string, released chan struct{}) error {
	return s.call(ctx, event{kind: evCodeStart, ctx: ctx, caller: caller, label: label, released: released}).err
}

// CodeStop ends the caller's code session and waits for its result.
func (s *Session) CodeStop(ctx context.Context, caller coordinator.Caller) error {
	return s.call(ctx, event{kind: evCodeStop, caller: caller}).err
}

// CallerCrashed finalizes the code session of a caller that panicked.
func (s *Session) CallerCrashed(ctx context.Context, caller coordinator.Caller, reason string) error {
	return s.call(ctx, event{kind: evCallerCrashed, caller: caller, reason: reason}).err
}

// PseudoStart records a pseudo grant of label.
func (s *Session) PseudoStart(ctx context.Context, caller coordinator.Caller, label string) error {
	return s.call(ctx, event{kind: evPseudoStart, caller: caller, label: label}).err
}

// PseudoStop stores the elapsed-time-only result of a pseudo grant.
func (s *Session) PseudoStop(ctx context.Context, caller coordinator.Caller, label string, elapsed time.Duration) error {
	return s.call(ctx, event{kind: evPseudoStop, caller: caller, label: label, dur: elapsed}).err
}
