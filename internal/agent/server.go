package agent

import (
	"context"
	"errors"
	"fmt"
	"net"
	"os"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/hashicorp/go-multierror"
	log "github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
	"google.golang.org/grpc"

	goprofv1 "goprof/api/goprof/v1"
	"goprof/internal/backend"
	"goprof/internal/config"
	"goprof/internal/coordinator"
	"goprof/internal/registry"
	"goprof/internal/resolve"
	"goprof/internal/session"
)

// ErrNotAttached is returned by session operations while no controller is attached.
var ErrNotAttached = errors.New("no controller attached")

// Option customizes an Agent.
type Option func(*Agent)

// WithClock sets the clock driving session timers.
func WithClock(c clock.Clock) Option {
	return func(a *Agent) { a.clock = c }
}

// WithProfilers replaces the runtime profilers.
func WithProfilers(fn func(backend.Kind) (backend.Factory, error)) Option {
	return func(a *Agent) { a.profilers = fn }
}

// Agent serves the controller API inside the target program.
type Agent struct {
	cfg       config.Config
	reg       *registry.Registry
	resolver  *resolve.Resolver
	clock     clock.Clock
	profilers func(backend.Kind) (backend.Factory, error)
	subst     Substitution

	mu   sync.Mutex
	sess *session.Session

	ln    net.Listener
	path  string
	srv   *grpc.Server
	group errgroup.Group
}

// New builds an agent over reg. It does not listen until Listen is called.
func New(cfg config.Config, reg *registry.Registry, opts ...Option) *Agent {
	a := &Agent{
		cfg:      cfg,
		reg:      reg,
		resolver: resolve.New(reg),
		clock:    clock.New(),
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// Start listens on the socket of the current process.
func (a *Agent) Start() error {
	return a.Listen(SocketPath(os.Getpid()))
}

// Listen binds the unix socket at path and serves the controller API.
func (a *Agent) Listen(path string) error {
	if err := EnsureRuntimeDir(path); err != nil {
		return err
	}
	// a socket file left by a dead process blocks the bind
	if _, err := os.Stat(path); err == nil {
		if err := os.Remove(path); err != nil {
			return err
		}
	}

	ln, err := net.Listen("unix", path)
	if err != nil {
		return err
	}
	if err := os.Chmod(path, 0o600); err != nil {
		ln.Close()
		return err
	}

	a.ln, a.path = ln, path
	a.srv = grpc.NewServer()
	goprofv1.RegisterSessionServer(a.srv, &service{agent: a})
	a.group.Go(func() error {
		if err := a.srv.Serve(ln); err != nil && !errors.Is(err, grpc.ErrServerStopped) {
			return err
		}
		return nil
	})
	log.WithField("socket", path).Info("agent listening")
	return nil
}

// Path returns the socket path, empty before Listen.
func (a *Agent) Path() string { return a.path }

// Close detaches any controller, stops serving and unlinks the socket.
func (a *Agent) Close(ctx context.Context) error {
	var result *multierror.Error
	if err := a.Detach(ctx); err != nil && !errors.Is(err, ErrNotAttached) {
		result = multierror.Append(result, err)
	}

	if a.srv != nil {
		stopped := make(chan struct{})
		go func() {
			a.srv.GracefulStop()
			close(stopped)
		}()
		select {
		case <-stopped:
		case <-ctx.Done():
			a.srv.Stop()
		}
		if err := a.group.Wait(); err != nil {
			result = multierror.Append(result, err)
		}
	}
	if a.path != "" {
		if err := os.Remove(a.path); err != nil && !errors.Is(err, os.ErrNotExist) {
			result = multierror.Append(result, err)
		}
	}
	return result.ErrorOrNil()
}

// Attach starts a session and installs the active hooks.
func (a *Agent) Attach(req *goprofv1.AttachRequest) (*session.Session, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.sess != nil {
		return nil, ErrAttached
	}

	opts, err := a.sessionOptions(req)
	if err != nil {
		return nil, err
	}
	store := coordinator.New(opts.LabelTransition)
	sess, err := session.New(opts, session.Deps{
		Resolver:  a.resolver,
		Watcher:   a.reg,
		Store:     store,
		Profilers: a.profilers,
		Clock:     a.clock,
	})
	if err != nil {
		store.Close()
		return nil, err
	}
	hooks := newActiveHooks(store, sess, a.cfg.CallTimeout, a.cfg.CodeTimeout)
	if err := a.subst.Attach(store, hooks); err != nil {
		_ = sess.Stop(context.Background())
		return nil, err
	}
	a.sess = sess
	go a.reap(sess)
	log.WithFields(log.Fields{"session": sess.ID(), "backend": opts.Backend, "targets": opts.Target}).Info("controller attached")
	return sess, nil
}

func (a *Agent) sessionOptions(req *goprofv1.AttachRequest) (session.Options, error) {
	if req == nil {
		req = &goprofv1.AttachRequest{}
	}
	cfg := a.cfg
	opts := session.Options{
		Backend:         backend.Kind(pick(req.GetBackend(), cfg.Backend)),
		Sort:            backend.Sort(pick(req.Sort, cfg.Sort)),
		Filter:          backend.Filter{Module: pick(req.Module, cfg.Module), Function: pick(req.Function, cfg.Function)},
		Target:          req.GetTargets(),
		ResultsDir:      pick(req.ResultsDir, cfg.ResultsDir),
		MaxDuration:     cfg.MaxDuration,
		StartWait:       cfg.StartWait,
		CodeTimeout:     cfg.CodeTimeout,
		LinkTimeout:     cfg.LinkTimeout,
		SetOnSpawn:      cfg.SetOnSpawn || req.SetOnSpawn,
		LabelTransition: cfg.LabelTransition || req.LabelTransition,
		ManagerBlocking: cfg.ManagerBlocking,
	}
	if req.MaxDurationMs < 0 || req.StartWaitMs < 0 {
		return opts, fmt.Errorf("durations must not be negative")
	}
	if req.MaxDurationMs > 0 {
		opts.MaxDuration = time.Duration(req.MaxDurationMs) * time.Millisecond
	}
	if req.StartWaitMs > 0 {
		opts.StartWait = time.Duration(req.StartWaitMs) * time.Millisecond
	}
	return opts, nil
}

func pick(v, fallback string) string {
	if v != "" {
		return v
	}
	return fallback
}

// Detach terminates the session and waits until the hooks are restored.
func (a *Agent) Detach(ctx context.Context) error {
	sess, err := a.Session()
	if err != nil {
		return err
	}
	if err := sess.Stop(ctx); err != nil {
		return err
	}
	select {
	case <-sess.Done():
	case <-ctx.Done():
		return ctx.Err()
	}
	a.release(sess)
	return nil
}

// Session returns the attached session.
func (a *Agent) Session() (*session.Session, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.sess == nil {
		return nil, ErrNotAttached
	}
	return a.sess, nil
}

// ArmCode arms code profiling and sends its notes to manager.
func (a *Agent) ArmCode(labels []string, manager chan<- session.Note, keepSettings bool) error {
	sess, err := a.Session()
	if err != nil {
		return err
	}
	clean, err := coordinator.NormalizeLabels(labels)
	if err != nil {
		return err
	}
	return sess.ArmCode(clean, manager, keepSettings)
}

func (a *Agent) reap(sess *session.Session) {
	<-sess.Done()
	a.release(sess)
}

func (a *Agent) release(sess *session.Session) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.sess != sess {
		return
	}
	a.sess = nil
	a.subst.Detach()
	log.WithField("session", sess.ID()).Info("controller detached, hooks restored")
}
