// Package agent embeds the goprof agent in a Go program. The program spawns
// its long-lived goroutines through the Registry so that controllers can
// select them by name, group or acceptor pool, and marks code regions with
// the instrument package.
package agent

import (
	"context"
	"fmt"

	"goprof/internal/agent"
	"goprof/internal/config"
	"goprof/internal/registry"
	"goprof/internal/session"
)

type (
	// Registry tracks the tasks of the program.
	Registry = registry.Registry
	// SpawnOptions describe a task.
	SpawnOptions = registry.SpawnOptions
	// ProcID identifies a task.
	ProcID = registry.ProcID
	// Note is a session notification sent to code-profiling managers.
	Note = session.Note
	// Config holds the agent settings.
	Config = config.Config
)

// NewRegistry returns an empty task registry.
func NewRegistry() *Registry { return registry.New() }

// Options configures Start.
type Options struct {
	// ConfigPath points to an optional JSON or YAML config file.
	ConfigPath string
	// Config is used instead of loading ConfigPath when non-nil.
	Config *Config
	// Registry is the task registry; a new one is created when nil.
	Registry *Registry
	// Socket overrides the listening socket path.
	Socket string
}

// Agent is a running agent.
type Agent struct {
	inner *agent.Agent
	reg   *Registry
}

// Start loads the configuration and starts listening for controllers.
func Start(opts Options) (*Agent, error) {
	var cfg config.Config
	if opts.Config != nil {
		cfg = *opts.Config
	} else {
		loaded, err := config.Load(opts.ConfigPath)
		if err != nil {
			return nil, err
		}
		cfg = loaded
	}
	config.ConfigureLogging(cfg)

	reg := opts.Registry
	if reg == nil {
		reg = registry.New()
	}
	inner := agent.New(cfg, reg)
	var err error
	if opts.Socket != "" {
		err = inner.Listen(opts.Socket)
	} else {
		err = inner.Start()
	}
	if err != nil {
		return nil, fmt.Errorf("start agent: %w", err)
	}
	return &Agent{inner: inner, reg: reg}, nil
}

// Registry returns the task registry of the agent.
func (a *Agent) Registry() *Registry { return a.reg }

// Socket returns the path controllers connect to.
func (a *Agent) Socket() string { return a.inner.Path() }

// ArmCode arms code profiling from inside the program. Notes about the
// armed run are sent to manager, which may be nil.
func (a *Agent) ArmCode(labels []string, manager chan<- Note, keepSettings bool) error {
	return a.inner.ArmCode(labels, manager, keepSettings)
}

// Close detaches any controller and stops the agent. Tasks are left running.
func (a *Agent) Close(ctx context.Context) error {
	return a.inner.Close(ctx)
}
