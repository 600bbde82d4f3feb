package app

import "time"

// DefaultTimeout bounds one controller request when none is given.
const DefaultTimeout = 2 * time.Second

// Options configures the top-level controller.
type Options struct {
	// Target is the default agent: a pid or a socket path.
	Target string
}

// App exposes high-level operations that the CLI/TUI can reuse.
type App struct {
	target string
}

// New constructs the shared controller facade.
func New(opts Options) *App {
	return &App{
		target: opts.Target,
	}
}

// Target returns the default agent target (if any).
func (a *App) Target() string {
	return a.target
}

// Call selects the agent and bounds one request. An empty Target uses the
// App default.
type Call struct {
	Target  string
	Timeout time.Duration
}
