package main

import (
	"context"
	"time"

	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"goprof/internal/app"
)

var (
	targetFlag  string
	timeoutFlag time.Duration
	logLevel    string
)

var rootCmd = &cobra.Command{
	Use:   "goprof [command]",
	Short: "goprof: remote profiler for Go programs",
	Long: `goprof attaches to the agent embedded in a running Go program and drives
profiling sessions: whole-task profiling of named tasks, groups and acceptor
pools, or code profiling of instrumented regions selected by label.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		level, err := log.ParseLevel(logLevel)
		if err != nil {
			return err
		}
		log.SetLevel(level)
		return nil
	},
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&targetFlag, "target", "p", "", "Agent to talk to: pid of the target program or socket path (default $GOPROF_SOCKET)")
	rootCmd.PersistentFlags().DurationVarP(&timeoutFlag, "timeout", "t", app.DefaultTimeout, "Timeout of one agent request")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "warn", "Log level (debug, info, warn, error)")
}

// controllerAPI is the part of app.App the commands use.
type controllerAPI interface {
	Ping(ctx context.Context, call app.Call) (string, error)
	Attach(ctx context.Context, params app.AttachParams) (string, error)
	Detach(ctx context.Context, call app.Call) error
	Start(ctx context.Context, call app.Call) error
	Analyze(ctx context.Context, call app.Call) error
	Reset(ctx context.Context, call app.Call) error
	UpdateFilter(ctx context.Context, params app.FilterParams) error
	Arm(ctx context.Context, params app.ArmParams) error
	Set(ctx context.Context, params app.SetParams) error
	State(ctx context.Context, call app.Call) (app.State, error)
	Results(ctx context.Context, call app.Call) ([]app.Result, error)
	WaitResults(ctx context.Context, params app.WaitParams) ([]app.Result, error)
	Watch(ctx context.Context, call app.Call, fn func(app.Event) error) error
	Targets(ctx context.Context) ([]app.Target, error)
}

var controllerFactory = func() controllerAPI {
	return app.New(app.Options{Target: targetFlag})
}

func controller() controllerAPI {
	return controllerFactory()
}

func defaultCall() app.Call {
	return app.Call{Timeout: timeoutFlag}
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		log.Fatal(err)
	}
}
