package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"goprof/internal/app"
)

var attachOpts struct {
	backend         string
	targets         string
	module          string
	function        string
	sort            string
	resultsDir      string
	maxDuration     time.Duration
	startWait       time.Duration
	setOnSpawn      bool
	labelTransition bool
	watch           bool
	showReports     bool
}

func init() {
	f := cmdAttach.Flags()
	f.StringVarP(&attachOpts.backend, "backend", "b", "", "Profiler backend: cpu, wall or block (default from agent config)")
	f.StringVar(&attachOpts.targets, "targets", "", "Tasks to profile: name, #id, group:<g>, acceptors:<pool>, [a, b] or {a, b}")
	f.StringVarP(&attachOpts.module, "module", "m", "", "Package filter (glob)")
	f.StringVarP(&attachOpts.function, "function", "f", "", "Function filter (glob)")
	f.StringVarP(&attachOpts.sort, "sort", "s", "", "Sort key of the report")
	f.StringVarP(&attachOpts.resultsDir, "results-dir", "o", "", "Directory for result files")
	f.DurationVar(&attachOpts.maxDuration, "max-duration", 0, "Stop a profile after this long")
	f.DurationVar(&attachOpts.startWait, "start-wait", 0, "Give up on armed code profiling after this long")
	f.BoolVar(&attachOpts.setOnSpawn, "set-on-spawn", false, "Also profile tasks spawned by the targets")
	f.BoolVar(&attachOpts.labelTransition, "label-transition", false, "Serve every armed label once, one region at a time")
	f.BoolVarP(&attachOpts.watch, "watch", "w", false, "Stay attached and print session events until interrupted")
	f.BoolVar(&attachOpts.showReports, "show-reports", false, "With --watch, print report text as results arrive")
	rootCmd.AddCommand(cmdAttach)
}

var cmdAttach = &cobra.Command{
	Use:   "attach",
	Short: "Start a profiling session in the target program",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctrl := controller()
		id, err := ctrl.Attach(cmd.Context(), app.AttachParams{
			Call:            defaultCall(),
			Backend:         attachOpts.backend,
			Targets:         attachOpts.targets,
			Module:          attachOpts.module,
			Function:        attachOpts.function,
			Sort:            attachOpts.sort,
			ResultsDir:      attachOpts.resultsDir,
			MaxDuration:     attachOpts.maxDuration,
			StartWait:       attachOpts.startWait,
			SetOnSpawn:      attachOpts.setOnSpawn,
			LabelTransition: attachOpts.labelTransition,
		})
		if err != nil {
			return err
		}
		out := cmd.OutOrStdout()
		fmt.Fprintf(out, "Attached, session %s\n", id)
		if !attachOpts.watch {
			return nil
		}

		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()
		err = ctrl.Watch(ctx, defaultCall(), func(ev app.Event) error {
			printEvent(out, ev, attachOpts.showReports)
			return nil
		})
		if ctx.Err() == nil {
			return err
		}
		detachCtx, cancel := context.WithTimeout(context.Background(), timeoutFlag)
		defer cancel()
		if err := ctrl.Detach(detachCtx, defaultCall()); err != nil {
			fmt.Fprintf(out, "detach: %v\n", err)
		}
		fmt.Fprintln(out, "Detached")
		return nil
	},
}

func printEvent(w io.Writer, ev app.Event, showReports bool) {
	at := ev.At
	if at.IsZero() {
		at = time.Now()
	}
	line := fmt.Sprintf("[%s] %-18s %s/%s", at.Format("15:04:05.000"), ev.Kind, ev.State, ev.Mode)
	if ev.Label != "" {
		line += " label=" + ev.Label
	}
	if ev.Message != "" {
		line += " " + ev.Message
	}
	fmt.Fprintln(w, line)
	if showReports && ev.Result != nil {
		fmt.Fprintln(w, ev.Result.Text)
	}
}
