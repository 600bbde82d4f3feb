package main

import (
	"context"
	"fmt"
	"time"

	"github.com/briandowns/spinner"
	"github.com/spf13/cobra"

	"goprof/internal/app"
)

var (
	analyzeWait     time.Duration
	analyzeNoReport bool
)

func init() {
	cmdAnalyze.Flags().DurationVar(&analyzeWait, "wait", 10*time.Second, "How long to wait for the report")
	cmdAnalyze.Flags().BoolVar(&analyzeNoReport, "no-report", false, "Only request the analysis, do not wait for the report")
	rootCmd.AddCommand(cmdDetach, cmdStart, cmdAnalyze, cmdReset)
}

func simpleCommand(use, short, done string, call func(controllerAPI, context.Context, app.Call) error) *cobra.Command {
	return &cobra.Command{
		Use:   use,
		Short: short,
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := call(controller(), cmd.Context(), defaultCall()); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), done)
			return nil
		},
	}
}

var cmdDetach = simpleCommand("detach", "End the session and restore the target program", "Detached",
	controllerAPI.Detach)

var cmdStart = simpleCommand("start", "Start profiling the session targets", "Start requested",
	controllerAPI.Start)

var cmdReset = simpleCommand("reset", "Abort a running profile without a report and disarm code profiling", "Reset",
	controllerAPI.Reset)

var cmdAnalyze = &cobra.Command{
	Use:   "analyze",
	Short: "Stop the running profile and print its report",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctrl := controller()
		out := cmd.OutOrStdout()
		if err := ctrl.Analyze(cmd.Context(), defaultCall()); err != nil {
			return err
		}
		if analyzeNoReport {
			fmt.Fprintln(out, "Analysis requested")
			return nil
		}

		spin := spinner.New(spinner.CharSets[21], 120*time.Millisecond, spinner.WithWriter(cmd.ErrOrStderr()))
		spin.Suffix = " Waiting for report..."
		spin.Start()
		results, err := ctrl.WaitResults(cmd.Context(), app.WaitParams{
			Call: app.Call{Timeout: analyzeWait},
		})
		spin.Stop()
		if err != nil {
			return err
		}
		for _, r := range results {
			printReport(out, r)
		}
		return nil
	},
}
