package main

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"goprof/internal/app"
)

var (
	filterModule   string
	filterFunction string
	armKeep        bool
	setTransition  string
	setMaxDuration string
	setStartWait   string
)

func init() {
	cmdFilter.Flags().StringVarP(&filterModule, "module", "m", "", "Package filter (glob)")
	cmdFilter.Flags().StringVarP(&filterFunction, "function", "f", "", "Function filter (glob)")

	cmdArm.Flags().BoolVar(&armKeep, "keep-settings", false, "Keep the current filter instead of tracing every function")

	cmdSet.Flags().StringVar(&setTransition, "label-transition", "", "on or off")
	cmdSet.Flags().StringVar(&setMaxDuration, "max-duration", "", "Maximum profile length, 0 disables")
	cmdSet.Flags().StringVar(&setStartWait, "start-wait", "", "Armed code profiling wait, 0 disables")

	rootCmd.AddCommand(cmdFilter, cmdArm, cmdSet)
}

var cmdFilter = &cobra.Command{
	Use:   "filter",
	Short: "Change the module/function filter of the session",
	RunE: func(cmd *cobra.Command, args []string) error {
		err := controller().UpdateFilter(cmd.Context(), app.FilterParams{
			Call:     defaultCall(),
			Module:   filterModule,
			Function: filterFunction,
		})
		if err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), "Filter updated")
		return nil
	},
}

var cmdArm = &cobra.Command{
	Use:   "arm [label...]",
	Short: "Arm code profiling for the next instrumented region with one of the labels",
	Long: `Arms code profiling. The next instrumented region whose label matches starts
a profile scoped to the goroutine running it. Without labels any region matches.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		err := controller().Arm(cmd.Context(), app.ArmParams{
			Call:         defaultCall(),
			Labels:       args,
			KeepSettings: armKeep,
		})
		if err != nil {
			return err
		}
		what := "any label"
		if len(args) > 0 {
			what = strings.Join(args, ", ")
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Armed for %s\n", what)
		return nil
	},
}

var cmdSet = &cobra.Command{
	Use:   "set",
	Short: "Change session settings",
	RunE: func(cmd *cobra.Command, args []string) error {
		params := app.SetParams{Call: defaultCall()}
		if setTransition != "" {
			on, err := parseSwitch(setTransition)
			if err != nil {
				return err
			}
			params.LabelTransition = &on
		}
		for _, d := range []struct {
			raw    string
			target **time.Duration
		}{
			{setMaxDuration, &params.MaxDuration},
			{setStartWait, &params.StartWait},
		} {
			if d.raw == "" {
				continue
			}
			v, err := time.ParseDuration(d.raw)
			if err != nil {
				return err
			}
			*d.target = &v
		}
		if err := controller().Set(cmd.Context(), params); err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), "Settings updated")
		return nil
	},
}

func parseSwitch(raw string) (bool, error) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "on", "true", "yes", "1":
		return true, nil
	case "off", "false", "no", "0":
		return false, nil
	}
	return false, fmt.Errorf("expected on or off, got %q", raw)
}
