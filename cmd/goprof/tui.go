package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"goprof/internal/app"
	"goprof/internal/tui"
)

var tuiOpts tui.Options

func init() {
	cmdTUI.Flags().StringVar(&tuiOpts.Spec, "targets", "", "Target specification used when attaching")
	cmdTUI.Flags().StringVarP(&tuiOpts.Backend, "backend", "b", "", "Backend used when attaching")
	rootCmd.AddCommand(cmdTUI)
}

var cmdTUI = &cobra.Command{
	Use:   "tui",
	Short: "Launch the interactive terminal UI",
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := tui.Run(app.New(app.Options{Target: targetFlag}), tuiOpts); err != nil {
			return fmt.Errorf("tui exited with error: %w", err)
		}
		return nil
	},
}
