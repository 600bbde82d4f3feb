package main

import (
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"goprof/internal/app"
)

var watchReports bool

func init() {
	cmdWatch.Flags().BoolVar(&watchReports, "show-reports", false, "Print report text as results arrive")
	rootCmd.AddCommand(cmdWatch)
}

var cmdWatch = &cobra.Command{
	Use:   "watch",
	Short: "Print session events until interrupted",
	Long: `Streams session events. The stream counts as a controller link: depending on
the agent configuration, closing it ends the session.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()
		out := cmd.OutOrStdout()
		return controller().Watch(ctx, defaultCall(), func(ev app.Event) error {
			printEvent(out, ev, watchReports)
			return nil
		})
	},
}
