package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

func init() {
	rootCmd.AddCommand(cmdPing)
}

// `goprof ping` checks that the agent answers. It prints "pong" and the
// session id when a controller is attached.
var cmdPing = &cobra.Command{
	Use:   "ping",
	Short: "Check agent availability (expects 'pong')",
	RunE: func(cmd *cobra.Command, args []string) error {
		msg, err := controller().Ping(cmd.Context(), defaultCall())
		if err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), msg)
		return nil
	},
}
