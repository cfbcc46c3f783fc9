package main

import (
	"os"

	"github.com/spf13/cobra"

	"github.com/artpi/jackpoint/internal/relay"
)

func newHookCmd() *cobra.Command {
	return &cobra.Command{
		Use:    "hook",
		Short:  "Forward a hook payload from stdin to the running session",
		Hidden: true,
		Args:   cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			res := relay.Forward(cmd.Context(), cmd.InOrStdin(), os.Getenv(relay.EnvAddr))
			if os.Getenv("JACKPOINT_DEBUG") != "" {
				cmd.PrintErrln("jackpoint hook:", res)
			}
			// never fail the wrapped program's hook
			return nil
		},
	}
}
