package main

import (
	"errors"
	"fmt"
	"os"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/artpi/jackpoint/internal/config"
	"github.com/artpi/jackpoint/internal/session"
	"github.com/artpi/jackpoint/internal/store"
	"github.com/artpi/jackpoint/internal/tmux"
)

func newStatusCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show the configured account and the room of this pane",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := a.settings()
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			dir := cfg.Storage.StateDir

			creds, err := config.LoadCredentials(dir)
			switch {
			case errors.Is(err, config.ErrNotConfigured):
				fmt.Fprintln(out, "Account:  not configured (run `jackpoint setup`)")
			case err != nil:
				return err
			default:
				fmt.Fprintf(out, "Account:  %s on %s\n", creds.UserID, creds.Homeserver)
				fmt.Fprintf(out, "Notify:   %s\n", creds.Recipient)
			}

			cwd, err := os.Getwd()
			if err != nil {
				cwd = "."
			}
			identity := session.Detect(tmux.NewClient(&cfg.Tmux, zerolog.Nop()), cwd)
			key := identity.Key()
			fmt.Fprintf(out, "Session:  %s\n", key)

			rec := store.New(dir).Load()
			if room, ok := rec.Rooms[key]; ok {
				fmt.Fprintf(out, "Room:     %s\n", room)
			} else {
				fmt.Fprintln(out, "Room:     none yet")
			}
			fmt.Fprintf(out, "Sessions: %d mapped\n", len(rec.Rooms))
			if rec.AccessToken == "" {
				fmt.Fprintln(out, "Login:    no cached token")
			}
			return nil
		},
	}
}
