package main

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/artpi/jackpoint/internal/config"
	"github.com/artpi/jackpoint/internal/coordinator"
	"github.com/artpi/jackpoint/internal/logging"
	"github.com/artpi/jackpoint/internal/metrics"
)

func newRunCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "run <program> [args...]",
		Short: "Run a program with notifications and remote replies",
		Example: "  jackpoint run claude\n" +
			"  jackpoint run claude --resume",
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := a.settings()
			if err != nil {
				return err
			}

			logPath := filepath.Join(cfg.Storage.StateDir, logging.FileName)
			log, closer, err := logging.File(logPath, cfg.Debug)
			if err != nil {
				return fmt.Errorf("open log %s: %w", logPath, err)
			}
			defer closer.Close()

			exe, err := os.Executable()
			if err != nil {
				exe = os.Args[0]
			}

			c := coordinator.New(coordinator.Options{
				Settings:   cfg,
				Executable: exe,
				Metrics:    metrics.New(),
				Log:        log,
				Stdin:      cmd.InOrStdin(),
				Stdout:     cmd.OutOrStdout(),
				Stderr:     cmd.ErrOrStderr(),
			})
			code, err := c.Run(cmd.Context(), args[0], args[1:])
			if err != nil {
				log.Error().Err(err).Msg("Run failed")
				if errors.Is(err, config.ErrNotConfigured) {
					return err
				}
				if code == 0 {
					code = 1
				}
				fmt.Fprintln(cmd.ErrOrStderr(), "jackpoint:", err)
			}
			if code != 0 {
				return exitCodeError{code: code}
			}
			return nil
		},
	}
	// everything after the program name belongs to the program
	cmd.Flags().SetInterspersed(false)
	return cmd
}
