package main

import (
	"fmt"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/artpi/jackpoint/internal/config"
)

// app holds what every command shares: flags and env resolved through viper.
type app struct {
	v *viper.Viper
}

func newRootCmd() *cobra.Command {
	a := &app{v: viper.New()}
	a.v.SetEnvPrefix("JACKPOINT")
	a.v.AutomaticEnv()

	rootCmd := &cobra.Command{
		Use:           "jackpoint",
		Short:         "Bridge a terminal agent session to Matrix",
		Long:          "jackpoint runs a CLI agent inside tmux and relays its prompts to a Matrix room, typing replies from your phone back into the pane.",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	flags := rootCmd.PersistentFlags()
	flags.String("config", "", "settings file (default "+config.DefaultPath()+")")
	flags.Bool("debug", false, "verbose logging")
	_ = a.v.BindPFlag("config", flags.Lookup("config"))
	_ = a.v.BindPFlag("debug", flags.Lookup("debug"))

	rootCmd.AddCommand(
		newSetupCmd(a),
		newRunCmd(a),
		newHookCmd(),
		newStatusCmd(a),
		newVersionCmd(),
	)
	return rootCmd
}

// settings loads the YAML settings named by --config or JACKPOINT_CONFIG.
func (a *app) settings() (*config.Settings, error) {
	path := a.v.GetString("config")
	if path == "" {
		path = config.DefaultPath()
	}
	cfg, err := config.Load(path)
	if err != nil {
		return nil, fmt.Errorf("load settings %s: %w", path, err)
	}
	if a.v.GetBool("debug") {
		cfg.Debug = true
	}
	return cfg, nil
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		RunE: func(cmd *cobra.Command, _ []string) error {
			_, err := fmt.Fprintln(cmd.OutOrStdout(), Version)
			return err
		},
	}
}
