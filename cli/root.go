package cli

import (
	"github.com/spf13/cobra"
)

const defaultConfigPath = "config/config.yaml"

// RootOptions holds global flags for all commands.
type RootOptions struct {
	ConfigPath string
}

// NewRootCommand creates the root command of the questkeeper CLI.
func NewRootCommand() *cobra.Command {
	opts := &RootOptions{}

	cmd := &cobra.Command{
		Use:   "questkeeper",
		Short: "Quest progression service",
		Long: `questkeeper keeps the quest progress of connected players: it loads
accounts on join, drives branch and stage state on a single main loop and
flushes progress back to the database.`,
		SilenceUsage: true,
	}

	cmd.PersistentFlags().StringVarP(&opts.ConfigPath, "config", "c", defaultConfigPath, "path to the YAML config file")

	cmd.AddCommand(NewServeCommand(opts))
	cmd.AddCommand(NewMigrateCommand(opts))
	cmd.AddCommand(NewValidateCommand(opts))

	return cmd
}
