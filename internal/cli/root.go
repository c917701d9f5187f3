// Package cli wires the player's commands together.
package cli

import (
	"github.com/spf13/cobra"
)

// RootOptions holds global flags shared by every command.
type RootOptions struct {
	ConfigPath string
	Vault      string
	DataDir    string
	Verbose    bool
}

// NewRootCommand builds the branchline command tree.
func NewRootCommand() *cobra.Command {
	opts := &RootOptions{}

	cmd := &cobra.Command{
		Use:           "branchline",
		Short:         "Play branching story graphs from a synced vault",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	cmd.PersistentFlags().StringVar(&opts.ConfigPath, "config", "", "path to config file (YAML)")
	cmd.PersistentFlags().StringVar(&opts.Vault, "vault", "", "graph vault directory (overrides config)")
	cmd.PersistentFlags().StringVar(&opts.DataDir, "data-dir", "", "per-device data directory (overrides config)")
	cmd.PersistentFlags().BoolVarP(&opts.Verbose, "verbose", "v", false, "debug logging")

	cmd.AddCommand(NewPlayCommand(opts))
	cmd.AddCommand(NewStatusCommand(opts))
	cmd.AddCommand(NewStopCommand(opts))
	cmd.AddCommand(NewTakeoverCommand(opts))
	cmd.AddCommand(NewValidateCommand(opts))
	cmd.AddCommand(NewWalletCommand(opts))

	return cmd
}
