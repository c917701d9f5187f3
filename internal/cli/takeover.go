package cli

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/calderf/branchline/internal/ownership"
)

// NewTakeoverCommand creates the takeover command.
func NewTakeoverCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "takeover",
		Short: "Claim the shared session for this device",
		Long: `Forcefully claim the shared session, keeping its position and state.

Use this when another device crashed or went offline while owning the
session. The next play on the old device will be refused until it takes
the session back.`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runTakeover(rootOpts, cmd)
		},
	}
}

func runTakeover(opts *RootOptions, cmd *cobra.Command) error {
	a, err := openApp(opts)
	if err != nil {
		return err
	}
	defer a.close()

	out := cmd.OutOrStdout()
	art, err := ownership.NewFileStore(a.cfg.Vault).Read()
	if errors.Is(err, ownership.ErrNoArtifact) {
		fmt.Fprintln(out, "No shared session to take over.")
		return err
	}
	if err != nil {
		return fmt.Errorf("read shared session: %w", err)
	}

	ctx := commandContext(cmd)
	if err := a.coord.TakeOver(ctx, art.Session); err != nil {
		return err
	}
	fmt.Fprintf(out, "Session claimed from %s at %s/%s.\n",
		art.OwnerDeviceID, art.Session.CurrentGraph, art.Session.CurrentNode)
	fmt.Fprintln(out, "Continue with `branchline play --resume` or `branchline play`.")
	return nil
}
