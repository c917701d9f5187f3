package cli

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/calderf/branchline/internal/ownership"
)

// NewStopCommand creates the stop command.
func NewStopCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:           "stop",
		Short:         "Clear this device's shared session claim",
		Long:          "Remove the shared session artifact so other devices see the session as stopped. Only the owning device may do this.",
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runStop(rootOpts, cmd)
		},
	}
}

func runStop(opts *RootOptions, cmd *cobra.Command) error {
	a, err := openApp(opts)
	if err != nil {
		return err
	}
	defer a.close()

	out := cmd.OutOrStdout()
	err = a.coord.Clear(commandContext(cmd))
	if errors.Is(err, ownership.ErrNotOwner) {
		fmt.Fprintln(out, "The session belongs to another device; use `branchline takeover` first.")
		return err
	}
	if err != nil {
		return err
	}
	fmt.Fprintln(out, "Shared session cleared.")
	return nil
}
