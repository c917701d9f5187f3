package cli

import (
	"fmt"

	"github.com/spf13/cobra"
)

// NewStatusCommand creates the status command.
func NewStatusCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:           "status",
		Short:         "Show the shared session and wallet state",
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runStatus(rootOpts, cmd)
		},
	}
}

func runStatus(opts *RootOptions, cmd *cobra.Command) error {
	a, err := openApp(opts)
	if err != nil {
		return err
	}
	defer a.close()

	ctx := commandContext(cmd)
	out := cmd.OutOrStdout()

	fmt.Fprintf(out, "device:  %s\n", a.deviceID)
	fmt.Fprintf(out, "vault:   %s\n", a.cfg.Vault)

	st, err := a.coord.Inspect(ctx)
	if err != nil {
		fmt.Fprintf(out, "session: unreadable (%v)\n", err)
	} else if !st.Exists {
		fmt.Fprintln(out, "session: none")
	} else {
		owner := st.OwnerDevice
		if st.OwnedBySelf {
			owner += " (this device)"
		}
		freshness := "stale"
		if st.Fresh {
			freshness = "fresh"
		}
		fmt.Fprintf(out, "session: v%d at %s/%s, owned by %s (%s, updated %s)\n",
			st.Version, st.CurrentGraph, st.CurrentNode, owner, freshness,
			st.UpdatedAt.Format("2006-01-02 15:04:05"))
	}

	balance, err := a.wallet.Balance(ctx)
	if err != nil {
		return err
	}
	fmt.Fprintf(out, "wallet:  %d points\n", balance)
	return nil
}
