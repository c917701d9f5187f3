package cli

import (
	"errors"
	"fmt"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/calderf/branchline/internal/ledger"
)

// NewWalletCommand creates the wallet command group.
func NewWalletCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "wallet",
		Short: "Inspect and spend earned points",
	}

	cmd.AddCommand(&cobra.Command{
		Use:           "balance",
		Short:         "Show the current balance",
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withWallet(rootOpts, cmd, func(w *ledger.Wallet, cmd *cobra.Command) error {
				balance, err := w.Balance(commandContext(cmd))
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "%d points\n", balance)
				return nil
			})
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:           "earn <amount>",
		Short:         "Credit points manually",
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			amount, err := parseAmount(args[0])
			if err != nil {
				return err
			}
			return withWallet(rootOpts, cmd, func(w *ledger.Wallet, cmd *cobra.Command) error {
				tx, err := w.Earn(commandContext(cmd), amount, `{"source":"manual"}`)
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Credited %d points (tx %s).\n", tx.Amount, tx.ID)
				return nil
			})
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:           "spend <amount>",
		Short:         "Debit points",
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			amount, err := parseAmount(args[0])
			if err != nil {
				return err
			}
			return withWallet(rootOpts, cmd, func(w *ledger.Wallet, cmd *cobra.Command) error {
				ctx := commandContext(cmd)
				tx, err := w.Spend(ctx, amount, `{"source":"manual"}`)
				if errors.Is(err, ledger.ErrInsufficientBalance) {
					balance, balErr := w.Balance(ctx)
					if balErr != nil {
						return balErr
					}
					fmt.Fprintf(cmd.OutOrStdout(), "Not enough points: balance is %d, wanted %d.\n", balance, amount)
					return err
				}
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Spent %d points (tx %s).\n", tx.Amount, tx.ID)
				return nil
			})
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:           "buy <item> <price>",
		Short:         "Purchase an item once",
		Args:          cobra.ExactArgs(2),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			price, err := parseAmount(args[1])
			if err != nil {
				return err
			}
			return withWallet(rootOpts, cmd, func(w *ledger.Wallet, cmd *cobra.Command) error {
				p, err := w.Purchase(commandContext(cmd), args[0], price)
				if errors.Is(err, ledger.ErrAlreadyOwned) {
					fmt.Fprintf(cmd.OutOrStdout(), "Already owned: %s.\n", args[0])
					return err
				}
				if errors.Is(err, ledger.ErrInsufficientBalance) {
					fmt.Fprintf(cmd.OutOrStdout(), "Not enough points for %s.\n", args[0])
					return err
				}
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Bought %s for %d points (tx %s).\n", p.ItemID, price, p.TxID)
				return nil
			})
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:           "history",
		Short:         "List every ledger entry, oldest first",
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withWallet(rootOpts, cmd, func(w *ledger.Wallet, cmd *cobra.Command) error {
				txs, err := w.History(commandContext(cmd))
				if err != nil {
					return err
				}
				out := cmd.OutOrStdout()
				for _, tx := range txs {
					sign := "+"
					if tx.Kind == ledger.KindSpend {
						sign = "-"
					}
					fmt.Fprintf(out, "%s  %s%d\t%s\n",
						tx.Timestamp.Format("2006-01-02 15:04:05"), sign, tx.Amount, tx.Metadata)
				}
				return nil
			})
		},
	})

	return cmd
}

func withWallet(rootOpts *RootOptions, cmd *cobra.Command, fn func(*ledger.Wallet, *cobra.Command) error) error {
	a, err := openApp(rootOpts)
	if err != nil {
		return err
	}
	defer a.close()
	return fn(a.wallet, cmd)
}

func parseAmount(s string) (int64, error) {
	amount, err := strconv.ParseInt(s, 10, 64)
	if err != nil || amount <= 0 {
		return 0, fmt.Errorf("amount must be a positive integer, got %q", s)
	}
	return amount, nil
}
