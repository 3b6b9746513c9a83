package main

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"

	walletapp "credit-server/internal/application/wallet"
	"credit-server/internal/domain/wallet"
	"credit-server/internal/infrastructure/config"
	"credit-server/internal/infrastructure/persistence/mysql"
)

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Create ledger tables",
	Long:  `Create the wallet, transaction, allocation and fulfillment tables if they do not exist`,
	RunE: func(cmd *cobra.Command, args []string) error {
		s, err := openDB(cmd.ErrOrStderr())
		if err != nil {
			return err
		}
		defer s.Close()

		if err := mysql.Migrate(cmd.Context(), s.db); err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), "Schema is up to date")
		return nil
	},
}

var fulfillCmd = &cobra.Command{
	Use:   "fulfill",
	Short: "Run due fulfillments once",
	Long:  `Grant every fulfillment that is due and refresh the balances of wallets with expired credits`,
	RunE: func(cmd *cobra.Command, args []string) error {
		s, err := openSession(cmd.Context(), cmd.ErrOrStderr())
		if err != nil {
			return err
		}
		defer s.Close()

		batch, err := s.container.Fulfillment.ProcessPendingFulfillments(cmd.Context())
		if err != nil {
			return err
		}
		sweep, err := s.container.Fulfillment.RefreshExpiredBalances(cmd.Context())
		if err != nil {
			return err
		}

		out := cmd.OutOrStdout()
		fmt.Fprintf(out, "Fulfillments: processed=%d granted=%d failed=%d\n", batch.Processed, batch.Granted, batch.Failed)
		fmt.Fprintf(out, "Expired balances: wallets=%d refreshed=%d failed=%d\n", sweep.Wallets, sweep.Refreshed, sweep.Failed)
		return nil
	},
}

var (
	grantWallet    string
	grantAmount    int64
	grantReason    string
	grantExpiresIn time.Duration
)

var grantCmd = &cobra.Command{
	Use:   "grant",
	Short: "Give credits to a wallet",
	Example: `  # Give 100 credits that expire in 30 days
  creditctl grant --wallet wal_01h455vb4pex5vsknk084sn02q --amount 100 --reason promo --expires-in 720h`,
	PreRunE: func(cmd *cobra.Command, args []string) error {
		if grantWallet == "" {
			return fmt.Errorf("--wallet is required")
		}
		if grantAmount <= 0 {
			return fmt.Errorf("--amount must be positive")
		}
		if grantExpiresIn < 0 {
			return fmt.Errorf("--expires-in must not be negative")
		}
		return nil
	},
	RunE: func(cmd *cobra.Command, args []string) error {
		s, err := openSession(cmd.Context(), cmd.ErrOrStderr())
		if err != nil {
			return err
		}
		defer s.Close()

		req := &walletapp.GiveCreditsRequest{
			WalletID: grantWallet,
			Amount:   grantAmount,
			Reason:   grantReason,
		}
		if grantExpiresIn > 0 {
			expiresAt := s.container.Wallet.Now().Add(grantExpiresIn)
			req.ExpiresAt = &expiresAt
		}

		resp, err := s.container.Wallet.GiveCredits(cmd.Context(), req)
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Granted %d credits to %s (balance %d, transaction %s)\n",
			resp.Amount, resp.WalletID, resp.BalanceAfter, resp.TransactionID)
		return nil
	},
}

var walletOwner string

var walletCmd = &cobra.Command{
	Use:   "wallet",
	Short: "Wallet commands",
}

var walletCreateCmd = &cobra.Command{
	Use:   "create",
	Short: "Find or create the wallet of an owner",
	Example: `  creditctl wallet create --owner user:42`,
	PreRunE: func(cmd *cobra.Command, args []string) error {
		_, err := wallet.ParseOwner(walletOwner)
		return err
	},
	RunE: func(cmd *cobra.Command, args []string) error {
		owner, err := wallet.ParseOwner(walletOwner)
		if err != nil {
			return err
		}

		s, err := openSession(cmd.Context(), cmd.ErrOrStderr())
		if err != nil {
			return err
		}
		defer s.Close()

		resp, err := s.container.Wallet.FindOrCreateWallet(cmd.Context(), owner, nil)
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "%s %s balance=%d\n", resp.WalletID, resp.Owner, resp.Balance)
		return nil
	},
}

var catalogCmd = &cobra.Command{
	Use:   "catalog",
	Short: "Catalog commands",
}

var catalogCheckCmd = &cobra.Command{
	Use:   "check [file]",
	Short: "Validate a catalog file",
	Long:  `Parse a catalog file with the default credit settings and list its operations, packs and plans`,
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		path := catalogPath
		if len(args) == 1 {
			path = args[0]
		}
		if path == "" {
			return fmt.Errorf("catalog file is required")
		}

		cat, err := config.LoadCatalog(path, config.DefaultCreditsConfig())
		if err != nil {
			return err
		}

		out := cmd.OutOrStdout()
		fmt.Fprintf(out, "Operations: %s\n", strings.Join(cat.OperationNames(), ", "))
		fmt.Fprintf(out, "Packs: %s\n", strings.Join(cat.PackIDs(), ", "))
		fmt.Fprintf(out, "Plans: %s\n", strings.Join(cat.PlanIDs(), ", "))
		return nil
	},
}

func init() {
	grantCmd.Flags().StringVar(&grantWallet, "wallet", "", "wallet id")
	grantCmd.Flags().Int64Var(&grantAmount, "amount", 0, "credits to give")
	grantCmd.Flags().StringVar(&grantReason, "reason", "", "reason, used as the category when valid")
	grantCmd.Flags().DurationVar(&grantExpiresIn, "expires-in", 0, "expire the credits after this duration")

	walletCreateCmd.Flags().StringVar(&walletOwner, "owner", "", "owner as kind:id")
	walletCmd.AddCommand(walletCreateCmd)

	catalogCmd.AddCommand(catalogCheckCmd)
}
