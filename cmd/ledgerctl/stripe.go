package main

import (
	"fmt"

	"github.com/blagoySimandov/transcriptmagic/internal/billing"
	"github.com/spf13/cobra"
)

var stripeCmd = &cobra.Command{
	Use:   "stripe",
	Short: "Manage the Stripe product catalog",
}

var stripeSyncCmd = &cobra.Command{
	Use:   "sync",
	Short: "Create missing Stripe products and prices for every credit package",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg := loadConfig()
		s := billing.NewStripe(billing.StripeConfig{SecretKey: cfg.StripeSecretKey, Prices: cfg.StripePrices})
		if err := s.SyncCatalog(cmd.Context()); err != nil {
			return err
		}
		for _, id := range billing.PackageOrder {
			fmt.Printf("%s=%s\n", id, s.PriceID(id))
		}
		return nil
	},
}

func init() {
	stripeCmd.AddCommand(stripeSyncCmd)
	rootCmd.AddCommand(stripeCmd)
}
