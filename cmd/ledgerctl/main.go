package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"

	"github.com/blagoySimandov/transcriptmagic/internal/config"
	"github.com/blagoySimandov/transcriptmagic/internal/ledger"
	"github.com/blagoySimandov/transcriptmagic/internal/logger"
	"github.com/blagoySimandov/transcriptmagic/internal/store"
	"github.com/spf13/cobra"
)

var storeBackend string

var openStore = store.Open

var rootCmd = &cobra.Command{
	Use:   "ledgerctl",
	Short: "Inspect and repair the transcript credit ledger",
	Long: `ledgerctl runs schema migrations and reads or adjusts device, account
and order records in the configured store. Use it to reconcile payment
webhooks that were acknowledged with a warning.`,
	SilenceUsage: true,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		logger.Configure(config.GetConfig().LogLevel)
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&storeBackend, "store", "", "store backend (memory, redis, postgres, sqlite); defaults to STORE_BACKEND")
}

func loadConfig() *config.Config {
	cfg := *config.GetConfig()
	if storeBackend != "" {
		cfg.StoreBackend = storeBackend
	}
	return &cfg
}

// openLedger opens the configured store. The caller closes the returned store.
func openLedger(ctx context.Context) (*ledger.Ledger, store.Store, error) {
	kv, err := openStore(ctx, loadConfig())
	if err != nil {
		return nil, nil, err
	}
	return ledger.New(kv), kv, nil
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
