package main

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/blagoySimandov/transcriptmagic/internal/ledger"
	"github.com/blagoySimandov/transcriptmagic/internal/models"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
)

var deviceCmd = &cobra.Command{
	Use:   "device",
	Short: "Inspect anonymous device records",
}

var deviceGetCmd = &cobra.Command{
	Use:   "get <device-id>",
	Short: "Print a device record",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		l, kv, err := openLedger(cmd.Context())
		if err != nil {
			return err
		}
		defer kv.Close()

		d, err := l.GetDevice(cmd.Context(), args[0])
		if err != nil {
			return err
		}
		return printJSON(d)
	},
}

var accountCmd = &cobra.Command{
	Use:   "account",
	Short: "Inspect and adjust account records",
}

var accountGetCmd = &cobra.Command{
	Use:   "get <identity-id|email>",
	Short: "Print an account record, looked up by identity id or email",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		l, kv, err := openLedger(ctx)
		if err != nil {
			return err
		}
		defer kv.Close()

		id := args[0]
		if resolved, err := l.LookupEmail(ctx, id); err == nil {
			id = resolved
		}
		a, err := l.GetAccount(ctx, id)
		if err != nil {
			return err
		}
		return printJSON(a)
	},
}

var (
	grantReason string
	grantOrder  string
)

var accountGrantCmd = &cobra.Command{
	Use:   "grant <identity-id|email> <credits>",
	Short: "Add credits to an account",
	Long: `Adds credits to an existing account through the same single-writer
update path the webhook uses. Intended for orders acknowledged with
user_not_found or unknown_credits.

Pass --order provider:orderId when the grant settles a provider order. The
order is then marked processed exactly like a webhook grant, so a later
redelivery of the same order is answered as a duplicate. A grant for an
order that is already marked is refused.`,
	Args: cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		credits, err := strconv.ParseInt(args[1], 10, 64)
		if err != nil || credits <= 0 {
			return fmt.Errorf("credits must be a positive integer, got %q", args[1])
		}
		var provider, orderID string
		if grantOrder != "" {
			var ok bool
			provider, orderID, ok = strings.Cut(grantOrder, ":")
			if !ok || provider == "" || orderID == "" {
				return fmt.Errorf("--order must be provider:orderId, got %q", grantOrder)
			}
		}

		l, kv, err := openLedger(ctx)
		if err != nil {
			return err
		}
		defer kv.Close()

		id := args[0]
		if resolved, err := l.LookupEmail(ctx, id); err == nil {
			id = resolved
		}

		now := time.Now()
		var a *models.AccountRecord
		if orderID != "" {
			a, err = l.ApplyOrder(ctx, &models.ProcessedOrder{
				Provider:  provider,
				OrderID:   orderID,
				AccountID: id,
				Credits:   credits,
				AppliedAt: now,
			}, func(a *models.AccountRecord) {
				a.Plan = models.PlanPaid
				a.LastPurchaseAt = &now
			})
			if errors.Is(err, ledger.ErrOrderApplied) {
				return fmt.Errorf("order %s:%s was already applied: %w", provider, orderID, err)
			}
		} else {
			a, err = l.UpdateAccount(ctx, id, func(a *models.AccountRecord, found bool) error {
				if !found {
					return ledger.ErrAccountNotFound
				}
				a.Credits += credits
				a.UpdatedAt = now
				return nil
			})
		}
		if err != nil {
			return err
		}

		log.Info().
			Str("account_id", id).
			Int64("credits", credits).
			Int64("balance", a.Credits).
			Str("provider", provider).
			Str("order_id", orderID).
			Str("reason", grantReason).
			Msg("manual credit grant")
		return printJSON(a)
	},
}

var orderCmd = &cobra.Command{
	Use:   "order",
	Short: "Inspect processed payment orders",
}

var orderGetCmd = &cobra.Command{
	Use:   "get <provider> <order-id>",
	Short: "Print the processed-order marker for a provider order",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		l, kv, err := openLedger(cmd.Context())
		if err != nil {
			return err
		}
		defer kv.Close()

		o, err := l.GetOrder(cmd.Context(), args[0], args[1])
		if err != nil {
			return err
		}
		return printJSON(o)
	},
}

func init() {
	accountGrantCmd.Flags().StringVar(&grantReason, "reason", "", "audit note recorded with the grant")
	accountGrantCmd.Flags().StringVar(&grantOrder, "order", "", "provider order settled by this grant, as provider:orderId")
	accountGrantCmd.MarkFlagRequired("reason")

	deviceCmd.AddCommand(deviceGetCmd)
	accountCmd.AddCommand(accountGetCmd, accountGrantCmd)
	orderCmd.AddCommand(orderGetCmd)
	rootCmd.AddCommand(deviceCmd, accountCmd, orderCmd)
}
