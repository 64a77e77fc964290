package billing

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strconv"
	"time"

	"github.com/blagoySimandov/transcriptmagic/internal/ledger"
	"github.com/blagoySimandov/transcriptmagic/internal/models"
	"github.com/rs/zerolog/log"
)

const (
	SkipNotPaid           = "not_paid"
	WarningUserNotFound   = "user_not_found"
	WarningUnknownCredits = "unknown_credits"
)

var creditsInName = regexp.MustCompile(`\d+`)

// Result describes what a verified webhook did. Exactly one of Ignored,
// Skipped, Warning, Duplicate or CreditsAdded is set.
type Result struct {
	Event        string
	OrderID      string
	AccountID    string
	Ignored      bool
	Skipped      string
	Warning      string
	Duplicate    bool
	CreditsAdded int64
}

// Outcome names which of the mutually exclusive result fields is set.
func (r *Result) Outcome() string {
	switch {
	case r.Ignored:
		return "ignored"
	case r.Skipped != "":
		return "skipped"
	case r.Warning != "":
		return "warning"
	case r.Duplicate:
		return "duplicate"
	default:
		return "applied"
	}
}

type Reconciler struct {
	provider Provider
	ledger   *ledger.Ledger
	now      func() time.Time
}

func NewReconciler(provider Provider, l *ledger.Ledger) *Reconciler {
	return &Reconciler{
		provider: provider,
		ledger:   l,
		now:      time.Now,
	}
}

func (r *Reconciler) SignatureHeader() string {
	return r.provider.SignatureHeader()
}

// Reconcile verifies a raw webhook delivery and applies a paid order's
// credits at most once per provider order id. Unrecoverable lookups are
// reported through Result rather than an error so the provider stops
// retrying.
func (r *Reconciler) Reconcile(ctx context.Context, payload []byte, signature string) (*Result, error) {
	event, err := r.provider.VerifyWebhook(payload, signature)
	if err != nil {
		log.Warn().Err(err).Str("provider", r.provider.Name()).Msg("webhook rejected")
		return nil, err
	}

	res, err := r.reconcile(ctx, event)
	if err != nil {
		log.Error().Err(err).
			Str("provider", event.Provider).
			Str("event", event.Name).
			Str("order_id", event.OrderID).
			Msg("webhook reconciliation failed")
		return nil, err
	}

	log.Info().
		Str("provider", event.Provider).
		Str("event", event.Name).
		Str("order_id", event.OrderID).
		Str("email", event.Email).
		Str("account_id", res.AccountID).
		Str("outcome", res.Outcome()).
		Str("reason", res.Skipped+res.Warning).
		Int64("credits", res.CreditsAdded).
		Msg("webhook reconciled")
	return res, nil
}

func (r *Reconciler) reconcile(ctx context.Context, event *WebhookEvent) (*Result, error) {
	res := &Result{Event: event.Name, OrderID: event.OrderID}

	if !event.IsOrder {
		res.Ignored = true
		return res, nil
	}
	if !event.Paid {
		res.Skipped = SkipNotPaid
		return res, nil
	}

	accountID, err := r.resolveRecipient(ctx, event)
	if err != nil {
		return nil, err
	}
	if accountID == "" {
		res.Warning = WarningUserNotFound
		return res, nil
	}
	res.AccountID = accountID

	credits, ok := CreditsForEvent(event)
	if !ok {
		res.Warning = WarningUnknownCredits
		return res, nil
	}

	now := r.now()
	_, err = r.ledger.ApplyOrder(ctx, &models.ProcessedOrder{
		Provider:  event.Provider,
		OrderID:   event.OrderID,
		AccountID: accountID,
		Credits:   credits,
		AppliedAt: now,
	}, func(a *models.AccountRecord) {
		a.Plan = models.PlanPaid
		a.LastPurchaseAt = &now
		if event.CustomerID != "" {
			customerID := event.CustomerID
			a.BillingCustomerID = &customerID
		}
	})
	if errors.Is(err, ledger.ErrOrderApplied) {
		res.Duplicate = true
		return res, nil
	}
	if err != nil {
		return nil, err
	}

	res.CreditsAdded = credits
	return res, nil
}

// resolveRecipient returns "" when no account can be found.
func (r *Reconciler) resolveRecipient(ctx context.Context, event *WebhookEvent) (string, error) {
	accountID, err := r.ledger.LookupEmail(ctx, event.Email)
	if err == nil {
		return accountID, nil
	}
	if !errors.Is(err, ledger.ErrEmailNotIndexed) {
		return "", fmt.Errorf("failed to look up %s: %w", event.Email, err)
	}

	userID := event.Metadata[MetadataUserID]
	if userID == "" {
		return "", nil
	}
	_, err = r.ledger.GetAccount(ctx, userID)
	switch {
	case err == nil:
		return userID, nil
	case errors.Is(err, ledger.ErrAccountNotFound):
		return "", nil
	default:
		return "", fmt.Errorf("failed to load account %s: %w", userID, err)
	}
}

// CreditsForEvent prefers the credit count embedded at checkout and falls
// back to the first number in the product name, then the variant name.
func CreditsForEvent(event *WebhookEvent) (int64, bool) {
	if n, err := strconv.ParseInt(event.Metadata[MetadataCredits], 10, 64); err == nil && n > 0 {
		return n, true
	}
	for _, name := range []string{event.ProductName, event.VariantName} {
		if m := creditsInName.FindString(name); m != "" {
			if n, err := strconv.ParseInt(m, 10, 64); err == nil && n > 0 {
				return n, true
			}
		}
	}
	return 0, false
}
