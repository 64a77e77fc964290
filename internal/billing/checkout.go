package billing

import (
	"context"
	"fmt"
	"strconv"

	"github.com/blagoySimandov/transcriptmagic/internal/ledger"
	"github.com/blagoySimandov/transcriptmagic/internal/models"
)

type Checkout struct {
	provider Provider
	ledger   *ledger.Ledger
}

func NewCheckout(provider Provider, l *ledger.Ledger) *Checkout {
	return &Checkout{provider: provider, ledger: l}
}

// Create returns a hosted checkout URL for the selected package. The
// selector is validated before any provider call, and the buyer must already
// have an account so the paid order has somewhere to land.
func (c *Checkout) Create(ctx context.Context, identity *models.Identity, selector string) (string, error) {
	pkg := GetPackage(selector)
	if pkg == nil {
		return "", fmt.Errorf("%w: %q", ErrInvalidPackage, selector)
	}
	if c.provider == nil {
		return "", fmt.Errorf("%w: no payment provider", ErrMisconfigured)
	}
	if _, err := c.ledger.GetAccount(ctx, identity.ID); err != nil {
		return "", err
	}

	return c.provider.CreateCheckout(ctx, CheckoutRequest{
		Identity: *identity,
		Package:  pkg,
	})
}

func formatCredits(n int64) string {
	return strconv.FormatInt(n, 10)
}
