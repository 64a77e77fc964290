package billing

import (
	"context"
	"errors"

	"github.com/blagoySimandov/transcriptmagic/internal/models"
)

var (
	ErrBadSignature     = errors.New("bad webhook signature")
	ErrMalformedPayload = errors.New("malformed webhook payload")
	ErrInvalidPackage   = errors.New("invalid package")
	ErrMisconfigured    = errors.New("payment provider misconfigured")
	ErrProviderError    = errors.New("payment provider error")
)

// Keys written into checkout custom data and read back on reconciliation.
const (
	MetadataUserID  = "user_id"
	MetadataCredits = "credits"
	MetadataPackage = "package"
)

// WebhookEvent is a verified provider notification normalized across
// providers.
type WebhookEvent struct {
	Provider    string
	Name        string
	IsOrder     bool
	OrderID     string
	Paid        bool
	Email       string
	CustomerID  string
	Metadata    map[string]string
	ProductName string
	VariantName string
}

type CheckoutRequest struct {
	Identity models.Identity
	Package  *CreditPackage
}

// Provider is a payment processor that hosts checkout pages and delivers
// signed order webhooks.
type Provider interface {
	Name() string
	SignatureHeader() string
	VerifyWebhook(payload []byte, signature string) (*WebhookEvent, error)
	CreateCheckout(ctx context.Context, req CheckoutRequest) (string, error)
}

func checkoutMetadata(req CheckoutRequest) map[string]string {
	return map[string]string{
		MetadataUserID:  req.Identity.ID,
		MetadataCredits: formatCredits(req.Package.Credits),
		MetadataPackage: req.Package.ID,
	}
}
