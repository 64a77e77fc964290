package billing

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"github.com/stripe/stripe-go/v84"
	"github.com/stripe/stripe-go/v84/webhook"
)

const stripeProviderName = "stripe"

// Card payments complete the session as paid. Delayed methods complete it
// unpaid and settle later with async_payment_succeeded for the same session.
var stripeOrderEvents = map[string]bool{
	"checkout.session.completed":               true,
	"checkout.session.async_payment_succeeded": true,
	"checkout.session.async_payment_failed":    true,
}

type StripeConfig struct {
	SecretKey     string
	WebhookSecret string
	Prices        map[string]string
	SuccessURL    string
	CancelURL     string
}

type Stripe struct {
	sc            *stripe.Client
	configured    bool
	webhookSecret string
	successURL    string
	cancelURL     string

	mu     sync.RWMutex
	prices map[string]string
}

func NewStripe(cfg StripeConfig) *Stripe {
	prices := make(map[string]string, len(cfg.Prices))
	for k, v := range cfg.Prices {
		prices[k] = v
	}
	return &Stripe{
		sc:            stripe.NewClient(cfg.SecretKey),
		configured:    cfg.SecretKey != "",
		webhookSecret: cfg.WebhookSecret,
		successURL:    cfg.SuccessURL,
		cancelURL:     cfg.CancelURL,
		prices:        prices,
	}
}

func (s *Stripe) Name() string {
	return stripeProviderName
}

func (s *Stripe) SignatureHeader() string {
	return "Stripe-Signature"
}

// PriceID returns the Stripe price mapped to a package, if any.
func (s *Stripe) PriceID(packageID string) string {
	return s.priceFor(packageID)
}

func (s *Stripe) priceFor(packageID string) string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.prices[packageID]
}

func (s *Stripe) setPrice(packageID, priceID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.prices[packageID] = priceID
}

func (s *Stripe) CreateCheckout(ctx context.Context, req CheckoutRequest) (string, error) {
	priceID := s.priceFor(req.Package.ID)
	if !s.configured || priceID == "" {
		return "", fmt.Errorf("%w: stripe key or price for %q not set", ErrMisconfigured, req.Package.ID)
	}

	metadata := checkoutMetadata(req)
	params := &stripe.CheckoutSessionCreateParams{
		Mode: stripe.String(string(stripe.CheckoutSessionModePayment)),
		LineItems: []*stripe.CheckoutSessionCreateLineItemParams{
			{
				Price:    stripe.String(priceID),
				Quantity: stripe.Int64(1),
			},
		},
		ClientReferenceID: stripe.String(req.Identity.ID),
		SuccessURL:        stripe.String(s.successURL),
		CancelURL:         stripe.String(s.cancelURL),
		Metadata:          metadata,
		PaymentIntentData: &stripe.CheckoutSessionCreatePaymentIntentDataParams{
			Metadata: metadata,
		},
	}
	if req.Identity.Email != "" {
		params.CustomerEmail = stripe.String(req.Identity.Email)
	}

	session, err := s.sc.V1CheckoutSessions.Create(ctx, params)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrProviderError, err)
	}
	return session.URL, nil
}

func (s *Stripe) VerifyWebhook(payload []byte, signature string) (*WebhookEvent, error) {
	if s.webhookSecret == "" {
		return nil, fmt.Errorf("%w: webhook secret not set", ErrMisconfigured)
	}
	event, err := webhook.ConstructEventWithOptions(payload, signature, s.webhookSecret, webhook.ConstructEventOptions{
		IgnoreAPIVersionMismatch: true,
	})
	if err != nil {
		if isStripeSignatureError(err) {
			return nil, fmt.Errorf("%w: %v", ErrBadSignature, err)
		}
		return nil, fmt.Errorf("%w: %v", ErrMalformedPayload, err)
	}

	out := &WebhookEvent{
		Provider: stripeProviderName,
		Name:     string(event.Type),
		IsOrder:  stripeOrderEvents[string(event.Type)],
		Metadata: map[string]string{},
	}
	if !out.IsOrder {
		return out, nil
	}

	session, err := parseEventData[checkoutSession](&event)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to parse checkout session: %v", ErrMalformedPayload, err)
	}
	if session.ID == "" {
		return nil, fmt.Errorf("%w: checkout session without id", ErrMalformedPayload)
	}

	out.OrderID = session.ID
	out.Paid = session.PaymentStatus == "paid"
	out.Email = session.CustomerDetails.Email
	if out.Email == "" {
		out.Email = session.CustomerEmail
	}
	out.CustomerID = session.Customer
	for k, v := range session.Metadata {
		out.Metadata[k] = v
	}
	if out.Metadata[MetadataUserID] == "" && session.ClientReferenceID != "" {
		out.Metadata[MetadataUserID] = session.ClientReferenceID
	}
	return out, nil
}

func isStripeSignatureError(err error) bool {
	return errors.Is(err, webhook.ErrNotSigned) ||
		errors.Is(err, webhook.ErrNoValidSignature) ||
		errors.Is(err, webhook.ErrInvalidHeader) ||
		errors.Is(err, webhook.ErrTooOld)
}

func parseEventData[T any](event *stripe.Event) (*T, error) {
	if event.Data == nil {
		return nil, errors.New("event without data")
	}
	var data T
	if err := json.Unmarshal(event.Data.Raw, &data); err != nil {
		return nil, err
	}
	return &data, nil
}

type checkoutSession struct {
	ID                string            `json:"id"`
	Customer          string            `json:"customer"`
	CustomerEmail     string            `json:"customer_email"`
	ClientReferenceID string            `json:"client_reference_id"`
	PaymentStatus     string            `json:"payment_status"`
	Metadata          map[string]string `json:"metadata"`
	CustomerDetails   struct {
		Email string `json:"email"`
	} `json:"customer_details"`
}
