package billing

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/blagoySimandov/transcriptmagic/internal/logger"
)

const (
	lemonSqueezyProviderName = "lemonsqueezy"
	lemonSqueezyOrderEvent   = "order_created"
	lemonSqueezyContentType  = "application/vnd.api+json"
)

type LemonSqueezyConfig struct {
	APIKey        string
	BaseURL       string
	StoreID       string
	WebhookSecret string
	Variants      map[string]string
	SuccessURL    string
	Timeout       time.Duration
}

type LemonSqueezy struct {
	cfg        LemonSqueezyConfig
	httpClient *http.Client
}

func NewLemonSqueezy(cfg LemonSqueezyConfig) *LemonSqueezy {
	if cfg.BaseURL == "" {
		cfg.BaseURL = "https://api.lemonsqueezy.com"
	}
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	return &LemonSqueezy{
		cfg:        cfg,
		httpClient: &http.Client{Timeout: cfg.Timeout},
	}
}

func (l *LemonSqueezy) Name() string {
	return lemonSqueezyProviderName
}

func (l *LemonSqueezy) SignatureHeader() string {
	return "X-Signature"
}

type lemonSqueezyWebhook struct {
	Meta struct {
		EventName  string         `json:"event_name"`
		CustomData map[string]any `json:"custom_data"`
	} `json:"meta"`
	Data struct {
		ID         string `json:"id"`
		Type       string `json:"type"`
		Attributes struct {
			Status         string `json:"status"`
			UserEmail      string `json:"user_email"`
			CustomerID     any    `json:"customer_id"`
			FirstOrderItem struct {
				ProductName string `json:"product_name"`
				VariantName string `json:"variant_name"`
			} `json:"first_order_item"`
		} `json:"attributes"`
	} `json:"data"`
}

func (l *LemonSqueezy) VerifyWebhook(payload []byte, signature string) (*WebhookEvent, error) {
	if l.cfg.WebhookSecret == "" {
		return nil, fmt.Errorf("%w: webhook secret not set", ErrMisconfigured)
	}
	given, err := hex.DecodeString(strings.TrimSpace(signature))
	if err != nil || len(given) == 0 {
		return nil, ErrBadSignature
	}
	mac := hmac.New(sha256.New, []byte(l.cfg.WebhookSecret))
	mac.Write(payload)
	if !hmac.Equal(mac.Sum(nil), given) {
		return nil, ErrBadSignature
	}

	var body lemonSqueezyWebhook
	if err := json.Unmarshal(payload, &body); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedPayload, err)
	}

	attrs := body.Data.Attributes
	event := &WebhookEvent{
		Provider:    lemonSqueezyProviderName,
		Name:        body.Meta.EventName,
		IsOrder:     body.Meta.EventName == lemonSqueezyOrderEvent,
		OrderID:     body.Data.ID,
		Paid:        attrs.Status == "paid",
		Email:       attrs.UserEmail,
		CustomerID:  stringify(attrs.CustomerID),
		Metadata:    make(map[string]string, len(body.Meta.CustomData)),
		ProductName: attrs.FirstOrderItem.ProductName,
		VariantName: attrs.FirstOrderItem.VariantName,
	}
	for k, v := range body.Meta.CustomData {
		event.Metadata[k] = stringify(v)
	}
	if event.IsOrder && event.OrderID == "" {
		return nil, fmt.Errorf("%w: order without id", ErrMalformedPayload)
	}
	return event, nil
}

type lemonSqueezyRelationship struct {
	Data struct {
		Type string `json:"type"`
		ID   string `json:"id"`
	} `json:"data"`
}

func relationship(kind, id string) lemonSqueezyRelationship {
	var r lemonSqueezyRelationship
	r.Data.Type = kind
	r.Data.ID = id
	return r
}

func (l *LemonSqueezy) CreateCheckout(ctx context.Context, req CheckoutRequest) (string, error) {
	variantID := l.cfg.Variants[req.Package.ID]
	if l.cfg.APIKey == "" || l.cfg.StoreID == "" || variantID == "" {
		return "", fmt.Errorf("%w: lemon squeezy store, key or variant for %q not set", ErrMisconfigured, req.Package.ID)
	}

	checkoutData := map[string]any{
		"custom": checkoutMetadata(req),
	}
	if req.Identity.Email != "" {
		checkoutData["email"] = req.Identity.Email
	}
	if req.Identity.DisplayName != "" {
		checkoutData["name"] = req.Identity.DisplayName
	}
	attributes := map[string]any{"checkout_data": checkoutData}
	if l.cfg.SuccessURL != "" {
		attributes["product_options"] = map[string]any{"redirect_url": l.cfg.SuccessURL}
	}

	body, err := json.Marshal(map[string]any{
		"data": map[string]any{
			"type":       "checkouts",
			"attributes": attributes,
			"relationships": map[string]any{
				"store":   relationship("stores", l.cfg.StoreID),
				"variant": relationship("variants", variantID),
			},
		},
	})
	if err != nil {
		return "", fmt.Errorf("failed to encode checkout: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, l.cfg.BaseURL+"/v1/checkouts", bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("failed to build checkout request: %w", err)
	}
	httpReq.Header.Set("Accept", lemonSqueezyContentType)
	httpReq.Header.Set("Content-Type", lemonSqueezyContentType)
	httpReq.Header.Set("Authorization", "Bearer "+l.cfg.APIKey)

	resp, err := l.httpClient.Do(httpReq)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrProviderError, err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return "", fmt.Errorf("%w: failed to read response: %v", ErrProviderError, err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		logger.Log.Error("lemon squeezy checkout rejected", "status", resp.StatusCode, "body", string(respBody))
		return "", fmt.Errorf("%w: status %d", ErrProviderError, resp.StatusCode)
	}

	var parsed struct {
		Data struct {
			Attributes struct {
				URL string `json:"url"`
			} `json:"attributes"`
		} `json:"data"`
	}
	if err := json.Unmarshal(respBody, &parsed); err != nil || parsed.Data.Attributes.URL == "" {
		return "", fmt.Errorf("%w: checkout response without url", ErrProviderError)
	}
	return parsed.Data.Attributes.URL, nil
}

func stringify(v any) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return t
	case float64:
		return fmt.Sprintf("%.0f", t)
	default:
		return fmt.Sprint(t)
	}
}
