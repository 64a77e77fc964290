package billing

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/blagoySimandov/transcriptmagic/internal/ledger"
	"github.com/blagoySimandov/transcriptmagic/internal/models"
	"github.com/blagoySimandov/transcriptmagic/internal/store"
	"github.com/stripe/stripe-go/v84/webhook"
)

const testSecret = "whsec_test"

func sign(payload []byte) string {
	mac := hmac.New(sha256.New, []byte(testSecret))
	mac.Write(payload)
	return hex.EncodeToString(mac.Sum(nil))
}

func lsOrder(t *testing.T, event, orderID, status, email string, customData map[string]any, product, variant string) []byte {
	t.Helper()
	body := map[string]any{
		"meta": map[string]any{
			"event_name":  event,
			"custom_data": customData,
		},
		"data": map[string]any{
			"id":   orderID,
			"type": "orders",
			"attributes": map[string]any{
				"status":      status,
				"user_email":  email,
				"customer_id": 98765,
				"first_order_item": map[string]any{
					"product_name": product,
					"variant_name": variant,
				},
			},
		},
	}
	b, err := json.Marshal(body)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	return b
}

func newTestReconciler(t *testing.T) (*Reconciler, *ledger.Ledger) {
	t.Helper()
	l := ledger.New(store.NewMemoryStore())
	ls := NewLemonSqueezy(LemonSqueezyConfig{WebhookSecret: testSecret})
	return NewReconciler(ls, l), l
}

func seedAccount(t *testing.T, l *ledger.Ledger, id, email string, credits int64) {
	t.Helper()
	ctx := context.Background()
	_, err := l.UpdateAccount(ctx, id, func(a *models.AccountRecord, found bool) error {
		a.Identity = models.Identity{ID: id, Email: email}
		a.Credits = credits
		a.Plan = models.PlanFree
		return nil
	})
	if err != nil {
		t.Fatalf("seed account: %v", err)
	}
	if email != "" {
		if err := l.IndexEmail(ctx, email, id); err != nil {
			t.Fatalf("index email: %v", err)
		}
	}
}

func credits(t *testing.T, l *ledger.Ledger, id string) int64 {
	t.Helper()
	a, err := l.GetAccount(context.Background(), id)
	if err != nil {
		t.Fatalf("GetAccount: %v", err)
	}
	return a.Credits
}

func TestReconcileAppliesOrderOnce(t *testing.T) {
	r, l := newTestReconciler(t)
	seedAccount(t, l, "google-alice", "alice@example.com", 3)
	ctx := context.Background()

	payload := lsOrder(t, "order_created", "1001", "paid", "Alice@Example.com",
		map[string]any{"credits": "500", "user_id": "google-alice"}, "Popular", "Default")

	res, err := r.Reconcile(ctx, payload, sign(payload))
	if err != nil {
		t.Fatalf("Reconcile: %v", err)
	}
	if res.CreditsAdded != 500 || res.AccountID != "google-alice" {
		t.Errorf("result = %+v", res)
	}

	res, err = r.Reconcile(ctx, payload, sign(payload))
	if err != nil {
		t.Fatalf("redelivery: %v", err)
	}
	if !res.Duplicate || res.CreditsAdded != 0 {
		t.Errorf("redelivery result = %+v", res)
	}

	a, _ := l.GetAccount(ctx, "google-alice")
	if a.Credits != 503 {
		t.Errorf("credits = %d, want 503", a.Credits)
	}
	if a.Plan != models.PlanPaid || a.LastPurchaseAt == nil {
		t.Errorf("account = %+v", a)
	}
	if a.BillingCustomerID == nil || *a.BillingCustomerID != "98765" {
		t.Errorf("billing customer id = %v", a.BillingCustomerID)
	}

	order, err := l.GetOrder(ctx, "lemonsqueezy", "1001")
	if err != nil || order.Credits != 500 || order.AccountID != "google-alice" {
		t.Errorf("order = %+v, %v", order, err)
	}
}

func TestReconcileRejectsBadSignature(t *testing.T) {
	r, l := newTestReconciler(t)
	seedAccount(t, l, "google-alice", "alice@example.com", 3)

	payload := lsOrder(t, "order_created", "1002", "paid", "alice@example.com",
		map[string]any{"credits": "500"}, "Popular", "")

	for _, sig := range []string{"", "zz", sign([]byte("other body")), sign(payload)[:10]} {
		if _, err := r.Reconcile(context.Background(), payload, sig); !errors.Is(err, ErrBadSignature) {
			t.Errorf("signature %q: err = %v, want ErrBadSignature", sig, err)
		}
	}
	if got := credits(t, l, "google-alice"); got != 3 {
		t.Errorf("credits = %d, want 3", got)
	}
}

func TestReconcileOutcomes(t *testing.T) {
	tests := []struct {
		name    string
		payload func(t *testing.T) []byte
		check   func(t *testing.T, res *Result)
		credits int64
	}{
		{
			name: "other event ignored",
			payload: func(t *testing.T) []byte {
				return lsOrder(t, "subscription_created", "1", "paid", "alice@example.com", nil, "Pro 1500", "")
			},
			check:   func(t *testing.T, res *Result) { expect(t, res.Ignored, res) },
			credits: 3,
		},
		{
			name: "refunded order skipped",
			payload: func(t *testing.T) []byte {
				return lsOrder(t, "order_created", "2", "refunded", "alice@example.com", map[string]any{"credits": "100"}, "", "")
			},
			check:   func(t *testing.T, res *Result) { expect(t, res.Skipped == SkipNotPaid, res) },
			credits: 3,
		},
		{
			name: "unknown recipient",
			payload: func(t *testing.T) []byte {
				return lsOrder(t, "order_created", "3", "paid", "stranger@example.com", map[string]any{"credits": "100"}, "", "")
			},
			check:   func(t *testing.T, res *Result) { expect(t, res.Warning == WarningUserNotFound, res) },
			credits: 3,
		},
		{
			name: "unknown credits",
			payload: func(t *testing.T) []byte {
				return lsOrder(t, "order_created", "4", "paid", "alice@example.com", nil, "Credits", "Default")
			},
			check:   func(t *testing.T, res *Result) { expect(t, res.Warning == WarningUnknownCredits, res) },
			credits: 3,
		},
		{
			name: "credits parsed from product name",
			payload: func(t *testing.T) []byte {
				return lsOrder(t, "order_created", "5", "paid", "alice@example.com", nil, "Pro Pack (1500 credits)", "")
			},
			check:   func(t *testing.T, res *Result) { expect(t, res.CreditsAdded == 1500, res) },
			credits: 1503,
		},
		{
			name: "credits parsed from variant name",
			payload: func(t *testing.T) []byte {
				return lsOrder(t, "order_created", "6", "paid", "alice@example.com", map[string]any{"credits": "abc"}, "Credits", "100 credits")
			},
			check:   func(t *testing.T, res *Result) { expect(t, res.CreditsAdded == 100, res) },
			credits: 103,
		},
		{
			name: "recipient from checkout user id",
			payload: func(t *testing.T) []byte {
				return lsOrder(t, "order_created", "7", "paid", "billing@other.com", map[string]any{"credits": 500, "user_id": "google-alice"}, "", "")
			},
			check:   func(t *testing.T, res *Result) { expect(t, res.CreditsAdded == 500 && res.AccountID == "google-alice", res) },
			credits: 503,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r, l := newTestReconciler(t)
			seedAccount(t, l, "google-alice", "alice@example.com", 3)

			payload := tt.payload(t)
			res, err := r.Reconcile(context.Background(), payload, sign(payload))
			if err != nil {
				t.Fatalf("Reconcile: %v", err)
			}
			tt.check(t, res)
			if got := credits(t, l, "google-alice"); got != tt.credits {
				t.Errorf("credits = %d, want %d", got, tt.credits)
			}
		})
	}
}

func expect(t *testing.T, ok bool, res *Result) {
	t.Helper()
	if !ok {
		t.Errorf("unexpected result %+v", res)
	}
}

func TestReconcileMalformedPayload(t *testing.T) {
	r, _ := newTestReconciler(t)
	payload := []byte(`{"meta": not json`)
	if _, err := r.Reconcile(context.Background(), payload, sign(payload)); !errors.Is(err, ErrMalformedPayload) {
		t.Errorf("err = %v, want ErrMalformedPayload", err)
	}
}

func TestReconcileReleasesMarkerWhenGrantFails(t *testing.T) {
	r, l := newTestReconciler(t)
	ctx := context.Background()
	// Index points at an account that does not exist.
	if err := l.IndexEmail(ctx, "ghost@example.com", "google-ghost"); err != nil {
		t.Fatalf("IndexEmail: %v", err)
	}

	payload := lsOrder(t, "order_created", "9", "paid", "ghost@example.com", map[string]any{"credits": "100"}, "", "")
	if _, err := r.Reconcile(ctx, payload, sign(payload)); !errors.Is(err, ledger.ErrAccountNotFound) {
		t.Fatalf("err = %v, want ErrAccountNotFound", err)
	}
	if _, err := l.GetOrder(ctx, "lemonsqueezy", "9"); !errors.Is(err, ledger.ErrOrderNotFound) {
		t.Errorf("marker kept after failed grant: %v", err)
	}
}

func TestCheckoutRoundTrip(t *testing.T) {
	var captured map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/checkouts" || r.Method != http.MethodPost {
			t.Errorf("unexpected request %s %s", r.Method, r.URL.Path)
		}
		if r.Header.Get("Authorization") != "Bearer ls_key" {
			t.Errorf("authorization = %q", r.Header.Get("Authorization"))
		}
		body, _ := io.ReadAll(r.Body)
		if err := json.Unmarshal(body, &captured); err != nil {
			t.Errorf("bad body: %v", err)
		}
		w.Header().Set("Content-Type", "application/vnd.api+json")
		w.WriteHeader(http.StatusCreated)
		w.Write([]byte(`{"data":{"type":"checkouts","id":"c1","attributes":{"url":"https://shop.example/checkout/c1"}}}`))
	}))
	defer srv.Close()

	ls := NewLemonSqueezy(LemonSqueezyConfig{
		APIKey:        "ls_key",
		BaseURL:       srv.URL,
		StoreID:       "store-1",
		WebhookSecret: testSecret,
		Variants:      map[string]string{"popular": "variant-500"},
		Timeout:       time.Second,
	})
	identity := &models.Identity{ID: "google-alice", Email: "alice@example.com", DisplayName: "Alice"}
	l := ledger.New(store.NewMemoryStore())
	seedAccount(t, l, "google-alice", "", 0)

	url, err := NewCheckout(ls, l).Create(context.Background(), identity, "Popular")
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if url != "https://shop.example/checkout/c1" {
		t.Errorf("url = %q", url)
	}

	data := captured["data"].(map[string]any)
	custom := data["attributes"].(map[string]any)["checkout_data"].(map[string]any)["custom"].(map[string]any)
	if custom["user_id"] != "google-alice" || custom["credits"] != "500" || custom["package"] != "popular" {
		t.Errorf("custom data = %v", custom)
	}
	variant := data["relationships"].(map[string]any)["variant"].(map[string]any)["data"].(map[string]any)
	if variant["id"] != "variant-500" {
		t.Errorf("variant = %v", variant)
	}

	// The provider echoes custom data back on the order webhook.
	payload := lsOrder(t, "order_created", "2001", "paid", "card-holder@example.com", custom, "Anything", "")
	res, err := NewReconciler(ls, l).Reconcile(context.Background(), payload, sign(payload))
	if err != nil {
		t.Fatalf("Reconcile: %v", err)
	}
	if res.CreditsAdded != 500 {
		t.Errorf("result = %+v", res)
	}
}

func TestCheckoutErrors(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnprocessableEntity)
		w.Write([]byte(`{"errors":[{"detail":"bad variant"}]}`))
	}))
	defer srv.Close()

	identity := &models.Identity{ID: "google-alice", Email: "alice@example.com"}
	ctx := context.Background()
	l := ledger.New(store.NewMemoryStore())
	seedAccount(t, l, "google-alice", "alice@example.com", 0)

	full := NewLemonSqueezy(LemonSqueezyConfig{
		APIKey: "k", BaseURL: srv.URL, StoreID: "s",
		Variants: map[string]string{"starter": "v1"},
	})

	tests := []struct {
		name     string
		provider Provider
		selector string
		want     error
	}{
		{"unknown package", full, "mega", ErrInvalidPackage},
		{"empty package", full, "", ErrInvalidPackage},
		{"no provider", nil, "starter", ErrMisconfigured},
		{"no variant mapping", full, "pro", ErrMisconfigured},
		{"no api key", NewLemonSqueezy(LemonSqueezyConfig{StoreID: "s", Variants: map[string]string{"starter": "v1"}}), "starter", ErrMisconfigured},
		{"provider rejection", full, "starter", ErrProviderError},
		{"stripe without key", NewStripe(StripeConfig{Prices: map[string]string{"starter": "price_1"}}), "starter", ErrMisconfigured},
		{"stripe without price", NewStripe(StripeConfig{SecretKey: "sk_test_x"}), "starter", ErrMisconfigured},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewCheckout(tt.provider, l).Create(ctx, identity, tt.selector)
			if !errors.Is(err, tt.want) {
				t.Errorf("err = %v, want %v", err, tt.want)
			}
		})
	}
}

func TestCheckoutRequiresAccount(t *testing.T) {
	called := false
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		called = true
		w.WriteHeader(http.StatusCreated)
		w.Write([]byte(`{"data":{"attributes":{"url":"https://shop.example/checkout/c2"}}}`))
	}))
	defer srv.Close()

	ls := NewLemonSqueezy(LemonSqueezyConfig{
		APIKey: "k", BaseURL: srv.URL, StoreID: "s",
		Variants: map[string]string{"popular": "v500"},
	})
	l := ledger.New(store.NewMemoryStore())
	bob := &models.Identity{ID: "google-bob", Email: "bob@example.com"}

	if _, err := NewCheckout(ls, l).Create(context.Background(), bob, "popular"); !errors.Is(err, ledger.ErrAccountNotFound) {
		t.Fatalf("err = %v, want ErrAccountNotFound", err)
	}
	if called {
		t.Error("provider called for identity without an account")
	}
}

func TestReconcileMissingWebhookSecret(t *testing.T) {
	l := ledger.New(store.NewMemoryStore())
	seedAccount(t, l, "google-alice", "alice@example.com", 3)
	payload := lsOrder(t, "order_created", "3001", "paid", "alice@example.com", map[string]any{"credits": "100"}, "", "")

	for _, p := range []Provider{
		NewLemonSqueezy(LemonSqueezyConfig{}),
		NewStripe(StripeConfig{SecretKey: "sk_test_x"}),
	} {
		_, err := NewReconciler(p, l).Reconcile(context.Background(), payload, sign(payload))
		if !errors.Is(err, ErrMisconfigured) || errors.Is(err, ErrBadSignature) {
			t.Errorf("%s: err = %v, want ErrMisconfigured", p.Name(), err)
		}
	}
	if got := credits(t, l, "google-alice"); got != 3 {
		t.Errorf("credits = %d, want 3", got)
	}
}

func stripeEvent(t *testing.T, eventType string, object map[string]any) []byte {
	t.Helper()
	b, err := json.Marshal(map[string]any{
		"id":          "evt_1",
		"object":      "event",
		"type":        eventType,
		"api_version": "2020-08-27",
		"data":        map[string]any{"object": object},
	})
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	return b
}

func TestStripeReconcile(t *testing.T) {
	l := ledger.New(store.NewMemoryStore())
	seedAccount(t, l, "google-bob", "bob@example.com", 1)
	s := NewStripe(StripeConfig{SecretKey: "sk_test_x", WebhookSecret: testSecret})
	r := NewReconciler(s, l)
	ctx := context.Background()

	payload := stripeEvent(t, "checkout.session.completed", map[string]any{
		"id":                  "cs_test_1",
		"object":              "checkout.session",
		"payment_status":      "paid",
		"customer":            "cus_42",
		"client_reference_id": "google-bob",
		"customer_details":    map[string]any{"email": "bob@example.com"},
		"metadata":            map[string]any{"credits": "100", "package": "starter"},
	})
	signed := webhook.GenerateTestSignedPayload(&webhook.UnsignedPayload{Payload: payload, Secret: testSecret})

	res, err := r.Reconcile(ctx, payload, signed.Header)
	if err != nil {
		t.Fatalf("Reconcile: %v", err)
	}
	if res.CreditsAdded != 100 {
		t.Errorf("result = %+v", res)
	}
	res, err = r.Reconcile(ctx, payload, signed.Header)
	if err != nil || !res.Duplicate {
		t.Errorf("redelivery = %+v, %v", res, err)
	}

	a, _ := l.GetAccount(ctx, "google-bob")
	if a.Credits != 101 || a.BillingCustomerID == nil || *a.BillingCustomerID != "cus_42" {
		t.Errorf("account = %+v", a)
	}

	if _, err := r.Reconcile(ctx, payload, "t=1,v1=deadbeef"); !errors.Is(err, ErrBadSignature) {
		t.Errorf("bad signature err = %v", err)
	}

	other := stripeEvent(t, "invoice.paid", map[string]any{"id": "in_1"})
	signedOther := webhook.GenerateTestSignedPayload(&webhook.UnsignedPayload{Payload: other, Secret: testSecret})
	res, err = r.Reconcile(ctx, other, signedOther.Header)
	if err != nil || !res.Ignored {
		t.Errorf("other event = %+v, %v", res, err)
	}
}

func TestStripeDelayedPayment(t *testing.T) {
	l := ledger.New(store.NewMemoryStore())
	seedAccount(t, l, "google-bob", "bob@example.com", 0)
	r := NewReconciler(NewStripe(StripeConfig{SecretKey: "sk_test_x", WebhookSecret: testSecret}), l)
	ctx := context.Background()

	session := func(status string) map[string]any {
		return map[string]any{
			"id":                  "cs_test_async",
			"object":              "checkout.session",
			"payment_status":      status,
			"client_reference_id": "google-bob",
			"customer_details":    map[string]any{"email": "bob@example.com"},
			"metadata":            map[string]any{"credits": "500"},
		}
	}
	deliver := func(eventType, status string) *Result {
		t.Helper()
		payload := stripeEvent(t, eventType, session(status))
		signed := webhook.GenerateTestSignedPayload(&webhook.UnsignedPayload{Payload: payload, Secret: testSecret})
		res, err := r.Reconcile(ctx, payload, signed.Header)
		if err != nil {
			t.Fatalf("%s: %v", eventType, err)
		}
		return res
	}

	if res := deliver("checkout.session.completed", "unpaid"); res.Skipped != SkipNotPaid {
		t.Errorf("completed unpaid = %+v", res)
	}
	if res := deliver("checkout.session.async_payment_succeeded", "paid"); res.CreditsAdded != 500 {
		t.Errorf("async succeeded = %+v", res)
	}
	if res := deliver("checkout.session.async_payment_succeeded", "paid"); !res.Duplicate {
		t.Errorf("async redelivery = %+v", res)
	}
	if got := credits(t, l, "google-bob"); got != 500 {
		t.Errorf("credits = %d, want 500", got)
	}

	l2 := ledger.New(store.NewMemoryStore())
	seedAccount(t, l2, "google-bob", "bob@example.com", 0)
	r = NewReconciler(NewStripe(StripeConfig{SecretKey: "sk_test_x", WebhookSecret: testSecret}), l2)
	if res := deliver("checkout.session.async_payment_failed", "unpaid"); res.Skipped != SkipNotPaid {
		t.Errorf("async failed = %+v", res)
	}
}

func TestCreditsForEvent(t *testing.T) {
	tests := []struct {
		event *WebhookEvent
		want  int64
		ok    bool
	}{
		{&WebhookEvent{Metadata: map[string]string{"credits": "500"}, ProductName: "100"}, 500, true},
		{&WebhookEvent{Metadata: map[string]string{"credits": "0"}, ProductName: "Starter 100"}, 100, true},
		{&WebhookEvent{Metadata: map[string]string{"credits": "-5"}}, 0, false},
		{&WebhookEvent{ProductName: "Credits", VariantName: "1500 pack"}, 1500, true},
		{&WebhookEvent{ProductName: "Credits"}, 0, false},
	}
	for _, tt := range tests {
		got, ok := CreditsForEvent(tt.event)
		if got != tt.want || ok != tt.ok {
			t.Errorf("CreditsForEvent(%+v) = %d, %v; want %d, %v", tt.event, got, ok, tt.want, tt.ok)
		}
	}
}
