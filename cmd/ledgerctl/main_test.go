package main

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"strings"
	"testing"

	"github.com/blagoySimandov/transcriptmagic/internal/billing"
	"github.com/blagoySimandov/transcriptmagic/internal/config"
	"github.com/blagoySimandov/transcriptmagic/internal/ledger"
	"github.com/blagoySimandov/transcriptmagic/internal/models"
	"github.com/blagoySimandov/transcriptmagic/internal/store"
)

func run(args ...string) error {
	storeBackend, grantReason, grantOrder = "", "", ""
	rootCmd.SetArgs(args)
	return rootCmd.Execute()
}

// sharedStore keeps one memory store alive across command invocations.
type sharedStore struct {
	store.Store
}

func (sharedStore) Close() error { return nil }

func useSharedStore(t *testing.T) *ledger.Ledger {
	t.Helper()
	kv := sharedStore{Store: store.NewMemoryStore()}
	orig := openStore
	openStore = func(ctx context.Context, cfg *config.Config) (store.Store, error) {
		return kv, nil
	}
	t.Cleanup(func() { openStore = orig })
	return ledger.New(kv)
}

func TestAccountGrantRejectsBadCredits(t *testing.T) {
	for _, credits := range []string{"0", "ten"} {
		err := run("--store", "memory", "account", "grant", "google-1", credits, "--reason", "test")
		if err == nil || !strings.Contains(err.Error(), "positive integer") {
			t.Errorf("grant %s: err = %v", credits, err)
		}
	}
}

func TestAccountGrantUnknownAccount(t *testing.T) {
	err := run("--store", "memory", "account", "grant", "google-1", "50", "--reason", "refund")
	if !errors.Is(err, ledger.ErrAccountNotFound) {
		t.Errorf("err = %v, want ErrAccountNotFound", err)
	}
}

func TestDeviceGetMissing(t *testing.T) {
	err := run("--store", "memory", "device", "get", "0b8f7c52-6a2e-4c1b-9d7e-3f2a1b0c9d8e")
	if !errors.Is(err, ledger.ErrDeviceNotFound) {
		t.Errorf("err = %v, want ErrDeviceNotFound", err)
	}
}

func TestMigrateNeedsSQLBackend(t *testing.T) {
	err := run("--store", "redis", "migrate", "status")
	if err == nil || !strings.Contains(err.Error(), "no SQL schema") {
		t.Errorf("err = %v", err)
	}
}

func TestAccountGrantSettlesOrder(t *testing.T) {
	l := useSharedStore(t)
	ctx := context.Background()

	// Order 777 was paid before the buyer had an account.
	const secret = "ls_whsec"
	payload := []byte(`{"meta":{"event_name":"order_created","custom_data":{"credits":"500"}},` +
		`"data":{"id":"777","type":"orders","attributes":{"status":"paid","user_email":"late@example.com"}}}`)
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(payload)
	signature := hex.EncodeToString(mac.Sum(nil))
	r := billing.NewReconciler(billing.NewLemonSqueezy(billing.LemonSqueezyConfig{WebhookSecret: secret}), l)

	res, err := r.Reconcile(ctx, payload, signature)
	if err != nil || res.Warning != billing.WarningUserNotFound {
		t.Fatalf("first delivery = %+v, %v", res, err)
	}

	if _, err := l.UpdateAccount(ctx, "google-late", func(a *models.AccountRecord, found bool) error {
		a.Identity = models.Identity{ID: "google-late", Email: "late@example.com"}
		a.Credits = 10
		return nil
	}); err != nil {
		t.Fatalf("seed account: %v", err)
	}
	if err := l.IndexEmail(ctx, "late@example.com", "google-late"); err != nil {
		t.Fatalf("IndexEmail: %v", err)
	}

	if err := run("account", "grant", "late@example.com", "500", "--reason", "order 777", "--order", "lemonsqueezy:777"); err != nil {
		t.Fatalf("grant: %v", err)
	}

	res, err = r.Reconcile(ctx, payload, signature)
	if err != nil || !res.Duplicate {
		t.Errorf("redelivery = %+v, %v", res, err)
	}

	err = run("account", "grant", "late@example.com", "500", "--reason", "again", "--order", "lemonsqueezy:777")
	if !errors.Is(err, ledger.ErrOrderApplied) {
		t.Errorf("repeat grant: err = %v, want ErrOrderApplied", err)
	}

	a, err := l.GetAccount(ctx, "google-late")
	if err != nil {
		t.Fatalf("GetAccount: %v", err)
	}
	if a.Credits != 510 || a.Plan != models.PlanPaid {
		t.Errorf("account = %+v, want 510 credits on paid plan", a)
	}
	order, err := l.GetOrder(ctx, "lemonsqueezy", "777")
	if err != nil || order.AccountID != "google-late" || order.Credits != 500 {
		t.Errorf("order marker = %+v, %v", order, err)
	}
}

func TestAccountGrantRejectsBadOrder(t *testing.T) {
	useSharedStore(t)
	for _, order := range []string{"777", ":777", "lemonsqueezy:"} {
		err := run("account", "grant", "google-1", "5", "--reason", "x", "--order", order)
		if err == nil || !strings.Contains(err.Error(), "provider:orderId") {
			t.Errorf("order %q: err = %v", order, err)
		}
	}
}
