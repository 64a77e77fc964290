package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/blagoySimandov/transcriptmagic/internal/api"
	"github.com/blagoySimandov/transcriptmagic/internal/auth"
	"github.com/blagoySimandov/transcriptmagic/internal/billing"
	"github.com/blagoySimandov/transcriptmagic/internal/config"
	"github.com/blagoySimandov/transcriptmagic/internal/entitlement"
	"github.com/blagoySimandov/transcriptmagic/internal/ledger"
	"github.com/blagoySimandov/transcriptmagic/internal/logger"
	"github.com/blagoySimandov/transcriptmagic/internal/store"
	"github.com/blagoySimandov/transcriptmagic/internal/transcript"
)

func newPaymentProvider(ctx context.Context, cfg *config.Config) billing.Provider {
	switch cfg.PaymentProvider {
	case config.PaymentProviderStripe:
		s := billing.NewStripe(billing.StripeConfig{
			SecretKey:     cfg.StripeSecretKey,
			WebhookSecret: cfg.StripeWebhookSecret,
			Prices:        cfg.StripePrices,
			SuccessURL:    cfg.CheckoutSuccessURL,
			CancelURL:     cfg.CheckoutCancelURL,
		})
		if cfg.StripeSecretKey != "" && len(cfg.StripePrices) < len(billing.Packages) {
			if err := s.SyncCatalog(ctx); err != nil {
				logger.Log.Error("failed to sync stripe catalog", "error", err)
			}
		}
		return s
	default:
		return billing.NewLemonSqueezy(billing.LemonSqueezyConfig{
			APIKey:        cfg.LemonSqueezyAPIKey,
			BaseURL:       cfg.LemonSqueezyBaseURL,
			StoreID:       cfg.LemonSqueezyStoreID,
			WebhookSecret: cfg.LemonSqueezyWebhookSecret,
			Variants:      cfg.LemonSqueezyVariants,
			SuccessURL:    cfg.CheckoutSuccessURL,
			Timeout:       cfg.UpstreamTimeout,
		})
	}
}

func main() {
	cfg := config.GetConfig()
	logger.Configure(cfg.LogLevel)

	ctx := context.Background()

	kv, err := store.Open(ctx, cfg)
	if err != nil {
		log.Fatalf("Failed to open %s store: %v", cfg.StoreBackend, err)
	}
	defer kv.Close()
	l := ledger.New(kv)

	idTokens, err := auth.NewGoogleIDTokenVerifier(cfg.GoogleJWKSURL, cfg.GoogleClientIDs)
	if err != nil {
		log.Fatalf("Failed to create ID token verifier: %v", err)
	}
	accessTokens := auth.NewAccessTokenVerifier(cfg.GoogleTokenInfoURL, cfg.GoogleUserInfoURL, cfg.UpstreamTimeout)
	verifier := auth.NewGoogleVerifier(accessTokens, idTokens, cfg.UpstreamTimeout)
	defer verifier.Close()

	gate := entitlement.NewGate(verifier, l)
	fetcher := transcript.NewScrapeCreatorsClient(cfg.ScrapeCreatorsAPIKey, cfg.ScrapeCreatorsBaseURL, cfg.UpstreamTimeout)
	if !fetcher.Configured() {
		logger.Log.Warn("SCRAPECREATORS_API_KEY not set, transcript requests will fail")
	}

	provider := newPaymentProvider(ctx, cfg)

	limiter := api.NewRateLimiter(cfg.RateLimitRPS, cfg.RateLimitBurst)
	defer limiter.Stop()

	router := api.SetupRoutes(api.Handlers{
		Auth:        api.NewAuthHandler(gate),
		Transcript:  api.NewTranscriptHandler(gate, fetcher),
		Entitlement: api.NewEntitlementHandler(gate),
		Checkout:    api.NewCheckoutHandler(verifier, billing.NewCheckout(provider, l), billing.NewReconciler(provider, l)),
	}, limiter, cfg.CORSAllowedOrigin)

	srv := &http.Server{
		Addr:         cfg.ServerAddr,
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: cfg.UpstreamTimeout + 15*time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		sigChan := make(chan os.Signal, 1)
		signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
		<-sigChan

		logger.Log.Info("shutting down server")

		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()

		if err := srv.Shutdown(ctx); err != nil {
			logger.Log.Error("server shutdown error", "error", err)
		}
	}()

	logger.Log.Info("server starting",
		"addr", cfg.ServerAddr, "store", cfg.StoreBackend, "payment_provider", provider.Name())
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		log.Fatalf("Server failed to start: %v", err)
	}

	logger.Log.Info("server stopped")
}
