package api

import (
	"errors"
	"io"
	"net/http"

	"github.com/blagoySimandov/transcriptmagic/internal/auth"
	"github.com/blagoySimandov/transcriptmagic/internal/billing"
	"github.com/blagoySimandov/transcriptmagic/internal/ledger"
	"github.com/blagoySimandov/transcriptmagic/internal/logger"
	"github.com/blagoySimandov/transcriptmagic/internal/logging"
)

type CheckoutHandler struct {
	verifier   auth.Verifier
	checkout   *billing.Checkout
	reconciler *billing.Reconciler
}

func NewCheckoutHandler(verifier auth.Verifier, checkout *billing.Checkout, reconciler *billing.Reconciler) *CheckoutHandler {
	return &CheckoutHandler{
		verifier:   verifier,
		checkout:   checkout,
		reconciler: reconciler,
	}
}

type CreateCheckoutRequest struct {
	credentialRequest
	Package string `json:"package"`
	Plan    string `json:"plan"`
}

type PackageResponse struct {
	ID          string `json:"id"`
	DisplayName string `json:"display_name"`
	Credits     int64  `json:"credits"`
	PriceCents  int64  `json:"price_cents"`
}

func (h *CheckoutHandler) ListPackages(w http.ResponseWriter, r *http.Request) {
	packages := make([]PackageResponse, 0, len(billing.PackageOrder))
	for _, id := range billing.PackageOrder {
		p := billing.Packages[id]
		packages = append(packages, PackageResponse{
			ID:          p.ID,
			DisplayName: p.DisplayName,
			Credits:     p.Credits,
			PriceCents:  p.PriceCents,
		})
	}

	writeJSON(w, http.StatusOK, packages)
}

func (h *CheckoutHandler) CreateCheckout(w http.ResponseWriter, r *http.Request) {
	var req CreateCheckoutRequest
	if err := decodeBody(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, errBadRequest)
		return
	}
	selector := req.Package
	if selector == "" {
		selector = req.Plan
	}
	if billing.GetPackage(selector) == nil {
		writeError(w, http.StatusBadRequest, errInvalidPackage)
		return
	}

	identity, err := h.verifier.Verify(r.Context(), req.credential(r))
	if err != nil {
		if !writeCredentialError(w, r, err) {
			writeInternal(w, r, err, "auth")
		}
		return
	}
	logging.EnrichIdentity(r.Context(), identity.ID, identity.Email)
	logging.EnrichMetadata(r.Context(), "package", selector)

	url, err := h.checkout.Create(r.Context(), identity, selector)
	if err != nil {
		logging.EnrichError(r.Context(), err, "checkout")
		switch {
		case errors.Is(err, billing.ErrInvalidPackage):
			writeError(w, http.StatusBadRequest, errInvalidPackage)
		case errors.Is(err, ledger.ErrAccountNotFound):
			writeError(w, http.StatusNotFound, errAccountNotFound)
		case errors.Is(err, billing.ErrMisconfigured):
			logger.Log.Error("checkout misconfigured", "error", err)
			writeError(w, http.StatusInternalServerError, errMisconfigured)
		case errors.Is(err, billing.ErrProviderError):
			writeError(w, http.StatusBadGateway, errProvider)
		default:
			writeInternal(w, r, err, "checkout")
		}
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{"url": url})
}

func (h *CheckoutHandler) HandleWebhook(w http.ResponseWriter, r *http.Request) {
	payload, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err != nil {
		writeError(w, http.StatusBadRequest, errBadRequest)
		return
	}

	signature := r.Header.Get(h.reconciler.SignatureHeader())
	res, err := h.reconciler.Reconcile(r.Context(), payload, signature)
	if err != nil {
		logging.EnrichError(r.Context(), err, "webhook")
		switch {
		case errors.Is(err, billing.ErrBadSignature):
			writeError(w, http.StatusUnauthorized, errBadSignature)
		case errors.Is(err, billing.ErrMalformedPayload):
			writeError(w, http.StatusBadRequest, errMalformedPayload)
		case errors.Is(err, billing.ErrMisconfigured):
			logger.Log.Error("webhook misconfigured", "error", err)
			writeError(w, http.StatusInternalServerError, errMisconfigured)
		default:
			writeError(w, http.StatusInternalServerError, errInternal)
		}
		return
	}

	logging.EnrichIdentity(r.Context(), res.AccountID, "")
	logging.EnrichMetadata(r.Context(), "order_id", res.OrderID)
	logging.EnrichMetadata(r.Context(), "webhook_event", res.Event)
	logging.EnrichMetadata(r.Context(), "webhook_outcome", res.Outcome())
	if reason := res.Skipped + res.Warning; reason != "" {
		logging.EnrichMetadata(r.Context(), "webhook_reason", reason)
	}

	body := map[string]any{"received": true}
	switch {
	case res.Ignored:
		body["ignored"] = true
	case res.Skipped != "":
		body["skipped"] = res.Skipped
	case res.Warning != "":
		body["warning"] = res.Warning
	case res.Duplicate:
		body["duplicate"] = true
	default:
		body["credits_added"] = res.CreditsAdded
	}
	writeJSON(w, http.StatusOK, body)
}
