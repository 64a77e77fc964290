package api

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/blagoySimandov/transcriptmagic/internal/entitlement"
	"github.com/blagoySimandov/transcriptmagic/internal/logger"
	"github.com/blagoySimandov/transcriptmagic/internal/logging"
	"github.com/blagoySimandov/transcriptmagic/internal/transcript"
	"github.com/gorilla/mux"
)

type TranscriptHandler struct {
	gate    *entitlement.Gate
	fetcher transcript.Fetcher
}

func NewTranscriptHandler(gate *entitlement.Gate, fetcher transcript.Fetcher) *TranscriptHandler {
	return &TranscriptHandler{
		gate:    gate,
		fetcher: fetcher,
	}
}

type transcriptRequest struct {
	credentialRequest
	URL string `json:"url"`
}

func (h *TranscriptHandler) configured() bool {
	if c, ok := h.fetcher.(interface{ Configured() bool }); ok {
		return c.Configured()
	}
	return h.fetcher != nil
}

func (h *TranscriptHandler) Fetch(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	platform, ok := transcript.Lookup(mux.Vars(r)["platform"])
	if !ok {
		writeError(w, http.StatusNotFound, errUnknownPlatform)
		return
	}
	logging.EnrichPlatform(ctx, platform.Name)

	if !h.configured() {
		logger.Log.Error("transcript provider API key not configured")
		writeError(w, http.StatusInternalServerError, errMisconfigured)
		return
	}

	var req transcriptRequest
	if err := decodeBody(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, errBadRequest)
		return
	}
	req.URL = strings.TrimSpace(req.URL)
	if req.URL == "" || !platform.Validate(req.URL) {
		writeJSON(w, http.StatusBadRequest, map[string]any{
			"error":   errInvalidURL,
			"message": "Expected a " + platform.Label + " URL",
		})
		return
	}
	logging.EnrichDevice(ctx, req.DeviceID, req.Source)

	out, err := h.gate.Execute(ctx, entitlement.Request{
		Credential: req.credential(r),
		DeviceID:   req.DeviceID,
		Source:     req.Source,
	}, func(ctx context.Context) transcript.Result {
		start := time.Now()
		res := h.fetcher.Fetch(ctx, platform, req.URL)
		logging.EnrichProvider(ctx, res.Status, time.Since(start))
		return res
	})
	if err != nil {
		h.writeGateError(w, r, err)
		return
	}

	d := out.Decision
	if d.Identity != nil {
		logging.EnrichIdentity(ctx, d.Identity.ID, d.Identity.Email)
	}
	logging.EnrichEntitlement(ctx, string(d.Mode), out.Committed, out.Remaining)

	if !out.Result.OK() {
		logging.EnrichError(ctx, out.Result, "provider")
		logger.Log.Error("transcript provider failed",
			"platform", platform.Name, "kind", out.Result.Kind, "status", out.Result.Status, "detail", out.Result.Detail)
		writeError(w, http.StatusBadGateway, errUpstream)
		return
	}
	if out.CommitErr != nil {
		logging.EnrichError(ctx, out.CommitErr, "commit")
		logger.Log.Error("transcript served without recording usage",
			"mode", d.Mode, "account_id", d.AccountID, "device_id", d.DeviceID, "error", out.CommitErr)
	}

	payload := make(map[string]any, len(out.Result.Data)+1)
	for k, v := range out.Result.Data {
		payload[k] = v
	}
	if d.Mode == entitlement.ModeAuthenticated {
		payload["credits"] = out.Remaining
	} else {
		payload["remaining"] = out.Remaining
	}
	writeJSON(w, http.StatusOK, payload)
}

func (h *TranscriptHandler) writeGateError(w http.ResponseWriter, r *http.Request, err error) {
	ctx := r.Context()

	var denied *entitlement.DeniedError
	switch {
	case errors.As(err, &denied):
		logging.EnrichDenied(ctx, denied.Reason.Error())
		if errors.Is(err, entitlement.ErrNoCredits) {
			writeJSON(w, http.StatusForbidden, map[string]any{
				"error":   errNoCredits,
				"credits": denied.Credits,
			})
			return
		}
		writeJSON(w, http.StatusForbidden, map[string]any{
			"error":          errLimitReached,
			"remaining":      denied.Remaining,
			"requiresSignup": denied.RequiresSignup,
		})
	case errors.Is(err, entitlement.ErrInvalidDevice):
		writeError(w, http.StatusBadRequest, errInvalidDevice)
	case errors.Is(err, entitlement.ErrAccountNotFound):
		writeError(w, http.StatusNotFound, errAccountNotFound)
	case errors.Is(err, context.Canceled):
		logging.EnrichError(ctx, err, "canceled")
	case writeCredentialError(w, r, err):
	default:
		writeInternal(w, r, err, "entitlement")
	}
}
