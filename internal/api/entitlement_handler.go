package api

import (
	"errors"
	"net/http"

	"github.com/blagoySimandov/transcriptmagic/internal/entitlement"
)

type EntitlementHandler struct {
	gate *entitlement.Gate
}

func NewEntitlementHandler(gate *entitlement.Gate) *EntitlementHandler {
	return &EntitlementHandler{gate: gate}
}

func (h *EntitlementHandler) Get(w http.ResponseWriter, r *http.Request) {
	var req credentialRequest
	if err := decodeBody(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, errBadRequest)
		return
	}

	e, err := h.gate.Snapshot(r.Context(), entitlement.Request{
		Credential: req.credential(r),
		DeviceID:   req.DeviceID,
		Source:     req.Source,
	})
	if err != nil {
		switch {
		case errors.Is(err, entitlement.ErrInvalidDevice):
			writeError(w, http.StatusBadRequest, errInvalidDevice)
		case errors.Is(err, entitlement.ErrAccountNotFound):
			writeError(w, http.StatusNotFound, errAccountNotFound)
		case writeCredentialError(w, r, err):
		default:
			writeInternal(w, r, err, "entitlement")
		}
		return
	}

	if e.Authenticated {
		writeJSON(w, http.StatusOK, map[string]any{
			"credits":       e.Credits,
			"plan":          e.Plan,
			"authenticated": true,
		})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"credits":        e.Credits,
		"requiresSignup": e.RequiresSignup,
		"authenticated":  false,
	})
}
