package api

import (
	"errors"
	"net/http"

	"github.com/blagoySimandov/transcriptmagic/internal/entitlement"
	"github.com/blagoySimandov/transcriptmagic/internal/logging"
	"github.com/blagoySimandov/transcriptmagic/internal/models"
)

type AuthHandler struct {
	gate *entitlement.Gate
}

func NewAuthHandler(gate *entitlement.Gate) *AuthHandler {
	return &AuthHandler{gate: gate}
}

type IdentityResponse struct {
	ID      string      `json:"id"`
	Email   string      `json:"email"`
	Name    string      `json:"name"`
	Picture string      `json:"picture"`
	Credits int64       `json:"credits"`
	Plan    models.Plan `json:"plan"`
}

// Identity exchanges a credential for the account snapshot, creating the
// account and linking the caller's device on first sign in.
func (h *AuthHandler) Identity(w http.ResponseWriter, r *http.Request) {
	var req credentialRequest
	if err := decodeBody(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, errBadRequest)
		return
	}
	logging.EnrichDevice(r.Context(), req.DeviceID, req.Source)

	account, err := h.gate.SignIn(r.Context(), req.credential(r), req.DeviceID, req.Source)
	if err != nil {
		switch {
		case errors.Is(err, entitlement.ErrInvalidDevice):
			writeError(w, http.StatusBadRequest, errInvalidDevice)
		case writeCredentialError(w, r, err):
		default:
			writeInternal(w, r, err, "sign_in")
		}
		return
	}

	id := account.Identity
	logging.EnrichIdentity(r.Context(), id.ID, id.Email)
	writeJSON(w, http.StatusOK, IdentityResponse{
		ID:      id.ID,
		Email:   id.Email,
		Name:    id.DisplayName,
		Picture: id.AvatarURL,
		Credits: max(0, account.Credits),
		Plan:    account.Plan,
	})
}
