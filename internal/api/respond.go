package api

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"github.com/blagoySimandov/transcriptmagic/internal/auth"
	"github.com/blagoySimandov/transcriptmagic/internal/logger"
	"github.com/blagoySimandov/transcriptmagic/internal/logging"
)

const maxBodyBytes = 64 << 10

const (
	errBadRequest          = "bad_request"
	errInvalidURL          = "invalid_url"
	errInvalidDevice       = "invalid_device_id"
	errInvalidCredential   = "invalid_credential"
	errAmbiguousCredential = "ambiguous_credential"
	errMissingCredential   = "missing_credential"
	errAccountNotFound     = "account_not_found"
	errNoCredits           = "no_credits"
	errLimitReached        = "limit_reached"
	errUnknownPlatform     = "unknown_platform"
	errUpstream            = "upstream_failure"
	errInvalidPackage      = "invalid_package"
	errMisconfigured       = "misconfigured"
	errProvider            = "provider_error"
	errBadSignature        = "bad_signature"
	errMalformedPayload    = "malformed_payload"
	errRateLimited         = "rate_limited"
	errMethodNotAllowed    = "method_not_allowed"
	errNotFound            = "not_found"
	errInternal            = "internal_error"
)

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logger.Log.Error("failed to encode JSON response", "error", err)
	}
}

func writeError(w http.ResponseWriter, status int, code string) {
	writeJSON(w, status, map[string]any{"error": code})
}

// credentialRequest carries the auth material shared by every endpoint:
// token is an OAuth access token, credential a signed ID token.
type credentialRequest struct {
	Token      string `json:"token"`
	Credential string `json:"credential"`
	DeviceID   string `json:"deviceId"`
	Source     string `json:"source"`
}

// credential prefers body fields and falls back to a bearer header.
func (c credentialRequest) credential(r *http.Request) auth.Credential {
	cred := auth.Credential{AccessToken: c.Token, IDToken: c.Credential}
	if cred.Empty() {
		if token, ok := auth.BearerToken(r); ok {
			cred.AccessToken = token
		}
	}
	return cred
}

// decodeBody reads a size-capped JSON body. An empty body decodes to the
// zero value.
func decodeBody(w http.ResponseWriter, r *http.Request, v any) error {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	err := json.NewDecoder(r.Body).Decode(v)
	if errors.Is(err, io.EOF) {
		return nil
	}
	return err
}

func writeCredentialError(w http.ResponseWriter, r *http.Request, err error) bool {
	switch {
	case errors.Is(err, auth.ErrAmbiguousCredential):
		writeError(w, http.StatusBadRequest, errAmbiguousCredential)
	case errors.Is(err, auth.ErrMissingCredential):
		writeError(w, http.StatusUnauthorized, errMissingCredential)
	case errors.Is(err, auth.ErrInvalidCredential):
		writeError(w, http.StatusUnauthorized, errInvalidCredential)
	default:
		return false
	}
	logging.EnrichError(r.Context(), err, "auth")
	return true
}

func writeInternal(w http.ResponseWriter, r *http.Request, err error, stage string) {
	logging.EnrichError(r.Context(), err, stage)
	writeError(w, http.StatusInternalServerError, errInternal)
}
