package auth

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/blagoySimandov/transcriptmagic/internal/logger"
	"github.com/blagoySimandov/transcriptmagic/internal/models"
)

// AccessTokenVerifier resolves opaque OAuth access tokens through Google's
// tokeninfo endpoint and then the userinfo profile endpoint.
type AccessTokenVerifier struct {
	httpClient   *http.Client
	tokenInfoURL string
	userInfoURL  string
}

func NewAccessTokenVerifier(tokenInfoURL, userInfoURL string, timeout time.Duration) *AccessTokenVerifier {
	return &AccessTokenVerifier{
		httpClient: &http.Client{
			Timeout: timeout,
		},
		tokenInfoURL: tokenInfoURL,
		userInfoURL:  userInfoURL,
	}
}

type tokenInfo struct {
	Sub   string `json:"sub"`
	Email string `json:"email"`
	Aud   string `json:"aud"`
}

type userInfo struct {
	Sub     string `json:"sub"`
	Email   string `json:"email"`
	Name    string `json:"name"`
	Picture string `json:"picture"`
}

func (v *AccessTokenVerifier) Verify(ctx context.Context, accessToken string) (*models.Identity, error) {
	info, err := v.introspect(ctx, accessToken)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidCredential, err)
	}
	if info.Sub == "" {
		return nil, fmt.Errorf("%w: tokeninfo missing sub", ErrInvalidCredential)
	}

	profile, err := v.profile(ctx, accessToken)
	if err != nil || profile.Sub != info.Sub {
		logger.Log.Warn("userinfo unavailable, using tokeninfo identity", "sub", info.Sub, "error", err)
		return &models.Identity{
			ID:          info.Sub,
			Email:       info.Email,
			DisplayName: nameFromEmail(info.Email),
		}, nil
	}

	email := profile.Email
	if email == "" {
		email = info.Email
	}
	name := profile.Name
	if name == "" {
		name = nameFromEmail(email)
	}

	return &models.Identity{
		ID:          info.Sub,
		Email:       email,
		DisplayName: name,
		AvatarURL:   profile.Picture,
	}, nil
}

func (v *AccessTokenVerifier) introspect(ctx context.Context, accessToken string) (*tokenInfo, error) {
	endpoint := v.tokenInfoURL + "?access_token=" + url.QueryEscape(accessToken)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	var info tokenInfo
	if err := v.doJSON(req, &info); err != nil {
		return nil, fmt.Errorf("tokeninfo: %w", err)
	}
	return &info, nil
}

func (v *AccessTokenVerifier) profile(ctx context.Context, accessToken string) (*userInfo, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, v.userInfoURL, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set(authorizationHeader, bearerPrefix+accessToken)

	var profile userInfo
	if err := v.doJSON(req, &profile); err != nil {
		return nil, fmt.Errorf("userinfo: %w", err)
	}
	return &profile, nil
}

func (v *AccessTokenVerifier) doJSON(req *http.Request, out any) error {
	resp, err := v.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("failed to execute request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return fmt.Errorf("status %d, body: %s", resp.StatusCode, string(body))
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}
	return nil
}

func nameFromEmail(email string) string {
	local, _, _ := strings.Cut(email, "@")
	return local
}
