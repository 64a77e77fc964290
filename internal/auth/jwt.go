package auth

import (
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/MicahParks/keyfunc/v2"
	"github.com/blagoySimandov/transcriptmagic/internal/models"
	"github.com/golang-jwt/jwt/v5"
)

const (
	defaultLeeway = 30 * time.Second
)

var googleIssuers = []string{"accounts.google.com", "https://accounts.google.com"}

// IDTokenVerifier validates Google-signed ID tokens. When no audiences are
// configured the aud claim is not checked.
type IDTokenVerifier struct {
	jwks      *keyfunc.JWKS
	keyFunc   jwt.Keyfunc
	audiences []string
	parser    *jwt.Parser
	mu        sync.RWMutex
}

func NewGoogleIDTokenVerifier(jwksURL string, audiences []string) (*IDTokenVerifier, error) {
	jwks, err := keyfunc.Get(jwksURL, keyfunc.Options{
		RefreshInterval:   time.Hour,
		RefreshUnknownKID: true,
		RefreshTimeout:    10 * time.Second,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to get JWKS: %w", err)
	}

	v := NewIDTokenVerifier(jwks.Keyfunc, audiences)
	v.jwks = jwks
	return v, nil
}

func NewIDTokenVerifier(keyFunc jwt.Keyfunc, audiences []string) *IDTokenVerifier {
	return &IDTokenVerifier{
		keyFunc:   keyFunc,
		audiences: audiences,
		parser: jwt.NewParser(
			jwt.WithValidMethods([]string{jwt.SigningMethodRS256.Name}),
			jwt.WithLeeway(defaultLeeway),
			jwt.WithExpirationRequired(),
		),
	}
}

func (v *IDTokenVerifier) Verify(tokenString string) (*models.Identity, error) {
	v.mu.RLock()
	defer v.mu.RUnlock()

	token, err := v.parser.Parse(tokenString, v.keyFunc)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidCredential, err)
	}
	if !token.Valid {
		return nil, ErrInvalidCredential
	}

	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok {
		return nil, fmt.Errorf("%w: unexpected claims type", ErrInvalidCredential)
	}

	issuer, _ := claims.GetIssuer()
	if !slices.Contains(googleIssuers, issuer) {
		return nil, fmt.Errorf("%w: unexpected issuer %q", ErrInvalidCredential, issuer)
	}

	if len(v.audiences) > 0 {
		aud, _ := claims.GetAudience()
		if !slices.ContainsFunc(aud, func(a string) bool { return slices.Contains(v.audiences, a) }) {
			return nil, fmt.Errorf("%w: audience mismatch", ErrInvalidCredential)
		}
	}

	sub, _ := claims.GetSubject()
	if sub == "" {
		return nil, fmt.Errorf("%w: missing sub claim", ErrInvalidCredential)
	}

	email := readString(claims, "email")
	name := readString(claims, "name")
	if name == "" {
		name = nameFromEmail(email)
	}

	return &models.Identity{
		ID:          sub,
		Email:       email,
		DisplayName: name,
		AvatarURL:   readString(claims, "picture"),
	}, nil
}

func (v *IDTokenVerifier) Close() {
	v.mu.Lock()
	defer v.mu.Unlock()

	if v.jwks != nil {
		v.jwks.EndBackground()
	}
}

func readString(claims jwt.MapClaims, key string) string {
	if s, ok := claims[key].(string); ok {
		return s
	}
	return ""
}
