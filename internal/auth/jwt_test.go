package auth

import (
	"crypto/rand"
	"crypto/rsa"
	"errors"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

func newTestKey(t *testing.T) *rsa.PrivateKey {
	t.Helper()
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		t.Fatalf("failed to create key: %v", err)
	}
	return key
}

func staticKeyfunc(key *rsa.PrivateKey) jwt.Keyfunc {
	return func(token *jwt.Token) (interface{}, error) {
		return &key.PublicKey, nil
	}
}

func signIDToken(t *testing.T, key *rsa.PrivateKey, claims jwt.MapClaims) string {
	t.Helper()
	token := jwt.NewWithClaims(jwt.SigningMethodRS256, claims)
	token.Header["kid"] = "test-key"
	signed, err := token.SignedString(key)
	if err != nil {
		t.Fatalf("failed to sign token: %v", err)
	}
	return signed
}

func baseClaims() jwt.MapClaims {
	return jwt.MapClaims{
		"iss":     "https://accounts.google.com",
		"aud":     "web-client.apps.googleusercontent.com",
		"sub":     "1098765",
		"email":   "jane@example.com",
		"name":    "Jane Doe",
		"picture": "https://example.com/jane.png",
		"exp":     time.Now().Add(time.Hour).Unix(),
	}
}

func TestIDTokenVerify(t *testing.T) {
	key := newTestKey(t)
	v := NewIDTokenVerifier(staticKeyfunc(key), []string{"ext-client", "web-client.apps.googleusercontent.com"})

	identity, err := v.Verify(signIDToken(t, key, baseClaims()))
	if err != nil {
		t.Fatalf("Verify: %v", err)
	}
	if identity.ID != "1098765" || identity.Email != "jane@example.com" || identity.DisplayName != "Jane Doe" || identity.AvatarURL == "" {
		t.Errorf("identity = %+v", identity)
	}
}

func TestIDTokenVerifyRejects(t *testing.T) {
	key := newTestKey(t)
	otherKey := newTestKey(t)

	tests := []struct {
		name   string
		mutate func(jwt.MapClaims)
		signer *rsa.PrivateKey
	}{
		{name: "audience mismatch", mutate: func(c jwt.MapClaims) { c["aud"] = "someone-else" }},
		{name: "expired", mutate: func(c jwt.MapClaims) { c["exp"] = time.Now().Add(-time.Hour).Unix() }},
		{name: "missing exp", mutate: func(c jwt.MapClaims) { delete(c, "exp") }},
		{name: "wrong issuer", mutate: func(c jwt.MapClaims) { c["iss"] = "https://evil.example.com" }},
		{name: "missing sub", mutate: func(c jwt.MapClaims) { delete(c, "sub") }},
		{name: "wrong signer", signer: otherKey},
	}

	v := NewIDTokenVerifier(staticKeyfunc(key), []string{"web-client.apps.googleusercontent.com"})
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			claims := baseClaims()
			if tt.mutate != nil {
				tt.mutate(claims)
			}
			signer := key
			if tt.signer != nil {
				signer = tt.signer
			}

			_, err := v.Verify(signIDToken(t, signer, claims))
			if !errors.Is(err, ErrInvalidCredential) {
				t.Errorf("err = %v, want ErrInvalidCredential", err)
			}
		})
	}
}

func TestIDTokenSkipsAudienceWhenUnconfigured(t *testing.T) {
	key := newTestKey(t)
	v := NewIDTokenVerifier(staticKeyfunc(key), nil)

	claims := baseClaims()
	claims["aud"] = "anything"
	delete(claims, "name")

	identity, err := v.Verify(signIDToken(t, key, claims))
	if err != nil {
		t.Fatalf("Verify: %v", err)
	}
	if identity.DisplayName != "jane" {
		t.Errorf("DisplayName = %q, want email local part", identity.DisplayName)
	}
}
