package auth

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/blagoySimandov/transcriptmagic/internal/models"
)

var (
	ErrInvalidCredential   = errors.New("invalid credential")
	ErrMissingCredential   = errors.New("missing credential")
	ErrAmbiguousCredential = errors.New("both access token and id token given")
)

// Credential carries exactly one of an OAuth access token or a signed ID token.
type Credential struct {
	AccessToken string
	IDToken     string
}

func (c Credential) Empty() bool {
	return c.AccessToken == "" && c.IDToken == ""
}

func (c Credential) Validate() error {
	switch {
	case c.Empty():
		return ErrMissingCredential
	case c.AccessToken != "" && c.IDToken != "":
		return ErrAmbiguousCredential
	}
	return nil
}

// Verifier resolves a credential to a stable external identity. It never
// mutates ledger state.
type Verifier interface {
	Verify(ctx context.Context, cred Credential) (*models.Identity, error)
}

type GoogleVerifier struct {
	accessTokens *AccessTokenVerifier
	idTokens     *IDTokenVerifier
	timeout      time.Duration
}

func NewGoogleVerifier(accessTokens *AccessTokenVerifier, idTokens *IDTokenVerifier, timeout time.Duration) *GoogleVerifier {
	return &GoogleVerifier{
		accessTokens: accessTokens,
		idTokens:     idTokens,
		timeout:      timeout,
	}
}

func (g *GoogleVerifier) Verify(ctx context.Context, cred Credential) (*models.Identity, error) {
	if err := cred.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidCredential, err)
	}

	if g.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, g.timeout)
		defer cancel()
	}

	if cred.IDToken != "" {
		if g.idTokens == nil {
			return nil, fmt.Errorf("%w: id tokens not accepted", ErrInvalidCredential)
		}
		return g.idTokens.Verify(cred.IDToken)
	}

	if g.accessTokens == nil {
		return nil, fmt.Errorf("%w: access tokens not accepted", ErrInvalidCredential)
	}
	return g.accessTokens.Verify(ctx, cred.AccessToken)
}

func (g *GoogleVerifier) Close() {
	if g.idTokens != nil {
		g.idTokens.Close()
	}
}
