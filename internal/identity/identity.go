// Package identity verifies who is signing in during account linking: ID tokens
// against a JWKS document, email/password pairs against Firebase Authentication,
// and authorization codes against an upstream OAuth2 provider.
package identity

import (
	"context"
	"errors"
)

// ErrInvalidCredentials reports a rejected email/password pair without saying which half was wrong.
var ErrInvalidCredentials = errors.New("identity: invalid credentials")

// TokenVerifier validates an ID token and returns its claims.
type TokenVerifier interface {
	Verify(ctx context.Context, rawToken string) (IDTokenClaims, error)
}
