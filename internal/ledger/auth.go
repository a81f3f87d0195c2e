package ledger

import (
	"context"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

// =============================================================================
// Request Authentication
// =============================================================================

const (
	// AuthTokenHeader carries the signed single-use request token.
	AuthTokenHeader = "Authorization"

	// NonceHeader carries the request nonce so the provider can reject
	// replays without parsing the token.
	NonceHeader = "X-Request-Nonce"

	// AccountHeader identifies the paying ledger account.
	AccountHeader = "X-Ledger-Account"

	// authTokenTTL bounds how long a minted token stays valid. Tokens are
	// single-use; the TTL exists only to cap clock-skew windows.
	authTokenTTL = 2 * time.Minute
)

// RequestClaims are the claims of a single-use request token. The token is
// bound to one provider and one payload digest, so it cannot be replayed
// against a different provider or reused for a different request body.
type RequestClaims struct {
	Account       string `json:"account"`
	Provider      string `json:"provider"`
	PayloadDigest string `json:"digest"`
	Nonce         string `json:"nonce"`
	jwt.RegisteredClaims
}

// MintAuthHeaders signs a single-use token bound to the given provider and
// payload digest. Signing is local to the client; no network round trip.
func (c *RPCClient) MintAuthHeaders(_ context.Context, provider, payloadDigest string) (map[string]string, error) {
	if c.signingKey == nil {
		return nil, fmt.Errorf("no signing key configured")
	}
	if provider == "" || payloadDigest == "" {
		return nil, fmt.Errorf("provider and payload digest required")
	}

	nonce := uuid.New().String()
	now := time.Now()

	claims := RequestClaims{
		Account:       c.account,
		Provider:      provider,
		PayloadDigest: payloadDigest,
		Nonce:         nonce,
		RegisteredClaims: jwt.RegisteredClaims{
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(authTokenTTL)),
			Subject:   c.account,
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodES256, claims)
	signed, err := token.SignedString(c.signingKey)
	if err != nil {
		return nil, fmt.Errorf("sign request token: %w", err)
	}

	return map[string]string{
		AuthTokenHeader: "Bearer " + signed,
		NonceHeader:     nonce,
		AccountHeader:   c.account,
	}, nil
}
