package auth

import (
	"time"

	"drone-delivery/internal/domain/identity"

	jwtlib "github.com/golang-jwt/jwt/v5"
)

// Token types carried in the custom `type` claim.
const (
	TokenTypeAccess  = "access"
	TokenTypeRefresh = "refresh"
)

// Claims defines our canonical JWT claims payload. Fields are fixed and
// validated at the boundary; unknown shapes never make it past Verify.
type Claims struct {
	Role      identity.Role    `json:"role,omitempty"`   // principal role (drone_device/operator/customer/admin)
	Scopes    []identity.Scope `json:"scopes,omitempty"` // granted permission units
	TokenType string           `json:"type"`             // access | refresh
	jwtlib.RegisteredClaims
}

var _ jwtlib.Claims = (*Claims)(nil)

// newAccessClaims constructs claims for a short-lived access token.
func newAccessClaims(issuer, audience, subject string, role identity.Role, scopes []identity.Scope, ttl time.Duration) *Claims {
	now := time.Now().UTC()
	return &Claims{
		Role:      role,
		Scopes:    scopes,
		TokenType: TokenTypeAccess,
		RegisteredClaims: jwtlib.RegisteredClaims{
			Issuer:    issuer,
			Audience:  jwtlib.ClaimStrings{audience},
			Subject:   subject,
			IssuedAt:  jwtlib.NewNumericDate(now),
			NotBefore: jwtlib.NewNumericDate(now),
			ExpiresAt: jwtlib.NewNumericDate(now.Add(ttl)),
		},
	}
}

// newRefreshClaims constructs claims for a long-lived refresh token.
// The jti uniquely identifies the token in the refresh_tokens table.
func newRefreshClaims(issuer, audience, subject, jti string, ttl time.Duration) *Claims {
	now := time.Now().UTC()
	return &Claims{
		TokenType: TokenTypeRefresh,
		RegisteredClaims: jwtlib.RegisteredClaims{
			Issuer:    issuer,
			Audience:  jwtlib.ClaimStrings{audience},
			Subject:   subject,
			ID:        jti,
			IssuedAt:  jwtlib.NewNumericDate(now),
			NotBefore: jwtlib.NewNumericDate(now),
			ExpiresAt: jwtlib.NewNumericDate(now.Add(ttl)),
		},
	}
}
