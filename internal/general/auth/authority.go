package auth

import (
	"crypto/rsa"
	"errors"
	"fmt"
	"net/http"
	"os"
	"slices"
	"strings"
	"time"

	"drone-delivery/internal/domain/identity"

	jwtlib "github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

var (
	// ErrInvalidToken covers every verification failure: bad signature,
	// wrong issuer/audience, expired, not yet valid, malformed. The reason
	// is deliberately not exposed to avoid oracle behavior.
	ErrInvalidToken = errors.New("invalid token")

	// ErrForbidden means the token verified fine but its role, scopes, or
	// subject do not satisfy the operation.
	ErrForbidden = errors.New("forbidden")

	ErrNoAuthHeader = errors.New("authorization header missing")
	ErrNoPrivateKey = errors.New("authority has no private key; issue is not available")
	ErrNoPublicKey  = errors.New("authority has no public key; verify is not available")
)

// Authority issues and verifies signed, scoped, audience/issuer-bound
// tokens. The private key signs; any service holding only the public key
// can verify independently.
type Authority struct {
	privateKey *rsa.PrivateKey // nil for verify-only services
	publicKey  *rsa.PublicKey
	issuer     string
	audience   string
}

// NewAuthority builds an Authority from in-memory keys. privateKey may be
// nil for services that only verify.
func NewAuthority(privateKey *rsa.PrivateKey, publicKey *rsa.PublicKey, issuer, audience string) (*Authority, error) {
	if publicKey == nil && privateKey != nil {
		publicKey = &privateKey.PublicKey
	}
	if publicKey == nil {
		return nil, ErrNoPublicKey
	}
	if strings.TrimSpace(issuer) == "" || strings.TrimSpace(audience) == "" {
		return nil, errors.New("auth: issuer and audience are required")
	}
	return &Authority{
		privateKey: privateKey,
		publicKey:  publicKey,
		issuer:     issuer,
		audience:   audience,
	}, nil
}

// LoadAuthority reads PEM-encoded RSA keys from disk. privateKeyPath may
// be empty for verify-only services; publicKeyPath may be empty when the
// private key is present (the public half is derived).
func LoadAuthority(privateKeyPath, publicKeyPath, issuer, audience string) (*Authority, error) {
	var priv *rsa.PrivateKey
	var pub *rsa.PublicKey

	if privateKeyPath != "" {
		pem, err := os.ReadFile(privateKeyPath)
		if err != nil {
			return nil, fmt.Errorf("auth: read private key %s: %w", privateKeyPath, err)
		}
		priv, err = jwtlib.ParseRSAPrivateKeyFromPEM(pem)
		if err != nil {
			return nil, fmt.Errorf("auth: parse private key: %w", err)
		}
	}

	if publicKeyPath != "" {
		pem, err := os.ReadFile(publicKeyPath)
		if err != nil {
			return nil, fmt.Errorf("auth: read public key %s: %w", publicKeyPath, err)
		}
		pub, err = jwtlib.ParseRSAPublicKeyFromPEM(pem)
		if err != nil {
			return nil, fmt.Errorf("auth: parse public key: %w", err)
		}
	}

	return NewAuthority(priv, pub, issuer, audience)
}

// IssueAccess returns a signed short-lived access token.
func (a *Authority) IssueAccess(subject string, role identity.Role, scopes []identity.Scope, ttl time.Duration) (string, *Claims, error) {
	if a.privateKey == nil {
		return "", nil, ErrNoPrivateKey
	}
	if !role.Valid() {
		return "", nil, fmt.Errorf("invalid role: %s", role)
	}

	claims := newAccessClaims(a.issuer, a.audience, subject, role, scopes, ttl)
	tkn := jwtlib.NewWithClaims(jwtlib.SigningMethodRS256, claims)
	signed, err := tkn.SignedString(a.privateKey)

	return signed, claims, err
}

// IssueRefresh returns a signed long-lived refresh token with a fresh jti.
func (a *Authority) IssueRefresh(subject string, ttl time.Duration) (string, *Claims, error) {
	if a.privateKey == nil {
		return "", nil, ErrNoPrivateKey
	}

	claims := newRefreshClaims(a.issuer, a.audience, subject, uuid.NewString(), ttl)
	tkn := jwtlib.NewWithClaims(jwtlib.SigningMethodRS256, claims)
	signed, err := tkn.SignedString(a.privateKey)

	return signed, claims, err
}

// Verify checks signature, issuer, audience, not-before and expiry.
// Any failure collapses into ErrInvalidToken.
func (a *Authority) Verify(raw string) (*Claims, error) {
	parser := jwtlib.NewParser(
		jwtlib.WithValidMethods([]string{jwtlib.SigningMethodRS256.Alg()}),
		jwtlib.WithIssuer(a.issuer),
		jwtlib.WithAudience(a.audience),
		jwtlib.WithExpirationRequired(),
	)

	claims := &Claims{}
	token, err := parser.ParseWithClaims(raw, claims, func(t *jwtlib.Token) (any, error) {
		return a.publicKey, nil
	})
	if err != nil || !token.Valid {
		return nil, ErrInvalidToken
	}

	return claims, nil
}

// RequireRole asserts the claims' role is one of the allowed.
func RequireRole(cl *Claims, allowed ...identity.Role) error {
	if slices.Contains(allowed, cl.Role) {
		return nil
	}
	return ErrForbidden
}

// RequireScopes asserts that every required scope was granted.
func RequireScopes(cl *Claims, required ...identity.Scope) error {
	if identity.HasAll(cl.Scopes, required...) {
		return nil
	}
	return ErrForbidden
}

// RequireSubject asserts the token subject matches the requested resource.
// A viewer token is scoped to exactly one delivery; cross-delivery access
// is rejected.
func RequireSubject(cl *Claims, subject string) error {
	if cl.Subject == subject {
		return nil
	}
	return ErrForbidden
}

// FromAuthorization pulls the bearer token out of the Authorization header.
func FromAuthorization(r *http.Request) (string, error) {
	authHeader := r.Header.Get("Authorization")
	if authHeader == "" {
		return "", ErrNoAuthHeader
	}
	parts := strings.SplitN(authHeader, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") || strings.TrimSpace(parts[1]) == "" {
		return "", ErrInvalidToken
	}
	return strings.TrimSpace(parts[1]), nil
}
