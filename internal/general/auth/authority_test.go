package auth

import (
	"crypto/rand"
	"crypto/rsa"
	"errors"
	"net/http"
	"testing"
	"time"

	"drone-delivery/internal/domain/identity"
)

func newTestAuthority(t *testing.T) *Authority {
	t.Helper()
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}
	a, err := NewAuthority(key, nil, "droneapp", "droneapp-clients")
	if err != nil {
		t.Fatalf("new authority: %v", err)
	}
	return a
}

func TestIssueAndVerifyAccess(t *testing.T) {
	t.Parallel()
	a := newTestAuthority(t)

	signed, issued, err := a.IssueAccess("DLV-0123456789", identity.RoleCustomer,
		[]identity.Scope{identity.ScopeTrackingRead}, time.Minute)
	if err != nil {
		t.Fatalf("issue: %v", err)
	}

	claims, err := a.Verify(signed)
	if err != nil {
		t.Fatalf("verify: %v", err)
	}
	if claims.Subject != issued.Subject {
		t.Errorf("subject = %s, want %s", claims.Subject, issued.Subject)
	}
	if claims.Role != identity.RoleCustomer {
		t.Errorf("role = %s, want customer", claims.Role)
	}
	if claims.TokenType != TokenTypeAccess {
		t.Errorf("token type = %s, want access", claims.TokenType)
	}
	if !identity.HasAll(claims.Scopes, identity.ScopeTrackingRead) {
		t.Error("tracking:read scope lost in round trip")
	}
}

func TestVerifyRejectsExpiredToken(t *testing.T) {
	t.Parallel()
	a := newTestAuthority(t)

	signed, _, err := a.IssueAccess("DLV-0123456789", identity.RoleCustomer,
		[]identity.Scope{identity.ScopeTrackingRead}, -time.Minute)
	if err != nil {
		t.Fatalf("issue: %v", err)
	}
	if _, err := a.Verify(signed); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("expired token: want ErrInvalidToken, got %v", err)
	}
}

func TestVerifyFailuresAreUniform(t *testing.T) {
	t.Parallel()
	a := newTestAuthority(t)

	other := newTestAuthority(t)
	wrongIssuerKey, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}
	wrongIssuer, err := NewAuthority(wrongIssuerKey, nil, "someapp", "droneapp-clients")
	if err != nil {
		t.Fatalf("new authority: %v", err)
	}
	wrongAudience, err := NewAuthority(wrongIssuerKey, nil, "droneapp", "other-clients")
	if err != nil {
		t.Fatalf("new authority: %v", err)
	}

	otherSigned, _, err := other.IssueAccess("sub", identity.RoleCustomer, nil, time.Minute)
	if err != nil {
		t.Fatalf("issue: %v", err)
	}
	issuerSigned, _, err := wrongIssuer.IssueAccess("sub", identity.RoleCustomer, nil, time.Minute)
	if err != nil {
		t.Fatalf("issue: %v", err)
	}
	audienceSigned, _, err := wrongAudience.IssueAccess("sub", identity.RoleCustomer, nil, time.Minute)
	if err != nil {
		t.Fatalf("issue: %v", err)
	}
	goodSigned, _, err := a.IssueAccess("sub", identity.RoleCustomer, nil, time.Minute)
	if err != nil {
		t.Fatalf("issue: %v", err)
	}
	tampered := goodSigned[:len(goodSigned)-4] + "aaaa"

	cases := map[string]string{
		"wrong signing key": otherSigned,
		"wrong issuer":      issuerSigned,
		"wrong audience":    audienceSigned,
		"tampered":          tampered,
		"malformed":         "not.a.jwt",
		"empty":             "",
	}
	for name, raw := range cases {
		if _, err := a.Verify(raw); !errors.Is(err, ErrInvalidToken) {
			t.Errorf("%s: want ErrInvalidToken, got %v", name, err)
		}
	}
}

func TestVerifyOnlyAuthorityCannotIssue(t *testing.T) {
	t.Parallel()
	issuing := newTestAuthority(t)

	verifyOnly, err := NewAuthority(nil, issuing.publicKey, "droneapp", "droneapp-clients")
	if err != nil {
		t.Fatalf("new verify-only authority: %v", err)
	}

	if _, _, err := verifyOnly.IssueAccess("sub", identity.RoleCustomer, nil, time.Minute); !errors.Is(err, ErrNoPrivateKey) {
		t.Fatalf("want ErrNoPrivateKey, got %v", err)
	}
	if _, _, err := verifyOnly.IssueRefresh("sub", time.Minute); !errors.Is(err, ErrNoPrivateKey) {
		t.Fatalf("want ErrNoPrivateKey, got %v", err)
	}

	signed, _, err := issuing.IssueAccess("sub", identity.RoleCustomer, nil, time.Minute)
	if err != nil {
		t.Fatalf("issue: %v", err)
	}
	if _, err := verifyOnly.Verify(signed); err != nil {
		t.Fatalf("verify-only authority must verify: %v", err)
	}
}

func TestRefreshTokensCarryFreshJTIs(t *testing.T) {
	t.Parallel()
	a := newTestAuthority(t)

	_, first, err := a.IssueRefresh("DLV-0123456789", time.Hour)
	if err != nil {
		t.Fatalf("issue: %v", err)
	}
	_, second, err := a.IssueRefresh("DLV-0123456789", time.Hour)
	if err != nil {
		t.Fatalf("issue: %v", err)
	}

	if first.TokenType != TokenTypeRefresh {
		t.Errorf("token type = %s, want refresh", first.TokenType)
	}
	if first.ID == "" || first.ID == second.ID {
		t.Errorf("jtis must be unique and non-empty: %q vs %q", first.ID, second.ID)
	}
}

func TestRequireHelpers(t *testing.T) {
	t.Parallel()
	cl := &Claims{
		Role:   identity.RoleCustomer,
		Scopes: []identity.Scope{identity.ScopeTrackingRead},
	}
	cl.Subject = "DLV-0123456789"

	if err := RequireRole(cl, identity.RoleCustomer, identity.RoleOperator); err != nil {
		t.Errorf("allowed role rejected: %v", err)
	}
	if err := RequireRole(cl, identity.RoleDroneDevice); !errors.Is(err, ErrForbidden) {
		t.Errorf("disallowed role: want ErrForbidden, got %v", err)
	}
	if err := RequireScopes(cl, identity.ScopeTrackingRead); err != nil {
		t.Errorf("granted scope rejected: %v", err)
	}
	if err := RequireScopes(cl, identity.ScopeTelemetryWrite); !errors.Is(err, ErrForbidden) {
		t.Errorf("missing scope: want ErrForbidden, got %v", err)
	}
	if err := RequireSubject(cl, "DLV-0123456789"); err != nil {
		t.Errorf("matching subject rejected: %v", err)
	}
	if err := RequireSubject(cl, "DLV-other"); !errors.Is(err, ErrForbidden) {
		t.Errorf("foreign subject: want ErrForbidden, got %v", err)
	}
}

func TestFromAuthorization(t *testing.T) {
	t.Parallel()

	req := func(header string) *http.Request {
		r, _ := http.NewRequest(http.MethodGet, "/", nil)
		if header != "" {
			r.Header.Set("Authorization", header)
		}
		return r
	}

	if _, err := FromAuthorization(req("")); !errors.Is(err, ErrNoAuthHeader) {
		t.Errorf("missing header: want ErrNoAuthHeader, got %v", err)
	}
	if _, err := FromAuthorization(req("Token abc")); !errors.Is(err, ErrInvalidToken) {
		t.Errorf("wrong scheme: want ErrInvalidToken, got %v", err)
	}
	if _, err := FromAuthorization(req("Bearer ")); !errors.Is(err, ErrInvalidToken) {
		t.Errorf("empty token: want ErrInvalidToken, got %v", err)
	}
	got, err := FromAuthorization(req("bearer  abc.def.ghi "))
	if err != nil {
		t.Fatalf("case-insensitive bearer: %v", err)
	}
	if got != "abc.def.ghi" {
		t.Errorf("token = %q, want abc.def.ghi", got)
	}
}
