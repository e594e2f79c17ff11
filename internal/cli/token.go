package cli

import (
	"fmt"
	"time"

	"drone-delivery/internal/domain/identity"
	"drone-delivery/internal/general/auth"
)

// GenerateDebugToken mints a short-lived access token signed with the
// given private key. Useful for exercising protected endpoints by hand.
//
// Example:
//
//	token, _, err := cli.GenerateDebugToken("keys/jwt_private.pem",
//	    "DLV-0123456789", "customer", []string{"tracking:read"}, 15*time.Minute)
//
// Development helper only; production services never mint tokens here.
func GenerateDebugToken(privateKeyPath, subject, roleStr string, scopeStrs []string, ttl time.Duration) (string, *auth.Claims, error) {
	role, err := identity.ParseRole(roleStr)
	if err != nil {
		return "", nil, fmt.Errorf("invalid role %q: %w", roleStr, err)
	}

	scopes := make([]identity.Scope, 0, len(scopeStrs))
	for _, s := range scopeStrs {
		scope, err := identity.ParseScope(s)
		if err != nil {
			return "", nil, fmt.Errorf("invalid scope %q: %w", s, err)
		}
		scopes = append(scopes, scope)
	}

	authority, err := auth.LoadAuthority(privateKeyPath, "", "droneapp", "droneapp-clients")
	if err != nil {
		return "", nil, fmt.Errorf("load signing key: %w", err)
	}

	token, claims, err := authority.IssueAccess(subject, role, scopes, ttl)
	if err != nil {
		return "", nil, fmt.Errorf("issue token: %w", err)
	}

	return token, claims, nil
}
