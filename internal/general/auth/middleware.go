package auth

import (
	"context"
	"net/http"

	"drone-delivery/internal/domain/identity"
)

// AuthMiddlewareFunc validates tokens and injects claims into the request
// context. Authentication failures return 401 with a uniform message;
// role/scope failures return 403. Used for HTTP routes.
func AuthMiddlewareFunc(authority *Authority, roles []identity.Role, scopes []identity.Scope) func(http.HandlerFunc) http.HandlerFunc {
	return func(next http.HandlerFunc) http.HandlerFunc {
		return func(w http.ResponseWriter, r *http.Request) {
			// bearer token from the Authorization header
			raw, err := FromAuthorization(r)
			if err != nil {
				http.Error(w, ErrInvalidToken.Error(), http.StatusUnauthorized)
				return
			}

			// parse and validate token; reason is never surfaced
			claims, err := authority.Verify(raw)
			if err != nil {
				http.Error(w, ErrInvalidToken.Error(), http.StatusUnauthorized)
				return
			}

			// refresh tokens never grant API access
			if claims.TokenType != TokenTypeAccess {
				http.Error(w, ErrInvalidToken.Error(), http.StatusUnauthorized)
				return
			}

			// authorization is a separate step layered on verification
			if len(roles) > 0 {
				if err := RequireRole(claims, roles...); err != nil {
					http.Error(w, err.Error(), http.StatusForbidden)
					return
				}
			}
			if len(scopes) > 0 {
				if err := RequireScopes(claims, scopes...); err != nil {
					http.Error(w, err.Error(), http.StatusForbidden)
					return
				}
			}

			// hand verified claims to the wrapped handler via context
			ctx := InjectClaims(r.Context(), claims)
			next(w, r.WithContext(ctx))
		}
	}
}

// ----- claims in request context -----
type ctxKey string

const claimsCtxKey ctxKey = "authClaims"

// InjectClaims adds verified claims to the context.
func InjectClaims(ctx context.Context, c *Claims) context.Context {
	return context.WithValue(ctx, claimsCtxKey, c)
}

// FromContext extracts verified claims from the context.
func FromContext(ctx context.Context) (*Claims, bool) {
	c, ok := ctx.Value(claimsCtxKey).(*Claims)
	return c, ok
}

// RequireClaims extracts claims from the request context.
func RequireClaims(r *http.Request) *Claims {
	c, _ := FromContext(r.Context())
	return c
}
