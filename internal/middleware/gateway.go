package middleware

import (
	"context"
	"errors"
	"log"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/timegate/backend/internal/models"
	"github.com/timegate/backend/internal/services"
)

// TokenValidator resolves a bearer capability secret. Implemented by
// services.TokenService.
type TokenValidator interface {
	Validate(ctx context.Context, secret string) (*services.ValidationResult, error)
}

// PathAuthorizer maps (path, scope) to an allow/deny decision. Implemented by
// services.ScopeAuthorizer.
type PathAuthorizer interface {
	Authorize(path string, scope models.TokenScope) bool
}

// GatewayAuth is the front door for proxied requests. It validates the
// capability token, then scope-checks the origin path; only double success
// reaches the forwarder. Token rejection (401) and scope denial (403) are
// distinct outcomes, and store outages surface as 503 so monitoring can
// separate "service broken" from "token rejected".
func GatewayAuth(tokens TokenValidator, authorizer PathAuthorizer) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			// Header.Get returns the first value, so a duplicated header is
			// resolved deterministically.
			authHeader := r.Header.Get("Authorization")
			if authHeader == "" {
				http.Error(w, "Authorization header required", http.StatusUnauthorized)
				return
			}

			parts := strings.SplitN(authHeader, " ", 2)
			if len(parts) != 2 || parts[0] != "Bearer" {
				http.Error(w, "Invalid authorization header format", http.StatusUnauthorized)
				return
			}

			result, err := tokens.Validate(r.Context(), parts[1])
			if err != nil {
				if errors.Is(err, services.ErrTokenInvalid) || errors.Is(err, services.ErrTokenExpired) {
					http.Error(w, "Invalid token", http.StatusUnauthorized)
					return
				}
				log.Printf("[GATEWAY] Token validation unavailable: %v", err)
				http.Error(w, "Token validation unavailable", http.StatusServiceUnavailable)
				return
			}

			path := OriginPath(r)
			if !authorizer.Authorize(path, result.Scope) {
				log.Printf("[GATEWAY] Scope %s denied for path %s (token %s)", result.Scope, path, result.TokenID)
				http.Error(w, "Token scope does not allow this path", http.StatusForbidden)
				return
			}

			// Correlation metadata only; the forwarder does no authorization.
			ctx := context.WithValue(r.Context(), "accountID", result.AccountID)
			ctx = context.WithValue(ctx, "tokenID", result.TokenID)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// OriginPath returns the origin-relative path of a proxied request: the chi
// wildcard remainder when mounted under a pattern like /gate/*, else the raw
// URL path.
func OriginPath(r *http.Request) string {
	if rctx := chi.RouteContext(r.Context()); rctx != nil {
		if rest := rctx.URLParam("*"); rest != "" {
			return rest
		}
	}
	return r.URL.Path
}
