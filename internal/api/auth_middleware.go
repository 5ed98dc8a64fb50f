/**
 * @description
 * AccessGuard authenticates a request from its access token and stores the
 * verified identity in the request context.
 *
 * Token lookup order: the access_token cookie, then the Authorization: Bearer
 * header. The first non-empty candidate is the only one validated. Every
 * validation failure yields the same AUTHENTICATION_FAILED answer; the cause is
 * only logged.
 */
package api

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"

	"github.com/transfa/access-service/internal/domain"
	"github.com/transfa/access-service/pkg/identityclient"
)

// AccessTokenCookie is the cookie carrying the access token.
const AccessTokenCookie = "access_token"

const bearerPrefix = "Bearer "

type contextKey string

const (
	identityContextKey     contextKey = "identity"
	subscriptionContextKey contextKey = "subscription"
)

// TokenValidator turns an access token into a verified identity.
type TokenValidator interface {
	Validate(ctx context.Context, token string) (*domain.Identity, error)
}

// AccessGuard rejects requests without a valid access token.
func AccessGuard(validator TokenValidator, logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			token := extractToken(r)
			if token == "" {
				writeError(w, http.StatusUnauthorized, CodeAuthenticationRequired, "Authentication required")
				return
			}

			identity, err := validateToken(r.Context(), validator, token)
			if err != nil {
				logValidationFailure(logger, r, err)
				writeError(w, http.StatusUnauthorized, CodeAuthenticationFailed, "Authentication failed")
				return
			}

			next.ServeHTTP(w, r.WithContext(WithIdentity(r.Context(), identity)))
		})
	}
}

func extractToken(r *http.Request) string {
	if cookie, err := r.Cookie(AccessTokenCookie); err == nil {
		if token := strings.TrimSpace(cookie.Value); token != "" {
			return token
		}
	}

	if token, ok := bearerToken(strings.TrimSpace(r.Header.Get("Authorization"))); ok {
		return token
	}
	return ""
}

func bearerToken(authHeader string) (string, bool) {
	if !strings.HasPrefix(authHeader, bearerPrefix) {
		return "", false
	}

	token := strings.TrimSpace(strings.TrimPrefix(authHeader, bearerPrefix))
	if token == "" {
		return "", false
	}

	return token, true
}

// validateToken converts a panicking validator into an ordinary failure.
func validateToken(ctx context.Context, validator TokenValidator, token string) (identity *domain.Identity, err error) {
	defer func() {
		if rec := recover(); rec != nil {
			identity, err = nil, fmt.Errorf("token validator panicked: %v", rec)
		}
	}()

	identity, err = validator.Validate(ctx, token)
	if err != nil {
		return nil, err
	}
	if identity == nil || strings.TrimSpace(identity.ID) == "" {
		return nil, errors.New("validator returned no identity")
	}
	return identity, nil
}

func logValidationFailure(logger *slog.Logger, r *http.Request, err error) {
	attrs := []any{"path", r.URL.Path, "error", err}
	if errors.Is(err, identityclient.ErrUnavailable) {
		logger.Error("identity service unavailable", attrs...)
		return
	}
	logger.Warn("access token rejected", attrs...)
}

// WithIdentity stores identity in ctx.
func WithIdentity(ctx context.Context, identity *domain.Identity) context.Context {
	return context.WithValue(ctx, identityContextKey, identity)
}

// IdentityFromContext returns the authenticated identity, if any.
func IdentityFromContext(ctx context.Context) (*domain.Identity, bool) {
	identity, ok := ctx.Value(identityContextKey).(*domain.Identity)
	return identity, ok && identity != nil
}
