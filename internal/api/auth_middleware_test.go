package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/transfa/access-service/internal/domain"
	"github.com/transfa/access-service/pkg/identityclient"
)

type validatorStub struct {
	identity *domain.Identity
	err      error
	panicMsg string
	tokens   []string
}

func (v *validatorStub) Validate(_ context.Context, token string) (*domain.Identity, error) {
	v.tokens = append(v.tokens, token)
	if v.panicMsg != "" {
		panic(v.panicMsg)
	}
	return v.identity, v.err
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func decodeError(t *testing.T, rec *httptest.ResponseRecorder) ErrorResponse {
	t.Helper()
	var body ErrorResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("failed to decode error body %q: %v", rec.Body.String(), err)
	}
	return body
}

func identityEcho() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		identity, ok := IdentityFromContext(r.Context())
		if !ok {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		w.Write([]byte(identity.ID))
	})
}

func TestAccessGuard_MissingToken(t *testing.T) {
	tests := []struct {
		name   string
		header string
		cookie string
	}{
		{name: "nothing"},
		{name: "empty cookie", cookie: " "},
		{name: "non-bearer header", header: "Basic dXNlcjpwYXNz"},
		{name: "empty bearer", header: "Bearer   "},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			validator := &validatorStub{identity: &domain.Identity{ID: "user_1"}}
			handler := AccessGuard(validator, discardLogger())(identityEcho())

			req := httptest.NewRequest(http.MethodGet, "/me", nil)
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}
			if tt.cookie != "" {
				req.AddCookie(&http.Cookie{Name: AccessTokenCookie, Value: tt.cookie})
			}
			rec := httptest.NewRecorder()
			handler.ServeHTTP(rec, req)

			if rec.Code != http.StatusUnauthorized {
				t.Fatalf("expected 401, got %d", rec.Code)
			}
			if body := decodeError(t, rec); body.ErrorCode != CodeAuthenticationRequired {
				t.Fatalf("expected %s, got %s", CodeAuthenticationRequired, body.ErrorCode)
			}
			if len(validator.tokens) != 0 {
				t.Fatalf("expected no validator call, got %v", validator.tokens)
			}
		})
	}
}

func TestAccessGuard_CookieTakesPrecedence(t *testing.T) {
	validator := &validatorStub{identity: &domain.Identity{ID: "user_1"}}
	handler := AccessGuard(validator, discardLogger())(identityEcho())

	req := httptest.NewRequest(http.MethodGet, "/me", nil)
	req.AddCookie(&http.Cookie{Name: AccessTokenCookie, Value: "cookie-token"})
	req.Header.Set("Authorization", "Bearer header-token")
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if len(validator.tokens) != 1 || validator.tokens[0] != "cookie-token" {
		t.Fatalf("expected only the cookie token to be validated, got %v", validator.tokens)
	}
}

func TestAccessGuard_BearerFallback(t *testing.T) {
	validator := &validatorStub{identity: &domain.Identity{ID: "user_9", Email: "x@example.com"}}
	handler := AccessGuard(validator, discardLogger())(identityEcho())

	req := httptest.NewRequest(http.MethodGet, "/me", nil)
	req.Header.Set("Authorization", "Bearer header-token")
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK || rec.Body.String() != "user_9" {
		t.Fatalf("expected identity user_9 downstream, got %d %q", rec.Code, rec.Body.String())
	}
	if len(validator.tokens) != 1 || validator.tokens[0] != "header-token" {
		t.Fatalf("expected bearer token to be validated, got %v", validator.tokens)
	}
}

func TestAccessGuard_FailuresAreIndistinguishable(t *testing.T) {
	tests := []struct {
		name      string
		validator *validatorStub
	}{
		{name: "rejected", validator: &validatorStub{err: fmt.Errorf("%w: status 401", identityclient.ErrTokenRejected)}},
		{name: "unavailable", validator: &validatorStub{err: fmt.Errorf("%w: status 503", identityclient.ErrUnavailable)}},
		{name: "other error", validator: &validatorStub{err: errors.New("boom")}},
		{name: "panic", validator: &validatorStub{panicMsg: "validator exploded"}},
		{name: "nil identity", validator: &validatorStub{}},
		{name: "empty id", validator: &validatorStub{identity: &domain.Identity{Email: "a@example.com"}}},
	}

	var firstBody string
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			nextCalled := false
			handler := AccessGuard(tt.validator, discardLogger())(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				nextCalled = true
			}))

			req := httptest.NewRequest(http.MethodGet, "/me", nil)
			req.Header.Set("Authorization", "Bearer some-token")
			rec := httptest.NewRecorder()
			handler.ServeHTTP(rec, req)

			if nextCalled {
				t.Fatal("expected request to stop at the guard")
			}
			if rec.Code != http.StatusUnauthorized {
				t.Fatalf("expected 401, got %d", rec.Code)
			}
			if body := decodeError(t, rec); body.ErrorCode != CodeAuthenticationFailed {
				t.Fatalf("expected %s, got %s", CodeAuthenticationFailed, body.ErrorCode)
			}
			if firstBody == "" {
				firstBody = rec.Body.String()
			} else if rec.Body.String() != firstBody {
				t.Fatalf("expected identical failure bodies, got %q and %q", firstBody, rec.Body.String())
			}
		})
	}
}

func TestIdentityFromContext_Empty(t *testing.T) {
	if _, ok := IdentityFromContext(context.Background()); ok {
		t.Fatal("expected no identity in a bare context")
	}
	if _, ok := IdentityFromContext(WithIdentity(context.Background(), nil)); ok {
		t.Fatal("expected a nil identity not to count")
	}
}
