/**
 * @description
 * HTTP handlers for the access-service: session lifecycle, identity and
 * subscription lookups, and the billing webhook that keeps the subscription
 * cache honest.
 */
package api

import (
	"crypto/subtle"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/transfa/access-service/internal/app"
	"github.com/transfa/access-service/internal/domain"
	"github.com/transfa/access-service/pkg/billingclient"
	"github.com/transfa/access-service/pkg/middleware"
)

// WebhookSecretHeader carries the shared secret on billing webhook calls.
const WebhookSecretHeader = "X-Webhook-Secret"

const maxRequestBodyBytes = 64 << 10

// Handler holds the application services that handlers interact with.
type Handler struct {
	sessions      *app.SessionService
	events        *app.BillingEventHandler
	checkout      CheckoutLinker
	webhookSecret string
	logger        *slog.Logger
}

// NewHandler creates a new Handler. An empty webhookSecret disables the webhook.
func NewHandler(sessions *app.SessionService, events *app.BillingEventHandler, checkout CheckoutLinker, webhookSecret string, logger *slog.Logger) *Handler {
	return &Handler{
		sessions:      sessions,
		events:        events,
		checkout:      checkout,
		webhookSecret: webhookSecret,
		logger:        logger,
	}
}

type refreshTokenRequest struct {
	RefreshToken string `json:"refresh_token"`
}

type sessionsResponse struct {
	Sessions []*domain.Session `json:"sessions"`
	Count    int               `json:"count"`
}

func (h *Handler) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	w.Write([]byte("Access service is healthy"))
}

func (h *Handler) handleReady(w http.ResponseWriter, r *http.Request) {
	if err := h.sessions.Ping(r.Context()); err != nil {
		h.logger.Error("session store not ready", "error", err)
		respondWithJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "unavailable"})
		return
	}
	respondWithJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}

// handleCreateSession opens a session for the authenticated caller.
func (h *Handler) handleCreateSession(w http.ResponseWriter, r *http.Request) {
	identity, ok := IdentityFromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, CodeAuthenticationRequired, "Authentication required")
		return
	}

	result, err := h.sessions.Login(r.Context(), app.LoginRequest{
		Identity:  *identity,
		IPAddress: middleware.GetClientIP(r),
		UserAgent: r.UserAgent(),
	})
	if err != nil {
		if errors.Is(err, app.ErrSessionLimitReached) {
			writeError(w, http.StatusConflict, CodeSessionLimitReached, "Maximum number of active sessions reached")
			return
		}
		h.logger.Error("failed to open session", "user_id", identity.ID, "error", err)
		writeError(w, http.StatusInternalServerError, CodeInternal, "Failed to open session")
		return
	}

	respondWithJSON(w, http.StatusCreated, result)
}

// handleRefresh exchanges a refresh token for a new access token.
func (h *Handler) handleRefresh(w http.ResponseWriter, r *http.Request) {
	var req refreshTokenRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	result, err := h.sessions.Refresh(r.Context(), req.RefreshToken)
	switch {
	case err == nil:
		respondWithJSON(w, http.StatusOK, result)
	case errors.Is(err, app.ErrSessionExpired):
		writeError(w, http.StatusUnauthorized, CodeSessionExpired, "Session expired")
	case errors.Is(err, app.ErrSessionNotFound):
		writeError(w, http.StatusUnauthorized, CodeInvalidRefreshToken, "Invalid refresh token")
	case errors.Is(err, app.ErrTokenIssuerDisabled):
		writeError(w, http.StatusNotImplemented, CodeNotConfigured, "Access token issuing is not configured")
	default:
		h.logger.Error("failed to refresh session", "error", err)
		writeError(w, http.StatusInternalServerError, CodeInternal, "Failed to refresh session")
	}
}

// handleLogout revokes the session bound to the presented refresh token.
func (h *Handler) handleLogout(w http.ResponseWriter, r *http.Request) {
	var req refreshTokenRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	if err := h.sessions.Logout(r.Context(), req.RefreshToken); err != nil {
		h.logger.Error("failed to revoke session", "error", err)
		writeError(w, http.StatusInternalServerError, CodeInternal, "Failed to log out")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) handleListSessions(w http.ResponseWriter, r *http.Request) {
	identity, _ := IdentityFromContext(r.Context())

	sessions, err := h.sessions.ListSessions(r.Context(), identity.ID)
	if err != nil {
		h.logger.Error("failed to list sessions", "user_id", identity.ID, "error", err)
		writeError(w, http.StatusInternalServerError, CodeInternal, "Failed to list sessions")
		return
	}
	if sessions == nil {
		sessions = []*domain.Session{}
	}
	respondWithJSON(w, http.StatusOK, sessionsResponse{Sessions: sessions, Count: len(sessions)})
}

func (h *Handler) handleRevokeSession(w http.ResponseWriter, r *http.Request) {
	identity, _ := IdentityFromContext(r.Context())
	sessionID := chi.URLParam(r, "id")

	err := h.sessions.RevokeSession(r.Context(), identity.ID, sessionID)
	if err != nil {
		if errors.Is(err, app.ErrSessionNotFound) {
			writeError(w, http.StatusNotFound, CodeSessionNotFound, "Session not found")
			return
		}
		h.logger.Error("failed to revoke session", "user_id", identity.ID, "session_id", sessionID, "error", err)
		writeError(w, http.StatusInternalServerError, CodeInternal, "Failed to revoke session")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) handleRevokeAllSessions(w http.ResponseWriter, r *http.Request) {
	identity, _ := IdentityFromContext(r.Context())

	if err := h.sessions.LogoutAll(r.Context(), identity.ID); err != nil {
		h.logger.Error("failed to revoke sessions", "user_id", identity.ID, "error", err)
		writeError(w, http.StatusInternalServerError, CodeInternal, "Failed to revoke sessions")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) handleMe(w http.ResponseWriter, r *http.Request) {
	identity, _ := IdentityFromContext(r.Context())
	respondWithJSON(w, http.StatusOK, identity)
}

func (h *Handler) handleGetSubscription(w http.ResponseWriter, r *http.Request) {
	sub, ok := SubscriptionFromContext(r.Context())
	if !ok {
		writeError(w, http.StatusNotFound, CodeSubscriptionRequired, "No subscription found")
		return
	}
	respondWithJSON(w, http.StatusOK, sub)
}

func (h *Handler) handleCheckoutURL(w http.ResponseWriter, r *http.Request) {
	identity, _ := IdentityFromContext(r.Context())

	url := h.checkout.Build(billingclient.CheckoutParams{
		UserID: identity.ID,
		Email:  identity.Email,
		Name:   identity.Name,
		PlanID: strings.TrimSpace(r.URL.Query().Get("planId")),
	})
	respondWithJSON(w, http.StatusOK, map[string]string{"checkout_url": url})
}

// handleBillingWebhook applies a subscription change pushed by the billing service.
func (h *Handler) handleBillingWebhook(w http.ResponseWriter, r *http.Request) {
	if h.webhookSecret == "" {
		writeError(w, http.StatusServiceUnavailable, CodeNotConfigured, "Billing webhook is not configured")
		return
	}
	presented := r.Header.Get(WebhookSecretHeader)
	if subtle.ConstantTimeCompare([]byte(presented), []byte(h.webhookSecret)) != 1 {
		writeError(w, http.StatusUnauthorized, CodeInvalidWebhookSecret, "Invalid webhook secret")
		return
	}

	var event domain.BillingEvent
	if !decodeJSON(w, r, &event) {
		return
	}

	h.events.Apply(event)
	w.WriteHeader(http.StatusNoContent)
}

func decodeJSON(w http.ResponseWriter, r *http.Request, dst any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodyBytes)
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		writeError(w, http.StatusBadRequest, CodeInvalidRequest, "Invalid request body")
		return false
	}
	return true
}
