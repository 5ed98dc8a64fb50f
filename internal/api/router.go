/**
 * @description
 * This file sets up the HTTP router for the access-service using go-chi/chi.
 * Public routes cover health and the refresh-token exchange; everything else
 * sits behind AccessGuard, and subscription-gated routes add SubscriptionGuard.
 */
package api

import (
	"log/slog"
	"net/http"
	"net/netip"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/transfa/access-service/pkg/middleware"
	"github.com/transfa/access-service/pkg/ratelimit"
)

// RouterDeps carries the collaborators the guards need.
type RouterDeps struct {
	Validator      TokenValidator
	Subscriptions  SubscriptionChecker
	Checkout       CheckoutLinker
	SessionLimiter ratelimit.Limiter
	AllowedOrigins []string
	// TrustedProxies lists the peers whose forwarding headers are honoured.
	TrustedProxies []netip.Prefix
	Logger         *slog.Logger
}

// NewRouter creates a new Chi router and registers the access-service routes.
func NewRouter(h *Handler, deps RouterDeps) *chi.Mux {
	r := chi.NewRouter()

	r.Use(middleware.TrustedRealIP(deps.TrustedProxies))
	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.Logger)
	r.Use(chimiddleware.Recoverer)
	r.Use(chimiddleware.Timeout(30 * time.Second))
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   deps.AllowedOrigins,
		AllowedMethods:   []string{"GET", "POST", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-CSRF-Token"},
		ExposedHeaders:   []string{"Link", SubscriptionWarningHeader, "Retry-After"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	r.Get("/health", h.handleHealth)
	r.Get("/ready", h.handleReady)

	accessGuard := AccessGuard(deps.Validator, deps.Logger)
	rateLimit := func(next http.Handler) http.Handler { return next }
	if deps.SessionLimiter != nil {
		rateLimit = middleware.RateLimit(deps.SessionLimiter, deps.Logger)
	}

	r.Route("/sessions", func(r chi.Router) {
		r.With(rateLimit).Post("/refresh", h.handleRefresh)
		r.Post("/logout", h.handleLogout)

		r.Group(func(r chi.Router) {
			r.Use(accessGuard)

			r.With(rateLimit).Post("/", h.handleCreateSession)
			r.Get("/", h.handleListSessions)
			r.Delete("/", h.handleRevokeAllSessions)
			r.Delete("/{id}", h.handleRevokeSession)
		})
	})

	r.Group(func(r chi.Router) {
		r.Use(accessGuard)

		r.Get("/me", h.handleMe)
		r.Get("/billing/checkout-url", h.handleCheckoutURL)

		r.With(SubscriptionGuard(deps.Subscriptions, deps.Checkout, deps.Logger)).
			Get("/billing/subscription", h.handleGetSubscription)
	})

	r.Post("/billing/webhook", h.handleBillingWebhook)

	return r
}
