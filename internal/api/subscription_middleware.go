/**
 * @description
 * SubscriptionGuard admits only callers whose subscription grants access. It
 * must run after AccessGuard. Denied callers receive a SUBSCRIPTION_REQUIRED
 * answer carrying the reason and a checkout link for their account.
 */
package api

import (
	"context"
	"log/slog"
	"net/http"
	"strings"

	"github.com/transfa/access-service/internal/domain"
	"github.com/transfa/access-service/pkg/billingclient"
)

// SubscriptionWarningHeader is set on admitted requests whose payment is past due.
const SubscriptionWarningHeader = "X-Subscription-Warning"

// SubscriptionChecker decides whether a user's subscription grants access.
type SubscriptionChecker interface {
	IsValid(ctx context.Context, userID string) domain.ValidationResult
}

// CheckoutLinker builds checkout links for denied callers.
type CheckoutLinker interface {
	Build(p billingclient.CheckoutParams) string
}

// SubscriptionGuard rejects requests from users without a valid subscription.
func SubscriptionGuard(checker SubscriptionChecker, checkout CheckoutLinker, logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			identity, ok := IdentityFromContext(r.Context())
			if !ok || strings.TrimSpace(identity.ID) == "" {
				writeError(w, http.StatusUnauthorized, CodeNotAuthenticatedForBilling, "Authentication required to check subscription")
				return
			}

			result := checker.IsValid(r.Context(), identity.ID)
			if !result.Valid {
				logger.Info("subscription required", "user_id", identity.ID, "reason", result.Reason)
				respondWithJSON(w, http.StatusForbidden, ErrorResponse{
					ErrorCode:    CodeSubscriptionRequired,
					ErrorMessage: "An active subscription is required",
					Reason:       result.Reason,
					CheckoutURL: checkout.Build(billingclient.CheckoutParams{
						UserID: identity.ID,
						Email:  identity.Email,
						Name:   identity.Name,
					}),
				})
				return
			}

			if result.Reason == domain.ReasonPaymentPastDue {
				w.Header().Set(SubscriptionWarningHeader, domain.ReasonPaymentPastDue)
			}

			next.ServeHTTP(w, r.WithContext(WithSubscription(r.Context(), result.Subscription)))
		})
	}
}

// WithSubscription stores the caller's subscription in ctx.
func WithSubscription(ctx context.Context, sub *domain.Subscription) context.Context {
	return context.WithValue(ctx, subscriptionContextKey, sub)
}

// SubscriptionFromContext returns the subscription attached by SubscriptionGuard.
func SubscriptionFromContext(ctx context.Context) (*domain.Subscription, bool) {
	sub, ok := ctx.Value(subscriptionContextKey).(*domain.Subscription)
	return sub, ok && sub != nil
}
