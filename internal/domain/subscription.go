/**
 * @description
 * This file defines the billing models the access-service consumes. Subscriptions
 * are never persisted locally; they only live inside the subscription cache.
 */
package domain

import "time"

// SubscriptionStatus is the billing provider's lifecycle state.
type SubscriptionStatus string

const (
	StatusActive   SubscriptionStatus = "active"
	StatusTrialing SubscriptionStatus = "trialing"
	StatusPastDue  SubscriptionStatus = "past_due"
	StatusCanceled SubscriptionStatus = "canceled"
	StatusExpired  SubscriptionStatus = "expired"
	StatusInactive SubscriptionStatus = "inactive"
	StatusPending  SubscriptionStatus = "pending"
	StatusPaused   SubscriptionStatus = "paused"
)

// Known reports whether s is one of the statuses the billing service may return.
func (s SubscriptionStatus) Known() bool {
	switch s {
	case StatusActive, StatusTrialing, StatusPastDue, StatusCanceled,
		StatusExpired, StatusInactive, StatusPending, StatusPaused:
		return true
	}
	return false
}

const (
	// ReasonPaymentPastDue flags a subscription that is still honoured during the grace period.
	ReasonPaymentPastDue = "payment_past_due"
	// ReasonNoSubscription is reported when the billing service knows no subscription for the user.
	ReasonNoSubscription = "no_subscription"
)

// Plan is the priced plan a subscription belongs to.
type Plan struct {
	ID         string `json:"id"`
	Name       string `json:"name"`
	PriceCents int64  `json:"priceCents"`
	Currency   string `json:"currency"`
	Interval   string `json:"interval"`
}

// Subscription is a point-in-time snapshot reported by the billing service.
type Subscription struct {
	ID                 string             `json:"id"`
	UserID             string             `json:"userId"`
	PlanID             string             `json:"planId"`
	Status             SubscriptionStatus `json:"status"`
	CurrentPeriodStart time.Time          `json:"currentPeriodStart"`
	CurrentPeriodEnd   time.Time          `json:"currentPeriodEnd"`
	CancelAtPeriodEnd  bool               `json:"cancelAtPeriodEnd"`
	Plan               Plan               `json:"plan"`
}

// ValidationResult is the outcome of checking whether a user may use paid features.
type ValidationResult struct {
	Valid        bool          `json:"valid"`
	Subscription *Subscription `json:"subscription,omitempty"`
	Reason       string        `json:"reason,omitempty"`
}

// Evaluate maps a subscription snapshot (nil when the user has none) to a ValidationResult.
// past_due stays valid so users keep access while the provider retries payment.
func Evaluate(sub *Subscription) ValidationResult {
	if sub == nil {
		return ValidationResult{Valid: false, Reason: ReasonNoSubscription}
	}

	switch sub.Status {
	case StatusActive, StatusTrialing:
		return ValidationResult{Valid: true, Subscription: sub}
	case StatusPastDue:
		return ValidationResult{Valid: true, Subscription: sub, Reason: ReasonPaymentPastDue}
	default:
		return ValidationResult{Valid: false, Subscription: sub, Reason: string(sub.Status)}
	}
}
