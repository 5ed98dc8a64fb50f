package domain

// BillingEvent is published by the billing service whenever a user's
// subscription changes. An empty UserID means the change is not user scoped
// (for example a plan repricing) and every cached entry must be dropped.
type BillingEvent struct {
	Type   string `json:"type"`
	UserID string `json:"user_id"`
}
