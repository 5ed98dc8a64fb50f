/**
 * @description
 * BillingEventHandler turns subscription change notifications from the billing
 * service into cache invalidations. The same handler serves the RabbitMQ
 * consumer and the HTTP webhook.
 */
package app

import (
	"encoding/json"
	"log/slog"
	"strings"

	"github.com/transfa/access-service/internal/domain"
)

// CacheInvalidator drops cached subscription snapshots.
type CacheInvalidator interface {
	Invalidate(userID string)
	InvalidateAll()
}

// BillingEventHandler applies billing events to the subscription cache.
type BillingEventHandler struct {
	cache  CacheInvalidator
	logger *slog.Logger
}

func NewBillingEventHandler(cache CacheInvalidator, logger *slog.Logger) *BillingEventHandler {
	return &BillingEventHandler{cache: cache, logger: logger}
}

// Apply invalidates the event's user, or the whole cache when no user is named.
func (h *BillingEventHandler) Apply(event domain.BillingEvent) {
	userID := strings.TrimSpace(event.UserID)
	if userID == "" {
		h.cache.InvalidateAll()
		h.logger.Info("subscription cache cleared", "event_type", event.Type)
		return
	}

	h.cache.Invalidate(userID)
	h.logger.Info("subscription cache entry invalidated", "event_type", event.Type, "user_id", userID)
}

// HandleMessage processes a raw queue message. Malformed messages are acked so
// they are not redelivered forever.
func (h *BillingEventHandler) HandleMessage(body []byte) bool {
	var event domain.BillingEvent
	if err := json.Unmarshal(body, &event); err != nil {
		h.logger.Error("malformed billing event; acking", "error", err)
		return true
	}

	h.Apply(event)
	return true
}
