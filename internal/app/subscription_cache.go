/**
 * @description
 * SubscriptionCache fetches and time-caches each user's subscription snapshot
 * from the billing service.
 *
 * Key rules:
 * - A cached nil is a confirmed "no subscription" (billing answered 404) and is
 *   served until it expires, like any other entry.
 * - Any other billing failure is logged and reported as "no subscription" for
 *   that call only; it is never cached, so the next call fetches again.
 * - The TTL starts when the fetch completes.
 *
 * The cache is process local. Invalidate only affects the process that
 * receives it; replicas expire independently.
 */
package app

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/transfa/access-service/internal/domain"
	"github.com/transfa/access-service/pkg/billingclient"
	"golang.org/x/sync/singleflight"
)

// DefaultSubscriptionCacheTTL is how long a billing lookup is trusted.
const DefaultSubscriptionCacheTTL = 5 * time.Minute

// SubscriptionFetcher retrieves a user's subscription from the billing service.
// It must return billingclient.ErrSubscriptionNotFound when the user has none.
type SubscriptionFetcher interface {
	GetSubscription(ctx context.Context, userID string) (*domain.Subscription, error)
}

type cacheEntry struct {
	subscription *domain.Subscription
	expiresAt    time.Time
}

// SubscriptionCache is safe for concurrent use.
type SubscriptionCache struct {
	fetcher SubscriptionFetcher
	ttl     time.Duration
	logger  *slog.Logger
	now     func() time.Time

	mu      sync.RWMutex
	entries map[string]cacheEntry
	// A fetch writes back only if no invalidation covering its user happened
	// after it started. seq orders invalidations; invalidated is kept only for
	// users with a fetch in flight.
	seq         uint64
	clearedAt   uint64
	inflight    map[string]int
	invalidated map[string]uint64
	group       singleflight.Group
}

// NewSubscriptionCache creates an empty cache in front of fetcher.
func NewSubscriptionCache(fetcher SubscriptionFetcher, ttl time.Duration, logger *slog.Logger) *SubscriptionCache {
	if ttl <= 0 {
		ttl = DefaultSubscriptionCacheTTL
	}
	return &SubscriptionCache{
		fetcher: fetcher,
		ttl:     ttl,
		logger:  logger,
		now:     time.Now,
		entries:     make(map[string]cacheEntry),
		inflight:    make(map[string]int),
		invalidated: make(map[string]uint64),
	}
}

// GetSubscription returns the user's subscription, or nil when the user has none
// or the billing service could not be consulted.
func (c *SubscriptionCache) GetSubscription(ctx context.Context, userID string) *domain.Subscription {
	if sub, ok := c.lookup(userID); ok {
		return sub
	}

	// Concurrent misses for the same user share one fetch. The fetch is detached
	// from the caller's cancellation so an aborted request cannot fail the others;
	// the billing client's timeout still bounds it.
	fetchCtx := context.WithoutCancel(ctx)
	result, err, _ := c.group.Do(userID, func() (any, error) {
		return c.fetch(fetchCtx, userID)
	})
	if err != nil {
		return nil
	}
	sub, _ := result.(*domain.Subscription)
	return sub
}

func (c *SubscriptionCache) lookup(userID string) (*domain.Subscription, bool) {
	c.mu.RLock()
	entry, ok := c.entries[userID]
	c.mu.RUnlock()

	if !ok || !entry.expiresAt.After(c.now()) {
		return nil, false
	}
	return entry.subscription, true
}

func (c *SubscriptionCache) fetch(ctx context.Context, userID string) (*domain.Subscription, error) {
	c.mu.Lock()
	c.inflight[userID]++
	start := c.seq
	c.mu.Unlock()

	sub, err := c.fetcher.GetSubscription(ctx, userID)

	c.mu.Lock()
	defer c.mu.Unlock()
	stale := c.clearedAt > start || c.invalidated[userID] > start
	c.inflight[userID]--
	if c.inflight[userID] <= 0 {
		delete(c.inflight, userID)
		delete(c.invalidated, userID)
	}

	if err != nil {
		if !errors.Is(err, billingclient.ErrSubscriptionNotFound) {
			c.logger.Error("billing lookup failed; treating as no subscription without caching",
				"user_id", userID, "error", err)
			return nil, err
		}
		sub = nil
	}

	if !stale {
		c.entries[userID] = cacheEntry{subscription: sub, expiresAt: c.now().Add(c.ttl)}
	}
	return sub, nil
}

// IsValid reports whether the user currently holds a subscription that grants access.
func (c *SubscriptionCache) IsValid(ctx context.Context, userID string) domain.ValidationResult {
	return domain.Evaluate(c.GetSubscription(ctx, userID))
}

// Invalidate drops the cached entry for userID.
func (c *SubscriptionCache) Invalidate(userID string) {
	c.mu.Lock()
	delete(c.entries, userID)
	if c.inflight[userID] > 0 {
		c.seq++
		c.invalidated[userID] = c.seq
	}
	c.mu.Unlock()
}

// InvalidateAll empties the cache.
func (c *SubscriptionCache) InvalidateAll() {
	c.mu.Lock()
	c.entries = make(map[string]cacheEntry)
	c.seq++
	c.clearedAt = c.seq
	c.mu.Unlock()
}

// PurgeExpired removes stale entries and returns how many were dropped.
// Stale entries are already ignored on read; this only bounds memory.
func (c *SubscriptionCache) PurgeExpired() int {
	now := c.now()

	c.mu.Lock()
	defer c.mu.Unlock()

	purged := 0
	for userID, entry := range c.entries {
		if !entry.expiresAt.After(now) {
			delete(c.entries, userID)
			purged++
		}
	}
	return purged
}

// Len returns the number of entries currently held, stale ones included.
func (c *SubscriptionCache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}
