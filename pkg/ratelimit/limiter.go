/**
 * @description
 * Fixed-window and token-bucket rate limiters keyed by an arbitrary subject
 * (usually the client IP). RedisLimiter is shared across replicas; LocalLimiter
 * is the in-process fallback used when Redis is not configured or unreachable.
 */
package ratelimit

import (
	"context"
	"time"
)

// Limiter decides whether the caller identified by key may proceed. When it may
// not, retryAfter says how long to wait.
type Limiter interface {
	Allow(ctx context.Context, key string) (allowed bool, retryAfter time.Duration, err error)
}
