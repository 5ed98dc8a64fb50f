package ratelimit

import (
	"context"
	"fmt"
	"os"
	"testing"
	"time"

	"github.com/ory/dockertest/v3"
	"github.com/ory/dockertest/v3/docker"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"
)

func TestRedisLimiterIntegration(t *testing.T) {
	if testing.Short() || os.Getenv("SKIP_DOCKER") == "1" {
		t.Skip("skipping docker-backed integration test")
	}

	pool, err := dockertest.NewPool("")
	if err != nil {
		t.Skipf("docker not available: %v", err)
	}
	if err := pool.Client.Ping(); err != nil {
		t.Skipf("docker not available: %v", err)
	}

	resource, err := pool.RunWithOptions(&dockertest.RunOptions{
		Repository: "redis",
		Tag:        "7-alpine",
	}, func(config *docker.HostConfig) {
		config.AutoRemove = true
		config.RestartPolicy = docker.RestartPolicy{Name: "no"}
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = pool.Purge(resource) })

	client := redis.NewClient(&redis.Options{Addr: fmt.Sprintf("localhost:%s", resource.GetPort("6379/tcp"))})
	t.Cleanup(func() { _ = client.Close() })

	ctx := context.Background()
	require.NoError(t, pool.Retry(func() error {
		return client.Ping(ctx).Err()
	}))

	limiter := NewRedisLimiter(client, "test:rate_limit:", "refresh", 2, time.Minute)

	for i := 0; i < 2; i++ {
		allowed, _, err := limiter.Allow(ctx, "10.0.0.1")
		require.NoError(t, err)
		require.True(t, allowed)
	}

	allowed, retryAfter, err := limiter.Allow(ctx, "10.0.0.1")
	require.NoError(t, err)
	require.False(t, allowed)
	require.Greater(t, retryAfter, time.Duration(0))
	require.LessOrEqual(t, retryAfter, time.Minute)

	allowed, _, err = limiter.Allow(ctx, "10.0.0.2")
	require.NoError(t, err)
	require.True(t, allowed)

	ttl, err := client.PTTL(ctx, "test:rate_limit:refresh:10.0.0.1").Result()
	require.NoError(t, err)
	require.Greater(t, ttl, time.Duration(0))
}

func TestRedisLimiter_DisabledLimitAllows(t *testing.T) {
	limiter := NewRedisLimiter(nil, "", "refresh", 0, time.Minute)
	allowed, _, err := limiter.Allow(context.Background(), "10.0.0.1")
	if err != nil || !allowed {
		t.Fatalf("expected a zero limit to allow without touching redis, got %t (%v)", allowed, err)
	}
}
