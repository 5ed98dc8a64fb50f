/**
 * @description
 * This is the main entry point for the access-service.
 * It wires configuration, the session store, the token validator, the billing
 * client and subscription cache, the billing event consumer, the housekeeping
 * scheduler and the HTTP router, then serves until SIGINT/SIGTERM.
 *
 * @dependencies
 * - github.com/joho/godotenv: For loading .env files during local development.
 * - github.com/jackc/pgx/v5: PostgreSQL session store.
 * - github.com/redis/go-redis/v9: Shared rate limiting, when REDIS_URL is reachable.
 * - github.com/rabbitmq/amqp091-go (via pkg/rabbitmq): Billing event consumption.
 */
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"

	"github.com/transfa/access-service/internal/api"
	"github.com/transfa/access-service/internal/app"
	"github.com/transfa/access-service/internal/config"
	"github.com/transfa/access-service/internal/security"
	"github.com/transfa/access-service/internal/store"
	"github.com/transfa/access-service/pkg/billingclient"
	"github.com/transfa/access-service/pkg/identityclient"
	"github.com/transfa/access-service/pkg/rabbitmq"
	"github.com/transfa/access-service/pkg/ratelimit"
)

const consumerRetryDelay = 10 * time.Second

func main() {
	// Initialize structured logger
	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))

	if err := godotenv.Load(); err != nil {
		logger.Info("no .env file found, relying on environment variables")
	}

	cfg, err := config.LoadConfig()
	if err != nil {
		logger.Error("failed to load configuration", "error", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Session store
	var repo store.SessionRepository
	switch cfg.SessionStore {
	case config.SessionStoreMemory:
		logger.Warn("using in-memory session store; sessions are lost on restart")
		repo = store.NewMemorySessionRepository()
	default:
		if cfg.RunMigrations {
			if err := store.RunMigrations(cfg.DatabaseURL, "up"); err != nil {
				logger.Error("failed to run migrations", "error", err)
				os.Exit(1)
			}
			logger.Info("database migrations applied")
		}

		dbpool, err := newDBPool(ctx, cfg.DatabaseURL)
		if err != nil {
			logger.Error("unable to connect to database", "error", err)
			os.Exit(1)
		}
		defer dbpool.Close()
		logger.Info("database connection established")

		repo = store.NewPostgresSessionRepository(dbpool)
	}

	// Access tokens are minted only when a signing secret is configured.
	var issuer app.AccessTokenIssuer
	if strings.TrimSpace(cfg.JWTSecret) != "" {
		issuer = security.NewTokenIssuer(cfg.JWTSecret, cfg.JWTIssuer, cfg.AccessTokenTTL())
	}

	// Initialize application layers
	billing := billingclient.NewClient(cfg.BillingAPIURL, cfg.BillingAPIKey, cfg.BillingProjectID, cfg.BillingTimeout())
	checkout := billingclient.NewCheckoutURLBuilder(cfg.BillingFrontendURL, cfg.BillingAPIKey)
	cache := app.NewSubscriptionCache(billing, cfg.SubscriptionCacheTTL(), logger)
	sessions := app.NewSessionService(repo, issuer, cfg.SessionTTL(), cfg.MaxSessionsPerUser, logger)

	// Locally verified tokens are also checked against their session so that
	// logout and revoke take effect immediately.
	var validator api.TokenValidator
	switch cfg.TokenValidator {
	case config.TokenValidatorLocal:
		validator = app.NewSessionBoundValidator(security.NewLocalValidator(cfg.JWTSecret, cfg.JWTIssuer), sessions)
	default:
		validator = identityclient.NewClient(cfg.IdentityServiceURL, cfg.IdentityValidatePath, cfg.IdentityTimeout())
	}
	logger.Info("token validator configured", "validator", cfg.TokenValidator)

	trustedProxies, err := cfg.TrustedProxies()
	if err != nil {
		logger.Error("invalid trusted proxies", "error", err)
		os.Exit(1)
	}
	events := app.NewBillingEventHandler(cache, logger)

	limiter := newSessionLimiter(ctx, cfg, logger)

	if strings.TrimSpace(cfg.RabbitMQURL) != "" {
		go consumeBillingEvents(ctx, cfg, events, logger)
	} else {
		logger.Warn("RABBITMQ_URL not set; billing events only arrive through the webhook")
	}

	scheduler := app.NewScheduler(sessions, cache, logger, app.SchedulerConfig{
		SessionSweepSchedule: cfg.SessionSweepSchedule,
		CachePurgeSchedule:   cfg.CachePurgeSchedule,
	})
	if err := scheduler.Start(); err != nil {
		logger.Error("failed to start scheduler", "error", err)
		os.Exit(1)
	}

	handler := api.NewHandler(sessions, events, checkout, cfg.BillingWebhookSecret, logger)
	router := api.NewRouter(handler, api.RouterDeps{
		Validator:      validator,
		Subscriptions:  cache,
		Checkout:       checkout,
		SessionLimiter: limiter,
		AllowedOrigins: cfg.AllowedOrigins(),
		TrustedProxies: trustedProxies,
		Logger:         logger,
	})

	// Configure and start the HTTP server
	server := &http.Server{
		Addr:              fmt.Sprintf(":%s", cfg.ServerPort),
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		logger.Info("starting server", "port", cfg.ServerPort)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("server failed to start", "error", err)
			os.Exit(1)
		}
	}()

	<-ctx.Done()
	logger.Info("shutdown signal received, gracefully shutting down")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("server shutdown failed", "error", err)
	}
	<-scheduler.Stop().Done()

	logger.Info("server stopped")
}

func newDBPool(ctx context.Context, databaseURL string) (*pgxpool.Pool, error) {
	poolConfig, err := pgxpool.ParseConfig(databaseURL)
	if err != nil {
		return nil, fmt.Errorf("parse database URL: %w", err)
	}

	poolConfig.MaxConns = 20
	poolConfig.MinConns = 2
	poolConfig.MaxConnLifetime = 30 * time.Minute
	poolConfig.MaxConnIdleTime = 5 * time.Minute

	// Simple protocol keeps the pool usable behind PgBouncer transaction pooling.
	poolConfig.ConnConfig.DefaultQueryExecMode = pgx.QueryExecModeSimpleProtocol

	dbpool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		return nil, err
	}

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := dbpool.Ping(pingCtx); err != nil {
		dbpool.Close()
		return nil, err
	}
	return dbpool, nil
}

// newSessionLimiter prefers a Redis-backed limiter shared by all replicas and
// falls back to per-process buckets when Redis is not configured or unreachable.
func newSessionLimiter(ctx context.Context, cfg *config.Config, logger *slog.Logger) ratelimit.Limiter {
	if cfg.SessionRateLimitPerMinute <= 0 {
		logger.Warn("session rate limiting disabled", "env", "SESSION_RATE_LIMIT_PER_MINUTE")
		return nil
	}

	if strings.TrimSpace(cfg.RedisURL) != "" {
		redisOptions, err := redis.ParseURL(cfg.RedisURL)
		if err != nil {
			logger.Warn("redis url parse failed; using in-process rate limiting", "error", err)
		} else {
			client := redis.NewClient(redisOptions)
			pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
			defer cancel()
			if err := client.Ping(pingCtx).Err(); err != nil {
				logger.Warn("redis ping failed; using in-process rate limiting", "error", err)
				client.Close()
			} else {
				go func() {
					<-ctx.Done()
					client.Close()
				}()
				logger.Info("redis connected; using shared rate limiting")
				return ratelimit.NewRedisLimiter(client, cfg.RateLimitPrefix, "sessions", cfg.SessionRateLimitPerMinute, time.Minute)
			}
		}
	}

	local := ratelimit.NewLocalLimiter(cfg.SessionRateLimitPerMinute)
	go local.RunCleanup(ctx, 5*time.Minute)
	return local
}

// consumeBillingEvents keeps a RabbitMQ consumer running until ctx is done,
// reconnecting after broker failures.
func consumeBillingEvents(ctx context.Context, cfg *config.Config, events *app.BillingEventHandler, logger *slog.Logger) {
	for {
		consumer, err := rabbitmq.NewConsumer(cfg.RabbitMQURL, logger)
		if err == nil {
			err = consumer.Consume(ctx, cfg.BillingEventsExchange, cfg.BillingEventsQueue,
				[]string{"subscription.*"}, events.HandleMessage)
			consumer.Close()
		}
		if ctx.Err() != nil {
			return
		}
		logger.Error("billing event consumer stopped; retrying", "error", err, "retry_in", consumerRetryDelay)

		select {
		case <-ctx.Done():
			return
		case <-time.After(consumerRetryDelay):
		}
	}
}
