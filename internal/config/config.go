/**
 * @description
 * This file handles the configuration management for the access-service.
 * It uses the 'viper' library to load configuration from environment variables
 * (and an optional .env file), applies defaults and validates the settings the
 * guards cannot work without.
 */
package config

import (
	"fmt"
	"log"
	"net/netip"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/transfa/access-service/pkg/middleware"
)

const (
	SessionStorePostgres = "postgres"
	SessionStoreMemory   = "memory"

	TokenValidatorRemote = "remote"
	TokenValidatorLocal  = "local"
)

// Config holds all configuration for the application.
type Config struct {
	ServerPort    string `mapstructure:"SERVER_PORT"`
	DatabaseURL   string `mapstructure:"DATABASE_URL"`
	SessionStore  string `mapstructure:"SESSION_STORE"`
	RunMigrations bool   `mapstructure:"RUN_MIGRATIONS"`

	IdentityServiceURL     string `mapstructure:"IDENTITY_SERVICE_URL"`
	IdentityValidatePath   string `mapstructure:"IDENTITY_VALIDATE_PATH"`
	IdentityTimeoutSeconds int    `mapstructure:"IDENTITY_TIMEOUT_SECONDS"`
	TokenValidator         string `mapstructure:"TOKEN_VALIDATOR"`

	JWTSecret             string `mapstructure:"JWT_SECRET"`
	JWTIssuer             string `mapstructure:"JWT_ISSUER"`
	AccessTokenTTLMinutes int    `mapstructure:"ACCESS_TOKEN_TTL_MINUTES"`
	SessionTTLHours       int    `mapstructure:"SESSION_TTL_HOURS"`
	MaxSessionsPerUser    int    `mapstructure:"MAX_SESSIONS_PER_USER"`

	BillingAPIURL               string `mapstructure:"BILLING_API_URL"`
	BillingAPIKey               string `mapstructure:"BILLING_API_KEY"`
	BillingProjectID            string `mapstructure:"BILLING_PROJECT_ID"`
	BillingFrontendURL          string `mapstructure:"BILLING_FRONTEND_URL"`
	BillingTimeoutSeconds       int    `mapstructure:"BILLING_TIMEOUT_SECONDS"`
	BillingWebhookSecret        string `mapstructure:"BILLING_WEBHOOK_SECRET"`
	SubscriptionCacheTTLSeconds int    `mapstructure:"SUBSCRIPTION_CACHE_TTL_SECONDS"`

	SessionSweepSchedule string `mapstructure:"SESSION_SWEEP_SCHEDULE"`
	CachePurgeSchedule   string `mapstructure:"CACHE_PURGE_SCHEDULE"`

	RabbitMQURL           string `mapstructure:"RABBITMQ_URL"`
	BillingEventsExchange string `mapstructure:"BILLING_EVENTS_EXCHANGE"`
	BillingEventsQueue    string `mapstructure:"BILLING_EVENTS_QUEUE"`

	RedisURL                  string `mapstructure:"REDIS_URL"`
	RateLimitPrefix           string `mapstructure:"RATE_LIMIT_PREFIX"`
	SessionRateLimitPerMinute int    `mapstructure:"SESSION_RATE_LIMIT_PER_MINUTE"`

	CORSAllowedOrigins string `mapstructure:"CORS_ALLOWED_ORIGINS"`
	TrustedProxiesRaw  string `mapstructure:"TRUSTED_PROXIES"`
}

var envKeys = []string{
	"SERVER_PORT",
	"DATABASE_URL",
	"SESSION_STORE",
	"RUN_MIGRATIONS",
	"IDENTITY_SERVICE_URL",
	"IDENTITY_VALIDATE_PATH",
	"IDENTITY_TIMEOUT_SECONDS",
	"TOKEN_VALIDATOR",
	"JWT_SECRET",
	"JWT_ISSUER",
	"ACCESS_TOKEN_TTL_MINUTES",
	"SESSION_TTL_HOURS",
	"MAX_SESSIONS_PER_USER",
	"BILLING_API_URL",
	"BILLING_API_KEY",
	"BILLING_PROJECT_ID",
	"BILLING_FRONTEND_URL",
	"BILLING_TIMEOUT_SECONDS",
	"BILLING_WEBHOOK_SECRET",
	"SUBSCRIPTION_CACHE_TTL_SECONDS",
	"SESSION_SWEEP_SCHEDULE",
	"CACHE_PURGE_SCHEDULE",
	"RABBITMQ_URL",
	"BILLING_EVENTS_EXCHANGE",
	"BILLING_EVENTS_QUEUE",
	"REDIS_URL",
	"RATE_LIMIT_PREFIX",
	"SESSION_RATE_LIMIT_PER_MINUTE",
	"CORS_ALLOWED_ORIGINS",
	"TRUSTED_PROXIES",
}

// LoadConfig reads configuration from file or environment variables.
func LoadConfig() (*Config, error) {
	viper.AddConfigPath(".")
	viper.SetConfigName(".env")
	viper.SetConfigType("env")

	viper.SetDefault("SERVER_PORT", "8086")
	viper.SetDefault("SESSION_STORE", SessionStorePostgres)
	viper.SetDefault("RUN_MIGRATIONS", true)
	viper.SetDefault("IDENTITY_VALIDATE_PATH", "/auth/me")
	viper.SetDefault("IDENTITY_TIMEOUT_SECONDS", 5)
	viper.SetDefault("TOKEN_VALIDATOR", TokenValidatorRemote)
	viper.SetDefault("JWT_ISSUER", "access-service")
	viper.SetDefault("ACCESS_TOKEN_TTL_MINUTES", 15)
	viper.SetDefault("SESSION_TTL_HOURS", 720) // 30 days
	viper.SetDefault("MAX_SESSIONS_PER_USER", 0)
	viper.SetDefault("BILLING_TIMEOUT_SECONDS", 5)
	viper.SetDefault("SUBSCRIPTION_CACHE_TTL_SECONDS", 300)
	viper.SetDefault("SESSION_SWEEP_SCHEDULE", "@every 15m")
	viper.SetDefault("CACHE_PURGE_SCHEDULE", "@every 5m")
	viper.SetDefault("BILLING_EVENTS_EXCHANGE", "billing.events")
	viper.SetDefault("BILLING_EVENTS_QUEUE", "access_service_billing_events")
	viper.SetDefault("RATE_LIMIT_PREFIX", "access:rate_limit")
	viper.SetDefault("SESSION_RATE_LIMIT_PER_MINUTE", 30)

	viper.AutomaticEnv()
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	// Bind envs explicitly so containers pick them up reliably
	for _, key := range envKeys {
		_ = viper.BindEnv(key)
	}

	if err := viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			log.Printf("Warning: Error reading config file: %s", err)
		}
	}

	var cfg Config
	if err := viper.Unmarshal(&cfg); err != nil {
		return nil, err
	}

	cfg.normalize()
	if err := cfg.validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

func (c *Config) normalize() {
	c.SessionStore = strings.ToLower(strings.TrimSpace(c.SessionStore))
	c.TokenValidator = strings.ToLower(strings.TrimSpace(c.TokenValidator))
	c.IdentityServiceURL = strings.TrimSuffix(strings.TrimSpace(c.IdentityServiceURL), "/")
	c.BillingAPIURL = strings.TrimSuffix(strings.TrimSpace(c.BillingAPIURL), "/")
	c.BillingFrontendURL = strings.TrimSuffix(strings.TrimSpace(c.BillingFrontendURL), "/")
	if c.IdentityValidatePath != "" && !strings.HasPrefix(c.IdentityValidatePath, "/") {
		c.IdentityValidatePath = "/" + c.IdentityValidatePath
	}
}

func (c *Config) validate() error {
	switch c.SessionStore {
	case SessionStorePostgres:
		if strings.TrimSpace(c.DatabaseURL) == "" {
			return fmt.Errorf("DATABASE_URL must be set when SESSION_STORE=%s", SessionStorePostgres)
		}
	case SessionStoreMemory:
	default:
		return fmt.Errorf("unsupported SESSION_STORE %q (supported: postgres, memory)", c.SessionStore)
	}

	switch c.TokenValidator {
	case TokenValidatorRemote:
		if c.IdentityServiceURL == "" {
			return fmt.Errorf("IDENTITY_SERVICE_URL must be set when TOKEN_VALIDATOR=%s", TokenValidatorRemote)
		}
	case TokenValidatorLocal:
		if strings.TrimSpace(c.JWTSecret) == "" {
			return fmt.Errorf("JWT_SECRET must be set when TOKEN_VALIDATOR=%s", TokenValidatorLocal)
		}
	default:
		return fmt.Errorf("unsupported TOKEN_VALIDATOR %q (supported: remote, local)", c.TokenValidator)
	}

	if c.BillingAPIURL == "" {
		return fmt.Errorf("BILLING_API_URL must be set")
	}
	if strings.TrimSpace(c.BillingAPIKey) == "" {
		return fmt.Errorf("BILLING_API_KEY must be set")
	}
	if strings.TrimSpace(c.BillingProjectID) == "" {
		return fmt.Errorf("BILLING_PROJECT_ID must be set")
	}
	if c.BillingFrontendURL == "" {
		return fmt.Errorf("BILLING_FRONTEND_URL must be set")
	}
	if c.SubscriptionCacheTTLSeconds <= 0 {
		return fmt.Errorf("SUBSCRIPTION_CACHE_TTL_SECONDS must be positive, got %d", c.SubscriptionCacheTTLSeconds)
	}
	if c.AccessTokenTTLMinutes <= 0 {
		return fmt.Errorf("ACCESS_TOKEN_TTL_MINUTES must be positive, got %d", c.AccessTokenTTLMinutes)
	}
	if c.SessionTTLHours <= 0 {
		return fmt.Errorf("SESSION_TTL_HOURS must be positive, got %d", c.SessionTTLHours)
	}
	if c.MaxSessionsPerUser < 0 {
		return fmt.Errorf("MAX_SESSIONS_PER_USER must not be negative, got %d", c.MaxSessionsPerUser)
	}
	if _, err := c.TrustedProxies(); err != nil {
		return fmt.Errorf("TRUSTED_PROXIES: %w", err)
	}
	return nil
}

// SubscriptionCacheTTL is the lifetime of a cached billing lookup.
func (c *Config) SubscriptionCacheTTL() time.Duration {
	return time.Duration(c.SubscriptionCacheTTLSeconds) * time.Second
}

// SessionTTL is how long a freshly created session stays usable.
func (c *Config) SessionTTL() time.Duration {
	return time.Duration(c.SessionTTLHours) * time.Hour
}

func (c *Config) AccessTokenTTL() time.Duration {
	return time.Duration(c.AccessTokenTTLMinutes) * time.Minute
}

func (c *Config) IdentityTimeout() time.Duration {
	return time.Duration(c.IdentityTimeoutSeconds) * time.Second
}

func (c *Config) BillingTimeout() time.Duration {
	return time.Duration(c.BillingTimeoutSeconds) * time.Second
}

// AllowedOrigins splits CORS_ALLOWED_ORIGINS, falling back to any http(s) origin.
func (c *Config) AllowedOrigins() []string {
	var origins []string
	for _, origin := range strings.Split(c.CORSAllowedOrigins, ",") {
		if trimmed := strings.TrimSpace(origin); trimmed != "" {
			origins = append(origins, trimmed)
		}
	}
	if len(origins) == 0 {
		return []string{"https://*", "http://*"}
	}
	return origins
}

// TrustedProxies parses TRUSTED_PROXIES. Forwarding headers are ignored unless
// the request peer is listed here.
func (c *Config) TrustedProxies() ([]netip.Prefix, error) {
	return middleware.ParseTrustedProxies(c.TrustedProxiesRaw)
}
