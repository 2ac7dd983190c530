package config

import (
	"errors"
	"fmt"
	"log/slog"
	"strings"
)

// Validate checks Config for production-critical problems.
// It collects all errors into a single joined error.
func (c *Config) Validate() error {
	var errs []string

	// JWT secret
	if len(c.JWT.AccessSecret) < 32 {
		errs = append(errs, "JWT_ACCESS_SECRET must be at least 32 characters")
	}

	// DB password, only needed when tokens live in Postgres
	switch c.Tokens.Store {
	case StorePostgres:
		if c.DB.Password == "" {
			errs = append(errs, "DB_PASSWORD is required")
		}
	case StoreMemory:
		slog.Warn("TOKENS_STORE=memory: allocations and resets are lost on restart")
	default:
		errs = append(errs, fmt.Sprintf("TOKENS_STORE must be %q or %q, got %q", StorePostgres, StoreMemory, c.Tokens.Store))
	}

	// Port ranges
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		errs = append(errs, fmt.Sprintf("SERVER_PORT must be 1-65535, got %d", c.Server.Port))
	}
	if c.DB.Port < 1 || c.DB.Port > 65535 {
		errs = append(errs, fmt.Sprintf("DB_PORT must be 1-65535, got %d", c.DB.Port))
	}
	if c.Redis.Port < 1 || c.Redis.Port > 65535 {
		errs = append(errs, fmt.Sprintf("REDIS_PORT must be 1-65535, got %d", c.Redis.Port))
	}

	// Token policy
	quotas := []struct {
		name  string
		value int
	}{
		{"TOKENS_QUOTA_QUIZ", c.Tokens.QuotaQuiz},
		{"TOKENS_QUOTA_LAB", c.Tokens.QuotaLab},
		{"TOKENS_QUOTA_BATTLEDRILL", c.Tokens.QuotaBattleDrill},
	}
	for _, q := range quotas {
		if q.value < 0 {
			errs = append(errs, fmt.Sprintf("%s must not be negative, got %d", q.name, q.value))
		}
	}
	if c.Tokens.CooldownMinutes < 0 {
		errs = append(errs, fmt.Sprintf("TOKENS_COOLDOWN_MINUTES must not be negative, got %d", c.Tokens.CooldownMinutes))
	}
	if c.Tokens.MaxRetries < 1 {
		errs = append(errs, fmt.Sprintf("TOKENS_MAX_RETRIES must be at least 1, got %d", c.Tokens.MaxRetries))
	}
	if c.Tokens.StatsTopItems < 1 {
		errs = append(errs, fmt.Sprintf("TOKENS_STATS_TOP_ITEMS must be at least 1, got %d", c.Tokens.StatsTopItems))
	}
	if _, err := c.Tokens.Location(); err != nil {
		errs = append(errs, fmt.Sprintf("TOKENS_TIMEZONE is not a known location: %q", c.Tokens.Timezone))
	}

	if c.RateLimit.Requests < 1 {
		errs = append(errs, fmt.Sprintf("RATE_LIMIT_REQUESTS must be at least 1, got %d", c.RateLimit.Requests))
	}

	// NATS: warn only
	if c.NATS.URL == "" {
		slog.Warn("NATS_URL is empty, token events and audit logging are disabled")
	}

	if len(errs) > 0 {
		return errors.New("config validation failed:\n  " + strings.Join(errs, "\n  "))
	}
	return nil
}
