package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/knadh/koanf/parsers/dotenv"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
)

// Token store backends.
const (
	StorePostgres = "postgres"
	StoreMemory   = "memory"
)

type Config struct {
	Server    ServerConfig
	DB        DBConfig
	Redis     RedisConfig
	NATS      NATSConfig
	JWT       JWTConfig
	Log       LogConfig
	CORS      CORSConfig
	RateLimit RateLimitConfig
	Tokens    TokensConfig
}

type ServerConfig struct {
	Host string
	Port int
}

type DBConfig struct {
	Host           string
	Port           int
	User           string
	Password       string
	Name           string
	SSLMode        string
	MaxConns       int32
	MigrationsPath string
}

func (c DBConfig) DSN() string {
	return fmt.Sprintf("postgres://%s:%s@%s:%d/%s?sslmode=%s",
		c.User, c.Password, c.Host, c.Port, c.Name, c.SSLMode)
}

type RedisConfig struct {
	Host     string
	Port     int
	Password string
	DB       int
	PoolSize int // 0 keeps the go-redis default
}

func (c RedisConfig) Addr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// NATSConfig configures event publishing. An empty URL disables NATS.
type NATSConfig struct {
	URL string
}

// JWTConfig holds the secret used to verify access tokens issued by the
// platform's auth service.
type JWTConfig struct {
	AccessSecret string
	Issuer       string
}

type LogConfig struct {
	Level  string
	Format string
}

type CORSConfig struct {
	AllowedOrigins []string
}

// RateLimitConfig bounds POST /tokens/use per user.
type RateLimitConfig struct {
	Requests int
	Window   time.Duration
}

// TokensConfig is the reset token policy.
type TokensConfig struct {
	QuotaQuiz        int
	QuotaLab         int
	QuotaBattleDrill int
	CooldownMinutes  int
	MaxRetries       int
	Timezone         string
	StatsTopItems    int
	StatsCacheTTL    time.Duration
	Store            string
}

func Load() (*Config, error) {
	k := koanf.New(".")

	// Load .env file if it exists (ignore error if missing)
	_ = k.Load(file.Provider(".env"), dotenv.Parser())

	// Load environment variables (override .env)
	err := k.Load(env.Provider("", ".", func(s string) string {
		return strings.ToLower(strings.ReplaceAll(s, "_", "."))
	}), nil)
	if err != nil {
		return nil, fmt.Errorf("loading env vars: %w", err)
	}

	cfg := &Config{
		Server: ServerConfig{
			Host: k.String("server.host"),
			Port: k.Int("server.port"),
		},
		DB: DBConfig{
			Host:           k.String("db.host"),
			Port:           k.Int("db.port"),
			User:           k.String("db.user"),
			Password:       k.String("db.password"),
			Name:           k.String("db.name"),
			SSLMode:        k.String("db.sslmode"),
			MaxConns:       int32(k.Int("db.max.conns")),
			MigrationsPath: k.String("db.migrations.path"),
		},
		Redis: RedisConfig{
			Host:     k.String("redis.host"),
			Port:     k.Int("redis.port"),
			Password: k.String("redis.password"),
			DB:       k.Int("redis.db"),
			PoolSize: k.Int("redis.pool.size"),
		},
		NATS: NATSConfig{
			URL: k.String("nats.url"),
		},
		JWT: JWTConfig{
			AccessSecret: k.String("jwt.access.secret"),
			Issuer:       k.String("jwt.issuer"),
		},
		Log: LogConfig{
			Level:  k.String("log.level"),
			Format: k.String("log.format"),
		},
		CORS: CORSConfig{
			AllowedOrigins: splitList(k.String("cors.allowed.origins")),
		},
		RateLimit: RateLimitConfig{
			Requests: k.Int("rate.limit.requests"),
		},
		Tokens: TokensConfig{
			QuotaQuiz:        intOr(k, "tokens.quota.quiz", 2),
			QuotaLab:         intOr(k, "tokens.quota.lab", 1),
			QuotaBattleDrill: intOr(k, "tokens.quota.battledrill", 3),
			CooldownMinutes:  intOr(k, "tokens.cooldown.minutes", 30),
			MaxRetries:       k.Int("tokens.max.retries"),
			Timezone:         k.String("tokens.timezone"),
			StatsTopItems:    k.Int("tokens.stats.top.items"),
			Store:            strings.ToLower(k.String("tokens.store")),
		},
	}

	// Apply defaults
	if cfg.Server.Host == "" {
		cfg.Server.Host = "0.0.0.0"
	}
	if cfg.Server.Port == 0 {
		cfg.Server.Port = 8080
	}
	if cfg.DB.Host == "" {
		cfg.DB.Host = "localhost"
	}
	if cfg.DB.Port == 0 {
		cfg.DB.Port = 5432
	}
	if cfg.DB.User == "" {
		cfg.DB.User = "roadmap"
	}
	if cfg.DB.Name == "" {
		cfg.DB.Name = "roadmap"
	}
	if cfg.DB.SSLMode == "" {
		cfg.DB.SSLMode = "disable"
	}
	if cfg.DB.MaxConns == 0 {
		cfg.DB.MaxConns = 25
	}
	if cfg.DB.MigrationsPath == "" {
		cfg.DB.MigrationsPath = "migrations"
	}
	if cfg.Redis.Host == "" {
		cfg.Redis.Host = "localhost"
	}
	if cfg.Redis.Port == 0 {
		cfg.Redis.Port = 6379
	}
	if cfg.Log.Level == "" {
		cfg.Log.Level = "info"
	}
	if cfg.Log.Format == "" {
		cfg.Log.Format = "text"
	}
	if cfg.RateLimit.Requests == 0 {
		cfg.RateLimit.Requests = 30
	}
	if cfg.Tokens.MaxRetries == 0 {
		cfg.Tokens.MaxRetries = 3
	}
	if cfg.Tokens.Timezone == "" {
		cfg.Tokens.Timezone = "UTC"
	}
	if cfg.Tokens.StatsTopItems == 0 {
		cfg.Tokens.StatsTopItems = 5
	}
	if cfg.Tokens.Store == "" {
		cfg.Tokens.Store = StorePostgres
	}

	// Parse durations
	cfg.RateLimit.Window, err = durationOr(k, "rate.limit.window", "1m")
	if err != nil {
		return nil, fmt.Errorf("parsing rate limit window: %w", err)
	}
	cfg.Tokens.StatsCacheTTL, err = durationOr(k, "tokens.stats.cache.ttl", "5m")
	if err != nil {
		return nil, fmt.Errorf("parsing stats cache ttl: %w", err)
	}

	return cfg, nil
}

// Location resolves Tokens.Timezone.
func (c TokensConfig) Location() (*time.Location, error) {
	return time.LoadLocation(c.Timezone)
}

// intOr returns def only when key is unset, so an explicit 0 quota sticks.
func intOr(k *koanf.Koanf, key string, def int) int {
	if !k.Exists(key) {
		return def
	}
	return k.Int(key)
}

func durationOr(k *koanf.Koanf, key, def string) (time.Duration, error) {
	s := k.String(key)
	if s == "" {
		s = def
	}
	return time.ParseDuration(s)
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}
