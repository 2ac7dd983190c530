package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/devops-roadmap/roadmap-api/internal/api"
	"github.com/devops-roadmap/roadmap-api/internal/audit"
	"github.com/devops-roadmap/roadmap-api/internal/auth"
	"github.com/devops-roadmap/roadmap-api/internal/config"
	"github.com/devops-roadmap/roadmap-api/internal/database"
	mw "github.com/devops-roadmap/roadmap-api/internal/middleware"
	inats "github.com/devops-roadmap/roadmap-api/internal/nats"
	iredis "github.com/devops-roadmap/roadmap-api/internal/redis"
	"github.com/devops-roadmap/roadmap-api/internal/server"
	"github.com/devops-roadmap/roadmap-api/internal/tokens"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		slog.Error("loading config", "error", err)
		os.Exit(1)
	}

	setupLogger(cfg.Log)

	if err := cfg.Validate(); err != nil {
		slog.Error("invalid config", "error", err)
		os.Exit(1)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	checks := map[string]api.HealthCheck{"database": nil, "nats": nil}

	// PostgreSQL, only when tokens are stored there
	var pool *pgxpool.Pool
	if cfg.Tokens.Store == config.StorePostgres {
		if err := database.RunMigrations(cfg.DB.DSN(), cfg.DB.MigrationsPath); err != nil {
			slog.Error("running migrations", "error", err)
			os.Exit(1)
		}
		pool, err = database.NewPostgresPool(ctx, cfg.DB)
		if err != nil {
			slog.Error("connecting to postgres", "error", err)
			os.Exit(1)
		}
		defer pool.Close()
		checks["database"] = func(ctx context.Context) error { return database.HealthCheck(ctx, pool) }
	}

	// Redis
	redisClient, err := iredis.NewClient(ctx, cfg.Redis)
	if err != nil {
		slog.Error("connecting to redis", "error", err)
		os.Exit(1)
	}
	defer redisClient.Close()
	checks["redis"] = func(ctx context.Context) error { return iredis.HealthCheck(ctx, redisClient) }

	// NATS
	var natsClient *inats.Client
	if cfg.NATS.URL != "" {
		natsClient, err = inats.NewClient(ctx, cfg.NATS)
		if err != nil {
			slog.Error("connecting to nats", "error", err)
			os.Exit(1)
		}
		defer natsClient.Close()
		checks["nats"] = natsClient.HealthCheck
	}

	// Tokens
	loc, err := cfg.Tokens.Location()
	if err != nil {
		slog.Error("loading token timezone", "error", err)
		os.Exit(1)
	}
	tokenCfg := tokens.Config{
		QuotaPerWeek: map[tokens.TokenType]int{
			tokens.TokenQuiz:        cfg.Tokens.QuotaQuiz,
			tokens.TokenLab:         cfg.Tokens.QuotaLab,
			tokens.TokenBattleDrill: cfg.Tokens.QuotaBattleDrill,
		},
		CooldownMinutes: cfg.Tokens.CooldownMinutes,
		MaxRetries:      cfg.Tokens.MaxRetries,
		TopItems:        cfg.Tokens.StatsTopItems,
		Location:        loc,
	}

	var store tokens.Store
	if pool != nil {
		store = tokens.NewPostgresStore(pool)
	} else {
		store = tokens.NewMemoryStore()
	}

	opts := []tokens.Option{
		tokens.WithStatsCache(tokens.NewRedisStatsCache(redisClient, cfg.Tokens.StatsCacheTTL)),
	}
	if natsClient != nil {
		opts = append(opts, tokens.WithPublisher(inats.NewPublisher(natsClient.JetStream())))
	}
	tokenSvc := tokens.NewService(store, tokenCfg, opts...)
	tokenHandler := tokens.NewHandler(tokenSvc)

	// Audit: persisted from the event stream, so it needs both Postgres and NATS
	auditList := func(w http.ResponseWriter, r *http.Request) {
		api.HandleError(w, api.NewNotFoundError("audit log is not enabled"))
	}
	if pool != nil && natsClient != nil {
		auditRepo := audit.NewRepository(pool)
		auditConsumer := audit.NewConsumer(auditRepo, inats.NewConsumerManager(natsClient.JetStream()))
		go func() {
			if err := auditConsumer.Start(ctx); err != nil {
				slog.Error("audit consumer stopped", "error", err)
			}
		}()
		auditList = audit.NewHandler(auditRepo).ListAuditLogs
	}

	// Auth
	jwtManager := auth.NewJWTManager(cfg.JWT.AccessSecret, cfg.JWT.Issuer)

	useLimiter := mw.NewRateLimiter(redisClient, "tokens-use", cfg.RateLimit.Requests, cfg.RateLimit.Window,
		func(r *http.Request) string {
			if id := auth.UserID(r.Context()); id != "" {
				return id
			}
			return mw.ClientIP(r)
		})

	// Router
	router := api.NewRouter(api.RouterConfig{
		CORSAllowedOrigins: cfg.CORS.AllowedOrigins,
		UseTokenRateLimit:  useLimiter.Middleware,
		Checks:             checks,
	}, api.HandlerSet{
		GetAllocation:  tokenHandler.GetAllocation,
		GetEligibility: tokenHandler.GetEligibility,
		UseToken:       tokenHandler.UseToken,
		GetStats:       tokenHandler.GetStats,
		ListHistory:    tokenHandler.ListHistory,

		ListAuditLogs: auditList,

		AuthMiddleware: auth.Middleware(jwtManager),
	})

	// Start server
	srv := server.New(cfg.Server, router)
	if err := srv.Start(ctx); err != nil {
		slog.Error("server error", "error", err)
		os.Exit(1)
	}
}

func setupLogger(cfg config.LogConfig) {
	var handler slog.Handler

	opts := &slog.HandlerOptions{}
	switch cfg.Level {
	case "debug":
		opts.Level = slog.LevelDebug
	case "info":
		opts.Level = slog.LevelInfo
	case "warn":
		opts.Level = slog.LevelWarn
	case "error":
		opts.Level = slog.LevelError
	default:
		opts.Level = slog.LevelInfo
	}

	if cfg.Format == "json" {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	} else {
		handler = slog.NewTextHandler(os.Stdout, opts)
	}

	slog.SetDefault(slog.New(handler))
}
