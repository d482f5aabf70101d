package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/gofiber/fiber/v3"
	"github.com/gofiber/fiber/v3/middleware/adaptor"
	"github.com/gofiber/fiber/v3/middleware/cors"
	"github.com/gofiber/fiber/v3/middleware/limiter"
	"github.com/gofiber/fiber/v3/middleware/requestid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/pulsechat/pulsechat-server/internal/api"
	"github.com/pulsechat/pulsechat-server/internal/auth"
	"github.com/pulsechat/pulsechat-server/internal/cache"
	"github.com/pulsechat/pulsechat-server/internal/config"
	"github.com/pulsechat/pulsechat-server/internal/directmessage"
	"github.com/pulsechat/pulsechat-server/internal/email"
	"github.com/pulsechat/pulsechat-server/internal/gateway"
	"github.com/pulsechat/pulsechat-server/internal/group"
	"github.com/pulsechat/pulsechat-server/internal/groupmessage"
	"github.com/pulsechat/pulsechat-server/internal/httputil"
	"github.com/pulsechat/pulsechat-server/internal/offlinequeue"
	"github.com/pulsechat/pulsechat-server/internal/postgres"
	"github.com/pulsechat/pulsechat-server/internal/presence"
	"github.com/pulsechat/pulsechat-server/internal/registry"
	"github.com/pulsechat/pulsechat-server/internal/resilience"
	"github.com/pulsechat/pulsechat-server/internal/user"
)

// Build metadata injected via ldflags at compile time.
var (
	version = "dev"
	commit  = "unknown"
	date    = "unknown"
)

// server holds the shared dependencies used by route handlers.
type server struct {
	cfg      *config.Config
	db       *pgxpool.Pool
	rdb      *redis.Client
	userRepo user.Repository
	authSvc  *auth.Service
	directs  directmessage.Repository
	groups   group.Repository
	groupMsg groupmessage.Repository
	router   *gateway.Router
}

func main() {
	log.Logger = zerolog.New(os.Stderr).With().Timestamp().Logger()

	if err := run(); err != nil {
		log.Fatal().Err(err).Msg("Server stopped")
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	if cfg.IsDevelopment() {
		log.Logger = zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr}).With().Timestamp().Logger()
	}

	log.Info().
		Str("version", version).
		Str("commit", commit).
		Str("built", date).
		Str("env", cfg.ServerEnv).
		Msg("Starting PulseChat Server")

	if cfg.CORSAllowOrigins == "*" {
		log.Warn().Msg("CORS_ALLOW_ORIGINS is set to a wildcard. Set an explicit origin when in production.")
	}

	ctx := context.Background()

	db, err := postgres.Connect(ctx, cfg.DatabaseURL, cfg.DatabaseMaxConn, cfg.DatabaseMinConn)
	if err != nil {
		return fmt.Errorf("connect postgres: %w", err)
	}
	defer db.Close()
	log.Info().Msg("PostgreSQL connected")

	if err := postgres.Migrate(cfg.DatabaseURL, log.Logger); err != nil {
		return fmt.Errorf("run migrations: %w", err)
	}
	log.Info().Msg("Database migrations complete")

	rdb, err := cache.Connect(ctx, cfg.CacheURL, 5*time.Second)
	if err != nil {
		return fmt.Errorf("connect valkey: %w", err)
	}
	defer func() { _ = rdb.Close() }()
	log.Info().Msg("Valkey connected")

	userRepo := user.NewCachedRepository(user.NewPGRepository(db, log.Logger), 4096)
	directRepo := directmessage.NewPGRepository(db, log.Logger)
	groupRepo := group.NewPGRepository(db, log.Logger)
	groupMsgRepo := groupmessage.NewPGRepository(db, log.Logger)

	refreshStore := auth.NewRefreshStore(db, cfg.RefreshTokenTTL)
	resetStore := cache.NewResetStore(rdb, cfg.ResetTokenTTL)

	var sender auth.Sender
	if cfg.SMTPConfigured() {
		emailClient := email.NewClient(cfg.SMTPHost, cfg.SMTPPort, cfg.SMTPUsername, cfg.SMTPPassword, cfg.SMTPFrom)
		if err := emailClient.Ping(); err != nil {
			log.Warn().Err(err).Msg("SMTP connection test failed. Password reset emails may not be delivered.")
		} else {
			log.Info().Str("host", cfg.SMTPHost).Int("port", cfg.SMTPPort).Msg("SMTP connection verified")
		}
		sender = emailClient
	} else {
		log.Warn().Msg("SMTP_HOST is not configured. Password reset tokens will only be logged, not emailed.")
	}

	authSvc, err := auth.NewService(userRepo, refreshStore, resetStore, cfg, sender, log.Logger)
	if err != nil {
		return fmt.Errorf("create auth service: %w", err)
	}

	presenceStore := presence.NewStore(rdb, cfg.HeartbeatTTL)
	offlineStore := offlinequeue.NewStore(rdb, cfg.OfflineQueueTTL)
	reg := registry.New(cfg.MaxConnectionsPerUser, gateway.PresenceEvictionCallback(presenceStore, cfg.CacheOpTimeout, log.Logger))
	router := gateway.NewRouter(reg, presenceStore, offlineStore, userRepo, directRepo, groupRepo, groupMsgRepo,
		cfg.CacheOpTimeout, cfg.LogQueryTimeout, log.Logger)

	subCtx, subCancel := context.WithCancel(ctx)
	defer subCancel()

	go resilience.RunWithBackoff(subCtx, "refresh-token-sweep", time.Second, 2*time.Minute,
		func(ctx context.Context) error { return sweepRefreshTokens(ctx, refreshStore, cfg) },
		func(name string, err error, backoff time.Duration) {
			log.Error().Err(err).Str("service", name).Dur("retry_in", backoff).Msg("Background service stopped, restarting after delay")
		})

	app := fiber.New(fiber.Config{
		AppName:   "PulseChat",
		BodyLimit: cfg.BodyLimitBytes,
		ErrorHandler: func(c fiber.Ctx, err error) error {
			var fe *fiber.Error
			if errors.As(err, &fe) {
				return c.Status(fe.Code).JSON(fiber.Map{
					"success": false,
					"error":   fiber.Map{"code": "VALIDATION_ERROR", "message": fe.Message},
				})
			}
			log.Error().Err(err).Str("method", c.Method()).Str("path", c.Path()).Msg("Unhandled error")
			return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
				"success": false,
				"error":   fiber.Map{"code": "PERSIST_FAILED", "message": "An internal error occurred"},
			})
		},
	})

	app.Use(requestid.New())
	app.Use(httputil.RequestLogger(log.Logger))
	app.Use(cors.New(cors.Config{
		AllowOrigins:  strings.Split(cfg.CORSAllowOrigins, ","),
		AllowMethods:  []string{"GET", "POST", "PATCH", "DELETE"},
		AllowHeaders:  []string{"Origin", "Content-Type", "Accept", "Authorization"},
		ExposeHeaders: []string{"X-Request-ID"},
	}))
	app.Use(limiter.New(limiter.Config{
		Max:        cfg.RateLimitAPIRequests,
		Expiration: time.Duration(cfg.RateLimitAPIWindowSeconds) * time.Second,
	}))

	srv := &server{
		cfg:      cfg,
		db:       db,
		rdb:      rdb,
		userRepo: userRepo,
		authSvc:  authSvc,
		directs:  directRepo,
		groups:   groupRepo,
		groupMsg: groupMsgRepo,
		router:   router,
	}
	srv.registerRoutes(app)

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		<-quit
		log.Info().Msg("Shutting down server")
		subCancel()
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer shutdownCancel()
		if err := app.ShutdownWithContext(shutdownCtx); err != nil {
			log.Error().Err(err).Msg("Server shutdown error")
		}
	}()

	addr := fmt.Sprintf(":%d", cfg.ServerPort)
	log.Info().Str("addr", addr).Msg("Server listening")

	if err := app.Listen(addr, fiber.ListenConfig{DisableStartupMessage: true}); err != nil {
		return fmt.Errorf("server error: %w", err)
	}

	return nil
}

func (s *server) registerRoutes(app *fiber.App) {
	requireAuth := auth.RequireAuth(s.cfg.JWTSecret, s.cfg.JWTIssuer)

	health := &api.HealthHandler{DB: s.db, Redis: s.rdb}
	app.Get("/api/v1/health", health.Health)

	app.Get("/metrics", adaptor.HTTPHandler(promhttp.Handler()))

	authHandler := &api.AuthHandler{Auth: s.authSvc}
	authGroup := app.Group("/api/v1/auth")
	authGroup.Use(limiter.New(limiter.Config{
		Max:        s.cfg.RateLimitAuthRequests,
		Expiration: time.Duration(s.cfg.RateLimitAuthWindowSeconds) * time.Second,
	}))
	authGroup.Post("/signup", authHandler.Signup)
	authGroup.Post("/login", authHandler.Login)
	authGroup.Post("/logout", authHandler.Logout)
	authGroup.Post("/refresh", authHandler.Refresh)
	authGroup.Post("/request-reset", authHandler.RequestReset)
	authGroup.Post("/confirm-reset", authHandler.ConfirmReset)
	authGroup.Get("/session", requireAuth, authHandler.SessionCheck)
	authGroup.Get("/lookup", requireAuth, authHandler.LookupUser)

	messageHandler := api.NewMessageHandler(s.directs, s.groups, s.groupMsg, log.Logger)
	apiGroup := app.Group("/api/v1", requireAuth)
	apiGroup.Get("/conversations", messageHandler.ListConversations)
	apiGroup.Get("/conversation/:peer", messageHandler.ListConversation)
	apiGroup.Post("/messages/:id/read", messageHandler.MarkRead)
	apiGroup.Post("/groups", messageHandler.CreateGroup)
	apiGroup.Get("/groups/my", messageHandler.ListMyGroups)
	apiGroup.Get("/groups/:id/messages", messageHandler.ListGroupMessages)

	gatewayHandler := api.NewGatewayHandler(s.router, s.authSvc, s.cfg.SocketIdleTimeout, s.cfg.SendBufferSize, log.Logger)
	app.Get("/api/v1/gateway", gatewayHandler.Upgrade)

	app.Use(func(_ fiber.Ctx) error {
		return fiber.ErrNotFound
	})
}

// sweepRefreshTokens deletes refresh token rows that expired more than a day ago, keeping the table from growing
// unboundedly (SPEC_FULL.md §4.10). Prunes once an hour until ctx is cancelled or a prune fails; RunWithBackoff
// restarts it after a failure.
func sweepRefreshTokens(ctx context.Context, store *auth.RefreshStore, cfg *config.Config) error {
	ticker := time.NewTicker(time.Hour)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			deleted, err := store.PruneExpired(ctx, 24*time.Hour)
			if err != nil {
				return err
			}
			if deleted > 0 {
				log.Info().Int64("deleted", deleted).Msg("Pruned expired refresh tokens")
			}
		}
	}
}
