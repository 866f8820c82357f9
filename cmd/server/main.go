package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"jobchat/internal/api"
	"jobchat/internal/chat"
	"jobchat/internal/config"
	"jobchat/internal/db"
	myMiddleware "jobchat/internal/middleware"
	"jobchat/internal/notification"
	"jobchat/internal/user"
)

func main() {
	// 1. Config & logger
	cfg := config.Load()

	var logger zerolog.Logger
	if cfg.IsDevelopment() {
		logger = zerolog.New(zerolog.ConsoleWriter{Out: os.Stdout, TimeFormat: time.RFC3339}).
			With().
			Timestamp().
			Logger()
	} else {
		logger = zerolog.New(os.Stdout).
			With().
			Timestamp().
			Logger()
	}

	if err := cfg.Validate(); err != nil {
		logger.Fatal().Err(err).Msg("invalid configuration")
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// 2. Postgres
	database, err := db.NewDatabase(ctx, cfg.DatabaseURL)
	if err != nil {
		logger.Fatal().Err(err).Msg("postgres connection failed")
	}
	defer database.Close()
	logger.Info().Msg("connected to PostgreSQL")

	if err := database.AutoMigrate(ctx); err != nil {
		logger.Fatal().Err(err).Msg("migration failed")
	}
	logger.Info().Msg("database schema initialized")

	// 3. Redis (optional: without it fan-out stays in this process)
	var redisClient *redis.Client
	if cfg.RedisURL != "" {
		opts, err := redis.ParseURL(cfg.RedisURL)
		if err != nil {
			logger.Fatal().Err(err).Msg("invalid REDIS_URL")
		}
		redisClient = redis.NewClient(opts)
		if err := redisClient.Ping(ctx).Err(); err != nil {
			logger.Fatal().Err(err).Msg("redis connection failed")
		}
		defer redisClient.Close()
		logger.Info().Msg("connected to Redis")
	} else {
		logger.Warn().Msg("REDIS_URL not set, chat fan-out limited to this instance")
	}

	// 4. Users
	userRepo := user.NewRepository(database.Conn)
	userService := user.NewService(userRepo, cfg.JWTSecret)
	userHandler := user.NewHandler(userService, logger)

	// 5. Notifications
	notificationRepo := notification.NewRepository(database.Conn)
	emitter := notification.NewEmitter(notificationRepo, redisClient, logger)
	notificationHandler := notification.NewHandler(notificationRepo, logger)

	// 6. Chat
	chatRepo := chat.NewRepository(database.Conn)
	var relay chat.Relay
	if redisClient != nil {
		relay = chat.NewRedisRelay(redisClient, logger)
	}
	hub := chat.NewHub(relay, logger)
	hubDone := make(chan struct{})
	go func() {
		hub.Run(ctx)
		close(hubDone)
	}()

	registry := chat.NewRegistry(chatRepo)
	groupService := chat.NewGroupService(chatRepo, chatRepo, registry, hub, logger)
	privateService := chat.NewPrivateService(chatRepo, chatRepo, registry, hub, emitter, cfg.PrivateChatStrict, logger)
	chatHandler := chat.NewHandler(groupService, privateService, hub, chat.HandlerConfig{
		PongWait:       cfg.PongWait,
		AllowedOrigins: cfg.AllowedOrigins,
	}, logger)

	// 7. Routes
	deps := map[string]api.Pinger{"postgres": database, "redis": nil}
	if redisClient != nil {
		deps["redis"] = api.PingFunc(func(ctx context.Context) error { return redisClient.Ping(ctx).Err() })
	}
	router := api.NewRouter(logger, cfg.AllowedOrigins, api.Handlers{
		Auth:          myMiddleware.NewAuthMiddleware(userService),
		Users:         userHandler,
		Chat:          chatHandler,
		Notifications: notificationHandler,
		Health:        api.Health(deps),
	})

	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	go func() {
		logger.Info().
			Str("port", cfg.Port).
			Str("env", cfg.Env).
			Bool("private_chat_strict", cfg.PrivateChatStrict).
			Msg("starting server")

		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal().Err(err).Msg("server failed to start")
		}
	}()

	<-ctx.Done()
	logger.Info().Msg("shutting down server...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("server forced to shutdown")
	}
	// Websockets are hijacked and not tracked by Shutdown; the hub closes
	// them when ctx is cancelled.
	<-hubDone

	logger.Info().Msg("server stopped")
}
