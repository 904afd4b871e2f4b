package main

import (
	"clinicmsg/backend/internal/api/handler"
	"clinicmsg/backend/internal/attachment"
	"clinicmsg/backend/internal/auth"
	"clinicmsg/backend/internal/chathub"
	"clinicmsg/backend/internal/config"
	"clinicmsg/backend/internal/localization"
	"clinicmsg/backend/internal/queue"
	"clinicmsg/backend/internal/storage"
	"clinicmsg/backend/internal/telegram"
	"clinicmsg/backend/pkg/logger"
	"context"
	"errors"
	"io"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
)

func setupDependencies(cfg *config.Config) (*gorm.DB, *redis.Client) {
	// 1. PostgreSQL
	db, err := gorm.Open(postgres.Open(cfg.DBURL), &gorm.Config{})
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to connect PostgreSQL")
	}

	// 2. Міграції
	if err := storage.Migrate(db); err != nil {
		logger.Fatal().Err(err).Msg("failed to run migrations")
	}

	// 3. Redis (optional: token blacklist, presence counters, pub/sub)
	var rdb *redis.Client
	if cfg.Redis != "" {
		opt, err := redis.ParseURL(cfg.Redis)
		if err != nil {
			logger.Fatal().Err(err).Msg("invalid REDIS_URL")
		}
		rdb = redis.NewClient(opt)
		if _, err := rdb.Ping(context.Background()).Result(); err != nil {
			logger.Fatal().Err(err).Msg("failed to connect Redis")
		}
	}

	logger.Info().Bool("redis", rdb != nil).Msg("database connections established, migrations complete")
	return db, rdb
}

func setupAttachments(ctx context.Context, cfg *config.Config) attachment.Store {
	if cfg.AttachmentBackend == "s3" {
		store, err := attachment.NewR2Store(ctx, attachment.R2Options{
			AccountID:       cfg.R2AccountID,
			AccessKeyID:     cfg.R2AccessKeyID,
			SecretAccessKey: cfg.R2SecretAccessKey,
			Bucket:          cfg.R2BucketName,
			PublicURL:       cfg.R2PublicURL,
		})
		if err != nil {
			logger.Fatal().Err(err).Msg("failed to configure R2 storage")
		}
		return store
	}

	store, err := attachment.NewDiskStore(cfg.AttachmentDir, cfg.AttachmentPublicURL)
	if err != nil {
		logger.Fatal().Err(err).Str("dir", cfg.AttachmentDir).Msg("failed to prepare attachment directory")
	}
	return store
}

func setupBus(cfg *config.Config, db *gorm.DB, rdb *redis.Client) chathub.Bus {
	switch cfg.BusBackend {
	case "redis":
		return chathub.NewRedisBus(rdb)
	case "postgres":
		sqlDB, err := db.DB()
		if err != nil {
			logger.Fatal().Err(err).Msg("failed to get sql.DB")
		}
		return chathub.NewPostgresBus(cfg.DBURL, sqlDB)
	}
	return chathub.NewMemoryBus()
}

func setupPresence(cfg *config.Config, rdb *redis.Client, users chathub.StatusWriter) chathub.Presence {
	if cfg.PresenceBackend == "redis" {
		return chathub.NewTracker(chathub.NewRedisCounter(rdb), users)
	}
	return chathub.NewTracker(chathub.NewMemoryCounter(), users)
}

func main() {
	cfg, err := config.Load()
	if err != nil {
		logger.Fatal().Err(err).Msg("invalid configuration")
	}
	logger.Init(cfg.GoEnv)
	logger.Info().Str("env", cfg.GoEnv).Str("bus", cfg.BusBackend).Str("presence", cfg.PresenceBackend).Msg("starting clinic messaging server")

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// 1. Ініціалізація залежностей
	db, rdb := setupDependencies(cfg)
	s := storage.NewStorageService(db, rdb, setupAttachments(ctx, cfg))
	resolver := auth.NewResolver(cfg.Secret, s)

	bus := setupBus(cfg, db, rdb)
	presence := setupPresence(cfg, rdb, s)

	loc, err := localization.NewLocalizer()
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to load locales")
	}

	// 2. Chat Hub
	hub := chathub.NewManagerService(s, resolver, bus, presence)
	hub.Localizer = loc

	closers := []io.Closer{bus}
	var notifiers chathub.Notifiers
	if cfg.OfflineQueue != "" {
		notifier, err := queue.NewOfflineNotifier(cfg.Redis, cfg.OfflineQueue)
		if err != nil {
			logger.Fatal().Err(err).Msg("failed to configure offline queue")
		}
		notifiers = append(notifiers, notifier)
		closers = append(closers, notifier)
	}
	if cfg.TelegramBotToken != "" {
		alerter, err := telegram.NewStaffAlerter(cfg.TelegramBotToken, cfg.TelegramAlertChatID, s, loc, cfg.TelegramLanguage)
		if err != nil {
			logger.Fatal().Err(err).Msg("failed to start telegram alerts")
		}
		notifiers = append(notifiers, alerter)
	}
	if len(notifiers) > 0 {
		hub.Notifier = notifiers
	}

	// 3. Налаштування Gin та роутингу
	if !cfg.IsDevelopment() {
		gin.SetMode(gin.ReleaseMode)
	}
	r := gin.Default()

	corsCfg := cors.DefaultConfig()
	origins := cfg.AllowedOrigins()
	if len(origins) == 1 && origins[0] == "*" {
		corsCfg.AllowAllOrigins = true
	} else {
		corsCfg.AllowOrigins = origins
	}
	corsCfg.AllowHeaders = append(corsCfg.AllowHeaders, "Authorization")
	r.Use(cors.New(corsCfg))

	if cfg.AttachmentBackend == "disk" {
		r.Static(cfg.AttachmentPublicURL, cfg.AttachmentDir)
	}

	h := handler.NewHandler(hub, resolver, cfg.HandshakeTimeout, origins)
	h.RegisterRoutes(r)

	// Запуск HTTP-сервера
	server := &http.Server{
		Addr:           ":" + cfg.Port,
		Handler:        r,
		ReadTimeout:    10 * time.Second,
		MaxHeaderBytes: 1 << 20,
	}

	go func() {
		logger.Info().Str("addr", server.Addr).Msg("listening")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal().Err(err).Msg("server failed")
		}
	}()

	<-ctx.Done()
	logger.Info().Msg("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("http shutdown")
	}

	// hijacked websocket connections are not covered by Shutdown
	hub.CloseAll(config.CloseGoingAway, "server shutting down")
	hub.Wait()

	for _, c := range closers {
		if err := c.Close(); err != nil {
			logger.Warn().Err(err).Msg("close failed")
		}
	}
	if rdb != nil {
		_ = rdb.Close()
	}
}
