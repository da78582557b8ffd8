package main

import (
	"context"
	"log"
	"log/slog"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"wolkeposter/internal/app"
	"wolkeposter/internal/config"
	"wolkeposter/internal/ratelimit"
	"wolkeposter/internal/server"
	"wolkeposter/internal/util"
	"wolkeposter/pkg/ai"
	"wolkeposter/pkg/queue"
	"wolkeposter/pkg/storage"
	"wolkeposter/pkg/store"
)

func main() {
	cfg, err := config.Load(config.ConfigPath)
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	logger := util.InitLogger(cfg.LogLevel)
	sessionTTL, err := config.ParseSessionTTL(cfg.SessionTTL)
	if err != nil {
		log.Fatalf("failed to parse session ttl: %v", err)
	}

	db, err := store.NewGormStore(cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("failed to init database: %v", err)
	}
	revoker := store.NewRedisTokenRevoker(cfg.RedisAddr, cfg.RedisPassword)
	sessions, err := store.NewJWTSessionStore(cfg.JWTSecret, sessionTTL, revoker, store.JWTOptions{})
	if err != nil {
		log.Fatalf("failed to init session store: %v", err)
	}
	objects, err := storage.NewMinioStore(cfg.MinioEndpoint, cfg.MinioAccessKey, cfg.MinioSecretKey, cfg.MinioBucket, cfg.MinioUseSSL)
	if err != nil {
		log.Fatalf("failed to init object store: %v", err)
	}
	generator := ai.NewOpenAICompatImageGenerator(cfg.ImageAPIBaseURL, cfg.ImageAPIKey, cfg.ImageModel, cfg.ImageSize)
	jobQueue, err := queue.NewRedisJobQueue(queue.RedisQueueConfig{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
		Stream:   cfg.QueueStream,
		Group:    "generators",
	})
	if err != nil {
		log.Fatalf("failed to init job queue: %v", err)
	}

	appCore, err := app.New(app.Config{
		Store:             db,
		Sessions:          sessions,
		Objects:           objects,
		Generator:         generator,
		Queue:             jobQueue,
		AllowedExtensions: cfg.AllowedImageExtensions,
	})
	if err != nil {
		log.Fatalf("failed to init app: %v", err)
	}
	if err := appCore.SeedAdmin(cfg.SeedAdminUsername, cfg.SeedAdminPassword); err != nil {
		log.Fatalf("failed to seed admin user: %v", err)
	}

	loginLimiter, err := ratelimit.NewRedisFixedWindowLimiter(
		cfg.RedisAddr, cfg.RedisPassword, "wolkeposter:ratelimit:login", cfg.LoginRateLimitPerMinute, time.Minute)
	if err != nil {
		log.Fatalf("failed to init login limiter: %v", err)
	}
	importLimiter, err := ratelimit.NewRedisFixedWindowLimiter(
		cfg.RedisAddr, cfg.RedisPassword, "wolkeposter:ratelimit:import", cfg.ImportRateLimitPerMinute, time.Minute)
	if err != nil {
		log.Fatalf("failed to init import limiter: %v", err)
	}

	httpServer := server.New(server.Config{
		App:            appCore,
		LoginLimiter:   loginLimiter,
		ImportLimiter:  importLimiter,
		MaxUploadBytes: cfg.MaxUploadBytes,
	})

	addr := ":" + cfg.Port
	srv := &http.Server{
		Addr:         addr,
		Handler:      httpServer.Router(),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	group, ctx := errgroup.WithContext(ctx)
	group.Go(func() error {
		slog.Info("poster server listening", "addr", addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			return err
		}
		return nil
	})
	group.Go(func() error {
		slog.Info("generation worker starting", "concurrency", cfg.WorkerConcurrency)
		jobQueue.Start(ctx, cfg.WorkerConcurrency, appCore.GenerationHandler(3))
		<-ctx.Done()
		return nil
	})
	group.Go(func() error {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	if err := group.Wait(); err != nil {
		logger.Error("server error", "err", err)
	}
}
