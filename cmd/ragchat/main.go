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

	"ragchat/internal/app"
	"ragchat/internal/bridge"
	"ragchat/internal/config"
	"ragchat/internal/ratelimit"
	"ragchat/internal/server"
	"ragchat/internal/util"
	"ragchat/pkg/storage"
	"ragchat/pkg/store"
)

func main() {
	cfg, err := config.Load(config.ConfigPath)
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	logger := util.InitLogger(cfg.LogLevel)

	threadStore, err := store.NewGormStore(cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("failed to init store: %v", err)
	}

	var contexts store.ContextStore
	if cfg.RedisAddr != "" {
		contexts = store.NewRedisContextStore(cfg.RedisAddr, cfg.RedisPassword, "", 0)
	} else {
		contexts = store.NewMemoryContextStore()
	}

	var sink storage.Sink
	if cfg.MinioEndpoint != "" {
		sink, err = storage.NewMinioStore(cfg.MinioEndpoint, cfg.MinioAccessKey, cfg.MinioSecretKey, cfg.MinioBucket, cfg.MinioUseSSL)
	} else {
		sink, err = storage.NewFileStore(cfg.UploadDir)
	}
	if err != nil {
		log.Fatalf("failed to init upload sink: %v", err)
	}

	sessions, err := store.NewJWTSessionStore(cfg.SessionSecret, time.Duration(cfg.SessionTTLHours)*time.Hour)
	if err != nil {
		log.Fatalf("failed to init sessions: %v", err)
	}

	uploadTimeout := time.Duration(cfg.BridgeUploadTimeoutSeconds) * time.Second
	if uploadTimeout <= 0 {
		uploadTimeout = bridge.DefaultUploadTimeout
	}
	queryTimeout := time.Duration(cfg.BridgeQueryTimeoutSeconds) * time.Second
	if queryTimeout <= 0 {
		queryTimeout = bridge.DefaultQueryTimeout
	}
	bridgeClient := bridge.New(cfg.BridgeURL, uploadTimeout, queryTimeout)

	appCore, err := app.New(app.Config{
		Store:             threadStore,
		Sessions:          sessions,
		Contexts:          contexts,
		Bridge:            bridgeClient,
		Sink:              sink,
		RequireRole:       cfg.RequireRole,
		MaxUploadBytes:    cfg.MaxUploadBytes,
		AllowedExtensions: cfg.AllowedExtensions,
	})
	if err != nil {
		log.Fatalf("failed to init app: %v", err)
	}

	window := time.Duration(cfg.RateLimitWindowSeconds) * time.Second
	var signupLimiter, loginLimiter *ratelimit.FixedWindowLimiter
	if cfg.SignupRateLimit > 0 {
		signupLimiter, err = ratelimit.NewRedisFixedWindowLimiter(cfg.RedisAddr, cfg.RedisPassword, "ragchat:ratelimit:signup", cfg.SignupRateLimit, window)
		if err != nil {
			log.Fatalf("failed to init signup limiter: %v", err)
		}
	}
	if cfg.LoginRateLimit > 0 {
		loginLimiter, err = ratelimit.NewRedisFixedWindowLimiter(cfg.RedisAddr, cfg.RedisPassword, "ragchat:ratelimit:login", cfg.LoginRateLimit, window)
		if err != nil {
			log.Fatalf("failed to init login limiter: %v", err)
		}
	}

	httpServer := server.New(server.Config{
		App:           appCore,
		Sessions:      sessions,
		SignupLimiter: signupLimiter,
		LoginLimiter:  loginLimiter,
	})

	addr := ":" + cfg.Port
	srv := &http.Server{
		Addr:              addr,
		Handler:           httpServer.Router(),
		ReadHeaderTimeout: 15 * time.Second,
		// chat turns hold the connection while bridge exchanges run
		WriteTimeout: uploadTimeout + time.Minute,
		IdleTimeout:  60 * time.Second,
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		slog.Info("server listening", "addr", addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})
	if err := g.Wait(); err != nil {
		logger.Error("server error", "err", err)
	}
}
