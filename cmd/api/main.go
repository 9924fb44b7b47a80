package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"time"

	"github.com/redis/go-redis/v9"

	"reporting-service/internal/api"
	"reporting-service/internal/config"
	"reporting-service/internal/export"
	"reporting-service/internal/ratelimit"
	"reporting-service/internal/store"
	"reporting-service/internal/token"
)

func main() {
	cfg := config.Load()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() {
		ch := make(chan os.Signal, 1)
		signal.Notify(ch, os.Interrupt)
		<-ch
		cancel()
	}()

	st, err := store.New(ctx, cfg.PostgresDSN)
	if err != nil {
		slog.Error("connect postgres", "error", err)
		os.Exit(1)
	}
	defer st.Close()

	if err := st.RunMigrations(ctx); err != nil {
		slog.Error("migrations", "error", err)
		os.Exit(1)
	}

	renderer, err := export.NewFileRenderer(cfg.ExportDir)
	if err != nil {
		slog.Error("export dir", "error", err)
		os.Exit(1)
	}
	var mirror export.Mirror
	if cfg.ExportS3Bucket != "" {
		m, err := export.NewS3Mirror(ctx, cfg.ExportS3Bucket, cfg.ExportS3Region)
		if err != nil {
			slog.Error("s3 mirror", "error", err)
			os.Exit(1)
		}
		mirror = m
	}
	exports := export.NewService(renderer, mirror)

	redisClient := redis.NewClient(&redis.Options{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	})
	limiter := ratelimit.New(redisClient, cfg.RateLimitCapacity, cfg.RateLimitRefill, time.Hour)

	server := api.New(cfg, st, token.New(), exports, limiter)
	httpServer := &http.Server{
		Addr:    ":" + cfg.HTTPPort,
		Handler: server.Router(),
	}

	slog.Info("api listening", "port", cfg.HTTPPort, "env", cfg.Env)
	go func() {
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("listen", "error", err)
			os.Exit(1)
		}
	}()

	<-ctx.Done()
	shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancelShutdown()
	_ = httpServer.Shutdown(shutdownCtx)
}
