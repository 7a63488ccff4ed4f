package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/aman-churiwal/indicator-gateway/internal/config"
	"github.com/aman-churiwal/indicator-gateway/internal/logging"
	"github.com/aman-churiwal/indicator-gateway/internal/server"
	"github.com/aman-churiwal/indicator-gateway/internal/storage"
	"github.com/joho/godotenv"
	"go.uber.org/zap"
)

func main() {
	// Load env if it exists
	_ = godotenv.Load()

	configPath := os.Getenv("CONFIG_PATH")
	if configPath == "" {
		configPath = "config.json"
	}

	cfg, err := config.Load(configPath)
	if err != nil {
		logging.New("info", false).Fatal("failed to load config", zap.String("path", configPath), zap.Error(err))
	}

	logger := logging.New(cfg.Log.Level, cfg.Log.Development)
	defer logger.Sync()

	var redis *storage.RedisClient
	if cfg.Redis.Enabled {
		redis, err = storage.NewRedis(cfg.Redis.GetRedisAddr(), cfg.Redis.Password, cfg.Redis.DB)
		if err != nil {
			logger.Fatal("failed to connect to redis", zap.Error(err))
		}
		defer redis.Close()

		logger.Info("connected to redis", zap.String("addr", cfg.Redis.GetRedisAddr()))
	}

	var db *storage.Database
	if cfg.Database.Enabled() {
		db, err = storage.NewDatabase(cfg.Database.Driver, cfg.Database.DSN)
		if err != nil {
			logger.Fatal("failed to connect to database", zap.Error(err))
		}
		defer db.Close()

		if err := db.AutoMigrate(); err != nil {
			logger.Fatal("failed to migrate database", zap.Error(err))
		}

		logger.Info("connected to database", zap.String("driver", cfg.Database.Driver))
	} else {
		logger.Info("no database configured, serving configured api keys only", zap.Int("keys", len(cfg.APIKeys)))
	}

	srv, err := server.New(cfg, redis, db, logger)
	if err != nil {
		logger.Fatal("failed to build server", zap.Error(err))
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	srv.Start(ctx)

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Run(":" + cfg.Server.Port)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			logger.Error("server failed", zap.Error(err))
		}
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("server forced to shutdown", zap.Error(err))
	}

	logger.Info("server exited")
}
