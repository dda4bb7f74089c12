package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/cdx-io/cdx/internal/config"
	dbRedis "github.com/cdx-io/cdx/internal/db/redis"
	logpkg "github.com/cdx-io/cdx/internal/logger"
	"github.com/cdx-io/cdx/internal/metrics"
	"github.com/cdx-io/cdx/internal/persistence"
	"github.com/cdx-io/cdx/internal/version"
)

func main() {
	// Load configuration based on ENV
	env := config.GetEnv()

	cfg, err := config.Load(env)
	if err != nil {
		panic("failed to load config: " + err.Error())
	}

	logger, err := logpkg.NewLogger(env, cfg.Logging.Level)
	if err != nil {
		panic("failed to create logger: " + err.Error())
	}
	defer func() { _ = logger.Sync() }()

	logger.Info("Starting cdx persistence core",
		zap.String("version", version.Version),
		zap.String("commit", version.Commit),
		zap.String("env", env),
		zap.String("cluster", cfg.Cluster.Name),
		zap.String("base_index", cfg.Index.Name),
		zap.Strings("engine_addrs", cfg.Engine.Addrs),
	)

	store, err := dbRedis.NewStore(dbRedis.Config{
		Addrs:    cfg.Engine.Addrs,
		Username: cfg.Engine.Username,
		Password: cfg.Engine.Password,
	})
	if err != nil {
		logger.Fatal("Failed to create engine store", zap.Error(err))
	}
	defer store.Close()

	ctx := context.Background()
	if err := store.WaitForReady(ctx, time.Duration(cfg.Engine.ReadinessTimeout)*time.Second); err != nil {
		logger.Fatal("Engine not ready", zap.Error(err))
	}
	logger.Info("Connected to engine")

	// Register metrics explicitly (no init())
	metrics.RegisterPersistenceMetrics()

	svc, err := persistence.NewService(logger, store, &cfg)
	if err != nil {
		logger.Fatal("Failed to create persistence service", zap.Error(err))
	}
	if err := svc.Start(ctx); err != nil {
		logger.Fatal("Failed to start persistence service", zap.Error(err))
	}

	// Wait for shutdown signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("Shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	svc.Stop(shutdownCtx)
}
