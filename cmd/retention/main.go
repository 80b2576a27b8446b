// Command retention runs one downsample-and-purge pass over stored positions
// and exits. It takes the same lease as the server's scheduler.
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"logistics/internal/app"
	"logistics/internal/config"
	"logistics/internal/logging"
	internalRedis "logistics/internal/redis"
	"logistics/internal/repository/postgres"
	"logistics/internal/service"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		logging.NewLogger("info").Error("invalid configuration", "error", err)
		os.Exit(1)
	}
	logger := logging.NewLogger(cfg.Log.Level)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	nrApp := app.NewNewRelic(cfg.NewRelic, logger)
	if nrApp != nil {
		defer nrApp.Shutdown(10 * time.Second)
	}

	connectCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	db, err := app.NewDatabase(connectCtx, cfg.Database, nrApp, logger)
	if err != nil {
		logger.Error("failed to connect to database", "error", err)
		os.Exit(1)
	}
	defer db.Close()

	redisClient, err := app.NewRedisClient(connectCtx, cfg.Redis, nrApp)
	if err != nil {
		logger.Error("failed to connect to redis", "error", err)
		os.Exit(1)
	}
	defer redisClient.Close()

	retention := service.NewRetentionService(
		postgres.NewPositionRepository(db),
		internalRedis.NewLockStore(redisClient),
		nil,
		nrApp,
		app.RetentionOptions(cfg.Retention),
		logger,
	)

	if !retention.RunLeased(ctx) {
		logger.Info("retention skipped, lease held elsewhere or unavailable")
	}
}
