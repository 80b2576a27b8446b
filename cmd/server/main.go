package main

import (
	"context"
	"database/sql"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/newrelic/go-agent/v3/newrelic"
	"github.com/redis/go-redis/v9"

	"logistics/internal/app"
	"logistics/internal/config"
	"logistics/internal/handler"
	"logistics/internal/logging"
	internalRedis "logistics/internal/redis"
	"logistics/internal/repository/postgres"
	"logistics/internal/service"
	"logistics/internal/stream"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		slog.Error("invalid configuration", "error", err)
		os.Exit(1)
	}

	logger := logging.NewLogger(cfg.Log.Level)
	slog.SetDefault(logger)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	// New Relic goes first so the database and Redis clients get instrumented.
	nrApp := app.NewNewRelic(cfg.NewRelic, logger)

	db, err := app.NewDatabase(ctx, cfg.Database, nrApp, logger)
	if err != nil {
		logger.Error("failed to connect to database", "error", err)
		os.Exit(1)
	}
	defer db.Close()
	logger.Info("connected to PostgreSQL")

	redisClient, err := app.NewRedisClient(ctx, cfg.Redis, nrApp)
	if err != nil {
		logger.Error("failed to connect to redis", "error", err)
		os.Exit(1)
	}
	defer redisClient.Close()
	logger.Info("connected to Redis")

	var publisher *stream.KafkaPublisher
	if len(cfg.Kafka.Brokers) > 0 {
		publisher = stream.NewKafkaPublisher(cfg.Kafka.Brokers, cfg.Kafka.Topic, cfg.Telemetry.PublishTimeout, logger)
		defer publisher.Close()
		logger.Info("publishing positions to Kafka", "topic", cfg.Kafka.Topic)
	}

	server, retention := wireServer(db, redisClient, publisher, nrApp, cfg, logger)

	runCtx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if cfg.Retention.Enabled {
		go retention.RunScheduler(runCtx)
	}

	go func() {
		logger.Info("starting server", "port", cfg.Server.Port)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("server error", "error", err)
			stop()
		}
	}()

	<-runCtx.Done()
	logger.Info("shutting down server")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("server forced to shutdown", "error", err)
	}
	if nrApp != nil {
		nrApp.Shutdown(cfg.Server.ShutdownTimeout)
	}

	logger.Info("server exited")
}

// wireServer wires all dependencies and returns the HTTP server and the
// retention service for the background scheduler.
func wireServer(
	db *sql.DB,
	redisClient *redis.Client,
	publisher *stream.KafkaPublisher,
	nrApp *newrelic.Application,
	cfg *config.Config,
	logger *slog.Logger,
) (*http.Server, *service.RetentionService) {
	telemetryCache := internalRedis.NewTelemetryCache(redisClient)
	lockStore := internalRedis.NewLockStore(redisClient)

	tripRepo := postgres.NewTripRepository(db)
	requestRepo := postgres.NewRequestRepository(db)
	vehicleRepo := postgres.NewVehicleRepository(db)
	positionRepo := postgres.NewPositionRepository(db)
	transactor := postgres.NewTransactor(db)

	authz := service.NewRoleAuthorizer(requestRepo)
	notificationService := service.NewNotificationService(logger)

	// A nil *KafkaPublisher must not become a non-nil interface.
	var positionPublisher service.PositionPublisher
	if publisher != nil {
		positionPublisher = publisher
	}

	tripService := service.NewTripService(tripRepo, requestRepo, vehicleRepo, transactor, authz, notificationService, logger)
	telemetryService := service.NewTelemetryService(tripRepo, positionRepo, telemetryCache, positionPublisher, authz, app.TelemetryOptions(cfg.Telemetry), logger)
	retentionService := service.NewRetentionService(positionRepo, lockStore, authz, nrApp, app.RetentionOptions(cfg.Retention), logger)

	router := app.NewRouter(app.RouterDeps{
		TripHandler:      handler.NewTripHandler(tripService),
		TelemetryHandler: handler.NewTelemetryHandler(telemetryService),
		RetentionHandler: handler.NewRetentionHandler(retentionService),
		Idempotency:      redisClient,
		JWTSecret:        []byte(cfg.Auth.JWTSecret),
		NewRelicApp:      nrApp,
		Logger:           logger,
	})

	return &http.Server{
		Addr:         ":" + cfg.Server.Port,
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}, retentionService
}
