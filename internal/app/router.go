package app

import (
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/newrelic/go-agent/v3/integrations/nrgin"
	"github.com/newrelic/go-agent/v3/newrelic"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"logistics/internal/handler"
	"logistics/internal/middleware"
)

// RouterDeps contains all dependencies needed for the router.
type RouterDeps struct {
	TripHandler      *handler.TripHandler
	TelemetryHandler *handler.TelemetryHandler
	RetentionHandler *handler.RetentionHandler
	Idempotency      middleware.IdempotencyStore
	JWTSecret        []byte
	NewRelicApp      *newrelic.Application
	Logger           *slog.Logger
}

// NewRouter creates a new Gin router with all routes registered.
func NewRouter(deps RouterDeps) *gin.Engine {
	router := gin.New()

	router.Use(gin.Recovery())
	router.Use(middleware.RequestID())
	router.Use(middleware.RequestLogger(deps.Logger))

	if deps.NewRelicApp != nil {
		router.Use(nrgin.Middleware(deps.NewRelicApp))
	}

	router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	v1 := router.Group("/v1")
	v1.Use(middleware.Auth(deps.JWTSecret))
	if deps.Idempotency != nil {
		v1.Use(middleware.Idempotency(deps.Idempotency, deps.Logger))
	}
	{
		trips := v1.Group("/trips")
		{
			trips.POST("", deps.TripHandler.Assign)
			trips.GET("/:id", deps.TripHandler.GetTrip)
			trips.POST("/:id/requests", deps.TripHandler.Attach)
			trips.POST("/:id/dispatch", deps.TripHandler.Dispatch)
			trips.POST("/:id/start", deps.TripHandler.Start)
			trips.POST("/:id/complete", deps.TripHandler.Complete)
			trips.POST("/:id/cancel", deps.TripHandler.Cancel)

			trips.POST("/:id/positions", deps.TelemetryHandler.Ingest)
			trips.GET("/:id/positions", deps.TelemetryHandler.Recent)
		}

		admin := v1.Group("/admin")
		{
			admin.POST("/retention/prune", deps.RetentionHandler.Prune)
		}
	}

	return router
}
