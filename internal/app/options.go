package app

import (
	"logistics/internal/config"
	"logistics/internal/service"
)

// TelemetryOptions maps configuration onto the ingestion guards.
func TelemetryOptions(cfg config.TelemetryConfig) service.TelemetryOptions {
	return service.TelemetryOptions{
		MaxFutureSkew:  cfg.MaxFutureSkew,
		ThrottleWindow: cfg.ThrottleWindow,
		LastSeenTTL:    cfg.LastSeenTTL,
		RecentLimit:    cfg.RecentLimit,
		RecentLimitMax: cfg.RecentLimitMax,
	}
}

// RetentionOptions maps configuration onto the retention bands.
func RetentionOptions(cfg config.RetentionConfig) service.RetentionOptions {
	return service.RetentionOptions{
		FreshHorizon: cfg.FreshHorizon,
		PurgeHorizon: cfg.PurgeHorizon,
		Bucket:       cfg.Bucket,
		BatchSize:    cfg.BatchSize,
		Interval:     cfg.Interval,
		LeaseTTL:     cfg.LeaseTTL,
	}
}
