package app

import (
	"log/slog"

	"github.com/newrelic/go-agent/v3/newrelic"

	"logistics/internal/config"
)

// NewNewRelic starts the APM agent. It returns nil when New Relic is disabled
// or fails to start; every caller treats a nil app as "not instrumented".
func NewNewRelic(cfg config.NewRelicConfig, logger *slog.Logger) *newrelic.Application {
	if !cfg.Enabled || cfg.LicenseKey == "" {
		return nil
	}

	nrApp, err := newrelic.NewApplication(
		newrelic.ConfigAppName(cfg.AppName),
		newrelic.ConfigLicense(cfg.LicenseKey),
		newrelic.ConfigDistributedTracerEnabled(true),
		newrelic.ConfigAppLogForwardingEnabled(true),
	)
	if err != nil {
		logger.Warn("failed to initialize New Relic", "error", err)
		return nil
	}

	logger.Info("New Relic enabled", "app", cfg.AppName)
	return nrApp
}
