package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config holds all configuration for the application.
type Config struct {
	Server    ServerConfig
	Database  DatabaseConfig
	Redis     RedisConfig
	NewRelic  NewRelicConfig
	Kafka     KafkaConfig
	Auth      AuthConfig
	Log       LogConfig
	Telemetry TelemetryConfig
	Retention RetentionConfig
}

// ServerConfig holds HTTP server configuration.
type ServerConfig struct {
	Port            string
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	ShutdownTimeout time.Duration
}

// DatabaseConfig holds PostgreSQL configuration.
type DatabaseConfig struct {
	Host     string
	Port     string
	User     string
	Password string
	DBName   string
	SSLMode  string
	Migrate  bool
}

// RedisConfig holds Redis configuration.
type RedisConfig struct {
	Addr     string
	Password string
	DB       int
}

// NewRelicConfig holds New Relic configuration.
type NewRelicConfig struct {
	AppName    string
	LicenseKey string
	Enabled    bool
}

// KafkaConfig holds the position stream configuration. Publishing is
// disabled when no brokers are configured.
type KafkaConfig struct {
	Brokers []string
	Topic   string
}

// AuthConfig holds bearer token verification settings.
type AuthConfig struct {
	JWTSecret string
}

// LogConfig holds logger settings.
type LogConfig struct {
	Level string
}

// TelemetryConfig holds the ingestion pipeline guards.
type TelemetryConfig struct {
	MaxFutureSkew  time.Duration
	ThrottleWindow time.Duration
	LastSeenTTL    time.Duration
	RecentLimit    int
	RecentLimitMax int
	PublishTimeout time.Duration
}

// RetentionConfig holds the position retention bands and schedule.
type RetentionConfig struct {
	FreshHorizon time.Duration // H1: younger points are never touched
	PurgeHorizon time.Duration // H2: older points are deleted
	Bucket       time.Duration
	BatchSize    int
	Interval     time.Duration
	LeaseTTL     time.Duration
	Enabled      bool
}

// Load loads configuration from environment variables. A .env file in the
// working directory is read first when present; real environment variables
// take precedence over it.
func Load() (*Config, error) {
	_ = godotenv.Load()

	cfg := &Config{
		Server: ServerConfig{
			Port:            getEnv("SERVER_PORT", "8080"),
			ReadTimeout:     getDurationEnv("SERVER_READ_TIMEOUT", 10*time.Second),
			WriteTimeout:    getDurationEnv("SERVER_WRITE_TIMEOUT", 10*time.Second),
			ShutdownTimeout: getDurationEnv("SERVER_SHUTDOWN_TIMEOUT", 5*time.Second),
		},
		Database: DatabaseConfig{
			Host:     getEnv("DB_HOST", "localhost"),
			Port:     getEnv("DB_PORT", "5432"),
			User:     getEnv("DB_USER", "postgres"),
			Password: getEnv("DB_PASSWORD", "postgres"),
			DBName:   getEnv("DB_NAME", "logistics"),
			SSLMode:  getEnv("DB_SSLMODE", "disable"),
			Migrate:  getBoolEnv("DB_MIGRATE", false),
		},
		Redis: RedisConfig{
			Addr:     getEnv("REDIS_ADDR", "localhost:6379"),
			Password: getEnv("REDIS_PASSWORD", ""),
			DB:       getIntEnv("REDIS_DB", 0),
		},
		NewRelic: NewRelicConfig{
			AppName:    getEnv("NEW_RELIC_APP_NAME", "logistics-scheduler"),
			LicenseKey: getEnv("NEW_RELIC_LICENSE_KEY", ""),
			Enabled:    getBoolEnv("NEW_RELIC_ENABLED", false),
		},
		Kafka: KafkaConfig{
			Brokers: getListEnv("KAFKA_BROKERS"),
			Topic:   getEnv("KAFKA_POSITIONS_TOPIC", "trip-positions"),
		},
		Auth: AuthConfig{
			JWTSecret: getEnv("JWT_SECRET", ""),
		},
		Log: LogConfig{
			Level: getEnv("LOG_LEVEL", "info"),
		},
		Telemetry: TelemetryConfig{
			MaxFutureSkew:  getDurationEnv("TELEMETRY_MAX_FUTURE_SKEW", 2*time.Minute),
			ThrottleWindow: getDurationEnv("TELEMETRY_THROTTLE_WINDOW", 8*time.Second),
			LastSeenTTL:    getDurationEnv("TELEMETRY_LAST_SEEN_TTL", time.Hour),
			RecentLimit:    getIntEnv("TELEMETRY_RECENT_LIMIT", 100),
			RecentLimitMax: getIntEnv("TELEMETRY_RECENT_LIMIT_MAX", 1000),
			PublishTimeout: getDurationEnv("TELEMETRY_PUBLISH_TIMEOUT", 2*time.Second),
		},
		Retention: RetentionConfig{
			FreshHorizon: getDurationEnv("RETENTION_FRESH_HORIZON", 72*time.Hour),
			PurgeHorizon: getDurationEnv("RETENTION_PURGE_HORIZON", 30*24*time.Hour),
			Bucket:       getDurationEnv("RETENTION_BUCKET", 5*time.Minute),
			BatchSize:    getIntEnv("RETENTION_BATCH_SIZE", 5000),
			Interval:     getDurationEnv("RETENTION_INTERVAL", 24*time.Hour),
			LeaseTTL:     getDurationEnv("RETENTION_LEASE_TTL", time.Hour),
			Enabled:      getBoolEnv("RETENTION_ENABLED", true),
		},
	}

	return cfg, cfg.Validate()
}

// Validate reports every inconsistent setting at once.
func (c *Config) Validate() error {
	var errs []error

	if c.Auth.JWTSecret == "" {
		errs = append(errs, errors.New("JWT_SECRET must be set"))
	}
	if c.Telemetry.MaxFutureSkew < 0 {
		errs = append(errs, errors.New("TELEMETRY_MAX_FUTURE_SKEW must be >= 0"))
	}
	if c.Telemetry.RecentLimit <= 0 || c.Telemetry.RecentLimit > c.Telemetry.RecentLimitMax {
		errs = append(errs, fmt.Errorf("TELEMETRY_RECENT_LIMIT must be in 1..%d", c.Telemetry.RecentLimitMax))
	}
	if c.Retention.Bucket <= 0 {
		errs = append(errs, errors.New("RETENTION_BUCKET must be > 0"))
	}
	if c.Retention.FreshHorizon <= 0 || c.Retention.PurgeHorizon <= c.Retention.FreshHorizon {
		errs = append(errs, errors.New("RETENTION_PURGE_HORIZON must be greater than RETENTION_FRESH_HORIZON"))
	}
	if c.Retention.Enabled && c.Retention.Interval <= 0 {
		errs = append(errs, errors.New("RETENTION_INTERVAL must be > 0 when RETENTION_ENABLED"))
	}
	if c.Retention.BatchSize <= 0 {
		errs = append(errs, errors.New("RETENTION_BATCH_SIZE must be > 0"))
	}
	if c.NewRelic.Enabled && c.NewRelic.LicenseKey == "" {
		errs = append(errs, errors.New("NEW_RELIC_LICENSE_KEY must be set when NEW_RELIC_ENABLED"))
	}

	return errors.Join(errs...)
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getIntEnv(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultValue
}

func getBoolEnv(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if boolVal, err := strconv.ParseBool(value); err == nil {
			return boolVal
		}
	}
	return defaultValue
}

func getDurationEnv(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if duration, err := time.ParseDuration(value); err == nil {
			return duration
		}
	}
	return defaultValue
}

func getListEnv(key string) []string {
	value := os.Getenv(key)
	if value == "" {
		return nil
	}
	var out []string
	for _, part := range strings.Split(value, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}
