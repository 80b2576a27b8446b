package redis

import (
	"context"
	"time"

	"logistics/internal/domain"
)

// TelemetryCacheInterface defines the advisory key-value store used by ingestion.
type TelemetryCacheInterface interface {
	Get(ctx context.Context, key domain.CacheKey) (time.Time, bool, error)
	Set(ctx context.Context, key domain.CacheKey, value time.Time, ttl time.Duration) error
}

// LockStoreInterface defines the interface for distributed leases.
type LockStoreInterface interface {
	Acquire(ctx context.Context, name string, ttl time.Duration) (string, error)
	Release(ctx context.Context, name, token string) error
}

// Ensure concrete types implement interfaces.
var (
	_ TelemetryCacheInterface = (*TelemetryCache)(nil)
	_ LockStoreInterface      = (*LockStore)(nil)
)
