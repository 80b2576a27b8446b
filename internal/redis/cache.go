package redis

import (
	"context"
	"errors"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"logistics/internal/domain"
)

const telemetryKeyPrefix = "telemetry:"

// TelemetryCache holds the advisory per-stream ingestion entries: the last
// accepted recorded_at and the recently-accepted throttle marker. Values are
// unix microseconds.
type TelemetryCache struct {
	client *redis.Client
}

// NewTelemetryCache creates a new TelemetryCache.
func NewTelemetryCache(client *redis.Client) *TelemetryCache {
	return &TelemetryCache{client: client}
}

// CacheKeyString renders the Redis key for an entry, e.g.
// "telemetry:last_seen:5:9".
func CacheKeyString(key domain.CacheKey) string {
	return telemetryKeyPrefix + string(key.Namespace) + ":" + key.Stream.String()
}

// Get returns the stored instant. ok is false on a cache miss.
func (c *TelemetryCache) Get(ctx context.Context, key domain.CacheKey) (time.Time, bool, error) {
	raw, err := c.client.Get(ctx, CacheKeyString(key)).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return time.Time{}, false, nil // Cache miss
		}
		return time.Time{}, false, err
	}

	micros, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return time.Time{}, false, err
	}

	return time.UnixMicro(micros).UTC(), true, nil
}

// Set stores an instant with the given TTL.
func (c *TelemetryCache) Set(ctx context.Context, key domain.CacheKey, value time.Time, ttl time.Duration) error {
	return c.client.Set(ctx, CacheKeyString(key), strconv.FormatInt(value.UnixMicro(), 10), ttl).Err()
}
