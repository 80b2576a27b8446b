package middleware

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
)

const (
	idempotencyHeader = "Idempotency-Key"
	replayedHeader    = "Idempotent-Replayed"
	replayTTL         = 24 * time.Hour
)

// IdempotencyStore is the subset of the Redis client used to replay responses.
type IdempotencyStore interface {
	Get(ctx context.Context, key string) *redis.StringCmd
	Set(ctx context.Context, key string, value any, expiration time.Duration) *redis.StatusCmd
}

// replayRecord is what gets stored for a completed POST.
type replayRecord struct {
	Status      int    `json:"status"`
	ContentType string `json:"content_type,omitempty"`
	Body        []byte `json:"body"`
}

// replayable reports whether a response is worth replaying. 5xx responses
// are left out so a retry gets another attempt.
func replayable(status int) bool {
	return status >= http.StatusOK && status < http.StatusInternalServerError
}

type bodyRecorder struct {
	gin.ResponseWriter
	buf bytes.Buffer
}

func (w *bodyRecorder) Write(b []byte) (int, error) {
	w.buf.Write(b)
	return w.ResponseWriter.Write(b)
}

func (w *bodyRecorder) WriteString(s string) (int, error) {
	w.buf.WriteString(s)
	return w.ResponseWriter.WriteString(s)
}

// Idempotency replays the stored response when a POST is retried with the
// same Idempotency-Key. Keys are scoped to the authenticated caller and the
// path, so it must run after Auth. When Redis is unreachable the request runs
// unprotected.
func Idempotency(store IdempotencyStore, logger *slog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		key := strings.TrimSpace(c.GetHeader(idempotencyHeader))
		if c.Request.Method != http.MethodPost || key == "" {
			c.Next()
			return
		}

		ctx := c.Request.Context()
		storeKey := replayKey(c, key)

		record, err := loadReplay(ctx, store, storeKey)
		switch {
		case err != nil:
			logger.WarnContext(ctx, "idempotency lookup failed", "error", err, "request_id", GetRequestID(c))
		case record != nil:
			c.Header(replayedHeader, "true")
			c.Data(record.Status, record.ContentType, record.Body)
			c.Abort()
			return
		}

		rec := &bodyRecorder{ResponseWriter: c.Writer}
		c.Writer = rec
		c.Next()

		if err != nil || !replayable(rec.Status()) {
			return
		}

		record = &replayRecord{
			Status:      rec.Status(),
			ContentType: rec.Header().Get("Content-Type"),
			Body:        rec.buf.Bytes(),
		}
		if err := saveReplay(ctx, store, storeKey, record); err != nil {
			logger.WarnContext(ctx, "idempotency store failed", "error", err, "request_id", GetRequestID(c))
		}
	}
}

func replayKey(c *gin.Context, key string) string {
	scope := "anonymous"
	if caller, ok := CallerFrom(c); ok {
		scope = strconv.FormatInt(caller.UserID, 10)
	}
	return "idempotency:" + scope + ":" + c.Request.URL.Path + ":" + key
}

// loadReplay returns nil, nil on a miss.
func loadReplay(ctx context.Context, store IdempotencyStore, key string) (*replayRecord, error) {
	raw, err := store.Get(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	var record replayRecord
	if err := json.Unmarshal(raw, &record); err != nil {
		return nil, err
	}
	return &record, nil
}

func saveReplay(ctx context.Context, store IdempotencyStore, key string, record *replayRecord) error {
	raw, err := json.Marshal(record)
	if err != nil {
		return err
	}
	return store.Set(ctx, key, raw, replayTTL).Err()
}
