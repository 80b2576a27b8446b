package service

import (
	"context"
	"errors"
	"log/slog"
	"math"
	"time"

	"logistics/internal/domain"
	"logistics/internal/observability"
	"logistics/internal/redis"
	"logistics/internal/repository"
)

// PositionPublisher fans accepted points out to downstream consumers.
type PositionPublisher interface {
	PublishPosition(ctx context.Context, p *domain.PositionReport) error
}

// TelemetryOptions tunes the ingestion guards.
type TelemetryOptions struct {
	MaxFutureSkew  time.Duration
	ThrottleWindow time.Duration
	LastSeenTTL    time.Duration
	RecentLimit    int
	RecentLimitMax int
}

// DefaultTelemetryOptions returns the production defaults.
func DefaultTelemetryOptions() TelemetryOptions {
	return TelemetryOptions{
		MaxFutureSkew:  2 * time.Minute,
		ThrottleWindow: 8 * time.Second,
		LastSeenTTL:    time.Hour,
		RecentLimit:    100,
		RecentLimitMax: 1000,
	}
}

// TelemetryService ingests and serves driver position reports.
type TelemetryService struct {
	trips     repository.TripRepository
	positions repository.PositionRepository
	cache     redis.TelemetryCacheInterface
	publisher PositionPublisher
	authz     Authorizer
	opts      TelemetryOptions
	logger    *slog.Logger
	now       func() time.Time
}

// NewTelemetryService creates a new TelemetryService. publisher may be nil.
func NewTelemetryService(
	trips repository.TripRepository,
	positions repository.PositionRepository,
	cache redis.TelemetryCacheInterface,
	publisher PositionPublisher,
	authz Authorizer,
	opts TelemetryOptions,
	logger *slog.Logger,
) *TelemetryService {
	return &TelemetryService{
		trips:     trips,
		positions: positions,
		cache:     cache,
		publisher: publisher,
		authz:     authz,
		opts:      opts,
		logger:    logger,
		now:       time.Now,
	}
}

// WithClock replaces the service clock. Used by tests.
func (s *TelemetryService) WithClock(now func() time.Time) *TelemetryService {
	s.now = now
	return s
}

// IngestRequest is one position report as submitted by a driver.
type IngestRequest struct {
	TripID  int64
	Caller  domain.Caller
	Lat     *float64
	Lng     *float64
	Heading *float64
	Speed   *float64
	// RecordedAt is an RFC 3339 timestamp. Empty means "now".
	RecordedAt string
	// Malformed marks a body that could not be decoded. It is reported
	// at validation, after the caller and trip checks.
	Malformed bool
}

// IngestResult is the outcome of a report that passed authorization and
// validation. Soft rejections carry Accepted=false and a reason code.
type IngestResult struct {
	Accepted bool
	Reason   string
	Report   *domain.PositionReport
}

// Ingest runs a report through the pipeline: authorization, trip status,
// validation, future skew, last-seen ordering, throttle, insert, cache update.
// Hard rejections are returned as errors. The caches are advisory: when they
// fail the pipeline carries on and the unique index decides.
func (s *TelemetryService) Ingest(ctx context.Context, req IngestRequest) (*IngestResult, error) {
	result, err := s.ingest(ctx, req)

	reason := ErrorReason(err)
	if err == nil {
		reason = result.Reason
	}
	observability.TelemetryPoints.WithLabelValues(reason).Inc()

	return result, err
}

func (s *TelemetryService) ingest(ctx context.Context, req IngestRequest) (*IngestResult, error) {
	trip, err := s.trips.GetByID(ctx, req.TripID)
	if err != nil {
		return nil, err
	}

	if !s.authz.IsDriverOf(req.Caller, trip) {
		return nil, ErrNotTripDriver
	}

	if trip.Status != domain.TripStatusInProgress {
		return nil, ErrTripNotInProgress
	}

	if err := validatePosition(req); err != nil {
		return nil, err
	}

	now := s.now().UTC()
	recordedAt, err := parseRecordedAt(req.RecordedAt, now)
	if err != nil {
		return nil, err
	}

	if recordedAt.Sub(now) > s.opts.MaxFutureSkew {
		return nil, ErrFutureTimestamp
	}

	stream := domain.StreamKey{TripID: trip.ID, DriverID: req.Caller.UserID}
	lastSeenKey := domain.CacheKey{Namespace: domain.CacheLastSeen, Stream: stream}
	throttleKey := domain.CacheKey{Namespace: domain.CacheThrottle, Stream: stream}

	lastSeen, ok, err := s.cache.Get(ctx, lastSeenKey)
	if err != nil {
		s.cacheFailed(ctx, "get_last_seen", stream, err)
	} else if ok {
		if recordedAt.Before(lastSeen) {
			return s.soft(ctx, ReasonOutOfOrder, stream, recordedAt), nil
		}
		// Equal to last-seen is a replay of the stored point, so it reports duplicate rather than out_of_order.
		if recordedAt.Equal(lastSeen) {
			return s.soft(ctx, ReasonDuplicate, stream, recordedAt), nil
		}
	}

	_, throttled, err := s.cache.Get(ctx, throttleKey)
	if err != nil {
		s.cacheFailed(ctx, "get_throttle", stream, err)
	} else if throttled {
		return s.soft(ctx, ReasonTooFrequent, stream, recordedAt), nil
	}

	report := &domain.PositionReport{
		TripID:     trip.ID,
		DriverID:   req.Caller.UserID,
		Lat:        *req.Lat,
		Lng:        *req.Lng,
		Heading:    req.Heading,
		Speed:      req.Speed,
		RecordedAt: recordedAt,
	}

	if err := s.positions.Insert(ctx, report); err != nil {
		if errors.Is(err, repository.ErrDuplicate) {
			return s.soft(ctx, ReasonDuplicate, stream, recordedAt), nil
		}
		return nil, err
	}

	if err := s.cache.Set(ctx, lastSeenKey, recordedAt, s.opts.LastSeenTTL); err != nil {
		s.cacheFailed(ctx, "set_last_seen", stream, err)
	}
	if err := s.cache.Set(ctx, throttleKey, now, s.opts.ThrottleWindow); err != nil {
		s.cacheFailed(ctx, "set_throttle", stream, err)
	}

	if s.publisher != nil {
		if err := s.publisher.PublishPosition(ctx, report); err != nil {
			observability.TelemetryPublishErrors.Inc()
			s.logger.WarnContext(ctx, "position publish failed", "trip_id", report.TripID, "error", err)
		}
	}

	return &IngestResult{Accepted: true, Reason: ReasonAccepted, Report: report}, nil
}

func (s *TelemetryService) soft(ctx context.Context, reason string, stream domain.StreamKey, recordedAt time.Time) *IngestResult {
	s.logger.DebugContext(ctx, "position not accepted",
		"reason", reason,
		"trip_id", stream.TripID,
		"driver_id", stream.DriverID,
		"recorded_at", recordedAt,
	)
	return &IngestResult{Accepted: false, Reason: reason}
}

func (s *TelemetryService) cacheFailed(ctx context.Context, op string, stream domain.StreamKey, err error) {
	observability.TelemetryCacheErrors.WithLabelValues(op).Inc()
	s.logger.WarnContext(ctx, "telemetry cache unavailable",
		"op", op,
		"trip_id", stream.TripID,
		"driver_id", stream.DriverID,
		"error", err,
	)
}

func validatePosition(req IngestRequest) error {
	if req.Malformed {
		return &ValidationError{Field: "body", Reason: "must be a JSON object"}
	}
	if req.Lat == nil {
		return &ValidationError{Field: "lat", Reason: "is required"}
	}
	if req.Lng == nil {
		return &ValidationError{Field: "lng", Reason: "is required"}
	}
	if lat := *req.Lat; math.IsNaN(lat) || lat < -90 || lat > 90 {
		return &ValidationError{Field: "lat", Reason: "must be between -90 and 90"}
	}
	if lng := *req.Lng; math.IsNaN(lng) || lng < -180 || lng > 180 {
		return &ValidationError{Field: "lng", Reason: "must be between -180 and 180"}
	}
	if h := req.Heading; h != nil && (math.IsNaN(*h) || *h < 0 || *h > 359) {
		return &ValidationError{Field: "heading", Reason: "must be between 0 and 359"}
	}
	if v := req.Speed; v != nil && (math.IsNaN(*v) || *v < 0 || *v > 300) {
		return &ValidationError{Field: "speed", Reason: "must be between 0 and 300"}
	}
	return nil
}

// parseRecordedAt parses an RFC 3339 timestamp and truncates it to the
// microsecond precision Postgres stores, so cache and database compare equal.
func parseRecordedAt(raw string, now time.Time) (time.Time, error) {
	if raw == "" {
		return now.Truncate(time.Microsecond), nil
	}

	t, err := time.Parse(time.RFC3339Nano, raw)
	if err != nil {
		return time.Time{}, ErrInvalidRecordedAt
	}

	return t.UTC().Truncate(time.Microsecond), nil
}

// RecentQuery selects recent points. SinceMinutes bounds them by age and
// Limit by count; Limit defaults to the configured recent limit.
type RecentQuery struct {
	SinceMinutes *int
	Limit        *int
}

// RecentPoints returns a trip's latest points in chronological order.
func (s *TelemetryService) RecentPoints(ctx context.Context, caller domain.Caller, tripID int64, q RecentQuery) ([]*domain.PositionReport, error) {
	trip, err := s.trips.GetByID(ctx, tripID)
	if err != nil {
		return nil, err
	}

	allowed, err := s.authz.CanViewTrip(ctx, caller, trip)
	if err != nil {
		return nil, err
	}
	if !allowed {
		return nil, ErrForbidden
	}

	limit := s.opts.RecentLimit
	if q.Limit != nil {
		if *q.Limit <= 0 {
			return nil, &ValidationError{Field: "limit", Reason: "must be positive"}
		}
		limit = min(*q.Limit, s.opts.RecentLimitMax)
	}

	var since time.Time
	if q.SinceMinutes != nil {
		if *q.SinceMinutes <= 0 {
			return nil, &ValidationError{Field: "since_minutes", Reason: "must be positive"}
		}
		since = s.now().Add(-time.Duration(*q.SinceMinutes) * time.Minute)
	}

	return s.positions.ListRecent(ctx, trip.ID, since, limit)
}
