package service

import (
	"context"
	"log/slog"
	"time"

	"github.com/newrelic/go-agent/v3/newrelic"

	"logistics/internal/domain"
	"logistics/internal/observability"
	"logistics/internal/redis"
	"logistics/internal/repository"
)

const retentionLease = "retention:prune"

// RetentionOptions configures the retention bands and schedule.
//
// Relative to now, points younger than FreshHorizon are untouched, points
// between FreshHorizon and PurgeHorizon keep one point per Bucket per stream,
// and older points are deleted.
type RetentionOptions struct {
	FreshHorizon time.Duration
	PurgeHorizon time.Duration
	Bucket       time.Duration
	BatchSize    int
	Interval     time.Duration
	LeaseTTL     time.Duration
}

// DefaultRetentionOptions returns the production defaults.
func DefaultRetentionOptions() RetentionOptions {
	return RetentionOptions{
		FreshHorizon: 72 * time.Hour,
		PurgeHorizon: 30 * 24 * time.Hour,
		Bucket:       5 * time.Minute,
		BatchSize:    5000,
		Interval:     24 * time.Hour,
		LeaseTTL:     time.Hour,
	}
}

// PruneResult counts what one retention run did.
type PruneResult struct {
	Downsampled int64 `json:"downsampled"`
	Purged      int64 `json:"purged"`
	Streams     int   `json:"streams"`
	Failed      int   `json:"failed_streams"`
	Skipped     int   `json:"skipped"`
}

// RetentionService downsamples and purges stored position reports.
type RetentionService struct {
	positions repository.PositionRepository
	locks     redis.LockStoreInterface
	authz     Authorizer
	nrApp     *newrelic.Application
	opts      RetentionOptions
	logger    *slog.Logger
	now       func() time.Time
}

// NewRetentionService creates a new RetentionService. locks and nrApp may be nil.
func NewRetentionService(
	positions repository.PositionRepository,
	locks redis.LockStoreInterface,
	authz Authorizer,
	nrApp *newrelic.Application,
	opts RetentionOptions,
	logger *slog.Logger,
) *RetentionService {
	return &RetentionService{
		positions: positions,
		locks:     locks,
		authz:     authz,
		nrApp:     nrApp,
		opts:      opts,
		logger:    logger,
		now:       time.Now,
	}
}

// WithClock replaces the service clock. Used by tests.
func (s *RetentionService) WithClock(now func() time.Time) *RetentionService {
	s.now = now
	return s
}

// Prune runs one retention pass on behalf of a manager.
func (s *RetentionService) Prune(ctx context.Context, caller domain.Caller) (*PruneResult, error) {
	if s.authz == nil || !s.authz.IsManager(caller) {
		return nil, ErrForbidden
	}
	return s.PruneOnce(ctx)
}

// PruneOnce downsamples the middle band stream by stream, then purges the old
// band in batches. It is idempotent: a second run over the same data deletes
// nothing. Cancellation is honoured between streams and batches; the partial
// result is returned with the context error.
func (s *RetentionService) PruneOnce(ctx context.Context) (*PruneResult, error) {
	started := time.Now()
	defer func() { observability.RetentionRunDuration.Observe(time.Since(started).Seconds()) }()

	if s.nrApp != nil {
		txn := s.nrApp.StartTransaction("retention/prune")
		defer txn.End()
		ctx = newrelic.NewContext(ctx, txn)
	}

	now := s.now().UTC()
	freshCutoff := now.Add(-s.opts.FreshHorizon)
	purgeCutoff := now.Add(-s.opts.PurgeHorizon)

	result := &PruneResult{}

	err := s.downsample(ctx, purgeCutoff, freshCutoff, result)
	if err == nil {
		err = s.purge(ctx, purgeCutoff, result)
	}

	observability.RetentionRows.WithLabelValues("downsampled").Add(float64(result.Downsampled))
	observability.RetentionRows.WithLabelValues("purged").Add(float64(result.Purged))

	if err != nil {
		newrelic.FromContext(ctx).NoticeError(err)
		s.logger.ErrorContext(ctx, "retention run aborted", "error", err, "downsampled", result.Downsampled, "purged", result.Purged)
		return result, err
	}

	s.logger.InfoContext(ctx, "retention run finished",
		"downsampled", result.Downsampled,
		"purged", result.Purged,
		"streams", result.Streams,
		"failed_streams", result.Failed,
		"skipped", result.Skipped,
		"duration_ms", time.Since(started).Milliseconds(),
	)

	return result, nil
}

func (s *RetentionService) downsample(ctx context.Context, from, to time.Time, result *PruneResult) error {
	streams, err := s.positions.ListStreams(ctx, from, to)
	if err != nil {
		return err
	}

	for _, stream := range streams {
		if err := ctx.Err(); err != nil {
			return err
		}

		result.Streams++
		deleted, skipped, err := s.downsampleStream(ctx, stream, from, to)
		result.Downsampled += deleted
		result.Skipped += skipped
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			result.Failed++
			observability.RetentionStreamFailures.Inc()
			s.logger.ErrorContext(ctx, "stream downsample failed",
				"trip_id", stream.TripID,
				"driver_id", stream.DriverID,
				"error", err,
			)
		}
	}

	return nil
}

func (s *RetentionService) downsampleStream(ctx context.Context, stream domain.StreamKey, from, to time.Time) (int64, int, error) {
	points, err := s.positions.ListStreamPoints(ctx, stream, from, to)
	if err != nil {
		return 0, 0, err
	}

	redundant, skipped := SelectRedundant(points, s.opts.Bucket)
	if skipped > 0 {
		s.logger.WarnContext(ctx, "points without recorded_at left in place",
			"trip_id", stream.TripID,
			"driver_id", stream.DriverID,
			"count", skipped,
		)
	}

	var deleted int64
	for start := 0; start < len(redundant); start += s.opts.BatchSize {
		if err := ctx.Err(); err != nil {
			return deleted, skipped, err
		}
		end := min(start+s.opts.BatchSize, len(redundant))
		n, err := s.positions.DeleteByIDs(ctx, redundant[start:end])
		deleted += n
		if err != nil {
			return deleted, skipped, err
		}
	}

	return deleted, skipped, nil
}

func (s *RetentionService) purge(ctx context.Context, cutoff time.Time, result *PruneResult) error {
	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		n, err := s.positions.PurgeBefore(ctx, cutoff, s.opts.BatchSize)
		result.Purged += n
		if err != nil {
			return err
		}
		if n < int64(s.opts.BatchSize) {
			return nil
		}
	}
}

// SelectRedundant returns the ids of every point that is not the keeper of its
// bucket. Buckets are floor(unix seconds / bucket seconds); the keeper is the
// point with the smallest id. Points without a timestamp are never selected
// and are counted as skipped.
func SelectRedundant(points []domain.PointRef, bucket time.Duration) (redundant []int64, skipped int) {
	width := int64(bucket / time.Second)
	if width < 1 {
		width = 1
	}

	keepers := make(map[int64]int64)
	for _, p := range points {
		if p.RecordedAt == nil {
			skipped++
			continue
		}
		b := floorDiv(p.RecordedAt.Unix(), width)
		if keeper, ok := keepers[b]; !ok || p.ID < keeper {
			keepers[b] = p.ID
		}
	}

	for _, p := range points {
		if p.RecordedAt == nil {
			continue
		}
		if keepers[floorDiv(p.RecordedAt.Unix(), width)] != p.ID {
			redundant = append(redundant, p.ID)
		}
	}

	return redundant, skipped
}

func floorDiv(a, b int64) int64 {
	q := a / b
	if (a%b != 0) && ((a < 0) != (b < 0)) {
		q--
	}
	return q
}

// RunScheduler runs PruneOnce at startup and then every Interval until ctx is
// done. A Redis lease makes sure only one replica prunes per tick.
func (s *RetentionService) RunScheduler(ctx context.Context) {
	s.logger.InfoContext(ctx, "retention scheduler started", "interval", s.opts.Interval.String())

	s.RunLeased(ctx)

	ticker := time.NewTicker(s.opts.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			s.logger.InfoContext(ctx, "retention scheduler stopped")
			return
		case <-ticker.C:
			s.RunLeased(ctx)
		}
	}
}

// RunLeased runs PruneOnce if this process wins the lease. Returns false when
// another process holds it.
func (s *RetentionService) RunLeased(ctx context.Context) bool {
	if s.locks == nil {
		_, _ = s.PruneOnce(ctx)
		return true
	}

	token, err := s.locks.Acquire(ctx, retentionLease, s.opts.LeaseTTL)
	if err != nil {
		s.logger.WarnContext(ctx, "retention lease unavailable", "error", err)
		return false
	}
	if token == "" {
		s.logger.DebugContext(ctx, "retention lease held elsewhere")
		return false
	}

	defer func() {
		if err := s.locks.Release(context.WithoutCancel(ctx), retentionLease, token); err != nil {
			s.logger.WarnContext(ctx, "retention lease release failed", "error", err)
		}
	}()

	_, _ = s.PruneOnce(ctx)
	return true
}
