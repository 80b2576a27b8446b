package repository

import (
	"context"
	"time"

	"logistics/internal/domain"
)

// PositionRepository defines the persistence operations for position reports.
type PositionRepository interface {
	// Insert persists a report and fills in its ID and CreatedAt.
	// Returns ErrDuplicate if the stream already holds a point at RecordedAt.
	Insert(ctx context.Context, p *domain.PositionReport) error

	// ListRecent returns up to limit points of the trip recorded at or after
	// since, ordered by recorded_at ascending. A zero since means no lower
	// bound, in which case the latest limit points are returned.
	ListRecent(ctx context.Context, tripID int64, since time.Time, limit int) ([]*domain.PositionReport, error)

	// PurgeBefore deletes at most limit points recorded before cutoff and
	// returns how many were deleted.
	PurgeBefore(ctx context.Context, cutoff time.Time, limit int) (int64, error)

	// ListStreams returns every stream with at least one point recorded in [from, to).
	ListStreams(ctx context.Context, from, to time.Time) ([]domain.StreamKey, error)

	// ListStreamPoints returns the points of one stream in [from, to), plus the
	// stream's points with no recorded_at, ordered by id.
	ListStreamPoints(ctx context.Context, stream domain.StreamKey, from, to time.Time) ([]domain.PointRef, error)

	// DeleteByIDs deletes the given points and returns how many were deleted.
	DeleteByIDs(ctx context.Context, ids []int64) (int64, error)
}
