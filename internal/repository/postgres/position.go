package postgres

import (
	"context"
	"database/sql"
	"time"

	"github.com/lib/pq"

	"logistics/internal/domain"
	"logistics/internal/repository"
)

// PositionRepository is a PostgreSQL implementation of repository.PositionRepository.
type PositionRepository struct {
	q Querier
}

// NewPositionRepository creates a new PostgreSQL position repository.
func NewPositionRepository(db *sql.DB) *PositionRepository {
	return &PositionRepository{q: db}
}

// Insert persists a report. A hit on the (trip_id, driver_id, recorded_at)
// unique index is reported as repository.ErrDuplicate.
func (r *PositionRepository) Insert(ctx context.Context, p *domain.PositionReport) error {
	query := `
		INSERT INTO position_reports (trip_id, driver_id, lat, lng, heading, speed, recorded_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING id, created_at
	`

	err := r.q.QueryRowContext(ctx, query,
		p.TripID,
		p.DriverID,
		p.Lat,
		p.Lng,
		nullFloat(p.Heading),
		nullFloat(p.Speed),
		p.RecordedAt,
	).Scan(&p.ID, &p.CreatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return repository.ErrDuplicate
		}
		return err
	}

	return nil
}

// ListRecent returns the latest points of a trip in chronological order.
func (r *PositionRepository) ListRecent(ctx context.Context, tripID int64, since time.Time, limit int) ([]*domain.PositionReport, error) {
	query := `
		SELECT id, trip_id, driver_id, lat, lng, heading, speed, recorded_at, created_at
		FROM position_reports
		WHERE trip_id = $1
		  AND recorded_at IS NOT NULL
		  AND ($2::timestamptz IS NULL OR recorded_at >= $2)
		ORDER BY recorded_at DESC
		LIMIT $3
	`

	var lower sql.NullTime
	if !since.IsZero() {
		lower = sql.NullTime{Time: since, Valid: true}
	}

	rows, err := r.q.QueryContext(ctx, query, tripID, lower, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var points []*domain.PositionReport
	for rows.Next() {
		var p domain.PositionReport
		var heading, speed sql.NullFloat64

		if err := rows.Scan(
			&p.ID,
			&p.TripID,
			&p.DriverID,
			&p.Lat,
			&p.Lng,
			&heading,
			&speed,
			&p.RecordedAt,
			&p.CreatedAt,
		); err != nil {
			return nil, err
		}
		if heading.Valid {
			h := heading.Float64
			p.Heading = &h
		}
		if speed.Valid {
			s := speed.Float64
			p.Speed = &s
		}
		points = append(points, &p)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	// Newest first from the index; callers want oldest first.
	for i, j := 0, len(points)-1; i < j; i, j = i+1, j-1 {
		points[i], points[j] = points[j], points[i]
	}

	return points, nil
}

// PurgeBefore deletes one batch of points older than cutoff.
func (r *PositionRepository) PurgeBefore(ctx context.Context, cutoff time.Time, limit int) (int64, error) {
	query := `
		DELETE FROM position_reports
		WHERE id IN (
			SELECT id FROM position_reports
			WHERE recorded_at < $1
			LIMIT $2
		)
	`

	result, err := r.q.ExecContext(ctx, query, cutoff, limit)
	if err != nil {
		return 0, err
	}
	return result.RowsAffected()
}

// ListStreams returns the streams with points recorded in [from, to).
func (r *PositionRepository) ListStreams(ctx context.Context, from, to time.Time) ([]domain.StreamKey, error) {
	query := `
		SELECT DISTINCT trip_id, driver_id
		FROM position_reports
		WHERE recorded_at >= $1 AND recorded_at < $2
		ORDER BY trip_id, driver_id
	`

	rows, err := r.q.QueryContext(ctx, query, from, to)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var streams []domain.StreamKey
	for rows.Next() {
		var s domain.StreamKey
		if err := rows.Scan(&s.TripID, &s.DriverID); err != nil {
			return nil, err
		}
		streams = append(streams, s)
	}

	return streams, rows.Err()
}

// ListStreamPoints returns the ids and timestamps of one stream's points in
// [from, to), together with any of its rows lacking a timestamp.
func (r *PositionRepository) ListStreamPoints(ctx context.Context, stream domain.StreamKey, from, to time.Time) ([]domain.PointRef, error) {
	query := `
		SELECT id, recorded_at
		FROM position_reports
		WHERE trip_id = $1 AND driver_id = $2
		  AND ((recorded_at >= $3 AND recorded_at < $4) OR recorded_at IS NULL)
		ORDER BY id
	`

	rows, err := r.q.QueryContext(ctx, query, stream.TripID, stream.DriverID, from, to)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var points []domain.PointRef
	for rows.Next() {
		var ref domain.PointRef
		var recordedAt sql.NullTime
		if err := rows.Scan(&ref.ID, &recordedAt); err != nil {
			return nil, err
		}
		ref.RecordedAt = timePtr(recordedAt)
		points = append(points, ref)
	}

	return points, rows.Err()
}

// DeleteByIDs deletes the given points.
func (r *PositionRepository) DeleteByIDs(ctx context.Context, ids []int64) (int64, error) {
	if len(ids) == 0 {
		return 0, nil
	}

	result, err := r.q.ExecContext(ctx, `DELETE FROM position_reports WHERE id = ANY($1)`, pq.Array(ids))
	if err != nil {
		return 0, err
	}
	return result.RowsAffected()
}

// Ensure PositionRepository implements repository.PositionRepository.
var _ repository.PositionRepository = (*PositionRepository)(nil)
