package postgres

import (
	"context"
	"database/sql"
	"errors"

	"logistics/internal/domain"
	"logistics/internal/repository"
)

// RequestRepository is a PostgreSQL implementation of repository.RequestRepository.
type RequestRepository struct {
	q Querier
}

// NewRequestRepository creates a new PostgreSQL request repository.
func NewRequestRepository(db *sql.DB) *RequestRepository {
	return &RequestRepository{q: db}
}

// NewRequestRepositoryWithTx creates a request repository using a transaction.
func NewRequestRepositoryWithTx(tx *sql.Tx) *RequestRepository {
	return &RequestRepository{q: tx}
}

const requestColumns = `id, user_id, status, desired_departure, desired_return, passengers, trip_id, created_at`

// GetByID retrieves a request by ID.
func (r *RequestRepository) GetByID(ctx context.Context, id int64) (*domain.Request, error) {
	query := `SELECT ` + requestColumns + ` FROM requests WHERE id = $1`

	req, err := scanRequest(r.q.QueryRowContext(ctx, query, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, repository.ErrNotFound
		}
		return nil, err
	}
	return req, nil
}

// ListByTrip retrieves every request linked to the trip.
func (r *RequestRepository) ListByTrip(ctx context.Context, tripID int64) ([]*domain.Request, error) {
	query := `SELECT ` + requestColumns + ` FROM requests WHERE trip_id = $1 ORDER BY id`

	rows, err := r.q.QueryContext(ctx, query, tripID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var requests []*domain.Request
	for rows.Next() {
		req, err := scanRequest(rows)
		if err != nil {
			return nil, err
		}
		requests = append(requests, req)
	}

	return requests, rows.Err()
}

// LinkToTrip links an approved, unlinked request to a trip.
func (r *RequestRepository) LinkToTrip(ctx context.Context, requestID, tripID int64) (bool, error) {
	query := `
		UPDATE requests
		SET trip_id = $1, status = $2, updated_at = NOW()
		WHERE id = $3 AND status = $4 AND trip_id IS NULL
	`

	result, err := r.q.ExecContext(ctx, query,
		tripID,
		string(domain.RequestStatusAssigned),
		requestID,
		string(domain.RequestStatusApproved),
	)
	if err != nil {
		return false, err
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return false, err
	}

	return rowsAffected == 1, nil
}

// UpdateStatusByTrip moves the trip's live requests to status.
func (r *RequestRepository) UpdateStatusByTrip(ctx context.Context, tripID int64, status domain.RequestStatus) (int64, error) {
	query := `
		UPDATE requests
		SET status = $1, updated_at = NOW()
		WHERE trip_id = $2 AND status NOT IN ('cancelled', 'rejected')
	`

	result, err := r.q.ExecContext(ctx, query, string(status), tripID)
	if err != nil {
		return 0, err
	}
	return result.RowsAffected()
}

func scanRequest(row rowScanner) (*domain.Request, error) {
	var req domain.Request
	var status string
	var departure, ret sql.NullTime
	var tripID sql.NullInt64

	if err := row.Scan(
		&req.ID,
		&req.UserID,
		&status,
		&departure,
		&ret,
		&req.Passengers,
		&tripID,
		&req.CreatedAt,
	); err != nil {
		return nil, err
	}

	req.Status = domain.RequestStatus(status)
	req.DesiredDeparture = timePtr(departure)
	req.DesiredReturn = timePtr(ret)
	if tripID.Valid {
		id := tripID.Int64
		req.TripID = &id
	}

	return &req, nil
}

// Ensure RequestRepository implements repository.RequestRepository.
var _ repository.RequestRepository = (*RequestRepository)(nil)
