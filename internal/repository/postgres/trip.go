package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/lib/pq"

	"logistics/internal/domain"
	"logistics/internal/repository"
)

// TripRepository is a PostgreSQL implementation of repository.TripRepository.
type TripRepository struct {
	q Querier
}

// NewTripRepository creates a new PostgreSQL trip repository.
func NewTripRepository(db *sql.DB) *TripRepository {
	return &TripRepository{q: db}
}

// NewTripRepositoryWithTx creates a trip repository using a transaction.
func NewTripRepositoryWithTx(tx *sql.Tx) *TripRepository {
	return &TripRepository{q: tx}
}

const tripColumns = `t.id, t.vehicle_id, t.driver_id, t.status, t.depart_at, t.return_at, t.created_by, COALESCE(t.notes, ''), t.created_at`

// Create persists a new trip.
func (r *TripRepository) Create(ctx context.Context, trip *domain.Trip) error {
	query := `
		INSERT INTO trips (vehicle_id, driver_id, status, depart_at, return_at, created_by, notes)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING id, created_at
	`

	return r.q.QueryRowContext(ctx, query,
		trip.VehicleID,
		trip.DriverID,
		string(trip.Status),
		trip.DepartAt,
		nullTime(trip.ReturnAt),
		trip.CreatedBy,
		trip.Notes,
	).Scan(&trip.ID, &trip.CreatedAt)
}

// GetByID retrieves a trip by ID.
func (r *TripRepository) GetByID(ctx context.Context, id int64) (*domain.Trip, error) {
	query := `SELECT ` + tripColumns + ` FROM trips t WHERE t.id = $1`
	return r.getOne(ctx, query, id)
}

// GetByIDForUpdate retrieves a trip by ID and locks its row.
func (r *TripRepository) GetByIDForUpdate(ctx context.Context, id int64) (*domain.Trip, error) {
	query := `SELECT ` + tripColumns + ` FROM trips t WHERE t.id = $1 FOR UPDATE`
	return r.getOne(ctx, query, id)
}

func (r *TripRepository) getOne(ctx context.Context, query string, id int64) (*domain.Trip, error) {
	trip, err := scanTrip(r.q.QueryRowContext(ctx, query, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, repository.ErrNotFound
		}
		return nil, err
	}
	return trip, nil
}

// ListActiveByResource returns active trips holding the resource whose window
// may overlap the given one. The time predicate mirrors domain.Window.Overlaps
// so the (resource, status, depart_at) indexes bound the scan.
func (r *TripRepository) ListActiveByResource(ctx context.Context, key domain.ResourceKey, window domain.Window) ([]*domain.Trip, error) {
	var query string
	switch key.Kind {
	case domain.ResourceVehicle:
		query = `SELECT ` + tripColumns + ` FROM trips t WHERE t.vehicle_id = $1`
	case domain.ResourceDriver:
		query = `SELECT ` + tripColumns + ` FROM trips t WHERE t.driver_id = $1`
	case domain.ResourceRequester:
		query = `
			SELECT DISTINCT ` + tripColumns + `
			FROM trips t
			JOIN requests r ON r.trip_id = t.id
			WHERE r.user_id = $1
			  AND r.status NOT IN ('cancelled', 'rejected')`
	default:
		return nil, fmt.Errorf("unknown resource kind %q", key.Kind)
	}

	query += `
		AND t.status = ANY($2)
		AND ($3::timestamptz IS NULL OR t.depart_at <= $3)
		AND (t.return_at IS NULL OR t.return_at >= $4)
		ORDER BY t.depart_at`

	var upper sql.NullTime
	if !window.OpenEnded {
		upper = sql.NullTime{Time: window.End, Valid: true}
	}

	rows, err := r.q.QueryContext(ctx, query, key.ID, pq.Array(activeStatuses()), upper, window.Start)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var trips []*domain.Trip
	for rows.Next() {
		trip, err := scanTrip(rows)
		if err != nil {
			return nil, err
		}
		trips = append(trips, trip)
	}

	return trips, rows.Err()
}

// UpdateStatus moves a trip between statuses if it is still in the expected one.
func (r *TripRepository) UpdateStatus(ctx context.Context, id int64, from, to domain.TripStatus) (bool, error) {
	query := `UPDATE trips SET status = $1, updated_at = NOW() WHERE id = $2 AND status = $3`

	result, err := r.q.ExecContext(ctx, query, string(to), id, string(from))
	if err != nil {
		return false, err
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return false, err
	}

	return rowsAffected == 1, nil
}

func scanTrip(row rowScanner) (*domain.Trip, error) {
	var trip domain.Trip
	var status string
	var returnAt sql.NullTime

	if err := row.Scan(
		&trip.ID,
		&trip.VehicleID,
		&trip.DriverID,
		&status,
		&trip.DepartAt,
		&returnAt,
		&trip.CreatedBy,
		&trip.Notes,
		&trip.CreatedAt,
	); err != nil {
		return nil, err
	}

	parsed, err := domain.ParseTripStatus(status)
	if err != nil {
		return nil, fmt.Errorf("trip %d: %w", trip.ID, err)
	}
	trip.Status = parsed

	trip.ReturnAt = timePtr(returnAt)

	return &trip, nil
}

func activeStatuses() []string {
	out := make([]string, len(domain.ActiveTripStatuses))
	for i, s := range domain.ActiveTripStatuses {
		out[i] = string(s)
	}
	return out
}

// Ensure TripRepository implements repository.TripRepository.
var _ repository.TripRepository = (*TripRepository)(nil)
