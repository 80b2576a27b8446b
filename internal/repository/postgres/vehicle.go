package postgres

import (
	"context"
	"database/sql"
	"errors"

	"logistics/internal/domain"
	"logistics/internal/repository"
)

// VehicleRepository is a read-only PostgreSQL view over the fleet.
type VehicleRepository struct {
	q Querier
}

// NewVehicleRepository creates a new PostgreSQL vehicle repository.
func NewVehicleRepository(db *sql.DB) *VehicleRepository {
	return &VehicleRepository{q: db}
}

// NewVehicleRepositoryWithTx creates a vehicle repository using a transaction.
func NewVehicleRepositoryWithTx(tx *sql.Tx) *VehicleRepository {
	return &VehicleRepository{q: tx}
}

// GetByID retrieves a vehicle by ID. A stored capacity of zero is read as
// "no capacity recorded".
func (r *VehicleRepository) GetByID(ctx context.Context, id int64) (*domain.Vehicle, error) {
	query := `SELECT id, capacity, active FROM vehicles WHERE id = $1`

	var vehicle domain.Vehicle
	var capacity sql.NullInt64

	err := r.q.QueryRowContext(ctx, query, id).Scan(&vehicle.ID, &capacity, &vehicle.Active)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, repository.ErrNotFound
		}
		return nil, err
	}

	if capacity.Valid && capacity.Int64 > 0 {
		c := int(capacity.Int64)
		vehicle.Capacity = &c
	}

	return &vehicle, nil
}

// Ensure VehicleRepository implements repository.VehicleRepository.
var _ repository.VehicleRepository = (*VehicleRepository)(nil)
