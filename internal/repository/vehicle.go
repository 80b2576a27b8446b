package repository

import (
	"context"

	"logistics/internal/domain"
)

// VehicleRepository is a read-only view over the fleet.
type VehicleRepository interface {
	// GetByID retrieves a vehicle by ID.
	GetByID(ctx context.Context, id int64) (*domain.Vehicle, error)
}
