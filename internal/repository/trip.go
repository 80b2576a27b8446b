package repository

import (
	"context"

	"logistics/internal/domain"
)

// TripRepository defines the persistence operations for trips.
type TripRepository interface {
	// Create persists a new trip and fills in its ID and CreatedAt.
	Create(ctx context.Context, trip *domain.Trip) error

	// GetByID retrieves a trip by ID.
	GetByID(ctx context.Context, id int64) (*domain.Trip, error)

	// GetByIDForUpdate retrieves a trip by ID and locks its row until the
	// surrounding transaction ends. Outside a transaction it behaves like GetByID.
	GetByIDForUpdate(ctx context.Context, id int64) (*domain.Trip, error)

	// ListActiveByResource returns the active-status trips that hold the
	// resource and may overlap the window. For requesters a trip is held when
	// one of the requester's live requests is linked to it.
	// Callers apply the authoritative overlap test.
	ListActiveByResource(ctx context.Context, key domain.ResourceKey, window domain.Window) ([]*domain.Trip, error)

	// UpdateStatus moves a trip from one status to another.
	// Returns false if the trip was not in the expected status.
	UpdateStatus(ctx context.Context, id int64, from, to domain.TripStatus) (bool, error)
}
