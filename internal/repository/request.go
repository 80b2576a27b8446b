package repository

import (
	"context"

	"logistics/internal/domain"
)

// RequestRepository defines the persistence operations for ride requests.
// Requests are created and approved elsewhere; the scheduler only links them.
type RequestRepository interface {
	// GetByID retrieves a request by ID.
	GetByID(ctx context.Context, id int64) (*domain.Request, error)

	// ListByTrip retrieves every request linked to the trip, whatever its status.
	ListByTrip(ctx context.Context, tripID int64) ([]*domain.Request, error)

	// LinkToTrip sets the request's trip and marks it assigned, but only if it
	// is still approved and unlinked. Returns false when that no longer holds.
	LinkToTrip(ctx context.Context, requestID, tripID int64) (bool, error)

	// UpdateStatusByTrip moves every live request linked to the trip to the
	// given status and returns how many rows changed. Cancelled and rejected
	// requests are left alone.
	UpdateStatusByTrip(ctx context.Context, tripID int64, status domain.RequestStatus) (int64, error)
}
