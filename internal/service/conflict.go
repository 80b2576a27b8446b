package service

import (
	"context"

	"logistics/internal/domain"
	"logistics/internal/repository"
)

// ConflictChecker decides whether a resource can take on a new commitment.
type ConflictChecker struct {
	trips repository.TripRepository
}

// NewConflictChecker creates a checker reading through trips. Pass a
// transaction-scoped repository to check under that transaction's locks.
func NewConflictChecker(trips repository.TripRepository) *ConflictChecker {
	return &ConflictChecker{trips: trips}
}

// HasConflict reports whether the resource holds an active trip overlapping window.
func (c *ConflictChecker) HasConflict(ctx context.Context, key domain.ResourceKey, window domain.Window) (bool, error) {
	trip, err := c.FindConflict(ctx, key, window, 0)
	return trip != nil, err
}

// FindConflict returns the first active trip, by departure, that holds the
// resource and overlaps window. excludeTripID is skipped; zero excludes nothing.
// Returns nil when the resource is free.
func (c *ConflictChecker) FindConflict(ctx context.Context, key domain.ResourceKey, window domain.Window, excludeTripID int64) (*domain.Trip, error) {
	candidates, err := c.trips.ListActiveByResource(ctx, key, window)
	if err != nil {
		return nil, err
	}

	for _, trip := range candidates {
		if trip.ID == excludeTripID || !trip.Status.IsActive() {
			continue
		}
		if window.Overlaps(trip.Window()) {
			return trip, nil
		}
	}

	return nil, nil
}

// check runs FindConflict and wraps a hit in a ConflictError carrying kindErr.
func (c *ConflictChecker) check(ctx context.Context, key domain.ResourceKey, window domain.Window, excludeTripID int64, kindErr error) error {
	trip, err := c.FindConflict(ctx, key, window, excludeTripID)
	if err != nil {
		return err
	}
	if trip != nil {
		return &ConflictError{Err: kindErr, TripID: trip.ID}
	}
	return nil
}
