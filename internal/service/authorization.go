package service

import (
	"context"

	"logistics/internal/domain"
	"logistics/internal/repository"
)

// Authorizer answers role questions about a caller.
type Authorizer interface {
	// CanViewTrip reports whether the caller may read the trip and its positions.
	CanViewTrip(ctx context.Context, caller domain.Caller, trip *domain.Trip) (bool, error)

	// IsManager reports whether the caller may schedule trips.
	IsManager(caller domain.Caller) bool

	// IsDriverOf reports whether the caller drives the trip.
	IsDriverOf(caller domain.Caller, trip *domain.Trip) bool
}

// RoleAuthorizer derives permissions from the caller's role and the trip's
// linked requests.
type RoleAuthorizer struct {
	requests repository.RequestRepository
}

// NewRoleAuthorizer creates a new RoleAuthorizer.
func NewRoleAuthorizer(requests repository.RequestRepository) *RoleAuthorizer {
	return &RoleAuthorizer{requests: requests}
}

// CanViewTrip lets managers, the trip's driver and its riders see a trip.
func (a *RoleAuthorizer) CanViewTrip(ctx context.Context, caller domain.Caller, trip *domain.Trip) (bool, error) {
	if a.IsManager(caller) || a.IsDriverOf(caller, trip) {
		return true, nil
	}

	linked, err := a.requests.ListByTrip(ctx, trip.ID)
	if err != nil {
		return false, err
	}
	for _, r := range linked {
		if r.UserID == caller.UserID && r.HoldsSeats() {
			return true, nil
		}
	}

	return false, nil
}

// IsManager reports whether the caller is a manager or an admin.
func (a *RoleAuthorizer) IsManager(caller domain.Caller) bool {
	return caller.Role == domain.RoleManager || caller.Role == domain.RoleAdmin
}

// IsDriverOf reports whether the caller is the driver bound to the trip.
func (a *RoleAuthorizer) IsDriverOf(caller domain.Caller, trip *domain.Trip) bool {
	return caller.UserID != 0 && caller.UserID == trip.DriverID
}

var _ Authorizer = (*RoleAuthorizer)(nil)
