package domain

import (
	"fmt"
	"strings"
	"time"
)

// TripStatus represents the current status of a trip.
type TripStatus string

const (
	TripStatusScheduled  TripStatus = "scheduled"
	TripStatusDispatched TripStatus = "dispatched"
	TripStatusInProgress TripStatus = "in_progress"
	TripStatusCompleted  TripStatus = "completed"
	TripStatusCancelled  TripStatus = "cancelled"
)

// ActiveTripStatuses are the statuses that still hold a vehicle, a driver and
// the riders on board. Only these take part in conflict detection.
var ActiveTripStatuses = []TripStatus{
	TripStatusScheduled,
	TripStatusDispatched,
	TripStatusInProgress,
}

// ParseTripStatus normalizes a free-text status. Hyphen and underscore
// spellings are equivalent ("in-progress" == "in_progress"), as is case.
func ParseTripStatus(s string) (TripStatus, error) {
	normalized := strings.ToLower(strings.TrimSpace(s))
	normalized = strings.ReplaceAll(normalized, "-", "_")
	normalized = strings.ReplaceAll(normalized, " ", "_")

	switch TripStatus(normalized) {
	case TripStatusScheduled, TripStatusDispatched, TripStatusInProgress,
		TripStatusCompleted, TripStatusCancelled:
		return TripStatus(normalized), nil
	}
	return "", fmt.Errorf("unknown trip status %q", s)
}

// IsActive reports whether the status can still conflict with new commitments.
func (s TripStatus) IsActive() bool {
	for _, active := range ActiveTripStatuses {
		if s == active {
			return true
		}
	}
	return false
}

// IsTerminal reports whether the trip can never change status again.
func (s TripStatus) IsTerminal() bool {
	return s == TripStatusCompleted || s == TripStatusCancelled
}

// allowedTripTransitions is the trip lifecycle as code. Terminal statuses have
// no outgoing edges.
var allowedTripTransitions = map[TripStatus][]TripStatus{
	TripStatusScheduled:  {TripStatusDispatched, TripStatusInProgress, TripStatusCancelled},
	TripStatusDispatched: {TripStatusInProgress, TripStatusCancelled},
	TripStatusInProgress: {TripStatusCompleted, TripStatusCancelled},
}

// CanTransition reports whether a trip may move from one status to another.
func CanTransition(from, to TripStatus) bool {
	for _, next := range allowedTripTransitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// Trip is a scheduled movement of one vehicle driven by one driver.
type Trip struct {
	ID        int64
	VehicleID int64
	DriverID  int64
	Status    TripStatus
	DepartAt  time.Time
	ReturnAt  *time.Time // nil means open-ended
	CreatedBy int64
	Notes     string
	CreatedAt time.Time
}

// Window returns the commitment window held by the trip. A trip without a
// return time is open-ended.
func (t *Trip) Window() Window {
	return CommitmentWindow(t.DepartAt, t.ReturnAt)
}
