package domain

import "time"

// RequestStatus represents the current status of a ride request.
type RequestStatus string

const (
	RequestStatusPending   RequestStatus = "pending"
	RequestStatusApproved  RequestStatus = "approved"
	RequestStatusAssigned  RequestStatus = "assigned"
	RequestStatusRejected  RequestStatus = "rejected"
	RequestStatusCancelled RequestStatus = "cancelled"
	RequestStatusCompleted RequestStatus = "completed"
)

// Request is a single rider's demand for transport.
type Request struct {
	ID               int64
	UserID           int64
	Status           RequestStatus
	DesiredDeparture *time.Time
	DesiredReturn    *time.Time
	Passengers       int
	TripID           *int64 // set exactly once, on assignment or attachment
	CreatedAt        time.Time
}

// Linkable reports whether the request can be put on a trip: it must be
// approved and not linked to any trip yet.
func (r *Request) Linkable() bool {
	return r.Status == RequestStatusApproved && r.TripID == nil
}

// HoldsSeats reports whether the request still occupies seats on its trip.
func (r *Request) HoldsSeats() bool {
	return r.Status != RequestStatusCancelled && r.Status != RequestStatusRejected
}
