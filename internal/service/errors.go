package service

import (
	"errors"
	"fmt"

	"logistics/internal/repository"
)

var (
	// ErrForbidden is returned when the caller's role does not allow the operation.
	ErrForbidden = errors.New("forbidden")

	// ErrValidation is the root of every malformed-input error.
	ErrValidation = errors.New("validation error")

	// ErrAlreadyLinkedOrNotApproved is returned when a request is not approved
	// or is already linked to a trip.
	ErrAlreadyLinkedOrNotApproved = errors.New("request already linked or not approved")

	// ErrInvalidWindow is returned when no departure can be resolved or the
	// return is not strictly after the departure.
	ErrInvalidWindow = errors.New("invalid time window")

	// ErrRequesterDoubleBooked is returned when the requester already holds an
	// overlapping active trip.
	ErrRequesterDoubleBooked = errors.New("requester double booked")

	// ErrVehicleConflict is returned when the vehicle already holds an overlapping active trip.
	ErrVehicleConflict = errors.New("vehicle conflict")

	// ErrDriverConflict is returned when the driver already holds an overlapping active trip.
	ErrDriverConflict = errors.New("driver conflict")

	// ErrCapacityExceeded is returned when the vehicle cannot seat the request.
	ErrCapacityExceeded = errors.New("capacity exceeded")

	// ErrVehicleInactive is returned when assigning a vehicle taken out of service.
	ErrVehicleInactive = errors.New("vehicle inactive")

	// ErrTripNotActive is returned when attaching to a completed or cancelled trip.
	ErrTripNotActive = errors.New("trip not active")

	// ErrRequesterAlreadyOnTrip is returned when the requester already rides on the trip.
	ErrRequesterAlreadyOnTrip = errors.New("requester already on trip")

	// ErrInvalidTransition is returned when a trip cannot move to the requested status.
	ErrInvalidTransition = errors.New("invalid trip status transition")

	// ErrNotTripDriver is returned when someone other than the trip's driver reports positions.
	ErrNotTripDriver = errors.New("caller is not the trip driver")

	// ErrTripNotInProgress is returned when reporting positions for a trip not under way.
	ErrTripNotInProgress = errors.New("trip not in progress")

	// ErrInvalidRecordedAt is returned when recorded_at cannot be parsed.
	ErrInvalidRecordedAt = errors.New("invalid recorded_at")

	// ErrFutureTimestamp is returned when recorded_at is too far ahead of server time.
	ErrFutureTimestamp = errors.New("recorded_at is in the future")
)

// ValidationError describes one malformed input field.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

func (e *ValidationError) Unwrap() error { return ErrValidation }

// ConflictError reports which active trip blocks a commitment.
// Err is ErrRequesterDoubleBooked, ErrVehicleConflict or ErrDriverConflict.
type ConflictError struct {
	Err    error
	TripID int64
}

func (e *ConflictError) Error() string {
	return fmt.Sprintf("%s with trip %d", e.Err, e.TripID)
}

func (e *ConflictError) Unwrap() error { return e.Err }

// CapacityError reports how many seats were asked for and how many are left.
type CapacityError struct {
	Need      int
	Remaining int
}

func (e *CapacityError) Error() string {
	return fmt.Sprintf("%s: need +%d, remaining %d", ErrCapacityExceeded, e.Need, e.Remaining)
}

func (e *CapacityError) Unwrap() error { return ErrCapacityExceeded }

// Reason codes reported to callers alongside errors and soft rejections.
const (
	ReasonAccepted                   = "accepted"
	ReasonOutOfOrder                 = "out_of_order"
	ReasonDuplicate                  = "duplicate"
	ReasonTooFrequent                = "too_frequent"
	ReasonNotTripDriver              = "not_trip_driver"
	ReasonTripNotInProgress          = "trip_not_in_progress"
	ReasonInvalidRecordedAt          = "invalid_recorded_at"
	ReasonFutureTimestamp            = "future_timestamp"
	ReasonValidation                 = "validation_error"
	ReasonForbidden                  = "forbidden"
	ReasonNotFound                   = "not_found"
	ReasonAlreadyLinkedOrNotApproved = "already_linked_or_not_approved"
	ReasonInvalidWindow              = "invalid_window"
	ReasonRequesterDoubleBooked      = "requester_double_booked"
	ReasonVehicleConflict            = "vehicle_conflict"
	ReasonDriverConflict             = "driver_conflict"
	ReasonCapacityExceeded           = "capacity_exceeded"
	ReasonVehicleInactive            = "vehicle_inactive"
	ReasonTripNotActive              = "trip_not_active"
	ReasonRequesterAlreadyOnTrip     = "requester_already_on_trip"
	ReasonInvalidTransition          = "invalid_transition"
	ReasonInternal                   = "internal_error"
)

// ErrorReason returns the stable reason code for err.
func ErrorReason(err error) string {
	switch {
	case err == nil:
		return ReasonAccepted
	case errors.Is(err, repository.ErrNotFound):
		return ReasonNotFound
	case errors.Is(err, ErrForbidden):
		return ReasonForbidden
	case errors.Is(err, ErrInvalidRecordedAt):
		return ReasonInvalidRecordedAt
	case errors.Is(err, ErrFutureTimestamp):
		return ReasonFutureTimestamp
	case errors.Is(err, ErrValidation):
		return ReasonValidation
	case errors.Is(err, ErrNotTripDriver):
		return ReasonNotTripDriver
	case errors.Is(err, ErrTripNotInProgress):
		return ReasonTripNotInProgress
	case errors.Is(err, ErrAlreadyLinkedOrNotApproved):
		return ReasonAlreadyLinkedOrNotApproved
	case errors.Is(err, ErrInvalidWindow):
		return ReasonInvalidWindow
	case errors.Is(err, ErrRequesterDoubleBooked):
		return ReasonRequesterDoubleBooked
	case errors.Is(err, ErrVehicleConflict):
		return ReasonVehicleConflict
	case errors.Is(err, ErrDriverConflict):
		return ReasonDriverConflict
	case errors.Is(err, ErrCapacityExceeded):
		return ReasonCapacityExceeded
	case errors.Is(err, ErrVehicleInactive):
		return ReasonVehicleInactive
	case errors.Is(err, ErrTripNotActive):
		return ReasonTripNotActive
	case errors.Is(err, ErrRequesterAlreadyOnTrip):
		return ReasonRequesterAlreadyOnTrip
	case errors.Is(err, ErrInvalidTransition):
		return ReasonInvalidTransition
	default:
		return ReasonInternal
	}
}
