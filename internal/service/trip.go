package service

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"logistics/internal/domain"
	"logistics/internal/observability"
	"logistics/internal/repository"
)

// TripService schedules requests onto trips and drives the trip lifecycle.
type TripService struct {
	trips      repository.TripRepository
	requests   repository.RequestRepository
	vehicles   repository.VehicleRepository
	transactor repository.Transactor
	authz      Authorizer
	notifier   Notifier
	logger     *slog.Logger
}

// NewTripService creates a new TripService.
func NewTripService(
	trips repository.TripRepository,
	requests repository.RequestRepository,
	vehicles repository.VehicleRepository,
	transactor repository.Transactor,
	authz Authorizer,
	notifier Notifier,
	logger *slog.Logger,
) *TripService {
	return &TripService{
		trips:      trips,
		requests:   requests,
		vehicles:   vehicles,
		transactor: transactor,
		authz:      authz,
		notifier:   notifier,
		logger:     logger,
	}
}

// AssignRequest contains the parameters for assigning a request to a new trip.
type AssignRequest struct {
	Caller    domain.Caller
	RequestID int64
	VehicleID int64
	DriverID  int64
	// DepartAt and ReturnAt override the request's desired times.
	DepartAt *time.Time
	ReturnAt *time.Time
	Notes    string
}

// Assign creates a scheduled trip for an approved request and links the
// request to it. Preconditions are checked in a fixed order and the first
// failure wins: request state, window, requester conflict, vehicle state and
// capacity, vehicle conflict, driver conflict. The conflict checks are
// repeated under per-resource locks inside the transaction that creates the
// trip.
func (s *TripService) Assign(ctx context.Context, req AssignRequest) (trip *domain.Trip, err error) {
	defer func() { recordOutcome("assign", err) }()

	if !s.authz.IsManager(req.Caller) {
		return nil, ErrForbidden
	}

	request, err := s.requests.GetByID(ctx, req.RequestID)
	if err != nil {
		return nil, err
	}

	if !request.Linkable() {
		return nil, ErrAlreadyLinkedOrNotApproved
	}

	depart, ret, err := resolveWindow(req, request)
	if err != nil {
		return nil, err
	}
	window := domain.QueryWindow(depart, ret)

	requesterKey := domain.RequesterKey(request.UserID)
	vehicleKey := domain.VehicleKey(req.VehicleID)
	driverKey := domain.DriverKey(req.DriverID)

	checker := NewConflictChecker(s.trips)
	if err = checker.check(ctx, requesterKey, window, 0, ErrRequesterDoubleBooked); err != nil {
		return nil, err
	}

	vehicle, err := s.vehicles.GetByID(ctx, req.VehicleID)
	if err != nil {
		return nil, err
	}
	if !vehicle.Active {
		return nil, ErrVehicleInactive
	}
	if remaining := Remaining(vehicle.Capacity, nil); !CanAdd(remaining, request.Passengers) {
		return nil, &CapacityError{Need: request.Passengers, Remaining: remaining}
	}

	if err = checker.check(ctx, vehicleKey, window, 0, ErrVehicleConflict); err != nil {
		return nil, err
	}
	if err = checker.check(ctx, driverKey, window, 0, ErrDriverConflict); err != nil {
		return nil, err
	}

	trip = &domain.Trip{
		VehicleID: req.VehicleID,
		DriverID:  req.DriverID,
		Status:    domain.TripStatusScheduled,
		DepartAt:  depart,
		ReturnAt:  ret,
		CreatedBy: req.Caller.UserID,
		Notes:     req.Notes,
	}

	err = s.transactor.WithinTx(ctx, func(ctx context.Context, tx repository.Tx) error {
		// Fixed lock order keeps concurrent assignments from deadlocking.
		if err := tx.LockResources(ctx, vehicleKey, driverKey, requesterKey); err != nil {
			return err
		}

		locked := NewConflictChecker(tx.Trips())
		if err := locked.check(ctx, requesterKey, window, 0, ErrRequesterDoubleBooked); err != nil {
			return err
		}
		if err := locked.check(ctx, vehicleKey, window, 0, ErrVehicleConflict); err != nil {
			return err
		}
		if err := locked.check(ctx, driverKey, window, 0, ErrDriverConflict); err != nil {
			return err
		}

		if err := tx.Trips().Create(ctx, trip); err != nil {
			return err
		}

		linked, err := tx.Requests().LinkToTrip(ctx, request.ID, trip.ID)
		if err != nil {
			return err
		}
		if !linked {
			return ErrAlreadyLinkedOrNotApproved
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.logger.InfoContext(ctx, "trip assigned",
		"trip_id", trip.ID,
		"request_id", request.ID,
		"vehicle_id", trip.VehicleID,
		"driver_id", trip.DriverID,
	)

	// The assignment is committed; a failed notification only gets logged.
	if nerr := s.notifier.NotifyDriverAssigned(ctx, trip.DriverID, trip); nerr != nil {
		s.logger.WarnContext(ctx, "driver notification failed", "trip_id", trip.ID, "error", nerr)
	}

	return trip, nil
}

// resolveWindow picks the candidate window. An explicit departure brings its
// own return; otherwise the request's desired times are used, with an
// explicit return still taking precedence over the desired one.
func resolveWindow(req AssignRequest, request *domain.Request) (time.Time, *time.Time, error) {
	depart, ret := req.DepartAt, req.ReturnAt
	if depart == nil {
		depart = request.DesiredDeparture
		if ret == nil {
			ret = request.DesiredReturn
		}
	}

	if depart == nil || depart.IsZero() {
		return time.Time{}, nil, ErrInvalidWindow
	}
	if ret != nil && !ret.After(*depart) {
		return time.Time{}, nil, ErrInvalidWindow
	}

	return *depart, ret, nil
}

// AttachRequest contains the parameters for attaching a request to an existing trip.
type AttachRequest struct {
	Caller    domain.Caller
	RequestID int64
	TripID    int64
}

// Attach links an approved request to an existing active trip. The vehicle
// and driver are already committed to the trip and are not re-checked.
func (s *TripService) Attach(ctx context.Context, req AttachRequest) (trip *domain.Trip, err error) {
	defer func() { recordOutcome("attach", err) }()

	if !s.authz.IsManager(req.Caller) {
		return nil, ErrForbidden
	}

	trip, err = s.trips.GetByID(ctx, req.TripID)
	if err != nil {
		return nil, err
	}
	if !trip.Status.IsActive() {
		return nil, ErrTripNotActive
	}

	request, err := s.requests.GetByID(ctx, req.RequestID)
	if err != nil {
		return nil, err
	}
	if !request.Linkable() {
		return nil, ErrAlreadyLinkedOrNotApproved
	}

	vehicle, err := s.vehicles.GetByID(ctx, trip.VehicleID)
	if err != nil {
		return nil, err
	}

	if err = s.checkAttach(ctx, s.trips, s.requests, trip, request, vehicle); err != nil {
		return nil, err
	}

	err = s.transactor.WithinTx(ctx, func(ctx context.Context, tx repository.Tx) error {
		locked, err := tx.Trips().GetByIDForUpdate(ctx, trip.ID)
		if err != nil {
			return err
		}
		if !locked.Status.IsActive() {
			return ErrTripNotActive
		}

		if err := tx.LockResources(ctx, domain.RequesterKey(request.UserID)); err != nil {
			return err
		}

		if err := s.checkAttach(ctx, tx.Trips(), tx.Requests(), locked, request, vehicle); err != nil {
			return err
		}

		linked, err := tx.Requests().LinkToTrip(ctx, request.ID, locked.ID)
		if err != nil {
			return err
		}
		if !linked {
			return ErrAlreadyLinkedOrNotApproved
		}

		trip = locked
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.logger.InfoContext(ctx, "request attached", "trip_id", trip.ID, "request_id", request.ID)

	return trip, nil
}

// checkAttach runs the attachment rules that depend on the trip's riders:
// duplicate person, requester conflict elsewhere, and capacity.
func (s *TripService) checkAttach(
	ctx context.Context,
	trips repository.TripRepository,
	requests repository.RequestRepository,
	trip *domain.Trip,
	request *domain.Request,
	vehicle *domain.Vehicle,
) error {
	onTrip, err := requests.ListByTrip(ctx, trip.ID)
	if err != nil {
		return err
	}

	for _, r := range onTrip {
		if r.UserID == request.UserID && r.HoldsSeats() {
			return ErrRequesterAlreadyOnTrip
		}
	}

	checker := NewConflictChecker(trips)
	if err := checker.check(ctx, domain.RequesterKey(request.UserID), trip.Window(), trip.ID, ErrRequesterDoubleBooked); err != nil {
		return err
	}

	if remaining := Remaining(vehicle.Capacity, onTrip); !CanAdd(remaining, request.Passengers) {
		return &CapacityError{Need: request.Passengers, Remaining: remaining}
	}

	return nil
}

// TripDetails is a trip together with its riders and free seats.
type TripDetails struct {
	Trip     *domain.Trip
	Requests []*domain.Request
	// Remaining is Uncapped when the vehicle has no recorded capacity.
	Remaining int
}

// GetTrip returns a trip the caller may view.
func (s *TripService) GetTrip(ctx context.Context, caller domain.Caller, tripID int64) (*TripDetails, error) {
	trip, err := s.trips.GetByID(ctx, tripID)
	if err != nil {
		return nil, err
	}

	allowed, err := s.authz.CanViewTrip(ctx, caller, trip)
	if err != nil {
		return nil, err
	}
	if !allowed {
		return nil, ErrForbidden
	}

	requests, err := s.requests.ListByTrip(ctx, trip.ID)
	if err != nil {
		return nil, err
	}

	vehicle, err := s.vehicles.GetByID(ctx, trip.VehicleID)
	if err != nil {
		return nil, err
	}

	return &TripDetails{
		Trip:      trip,
		Requests:  requests,
		Remaining: Remaining(vehicle.Capacity, requests),
	}, nil
}

// Dispatch marks a scheduled trip as dispatched. Managers only.
func (s *TripService) Dispatch(ctx context.Context, caller domain.Caller, tripID int64) (*domain.Trip, error) {
	return s.transition(ctx, tripID, domain.TripStatusDispatched, "", func(trip *domain.Trip) bool {
		return s.authz.IsManager(caller)
	})
}

// Start puts a trip under way. Only the trip's driver may start it.
func (s *TripService) Start(ctx context.Context, caller domain.Caller, tripID int64) (*domain.Trip, error) {
	return s.transition(ctx, tripID, domain.TripStatusInProgress, "", func(trip *domain.Trip) bool {
		return s.authz.IsDriverOf(caller, trip)
	})
}

// Complete finishes a trip under way and completes its riders' requests.
func (s *TripService) Complete(ctx context.Context, caller domain.Caller, tripID int64) (*domain.Trip, error) {
	return s.transition(ctx, tripID, domain.TripStatusCompleted, domain.RequestStatusCompleted, func(trip *domain.Trip) bool {
		return s.authz.IsDriverOf(caller, trip) || s.authz.IsManager(caller)
	})
}

// Cancel cancels an active trip and its riders' requests. Managers only.
func (s *TripService) Cancel(ctx context.Context, caller domain.Caller, tripID int64) (*domain.Trip, error) {
	return s.transition(ctx, tripID, domain.TripStatusCancelled, domain.RequestStatusCancelled, func(trip *domain.Trip) bool {
		return s.authz.IsManager(caller)
	})
}

// transition moves a trip to status `to` under a row lock. When cascade is
// set, the trip's live requests move to that status in the same transaction.
func (s *TripService) transition(
	ctx context.Context,
	tripID int64,
	to domain.TripStatus,
	cascade domain.RequestStatus,
	allowed func(trip *domain.Trip) bool,
) (*domain.Trip, error) {
	var updated *domain.Trip

	err := s.transactor.WithinTx(ctx, func(ctx context.Context, tx repository.Tx) error {
		trip, err := tx.Trips().GetByIDForUpdate(ctx, tripID)
		if err != nil {
			return err
		}

		if !allowed(trip) {
			return ErrForbidden
		}

		if !domain.CanTransition(trip.Status, to) {
			return ErrInvalidTransition
		}

		ok, err := tx.Trips().UpdateStatus(ctx, trip.ID, trip.Status, to)
		if err != nil {
			return err
		}
		if !ok {
			return ErrInvalidTransition
		}

		if cascade != "" {
			if _, err := tx.Requests().UpdateStatusByTrip(ctx, trip.ID, cascade); err != nil {
				return err
			}
		}

		trip.Status = to
		updated = trip
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.logger.InfoContext(ctx, "trip status changed", "trip_id", updated.ID, "status", updated.Status)

	return updated, nil
}

func recordOutcome(op string, err error) {
	outcome := "ok"
	if err != nil {
		outcome = ErrorReason(err)
	}
	observability.SchedulingOutcomes.WithLabelValues(op, outcome).Inc()
}

// IsConflict reports whether err is one of the scheduling conflicts and, if
// so, which trip blocks it.
func IsConflict(err error) (int64, bool) {
	var conflict *ConflictError
	if errors.As(err, &conflict) {
		return conflict.TripID, true
	}
	return 0, false
}
