package service_test

import (
	"context"
	"time"

	"logistics/internal/domain"
	"logistics/internal/logging"
	"logistics/internal/service"
	"logistics/internal/tests"
)

var (
	manager = domain.Caller{UserID: 1, Role: domain.RoleManager}
	base    = time.Date(2030, 3, 4, 0, 0, 0, 0, time.UTC)
)

func at(hour, minute int) time.Time {
	return base.Add(time.Duration(hour)*time.Hour + time.Duration(minute)*time.Minute)
}

func ptr[T any](v T) *T { return &v }

type tripFixture struct {
	store    *tests.MockStore
	notifier *tests.MockNotifier
	svc      *service.TripService
}

func newTripFixture() *tripFixture {
	store := tests.NewMockStore()
	notifier := tests.NewMockNotifier()
	svc := service.NewTripService(
		store.Trips(),
		store.Requests(),
		store.Vehicles(),
		store,
		service.NewRoleAuthorizer(store.Requests()),
		notifier,
		logging.Discard(),
	)
	return &tripFixture{store: store, notifier: notifier, svc: svc}
}

// approved adds an approved, unlinked request.
func (f *tripFixture) approved(id, userID int64, passengers int) {
	f.store.AddRequest(&domain.Request{
		ID:         id,
		UserID:     userID,
		Status:     domain.RequestStatusApproved,
		Passengers: passengers,
	})
}

func (f *tripFixture) assign(requestID, vehicleID, driverID int64, depart time.Time, ret *time.Time) (*domain.Trip, error) {
	return f.svc.Assign(context.Background(), service.AssignRequest{
		Caller:    manager,
		RequestID: requestID,
		VehicleID: vehicleID,
		DriverID:  driverID,
		DepartAt:  &depart,
		ReturnAt:  ret,
	})
}
