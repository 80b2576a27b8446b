package repository

import (
	"context"

	"logistics/internal/domain"
)

// Tx exposes transaction-scoped repositories.
type Tx interface {
	Trips() TripRepository
	Requests() RequestRepository
	Vehicles() VehicleRepository

	// LockResources takes an exclusive lock on each key, in the order given,
	// held until the transaction ends. Concurrent transactions locking the
	// same key serialize.
	LockResources(ctx context.Context, keys ...domain.ResourceKey) error
}

// Transactor runs a function inside a single database transaction.
// The transaction commits if fn returns nil and rolls back otherwise.
type Transactor interface {
	WithinTx(ctx context.Context, fn func(ctx context.Context, tx Tx) error) error
}
