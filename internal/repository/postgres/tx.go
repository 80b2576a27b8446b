package postgres

import (
	"context"
	"database/sql"
	"fmt"

	"logistics/internal/domain"
	"logistics/internal/repository"
)

// Transactor runs work inside a PostgreSQL transaction.
type Transactor struct {
	db *sql.DB
}

// NewTransactor creates a new Transactor.
func NewTransactor(db *sql.DB) *Transactor {
	return &Transactor{db: db}
}

// WithinTx begins a transaction, hands fn transaction-scoped repositories and
// commits if fn succeeds.
func (t *Transactor) WithinTx(ctx context.Context, fn func(ctx context.Context, tx repository.Tx) error) (err error) {
	sqlTx, err := t.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}

	defer func() {
		if err != nil {
			_ = sqlTx.Rollback()
		}
	}()

	if err = fn(ctx, &txScope{tx: sqlTx}); err != nil {
		return err
	}

	return sqlTx.Commit()
}

type txScope struct {
	tx *sql.Tx
}

func (s *txScope) Trips() repository.TripRepository {
	return NewTripRepositoryWithTx(s.tx)
}

func (s *txScope) Requests() repository.RequestRepository {
	return NewRequestRepositoryWithTx(s.tx)
}

func (s *txScope) Vehicles() repository.VehicleRepository {
	return NewVehicleRepositoryWithTx(s.tx)
}

// LockResources takes transaction-scoped advisory locks. They are released
// automatically at commit or rollback.
func (s *txScope) LockResources(ctx context.Context, keys ...domain.ResourceKey) error {
	for _, key := range keys {
		if _, err := s.tx.ExecContext(ctx, `SELECT pg_advisory_xact_lock(hashtext($1))`, key.String()); err != nil {
			return fmt.Errorf("lock %s: %w", key, err)
		}
	}
	return nil
}

// Ensure Transactor implements repository.Transactor.
var _ repository.Transactor = (*Transactor)(nil)
