package postgres

import (
	"context"
	"database/sql"
	"time"

	"carshare/internal/repository"
)

// Querier is an interface satisfied by both *sql.DB and *sql.Tx.
type Querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
}

// Ensure interfaces are satisfied.
var (
	_ Querier = (*sql.DB)(nil)
	_ Querier = (*sql.Tx)(nil)
)

// scope bundles repositories that share one Querier.
type scope struct {
	bookings *BookingRepository
	vehicles *VehicleRepository
	charges  *TripChargeRepository
	audit    *AuditRepository
}

func newScope(q Querier) *scope {
	return &scope{
		bookings: &BookingRepository{q: q},
		vehicles: &VehicleRepository{q: q},
		charges:  &TripChargeRepository{q: q},
		audit:    &AuditRepository{q: q},
	}
}

func (s *scope) Bookings() repository.BookingRepository { return s.bookings }
func (s *scope) Vehicles() repository.VehicleRepository { return s.vehicles }
func (s *scope) Charges() repository.TripChargeRepository { return s.charges }
func (s *scope) Audit() repository.AuditRepository { return s.audit }

// Store is a PostgreSQL implementation of repository.Store.
type Store struct {
	*scope
	db *sql.DB
}

// NewStore creates a new PostgreSQL store.
func NewStore(db *sql.DB) *Store {
	return &Store{scope: newScope(db), db: db}
}

// WithinTx runs fn inside a database transaction with transaction-scoped repositories.
func (s *Store) WithinTx(ctx context.Context, fn func(tx repository.Tx) error) (err error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}

	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	if err = fn(newScope(tx)); err != nil {
		return err
	}

	return tx.Commit()
}

// Ensure Store implements repository.Store.
var _ repository.Store = (*Store)(nil)

func toNullTime(t *time.Time) sql.NullTime {
	if t == nil {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: *t, Valid: true}
}

func fromNullTime(t sql.NullTime) *time.Time {
	if !t.Valid {
		return nil
	}
	v := t.Time
	return &v
}
