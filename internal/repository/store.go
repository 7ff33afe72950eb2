package repository

import "context"

// Tx groups the repositories of one unit of work.
type Tx interface {
	Bookings() BookingRepository
	Vehicles() VehicleRepository
	Charges() TripChargeRepository
	Audit() AuditRepository
}

// Store gives access to repositories outside a transaction and runs units of
// work atomically: either every write inside fn commits or none does.
type Store interface {
	Tx
	WithinTx(ctx context.Context, fn func(tx Tx) error) error
}
