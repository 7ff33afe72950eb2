package repository

import (
	"context"

	"carshare/internal/domain"
)

// TripChargeRepository defines the persistence operations for trip charges.
type TripChargeRepository interface {
	// Create persists a new trip charge. Returns ErrDuplicate if the booking
	// already has one.
	Create(ctx context.Context, charge *domain.TripCharge) error

	// GetByBookingID retrieves the trip charge of a booking.
	GetByBookingID(ctx context.Context, bookingID string) (*domain.TripCharge, error)

	// Update writes the charge only if the stored version still equals
	// expectedVersion, and advances charge.Version on success.
	Update(ctx context.Context, charge *domain.TripCharge, expectedVersion int) error
}
