package repository

import (
	"context"
	"time"

	"carshare/internal/domain"
)

// BookingRepository defines the persistence operations for bookings.
type BookingRepository interface {
	// Create persists a new booking.
	Create(ctx context.Context, booking *domain.Booking) error

	// GetByID retrieves a booking by ID.
	GetByID(ctx context.Context, id string) (*domain.Booking, error)

	// GetByCode retrieves a booking by its human-readable code.
	GetByCode(ctx context.Context, code string) (*domain.Booking, error)

	// Update writes the booking only if the stored version still equals
	// expectedVersion, and advances booking.Version on success.
	// Returns ErrVersionConflict when another writer got there first.
	Update(ctx context.Context, booking *domain.Booking, expectedVersion int) error

	// ListExpired returns non-terminal bookings whose end date is before now,
	// oldest first. A non-empty codes slice restricts the result to those codes.
	ListExpired(ctx context.Context, now time.Time, codes []string, limit int) ([]*domain.Booking, error)

	// ListFallbackDue returns confirmed bookings whose handoff auto-fallback
	// deadline has passed, earliest first. Codes filter as in ListExpired.
	ListFallbackDue(ctx context.Context, now time.Time, codes []string, limit int) ([]*domain.Booking, error)
}
