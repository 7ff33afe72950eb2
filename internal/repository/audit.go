package repository

import (
	"context"

	"carshare/internal/domain"
)

// AuditRepository appends to and reads the immutable lifecycle audit trail.
type AuditRepository interface {
	// Append adds a record. Records are never updated or deleted.
	Append(ctx context.Context, record *domain.AuditRecord) error

	// ListByBooking returns the trail of a booking, oldest first.
	ListByBooking(ctx context.Context, bookingID string) ([]*domain.AuditRecord, error)
}
