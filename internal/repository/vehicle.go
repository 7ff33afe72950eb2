package repository

import (
	"context"
	"time"

	"carshare/internal/domain"
)

// VehicleRepository defines the persistence operations for vehicles.
type VehicleRepository interface {
	// Create adds a new vehicle.
	Create(ctx context.Context, vehicle *domain.Vehicle) error

	// GetByID retrieves a vehicle by ID.
	GetByID(ctx context.Context, id string) (*domain.Vehicle, error)

	// UpdateLocation caches geocoded coordinates on the vehicle record.
	UpdateLocation(ctx context.Context, id string, point domain.GeoPoint) error

	// IncrementTrips bumps the vehicle trip counter.
	IncrementTrips(ctx context.Context, id string, at time.Time) error
}
