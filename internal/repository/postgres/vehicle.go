package postgres

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/lib/pq"

	"carshare/internal/domain"
	"carshare/internal/repository"
)

// VehicleRepository is a PostgreSQL implementation of repository.VehicleRepository.
type VehicleRepository struct {
	q Querier
}

// NewVehicleRepository creates a new PostgreSQL vehicle repository.
func NewVehicleRepository(db *sql.DB) *VehicleRepository {
	return &VehicleRepository{q: db}
}

// NewVehicleRepositoryWithTx creates a vehicle repository using a transaction.
func NewVehicleRepositoryWithTx(tx *sql.Tx) *VehicleRepository {
	return &VehicleRepository{q: tx}
}

// Create adds a new vehicle.
func (r *VehicleRepository) Create(ctx context.Context, v *domain.Vehicle) error {
	query := `
		INSERT INTO vehicles (id, host_id, host_name, fleet_id, name, address, lat, lng, instant_book, total_trips, last_trip_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
	`

	var lat, lng sql.NullFloat64
	if v.Location != nil {
		lat = sql.NullFloat64{Float64: v.Location.Lat, Valid: true}
		lng = sql.NullFloat64{Float64: v.Location.Lng, Valid: true}
	}

	_, err := r.q.ExecContext(ctx, query,
		v.ID, v.HostID, v.HostName, v.FleetID, v.Name, v.Address,
		lat, lng, v.InstantBook, v.TotalTrips, toNullTime(v.LastTripAt),
	)
	var pqErr *pq.Error
	if errors.As(err, &pqErr) && pqErr.Code == pqUniqueViolation {
		return repository.ErrDuplicate
	}
	return err
}

// GetByID retrieves a vehicle by ID.
func (r *VehicleRepository) GetByID(ctx context.Context, id string) (*domain.Vehicle, error) {
	query := `
		SELECT id, host_id, host_name, fleet_id, name, address, lat, lng, instant_book, total_trips, last_trip_at
		FROM vehicles
		WHERE id = $1
	`

	var v domain.Vehicle
	var lat, lng sql.NullFloat64
	var lastTripAt sql.NullTime

	err := r.q.QueryRowContext(ctx, query, id).Scan(
		&v.ID, &v.HostID, &v.HostName, &v.FleetID, &v.Name, &v.Address,
		&lat, &lng, &v.InstantBook, &v.TotalTrips, &lastTripAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, repository.ErrNotFound
		}
		return nil, err
	}

	if lat.Valid && lng.Valid {
		v.Location = &domain.GeoPoint{Lat: lat.Float64, Lng: lng.Float64}
	}
	v.LastTripAt = fromNullTime(lastTripAt)

	return &v, nil
}

// UpdateLocation caches geocoded coordinates on the vehicle record.
func (r *VehicleRepository) UpdateLocation(ctx context.Context, id string, point domain.GeoPoint) error {
	query := `UPDATE vehicles SET lat = $1, lng = $2 WHERE id = $3`
	return r.execOne(ctx, query, point.Lat, point.Lng, id)
}

// IncrementTrips bumps the vehicle trip counter.
func (r *VehicleRepository) IncrementTrips(ctx context.Context, id string, at time.Time) error {
	query := `UPDATE vehicles SET total_trips = total_trips + 1, last_trip_at = $1 WHERE id = $2`
	return r.execOne(ctx, query, at, id)
}

func (r *VehicleRepository) execOne(ctx context.Context, query string, args ...any) error {
	result, err := r.q.ExecContext(ctx, query, args...)
	if err != nil {
		return err
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return err
	}

	if rowsAffected == 0 {
		return repository.ErrNotFound
	}

	return nil
}

// Ensure VehicleRepository implements repository.VehicleRepository.
var _ repository.VehicleRepository = (*VehicleRepository)(nil)
