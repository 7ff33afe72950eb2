package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/lib/pq"

	"carshare/internal/domain"
	"carshare/internal/repository"
)

// TripChargeRepository is a PostgreSQL implementation of repository.TripChargeRepository.
// Filings, dispute and resolution are stored as JSONB documents.
type TripChargeRepository struct {
	q Querier
}

// NewTripChargeRepository creates a new PostgreSQL trip charge repository.
func NewTripChargeRepository(db *sql.DB) *TripChargeRepository {
	return &TripChargeRepository{q: db}
}

// NewTripChargeRepositoryWithTx creates a trip charge repository using a transaction.
func NewTripChargeRepositoryWithTx(tx *sql.Tx) *TripChargeRepository {
	return &TripChargeRepository{q: tx}
}

// Create persists a new trip charge.
func (r *TripChargeRepository) Create(ctx context.Context, c *domain.TripCharge) error {
	query := `
		INSERT INTO trip_charges (
			id, booking_id, version, mileage, fuel, late, damage, cleaning, other,
			status, hold_until, filings, dispute, resolution, gateway_charge_id, failure_reason,
			created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18)
	`

	docs, err := encodeChargeDocs(c)
	if err != nil {
		return err
	}

	_, err = r.q.ExecContext(ctx, query,
		c.ID, c.BookingID, c.Version,
		c.Breakdown.Mileage, c.Breakdown.Fuel, c.Breakdown.Late, c.Breakdown.Damage, c.Breakdown.Cleaning, c.Breakdown.Other,
		c.Status, c.HoldUntil, docs.filings, docs.dispute, docs.resolution, c.GatewayChargeID, c.FailureReason,
		c.CreatedAt, c.UpdatedAt,
	)
	var pqErr *pq.Error
	if errors.As(err, &pqErr) && pqErr.Code == pqUniqueViolation {
		return repository.ErrDuplicate
	}
	return err
}

// GetByBookingID retrieves the trip charge of a booking.
func (r *TripChargeRepository) GetByBookingID(ctx context.Context, bookingID string) (*domain.TripCharge, error) {
	query := `
		SELECT id, booking_id, version, mileage, fuel, late, damage, cleaning, other,
			status, hold_until, filings, dispute, resolution, gateway_charge_id, failure_reason,
			created_at, updated_at
		FROM trip_charges
		WHERE booking_id = $1
	`

	var c domain.TripCharge
	var filings []byte
	var dispute, resolution []byte

	err := r.q.QueryRowContext(ctx, query, bookingID).Scan(
		&c.ID, &c.BookingID, &c.Version,
		&c.Breakdown.Mileage, &c.Breakdown.Fuel, &c.Breakdown.Late, &c.Breakdown.Damage, &c.Breakdown.Cleaning, &c.Breakdown.Other,
		&c.Status, &c.HoldUntil, &filings, &dispute, &resolution, &c.GatewayChargeID, &c.FailureReason,
		&c.CreatedAt, &c.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, repository.ErrNotFound
		}
		return nil, err
	}

	if len(filings) > 0 {
		if err := json.Unmarshal(filings, &c.Filings); err != nil {
			return nil, fmt.Errorf("decode filings: %w", err)
		}
	}
	if len(dispute) > 0 {
		c.Dispute = &domain.Dispute{}
		if err := json.Unmarshal(dispute, c.Dispute); err != nil {
			return nil, fmt.Errorf("decode dispute: %w", err)
		}
	}
	if len(resolution) > 0 {
		c.Resolution = &domain.Resolution{}
		if err := json.Unmarshal(resolution, c.Resolution); err != nil {
			return nil, fmt.Errorf("decode resolution: %w", err)
		}
	}

	return &c, nil
}

// Update writes the charge only if the stored version still equals expectedVersion.
func (r *TripChargeRepository) Update(ctx context.Context, c *domain.TripCharge, expectedVersion int) error {
	query := `
		UPDATE trip_charges SET
			version = version + 1,
			mileage = $1, fuel = $2, late = $3, damage = $4, cleaning = $5, other = $6,
			status = $7, hold_until = $8, filings = $9, dispute = $10, resolution = $11,
			gateway_charge_id = $12, failure_reason = $13, updated_at = $14
		WHERE id = $15 AND version = $16
	`

	docs, err := encodeChargeDocs(c)
	if err != nil {
		return err
	}

	result, err := r.q.ExecContext(ctx, query,
		c.Breakdown.Mileage, c.Breakdown.Fuel, c.Breakdown.Late, c.Breakdown.Damage, c.Breakdown.Cleaning, c.Breakdown.Other,
		c.Status, c.HoldUntil, docs.filings, docs.dispute, docs.resolution,
		c.GatewayChargeID, c.FailureReason, c.UpdatedAt,
		c.ID, expectedVersion,
	)
	if err != nil {
		return err
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return err
	}

	if rowsAffected == 0 {
		var exists bool
		if err := r.q.QueryRowContext(ctx, `SELECT EXISTS (SELECT 1 FROM trip_charges WHERE id = $1)`, c.ID).Scan(&exists); err != nil {
			return err
		}
		if !exists {
			return repository.ErrNotFound
		}
		return repository.ErrVersionConflict
	}

	c.Version = expectedVersion + 1
	return nil
}

// JSONB parameters are sent as text; lib/pq would encode a []byte as bytea.
type chargeDocs struct {
	filings    string
	dispute    sql.NullString
	resolution sql.NullString
}

func encodeChargeDocs(c *domain.TripCharge) (chargeDocs, error) {
	var docs chargeDocs

	filings := c.Filings
	if filings == nil {
		filings = []domain.ChargeFiling{}
	}
	raw, err := json.Marshal(filings)
	if err != nil {
		return docs, fmt.Errorf("encode filings: %w", err)
	}
	docs.filings = string(raw)

	if c.Dispute != nil {
		raw, err := json.Marshal(c.Dispute)
		if err != nil {
			return docs, fmt.Errorf("encode dispute: %w", err)
		}
		docs.dispute = sql.NullString{String: string(raw), Valid: true}
	}
	if c.Resolution != nil {
		raw, err := json.Marshal(c.Resolution)
		if err != nil {
			return docs, fmt.Errorf("encode resolution: %w", err)
		}
		docs.resolution = sql.NullString{String: string(raw), Valid: true}
	}
	return docs, nil
}

// Ensure TripChargeRepository implements repository.TripChargeRepository.
var _ repository.TripChargeRepository = (*TripChargeRepository)(nil)
