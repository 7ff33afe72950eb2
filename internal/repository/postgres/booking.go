package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/lib/pq"

	"carshare/internal/domain"
	"carshare/internal/repository"
)

const bookingColumns = `
	id, code, version, guest_id, guest_name, host_id, host_name, fleet_id, vehicle_id, vehicle_name,
	start_date, end_date, trip_started_at, trip_ended_at, created_at, updated_at,
	status, fleet_status, fleet_actor, fleet_note, fleet_decided_at,
	host_status, host_actor, host_note, host_decided_at,
	payment_status, handoff_status, total_amount, deposit_amount, pending_charges_amount,
	currency, payment_intent_id,
	hold_reason, hold_actor_type, hold_actor_id, hold_placed_at, hold_deadline,
	handoff_guest_lat, handoff_guest_lng, handoff_distance_m, handoff_verified_at,
	handoff_arrival_notified_at, handoff_auto_fallback_at, handoff_completed_at, handoff_completed_by,
	cancel_reason`

// pqUniqueViolation is the SQLSTATE for unique_violation.
const pqUniqueViolation = "23505"

// BookingRepository is a PostgreSQL implementation of repository.BookingRepository.
type BookingRepository struct {
	q Querier
}

// NewBookingRepository creates a new PostgreSQL booking repository.
func NewBookingRepository(db *sql.DB) *BookingRepository {
	return &BookingRepository{q: db}
}

// NewBookingRepositoryWithTx creates a booking repository using a transaction.
func NewBookingRepositoryWithTx(tx *sql.Tx) *BookingRepository {
	return &BookingRepository{q: tx}
}

// Create persists a new booking.
func (r *BookingRepository) Create(ctx context.Context, b *domain.Booking) error {
	query := `INSERT INTO bookings (` + bookingColumns + `) VALUES (
		$1, $2, $3, $4, $5, $6, $7, $8, $9, $10,
		$11, $12, $13, $14, $15, $16,
		$17, $18, $19, $20, $21,
		$22, $23, $24, $25,
		$26, $27, $28, $29, $30,
		$31, $32,
		$33, $34, $35, $36, $37,
		$38, $39, $40, $41,
		$42, $43, $44, $45,
		$46)`

	_, err := r.q.ExecContext(ctx, query, bookingArgs(b)...)
	var pqErr *pq.Error
	if errors.As(err, &pqErr) && pqErr.Code == pqUniqueViolation {
		return repository.ErrDuplicate
	}
	return err
}

// GetByID retrieves a booking by ID.
func (r *BookingRepository) GetByID(ctx context.Context, id string) (*domain.Booking, error) {
	query := `SELECT ` + bookingColumns + ` FROM bookings WHERE id = $1`
	return scanBooking(r.q.QueryRowContext(ctx, query, id))
}

// GetByCode retrieves a booking by its human-readable code.
func (r *BookingRepository) GetByCode(ctx context.Context, code string) (*domain.Booking, error) {
	query := `SELECT ` + bookingColumns + ` FROM bookings WHERE code = $1`
	return scanBooking(r.q.QueryRowContext(ctx, query, code))
}

// Update writes every mutable column guarded by the expected version.
func (r *BookingRepository) Update(ctx context.Context, b *domain.Booking, expectedVersion int) error {
	query := `
		UPDATE bookings SET
			version = version + 1,
			trip_started_at = $1, trip_ended_at = $2, updated_at = $3,
			status = $4, fleet_status = $5, fleet_actor = $6, fleet_note = $7, fleet_decided_at = $8,
			host_status = $9, host_actor = $10, host_note = $11, host_decided_at = $12,
			payment_status = $13, handoff_status = $14, pending_charges_amount = $15,
			hold_reason = $16, hold_actor_type = $17, hold_actor_id = $18, hold_placed_at = $19, hold_deadline = $20,
			handoff_guest_lat = $21, handoff_guest_lng = $22, handoff_distance_m = $23, handoff_verified_at = $24,
			handoff_arrival_notified_at = $25, handoff_auto_fallback_at = $26, handoff_completed_at = $27,
			handoff_completed_by = $28, cancel_reason = $29
		WHERE id = $30 AND version = $31
	`

	hold := holdColumns(b.Hold)
	result, err := r.q.ExecContext(ctx, query,
		toNullTime(b.TripStartedAt), toNullTime(b.TripEndedAt), b.UpdatedAt,
		b.Status, b.Fleet.Status, b.Fleet.Actor, b.Fleet.Note, toNullTime(b.Fleet.DecidedAt),
		b.Host.Status, b.Host.Actor, b.Host.Note, toNullTime(b.Host.DecidedAt),
		b.PaymentStatus, b.HandoffStatus, b.PendingChargesAmount,
		hold.reason, hold.actorType, hold.actorID, hold.placedAt, hold.deadline,
		b.Handoff.GuestLat, b.Handoff.GuestLng, b.Handoff.DistanceMeters, toNullTime(b.Handoff.VerifiedAt),
		toNullTime(b.Handoff.ArrivalNotifiedAt), toNullTime(b.Handoff.AutoFallbackAt), toNullTime(b.Handoff.CompletedAt),
		b.Handoff.CompletedBy, b.CancelReason,
		b.ID, expectedVersion,
	)
	if err != nil {
		return err
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return err
	}

	if rowsAffected == 0 {
		return r.missingOrConflict(ctx, b.ID)
	}

	b.Version = expectedVersion + 1
	return nil
}

// ListExpired returns non-terminal bookings past their end date, oldest first.
func (r *BookingRepository) ListExpired(ctx context.Context, now time.Time, codes []string, limit int) ([]*domain.Booking, error) {
	query := `SELECT ` + bookingColumns + ` FROM bookings
		WHERE end_date < $1 AND status = ANY($2)`
	args := []any{now, pq.Array(statusStrings(domain.NonTerminalBookingStatuses))}

	if len(codes) > 0 {
		query += ` AND code = ANY($3)`
		args = append(args, pq.Array(codes))
	}

	query += fmt.Sprintf(` ORDER BY end_date ASC LIMIT $%d`, len(args)+1)
	args = append(args, limit)

	return r.list(ctx, query, args...)
}

// ListFallbackDue returns confirmed bookings whose handoff fallback deadline has passed.
func (r *BookingRepository) ListFallbackDue(ctx context.Context, now time.Time, codes []string, limit int) ([]*domain.Booking, error) {
	query := `SELECT ` + bookingColumns + ` FROM bookings
		WHERE status = $1 AND handoff_status = $2 AND handoff_auto_fallback_at <= $3`
	args := []any{domain.BookingStatusConfirmed, domain.HandoffStatusGuestVerified, now}

	if len(codes) > 0 {
		query += ` AND code = ANY($4)`
		args = append(args, pq.Array(codes))
	}

	query += fmt.Sprintf(` ORDER BY handoff_auto_fallback_at ASC LIMIT $%d`, len(args)+1)
	args = append(args, limit)

	return r.list(ctx, query, args...)
}

func (r *BookingRepository) list(ctx context.Context, query string, args ...any) ([]*domain.Booking, error) {
	rows, err := r.q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var bookings []*domain.Booking
	for rows.Next() {
		b, err := scanBooking(rows)
		if err != nil {
			return nil, err
		}
		bookings = append(bookings, b)
	}

	return bookings, rows.Err()
}

func (r *BookingRepository) missingOrConflict(ctx context.Context, id string) error {
	var exists bool
	if err := r.q.QueryRowContext(ctx, `SELECT EXISTS (SELECT 1 FROM bookings WHERE id = $1)`, id).Scan(&exists); err != nil {
		return err
	}
	if !exists {
		return repository.ErrNotFound
	}
	return repository.ErrVersionConflict
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanBooking(row rowScanner) (*domain.Booking, error) {
	var b domain.Booking
	var tripStartedAt, tripEndedAt, fleetDecidedAt, hostDecidedAt sql.NullTime
	var holdReason, holdActorType, holdActorID sql.NullString
	var holdPlacedAt, holdDeadline sql.NullTime
	var verifiedAt, arrivalNotifiedAt, autoFallbackAt, completedAt sql.NullTime

	err := row.Scan(
		&b.ID, &b.Code, &b.Version, &b.GuestID, &b.GuestName, &b.HostID, &b.HostName, &b.FleetID, &b.VehicleID, &b.VehicleName,
		&b.StartDate, &b.EndDate, &tripStartedAt, &tripEndedAt, &b.CreatedAt, &b.UpdatedAt,
		&b.Status, &b.Fleet.Status, &b.Fleet.Actor, &b.Fleet.Note, &fleetDecidedAt,
		&b.Host.Status, &b.Host.Actor, &b.Host.Note, &hostDecidedAt,
		&b.PaymentStatus, &b.HandoffStatus, &b.TotalAmount, &b.DepositAmount, &b.PendingChargesAmount,
		&b.Currency, &b.PaymentIntentID,
		&holdReason, &holdActorType, &holdActorID, &holdPlacedAt, &holdDeadline,
		&b.Handoff.GuestLat, &b.Handoff.GuestLng, &b.Handoff.DistanceMeters, &verifiedAt,
		&arrivalNotifiedAt, &autoFallbackAt, &completedAt, &b.Handoff.CompletedBy,
		&b.CancelReason,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, repository.ErrNotFound
		}
		return nil, err
	}

	b.Fleet.Party = domain.PartyFleet
	b.Host.Party = domain.PartyHost
	b.TripStartedAt = fromNullTime(tripStartedAt)
	b.TripEndedAt = fromNullTime(tripEndedAt)
	b.Fleet.DecidedAt = fromNullTime(fleetDecidedAt)
	b.Host.DecidedAt = fromNullTime(hostDecidedAt)
	b.Handoff.VerifiedAt = fromNullTime(verifiedAt)
	b.Handoff.ArrivalNotifiedAt = fromNullTime(arrivalNotifiedAt)
	b.Handoff.AutoFallbackAt = fromNullTime(autoFallbackAt)
	b.Handoff.CompletedAt = fromNullTime(completedAt)

	if holdReason.Valid {
		b.Hold = &domain.HoldInfo{
			Reason: holdReason.String,
			Actor: domain.Actor{
				Type: domain.ActorType(holdActorType.String),
				ID:   holdActorID.String,
			},
			PlacedAt: holdPlacedAt.Time,
			Deadline: holdDeadline.Time,
		}
	}

	return &b, nil
}

type holdRow struct {
	reason, actorType, actorID sql.NullString
	placedAt, deadline         sql.NullTime
}

func holdColumns(h *domain.HoldInfo) holdRow {
	if h == nil {
		return holdRow{}
	}
	return holdRow{
		reason:    sql.NullString{String: h.Reason, Valid: true},
		actorType: sql.NullString{String: string(h.Actor.Type), Valid: true},
		actorID:   sql.NullString{String: h.Actor.ID, Valid: true},
		placedAt:  sql.NullTime{Time: h.PlacedAt, Valid: true},
		deadline:  sql.NullTime{Time: h.Deadline, Valid: !h.Deadline.IsZero()},
	}
}

func bookingArgs(b *domain.Booking) []any {
	hold := holdColumns(b.Hold)
	return []any{
		b.ID, b.Code, b.Version, b.GuestID, b.GuestName, b.HostID, b.HostName, b.FleetID, b.VehicleID, b.VehicleName,
		b.StartDate, b.EndDate, toNullTime(b.TripStartedAt), toNullTime(b.TripEndedAt), b.CreatedAt, b.UpdatedAt,
		b.Status, b.Fleet.Status, b.Fleet.Actor, b.Fleet.Note, toNullTime(b.Fleet.DecidedAt),
		b.Host.Status, b.Host.Actor, b.Host.Note, toNullTime(b.Host.DecidedAt),
		b.PaymentStatus, b.HandoffStatus, b.TotalAmount, b.DepositAmount, b.PendingChargesAmount,
		b.Currency, b.PaymentIntentID,
		hold.reason, hold.actorType, hold.actorID, hold.placedAt, hold.deadline,
		b.Handoff.GuestLat, b.Handoff.GuestLng, b.Handoff.DistanceMeters, toNullTime(b.Handoff.VerifiedAt),
		toNullTime(b.Handoff.ArrivalNotifiedAt), toNullTime(b.Handoff.AutoFallbackAt), toNullTime(b.Handoff.CompletedAt), b.Handoff.CompletedBy,
		b.CancelReason,
	}
}

func statusStrings(statuses []domain.BookingStatus) []string {
	out := make([]string, len(statuses))
	for i, s := range statuses {
		out[i] = string(s)
	}
	return out
}

// Ensure BookingRepository implements repository.BookingRepository.
var _ repository.BookingRepository = (*BookingRepository)(nil)
