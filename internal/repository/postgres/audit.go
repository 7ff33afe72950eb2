package postgres

import (
	"context"
	"database/sql"

	"carshare/internal/domain"
	"carshare/internal/repository"
)

// AuditRepository is a PostgreSQL implementation of repository.AuditRepository.
type AuditRepository struct {
	q Querier
}

// NewAuditRepository creates a new PostgreSQL audit repository.
func NewAuditRepository(db *sql.DB) *AuditRepository {
	return &AuditRepository{q: db}
}

// NewAuditRepositoryWithTx creates an audit repository using a transaction.
func NewAuditRepositoryWithTx(tx *sql.Tx) *AuditRepository {
	return &AuditRepository{q: tx}
}

// Append adds a record to the trail.
func (r *AuditRepository) Append(ctx context.Context, rec *domain.AuditRecord) error {
	query := `
		INSERT INTO booking_audit (id, booking_id, actor_type, actor_id, action, from_status, to_status, detail, error_kind, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
	`

	_, err := r.q.ExecContext(ctx, query,
		rec.ID, rec.BookingID, rec.Actor.Type, rec.Actor.ID, rec.Action,
		rec.FromStatus, rec.ToStatus, rec.Detail, rec.ErrorKind, rec.CreatedAt,
	)
	return err
}

// ListByBooking returns the trail of a booking, oldest first.
func (r *AuditRepository) ListByBooking(ctx context.Context, bookingID string) ([]*domain.AuditRecord, error) {
	query := `
		SELECT id, booking_id, actor_type, actor_id, action, from_status, to_status, detail, error_kind, created_at
		FROM booking_audit
		WHERE booking_id = $1
		ORDER BY created_at ASC, id ASC
	`

	rows, err := r.q.QueryContext(ctx, query, bookingID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var records []*domain.AuditRecord
	for rows.Next() {
		var rec domain.AuditRecord
		if err := rows.Scan(
			&rec.ID, &rec.BookingID, &rec.Actor.Type, &rec.Actor.ID, &rec.Action,
			&rec.FromStatus, &rec.ToStatus, &rec.Detail, &rec.ErrorKind, &rec.CreatedAt,
		); err != nil {
			return nil, err
		}
		records = append(records, &rec)
	}

	return records, rows.Err()
}

// Ensure AuditRepository implements repository.AuditRepository.
var _ repository.AuditRepository = (*AuditRepository)(nil)
