package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"carshare/internal/domain"
	"carshare/internal/gateway"
	"carshare/internal/logger"
	"carshare/internal/redis"
	"carshare/internal/repository"
)

// Deps bundles the collaborators shared by the lifecycle services.
type Deps struct {
	Store    repository.Store
	Gateway  gateway.Gateway
	Locker   redis.Locker // optional
	Notifier *NotificationService
	Clock    Clock
	Log      *logger.Logger
}

func (d Deps) withDefaults() Deps {
	if d.Clock == nil {
		d.Clock = SystemClock{}
	}
	if d.Log == nil {
		d.Log = logger.Nop()
	}
	return d
}

func (d Deps) load(ctx context.Context, id string) (*domain.Booking, error) {
	return d.Store.Bookings().GetByID(ctx, id)
}

// commit writes next over the version prev was read at, appends rec and runs
// extra in the same unit of work. A lost race surfaces as ErrStaleState.
func (d Deps) commit(ctx context.Context, prev, next *domain.Booking, rec *domain.AuditRecord, extra func(tx repository.Tx) error) error {
	next.UpdatedAt = rec.CreatedAt
	err := d.Store.WithinTx(ctx, func(tx repository.Tx) error {
		if err := tx.Bookings().Update(ctx, next, prev.Version); err != nil {
			return err
		}
		if extra != nil {
			if err := extra(tx); err != nil {
				return err
			}
		}
		return tx.Audit().Append(ctx, rec)
	})
	if err != nil {
		return staleOnConflict(err)
	}

	d.Log.InfoContext(ctx, "booking transition",
		"booking_id", next.ID,
		"action", rec.Action,
		"from", rec.FromStatus,
		"to", rec.ToStatus,
		"actor", string(rec.Actor.Type)+":"+rec.Actor.ID,
	)
	return nil
}

// record builds an audit record for a committed change.
func (d Deps) record(b *domain.Booking, actor domain.Actor, action, from, to, detail string) *domain.AuditRecord {
	return &domain.AuditRecord{
		ID:         uuid.New().String(),
		BookingID:  b.ID,
		Actor:      actor,
		Action:     action,
		FromStatus: from,
		ToStatus:   to,
		Detail:     detail,
		CreatedAt:  d.Clock.Now(),
	}
}

// auditFailure appends a failed attempt to the trail outside any transaction.
// The caller already has the error to return, so a write failure is only logged.
func (d Deps) auditFailure(ctx context.Context, bookingID string, actor domain.Actor, action string, cause error) {
	rec := &domain.AuditRecord{
		ID:        uuid.New().String(),
		BookingID: bookingID,
		Actor:     actor,
		Action:    action,
		Detail:    cause.Error(),
		ErrorKind: Kind(cause),
		CreatedAt: d.Clock.Now(),
	}
	if err := d.Store.Audit().Append(ctx, rec); err != nil {
		d.Log.ErrorContext(ctx, "audit append failed", "booking_id", bookingID, "action", action, "error", err)
	}
	d.Log.WarnContext(ctx, "booking action failed",
		"booking_id", bookingID, "action", action, "kind", rec.ErrorKind, "error", cause)
}

// withBookingLock serialises gateway-touching operations on one booking.
func (d Deps) withBookingLock(ctx context.Context, bookingID string, ttl time.Duration, fn func() error) error {
	if d.Locker == nil {
		return fn()
	}

	key := redis.BookingLockKey(bookingID)
	token, ok, err := d.Locker.Acquire(ctx, key, ttl)
	if err != nil {
		return fmt.Errorf("acquire booking lock: %w", err)
	}
	if !ok {
		return ErrLocked
	}
	defer func() {
		if err := d.Locker.Release(context.WithoutCancel(ctx), key, token); err != nil {
			d.Log.WarnContext(ctx, "booking lock release failed", "booking_id", bookingID, "error", err)
		}
	}()

	return fn()
}

// fail audits a failed action on an existing booking and returns err unchanged.
func (d Deps) fail(ctx context.Context, bookingID string, actor domain.Actor, action string, err error) error {
	if bookingID != "" && !errors.Is(err, repository.ErrNotFound) {
		d.auditFailure(ctx, bookingID, actor, action, err)
	}
	return err
}
