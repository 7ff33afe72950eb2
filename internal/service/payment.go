package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"carshare/internal/domain"
	"carshare/internal/gateway"
	"carshare/internal/repository"
)

// PaymentService controls the authorization hold of a booking: capture once,
// void on cancellation.
type PaymentService struct {
	Deps
	lockTTL time.Duration
}

// NewPaymentService creates a new PaymentService.
func NewPaymentService(deps Deps, lockTTL time.Duration) *PaymentService {
	if lockTTL <= 0 {
		lockTTL = 30 * time.Second
	}
	return &PaymentService{Deps: deps.withDefaults(), lockTTL: lockTTL}
}

// Capture converts the hold into a payment. It requires both approvals and an
// AUTHORIZED payment. A gateway refusal returns ErrCaptureFailed and leaves the
// booking untouched; the operator retries explicitly. Capturing a booking that
// is already paid returns it unchanged.
func (s *PaymentService) Capture(ctx context.Context, actor domain.Actor, bookingID string) (*domain.Booking, error) {
	var out, failed *domain.Booking
	var captured bool

	err := s.withBookingLock(ctx, bookingID, s.lockTTL, func() error {
		b, err := s.load(ctx, bookingID)
		if err != nil {
			return err
		}
		if err := requireActor(actor, b, domain.ActorHost); err != nil {
			return err
		}
		if b.PaymentStatus == domain.PaymentStatusPaid {
			out = b
			return nil
		}
		if err := guardManual(b, s.Clock.Now()); err != nil {
			return err
		}
		if !b.BothApproved() {
			return illegal("capture requires fleet and host approval")
		}
		if b.PaymentStatus != domain.PaymentStatusAuthorized {
			return illegal("payment is %s", b.PaymentStatus)
		}
		if b.Status != domain.BookingStatusPending && b.Status != domain.BookingStatusConfirmed {
			return illegal("cannot capture a %s booking", b.Status)
		}

		if err := s.Gateway.Capture(ctx, b.PaymentIntentID); err != nil {
			failed = b
			return fmt.Errorf("%w: %w", ErrCaptureFailed, err)
		}

		next := b.Clone()
		next.PaymentStatus = domain.PaymentStatusPaid
		if next.Status == domain.BookingStatusPending {
			next.Status = domain.BookingStatusConfirmed
		}

		rec := s.record(b, actor, "capture", string(b.Status), string(next.Status),
			fmt.Sprintf("captured %d %s", b.TotalAmount, b.Currency))
		err = s.commit(ctx, b, next, rec, func(tx repository.Tx) error {
			return tx.Vehicles().IncrementTrips(ctx, b.VehicleID, rec.CreatedAt)
		})
		if err != nil {
			// The gateway treats a repeated capture as success, so a retry reconciles.
			s.Log.ErrorContext(ctx, "payment captured but not recorded",
				"booking_id", b.ID, "payment_intent_id", b.PaymentIntentID, "error", err)
			return err
		}

		out, captured = next, true
		return nil
	})
	if err != nil {
		if failed != nil {
			s.Notifier.Notify(ctx, domain.EventCaptureFailed, failed, notice{reason: err.Error()})
		}
		return nil, s.fail(ctx, bookingID, actor, "capture", err)
	}

	if captured {
		s.Notifier.Notify(ctx, domain.EventBookingConfirmed, out, notice{})
	}
	return out, nil
}

// Void releases the authorization hold of b at the gateway. It is a no-op
// unless the payment is still AUTHORIZED, and reports whether a hold was released.
// Callers persist the VOIDED status together with the cancellation.
func (s *PaymentService) Void(ctx context.Context, b *domain.Booking) (bool, error) {
	if b.PaymentStatus != domain.PaymentStatusAuthorized || b.PaymentIntentID == "" {
		return false, nil
	}

	if err := s.Gateway.Void(ctx, b.PaymentIntentID); err != nil {
		if errors.Is(err, gateway.ErrUnknownIntent) {
			s.Log.WarnContext(ctx, "void of unknown payment intent treated as released",
				"booking_id", b.ID, "payment_intent_id", b.PaymentIntentID)
			return true, nil
		}
		return false, fmt.Errorf("%w: void: %w", ErrPaymentFailed, err)
	}
	return true, nil
}

// cancelWithVoid is the single path to CANCELLED: under the booking lock it
// re-reads the booking, runs check, voids the hold and commits the cancellation.
func (s *PaymentService) cancelWithVoid(ctx context.Context, actor domain.Actor, bookingID, action, reason string,
	check func(b *domain.Booking) error, mutate func(next *domain.Booking),
) (*domain.Booking, error) {
	var out *domain.Booking

	err := s.withBookingLock(ctx, bookingID, s.lockTTL, func() error {
		b, err := s.load(ctx, bookingID)
		if err != nil {
			return err
		}
		if err := check(b); err != nil {
			return err
		}
		if err := checkTransition(b, domain.BookingStatusCancelled); err != nil {
			return err
		}

		voided, err := s.Void(ctx, b)
		if err != nil {
			return err
		}

		next := b.Clone()
		next.Status = domain.BookingStatusCancelled
		next.Hold = nil
		next.CancelReason = reason
		if voided {
			next.PaymentStatus = domain.PaymentStatusVoided
		}
		if mutate != nil {
			mutate(next)
		}

		rec := s.record(b, actor, action, string(b.Status), string(next.Status), reason)
		if err := s.commit(ctx, b, next, rec, nil); err != nil {
			return err
		}
		out = next
		return nil
	})
	if err != nil {
		return nil, s.fail(ctx, bookingID, actor, action, err)
	}
	return out, nil
}
