package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"carshare/internal/domain"
	"carshare/internal/gateway"
	"carshare/internal/repository"
)

// TripChargeService handles post-trip additional charges: additive filings,
// the dispute hold, and operator settlement.
type TripChargeService struct {
	Deps
	disputeWindow time.Duration
	lockTTL       time.Duration
}

// NewTripChargeService creates a new TripChargeService.
func NewTripChargeService(deps Deps, disputeWindow, lockTTL time.Duration) *TripChargeService {
	if disputeWindow <= 0 {
		disputeWindow = 48 * time.Hour
	}
	if lockTTL <= 0 {
		lockTTL = 30 * time.Second
	}
	return &TripChargeService{Deps: deps.withDefaults(), disputeWindow: disputeWindow, lockTTL: lockTTL}
}

// FileChargesRequest is a batch of host-filed line items.
type FileChargesRequest struct {
	Items []domain.ChargeLineItem `json:"items" validate:"required,min=1,max=50,dive"`
}

// DisputeRequest is the guest's challenge of filed charges.
type DisputeRequest struct {
	Reason string `json:"reason" validate:"required,max=1000"`
}

// ResolveDisputeRequest is the operator's decision on an open dispute.
type ResolveDisputeRequest struct {
	Outcome    domain.DisputeOutcome `json:"outcome" validate:"required,oneof=UPHELD WAIVED"`
	Resolution domain.Resolution     `json:"resolution"`
}

// GetCharges returns the trip charge of a booking.
func (s *TripChargeService) GetCharges(ctx context.Context, bookingID string) (*domain.TripCharge, error) {
	return s.Store.Charges().GetByBookingID(ctx, bookingID)
}

// FileCharges adds line items to the booking's trip charge, creating it on the
// first filing. Every filing restarts the dispute window.
func (s *TripChargeService) FileCharges(ctx context.Context, actor domain.Actor, bookingID string, req FileChargesRequest) (*domain.TripCharge, error) {
	if err := validateStruct(req); err != nil {
		return nil, err
	}

	var next *domain.TripCharge
	var nextB *domain.Booking
	var subtotal int64

	err := s.locked(ctx, bookingID, actor, "charges_file", func() error {
		b, err := s.load(ctx, bookingID)
		if err != nil {
			return err
		}
		if err := requireActor(actor, b, domain.ActorHost); err != nil {
			return err
		}
		if b.Status != domain.BookingStatusCompleted {
			return s.fail(ctx, bookingID, actor, "charges_file", illegal("charges require a completed trip, booking is %s", b.Status))
		}
		if b.PaymentStatus != domain.PaymentStatusPaid && b.PaymentStatus != domain.PaymentStatusPendingCharges {
			return s.fail(ctx, bookingID, actor, "charges_file", illegal("cannot file charges with payment %s", b.PaymentStatus))
		}

		now := s.Clock.Now()
		prev, err := s.Store.Charges().GetByBookingID(ctx, bookingID)
		if err != nil && !errors.Is(err, repository.ErrNotFound) {
			return err
		}

		if prev == nil {
			next = &domain.TripCharge{
				ID:        uuid.New().String(),
				BookingID: b.ID,
				Status:    domain.ChargeStatusPending,
				CreatedAt: now,
			}
		} else {
			switch prev.Status {
			case domain.ChargeStatusPending, domain.ChargeStatusUnderReview, domain.ChargeStatusFailed:
			default:
				return s.fail(ctx, bookingID, actor, "charges_file", illegal("charge is %s", prev.Status))
			}
			next = prev.Clone()
		}

		filing := domain.ChargeFiling{Items: req.Items, FiledBy: actor.ID, FiledAt: now}
		for _, item := range req.Items {
			next.Breakdown.Add(item.Type, item.AmountCents)
			filing.Subtotal += item.AmountCents
		}
		subtotal = filing.Subtotal
		next.Filings = append(next.Filings, filing)
		next.HoldUntil = now.Add(s.disputeWindow)
		next.Status = domain.ChargeStatusUnderReview
		next.FailureReason = ""
		next.UpdatedAt = now

		nextB = b.Clone()
		nextB.PaymentStatus = domain.PaymentStatusPendingCharges
		nextB.PendingChargesAmount = next.Total()

		rec := s.record(b, actor, "charges_file", string(prevStatus(prev)), string(next.Status),
			fmt.Sprintf("filed %d item(s) for %d, total %d", len(req.Items), subtotal, next.Total()))
		if err := s.save(ctx, b, nextB, prev, next, rec); err != nil {
			return s.fail(ctx, bookingID, actor, "charges_file", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.Notifier.Notify(ctx, domain.EventChargesFiled, nextB, notice{
		amount: next.Total(),
		data: map[string]string{
			"subtotal":   fmt.Sprint(subtotal),
			"hold_until": next.HoldUntil.Format(time.RFC3339),
		},
	})
	return next, nil
}

// OpenDispute lets the guest challenge charges before the hold elapses.
func (s *TripChargeService) OpenDispute(ctx context.Context, actor domain.Actor, bookingID string, req DisputeRequest) (*domain.TripCharge, error) {
	if err := validateStruct(req); err != nil {
		return nil, err
	}

	var b *domain.Booking
	var next *domain.TripCharge

	err := s.locked(ctx, bookingID, actor, "charges_dispute", func() error {
		var prev *domain.TripCharge
		var err error
		b, prev, err = s.loadCharge(ctx, bookingID)
		if err != nil {
			return err
		}
		if err := requireActor(actor, b, domain.ActorGuest); err != nil {
			return err
		}

		now := s.Clock.Now()
		if prev.Status != domain.ChargeStatusUnderReview {
			return s.fail(ctx, bookingID, actor, "charges_dispute", illegal("cannot dispute a %s charge", prev.Status))
		}
		if !now.Before(prev.HoldUntil) {
			return s.fail(ctx, bookingID, actor, "charges_dispute", illegal("dispute window closed at %s", prev.HoldUntil.Format(time.RFC3339)))
		}

		next = prev.Clone()
		next.Status = domain.ChargeStatusDisputed
		next.Dispute = &domain.Dispute{Reason: req.Reason, OpenedBy: actor.ID, OpenedAt: now}
		next.UpdatedAt = now

		rec := s.record(b, actor, "charges_dispute", string(prev.Status), string(next.Status), req.Reason)
		if err := s.save(ctx, b, nil, prev, next, rec); err != nil {
			return s.fail(ctx, bookingID, actor, "charges_dispute", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.Notifier.Notify(ctx, domain.EventChargeDisputed, b, notice{reason: req.Reason, amount: next.Total()})
	return next, nil
}

// ResolveDispute closes an open dispute. Upholding returns the charge to
// review; waiving settles it without charging the guest.
func (s *TripChargeService) ResolveDispute(ctx context.Context, actor domain.Actor, bookingID string, req ResolveDisputeRequest) (*domain.TripCharge, error) {
	if err := validateStruct(req); err != nil {
		return nil, err
	}
	if req.Outcome == domain.DisputeWaived {
		if err := validateStruct(req.Resolution); err != nil {
			return nil, err
		}
	}
	if err := requireOperator(actor); err != nil {
		return nil, err
	}

	var next *domain.TripCharge
	var waivedB *domain.Booking

	err := s.locked(ctx, bookingID, actor, "charges_resolve", func() error {
		b, prev, err := s.loadCharge(ctx, bookingID)
		if err != nil {
			return err
		}
		if prev.Status != domain.ChargeStatusDisputed || !prev.Dispute.Open() {
			return s.fail(ctx, bookingID, actor, "charges_resolve", illegal("no open dispute, charge is %s", prev.Status))
		}

		if req.Outcome == domain.DisputeWaived {
			next, waivedB, err = s.waive(ctx, actor, b, prev, req.Resolution, "charges_resolve")
			return err
		}

		now := s.Clock.Now()
		next = prev.Clone()
		next.Status = domain.ChargeStatusUnderReview
		next.Dispute.ResolvedAt = &now
		next.Dispute.ResolvedBy = actor.ID
		next.Dispute.Outcome = domain.DisputeUpheld
		next.Resolution = s.resolution(actor, req.Resolution)
		next.UpdatedAt = now

		rec := s.record(b, actor, "charges_resolve", string(prev.Status), string(next.Status), resolutionDetail(req.Resolution))
		if err := s.save(ctx, b, nil, prev, next, rec); err != nil {
			return s.fail(ctx, bookingID, actor, "charges_resolve", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	if waivedB != nil {
		s.Notifier.Notify(ctx, domain.EventChargesWaived, waivedB, notice{reason: req.Resolution.Code, amount: next.Total()})
	}
	return next, nil
}

// CaptureCharges charges the guest once the hold has elapsed with no open
// dispute. A gateway refusal stores FAILED and returns ErrCaptureFailed; the
// operator may retry or waive.
func (s *TripChargeService) CaptureCharges(ctx context.Context, actor domain.Actor, bookingID string) (*domain.TripCharge, error) {
	if err := requireOperator(actor); err != nil {
		return nil, err
	}

	var out *domain.TripCharge
	var b *domain.Booking
	var chargeErr error

	err := s.withBookingLock(ctx, bookingID, s.lockTTL, func() error {
		var prev *domain.TripCharge
		var err error
		b, prev, err = s.loadCharge(ctx, bookingID)
		if err != nil {
			return err
		}

		now := s.Clock.Now()
		if prev.Status != domain.ChargeStatusUnderReview && prev.Status != domain.ChargeStatusFailed {
			return illegal("cannot capture a %s charge", prev.Status)
		}
		if prev.Dispute.Open() {
			return illegal("charge has an open dispute")
		}
		if now.Before(prev.HoldUntil) {
			return illegal("charge is on hold until %s", prev.HoldUntil.Format(time.RFC3339))
		}

		// One key per charge version: a retry of the same state reuses the
		// gateway charge, any later change gets a fresh one.
		chargeID, gwErr := s.Gateway.Charge(ctx, gateway.ChargeRequest{
			IdempotencyKey: fmt.Sprintf("charges:%s:v%d", prev.ID, prev.Version),
			CustomerID:     b.GuestID,
			AmountCents:    prev.Total(),
			Currency:       b.Currency,
			Description:    "Trip charges for booking " + b.Code,
		})

		next := prev.Clone()
		next.UpdatedAt = now
		var nextB *domain.Booking
		var rec *domain.AuditRecord
		if gwErr != nil {
			chargeErr = fmt.Errorf("%w: %w", ErrCaptureFailed, gwErr)
			next.Status = domain.ChargeStatusFailed
			next.FailureReason = gwErr.Error()
			rec = s.record(b, actor, "charges_capture", string(prev.Status), string(next.Status), gwErr.Error())
			rec.ErrorKind = Kind(chargeErr)
		} else {
			next.Status = domain.ChargeStatusCharged
			next.GatewayChargeID = chargeID
			next.FailureReason = ""
			nextB = b.Clone()
			nextB.PaymentStatus = domain.PaymentStatusChargesPaid
			nextB.PendingChargesAmount = 0
			rec = s.record(b, actor, "charges_capture", string(prev.Status), string(next.Status),
				fmt.Sprintf("charged %d %s", next.Total(), b.Currency))
		}

		if err := s.save(ctx, b, nextB, prev, next, rec); err != nil {
			if gwErr == nil {
				s.unwindCharge(ctx, b.ID, chargeID, prev.Total(), err)
			}
			return err
		}
		if nextB != nil {
			b = nextB
		}
		out = next
		return chargeErr
	})
	if err != nil {
		if chargeErr != nil && out != nil {
			s.Log.WarnContext(ctx, "trip charge capture failed", "booking_id", bookingID, "error", err)
			s.Notifier.Notify(ctx, domain.EventCaptureFailed, b, notice{reason: err.Error(), amount: out.Total()})
			return out, err
		}
		return nil, s.fail(ctx, bookingID, actor, "charges_capture", err)
	}

	s.Notifier.Notify(ctx, domain.EventChargesCaptured, b, notice{amount: out.Total()})
	return out, nil
}

// unwindCharge handles a gateway charge whose result could not be recorded.
// When the charge changed underneath, the collected amount no longer matches
// any stored state, so it is refunded and the next capture charges the new
// total. Other failures keep the charge: a retry of the same version gets it
// back from the gateway under the same key.
func (s *TripChargeService) unwindCharge(ctx context.Context, bookingID, chargeID string, amount int64, cause error) {
	if !errors.Is(cause, ErrStaleState) {
		s.Log.ErrorContext(ctx, "trip charges collected but not recorded",
			"booking_id", bookingID, "gateway_charge_id", chargeID, "error", cause)
		return
	}
	if _, err := s.Gateway.Refund(context.WithoutCancel(ctx), chargeID, amount); err != nil {
		s.Log.ErrorContext(ctx, "stale trip charge could not be refunded",
			"booking_id", bookingID, "gateway_charge_id", chargeID, "amount", amount, "error", err)
		return
	}
	s.Log.WarnContext(ctx, "stale trip charge refunded",
		"booking_id", bookingID, "gateway_charge_id", chargeID, "amount", amount)
}

// WaiveCharges settles the charge without collecting it.
func (s *TripChargeService) WaiveCharges(ctx context.Context, actor domain.Actor, bookingID string, reason domain.Resolution) (*domain.TripCharge, error) {
	if err := validateStruct(reason); err != nil {
		return nil, err
	}
	if err := requireOperator(actor); err != nil {
		return nil, err
	}

	var next *domain.TripCharge
	var nextB *domain.Booking

	err := s.locked(ctx, bookingID, actor, "charges_waive", func() error {
		b, prev, err := s.loadCharge(ctx, bookingID)
		if err != nil {
			return err
		}
		switch prev.Status {
		case domain.ChargeStatusUnderReview, domain.ChargeStatusDisputed, domain.ChargeStatusFailed:
		default:
			return s.fail(ctx, bookingID, actor, "charges_waive", illegal("cannot waive a %s charge", prev.Status))
		}
		next, nextB, err = s.waive(ctx, actor, b, prev, reason, "charges_waive")
		return err
	})
	if err != nil {
		return nil, err
	}

	s.Notifier.Notify(ctx, domain.EventChargesWaived, nextB, notice{reason: reason.Code, amount: next.Total()})
	return next, nil
}

// waive must run under the booking lock.
func (s *TripChargeService) waive(ctx context.Context, actor domain.Actor, b *domain.Booking, prev *domain.TripCharge,
	reason domain.Resolution, action string,
) (*domain.TripCharge, *domain.Booking, error) {
	now := s.Clock.Now()
	next := prev.Clone()
	next.Status = domain.ChargeStatusWaived
	next.Resolution = s.resolution(actor, reason)
	next.UpdatedAt = now
	if next.Dispute.Open() {
		next.Dispute.ResolvedAt = &now
		next.Dispute.ResolvedBy = actor.ID
		next.Dispute.Outcome = domain.DisputeWaived
	}

	nextB := b.Clone()
	nextB.PaymentStatus = domain.PaymentStatusChargesWaived
	nextB.PendingChargesAmount = 0

	rec := s.record(b, actor, action, string(prev.Status), string(next.Status), resolutionDetail(reason))
	if err := s.save(ctx, b, nextB, prev, next, rec); err != nil {
		return nil, nil, s.fail(ctx, b.ID, actor, action, err)
	}
	return next, nextB, nil
}

// RefundCharges returns collected charges to the guest. Disputes raised after
// collection are settled through this path.
func (s *TripChargeService) RefundCharges(ctx context.Context, actor domain.Actor, bookingID string, reason domain.Resolution) (*domain.TripCharge, error) {
	if err := validateStruct(reason); err != nil {
		return nil, err
	}
	if err := requireOperator(actor); err != nil {
		return nil, err
	}

	var out *domain.TripCharge
	var nextB *domain.Booking

	err := s.withBookingLock(ctx, bookingID, s.lockTTL, func() error {
		b, prev, err := s.loadCharge(ctx, bookingID)
		if err != nil {
			return err
		}
		if prev.Status != domain.ChargeStatusCharged {
			return illegal("cannot refund a %s charge", prev.Status)
		}

		refundID, err := s.Gateway.Refund(ctx, prev.GatewayChargeID, prev.Total())
		if err != nil {
			return fmt.Errorf("%w: refund: %w", ErrPaymentFailed, err)
		}

		next := prev.Clone()
		next.Status = domain.ChargeStatusRefunded
		next.Resolution = s.resolution(actor, reason)
		next.UpdatedAt = s.Clock.Now()

		nextB = b.Clone()
		nextB.PaymentStatus = domain.PaymentStatusRefunded

		rec := s.record(b, actor, "charges_refund", string(prev.Status), string(next.Status),
			fmt.Sprintf("refund %s: %s", refundID, resolutionDetail(reason)))
		if err := s.save(ctx, b, nextB, prev, next, rec); err != nil {
			return err
		}
		out = next
		return nil
	})
	if err != nil {
		return nil, s.fail(ctx, bookingID, actor, "charges_refund", err)
	}

	s.Notifier.Notify(ctx, domain.EventChargesRefunded, nextB, notice{reason: reason.Code, amount: out.Total()})
	return out, nil
}

// locked runs fn under the booking lock. fn audits its own failures; a lock
// that cannot be taken is audited here.
func (s *TripChargeService) locked(ctx context.Context, bookingID string, actor domain.Actor, action string, fn func() error) error {
	ran := false
	err := s.withBookingLock(ctx, bookingID, s.lockTTL, func() error {
		ran = true
		return fn()
	})
	if err != nil && !ran {
		return s.fail(ctx, bookingID, actor, action, err)
	}
	return err
}

func (s *TripChargeService) loadCharge(ctx context.Context, bookingID string) (*domain.Booking, *domain.TripCharge, error) {
	b, err := s.load(ctx, bookingID)
	if err != nil {
		return nil, nil, err
	}
	c, err := s.Store.Charges().GetByBookingID(ctx, bookingID)
	if err != nil {
		return nil, nil, err
	}
	return b, c, nil
}

// save writes the charge, and the booking when nextB is set, in one unit of
// work. A nil prev creates the charge.
func (s *TripChargeService) save(ctx context.Context, b, nextB *domain.Booking, prev, next *domain.TripCharge, rec *domain.AuditRecord) error {
	writeCharge := func(tx repository.Tx) error {
		if prev == nil {
			return tx.Charges().Create(ctx, next)
		}
		return tx.Charges().Update(ctx, next, prev.Version)
	}

	if nextB != nil {
		return s.commit(ctx, b, nextB, rec, writeCharge)
	}

	err := s.Store.WithinTx(ctx, func(tx repository.Tx) error {
		if err := writeCharge(tx); err != nil {
			return err
		}
		return tx.Audit().Append(ctx, rec)
	})
	if err != nil {
		return staleOnConflict(err)
	}
	s.Log.InfoContext(ctx, "trip charge transition",
		"booking_id", b.ID, "action", rec.Action, "from", rec.FromStatus, "to", rec.ToStatus)
	return nil
}

func (s *TripChargeService) resolution(actor domain.Actor, r domain.Resolution) *domain.Resolution {
	r.Actor = string(actor.Type) + ":" + actor.ID
	r.At = s.Clock.Now()
	return &r
}

func resolutionDetail(r domain.Resolution) string {
	if r.Note == "" {
		return r.Code
	}
	return r.Code + ": " + r.Note
}

func prevStatus(c *domain.TripCharge) domain.ChargeStatus {
	if c == nil {
		return ""
	}
	return c.Status
}
