package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"carshare/internal/domain"
	"carshare/internal/gateway"
	"carshare/internal/repository"
)

// BookingService owns the booking state machine: creation, two-party
// approval, identity holds, cancellation and trip completion.
type BookingService struct {
	Deps
	payments *PaymentService
	currency string
}

// NewBookingService creates a new BookingService.
func NewBookingService(deps Deps, payments *PaymentService, currency string) *BookingService {
	if currency == "" {
		currency = "USD"
	}
	return &BookingService{Deps: deps.withDefaults(), payments: payments, currency: currency}
}

// CreateBookingRequest contains the parameters for reserving a vehicle.
type CreateBookingRequest struct {
	GuestID       string    `json:"guest_id" validate:"required"`
	GuestName     string    `json:"guest_name" validate:"required,max=200"`
	VehicleID     string    `json:"vehicle_id" validate:"required"`
	StartDate     time.Time `json:"start_date" validate:"required"`
	EndDate       time.Time `json:"end_date" validate:"required,gtfield=StartDate"`
	TotalAmount   int64     `json:"total_amount" validate:"gt=0"`
	DepositAmount int64     `json:"deposit_amount" validate:"gte=0"`
	Currency      string    `json:"currency" validate:"omitempty,len=3"`
}

// Create authorizes the guest's payment and persists a new booking. Instant
// book vehicles start CONFIRMED; capture still waits for both approvals.
func (s *BookingService) Create(ctx context.Context, req CreateBookingRequest) (*domain.Booking, error) {
	if err := validateStruct(req); err != nil {
		return nil, err
	}

	now := s.Clock.Now()
	if !req.EndDate.After(now) {
		return nil, invalid("end_date", "must be in the future")
	}

	vehicle, err := s.Store.Vehicles().GetByID(ctx, req.VehicleID)
	if err != nil {
		return nil, err
	}

	currency := strings.ToUpper(req.Currency)
	if currency == "" {
		currency = s.currency
	}

	b := &domain.Booking{
		ID:            uuid.New().String(),
		Code:          newBookingCode(),
		GuestID:       req.GuestID,
		GuestName:     req.GuestName,
		HostID:        vehicle.HostID,
		HostName:      vehicle.HostName,
		FleetID:       vehicle.FleetID,
		VehicleID:     vehicle.ID,
		VehicleName:   vehicle.Name,
		StartDate:     req.StartDate.UTC(),
		EndDate:       req.EndDate.UTC(),
		CreatedAt:     now,
		UpdatedAt:     now,
		Status:        domain.BookingStatusPending,
		Fleet:         domain.Approval{Party: domain.PartyFleet, Status: domain.ApprovalPending},
		Host:          domain.Approval{Party: domain.PartyHost, Status: domain.ApprovalPending},
		PaymentStatus: domain.PaymentStatusAuthorized,
		HandoffStatus: domain.HandoffStatusPending,
		TotalAmount:   req.TotalAmount,
		DepositAmount: req.DepositAmount,
		Currency:      currency,
	}
	if vehicle.InstantBook {
		b.Status = domain.BookingStatusConfirmed
	}

	intentID, err := s.Gateway.Authorize(ctx, gateway.AuthorizeRequest{
		BookingID:   b.ID,
		CustomerID:  b.GuestID,
		AmountCents: b.TotalAmount + b.DepositAmount,
		Currency:    b.Currency,
	})
	if err != nil {
		return nil, fmt.Errorf("%w: authorize: %w", ErrPaymentFailed, err)
	}
	b.PaymentIntentID = intentID

	guest := domain.Actor{Type: domain.ActorGuest, ID: b.GuestID}
	rec := s.record(b, guest, "create", "", string(b.Status), fmt.Sprintf("authorized %d %s", b.TotalAmount+b.DepositAmount, b.Currency))
	err = s.Store.WithinTx(ctx, func(tx repository.Tx) error {
		if err := tx.Bookings().Create(ctx, b); err != nil {
			return err
		}
		return tx.Audit().Append(ctx, rec)
	})
	if err != nil {
		if _, voidErr := s.payments.Void(ctx, b); voidErr != nil {
			s.Log.ErrorContext(ctx, "authorization left open after failed create",
				"booking_id", b.ID, "payment_intent_id", intentID, "error", voidErr)
		}
		return nil, staleOnConflict(err)
	}

	s.Log.InfoContext(ctx, "booking created", "booking_id", b.ID, "code", b.Code, "status", b.Status)
	return b, nil
}

// Get retrieves a booking, applying a handoff auto-fallback that has come due.
func (s *BookingService) Get(ctx context.Context, id string) (*domain.Booking, error) {
	b, err := s.load(ctx, id)
	if err != nil {
		return nil, err
	}
	return s.settle(ctx, b), nil
}

// GetByCode retrieves a booking by its human-readable code.
func (s *BookingService) GetByCode(ctx context.Context, code string) (*domain.Booking, error) {
	b, err := s.Store.Bookings().GetByCode(ctx, code)
	if err != nil {
		return nil, err
	}
	return s.settle(ctx, b), nil
}

// History returns the audit trail of a booking.
func (s *BookingService) History(ctx context.Context, id string) ([]*domain.AuditRecord, error) {
	if _, err := s.load(ctx, id); err != nil {
		return nil, err
	}
	return s.Store.Audit().ListByBooking(ctx, id)
}

// settle evaluates stored deadlines lazily on read. Failures leave the booking
// as read; the sweep retries.
func (s *BookingService) settle(ctx context.Context, b *domain.Booking) *domain.Booking {
	next, applied, err := s.applyFallback(ctx, b)
	if err != nil {
		if errors.Is(err, ErrStaleState) {
			if fresh, err := s.load(ctx, b.ID); err == nil {
				return fresh
			}
		}
		s.Log.WarnContext(ctx, "handoff fallback not applied", "booking_id", b.ID, "error", err)
		return b
	}
	if applied {
		s.Log.InfoContext(ctx, "handoff auto-fallback applied on read", "booking_id", b.ID)
	}
	return next
}

// Decision is an approving party's verdict.
type Decision struct {
	Approve bool   `json:"approve"`
	Note    string `json:"note" validate:"max=1000"`
}

// DecideFleet records the fleet operator's decision. Rejection cancels the
// booking and voids the hold.
func (s *BookingService) DecideFleet(ctx context.Context, actor domain.Actor, id string, d Decision) (*domain.Booking, error) {
	if err := validateStruct(d); err != nil {
		return nil, err
	}

	check := func(b *domain.Booking) error {
		if err := requireActor(actor, b, domain.ActorFleet); err != nil {
			return err
		}
		if err := guardManual(b, s.Clock.Now()); err != nil {
			return err
		}
		if b.Fleet.Decided() {
			return illegal("fleet already %s", b.Fleet.Status)
		}
		if !awaitingApproval(b) {
			return illegal("cannot decide on a %s booking with payment %s", b.Status, b.PaymentStatus)
		}
		return nil
	}

	if !d.Approve {
		out, err := s.payments.cancelWithVoid(ctx, actor, id, "fleet_reject", d.Note, check, func(next *domain.Booking) {
			next.Fleet = s.decided(domain.PartyFleet, domain.ApprovalRejected, actor, d.Note)
		})
		if err != nil {
			return nil, err
		}
		s.Notifier.Notify(ctx, domain.EventBookingRejected, out, notice{reason: d.Note, data: map[string]string{"party": string(domain.PartyFleet)}})
		return out, nil
	}

	return s.transition(ctx, actor, id, "fleet_approve", "", d.Note, func(b, next *domain.Booking, now time.Time) error {
		if err := check(b); err != nil {
			return err
		}
		next.Fleet = s.decided(domain.PartyFleet, domain.ApprovalApproved, actor, d.Note)
		return nil
	})
}

// DecideHost records the host's decision, which is only accepted after the
// fleet approved. Approval triggers capture; if the gateway refuses, the
// approval stays recorded and ErrCaptureFailed is returned for operator retry.
// Rejection cancels the booking and voids the hold.
func (s *BookingService) DecideHost(ctx context.Context, actor domain.Actor, id string, d Decision) (*domain.Booking, error) {
	if err := validateStruct(d); err != nil {
		return nil, err
	}

	check := func(b *domain.Booking) error {
		if err := requireActor(actor, b, domain.ActorHost); err != nil {
			return err
		}
		if err := guardManual(b, s.Clock.Now()); err != nil {
			return err
		}
		if b.Fleet.Status != domain.ApprovalApproved {
			return illegal("host decision requires fleet approval, fleet is %s", b.Fleet.Status)
		}
		if b.Host.Decided() {
			return illegal("host already %s", b.Host.Status)
		}
		if !awaitingApproval(b) {
			return illegal("cannot decide on a %s booking with payment %s", b.Status, b.PaymentStatus)
		}
		return nil
	}

	if !d.Approve {
		out, err := s.payments.cancelWithVoid(ctx, actor, id, "host_reject", d.Note, check, func(next *domain.Booking) {
			next.Host = s.decided(domain.PartyHost, domain.ApprovalRejected, actor, d.Note)
		})
		if err != nil {
			return nil, err
		}
		s.Notifier.Notify(ctx, domain.EventBookingRejected, out, notice{reason: d.Note, data: map[string]string{"party": string(domain.PartyHost)}})
		return out, nil
	}

	_, err := s.transition(ctx, actor, id, "host_approve", "", d.Note, func(b, next *domain.Booking, now time.Time) error {
		if err := check(b); err != nil {
			return err
		}
		next.Host = s.decided(domain.PartyHost, domain.ApprovalApproved, actor, d.Note)
		return nil
	})
	if err != nil {
		return nil, err
	}

	return s.payments.Capture(ctx, actor, id)
}

// awaitingApproval reports whether b is still in the approval phase: pending,
// or confirmed by instant book but not yet captured.
func awaitingApproval(b *domain.Booking) bool {
	if b.PaymentStatus != domain.PaymentStatusAuthorized {
		return false
	}
	return b.Status == domain.BookingStatusPending || b.Status == domain.BookingStatusConfirmed
}

func (s *BookingService) decided(party domain.Party, status domain.ApprovalStatus, actor domain.Actor, note string) domain.Approval {
	at := s.Clock.Now()
	return domain.Approval{Party: party, Status: status, Actor: actor.ID, Note: note, DecidedAt: &at}
}

// HoldRequest places an identity-verification hold.
type HoldRequest struct {
	Reason   string     `json:"reason" validate:"required,max=500"`
	Deadline *time.Time `json:"deadline"`
}

// PlaceOnHold moves a pending booking to ON_HOLD with structured hold metadata.
func (s *BookingService) PlaceOnHold(ctx context.Context, actor domain.Actor, id string, req HoldRequest) (*domain.Booking, error) {
	if err := validateStruct(req); err != nil {
		return nil, err
	}
	if err := requireOperator(actor); err != nil {
		return nil, err
	}

	return s.transition(ctx, actor, id, "hold", domain.BookingStatusOnHold, req.Reason, func(b, next *domain.Booking, now time.Time) error {
		deadline := b.EndDate
		if req.Deadline != nil {
			if !req.Deadline.After(now) || req.Deadline.After(b.EndDate) {
				return invalid("deadline", "must be between now and the booking end date")
			}
			deadline = req.Deadline.UTC()
		}
		next.Hold = &domain.HoldInfo{Reason: req.Reason, Actor: actor, PlacedAt: now, Deadline: deadline}
		return nil
	})
}

// ReleaseHold returns an ON_HOLD booking to PENDING.
func (s *BookingService) ReleaseHold(ctx context.Context, actor domain.Actor, id string) (*domain.Booking, error) {
	if err := requireOperator(actor); err != nil {
		return nil, err
	}

	return s.transition(ctx, actor, id, "hold_release", domain.BookingStatusPending, "", func(b, next *domain.Booking, now time.Time) error {
		next.Hold = nil
		return nil
	})
}

// CancelRequest carries the cancellation reason.
type CancelRequest struct {
	Reason string `json:"reason" validate:"required,max=500"`
}

// Cancel cancels a booking before capture and voids the hold.
func (s *BookingService) Cancel(ctx context.Context, actor domain.Actor, id string, req CancelRequest) (*domain.Booking, error) {
	if err := validateStruct(req); err != nil {
		return nil, err
	}

	out, err := s.payments.cancelWithVoid(ctx, actor, id, "cancel", req.Reason, func(b *domain.Booking) error {
		if err := requireActor(actor, b, domain.ActorGuest, domain.ActorHost); err != nil {
			return err
		}
		return guardManual(b, s.Clock.Now())
	}, nil)
	if err != nil {
		return nil, err
	}

	s.Notifier.Notify(ctx, domain.EventBookingCancelled, out, notice{reason: req.Reason})
	return out, nil
}

// CompleteTrip ends an active trip.
func (s *BookingService) CompleteTrip(ctx context.Context, actor domain.Actor, id string) (*domain.Booking, error) {
	out, err := s.transition(ctx, actor, id, "complete", domain.BookingStatusCompleted, "", func(b, next *domain.Booking, now time.Time) error {
		if err := requireActor(actor, b, domain.ActorGuest, domain.ActorHost); err != nil {
			return err
		}
		if b.Status != domain.BookingStatusActive {
			return illegal("only an active trip can be completed, booking is %s", b.Status)
		}
		next.TripEndedAt = &now
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.Notifier.Notify(ctx, domain.EventTripCompleted, out, notice{})
	return out, nil
}

// transition runs a manual change with no gateway side effect under the
// booking lock, so it cannot interleave with a void or capture. An empty to
// keeps the current status.
func (s *BookingService) transition(ctx context.Context, actor domain.Actor, id, action string, to domain.BookingStatus,
	detail string, mutate func(b, next *domain.Booking, now time.Time) error,
) (*domain.Booking, error) {
	var out *domain.Booking

	err := s.withBookingLock(ctx, id, s.payments.lockTTL, func() error {
		b, err := s.load(ctx, id)
		if err != nil {
			return err
		}

		now := s.Clock.Now()
		if err := guardManual(b, now); err != nil {
			return err
		}
		next := b.Clone()
		if to != "" {
			if err := checkTransition(b, to); err != nil {
				return err
			}
			next.Status = to
		}
		if err := mutate(b, next, now); err != nil {
			return err
		}

		rec := s.record(b, actor, action, string(b.Status), string(next.Status), detail)
		if err := s.commit(ctx, b, next, rec, nil); err != nil {
			return err
		}
		out = next
		return nil
	})
	if err != nil {
		return nil, s.fail(ctx, id, actor, action, err)
	}
	return out, nil
}

func newBookingCode() string {
	raw := strings.ReplaceAll(uuid.New().String(), "-", "")
	return "BK-" + strings.ToUpper(raw[:8])
}
