package service

import (
	"context"

	"github.com/google/uuid"

	"carshare/internal/domain"
	"carshare/internal/events"
	"carshare/internal/logger"
)

// OperationsRecipient addresses the operator queue.
const OperationsRecipient = "operations"

// NotificationService turns lifecycle changes into events for the fan-out.
// Delivery is fire-and-forget: failures are logged and never returned.
type NotificationService struct {
	publisher events.Publisher
	clock     Clock
	log       *logger.Logger
}

// NewNotificationService creates a new NotificationService.
func NewNotificationService(publisher events.Publisher, clock Clock, log *logger.Logger) *NotificationService {
	return &NotificationService{publisher: publisher, clock: clock, log: log}
}

// notice is the variable part of an event.
type notice struct {
	reason string
	amount int64
	data   map[string]string
}

// Notify builds and publishes an event of type t about b.
func (s *NotificationService) Notify(ctx context.Context, t domain.EventType, b *domain.Booking, n notice) {
	if s == nil || s.publisher == nil {
		return
	}

	amount := n.amount
	if amount == 0 {
		amount = b.TotalAmount
	}

	e := domain.Event{
		ID:          uuid.New().String(),
		Type:        t,
		BookingID:   b.ID,
		BookingCode: b.Code,
		Recipients:  recipientsFor(t, b),
		GuestName:   b.GuestName,
		HostName:    b.HostName,
		VehicleName: b.VehicleName,
		Amount:      amount,
		Currency:    b.Currency,
		StartDate:   b.StartDate,
		EndDate:     b.EndDate,
		Reason:      n.reason,
		Data:        n.data,
		OccurredAt:  s.clock.Now(),
	}

	if err := s.publisher.Publish(ctx, e); err != nil {
		s.log.WarnContext(ctx, "notification not delivered",
			"event_type", t, "booking_id", b.ID, "error", err)
	}
}

func recipientsFor(t domain.EventType, b *domain.Booking) []string {
	switch t {
	case domain.EventGuestArrived:
		return []string{b.HostID}
	case domain.EventBookingRejected, domain.EventChargesFiled, domain.EventChargesRefunded:
		return []string{b.GuestID}
	case domain.EventChargeDisputed:
		return []string{b.HostID, OperationsRecipient}
	case domain.EventCaptureFailed:
		return []string{OperationsRecipient, b.HostID}
	default:
		return []string{b.GuestID, b.HostID}
	}
}
