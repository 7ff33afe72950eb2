package service

import (
	"slices"
	"time"

	"carshare/internal/domain"
)

// AllowedTransitions is the booking status flow as code.
var AllowedTransitions = map[domain.BookingStatus][]domain.BookingStatus{
	domain.BookingStatusPending:   {domain.BookingStatusConfirmed, domain.BookingStatusCancelled, domain.BookingStatusOnHold},
	domain.BookingStatusOnHold:    {domain.BookingStatusPending, domain.BookingStatusNoShow, domain.BookingStatusCancelled},
	domain.BookingStatusConfirmed: {domain.BookingStatusActive, domain.BookingStatusCompleted, domain.BookingStatusCancelled},
	domain.BookingStatusActive:    {domain.BookingStatusCompleted},
}

// CanTransition reports whether from -> to is an edge of the status flow.
func CanTransition(from, to domain.BookingStatus) bool {
	return slices.Contains(AllowedTransitions[from], to)
}

// checkTransition applies the flow plus the payment guard on cancellation:
// a confirmed booking can only be cancelled while its payment is still a hold.
func checkTransition(b *domain.Booking, to domain.BookingStatus) error {
	if b.Status.IsTerminal() {
		return illegal("booking is %s", b.Status)
	}
	if !CanTransition(b.Status, to) {
		return illegal("%s -> %s", b.Status, to)
	}
	if to == domain.BookingStatusCancelled && b.PaymentStatus != domain.PaymentStatusAuthorized {
		return illegal("cannot cancel a booking with payment %s", b.PaymentStatus)
	}
	return nil
}

// guardManual rejects actor-initiated changes on terminal bookings and on
// bookings whose end date has passed; the sweep owns those.
func guardManual(b *domain.Booking, now time.Time) error {
	if b.Status.IsTerminal() {
		return illegal("booking is %s", b.Status)
	}
	if b.PastDeadline(now) {
		return ErrDeadlinePassed
	}
	return nil
}

// requireActor checks that actor may act on b in one of the given roles.
// Operators and the system may always act; parties must match the booking.
func requireActor(actor domain.Actor, b *domain.Booking, roles ...domain.ActorType) error {
	if actor.Type == domain.ActorOperator || actor.Type == domain.ActorSystem {
		return nil
	}
	if !slices.Contains(roles, actor.Type) {
		return fmtForbidden(actor)
	}

	var owner string
	switch actor.Type {
	case domain.ActorGuest:
		owner = b.GuestID
	case domain.ActorHost:
		owner = b.HostID
	case domain.ActorFleet:
		owner = b.FleetID
	}
	if owner == "" || owner != actor.ID {
		return fmtForbidden(actor)
	}
	return nil
}

// requireOperator restricts an action to operators and the system.
func requireOperator(actor domain.Actor) error {
	if actor.Type == domain.ActorOperator || actor.Type == domain.ActorSystem {
		return nil
	}
	return fmtForbidden(actor)
}
