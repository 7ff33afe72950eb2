package domain

import "time"

// BookingStatus represents the primary lifecycle status of a booking.
type BookingStatus string

const (
	BookingStatusPending   BookingStatus = "PENDING"
	BookingStatusOnHold    BookingStatus = "ON_HOLD"
	BookingStatusConfirmed BookingStatus = "CONFIRMED"
	BookingStatusActive    BookingStatus = "ACTIVE"
	BookingStatusCompleted BookingStatus = "COMPLETED"
	BookingStatusNoShow    BookingStatus = "NO_SHOW"
	BookingStatusCancelled BookingStatus = "CANCELLED"
)

// IsTerminal reports whether no further lifecycle transitions are accepted.
func (s BookingStatus) IsTerminal() bool {
	switch s {
	case BookingStatusCompleted, BookingStatusNoShow, BookingStatusCancelled:
		return true
	}
	return false
}

// NonTerminalBookingStatuses lists every status the sweep must drive to a terminal value.
var NonTerminalBookingStatuses = []BookingStatus{
	BookingStatusPending,
	BookingStatusOnHold,
	BookingStatusConfirmed,
	BookingStatusActive,
}

// HandoffStatus represents the state of the physical vehicle exchange.
type HandoffStatus string

const (
	HandoffStatusPending       HandoffStatus = "PENDING"
	HandoffStatusGuestVerified HandoffStatus = "GUEST_VERIFIED"
	HandoffStatusComplete      HandoffStatus = "HANDOFF_COMPLETE"
	HandoffStatusBypassed      HandoffStatus = "BYPASSED"
)

// HoldInfo describes an identity-verification hold. Present iff the booking is ON_HOLD.
type HoldInfo struct {
	Reason   string
	Actor    Actor
	PlacedAt time.Time
	Deadline time.Time
}

// HandoffState holds the GPS verification artifacts for a booking.
type HandoffState struct {
	GuestLat          float64
	GuestLng          float64
	DistanceMeters    float64
	VerifiedAt        *time.Time
	ArrivalNotifiedAt *time.Time
	AutoFallbackAt    *time.Time
	CompletedAt       *time.Time
	CompletedBy       string
}

// Booking is the aggregate root of the lifecycle engine.
type Booking struct {
	ID      string
	Code    string
	Version int

	GuestID     string
	GuestName   string
	HostID      string
	HostName    string
	FleetID     string
	VehicleID   string
	VehicleName string

	StartDate     time.Time
	EndDate       time.Time
	TripStartedAt *time.Time
	TripEndedAt   *time.Time
	CreatedAt     time.Time
	UpdatedAt     time.Time

	Status        BookingStatus
	Fleet         Approval
	Host          Approval
	PaymentStatus PaymentStatus
	HandoffStatus HandoffStatus

	TotalAmount          int64 // cents
	DepositAmount        int64 // cents
	PendingChargesAmount int64 // cents
	Currency             string
	PaymentIntentID      string

	Hold         *HoldInfo
	Handoff      HandoffState
	CancelReason string
}

// Clone returns a deep copy so callers can mutate a working copy without touching
// the value held by a store.
func (b *Booking) Clone() *Booking {
	c := *b
	c.TripStartedAt = cloneTime(b.TripStartedAt)
	c.TripEndedAt = cloneTime(b.TripEndedAt)
	c.Fleet.DecidedAt = cloneTime(b.Fleet.DecidedAt)
	c.Host.DecidedAt = cloneTime(b.Host.DecidedAt)
	if b.Hold != nil {
		h := *b.Hold
		c.Hold = &h
	}
	c.Handoff.VerifiedAt = cloneTime(b.Handoff.VerifiedAt)
	c.Handoff.ArrivalNotifiedAt = cloneTime(b.Handoff.ArrivalNotifiedAt)
	c.Handoff.AutoFallbackAt = cloneTime(b.Handoff.AutoFallbackAt)
	c.Handoff.CompletedAt = cloneTime(b.Handoff.CompletedAt)
	return &c
}

// PastDeadline reports whether the contractual window has ended at now.
func (b *Booking) PastDeadline(now time.Time) bool {
	return !now.Before(b.EndDate)
}

// BothApproved reports whether the fleet operator and the host have approved.
func (b *Booking) BothApproved() bool {
	return b.Fleet.Status == ApprovalApproved && b.Host.Status == ApprovalApproved
}

func cloneTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	v := *t
	return &v
}
