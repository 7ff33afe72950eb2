package domain

import "time"

// EventType names a lifecycle event handed to the notification fan-out.
type EventType string

const (
	EventBookingConfirmed     EventType = "BOOKING_CONFIRMED"
	EventBookingRejected      EventType = "BOOKING_REJECTED"
	EventBookingCancelled     EventType = "BOOKING_CANCELLED"
	EventBookingAutoCancelled EventType = "BOOKING_AUTO_CANCELLED"
	EventBookingNoShow        EventType = "BOOKING_NO_SHOW"
	EventCaptureFailed        EventType = "CAPTURE_FAILED"
	EventGuestArrived         EventType = "GUEST_ARRIVED"
	EventTripStarted          EventType = "TRIP_STARTED"
	EventTripCompleted        EventType = "TRIP_COMPLETED"
	EventTripAutoCompleted    EventType = "TRIP_AUTO_COMPLETED"
	EventChargesFiled         EventType = "CHARGES_FILED"
	EventChargeDisputed       EventType = "CHARGE_DISPUTED"
	EventChargesCaptured      EventType = "CHARGES_CAPTURED"
	EventChargesWaived        EventType = "CHARGES_WAIVED"
	EventChargesRefunded      EventType = "CHARGES_REFUNDED"
)

// Event carries enough denormalised context to render a guest or host message
// without querying the engine again.
type Event struct {
	ID          string            `json:"id"`
	Type        EventType         `json:"type"`
	BookingID   string            `json:"booking_id"`
	BookingCode string            `json:"booking_code"`
	Recipients  []string          `json:"recipients"`
	GuestName   string            `json:"guest_name"`
	HostName    string            `json:"host_name"`
	VehicleName string            `json:"vehicle_name"`
	Amount      int64             `json:"amount"`
	Currency    string            `json:"currency"`
	StartDate   time.Time         `json:"start_date"`
	EndDate     time.Time         `json:"end_date"`
	Reason      string            `json:"reason,omitempty"`
	Data        map[string]string `json:"data,omitempty"`
	OccurredAt  time.Time         `json:"occurred_at"`
}
