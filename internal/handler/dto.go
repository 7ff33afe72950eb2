package handler

import (
	"time"

	"carshare/internal/domain"
)

// BookingResponse is the HTTP representation of a booking. Amounts are in
// minor currency units.
type BookingResponse struct {
	ID                   string           `json:"id"`
	Code                 string           `json:"code"`
	Version              int              `json:"version"`
	Status               string           `json:"status"`
	PaymentStatus        string           `json:"payment_status"`
	HandoffStatus        string           `json:"handoff_status"`
	GuestID              string           `json:"guest_id"`
	HostID               string           `json:"host_id"`
	FleetID              string           `json:"fleet_id"`
	VehicleID            string           `json:"vehicle_id"`
	VehicleName          string           `json:"vehicle_name"`
	StartDate            string           `json:"start_date"`
	EndDate              string           `json:"end_date"`
	TripStartedAt        string           `json:"trip_started_at,omitempty"`
	TripEndedAt          string           `json:"trip_ended_at,omitempty"`
	TotalAmount          int64            `json:"total_amount"`
	DepositAmount        int64            `json:"deposit_amount"`
	PendingChargesAmount int64            `json:"pending_charges_amount"`
	Currency             string           `json:"currency"`
	Fleet                ApprovalResponse `json:"fleet"`
	Host                 ApprovalResponse `json:"host"`
	Hold                 *HoldResponse    `json:"hold,omitempty"`
	Handoff              *HandoffResponse `json:"handoff,omitempty"`
	CancelReason         string           `json:"cancel_reason,omitempty"`
}

// ApprovalResponse is one party's decision.
type ApprovalResponse struct {
	Status    string `json:"status"`
	Actor     string `json:"actor,omitempty"`
	Note      string `json:"note,omitempty"`
	DecidedAt string `json:"decided_at,omitempty"`
}

// HoldResponse describes an identity-verification hold.
type HoldResponse struct {
	Reason   string `json:"reason"`
	PlacedBy string `json:"placed_by"`
	PlacedAt string `json:"placed_at"`
	Deadline string `json:"deadline"`
}

// HandoffResponse carries the GPS verification artifacts.
type HandoffResponse struct {
	DistanceMeters float64 `json:"distance_meters"`
	VerifiedAt     string  `json:"verified_at,omitempty"`
	AutoFallbackAt string  `json:"auto_fallback_at,omitempty"`
	CompletedAt    string  `json:"completed_at,omitempty"`
	CompletedBy    string  `json:"completed_by,omitempty"`
}

func toBookingResponse(b *domain.Booking) BookingResponse {
	resp := BookingResponse{
		ID:                   b.ID,
		Code:                 b.Code,
		Version:              b.Version,
		Status:               string(b.Status),
		PaymentStatus:        string(b.PaymentStatus),
		HandoffStatus:        string(b.HandoffStatus),
		GuestID:              b.GuestID,
		HostID:               b.HostID,
		FleetID:              b.FleetID,
		VehicleID:            b.VehicleID,
		VehicleName:          b.VehicleName,
		StartDate:            b.StartDate.Format(time.RFC3339),
		EndDate:              b.EndDate.Format(time.RFC3339),
		TripStartedAt:        formatTime(b.TripStartedAt),
		TripEndedAt:          formatTime(b.TripEndedAt),
		TotalAmount:          b.TotalAmount,
		DepositAmount:        b.DepositAmount,
		PendingChargesAmount: b.PendingChargesAmount,
		Currency:             b.Currency,
		Fleet:                toApprovalResponse(b.Fleet),
		Host:                 toApprovalResponse(b.Host),
		CancelReason:         b.CancelReason,
	}

	if b.Hold != nil {
		resp.Hold = &HoldResponse{
			Reason:   b.Hold.Reason,
			PlacedBy: string(b.Hold.Actor.Type) + ":" + b.Hold.Actor.ID,
			PlacedAt: b.Hold.PlacedAt.Format(time.RFC3339),
			Deadline: b.Hold.Deadline.Format(time.RFC3339),
		}
	}

	if b.HandoffStatus != domain.HandoffStatusPending {
		resp.Handoff = &HandoffResponse{
			DistanceMeters: b.Handoff.DistanceMeters,
			VerifiedAt:     formatTime(b.Handoff.VerifiedAt),
			AutoFallbackAt: formatTime(b.Handoff.AutoFallbackAt),
			CompletedAt:    formatTime(b.Handoff.CompletedAt),
			CompletedBy:    b.Handoff.CompletedBy,
		}
	}

	return resp
}

func toApprovalResponse(a domain.Approval) ApprovalResponse {
	return ApprovalResponse{
		Status:    string(a.Status),
		Actor:     a.Actor,
		Note:      a.Note,
		DecidedAt: formatTime(a.DecidedAt),
	}
}

// ChargeResponse is the HTTP representation of a trip charge.
type ChargeResponse struct {
	ID              string                `json:"id"`
	BookingID       string                `json:"booking_id"`
	Status          string                `json:"status"`
	Breakdown       map[string]int64      `json:"breakdown"`
	Total           int64                 `json:"total"`
	HoldUntil       string                `json:"hold_until"`
	Filings         []domain.ChargeFiling `json:"filings"`
	Dispute         *domain.Dispute       `json:"dispute,omitempty"`
	Resolution      *domain.Resolution    `json:"resolution,omitempty"`
	GatewayChargeID string                `json:"gateway_charge_id,omitempty"`
	FailureReason   string                `json:"failure_reason,omitempty"`
}

func toChargeResponse(c *domain.TripCharge) ChargeResponse {
	return ChargeResponse{
		ID:        c.ID,
		BookingID: c.BookingID,
		Status:    string(c.Status),
		Breakdown: map[string]int64{
			string(domain.ChargeMileage):  c.Breakdown.Mileage,
			string(domain.ChargeFuel):     c.Breakdown.Fuel,
			string(domain.ChargeLate):     c.Breakdown.Late,
			string(domain.ChargeDamage):   c.Breakdown.Damage,
			string(domain.ChargeCleaning): c.Breakdown.Cleaning,
			string(domain.ChargeOther):    c.Breakdown.Other,
		},
		Total:           c.Total(),
		HoldUntil:       c.HoldUntil.Format(time.RFC3339),
		Filings:         c.Filings,
		Dispute:         c.Dispute,
		Resolution:      c.Resolution,
		GatewayChargeID: c.GatewayChargeID,
		FailureReason:   c.FailureReason,
	}
}

// AuditResponse is one entry of a booking's history.
type AuditResponse struct {
	Action    string `json:"action"`
	Actor     string `json:"actor"`
	From      string `json:"from,omitempty"`
	To        string `json:"to,omitempty"`
	Detail    string `json:"detail,omitempty"`
	ErrorKind string `json:"error_kind,omitempty"`
	At        string `json:"at"`
}

func formatTime(t *time.Time) string {
	if t == nil {
		return ""
	}
	return t.Format(time.RFC3339)
}
