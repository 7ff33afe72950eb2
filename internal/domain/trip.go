package domain

import "time"

// ChargeStatus represents the state of post-trip additional charges.
type ChargeStatus string

const (
	ChargeStatusPending     ChargeStatus = "PENDING"
	ChargeStatusUnderReview ChargeStatus = "UNDER_REVIEW"
	ChargeStatusCharged     ChargeStatus = "CHARGED"
	ChargeStatusDisputed    ChargeStatus = "DISPUTED"
	ChargeStatusWaived      ChargeStatus = "WAIVED"
	ChargeStatusFailed      ChargeStatus = "FAILED"
	ChargeStatusRefunded    ChargeStatus = "REFUNDED"
)

// Resolved reports whether the charge has reached a settled outcome.
func (s ChargeStatus) Resolved() bool {
	switch s {
	case ChargeStatusCharged, ChargeStatusWaived, ChargeStatusRefunded:
		return true
	}
	return false
}

// ChargeType names one independent accumulator of a trip charge.
type ChargeType string

const (
	ChargeMileage  ChargeType = "mileage"
	ChargeFuel     ChargeType = "fuel"
	ChargeLate     ChargeType = "late"
	ChargeDamage   ChargeType = "damage"
	ChargeCleaning ChargeType = "cleaning"
	ChargeOther    ChargeType = "other"
)

// ChargeBreakdown keeps one monetary accumulator per charge type, in cents.
type ChargeBreakdown struct {
	Mileage  int64
	Fuel     int64
	Late     int64
	Damage   int64
	Cleaning int64
	Other    int64
}

// Add increments the accumulator for the given type.
func (b *ChargeBreakdown) Add(t ChargeType, cents int64) {
	switch t {
	case ChargeMileage:
		b.Mileage += cents
	case ChargeFuel:
		b.Fuel += cents
	case ChargeLate:
		b.Late += cents
	case ChargeDamage:
		b.Damage += cents
	case ChargeCleaning:
		b.Cleaning += cents
	default:
		b.Other += cents
	}
}

// Total returns the sum of all accumulators.
func (b ChargeBreakdown) Total() int64 {
	return b.Mileage + b.Fuel + b.Late + b.Damage + b.Cleaning + b.Other
}

// ChargeLineItem is a single host-filed adjustment.
type ChargeLineItem struct {
	Type        ChargeType `json:"type" validate:"required,oneof=mileage fuel late damage cleaning other"`
	AmountCents int64      `json:"amount_cents" validate:"gt=0"`
	Description string     `json:"description" validate:"required,max=500"`
}

// ChargeFiling records one filing event for audit.
type ChargeFiling struct {
	Items    []ChargeLineItem `json:"items"`
	FiledBy  string           `json:"filed_by"`
	FiledAt  time.Time        `json:"filed_at"`
	Subtotal int64            `json:"subtotal"`
}

// DisputeOutcome is the operator decision on a guest dispute.
type DisputeOutcome string

const (
	DisputeUpheld DisputeOutcome = "UPHELD"
	DisputeWaived DisputeOutcome = "WAIVED"
)

// Dispute is a guest challenge raised within the hold window.
type Dispute struct {
	Reason     string         `json:"reason"`
	OpenedBy   string         `json:"opened_by"`
	OpenedAt   time.Time      `json:"opened_at"`
	ResolvedAt *time.Time     `json:"resolved_at,omitempty"`
	ResolvedBy string         `json:"resolved_by,omitempty"`
	Outcome    DisputeOutcome `json:"outcome,omitempty"`
}

// Open reports whether the dispute still awaits an operator decision.
func (d *Dispute) Open() bool {
	return d != nil && d.ResolvedAt == nil
}

// Resolution is the structured audit reason attached to waive and refund decisions.
type Resolution struct {
	Code  string    `json:"code" validate:"required,oneof=goodwill insufficient_evidence duplicate host_error guest_error other"`
	Note  string    `json:"note" validate:"max=1000"`
	Actor string    `json:"actor,omitempty"`
	At    time.Time `json:"at"`
}

// TripCharge aggregates all post-trip adjustments of a booking.
type TripCharge struct {
	ID              string
	BookingID       string
	Version         int
	Breakdown       ChargeBreakdown
	Status          ChargeStatus
	HoldUntil       time.Time
	Filings         []ChargeFiling
	Dispute         *Dispute
	Resolution      *Resolution
	GatewayChargeID string
	FailureReason   string
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

// Total returns the amount owed across all charge types.
func (c *TripCharge) Total() int64 {
	return c.Breakdown.Total()
}

// Clone returns a deep copy.
func (c *TripCharge) Clone() *TripCharge {
	cp := *c
	cp.Filings = make([]ChargeFiling, len(c.Filings))
	for i, f := range c.Filings {
		f.Items = append([]ChargeLineItem(nil), f.Items...)
		cp.Filings[i] = f
	}
	if c.Dispute != nil {
		d := *c.Dispute
		d.ResolvedAt = cloneTime(c.Dispute.ResolvedAt)
		cp.Dispute = &d
	}
	if c.Resolution != nil {
		r := *c.Resolution
		cp.Resolution = &r
	}
	return &cp
}
