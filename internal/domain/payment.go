package domain

// PaymentStatus represents the financial state of a booking.
type PaymentStatus string

const (
	PaymentStatusAuthorized     PaymentStatus = "AUTHORIZED"
	PaymentStatusPaid           PaymentStatus = "PAID"
	PaymentStatusPendingCharges PaymentStatus = "PENDING_CHARGES"
	PaymentStatusRefunded       PaymentStatus = "REFUNDED"
	PaymentStatusChargesPaid    PaymentStatus = "CHARGES_PAID"
	PaymentStatusChargesWaived  PaymentStatus = "CHARGES_WAIVED"
	PaymentStatusVoided         PaymentStatus = "VOIDED"
)

// Captured reports whether the base authorization has already been converted to funds.
func (s PaymentStatus) Captured() bool {
	switch s {
	case PaymentStatusPaid, PaymentStatusPendingCharges, PaymentStatusRefunded,
		PaymentStatusChargesPaid, PaymentStatusChargesWaived:
		return true
	}
	return false
}
