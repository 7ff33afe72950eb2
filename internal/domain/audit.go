package domain

import "time"

// AuditRecord is an immutable entry in the lifecycle audit trail.
type AuditRecord struct {
	ID         string
	BookingID  string
	Actor      Actor
	Action     string
	FromStatus string
	ToStatus   string
	Detail     string
	ErrorKind  string // empty for committed transitions
	CreatedAt  time.Time
}
