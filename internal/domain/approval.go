package domain

import "time"

// ApprovalStatus represents one party's decision on a booking.
type ApprovalStatus string

const (
	ApprovalPending  ApprovalStatus = "PENDING"
	ApprovalApproved ApprovalStatus = "APPROVED"
	ApprovalRejected ApprovalStatus = "REJECTED"
)

// Party identifies an approving party.
type Party string

const (
	PartyFleet Party = "fleet"
	PartyHost  Party = "host"
)

// Approval is the decision record of a single approving party.
type Approval struct {
	Party     Party
	Status    ApprovalStatus
	Actor     string
	Note      string
	DecidedAt *time.Time
}

// Decided reports whether the party has approved or rejected.
func (a Approval) Decided() bool {
	return a.Status != ApprovalPending
}

// ActorType identifies who initiated an action.
type ActorType string

const (
	ActorGuest    ActorType = "guest"
	ActorHost     ActorType = "host"
	ActorFleet    ActorType = "fleet"
	ActorOperator ActorType = "operator"
	ActorSystem   ActorType = "system"
)

// Actor is the initiator of a transition.
type Actor struct {
	Type ActorType
	ID   string
}

// SystemActor is used for sweep-driven and deadline-driven transitions.
var SystemActor = Actor{Type: ActorSystem, ID: "sweep"}
