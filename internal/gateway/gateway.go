// Package gateway defines the payment gateway contract used by the lifecycle
// engine and an in-process implementation of it.
package gateway

import (
	"context"
	"errors"
)

var (
	// ErrDeclined is returned when the issuer refuses an authorization or charge.
	ErrDeclined = errors.New("payment declined")

	// ErrAuthorizationExpired is returned when capturing a hold that lapsed.
	ErrAuthorizationExpired = errors.New("authorization expired")

	// ErrIntentVoided is returned when capturing a hold that was released.
	ErrIntentVoided = errors.New("authorization voided")

	// ErrUnknownIntent is returned for references the gateway never issued.
	ErrUnknownIntent = errors.New("unknown payment reference")
)

// AuthorizeRequest places a hold on the guest's payment instrument.
type AuthorizeRequest struct {
	BookingID   string
	CustomerID  string
	AmountCents int64
	Currency    string
}

// ChargeRequest is an off-session charge against the guest's saved instrument.
// Repeating a request with the same IdempotencyKey returns the original charge.
type ChargeRequest struct {
	IdempotencyKey string
	CustomerID     string
	AmountCents    int64
	Currency       string
	Description    string
}

// Gateway is the payment service provider. Capture and Void are idempotent:
// capturing a captured hold or voiding a voided or captured hold succeeds.
type Gateway interface {
	Authorize(ctx context.Context, req AuthorizeRequest) (intentID string, err error)
	Capture(ctx context.Context, intentID string) error
	Void(ctx context.Context, intentID string) error
	Charge(ctx context.Context, req ChargeRequest) (chargeID string, err error)
	Refund(ctx context.Context, chargeID string, amountCents int64) (refundID string, err error)
}
