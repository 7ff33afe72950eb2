package gateway

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"
)

type intentState int

const (
	intentAuthorized intentState = iota
	intentCaptured
	intentVoided
)

// Local is an in-process Gateway that approves everything unless told
// otherwise. It is used for development and tests.
type Local struct {
	mu      sync.Mutex
	intents map[string]intentState
	charges map[string]string // idempotency key -> charge ID
	refunds map[string]string // charge ID -> refund ID
	amounts map[string]int64  // charge ID -> charged amount
	settled int64             // charged minus refunded, in cents

	captureErr map[string]error
	chargeErr  error

	// Counters for verification
	AuthorizeCalls int32
	CaptureCalls   int32
	VoidCalls      int32
	ChargeCalls    int32
	RefundCalls    int32
}

// NewLocal creates a new in-process gateway.
func NewLocal() *Local {
	return &Local{
		intents:    make(map[string]intentState),
		charges:    make(map[string]string),
		refunds:    make(map[string]string),
		amounts:    make(map[string]int64),
		captureErr: make(map[string]error),
	}
}

// FailCapture makes captures of intentID return err until cleared with nil.
func (g *Local) FailCapture(intentID string, err error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if err == nil {
		delete(g.captureErr, intentID)
		return
	}
	g.captureErr[intentID] = err
}

// FailCharges makes every Charge call return err until cleared with nil.
func (g *Local) FailCharges(err error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.chargeErr = err
}

// Captured reports whether intentID has been captured.
func (g *Local) Captured(intentID string) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.intents[intentID] == intentCaptured
}

// Voided reports whether intentID has been released.
func (g *Local) Voided(intentID string) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	st, ok := g.intents[intentID]
	return ok && st == intentVoided
}

// Collected returns the net amount taken from customers by Charge, after refunds.
func (g *Local) Collected() int64 {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.settled
}

// Refunded reports whether chargeID has been refunded.
func (g *Local) Refunded(chargeID string) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	_, ok := g.refunds[chargeID]
	return ok
}

func (g *Local) Authorize(ctx context.Context, req AuthorizeRequest) (string, error) {
	atomic.AddInt32(&g.AuthorizeCalls, 1)
	if req.AmountCents <= 0 {
		return "", fmt.Errorf("%w: non-positive amount", ErrDeclined)
	}

	id := "pi_" + uuid.NewString()

	g.mu.Lock()
	defer g.mu.Unlock()
	g.intents[id] = intentAuthorized
	return id, nil
}

func (g *Local) Capture(ctx context.Context, intentID string) error {
	atomic.AddInt32(&g.CaptureCalls, 1)

	g.mu.Lock()
	defer g.mu.Unlock()

	st, ok := g.intents[intentID]
	if !ok {
		return ErrUnknownIntent
	}
	switch st {
	case intentCaptured:
		return nil
	case intentVoided:
		return ErrIntentVoided
	}
	if err := g.captureErr[intentID]; err != nil {
		return err
	}
	g.intents[intentID] = intentCaptured
	return nil
}

func (g *Local) Void(ctx context.Context, intentID string) error {
	atomic.AddInt32(&g.VoidCalls, 1)

	g.mu.Lock()
	defer g.mu.Unlock()

	st, ok := g.intents[intentID]
	if !ok {
		return ErrUnknownIntent
	}
	if st == intentAuthorized {
		g.intents[intentID] = intentVoided
	}
	return nil
}

func (g *Local) Charge(ctx context.Context, req ChargeRequest) (string, error) {
	atomic.AddInt32(&g.ChargeCalls, 1)

	g.mu.Lock()
	defer g.mu.Unlock()

	if g.chargeErr != nil {
		return "", g.chargeErr
	}
	if req.AmountCents <= 0 {
		return "", fmt.Errorf("%w: non-positive amount", ErrDeclined)
	}
	if id, ok := g.charges[req.IdempotencyKey]; ok && req.IdempotencyKey != "" {
		return id, nil
	}

	id := "ch_" + uuid.NewString()
	if req.IdempotencyKey != "" {
		g.charges[req.IdempotencyKey] = id
	}
	g.amounts[id] = req.AmountCents
	g.settled += req.AmountCents
	return id, nil
}

func (g *Local) Refund(ctx context.Context, chargeID string, amountCents int64) (string, error) {
	atomic.AddInt32(&g.RefundCalls, 1)

	g.mu.Lock()
	defer g.mu.Unlock()

	if id, ok := g.refunds[chargeID]; ok {
		return id, nil
	}
	charged, ok := g.amounts[chargeID]
	if !ok {
		return "", ErrUnknownIntent
	}
	if amountCents > charged {
		return "", fmt.Errorf("%w: refund %d exceeds charge %d", ErrDeclined, amountCents, charged)
	}

	id := "re_" + uuid.NewString()
	g.refunds[chargeID] = id
	g.settled -= amountCents
	return id, nil
}

// Ensure Local implements Gateway.
var _ Gateway = (*Local)(nil)
