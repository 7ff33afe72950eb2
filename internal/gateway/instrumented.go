package gateway

import (
	"context"

	"github.com/newrelic/go-agent/v3/newrelic"
)

// Instrumented records a New Relic segment around every gateway call when the
// context carries a transaction.
type Instrumented struct {
	next Gateway
}

// NewInstrumented wraps next.
func NewInstrumented(next Gateway) *Instrumented {
	return &Instrumented{next: next}
}

func segment(ctx context.Context, name string) func() {
	txn := newrelic.FromContext(ctx)
	if txn == nil {
		return func() {}
	}
	seg := txn.StartSegment("gateway/" + name)
	return seg.End
}

func (g *Instrumented) Authorize(ctx context.Context, req AuthorizeRequest) (string, error) {
	defer segment(ctx, "Authorize")()
	return g.next.Authorize(ctx, req)
}

func (g *Instrumented) Capture(ctx context.Context, intentID string) error {
	defer segment(ctx, "Capture")()
	return g.next.Capture(ctx, intentID)
}

func (g *Instrumented) Void(ctx context.Context, intentID string) error {
	defer segment(ctx, "Void")()
	return g.next.Void(ctx, intentID)
}

func (g *Instrumented) Charge(ctx context.Context, req ChargeRequest) (string, error) {
	defer segment(ctx, "Charge")()
	return g.next.Charge(ctx, req)
}

func (g *Instrumented) Refund(ctx context.Context, chargeID string, amountCents int64) (string, error) {
	defer segment(ctx, "Refund")()
	return g.next.Refund(ctx, chargeID, amountCents)
}

var _ Gateway = (*Instrumented)(nil)
