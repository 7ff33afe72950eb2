// Package events delivers lifecycle events to the notification fan-out.
package events

import (
	"context"

	"carshare/internal/domain"
	"carshare/internal/logger"
)

// Publisher hands an event to the notification fan-out.
type Publisher interface {
	Publish(ctx context.Context, event domain.Event) error
	Close() error
}

// LogPublisher writes events to the structured log. Used when no brokers are
// configured.
type LogPublisher struct {
	log *logger.Logger
}

// NewLogPublisher creates a LogPublisher.
func NewLogPublisher(log *logger.Logger) *LogPublisher {
	return &LogPublisher{log: log}
}

func (p *LogPublisher) Publish(ctx context.Context, e domain.Event) error {
	p.log.InfoContext(ctx, "notification",
		"event_id", e.ID,
		"event_type", e.Type,
		"booking_id", e.BookingID,
		"booking_code", e.BookingCode,
		"recipients", e.Recipients,
		"amount", e.Amount,
		"reason", e.Reason,
	)
	return nil
}

func (p *LogPublisher) Close() error { return nil }

var _ Publisher = (*LogPublisher)(nil)
