package events

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/segmentio/kafka-go"

	"carshare/internal/config"
	"carshare/internal/domain"
	"carshare/internal/logger"
)

const sourceHeader = "carshare-bookings"

// ErrPublisherClosed is returned by Publish after Close.
var ErrPublisherClosed = errors.New("publisher is closed")

// messageWriter is the subset of *kafka.Writer the publisher needs.
type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// KafkaPublisher publishes events keyed by booking ID so that all events of a
// booking land on one partition in order.
type KafkaPublisher struct {
	writer messageWriter
	mu     sync.RWMutex
	closed bool
}

// NewKafkaPublisher creates a publisher for cfg.Topic. In async mode Publish
// only enqueues; delivery failures are logged by the completion callback.
func NewKafkaPublisher(cfg config.KafkaConfig, log *logger.Logger) (*KafkaPublisher, error) {
	if len(cfg.Brokers) == 0 {
		return nil, fmt.Errorf("at least one broker is required")
	}
	if cfg.Topic == "" {
		return nil, fmt.Errorf("topic cannot be empty")
	}

	writer := &kafka.Writer{
		Addr:         kafka.TCP(cfg.Brokers...),
		Topic:        cfg.Topic,
		Balancer:     &kafka.Hash{},
		RequiredAcks: kafka.RequireAll,
		Compression:  kafka.Snappy,
		MaxAttempts:  5,
		BatchTimeout: 50 * time.Millisecond,
		Async:        cfg.Async,
		Logger:       kafka.LoggerFunc(func(string, ...any) {}),
		ErrorLogger: kafka.LoggerFunc(func(msg string, args ...any) {
			log.Error(fmt.Sprintf(msg, args...), "component", "kafka")
		}),
	}
	if cfg.Async {
		writer.Completion = completionLogger(cfg.Topic, log)
	}

	return newKafkaPublisher(writer), nil
}

// completionLogger reports each undelivered event of an async batch.
func completionLogger(topic string, log *logger.Logger) func([]kafka.Message, error) {
	return func(msgs []kafka.Message, err error) {
		if err == nil {
			return
		}
		for _, m := range msgs {
			log.Error("notification not delivered",
				"component", "kafka",
				"topic", topic,
				"booking_id", string(m.Key),
				"event_id", header(m, "event-id"),
				"event_type", header(m, "event-type"),
				"error", err,
			)
		}
	}
}

func header(msg kafka.Message, key string) string {
	for _, h := range msg.Headers {
		if h.Key == key {
			return string(h.Value)
		}
	}
	return ""
}

func newKafkaPublisher(w messageWriter) *KafkaPublisher {
	return &KafkaPublisher{writer: w}
}

// Publish writes the event as JSON.
func (p *KafkaPublisher) Publish(ctx context.Context, e domain.Event) error {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.closed {
		return ErrPublisherClosed
	}

	value, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("encode event: %w", err)
	}

	msg := kafka.Message{
		Key:   []byte(e.BookingID),
		Value: value,
		Time:  e.OccurredAt,
		Headers: []kafka.Header{
			{Key: "event-id", Value: []byte(e.ID)},
			{Key: "event-type", Value: []byte(e.Type)},
			{Key: "source", Value: []byte(sourceHeader)},
		},
	}

	return p.writer.WriteMessages(ctx, msg)
}

// Close flushes pending writes and releases the writer.
func (p *KafkaPublisher) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return nil
	}
	p.closed = true
	return p.writer.Close()
}

var _ Publisher = (*KafkaPublisher)(nil)
