package events

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/segmentio/kafka-go"

	"carshare/internal/config"
	"carshare/internal/domain"
	"carshare/internal/logger"
)

type fakeWriter struct {
	msgs   []kafka.Message
	closed bool
}

func (w *fakeWriter) WriteMessages(ctx context.Context, msgs ...kafka.Message) error {
	w.msgs = append(w.msgs, msgs...)
	return nil
}

func (w *fakeWriter) Close() error {
	w.closed = true
	return nil
}

func TestKafkaPublisher_Publish(t *testing.T) {
	w := &fakeWriter{}
	p := newKafkaPublisher(w)

	e := domain.Event{
		ID:          "evt-1",
		Type:        domain.EventGuestArrived,
		BookingID:   "b1",
		BookingCode: "BK-1",
		GuestName:   "Gina",
		OccurredAt:  time.Date(2025, 6, 1, 9, 0, 0, 0, time.UTC),
	}
	if err := p.Publish(context.Background(), e); err != nil {
		t.Fatalf("Publish() error = %v", err)
	}

	if len(w.msgs) != 1 {
		t.Fatalf("wrote %d messages, want 1", len(w.msgs))
	}
	msg := w.msgs[0]
	if string(msg.Key) != "b1" {
		t.Errorf("Key = %q, want b1", msg.Key)
	}
	if header(msg, "event-type") != "GUEST_ARRIVED" || header(msg, "event-id") != "evt-1" {
		t.Errorf("Headers = %v", msg.Headers)
	}

	var decoded domain.Event
	if err := json.Unmarshal(msg.Value, &decoded); err != nil {
		t.Fatalf("value is not JSON: %v", err)
	}
	if decoded.GuestName != "Gina" {
		t.Errorf("GuestName = %q", decoded.GuestName)
	}
}

func TestKafkaPublisher_ClosedRejectsPublish(t *testing.T) {
	w := &fakeWriter{}
	p := newKafkaPublisher(w)

	if err := p.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}
	if !w.closed {
		t.Error("writer not closed")
	}
	if err := p.Publish(context.Background(), domain.Event{BookingID: "b1"}); !errors.Is(err, ErrPublisherClosed) {
		t.Fatalf("Publish() error = %v, want ErrPublisherClosed", err)
	}
}

func TestNewKafkaPublisher_AsyncMode(t *testing.T) {
	cfg := config.KafkaConfig{Brokers: []string{"localhost:9092"}, Topic: "booking-notifications", Async: true}

	p, err := NewKafkaPublisher(cfg, logger.Nop())
	if err != nil {
		t.Fatalf("NewKafkaPublisher() error = %v", err)
	}
	w := p.writer.(*kafka.Writer)
	if !w.Async || w.Completion == nil {
		t.Errorf("Async = %v, Completion set = %v", w.Async, w.Completion != nil)
	}

	cfg.Async = false
	p, err = NewKafkaPublisher(cfg, logger.Nop())
	if err != nil {
		t.Fatalf("NewKafkaPublisher() error = %v", err)
	}
	if w := p.writer.(*kafka.Writer); w.Async || w.Completion != nil {
		t.Error("sync writer must not be async")
	}

	if _, err := NewKafkaPublisher(config.KafkaConfig{Topic: "t"}, logger.Nop()); err == nil {
		t.Error("expected error without brokers")
	}
}

func TestCompletionLogger_ReportsFailedBatch(t *testing.T) {
	var buf bytes.Buffer
	log := logger.New(logger.Config{Output: &buf, Level: logger.LevelError})
	done := completionLogger("booking-notifications", log)

	msgs := []kafka.Message{
		{Key: []byte("b1"), Headers: []kafka.Header{{Key: "event-id", Value: []byte("e1")}, {Key: "event-type", Value: []byte("BOOKING_CONFIRMED")}}},
		{Key: []byte("b2"), Headers: []kafka.Header{{Key: "event-id", Value: []byte("e2")}}},
	}

	done(msgs, nil)
	if buf.Len() != 0 {
		t.Fatalf("delivered batch logged: %s", buf.String())
	}

	done(msgs, errors.New("leader not available"))
	out := buf.String()
	if n := strings.Count(out, "notification not delivered"); n != 2 {
		t.Errorf("logged %d failures, want 2: %s", n, out)
	}
	for _, want := range []string{`"event_id":"e1"`, `"booking_id":"b2"`, `"event_type":"BOOKING_CONFIRMED"`, "leader not available"} {
		if !strings.Contains(out, want) {
			t.Errorf("log missing %s: %s", want, out)
		}
	}
}
