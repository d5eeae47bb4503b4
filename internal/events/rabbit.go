package events

import (
	"context"
	"encoding/json"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/cockroachdb/errors"
	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/hackgods/office-parking-reservations/internal/booking"
)

const Exchange = "parking.events"

// Message is the body published for every booking lifecycle event.
type Message struct {
	EventType string          `json:"eventType"`
	BookingID string          `json:"bookingId"`
	Payload   json.RawMessage `json:"payload,omitempty"`
	CreatedAt string          `json:"createdAt"`
}

// Publisher sends booking events to a topic exchange. It is a booking.EventSink.
type Publisher struct {
	mu sync.Mutex
	ch *amqp.Channel
}

func NewPublisher(conn *amqp.Connection) (*Publisher, error) {
	ch, err := conn.Channel()
	if err != nil {
		return nil, errors.Wrap(err, "open channel")
	}
	if err := ch.ExchangeDeclare(Exchange, "topic", true, false, false, false, nil); err != nil {
		_ = ch.Close()
		return nil, errors.Wrap(err, "declare exchange")
	}
	return &Publisher{ch: ch}, nil
}

// RoutingKey maps BOOKING_CONFIRMED to booking.confirmed.
func RoutingKey(eventType string) string {
	return strings.ToLower(strings.ReplaceAll(eventType, "_", "."))
}

func (p *Publisher) RecordEvent(ctx context.Context, ev booking.EventLog) error {
	body, err := json.Marshal(Message{
		EventType: ev.EventType,
		BookingID: ev.BookingID,
		Payload:   ev.Payload,
		CreatedAt: ev.CreatedAt.UTC().Format(time.RFC3339Nano),
	})
	if err != nil {
		return errors.Wrap(err, "encode event")
	}

	msg := amqp.Publishing{
		MessageId:    ev.BookingID + ":" + ev.EventType + ":" + strconv.FormatInt(ev.CreatedAt.UnixNano(), 10),
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		Timestamp:    ev.CreatedAt,
		Type:         ev.EventType,
		Body:         body,
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if err := p.ch.PublishWithContext(ctx, Exchange, RoutingKey(ev.EventType), false, false, msg); err != nil {
		return errors.Wrapf(err, "publish %s", ev.EventType)
	}
	return nil
}

func (p *Publisher) Close() error {
	return p.ch.Close()
}
