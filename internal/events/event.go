// Package events publishes payment and order notifications to Kafka and to
// in-process broadcasters such as the admin live feed.
package events

import (
	"context"
	"log"
	"time"

	"github.com/google/uuid"
)

// Event types.
const (
	TypePaymentReconciled  = "payment.reconciled"
	TypeOrderPaid          = "order.paid"
	TypeOrderPaymentFailed = "order.payment_failed"
)

// Event is the wire shape shared by every publisher.
type Event struct {
	ID                  string    `json:"id"`
	Type                string    `json:"type"`
	Status              string    `json:"status,omitempty"`
	OrderID             string    `json:"order_id"`
	Amount              int64     `json:"amount,omitempty"`
	TransactionID       string    `json:"transaction_id,omitempty"`
	ResponseCode        string    `json:"response_code,omitempty"`
	Message             string    `json:"message,omitempty"`
	BackendAcknowledged bool      `json:"backend_acknowledged,omitempty"`
	OccurredAt          time.Time `json:"occurred_at"`
}

// New stamps an event with a fresh id and the current time.
func New(eventType, orderID string) Event {
	return Event{
		ID:         uuid.NewString(),
		Type:       eventType,
		OrderID:    orderID,
		OccurredAt: time.Now().UTC(),
	}
}

// Publisher abstracts event delivery.
type Publisher interface {
	Publish(ctx context.Context, ev Event) error
}

// LogPublisher writes events to the log; used when no broker is configured.
type LogPublisher struct {
	logf func(format string, args ...any)
}

// NewLogPublisher constructs a LogPublisher; nil logf uses log.Printf.
func NewLogPublisher(logf func(format string, args ...any)) *LogPublisher {
	if logf == nil {
		logf = log.Printf
	}
	return &LogPublisher{logf: logf}
}

// Publish logs the event and never fails.
func (p *LogPublisher) Publish(_ context.Context, ev Event) error {
	p.logf("event type=%s order_id=%s status=%s id=%s", ev.Type, ev.OrderID, ev.Status, ev.ID)
	return nil
}
