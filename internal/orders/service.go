package orders

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"storefront/internal/callback"
	"storefront/internal/events"
	"storefront/internal/orders/ledger"
)

// ErrInvalidOrder is returned for a finalize request without an order id.
var ErrInvalidOrder = errors.New("order id required")

// Service records payment results for orders and notifies downstream
// consumers (the mailer) once per order.
type Service struct {
	store    ledger.OrderStore
	notifier events.Publisher
	now      func() time.Time
	logf     func(format string, args ...any)
}

// NewService constructs a Service. notifier may be nil.
func NewService(store ledger.OrderStore, notifier events.Publisher, logf func(format string, args ...any)) *Service {
	if store == nil {
		panic("orders: nil order store")
	}
	if logf == nil {
		logf = log.Printf
	}
	return &Service{
		store:    store,
		notifier: notifier,
		now:      time.Now,
		logf:     logf,
	}
}

// Finalize marks the order paid or failed. It reports already=true when the
// order was paid before; in that case nothing is written or published.
func (s *Service) Finalize(ctx context.Context, p callback.Payload) (order ledger.Order, already bool, err error) {
	if p.OrderID == "" {
		return ledger.Order{}, false, ErrInvalidOrder
	}

	order = ledger.Order{
		OrderID:       p.OrderID,
		TransactionID: p.TransactionID,
		Amount:        p.Amount,
		ResponseCode:  p.ResponseCode,
		Status:        ledger.OrderStatusFailed,
		FinalizedAt:   s.now().UTC(),
	}
	if p.IsSuccess {
		order.Status = ledger.OrderStatusPaid
	}

	if err := s.store.Finalize(ctx, order); err != nil {
		if errors.Is(err, ledger.ErrAlreadyFinalized) {
			existing, getErr := s.store.Get(ctx, p.OrderID)
			if getErr != nil {
				return order, true, nil
			}
			return existing, true, nil
		}
		return ledger.Order{}, false, fmt.Errorf("finalize order %s: %w", p.OrderID, err)
	}

	s.notify(ctx, order)
	return order, false, nil
}

// Get returns the stored order.
func (s *Service) Get(ctx context.Context, orderID string) (ledger.Order, error) {
	return s.store.Get(ctx, orderID)
}

func (s *Service) notify(ctx context.Context, order ledger.Order) {
	if s.notifier == nil {
		return
	}
	eventType := events.TypeOrderPaid
	if order.Status != ledger.OrderStatusPaid {
		eventType = events.TypeOrderPaymentFailed
	}
	ev := events.New(eventType, order.OrderID)
	ev.Status = string(order.Status)
	ev.Amount = order.Amount
	ev.TransactionID = order.TransactionID
	ev.ResponseCode = order.ResponseCode
	if err := s.notifier.Publish(ctx, ev); err != nil {
		s.logf("notify order_id=%s type=%s: %v", order.OrderID, eventType, err)
	}
}
