package orders

import (
	"context"
	"errors"
	"sync"
	"testing"

	"storefront/internal/callback"
	"storefront/internal/events"
	"storefront/internal/orders/ledger"
)

type recordingPublisher struct {
	mu     sync.Mutex
	events []events.Event
	err    error
}

func (p *recordingPublisher) Publish(_ context.Context, ev events.Event) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, ev)
	return p.err
}

func TestService_FinalizeNotifiesOnce(t *testing.T) {
	pub := &recordingPublisher{}
	svc := NewService(NewInMemoryOrderStore(), pub, quietLogf)

	order, already, err := svc.Finalize(context.Background(), successPayload())
	if err != nil {
		t.Fatalf("Finalize: %v", err)
	}
	if already || order.Status != ledger.OrderStatusPaid {
		t.Fatalf("unexpected first result: already=%v order=%+v", already, order)
	}

	_, already, err = svc.Finalize(context.Background(), successPayload())
	if err != nil {
		t.Fatalf("second Finalize: %v", err)
	}
	if !already {
		t.Fatalf("expected already finalized")
	}
	if len(pub.events) != 1 || pub.events[0].Type != events.TypeOrderPaid {
		t.Fatalf("expected one order.paid event, got %+v", pub.events)
	}
}

func TestService_FailedThenPaid(t *testing.T) {
	pub := &recordingPublisher{}
	svc := NewService(NewInMemoryOrderStore(), pub, quietLogf)

	failed := callback.Payload{OrderID: "order-1", ResponseCode: "24"}
	if _, _, err := svc.Finalize(context.Background(), failed); err != nil {
		t.Fatalf("Finalize failed payment: %v", err)
	}
	order, already, err := svc.Finalize(context.Background(), successPayload())
	if err != nil || already {
		t.Fatalf("expected paid to overwrite failed, already=%v err=%v", already, err)
	}
	if order.Status != ledger.OrderStatusPaid {
		t.Fatalf("expected paid, got %s", order.Status)
	}
	if len(pub.events) != 2 || pub.events[0].Type != events.TypeOrderPaymentFailed {
		t.Fatalf("unexpected events: %+v", pub.events)
	}
}

func TestService_RequiresOrderID(t *testing.T) {
	svc := NewService(NewInMemoryOrderStore(), nil, quietLogf)
	if _, _, err := svc.Finalize(context.Background(), callback.Payload{}); !errors.Is(err, ErrInvalidOrder) {
		t.Fatalf("expected ErrInvalidOrder, got %v", err)
	}
}

func TestService_NotifyErrorDoesNotFail(t *testing.T) {
	pub := &recordingPublisher{err: errors.New("broker down")}
	svc := NewService(NewInMemoryOrderStore(), pub, quietLogf)
	if _, _, err := svc.Finalize(context.Background(), successPayload()); err != nil {
		t.Fatalf("expected nil error, got %v", err)
	}
	got, err := svc.Get(context.Background(), "order-1")
	if err != nil || got.Status != ledger.OrderStatusPaid {
		t.Fatalf("expected stored paid order, got %+v err=%v", got, err)
	}
}

func TestBuildStores_EmptyDSNUsesMemory(t *testing.T) {
	stores, cleanup := BuildStores(context.Background(), "", quietLogf)
	defer cleanup()
	if _, ok := stores.Orders.(*InMemoryOrderStore); !ok {
		t.Fatalf("expected in-memory order store, got %T", stores.Orders)
	}
	if _, ok := stores.Ledger.(*InMemoryLedger); !ok {
		t.Fatalf("expected in-memory ledger, got %T", stores.Ledger)
	}
}
