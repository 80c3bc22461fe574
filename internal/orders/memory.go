package orders

import (
	"context"
	"sync"

	"storefront/internal/orders/ledger"
)

// LedgerStep is one recorded finalize attempt.
type LedgerStep struct {
	Step   string
	Status string
	Detail string
}

// InMemoryLedger is a process-local ledger.Store.
type InMemoryLedger struct {
	mu     sync.Mutex
	byKey  map[string]string
	claims map[string]ledger.Claim
	steps  map[string][]LedgerStep
}

// NewInMemoryLedger constructs an empty ledger.
func NewInMemoryLedger() *InMemoryLedger {
	return &InMemoryLedger{
		byKey:  make(map[string]string),
		claims: make(map[string]ledger.Claim),
		steps:  make(map[string][]LedgerStep),
	}
}

func (l *InMemoryLedger) Claim(_ context.Context, idempotencyKey, orderID, transactionID string, amount int64) (ledger.Claim, bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if existing, ok := l.byKey[idempotencyKey]; ok {
		claim := l.claims[existing]
		if claim.TransactionID != transactionID || claim.Amount != amount {
			return ledger.Claim{}, false, ledger.ErrIdempotencyConflict
		}
		return claim, false, nil
	}

	claim := ledger.Claim{
		OrderID:       orderID,
		TransactionID: transactionID,
		Amount:        amount,
		Status:        ledger.ClaimStatusClaimed,
	}
	l.byKey[idempotencyKey] = orderID
	l.claims[orderID] = claim
	return claim, true, nil
}

func (l *InMemoryLedger) UpdateStatus(_ context.Context, orderID string, status ledger.ClaimStatus) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	claim, ok := l.claims[orderID]
	if !ok {
		return nil
	}
	claim.Status = status
	l.claims[orderID] = claim
	return nil
}

func (l *InMemoryLedger) Reclaim(_ context.Context, orderID string) (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	claim, ok := l.claims[orderID]
	if !ok || claim.Status != ledger.ClaimStatusFailed {
		return false, nil
	}
	claim.Status = ledger.ClaimStatusClaimed
	l.claims[orderID] = claim
	return true, nil
}

func (l *InMemoryLedger) AddStep(_ context.Context, orderID, step, status, detail string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.steps[orderID] = append(l.steps[orderID], LedgerStep{Step: step, Status: status, Detail: detail})
	return nil
}

// Steps returns the recorded steps for an order (for inspection).
func (l *InMemoryLedger) Steps(orderID string) []LedgerStep {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]LedgerStep(nil), l.steps[orderID]...)
}

// ClaimFor returns the claim for an order, if any.
func (l *InMemoryLedger) ClaimFor(orderID string) (ledger.Claim, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	claim, ok := l.claims[orderID]
	return claim, ok
}

// InMemoryOrderStore keeps finalized orders in memory.
type InMemoryOrderStore struct {
	mu     sync.Mutex
	orders map[string]ledger.Order
}

// NewInMemoryOrderStore constructs an empty store.
func NewInMemoryOrderStore() *InMemoryOrderStore {
	return &InMemoryOrderStore{orders: make(map[string]ledger.Order)}
}

func (s *InMemoryOrderStore) Finalize(_ context.Context, order ledger.Order) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if existing, ok := s.orders[order.OrderID]; ok && existing.Status == ledger.OrderStatusPaid {
		return ledger.ErrAlreadyFinalized
	}
	s.orders[order.OrderID] = order
	return nil
}

func (s *InMemoryOrderStore) Get(_ context.Context, orderID string) (ledger.Order, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	order, ok := s.orders[orderID]
	if !ok {
		return ledger.Order{}, ledger.ErrOrderNotFound
	}
	return order, nil
}
