// Package cart keeps the shopper's session cart. The reconciliation flow
// clears it once a payment succeeds.
package cart

import (
	"context"
	"errors"
	"sort"
	"sync"
)

// Item is one cart line. Price is in VND.
type Item struct {
	ProductID string `json:"productId"`
	Quantity  int64  `json:"quantity"`
	Price     int64  `json:"price"`
}

// Store persists carts keyed by session id.
type Store interface {
	Add(ctx context.Context, sessionID string, item Item) error
	Items(ctx context.Context, sessionID string) ([]Item, error)
	Clear(ctx context.Context, sessionID string) error
}

var (
	ErrSessionRequired = errors.New("session id required")
	ErrInvalidItem     = errors.New("product id and positive quantity required")
)

func validate(sessionID string, item Item) error {
	if sessionID == "" {
		return ErrSessionRequired
	}
	if item.ProductID == "" || item.Quantity <= 0 || item.Price < 0 {
		return ErrInvalidItem
	}
	return nil
}

// Total sums quantity times price over items.
func Total(items []Item) int64 {
	var total int64
	for _, it := range items {
		total += it.Quantity * it.Price
	}
	return total
}

// InMemoryStore is a process-local Store.
type InMemoryStore struct {
	mu    sync.Mutex
	carts map[string]map[string]Item
}

func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{carts: make(map[string]map[string]Item)}
}

func (s *InMemoryStore) Add(ctx context.Context, sessionID string, item Item) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := validate(sessionID, item); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	lines, ok := s.carts[sessionID]
	if !ok {
		lines = make(map[string]Item)
		s.carts[sessionID] = lines
	}
	existing := lines[item.ProductID]
	item.Quantity += existing.Quantity
	lines[item.ProductID] = item
	return nil
}

func (s *InMemoryStore) Items(ctx context.Context, sessionID string) ([]Item, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	items := make([]Item, 0, len(s.carts[sessionID]))
	for _, it := range s.carts[sessionID] {
		items = append(items, it)
	}
	sortItems(items)
	return items, nil
}

func (s *InMemoryStore) Clear(ctx context.Context, sessionID string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.carts, sessionID)
	return nil
}

func sortItems(items []Item) {
	sort.Slice(items, func(i, j int) bool { return items[i].ProductID < items[j].ProductID })
}
