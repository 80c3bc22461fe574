// Package ledger holds the order and finalization records shared by the
// orders service and its storage backends.
package ledger

import (
	"context"
	"errors"
	"time"
)

// ClaimStatus is the state of a finalization claim.
type ClaimStatus string

const (
	ClaimStatusClaimed      ClaimStatus = "claimed"
	ClaimStatusAcknowledged ClaimStatus = "acknowledged"
	ClaimStatusFailed       ClaimStatus = "failed"
)

// Claim is the stored finalization claim for one order.
type Claim struct {
	OrderID       string
	TransactionID string
	Amount        int64
	Status        ClaimStatus
}

// Store records which orders have been sent to the backend.
type Store interface {
	Claim(ctx context.Context, idempotencyKey, orderID, transactionID string, amount int64) (Claim, bool, error)
	UpdateStatus(ctx context.Context, orderID string, status ClaimStatus) error
	// Reclaim moves a failed claim back to claimed. It reports false when
	// the claim was not failed, so only one caller retries the POST.
	Reclaim(ctx context.Context, orderID string) (bool, error)
	AddStep(ctx context.Context, orderID, step, status, detail string) error
}

var ErrIdempotencyConflict = errors.New("idempotency key reused with different payload")

// OrderStatus is the payment state of an order.
type OrderStatus string

const (
	OrderStatusPaid   OrderStatus = "paid"
	OrderStatusFailed OrderStatus = "failed"
)

// Order is the persisted payment result of an order.
type Order struct {
	OrderID       string      `json:"orderId"`
	TransactionID string      `json:"transactionId,omitempty"`
	Amount        int64       `json:"amount"`
	ResponseCode  string      `json:"responseCode,omitempty"`
	Status        OrderStatus `json:"status"`
	FinalizedAt   time.Time   `json:"finalizedAt"`
}

// OrderStore persists finalized orders. A paid order is never overwritten.
type OrderStore interface {
	Finalize(ctx context.Context, order Order) error
	Get(ctx context.Context, orderID string) (Order, error)
}

// ErrAlreadyFinalized signals the order is already paid.
var ErrAlreadyFinalized = errors.New("order already finalized")

// ErrOrderNotFound signals no record exists for the order.
var ErrOrderNotFound = errors.New("order not found")
