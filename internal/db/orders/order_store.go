package ordersdb

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"storefront/internal/orders/ledger"
)

// PostgresOrderStore persists payment results per order in Postgres.
type PostgresOrderStore struct {
	db *sql.DB
}

// NewPostgresOrderStore constructs an OrderStore backed by Postgres.
func NewPostgresOrderStore(db *sql.DB) *PostgresOrderStore {
	return &PostgresOrderStore{db: db}
}

// NewPostgresOrderStoreWithSchema initializes the schema then returns the store.
func NewPostgresOrderStoreWithSchema(ctx context.Context, db *sql.DB) (*PostgresOrderStore, error) {
	store := NewPostgresOrderStore(db)
	if err := store.InitSchema(ctx); err != nil {
		return nil, err
	}
	return store, nil
}

// InitSchema creates the order_payments table if it does not exist.
func (s *PostgresOrderStore) InitSchema(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS order_payments (
			order_id TEXT PRIMARY KEY,
			transaction_id TEXT NOT NULL DEFAULT '',
			amount BIGINT NOT NULL,
			response_code TEXT NOT NULL DEFAULT '',
			status TEXT NOT NULL,
			finalized_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		)
	`)
	return err
}

// Finalize upserts the order. A paid order is left untouched and
// ErrAlreadyFinalized is returned.
func (s *PostgresOrderStore) Finalize(ctx context.Context, order ledger.Order) error {
	if order.OrderID == "" {
		return fmt.Errorf("order id required")
	}

	res, err := s.db.ExecContext(ctx, `
		INSERT INTO order_payments (order_id, transaction_id, amount, response_code, status, finalized_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (order_id) DO UPDATE
		SET transaction_id = EXCLUDED.transaction_id,
			amount = EXCLUDED.amount,
			response_code = EXCLUDED.response_code,
			status = EXCLUDED.status,
			finalized_at = EXCLUDED.finalized_at
		WHERE order_payments.status <> 'paid'`,
		order.OrderID, order.TransactionID, order.Amount, order.ResponseCode, string(order.Status), order.FinalizedAt,
	)
	if err != nil {
		return err
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return ledger.ErrAlreadyFinalized
	}
	return nil
}

// Get loads one order.
func (s *PostgresOrderStore) Get(ctx context.Context, orderID string) (ledger.Order, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT order_id, transaction_id, amount, response_code, status, finalized_at
		FROM order_payments
		WHERE order_id = $1`,
		orderID,
	)

	var order ledger.Order
	var status string
	if err := row.Scan(&order.OrderID, &order.TransactionID, &order.Amount, &order.ResponseCode, &status, &order.FinalizedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return ledger.Order{}, ledger.ErrOrderNotFound
		}
		return ledger.Order{}, err
	}
	order.Status = ledger.OrderStatus(status)
	return order, nil
}
