package ordersdb

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"storefront/internal/orders/ledger"
)

// FinalizeLedger persists finalization claims and attempt steps in Postgres.
type FinalizeLedger struct {
	db *sql.DB
}

// NewFinalizeLedger constructs a FinalizeLedger backed by Postgres.
func NewFinalizeLedger(db *sql.DB) *FinalizeLedger {
	return &FinalizeLedger{db: db}
}

// NewFinalizeLedgerWithSchema initializes the schema then returns the ledger.
func NewFinalizeLedgerWithSchema(ctx context.Context, db *sql.DB) (*FinalizeLedger, error) {
	l := NewFinalizeLedger(db)
	if err := l.InitSchema(ctx); err != nil {
		return nil, err
	}
	return l, nil
}

// InitSchema creates ledger tables if they do not exist.
func (l *FinalizeLedger) InitSchema(ctx context.Context) error {
	statements := []string{
		`CREATE TABLE IF NOT EXISTS payment_finalizations (
			order_id TEXT PRIMARY KEY,
			idempotency_key TEXT UNIQUE NOT NULL,
			transaction_id TEXT NOT NULL,
			amount BIGINT NOT NULL,
			status TEXT NOT NULL,
			created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		)`,
		`CREATE TABLE IF NOT EXISTS payment_finalization_steps (
			id BIGSERIAL PRIMARY KEY,
			order_id TEXT NOT NULL,
			step TEXT NOT NULL,
			status TEXT NOT NULL,
			detail TEXT,
			created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			FOREIGN KEY (order_id) REFERENCES payment_finalizations(order_id) ON DELETE CASCADE
		)`,
	}

	for _, stmt := range statements {
		if _, err := l.db.ExecContext(ctx, stmt); err != nil {
			return err
		}
	}
	return nil
}

// Claim inserts a claim or returns the existing one for the idempotency key.
// created is true only for the caller whose insert won.
func (l *FinalizeLedger) Claim(ctx context.Context, idempotencyKey, orderID, transactionID string, amount int64) (ledger.Claim, bool, error) {
	res, err := l.db.ExecContext(ctx, `
		INSERT INTO payment_finalizations (order_id, idempotency_key, transaction_id, amount, status)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT DO NOTHING`,
		orderID, idempotencyKey, transactionID, amount, string(ledger.ClaimStatusClaimed),
	)
	if err != nil {
		return ledger.Claim{}, false, err
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return ledger.Claim{}, false, err
	}

	row := l.db.QueryRowContext(ctx, `
		SELECT order_id, transaction_id, amount, status
		FROM payment_finalizations
		WHERE idempotency_key = $1`,
		idempotencyKey,
	)

	var claim ledger.Claim
	var status string
	if err := row.Scan(&claim.OrderID, &claim.TransactionID, &claim.Amount, &status); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return ledger.Claim{}, false, fmt.Errorf("claim not found after insert")
		}
		return ledger.Claim{}, false, err
	}
	claim.Status = ledger.ClaimStatus(status)

	if claim.TransactionID != transactionID || claim.Amount != amount {
		return ledger.Claim{}, false, ledger.ErrIdempotencyConflict
	}

	return claim, affected == 1, nil
}

// UpdateStatus sets the claim status and bumps updated_at.
func (l *FinalizeLedger) UpdateStatus(ctx context.Context, orderID string, status ledger.ClaimStatus) error {
	_, err := l.db.ExecContext(ctx, `
		UPDATE payment_finalizations
		SET status = $2, updated_at = NOW()
		WHERE order_id = $1`,
		orderID, string(status),
	)
	return err
}

// Reclaim flips a failed claim back to claimed in one conditional update.
func (l *FinalizeLedger) Reclaim(ctx context.Context, orderID string) (bool, error) {
	res, err := l.db.ExecContext(ctx, `
		UPDATE payment_finalizations
		SET status = $2, updated_at = NOW()
		WHERE order_id = $1 AND status = $3`,
		orderID, string(ledger.ClaimStatusClaimed), string(ledger.ClaimStatusFailed),
	)
	if err != nil {
		return false, err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return affected == 1, nil
}

// AddStep appends an attempt row.
func (l *FinalizeLedger) AddStep(ctx context.Context, orderID, step, status, detail string) error {
	_, err := l.db.ExecContext(ctx, `
		INSERT INTO payment_finalization_steps (order_id, step, status, detail)
		VALUES ($1, $2, $3, $4)`,
		orderID, step, status, detail,
	)
	return err
}
