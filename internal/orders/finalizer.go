package orders

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"storefront/internal/callback"
	"storefront/internal/orders/ledger"
)

// DefaultFinalizeTimeout bounds one backend call.
const DefaultFinalizeTimeout = 8 * time.Second

// FinalizeResult reports what a Finalize call did. Err is set when the
// backend did not acknowledge, including timeouts and an open breaker.
type FinalizeResult struct {
	Attempted        bool
	Acknowledged     bool
	AlreadyFinalized bool
	StatusCode       int
	Err              error
}

// Finalizer claims an order in the ledger and posts it to the backend once.
type Finalizer struct {
	backend BackendClient
	ledger  ledger.Store
	timeout time.Duration
	logf    func(format string, args ...any)
}

// NewFinalizer builds a Finalizer. A nil store disables the claim step;
// timeout <= 0 uses DefaultFinalizeTimeout.
func NewFinalizer(backend BackendClient, store ledger.Store, timeout time.Duration, logf func(format string, args ...any)) *Finalizer {
	if backend == nil {
		panic("orders: nil backend")
	}
	if timeout <= 0 {
		timeout = DefaultFinalizeTimeout
	}
	if logf == nil {
		logf = log.Printf
	}
	return &Finalizer{
		backend: backend,
		ledger:  store,
		timeout: timeout,
		logf:    logf,
	}
}

// Finalize posts p to the backend. Successful payments are claimed first so
// an order already sent is not sent again; failed payments are always posted.
func (f *Finalizer) Finalize(ctx context.Context, p callback.Payload) FinalizeResult {
	claimed := false
	if f.ledger != nil && p.IsSuccess {
		claim, created, err := f.ledger.Claim(ctx, IdempotencyKey(p), p.OrderID, p.TransactionID, p.Amount)
		switch {
		case errors.Is(err, ledger.ErrIdempotencyConflict):
			f.logf("finalize claim conflict order_id=%s tx=%s: %v", p.OrderID, p.TransactionID, err)
			return FinalizeResult{Err: fmt.Errorf("claim order %s: %w", p.OrderID, err)}
		case err != nil:
			// posted unclaimed; the backend dedups on Idempotency-Key
			f.logf("finalize claim failed order_id=%s, posting unclaimed: %v", p.OrderID, err)
		case !created && claim.Status != ledger.ClaimStatusFailed:
			f.logf("finalize skipped order_id=%s claim_status=%s", p.OrderID, claim.Status)
			return FinalizeResult{AlreadyFinalized: true}
		case !created:
			ok, err := f.ledger.Reclaim(ctx, p.OrderID)
			if err != nil {
				f.logf("reclaim order_id=%s: %v", p.OrderID, err)
				return FinalizeResult{Err: fmt.Errorf("reclaim order %s: %w", p.OrderID, err)}
			}
			if !ok {
				f.logf("finalize skipped order_id=%s: claim retried elsewhere", p.OrderID)
				return FinalizeResult{AlreadyFinalized: true}
			}
			claimed = true
		default:
			claimed = true
		}
	}

	callCtx, cancel := context.WithTimeout(ctx, f.timeout)
	defer cancel()

	status, err := f.backend.Finalize(callCtx, p)
	res := FinalizeResult{Attempted: true, StatusCode: status}
	if err != nil {
		res.Err = fmt.Errorf("finalize order %s: %w", p.OrderID, err)
	} else {
		res.Acknowledged = true
	}

	if claimed {
		f.record(ctx, p.OrderID, res)
	}
	return res
}

func (f *Finalizer) record(ctx context.Context, orderID string, res FinalizeResult) {
	status, step, detail := ledger.ClaimStatusAcknowledged, "ok", fmt.Sprintf("status=%d", res.StatusCode)
	if !res.Acknowledged {
		status, step, detail = ledger.ClaimStatusFailed, "failed", res.Err.Error()
	}
	if err := f.ledger.UpdateStatus(ctx, orderID, status); err != nil {
		f.logf("ledger update order_id=%s: %v", orderID, err)
	}
	if err := f.ledger.AddStep(ctx, orderID, "finalize", step, detail); err != nil {
		f.logf("ledger step order_id=%s: %v", orderID, err)
	}
}
