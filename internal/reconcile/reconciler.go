package reconcile

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"storefront/internal/callback"
	"storefront/internal/events"
	"storefront/internal/orders"
)

// Finalizer syncs a payment result with the order backend.
type Finalizer interface {
	Finalize(ctx context.Context, p callback.Payload) orders.FinalizeResult
}

// CartClearer empties a shopper's cart.
type CartClearer interface {
	Clear(ctx context.Context, sessionID string) error
}

// Recorder receives reconciliation counters. *observability.Metrics implements it.
type Recorder interface {
	RecordOutcome(status string)
	RecordBackendSync(result string)
	RecordDuplicate()
	RecordDiscarded()
}

// Backend sync results passed to Recorder.RecordBackendSync.
const (
	SyncAcknowledged = "acknowledged"
	SyncFailed       = "failed"
	SyncSkipped      = "skipped"
)

// DefaultPublishTimeout bounds one outcome event publish.
const DefaultPublishTimeout = 2 * time.Second

// Deps wires a Reconciler. Finalizer is required. PublishTimeout <= 0 uses
// DefaultPublishTimeout.
type Deps struct {
	Finalizer      Finalizer
	Cart           CartClearer
	Publisher      events.Publisher
	PublishTimeout time.Duration
	Recorder       Recorder
	Logf           func(format string, args ...any)
}

// Reconciler runs the finalize, clear-cart and navigate sequence for a
// callback at most once per mount.
type Reconciler struct {
	finalizer      Finalizer
	cart           CartClearer
	publisher      events.Publisher
	publishTimeout time.Duration
	recorder       Recorder
	logf           func(format string, args ...any)
}

// New panics if the finalizer is nil.
func New(d Deps) *Reconciler {
	if d.Finalizer == nil {
		panic("reconcile: nil finalizer")
	}
	logf := d.Logf
	if logf == nil {
		logf = log.Printf
	}
	publishTimeout := d.PublishTimeout
	if publishTimeout <= 0 {
		publishTimeout = DefaultPublishTimeout
	}
	return &Reconciler{
		finalizer:      d.Finalizer,
		cart:           d.Cart,
		publisher:      d.Publisher,
		publishTimeout: publishTimeout,
		recorder:       d.Recorder,
		logf:           logf,
	}
}

// Result describes what one Run did.
type Result struct {
	Outcome    Outcome
	Navigation Navigation
	Duplicate  bool
	Discarded  bool
	Finalize   orders.FinalizeResult
}

// Err folds the outcome and backend sync into one error for logs.
func (r Result) Err() error {
	if r.Duplicate {
		return ErrDuplicateInvocation
	}
	var syncErr error
	if r.Finalize.Err != nil {
		syncErr = fmt.Errorf("%w: %w", ErrBackendSync, r.Finalize.Err)
	}
	return errors.Join(outcomeErr(r.Outcome), syncErr)
}

// Run reconciles p within mount m. A duplicate invocation returns the
// routed outcome without side effects. When the mount goes away while the
// backend call is in flight, nothing after the call is applied.
func (r *Reconciler) Run(ctx context.Context, m *Mount, sessionID string, p callback.Payload, nav Navigator) Result {
	outcome := Route(p, false)

	if !m.Guard().TryEnter() {
		r.recordDuplicate()
		return Result{Outcome: outcome, Navigation: Target(outcome), Duplicate: true}
	}
	defer m.Guard().Done()

	res := Result{Outcome: outcome}
	if outcome.Status != StatusError {
		// The backend call outlives the shopper's request; only its effects are gated on liveness.
		res.Finalize = r.finalizer.Finalize(context.WithoutCancel(ctx), p)
		res.Outcome = Route(p, res.Finalize.Attempted)
		r.recordSync(p, res.Finalize)
	}

	if !m.Alive() {
		res.Discarded = true
		r.recordDiscarded()
		r.logf("reconcile discarded order_id=%s key=%s", p.OrderID, m.Key())
		return res
	}

	if res.Outcome.Status == StatusSuccess && r.cart != nil {
		if err := r.cart.Clear(ctx, sessionID); err != nil {
			r.logf("clear cart failed session=%s order_id=%s: %v", sessionID, p.OrderID, err)
		}
	}

	r.publish(ctx, p, res)

	res.Navigation = Target(res.Outcome)
	if nav != nil {
		nav.Navigate(res.Navigation)
	}
	if r.recorder != nil {
		r.recorder.RecordOutcome(string(res.Outcome.Status))
	}
	return res
}

func (r *Reconciler) recordSync(p callback.Payload, fr orders.FinalizeResult) {
	result := SyncAcknowledged
	switch {
	case fr.Err != nil:
		result = SyncFailed
		r.logf("backend sync failed order_id=%s status=%d: %v", p.OrderID, fr.StatusCode, fr.Err)
	case fr.AlreadyFinalized || !fr.Attempted:
		result = SyncSkipped
	}
	if r.recorder != nil {
		r.recorder.RecordBackendSync(result)
	}
}

func (r *Reconciler) publish(ctx context.Context, p callback.Payload, res Result) {
	if r.publisher == nil {
		return
	}
	ev := events.New(events.TypePaymentReconciled, p.OrderID)
	ev.Status = string(res.Outcome.Status)
	ev.Amount = p.Amount
	ev.TransactionID = p.TransactionID
	ev.ResponseCode = p.ResponseCode
	ev.Message = res.Outcome.Message
	ev.BackendAcknowledged = res.Finalize.Acknowledged

	ctx, cancel := context.WithTimeout(ctx, r.publishTimeout)
	defer cancel()
	if err := r.publisher.Publish(ctx, ev); err != nil {
		r.logf("publish reconciled event order_id=%s: %v", p.OrderID, err)
	}
}

func (r *Reconciler) recordDuplicate() {
	if r.recorder != nil {
		r.recorder.RecordDuplicate()
	}
}

func (r *Reconciler) recordDiscarded() {
	if r.recorder != nil {
		r.recorder.RecordDiscarded()
	}
}
